// Package httpx is the order service's HTTP surface: order intake and
// status, plus the operator endpoints for inspecting and replaying dead
// letters.
package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jcmexdev/ecommerce-choreography/internal/event"
	"github.com/jcmexdev/ecommerce-choreography/internal/orderservice"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/deadletter"
)

// Handler handles incoming HTTP requests for the order domain.
type Handler struct {
	svc      *orderservice.Service
	letters  deadletter.Store
	replayer *deadletter.Replayer
}

// NewHandler wires the HTTP handler.
func NewHandler(svc *orderservice.Service, letters deadletter.Store, replayer *deadletter.Replayer) *Handler {
	return &Handler{svc: svc, letters: letters, replayer: replayer}
}

// CreateOrder validates the request, persists the order, and starts the saga.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if req.CustomerID == "" || len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "customer_id and items are required")
		return
	}

	items := make([]event.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		if it.SKU == "" || it.Quantity <= 0 || it.UnitPrice <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_item", "sku, quantity, and unit_price must be valid")
			return
		}
		items = append(items, event.OrderItem{
			SKU:       it.SKU,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	order, err := h.svc.Create(r.Context(), req.CustomerID, items)
	if err != nil {
		slog.ErrorContext(r.Context(), "order creation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "order_creation_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, mapOrderToResponse(order))
}

// GetOrderByID retrieves a single order status by its id.
func (h *Handler) GetOrderByID(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "order_id_required", "")
		return
	}

	order, err := h.svc.Get(r.Context(), orderID)
	if errors.Is(err, orderservice.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order_not_found", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "order_lookup_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, mapOrderToResponse(order))
}

// ListDeadLetters returns quarantined messages, newest first.
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entries, err := h.letters.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "deadletter_list_failed", err.Error())
		return
	}

	out := make([]DeadLetterResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, mapEntryToResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// ReplayDeadLetter republishes a quarantined message to its original topic.
func (h *Handler) ReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := h.replayer.Replay(r.Context(), id)
	if errors.Is(err, deadletter.ErrNotFound) {
		writeError(w, http.StatusNotFound, "deadletter_not_found", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "replay_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ReplayResponse{ID: id, Replayed: true})
}

func mapOrderToResponse(order *orderservice.Order) OrderResponse {
	items := make([]OrderItemResponse, len(order.Items))
	for i, it := range order.Items {
		items[i] = OrderItemResponse{
			SKU:       it.SKU,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		}
	}
	return OrderResponse{
		ID:          order.ID,
		CustomerID:  order.CustomerID,
		Status:      string(order.Status),
		TotalAmount: order.TotalAmount,
		Reason:      order.Reason,
		ShipmentID:  order.ShipmentID,
		Items:       items,
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.UpdatedAt,
	}
}

func mapEntryToResponse(e *deadletter.Entry) DeadLetterResponse {
	return DeadLetterResponse{
		ID:            e.ID,
		Topic:         e.Topic,
		PartitionKey:  e.PartitionKey,
		ConsumerGroup: e.ConsumerGroup,
		EventID:       e.Envelope.EventID,
		EventType:     string(e.Envelope.EventType),
		Reason:        e.Reason,
		AttemptCount:  e.AttemptCount,
		LastError:     e.LastError,
		CreatedAt:     e.CreatedAt,
		ReplayedAt:    e.ReplayedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}
