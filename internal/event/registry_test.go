package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFollowInheritsSagaIdentity(t *testing.T) {
	root, err := New(TypeOrderCreated, "order-1", OrderCreated{OrderID: "order-1"})
	require.NoError(t, err)

	child, err := Follow(root, TypeInventoryReserved, InventoryReserved{OrderID: "order-1"})
	require.NoError(t, err)

	assert.Equal(t, root.CorrelationID, child.CorrelationID)
	assert.Equal(t, root.EventID, child.CausationID)
	assert.Equal(t, root.PartitionKey, child.PartitionKey)
	assert.NotEqual(t, root.EventID, child.EventID)
}

func TestEnvelopeValidate(t *testing.T) {
	env, err := New(TypeOrderCreated, "order-1", OrderCreated{OrderID: "order-1"})
	require.NoError(t, err)
	require.NoError(t, env.Validate())

	tests := []struct {
		name   string
		mutate func(*Envelope)
	}{
		{"missing event id", func(e *Envelope) { e.EventID = "" }},
		{"missing type", func(e *Envelope) { e.EventType = "" }},
		{"missing schema version", func(e *Envelope) { e.SchemaVersion = 0 }},
		{"missing correlation id", func(e *Envelope) { e.CorrelationID = "" }},
		{"missing partition key", func(e *Envelope) { e.PartitionKey = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := *env
			tt.mutate(&bad)
			err := bad.Validate()
			assert.ErrorIs(t, err, ErrInvalidEnvelope)
			assert.True(t, IsSchemaError(err))
		})
	}
}

func TestRegistryDecode(t *testing.T) {
	r := DefaultRegistry()

	env, err := New(TypeOrderCreated, "order-1", OrderCreated{
		OrderID:     "order-1",
		CustomerID:  "cust-1",
		Items:       []OrderItem{{SKU: "A", Quantity: 2, UnitPrice: 9.99}},
		TotalAmount: 19.98,
	})
	require.NoError(t, err)

	decoded, err := r.Decode(env)
	require.NoError(t, err)

	payload, ok := decoded.(*OrderCreated)
	require.True(t, ok)
	assert.Equal(t, "order-1", payload.OrderID)
	assert.Len(t, payload.Items, 1)
	assert.Equal(t, 2, payload.Items[0].Quantity)
}

func TestRegistryDecodeUnknownTypeAndVersion(t *testing.T) {
	r := DefaultRegistry()

	env, err := New(TypeOrderCreated, "order-1", OrderCreated{OrderID: "order-1"})
	require.NoError(t, err)

	unknownType := *env
	unknownType.EventType = "order.exploded"
	_, err = r.Decode(&unknownType)
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.True(t, IsSchemaError(err))

	unknownVersion := *env
	unknownVersion.SchemaVersion = 99
	_, err = r.Decode(&unknownVersion)
	assert.ErrorIs(t, err, ErrUnknownVersion)
}

func TestRegistryDecodeMalformedPayload(t *testing.T) {
	r := DefaultRegistry()

	env, err := New(TypeOrderCreated, "order-1", OrderCreated{OrderID: "order-1"})
	require.NoError(t, err)
	env.Payload = json.RawMessage(`{"order_id": 42`)

	_, err = r.Decode(env)
	assert.ErrorIs(t, err, ErrBadPayload)
	assert.True(t, IsSchemaError(err))
}

// Dual-read: two schema versions of the same type registered side by side,
// as required during a payload migration.
func TestRegistryDualRead(t *testing.T) {
	type orderCreatedV2 struct {
		OrderCreated
		Currency string `json:"currency"`
	}

	r := DefaultRegistry()
	r.Register(TypeOrderCreated, 2, decodeInto[orderCreatedV2])

	v2, err := New(TypeOrderCreated, "order-1", orderCreatedV2{
		OrderCreated: OrderCreated{OrderID: "order-1"},
		Currency:     "EUR",
	})
	require.NoError(t, err)
	v2.SchemaVersion = 2

	decoded, err := r.Decode(v2)
	require.NoError(t, err)
	assert.Equal(t, "EUR", decoded.(*orderCreatedV2).Currency)

	v1, err := New(TypeOrderCreated, "order-2", OrderCreated{OrderID: "order-2"})
	require.NoError(t, err)
	_, err = r.Decode(v1)
	require.NoError(t, err)
}
