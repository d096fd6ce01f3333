package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Registry maps (event type, schema version) to a payload decoder.
//
// A breaking payload change gets a new schema version registered next to the
// old one, so consumers dual-read both shapes during a migration and the old
// version is retired once no producer emits it.
type Registry struct {
	decoders map[Type]map[int]func(json.RawMessage) (any, error)
}

var (
	// ErrUnknownType means the envelope names an event type this consumer
	// has no decoder for.
	ErrUnknownType = errors.New("unknown event type")
	// ErrUnknownVersion means the type is known but the schema version is not.
	ErrUnknownVersion = errors.New("unknown schema version")
	// ErrBadPayload means the payload does not parse against the registered
	// schema. Never retried.
	ErrBadPayload = errors.New("malformed payload")
)

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[Type]map[int]func(json.RawMessage) (any, error))}
}

// Register adds a decoder for (t, version). Later registrations replace
// earlier ones, which tests use to stub schemas.
func (r *Registry) Register(t Type, version int, decode func(json.RawMessage) (any, error)) {
	if r.decoders[t] == nil {
		r.decoders[t] = make(map[int]func(json.RawMessage) (any, error))
	}
	r.decoders[t][version] = decode
}

// Decode validates the envelope and decodes its payload. All returned errors
// belong to the validation taxonomy: they are discarded or dead-lettered with
// reason "schema", never retried.
func (r *Registry) Decode(env *Envelope) (any, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}

	versions, ok := r.decoders[env.EventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, env.EventType)
	}
	decode, ok := versions[env.SchemaVersion]
	if !ok {
		return nil, fmt.Errorf("%w: %s v%d", ErrUnknownVersion, env.EventType, env.SchemaVersion)
	}

	payload, err := decode(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s v%d: %v", ErrBadPayload, env.EventType, env.SchemaVersion, err)
	}
	return payload, nil
}

// IsSchemaError reports whether err belongs to the validation taxonomy.
func IsSchemaError(err error) bool {
	return errors.Is(err, ErrInvalidEnvelope) ||
		errors.Is(err, ErrUnknownType) ||
		errors.Is(err, ErrUnknownVersion) ||
		errors.Is(err, ErrBadPayload)
}

func decodeInto[T any](raw json.RawMessage) (any, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// DefaultRegistry returns a registry with every current event schema
// registered at version 1.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TypeOrderCreated, 1, decodeInto[OrderCreated])
	r.Register(TypeInventoryReserved, 1, decodeInto[InventoryReserved])
	r.Register(TypeInventoryReservationFailed, 1, decodeInto[InventoryReservationFailed])
	r.Register(TypeInventoryReleased, 1, decodeInto[InventoryReleased])
	r.Register(TypePaymentAuthorized, 1, decodeInto[PaymentAuthorized])
	r.Register(TypePaymentFailed, 1, decodeInto[PaymentFailed])
	r.Register(TypeOrderShipped, 1, decodeInto[OrderShipped])
	return r
}
