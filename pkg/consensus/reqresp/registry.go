package reqresp

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Registry holds the protocol definitions a node speaks.
type Registry struct {
	mu    sync.RWMutex
	defs  map[ProtocolID]*ProtocolDefinition
	order []ProtocolID
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		defs: make(map[ProtocolID]*ProtocolDefinition),
	}
}

// Register adds definitions. Either all of them are added or, when one is
// invalid or already registered, none are.
func (r *Registry) Register(defs ...*ProtocolDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[ProtocolID]struct{}, len(defs))

	for _, def := range defs {
		if def == nil {
			return errors.New("nil protocol definition")
		}

		if err := def.validate(); err != nil {
			return err
		}

		id := def.ProtocolID()

		if _, exists := r.defs[id]; exists {
			return fmt.Errorf("%w: %s", ErrProtocolExists, id)
		}

		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %s", ErrProtocolExists, id)
		}

		seen[id] = struct{}{}
	}

	for _, def := range defs {
		id := def.ProtocolID()
		r.defs[id] = def
		r.order = append(r.order, id)
	}

	return nil
}

// Lookup returns the definition registered under id.
func (r *Registry) Lookup(id ProtocolID) (*ProtocolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProtocol, id)
	}

	return def, nil
}

// SupportedProtocolIDs returns the registered versions of method, newest
// first. This is the order protocols are offered in when dialing.
func (r *Registry) SupportedProtocolIDs(method string) []ProtocolID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []ProtocolID

	for _, id := range r.order {
		if id.Method == method {
			ids = append(ids, id)
		}
	}

	slices.SortStableFunc(ids, func(a, b ProtocolID) int {
		switch {
		case a.Version > b.Version:
			return -1
		case a.Version < b.Version:
			return 1
		default:
			return 0
		}
	})

	return ids
}

// Definitions returns every definition in registration order.
func (r *Registry) Definitions() []*ProtocolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ProtocolDefinition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.defs[id])
	}

	return out
}
