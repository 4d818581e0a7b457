package bus

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Payload is anything carried inside an envelope. PayloadType must return a
// stable, fully-qualified identifier such as "netcluster.cluster.v1.WhereIsRequest"
// that is identical on every node.
//
// Payloads should be plain struct values; the registry decodes into the
// same Go type that was registered.
type Payload interface {
	PayloadType() string
}

// Registry maps payload type ids to concrete Go types for decoding.
type Registry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[string]reflect.Type)}
}

// Register records p's concrete type under p.PayloadType(). Registering the
// same type again is a no-op; a different type under a taken id is rejected.
func (r *Registry) Register(p Payload) error {
	if p == nil {
		return fmt.Errorf("%w: nil payload", ErrInvalidPayload)
	}
	v := reflect.ValueOf(p)
	if v.Kind() == reflect.Pointer && v.IsNil() {
		return fmt.Errorf("%w: nil %T", ErrInvalidPayload, p)
	}

	id := p.PayloadType()
	if id == "" {
		return fmt.Errorf("%w: %T has an empty payload type", ErrInvalidPayload, p)
	}
	t := v.Type()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.types[id]; ok {
		if existing == t {
			return nil
		}
		return fmt.Errorf("%w: %q is registered to %s, not %s", ErrTypeConflict, id, existing, t)
	}
	r.types[id] = t
	return nil
}

// Registered reports whether id has a registry entry.
func (r *Registry) Registered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[id]
	return ok
}

// Types lists registered ids in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.types))
	for id := range r.types {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Decode builds a payload of the type registered under id from its JSON form.
func (r *Registry) Decode(id, raw string) (Payload, error) {
	r.mu.RLock()
	t, ok := r.types[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnregisteredType, id)
	}

	if t.Kind() == reflect.Pointer {
		ptr := reflect.New(t.Elem())
		if err := json.Unmarshal([]byte(raw), ptr.Interface()); err != nil {
			return nil, fmt.Errorf("decode %s: %w", id, err)
		}
		return ptr.Interface().(Payload), nil
	}

	ptr := reflect.New(t)
	if err := json.Unmarshal([]byte(raw), ptr.Interface()); err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return ptr.Elem().Interface().(Payload), nil
}
