package queue

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// The redis backend carries items as JSON envelopes so that the worker can
// rebuild the concrete item type on the far side. Item types register a
// name and a factory; the memory backend passes pointers through and never
// touches the codec.

type envelope struct {
	Type string          `json:"type"`
	Item json.RawMessage `json:"item"`
}

var (
	codecMu    sync.RWMutex
	factories  = map[string]func() any{}
	typeNames  = map[reflect.Type]string{}
)

// RegisterItemType makes an item type serializable over the redis backend.
// factory must return a pointer to a zero value of the type. Typically
// called from an init function next to the item definition.
func RegisterItemType(name string, factory func() any) {
	codecMu.Lock()
	defer codecMu.Unlock()
	factories[name] = factory
	t := reflect.TypeOf(factory())
	typeNames[t] = name
	if t.Kind() == reflect.Pointer {
		typeNames[t.Elem()] = name
	}
}

func init() {
	RegisterItemType("sentinel", func() any { return &Sentinel{} })
}

func marshalItem(item any) ([]byte, error) {
	codecMu.RLock()
	name, ok := typeNames[reflect.TypeOf(item)]
	codecMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnknownItemType, item)
	}

	raw, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal queue item: %w", err)
	}
	return json.Marshal(envelope{Type: name, Item: raw})
}

func unmarshalItem(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue envelope: %w", err)
	}

	codecMu.RLock()
	factory, ok := factories[env.Type]
	codecMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownItemType, env.Type)
	}

	item := factory()
	if err := json.Unmarshal(env.Item, item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue item %q: %w", env.Type, err)
	}
	return item, nil
}
