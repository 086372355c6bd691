package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
)

// Payload is the typed content of an event. Each event type is bound to one
// Payload implementation in the registry.
type Payload interface {
	// Validate checks the fields of the payload against the schema of its type.
	Validate() error
	// References returns the event ids, public keys, names or urls the payload
	// points at.
	References() []string
}

type schema struct {
	nonceBearing bool
	factory      func() Payload
}

var (
	registryLock sync.RWMutex
	registry     = make(map[string]schema)
)

// Register binds a type tag to a payload factory. nonceBearing marks types
// whose nonce must strictly increase per author. Registering a tag twice
// panics.
func Register(tag string, nonceBearing bool, factory func() Payload) {
	registryLock.Lock()
	defer registryLock.Unlock()

	if _, ok := registry[tag]; ok {
		panic(fmt.Sprintf("event type %s registered twice", tag))
	}

	registry[tag] = schema{
		nonceBearing: nonceBearing,
		factory:      factory,
	}
}

func lookup(tag string) (schema, bool) {
	registryLock.RLock()
	defer registryLock.RUnlock()
	s, ok := registry[tag]
	return s, ok
}

// Registered reports whether tag is a known event type.
func Registered(tag string) bool {
	_, ok := lookup(tag)
	return ok
}

// NonceBearing reports whether events of this type are subject to per-author
// nonce monotonicity.
func NonceBearing(tag string) bool {
	s, ok := lookup(tag)
	return ok && s.nonceBearing
}

// Types returns the registered type tags.
func Types() []string {
	registryLock.RLock()
	defer registryLock.RUnlock()
	res := make([]string, 0, len(registry))
	for t := range registry {
		res = append(res, t)
	}
	return res
}

// NewPayload decodes raw as the payload of an event of type tag and validates
// it.
func NewPayload(tag string, raw []byte) (Payload, error) {
	s, ok := lookup(tag)
	if !ok {
		return nil, fmt.Errorf("unknown type %q", tag)
	}

	p := s.factory()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	return p, nil
}
