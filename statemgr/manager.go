// Package statemgr keeps the state objects of the engine components grouped
// by their role in a trace, and moves them in and out of trace records.
package statemgr

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"reflect"
	"sync"

	"github.com/sarchlab/lotto/pubsub"
	"github.com/sarchlab/lotto/sched"
)

// Group classifies state objects by when they are saved and restored.
type Group int

// The groups.
const (
	// Config is written once at the beginning of a trace.
	Config Group = iota

	// Persistent is written with every scheduling record.
	Persistent

	// Ephemeral is never written and reset between runs.
	Ephemeral

	// Final is written with the exit record.
	Final

	numGroups
)

func (g Group) String() string {
	switch g {
	case Config:
		return "CONFIG"
	case Persistent:
		return "PERSISTENT"
	case Ephemeral:
		return "EPHEMERAL"
	case Final:
		return "FINAL"
	default:
		return fmt.Sprintf("GROUP_%d", int(g))
	}
}

func (g Group) topic() (pubsub.Type, bool) {
	switch g {
	case Config:
		return sched.TopicAfterUnmarshalConfig, true
	case Persistent:
		return sched.TopicAfterUnmarshalPersistent, true
	case Final:
		return sched.TopicAfterUnmarshalFinal, true
	default:
		return 0, false
	}
}

const canary uint32 = 0x10770770

type entryHeader struct {
	Key    string
	Canary uint32
}

type groupHeader struct {
	Group   int
	Entries int
}

type entry struct {
	key   string
	value any
}

// Manager owns the registered state objects. A state object is a pointer to
// a struct owned by a component; the manager encodes it and decodes into it
// in place.
type Manager struct {
	mu     sync.RWMutex
	bus    *pubsub.Bus
	groups [numGroups][]*entry
	keys   map[string]Group
}

// NewManager creates a manager. bus may be nil, in which case no topic is
// published after unmarshalling.
func NewManager(bus *pubsub.Bus) *Manager {
	return &Manager{bus: bus, keys: make(map[string]Group)}
}

// Register adds a state object to a group.
func (m *Manager) Register(g Group, key string, value any) error {
	if g < 0 || g >= numGroups {
		return fmt.Errorf("statemgr: invalid group %d", int(g))
	}

	if key == "" {
		return fmt.Errorf("statemgr: key must be non-empty")
	}

	if value == nil || reflect.TypeOf(value).Kind() != reflect.Ptr {
		return fmt.Errorf("statemgr: value for %q must be a non-nil pointer", key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.keys[key]; exists {
		return fmt.Errorf("statemgr: key %q already registered", key)
	}

	m.keys[key] = g
	m.groups[g] = append(m.groups[g], &entry{key: key, value: value})

	return nil
}

// MustRegister is Register for setup code that cannot recover from a
// registration failure.
func (m *Manager) MustRegister(g Group, key string, value any) {
	if err := m.Register(g, key, value); err != nil {
		panic(err)
	}
}

// Keys returns the keys of a group in registration order.
func (m *Manager) Keys(g Group) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.groups[g]))
	for _, e := range m.groups[g] {
		keys = append(keys, e.key)
	}

	return keys
}

// Marshal encodes every state object of a group.
func (m *Manager) Marshal(g Group) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	entries := m.groups[g]
	if err := enc.Encode(groupHeader{Group: int(g), Entries: len(entries)}); err != nil {
		return nil, fmt.Errorf("statemgr: encoding %s header: %w", g, err)
	}

	for _, e := range entries {
		if err := enc.Encode(entryHeader{Key: e.key, Canary: canary}); err != nil {
			return nil, fmt.Errorf("statemgr: encoding %q header: %w", e.key, err)
		}

		if err := enc.Encode(e.value); err != nil {
			return nil, fmt.Errorf("statemgr: encoding %q: %w", e.key, err)
		}
	}

	return buf.Bytes(), nil
}

// Unmarshal restores the state objects of a group from data produced by
// Marshal, then publishes the matching AFTER_UNMARSHAL topic.
func (m *Manager) Unmarshal(g Group, data []byte) error {
	if err := m.unmarshal(g, data); err != nil {
		return err
	}

	if t, ok := g.topic(); ok && m.bus != nil {
		m.bus.Publish(sched.ChainInterface, t, nil, nil)
	}

	return nil
}

func (m *Manager) unmarshal(g Group, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dec := gob.NewDecoder(bytes.NewReader(data))

	var gh groupHeader
	if err := dec.Decode(&gh); err != nil {
		return fmt.Errorf("statemgr: decoding %s header: %w", g, err)
	}

	if gh.Group != int(g) {
		return fmt.Errorf("statemgr: expected group %s, found %s", g, Group(gh.Group))
	}

	entries := m.groups[g]
	if gh.Entries != len(entries) {
		return fmt.Errorf("statemgr: group %s has %d entries, data has %d",
			g, len(entries), gh.Entries)
	}

	for _, e := range entries {
		var eh entryHeader
		if err := dec.Decode(&eh); err != nil {
			return fmt.Errorf("statemgr: decoding %q header: %w", e.key, err)
		}

		if eh.Canary != canary {
			return fmt.Errorf("statemgr: corrupted entry %q", eh.Key)
		}

		if eh.Key != e.key {
			return fmt.Errorf("statemgr: expected entry %q, found %q", e.key, eh.Key)
		}

		// Gob skips zero values, so stale fields would survive a decode.
		target := reflect.ValueOf(e.value).Elem()
		target.Set(reflect.Zero(target.Type()))

		if err := dec.Decode(e.value); err != nil {
			return fmt.Errorf("statemgr: decoding %q: %w", e.key, err)
		}
	}

	return nil
}

// Load returns a deep copy of a state object.
func (m *Manager) Load(key string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.keys[key]
	if !ok {
		return nil, fmt.Errorf("statemgr: key %q is not registered", key)
	}

	for _, e := range m.groups[g] {
		if e.key == key {
			return deepCopy(e.value)
		}
	}

	return nil, fmt.Errorf("statemgr: key %q is not registered", key)
}

// ResetEphemeral zeroes every ephemeral state object.
func (m *Manager) ResetEphemeral() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.groups[Ephemeral] {
		target := reflect.ValueOf(e.value).Elem()
		target.Set(reflect.Zero(target.Type()))
	}
}

func deepCopy(value any) (any, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(value); err != nil {
		return nil, err
	}

	target := reflect.New(reflect.TypeOf(value).Elem())
	if err := gob.NewDecoder(&buf).Decode(target.Interface()); err != nil {
		return nil, err
	}

	return target.Interface(), nil
}
