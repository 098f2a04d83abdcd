// Package devbus is an in-process key/value device bus: typed attribute
// registration, reads, owner and external writes, and change notification.
package devbus

import (
	"fmt"
	"sync"
)

// Bus is the surface the bridge publishes through.
type Bus interface {
	Register(attr Attribute) error
	Seal()
	Get(path string) (any, bool)
	Text(path string) string
	// Set is the owner's write. It ignores the writable flag.
	Set(path string, value any) error
	// Write is an external write. Only writable attributes accept it, and the
	// attribute's OnWrite handler may still reject it.
	Write(path string, value any) error
	Entries() []Entry
	Subscribe(queueLen int) *Subscription
}

type slot struct {
	attr  Attribute
	value any
}

// Memory is the in-memory Bus implementation.
type Memory struct {
	name string

	mu     sync.RWMutex
	slots  map[string]*slot
	order  []string
	sealed bool
	subs   []*Subscription
}

var _ Bus = (*Memory)(nil)

// NewMemory creates an empty bus identified by service name.
func NewMemory(name string) *Memory {
	return &Memory{
		name:  name,
		slots: make(map[string]*slot),
	}
}

// Name returns the bus service name.
func (m *Memory) Name() string {
	return m.name
}

func (m *Memory) Register(attr Attribute) error {
	if attr.Path == "" || attr.Path[0] != '/' {
		return fmt.Errorf("register %q: path must start with /", attr.Path)
	}
	if attr.Kind != KindInt && attr.Kind != KindString {
		return fmt.Errorf("register %s: unknown kind %d", attr.Path, attr.Kind)
	}
	initial, err := coerce(attr.Kind, attr.Initial)
	if err != nil {
		return fmt.Errorf("register %s: %w", attr.Path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sealed {
		return fmt.Errorf("register %s: %w", attr.Path, ErrSealed)
	}
	if _, exists := m.slots[attr.Path]; exists {
		return fmt.Errorf("register %s: %w", attr.Path, ErrDuplicatePath)
	}
	m.slots[attr.Path] = &slot{attr: attr, value: initial}
	m.order = append(m.order, attr.Path)
	return nil
}

// Seal freezes the attribute set. Values stay mutable.
func (m *Memory) Seal() {
	m.mu.Lock()
	m.sealed = true
	m.mu.Unlock()
}

func (m *Memory) Get(path string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.slots[path]
	if !ok {
		return nil, false
	}
	return s.value, true
}

func (m *Memory) Text(path string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.slots[path]
	if !ok {
		return ""
	}
	return render(s)
}

func (m *Memory) Set(path string, value any) error {
	return m.store(path, value, false)
}

func (m *Memory) Write(path string, value any) error {
	m.mu.RLock()
	s, ok := m.slots[path]
	var attr Attribute
	if ok {
		attr = s.attr
	}
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("write %s: %w", path, ErrUnknownPath)
	}
	if !attr.Writable {
		return fmt.Errorf("write %s: %w", path, ErrNotWritable)
	}
	coerced, err := coerce(attr.Kind, value)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if attr.OnWrite != nil && !attr.OnWrite(path, coerced) {
		return fmt.Errorf("write %s: %w", path, ErrWriteRejected)
	}
	return m.store(path, coerced, true)
}

func (m *Memory) store(path string, value any, external bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[path]
	if !ok {
		return fmt.Errorf("set %s: %w", path, ErrUnknownPath)
	}
	coerced, err := coerce(s.attr.Kind, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	if s.value == coerced {
		return nil
	}
	s.value = coerced
	m.publishLocked(Change{Path: path, Value: coerced, External: external})
	return nil
}

// Entries returns every attribute in registration order.
func (m *Memory) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0, len(m.order))
	for _, path := range m.order {
		s := m.slots[path]
		out = append(out, Entry{
			Path:     path,
			Kind:     s.attr.Kind,
			Value:    s.value,
			Text:     render(s),
			Writable: s.attr.Writable,
		})
	}
	return out
}

// Subscribe returns a subscription that first receives the current value of
// every attribute, then every change. When the queue is full the oldest
// pending change is dropped.
func (m *Memory) Subscribe(queueLen int) *Subscription {
	if queueLen <= 0 {
		queueLen = 64
	}
	sub := &Subscription{ch: make(chan Change, queueLen), bus: m}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, sub)
	for _, path := range m.order {
		sub.deliver(Change{Path: path, Value: m.slots[path].value})
	}
	return sub
}

func (m *Memory) unsubscribe(sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subs {
		if s == sub {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

func (m *Memory) publishLocked(c Change) {
	for _, sub := range m.subs {
		sub.deliver(c)
	}
}

func render(s *slot) string {
	if s.attr.Format != nil {
		return s.attr.Format(s.value)
	}
	return DefaultText(s.value)
}

// Subscription is a change feed from a Memory bus.
type Subscription struct {
	ch   chan Change
	bus  *Memory
	once sync.Once
}

// Changes returns the receive side of the feed. It is closed on Unsubscribe.
func (s *Subscription) Changes() <-chan Change {
	return s.ch
}

// Unsubscribe detaches the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() { s.bus.unsubscribe(s) })
}

func (s *Subscription) deliver(c Change) {
	select {
	case s.ch <- c:
		return
	default:
	}
	// drop oldest
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- c:
	default:
	}
}
