package network

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
)

const defaultMemoryBuffer = 64

type memorySub struct {
	filter string
	ch     chan recvResult
}

// MemoryPubSub is a process-local transport used for development and tests.
// A subscription filter matches every topic it prefixes; the empty filter matches everything.
type MemoryPubSub struct {
	mu      sync.RWMutex
	nextID  int
	buffer  int
	subs    map[int]*memorySub
	dropped atomic.Int64
}

// MemoryOption configures a MemoryPubSub.
type MemoryOption func(*MemoryPubSub)

// WithMemoryBuffer sets the per-subscription buffer size.
func WithMemoryBuffer(n int) MemoryOption {
	return func(m *MemoryPubSub) {
		if n > 0 {
			m.buffer = n
		}
	}
}

func NewMemoryPubSub(opts ...MemoryOption) *MemoryPubSub {
	m := &MemoryPubSub{
		buffer: defaultMemoryBuffer,
		subs:   make(map[int]*memorySub),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryPubSub) Publish(topic string, payload []byte) error {
	m.deliver(recvResult{msg: Message{Topic: topic, Payload: payload}}, topic)
	return nil
}

// Fail delivers err to every live subscription as a receive error.
func (m *MemoryPubSub) Fail(err error) {
	m.deliver(recvResult{err: err}, "")
}

// Dropped reports how many deliveries were discarded because a subscriber buffer was full.
func (m *MemoryPubSub) Dropped() int64 {
	return m.dropped.Load()
}

func (m *MemoryPubSub) deliver(res recvResult, topic string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sub := range m.subs {
		if res.err == nil && !strings.HasPrefix(topic, sub.filter) {
			continue
		}
		out := res
		if out.err == nil {
			out.msg.Payload = append([]byte(nil), res.msg.Payload...)
		}
		select {
		case sub.ch <- out:
		default:
			// Non-blocking send to avoid one slow subscriber stalling all publishers.
			m.dropped.Add(1)
		}
	}
}

func (m *MemoryPubSub) Subscribe(_ context.Context, topic string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	sub := &memorySub{filter: topic, ch: make(chan recvResult, m.buffer)}
	m.subs[id] = sub

	cancel := func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if s, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(s.ch)
		}
		return nil
	}
	return newChanSubscription(sub.ch, cancel), nil
}
