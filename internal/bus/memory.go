package bus

import (
	"sync"

	"github.com/turtacn/telemos/pkg/errors"
	"github.com/turtacn/telemos/pkg/logger"
)

// Memory is an in-process bus. A single dispatcher goroutine delivers
// messages in publish order.
type Memory struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Message
	subs    map[Type][]subscriber
	nextID  int
	closed  bool
	busy    bool
	stopped chan struct{}
}

// NewMemory starts the dispatcher.
func NewMemory() *Memory {
	m := &Memory{
		subs:    make(map[Type][]subscriber),
		stopped: make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	go m.dispatch()
	return m
}

func (m *Memory) Publish(msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New(errors.ErrCodeMessageBus, "Publish", "bus closed", nil)
	}
	m.queue = append(m.queue, msg)
	m.cond.Broadcast()
	return nil
}

type subscriber struct {
	id int
	h  Handler
}

type memorySub struct {
	m  *Memory
	t  Type
	id int
}

func (s *memorySub) Unsubscribe() {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	subs := s.m.subs[s.t]
	for i, sub := range subs {
		if sub.id == s.id {
			s.m.subs[s.t] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

func (m *Memory) Subscribe(t Type, h Handler) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New(errors.ErrCodeMessageBus, "Subscribe", "bus closed", nil)
	}
	m.nextID++
	m.subs[t] = append(m.subs[t], subscriber{id: m.nextID, h: h})
	return &memorySub{m: m, t: t, id: m.nextID}, nil
}

func (m *Memory) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.queue)
	if m.busy {
		n++
	}
	return n
}

// ClearAllQueuedMessages waits for the queue to drain. It must not be
// called from a handler.
func (m *Memory) ClearAllQueuedMessages() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for (len(m.queue) > 0 || m.busy) && !m.closed {
		m.cond.Wait()
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
	<-m.stopped
	return nil
}

func (m *Memory) dispatch() {
	defer close(m.stopped)
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.closed {
			m.cond.Wait()
		}
		if m.closed {
			m.queue = nil
			m.cond.Broadcast()
			m.mu.Unlock()
			return
		}
		msg := m.queue[0]
		m.queue = m.queue[1:]
		m.busy = true
		handlers := make([]Handler, 0, len(m.subs[msg.Type]))
		for _, sub := range m.subs[msg.Type] {
			handlers = append(handlers, sub.h)
		}
		m.mu.Unlock()

		for _, h := range handlers {
			m.deliver(h, msg)
		}

		m.mu.Lock()
		m.busy = false
		m.cond.Broadcast()
		m.mu.Unlock()
	}
}

func (m *Memory) deliver(h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			logger.Component("bus").Error("Handler panicked", "type", msg.Type, "panic", r)
		}
	}()
	h(msg)
}

// Personal.AI order the ending
