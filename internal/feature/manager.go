// Package feature holds the session feature managers. Each manager wraps
// one telemetry processing concern, subscribes to the message types it
// consumes while enabled, and reports its counters into the session
// summary at shutdown.
package feature

import (
	"sync"

	"github.com/turtacn/telemos/internal/bus"
	"github.com/turtacn/telemos/internal/dictionary"
	"github.com/turtacn/telemos/internal/summary"
	"github.com/turtacn/telemos/pkg/errors"
	"github.com/turtacn/telemos/pkg/logger"
)

// Manager is the lifecycle contract shared by every feature manager. A
// manager is created per session, initialized once and torn down once.
type Manager interface {
	Name() string
	Enable(on bool)
	IsEnabled() bool
	// Init performs one-time setup. An error is fatal to session start.
	Init(env *Env) error
	// StopAllServices releases subscriptions started by Init. Idempotent.
	StopAllServices()
	// ClearAllServices drops in-memory state retained after stopping.
	ClearAllServices()
	// PopulateSummary writes counters; no-op for a manager never started.
	// Repeated calls overwrite rather than accumulate.
	PopulateSummary(s *summary.Summary)
}

// Env is what managers may touch during Init.
type Env struct {
	Bus          bus.Bus
	ContextKey   int64
	Dictionaries *dictionary.Strategy
	Log          logger.Logger
}

func (e *Env) logger() logger.Logger {
	if e.Log != nil {
		return e.Log
	}
	return logger.Log
}

// base implements the subscribe-and-count behavior shared by all managers.
// Variants embed it and supply the consumed types via counters.
type base struct {
	name string

	mu      sync.Mutex
	enabled bool
	started bool
	// subscribed is cleared by StopAllServices so a reused manager can
	// subscribe again in its next session.
	subscribed bool
	subs       []bus.Subscription
	counters   map[bus.Type]string
	counts     map[bus.Type]int64
}

func (b *base) setup(name string, counters map[bus.Type]string) {
	b.name = name
	b.counters = counters
	b.counts = make(map[bus.Type]int64)
	b.started = false
}

func (b *base) Name() string { return b.name }

func (b *base) Enable(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = on
}

func (b *base) IsEnabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

// start subscribes to every counted type, routing each message to fn
// after counting it. fn may be nil.
func (b *base) start(env *Env, fn func(bus.Message)) error {
	if env == nil || env.Bus == nil {
		return errors.New(errors.ErrCodeFeatureInit, b.name, "no message bus", nil)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribed {
		return nil
	}
	for t := range b.counters {
		t := t
		sub, err := env.Bus.Subscribe(t, func(m bus.Message) {
			b.mu.Lock()
			b.counts[t]++
			b.mu.Unlock()
			if fn != nil {
				fn(m)
			}
		})
		if err != nil {
			for _, s := range b.subs {
				s.Unsubscribe()
			}
			b.subs = nil
			return errors.New(errors.ErrCodeFeatureInit, b.name, "subscribe "+string(t), err)
		}
		b.subs = append(b.subs, sub)
	}
	b.started = true
	b.subscribed = true
	env.logger().Debug("Feature manager started", "manager", b.name)
	return nil
}

func (b *base) StopAllServices() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.subscribed = false
	b.mu.Unlock()
	for _, s := range subs {
		s.Unsubscribe()
	}
}

func (b *base) ClearAllServices() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts = make(map[bus.Type]int64)
	b.started = false
}

func (b *base) PopulateSummary(s *summary.Summary) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started || s == nil {
		return
	}
	for t, name := range b.counters {
		s.Set(name, b.counts[t])
	}
}

// Started reports whether Init subscribed the manager since the last
// ClearAllServices.
func (b *base) Started() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

// Count returns the number of messages of type t seen so far.
func (b *base) Count(t bus.Type) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[t]
}

// initIfEnabled is the Init body for managers with no extra setup.
func (b *base) initIfEnabled(env *Env) error {
	if !b.IsEnabled() {
		return nil
	}
	return b.start(env, nil)
}

// Personal.AI order the ending
