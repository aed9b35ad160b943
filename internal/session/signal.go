package session

import (
	"context"
	"sync"
)

// EndOfDataSignal is a one-shot flag that releases every waiter when set.
// Once set it stays set.
type EndOfDataSignal struct {
	once sync.Once
	ch   chan struct{}
	init sync.Once
}

func (s *EndOfDataSignal) done() chan struct{} {
	s.init.Do(func() { s.ch = make(chan struct{}) })
	return s.ch
}

// Set marks end of data and wakes all waiters. Later calls do nothing.
func (s *EndOfDataSignal) Set() {
	ch := s.done()
	s.once.Do(func() { close(ch) })
}

// Wait blocks until Set has been called.
func (s *EndOfDataSignal) Wait() {
	<-s.done()
}

// WaitContext blocks until Set is called or ctx is done. Cancellation
// also sets the signal so later waiters never block, and ctx.Err() is
// returned to the caller.
func (s *EndOfDataSignal) WaitContext(ctx context.Context) error {
	select {
	case <-s.done():
		return nil
	case <-ctx.Done():
		s.Set()
		return ctx.Err()
	}
}

func (s *EndOfDataSignal) IsSet() bool {
	select {
	case <-s.done():
		return true
	default:
		return false
	}
}

// Personal.AI order the ending
