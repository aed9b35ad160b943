// Package worker runs a process-server session and reports its health.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/heptiolabs/healthcheck"

	"github.com/turtacn/telemos/internal/bus"
	"github.com/turtacn/telemos/internal/session"
	"github.com/turtacn/telemos/internal/status"
	"github.com/turtacn/telemos/pkg/consts"
	"github.com/turtacn/telemos/pkg/logger"
)

// telemetryTypes are the messages that count as activity for idle time.
var telemetryTypes = []bus.Type{
	bus.TransferFrame, bus.TelemetryPacket, bus.Pdu, bus.Evr, bus.EhaChannel, bus.Product,
}

// ProcessWorker owns one process session from start to end.
type ProcessWorker struct {
	session *session.Process
	bus     bus.Bus
	log     logger.Logger

	// ShowSummary prints the session summary when the worker finishes.
	ShowSummary bool

	started  atomic.Bool
	lastSeen atomic.Int64
	now      func() time.Time

	mu     sync.Mutex
	subs   []bus.Subscription
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func New(p *session.Process, b bus.Bus) *ProcessWorker {
	return &ProcessWorker{
		session: p,
		bus:     b,
		log:     logger.Component("worker"),
		now:     time.Now,
	}
}

// Start starts the session and waits for end of data on its own
// goroutine. The session is ended before Wait returns.
func (w *ProcessWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return fmt.Errorf("worker already started")
	}

	for _, t := range telemetryTypes {
		sub, err := w.bus.Subscribe(t, func(bus.Message) { w.lastSeen.Store(w.now().UnixNano()) })
		if err != nil {
			w.unsubscribe()
			return err
		}
		w.subs = append(w.subs, sub)
	}

	if err := w.session.StartSession(); err != nil {
		w.session.EndSession(false)
		w.unsubscribe()
		return err
	}
	w.lastSeen.Store(w.now().UnixNano())
	w.started.Store(true)
	w.log.Info("Process worker started")

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(runCtx, w.done)
	return nil
}

func (w *ProcessWorker) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	_, err := w.session.ProcessInput(ctx)
	if !w.session.EndSession(w.ShowSummary) && err == nil {
		err = fmt.Errorf("session ended with a shutdown anomaly")
	}
	w.mu.Lock()
	w.err = err
	w.unsubscribe()
	w.mu.Unlock()
	w.log.Info("Process worker finished", "err", err)
}

func (w *ProcessWorker) unsubscribe() {
	for _, s := range w.subs {
		s.Unsubscribe()
	}
	w.subs = nil
}

// Stop asks the session to finish as if end of data had arrived.
func (w *ProcessWorker) Stop() {
	w.log.Info("Process worker stopping")
	w.session.Stop()
}

// Kill interrupts the wait for end of data. Wait then returns the
// cancellation error.
func (w *ProcessWorker) Kill() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		w.log.Warn("Process worker interrupted")
		cancel()
	}
}

// Wait blocks until the session has ended and returns the error that
// ended it, if any.
func (w *ProcessWorker) Wait() error {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Status reports the worker's current stage.
func (w *ProcessWorker) Status() status.WorkerStatus {
	started := w.started.Load()
	var idle int64
	if started {
		idle = int64(w.now().Sub(time.Unix(0, w.lastSeen.Load())) / time.Second)
	}
	ended := w.session.State() == consts.SessionEnded
	st := status.New(started, w.bus.Pending(), ended, idle)
	st.Session = w.session.FullName()
	return st
}

// HealthHandler reports live while the process is healthy and ready
// until the session is done.
func (w *ProcessWorker) HealthHandler() healthcheck.Handler {
	h := healthcheck.NewHandler()
	h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	h.AddReadinessCheck("session", func() error {
		if st := w.Status(); st.Stage == status.Done {
			return fmt.Errorf("session %s is done", st.Session)
		}
		return nil
	})
	return h
}

// Personal.AI order the ending
