package session

import (
	"context"
	"fmt"
	"time"

	"github.com/turtacn/telemos/internal/archive"
	"github.com/turtacn/telemos/internal/featureset"
	"github.com/turtacn/telemos/internal/summary"
	"github.com/turtacn/telemos/pkg/errors"
)

// Process is the session controller of the process server. Messages
// arrive on the bus from an upstream downlink; the session runs until
// end of data is received or Stop is called.
type Process struct {
	*controller
}

func NewProcess(opts Options) (*Process, error) {
	c, err := newController(featureset.AppProcess, opts)
	if err != nil {
		return nil, err
	}
	return &Process{controller: c}, nil
}

// ProcessInput blocks until end of data. Cancelling ctx releases it and
// sets end of data so later waiters return at once.
func (p *Process) ProcessInput(ctx context.Context) (bool, error) {
	p.mu.Lock()
	ended := p.ended
	p.mu.Unlock()
	if ended {
		p.log.Error("Cannot process input: session is not running")
		return false, nil
	}
	if err := p.eod.WaitContext(ctx); err != nil {
		p.log.Warn("Interrupted while waiting for end of data", "err", err)
		return false, err
	}
	return true, nil
}

// Stop sets end of data.
func (p *Process) Stop() { p.eod.Set() }

func (p *Process) HasReceivedEndOfData() bool { return p.eod.IsSet() }

// ProgressSummary returns the summary with the managers' current counts.
func (p *Process) ProgressSummary() *summary.Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.summaryLocked()
	if p.orch != nil {
		p.orch.PopulateSummary(s)
	}
	return s
}

// StartSessionDatabase starts the stores a process session writes.
func (p *Process) StartSessionDatabase() error {
	if err := p.startStores(archive.ProcessStores(p.opts.Context.Sse)...); err != nil {
		return errors.New(errors.ErrCodeArchive, "StartSessionDatabase", "starting process stores", err)
	}
	return nil
}

// EndSession shuts the managers down and, if that succeeds, closes the
// database and announces the end of session.
func (p *Process) EndSession(showSummary bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ended {
		return true
	}
	_ = p.state.Fire(evEnd)

	ok := false
	defer func() { p.finishEnd(ok) }()

	if err := guard(p.shutdownBase); err != nil {
		p.log.Error("Shutdown anomaly while ending session", "err", err)
		return false
	}
	if err := guard(func() error { return p.closeOut(showSummary) }); err != nil {
		p.log.Error("Shutdown anomaly while closing session", "err", err)
		return false
	}
	ok = true
	return true
}

func (p *Process) shutdownBase() error {
	if !p.startTime.IsZero() {
		p.Stop()
	}
	if p.perf != nil {
		p.perf.SetShutdownRate(p.opts.ShutdownSummaryInterval)
	}
	sum := p.summaryLocked()
	p.shutdownSession(sum)
	p.log.Info(sum.OneLine(summaryPrefix))

	if p.opts.UseMessaging {
		p.publishLog("Session", "Clearing message backlog")
		if err := p.opts.Bus.ClearAllQueuedMessages(); err != nil {
			return errors.New(errors.ErrCodeMessageBus, "EndSession", "clearing message backlog", err)
		}
	}
	return nil
}

func (p *Process) closeOut(showSummary bool) error {
	started := !p.startTime.IsZero()
	ctx := p.opts.Context

	if p.opts.UseDatabase {
		p.publishLog("Session", "Clearing database backlog")
		p.stopPeripheralDatabases()
	}
	if started {
		ctx.EndTime = time.Now().UTC()
	}
	sum := p.summaryLocked()
	if started && p.opts.UseDatabase && p.opts.Archive != nil {
		if err := p.opts.Archive.UpdateSessionEndTime(ctx, sum); err != nil {
			return errors.New(errors.ErrCodeArchive, "EndSession", "updating session end time", err)
		}
	}
	if p.opts.UseDatabase {
		p.publishLog("Session", "Shutting down remaining database stores.")
		p.stopDatabase()
	}

	p.stopPerformancePublisher()
	if showSummary {
		fmt.Fprintln(p.opts.Console, sum.String())
	}
	if started {
		p.sendEndOfSession(p.startTime, ctx.EndTime)
	}
	return nil
}

// Personal.AI order the ending
