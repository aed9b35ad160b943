package session

import (
	"fmt"
	"time"

	"github.com/turtacn/telemos/internal/featureset"
	"github.com/turtacn/telemos/internal/summary"
	"github.com/turtacn/telemos/pkg/errors"
)

const summaryPrefix = "SESSION SUMMARY: Session ID: "

// Downlink is the session controller of the downlink application: it
// reads one raw input until end of data.
type Downlink struct {
	*controller
}

func NewDownlink(opts Options) (*Downlink, error) {
	c, err := newController(featureset.AppDownlink, opts)
	if err != nil {
		return nil, err
	}
	return &Downlink{controller: c}, nil
}

// ProcessInput connects the raw input and blocks until end of data. It
// returns false without error when the session is not running, and also
// when the input cannot connect, so callers checking only ok see that
// nothing was read. Transport failures are returned as RawInput errors;
// anything else is logged and reported as false.
func (d *Downlink) ProcessInput() (ok bool, err error) {
	d.mu.Lock()
	ended := d.ended
	d.mu.Unlock()
	in := d.rawInput()
	if ended || in == nil {
		d.log.Error("Cannot process input: session is not running or has no raw input")
		return false, nil
	}

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Unexpected failure processing input", "panic", r)
			ok, err = false, nil
		}
	}()

	if !in.Connect() {
		d.log.Error("Raw input failed to connect")
		return false, nil
	}
	if err := in.StartReading(); err != nil {
		return d.inputFailure(err)
	}
	d.eod.Wait()
	if err := in.StopReading(); err != nil {
		return d.inputFailure(err)
	}
	return true, nil
}

func (d *Downlink) inputFailure(err error) (bool, error) {
	if errors.IsRawInput(err) {
		return false, err
	}
	d.log.Error("Unexpected failure processing input", "err", err)
	return false, nil
}

// Pause suspends reading. It does nothing when there is no raw input.
func (d *Downlink) Pause() {
	if in := d.rawInput(); in != nil {
		in.Pause()
	}
}

func (d *Downlink) Resume() {
	if in := d.rawInput(); in != nil {
		in.Resume()
	}
}

// Stop asks the raw input to stop. Without an input it only logs.
func (d *Downlink) Stop() {
	in := d.rawInput()
	if in == nil {
		d.log.Warn("Stop requested but there is no raw input")
		return
	}
	in.StopService()
}

// ClearInputStreamBuffer discards bytes buffered by the raw input.
func (d *Downlink) ClearInputStreamBuffer() error {
	in := d.rawInput()
	if in == nil {
		return errors.New(errors.ErrCodeRawInput, "ClearInputStreamBuffer", "no raw input", nil)
	}
	return in.ClearInputStreamBuffer()
}

// StartSessionDatabase initializes the archive and starts every store.
func (d *Downlink) StartSessionDatabase() error {
	if err := d.startStores(); err != nil {
		return errors.New(errors.ErrCodeArchive, "StartSessionDatabase", "starting session database", err)
	}
	return nil
}

// EndSession runs the ordered shutdown. It returns true when every step
// succeeded or the session had already ended. The session is marked
// ended whatever the outcome.
func (d *Downlink) EndSession(showSummary bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ended {
		return true
	}
	_ = d.state.Fire(evEnd)

	ok := false
	defer func() { d.finishEnd(ok) }()

	err := guard(func() error { return d.endSteps(showSummary) })
	if err != nil {
		d.log.Error("Shutdown anomaly while ending session", "err", err)
		return false
	}
	ok = true
	return true
}

func (d *Downlink) endSteps(showSummary bool) error {
	started := !d.startTime.IsZero()
	ctx := d.opts.Context

	if started {
		d.Stop()
	}

	if d.perf != nil {
		d.perf.SetShutdownRate(d.opts.ShutdownSummaryInterval)
	}

	sum := d.summaryLocked()
	d.shutdownSession(sum)
	if m, ok := d.rawInput().(interface{ BytesRead() int64 }); ok {
		sum.Set(summary.RawBytes, m.BytesRead())
	}

	d.log.Info(sum.OneLine(summaryPrefix))

	if d.opts.UseMessaging {
		d.publishLog("Session", "Clearing message backlog")
		if err := d.opts.Bus.ClearAllQueuedMessages(); err != nil {
			return errors.New(errors.ErrCodeMessageBus, "EndSession", "clearing message backlog", err)
		}
	}

	if d.opts.UseDatabase {
		d.publishLog("Session", "Clearing database backlog")
		d.stopPeripheralDatabases()
	}

	if started {
		ctx.EndTime = time.Now().UTC()
		sum = d.summaryLocked()
		if d.opts.UseDatabase && d.opts.Archive != nil {
			if err := d.opts.Archive.UpdateSessionEndTime(ctx, sum); err != nil {
				return errors.New(errors.ErrCodeArchive, "EndSession", "updating session end time", err)
			}
		}
	}

	if d.opts.UseDatabase {
		d.publishLog("Session", "Shutting down remaining database stores.")
		d.stopDatabase()
	}

	d.stopPerformancePublisher()

	if showSummary {
		fmt.Fprintln(d.opts.Console, sum.String())
	}

	if started {
		d.sendEndOfSession(d.startTime, ctx.EndTime)
		if d.opts.UseMessaging {
			if err := d.opts.Bus.ClearAllQueuedMessages(); err != nil {
				return errors.New(errors.ErrCodeMessageBus, "EndSession", "flushing end of session", err)
			}
		}
	}
	return nil
}

// Personal.AI order the ending
