// Package session runs one telemetry session: start through the
// orchestrator, wait for end of data, then the ordered shutdown.
package session

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/turtacn/telemos/internal/archive"
	"github.com/turtacn/telemos/internal/bus"
	"github.com/turtacn/telemos/internal/dictionary"
	"github.com/turtacn/telemos/internal/feature"
	"github.com/turtacn/telemos/internal/featureset"
	"github.com/turtacn/telemos/internal/input"
	"github.com/turtacn/telemos/internal/monitor"
	"github.com/turtacn/telemos/internal/orchestrator"
	"github.com/turtacn/telemos/internal/sclk"
	"github.com/turtacn/telemos/internal/summary"
	"github.com/turtacn/telemos/pkg/consts"
	"github.com/turtacn/telemos/pkg/errors"
	"github.com/turtacn/telemos/pkg/fsm"
	"github.com/turtacn/telemos/pkg/logger"
	"github.com/turtacn/telemos/pkg/protocol"
)

// Options configures a session controller. Intervals left at zero take
// the defaults from consts.
type Options struct {
	Context  *protocol.ContextConfig
	Features *featureset.FeatureSet
	Bus      bus.Bus
	Eha      *feature.Eha
	Registry *feature.Registry

	Dictionaries dictionary.Loader
	Clock        sclk.Provider
	Performance  *monitor.PerformancePublisher

	// Archive is used only when UseDatabase is set.
	Archive      archive.Controller
	UseDatabase  bool
	UseMessaging bool

	HeartbeatInterval       time.Duration
	SummaryInterval         time.Duration
	ShutdownSummaryInterval time.Duration

	// Downlink only. InputType defaults to the context's connection
	// input type.
	InputType     input.TelemetryInputType
	NewInput      orchestrator.InputFactory
	MeterInterval time.Duration
	RemoteDb      *input.RemoteDbFlag

	// Console receives the session summary when requested; stdout if nil.
	Console io.Writer
}

// ServiceConfiguration describes the services backing a session. It is
// attached to start of session and heartbeat messages.
type ServiceConfiguration map[string]string

const (
	evStart fsm.Event = "start"
	evRun   fsm.Event = "run"
	evEnd   fsm.Event = "end"
	evEnded fsm.Event = "ended"
)

var allStates = []string{
	string(consts.SessionNotStarted),
	string(consts.SessionStarting),
	string(consts.SessionRunning),
	string(consts.SessionEnding),
	string(consts.SessionEnded),
}

func sst(s consts.SessionState) fsm.State { return fsm.State(s) }

// controller holds the lifecycle shared by the downlink and process
// variants. mu guards ended, summary, startTime and the archive calls.
type controller struct {
	opts Options
	app  featureset.App
	log  logger.Logger

	state  *fsm.StateMachine
	eod    EndOfDataSignal
	eodSub bus.Subscription

	mu        sync.Mutex
	ended     bool
	startTime time.Time
	sum       *summary.Summary
	orch      *orchestrator.Orchestrator
	perf      *monitor.PerformancePublisher

	inputMu sync.RWMutex
	input   input.Service

	hbMu   sync.Mutex
	hbStop chan struct{}
	hbDone chan struct{}

	serviceConfig atomic.Pointer[ServiceConfiguration]
}

func newController(app featureset.App, opts Options) (*controller, error) {
	if opts.Context == nil || opts.Features == nil || opts.Bus == nil {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "NewSession", "context, features and bus are required", nil)
	}
	if app == featureset.AppDownlink && opts.InputType.Name == "" && opts.Context.Connection.InputType != "" {
		it, err := input.ParseInputType(opts.Context.Connection.InputType)
		if err != nil {
			return nil, errors.New(errors.ErrCodeConfigInvalid, "NewSession", "input type", err)
		}
		opts.InputType = it
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = consts.DefaultHeartbeatInterval
	}
	if opts.SummaryInterval <= 0 {
		opts.SummaryInterval = consts.DefaultSummaryInterval
	}
	if opts.ShutdownSummaryInterval <= 0 {
		opts.ShutdownSummaryInterval = consts.DefaultShutdownSummaryInterval
	}
	if opts.Console == nil {
		opts.Console = os.Stdout
	}

	c := &controller{
		opts:  opts,
		app:   app,
		log:   logger.Component("session").With("app", string(app), "session", opts.Context.Number),
		state: fsm.New(sst(consts.SessionNotStarted)),
		ended: true,
	}
	c.state.AddTransition(sst(consts.SessionNotStarted), sst(consts.SessionStarting), evStart, nil)
	c.state.AddTransition(sst(consts.SessionStarting), sst(consts.SessionRunning), evRun, nil)
	c.state.AddTransitionFromAll([]fsm.State{sst(consts.SessionStarting), sst(consts.SessionRunning)},
		sst(consts.SessionEnding), evEnd, nil)
	c.state.AddTransition(sst(consts.SessionEnding), sst(consts.SessionEnded), evEnded, nil)
	c.state.Observe(func(_, to fsm.State, _ fsm.Event) {
		monitor.SetSessionState(string(app), string(to), allStates)
	})
	monitor.SetSessionState(string(app), string(consts.SessionNotStarted), allStates)

	sub, err := opts.Bus.Subscribe(bus.EndOfData, func(m bus.Message) {
		// End of data for another session on a shared bus.
		if m.ContextKey != 0 && m.ContextKey != opts.Context.Number {
			return
		}
		monitor.EndOfDataReceived.Inc()
		c.eod.Set()
	})
	if err != nil {
		return nil, errors.New(errors.ErrCodeMessageBus, "NewSession", "subscribing to end of data", err)
	}
	c.eodSub = sub
	return c, nil
}

// State is the current lifecycle state.
func (c *controller) State() consts.SessionState { return consts.SessionState(c.state.Current()) }

// FullName is the session's display name.
func (c *controller) FullName() string { return c.opts.Context.FullName() }

func (c *controller) IsSessionEnded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

// SetServiceConfiguration sets the configuration carried by later start
// of session and heartbeat messages.
func (c *controller) SetServiceConfiguration(cfg ServiceConfiguration) {
	c.serviceConfig.Store(&cfg)
}

func (c *controller) serviceConfiguration() ServiceConfiguration {
	if p := c.serviceConfig.Load(); p != nil {
		return *p
	}
	return nil
}

func (c *controller) rawInput() input.Service {
	c.inputMu.RLock()
	defer c.inputMu.RUnlock()
	return c.input
}

func (c *controller) orchestratorOptions() orchestrator.Options {
	return orchestrator.Options{
		App:             c.app,
		Features:        c.opts.Features,
		Context:         c.opts.Context,
		Bus:             c.opts.Bus,
		Eha:             c.opts.Eha,
		Registry:        c.opts.Registry,
		Dictionaries:    c.opts.Dictionaries,
		Clock:           c.opts.Clock,
		Performance:     c.opts.Performance,
		SummaryInterval: c.opts.SummaryInterval,
		InputType:       c.opts.InputType,
		NewInput:        c.opts.NewInput,
		MeterInterval:   c.opts.MeterInterval,
		RemoteDb:        c.opts.RemoteDb,
	}
}

// StartSession builds and initializes the feature managers, then
// announces the session and starts the heartbeat. A failed start tears
// the managers down and stops the performance publisher before
// returning the error; EndSession must still be called to finish the
// shutdown.
func (c *controller) StartSession() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.state.Fire(evStart); err != nil {
		return errors.New(errors.ErrCodeSessionStart, "StartSession", "session already started", err)
	}
	c.ended = false

	c.orch = orchestrator.New(c.orchestratorOptions())
	err := c.orch.Start()
	c.perf = c.orch.Performance()
	if err != nil {
		c.log.Error("There was an error initializing the session", "err", err)
		c.shutdownSession(nil)
		c.stopPerformancePublisher()
		return errors.New(errors.ErrCodeSessionStart, "StartSession", "initializing session", err)
	}
	c.inputMu.Lock()
	c.input = c.orch.Input()
	c.inputMu.Unlock()

	c.setupSummary()
	c.startTime = c.sendStartOfSession()

	if path, err := protocol.WriteContext(c.opts.Context); err != nil {
		c.log.Warn("Session context not written", "err", err)
	} else {
		c.log.Debug("Session context written", "path", path)
	}

	c.startHeartbeat(c.opts.HeartbeatInterval)

	_ = c.orch.MarkRunning()
	_ = c.state.Fire(evRun)
	monitor.SessionsStarted.WithLabelValues(string(c.app)).Inc()
	return nil
}

func (c *controller) setupSummary() {
	if c.sum == nil {
		c.sum = summary.New(c.opts.Context.FullName(), c.opts.Context.OutputDir)
	}
}

// summaryLocked refreshes the basic fields from the context.
func (c *controller) summaryLocked() *summary.Summary {
	ctx := c.opts.Context
	if c.sum == nil {
		c.sum = summary.New(ctx.FullName(), ctx.OutputDir)
	}
	c.sum.PopulateBasic(ctx.StartTime, ctx.EndTime, ctx.FullName(), ctx.OutputDir, ctx.Number)
	return c.sum
}

// Summary returns the session summary with its basic fields refreshed.
// It is complete only after EndSession.
func (c *controller) Summary() *summary.Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summaryLocked()
}

// shutdownSession stops, summarizes and clears every manager in the
// order they were started.
func (c *controller) shutdownSession(s *summary.Summary) {
	if c.orch != nil {
		c.orch.Shutdown(s)
	}
}

func vcidText(v *int) string {
	if v == nil {
		return "NOT APPLICABLE"
	}
	return fmt.Sprint(*v)
}

func (c *controller) sendStartOfSession() time.Time {
	ctx := c.opts.Context
	if ctx.StartTime.IsZero() {
		ctx.StartTime = time.Now().UTC()
	}
	body := map[string]any{
		"key":          ctx.Key,
		"name":         ctx.Name,
		"full_name":    ctx.FullName(),
		"host":         ctx.Host,
		"scid":         ctx.SpacecraftID,
		"venue":        ctx.Venue,
		"dss_id":       ctx.DssID,
		"vcid":         vcidText(ctx.Vcid),
		"start_time":   ctx.StartTime,
		"sse":          ctx.Sse,
		"input_type":   ctx.Connection.InputType,
		"service_conf": map[string]string(c.serviceConfiguration()),
	}
	c.log.Info("Start of Session", "key", ctx.Number, "pid", os.Getpid(), "dss_id", ctx.DssID,
		"vcid", vcidText(ctx.Vcid), "start", ctx.StartTime, "full_name", ctx.FullName())
	if err := c.opts.Bus.Publish(bus.NewMessage(bus.StartOfSession, ctx.Number, body)); err != nil {
		c.log.Warn("Start of session message not published", "err", err)
	}
	return ctx.StartTime
}

func (c *controller) sendEndOfSession(start, end time.Time) {
	ctx := c.opts.Context
	counts := map[string]int64{}
	if c.sum != nil {
		counts = c.sum.Counts()
	}
	msg := bus.NewMessage(bus.EndOfSession, ctx.Number, map[string]any{
		"key":        ctx.Key,
		"full_name":  ctx.FullName(),
		"start_time": start,
		"end_time":   end,
		"summary":    counts,
	})
	if err := c.opts.Bus.Publish(msg); err != nil {
		c.log.Warn("End of session message not published", "err", err)
		return
	}
	c.log.Info("End of Session", "key", ctx.Number, "start", start, "end", end, "full_name", ctx.FullName())
}

// publishLog logs msg and publishes it as a Log message.
func (c *controller) publishLog(kind, msg string) {
	c.log.Info(msg, "type", kind)
	m := bus.NewMessage(bus.Log, c.opts.Context.Number, map[string]any{
		"severity": "INFO",
		"type":     kind,
		"message":  msg,
	})
	if err := c.opts.Bus.Publish(m); err != nil {
		c.log.Warn("Log message not published", "err", err)
	}
}

// startHeartbeat starts the heartbeat unless this is an SSE instance
// embedded in an integrated session whose flight downlink already
// sends one.
func (c *controller) startHeartbeat(interval time.Duration) {
	ctx := c.opts.Context
	if ctx.Sse && !ctx.Standalone && ctx.FswDownlinkEnabled {
		c.log.Debug("Session heartbeat left to the flight downlink")
		return
	}

	c.hbMu.Lock()
	defer c.hbMu.Unlock()
	if c.hbStop != nil {
		return
	}
	c.log.Info("Starting session heartbeat", "interval", interval)
	stop := make(chan struct{})
	done := make(chan struct{})
	c.hbStop, c.hbDone = stop, done

	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				c.sendHeartbeat()
			}
		}
	}()
}

func (c *controller) sendHeartbeat() {
	ctx := c.opts.Context
	msg := bus.NewMessage(bus.SessionHeartbeat, ctx.Number, map[string]any{
		"name":         ctx.Name,
		"full_name":    ctx.FullName(),
		"service_conf": map[string]string(c.serviceConfiguration()),
	})
	if err := c.opts.Bus.Publish(msg); err != nil {
		c.log.Warn("Heartbeat not published", "err", err)
		return
	}
	monitor.HeartbeatsSent.Inc()
}

// HeartbeatRunning reports whether the heartbeat timer is active.
func (c *controller) HeartbeatRunning() bool {
	c.hbMu.Lock()
	defer c.hbMu.Unlock()
	return c.hbStop != nil
}

// StopHeartbeat cancels the heartbeat timer. EndSession leaves the
// heartbeat running so monitors keep seeing the session until exit.
func (c *controller) StopHeartbeat() {
	c.hbMu.Lock()
	stop, done := c.hbStop, c.hbDone
	c.hbStop, c.hbDone = nil, nil
	c.hbMu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
	c.log.Debug("Session heartbeat stopped")
}

func (c *controller) stopPerformancePublisher() {
	if c.perf != nil {
		c.perf.Stop()
		c.perf = nil
	}
}

func (c *controller) stopPeripheralDatabases() {
	if c.opts.Archive != nil {
		c.opts.Archive.StopPeripheralStores()
	}
}

func (c *controller) stopDatabase() {
	if c.opts.Archive != nil {
		c.opts.Archive.ShutDown()
	}
}

// startStores initializes the archive and starts the given stores, or
// every store when ids is empty.
func (c *controller) startStores(ids ...archive.StoreID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opts.UseDatabase {
		c.log.Debug("Skipping database startup")
		return nil
	}
	a := c.opts.Archive
	if a == nil {
		return errors.New(errors.ErrCodeArchive, "StartSessionDatabase", "no archive controller", nil)
	}
	if err := a.Init(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return a.StartAllStores()
	}
	return a.StartStores(ids...)
}

// guard runs fn and converts a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// finishEnd marks the session ended whatever the shutdown outcome.
func (c *controller) finishEnd(ok bool) {
	c.ended = true
	c.eod.Set()
	_ = c.state.Fire(evEnded)
	if c.eodSub != nil {
		c.eodSub.Unsubscribe()
	}
	outcome := "ok"
	if !ok {
		outcome = "anomaly"
	}
	monitor.SessionsEnded.WithLabelValues(string(c.app), outcome).Inc()
}

// SuspectChannelService is nil unless the EHA manager was started.
func (c *controller) SuspectChannelService() *feature.SuspectChannelService {
	if eha := c.eha(); eha != nil {
		return eha.SuspectChannelService()
	}
	return nil
}

// AlarmNotifier is nil unless the EHA manager was started.
func (c *controller) AlarmNotifier() *feature.AlarmNotifier {
	if eha := c.eha(); eha != nil {
		return eha.AlarmNotifier()
	}
	return nil
}

func (c *controller) eha() *feature.Eha {
	c.mu.Lock()
	o := c.orch
	c.mu.Unlock()
	if o == nil {
		return nil
	}
	return o.Eha()
}

// Managers returns the session's ordered feature managers.
func (c *controller) Managers() []feature.Manager {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.orch == nil {
		return nil
	}
	return c.orch.Managers()
}

// Personal.AI order the ending
