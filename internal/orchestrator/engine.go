// Package orchestrator builds the session's feature managers and drives
// the session start sequence, one FSM phase per step.
package orchestrator

import (
	"fmt"
	"os"
	"time"

	"github.com/turtacn/telemos/internal/bus"
	"github.com/turtacn/telemos/internal/dictionary"
	"github.com/turtacn/telemos/internal/feature"
	"github.com/turtacn/telemos/internal/featureset"
	"github.com/turtacn/telemos/internal/input"
	"github.com/turtacn/telemos/internal/monitor"
	"github.com/turtacn/telemos/internal/sclk"
	"github.com/turtacn/telemos/internal/summary"
	"github.com/turtacn/telemos/pkg/consts"
	"github.com/turtacn/telemos/pkg/errors"
	"github.com/turtacn/telemos/pkg/fsm"
	"github.com/turtacn/telemos/pkg/logger"
	"github.com/turtacn/telemos/pkg/protocol"
)

// InputFactory creates the raw input service for an input type.
type InputFactory func(it input.TelemetryInputType) input.Service

// Options carries everything the orchestrator needs. Eha is injected
// rather than constructed since it may outlive a single session.
type Options struct {
	App      featureset.App
	Features *featureset.FeatureSet
	Context  *protocol.ContextConfig
	Bus      bus.Bus
	Eha      *feature.Eha
	Registry *feature.Registry

	Dictionaries dictionary.Loader
	Clock        sclk.Provider

	Performance     *monitor.PerformancePublisher
	SummaryInterval time.Duration

	// Downlink only.
	InputType     input.TelemetryInputType
	NewInput      InputFactory
	MeterInterval time.Duration
	RemoteDb      *input.RemoteDbFlag
}

const (
	evConstruct     fsm.Event = "construct"
	evApplyFlags    fsm.Event = "apply_flags"
	evLoadDicts     fsm.Event = "load_dictionaries"
	evPrepareOutput fsm.Event = "prepare_output"
	evStartPerf     fsm.Event = "start_performance"
	evInitManagers  fsm.Event = "init_managers"
	evLoadClock     fsm.Event = "load_clock"
	evStartInput    fsm.Event = "start_input"
	evRun           fsm.Event = "run"
	evAbort         fsm.Event = "abort"
)

func st(p consts.StartPhase) fsm.State { return fsm.State(p) }

// Orchestrator owns the ordered feature manager list for one session.
type Orchestrator struct {
	opts Options
	fsm  *fsm.StateMachine
	log  logger.Logger

	managers   []feature.Manager
	frame      *feature.Frame
	packet     *feature.Packet
	header     *feature.HeaderChannelization
	evr        *feature.Evr
	pdu        *feature.PduExtraction
	productGen *feature.ProductGen
	timeCorr   *feature.TimeCorrelation
	eha        *feature.Eha

	monitorDict bool
	strategy    *dictionary.Strategy
	clock       *sclk.Table
	input       input.Service
}

func New(opts Options) *Orchestrator {
	if opts.Registry == nil {
		opts.Registry = feature.NewRegistry()
	}
	if opts.Eha == nil {
		opts.Eha = feature.NewEha()
	}
	if opts.SummaryInterval <= 0 {
		opts.SummaryInterval = consts.DefaultSummaryInterval
	}
	if opts.RemoteDb == nil {
		opts.RemoteDb = &input.RemoteDbFlag{}
	}
	o := &Orchestrator{
		opts: opts,
		fsm:  fsm.New(st(consts.PhaseUninitialized)),
		log:  logger.Component("orchestrator").With("app", string(opts.App)),
	}
	o.setupFSM()
	return o
}

func (o *Orchestrator) setupFSM() {
	o.fsm.AddTransition(st(consts.PhaseUninitialized), st(consts.PhaseManagersConstructed), evConstruct, o.onConstruct)
	o.fsm.AddTransition(st(consts.PhaseManagersConstructed), st(consts.PhaseFlagsApplied), evApplyFlags, o.onApplyFlags)
	o.fsm.AddTransition(st(consts.PhaseFlagsApplied), st(consts.PhaseDictionariesLoaded), evLoadDicts, o.onLoadDictionaries)
	o.fsm.AddTransition(st(consts.PhaseDictionariesLoaded), st(consts.PhaseOutputDirReady), evPrepareOutput, o.onPrepareOutput)
	o.fsm.AddTransition(st(consts.PhaseOutputDirReady), st(consts.PhasePerformanceStarted), evStartPerf, o.onStartPerformance)
	o.fsm.AddTransition(st(consts.PhasePerformanceStarted), st(consts.PhaseManagersInitialized), evInitManagers, o.onInitManagers)
	o.fsm.AddTransition(st(consts.PhaseManagersInitialized), st(consts.PhaseClockLoaded), evLoadClock, o.onLoadClock)
	o.fsm.AddTransition(st(consts.PhaseClockLoaded), st(consts.PhaseInputStarted), evStartInput, o.onStartInput)
	o.fsm.AddTransition(st(consts.PhaseInputStarted), st(consts.PhaseRunning), evRun, nil)

	o.fsm.AddTransitionFromAll([]fsm.State{
		st(consts.PhaseUninitialized),
		st(consts.PhaseManagersConstructed),
		st(consts.PhaseFlagsApplied),
		st(consts.PhaseDictionariesLoaded),
		st(consts.PhaseOutputDirReady),
		st(consts.PhasePerformanceStarted),
		st(consts.PhaseManagersInitialized),
		st(consts.PhaseClockLoaded),
		st(consts.PhaseInputStarted),
	}, st(consts.PhaseFailed), evAbort, nil)

	o.fsm.Observe(func(from, to fsm.State, ev fsm.Event) {
		o.log.Debug("Start phase", "from", from, "to", to, "event", ev)
	})
}

// Phase is the current start phase.
func (o *Orchestrator) Phase() consts.StartPhase { return consts.StartPhase(o.fsm.Current()) }

func (o *Orchestrator) step(ev fsm.Event) error {
	if err := o.fsm.Fire(ev); err != nil {
		if o.fsm.Can(evAbort) {
			_ = o.fsm.Fire(evAbort)
		}
		return err
	}
	return nil
}

// Build constructs the manager list and applies the feature flags.
func (o *Orchestrator) Build() error {
	if o.Phase() != consts.PhaseUninitialized {
		return nil
	}
	if err := o.step(evConstruct); err != nil {
		return err
	}
	return o.step(evApplyFlags)
}

// Start runs the whole start sequence up to InputStarted. The caller
// must tear the managers down with Shutdown if it fails.
func (o *Orchestrator) Start() error {
	if err := o.Build(); err != nil {
		return err
	}
	for _, ev := range []fsm.Event{evLoadDicts, evPrepareOutput, evStartPerf, evInitManagers, evLoadClock, evStartInput} {
		if err := o.step(ev); err != nil {
			return err
		}
	}
	return nil
}

// MarkRunning completes the start sequence.
func (o *Orchestrator) MarkRunning() error { return o.fsm.Fire(evRun) }

func (o *Orchestrator) isDownlink() bool { return o.opts.App != featureset.AppProcess }

func (o *Orchestrator) isSse() bool { return o.opts.Context != nil && o.opts.Context.Sse }

func (o *Orchestrator) onConstruct(fsm.Event, ...interface{}) error {
	if o.opts.Features == nil || o.opts.Context == nil || o.opts.Bus == nil {
		return errors.New(errors.ErrCodeSessionStart, "construct", "features, context and bus are required", nil)
	}
	o.header = feature.NewHeaderChannelization()
	o.evr = feature.NewEvr()
	o.pdu = feature.NewPduExtraction()
	o.packet = feature.NewPacket()
	o.productGen = feature.NewProductGen()
	o.eha = o.opts.Eha

	if o.isDownlink() {
		o.frame = feature.NewFrame()
		o.timeCorr = feature.NewTimeCorrelation()
		o.managers = []feature.Manager{o.frame, o.packet, o.header, o.evr, o.pdu, o.productGen, o.timeCorr}
	} else {
		o.managers = []feature.Manager{o.header, o.evr, o.pdu, o.packet, o.productGen}
	}
	return nil
}

func (o *Orchestrator) onApplyFlags(fsm.Event, ...interface{}) error {
	fs := o.opts.Features
	sfdus := true

	if o.isDownlink() {
		it := o.opts.InputType
		sfdus = it.HasSfdus
		if it.NeedsFrameSync && !fs.IsEnableFrameSync() {
			o.log.Warn("The input data type requires frame sync but it is not enabled in your configuration; no telemetry will be processed", "input_type", it.Name)
		}
		if it.NeedsPacketExtract && !fs.IsEnablePacketExtract() {
			o.log.Warn("The input data type requires packet extraction but it is not enabled in your configuration; no packets will be processed", "input_type", it.Name)
		}

		o.frame.SetFrameSyncEnabled(fs.IsEnableFrameSync() && it.NeedsFrameSync)
		o.frame.SetFrameTrackingEnabled(it.HasFrames)
		o.packet.SetPacketExtractEnabled(fs.IsEnablePacketExtract() && it.NeedsPacketExtract)
		o.timeCorr.Enable(fs.IsEnableTimeCorr() && it.HasFrames)
	} else {
		o.packet.SetPacketExtractEnabled(false)
	}
	o.packet.SetPacketTrackingEnabled(true)

	o.header.SetFrameHeaderChannelizer(fs.IsEnableFrameHeaderChannelizer())
	o.header.SetPacketHeaderChannelizer(fs.IsEnablePacketHeaderChannelizer())
	o.header.SetSfduHeaderChannelizer(fs.IsEnableSfduHeaderChannelizer() && sfdus)

	o.evr.Enable(fs.IsEnableEvrDecom())
	o.pdu.Enable(fs.IsEnablePduExtract())
	o.productGen.Enable(fs.IsEnableProductGen() && !o.isSse())

	o.eha.Enable(fs.IsEnablePreChannelizedDecom())
	o.eha.EnableGenericDecom(fs.IsEnableGenericChannelDecom())
	o.eha.EnableGenericEvrDecom(fs.IsEnableGenericEvrDecom())
	o.eha.EnableAlarmProcessing(fs.IsEnableAlarms())
	o.eha.EnableAggregation(!o.isDownlink() && fs.IsEnableEhaAggregation())

	o.addMiscManagers()

	// EHA loads the alarm dictionary and goes last.
	o.managers = append(o.managers, o.eha)
	if o.managers[len(o.managers)-1] != feature.Manager(o.eha) {
		return errors.New(errors.ErrCodeSessionStart, "apply_flags", "EHA manager is not last", nil)
	}
	return nil
}

func (o *Orchestrator) addMiscManagers() {
	fs := o.opts.Features
	for _, name := range fs.MiscFeatures() {
		m, err := o.opts.Registry.Resolve(name)
		if err != nil {
			o.log.Error("Feature manager could not be instantiated", "manager", name, "err", err)
			continue
		}
		if g, ok := m.(feature.ProductGated); ok && g.RequiresProductGeneration() {
			m.Enable(fs.IsEnableMiscFeatures() && o.productGen.IsEnabled())
		} else {
			m.Enable(fs.IsEnableMiscFeatures())
		}
		if u, ok := m.(feature.MonitorDictionaryUser); ok && u.NeedsMonitorDictionary() && m.IsEnabled() {
			o.monitorDict = true
		}
		o.managers = append(o.managers, m)
		o.log.Debug("Instantiated misc feature manager", "manager", name, "enabled", m.IsEnabled())
	}
}

func (o *Orchestrator) onLoadDictionaries(fsm.Event, ...interface{}) error {
	loader := o.opts.Dictionaries
	if loader == nil {
		return errors.New(errors.ErrCodeDictionaryLoad, "load_dictionaries", "no dictionary loader", nil)
	}
	eha := o.eha.IsEnabled()
	if o.isSse() {
		o.strategy = dictionary.NewSse(loader).
			EnableApid().
			SetHeader(o.header.IsEnabled()).
			SetEvr(o.evr.IsEnabled()).
			SetChannel(eha).
			SetAlarm(eha).
			SetDecom(eha)
	} else {
		frame := o.pdu.IsEnabled()
		if o.isDownlink() {
			frame = o.frame.IsEnabled()
		}
		o.strategy = dictionary.NewFlight(loader).
			EnableApid().
			SetFrame(frame).
			SetHeader(o.header.IsEnabled()).
			SetEvr(o.evr.IsEnabled()).
			SetCommand(o.evr.IsEnabled()).
			SetSequence(o.evr.IsEnabled()).
			SetChannel(eha).
			SetAlarm(eha).
			SetDecom(eha).
			SetMonitor(o.monitorDict).
			SetProduct(o.productGen.IsEnabled())
	}
	o.log.Debug("Loading dictionaries", "sse", o.isSse(), "kinds", o.strategy.Enabled())
	if err := o.strategy.LoadAllEnabled(); err != nil {
		o.log.Error("Failed to load all required dictionaries", "err", err)
		return err
	}
	return nil
}

func (o *Orchestrator) onPrepareOutput(fsm.Event, ...interface{}) error {
	dir := o.opts.Context.OutputDir
	if dir == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "prepare_output", "session output directory not set", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.New(errors.ErrCodeSessionStart, "prepare_output", "creating "+dir, err)
	}
	return nil
}

func (o *Orchestrator) onStartPerformance(fsm.Event, ...interface{}) error {
	if o.opts.Performance == nil {
		o.opts.Performance = monitor.NewPerformancePublisher(o.opts.Bus, o.opts.Context.Number)
	}
	o.opts.Performance.Start(o.opts.SummaryInterval)
	return nil
}

func (o *Orchestrator) onInitManagers(fsm.Event, ...interface{}) error {
	env := &feature.Env{
		Bus:          o.opts.Bus,
		ContextKey:   o.opts.Context.Number,
		Dictionaries: o.strategy,
		Log:          o.log,
	}
	for _, m := range o.managers {
		if err := m.Init(env); err != nil {
			monitor.FeatureInitFailures.WithLabelValues(m.Name()).Inc()
			o.log.Error("Startup of feature manager failed", "manager", m.Name(), "err", err)
			return errors.New(errors.ErrCodeFeatureInit, "init_managers", "startup of "+m.Name()+" failed", err)
		}
		o.log.Debug("Started feature manager", "manager", m.Name(), "enabled", m.IsEnabled())
	}
	return nil
}

func (o *Orchestrator) onLoadClock(fsm.Event, ...interface{}) error {
	if o.opts.Clock == nil {
		return errors.New(errors.ErrCodeClockUnavailable, "load_clock", "no SCLK/SCET provider", nil)
	}
	scid := o.opts.Context.SpacecraftID
	table, err := o.opts.Clock.Lookup(scid)
	if err != nil {
		o.log.Warn("Could not open SCLK/SCET file; loading default", "scid", scid, "err", err)
		table, err = o.opts.Clock.Lookup(consts.DefaultSclkSpacecraftID)
	}
	if err != nil {
		o.log.Error("Could not open default SCLK/SCET file", "err", err)
		return err
	}
	o.clock = table
	o.log.Debug("Loaded SCLK/SCET table", "file", table.Filename, "scid", scid)
	return nil
}

func (o *Orchestrator) onStartInput(fsm.Event, ...interface{}) error {
	if !o.isDownlink() {
		if o.pdu.IsEnabled() {
			return o.strategy.Require(dictionary.Frame)
		}
		return nil
	}

	it := o.opts.InputType
	if it.HasFrames {
		if err := o.strategy.Require(dictionary.Frame); err != nil {
			o.log.Error("Unable to start raw input because the transfer frame dictionary could not be loaded", "err", err)
			return err
		}
	}
	o.opts.RemoteDb.SetRemoteDbEnabled(o.opts.Features.IsOngoingDbMode())

	if o.opts.NewInput == nil {
		return errors.New(errors.ErrCodeSessionStart, "start_input", "no raw input factory", nil)
	}
	svc := o.opts.NewInput(it)
	if svc == nil || !svc.StartService() {
		return errors.New(errors.ErrCodeSessionStart, "start_input", fmt.Sprintf("telemetry input service for %s did not start", it.Name), nil)
	}
	svc.SetMeterInterval(o.opts.MeterInterval)
	o.input = svc
	o.log.Debug("Telemetry input service created", "input_type", it.Name, "meter_interval", o.opts.MeterInterval)
	return nil
}

// Shutdown stops every manager in list order, writes its counters to s
// when non-nil, then clears it. Safe to call after a failed start.
func (o *Orchestrator) Shutdown(s *summary.Summary) {
	for _, m := range o.managers {
		o.log.Debug("Stopping feature manager", "manager", m.Name())
		m.StopAllServices()
		if s != nil {
			m.PopulateSummary(s)
		}
		m.ClearAllServices()
	}
}

// PopulateSummary writes every manager's counters without stopping them.
func (o *Orchestrator) PopulateSummary(s *summary.Summary) {
	for _, m := range o.managers {
		m.PopulateSummary(s)
	}
}

// Managers returns the ordered manager list.
func (o *Orchestrator) Managers() []feature.Manager {
	return append([]feature.Manager(nil), o.managers...)
}

func (o *Orchestrator) Frame() *feature.Frame                      { return o.frame }
func (o *Orchestrator) Packet() *feature.Packet                    { return o.packet }
func (o *Orchestrator) Header() *feature.HeaderChannelization      { return o.header }
func (o *Orchestrator) ProductGen() *feature.ProductGen            { return o.productGen }
func (o *Orchestrator) Strategy() *dictionary.Strategy             { return o.strategy }
func (o *Orchestrator) Clock() *sclk.Table                         { return o.clock }
func (o *Orchestrator) Input() input.Service                       { return o.input }
func (o *Orchestrator) Performance() *monitor.PerformancePublisher { return o.opts.Performance }
func (o *Orchestrator) MonitorDictionaryRequested() bool           { return o.monitorDict }

// Eha returns the EHA manager once it has been added to the list.
func (o *Orchestrator) Eha() *feature.Eha {
	if o.Phase() == consts.PhaseUninitialized || len(o.managers) == 0 || o.managers[len(o.managers)-1] != feature.Manager(o.eha) {
		return nil
	}
	return o.eha
}

// Personal.AI order the ending
