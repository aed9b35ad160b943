package feature

import (
	"fmt"
	"sort"
	"sync"

	"github.com/turtacn/telemos/internal/bus"
	"github.com/turtacn/telemos/internal/dictionary"
	"github.com/turtacn/telemos/internal/summary"
	"github.com/turtacn/telemos/pkg/errors"
)

// SuspectChannelService tracks channels flagged as unreliable.
type SuspectChannelService struct {
	mu       sync.RWMutex
	channels map[string]struct{}
}

func newSuspectChannelService() *SuspectChannelService {
	return &SuspectChannelService{channels: make(map[string]struct{})}
}

func (s *SuspectChannelService) MarkSuspect(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[id] = struct{}{}
}

func (s *SuspectChannelService) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, id)
}

func (s *SuspectChannelService) IsSuspect(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.channels[id]
	return ok
}

// Channels returns the suspect channel ids, sorted.
func (s *SuspectChannelService) Channels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.channels))
	for id := range s.channels {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// AlarmListener is called for every alarm message.
type AlarmListener func(bus.Message)

// AlarmNotifier fans alarm messages out to registered listeners.
type AlarmNotifier struct {
	mu        sync.RWMutex
	listeners []AlarmListener
	notified  int64
}

func (a *AlarmNotifier) AddListener(l AlarmListener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, l)
}

func (a *AlarmNotifier) notify(m bus.Message) {
	a.mu.Lock()
	a.notified++
	ls := append([]AlarmListener(nil), a.listeners...)
	a.mu.Unlock()
	for _, l := range ls {
		l(m)
	}
}

// Notified is the number of alarms delivered so far.
func (a *AlarmNotifier) Notified() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.notified
}

// Eha owns channel decom, alarm processing and the channel LAD. It loads
// the alarm dictionary, so it must be initialized after every manager
// that may load channel dictionaries.
type Eha struct {
	base

	genericDecom    bool
	genericEvrDecom bool
	alarms          bool
	aggregation     bool

	lad      map[string]any
	suspects *SuspectChannelService
	notifier *AlarmNotifier
}

func NewEha() *Eha {
	e := &Eha{lad: make(map[string]any)}
	e.setup(EhaName, map[bus.Type]string{
		bus.EhaChannel: summary.EhaChannels,
		bus.Alarm:      summary.Alarms,
	})
	return e
}

func (e *Eha) EnableGenericDecom(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.genericDecom = on
}

func (e *Eha) EnableGenericEvrDecom(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.genericEvrDecom = on
}

func (e *Eha) EnableAlarmProcessing(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alarms = on
}

func (e *Eha) EnableAggregation(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aggregation = on
}

func (e *Eha) IsAlarmProcessingEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alarms
}

func (e *Eha) IsGenericDecomEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.genericDecom
}

func (e *Eha) IsGenericEvrDecomEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.genericEvrDecom
}

func (e *Eha) IsAggregationEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aggregation
}

func (e *Eha) Init(env *Env) error {
	if !e.IsEnabled() {
		return nil
	}
	if e.IsAlarmProcessingEnabled() && env != nil && env.Dictionaries != nil && !env.Dictionaries.Loaded(dictionary.Alarm) {
		return errors.New(errors.ErrCodeFeatureInit, e.name, "alarm dictionary not loaded", nil)
	}

	e.mu.Lock()
	e.suspects = newSuspectChannelService()
	e.notifier = &AlarmNotifier{}
	e.mu.Unlock()

	return e.start(env, e.handle)
}

func (e *Eha) handle(m bus.Message) {
	switch m.Type {
	case bus.EhaChannel:
		id, ok := m.Body["channel"].(string)
		if !ok {
			return
		}
		e.mu.Lock()
		e.lad[id] = m.Body["value"]
		e.mu.Unlock()
		if suspect, _ := m.Body["suspect"].(bool); suspect {
			e.SuspectChannelService().MarkSuspect(id)
		}
	case bus.Alarm:
		if n := e.AlarmNotifier(); n != nil && e.IsAlarmProcessingEnabled() {
			n.notify(m)
		}
	}
}

// Lad returns the latest value seen for a channel.
func (e *Eha) Lad(channel string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.lad[channel]
	return v, ok
}

// LadSize is the number of channels in the LAD.
func (e *Eha) LadSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.lad)
}

// SuspectChannelService is nil until the manager has been initialized.
func (e *Eha) SuspectChannelService() *SuspectChannelService {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.suspects
}

// AlarmNotifier is nil until the manager has been initialized.
func (e *Eha) AlarmNotifier() *AlarmNotifier {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.notifier
}

// ClearAllServices drops counters and the LAD. The suspect and alarm
// services stay queryable.
func (e *Eha) ClearAllServices() {
	e.base.ClearAllServices()
	e.mu.Lock()
	e.lad = make(map[string]any)
	e.mu.Unlock()
}

func (e *Eha) String() string {
	return fmt.Sprintf("%s(decom=%t generic=%t genericEvr=%t alarms=%t)",
		e.name, e.IsEnabled(), e.IsGenericDecomEnabled(), e.IsGenericEvrDecomEnabled(), e.IsAlarmProcessingEnabled())
}

// Personal.AI order the ending
