package feature

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/telemos/internal/bus"
	"github.com/turtacn/telemos/internal/dictionary"
	"github.com/turtacn/telemos/internal/summary"
	"github.com/turtacn/telemos/pkg/errors"
)

func newEnv(t *testing.T) *Env {
	t.Helper()
	b := bus.NewMemory()
	t.Cleanup(func() { b.Close() })
	return &Env{Bus: b, ContextKey: 42}
}

func TestHeaderChannelization_EnabledIsOrOfSubFlags(t *testing.T) {
	for mask := 0; mask < 8; mask++ {
		h := NewHeaderChannelization()
		frame, packet, sfdu := mask&1 != 0, mask&2 != 0, mask&4 != 0
		h.SetFrameHeaderChannelizer(frame)
		h.SetPacketHeaderChannelizer(packet)
		h.SetSfduHeaderChannelizer(sfdu)
		assert.Equal(t, frame || packet || sfdu, h.IsEnabled(), "mask %03b", mask)
	}

	h := NewHeaderChannelization()
	h.Enable(true)
	f, p, s := h.SubFlags()
	assert.True(t, f && p && s)
	h.Enable(false)
	assert.False(t, h.IsEnabled())
}

func TestFrame_TrackingOnly(t *testing.T) {
	f := NewFrame()
	f.SetFrameSyncEnabled(false)
	f.SetFrameTrackingEnabled(true)
	assert.True(t, f.IsEnabled())
	assert.False(t, f.IsFrameSyncEnabled())

	f.SetFrameTrackingEnabled(false)
	assert.False(t, f.IsEnabled())
}

func TestManager_CountsAndSummary(t *testing.T) {
	env := newEnv(t)
	p := NewPacket()
	p.SetPacketTrackingEnabled(true)
	require.NoError(t, p.Init(env))

	for i := 0; i < 3; i++ {
		require.NoError(t, env.Bus.Publish(bus.NewMessage(bus.TelemetryPacket, 42, nil)))
	}
	require.NoError(t, env.Bus.ClearAllQueuedMessages())
	assert.Equal(t, int64(3), p.Count(bus.TelemetryPacket))

	p.StopAllServices()
	p.StopAllServices()
	require.NoError(t, env.Bus.Publish(bus.NewMessage(bus.TelemetryPacket, 42, nil)))
	require.NoError(t, env.Bus.ClearAllQueuedMessages())
	assert.Equal(t, int64(3), p.Count(bus.TelemetryPacket), "stopped manager must not count")

	s := summary.New("test", t.TempDir())
	p.PopulateSummary(s)
	assert.Equal(t, int64(3), s.Get(summary.Packets))

	p.ClearAllServices()
	p.ClearAllServices()
	assert.Equal(t, int64(0), p.Count(bus.TelemetryPacket))
}

func TestManager_DisabledIsNoop(t *testing.T) {
	env := newEnv(t)
	e := NewEvr()
	require.NoError(t, e.Init(env))
	assert.False(t, e.Started())

	s := summary.New("test", "")
	e.PopulateSummary(s)
	assert.Empty(t, s.Counts())
	e.StopAllServices()
	e.ClearAllServices()
}

func TestManager_InitWithoutBus(t *testing.T) {
	e := NewEvr()
	e.Enable(true)
	err := e.Init(&Env{})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeFeatureInit))
}

type alarmLoader struct{}

func (alarmLoader) Load(dictionary.Kind, bool) error { return nil }

func TestEha_ServicesAndLad(t *testing.T) {
	env := newEnv(t)
	e := NewEha()
	assert.Nil(t, e.SuspectChannelService())
	assert.Nil(t, e.AlarmNotifier())

	e.Enable(true)
	e.EnableAlarmProcessing(true)
	strategy := dictionary.NewFlight(alarmLoader{}).SetAlarm(true)
	require.NoError(t, strategy.LoadAllEnabled())
	env.Dictionaries = strategy
	require.NoError(t, e.Init(env))

	alarms := make(chan bus.Message, 1)
	e.AlarmNotifier().AddListener(func(m bus.Message) { alarms <- m })

	require.NoError(t, env.Bus.Publish(bus.NewMessage(bus.EhaChannel, 42, map[string]any{"channel": "A-0001", "value": 7, "suspect": true})))
	require.NoError(t, env.Bus.Publish(bus.NewMessage(bus.Alarm, 42, map[string]any{"channel": "A-0001"})))
	require.NoError(t, env.Bus.ClearAllQueuedMessages())

	select {
	case <-alarms:
	case <-time.After(time.Second):
		t.Fatal("alarm listener not called")
	}
	v, ok := e.Lad("A-0001")
	require.True(t, ok)
	assert.Equal(t, 7, v)
	assert.True(t, e.SuspectChannelService().IsSuspect("A-0001"))
	assert.Equal(t, int64(1), e.AlarmNotifier().Notified())

	e.StopAllServices()
	s := summary.New("test", "")
	e.PopulateSummary(s)
	assert.Equal(t, int64(1), s.Get(summary.EhaChannels))
	assert.Equal(t, int64(1), s.Get(summary.Alarms))

	e.ClearAllServices()
	assert.Equal(t, 0, e.LadSize())
	assert.NotNil(t, e.SuspectChannelService(), "services stay queryable after clear")
}

func TestEha_AlarmsNeedDictionary(t *testing.T) {
	env := newEnv(t)
	env.Dictionaries = dictionary.NewFlight(alarmLoader{})
	e := NewEha()
	e.Enable(true)
	e.EnableAlarmProcessing(true)
	err := e.Init(env)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeFeatureInit))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{DsnMonitorChannelizationName, NenStatusDecomName, RecordedEngineeringName}, r.Names())

	m, err := r.Resolve(NenStatusDecomName)
	require.NoError(t, err)
	mon, ok := m.(MonitorDictionaryUser)
	require.True(t, ok)
	assert.True(t, mon.NeedsMonitorDictionary())

	m, err = r.Resolve(RecordedEngineeringName)
	require.NoError(t, err)
	_, gated := m.(ProductGated)
	assert.True(t, gated)

	_, err = r.Resolve("NoSuchManager")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeUnknownFeature))

	r.Register("Broken", func() (Manager, error) { return nil, assert.AnError })
	_, err = r.Resolve("Broken")
	assert.True(t, errors.HasCode(err, errors.ErrCodeUnknownFeature))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestEha_ReusedAcrossSessions(t *testing.T) {
	e := NewEha()
	e.Enable(true)

	first := newEnv(t)
	require.NoError(t, e.Init(first))
	require.NoError(t, first.Bus.Publish(bus.NewMessage(bus.EhaChannel, 42, map[string]any{"channel": "A-0001", "value": 1})))
	require.NoError(t, first.Bus.ClearAllQueuedMessages())
	e.StopAllServices()
	e.PopulateSummary(summary.New("first", ""))
	e.ClearAllServices()
	assert.False(t, e.Started())

	second := newEnv(t)
	require.NoError(t, e.Init(second))
	assert.True(t, e.Started())
	require.NoError(t, second.Bus.Publish(bus.NewMessage(bus.EhaChannel, 42, map[string]any{"channel": "B-0002", "value": 2})))
	require.NoError(t, second.Bus.ClearAllQueuedMessages())

	assert.Equal(t, int64(1), e.Count(bus.EhaChannel))
	v, ok := e.Lad("B-0002")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	s := summary.New("second", "")
	e.StopAllServices()
	e.PopulateSummary(s)
	assert.Equal(t, int64(1), s.Get(summary.EhaChannels))
}
