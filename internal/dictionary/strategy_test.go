package dictionary

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	terrors "github.com/turtacn/telemos/pkg/errors"
)

type recordingLoader struct {
	loaded []Kind
	fail   map[Kind]bool
}

func (r *recordingLoader) Load(k Kind, sse bool) error {
	if r.fail[k] {
		return errors.New("missing " + string(k))
	}
	r.loaded = append(r.loaded, k)
	return nil
}

func TestSseStrategy_IgnoresFlightOnlyKinds(t *testing.T) {
	l := &recordingLoader{}
	s := NewSse(l).EnableApid().SetHeader(true).SetEvr(true).SetChannel(false).
		SetCommand(true).SetMonitor(true).SetProduct(true).SetFrame(true)

	assert.Equal(t, []Kind{Apid, Evr, Header}, s.Enabled())
	require.NoError(t, s.LoadAllEnabled())
	assert.True(t, s.Loaded(Evr))
	assert.False(t, s.Loaded(Frame))
	assert.True(t, s.IsSse())
}

func TestFlightStrategy_EnablesAllKinds(t *testing.T) {
	l := &recordingLoader{}
	s := NewFlight(l).EnableApid().SetFrame(true).SetHeader(true).SetEvr(true).
		SetCommand(true).SetSequence(true).SetChannel(true).SetAlarm(true).
		SetDecom(true).SetMonitor(true).SetProduct(true)

	require.NoError(t, s.LoadAllEnabled())
	assert.Len(t, l.loaded, len(flightKinds))
	assert.True(t, s.Loaded(Monitor))
}

func TestLoadAllEnabled_FailureIsCoded(t *testing.T) {
	l := &recordingLoader{fail: map[Kind]bool{Alarm: true}}
	s := NewFlight(l).EnableApid().SetAlarm(true).SetEvr(true)

	err := s.LoadAllEnabled()
	require.Error(t, err)
	assert.True(t, terrors.HasCode(err, terrors.ErrCodeDictionaryLoad))
	assert.False(t, s.Loaded(Alarm))
	assert.True(t, s.Loaded(Evr), "other kinds are still attempted")
}

func TestFileLoader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "frame.xml"), []byte("<frames/>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sse"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sse", "evr.xml"), []byte("<evrs/>"), 0o644))

	l := FileLoader{Dir: dir}
	assert.NoError(t, l.Load(Frame, false))
	assert.Error(t, l.Load(Frame, true))
	assert.NoError(t, l.Load(Evr, true))
	assert.Error(t, l.Load(Evr, false))
}

func TestRequire_LoadsLazily(t *testing.T) {
	l := &recordingLoader{fail: map[Kind]bool{Product: true}}
	s := NewSse(l)

	require.NoError(t, s.Require(Frame))
	assert.True(t, s.Loaded(Frame))
	require.NoError(t, s.Require(Frame))
	assert.Equal(t, []Kind{Frame}, l.loaded, "second Require must not reload")

	err := s.Require(Product)
	require.Error(t, err)
	assert.True(t, terrors.HasCode(err, terrors.ErrCodeDictionaryLoad))
}
