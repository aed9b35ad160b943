package archive

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/telemos/internal/bus"
	"github.com/turtacn/telemos/internal/summary"
	"github.com/turtacn/telemos/pkg/errors"
	"github.com/turtacn/telemos/pkg/protocol"
)

func newArchive(t *testing.T) (*SQLite, *bus.Memory, *protocol.ContextConfig) {
	t.Helper()
	b := bus.NewMemory()
	t.Cleanup(func() { b.Close() })
	vcid := 3
	ctx := &protocol.ContextConfig{
		Key: "k-1", Number: 9, Name: "pass", Host: "gds1", User: "ops", SpacecraftID: 76,
		Vcid: &vcid, OutputDir: t.TempDir(), StartTime: time.Now().Add(-time.Minute),
	}
	a := NewSQLite(filepath.Join(t.TempDir(), "archive.db"), b, ctx)
	t.Cleanup(a.ShutDown)
	return a, b, ctx
}

func TestSQLite_Lifecycle(t *testing.T) {
	a, b, ctx := newArchive(t)
	require.NoError(t, a.Init())
	require.NoError(t, a.Init())
	require.NoError(t, a.StartAllStores())
	assert.Len(t, a.Running(), len(AllStores(false))-1)

	require.NoError(t, b.Publish(bus.NewMessage(bus.Log, ctx.Number, map[string]any{"msg": "hello"})))
	require.NoError(t, b.Publish(bus.NewMessage(bus.Evr, ctx.Number, nil)))
	require.NoError(t, b.Publish(bus.NewMessage(bus.Evr, ctx.Number, nil)))
	require.NoError(t, b.ClearAllQueuedMessages())

	n, err := a.CountRecords(StoreLogMessage)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = a.CountRecords(StoreEvr)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	a.StopPeripheralStores()
	assert.Empty(t, a.Running())
	require.NoError(t, b.Publish(bus.NewMessage(bus.Evr, ctx.Number, nil)))
	require.NoError(t, b.ClearAllQueuedMessages())
	n, err = a.CountRecords(StoreEvr)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "stopped store must not record")

	s := summary.New(ctx.FullName(), ctx.OutputDir)
	s.Set(summary.Evrs, 2)
	ctx.EndTime = time.Now()
	require.NoError(t, a.UpdateSessionEndTime(ctx, s))

	end, counts, err := a.SessionEndTime(ctx.Number)
	require.NoError(t, err)
	assert.NotEmpty(t, end)
	var decoded map[string]int64
	require.NoError(t, json.Unmarshal([]byte(counts), &decoded))
	assert.Equal(t, int64(2), decoded[summary.Evrs])

	a.ShutDown()
	a.ShutDown()
	_, err = a.CountRecords(StoreEvr)
	assert.True(t, errors.HasCode(err, errors.ErrCodeArchive))
}

func TestSQLite_StartStoresSubset(t *testing.T) {
	a, _, _ := newArchive(t)
	require.NoError(t, a.Init())
	require.NoError(t, a.StartStores(ProcessStores(true)...))
	assert.ElementsMatch(t, []StoreID{StoreProduct, StoreHeaderChannelAggregate, StoreMonitorChannelAggregate,
		StoreSseChannelAggregate, StoreSseEvr}, a.Running())

	err := a.StartStores("Bogus")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeArchive))
}

func TestSQLite_RequiresInit(t *testing.T) {
	a, _, _ := newArchive(t)
	err := a.StartAllStores()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeArchive))
}

func TestSQLite_InitFailsOnBadPath(t *testing.T) {
	a := NewSQLite(filepath.Join(t.TempDir(), "missing", "dir", "archive.db"), nil, &protocol.ContextConfig{})
	a.OpenTimeout = 200 * time.Millisecond
	err := a.Init()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeArchive))
}
