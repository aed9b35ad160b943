package input

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/telemos/internal/bus"
	"github.com/turtacn/telemos/pkg/errors"
	"github.com/turtacn/telemos/pkg/protocol"
)

func rawTF(t *testing.T) TelemetryInputType {
	t.Helper()
	it, err := ParseInputType("raw_tf")
	require.NoError(t, err)
	return it
}

type eodRecorder struct {
	count atomic.Int32
	ch    chan struct{}
	once  sync.Once
}

func recordEOD(t *testing.T, b bus.Bus) *eodRecorder {
	t.Helper()
	r := &eodRecorder{ch: make(chan struct{})}
	_, err := b.Subscribe(bus.EndOfData, func(bus.Message) {
		r.count.Add(1)
		r.once.Do(func() { close(r.ch) })
	})
	require.NoError(t, err)
	return r
}

func (r *eodRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.ch:
	case <-time.After(5 * time.Second):
		t.Fatal("EndOfData not published")
	}
}

func TestParseInputType(t *testing.T) {
	it, err := ParseInputType(" sfdu_tf ")
	require.NoError(t, err)
	assert.True(t, it.HasFrames)
	assert.False(t, it.NeedsFrameSync)
	assert.True(t, it.HasSfdus)

	pkt, err := ParseInputType("RAW_PKT")
	require.NoError(t, err)
	assert.False(t, pkt.HasFrames)
	assert.False(t, pkt.NeedsPacketExtract)

	_, err = ParseInputType("CARRIER_PIGEON")
	assert.Error(t, err)
}

func TestStreamService_FileReadsToEndOfData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frames.bin")
	payload := make([]byte, 10_000)
	require.NoError(t, os.WriteFile(path, payload, 0o644))

	b := bus.NewMemory()
	defer b.Close()
	eod := recordEOD(t, b)

	var raw atomic.Int64
	_, err := b.Subscribe(bus.RawData, func(m bus.Message) {
		raw.Add(int64(m.Body["bytes"].(int)))
	})
	require.NoError(t, err)

	s := NewStreamService(protocol.ConnectionConfig{Type: ConnFile, File: path}, rawTF(t), b, 7, StreamOptions{ChunkSize: 1024})
	require.True(t, s.StartService())
	require.True(t, s.Connect())
	require.NoError(t, s.StartReading())

	eod.wait(t)
	require.NoError(t, s.StopReading())
	require.NoError(t, b.ClearAllQueuedMessages())

	assert.Equal(t, int64(len(payload)), s.BytesRead())
	assert.Equal(t, int64(len(payload)), raw.Load())

	s.StopService()
	require.NoError(t, b.ClearAllQueuedMessages())
	assert.Equal(t, int32(1), eod.count.Load(), "end of data is published once")
}

func TestStreamService_MissingFile(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()

	s := NewStreamService(protocol.ConnectionConfig{Type: ConnFile, File: "/no/such/file"}, rawTF(t), b, 0, StreamOptions{})
	assert.False(t, s.StartService())
	assert.False(t, s.Connect(), "connect requires a started service")
}

func TestStreamService_StartReadingRequiresConnect(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()

	s := NewStreamService(protocol.ConnectionConfig{Type: ConnClientSocket, Host: "127.0.0.1", Port: 1}, rawTF(t), b, 0, StreamOptions{})
	err := s.StartReading()
	require.Error(t, err)
	assert.True(t, errors.IsRawInput(err))

	err = s.ClearInputStreamBuffer()
	assert.True(t, errors.IsRawInput(err))
}

func TestStreamService_ClientSocketStopUnblocksRead(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := l.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	host, port, _ := net.SplitHostPort(l.Addr().String())
	p, _ := strconv.Atoi(port)

	b := bus.NewMemory()
	defer b.Close()
	eod := recordEOD(t, b)

	s := NewStreamService(protocol.ConnectionConfig{Type: ConnClientSocket, Host: host, Port: p}, rawTF(t), b, 0, StreamOptions{})
	require.True(t, s.StartService())
	require.True(t, s.Connect())
	require.NoError(t, s.StartReading())

	server := <-accepted
	defer server.Close()
	_, err = server.Write([]byte("abcdef"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return s.BytesRead() == 6 }, 2*time.Second, 10*time.Millisecond)

	// The peer stays open; stopping must still end the loop.
	assert.NoError(t, s.StopReading())
	eod.wait(t)
}

func TestStreamService_ServerSocketAcceptsClient(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()
	eod := recordEOD(t, b)

	sockets := NewSocketManager()
	l, err := sockets.EnsureListener("127.0.0.1:0")
	require.NoError(t, err)
	_, port, _ := net.SplitHostPort(l.Addr().String())
	p, _ := strconv.Atoi(port)

	s := NewStreamService(protocol.ConnectionConfig{Type: ConnServerSocket, Host: "127.0.0.1", Port: p}, rawTF(t), b, 0, StreamOptions{Sockets: sockets})
	require.True(t, s.StartService())

	go func() {
		c, err := net.Dial("tcp", l.Addr().String())
		if err != nil {
			return
		}
		c.Write([]byte("0123456789"))
		c.Close()
	}()

	require.True(t, s.Connect())
	require.NoError(t, s.StartReading())
	eod.wait(t)
	assert.NoError(t, s.StopReading())
	assert.Equal(t, int64(10), s.BytesRead())
	assert.Equal(t, []string{l.Addr().String()}, s.ListenAddrs())

	s.StopService()
	assert.Empty(t, s.ListenAddrs())
}

func TestStreamService_PauseHoldsReading(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pkts.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0o644))

	b := bus.NewMemory()
	defer b.Close()
	eod := recordEOD(t, b)

	pkt, err := ParseInputType("RAW_PKT")
	require.NoError(t, err)
	s := NewStreamService(protocol.ConnectionConfig{Type: ConnFile, File: path}, pkt, b, 0, StreamOptions{ChunkSize: 16})
	require.True(t, s.StartService())
	require.True(t, s.Connect())

	s.Pause()
	require.NoError(t, s.StartReading())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), s.BytesRead(), "paused service must not read")

	s.Resume()
	eod.wait(t)
	assert.Equal(t, int64(4096), s.BytesRead())
	assert.NoError(t, s.StopReading())
}

func TestRemoteDbFlag(t *testing.T) {
	var f RemoteDbFlag
	assert.False(t, f.IsRemoteDbEnabled())
	f.SetRemoteDbEnabled(true)
	assert.True(t, f.IsRemoteDbEnabled())
}
