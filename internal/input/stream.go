package input

import (
	"bufio"
	stderrors "errors"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/turtacn/telemos/internal/bus"
	"github.com/turtacn/telemos/internal/monitor"
	"github.com/turtacn/telemos/pkg/consts"
	"github.com/turtacn/telemos/pkg/errors"
	"github.com/turtacn/telemos/pkg/logger"
	"github.com/turtacn/telemos/pkg/protocol"
)

// StreamOptions tune a StreamService.
type StreamOptions struct {
	// ChunkSize is the read buffer size; defaults to 64 KiB.
	ChunkSize int
	// ConnectTimeout bounds CLIENT_SOCKET retries. Zero means 10s.
	ConnectTimeout time.Duration
	// Sockets shares SERVER_SOCKET listeners; one is created if nil.
	Sockets *SocketManager
}

// StreamService reads a byte stream and publishes RawData messages. When
// the stream ends, or reading is stopped, it publishes EndOfData once.
type StreamService struct {
	conn       protocol.ConnectionConfig
	inputType  TelemetryInputType
	bus        bus.Bus
	contextKey int64
	opts       StreamOptions
	log        logger.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	started  bool
	src      io.ReadCloser
	reader   *bufio.Reader
	paused   bool
	stopping bool
	reading  bool
	done     chan struct{}
	readErr  error
	meter    time.Duration

	eodSent atomic.Bool
	bytes   atomic.Int64
}

// NewStreamService builds a service for conn. The input type must have
// been validated by the caller.
func NewStreamService(conn protocol.ConnectionConfig, it TelemetryInputType, b bus.Bus, contextKey int64, opts StreamOptions) *StreamService {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = consts.DefaultReadBufferSize
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.Sockets == nil {
		opts.Sockets = NewSocketManager()
	}
	s := &StreamService{
		conn:       conn,
		inputType:  it,
		bus:        b,
		contextKey: contextKey,
		opts:       opts,
		log:        logger.Component("input").With("connection", conn.Type, "input_type", it.Name),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// StartService validates the connection settings.
func (s *StreamService) StartService() bool {
	switch s.conn.Type {
	case ConnFile:
		if _, err := os.Stat(s.conn.File); err != nil {
			s.log.Error("Input file is not readable", "file", s.conn.File, "err", err)
			return false
		}
	case ConnClientSocket:
		if s.conn.Host == "" || s.conn.Port <= 0 {
			s.log.Error("Client socket needs host and port")
			return false
		}
	case ConnServerSocket:
		if s.conn.Port < 0 {
			s.log.Error("Server socket needs a port")
			return false
		}
	default:
		s.log.Error("Unsupported connection type")
		return false
	}
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return true
}

func (s *StreamService) addr() string {
	return net.JoinHostPort(s.conn.Host, strconv.Itoa(s.conn.Port))
}

// Connect opens the source. Client sockets are retried with exponential
// backoff until ConnectTimeout elapses.
func (s *StreamService) Connect() bool {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		s.log.Error("Connect called before StartService")
		return false
	}
	if s.src != nil {
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	var src io.ReadCloser
	switch s.conn.Type {
	case ConnFile:
		f, err := os.Open(s.conn.File)
		if err != nil {
			s.log.Error("Cannot open input file", "file", s.conn.File, "err", err)
			return false
		}
		src = f
	case ConnClientSocket:
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = 50 * time.Millisecond
		policy.MaxElapsedTime = s.opts.ConnectTimeout
		var conn net.Conn
		err := backoff.RetryNotify(func() error {
			c, err := net.DialTimeout("tcp", s.addr(), s.opts.ConnectTimeout)
			if err != nil {
				return err
			}
			conn = c
			return nil
		}, policy, func(err error, wait time.Duration) {
			s.log.Warn("Telemetry source not reachable yet", "addr", s.addr(), "retry_in", wait, "err", err)
		})
		if err != nil {
			s.log.Error("Cannot connect to telemetry source", "addr", s.addr(), "err", err)
			return false
		}
		src = conn
	case ConnServerSocket:
		l, err := s.opts.Sockets.EnsureListener(s.addr())
		if err != nil {
			s.log.Error("Cannot listen for telemetry", "addr", s.addr(), "err", err)
			return false
		}
		s.log.Info("Waiting for telemetry client", "addr", l.Addr().String())
		conn, err := l.Accept()
		if err != nil {
			s.log.Error("Accept failed", "err", err)
			return false
		}
		src = conn
	default:
		return false
	}

	s.mu.Lock()
	s.src = src
	s.reader = bufio.NewReaderSize(src, s.opts.ChunkSize)
	s.mu.Unlock()
	s.log.Info("Telemetry input connected")
	return true
}

// ListenAddrs returns the bound SERVER_SOCKET addresses.
func (s *StreamService) ListenAddrs() []string {
	return s.opts.Sockets.Addrs()
}

// StartReading launches the read loop.
func (s *StreamService) StartReading() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == nil {
		return errors.New(errors.ErrCodeRawInput, "StartReading", "input not connected", nil)
	}
	if s.reading {
		return nil
	}
	s.reading = true
	s.stopping = false
	s.done = make(chan struct{})
	go s.readLoop(s.reader, s.done)
	return nil
}

func (s *StreamService) readLoop(r *bufio.Reader, done chan struct{}) {
	defer close(done)
	defer s.sendEndOfData()

	buf := make([]byte, s.opts.ChunkSize)
	for {
		s.mu.Lock()
		for s.paused && !s.stopping {
			s.cond.Wait()
		}
		stopping := s.stopping
		meter := s.meter
		s.mu.Unlock()
		if stopping {
			return
		}

		n, err := r.Read(buf)
		if n > 0 {
			s.bytes.Add(int64(n))
			monitor.RawInputBytes.Add(float64(n))
			msg := bus.NewMessage(bus.RawData, s.contextKey, map[string]any{"bytes": n, "input_type": s.inputType.Name})
			if perr := s.bus.Publish(msg); perr != nil {
				s.log.Warn("Raw data not published", "err", perr)
			}
		}
		if err != nil {
			if !stderrors.Is(err, io.EOF) && !stderrors.Is(err, net.ErrClosed) && !stderrors.Is(err, os.ErrClosed) {
				s.mu.Lock()
				if !s.stopping {
					s.readErr = errors.New(errors.ErrCodeRawInput, "Read", "reading telemetry input", err)
				}
				s.mu.Unlock()
				s.log.Error("Telemetry read failed", "err", err)
			} else {
				s.log.Info("End of telemetry input", "bytes", s.bytes.Load())
			}
			return
		}
		if meter > 0 {
			time.Sleep(meter)
		}
	}
}

func (s *StreamService) sendEndOfData() {
	if !s.eodSent.CompareAndSwap(false, true) {
		return
	}
	if err := s.bus.Publish(bus.NewMessage(bus.EndOfData, s.contextKey, map[string]any{"bytes": s.bytes.Load()})); err != nil {
		s.log.Warn("End of data not published", "err", err)
	}
}

// StopReading stops the loop, closes the source and returns the
// transport error that ended reading, if any.
func (s *StreamService) StopReading() error {
	s.mu.Lock()
	if !s.reading {
		err := s.readErr
		s.mu.Unlock()
		return err
	}
	s.stopping = true
	s.cond.Broadcast()
	src := s.src
	done := s.done
	s.mu.Unlock()

	if src != nil {
		_ = src.Close()
	}
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reading = false
	s.src = nil
	s.reader = nil
	return s.readErr
}

func (s *StreamService) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

func (s *StreamService) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	s.cond.Broadcast()
}

// StopService stops reading and releases listeners. End of data is
// published so anyone waiting on the session is released.
func (s *StreamService) StopService() {
	_ = s.StopReading()
	s.opts.Sockets.Close()
	s.sendEndOfData()
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
}

// ClearInputStreamBuffer discards data already buffered but not yet read.
func (s *StreamService) ClearInputStreamBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == nil {
		return errors.New(errors.ErrCodeRawInput, "ClearInputStreamBuffer", "input not connected", nil)
	}
	if n := s.reader.Buffered(); n > 0 {
		_, _ = s.reader.Discard(n)
	}
	return nil
}

func (s *StreamService) SetMeterInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meter = d
}

// BytesRead is the number of bytes consumed so far.
func (s *StreamService) BytesRead() int64 {
	return s.bytes.Load()
}

// Personal.AI order the ending
