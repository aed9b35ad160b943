package status

import (
	"encoding/json"
	"net"
	"os"
	"time"

	"github.com/turtacn/telemos/pkg/logger"
)

// Relay serves the current WorkerStatus as one JSON document to every
// client that connects to a unix socket.
type Relay struct {
	socketPath string
	current    func() WorkerStatus
	l          net.Listener
	done       chan struct{}
}

func NewRelay(path string, current func() WorkerStatus) *Relay {
	return &Relay{socketPath: path, current: current}
}

// prepareSocket replaces any stale socket file left by a previous worker.
func (r *Relay) prepareSocket() (net.Listener, error) {
	if _, err := os.Stat(r.socketPath); err == nil {
		os.Remove(r.socketPath)
	}
	l, err := net.Listen("unix", r.socketPath)
	if err != nil {
		return nil, err
	}
	os.Chmod(r.socketPath, 0700)
	return l, nil
}

// Start binds the socket and answers clients until Close.
func (r *Relay) Start() error {
	l, err := r.prepareSocket()
	if err != nil {
		return err
	}
	r.l = l
	r.done = make(chan struct{})
	logger.Component("status").Info("Status relay listening", "socket", r.socketPath)

	go func() {
		defer close(r.done)
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = json.NewEncoder(conn).Encode(r.current())
			conn.Close()
		}
	}()
	return nil
}

func (r *Relay) Close() error {
	if r.l == nil {
		return nil
	}
	err := r.l.Close()
	<-r.done
	r.l = nil
	os.Remove(r.socketPath)
	return err
}

// Query reads one WorkerStatus from the relay at path.
func Query(path string, timeout time.Duration) (WorkerStatus, error) {
	var st WorkerStatus
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return st, err
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(timeout))
	err = json.NewDecoder(conn).Decode(&st)
	return st, err
}

// Personal.AI order the ending
