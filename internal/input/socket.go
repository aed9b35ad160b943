package input

import (
	"net"
	"sort"
	"sync"

	"github.com/turtacn/telemos/pkg/logger"
)

// SocketManager owns the listeners used by SERVER_SOCKET connections so a
// reconnecting session reuses its bound port.
type SocketManager struct {
	mu sync.Mutex

	// Active listeners keyed by requested address
	listeners map[string]net.Listener
}

func NewSocketManager() *SocketManager {
	return &SocketManager{
		listeners: make(map[string]net.Listener),
	}
}

// EnsureListener returns the listener for addr, binding it on first use.
// The listener is also recorded under its resolved address so a caller
// holding the ":0" port number finds the same instance.
func (sm *SocketManager) EnsureListener(addr string) (net.Listener, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if l, ok := sm.listeners[addr]; ok {
		return l, nil
	}

	logger.Component("input").Info("Binding telemetry listener", "addr", addr)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	sm.listeners[addr] = l
	sm.listeners[l.Addr().String()] = l
	return l, nil
}

// Addrs returns the resolved addresses of all listeners, sorted.
func (sm *SocketManager) Addrs() []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	seen := make(map[net.Listener]bool)
	var addrs []string
	for _, l := range sm.listeners {
		if seen[l] {
			continue
		}
		seen[l] = true
		addrs = append(addrs, l.Addr().String())
	}
	sort.Strings(addrs)
	return addrs
}

func (sm *SocketManager) Close() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	closed := make(map[net.Listener]bool)
	for _, l := range sm.listeners {
		if !closed[l] {
			l.Close()
			closed[l] = true
		}
	}
	sm.listeners = make(map[string]net.Listener)
}

// Personal.AI order the ending
