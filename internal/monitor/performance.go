package monitor

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/turtacn/telemos/internal/bus"
	"github.com/turtacn/telemos/pkg/logger"
)

// PerformancePublisher periodically publishes PerformanceSummary messages
// describing process resource use and bus backlog. The interval can be
// shortened at shutdown so operators see the backlog drain.
type PerformancePublisher struct {
	bus        bus.Bus
	contextKey int64
	log        logger.Logger

	mu       sync.Mutex
	ticker   *time.Ticker
	stop     chan struct{}
	done     chan struct{}
	interval time.Duration

	proc *process.Process
}

func NewPerformancePublisher(b bus.Bus, contextKey int64) *PerformancePublisher {
	p := &PerformancePublisher{
		bus:        b,
		contextKey: contextKey,
		log:        logger.Component("performance"),
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		p.proc = proc
	}
	return p
}

// Start begins publishing every interval. Calling Start on a running
// publisher only changes the interval.
func (p *PerformancePublisher) Start(interval time.Duration) {
	if interval <= 0 {
		p.log.Warn("Performance publisher not started; interval must be positive", "interval", interval)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interval = interval
	if p.ticker != nil {
		p.ticker.Reset(interval)
		return
	}
	p.ticker = time.NewTicker(interval)
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.run(p.ticker, p.stop, p.done)
	p.log.Debug("Performance publisher started", "interval", interval)
}

// SetShutdownRate switches to the shutdown interval and publishes once
// immediately.
func (p *PerformancePublisher) SetShutdownRate(interval time.Duration) {
	p.mu.Lock()
	running := p.ticker != nil
	if running && interval > 0 {
		p.interval = interval
		p.ticker.Reset(interval)
	}
	p.mu.Unlock()
	if running {
		p.Publish()
	}
}

// Interval returns the current reporting interval, zero when stopped.
func (p *PerformancePublisher) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// Running reports whether the publisher goroutine is active.
func (p *PerformancePublisher) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ticker != nil
}

// Stop halts publishing. Safe to call repeatedly.
func (p *PerformancePublisher) Stop() {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return
	}
	p.ticker.Stop()
	close(p.stop)
	done := p.done
	p.ticker = nil
	p.interval = 0
	p.mu.Unlock()
	<-done
	p.log.Debug("Performance publisher stopped")
}

func (p *PerformancePublisher) run(t *time.Ticker, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-t.C:
			p.Publish()
		case <-stop:
			return
		}
	}
}

// Publish sends one summary now.
func (p *PerformancePublisher) Publish() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	body := map[string]any{
		"heap_bytes":  ms.HeapAlloc,
		"goroutines":  runtime.NumGoroutine(),
		"bus_backlog": p.bus.Pending(),
	}
	if p.proc != nil {
		if mem, err := p.proc.MemoryInfo(); err == nil {
			body["rss_bytes"] = mem.RSS
			ProcessRSS.Set(float64(mem.RSS))
		}
		if cpu, err := p.proc.CPUPercent(); err == nil {
			body["cpu_percent"] = cpu
		}
	}

	if err := p.bus.Publish(bus.NewMessage(bus.PerformanceSummary, p.contextKey, body)); err != nil {
		p.log.Warn("Performance summary not published", "err", err)
		return
	}
	PerformanceSummaries.Inc()
}

// Personal.AI order the ending
