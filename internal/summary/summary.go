// Package summary accumulates per-session statistics. Feature managers
// write their counters in at shutdown; the session adds the basic
// identity and timing fields.
package summary

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/valyala/bytebufferpool"
)

// Summary is safe for concurrent use.
type Summary struct {
	mu sync.RWMutex

	fullName   string
	outputDir  string
	contextKey int64
	startTime  time.Time
	endTime    time.Time

	counts map[string]int64
}

// Well-known counter names.
const (
	Frames           = "frames"
	FrameGaps        = "frame_gaps"
	Packets          = "packets"
	HeaderChannels   = "header_channels"
	Evrs             = "evrs"
	Pdus             = "pdus"
	Products         = "products"
	TimeCorrelations = "time_correlations"
	EhaChannels      = "eha_channels"
	Alarms           = "alarms"
	RawBytes         = "raw_bytes"
)

func New(fullName, outputDir string) *Summary {
	return &Summary{
		fullName:  fullName,
		outputDir: outputDir,
		counts:    make(map[string]int64),
	}
}

// PopulateBasic sets the identity and timing fields.
func (s *Summary) PopulateBasic(start, end time.Time, fullName, outputDir string, key int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startTime = start
	s.endTime = end
	s.fullName = fullName
	s.outputDir = outputDir
	s.contextKey = key
}

// Set overwrites a counter.
func (s *Summary) Set(name string, v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[name] = v
}

// Add increments a counter.
func (s *Summary) Add(name string, delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[name] += delta
}

func (s *Summary) Get(name string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts[name]
}

// Counts returns a copy of all counters.
func (s *Summary) Counts() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

func (s *Summary) FullName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fullName
}

func (s *Summary) OutputDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outputDir
}

func (s *Summary) ContextKey() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contextKey
}

func (s *Summary) StartTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startTime
}

func (s *Summary) EndTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endTime
}

func (s *Summary) sortedNames() []string {
	names := make([]string, 0, len(s.counts))
	for k := range s.counts {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// OneLine renders the summary on a single line, prefixed by prefix.
func (s *Summary) OneLine(prefix string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	_, _ = buf.WriteString(prefix)
	_, _ = fmt.Fprintf(buf, "%d name=%s", s.contextKey, s.fullName)
	for _, name := range s.sortedNames() {
		_, _ = fmt.Fprintf(buf, " %s=%d", name, s.counts[name])
	}
	return buf.String()
}

// String renders the long multi-line console form.
func (s *Summary) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	_, _ = fmt.Fprintf(buf, "Session:          %s (key %d)\n", s.fullName, s.contextKey)
	_, _ = fmt.Fprintf(buf, "Output directory: %s\n", s.outputDir)
	_, _ = fmt.Fprintf(buf, "Start time:       %s\n", formatTime(s.startTime))
	_, _ = fmt.Fprintf(buf, "End time:         %s\n", formatTime(s.endTime))
	for _, name := range s.sortedNames() {
		_, _ = fmt.Fprintf(buf, "  %-18s %d\n", name+":", s.counts[name])
	}
	return buf.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02T15:04:05.000")
}

// Personal.AI order the ending
