package summary

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSummary_CountersAndRendering(t *testing.T) {
	s := New("pass-1/gds1/7", "/tmp/out")
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.PopulateBasic(start, time.Time{}, "pass-1/gds1/7", "/tmp/out", 7)
	s.Add(Frames, 10)
	s.Add(Frames, 5)
	s.Set(Evrs, 3)

	assert.Equal(t, int64(15), s.Get(Frames))
	assert.Equal(t, int64(7), s.ContextKey())

	line := s.OneLine("SESSION SUMMARY: Session ID: ")
	assert.True(t, strings.HasPrefix(line, "SESSION SUMMARY: Session ID: 7"))
	assert.Contains(t, line, "evrs=3 frames=15")

	long := s.String()
	assert.Contains(t, long, "Start time:       2026-01-02T03:04:05.000")
	assert.Contains(t, long, "End time:         -")
}

func TestSummary_ConcurrentAdds(t *testing.T) {
	s := New("x", "")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Add(Packets, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(2000), s.Counts()[Packets])
}
