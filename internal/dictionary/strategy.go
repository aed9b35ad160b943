// Package dictionary decides which telemetry dictionaries a session needs
// and loads them through a Loader. Dictionary content is opaque here.
package dictionary

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/turtacn/telemos/pkg/errors"
	"github.com/turtacn/telemos/pkg/logger"
)

type Kind string

const (
	Apid     Kind = "apid"
	Header   Kind = "header"
	Evr      Kind = "evr"
	Channel  Kind = "channel"
	Alarm    Kind = "alarm"
	Decom    Kind = "decom"
	Command  Kind = "command"
	Sequence Kind = "sequence"
	Monitor  Kind = "monitor"
	Product  Kind = "product"
	Frame    Kind = "frame"
)

var (
	sseKinds    = []Kind{Apid, Header, Evr, Channel, Alarm, Decom}
	flightKinds = []Kind{Apid, Header, Evr, Channel, Alarm, Decom, Command, Sequence, Monitor, Product, Frame}
)

// Loader loads one dictionary.
type Loader interface {
	Load(kind Kind, sse bool) error
}

// FileLoader treats a dictionary as loaded when <Dir>/<kind>.xml (or
// <Dir>/sse/<kind>.xml for SSE) exists and is readable.
type FileLoader struct {
	Dir string
}

func (f FileLoader) Path(kind Kind, sse bool) string {
	if sse {
		return filepath.Join(f.Dir, "sse", string(kind)+".xml")
	}
	return filepath.Join(f.Dir, string(kind)+".xml")
}

func (f FileLoader) Load(kind Kind, sse bool) error {
	fh, err := os.Open(f.Path(kind, sse))
	if err != nil {
		return err
	}
	return fh.Close()
}

// Strategy is a builder over the set of dictionaries to load. The SSE
// strategy silently ignores flight-only kinds.
type Strategy struct {
	sse     bool
	allowed map[Kind]bool
	loader  Loader

	mu      sync.RWMutex
	enabled map[Kind]bool
	loaded  map[Kind]bool
}

func newStrategy(loader Loader, sse bool, kinds []Kind) *Strategy {
	allowed := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}
	return &Strategy{
		sse:     sse,
		allowed: allowed,
		loader:  loader,
		enabled: make(map[Kind]bool),
		loaded:  make(map[Kind]bool),
	}
}

// NewFlight returns the flight (FSW) loading strategy.
func NewFlight(loader Loader) *Strategy { return newStrategy(loader, false, flightKinds) }

// NewSse returns the SSE loading strategy.
func NewSse(loader Loader) *Strategy { return newStrategy(loader, true, sseKinds) }

func (s *Strategy) IsSse() bool { return s.sse }

func (s *Strategy) set(k Kind, on bool) *Strategy {
	if !s.allowed[k] {
		return s
	}
	s.mu.Lock()
	s.enabled[k] = on
	s.mu.Unlock()
	return s
}

func (s *Strategy) EnableApid() *Strategy         { return s.set(Apid, true) }
func (s *Strategy) SetFrame(on bool) *Strategy    { return s.set(Frame, on) }
func (s *Strategy) SetHeader(on bool) *Strategy   { return s.set(Header, on) }
func (s *Strategy) SetEvr(on bool) *Strategy      { return s.set(Evr, on) }
func (s *Strategy) SetCommand(on bool) *Strategy  { return s.set(Command, on) }
func (s *Strategy) SetSequence(on bool) *Strategy { return s.set(Sequence, on) }
func (s *Strategy) SetChannel(on bool) *Strategy  { return s.set(Channel, on) }
func (s *Strategy) SetAlarm(on bool) *Strategy    { return s.set(Alarm, on) }
func (s *Strategy) SetDecom(on bool) *Strategy    { return s.set(Decom, on) }
func (s *Strategy) SetMonitor(on bool) *Strategy  { return s.set(Monitor, on) }
func (s *Strategy) SetProduct(on bool) *Strategy  { return s.set(Product, on) }

// IsEnabled reports whether kind will be loaded.
func (s *Strategy) IsEnabled(k Kind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled[k]
}

// Enabled lists the kinds that will be loaded, sorted.
func (s *Strategy) Enabled() []Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Kind
	for k, on := range s.enabled {
		if on {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LoadAllEnabled loads every enabled dictionary. All kinds are attempted;
// any failure makes the whole call fail.
func (s *Strategy) LoadAllEnabled() error {
	log := logger.Component("dictionary")
	var failed []string
	var first error
	for _, k := range s.Enabled() {
		if err := s.loader.Load(k, s.sse); err != nil {
			log.Error("Dictionary load failed", "kind", k, "sse", s.sse, "err", err)
			failed = append(failed, string(k))
			if first == nil {
				first = err
			}
			continue
		}
		s.mu.Lock()
		s.loaded[k] = true
		s.mu.Unlock()
		log.Debug("Dictionary loaded", "kind", k, "sse", s.sse)
	}
	if len(failed) > 0 {
		return errors.New(errors.ErrCodeDictionaryLoad, "LoadAllEnabled",
			fmt.Sprintf("failed to load %s", strings.Join(failed, ", ")), first)
	}
	return nil
}

// Loaded reports whether kind was loaded successfully.
func (s *Strategy) Loaded(k Kind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded[k]
}

// Require loads kind if it has not been loaded yet, whether or not the
// strategy enabled it.
func (s *Strategy) Require(k Kind) error {
	if s.Loaded(k) {
		return nil
	}
	if err := s.loader.Load(k, s.sse); err != nil {
		return errors.New(errors.ErrCodeDictionaryLoad, "Require", "loading "+string(k)+" dictionary", err)
	}
	s.mu.Lock()
	s.loaded[k] = true
	s.mu.Unlock()
	return nil
}

// Personal.AI order the ending
