// Package input reads raw telemetry from a file or socket and meters it
// onto the message bus. End of stream is announced with an EndOfData
// message.
package input

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// TelemetryInputType describes the framing of the raw input.
type TelemetryInputType struct {
	Name               string
	HasFrames          bool
	NeedsFrameSync     bool
	NeedsPacketExtract bool
	HasSfdus           bool
}

var inputTypes = map[string]TelemetryInputType{
	"RAW_TF":   {Name: "RAW_TF", HasFrames: true, NeedsFrameSync: true, NeedsPacketExtract: true},
	"SFDU_TF":  {Name: "SFDU_TF", HasFrames: true, NeedsPacketExtract: true, HasSfdus: true},
	"LEOT_TF":  {Name: "LEOT_TF", HasFrames: true, NeedsPacketExtract: true},
	"SLE_TF":   {Name: "SLE_TF", HasFrames: true, NeedsPacketExtract: true},
	"RAW_PKT":  {Name: "RAW_PKT"},
	"SFDU_PKT": {Name: "SFDU_PKT", HasSfdus: true},
}

// ParseInputType looks up an input type by name, case-insensitively.
func ParseInputType(name string) (TelemetryInputType, error) {
	t, ok := inputTypes[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return TelemetryInputType{}, fmt.Errorf("unknown telemetry input type %q", name)
	}
	return t, nil
}

func (t TelemetryInputType) String() string { return t.Name }

// Connection types.
const (
	ConnFile         = "FILE"
	ConnClientSocket = "CLIENT_SOCKET"
	ConnServerSocket = "SERVER_SOCKET"
)

// Service is the raw telemetry input contract used by the session.
type Service interface {
	// StartService prepares the service; false means it cannot run.
	StartService() bool
	// Connect opens the input source; false means do not proceed.
	Connect() bool
	// StartReading begins the read loop on its own goroutine.
	StartReading() error
	// StopReading stops the read loop and returns the transport error
	// that ended it, if any.
	StopReading() error
	Pause()
	Resume()
	StopService()
	ClearInputStreamBuffer() error
	SetMeterInterval(d time.Duration)
}

// RemoteDbFlag marks that downstream stores are fed while the session is
// still running (ongoing database mode).
type RemoteDbFlag struct {
	enabled atomic.Bool
}

func (f *RemoteDbFlag) SetRemoteDbEnabled(v bool) { f.enabled.Store(v) }
func (f *RemoteDbFlag) IsRemoteDbEnabled() bool   { return f.enabled.Load() }

// Personal.AI order the ending
