package feature

import (
	"github.com/turtacn/telemos/internal/bus"
	"github.com/turtacn/telemos/internal/summary"
)

// Built-in manager names.
const (
	FrameName           = "Frame"
	PacketName          = "Packet"
	HeaderChannelName   = "HeaderChannelization"
	EvrName             = "Evr"
	PduName             = "PduExtraction"
	ProductGenName      = "ProductGenerator"
	TimeCorrelationName = "TimeCorrelation"
	EhaName             = "Eha"
)

// Frame handles transfer frame synchronization and tracking. It is
// enabled while either sub-capability is on.
type Frame struct {
	base
	sync     bool
	tracking bool
}

func NewFrame() *Frame {
	f := &Frame{}
	f.setup(FrameName, map[bus.Type]string{
		bus.TransferFrame: summary.Frames,
		bus.FrameGap:      summary.FrameGaps,
	})
	return f
}

func (f *Frame) Enable(on bool) {
	f.mu.Lock()
	f.sync, f.tracking = on, on
	f.enabled = on
	f.mu.Unlock()
}

func (f *Frame) SetFrameSyncEnabled(on bool) {
	f.mu.Lock()
	f.sync = on
	f.enabled = f.sync || f.tracking
	f.mu.Unlock()
}

func (f *Frame) SetFrameTrackingEnabled(on bool) {
	f.mu.Lock()
	f.tracking = on
	f.enabled = f.sync || f.tracking
	f.mu.Unlock()
}

func (f *Frame) IsFrameSyncEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sync
}

func (f *Frame) IsFrameTrackingEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracking
}

func (f *Frame) Init(env *Env) error { return f.initIfEnabled(env) }

// Packet handles packet extraction and tracking.
type Packet struct {
	base
	extract  bool
	tracking bool
}

func NewPacket() *Packet {
	p := &Packet{}
	p.setup(PacketName, map[bus.Type]string{bus.TelemetryPacket: summary.Packets})
	return p
}

func (p *Packet) Enable(on bool) {
	p.mu.Lock()
	p.extract, p.tracking = on, on
	p.enabled = on
	p.mu.Unlock()
}

func (p *Packet) SetPacketExtractEnabled(on bool) {
	p.mu.Lock()
	p.extract = on
	p.enabled = p.extract || p.tracking
	p.mu.Unlock()
}

func (p *Packet) SetPacketTrackingEnabled(on bool) {
	p.mu.Lock()
	p.tracking = on
	p.enabled = p.extract || p.tracking
	p.mu.Unlock()
}

func (p *Packet) IsPacketExtractEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.extract
}

func (p *Packet) IsPacketTrackingEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tracking
}

func (p *Packet) Init(env *Env) error { return p.initIfEnabled(env) }

// HeaderChannelization channelizes frame, packet and SFDU header fields.
// IsEnabled is the OR of the three sub-flags.
type HeaderChannelization struct {
	base
	frame  bool
	packet bool
	sfdu   bool
}

func NewHeaderChannelization() *HeaderChannelization {
	h := &HeaderChannelization{}
	h.setup(HeaderChannelName, map[bus.Type]string{bus.HeaderChannel: summary.HeaderChannels})
	return h
}

func (h *HeaderChannelization) update() { h.enabled = h.frame || h.packet || h.sfdu }

func (h *HeaderChannelization) Enable(on bool) {
	h.mu.Lock()
	h.frame, h.packet, h.sfdu = on, on, on
	h.update()
	h.mu.Unlock()
}

func (h *HeaderChannelization) SetFrameHeaderChannelizer(on bool) {
	h.mu.Lock()
	h.frame = on
	h.update()
	h.mu.Unlock()
}

func (h *HeaderChannelization) SetPacketHeaderChannelizer(on bool) {
	h.mu.Lock()
	h.packet = on
	h.update()
	h.mu.Unlock()
}

func (h *HeaderChannelization) SetSfduHeaderChannelizer(on bool) {
	h.mu.Lock()
	h.sfdu = on
	h.update()
	h.mu.Unlock()
}

// SubFlags returns the frame, packet and SFDU header sub-flags.
func (h *HeaderChannelization) SubFlags() (frame, packet, sfdu bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frame, h.packet, h.sfdu
}

func (h *HeaderChannelization) Init(env *Env) error { return h.initIfEnabled(env) }

// simple is a manager with no sub-capabilities.
type simple struct {
	base
}

func newSimple(name string, counters map[bus.Type]string) *simple {
	s := &simple{}
	s.setup(name, counters)
	return s
}

func (s *simple) Init(env *Env) error { return s.initIfEnabled(env) }

type (
	Evr             struct{ *simple }
	PduExtraction   struct{ *simple }
	ProductGen      struct{ *simple }
	TimeCorrelation struct{ *simple }
)

func NewEvr() *Evr {
	return &Evr{newSimple(EvrName, map[bus.Type]string{bus.Evr: summary.Evrs})}
}

func NewPduExtraction() *PduExtraction {
	return &PduExtraction{newSimple(PduName, map[bus.Type]string{bus.Pdu: summary.Pdus})}
}

func NewProductGen() *ProductGen {
	return &ProductGen{newSimple(ProductGenName, map[bus.Type]string{bus.Product: summary.Products})}
}

func NewTimeCorrelation() *TimeCorrelation {
	return &TimeCorrelation{newSimple(TimeCorrelationName, map[bus.Type]string{bus.TimeCorrelation: summary.TimeCorrelations})}
}

// Personal.AI order the ending
