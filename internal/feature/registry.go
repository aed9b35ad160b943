package feature

import (
	"sort"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/turtacn/telemos/internal/bus"
	"github.com/turtacn/telemos/pkg/errors"
)

// Misc manager names known to the default registry.
const (
	NenStatusDecomName           = "NenStatusDecom"
	DsnMonitorChannelizationName = "DsnMonitorChannelization"
	RecordedEngineeringName      = "RecordedEngineering"
)

// Factory builds a fresh misc manager.
type Factory func() (Manager, error)

// MonitorDictionaryUser is implemented by managers that need the monitor
// dictionary loaded when they are enabled.
type MonitorDictionaryUser interface {
	NeedsMonitorDictionary() bool
}

// ProductGated is implemented by managers whose enable also requires
// product generation.
type ProductGated interface {
	RequiresProductGeneration() bool
}

// Registry maps misc manager names to factories.
type Registry struct {
	factories cmap.ConcurrentMap[string, Factory]
}

// NewRegistry returns a registry holding the built-in misc managers.
func NewRegistry() *Registry {
	r := &Registry{factories: cmap.New[Factory]()}
	r.Register(NenStatusDecomName, func() (Manager, error) { return NewNenStatusDecom(), nil })
	r.Register(DsnMonitorChannelizationName, func() (Manager, error) { return NewDsnMonitorChannelization(), nil })
	r.Register(RecordedEngineeringName, func() (Manager, error) { return NewRecordedEngineering(), nil })
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, f Factory) {
	r.factories.Set(name, f)
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	names := r.factories.Keys()
	sort.Strings(names)
	return names
}

// Resolve constructs the manager registered under name.
func (r *Registry) Resolve(name string) (Manager, error) {
	f, ok := r.factories.Get(name)
	if !ok {
		return nil, errors.New(errors.ErrCodeUnknownFeature, "Resolve", "no feature manager registered as "+name, nil)
	}
	m, err := f()
	if err != nil {
		return nil, errors.New(errors.ErrCodeUnknownFeature, "Resolve", "constructing "+name, err)
	}
	if m == nil {
		return nil, errors.New(errors.ErrCodeUnknownFeature, "Resolve", name+" factory returned nil", nil)
	}
	return m, nil
}

// NenStatusDecom decommutates NEN station status packets.
type NenStatusDecom struct{ *simple }

func NewNenStatusDecom() *NenStatusDecom {
	return &NenStatusDecom{newSimple(NenStatusDecomName, map[bus.Type]string{bus.NenStatus: "nen_status"})}
}

func (*NenStatusDecom) NeedsMonitorDictionary() bool { return true }

// DsnMonitorChannelization channelizes DSN monitor data.
type DsnMonitorChannelization struct{ *simple }

func NewDsnMonitorChannelization() *DsnMonitorChannelization {
	return &DsnMonitorChannelization{newSimple(DsnMonitorChannelizationName, map[bus.Type]string{bus.DsnMonitor: "dsn_monitor"})}
}

func (*DsnMonitorChannelization) NeedsMonitorDictionary() bool { return true }

// RecordedEngineering processes engineering products recorded on board.
type RecordedEngineering struct{ *simple }

func NewRecordedEngineering() *RecordedEngineering {
	return &RecordedEngineering{newSimple(RecordedEngineeringName, map[bus.Type]string{bus.RecordedEngineering: "recorded_engineering"})}
}

func (*RecordedEngineering) RequiresProductGeneration() bool { return true }

// Personal.AI order the ending
