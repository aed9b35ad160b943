// Package archive persists session records. The session store holds one
// row per session; peripheral stores are fed from the message bus while
// the session runs.
package archive

import (
	"github.com/turtacn/telemos/internal/bus"
	"github.com/turtacn/telemos/internal/summary"
	"github.com/turtacn/telemos/pkg/protocol"
)

// StoreID names an archive store.
type StoreID string

const (
	StoreSession                 StoreID = "Session"
	StoreLogMessage              StoreID = "LogMessage"
	StorePerformance             StoreID = "Performance"
	StoreProduct                 StoreID = "Product"
	StoreHeaderChannelAggregate  StoreID = "HeaderChannelAggregate"
	StoreMonitorChannelAggregate StoreID = "MonitorChannelAggregate"
	StoreChannelAggregate        StoreID = "ChannelAggregate"
	StoreSseChannelAggregate     StoreID = "SseChannelAggregate"
	StoreEvr                     StoreID = "Evr"
	StoreSseEvr                  StoreID = "SseEvr"
)

// storeSources maps each peripheral store to the message type it records.
var storeSources = map[StoreID]bus.Type{
	StoreLogMessage:              bus.Log,
	StorePerformance:             bus.PerformanceSummary,
	StoreProduct:                 bus.Product,
	StoreHeaderChannelAggregate:  bus.HeaderChannel,
	StoreMonitorChannelAggregate: bus.DsnMonitor,
	StoreChannelAggregate:        bus.EhaChannel,
	StoreSseChannelAggregate:     bus.EhaChannel,
	StoreEvr:                     bus.Evr,
	StoreSseEvr:                  bus.Evr,
}

// AllStores is the store set started by StartAllStores.
func AllStores(sse bool) []StoreID {
	if sse {
		return []StoreID{StoreSession, StoreLogMessage, StorePerformance, StoreHeaderChannelAggregate,
			StoreSseChannelAggregate, StoreSseEvr}
	}
	return []StoreID{StoreSession, StoreLogMessage, StorePerformance, StoreProduct, StoreHeaderChannelAggregate,
		StoreMonitorChannelAggregate, StoreChannelAggregate, StoreEvr}
}

// ProcessStores is the store set a process session needs.
func ProcessStores(sse bool) []StoreID {
	if sse {
		return []StoreID{StoreProduct, StoreHeaderChannelAggregate, StoreMonitorChannelAggregate,
			StoreSseChannelAggregate, StoreSseEvr}
	}
	return []StoreID{StoreProduct, StoreHeaderChannelAggregate, StoreMonitorChannelAggregate,
		StoreChannelAggregate, StoreEvr}
}

// Controller is the archive lifecycle used by the session controllers.
type Controller interface {
	Init() error
	StartAllStores() error
	// StartStores starts the session store plus the listed stores.
	StartStores(ids ...StoreID) error
	// StopPeripheralStores stops every store except the session store.
	StopPeripheralStores()
	ShutDown()
	UpdateSessionEndTime(ctx *protocol.ContextConfig, s *summary.Summary) error
}

// Personal.AI order the ending
