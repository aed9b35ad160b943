// Package bus is the message publication bus shared by the session
// controller, the feature managers and the raw input service.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// Type names a message kind. It doubles as the subject suffix on NATS.
type Type string

const (
	StartOfSession      Type = "StartOfSession"
	SessionHeartbeat    Type = "SessionHeartbeat"
	EndOfSession        Type = "EndOfSession"
	EndOfData           Type = "EndOfData"
	PerformanceSummary  Type = "PerformanceSummary"
	Log                 Type = "Log"
	TransferFrame       Type = "TransferFrame"
	FrameGap            Type = "FrameGap"
	TelemetryPacket     Type = "TelemetryPacket"
	HeaderChannel       Type = "HeaderChannel"
	Evr                 Type = "Evr"
	EhaChannel          Type = "EhaChannel"
	Alarm               Type = "Alarm"
	Product             Type = "Product"
	Pdu                 Type = "Pdu"
	TimeCorrelation     Type = "TimeCorrelation"
	NenStatus           Type = "NenStatus"
	DsnMonitor          Type = "DsnMonitor"
	RecordedEngineering Type = "RecordedEngineering"
	RawData             Type = "RawData"
)

// Message is the unit carried by the bus.
type Message struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	Time       time.Time      `json:"time"`
	ContextKey int64          `json:"context_key,omitempty"`
	Body       map[string]any `json:"body,omitempty"`
}

// NewMessage stamps a message with a fresh id and the current time.
func NewMessage(t Type, contextKey int64, body map[string]any) Message {
	return Message{
		ID:         uuid.NewString(),
		Type:       t,
		Time:       time.Now().UTC(),
		ContextKey: contextKey,
		Body:       body,
	}
}

// Handler receives delivered messages. Handlers run on the bus delivery
// goroutine, never on the publisher's.
type Handler func(Message)

// Subscription cancels a Subscribe call.
type Subscription interface {
	Unsubscribe()
}

// Bus publishes messages to subscribers of their type.
type Bus interface {
	Publish(msg Message) error
	Subscribe(t Type, h Handler) (Subscription, error)
	// ClearAllQueuedMessages blocks until every message published so far
	// has been handed to the transport or delivered.
	ClearAllQueuedMessages() error
	// Pending is the number of published messages not yet delivered.
	Pending() int
	Close() error
}

// Personal.AI order the ending
