// Package status derives the health stage reported by a process worker.
package status

import (
	"time"

	"github.com/turtacn/telemos/pkg/consts"
)

type Stage string

const (
	Waiting    Stage = "WAITING"
	Processing Stage = "PROCESSING"
	Done       Stage = "DONE"
)

// IdleThreshold is how long a started worker may go without telemetry
// before it reports Waiting again.
var IdleThreshold = int64(consts.WorkerIdleThreshold / time.Second)

// Derive computes the stage. Rules apply in order:
//
//	not started                          -> Waiting
//	started, backlog                     -> Processing
//	started, no backlog, ended           -> Done
//	started, no backlog, idle >= limit   -> Waiting
//	started, no backlog, idle <  limit   -> Processing
func Derive(started, backlog, ended bool, idleSeconds int64) Stage {
	switch {
	case !started:
		return Waiting
	case backlog:
		return Processing
	case ended:
		return Done
	case idleSeconds >= IdleThreshold:
		return Waiting
	default:
		return Processing
	}
}

// WorkerStatus is the health snapshot served by a process worker.
type WorkerStatus struct {
	Stage       Stage  `json:"stage"`
	Started     bool   `json:"started"`
	Backlog     int    `json:"backlog"`
	Ended       bool   `json:"ended"`
	IdleSeconds int64  `json:"idle_seconds"`
	Session     string `json:"session,omitempty"`
}

// New fills in Stage from the other fields.
func New(started bool, backlog int, ended bool, idleSeconds int64) WorkerStatus {
	return WorkerStatus{
		Stage:       Derive(started, backlog > 0, ended, idleSeconds),
		Started:     started,
		Backlog:     backlog,
		Ended:       ended,
		IdleSeconds: idleSeconds,
	}
}

// Personal.AI order the ending
