package consts

import "time"

// SessionState is the externally visible lifecycle state of a session.
type SessionState string

const (
	SessionNotStarted SessionState = "NOT_STARTED"
	SessionStarting   SessionState = "STARTING"
	SessionRunning    SessionState = "RUNNING"
	SessionEnding     SessionState = "ENDING"
	SessionEnded      SessionState = "ENDED"
)

// StartPhase is one step of the session start sequence.
type StartPhase string

const (
	PhaseUninitialized       StartPhase = "UNINITIALIZED"
	PhaseManagersConstructed StartPhase = "MANAGERS_CONSTRUCTED"
	PhaseFlagsApplied        StartPhase = "FLAGS_APPLIED"
	PhaseDictionariesLoaded  StartPhase = "DICTIONARIES_LOADED"
	PhaseOutputDirReady      StartPhase = "OUTPUT_DIR_READY"
	PhasePerformanceStarted  StartPhase = "PERFORMANCE_PUBLISHER_STARTED"
	PhaseManagersInitialized StartPhase = "MANAGERS_INITIALIZED"
	PhaseClockLoaded         StartPhase = "CLOCK_LOADED"
	PhaseInputStarted        StartPhase = "INPUT_STARTED"
	PhaseRunning             StartPhase = "RUNNING"
	PhaseFailed              StartPhase = "FAILED"
)

// Defaults used when configuration leaves a value unset.
const (
	DefaultHeartbeatInterval       = 60 * time.Second
	DefaultSummaryInterval         = 30 * time.Second
	DefaultShutdownSummaryInterval = 2 * time.Second
	DefaultReadBufferSize          = 64 * 1024
	DefaultSclkSpacecraftID        = 0

	// WorkerIdleThreshold is how long a started process worker may go
	// without telemetry before it reports WAITING again.
	WorkerIdleThreshold = 3 * time.Second
)

// Personal.AI order the ending
