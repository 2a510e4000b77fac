package orchestrator

import "time"

// States of a bootstrap run. Completed and Failed are terminal; there is no
// retry loop — the container supervisor decides whether to start over, and
// the guard makes restarts at most once successful.
const (
	StateNotStarted    = "not-started"
	StateCheckingGuard = "checking-guard"
	StateDiscovering   = "discovering"
	StateRunning       = "running"
	StateCompleted     = "completed"
	StateFailed        = "failed"
)

// Per-script statuses inside a Result.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Result is the record of one bootstrap run.
type Result struct {
	RunID      string         `json:"runId"`
	State      string         `json:"state"`
	Skipped    bool           `json:"skipped"` // true on an already-initialized no-op
	Error      string         `json:"error,omitempty"`
	Scripts    []ScriptResult `json:"scripts"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
}

// ScriptResult is the outcome of a single attempted script.
type ScriptResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "ok", "error"
	Error  string `json:"error,omitempty"`
}

// ProbeResult is returned by RunDeepHealth for each dependency.
type ProbeResult struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}
