package app

import (
	"time"

	"github.com/ayusman/mudra/internal/dispatch"
)

// RunState is the lifecycle of the dispatch loop.
type RunState string

const (
	RunIdle    RunState = "idle"
	RunLoading RunState = "loading"
	RunRunning RunState = "running"
	RunFailed  RunState = "failed"
	RunStopped RunState = "stopped"
)

// Level is the severity of a Status.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Status is the user-visible message describing the loop's condition.
type Status struct {
	Level   Level          `json:"level"`
	Phase   dispatch.Phase `json:"phase,omitempty"`
	Label   string         `json:"label,omitempty"`
	Message string         `json:"message"`
	At      time.Time      `json:"at"`
}

// EventType names an App event.
type EventType string

const (
	EventOutcome EventType = "outcome"
	EventStatus  EventType = "status"
	EventState   EventType = "state"
)

// Event is delivered to observers registered with OnEvent. Exactly one of the
// payload fields is set, matching Type.
type Event struct {
	Type    EventType         `json:"type"`
	Outcome *dispatch.Outcome `json:"outcome,omitempty"`
	Status  *Status           `json:"status,omitempty"`
	State   *dispatch.State   `json:"state,omitempty"`
}

// Snapshot is a consistent copy of the App's observable state.
type Snapshot struct {
	Run     RunState          `json:"run"`
	Enabled bool              `json:"enabled"`
	Ready   bool              `json:"ready"`
	Active  bool              `json:"active"`
	Labels  []string          `json:"labels"`
	State   dispatch.State    `json:"state"`
	Last    *dispatch.Outcome `json:"last,omitempty"`
	Status  Status            `json:"status"`
	Config  dispatch.Config   `json:"config"`
}
