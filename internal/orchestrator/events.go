package orchestrator

import (
	"time"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/orchestrator/alert"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/orchestrator/pipeline"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/store"
)

// EventType names an outbound event.
type EventType string

const (
	EventSessionStarted   EventType = "session_started"
	EventSessionEnded     EventType = "session_ended"
	EventPhase            EventType = "phase"
	EventHardwareBlocked  EventType = "hardware_blocked"
	EventTimeout          EventType = "timeout"
	EventOverrun          EventType = "overrun"
	EventScore            EventType = "score"
	EventAlert            EventType = "alert"
	EventModelTrained     EventType = "model_trained"
	EventTrainingFailed   EventType = "training_failed"
	EventReferenceSimilar EventType = "reference_similar"
	EventError            EventType = "error"
)

// Kind is the purpose of a session.
type Kind string

const (
	KindReference Kind = "reference"
	KindDiagnosis Kind = "diagnosis"
)

// Event is published on Manager.Events and broadcast to clients as JSON.
type Event struct {
	Type        EventType           `json:"type"`
	SessionID   string              `json:"session_id,omitempty"`
	MachineID   string              `json:"machine_id,omitempty"`
	Kind        Kind                `json:"kind,omitempty"`
	Phase       string              `json:"phase,omitempty"`
	Previous    string              `json:"previous,omitempty"`
	ActiveRatio float64             `json:"active_ratio,omitempty"`
	Result      *pipeline.Result    `json:"result,omitempty"`
	Alert       *alert.Alert        `json:"alert,omitempty"`
	Model       *store.ModelSummary `json:"model,omitempty"`
	SimilarTo   string              `json:"similar_to,omitempty"`
	Code        string              `json:"code,omitempty"`
	Message     string              `json:"message,omitempty"`
	At          time.Time           `json:"at"`
}
