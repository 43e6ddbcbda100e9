package alerting

import (
	"time"

	"github.com/harmonlabs/klaxon/internal/rules"
)

// Priority is the coarse UI-facing urgency derived from severity.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// PriorityFor maps a severity to its priority. Total: every valid severity
// maps to exactly one priority, anything unknown ranks low.
func PriorityFor(s rules.Severity) Priority {
	switch s {
	case rules.SeverityCritical, rules.SeverityHigh:
		return PriorityHigh
	case rules.SeverityMedium:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Status tracks an alert's lifecycle. Only new is set by this engine;
// acknowledged and resolved are reached via external action.
type Status string

const (
	StatusNew          Status = "new"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// DetectionState tracks where a detection is in the decision pipeline.
type DetectionState string

const (
	// DetectionPending means stored, not yet evaluated.
	DetectionPending DetectionState = "pending"

	// DetectionProcessing means claimed by a worker.
	DetectionProcessing DetectionState = "processing"

	// DetectionRejected means no rule matched or confidence was below threshold.
	DetectionRejected DetectionState = "rejected"

	// DetectionSuppressed means an equivalent alert already existed in the window.
	DetectionSuppressed DetectionState = "suppressed"

	// DetectionAlerted means an alert was persisted.
	DetectionAlerted DetectionState = "alerted"

	// DetectionFailed means a store error aborted the detection.
	DetectionFailed DetectionState = "failed"
)

// Location is a lat/lng pair.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Detection is a single classified audio event produced by the ML
// collaborator. Consumed read-only by the decision engine.
type Detection struct {
	ID           string             `json:"detection_id"`
	VehicleID    string             `json:"vehicle_id"`
	SoundLabel   string             `json:"sound_label"`
	Confidence   float64            `json:"confidence"`
	Predictions  []rules.Prediction `json:"all_predictions,omitempty"`
	ModelVersion string             `json:"model_version,omitempty"`
	SourceRef    string             `json:"source_ref,omitempty"`
	Location     *Location          `json:"location,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
}

// Metadata is the opaque context stored alongside an alert.
type Metadata struct {
	ModelVersion   string             `json:"model_version,omitempty"`
	SourceRef      string             `json:"source_ref,omitempty"`
	TopPredictions []rules.Prediction `json:"top_predictions,omitempty"`
}

// Alert is a persisted, human-facing alert record. Created exactly once by
// the decision engine; downstream consumers may transition status but never
// label, severity, or confidence.
type Alert struct {
	ID                 string          `json:"alert_id"`
	VehicleID          string          `json:"vehicle_id"`
	DetectionID        string          `json:"detection_id"`
	SoundLabel         string          `json:"sound_label"`
	OriginalSoundLabel string          `json:"original_sound_label,omitempty"`
	Confidence         float64         `json:"confidence"`
	Severity           rules.Severity  `json:"severity"`
	Priority           Priority        `json:"priority"`
	AlertType          rules.AlertType `json:"alert_type"`
	Message            string          `json:"message"`
	Status             Status          `json:"status"`
	NotifiedOwner      bool            `json:"notified_owner"`
	NotifiedService    bool            `json:"notified_service"`
	Location           *Location       `json:"location,omitempty"`
	Metadata           Metadata        `json:"metadata"`
	CreatedAt          time.Time       `json:"created_at"`
	AcknowledgedAt     *time.Time      `json:"acknowledged_at,omitempty"`
	ResolvedAt         *time.Time      `json:"resolved_at,omitempty"`
}
