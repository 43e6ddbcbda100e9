package alerting

import (
	"context"
	"time"
)

// AlertQuery filters ListAlerts. Zero values do not constrain.
type AlertQuery struct {
	VehicleID string
	Status    Status
	Limit     int
}

// Store is the persistence interface for detections and alerts. All calls
// must honor the context deadline; implementations never block indefinitely.
type Store interface {
	// InsertDetection stores a new detection in the pending state.
	InsertDetection(ctx context.Context, det *Detection) error

	// ClaimDetections moves up to limit pending detections to processing
	// and returns them, oldest first.
	ClaimDetections(ctx context.Context, limit int) ([]*Detection, error)

	// FinishDetection records a detection's terminal state.
	FinishDetection(ctx context.Context, id string, state DetectionState) error

	// InsertAlert persists a new alert.
	InsertAlert(ctx context.Context, al *Alert) error

	// RecentAlertExists reports whether an alert for the same vehicle and
	// effective label was created within the window. Best-effort
	// read-then-decide; concurrent writers may race.
	RecentAlertExists(ctx context.Context, vehicleID, soundLabel string, window time.Duration) (bool, error)

	// SetNotified records per-channel notification outcomes for an alert.
	SetNotified(ctx context.Context, alertID string, owner, service bool) error

	// GetAlert retrieves an alert by ID.
	GetAlert(ctx context.Context, id string) (*Alert, bool, error)

	// ListAlerts returns alerts matching q, newest first.
	ListAlerts(ctx context.Context, q AlertQuery) ([]*Alert, error)

	// Acknowledge transitions a new alert to acknowledged. Returns false
	// when the alert does not exist or is not in the new state.
	Acknowledge(ctx context.Context, alertID string, at time.Time) (bool, error)

	// Resolve transitions an unresolved alert to resolved. Returns false
	// when the alert does not exist or is already resolved.
	Resolve(ctx context.Context, alertID string, at time.Time) (bool, error)
}
