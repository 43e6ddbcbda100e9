package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

// Validation failures for incoming detections.
var (
	ErrMissingVehicle    = errors.New("detection has no vehicle id")
	ErrMissingLabel      = errors.New("detection has no sound label")
	ErrBadConfidence     = errors.New("detection confidence outside [0,1]")
	ErrNotFound          = errors.New("alert not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Service is the business boundary for the alerting pipeline: intake,
// processing, and alert reads/transitions.
type Service struct {
	store   Store
	engine  *Engine
	timeout time.Duration
	logger  log.Logger
	metrics *Metrics
}

// NewService creates an alerting service.
func NewService(store Store, engine *Engine, storeTimeout time.Duration, logger log.Logger, metrics *Metrics) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}
	return &Service{
		store:   store,
		engine:  engine,
		timeout: storeTimeout,
		logger:  logger,
		metrics: metrics,
	}
}

// Enqueue validates and stores a detection for processing. An empty
// detection ID is assigned a ULID; predictions beyond the top three are
// dropped.
func (s *Service) Enqueue(ctx context.Context, det *Detection) error {
	if det.VehicleID == "" {
		return ErrMissingVehicle
	}
	if det.SoundLabel == "" {
		return ErrMissingLabel
	}
	if det.Confidence < 0 || det.Confidence > 1 {
		return ErrBadConfidence
	}
	if det.ID == "" {
		det.ID = ulid.Make().String()
	}
	if det.Timestamp.IsZero() {
		det.Timestamp = time.Now().UTC()
	}
	if len(det.Predictions) > 3 {
		det.Predictions = det.Predictions[:3]
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.store.InsertDetection(ctx, det); err != nil {
		return fmt.Errorf("insert detection: %w", err)
	}

	if s.metrics != nil {
		s.metrics.DetectionsEnqueued.Inc()
	}
	return nil
}

// Claim hands out up to limit pending detections for processing.
func (s *Service) Claim(ctx context.Context, limit int) ([]*Detection, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.store.ClaimDetections(ctx, limit)
}

// Process runs one claimed detection through the decision engine and records
// its terminal state. The engine's error (a store failure) is not returned:
// the detection is finished as failed and redelivery is an upstream concern.
func (s *Service) Process(ctx context.Context, det *Detection) *Outcome {
	out, err := s.engine.Process(ctx, det)
	if err != nil {
		s.logger.Error(ctx, err, "detection processing failed", "detection_id", det.ID)
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if err := s.store.FinishDetection(fctx, det.ID, out.State); err != nil {
		s.logger.Error(ctx, err, "failed to record detection state",
			"detection_id", det.ID,
			"state", string(out.State),
		)
	}
	return out
}

// GetAlert retrieves an alert by ID.
func (s *Service) GetAlert(ctx context.Context, id string) (*Alert, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.store.GetAlert(ctx, id)
}

// ListAlerts returns alerts matching q, newest first.
func (s *Service) ListAlerts(ctx context.Context, q AlertQuery) ([]*Alert, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.store.ListAlerts(ctx, q)
}

// Acknowledge transitions a new alert to acknowledged.
func (s *Service) Acknowledge(ctx context.Context, id string) (*Alert, error) {
	return s.transition(ctx, id, s.store.Acknowledge)
}

// Resolve transitions an unresolved alert to resolved.
func (s *Service) Resolve(ctx context.Context, id string) (*Alert, error) {
	return s.transition(ctx, id, s.store.Resolve)
}

func (s *Service) transition(ctx context.Context, id string, op func(context.Context, string, time.Time) (bool, error)) (*Alert, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, found, err := s.store.GetAlert(ctx, id); err != nil {
		return nil, err
	} else if !found {
		return nil, ErrNotFound
	}

	ok, err := op(ctx, id, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidTransition
	}
	al, _, err := s.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	return al, nil
}
