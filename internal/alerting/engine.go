package alerting

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"

	"github.com/harmonlabs/klaxon/internal/rules"
)

var tracer = otel.Tracer("github.com/harmonlabs/klaxon/internal/alerting")

const (
	// DefaultSuppressWindow collapses retries and duplicate ingestion of the
	// same physical event without masking distinct rapid events.
	DefaultSuppressWindow = 30 * time.Second

	// DefaultStoreTimeout bounds every store interaction so a worker can
	// never hang on the database.
	DefaultStoreTimeout = 5 * time.Second
)

// DispatchResult reports per-channel notification outcomes.
type DispatchResult struct {
	OwnerAttempted   bool
	OwnerDelivered   bool
	ServiceAttempted bool
	ServiceDelivered bool
}

// Attempted reports whether any channel was attempted.
func (r DispatchResult) Attempted() bool { return r.OwnerAttempted || r.ServiceAttempted }

// Notifier delivers an alert on the channels the rule enables. Best-effort,
// at-most-once: channel failures are independent and never returned as errors.
type Notifier interface {
	Dispatch(ctx context.Context, al *Alert, rule rules.Rule) DispatchResult
}

// NopNotifier attempts nothing. Used when no transport is configured.
type NopNotifier struct{}

// Dispatch implements Notifier.
func (NopNotifier) Dispatch(context.Context, *Alert, rules.Rule) DispatchResult {
	return DispatchResult{}
}

// Outcome is the terminal state of processing one detection.
type Outcome struct {
	State  DetectionState
	Reason string
	Alert  *Alert
}

// EngineOptions tune the decision engine.
type EngineOptions struct {
	SuppressWindow time.Duration
	StoreTimeout   time.Duration
}

// Engine is the detection-to-alert decision pipeline. It sequences
// reclassification, rule matching, duplicate suppression, alert persistence,
// and notification for one detection at a time; cross-worker coordination
// happens only through the store.
type Engine struct {
	catalog  *rules.Catalog
	store    Store
	notifier Notifier
	window   time.Duration
	timeout  time.Duration
	logger   log.Logger
	metrics  *Metrics
}

// NewEngine creates a decision engine. notifier may be nil, in which case no
// notifications are attempted.
func NewEngine(catalog *rules.Catalog, store Store, notifier Notifier, opts EngineOptions, logger log.Logger, metrics *Metrics) *Engine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = log.Nop()
	}
	if opts.SuppressWindow <= 0 {
		opts.SuppressWindow = DefaultSuppressWindow
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	return &Engine{
		catalog:  catalog,
		store:    store,
		notifier: notifier,
		window:   opts.SuppressWindow,
		timeout:  opts.StoreTimeout,
		logger:   logger,
		metrics:  metrics,
	}
}

// Process runs one detection through the pipeline and returns its terminal
// state. An error is returned only for store failures, which abort the
// detection; rejection and suppression are expected outcomes, not errors.
func (e *Engine) Process(ctx context.Context, det *Detection) (*Outcome, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "alerting.Process", trace.WithAttributes(
		attribute.String("klaxon.detection.id", det.ID),
		attribute.String("klaxon.vehicle.id", det.VehicleID),
		attribute.String("klaxon.sound.label", det.SoundLabel),
	))
	defer span.End()

	L := e.logger.With("detection_id", det.ID, "vehicle_id", det.VehicleID)

	out, err := e.process(ctx, L, det)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("klaxon.outcome", string(out.State)))

	if e.metrics != nil {
		e.metrics.DetectionsProcessed.WithLabelValues(string(out.State)).Inc()
		e.metrics.ProcessDuration.WithLabelValues(string(out.State)).Observe(time.Since(start).Seconds())
	}
	return out, err
}

func (e *Engine) process(ctx context.Context, L log.Logger, det *Detection) (*Outcome, error) {
	// Reclassified -> effective label drives everything downstream.
	eff := e.catalog.Reclassify(rules.Observation{
		Label:      det.SoundLabel,
		Confidence: det.Confidence,
		Top:        det.Predictions,
	})
	if eff.Reclassified() {
		L.Info(ctx, "detection reclassified",
			"from", eff.Original,
			"to", eff.Label,
			"confidence", eff.Confidence,
		)
		if e.metrics != nil {
			e.metrics.Reclassifications.WithLabelValues(eff.Original, eff.Label).Inc()
		}
	}

	// RuleMatched | Rejected.
	rule, matched := e.catalog.Match(eff.Label, eff.Confidence)
	if !matched {
		r, ok := e.catalog.Lookup(eff.Label)
		if !ok {
			L.Info(ctx, "detection rejected", "reason", "no rule", "label", eff.Label, "confidence", eff.Confidence)
			return &Outcome{State: DetectionRejected, Reason: "no rule for label"}, nil
		}
		L.Info(ctx, "detection rejected",
			"reason", "below threshold",
			"label", eff.Label,
			"confidence", eff.Confidence,
			"threshold", r.Threshold,
		)
		return &Outcome{State: DetectionRejected, Reason: "confidence below threshold"}, nil
	}

	// DuplicateChecked.
	dup, err := e.recentAlertExists(ctx, det.VehicleID, eff.Label)
	if err != nil {
		L.Error(ctx, err, "duplicate check failed", "label", eff.Label)
		return &Outcome{State: DetectionFailed, Reason: "duplicate check failed"}, fmt.Errorf("duplicate check: %w", err)
	}
	if dup {
		L.Info(ctx, "duplicate alert suppressed", "label", eff.Label, "window", e.window.String())
		if e.metrics != nil {
			e.metrics.Suppressed.Inc()
		}
		return &Outcome{State: DetectionSuppressed, Reason: "duplicate within window"}, nil
	}

	// Persisted. A failed insert aborts the whole detection before any
	// notification is attempted; redelivery is an upstream concern.
	al := BuildAlert(det, eff, rule, time.Now())
	if err := e.insertAlert(ctx, al); err != nil {
		L.Error(ctx, err, "alert persist failed", "alert_id", al.ID)
		return &Outcome{State: DetectionFailed, Reason: "alert persist failed"}, fmt.Errorf("insert alert: %w", err)
	}

	L.Info(ctx, "alert created",
		"alert_id", al.ID,
		"label", al.SoundLabel,
		"severity", string(al.Severity),
		"priority", string(al.Priority),
	)
	if e.metrics != nil {
		e.metrics.AlertsCreated.WithLabelValues(string(al.Severity), string(al.AlertType)).Inc()
	}

	// Notified(full|partial|none). Channel failures are recorded, never
	// escalated: the alert is already committed.
	res := e.notifier.Dispatch(ctx, al, rule)
	al.NotifiedOwner = res.OwnerDelivered
	al.NotifiedService = res.ServiceDelivered

	if res.Attempted() {
		if err := e.setNotified(ctx, al.ID, al.NotifiedOwner, al.NotifiedService); err != nil {
			// Flags stay false in the store; a repair process may correct
			// them later.
			L.Error(ctx, err, "notification flag update failed", "alert_id", al.ID)
		}
	}

	return &Outcome{State: DetectionAlerted, Alert: al}, nil
}

func (e *Engine) recentAlertExists(ctx context.Context, vehicleID, label string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.store.RecentAlertExists(ctx, vehicleID, label, e.window)
}

func (e *Engine) insertAlert(ctx context.Context, al *Alert) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.store.InsertAlert(ctx, al)
}

func (e *Engine) setNotified(ctx context.Context, id string, owner, service bool) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.store.SetNotified(ctx, id, owner, service)
}
