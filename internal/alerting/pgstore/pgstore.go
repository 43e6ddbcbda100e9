// Package pgstore provides a PostgreSQL implementation of alerting.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harmonlabs/klaxon/internal/alerting"
	"github.com/harmonlabs/klaxon/internal/rules"
)

var tracer = otel.Tracer("github.com/harmonlabs/klaxon/internal/alerting/pgstore")

//go:embed schema.sql
var schema string

// Store persists detections and alerts in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store. The pool is owned by the
// caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// InsertDetection stores a new detection in the pending state.
func (s *Store) InsertDetection(ctx context.Context, det *alerting.Detection) error {
	ctx, span := startSpan(ctx, "pgstore.InsertDetection", "INSERT")
	defer span.End()

	predictions, err := json.Marshal(det.Predictions)
	if err != nil {
		return spanErr(span, fmt.Errorf("marshal predictions: %w", err))
	}

	var lat, lng *float64
	if det.Location != nil {
		lat, lng = &det.Location.Lat, &det.Location.Lng
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO detections (id, vehicle_id, sound_label, confidence, predictions,
		     model_version, source_ref, lat, lng, detected_at, state)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		det.ID, det.VehicleID, det.SoundLabel, det.Confidence, predictions,
		det.ModelVersion, det.SourceRef, lat, lng, det.Timestamp, string(alerting.DetectionPending),
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("insert detection: %w", err))
	}
	return nil
}

// ClaimDetections moves up to limit pending detections to processing and
// returns them, oldest first. SKIP LOCKED keeps concurrent claimers from
// handing out the same detection twice.
func (s *Store) ClaimDetections(ctx context.Context, limit int) ([]*alerting.Detection, error) {
	ctx, span := startSpan(ctx, "pgstore.ClaimDetections", "UPDATE")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`UPDATE detections SET state = $1
		 WHERE id IN (
		     SELECT id FROM detections
		     WHERE state = $2
		     ORDER BY created_at
		     LIMIT $3
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, vehicle_id, sound_label, confidence, predictions,
		     model_version, source_ref, lat, lng, detected_at`,
		string(alerting.DetectionProcessing), string(alerting.DetectionPending), limit,
	)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("claim detections: %w", err))
	}
	defer rows.Close()

	var out []*alerting.Detection
	for rows.Next() {
		var (
			det         alerting.Detection
			predictions []byte
			lat, lng    *float64
		)
		if err := rows.Scan(&det.ID, &det.VehicleID, &det.SoundLabel, &det.Confidence, &predictions,
			&det.ModelVersion, &det.SourceRef, &lat, &lng, &det.Timestamp); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan detection: %w", err))
		}
		if err := json.Unmarshal(predictions, &det.Predictions); err != nil {
			return nil, spanErr(span, fmt.Errorf("unmarshal predictions %s: %w", det.ID, err))
		}
		if lat != nil && lng != nil {
			det.Location = &alerting.Location{Lat: *lat, Lng: *lng}
		}
		out = append(out, &det)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate detections: %w", err))
	}

	span.SetAttributes(attribute.Int("klaxon.claimed", len(out)))
	return out, nil
}

// FinishDetection records a detection's terminal state.
func (s *Store) FinishDetection(ctx context.Context, id string, state alerting.DetectionState) error {
	ctx, span := startSpan(ctx, "pgstore.FinishDetection", "UPDATE")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`UPDATE detections SET state = $1, processed_at = now() WHERE id = $2`,
		string(state), id,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("finish detection: %w", err))
	}
	return nil
}

// InsertAlert persists a new alert.
func (s *Store) InsertAlert(ctx context.Context, al *alerting.Alert) error {
	ctx, span := startSpan(ctx, "pgstore.InsertAlert", "INSERT")
	defer span.End()

	metadata, err := json.Marshal(al.Metadata)
	if err != nil {
		return spanErr(span, fmt.Errorf("marshal metadata: %w", err))
	}

	var original *string
	if al.OriginalSoundLabel != "" {
		original = &al.OriginalSoundLabel
	}
	var lat, lng *float64
	if al.Location != nil {
		lat, lng = &al.Location.Lat, &al.Location.Lng
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO alerts (id, vehicle_id, detection_id, sound_label, original_sound_label,
		     confidence, severity, priority, alert_type, message, status,
		     notified_owner, notified_service, lat, lng, metadata, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		al.ID, al.VehicleID, al.DetectionID, al.SoundLabel, original,
		al.Confidence, string(al.Severity), string(al.Priority), string(al.AlertType), al.Message, string(al.Status),
		al.NotifiedOwner, al.NotifiedService, lat, lng, metadata, al.CreatedAt,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("insert alert: %w", err))
	}
	return nil
}

// RecentAlertExists reports whether an alert for the vehicle and effective
// label was created within the window.
func (s *Store) RecentAlertExists(ctx context.Context, vehicleID, soundLabel string, window time.Duration) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.RecentAlertExists", "SELECT")
	defer span.End()

	cutoff := time.Now().Add(-window)

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM alerts
		     WHERE vehicle_id = $1 AND sound_label = $2 AND created_at > $3
		 )`,
		vehicleID, soundLabel, cutoff,
	).Scan(&exists)
	if err != nil {
		return false, spanErr(span, fmt.Errorf("recent alert exists: %w", err))
	}
	return exists, nil
}

// SetNotified records per-channel notification outcomes for an alert.
func (s *Store) SetNotified(ctx context.Context, alertID string, owner, service bool) error {
	ctx, span := startSpan(ctx, "pgstore.SetNotified", "UPDATE")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`UPDATE alerts SET notified_owner = $1, notified_service = $2 WHERE id = $3`,
		owner, service, alertID,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("set notified: %w", err))
	}
	return nil
}

const alertColumns = `id, vehicle_id, detection_id, sound_label, original_sound_label,
	confidence, severity, priority, alert_type, message, status,
	notified_owner, notified_service, lat, lng, metadata, created_at, acknowledged_at, resolved_at`

// GetAlert retrieves an alert by ID.
func (s *Store) GetAlert(ctx context.Context, id string) (*alerting.Alert, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetAlert", "SELECT")
	defer span.End()

	al, err := scanAlertRow(s.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
	if err != nil {
		return nil, false, spanErr(span, err)
	}
	if al == nil {
		return nil, false, nil
	}
	return al, true, nil
}

// ListAlerts returns alerts matching q, newest first.
func (s *Store) ListAlerts(ctx context.Context, q alerting.AlertQuery) ([]*alerting.Alert, error) {
	ctx, span := startSpan(ctx, "pgstore.ListAlerts", "SELECT")
	defer span.End()

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`
	args := []any{}
	if q.VehicleID != "" {
		args = append(args, q.VehicleID)
		query += fmt.Sprintf(" AND vehicle_id = $%d", len(args))
	}
	if q.Status != "" {
		args = append(args, string(q.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("list alerts: %w", err))
	}
	defer rows.Close()

	var out []*alerting.Alert
	for rows.Next() {
		al, err := scanAlertRow(rows)
		if err != nil {
			return nil, spanErr(span, err)
		}
		out = append(out, al)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate alerts: %w", err))
	}
	return out, nil
}

// Acknowledge transitions a new alert to acknowledged.
func (s *Store) Acknowledge(ctx context.Context, alertID string, at time.Time) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Acknowledge", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET status = $1, acknowledged_at = $2 WHERE id = $3 AND status = $4`,
		string(alerting.StatusAcknowledged), at, alertID, string(alerting.StatusNew),
	)
	if err != nil {
		return false, spanErr(span, fmt.Errorf("acknowledge: %w", err))
	}
	return tag.RowsAffected() > 0, nil
}

// Resolve transitions an unresolved alert to resolved.
func (s *Store) Resolve(ctx context.Context, alertID string, at time.Time) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Resolve", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET status = $1, resolved_at = $2 WHERE id = $3 AND status <> $1`,
		string(alerting.StatusResolved), at, alertID,
	)
	if err != nil {
		return false, spanErr(span, fmt.Errorf("resolve: %w", err))
	}
	return tag.RowsAffected() > 0, nil
}

// scanAlertRow scans a single alert row. Returns (nil, nil) when no row is
// found.
func scanAlertRow(row pgx.Row) (*alerting.Alert, error) {
	var (
		al             alerting.Alert
		original       *string
		severity       string
		priority       string
		alertType      string
		status         string
		lat, lng       *float64
		metadata       []byte
		acknowledgedAt *time.Time
		resolvedAt     *time.Time
	)

	err := row.Scan(
		&al.ID, &al.VehicleID, &al.DetectionID, &al.SoundLabel, &original,
		&al.Confidence, &severity, &priority, &alertType, &al.Message, &status,
		&al.NotifiedOwner, &al.NotifiedService, &lat, &lng, &metadata,
		&al.CreatedAt, &acknowledgedAt, &resolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}

	if original != nil {
		al.OriginalSoundLabel = *original
	}
	al.Severity = rules.Severity(severity)
	al.Priority = alerting.Priority(priority)
	al.AlertType = rules.AlertType(alertType)
	al.Status = alerting.Status(status)
	if lat != nil && lng != nil {
		al.Location = &alerting.Location{Lat: *lat, Lng: *lng}
	}
	if err := json.Unmarshal(metadata, &al.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	al.AcknowledgedAt = acknowledgedAt
	al.ResolvedAt = resolvedAt

	return &al, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
