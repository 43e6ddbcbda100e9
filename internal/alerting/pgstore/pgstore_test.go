package pgstore_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/harmonlabs/klaxon/internal/alerting"
	"github.com/harmonlabs/klaxon/internal/alerting/pgstore"
	"github.com/harmonlabs/klaxon/internal/postgres"
	"github.com/harmonlabs/klaxon/internal/rules"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("KLAXON_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("KLAXON_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn, postgres.RetryPolicy{MaxElapsed: 5 * time.Second})
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)
	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	return s
}

func testDetection(id string) *alerting.Detection {
	return &alerting.Detection{
		ID:           id,
		VehicleID:    "VH-it-1",
		SoundLabel:   "engine_fault",
		Confidence:   0.91,
		ModelVersion: "audioclf-v3",
		SourceRef:    "s3://captures/it.wav",
		Location:     &alerting.Location{Lat: 40.71, Lng: -74.00},
		Timestamp:    time.Now().Truncate(time.Microsecond).UTC(),
		Predictions: []rules.Prediction{
			{Label: "engine_fault", Confidence: 0.91},
			{Label: "tire_problem", Confidence: 0.04},
		},
	}
}

func TestDetectionClaimAndFinish(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id := fmt.Sprintf("it-det-%d", time.Now().UnixNano())
	if err := s.InsertDetection(ctx, testDetection(id)); err != nil {
		t.Fatalf("InsertDetection: %v", err)
	}

	var claimed *alerting.Detection
	// Other test runs may have pending rows; claim until ours shows up.
	for range 10 {
		batch, err := s.ClaimDetections(ctx, 50)
		if err != nil {
			t.Fatalf("ClaimDetections: %v", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, d := range batch {
			if d.ID == id {
				claimed = d
			} else {
				_ = s.FinishDetection(ctx, d.ID, alerting.DetectionRejected)
			}
		}
		if claimed != nil {
			break
		}
	}
	if claimed == nil {
		t.Fatal("inserted detection was never claimed")
	}

	if claimed.VehicleID != "VH-it-1" || claimed.SoundLabel != "engine_fault" {
		t.Errorf("claimed = %+v", claimed)
	}
	if claimed.Location == nil || claimed.Location.Lat != 40.71 {
		t.Errorf("location = %+v, want lat 40.71", claimed.Location)
	}
	if len(claimed.Predictions) != 2 {
		t.Errorf("predictions = %d, want 2", len(claimed.Predictions))
	}

	if err := s.FinishDetection(ctx, id, alerting.DetectionAlerted); err != nil {
		t.Fatalf("FinishDetection: %v", err)
	}
}

func TestAlertRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	id := fmt.Sprintf("ALERT-it-%d", now.UnixNano())
	al := &alerting.Alert{
		ID:                 id,
		VehicleID:          "VH-it-2",
		DetectionID:        "it-det-x",
		SoundLabel:         "gun_fire",
		OriginalSoundLabel: "siren",
		Confidence:         0.99,
		Severity:           rules.SeverityCritical,
		Priority:           alerting.PriorityHigh,
		AlertType:          rules.TypeEmergency,
		Message:            "Gun fire detected!",
		Status:             alerting.StatusNew,
		Location:           &alerting.Location{Lat: 1.5, Lng: 2.5},
		Metadata: alerting.Metadata{
			ModelVersion:   "audioclf-v3",
			SourceRef:      "s3://captures/it2.wav",
			TopPredictions: []rules.Prediction{{Label: "siren", Confidence: 0.99}},
		},
		CreatedAt: now,
	}
	if err := s.InsertAlert(ctx, al); err != nil {
		t.Fatalf("InsertAlert: %v", err)
	}

	got, ok, err := s.GetAlert(ctx, id)
	if err != nil {
		t.Fatalf("GetAlert: %v", err)
	}
	if !ok {
		t.Fatal("GetAlert returned ok=false")
	}
	if got.SoundLabel != "gun_fire" || got.OriginalSoundLabel != "siren" {
		t.Errorf("labels = (%q, %q)", got.SoundLabel, got.OriginalSoundLabel)
	}
	if got.Severity != rules.SeverityCritical || got.Priority != alerting.PriorityHigh {
		t.Errorf("severity/priority = (%q, %q)", got.Severity, got.Priority)
	}
	if got.Metadata.ModelVersion != "audioclf-v3" || len(got.Metadata.TopPredictions) != 1 {
		t.Errorf("metadata = %+v", got.Metadata)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("created at = %v, want %v", got.CreatedAt, now)
	}

	// Duplicate window behavior against the row just written.
	if dup, err := s.RecentAlertExists(ctx, "VH-it-2", "gun_fire", time.Hour); err != nil || !dup {
		t.Errorf("RecentAlertExists(fresh) = (%v, %v), want true", dup, err)
	}
	if dup, err := s.RecentAlertExists(ctx, "VH-it-2", "gun_fire", time.Nanosecond); err != nil || dup {
		t.Errorf("RecentAlertExists(tiny window) = (%v, %v), want false", dup, err)
	}

	if err := s.SetNotified(ctx, id, true, false); err != nil {
		t.Fatalf("SetNotified: %v", err)
	}
	got, _, err = s.GetAlert(ctx, id)
	if err != nil {
		t.Fatalf("GetAlert: %v", err)
	}
	if !got.NotifiedOwner || got.NotifiedService {
		t.Errorf("notified flags = (%v, %v), want (true, false)", got.NotifiedOwner, got.NotifiedService)
	}
}

func TestAlertTransitions(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	id := fmt.Sprintf("ALERT-it-tr-%d", now.UnixNano())
	al := &alerting.Alert{
		ID: id, VehicleID: "VH-it-3", SoundLabel: "horn",
		Severity: rules.SeverityMedium, Priority: alerting.PriorityMedium,
		AlertType: rules.TypeSafety, Message: "m",
		Status: alerting.StatusNew, CreatedAt: now,
	}
	if err := s.InsertAlert(ctx, al); err != nil {
		t.Fatalf("InsertAlert: %v", err)
	}

	if ok, err := s.Acknowledge(ctx, id, now); err != nil || !ok {
		t.Fatalf("Acknowledge = (%v, %v), want (true, nil)", ok, err)
	}
	if ok, err := s.Acknowledge(ctx, id, now); err != nil || ok {
		t.Errorf("second Acknowledge = (%v, %v), want (false, nil)", ok, err)
	}
	if ok, err := s.Resolve(ctx, id, now); err != nil || !ok {
		t.Fatalf("Resolve = (%v, %v), want (true, nil)", ok, err)
	}
	if ok, err := s.Resolve(ctx, id, now); err != nil || ok {
		t.Errorf("second Resolve = (%v, %v), want (false, nil)", ok, err)
	}

	got, _, err := s.GetAlert(ctx, id)
	if err != nil {
		t.Fatalf("GetAlert: %v", err)
	}
	if got.Status != alerting.StatusResolved || got.AcknowledgedAt == nil || got.ResolvedAt == nil {
		t.Errorf("final alert = %+v", got)
	}

	list, err := s.ListAlerts(ctx, alerting.AlertQuery{VehicleID: "VH-it-3", Status: alerting.StatusResolved, Limit: 5})
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	found := false
	for _, a := range list {
		if a.ID == id {
			found = true
		}
	}
	if !found {
		t.Error("expected resolved alert in filtered list")
	}
}
