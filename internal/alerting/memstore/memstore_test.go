package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/harmonlabs/klaxon/internal/alerting"
)

func TestDetectionLifecycle(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	for i := range 3 {
		det := &alerting.Detection{ID: fmt.Sprintf("d-%d", i), VehicleID: "VH-1", SoundLabel: "horn", Confidence: 0.9}
		if err := s.InsertDetection(ctx, det); err != nil {
			t.Fatalf("InsertDetection: %v", err)
		}
	}

	claimed, err := s.ClaimDetections(ctx, 2)
	if err != nil {
		t.Fatalf("ClaimDetections: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed = %d, want 2", len(claimed))
	}
	if claimed[0].ID != "d-0" || claimed[1].ID != "d-1" {
		t.Errorf("claim order = %q, %q, want oldest first", claimed[0].ID, claimed[1].ID)
	}

	// Claimed detections are not handed out again.
	rest, err := s.ClaimDetections(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimDetections: %v", err)
	}
	if len(rest) != 1 || rest[0].ID != "d-2" {
		t.Errorf("second claim = %v, want only d-2", rest)
	}

	if err := s.FinishDetection(ctx, "d-0", alerting.DetectionAlerted); err != nil {
		t.Fatalf("FinishDetection: %v", err)
	}
	if more, _ := s.ClaimDetections(ctx, 10); len(more) != 0 {
		t.Errorf("claim after finish = %d, want 0", len(more))
	}
}

func TestRecentAlertExists_Window(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	fresh := &alerting.Alert{
		ID: "AL-fresh", VehicleID: "VH-1", SoundLabel: "engine_fault",
		Status: alerting.StatusNew, CreatedAt: time.Now().Add(-5 * time.Second),
	}
	stale := &alerting.Alert{
		ID: "AL-stale", VehicleID: "VH-1", SoundLabel: "brake_issue",
		Status: alerting.StatusNew, CreatedAt: time.Now().Add(-45 * time.Second),
	}
	for _, al := range []*alerting.Alert{fresh, stale} {
		if err := s.InsertAlert(ctx, al); err != nil {
			t.Fatalf("InsertAlert: %v", err)
		}
	}

	window := 30 * time.Second

	// Same vehicle and label, 5 seconds old: duplicate.
	if ok, _ := s.RecentAlertExists(ctx, "VH-1", "engine_fault", window); !ok {
		t.Error("expected duplicate inside window")
	}
	// Same vehicle and label but outside the window: not a duplicate.
	if ok, _ := s.RecentAlertExists(ctx, "VH-1", "brake_issue", window); ok {
		t.Error("expected no duplicate outside window")
	}
	// Different label on the same vehicle.
	if ok, _ := s.RecentAlertExists(ctx, "VH-1", "horn", window); ok {
		t.Error("different label should not count as duplicate")
	}
	// Same label on a different vehicle.
	if ok, _ := s.RecentAlertExists(ctx, "VH-2", "engine_fault", window); ok {
		t.Error("different vehicle should not count as duplicate")
	}
}

func TestSetNotified(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	al := &alerting.Alert{ID: "AL-1", VehicleID: "VH-1", SoundLabel: "horn", Status: alerting.StatusNew, CreatedAt: time.Now()}
	if err := s.InsertAlert(ctx, al); err != nil {
		t.Fatalf("InsertAlert: %v", err)
	}
	if err := s.SetNotified(ctx, "AL-1", true, false); err != nil {
		t.Fatalf("SetNotified: %v", err)
	}

	got, ok, err := s.GetAlert(ctx, "AL-1")
	if err != nil || !ok {
		t.Fatalf("GetAlert = (%v, %v)", ok, err)
	}
	if !got.NotifiedOwner || got.NotifiedService {
		t.Errorf("flags = (%v, %v), want (true, false)", got.NotifiedOwner, got.NotifiedService)
	}
}

func TestGetAlert_ReturnsCopy(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	al := &alerting.Alert{ID: "AL-1", VehicleID: "VH-1", SoundLabel: "horn", Status: alerting.StatusNew, CreatedAt: time.Now()}
	if err := s.InsertAlert(ctx, al); err != nil {
		t.Fatalf("InsertAlert: %v", err)
	}

	got, _, _ := s.GetAlert(ctx, "AL-1")
	got.Status = alerting.StatusResolved

	again, _, _ := s.GetAlert(ctx, "AL-1")
	if again.Status != alerting.StatusNew {
		t.Error("mutating a returned alert must not change the store")
	}
}

func TestListAlerts(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	alerts := []*alerting.Alert{
		{ID: "AL-1", VehicleID: "VH-1", SoundLabel: "horn", Status: alerting.StatusNew, CreatedAt: base},
		{ID: "AL-2", VehicleID: "VH-2", SoundLabel: "horn", Status: alerting.StatusNew, CreatedAt: base.Add(10 * time.Second)},
		{ID: "AL-3", VehicleID: "VH-1", SoundLabel: "siren", Status: alerting.StatusResolved, CreatedAt: base.Add(20 * time.Second)},
	}
	for _, al := range alerts {
		if err := s.InsertAlert(ctx, al); err != nil {
			t.Fatalf("InsertAlert: %v", err)
		}
	}

	all, err := s.ListAlerts(ctx, alerting.AlertQuery{})
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].ID != "AL-3" || all[2].ID != "AL-1" {
		t.Errorf("order = %q..%q, want newest first", all[0].ID, all[2].ID)
	}

	byVehicle, _ := s.ListAlerts(ctx, alerting.AlertQuery{VehicleID: "VH-1"})
	if len(byVehicle) != 2 {
		t.Errorf("vehicle filter len = %d, want 2", len(byVehicle))
	}

	byStatus, _ := s.ListAlerts(ctx, alerting.AlertQuery{Status: alerting.StatusResolved})
	if len(byStatus) != 1 || byStatus[0].ID != "AL-3" {
		t.Errorf("status filter = %v, want AL-3 only", byStatus)
	}

	limited, _ := s.ListAlerts(ctx, alerting.AlertQuery{Limit: 1})
	if len(limited) != 1 || limited[0].ID != "AL-3" {
		t.Errorf("limited = %v, want newest alert only", limited)
	}
}

func TestAcknowledgeAndResolve(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	al := &alerting.Alert{ID: "AL-1", VehicleID: "VH-1", SoundLabel: "horn", Status: alerting.StatusNew, CreatedAt: now}
	if err := s.InsertAlert(ctx, al); err != nil {
		t.Fatalf("InsertAlert: %v", err)
	}

	if ok, _ := s.Acknowledge(ctx, "missing", now); ok {
		t.Error("acknowledging a missing alert should report false")
	}
	if ok, _ := s.Acknowledge(ctx, "AL-1", now); !ok {
		t.Fatal("expected acknowledge to succeed")
	}
	if ok, _ := s.Acknowledge(ctx, "AL-1", now); ok {
		t.Error("acknowledging twice should report false")
	}

	if ok, _ := s.Resolve(ctx, "AL-1", now); !ok {
		t.Fatal("expected resolve of acknowledged alert to succeed")
	}
	if ok, _ := s.Resolve(ctx, "AL-1", now); ok {
		t.Error("resolving a resolved alert should report false")
	}

	got, _, _ := s.GetAlert(ctx, "AL-1")
	if got.Status != alerting.StatusResolved {
		t.Errorf("status = %q, want resolved", got.Status)
	}
	if got.AcknowledgedAt == nil || got.ResolvedAt == nil {
		t.Error("expected both transition timestamps")
	}
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			det := &alerting.Detection{ID: fmt.Sprintf("d-%d", i), VehicleID: "VH-1", SoundLabel: "horn", Confidence: 0.9}
			_ = s.InsertDetection(ctx, det)
		}()
		go func() {
			defer wg.Done()
			_, _ = s.ClaimDetections(ctx, 5)
		}()
	}
	wg.Wait()

	// Everything inserted ends up either pending or processing exactly once.
	total := 0
	for {
		claimed, err := s.ClaimDetections(ctx, 100)
		if err != nil {
			t.Fatalf("ClaimDetections: %v", err)
		}
		if len(claimed) == 0 {
			break
		}
		total += len(claimed)
	}
	if total > 20 {
		t.Errorf("claimed %d detections total, want at most 20", total)
	}
}
