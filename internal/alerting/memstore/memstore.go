// Package memstore provides an in-memory implementation of alerting.Store.
// Suitable for dev and testing; state is lost on restart.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/harmonlabs/klaxon/internal/alerting"
)

// Store holds detections and alerts in memory.
type Store struct {
	mu         sync.RWMutex
	detections map[string]*detectionRow
	alerts     map[string]*alerting.Alert
	order      []string // detection IDs in insertion order
}

type detectionRow struct {
	det   alerting.Detection
	state alerting.DetectionState
}

// New initializes an empty in-memory Store.
func New() *Store {
	return &Store{
		detections: make(map[string]*detectionRow),
		alerts:     make(map[string]*alerting.Alert),
	}
}

// InsertDetection stores a detection in the pending state.
func (s *Store) InsertDetection(_ context.Context, det *alerting.Detection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detections[det.ID] = &detectionRow{det: *det, state: alerting.DetectionPending}
	s.order = append(s.order, det.ID)
	return nil
}

// ClaimDetections moves up to limit pending detections to processing.
func (s *Store) ClaimDetections(_ context.Context, limit int) ([]*alerting.Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []*alerting.Detection
	for _, id := range s.order {
		if len(claimed) >= limit {
			break
		}
		row, ok := s.detections[id]
		if !ok || row.state != alerting.DetectionPending {
			continue
		}
		row.state = alerting.DetectionProcessing
		cp := row.det
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

// FinishDetection records a detection's terminal state.
func (s *Store) FinishDetection(_ context.Context, id string, state alerting.DetectionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.detections[id]; ok {
		row.state = state
	}
	return nil
}

// InsertAlert stores a copy of the alert.
func (s *Store) InsertAlert(_ context.Context, al *alerting.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *al
	s.alerts[al.ID] = &cp
	return nil
}

// RecentAlertExists reports whether an alert for the vehicle and label was
// created within the window.
func (s *Store) RecentAlertExists(_ context.Context, vehicleID, soundLabel string, window time.Duration) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	for _, al := range s.alerts {
		if al.VehicleID == vehicleID && al.SoundLabel == soundLabel && al.CreatedAt.After(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

// SetNotified records per-channel notification outcomes.
func (s *Store) SetNotified(_ context.Context, alertID string, owner, service bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if al, ok := s.alerts[alertID]; ok {
		al.NotifiedOwner = owner
		al.NotifiedService = service
	}
	return nil
}

// GetAlert retrieves an alert by ID. Returns a copy.
func (s *Store) GetAlert(_ context.Context, id string) (*alerting.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	al, ok := s.alerts[id]
	if !ok {
		return nil, false, nil
	}
	cp := *al
	return &cp, true, nil
}

// ListAlerts returns alerts matching q, newest first.
func (s *Store) ListAlerts(_ context.Context, q alerting.AlertQuery) ([]*alerting.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*alerting.Alert
	for _, al := range s.alerts {
		if q.VehicleID != "" && al.VehicleID != q.VehicleID {
			continue
		}
		if q.Status != "" && al.Status != q.Status {
			continue
		}
		cp := *al
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Acknowledge transitions a new alert to acknowledged.
func (s *Store) Acknowledge(_ context.Context, alertID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	al, ok := s.alerts[alertID]
	if !ok || al.Status != alerting.StatusNew {
		return false, nil
	}
	al.Status = alerting.StatusAcknowledged
	al.AcknowledgedAt = &at
	return true, nil
}

// Resolve transitions an unresolved alert to resolved.
func (s *Store) Resolve(_ context.Context, alertID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	al, ok := s.alerts[alertID]
	if !ok || al.Status == alerting.StatusResolved {
		return false, nil
	}
	al.Status = alerting.StatusResolved
	al.ResolvedAt = &at
	return true, nil
}
