package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/harmonlabs/klaxon/internal/alerting"
)

// fakeService returns canned results for API handlers.
type fakeService struct {
	enqueueErr    error
	enqueued      []*alerting.Detection
	alert         *alerting.Alert
	alerts        []*alerting.Alert
	lastQuery     alerting.AlertQuery
	transitionErr error
}

func (f *fakeService) Enqueue(_ context.Context, det *alerting.Detection) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	if det.ID == "" {
		det.ID = "generated-id"
	}
	f.enqueued = append(f.enqueued, det)
	return nil
}

func (f *fakeService) GetAlert(_ context.Context, id string) (*alerting.Alert, bool, error) {
	if f.alert != nil && f.alert.ID == id {
		return f.alert, true, nil
	}
	return nil, false, nil
}

func (f *fakeService) ListAlerts(_ context.Context, q alerting.AlertQuery) ([]*alerting.Alert, error) {
	f.lastQuery = q
	return f.alerts, nil
}

func (f *fakeService) Acknowledge(_ context.Context, id string) (*alerting.Alert, error) {
	if f.transitionErr != nil {
		return nil, f.transitionErr
	}
	return f.alert, nil
}

func (f *fakeService) Resolve(_ context.Context, id string) (*alerting.Alert, error) {
	if f.transitionErr != nil {
		return nil, f.transitionErr
	}
	return f.alert, nil
}

func newTestRouter(svc AlertingService) http.Handler {
	r := chi.NewRouter()
	New(nil, svc).RegisterRoutes(r)
	return r
}

func TestIngestDetection(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	h := newTestRouter(svc)

	body := `{"vehicle_id":"VH-1","sound_label":"brake_issue","confidence":0.92,"all_predictions":[{"label":"brake_issue","confidence":0.92}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/detections", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["detection_id"] == "" {
		t.Error("expected detection_id in response")
	}
	if len(svc.enqueued) != 1 || svc.enqueued[0].VehicleID != "VH-1" {
		t.Errorf("enqueued = %+v", svc.enqueued)
	}
}

func TestIngestDetection_BadPayload(t *testing.T) {
	t.Parallel()

	h := newTestRouter(&fakeService{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/detections", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestIngestDetection_ValidationError(t *testing.T) {
	t.Parallel()

	svc := &fakeService{enqueueErr: alerting.ErrMissingVehicle}
	h := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/detections", strings.NewReader(`{"sound_label":"horn","confidence":0.9}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "vehicle") {
		t.Errorf("body = %q, want validation detail", rec.Body.String())
	}
}

func TestIngestDetection_StoreError(t *testing.T) {
	t.Parallel()

	svc := &fakeService{enqueueErr: errors.New("db down")}
	h := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/detections", strings.NewReader(`{"vehicle_id":"VH-1","sound_label":"horn","confidence":0.9}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestGetAlert(t *testing.T) {
	t.Parallel()

	svc := &fakeService{alert: &alerting.Alert{ID: "AL-1", VehicleID: "VH-1", Status: alerting.StatusNew, CreatedAt: time.Now()}}
	h := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts/AL-1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got alerting.Alert
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "AL-1" {
		t.Errorf("ID = %q, want AL-1", got.ID)
	}
}

func TestGetAlert_NotFound(t *testing.T) {
	t.Parallel()

	h := newTestRouter(&fakeService{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts/missing", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListAlerts(t *testing.T) {
	t.Parallel()

	svc := &fakeService{alerts: []*alerting.Alert{{ID: "AL-1"}, {ID: "AL-2"}}}
	h := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts?vehicle_id=VH-1&status=new", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if svc.lastQuery.VehicleID != "VH-1" || svc.lastQuery.Status != alerting.StatusNew {
		t.Errorf("query = %+v", svc.lastQuery)
	}
	var resp struct {
		Alerts []alerting.Alert `json:"alerts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Alerts) != 2 {
		t.Errorf("alerts = %d, want 2", len(resp.Alerts))
	}
}

func TestListAlerts_EmptyIsArray(t *testing.T) {
	t.Parallel()

	h := newTestRouter(&fakeService{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"alerts":[]`) {
		t.Errorf("body = %q, want empty array not null", rec.Body.String())
	}
}

func TestAcknowledge(t *testing.T) {
	t.Parallel()

	svc := &fakeService{alert: &alerting.Alert{ID: "AL-1", Status: alerting.StatusAcknowledged}}
	h := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/AL-1/acknowledge", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got alerting.Alert
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != alerting.StatusAcknowledged {
		t.Errorf("status = %q, want acknowledged", got.Status)
	}
}

func TestTransition_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"not found", alerting.ErrNotFound, http.StatusNotFound},
		{"invalid transition", alerting.ErrInvalidTransition, http.StatusConflict},
		{"store error", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newTestRouter(&fakeService{transitionErr: tc.err})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/AL-1/resolve", nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantCode)
			}
		})
	}
}
