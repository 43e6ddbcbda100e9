// Package ingest feeds detections into the decision pipeline: an HTTP
// intake API for the ML collaborator and a polling scanner that hands
// pending detections to a bounded worker pool.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/harmonlabs/klaxon/internal/alerting"
)

// AlertingService defines the business operations the API needs.
type AlertingService interface {
	Enqueue(ctx context.Context, det *alerting.Detection) error
	GetAlert(ctx context.Context, id string) (*alerting.Alert, bool, error)
	ListAlerts(ctx context.Context, q alerting.AlertQuery) ([]*alerting.Alert, error)
	Acknowledge(ctx context.Context, id string) (*alerting.Alert, error)
	Resolve(ctx context.Context, id string) (*alerting.Alert, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    AlertingService
}

// New creates a new API handler.
func New(logger log.Logger, svc AlertingService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("alerting service is required"))
	}
	return &API{logger: logger, svc: svc}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/detections", a.handleIngestDetection)
		r.Get("/alerts", a.handleListAlerts)
		r.Get("/alerts/{id}", a.handleGetAlert)
		r.Post("/alerts/{id}/acknowledge", a.handleAcknowledge)
		r.Post("/alerts/{id}/resolve", a.handleResolve)
	})
}

func (a *API) handleIngestDetection(w http.ResponseWriter, r *http.Request) {
	var det alerting.Detection
	if err := json.NewDecoder(r.Body).Decode(&det); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	if err := a.svc.Enqueue(r.Context(), &det); err != nil {
		switch {
		case errors.Is(err, alerting.ErrMissingVehicle),
			errors.Is(err, alerting.ErrMissingLabel),
			errors.Is(err, alerting.ErrBadConfidence):
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		default:
			a.logger.Error(r.Context(), err, "failed to enqueue detection", "vehicle_id", det.VehicleID)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("klaxon.detection.id", det.ID))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{"detection_id": det.ID})
}

func (a *API) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("klaxon.alert.id", id))

	al, ok, err := a.svc.GetAlert(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get alert", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(al)
}

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := alerting.AlertQuery{
		VehicleID: r.URL.Query().Get("vehicle_id"),
		Status:    alerting.Status(r.URL.Query().Get("status")),
	}

	alerts, err := a.svc.ListAlerts(r.Context(), q)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list alerts")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if alerts == nil {
		alerts = []*alerting.Alert{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"alerts": alerts})
}

func (a *API) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, a.svc.Acknowledge)
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, a.svc.Resolve)
}

func (a *API) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, string) (*alerting.Alert, error)) {
	id := chi.URLParam(r, "id")

	al, err := op(r.Context(), id)
	switch {
	case errors.Is(err, alerting.ErrNotFound):
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	case errors.Is(err, alerting.ErrInvalidTransition):
		http.Error(w, `{"error":"invalid status transition"}`, http.StatusConflict)
		return
	case err != nil:
		a.logger.Error(r.Context(), err, "failed to transition alert", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(al)
}
