package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/WeWatchWall/stark/internal/errkind"
	"github.com/WeWatchWall/stark/pkg/store"
	"github.com/WeWatchWall/stark/pkg/types"
)

// ServiceHandler provides HTTP handlers for the services API.
type ServiceHandler struct {
	logger  *slog.Logger
	gateway store.Gateway
}

// NewServiceHandler creates a ServiceHandler.
func NewServiceHandler(logger *slog.Logger, gateway store.Gateway) *ServiceHandler {
	return &ServiceHandler{logger: logger, gateway: gateway}
}

// Routes returns a chi.Router with all service routes mounted.
func (h *ServiceHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Put("/", h.handleUpdate)
		r.Delete("/", h.handleDelete)
		r.Post("/rollback", h.handleRollback)
	})
	return r
}

// CreateServiceRequest is the request body for POST /services.
type CreateServiceRequest struct {
	Name        string            `json:"name" validate:"required"`
	Namespace   string            `json:"namespace" validate:"required"`
	PackID      string            `json:"packId" validate:"required"`
	PackName    string            `json:"packName" validate:"required"`
	PackVersion string            `json:"packVersion" validate:"required"`
	Replicas    int               `json:"replicas" validate:"gte=0"`
	Visibility  string            `json:"visibility" validate:"required,oneof=private public system"`
	Exposed     bool              `json:"exposed"`
	IngressPort int               `json:"ingressPort"`
	PodLabels   map[string]string `json:"podLabels"`
}

func (h *ServiceHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateServiceRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	now := time.Now()
	svc := types.Service{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Namespace:   req.Namespace,
		PackID:      req.PackID,
		PackName:    req.PackName,
		PackVersion: req.PackVersion,
		Replicas:    req.Replicas,
		Status:      types.ServicePending,
		Visibility:  types.Visibility(req.Visibility),
		Exposed:     req.Exposed,
		IngressPort: req.IngressPort,
		PodLabels:   req.PodLabels,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	created, err := h.gateway.CreateService(r.Context(), svc)
	if err != nil {
		h.logger.Error("creating service", "error", err)
		RespondErr(w, err)
		return
	}

	Respond(w, http.StatusCreated, created)
}

func (h *ServiceHandler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := ParseOffsetParams(r)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	items, total, err := h.gateway.ListServices(r.Context(), store.ListOptions{
		Namespace: r.URL.Query().Get("namespace"),
		Status:    r.URL.Query().Get("status"),
		Limit:     params.PageSize,
		Offset:    params.Offset,
	})
	if err != nil {
		h.logger.Error("listing services", "error", err)
		RespondErr(w, err)
		return
	}

	Respond(w, http.StatusOK, NewOffsetPage(items, params, total))
}

func (h *ServiceHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	svc, err := h.gateway.GetService(r.Context(), id)
	if err != nil {
		h.logger.Error("getting service", "error", err, "id", id)
		RespondErr(w, err)
		return
	}

	Respond(w, http.StatusOK, svc)
}

// UpdateServiceRequest is the request body for PUT /services/{id}. Changing
// PackVersion or Replicas drives the service reconciler's rolling-update
// pass (spec §4.D) the next time it observes this service.
type UpdateServiceRequest struct {
	PackVersion string `json:"packVersion" validate:"required"`
	Replicas    int    `json:"replicas" validate:"gte=0"`
	Exposed     bool   `json:"exposed"`
	IngressPort int    `json:"ingressPort"`
}

func (h *ServiceHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateServiceRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	svc, err := h.gateway.GetService(r.Context(), id)
	if err != nil {
		h.logger.Error("getting service for update", "error", err, "id", id)
		RespondErr(w, err)
		return
	}

	svc.PackVersion = req.PackVersion
	svc.Replicas = req.Replicas
	svc.Exposed = req.Exposed
	svc.IngressPort = req.IngressPort
	svc.Status = types.ServiceRolling
	svc.UpdatedAt = time.Now()

	updated, err := h.gateway.UpdateService(r.Context(), svc)
	if err != nil {
		h.logger.Error("updating service", "error", err, "id", id)
		RespondErr(w, err)
		return
	}

	Respond(w, http.StatusOK, updated)
}

func (h *ServiceHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.gateway.DeleteService(r.Context(), id); err != nil {
		h.logger.Error("deleting service", "error", err, "id", id)
		RespondErr(w, err)
		return
	}

	Respond(w, http.StatusNoContent, nil)
}

func (h *ServiceHandler) handleRollback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	svc, err := h.gateway.GetService(r.Context(), id)
	if err != nil {
		h.logger.Error("getting service for rollback", "error", err, "id", id)
		RespondErr(w, err)
		return
	}

	if svc.LastStableVersion == "" {
		RespondErr(w, errkind.Validationf("no_stable_version", "service %s has no recorded stable version to roll back to", id))
		return
	}

	svc.PackVersion = svc.LastStableVersion
	svc.Status = types.ServiceRolling
	svc.FailureState = types.FailureState{}
	svc.UpdatedAt = time.Now()

	updated, err := h.gateway.UpdateService(r.Context(), svc)
	if err != nil {
		h.logger.Error("rolling back service", "error", err, "id", id)
		RespondErr(w, err)
		return
	}

	Respond(w, http.StatusOK, updated)
}
