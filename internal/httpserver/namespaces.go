package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/WeWatchWall/stark/internal/auth"
	"github.com/WeWatchWall/stark/pkg/store"
	"github.com/WeWatchWall/stark/pkg/types"
)

// NamespaceHandler provides HTTP handlers for the namespaces API.
type NamespaceHandler struct {
	logger  *slog.Logger
	gateway store.Gateway
}

// NewNamespaceHandler creates a NamespaceHandler.
func NewNamespaceHandler(logger *slog.Logger, gateway store.Gateway) *NamespaceHandler {
	return &NamespaceHandler{logger: logger, gateway: gateway}
}

// Routes returns a chi.Router with all namespace routes mounted.
func (h *NamespaceHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Route("/{name}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Delete("/", h.handleDelete)
		r.Get("/usage", h.handleUsage)
	})
	return r
}

// CreateNamespaceRequest is the request body for POST /namespaces.
type CreateNamespaceRequest struct {
	Name          string               `json:"name" validate:"required"`
	Labels        map[string]string    `json:"labels"`
	ResourceQuota *types.ResourceQuota `json:"resourceQuota"`
	LimitRange    *types.LimitRange    `json:"limitRange"`
}

func (h *NamespaceHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateNamespaceRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	id := auth.FromContext(r.Context())
	ns := types.Namespace{
		Name:          req.Name,
		Phase:         types.NamespaceActive,
		Labels:        req.Labels,
		ResourceQuota: req.ResourceQuota,
		LimitRange:    req.LimitRange,
		CreatedBy:     id.UserID,
	}

	created, err := h.gateway.CreateNamespace(r.Context(), ns)
	if err != nil {
		h.logger.Error("creating namespace", "error", err)
		RespondErr(w, err)
		return
	}

	Respond(w, http.StatusCreated, created)
}

func (h *NamespaceHandler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := ParseOffsetParams(r)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	items, total, err := h.gateway.ListNamespaces(r.Context(), store.ListOptions{
		Limit:  params.PageSize,
		Offset: params.Offset,
	})
	if err != nil {
		h.logger.Error("listing namespaces", "error", err)
		RespondErr(w, err)
		return
	}

	Respond(w, http.StatusOK, NewOffsetPage(items, params, total))
}

func (h *NamespaceHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	ns, err := h.gateway.GetNamespace(r.Context(), name)
	if err != nil {
		h.logger.Error("getting namespace", "error", err, "name", name)
		RespondErr(w, err)
		return
	}

	Respond(w, http.StatusOK, ns)
}

func (h *NamespaceHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := h.gateway.DeleteNamespace(r.Context(), name); err != nil {
		h.logger.Error("deleting namespace", "error", err, "name", name)
		RespondErr(w, err)
		return
	}

	Respond(w, http.StatusNoContent, nil)
}

// namespaceUsageResponse reports current pod resource usage against quota.
type namespaceUsageResponse struct {
	Namespace string               `json:"namespace"`
	PodCount  int                  `json:"podCount"`
	Used      types.Resources      `json:"used"`
	Quota     *types.ResourceQuota `json:"quota,omitempty"`
}

func (h *NamespaceHandler) handleUsage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	ns, err := h.gateway.GetNamespace(r.Context(), name)
	if err != nil {
		h.logger.Error("getting namespace for usage", "error", err, "name", name)
		RespondErr(w, err)
		return
	}

	pods, _, err := h.gateway.ListPods(r.Context(), store.ListOptions{Namespace: name, Limit: 10000})
	if err != nil {
		h.logger.Error("listing pods for namespace usage", "error", err, "name", name)
		RespondErr(w, err)
		return
	}

	var used types.Resources
	podCount := 0
	for _, p := range pods {
		if !p.NonTerminal() {
			continue
		}
		used = used.Add(p.ResourceRequests)
		podCount++
	}
	used.Pods = int64(podCount)

	Respond(w, http.StatusOK, namespaceUsageResponse{
		Namespace: name,
		PodCount:  podCount,
		Used:      used,
		Quota:     ns.ResourceQuota,
	})
}
