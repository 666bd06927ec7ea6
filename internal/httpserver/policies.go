package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/WeWatchWall/stark/pkg/store"
	"github.com/WeWatchWall/stark/pkg/types"
)

// PolicyHandler provides HTTP handlers for the network policies API.
type PolicyHandler struct {
	logger  *slog.Logger
	gateway store.Gateway
}

// NewPolicyHandler creates a PolicyHandler.
func NewPolicyHandler(logger *slog.Logger, gateway store.Gateway) *PolicyHandler {
	return &PolicyHandler{logger: logger, gateway: gateway}
}

// Routes returns a chi.Router with all network policy routes mounted.
func (h *PolicyHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Delete("/{id}", h.handleDelete)
	return r
}

// CreatePolicyRequest is the request body for POST /network-policies.
type CreatePolicyRequest struct {
	SourceService string `json:"sourceService" validate:"required"`
	TargetService string `json:"targetService" validate:"required"`
	Namespace     string `json:"namespace" validate:"required"`
	Action        string `json:"action" validate:"required,oneof=allow deny"`
}

func (h *PolicyHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreatePolicyRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	policy := types.NetworkPolicy{
		ID:            uuid.NewString(),
		SourceService: req.SourceService,
		TargetService: req.TargetService,
		Namespace:     req.Namespace,
		Action:        types.PolicyAction(req.Action),
	}

	created, err := h.gateway.CreateNetworkPolicy(r.Context(), policy)
	if err != nil {
		h.logger.Error("creating network policy", "error", err)
		RespondErr(w, err)
		return
	}

	Respond(w, http.StatusCreated, created)
}

func (h *PolicyHandler) handleList(w http.ResponseWriter, r *http.Request) {
	namespace := r.URL.Query().Get("namespace")
	if namespace == "" {
		RespondError(w, http.StatusBadRequest, "bad_request", "namespace query parameter is required")
		return
	}

	policies, err := h.gateway.ListNetworkPolicies(r.Context(), namespace)
	if err != nil {
		h.logger.Error("listing network policies", "error", err, "namespace", namespace)
		RespondErr(w, err)
		return
	}

	Respond(w, http.StatusOK, policies)
}

func (h *PolicyHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.gateway.DeleteNetworkPolicy(r.Context(), id); err != nil {
		h.logger.Error("deleting network policy", "error", err, "id", id)
		RespondErr(w, err)
		return
	}

	Respond(w, http.StatusNoContent, nil)
}
