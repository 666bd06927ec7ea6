package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/WeWatchWall/stark/pkg/noderegistry"
	"github.com/WeWatchWall/stark/pkg/store"
)

// NodeHandler provides HTTP handlers for the nodes API.
type NodeHandler struct {
	logger   *slog.Logger
	gateway  store.Gateway
	registry *noderegistry.Registry
}

// NewNodeHandler creates a NodeHandler.
func NewNodeHandler(logger *slog.Logger, gateway store.Gateway, registry *noderegistry.Registry) *NodeHandler {
	return &NodeHandler{logger: logger, gateway: gateway, registry: registry}
}

// Routes returns a chi.Router with all node routes mounted.
func (h *NodeHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Post("/cordon", h.handleCordon)
		r.Post("/uncordon", h.handleUncordon)
		r.Post("/drain", h.handleDrain)
	})
	return r
}

func (h *NodeHandler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := ParseOffsetParams(r)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	items, total, err := h.gateway.ListNodes(r.Context(), store.ListOptions{
		Status: r.URL.Query().Get("status"),
		Limit:  params.PageSize,
		Offset: params.Offset,
	})
	if err != nil {
		h.logger.Error("listing nodes", "error", err)
		RespondErr(w, err)
		return
	}

	Respond(w, http.StatusOK, NewOffsetPage(items, params, total))
}

func (h *NodeHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	node, err := h.gateway.GetNode(r.Context(), id)
	if err != nil {
		h.logger.Error("getting node", "error", err, "id", id)
		RespondErr(w, err)
		return
	}

	Respond(w, http.StatusOK, node)
}

func (h *NodeHandler) handleCordon(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	node, err := h.registry.Cordon(r.Context(), id)
	if err != nil {
		h.logger.Error("cordoning node", "error", err, "id", id)
		RespondErr(w, err)
		return
	}

	Respond(w, http.StatusOK, node)
}

func (h *NodeHandler) handleUncordon(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	node, err := h.registry.Uncordon(r.Context(), id)
	if err != nil {
		h.logger.Error("uncordoning node", "error", err, "id", id)
		RespondErr(w, err)
		return
	}

	Respond(w, http.StatusOK, node)
}

func (h *NodeHandler) handleDrain(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	node, err := h.registry.Drain(r.Context(), id)
	if err != nil {
		h.logger.Error("draining node", "error", err, "id", id)
		RespondErr(w, err)
		return
	}

	Respond(w, http.StatusOK, node)
}
