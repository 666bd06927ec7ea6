package httpserver

import (
	"net/http"
	"strconv"

	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/WeWatchWall/stark/pkg/agent"
	"github.com/WeWatchWall/stark/pkg/store"
)

// PodHandler provides HTTP handlers for the pods API.
type PodHandler struct {
	logger   *slog.Logger
	gateway  store.Gateway
	logStore *agent.LogStore
}

// NewPodHandler creates a PodHandler.
func NewPodHandler(logger *slog.Logger, gateway store.Gateway, logStore *agent.LogStore) *PodHandler {
	return &PodHandler{logger: logger, gateway: gateway, logStore: logStore}
}

// Routes returns a chi.Router with all pod routes mounted.
func (h *PodHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Delete("/", h.handleDelete)
		r.Get("/logs", h.handleLogs)
		r.Get("/history", h.handleHistory)
	})
	return r
}

func (h *PodHandler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := ParseOffsetParams(r)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	items, total, err := h.gateway.ListPods(r.Context(), store.ListOptions{
		Namespace: r.URL.Query().Get("namespace"),
		Status:    r.URL.Query().Get("status"),
		Limit:     params.PageSize,
		Offset:    params.Offset,
	})
	if err != nil {
		h.logger.Error("listing pods", "error", err)
		RespondErr(w, err)
		return
	}

	Respond(w, http.StatusOK, NewOffsetPage(items, params, total))
}

func (h *PodHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	pod, err := h.gateway.GetPod(r.Context(), id)
	if err != nil {
		h.logger.Error("getting pod", "error", err, "id", id)
		RespondErr(w, err)
		return
	}

	Respond(w, http.StatusOK, pod)
}

func (h *PodHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.gateway.DeletePod(r.Context(), id); err != nil {
		h.logger.Error("deleting pod", "error", err, "id", id)
		RespondErr(w, err)
		return
	}

	Respond(w, http.StatusNoContent, nil)
}

func (h *PodHandler) handleLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit := 200
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			RespondError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = n
	}

	Respond(w, http.StatusOK, h.logStore.Recent(id, limit))
}

func (h *PodHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			RespondError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := h.gateway.ListPodHistory(r.Context(), id, limit)
	if err != nil {
		h.logger.Error("listing pod history", "error", err, "id", id)
		RespondErr(w, err)
		return
	}

	Respond(w, http.StatusOK, entries)
}
