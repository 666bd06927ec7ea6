package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/WeWatchWall/stark/internal/auth"
	"github.com/WeWatchWall/stark/pkg/store"
	"github.com/WeWatchWall/stark/pkg/types"
)

// PackHandler provides HTTP handlers for the packs API.
type PackHandler struct {
	logger  *slog.Logger
	gateway store.Gateway
}

// NewPackHandler creates a PackHandler.
func NewPackHandler(logger *slog.Logger, gateway store.Gateway) *PackHandler {
	return &PackHandler{logger: logger, gateway: gateway}
}

// Routes returns a chi.Router with all pack routes mounted.
func (h *PackHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Delete("/", h.handleDelete)
	})
	return r
}

// CreatePackRequest is the request body for POST /packs.
type CreatePackRequest struct {
	Name           string `json:"name" validate:"required"`
	Version        string `json:"version" validate:"required"`
	RuntimeTag     string `json:"runtimeTag" validate:"required,oneof=node browser universal"`
	Visibility     string `json:"visibility" validate:"required,oneof=private public system"`
	BundlePath     string `json:"bundlePath" validate:"required"`
	MinNodeVersion string `json:"minNodeVersion"`
}

func (h *PackHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreatePackRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	id := auth.FromContext(r.Context())
	pack := types.Pack{
		ID:             uuid.NewString(),
		Name:           req.Name,
		Version:        req.Version,
		RuntimeTag:     types.RuntimeTag(req.RuntimeTag),
		OwnerID:        id.UserID,
		Visibility:     types.Visibility(req.Visibility),
		BundlePath:     req.BundlePath,
		MinNodeVersion: req.MinNodeVersion,
		CreatedAt:      time.Now(),
	}

	created, err := h.gateway.CreatePack(r.Context(), pack)
	if err != nil {
		h.logger.Error("creating pack", "error", err)
		RespondErr(w, err)
		return
	}

	Respond(w, http.StatusCreated, created)
}

func (h *PackHandler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := ParseOffsetParams(r)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	items, total, err := h.gateway.ListPacks(r.Context(), store.ListOptions{
		Limit:  params.PageSize,
		Offset: params.Offset,
	})
	if err != nil {
		h.logger.Error("listing packs", "error", err)
		RespondErr(w, err)
		return
	}

	Respond(w, http.StatusOK, NewOffsetPage(items, params, total))
}

func (h *PackHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	pack, err := h.gateway.GetPack(r.Context(), id)
	if err != nil {
		h.logger.Error("getting pack", "error", err, "id", id)
		RespondErr(w, err)
		return
	}

	Respond(w, http.StatusOK, pack)
}

func (h *PackHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.gateway.DeletePack(r.Context(), id); err != nil {
		h.logger.Error("deleting pack", "error", err, "id", id)
		RespondErr(w, err)
		return
	}

	Respond(w, http.StatusNoContent, nil)
}
