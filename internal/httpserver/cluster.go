package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/WeWatchWall/stark/pkg/store"
)

// ClusterHandler provides HTTP handlers for cluster-wide aggregate views.
type ClusterHandler struct {
	logger  *slog.Logger
	gateway store.Gateway
}

// NewClusterHandler creates a ClusterHandler.
func NewClusterHandler(logger *slog.Logger, gateway store.Gateway) *ClusterHandler {
	return &ClusterHandler{logger: logger, gateway: gateway}
}

// Routes returns a chi.Router with all cluster routes mounted.
func (h *ClusterHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/summary", h.handleSummary)
	return r
}

// clusterSummaryResponse aggregates entity counts by lifecycle status.
type clusterSummaryResponse struct {
	NodesByStatus    map[string]int `json:"nodesByStatus"`
	PodsByStatus     map[string]int `json:"podsByStatus"`
	ServicesByStatus map[string]int `json:"servicesByStatus"`
}

func (h *ClusterHandler) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	nodes, _, err := h.gateway.ListNodes(ctx, store.ListOptions{Limit: 100000})
	if err != nil {
		h.logger.Error("listing nodes for cluster summary", "error", err)
		RespondErr(w, err)
		return
	}
	pods, _, err := h.gateway.ListPods(ctx, store.ListOptions{Limit: 100000})
	if err != nil {
		h.logger.Error("listing pods for cluster summary", "error", err)
		RespondErr(w, err)
		return
	}
	services, _, err := h.gateway.ListServices(ctx, store.ListOptions{Limit: 100000})
	if err != nil {
		h.logger.Error("listing services for cluster summary", "error", err)
		RespondErr(w, err)
		return
	}

	resp := clusterSummaryResponse{
		NodesByStatus:    map[string]int{},
		PodsByStatus:     map[string]int{},
		ServicesByStatus: map[string]int{},
	}
	for _, n := range nodes {
		resp.NodesByStatus[string(n.Status)]++
	}
	for _, p := range pods {
		resp.PodsByStatus[string(p.Status)]++
	}
	for _, s := range services {
		resp.ServicesByStatus[string(s.Status)]++
	}

	Respond(w, http.StatusOK, resp)
}
