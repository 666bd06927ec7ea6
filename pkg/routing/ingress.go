package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/WeWatchWall/stark/pkg/agent"
)

func decodeEnvelope(env agent.Envelope, v any) error {
	return json.Unmarshal(env.Payload, v)
}

// requestSender is the subset of *agent.Hub ingress needs for correlated
// request/response round trips.
type requestSender interface {
	Request(ctx context.Context, nodeID string, env agent.Envelope) (agent.Envelope, error)
}

// ingressListener is one externally bound HTTP port relaying to a service's
// healthy pods (spec §4.F). Pod selection is hash(route-key) mod len(pods);
// route-key comes from header X-Stark-Route, query parameter stark-route,
// or a monotonic counter.
type ingressListener struct {
	serviceName string
	namespace   string
	registry    *Registry
	hub         requestSender
	timeout     time.Duration
	logger      *slog.Logger

	server  *http.Server
	counter atomic.Uint64
}

func (l *ingressListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	endpoints := l.registry.Healthy(l.namespace, l.serviceName)
	if len(endpoints) == 0 {
		http.Error(w, "no healthy endpoint", http.StatusServiceUnavailable)
		return
	}

	routeKey := r.Header.Get("X-Stark-Route")
	if routeKey == "" {
		routeKey = r.URL.Query().Get("stark-route")
	}
	if routeKey == "" {
		routeKey = fmt.Sprintf("seq-%d", l.counter.Add(1))
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(routeKey))
	pod := endpoints[int(h.Sum32())%len(endpoints)]

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	correlationID := uuid.NewString()
	payload := agent.IngressRequestPayload{
		CorrelationID: correlationID,
		PodID:         pod.PodID,
		Method:        r.Method,
		URL:           r.URL.String(),
		Headers:       headers,
		Body:          body,
	}
	env, err := agent.Encode(agent.TypeIngressRequest, correlationID, payload)
	if err != nil {
		http.Error(w, "encoding ingress request", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), l.timeout)
	defer cancel()
	resp, err := l.hub.Request(ctx, pod.NodeID, env)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			http.Error(w, "ingress request timed out", http.StatusGatewayTimeout)
			return
		}
		l.logger.Warn("ingress request failed", "podId", pod.PodID, "error", err)
		http.Error(w, "ingress request failed", http.StatusBadGateway)
		return
	}

	var respPayload agent.IngressResponsePayload
	if err := decodeEnvelope(resp, &respPayload); err != nil {
		http.Error(w, "decoding ingress response", http.StatusBadGateway)
		return
	}
	for k, v := range respPayload.Headers {
		w.Header().Set(k, v)
	}
	status := respPayload.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(respPayload.Body)
}

// Manager starts and stops one net/http.Server per exposed service port
// (spec SPEC_FULL.md §4.F expansion).
type Manager struct {
	registry *Registry
	hub      requestSender
	timeout  time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	listeners map[string]*ingressListener // serviceID -> listener
}

// NewManager creates an ingress Manager.
func NewManager(registry *Registry, hub requestSender, timeout time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		registry:  registry,
		hub:       hub,
		timeout:   timeout,
		logger:    logger,
		listeners: make(map[string]*ingressListener),
	}
}

// Expose starts an HTTP listener on port for serviceID, relaying to
// (namespace, serviceName)'s healthy pods. Calling Expose again for a
// serviceID already exposed is a no-op.
func (m *Manager) Expose(serviceID, namespace, serviceName string, port int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.listeners[serviceID]; ok {
		return
	}

	l := &ingressListener{
		serviceName: serviceName,
		namespace:   namespace,
		registry:    m.registry,
		hub:         m.hub,
		timeout:     m.timeout,
		logger:      m.logger,
	}
	l.server = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: l}
	m.listeners[serviceID] = l

	go func() {
		if err := l.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("ingress listener exited", "serviceId", serviceID, "port", port, "error", err)
		}
	}()
}

// Unexpose stops serviceID's ingress listener, if running.
func (m *Manager) Unexpose(ctx context.Context, serviceID string) error {
	m.mu.Lock()
	l, ok := m.listeners[serviceID]
	if ok {
		delete(m.listeners, serviceID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return l.server.Shutdown(ctx)
}
