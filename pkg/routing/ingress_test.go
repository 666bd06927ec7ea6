package routing

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/WeWatchWall/stark/pkg/agent"
	"github.com/WeWatchWall/stark/pkg/types"
)

type stubRequestSender struct {
	respond func(env agent.Envelope) (agent.Envelope, error)
}

func (s *stubRequestSender) Request(ctx context.Context, nodeID string, env agent.Envelope) (agent.Envelope, error) {
	return s.respond(env)
}

func TestIngressListenerRelaysAndReturnsResponse(t *testing.T) {
	reg := NewRegistry(35 * time.Second)
	reg.Upsert(types.RegistryEndpoint{PodID: "pod-1", NodeID: "node-1", ServiceName: "web", Namespace: "default", Status: types.EndpointHealthy})

	sender := &stubRequestSender{
		respond: func(env agent.Envelope) (agent.Envelope, error) {
			var req agent.IngressRequestPayload
			if err := json.Unmarshal(env.Payload, &req); err != nil {
				t.Fatalf("decoding ingress request: %v", err)
			}
			return agent.Encode(agent.TypeIngressResponse, req.CorrelationID, agent.IngressResponsePayload{
				Status: http.StatusCreated,
				Body:   []byte("ok"),
			})
		},
	}

	l := &ingressListener{
		serviceName: "web", namespace: "default",
		registry: reg, hub: sender, timeout: time.Second,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	l.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Fatalf("body = %q, want ok", w.Body.String())
	}
}

func TestIngressListenerReturns503WithNoHealthyEndpoint(t *testing.T) {
	reg := NewRegistry(35 * time.Second)
	l := &ingressListener{
		serviceName: "web", namespace: "default",
		registry: reg, hub: &stubRequestSender{}, timeout: time.Second,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	l.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}
