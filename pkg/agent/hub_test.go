package agent

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubDispatcher records inbound calls and lets tests assign a fixed nodeID
// on register.
type stubDispatcher struct {
	nodeID string
}

func (s *stubDispatcher) OnRegister(connID string, principal Principal, p NodeRegisterPayload) (string, error) {
	return s.nodeID, nil
}
func (s *stubDispatcher) OnHeartbeat(nodeID string, p NodeHeartbeatPayload)             {}
func (s *stubDispatcher) OnPodStatus(nodeID string, p PodStatusPayload)                 {}
func (s *stubDispatcher) OnPodLog(nodeID string, p PodLogPayload)                       {}
func (s *stubDispatcher) OnRouteRequest(nodeID string, p NetworkRouteRequestPayload)     {}
func (s *stubDispatcher) OnPeerSignal(nodeID string, p PeerSignalPayload)               {}

// testServer upgrades inbound connections directly into a Hub, bypassing
// bearer-token auth (exercised separately in ws_test.go).
func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("upgrade: %v", err)
		}
		hub.Serve(r.Context(), uuid.NewString(), ws, Principal{UserID: "test-user"})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + srv.URL[len("http"):]
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func registerNode(t *testing.T, c *websocket.Conn, name string) {
	t.Helper()
	env, err := Encode(TypeNodeRegister, "", NodeRegisterPayload{Name: name})
	if err != nil {
		t.Fatalf("encode register: %v", err)
	}
	data, _ := json.Marshal(env)
	if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write register: %v", err)
	}
}

func TestHubSendCommandDeliversEnvelopeToRegisteredNode(t *testing.T) {
	disp := &stubDispatcher{nodeID: "node-1"}
	hub := New(testLogger(), disp, 10, 2*time.Second)
	srv := newTestServer(t, hub)
	client := dial(t, srv)
	registerNode(t, client, "n1")

	waitForConnected(t, hub, "node-1")

	env, err := Encode(TypePodStart, "", PodStartPayload{PodID: "pod-1"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := hub.SendCommand(context.Background(), "node-1", env); err != nil {
		t.Fatalf("send command: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	var got Envelope
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != TypePodStart {
		t.Fatalf("type = %s, want %s", got.Type, TypePodStart)
	}
}

func TestHubSendCommandFailsForUnknownNode(t *testing.T) {
	disp := &stubDispatcher{nodeID: "node-1"}
	hub := New(testLogger(), disp, 10, 2*time.Second)
	env, _ := Encode(TypePodStart, "", PodStartPayload{PodID: "pod-1"})
	if err := hub.SendCommand(context.Background(), "does-not-exist", env); err == nil {
		t.Fatal("expected error sending to an unconnected node")
	}
}

func TestHubRequestTimesOutWithNoResponse(t *testing.T) {
	disp := &stubDispatcher{nodeID: "node-1"}
	hub := New(testLogger(), disp, 10, 50*time.Millisecond)
	srv := newTestServer(t, hub)
	client := dial(t, srv)
	registerNode(t, client, "n1")
	waitForConnected(t, hub, "node-1")

	// Drain the register ack/no-op by reading in background so the server's
	// write isn't blocked; no ack is actually sent, just keep conn healthy.
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	env, _ := Encode(TypeIngressRequest, uuid.NewString(), IngressRequestPayload{PodID: "pod-1"})
	_, err := hub.Request(context.Background(), "node-1", env)
	if err == nil {
		t.Fatal("expected a timeout error when the agent never responds")
	}
}

func TestHubRequestBackpressureCeiling(t *testing.T) {
	disp := &stubDispatcher{nodeID: "node-1"}
	hub := New(testLogger(), disp, 1, 2*time.Second)
	srv := newTestServer(t, hub)
	client := dial(t, srv)
	registerNode(t, client, "n1")
	waitForConnected(t, hub, "node-1")

	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		env, _ := Encode(TypeIngressRequest, uuid.NewString(), IngressRequestPayload{PodID: "pod-1"})
		hub.Request(context.Background(), "node-1", env)
		close(done)
	}()
	// give the first request a moment to occupy the single pending slot
	time.Sleep(50 * time.Millisecond)

	env, _ := Encode(TypeIngressRequest, uuid.NewString(), IngressRequestPayload{PodID: "pod-2"})
	_, err := hub.Request(context.Background(), "node-1", env)
	if err == nil {
		t.Fatal("expected backpressure error when exceeding the pending-request ceiling")
	}
	<-done
}

func TestHubDisconnectFailsPendingRequests(t *testing.T) {
	disp := &stubDispatcher{nodeID: "node-1"}
	hub := New(testLogger(), disp, 10, 5*time.Second)
	srv := newTestServer(t, hub)
	client := dial(t, srv)
	registerNode(t, client, "n1")
	waitForConnected(t, hub, "node-1")

	errCh := make(chan error, 1)
	go func() {
		env, _ := Encode(TypeIngressRequest, uuid.NewString(), IngressRequestPayload{PodID: "pod-1"})
		_, err := hub.Request(context.Background(), "node-1", env)
		errCh <- err
	}()
	time.Sleep(50 * time.Millisecond)
	client.Close()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error once the connection closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect to fail the pending request")
	}
}

func waitForConnected(t *testing.T, hub *Hub, nodeID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Connected(nodeID) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("node %s never registered", nodeID)
}
