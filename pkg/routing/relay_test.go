package routing

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/WeWatchWall/stark/pkg/agent"
	"github.com/WeWatchWall/stark/pkg/types"
)

type stubCommandSender struct {
	sentTo  string
	lastEnv agent.Envelope
}

func (s *stubCommandSender) SendCommand(ctx context.Context, nodeID string, env agent.Envelope) error {
	s.sentTo = nodeID
	s.lastEnv = env
	return nil
}

func TestRelayForwardsToTargetPodsNode(t *testing.T) {
	reg := NewRegistry(35 * time.Second)
	reg.Upsert(types.RegistryEndpoint{PodID: "pod-2", NodeID: "node-2", ServiceName: "b", Namespace: "default", Status: types.EndpointHealthy})
	sender := &stubCommandSender{}
	relay := NewRelay(reg, sender, slog.New(slog.NewTextHandler(io.Discard, nil)))

	payload := agent.PeerSignalPayload{TargetPodID: "pod-2", Data: json.RawMessage(`{"sdp":"..."}`)}
	if err := relay.Forward(context.Background(), payload); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if sender.sentTo != "node-2" {
		t.Fatalf("sentTo = %s, want node-2", sender.sentTo)
	}
	if sender.lastEnv.Type != agent.TypePeerSignal {
		t.Fatalf("envelope type = %s, want %s", sender.lastEnv.Type, agent.TypePeerSignal)
	}
}

func TestRelaySkipsUnregisteredTarget(t *testing.T) {
	reg := NewRegistry(35 * time.Second)
	sender := &stubCommandSender{}
	relay := NewRelay(reg, sender, slog.New(slog.NewTextHandler(io.Discard, nil)))

	payload := agent.PeerSignalPayload{TargetPodID: "ghost"}
	if err := relay.Forward(context.Background(), payload); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if sender.sentTo != "" {
		t.Fatal("expected no send for an unregistered target pod")
	}
}
