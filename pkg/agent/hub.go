// Package agent implements the orchestrator side of the Agent Protocol
// (spec §4.E): a persistent websocket duplex channel per node, framed JSON
// envelopes, send-ordered command dispatch, and correlation-ID request/
// response for ingress and route-resolution round trips.
package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"

	"github.com/WeWatchWall/stark/internal/errkind"
)

// Dispatcher receives every inbound agent->orchestrator message that is not
// a correlated response to an in-flight Request. The composition root wires
// these into the node registry, scheduler, routing fabric, and pod log
// store.
type Dispatcher interface {
	OnRegister(connID string, principal Principal, p NodeRegisterPayload) (nodeID string, err error)
	OnHeartbeat(nodeID string, p NodeHeartbeatPayload)
	OnPodStatus(nodeID string, p PodStatusPayload)
	OnPodLog(nodeID string, p PodLogPayload)
	OnRouteRequest(nodeID string, p NetworkRouteRequestPayload)
	OnPeerSignal(nodeID string, p PeerSignalPayload)
}

// conn is one live websocket connection, identified before node:register by
// its connection ID and afterward also reachable by node ID.
type conn struct {
	id        string
	nodeID    string
	principal Principal
	ws        *websocket.Conn

	writeMu sync.Mutex // serializes sends: send-order, not ack-order (spec §5)

	pendingMu sync.Mutex
	pending   int // outstanding Request() calls, for the backpressure ceiling
}

// Hub tracks every agent connection and provides send-ordered command
// dispatch plus correlation-ID request/response.
type Hub struct {
	logger     *slog.Logger
	dispatcher Dispatcher

	maxPendingPerConn int
	requestTimeout    time.Duration

	mu           sync.RWMutex
	conns        map[string]*conn // connID -> conn
	nodeToConn   map[string]string // nodeID -> connID

	waitersMu sync.Mutex
	waiters   map[string]chan Envelope // correlationID -> response channel

	breakersMu sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker[any] // nodeID -> breaker
}

// New creates a Hub. requestTimeout is the default wait for correlated
// request/response exchanges (ingress, route resolution) when the caller
// doesn't supply its own context deadline.
func New(logger *slog.Logger, dispatcher Dispatcher, maxPendingPerConn int, requestTimeout time.Duration) *Hub {
	return &Hub{
		logger:            logger,
		dispatcher:        dispatcher,
		maxPendingPerConn: maxPendingPerConn,
		requestTimeout:    requestTimeout,
		conns:             make(map[string]*conn),
		nodeToConn:        make(map[string]string),
		waiters:           make(map[string]chan Envelope),
		breakers:          make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// Serve takes ownership of an upgraded websocket connection and runs its
// read loop until the connection closes or ctx is canceled. connID
// identifies the connection before the agent sends node:register.
func (h *Hub) Serve(ctx context.Context, connID string, ws *websocket.Conn, principal Principal) {
	c := &conn{id: connID, ws: ws, principal: principal}
	h.mu.Lock()
	h.conns[connID] = c
	h.mu.Unlock()

	defer h.removeConn(c)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := ws.ReadMessage()
		if err != nil {
			h.logger.Info("agent connection closed", "connId", connID, "nodeId", c.nodeID, "error", err)
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.logger.Warn("malformed agent frame", "connId", connID, "error", err)
			continue
		}
		h.handleInbound(c, env)
	}
}

func (h *Hub) removeConn(c *conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	if c.nodeID != "" && h.nodeToConn[c.nodeID] == c.id {
		delete(h.nodeToConn, c.nodeID)
	}
	h.mu.Unlock()

	// Fail every outstanding correlationId for this node with ConnectionClosed
	// (spec §4.E).
	h.waitersMu.Lock()
	for id, ch := range h.waiters {
		if !hasPrefix(id, c.nodeID+":") {
			continue
		}
		close(ch)
		delete(h.waiters, id)
	}
	h.waitersMu.Unlock()
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func (h *Hub) handleInbound(c *conn, env Envelope) {
	if env.CorrelationID != "" {
		key := c.nodeID + ":" + env.CorrelationID
		h.waitersMu.Lock()
		ch, ok := h.waiters[key]
		if ok {
			delete(h.waiters, key)
		}
		h.waitersMu.Unlock()
		if ok {
			ch <- env
			return
		}
	}

	switch env.Type {
	case TypeNodeRegister:
		var p NodeRegisterPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.logger.Warn("decoding node:register", "error", err)
			return
		}
		nodeID, err := h.dispatcher.OnRegister(c.id, c.principal, p)
		if err != nil {
			h.logger.Error("registering node", "connId", c.id, "error", err)
			return
		}
		h.mu.Lock()
		if existing, ok := h.nodeToConn[nodeID]; ok && existing != c.id {
			h.logger.Warn("rejecting duplicate node registration", "nodeId", nodeID, "existingConn", existing, "newConn", c.id)
			h.mu.Unlock()
			return
		}
		c.nodeID = nodeID
		h.nodeToConn[nodeID] = c.id
		h.mu.Unlock()

	case TypeNodeHeartbeat:
		var p NodeHeartbeatPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			h.dispatcher.OnHeartbeat(c.nodeID, p)
		}
	case TypePodStatus:
		var p PodStatusPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			h.dispatcher.OnPodStatus(c.nodeID, p)
		}
	case TypePodLog:
		var p PodLogPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			h.dispatcher.OnPodLog(c.nodeID, p)
		}
	case TypeNetworkRouteReq:
		var p NetworkRouteRequestPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			h.dispatcher.OnRouteRequest(c.nodeID, p)
		}
	case TypePeerSignal:
		var p PeerSignalPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			h.dispatcher.OnPeerSignal(c.nodeID, p)
		}
	default:
		h.logger.Warn("unhandled agent message type", "type", env.Type)
	}
}

func (h *Hub) connForNode(nodeID string) (*conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	connID, ok := h.nodeToConn[nodeID]
	if !ok {
		return nil, false
	}
	c, ok := h.conns[connID]
	return c, ok
}

func (h *Hub) breakerFor(nodeID string) *gobreaker.CircuitBreaker[any] {
	h.breakersMu.Lock()
	defer h.breakersMu.Unlock()
	b, ok := h.breakers[nodeID]
	if ok {
		return b
	}
	b = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "agent-dispatch:" + nodeID,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	h.breakers[nodeID] = b
	return b
}

// SendCommand sends env to nodeID and returns once the send has completed
// (send-order, not ack-order, per spec §5). A wedged connection trips the
// node's circuit breaker so a single unresponsive node can't stall a
// reconcile/schedule tick (spec DOMAIN STACK, sony/gobreaker).
func (h *Hub) SendCommand(ctx context.Context, nodeID string, env Envelope) error {
	c, ok := h.connForNode(nodeID)
	if !ok {
		return errkind.New(errkind.BackendUnavailable, "node_not_connected", "no active connection for node "+nodeID)
	}

	breaker := h.breakerFor(nodeID)
	_, err := breaker.Execute(func() (any, error) {
		return nil, h.write(c, env)
	})
	return err
}

func (h *Hub) write(c *conn, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return errkind.Wrap(errkind.Internal, "encode_envelope", "encoding agent envelope", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return errkind.Wrap(errkind.BackendUnavailable, "connection_closed", "writing to agent connection", err)
	}
	return nil
}

// Request sends env to nodeID and blocks for a correlated response (used by
// ingress:request and network:route:request round trips), honoring the
// per-connection pending-request ceiling (spec §4.E backpressure).
func (h *Hub) Request(ctx context.Context, nodeID string, env Envelope) (Envelope, error) {
	c, ok := h.connForNode(nodeID)
	if !ok {
		return Envelope{}, errkind.New(errkind.BackendUnavailable, "node_not_connected", "no active connection for node "+nodeID)
	}

	c.pendingMu.Lock()
	if c.pending >= h.maxPendingPerConn {
		c.pendingMu.Unlock()
		return Envelope{}, errkind.New(errkind.BackendUnavailable, "backpressure", "too many pending requests for node "+nodeID)
	}
	c.pending++
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		c.pending--
		c.pendingMu.Unlock()
	}()

	key := nodeID + ":" + env.CorrelationID
	ch := make(chan Envelope, 1)
	h.waitersMu.Lock()
	h.waiters[key] = ch
	h.waitersMu.Unlock()

	if err := h.write(c, env); err != nil {
		h.waitersMu.Lock()
		delete(h.waiters, key)
		h.waitersMu.Unlock()
		return Envelope{}, err
	}

	timeout := h.requestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return Envelope{}, errkind.New(errkind.BackendUnavailable, "connection_closed", "agent connection closed while awaiting response")
		}
		return resp, nil
	case <-timer.C:
		h.waitersMu.Lock()
		delete(h.waiters, key)
		h.waitersMu.Unlock()
		return Envelope{}, errkind.New(errkind.Timeout, "request_timeout", "timed out waiting for agent response")
	case <-ctx.Done():
		h.waitersMu.Lock()
		delete(h.waiters, key)
		h.waitersMu.Unlock()
		return Envelope{}, errkind.Wrap(errkind.Canceled, "canceled", "request canceled", ctx.Err())
	}
}

// Connected reports whether nodeID currently has a live connection.
func (h *Hub) Connected(nodeID string) bool {
	_, ok := h.connForNode(nodeID)
	return ok
}
