// Package audit drains the event bus and persists a structured audit trail
// (spec §1/§4.G) through the Store Gateway's generic audit-log table,
// independent of the entity-specific tables. The buffering/flush shape
// mirrors the teacher's internal/audit.Writer.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/WeWatchWall/stark/pkg/eventbus"
	"github.com/WeWatchWall/stark/pkg/store"
)

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// Writer is an async, buffered subscriber that turns eventbus.ChangeEvent
// values into store.AuditEntry rows.
type Writer struct {
	gateway store.Gateway
	logger  *slog.Logger
	events  <-chan eventbus.ChangeEvent
	cancel  func()
	wg      sync.WaitGroup
}

// NewWriter subscribes to every event on bus. Call Start to begin
// processing; Close unsubscribes and waits for the final flush.
func NewWriter(bus *eventbus.Bus, gateway store.Gateway, logger *slog.Logger) *Writer {
	events, unsubscribe := bus.Subscribe(eventbus.Topic{})
	return &Writer{gateway: gateway, logger: logger, events: events, cancel: unsubscribe}
}

// Start begins the background flush loop and returns immediately. The loop
// exits, after flushing pending entries, once ctx is canceled or the
// subscription is closed.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close unsubscribes from the bus and waits for the background loop to drain.
func (w *Writer) Close() {
	w.cancel()
	w.wg.Wait()
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]eventbus.ChangeEvent, 0, flushBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-w.events:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case ev, ok := <-w.events:
					if !ok {
						flush()
						return
					}
					batch = append(batch, ev)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *Writer) flush(entries []eventbus.ChangeEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, ev := range entries {
		detail, err := json.Marshal(ev.Detail)
		if err != nil {
			w.logger.Warn("marshaling audit detail, dropping field", "error", err)
			detail = nil
		}
		err = w.gateway.AppendAuditEntry(ctx, store.AuditEntry{
			CorrelationID: ev.CorrelationID,
			Topic:         string(ev.Kind),
			Action:        string(ev.Action),
			Resource:      string(ev.Kind),
			ResourceID:    ev.ResourceID,
			Detail:        detail,
		})
		if err != nil {
			w.logger.Error("writing audit entry", "error", err, "kind", ev.Kind, "resourceId", ev.ResourceID)
		}
	}
}
