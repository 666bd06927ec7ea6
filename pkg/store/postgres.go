package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/WeWatchWall/stark/internal/errkind"
	"github.com/WeWatchWall/stark/pkg/eventbus"
)

// Postgres is the production Gateway implementation, backed by a pgxpool
// connection pool. Every entity table carries a version column for
// optimistic concurrency: mutating methods issue `UPDATE ... WHERE id = $1
// AND version = $2`; zero rows affected surfaces as errkind.PreconditionFailed.
type Postgres struct {
	pool *pgxpool.Pool
	bus  *eventbus.Bus
}

// NewPostgres wraps pool as a Gateway, publishing every write to bus. bus
// may be nil in contexts that don't need reactive wake-ups (migrations,
// one-off CLI tooling).
func NewPostgres(pool *pgxpool.Pool, bus *eventbus.Bus) *Postgres {
	return &Postgres{pool: pool, bus: bus}
}

func (p *Postgres) publish(kind eventbus.Kind, action eventbus.Action, namespace, resourceID string) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(context.Background(), eventbus.ChangeEvent{
		Kind:       kind,
		Action:     action,
		Namespace:  namespace,
		ResourceID: resourceID,
	})
}

// marshalJSON is a small helper around json.Marshal that wraps errors with
// errkind.Internal, since a marshaling failure here means a programming
// error (an un-serializable field slipped into a persisted type).
func marshalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errkind.New(errkind.Internal, "internal", fmt.Sprintf("marshaling %T: %v", v, err))
	}
	return b, nil
}

func unmarshalJSON(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return errkind.New(errkind.Internal, "internal", fmt.Sprintf("unmarshaling %T: %v", v, err))
	}
	return nil
}

// mapPgError translates a pgx/Postgres error into the closest errkind.Kind.
// A no-rows result from QueryRow is the common NotFound signal throughout
// this package.
func mapPgError(err error, notFoundCode, notFoundMsg string) error {
	if err == nil {
		return nil
	}
	if err == pgx.ErrNoRows {
		return errkind.New(errkind.NotFound, notFoundCode, notFoundMsg)
	}
	return errkind.Wrap(errkind.BackendUnavailable, "store_unavailable", "store operation failed", err)
}

// postgres unique_violation SQLSTATE.
const uniqueViolationCode = "23505"

// isUniqueViolation reports whether err is a unique-constraint violation,
// used to translate duplicate (name, version) or (namespace, name) inserts
// into errkind.Conflict instead of a generic backend error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolationCode
	}
	return false
}
