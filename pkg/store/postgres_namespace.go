package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/WeWatchWall/stark/internal/errkind"
	"github.com/WeWatchWall/stark/pkg/eventbus"
	"github.com/WeWatchWall/stark/pkg/types"
)

const namespaceColumns = `name, phase, labels, resource_quota, limit_range, created_by, version`

func scanNamespace(row pgx.Row) (types.Namespace, error) {
	var n types.Namespace
	var labels, quota, limitRange []byte
	err := row.Scan(&n.Name, &n.Phase, &labels, &quota, &limitRange, &n.CreatedBy, &n.Version)
	if err != nil {
		return types.Namespace{}, err
	}
	if err := unmarshalJSON(labels, &n.Labels); err != nil {
		return types.Namespace{}, err
	}
	if len(quota) > 0 {
		var q types.ResourceQuota
		if err := unmarshalJSON(quota, &q); err != nil {
			return types.Namespace{}, err
		}
		n.ResourceQuota = &q
	}
	if len(limitRange) > 0 {
		var lr types.LimitRange
		if err := unmarshalJSON(limitRange, &lr); err != nil {
			return types.Namespace{}, err
		}
		n.LimitRange = &lr
	}
	return n, nil
}

func (p *Postgres) CreateNamespace(ctx context.Context, n types.Namespace) (types.Namespace, error) {
	labels, err := marshalJSON(n.Labels)
	if err != nil {
		return types.Namespace{}, err
	}
	quota, err := marshalJSON(n.ResourceQuota)
	if err != nil {
		return types.Namespace{}, err
	}
	limitRange, err := marshalJSON(n.LimitRange)
	if err != nil {
		return types.Namespace{}, err
	}

	query := `INSERT INTO namespaces (name, labels, resource_quota, limit_range, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + namespaceColumns
	row := p.pool.QueryRow(ctx, query, n.Name, labels, quota, limitRange, n.CreatedBy)
	out, err := scanNamespace(row)
	if err != nil {
		if isUniqueViolation(err) {
			return types.Namespace{}, errkind.Conflictf("conflict", "namespace %s already exists", n.Name)
		}
		return types.Namespace{}, mapPgError(err, "not_found", "creating namespace")
	}
	p.publish(eventbus.KindPolicy, eventbus.ActionCreated, out.Name, out.Name)
	return out, nil
}

func (p *Postgres) GetNamespace(ctx context.Context, name string) (types.Namespace, error) {
	query := `SELECT ` + namespaceColumns + ` FROM namespaces WHERE name = $1`
	out, err := scanNamespace(p.pool.QueryRow(ctx, query, name))
	if err != nil {
		return types.Namespace{}, mapPgError(err, "not_found", fmt.Sprintf("namespace %s not found", name))
	}
	return out, nil
}

func (p *Postgres) ListNamespaces(ctx context.Context, opts ListOptions) ([]types.Namespace, int, error) {
	var total int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM namespaces`).Scan(&total); err != nil {
		return nil, 0, mapPgError(err, "not_found", "counting namespaces")
	}

	query := `SELECT ` + namespaceColumns + ` FROM namespaces ORDER BY name LIMIT $1 OFFSET $2`
	rows, err := p.pool.Query(ctx, query, limitOrDefault(opts.Limit), opts.Offset)
	if err != nil {
		return nil, 0, mapPgError(err, "not_found", "listing namespaces")
	}
	defer rows.Close()

	var out []types.Namespace
	for rows.Next() {
		n, err := scanNamespace(rows)
		if err != nil {
			return nil, 0, mapPgError(err, "not_found", "scanning namespace row")
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

func (p *Postgres) UpdateNamespace(ctx context.Context, n types.Namespace) (types.Namespace, error) {
	labels, err := marshalJSON(n.Labels)
	if err != nil {
		return types.Namespace{}, err
	}
	quota, err := marshalJSON(n.ResourceQuota)
	if err != nil {
		return types.Namespace{}, err
	}
	limitRange, err := marshalJSON(n.LimitRange)
	if err != nil {
		return types.Namespace{}, err
	}

	query := `UPDATE namespaces SET phase=$1, labels=$2, resource_quota=$3, limit_range=$4, version=version+1
		WHERE name=$5 AND version=$6
		RETURNING ` + namespaceColumns
	row := p.pool.QueryRow(ctx, query, n.Phase, labels, quota, limitRange, n.Name, n.Version)
	out, err := scanNamespace(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return types.Namespace{}, errkind.New(errkind.PreconditionFailed, "precondition_failed", "namespace version mismatch")
		}
		return types.Namespace{}, mapPgError(err, "not_found", "updating namespace")
	}
	return out, nil
}

func (p *Postgres) DeleteNamespace(ctx context.Context, name string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM namespaces WHERE name = $1`, name)
	if err != nil {
		return mapPgError(err, "not_found", "deleting namespace")
	}
	if tag.RowsAffected() == 0 {
		return errkind.NotFoundf("not_found", "namespace %s not found", name)
	}
	return nil
}
