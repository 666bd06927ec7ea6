package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/WeWatchWall/stark/internal/errkind"
	"github.com/WeWatchWall/stark/pkg/eventbus"
	"github.com/WeWatchWall/stark/pkg/types"
)

const nodeColumns = `id, name, runtime_type, runtime_version, status, unschedulable, labels, taints,
	allocatable, allocated, last_heartbeat, registered_by, registered_by_role, connection_id, version, created_at, updated_at`

func scanNode(row pgx.Row) (types.Node, error) {
	var n types.Node
	var labels, taints, allocatable, allocated []byte
	var runtimeVersion, connectionID *string
	err := row.Scan(
		&n.ID, &n.Name, &n.RuntimeType, &runtimeVersion, &n.Status, &n.Unschedulable,
		&labels, &taints, &allocatable, &allocated,
		&n.LastHeartbeat, &n.RegisteredBy, &n.RegisteredByRole, &connectionID, &n.Version, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return types.Node{}, err
	}
	if runtimeVersion != nil {
		n.RuntimeVersion = *runtimeVersion
	}
	if connectionID != nil {
		n.ConnectionID = *connectionID
	}
	if err := unmarshalJSON(labels, &n.Labels); err != nil {
		return types.Node{}, err
	}
	if err := unmarshalJSON(taints, &n.Taints); err != nil {
		return types.Node{}, err
	}
	if err := unmarshalJSON(allocatable, &n.Allocatable); err != nil {
		return types.Node{}, err
	}
	if err := unmarshalJSON(allocated, &n.Allocated); err != nil {
		return types.Node{}, err
	}
	return n, nil
}

func (p *Postgres) CreateNode(ctx context.Context, n types.Node) (types.Node, error) {
	labels, err := marshalJSON(n.Labels)
	if err != nil {
		return types.Node{}, err
	}
	taints, err := marshalJSON(n.Taints)
	if err != nil {
		return types.Node{}, err
	}
	allocatable, err := marshalJSON(n.Allocatable)
	if err != nil {
		return types.Node{}, err
	}

	query := `INSERT INTO nodes (name, runtime_type, runtime_version, status, unschedulable, labels, taints, allocatable, registered_by, registered_by_role)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + nodeColumns
	row := p.pool.QueryRow(ctx, query, n.Name, n.RuntimeType, nullableString(n.RuntimeVersion), n.Status, n.Unschedulable, labels, taints, allocatable, n.RegisteredBy, n.RegisteredByRole)
	out, err := scanNode(row)
	if err != nil {
		if isUniqueViolation(err) {
			return types.Node{}, errkind.Conflictf("conflict", "node %s already registered", n.Name)
		}
		return types.Node{}, mapPgError(err, "not_found", "node not found")
	}
	p.publish(eventbus.KindNode, eventbus.ActionCreated, "", out.ID)
	return out, nil
}

func (p *Postgres) GetNode(ctx context.Context, id string) (types.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE id = $1`
	out, err := scanNode(p.pool.QueryRow(ctx, query, id))
	if err != nil {
		return types.Node{}, mapPgError(err, "not_found", fmt.Sprintf("node %s not found", id))
	}
	return out, nil
}

func (p *Postgres) GetNodeByName(ctx context.Context, name string) (types.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE name = $1 AND status <> 'removed'`
	out, err := scanNode(p.pool.QueryRow(ctx, query, name))
	if err != nil {
		return types.Node{}, mapPgError(err, "not_found", fmt.Sprintf("node %s not found", name))
	}
	return out, nil
}

func (p *Postgres) ListNodes(ctx context.Context, opts ListOptions) ([]types.Node, int, error) {
	where, args := "WHERE 1=1", []any{}
	if opts.Status != "" {
		args = append(args, opts.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int
	countQuery := `SELECT count(*) FROM nodes ` + where
	if err := p.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, mapPgError(err, "not_found", "counting nodes")
	}

	args = append(args, limitOrDefault(opts.Limit), opts.Offset)
	query := fmt.Sprintf(`SELECT %s FROM nodes %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		nodeColumns, where, len(args)-1, len(args))
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, mapPgError(err, "not_found", "listing nodes")
	}
	defer rows.Close()

	var out []types.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, 0, mapPgError(err, "not_found", "scanning node row")
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

func (p *Postgres) UpdateNode(ctx context.Context, n types.Node) (types.Node, error) {
	labels, err := marshalJSON(n.Labels)
	if err != nil {
		return types.Node{}, err
	}
	taints, err := marshalJSON(n.Taints)
	if err != nil {
		return types.Node{}, err
	}
	allocatable, err := marshalJSON(n.Allocatable)
	if err != nil {
		return types.Node{}, err
	}
	allocated, err := marshalJSON(n.Allocated)
	if err != nil {
		return types.Node{}, err
	}

	query := `UPDATE nodes SET status=$1, unschedulable=$2, labels=$3, taints=$4, allocatable=$5,
		allocated=$6, last_heartbeat=$7, connection_id=$8, version=version+1, updated_at=now()
		WHERE id=$9 AND version=$10
		RETURNING ` + nodeColumns
	row := p.pool.QueryRow(ctx, query,
		n.Status, n.Unschedulable, labels, taints, allocatable, allocated,
		n.LastHeartbeat, nullableString(n.ConnectionID), n.ID, n.Version,
	)
	out, err := scanNode(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return types.Node{}, errkind.New(errkind.PreconditionFailed, "precondition_failed", "node version mismatch")
		}
		return types.Node{}, mapPgError(err, "not_found", "updating node")
	}
	p.publish(eventbus.KindNode, eventbus.ActionUpdated, "", out.ID)
	return out, nil
}

func (p *Postgres) DeleteNode(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM nodes WHERE id = $1`, id)
	if err != nil {
		return mapPgError(err, "not_found", "deleting node")
	}
	if tag.RowsAffected() == 0 {
		return errkind.NotFoundf("not_found", "node %s not found", id)
	}
	p.publish(eventbus.KindNode, eventbus.ActionDeleted, "", id)
	return nil
}
