package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/WeWatchWall/stark/internal/errkind"
	"github.com/WeWatchWall/stark/pkg/eventbus"
	"github.com/WeWatchWall/stark/pkg/types"
)

const podColumns = `id, pack_id, pack_version, node_id, namespace, status, status_message, priority,
	labels, tolerations, scheduling, resource_requests, resource_limits, created_by, service_id,
	created_at, started_at, stopped_at, version`

func scanPod(row pgx.Row) (types.Pod, error) {
	var pd types.Pod
	var nodeID, serviceID, statusMessage *string
	var labels, tolerations, scheduling, requests, limits []byte
	err := row.Scan(
		&pd.ID, &pd.PackID, &pd.PackVersion, &nodeID, &pd.Namespace, &pd.Status, &statusMessage, &pd.Priority,
		&labels, &tolerations, &scheduling, &requests, &limits, &pd.CreatedBy, &serviceID,
		&pd.CreatedAt, &pd.StartedAt, &pd.StoppedAt, &pd.Version,
	)
	if err != nil {
		return types.Pod{}, err
	}
	if nodeID != nil {
		pd.NodeID = *nodeID
	}
	if serviceID != nil {
		pd.ServiceID = *serviceID
	}
	if statusMessage != nil {
		pd.StatusMessage = *statusMessage
	}
	if err := unmarshalJSON(labels, &pd.Labels); err != nil {
		return types.Pod{}, err
	}
	if err := unmarshalJSON(tolerations, &pd.Tolerations); err != nil {
		return types.Pod{}, err
	}
	if err := unmarshalJSON(scheduling, &pd.Scheduling); err != nil {
		return types.Pod{}, err
	}
	if err := unmarshalJSON(requests, &pd.ResourceRequests); err != nil {
		return types.Pod{}, err
	}
	if len(limits) > 0 {
		var lim types.Resources
		if err := unmarshalJSON(limits, &lim); err != nil {
			return types.Pod{}, err
		}
		pd.ResourceLimits = &lim
	}
	return pd, nil
}

func (p *Postgres) CreatePod(ctx context.Context, pd types.Pod) (types.Pod, error) {
	labels, err := marshalJSON(pd.Labels)
	if err != nil {
		return types.Pod{}, err
	}
	tolerations, err := marshalJSON(pd.Tolerations)
	if err != nil {
		return types.Pod{}, err
	}
	scheduling, err := marshalJSON(pd.Scheduling)
	if err != nil {
		return types.Pod{}, err
	}
	requests, err := marshalJSON(pd.ResourceRequests)
	if err != nil {
		return types.Pod{}, err
	}

	query := `INSERT INTO pods (pack_id, pack_version, node_id, namespace, status, priority, labels,
		tolerations, scheduling, resource_requests, created_by, service_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + podColumns
	row := p.pool.QueryRow(ctx, query,
		pd.PackID, pd.PackVersion, nullableString(pd.NodeID), pd.Namespace, pd.Status, pd.Priority,
		labels, tolerations, scheduling, requests, pd.CreatedBy, nullableString(pd.ServiceID),
	)
	out, err := scanPod(row)
	if err != nil {
		return types.Pod{}, mapPgError(err, "not_found", "creating pod")
	}
	p.publish(eventbus.KindPod, eventbus.ActionCreated, out.Namespace, out.ID)
	return out, nil
}

func (p *Postgres) GetPod(ctx context.Context, id string) (types.Pod, error) {
	query := `SELECT ` + podColumns + ` FROM pods WHERE id = $1`
	out, err := scanPod(p.pool.QueryRow(ctx, query, id))
	if err != nil {
		return types.Pod{}, mapPgError(err, "not_found", fmt.Sprintf("pod %s not found", id))
	}
	return out, nil
}

func (p *Postgres) ListPods(ctx context.Context, opts ListOptions) ([]types.Pod, int, error) {
	where, args := "WHERE 1=1", []any{}
	if opts.Namespace != "" {
		args = append(args, opts.Namespace)
		where += fmt.Sprintf(" AND namespace = $%d", len(args))
	}
	if opts.Status != "" {
		args = append(args, opts.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM pods `+where, args...).Scan(&total); err != nil {
		return nil, 0, mapPgError(err, "not_found", "counting pods")
	}

	args = append(args, limitOrDefault(opts.Limit), opts.Offset)
	query := fmt.Sprintf(`SELECT %s FROM pods %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		podColumns, where, len(args)-1, len(args))
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, mapPgError(err, "not_found", "listing pods")
	}
	defer rows.Close()

	var out []types.Pod
	for rows.Next() {
		pd, err := scanPod(rows)
		if err != nil {
			return nil, 0, mapPgError(err, "not_found", "scanning pod row")
		}
		out = append(out, pd)
	}
	return out, total, rows.Err()
}

func (p *Postgres) ListPodsByService(ctx context.Context, serviceID string) ([]types.Pod, error) {
	query := `SELECT ` + podColumns + ` FROM pods WHERE service_id = $1 ORDER BY created_at`
	rows, err := p.pool.Query(ctx, query, serviceID)
	if err != nil {
		return nil, mapPgError(err, "not_found", "listing pods by service")
	}
	defer rows.Close()

	var out []types.Pod
	for rows.Next() {
		pd, err := scanPod(rows)
		if err != nil {
			return nil, mapPgError(err, "not_found", "scanning pod row")
		}
		out = append(out, pd)
	}
	return out, rows.Err()
}

func (p *Postgres) ListPodsByNode(ctx context.Context, nodeID string) ([]types.Pod, error) {
	query := `SELECT ` + podColumns + ` FROM pods WHERE node_id = $1 ORDER BY created_at`
	rows, err := p.pool.Query(ctx, query, nodeID)
	if err != nil {
		return nil, mapPgError(err, "not_found", "listing pods by node")
	}
	defer rows.Close()

	var out []types.Pod
	for rows.Next() {
		pd, err := scanPod(rows)
		if err != nil {
			return nil, mapPgError(err, "not_found", "scanning pod row")
		}
		out = append(out, pd)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdatePod(ctx context.Context, pd types.Pod) (types.Pod, error) {
	labels, err := marshalJSON(pd.Labels)
	if err != nil {
		return types.Pod{}, err
	}
	scheduling, err := marshalJSON(pd.Scheduling)
	if err != nil {
		return types.Pod{}, err
	}

	query := `UPDATE pods SET node_id=$1, status=$2, status_message=$3, labels=$4, scheduling=$5,
		started_at=$6, stopped_at=$7, version=version+1
		WHERE id=$8 AND version=$9
		RETURNING ` + podColumns
	row := p.pool.QueryRow(ctx, query,
		nullableString(pd.NodeID), pd.Status, nullableString(pd.StatusMessage), labels, scheduling,
		pd.StartedAt, pd.StoppedAt, pd.ID, pd.Version,
	)
	out, err := scanPod(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return types.Pod{}, errkind.New(errkind.PreconditionFailed, "precondition_failed", "pod version mismatch")
		}
		return types.Pod{}, mapPgError(err, "not_found", "updating pod")
	}
	p.publish(eventbus.KindPod, eventbus.ActionUpdated, out.Namespace, out.ID)
	return out, nil
}

func (p *Postgres) TransitionPod(ctx context.Context, id string, version int64, to types.PodStatus, message string) (types.Pod, error) {
	current, err := p.GetPod(ctx, id)
	if err != nil {
		return types.Pod{}, err
	}
	if !types.ValidPodTransition(current.Status, to) {
		return types.Pod{}, errkind.Validationf("validation", "invalid pod transition %s -> %s", current.Status, to)
	}
	from := current.Status

	query := `UPDATE pods SET status=$1, status_message=$2, version=version+1,
		started_at = CASE WHEN $1 = 'running' AND started_at IS NULL THEN now() ELSE started_at END,
		stopped_at = CASE WHEN $3 THEN now() ELSE stopped_at END
		WHERE id=$4 AND version=$5
		RETURNING ` + podColumns
	row := p.pool.QueryRow(ctx, query, to, nullableString(message), to.Terminal(), id, version)
	out, err := scanPod(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return types.Pod{}, errkind.New(errkind.PreconditionFailed, "precondition_failed", "pod version mismatch")
		}
		return types.Pod{}, mapPgError(err, "not_found", "transitioning pod")
	}

	if histErr := p.RecordPodHistory(ctx, id, from, to, message); histErr != nil {
		return types.Pod{}, histErr
	}
	p.publish(eventbus.KindPod, eventbus.ActionTransition, out.Namespace, out.ID)
	return out, nil
}

func (p *Postgres) RecordPodHistory(ctx context.Context, podID string, from, to types.PodStatus, message string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO pod_history (pod_id, from_status, to_status, message) VALUES ($1, $2, $3, $4)`,
		podID, from, to, nullableString(message))
	if err != nil {
		return mapPgError(err, "not_found", "recording pod history")
	}
	return nil
}

func (p *Postgres) ListPodHistory(ctx context.Context, podID string, limit int) ([]types.PodHistoryEntry, error) {
	query := `SELECT pod_id, from_status, to_status, message, created_at FROM pod_history
		WHERE pod_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := p.pool.Query(ctx, query, podID, limitOrDefault(limit))
	if err != nil {
		return nil, mapPgError(err, "not_found", "listing pod history")
	}
	defer rows.Close()

	var out []types.PodHistoryEntry
	for rows.Next() {
		var e types.PodHistoryEntry
		var message *string
		if err := rows.Scan(&e.PodID, &e.From, &e.To, &message, &e.CreatedAt); err != nil {
			return nil, mapPgError(err, "not_found", "scanning pod history row")
		}
		if message != nil {
			e.Message = *message
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) DeletePod(ctx context.Context, id string) error {
	var namespace string
	err := p.pool.QueryRow(ctx, `DELETE FROM pods WHERE id = $1 RETURNING namespace`, id).Scan(&namespace)
	if err != nil {
		return mapPgError(err, "not_found", fmt.Sprintf("pod %s not found", id))
	}
	p.publish(eventbus.KindPod, eventbus.ActionDeleted, namespace, id)
	return nil
}
