package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/WeWatchWall/stark/internal/errkind"
	"github.com/WeWatchWall/stark/pkg/eventbus"
	"github.com/WeWatchWall/stark/pkg/types"
)

const serviceColumns = `id, name, namespace, pack_id, pack_name, pack_version, replicas, status,
	visibility, exposed, ingress_port, scheduling, tolerations, resource_requests, pod_labels,
	allowed_sources, follow_latest, failure_state, last_stable_version, version, created_at, updated_at`

func scanService(row pgx.Row) (types.Service, error) {
	var s types.Service
	var ingressPort *int
	var lastStableVersion *string
	var scheduling, tolerations, requests, podLabels, allowedSources, failureState []byte
	err := row.Scan(
		&s.ID, &s.Name, &s.Namespace, &s.PackID, &s.PackName, &s.PackVersion, &s.Replicas, &s.Status,
		&s.Visibility, &s.Exposed, &ingressPort, &scheduling, &tolerations, &requests, &podLabels,
		&allowedSources, &s.FollowLatest, &failureState, &lastStableVersion, &s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return types.Service{}, err
	}
	if ingressPort != nil {
		s.IngressPort = *ingressPort
	}
	if lastStableVersion != nil {
		s.LastStableVersion = *lastStableVersion
	}
	if err := unmarshalJSON(scheduling, &s.Scheduling); err != nil {
		return types.Service{}, err
	}
	if err := unmarshalJSON(tolerations, &s.Tolerations); err != nil {
		return types.Service{}, err
	}
	if err := unmarshalJSON(requests, &s.ResourceRequests); err != nil {
		return types.Service{}, err
	}
	if err := unmarshalJSON(podLabels, &s.PodLabels); err != nil {
		return types.Service{}, err
	}
	if err := unmarshalJSON(allowedSources, &s.AllowedSources); err != nil {
		return types.Service{}, err
	}
	if err := unmarshalJSON(failureState, &s.FailureState); err != nil {
		return types.Service{}, err
	}
	return s, nil
}

func (p *Postgres) CreateService(ctx context.Context, s types.Service) (types.Service, error) {
	scheduling, err := marshalJSON(s.Scheduling)
	if err != nil {
		return types.Service{}, err
	}
	tolerations, err := marshalJSON(s.Tolerations)
	if err != nil {
		return types.Service{}, err
	}
	requests, err := marshalJSON(s.ResourceRequests)
	if err != nil {
		return types.Service{}, err
	}
	podLabels, err := marshalJSON(s.PodLabels)
	if err != nil {
		return types.Service{}, err
	}
	allowedSources, err := marshalJSON(s.AllowedSources)
	if err != nil {
		return types.Service{}, err
	}

	query := `INSERT INTO services (name, namespace, pack_id, pack_name, pack_version, replicas,
		visibility, scheduling, tolerations, resource_requests, pod_labels, allowed_sources, follow_latest)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING ` + serviceColumns
	row := p.pool.QueryRow(ctx, query,
		s.Name, s.Namespace, s.PackID, s.PackName, s.PackVersion, s.Replicas,
		s.Visibility, scheduling, tolerations, requests, podLabels, allowedSources, s.FollowLatest,
	)
	out, err := scanService(row)
	if err != nil {
		if isUniqueViolation(err) {
			return types.Service{}, errkind.Conflictf("conflict", "service %s/%s already exists", s.Namespace, s.Name)
		}
		return types.Service{}, mapPgError(err, "not_found", "creating service")
	}
	p.publish(eventbus.KindService, eventbus.ActionCreated, out.Namespace, out.ID)
	return out, nil
}

func (p *Postgres) GetService(ctx context.Context, id string) (types.Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services WHERE id = $1`
	out, err := scanService(p.pool.QueryRow(ctx, query, id))
	if err != nil {
		return types.Service{}, mapPgError(err, "not_found", fmt.Sprintf("service %s not found", id))
	}
	return out, nil
}

func (p *Postgres) GetServiceByName(ctx context.Context, namespace, name string) (types.Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services WHERE namespace = $1 AND name = $2`
	out, err := scanService(p.pool.QueryRow(ctx, query, namespace, name))
	if err != nil {
		return types.Service{}, mapPgError(err, "not_found", fmt.Sprintf("service %s/%s not found", namespace, name))
	}
	return out, nil
}

func (p *Postgres) ListServices(ctx context.Context, opts ListOptions) ([]types.Service, int, error) {
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
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM services `+where, args...).Scan(&total); err != nil {
		return nil, 0, mapPgError(err, "not_found", "counting services")
	}

	args = append(args, limitOrDefault(opts.Limit), opts.Offset)
	query := fmt.Sprintf(`SELECT %s FROM services %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		serviceColumns, where, len(args)-1, len(args))
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, mapPgError(err, "not_found", "listing services")
	}
	defer rows.Close()

	var out []types.Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, 0, mapPgError(err, "not_found", "scanning service row")
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (p *Postgres) UpdateService(ctx context.Context, s types.Service) (types.Service, error) {
	scheduling, err := marshalJSON(s.Scheduling)
	if err != nil {
		return types.Service{}, err
	}
	requests, err := marshalJSON(s.ResourceRequests)
	if err != nil {
		return types.Service{}, err
	}
	podLabels, err := marshalJSON(s.PodLabels)
	if err != nil {
		return types.Service{}, err
	}
	allowedSources, err := marshalJSON(s.AllowedSources)
	if err != nil {
		return types.Service{}, err
	}
	failureState, err := marshalJSON(s.FailureState)
	if err != nil {
		return types.Service{}, err
	}

	query := `UPDATE services SET pack_version=$1, replicas=$2, status=$3, visibility=$4, exposed=$5,
		ingress_port=$6, scheduling=$7, resource_requests=$8, pod_labels=$9, allowed_sources=$10,
		follow_latest=$11, failure_state=$12, last_stable_version=$13, version=version+1, updated_at=now()
		WHERE id=$14 AND version=$15
		RETURNING ` + serviceColumns
	row := p.pool.QueryRow(ctx, query,
		s.PackVersion, s.Replicas, s.Status, s.Visibility, s.Exposed, nullableInt(s.IngressPort),
		scheduling, requests, podLabels, allowedSources, s.FollowLatest, failureState,
		nullableString(s.LastStableVersion), s.ID, s.Version,
	)
	out, err := scanService(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return types.Service{}, errkind.New(errkind.PreconditionFailed, "precondition_failed", "service version mismatch")
		}
		return types.Service{}, mapPgError(err, "not_found", "updating service")
	}
	p.publish(eventbus.KindService, eventbus.ActionUpdated, out.Namespace, out.ID)
	return out, nil
}

func (p *Postgres) DeleteService(ctx context.Context, id string) error {
	var namespace string
	err := p.pool.QueryRow(ctx, `DELETE FROM services WHERE id = $1 RETURNING namespace`, id).Scan(&namespace)
	if err != nil {
		return mapPgError(err, "not_found", fmt.Sprintf("service %s not found", id))
	}
	p.publish(eventbus.KindService, eventbus.ActionDeleted, namespace, id)
	return nil
}

func nullableInt(i int) *int {
	if i == 0 {
		return nil
	}
	return &i
}
