package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/WeWatchWall/stark/internal/errkind"
	"github.com/WeWatchWall/stark/pkg/eventbus"
	"github.com/WeWatchWall/stark/pkg/types"
)

const policyColumns = `id, source_service, target_service, namespace, action`

func scanPolicy(row pgx.Row) (types.NetworkPolicy, error) {
	var pol types.NetworkPolicy
	err := row.Scan(&pol.ID, &pol.SourceService, &pol.TargetService, &pol.Namespace, &pol.Action)
	return pol, err
}

func (p *Postgres) CreateNetworkPolicy(ctx context.Context, pol types.NetworkPolicy) (types.NetworkPolicy, error) {
	query := `INSERT INTO network_policies (source_service, target_service, namespace, action)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + policyColumns
	row := p.pool.QueryRow(ctx, query, pol.SourceService, pol.TargetService, pol.Namespace, pol.Action)
	out, err := scanPolicy(row)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NetworkPolicy{}, errkind.Conflictf("conflict", "policy %s already exists", pol.Key())
		}
		return types.NetworkPolicy{}, mapPgError(err, "not_found", "creating network policy")
	}
	p.publish(eventbus.KindPolicy, eventbus.ActionCreated, out.Namespace, out.ID)
	return out, nil
}

func (p *Postgres) ListNetworkPolicies(ctx context.Context, namespace string) ([]types.NetworkPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM network_policies WHERE ($1 = '' OR namespace = $1) ORDER BY namespace, source_service, target_service`
	rows, err := p.pool.Query(ctx, query, namespace)
	if err != nil {
		return nil, mapPgError(err, "not_found", "listing network policies")
	}
	defer rows.Close()

	var out []types.NetworkPolicy
	for rows.Next() {
		pol, err := scanPolicy(rows)
		if err != nil {
			return nil, mapPgError(err, "not_found", "scanning policy row")
		}
		out = append(out, pol)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteNetworkPolicy(ctx context.Context, id string) error {
	var namespace string
	err := p.pool.QueryRow(ctx, `DELETE FROM network_policies WHERE id = $1 RETURNING namespace`, id).Scan(&namespace)
	if err != nil {
		return mapPgError(err, "not_found", "deleting network policy")
	}
	p.publish(eventbus.KindPolicy, eventbus.ActionDeleted, namespace, id)
	return nil
}
