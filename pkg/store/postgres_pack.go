package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/WeWatchWall/stark/internal/errkind"
	"github.com/WeWatchWall/stark/pkg/eventbus"
	"github.com/WeWatchWall/stark/pkg/types"
)

const packColumns = `id, name, version, runtime_tag, owner_id, visibility, bundle_path, min_node_version, created_at`

func scanPack(row pgx.Row) (types.Pack, error) {
	var p types.Pack
	var minNodeVersion *string
	err := row.Scan(&p.ID, &p.Name, &p.Version, &p.RuntimeTag, &p.OwnerID, &p.Visibility, &p.BundlePath, &minNodeVersion, &p.CreatedAt)
	if minNodeVersion != nil {
		p.MinNodeVersion = *minNodeVersion
	}
	return p, err
}

func (p *Postgres) CreatePack(ctx context.Context, pk types.Pack) (types.Pack, error) {
	query := `INSERT INTO packs (name, version, runtime_tag, owner_id, visibility, bundle_path, min_node_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + packColumns
	row := p.pool.QueryRow(ctx, query, pk.Name, pk.Version, pk.RuntimeTag, pk.OwnerID, pk.Visibility, pk.BundlePath, nullableString(pk.MinNodeVersion))
	out, err := scanPack(row)
	if err != nil {
		if isUniqueViolation(err) {
			return types.Pack{}, errkind.Conflictf("conflict", "pack %s@%s already registered", pk.Name, pk.Version)
		}
		return types.Pack{}, mapPgError(err, "not_found", "pack not found")
	}
	p.publish(eventbus.KindPack, eventbus.ActionCreated, "", out.ID)
	return out, nil
}

func (p *Postgres) GetPack(ctx context.Context, id string) (types.Pack, error) {
	query := `SELECT ` + packColumns + ` FROM packs WHERE id = $1`
	out, err := scanPack(p.pool.QueryRow(ctx, query, id))
	if err != nil {
		return types.Pack{}, mapPgError(err, "not_found", fmt.Sprintf("pack %s not found", id))
	}
	return out, nil
}

func (p *Postgres) GetPackByNameVersion(ctx context.Context, name, version string) (types.Pack, error) {
	query := `SELECT ` + packColumns + ` FROM packs WHERE name = $1 AND version = $2`
	out, err := scanPack(p.pool.QueryRow(ctx, query, name, version))
	if err != nil {
		return types.Pack{}, mapPgError(err, "not_found", fmt.Sprintf("pack %s@%s not found", name, version))
	}
	return out, nil
}

func (p *Postgres) ListPackVersions(ctx context.Context, name string) ([]types.Pack, error) {
	query := `SELECT ` + packColumns + ` FROM packs WHERE name = $1 ORDER BY created_at DESC`
	rows, err := p.pool.Query(ctx, query, name)
	if err != nil {
		return nil, mapPgError(err, "not_found", "pack versions not found")
	}
	defer rows.Close()

	var out []types.Pack
	for rows.Next() {
		pk, err := scanPack(rows)
		if err != nil {
			return nil, mapPgError(err, "not_found", "scanning pack row")
		}
		out = append(out, pk)
	}
	return out, rows.Err()
}

func (p *Postgres) ListPacks(ctx context.Context, opts ListOptions) ([]types.Pack, int, error) {
	var total int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM packs`).Scan(&total); err != nil {
		return nil, 0, mapPgError(err, "not_found", "counting packs")
	}

	query := `SELECT ` + packColumns + ` FROM packs ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := p.pool.Query(ctx, query, limitOrDefault(opts.Limit), opts.Offset)
	if err != nil {
		return nil, 0, mapPgError(err, "not_found", "listing packs")
	}
	defer rows.Close()

	var out []types.Pack
	for rows.Next() {
		pk, err := scanPack(rows)
		if err != nil {
			return nil, 0, mapPgError(err, "not_found", "scanning pack row")
		}
		out = append(out, pk)
	}
	return out, total, rows.Err()
}

func (p *Postgres) DeletePack(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM packs WHERE id = $1`, id)
	if err != nil {
		return mapPgError(err, "not_found", "deleting pack")
	}
	if tag.RowsAffected() == 0 {
		return errkind.NotFoundf("not_found", "pack %s not found", id)
	}
	p.publish(eventbus.KindPack, eventbus.ActionDeleted, "", id)
	return nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}
