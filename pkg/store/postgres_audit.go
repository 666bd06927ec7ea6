package store

import "context"

func (p *Postgres) AppendAuditEntry(ctx context.Context, e AuditEntry) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO audit_log (correlation_id, topic, action, resource, resource_id, detail)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		nullableString(e.CorrelationID), e.Topic, e.Action, e.Resource, e.ResourceID, e.Detail,
	)
	if err != nil {
		return mapPgError(err, "not_found", "appending audit entry")
	}
	return nil
}
