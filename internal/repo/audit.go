package repo

import (
	"context"
	"database/sql"

	"opsdesk/internal/domain"
)

func scanAuditEntries(rows *sql.Rows) ([]domain.AuditEntry, error) {
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var key sql.NullString
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &e.ActorID, &e.TS, &key, &e.DetailsJSON); err != nil {
			return nil, err
		}
		if key.Valid {
			e.IdempotencyKey = &key.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestAuditByKey is the idempotency guard lookup: the newest audit entry for
// (entity, action) recorded under the given key. Backed by the partial unique
// index on idempotency_key, so this is a point query.
func (r Repo) LatestAuditByKey(ctx context.Context, entityType, entityID, action, key string) (domain.AuditEntry, error) {
	var e domain.AuditEntry
	var storedKey sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,entity_type,entity_id,action,actor_id,ts,idempotency_key,details_json
FROM audit_log WHERE entity_type=? AND entity_id=? AND action=? AND idempotency_key=? ORDER BY id DESC LIMIT 1`,
		entityType, entityID, action, key).
		Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &e.ActorID, &e.TS, &storedKey, &e.DetailsJSON)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if storedKey.Valid {
		e.IdempotencyKey = &storedKey.String
	}
	return e, err
}

type AuditFilters struct {
	EntityType string
	EntityID   string
	Action     string
	Limit      int
}

func (r Repo) ListAudit(ctx context.Context, f AuditFilters) ([]domain.AuditEntry, error) {
	query := `SELECT id,entity_type,entity_id,action,actor_id,ts,idempotency_key,details_json FROM audit_log WHERE 1=1`
	var args []any
	if f.EntityType != "" {
		query += ` AND entity_type=?`
		args = append(args, f.EntityType)
	}
	if f.EntityID != "" {
		query += ` AND entity_id=?`
		args = append(args, f.EntityID)
	}
	if f.Action != "" {
		query += ` AND action=?`
		args = append(args, f.Action)
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanAuditEntries(rows)
}
