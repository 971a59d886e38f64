package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends audit entries inside a caller-owned transaction. The audit log
// is append-only and doubles as the idempotency ledger for fork operations.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Details map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, entityType, entityID, action, actorID, idempotencyKey string, details Details) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if details == nil {
		details = Details{}
	}
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	// Keyed appends upsert so a forced rerun of the same operation refreshes
	// the ledger entry instead of tripping the uniqueness index.
	_, err = tx.ExecContext(ctx, `INSERT INTO audit_log(entity_type,entity_id,action,actor_id,ts,idempotency_key,details_json) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(entity_type,entity_id,action,idempotency_key) WHERE idempotency_key IS NOT NULL
DO UPDATE SET actor_id=excluded.actor_id, ts=excluded.ts, details_json=excluded.details_json`,
		entityType, entityID, action, actorID, ts, nullable(idempotencyKey), string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
