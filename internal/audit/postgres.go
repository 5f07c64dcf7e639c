package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRepo appends audit events to the audit_events table.
// INSERT-only by contract; no update or delete statements exist here.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
		INSERT INTO audit_events
			(id, type, actor_id, actor_role, ip_address, batch_id, job_id, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, q,
		e.ID, string(e.Type), e.ActorID, e.ActorRole, e.IPAddress,
		nullable(e.BatchID), nullable(e.JobID), e.Message, nullable(e.Metadata), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit append: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
