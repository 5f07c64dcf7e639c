package batch

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"fleet-dispatch/pkg/utils"
)

// PostgresStore implements Store on database/sql (pgx stdlib driver).
//
// Expected tables:
//
//	batches(id, name, status, total_jobs, successful_jobs, failed_jobs,
//	        created_at, approved_at, completed_at)
//	call_jobs(id, batch_id, driver_name, phone_number, target_ref, message,
//	          status, provider_handle, live_transcript, refined_transcript,
//	          recording_url, call_duration, error_message,
//	          created_at, started_at, completed_at)
//
// All terminal-state races are resolved in SQL: transitions are conditional
// updates on the current status, counters are atomic adds, and the batch
// close predicate runs server-side.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

const jobColumns = `id, batch_id, driver_name, phone_number, target_ref, message,
	status, provider_handle, live_transcript, refined_transcript,
	recording_url, call_duration, error_message, created_at, started_at, completed_at`

const batchColumns = `id, name, status, total_jobs, successful_jobs, failed_jobs,
	created_at, approved_at, completed_at`

func (s *PostgresStore) CreateBatch(ctx context.Context, b Batch, jobs []CallJob) error {
	if b.ID == "" {
		return ErrInvalidArgument
	}
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO batches (`+batchColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			b.ID, b.Name, string(b.Status), b.TotalJobs, b.SuccessfulJobs, b.FailedJobs,
			b.CreatedAt, b.ApprovedAt, b.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
		for _, j := range jobs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO call_jobs (`+jobColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
				j.ID, j.BatchID, j.DriverName, j.PhoneNumber, j.TargetRef, j.Message,
				string(j.Status), j.ProviderHandle, j.LiveTranscript, j.RefinedTranscript,
				j.RecordingURL, j.DurationSeconds, j.ErrorMessage,
				j.CreatedAt, j.StartedAt, j.CompletedAt,
			)
			if err != nil {
				return fmt.Errorf("insert job %s: %w", j.ID, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) GetBatch(ctx context.Context, batchID string) (Batch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1`, batchID)
	return scanBatch(row)
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (CallJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM call_jobs WHERE id = $1`, jobID)
	return scanJob(row)
}

func (s *PostgresStore) FindJobByProviderHandle(ctx context.Context, handle string) (CallJob, error) {
	if handle == "" {
		return CallJob{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM call_jobs WHERE provider_handle = $1 LIMIT 1`, handle)
	return scanJob(row)
}

func (s *PostgresStore) ListQueuedJobs(ctx context.Context, batchID string) ([]CallJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM call_jobs
		WHERE batch_id = $1 AND status = $2
		ORDER BY created_at ASC`, batchID, string(JobStatusQueued))
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

func (s *PostgresStore) ListJobs(ctx context.Context, batchID string) ([]CallJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM call_jobs
		WHERE batch_id = $1
		ORDER BY created_at ASC`, batchID)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

func (s *PostgresStore) ListJobsSince(ctx context.Context, since time.Time) ([]CallJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM call_jobs
		WHERE created_at >= $1
		ORDER BY created_at DESC`, since)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

func (s *PostgresStore) ListExecutingBatches(ctx context.Context) ([]Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+batchColumns+` FROM batches
		WHERE status = $1
		ORDER BY created_at ASC`, string(BatchStatusExecuting))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkBatchExecuting(ctx context.Context, batchID string) (Batch, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE batches SET status = $2
		WHERE id = $1 AND status IN ($3, $4)`,
		batchID, string(BatchStatusExecuting), string(BatchStatusApproved), string(BatchStatusExecuting))
	if err != nil {
		return Batch{}, err
	}
	return s.GetBatch(ctx, batchID)
}

// TransitionJob is the compare-and-set write: the UPDATE matches only rows
// whose current status is in from, so a concurrent terminal write wins at
// most once.
func (s *PostgresStore) TransitionJob(ctx context.Context, jobID string, from []JobStatus, patch JobPatch) (CallJob, bool, error) {
	if jobID == "" || len(from) == 0 {
		return CallJob{}, false, ErrInvalidArgument
	}
	now := s.clock().UTC()

	sets := []string{"status = $1"}
	args := []any{string(patch.Status)}
	next := 2

	addSet := func(expr string, v any) {
		sets = append(sets, fmt.Sprintf(expr, next))
		args = append(args, v)
		next++
	}

	if patch.ProviderHandle != nil {
		addSet("provider_handle = $%d", *patch.ProviderHandle)
	}
	if patch.ErrorMessage != nil {
		addSet("error_message = $%d", *patch.ErrorMessage)
	}
	if patch.StampStarted {
		addSet("started_at = COALESCE(started_at, $%d)", now)
	}
	if patch.StampCompleted {
		addSet("completed_at = COALESCE(completed_at, $%d)", now)
	}
	if patch.RefinedTranscript != nil {
		addSet("refined_transcript = COALESCE(NULLIF($%d, ''), refined_transcript)", *patch.RefinedTranscript)
	}
	if patch.RecordingURL != nil {
		addSet("recording_url = COALESCE(NULLIF($%d, ''), recording_url)", *patch.RecordingURL)
	}
	if patch.DurationSeconds != nil {
		addSet("call_duration = GREATEST(call_duration, $%d)", *patch.DurationSeconds)
	}

	idArg := next
	args = append(args, jobID)
	next++

	inList := make([]string, 0, len(from))
	for _, st := range from {
		inList = append(inList, fmt.Sprintf("$%d", next))
		args = append(args, string(st))
		next++
	}

	q := fmt.Sprintf(`UPDATE call_jobs SET %s WHERE id = $%d AND status IN (%s)`,
		strings.Join(sets, ", "), idArg, strings.Join(inList, ", "))

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return CallJob{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return CallJob{}, false, err
	}

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return CallJob{}, false, err
	}
	return job, n > 0, nil
}

func (s *PostgresStore) EnrichJob(ctx context.Context, jobID string, e Enrichment) (CallJob, error) {
	sets := make([]string, 0, 3)
	args := make([]any, 0, 4)
	next := 1

	if e.RefinedTranscript != nil {
		sets = append(sets, fmt.Sprintf("refined_transcript = COALESCE(NULLIF($%d, ''), refined_transcript)", next))
		args = append(args, *e.RefinedTranscript)
		next++
	}
	if e.RecordingURL != nil {
		sets = append(sets, fmt.Sprintf("recording_url = COALESCE(NULLIF($%d, ''), recording_url)", next))
		args = append(args, *e.RecordingURL)
		next++
	}
	if e.DurationSeconds != nil {
		sets = append(sets, fmt.Sprintf("call_duration = GREATEST(call_duration, $%d)", next))
		args = append(args, *e.DurationSeconds)
		next++
	}
	if len(sets) == 0 {
		return s.GetJob(ctx, jobID)
	}

	args = append(args, jobID)
	q := fmt.Sprintf(`UPDATE call_jobs SET %s WHERE id = $%d AND status = '%s'`,
		strings.Join(sets, ", "), next, JobStatusCompleted)
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return CallJob{}, err
	}
	return s.GetJob(ctx, jobID)
}

func (s *PostgresStore) AddBatchCounts(ctx context.Context, batchID string, successful, failed int) (Batch, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE batches
		SET successful_jobs = successful_jobs + $2,
		    failed_jobs     = failed_jobs + $3
		WHERE id = $1`,
		batchID, successful, failed)
	if err != nil {
		return Batch{}, err
	}
	return s.GetBatch(ctx, batchID)
}

// CloseBatchIfDone runs the whole check-and-write server-side so concurrent
// callers cannot double-stamp completed_at.
func (s *PostgresStore) CloseBatchIfDone(ctx context.Context, batchID string) (Batch, bool, error) {
	now := s.clock().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE batches
		SET status = $2, completed_at = $3
		WHERE id = $1
		  AND completed_at IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM call_jobs
			WHERE batch_id = $1 AND status NOT IN ($4, $5, $6)
		  )`,
		batchID, string(BatchStatusCompleted), now,
		string(JobStatusCompleted), string(JobStatusFailed), string(JobStatusCanceled))
	if err != nil {
		return Batch{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Batch{}, false, err
	}
	b, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return Batch{}, false, err
	}
	return b, n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(r rowScanner) (Batch, error) {
	var b Batch
	var status string
	err := r.Scan(&b.ID, &b.Name, &status, &b.TotalJobs, &b.SuccessfulJobs, &b.FailedJobs,
		&b.CreatedAt, &b.ApprovedAt, &b.CompletedAt)
	if err == sql.ErrNoRows {
		return Batch{}, ErrNotFound
	}
	if err != nil {
		return Batch{}, err
	}
	b.Status = BatchStatus(status)
	return b, nil
}

func scanJob(r rowScanner) (CallJob, error) {
	var j CallJob
	var status string
	var handle, live, refined, recording, errMsg, message sql.NullString
	var duration sql.NullInt64
	err := r.Scan(&j.ID, &j.BatchID, &j.DriverName, &j.PhoneNumber, &j.TargetRef, &message,
		&status, &handle, &live, &refined, &recording, &duration, &errMsg,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if err == sql.ErrNoRows {
		return CallJob{}, ErrNotFound
	}
	if err != nil {
		return CallJob{}, err
	}
	j.Status = JobStatus(status)
	j.Message = message.String
	j.ProviderHandle = handle.String
	j.LiveTranscript = live.String
	j.RefinedTranscript = refined.String
	j.RecordingURL = recording.String
	j.ErrorMessage = errMsg.String
	j.DurationSeconds = int(duration.Int64)
	return j, nil
}

func scanJobs(rows *sql.Rows) ([]CallJob, error) {
	defer rows.Close()
	var out []CallJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
