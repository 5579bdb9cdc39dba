package landing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store is the Postgres-backed Landing Job queue.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// row is the sqlx scan target for a landing_jobs row.
type row struct {
	ID                    int64           `db:"id"`
	Status                string          `db:"status"`
	RequesterEmail        string          `db:"requester_email"`
	RepositoryName        string          `db:"repository_name"`
	RepositoryURL         string          `db:"repository_url"`
	LandedCommitID        string          `db:"landed_commit_id"`
	Error                 string          `db:"error"`
	ErrorBreakdown        sql.NullString  `db:"error_breakdown"`
	Attempts              int             `db:"attempts"`
	Priority              int             `db:"priority"`
	DurationSeconds       sql.NullInt64   `db:"duration_seconds"`
	FormattedReplacements sql.NullString  `db:"formatted_replacements"`
	TargetCommitHash      sql.NullString  `db:"target_commit_hash"`
	CreatedAt             time.Time       `db:"created_at"`
	UpdatedAt             time.Time       `db:"updated_at"`
}

func (r *row) toJob() (*Job, error) {
	j := &Job{
		ID:             r.ID,
		Status:         Status(r.Status),
		RequesterEmail: r.RequesterEmail,
		RepositoryName: r.RepositoryName,
		RepositoryURL:  r.RepositoryURL,
		LandedCommitID: r.LandedCommitID,
		Error:          r.Error,
		Attempts:       r.Attempts,
		Priority:       r.Priority,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.DurationSeconds.Valid {
		v := int(r.DurationSeconds.Int64)
		j.DurationSeconds = &v
	}
	if r.TargetCommitHash.Valid {
		v := r.TargetCommitHash.String
		j.TargetCommitHash = &v
	}
	if r.ErrorBreakdown.Valid && r.ErrorBreakdown.String != "" {
		var eb ErrorBreakdown
		if err := json.Unmarshal([]byte(r.ErrorBreakdown.String), &eb); err != nil {
			return nil, fmt.Errorf("unmarshaling error_breakdown: %w", err)
		}
		j.ErrorBreakdown = &eb
	}
	if r.FormattedReplacements.Valid && r.FormattedReplacements.String != "" {
		if err := json.Unmarshal([]byte(r.FormattedReplacements.String), &j.FormattedReplacements); err != nil {
			return nil, fmt.Errorf("unmarshaling formatted_replacements: %w", err)
		}
	}
	return j, nil
}

const jobColumns = `id, status, requester_email, repository_name, repository_url,
	landed_commit_id, error, error_breakdown, attempts, priority,
	duration_seconds, formatted_replacements, target_commit_hash, created_at, updated_at`

// CreateOpts describes a new landing job submission.
type CreateOpts struct {
	RequesterEmail   string
	RepositoryName   string
	RepositoryURL    string
	Revisions        []RevisionRef
	TargetCommitHash *string
	Priority         int
}

// hasInProgressForRevision reports whether any active job already targets
// one of the given revision ids in the same repository — the duplicate
// check the submission critical section exists to make race-free.
func (s *Store) hasInProgressForRevision(ctx context.Context, tx *sqlx.Tx, repositoryName string, revisionIDs []string) (bool, error) {
	if len(revisionIDs) == 0 {
		return false, nil
	}
	query, args, err := sqlx.In(`
		SELECT COUNT(*) FROM landing_jobs j
		JOIN landing_job_revisions r ON r.landing_job_id = j.id
		WHERE j.repository_name = ? AND j.status IN ('SUBMITTED', 'IN_PROGRESS', 'DEFERRED')
		AND r.revision_id IN (?)`,
		repositoryName, revisionIDs)
	if err != nil {
		return false, fmt.Errorf("building duplicate-check query: %w", err)
	}
	query = s.db.Rebind(query)

	var count int
	if err := tx.GetContext(ctx, &count, query, args...); err != nil {
		return false, fmt.Errorf("checking for in-progress jobs: %w", err)
	}
	return count > 0, nil
}

// HasInProgress is the non-transactional counterpart to
// hasInProgressForRevision, letting the Assessment Engine surface the
// duplicate-in-progress condition as a blocker before submission is ever
// attempted. Submit re-checks the same condition itself inside its
// transaction, since a racing submission could land between this call and
// the actual insert.
func (s *Store) HasInProgress(ctx context.Context, repositoryName string, revisionIDs []string) (bool, error) {
	if len(revisionIDs) == 0 {
		return false, nil
	}
	query, args, err := sqlx.In(`
		SELECT COUNT(*) FROM landing_jobs j
		JOIN landing_job_revisions r ON r.landing_job_id = j.id
		WHERE j.repository_name = ? AND j.status IN ('SUBMITTED', 'IN_PROGRESS', 'DEFERRED')
		AND r.revision_id IN (?)`,
		repositoryName, revisionIDs)
	if err != nil {
		return false, fmt.Errorf("building duplicate-check query: %w", err)
	}
	query = s.db.Rebind(query)

	var count int
	if err := s.db.GetContext(ctx, &count, query, args...); err != nil {
		return false, fmt.Errorf("checking for in-progress jobs: %w", err)
	}
	return count > 0, nil
}

// Submit performs the table-level write-lock critical section: it takes an
// exclusive lock on landing_jobs for the duration of the transaction, so
// that the duplicate-in-progress check and the insert that follows it are
// atomic with respect to any concurrent submission.
func (s *Store) Submit(ctx context.Context, opts CreateOpts) (*Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning submit transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `LOCK TABLE landing_jobs IN EXCLUSIVE MODE`); err != nil {
		return nil, fmt.Errorf("locking landing_jobs: %w", err)
	}

	revisionIDs := make([]string, len(opts.Revisions))
	for i, r := range opts.Revisions {
		revisionIDs[i] = r.RevisionID
	}
	dup, err := s.hasInProgressForRevision(ctx, tx, opts.RepositoryName, revisionIDs)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, fmt.Errorf("landing: a landing job is already in progress for one of these revisions")
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO landing_jobs (status, requester_email, repository_name, repository_url, priority, target_commit_hash)
		VALUES ('SUBMITTED', $1, $2, $3, $4, $5)
		RETURNING id`,
		opts.RequesterEmail, opts.RepositoryName, opts.RepositoryURL, opts.Priority, opts.TargetCommitHash,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("inserting landing job: %w", err)
	}

	for _, r := range opts.Revisions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO landing_job_revisions (landing_job_id, idx, revision_id, diff_id, bug_id, patch_dialect, patch_content)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, r.Index, r.RevisionID, r.DiffID, r.BugID, r.PatchDialect, nullableBytes(r.PatchContent),
		); err != nil {
			return nil, fmt.Errorf("inserting landing job revision: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing submit transaction: %w", err)
	}

	return s.Get(ctx, id)
}

// Get fetches a single job by id, including its revisions, or returns
// (nil, nil) if it doesn't exist.
func (s *Store) Get(ctx context.Context, id int64) (*Job, error) {
	var r row
	err := s.db.GetContext(ctx, &r, `SELECT `+jobColumns+` FROM landing_jobs WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting landing job %d: %w", id, err)
	}
	job, err := r.toJob()
	if err != nil {
		return nil, err
	}
	job.Revisions, err = s.getRevisions(ctx, id)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Store) getRevisions(ctx context.Context, jobID int64) ([]RevisionRef, error) {
	type revRow struct {
		Idx          int            `db:"idx"`
		RevisionID   string         `db:"revision_id"`
		DiffID       int            `db:"diff_id"`
		BugID        int            `db:"bug_id"`
		PatchDialect string         `db:"patch_dialect"`
		PatchContent sql.NullString `db:"patch_content"`
	}
	var rows []revRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT idx, revision_id, diff_id, bug_id, patch_dialect, patch_content FROM landing_job_revisions
		WHERE landing_job_id = $1 ORDER BY idx ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("getting landing job revisions: %w", err)
	}
	out := make([]RevisionRef, len(rows))
	for i, rr := range rows {
		ref := RevisionRef{Index: rr.Idx, RevisionID: rr.RevisionID, DiffID: rr.DiffID, BugID: rr.BugID, PatchDialect: rr.PatchDialect}
		if rr.PatchContent.Valid {
			ref.PatchContent = []byte(rr.PatchContent.String)
		}
		out[i] = ref
	}
	return out, nil
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

// ClaimNext claims the next SUBMITTED or DEFERRED job for one of the
// given repositories, ordered SUBMITTED before DEFERRED, then by priority
// (highest first), then by creation time (oldest first). IN_PROGRESS jobs
// are never claimed, so a job left IN_PROGRESS by a worker that died is
// not picked up again. It uses plain SELECT ... FOR UPDATE — not
// SKIP LOCKED — so a second worker blocks on, rather than skips past, a
// row another worker is mid-claim on. That block-then-see-it's-already-
// IN_PROGRESS ordering is what guarantees a single winner. Jobs created
// less than graceSeconds ago are not claimed.
func (s *Store) ClaimNext(ctx context.Context, repositories []string, graceSeconds int) (*Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	query, args, err := sqlx.In(`
		SELECT `+jobColumns+` FROM landing_jobs
		WHERE status IN ('SUBMITTED', 'DEFERRED')
		AND repository_name IN (?)
		AND created_at < now() - (? || ' seconds')::interval
		ORDER BY status DESC, priority DESC, created_at ASC
		LIMIT 1
		FOR UPDATE`,
		repositories, graceSeconds)
	if err != nil {
		return nil, fmt.Errorf("building claim query: %w", err)
	}
	query = tx.Rebind(query)

	var r row
	err = tx.QueryRowxContext(ctx, query, args...).StructScan(&r)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming next job: %w", err)
	}

	job, err := r.toJob()
	if err != nil {
		return nil, err
	}

	if err := job.Transition(ActionStart, TransitionFields{}); err != nil {
		return nil, err
	}
	job.Attempts++

	if _, err := tx.ExecContext(ctx, `
		UPDATE landing_jobs SET status = $1, attempts = $2, updated_at = now() WHERE id = $3`,
		string(job.Status), job.Attempts, job.ID,
	); err != nil {
		return nil, fmt.Errorf("marking job %d in progress: %w", job.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim transaction: %w", err)
	}

	job.Revisions, err = s.getRevisions(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Save persists a job's current in-memory state (status, error, landed
// commit, formatted replacements, duration) back to the database. Callers
// apply Transition to the in-memory Job first, then call Save.
func (s *Store) Save(ctx context.Context, job *Job) error {
	var breakdown, replacements []byte
	var err error
	if job.ErrorBreakdown != nil {
		breakdown, err = json.Marshal(job.ErrorBreakdown)
		if err != nil {
			return fmt.Errorf("marshaling error_breakdown: %w", err)
		}
	}
	replacements, err = json.Marshal(job.FormattedReplacements)
	if err != nil {
		return fmt.Errorf("marshaling formatted_replacements: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE landing_jobs SET
			status = $1, landed_commit_id = $2, error = $3, error_breakdown = $4,
			duration_seconds = $5, formatted_replacements = $6, updated_at = now()
		WHERE id = $7`,
		string(job.Status), job.LandedCommitID, job.Error, nullableJSON(breakdown),
		job.DurationSeconds, replacements, job.ID,
	)
	if err != nil {
		return fmt.Errorf("saving job %d: %w", job.ID, err)
	}
	return nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// ErrCancelForbidden is returned by Cancel when requesterEmail doesn't
// match the job's own RequesterEmail: only the submitter may cancel their
// own landing job.
type ErrCancelForbidden struct {
	JobID int64
}

func (e *ErrCancelForbidden) Error() string {
	return fmt.Sprintf("landing: job %d may only be cancelled by its requester", e.JobID)
}

// Cancel transitions a SUBMITTED or DEFERRED job to CANCELLED. It is a
// no-op error (returns a descriptive error) if the job is already
// IN_PROGRESS or terminal, since a job actively being landed cannot be
// safely cancelled out from under the worker. requesterEmail must match
// the job's own RequesterEmail, or an *ErrCancelForbidden is returned.
func (s *Store) Cancel(ctx context.Context, id int64, requesterEmail string) (*Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("landing: job %d not found", id)
	}
	if job.RequesterEmail != requesterEmail {
		return nil, &ErrCancelForbidden{JobID: id}
	}
	if err := job.Transition(ActionCancel, TransitionFields{}); err != nil {
		return nil, err
	}
	if err := s.Save(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// ListQueue returns the jobs eligible for landing for the given
// repositories, in claim order, for display purposes (the Public Request
// API's queue listing). It does not lock rows.
func (s *Store) ListQueue(ctx context.Context, repositories []string) ([]*Job, error) {
	query, args, err := sqlx.In(`
		SELECT `+jobColumns+` FROM landing_jobs
		WHERE status IN ('SUBMITTED', 'IN_PROGRESS', 'DEFERRED')
		AND repository_name IN (?)
		ORDER BY status DESC, priority DESC, created_at ASC`,
		repositories)
	if err != nil {
		return nil, fmt.Errorf("building queue list query: %w", err)
	}
	query = s.db.Rebind(query)

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing queue: %w", err)
	}

	jobs := make([]*Job, len(rows))
	for i, r := range rows {
		job, err := r.toJob()
		if err != nil {
			return nil, err
		}
		jobs[i] = job
	}
	return jobs, nil
}
