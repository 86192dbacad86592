package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/surelv/courier/internal/apierror"
	"github.com/surelv/courier/model"
)

// LockTimeout is how long a claim lock is honored before the job is
// considered abandoned and becomes claimable again. Elapsed time is the
// only crash-recovery signal; there is no worker heartbeat.
const LockTimeout = 5 * time.Minute

// pqUniqueViolation is the Postgres error code for unique constraint violations.
const pqUniqueViolation = "23505"

// EnqueueJob inserts a new job. It returns false without an error when the
// dedupe key is already taken; callers must branch on the result instead of
// assuming the insert landed.
func (d Datasource) EnqueueJob(ctx context.Context, j *model.Job) (bool, error) {
	paramsJSON, err := j.MarshalParams()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal job params", err)
	}
	metaJSON, err := json.Marshal(j.ExecutionMeta)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal execution metadata", err)
	}

	_, err = d.Conn.ExecContext(ctx,
		`INSERT INTO jobs(job_id,name,kind,params,status,status_msg,execution_meta,run_at,priority,attempts,last_error,dedupe_key,flow_key,flow_instance_id,step_order,src_id,created_at,updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		j.JobID, j.Name, j.Kind, paramsJSON, j.Status, j.StatusMsg, metaJSON, j.RunAt, j.Priority, j.Attempts, j.LastError, nullString(j.DedupeKey), nullString(j.FlowKey), nullString(j.FlowInstanceID), j.StepOrder, nullString(j.SrcID), j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		// only a dedupe-key collision is the benign duplicate case; any
		// other unique violation (job_id) is a real fault
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == pqUniqueViolation && pqErr.Constraint == "jobs_dedupe_key_idx" {
			return false, nil
		}
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to enqueue job", err)
	}
	return true, nil
}

// ClaimDueJobs selects due jobs of the given kind and claims each one with a
// conditional update. Only jobs whose claim update actually applied are
// returned; rows lost to a concurrent worker are dropped from the result.
func (d Datasource) ClaimDueJobs(ctx context.Context, kind model.JobKind, limit int, workerToken string) ([]*model.Job, error) {
	now := time.Now()
	lockCutoff := now.Add(-LockTimeout)

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT job_id, name, kind, params, status, status_msg, execution_meta, run_at, priority, attempts, last_error, dedupe_key, flow_key, flow_instance_id, step_order, locked_at, locked_by, cancelled_at, cancel_reason, src_id, created_at, updated_at
		FROM jobs
		WHERE kind = $1
		AND status = 'queued'
		AND run_at <= $2
		AND cancelled_at IS NULL
		AND (locked_at IS NULL OR locked_at < $3)
		ORDER BY priority DESC, run_at ASC, id ASC
		LIMIT $4
	`, kind, now, lockCutoff, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to select due jobs", err)
	}
	defer rows.Close()

	var candidates []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, j)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to iterate due jobs", err)
	}

	claimed := make([]*model.Job, 0, len(candidates))
	for _, j := range candidates {
		res, err := d.Conn.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'running', locked_at = $1, locked_by = $2, attempts = attempts + 1, updated_at = $1
			WHERE job_id = $3
			AND status = 'queued'
			AND cancelled_at IS NULL
			AND (locked_at IS NULL OR locked_at < $4)
		`, now, workerToken, j.JobID, lockCutoff)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim job", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read claim result", err)
		}
		if affected == 0 {
			// lost the race to another worker
			continue
		}
		j.Status = model.JobStatusRunning
		lockedAt := now
		j.LockedAt = &lockedAt
		j.LockedBy = workerToken
		j.Attempts++
		claimed = append(claimed, j)
	}
	return claimed, nil
}

func (d Datasource) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT job_id, name, kind, params, status, status_msg, execution_meta, run_at, priority, attempts, last_error, dedupe_key, flow_key, flow_instance_id, step_order, locked_at, locked_by, cancelled_at, cancel_reason, src_id, created_at, updated_at
		FROM jobs
		WHERE job_id = $1
	`, id)

	j, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Job with ID '%s' not found", id), err)
		}
		return nil, err
	}
	return j, nil
}

func (d Datasource) GetJobByDedupeKey(ctx context.Context, key string) (*model.Job, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT job_id, name, kind, params, status, status_msg, execution_meta, run_at, priority, attempts, last_error, dedupe_key, flow_key, flow_instance_id, step_order, locked_at, locked_by, cancelled_at, cancel_reason, src_id, created_at, updated_at
		FROM jobs
		WHERE dedupe_key = $1
	`, key)

	j, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Job with dedupe key '%s' not found", key), err)
		}
		return nil, err
	}
	return j, nil
}

// GetDraftJobs lists list-kind jobs awaiting manual release, oldest first.
func (d Datasource) GetDraftJobs(ctx context.Context, limit int) ([]*model.Job, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT job_id, name, kind, params, status, status_msg, execution_meta, run_at, priority, attempts, last_error, dedupe_key, flow_key, flow_instance_id, step_order, locked_at, locked_by, cancelled_at, cancel_reason, src_id, created_at, updated_at
		FROM jobs
		WHERE status = 'draft'
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list draft jobs", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to iterate draft jobs", err)
	}
	return jobs, nil
}

// UpdateJobStatus transitions a job to the given status unconditionally,
// recording an optional message and merging execution metadata when present.
func (d Datasource) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, statusMsg string, meta map[string]interface{}) error {
	var metaJSON interface{}
	if meta != nil {
		raw, err := json.Marshal(meta)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal execution metadata", err)
		}
		metaJSON = raw
	}

	res, err := d.Conn.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, status_msg = $2, execution_meta = COALESCE($3, execution_meta), updated_at = NOW()
		WHERE job_id = $4
	`, status, statusMsg, metaJSON, jobID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update job status", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read update result", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Job with ID '%s' not found", jobID), nil)
	}
	return nil
}

// FailJob transitions a job to failed, recording the reason in both the
// status message and last_error.
func (d Datasource) FailJob(ctx context.Context, jobID string, reason string, meta map[string]interface{}) error {
	var metaJSON interface{}
	if meta != nil {
		raw, err := json.Marshal(meta)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal execution metadata", err)
		}
		metaJSON = raw
	}

	res, err := d.Conn.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed', status_msg = $1, last_error = $1, execution_meta = COALESCE($2, execution_meta), updated_at = NOW()
		WHERE job_id = $3
	`, reason, metaJSON, jobID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fail job", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read update result", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Job with ID '%s' not found", jobID), nil)
	}
	return nil
}

// CancelJob marks an open job as cancelled. Terminal jobs are left alone.
func (d Datasource) CancelJob(ctx context.Context, jobID string, reason string) error {
	res, err := d.Conn.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'cancelled', cancelled_at = NOW(), cancel_reason = $1, updated_at = NOW()
		WHERE job_id = $2
		AND status IN ('draft', 'queued')
	`, reason, jobID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to cancel job", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read update result", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Job with ID '%s' is not cancellable", jobID), nil)
	}
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	j := &model.Job{}
	var paramsJSON, metaJSON []byte
	var statusMsg, lastError, dedupeKey, flowKey, flowInstanceID, lockedBy, cancelReason, srcID sql.NullString
	var lockedAt, cancelledAt sql.NullTime

	err := row.Scan(&j.JobID, &j.Name, &j.Kind, &paramsJSON, &j.Status, &statusMsg, &metaJSON, &j.RunAt, &j.Priority, &j.Attempts, &lastError, &dedupeKey, &flowKey, &flowInstanceID, &j.StepOrder, &lockedAt, &lockedBy, &cancelledAt, &cancelReason, &srcID, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan job row", err)
	}

	if err := j.UnmarshalParams(paramsJSON); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal job params", err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &j.ExecutionMeta); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal execution metadata", err)
		}
	}

	j.StatusMsg = statusMsg.String
	j.LastError = lastError.String
	j.DedupeKey = dedupeKey.String
	j.FlowKey = flowKey.String
	j.FlowInstanceID = flowInstanceID.String
	j.LockedBy = lockedBy.String
	j.CancelReason = cancelReason.String
	j.SrcID = srcID.String
	if lockedAt.Valid {
		t := lockedAt.Time
		j.LockedAt = &t
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		j.CancelledAt = &t
	}
	return j, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
