/*
Copyright 2025 Guild PayOps Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Khalil2008k/guild-payops/internal/apierror"
	"github.com/Khalil2008k/guild-payops/model"
)

const releaseTimerColumns = `timer_id, job_id, user_id, amount, release_date, status, reason, created_at, released_at`

func scanReleaseTimer(row rowScanner) (*model.ReleaseTimer, error) {
	timer := model.ReleaseTimer{}
	var releasedAt sql.NullTime

	err := row.Scan(&timer.TimerID, &timer.JobID, &timer.UserID, &timer.Amount,
		&timer.ReleaseDate, &timer.Status, &timer.Reason, &timer.CreatedAt, &releasedAt)
	if err != nil {
		return nil, err
	}
	if releasedAt.Valid {
		timer.ReleasedAt = &releasedAt.Time
	}
	return &timer, nil
}

// ScheduleReleaseTimer inserts a SCHEDULED timer for a job/user pair. Any
// prior SCHEDULED timer for the same pair is cancelled in the same
// transaction, so at most one timer per pair can ever fire. Returns the new
// timer and the ID of the timer it superseded, if any.
func (d Datasource) ScheduleReleaseTimer(ctx context.Context, timer *model.ReleaseTimer, audit *model.AuditRecord) (*model.ReleaseTimer, string, error) {
	if timer.TimerID == "" {
		timer.TimerID = model.GenerateUUIDWithSuffix("rlt")
	}
	timer.Status = model.TimerScheduled
	timer.CreatedAt = time.Now()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var superseded string
	err = tx.QueryRowContext(ctx, `
		UPDATE payops.release_timers
		SET status = 'CANCELLED'
		WHERE job_id = $1 AND user_id = $2 AND status = 'SCHEDULED'
		RETURNING timer_id
	`, timer.JobID, timer.UserID).Scan(&superseded)
	if err != nil && err != sql.ErrNoRows {
		return nil, "", apierror.NewAPIError(apierror.ErrInternalServer, "Failed to supersede prior release timer", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payops.release_timers
			(timer_id, job_id, user_id, amount, release_date, status, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, timer.TimerID, timer.JobID, timer.UserID, timer.Amount, timer.ReleaseDate,
		timer.Status, timer.Reason, timer.CreatedAt)
	if err != nil {
		return nil, "", apierror.NewAPIError(apierror.ErrInternalServer, "Failed to schedule release timer", err)
	}

	if audit != nil && superseded != "" {
		if audit.Payload.Metadata == nil {
			audit.Payload.Metadata = map[string]interface{}{}
		}
		audit.Payload.Metadata["superseded_timer_id"] = superseded
	}
	if err := d.insertAuditRecordTx(ctx, tx, audit); err != nil {
		return nil, "", err
	}

	if err := tx.Commit(); err != nil {
		return nil, "", apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit release timer", err)
	}
	return timer, superseded, nil
}

func (d Datasource) GetReleaseTimer(ctx context.Context, id string) (*model.ReleaseTimer, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM payops.release_timers WHERE timer_id = $1
	`, releaseTimerColumns), id)

	timer, err := scanReleaseTimer(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Release timer not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve release timer", err)
	}
	return timer, nil
}

// GetScheduledTimerForJob returns the SCHEDULED timer for a job/user pair,
// or nil when no timer is live for that pair.
func (d Datasource) GetScheduledTimerForJob(ctx context.Context, jobID, userID string) (*model.ReleaseTimer, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM payops.release_timers
		WHERE job_id = $1 AND user_id = $2 AND status = 'SCHEDULED'
	`, releaseTimerColumns), jobID, userID)

	timer, err := scanReleaseTimer(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve release timer for job", err)
	}
	return timer, nil
}

// RecordRetroactiveRelease inserts a timer directly in RELEASED state, for a
// payment completed before any release was ever scheduled. The release ledger
// stays complete without the row ever passing through SCHEDULED.
func (d Datasource) RecordRetroactiveRelease(ctx context.Context, timer *model.ReleaseTimer, audit *model.AuditRecord) (*model.ReleaseTimer, error) {
	if timer.TimerID == "" {
		timer.TimerID = model.GenerateUUIDWithSuffix("rlt")
	}
	now := time.Now()
	timer.Status = model.TimerReleased
	timer.CreatedAt = now
	timer.ReleasedAt = &now
	if timer.ReleaseDate.IsZero() {
		timer.ReleaseDate = now
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payops.release_timers
			(timer_id, job_id, user_id, amount, release_date, status, reason, created_at, released_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, timer.TimerID, timer.JobID, timer.UserID, timer.Amount, timer.ReleaseDate,
		timer.Status, timer.Reason, timer.CreatedAt, timer.ReleasedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record retroactive release", err)
	}

	if err := d.insertAuditRecordTx(ctx, tx, audit); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit retroactive release", err)
	}
	return timer, nil
}

// GetReleaseTimers lists timers, optionally narrowed to one status, soonest
// release first.
func (d Datasource) GetReleaseTimers(ctx context.Context, status model.TimerStatus, limit, offset int) ([]*model.ReleaseTimer, error) {
	query := fmt.Sprintf(`SELECT %s FROM payops.release_timers`, releaseTimerColumns)
	args := []interface{}{}

	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" WHERE status = $%d", len(args))
	}
	query += " ORDER BY release_date ASC"
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve release timers", err)
	}
	defer rows.Close()

	timers := []*model.ReleaseTimer{}
	for rows.Next() {
		timer, err := scanReleaseTimer(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan release timer", err)
		}
		timers = append(timers, timer)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over release timers", err)
	}
	return timers, nil
}

// MarkTimerReleased fires one timer. The status precondition makes the task
// handler and the sweep idempotent against each other: whichever path gets
// there first wins and the other sees a conflict it can ignore.
func (d Datasource) MarkTimerReleased(ctx context.Context, id string, audit *model.AuditRecord) (*model.ReleaseTimer, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE payops.release_timers
		SET status = 'RELEASED', released_at = NOW()
		WHERE timer_id = $1 AND status = 'SCHEDULED'
		RETURNING %s
	`, releaseTimerColumns), id)

	timer, err := scanReleaseTimer(row)
	if err != nil {
		if err == sql.ErrNoRows {
			var current model.TimerStatus
			scanErr := d.Conn.QueryRowContext(ctx, `
				SELECT status FROM payops.release_timers WHERE timer_id = $1
			`, id).Scan(&current)
			if scanErr == sql.ErrNoRows {
				return nil, apierror.NewAPIError(apierror.ErrNotFound, "Release timer not found", scanErr)
			}
			if scanErr != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to inspect release timer state", scanErr)
			}
			return nil, apierror.NewConflictError("Release timer is not scheduled", string(current), "release")
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to release timer", err)
	}

	if err := d.insertAuditRecordTx(ctx, tx, audit); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit timer release", err)
	}
	return timer, nil
}

// FireDueTimers releases every SCHEDULED timer whose release date has passed,
// writing one audit record per fired timer in the same transaction. This is
// the sweep's companion to MarkTimerReleased and shares its precondition.
func (d Datasource) FireDueTimers(ctx context.Context, now time.Time, actor string) ([]*model.ReleaseTimer, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		UPDATE payops.release_timers
		SET status = 'RELEASED', released_at = $1
		WHERE status = 'SCHEDULED' AND release_date <= $1
		RETURNING %s
	`, releaseTimerColumns), now)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fire due timers", err)
	}

	timers := []*model.ReleaseTimer{}
	for rows.Next() {
		timer, err := scanReleaseTimer(rows)
		if err != nil {
			rows.Close()
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan release timer", err)
		}
		timers = append(timers, timer)
	}
	if err = rows.Err(); err != nil {
		rows.Close()
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while firing due timers", err)
	}
	rows.Close()

	for _, timer := range timers {
		record := &model.AuditRecord{
			Actor:        actor,
			Action:       model.ActionTimerReleased,
			ResourceType: model.ResourceReleaseTimer,
			ResourceID:   timer.TimerID,
			StatusBefore: string(model.TimerScheduled),
			StatusAfter:  string(model.TimerReleased),
			Success:      true,
			Payload: model.AuditPayload{
				Reason: string(timer.Reason),
			},
		}
		if err := d.insertAuditRecordTx(ctx, tx, record); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit timer sweep", err)
	}
	return timers, nil
}

// CancelReleaseTimerByID cancels one SCHEDULED timer by its ID.
func (d Datasource) CancelReleaseTimerByID(ctx context.Context, id string, audit *model.AuditRecord) (*model.ReleaseTimer, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE payops.release_timers
		SET status = 'CANCELLED'
		WHERE timer_id = $1 AND status = 'SCHEDULED'
		RETURNING %s
	`, releaseTimerColumns), id)

	timer, err := scanReleaseTimer(row)
	if err != nil {
		if err == sql.ErrNoRows {
			var current model.TimerStatus
			scanErr := d.Conn.QueryRowContext(ctx, `
				SELECT status FROM payops.release_timers WHERE timer_id = $1
			`, id).Scan(&current)
			if scanErr == sql.ErrNoRows {
				return nil, apierror.NewAPIError(apierror.ErrNotFound, "Release timer not found", scanErr)
			}
			if scanErr != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to inspect release timer state", scanErr)
			}
			return nil, apierror.NewConflictError("Release timer is not scheduled", string(current), "cancel")
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to cancel release timer", err)
	}

	if err := d.insertAuditRecordTx(ctx, tx, audit); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit timer cancellation", err)
	}
	return timer, nil
}

// CancelReleaseTimer cancels the SCHEDULED timer for a job/user pair, if one
// exists.
func (d Datasource) CancelReleaseTimer(ctx context.Context, jobID, userID string, audit *model.AuditRecord) (*model.ReleaseTimer, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE payops.release_timers
		SET status = 'CANCELLED'
		WHERE job_id = $1 AND user_id = $2 AND status = 'SCHEDULED'
		RETURNING %s
	`, releaseTimerColumns), jobID, userID)

	timer, err := scanReleaseTimer(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "No scheduled release timer for this job and user", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to cancel release timer", err)
	}

	if audit != nil {
		audit.ResourceID = timer.TimerID
	}
	if err := d.insertAuditRecordTx(ctx, tx, audit); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit timer cancellation", err)
	}
	return timer, nil
}
