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
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/Khalil2008k/guild-payops/internal/apierror"
	"github.com/Khalil2008k/guild-payops/model"
)

// queueItemColumns is the canonical column list for queue item scans.
const queueItemColumns = `item_id, job_id, user_id, client_id, amount, currency, status, priority, item_type,
	assigned_to, supersedes, notes, psp_transaction_id, created_at, updated_at,
	processing_started_at, processing_completed_at, estimated_completion_date`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQueueItem(row rowScanner) (*model.ManualPaymentItem, error) {
	item := model.ManualPaymentItem{}
	var jobID, userID, clientID, assignedTo, supersedes, notes, pspTxnID sql.NullString
	var processingStartedAt, processingCompletedAt sql.NullTime

	err := row.Scan(
		&item.ItemID, &jobID, &userID, &clientID, &item.Amount, &item.Currency,
		&item.Status, &item.Priority, &item.ItemType, &assignedTo, &supersedes,
		&notes, &pspTxnID, &item.CreatedAt, &item.UpdatedAt,
		&processingStartedAt, &processingCompletedAt, &item.EstimatedCompletionDate,
	)
	if err != nil {
		return nil, err
	}

	item.JobID = jobID.String
	item.UserID = userID.String
	item.ClientID = clientID.String
	item.AssignedTo = assignedTo.String
	item.Supersedes = supersedes.String
	item.Notes = notes.String
	item.PSPTransactionID = pspTxnID.String
	if processingStartedAt.Valid {
		item.ProcessingStartedAt = &processingStartedAt.Time
	}
	if processingCompletedAt.Valid {
		item.ProcessingCompletedAt = &processingCompletedAt.Time
	}
	return &item, nil
}

// RecordQueueItem inserts a new manual payment item together with its audit
// record in one transaction. Items enter the queue PENDING; the estimated
// completion date is fixed at creation from the priority SLA window.
func (d Datasource) RecordQueueItem(ctx context.Context, item *model.ManualPaymentItem, audit *model.AuditRecord) (*model.ManualPaymentItem, error) {
	if item.ItemID == "" {
		item.ItemID = model.GenerateUUIDWithSuffix("mpi")
	}
	if item.Status == "" {
		item.Status = model.StatusPending
	}
	if item.ItemType == "" {
		item.ItemType = model.ItemTypePayment
	}
	now := time.Now()
	item.CreatedAt = now
	item.UpdatedAt = now
	item.EstimatedCompletionDate = model.EstimateCompletion(now, item.Priority)

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payops.queue_items
			(item_id, job_id, user_id, client_id, amount, currency, status, priority, item_type,
			 assigned_to, supersedes, notes, psp_transaction_id, created_at, updated_at, estimated_completion_date)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9,
			 NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''), NULLIF($13, ''), $14, $15, $16)
	`, item.ItemID, item.JobID, item.UserID, item.ClientID, item.Amount, item.Currency,
		item.Status, item.Priority, item.ItemType, item.AssignedTo, item.Supersedes,
		item.Notes, item.PSPTransactionID, item.CreatedAt, item.UpdatedAt, item.EstimatedCompletionDate)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Queue item with this ID already exists", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record queue item", err)
	}

	if err := d.insertAuditRecordTx(ctx, tx, audit); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit queue item", err)
	}
	return item, nil
}

// GetQueueItem retrieves a single item by ID. The derived overdue flag is
// stamped against the current clock.
func (d Datasource) GetQueueItem(ctx context.Context, id string) (*model.ManualPaymentItem, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM payops.queue_items WHERE item_id = $1
	`, queueItemColumns), id)

	item, err := scanQueueItem(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Queue item not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve queue item", err)
	}
	item.Overdue = item.IsOverdue(time.Now())
	return item, nil
}

// GetQueueItems retrieves items matching the filter. Ordering is done by the
// caller through model.SortQueue so the serving order has a single source of
// truth.
func (d Datasource) GetQueueItems(ctx context.Context, filter QueueFilter) ([]*model.ManualPaymentItem, error) {
	query := fmt.Sprintf(`SELECT %s FROM payops.queue_items WHERE 1=1`, queueItemColumns)
	args := []interface{}{}

	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Priority != "" {
		args = append(args, filter.Priority)
		query += fmt.Sprintf(" AND priority = $%d", len(args))
	}
	if filter.AssignedTo != "" {
		args = append(args, filter.AssignedTo)
		query += fmt.Sprintf(" AND assigned_to = $%d", len(args))
	}
	if filter.ItemType != "" {
		args = append(args, filter.ItemType)
		query += fmt.Sprintf(" AND item_type = $%d", len(args))
	}

	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve queue items", err)
	}
	defer rows.Close()

	items := []*model.ManualPaymentItem{}
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan queue item", err)
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over queue items", err)
	}
	return items, nil
}

// transitionFailure builds the error for a transition whose conditional
// UPDATE matched no row. It receives the item's live state so callers can
// distinguish a lost race from an illegal edge.
type transitionFailure func(current model.PaymentStatus, assignedTo string) error

// applyQueueTransition runs a conditional UPDATE and its audit insert as one
// transaction. The query must end with RETURNING queueItemColumns and carry
// its status precondition in the WHERE clause; zero rows updated means the
// precondition no longer holds and onMiss decides what that means.
func (d Datasource) applyQueueTransition(ctx context.Context, query string, args []interface{}, id string, onMiss transitionFailure, audit *model.AuditRecord) (*model.ManualPaymentItem, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, query, args...)
	item, err := scanQueueItem(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, d.queueTransitionMiss(ctx, id, onMiss)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update queue item", err)
	}

	audit.StatusAfter = string(item.Status)
	if err := d.insertAuditRecordTx(ctx, tx, audit); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit queue item transition", err)
	}
	return item, nil
}

// queueTransitionMiss reads the item's live state to explain why a
// conditional update matched nothing.
func (d Datasource) queueTransitionMiss(ctx context.Context, id string, onMiss transitionFailure) error {
	var status model.PaymentStatus
	var assignedTo sql.NullString
	err := d.Conn.QueryRowContext(ctx, `
		SELECT status, assigned_to FROM payops.queue_items WHERE item_id = $1
	`, id).Scan(&status, &assignedTo)
	if err != nil {
		if err == sql.ErrNoRows {
			return apierror.NewAPIError(apierror.ErrNotFound, "Queue item not found", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to inspect queue item state", err)
	}
	return onMiss(status, assignedTo.String)
}

// ClaimQueueItem assigns a PENDING item to an operator. The status check in
// the WHERE clause is the compare-and-swap: when two operators race, exactly
// one UPDATE matches and the loser gets a conflict with the winner's state.
func (d Datasource) ClaimQueueItem(ctx context.Context, id, operatorID string, audit *model.AuditRecord) (*model.ManualPaymentItem, error) {
	query := fmt.Sprintf(`
		UPDATE payops.queue_items
		SET status = 'ASSIGNED', assigned_to = $2, updated_at = NOW()
		WHERE item_id = $1 AND status = 'PENDING'
		RETURNING %s
	`, queueItemColumns)

	return d.applyQueueTransition(ctx, query, []interface{}{id, operatorID}, id, func(current model.PaymentStatus, assignedTo string) error {
		if current == model.StatusAssigned || current == model.StatusProcessing {
			return apierror.NewConflictError("Item already claimed by another operator", string(current), "assign")
		}
		return apierror.NewIllegalTransitionError(string(current), "assign")
	}, audit)
}

// ReassignQueueItem hands an ASSIGNED item to a different operator without
// changing its status.
func (d Datasource) ReassignQueueItem(ctx context.Context, id, operatorID string, audit *model.AuditRecord) (*model.ManualPaymentItem, error) {
	query := fmt.Sprintf(`
		UPDATE payops.queue_items
		SET assigned_to = $2, updated_at = NOW()
		WHERE item_id = $1 AND status = 'ASSIGNED'
		RETURNING %s
	`, queueItemColumns)

	return d.applyQueueTransition(ctx, query, []interface{}{id, operatorID}, id, func(current model.PaymentStatus, _ string) error {
		return apierror.NewIllegalTransitionError(string(current), "reassign")
	}, audit)
}

// StartQueueItemProcessing moves an ASSIGNED item to PROCESSING. Only the
// assigned operator may start work.
func (d Datasource) StartQueueItemProcessing(ctx context.Context, id, operatorID string, audit *model.AuditRecord) (*model.ManualPaymentItem, error) {
	query := fmt.Sprintf(`
		UPDATE payops.queue_items
		SET status = 'PROCESSING', processing_started_at = NOW(), updated_at = NOW()
		WHERE item_id = $1 AND status = 'ASSIGNED' AND assigned_to = $2
		RETURNING %s
	`, queueItemColumns)

	return d.applyQueueTransition(ctx, query, []interface{}{id, operatorID}, id, func(current model.PaymentStatus, assignedTo string) error {
		if current == model.StatusAssigned && assignedTo != operatorID {
			return apierror.NewConflictError("Item is assigned to another operator", string(current), "process")
		}
		return apierror.NewIllegalTransitionError(string(current), "process")
	}, audit)
}

// CompleteQueueItem moves a PROCESSING item to COMPLETED.
func (d Datasource) CompleteQueueItem(ctx context.Context, id, operatorID, notes string, audit *model.AuditRecord) (*model.ManualPaymentItem, error) {
	query := fmt.Sprintf(`
		UPDATE payops.queue_items
		SET status = 'COMPLETED', processing_completed_at = NOW(), updated_at = NOW(),
			notes = CASE WHEN $3 = '' THEN notes
				WHEN notes IS NULL OR notes = '' THEN $3
				ELSE notes || E'\n' || $3 END
		WHERE item_id = $1 AND status = 'PROCESSING' AND assigned_to = $2
		RETURNING %s
	`, queueItemColumns)

	return d.applyQueueTransition(ctx, query, []interface{}{id, operatorID, notes}, id, func(current model.PaymentStatus, assignedTo string) error {
		if current == model.StatusProcessing && assignedTo != operatorID {
			return apierror.NewConflictError("Item is being processed by another operator", string(current), "complete")
		}
		return apierror.NewIllegalTransitionError(string(current), "complete")
	}, audit)
}

// FailQueueItem moves a PROCESSING item to FAILED. The failure reason is
// mandatory and is appended to the item notes along with any extra context.
func (d Datasource) FailQueueItem(ctx context.Context, id, operatorID, reason, notes string, audit *model.AuditRecord) (*model.ManualPaymentItem, error) {
	annotation := "failed: " + reason
	if notes != "" {
		annotation += "\n" + notes
	}
	query := fmt.Sprintf(`
		UPDATE payops.queue_items
		SET status = 'FAILED', processing_completed_at = NOW(), updated_at = NOW(),
			notes = CASE WHEN notes IS NULL OR notes = '' THEN $3 ELSE notes || E'\n' || $3 END
		WHERE item_id = $1 AND status = 'PROCESSING' AND assigned_to = $2
		RETURNING %s
	`, queueItemColumns)

	return d.applyQueueTransition(ctx, query, []interface{}{id, operatorID, annotation}, id, func(current model.PaymentStatus, assignedTo string) error {
		if current == model.StatusProcessing && assignedTo != operatorID {
			return apierror.NewConflictError("Item is being processed by another operator", string(current), "fail")
		}
		return apierror.NewIllegalTransitionError(string(current), "fail")
	}, audit)
}

// MarkQueueItemDisputed parks an ASSIGNED or PROCESSING item in the DISPUTED
// holding state.
func (d Datasource) MarkQueueItemDisputed(ctx context.Context, id string, audit *model.AuditRecord) (*model.ManualPaymentItem, error) {
	query := fmt.Sprintf(`
		UPDATE payops.queue_items
		SET status = 'DISPUTED', updated_at = NOW()
		WHERE item_id = $1 AND status IN ('ASSIGNED', 'PROCESSING')
		RETURNING %s
	`, queueItemColumns)

	return d.applyQueueTransition(ctx, query, []interface{}{id}, id, func(current model.PaymentStatus, _ string) error {
		return apierror.NewIllegalTransitionError(string(current), "dispute")
	}, audit)
}

// ResolveQueueItem settles a DISPUTED item into a terminal state chosen by
// the resolver.
func (d Datasource) ResolveQueueItem(ctx context.Context, id string, outcome model.PaymentStatus, notes string, audit *model.AuditRecord) (*model.ManualPaymentItem, error) {
	if outcome != model.StatusCompleted && outcome != model.StatusFailed {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Resolution outcome must be COMPLETED or FAILED", nil)
	}
	query := fmt.Sprintf(`
		UPDATE payops.queue_items
		SET status = $2, processing_completed_at = NOW(), updated_at = NOW(),
			notes = CASE WHEN $3 = '' THEN notes
				WHEN notes IS NULL OR notes = '' THEN $3
				ELSE notes || E'\n' || $3 END
		WHERE item_id = $1 AND status = 'DISPUTED'
		RETURNING %s
	`, queueItemColumns)

	return d.applyQueueTransition(ctx, query, []interface{}{id, outcome, notes}, id, func(current model.PaymentStatus, _ string) error {
		return apierror.NewIllegalTransitionError(string(current), "resolve")
	}, audit)
}

// EscalateQueueItem raises the priority of a non-terminal item. Priority only
// moves up; the estimated completion date is left as computed at creation.
func (d Datasource) EscalateQueueItem(ctx context.Context, id string, priority model.PaymentPriority, audit *model.AuditRecord) (*model.ManualPaymentItem, error) {
	query := fmt.Sprintf(`
		UPDATE payops.queue_items
		SET priority = $2, updated_at = NOW()
		WHERE item_id = $1 AND status NOT IN ('COMPLETED', 'FAILED')
		RETURNING %s
	`, queueItemColumns)

	return d.applyQueueTransition(ctx, query, []interface{}{id, priority}, id, func(current model.PaymentStatus, _ string) error {
		return apierror.NewIllegalTransitionError(string(current), "escalate")
	}, audit)
}

// GetEscalatableItems returns non-terminal items below URGENT that have
// outlived their SLA window as of now.
func (d Datasource) GetEscalatableItems(ctx context.Context, now time.Time) ([]*model.ManualPaymentItem, error) {
	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM payops.queue_items
		WHERE status NOT IN ('COMPLETED', 'FAILED')
			AND priority <> 'URGENT'
			AND created_at < $1 - (CASE priority
				WHEN 'HIGH' THEN INTERVAL '4 hours'
				WHEN 'NORMAL' THEN INTERVAL '24 hours'
				ELSE INTERVAL '72 hours' END)
		ORDER BY created_at ASC
	`, queueItemColumns), now)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve escalatable items", err)
	}
	defer rows.Close()

	items := []*model.ManualPaymentItem{}
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan queue item", err)
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over queue items", err)
	}
	return items, nil
}

// queueStatsCacheKey holds the dashboard counters for a short window; the
// portal polls them far more often than they meaningfully change.
const queueStatsCacheKey = "payops:queue:stats"

// GetQueueStats aggregates the dashboard counters in one query. Urgent and
// high counts cover open items only; overdue applies each priority's SLA
// window against the item age.
func (d Datasource) GetQueueStats(ctx context.Context) (*model.QueueStats, error) {
	if d.Cache != nil {
		cached := model.QueueStats{}
		if err := d.Cache.Get(ctx, queueStatsCacheKey, &cached); err == nil && cached.Total > 0 {
			return &cached, nil
		}
	}

	stats := model.QueueStats{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'PENDING'),
			COUNT(*) FILTER (WHERE status = 'ASSIGNED'),
			COUNT(*) FILTER (WHERE status = 'PROCESSING'),
			COUNT(*) FILTER (WHERE status = 'COMPLETED'),
			COUNT(*) FILTER (WHERE status = 'FAILED'),
			COUNT(*) FILTER (WHERE priority = 'URGENT' AND status NOT IN ('COMPLETED', 'FAILED')),
			COUNT(*) FILTER (WHERE priority = 'HIGH' AND status NOT IN ('COMPLETED', 'FAILED')),
			COUNT(*) FILTER (WHERE status NOT IN ('COMPLETED', 'FAILED')
				AND created_at < NOW() - (CASE priority
					WHEN 'URGENT' THEN INTERVAL '1 hour'
					WHEN 'HIGH' THEN INTERVAL '4 hours'
					WHEN 'NORMAL' THEN INTERVAL '24 hours'
					ELSE INTERVAL '72 hours' END))
		FROM payops.queue_items
	`).Scan(&stats.Total, &stats.Pending, &stats.Assigned, &stats.Processing,
		&stats.Completed, &stats.Failed, &stats.Urgent, &stats.High, &stats.Overdue)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to compute queue stats", err)
	}

	if d.Cache != nil {
		if err := d.Cache.Set(ctx, queueStatsCacheKey, stats, 30*time.Second); err != nil {
			log.Printf("Failed to cache queue stats: %v", err)
		}
	}
	return &stats, nil
}
