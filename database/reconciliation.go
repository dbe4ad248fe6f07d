package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/Khalil2008k/guild-payops/internal/apierror"
	"github.com/Khalil2008k/guild-payops/model"
)

// RecordReconciliationRun inserts a run in its starting state.
func (d Datasource) RecordReconciliationRun(ctx context.Context, run *model.ReconciliationRun) error {
	if run.RunID == "" {
		run.RunID = model.GenerateUUIDWithSuffix("rec")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = model.RunStarted
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO payops.reconciliation_runs
			(run_id, status, currency, discrepancy, items_created, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, run.RunID, run.Status, run.Currency, run.Discrepancy, run.ItemsCreated, run.StartedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record reconciliation run", err)
	}
	return nil
}

// UpdateReconciliationRun stores the outcome of a run.
func (d Datasource) UpdateReconciliationRun(ctx context.Context, run *model.ReconciliationRun) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE payops.reconciliation_runs
		SET status = $2, discrepancy = $3, items_created = $4, completed_at = $5
		WHERE run_id = $1
	`, run.RunID, run.Status, run.Discrepancy, run.ItemsCreated, run.CompletedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update reconciliation run", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update reconciliation run", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Reconciliation run not found", nil)
	}
	return nil
}

// GetReconciliationRuns lists run history, newest first.
func (d Datasource) GetReconciliationRuns(ctx context.Context, limit, offset int) ([]*model.ReconciliationRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT run_id, status, currency, discrepancy, items_created, started_at, completed_at
		FROM payops.reconciliation_runs
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve reconciliation runs", err)
	}
	defer rows.Close()

	runs := []*model.ReconciliationRun{}
	for rows.Next() {
		run := model.ReconciliationRun{}
		var completedAt sql.NullTime
		err = rows.Scan(&run.RunID, &run.Status, &run.Currency, &run.Discrepancy,
			&run.ItemsCreated, &run.StartedAt, &completedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan reconciliation run", err)
		}
		if completedAt.Valid {
			run.CompletedAt = &completedAt.Time
		}
		runs = append(runs, &run)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over reconciliation runs", err)
	}
	return runs, nil
}
