package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/Khalil2008k/guild-payops/internal/apierror"
	"github.com/Khalil2008k/guild-payops/model"
)

// RecordLedgerEntry appends one transaction to the platform ledger mirror.
func (d Datasource) RecordLedgerEntry(ctx context.Context, entry *model.LedgerEntry) (*model.LedgerEntry, error) {
	if entry.TransactionID == "" {
		entry.TransactionID = model.GenerateUUIDWithSuffix("txn")
	}
	if entry.PostedAt.IsZero() {
		entry.PostedAt = time.Now()
	}
	if entry.Source == "" {
		entry.Source = "platform"
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO payops.ledger_entries
			(transaction_id, reference, amount, currency, job_id, user_id, posted_at, source)
		VALUES ($1, NULLIF($2, ''), $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8)
	`, entry.TransactionID, entry.Reference, entry.Amount, entry.Currency,
		entry.JobID, entry.UserID, entry.PostedAt, entry.Source)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Ledger entry with this transaction ID already exists", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record ledger entry", err)
	}
	return entry, nil
}

// GetPlatformBalance sums the platform ledger for one currency.
func (d Datasource) GetPlatformBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM payops.ledger_entries WHERE currency = $1
	`, currency).Scan(&balance)
	if err != nil {
		return decimal.Zero, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to compute platform balance", err)
	}
	return balance, nil
}

// GetLedgerEntries returns platform entries for one currency posted at or
// after since, oldest first.
func (d Datasource) GetLedgerEntries(ctx context.Context, currency string, since time.Time) ([]*model.LedgerEntry, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT transaction_id, reference, amount, currency, job_id, user_id, posted_at, source
		FROM payops.ledger_entries
		WHERE currency = $1 AND posted_at >= $2
		ORDER BY posted_at ASC
	`, currency, since)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve ledger entries", err)
	}
	defer rows.Close()

	entries := []*model.LedgerEntry{}
	for rows.Next() {
		entry := model.LedgerEntry{}
		var reference, jobID, userID sql.NullString
		err = rows.Scan(&entry.TransactionID, &reference, &entry.Amount, &entry.Currency,
			&jobID, &userID, &entry.PostedAt, &entry.Source)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan ledger entry", err)
		}
		entry.Reference = reference.String
		entry.JobID = jobID.String
		entry.UserID = userID.String
		entries = append(entries, &entry)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over ledger entries", err)
	}
	return entries, nil
}
