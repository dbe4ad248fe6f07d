package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Khalil2008k/guild-payops/internal/apierror"
	"github.com/Khalil2008k/guild-payops/model"
)

func TestRecordLedgerEntry(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectExec("INSERT INTO payops.ledger_entries").
		WillReturnResult(sqlmock.NewResult(1, 1))

	entry, err := d.RecordLedgerEntry(context.Background(), &model.LedgerEntry{
		Amount:   decimal.NewFromInt(100),
		Currency: "USD",
		JobID:    "job_1",
	})
	require.NoError(t, err)
	assert.Contains(t, entry.TransactionID, "txn_")
	assert.Equal(t, "platform", entry.Source)
	assert.False(t, entry.PostedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordLedgerEntry_Duplicate(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectExec("INSERT INTO payops.ledger_entries").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := d.RecordLedgerEntry(context.Background(), &model.LedgerEntry{
		TransactionID: "txn_dup",
		Amount:        decimal.NewFromInt(100),
		Currency:      "USD",
	})
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPlatformBalance(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("USD").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("1050.25"))

	balance, err := d.GetPlatformBalance(context.Background(), "USD")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("1050.25")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLedgerEntries(t *testing.T) {
	d, mock := newTestDatasource(t)

	since := time.Now().Add(-24 * time.Hour)
	mock.ExpectQuery("SELECT (.+) FROM payops.ledger_entries").
		WithArgs("USD", since).
		WillReturnRows(sqlmock.NewRows([]string{
			"transaction_id", "reference", "amount", "currency", "job_id", "user_id", "posted_at", "source",
		}).AddRow("txn_1", "ref_1", "100.00", "USD", "job_1", "user_1", time.Now(), "platform"))

	entries, err := d.GetLedgerEntries(context.Background(), "USD", since)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "txn_1", entries[0].TransactionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconciliationRunLifecycle(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectExec("INSERT INTO payops.reconciliation_runs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	run := &model.ReconciliationRun{Currency: "USD"}
	err := d.RecordReconciliationRun(context.Background(), run)
	require.NoError(t, err)
	assert.Contains(t, run.RunID, "rec_")
	assert.Equal(t, model.RunStarted, run.Status)

	completed := time.Now()
	run.Status = model.RunCompleted
	run.Discrepancy = decimal.NewFromInt(50)
	run.ItemsCreated = 2
	run.CompletedAt = &completed

	mock.ExpectExec("UPDATE payops.reconciliation_runs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = d.UpdateReconciliationRun(context.Background(), run)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateReconciliationRun_NotFound(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectExec("UPDATE payops.reconciliation_runs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := d.UpdateReconciliationRun(context.Background(), &model.ReconciliationRun{RunID: "rec_missing"})
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
