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

package payops

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/Khalil2008k/guild-payops/model"
)

func TestGetBalanceSnapshot(t *testing.T) {
	p, ds, psp := newTestPayops(t)

	ds.On("GetPlatformBalance", mock.Anything, "USD").Return(decimal.NewFromFloat(10250.50), nil)
	psp.On("GetBalance", mock.Anything, "USD").Return(decimal.NewFromFloat(10000.00), nil)

	snapshot, err := p.GetBalanceSnapshot(context.Background(), "USD")
	assert.NoError(t, err)
	assert.True(t, snapshot.Discrepancy.Equal(decimal.NewFromFloat(250.50)))
}

func TestRunReconciliationWithinTolerance(t *testing.T) {
	p, ds, psp := newTestPayops(t)

	ds.On("RecordReconciliationRun", mock.Anything, mock.Anything).Return(nil)
	ds.On("GetPlatformBalance", mock.Anything, "USD").Return(decimal.NewFromFloat(1000.50), nil)
	psp.On("GetBalance", mock.Anything, "USD").Return(decimal.NewFromFloat(1000.00), nil)
	ds.On("UpdateReconciliationRun", mock.Anything, mock.MatchedBy(func(r *model.ReconciliationRun) bool {
		return r.Status == model.RunCompleted && r.ItemsCreated == 0
	})).Return(nil)
	ds.On("RecordAudit", mock.Anything, mock.MatchedBy(func(a *model.AuditRecord) bool {
		return a.Action == model.ActionReconciliationRun
	})).Return(nil)

	run, err := p.RunReconciliation(context.Background(), "USD")
	assert.NoError(t, err)
	assert.Equal(t, model.RunCompleted, run.Status)
	assert.Equal(t, 0, run.ItemsCreated)
	ds.AssertNotCalled(t, "GetLedgerEntries")
	ds.AssertExpectations(t)
}

func TestRunReconciliationAttributesMissingTransactions(t *testing.T) {
	p, ds, psp := newTestPayops(t)

	// Platform is short two provider transactions: one large, one small.
	ds.On("RecordReconciliationRun", mock.Anything, mock.Anything).Return(nil)
	ds.On("GetPlatformBalance", mock.Anything, "USD").Return(decimal.NewFromFloat(8500), nil)
	psp.On("GetBalance", mock.Anything, "USD").Return(decimal.NewFromFloat(10000), nil)

	platformEntries := []*model.LedgerEntry{
		{TransactionID: "txn_a", Reference: "ref_a", Amount: decimal.NewFromFloat(8500)},
	}
	pspEntries := []*model.LedgerEntry{
		{TransactionID: "txn_a", Reference: "ref_a", Amount: decimal.NewFromFloat(8500), Currency: "USD"},
		{TransactionID: "psp_big", Reference: "ref_big", Amount: decimal.NewFromFloat(1200), Currency: "USD", JobID: "job_9"},
		{TransactionID: "psp_small", Reference: "ref_small", Amount: decimal.NewFromFloat(300), Currency: "USD", JobID: "job_3"},
	}
	ds.On("GetLedgerEntries", mock.Anything, "USD", mock.Anything).Return(platformEntries, nil)
	psp.On("GetTransactions", mock.Anything, "USD", mock.Anything).Return(pspEntries, nil)

	// Above the high-priority threshold lands HIGH, below lands NORMAL.
	ds.On("RecordQueueItem", mock.Anything, mock.MatchedBy(func(i *model.ManualPaymentItem) bool {
		return i.PSPTransactionID == "psp_big" && i.Priority == model.PriorityHigh
	}), mock.Anything).Return(&model.ManualPaymentItem{ItemID: "mpi_big"}, nil)
	ds.On("RecordQueueItem", mock.Anything, mock.MatchedBy(func(i *model.ManualPaymentItem) bool {
		return i.PSPTransactionID == "psp_small" && i.Priority == model.PriorityNormal
	}), mock.Anything).Return(&model.ManualPaymentItem{ItemID: "mpi_small"}, nil)

	ds.On("UpdateReconciliationRun", mock.Anything, mock.MatchedBy(func(r *model.ReconciliationRun) bool {
		return r.Status == model.RunCompleted && r.ItemsCreated == 2
	})).Return(nil)
	ds.On("RecordAudit", mock.Anything, mock.Anything).Return(nil)

	run, err := p.RunReconciliation(context.Background(), "USD")
	assert.NoError(t, err)
	assert.Equal(t, 2, run.ItemsCreated)
	ds.AssertExpectations(t)
}

func TestRunReconciliationUnattributedGapCreatesInvestigation(t *testing.T) {
	p, ds, psp := newTestPayops(t)

	// The transaction sets agree yet the balances do not: nothing to
	// attribute, so the whole gap becomes one urgent investigation item.
	ds.On("RecordReconciliationRun", mock.Anything, mock.Anything).Return(nil)
	ds.On("GetPlatformBalance", mock.Anything, "USD").Return(decimal.NewFromFloat(9500), nil)
	psp.On("GetBalance", mock.Anything, "USD").Return(decimal.NewFromFloat(10000), nil)
	ds.On("GetLedgerEntries", mock.Anything, "USD", mock.Anything).Return([]*model.LedgerEntry{}, nil)
	psp.On("GetTransactions", mock.Anything, "USD", mock.Anything).Return([]*model.LedgerEntry{}, nil)

	// Investigation items reference no job or user; the run lives in the
	// notes and the audit trail.
	ds.On("RecordQueueItem", mock.Anything, mock.MatchedBy(func(i *model.ManualPaymentItem) bool {
		return i.ItemType == model.ItemTypeInvestigation && i.Priority == model.PriorityUrgent &&
			i.JobID == "" && i.UserID == "" && i.ClientID == ""
	}), mock.Anything).Return(&model.ManualPaymentItem{ItemID: "mpi_inv"}, nil)

	ds.On("UpdateReconciliationRun", mock.Anything, mock.MatchedBy(func(r *model.ReconciliationRun) bool {
		return r.Status == model.RunCompleted && r.ItemsCreated == 1
	})).Return(nil)
	ds.On("RecordAudit", mock.Anything, mock.Anything).Return(nil)

	run, err := p.RunReconciliation(context.Background(), "USD")
	assert.NoError(t, err)
	assert.Equal(t, 1, run.ItemsCreated)
	ds.AssertExpectations(t)
}

func TestRunReconciliationSkipsWhenLockHeld(t *testing.T) {
	p, ds, _ := newTestPayops(t)
	ctx := context.Background()

	err := p.redis.SetNX(ctx, reconciliationLockKey, "other-instance", time.Minute).Err()
	assert.NoError(t, err)

	run, err := p.RunReconciliation(ctx, "USD")
	assert.NoError(t, err)
	assert.Nil(t, run)
	ds.AssertNotCalled(t, "RecordReconciliationRun")
}

func TestRunReconciliationAttributesPlatformOrphan(t *testing.T) {
	p, ds, psp := newTestPayops(t)

	// A platform transaction the provider never saw explains the whole gap:
	// one attributed payment item, no investigation fallback.
	ds.On("RecordReconciliationRun", mock.Anything, mock.Anything).Return(nil)
	ds.On("GetPlatformBalance", mock.Anything, "USD").Return(decimal.NewFromFloat(1050), nil)
	psp.On("GetBalance", mock.Anything, "USD").Return(decimal.NewFromFloat(1000), nil)

	platformEntries := []*model.LedgerEntry{
		{TransactionID: "txn_a", Reference: "ref_a", Amount: decimal.NewFromFloat(1000), Currency: "USD"},
		{TransactionID: "txn_plat", Reference: "ref_plat", Amount: decimal.NewFromFloat(50), Currency: "USD", JobID: "job_5"},
	}
	pspEntries := []*model.LedgerEntry{
		{TransactionID: "txn_a", Reference: "ref_a", Amount: decimal.NewFromFloat(1000), Currency: "USD"},
	}
	ds.On("GetLedgerEntries", mock.Anything, "USD", mock.Anything).Return(platformEntries, nil)
	psp.On("GetTransactions", mock.Anything, "USD", mock.Anything).Return(pspEntries, nil)

	ds.On("RecordQueueItem", mock.Anything, mock.MatchedBy(func(i *model.ManualPaymentItem) bool {
		return i.ItemType == model.ItemTypePayment && i.Priority == model.PriorityNormal &&
			i.PSPTransactionID == "" && i.JobID == "job_5" && i.Amount.Equal(decimal.NewFromFloat(50))
	}), mock.Anything).Return(&model.ManualPaymentItem{ItemID: "mpi_plat"}, nil)

	ds.On("UpdateReconciliationRun", mock.Anything, mock.MatchedBy(func(r *model.ReconciliationRun) bool {
		return r.Status == model.RunCompleted && r.ItemsCreated == 1
	})).Return(nil)
	ds.On("RecordAudit", mock.Anything, mock.Anything).Return(nil)

	run, err := p.RunReconciliation(context.Background(), "USD")
	assert.NoError(t, err)
	assert.Equal(t, 1, run.ItemsCreated)
	ds.AssertExpectations(t)
}

func TestRunReconciliationFlagsAmountConflict(t *testing.T) {
	p, ds, psp := newTestPayops(t)

	// Both ledgers have txn_a, but they disagree on the amount; the signed
	// difference accounts for the discrepancy.
	ds.On("RecordReconciliationRun", mock.Anything, mock.Anything).Return(nil)
	ds.On("GetPlatformBalance", mock.Anything, "USD").Return(decimal.NewFromFloat(1100), nil)
	psp.On("GetBalance", mock.Anything, "USD").Return(decimal.NewFromFloat(1000), nil)

	platformEntries := []*model.LedgerEntry{
		{TransactionID: "txn_a", Reference: "ref_a", Amount: decimal.NewFromFloat(1000), Currency: "USD"},
	}
	pspEntries := []*model.LedgerEntry{
		{TransactionID: "txn_a", Reference: "ref_a", Amount: decimal.NewFromFloat(900), Currency: "USD"},
	}
	ds.On("GetLedgerEntries", mock.Anything, "USD", mock.Anything).Return(platformEntries, nil)
	psp.On("GetTransactions", mock.Anything, "USD", mock.Anything).Return(pspEntries, nil)

	ds.On("RecordQueueItem", mock.Anything, mock.MatchedBy(func(i *model.ManualPaymentItem) bool {
		return i.ItemType == model.ItemTypePayment && i.PSPTransactionID == "txn_a" &&
			i.Amount.Equal(decimal.NewFromFloat(100))
	}), mock.Anything).Return(&model.ManualPaymentItem{ItemID: "mpi_conflict"}, nil)

	ds.On("UpdateReconciliationRun", mock.Anything, mock.MatchedBy(func(r *model.ReconciliationRun) bool {
		return r.Status == model.RunCompleted && r.ItemsCreated == 1
	})).Return(nil)
	ds.On("RecordAudit", mock.Anything, mock.Anything).Return(nil)

	run, err := p.RunReconciliation(context.Background(), "USD")
	assert.NoError(t, err)
	assert.Equal(t, 1, run.ItemsCreated)
	ds.AssertExpectations(t)
}

func TestMissingFromMatchesNearReferences(t *testing.T) {
	platform := []*model.LedgerEntry{
		{TransactionID: "txn_1", Reference: "GUILD-2041", Amount: decimal.NewFromFloat(100)},
	}
	psp := []*model.LedgerEntry{
		// Same payment, provider appended a check digit to the reference.
		{TransactionID: "ext_9", Reference: "GUILD-2041X", Amount: decimal.NewFromFloat(100)},
		{TransactionID: "ext_10", Reference: "GUILD-9999", Amount: decimal.NewFromFloat(50)},
	}

	missing := missingFrom(platform, psp)
	assert.Len(t, missing, 1)
	assert.Equal(t, "ext_10", missing[0].TransactionID)

	// The near-reference match is symmetric: the platform entry is covered
	// by ext_9 and is not an orphan either.
	assert.Empty(t, missingFrom(psp, platform))
}
