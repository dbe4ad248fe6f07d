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
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/texttheater/golang-levenshtein/levenshtein"
	"github.com/wacul/ptr"
	"go.opentelemetry.io/otel"

	"github.com/Khalil2008k/guild-payops/config"
	redlock "github.com/Khalil2008k/guild-payops/internal/lock"
	"github.com/Khalil2008k/guild-payops/internal/notification"
	"github.com/Khalil2008k/guild-payops/model"
)

var reconTracer = otel.Tracer("payops.reconciliation")

const reconciliationLockKey = "payops:reconciliation:lock"

// referenceMatchThreshold is the maximum Levenshtein distance at which two
// transaction references are treated as the same payment recorded under
// slightly different IDs on the two sides.
const referenceMatchThreshold = 2

// GetBalanceSnapshot reads both ledgers and returns the current discrepancy
// without creating any queue items.
func (p *Payops) GetBalanceSnapshot(ctx context.Context, currency string) (*model.BalanceSnapshot, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	if currency == "" {
		currency = cfg.Reconciliation.DefaultCurrency
	}

	platform, err := p.datasource.GetPlatformBalance(ctx, currency)
	if err != nil {
		return nil, err
	}
	psp, err := p.psp.GetBalance(ctx, currency)
	if err != nil {
		return nil, err
	}
	snapshot := model.NewBalanceSnapshot(platform, psp, currency, time.Now())
	return &snapshot, nil
}

// RunReconciliation compares the platform ledger against the provider ledger
// for one currency. A discrepancy inside the configured tolerance completes
// the run untouched. Outside it, the engine attributes the gap to individual
// provider transactions missing from the platform side and enqueues a manual
// payment item for each; whatever gap remains unattributed becomes a single
// urgent investigation item.
func (p *Payops) RunReconciliation(ctx context.Context, currency string) (*model.ReconciliationRun, error) {
	ctx, span := reconTracer.Start(ctx, "Run balance reconciliation")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	if currency == "" {
		currency = cfg.Reconciliation.DefaultCurrency
	}

	locker := redlock.NewLocker(p.redis, reconciliationLockKey, uuid.New().String())
	if err := locker.Lock(ctx, 10*time.Minute); err != nil {
		logrus.WithError(err).Info("skipping reconciliation, another instance holds the lock")
		return nil, nil
	}
	defer func() {
		if err := locker.Unlock(ctx); err != nil {
			logrus.WithError(err).Error("failed to release reconciliation lock")
		}
	}()

	run := &model.ReconciliationRun{Currency: currency}
	if err := p.datasource.RecordReconciliationRun(ctx, run); err != nil {
		return nil, err
	}

	snapshot, err := p.GetBalanceSnapshot(ctx, currency)
	if err != nil {
		p.failRun(ctx, run, err)
		return nil, err
	}
	run.Discrepancy = snapshot.Discrepancy

	tolerance := decimal.NewFromFloat(cfg.Reconciliation.Tolerance)
	if snapshot.WithinTolerance(tolerance) {
		run.Status = model.RunCompleted
		p.finishRun(ctx, run, snapshot)
		return run, nil
	}

	logrus.WithFields(logrus.Fields{
		"currency":    currency,
		"discrepancy": snapshot.Discrepancy.String(),
	}).Warn("balance discrepancy exceeds tolerance, attributing")

	itemsCreated, unattributed, err := p.attributeDiscrepancy(ctx, cfg, currency, snapshot)
	if err != nil {
		p.failRun(ctx, run, err)
		return nil, err
	}

	if !unattributed.IsZero() {
		if _, err := p.enqueueInvestigation(ctx, run, currency, unattributed); err != nil {
			logrus.WithError(err).Error("could not enqueue investigation item")
		} else {
			itemsCreated++
		}
		notification.NotifyError(fmt.Errorf("reconciliation run %s: %s %s unattributed after matching", run.RunID, unattributed.String(), currency))
	}

	run.Status = model.RunCompleted
	run.ItemsCreated = itemsCreated
	p.finishRun(ctx, run, snapshot)
	return run, nil
}

// attributeDiscrepancy diffs the transaction ID sets of both ledgers over the
// lookback window and enqueues a manual item per orphan on either side, plus
// one per common transaction whose recorded amounts disagree. It returns the
// number of items created and the residual discrepancy the diff could not
// explain.
func (p *Payops) attributeDiscrepancy(ctx context.Context, cfg *config.Configuration, currency string, snapshot *model.BalanceSnapshot) (int, decimal.Decimal, error) {
	since := time.Now().Add(-time.Duration(cfg.Reconciliation.LookbackHours) * time.Hour)

	platformEntries, err := p.datasource.GetLedgerEntries(ctx, currency, since)
	if err != nil {
		return 0, decimal.Zero, err
	}
	pspEntries, err := p.psp.GetTransactions(ctx, currency, since)
	if err != nil {
		return 0, decimal.Zero, err
	}

	itemsCreated := 0
	// Discrepancy is platform - psp: a provider-only transaction explains a
	// negative slice of the gap, a platform-only one a positive slice, and an
	// amount conflict the signed difference between the two records.
	explained := decimal.Zero

	for _, txn := range missingFrom(platformEntries, pspEntries) {
		item := p.orphanItem(cfg, currency, txn)
		item.PSPTransactionID = txn.TransactionID
		item.Notes = fmt.Sprintf("reconciliation: provider transaction %s missing from platform ledger", txn.TransactionID)
		if !p.enqueueAttributed(ctx, item) {
			continue
		}
		itemsCreated++
		explained = explained.Sub(txn.Amount)
	}

	for _, txn := range missingFrom(pspEntries, platformEntries) {
		item := p.orphanItem(cfg, currency, txn)
		item.Notes = fmt.Sprintf("reconciliation: platform transaction %s missing from provider ledger", txn.TransactionID)
		if !p.enqueueAttributed(ctx, item) {
			continue
		}
		itemsCreated++
		explained = explained.Add(txn.Amount)
	}

	for _, conflict := range conflictingAmounts(platformEntries, pspEntries) {
		diff := conflict.platform.Amount.Sub(conflict.provider.Amount)
		item := p.orphanItem(cfg, currency, conflict.platform)
		item.Amount = diff.Abs()
		item.PSPTransactionID = conflict.provider.TransactionID
		item.Notes = fmt.Sprintf("reconciliation: amounts disagree for transaction %s: platform %s, provider %s",
			conflict.platform.TransactionID, conflict.platform.Amount.String(), conflict.provider.Amount.String())
		if !p.enqueueAttributed(ctx, item) {
			continue
		}
		itemsCreated++
		explained = explained.Add(diff)
	}

	unattributed := snapshot.Discrepancy.Sub(explained)
	if unattributed.Abs().LessThanOrEqual(decimal.NewFromFloat(cfg.Reconciliation.Tolerance)) {
		unattributed = decimal.Zero
	}
	return itemsCreated, unattributed, nil
}

// orphanItem seeds a manual payment item from a ledger entry, priced into
// HIGH or NORMAL by the configured threshold.
func (p *Payops) orphanItem(cfg *config.Configuration, currency string, txn *model.LedgerEntry) *model.ManualPaymentItem {
	priority := model.PriorityNormal
	if txn.Amount.GreaterThanOrEqual(decimal.NewFromFloat(cfg.Reconciliation.HighPriorityThreshold)) {
		priority = model.PriorityHigh
	}
	entryCurrency := txn.Currency
	if entryCurrency == "" {
		entryCurrency = currency
	}
	return &model.ManualPaymentItem{
		JobID:    txn.JobID,
		UserID:   txn.UserID,
		Amount:   txn.Amount,
		Currency: entryCurrency,
		Priority: priority,
		ItemType: model.ItemTypePayment,
	}
}

func (p *Payops) enqueueAttributed(ctx context.Context, item *model.ManualPaymentItem) bool {
	if _, err := p.EnqueuePayment(ctx, item, SystemActor); err != nil {
		logrus.WithError(err).WithField("notes", item.Notes).Error("could not enqueue reconciliation item")
		return false
	}
	return true
}

// missingFrom returns entries of txns with no counterpart in reference. A
// counterpart is an exact transaction ID match, or a reference string within
// a small edit distance carrying the same amount, which absorbs provider-side
// ID suffixing.
func missingFrom(reference, txns []*model.LedgerEntry) []*model.LedgerEntry {
	byID := make(map[string]struct{}, len(reference))
	for _, entry := range reference {
		byID[entry.TransactionID] = struct{}{}
	}

	var missing []*model.LedgerEntry
	for _, txn := range txns {
		if _, ok := byID[txn.TransactionID]; ok {
			continue
		}
		if matchesByReference(txn, reference) {
			continue
		}
		missing = append(missing, txn)
	}
	return missing
}

func matchesByReference(txn *model.LedgerEntry, candidates []*model.LedgerEntry) bool {
	if txn.Reference == "" {
		return false
	}
	for _, entry := range candidates {
		if entry.Reference == "" || !entry.Amount.Equal(txn.Amount) {
			continue
		}
		distance := levenshtein.DistanceForStrings([]rune(entry.Reference), []rune(txn.Reference), levenshtein.DefaultOptions)
		if distance <= referenceMatchThreshold {
			return true
		}
	}
	return false
}

type amountConflict struct {
	platform *model.LedgerEntry
	provider *model.LedgerEntry
}

// conflictingAmounts pairs entries present in both ledgers under the same
// transaction ID whose recorded amounts disagree.
func conflictingAmounts(platform, psp []*model.LedgerEntry) []amountConflict {
	byID := make(map[string]*model.LedgerEntry, len(psp))
	for _, entry := range psp {
		byID[entry.TransactionID] = entry
	}

	var conflicts []amountConflict
	for _, entry := range platform {
		other, ok := byID[entry.TransactionID]
		if !ok || entry.Amount.Equal(other.Amount) {
			continue
		}
		conflicts = append(conflicts, amountConflict{platform: entry, provider: other})
	}
	return conflicts
}

// enqueueInvestigation records the residual no transaction explains. The item
// deliberately carries no job or user reference; the run it came from lives
// in the notes and the audit trail.
func (p *Payops) enqueueInvestigation(ctx context.Context, run *model.ReconciliationRun, currency string, gap decimal.Decimal) (*model.ManualPaymentItem, error) {
	item := &model.ManualPaymentItem{
		Amount:   gap.Abs(),
		Currency: currency,
		Priority: model.PriorityUrgent,
		ItemType: model.ItemTypeInvestigation,
		Notes:    fmt.Sprintf("reconciliation run %s: %s %s discrepancy unexplained by transaction diff", run.RunID, gap.String(), currency),
	}
	return p.EnqueuePayment(ctx, item, SystemActor)
}

// GetReconciliationRuns returns past runs, newest first.
func (p *Payops) GetReconciliationRuns(ctx context.Context, limit, offset int) ([]*model.ReconciliationRun, error) {
	return p.datasource.GetReconciliationRuns(ctx, limit, offset)
}

func (p *Payops) finishRun(ctx context.Context, run *model.ReconciliationRun, snapshot *model.BalanceSnapshot) {
	run.CompletedAt = ptr.Time(time.Now())
	if err := p.datasource.UpdateReconciliationRun(ctx, run); err != nil {
		logrus.WithError(err).WithField("run_id", run.RunID).Error("could not update reconciliation run")
	}
	audit := &model.AuditRecord{
		Actor:        SystemActor,
		Action:       model.ActionReconciliationRun,
		ResourceType: model.ResourceReconciliation,
		ResourceID:   run.RunID,
		Success:      true,
		Payload: model.AuditPayload{
			Metadata: map[string]interface{}{
				"currency":      run.Currency,
				"discrepancy":   snapshot.Discrepancy.String(),
				"items_created": run.ItemsCreated,
			},
		},
	}
	if err := p.commitAudit(ctx, audit); err != nil {
		logrus.WithError(err).Error("could not record reconciliation audit")
	}
}

func (p *Payops) failRun(ctx context.Context, run *model.ReconciliationRun, cause error) {
	run.Status = model.RunFailed
	run.CompletedAt = ptr.Time(time.Now())
	if err := p.datasource.UpdateReconciliationRun(ctx, run); err != nil {
		logrus.WithError(err).WithField("run_id", run.RunID).Error("could not update reconciliation run")
	}
	notification.NotifyError(fmt.Errorf("reconciliation run %s failed: %w", run.RunID, cause))
}
