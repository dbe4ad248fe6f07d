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
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceSnapshot is a point-in-time read of the platform ledger against the
// payment service provider's ledger. The two reads are not transactional with
// each other; reconciliation tolerates small timing skew by design. Snapshots
// are ephemeral and are not persisted beyond the reconciliation window.
type BalanceSnapshot struct {
	PlatformBalance decimal.Decimal `json:"platform_balance"`
	PSPBalance      decimal.Decimal `json:"psp_balance"`
	Discrepancy     decimal.Decimal `json:"discrepancy"`
	Currency        string          `json:"currency"`
	AsOf            time.Time       `json:"as_of"`
}

// NewBalanceSnapshot computes discrepancy = platform - psp.
func NewBalanceSnapshot(platform, psp decimal.Decimal, currency string, asOf time.Time) BalanceSnapshot {
	return BalanceSnapshot{
		PlatformBalance: platform,
		PSPBalance:      psp,
		Discrepancy:     platform.Sub(psp),
		Currency:        currency,
		AsOf:            asOf,
	}
}

// WithinTolerance reports whether |discrepancy| <= tolerance.
func (s BalanceSnapshot) WithinTolerance(tolerance decimal.Decimal) bool {
	return s.Discrepancy.Abs().LessThanOrEqual(tolerance)
}

// LedgerEntry is one transaction as seen by a ledger side. Entries from both
// sides are diffed by TransactionID during discrepancy attribution.
type LedgerEntry struct {
	TransactionID string          `json:"transaction_id"`
	Reference     string          `json:"reference"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	JobID         string          `json:"job_id,omitempty"`
	UserID        string          `json:"user_id,omitempty"`
	PostedAt      time.Time       `json:"posted_at"`
	Source        string          `json:"source"`
}

// ReconciliationRun records one pass of the reconciliation engine.
type ReconciliationRun struct {
	ID           int64           `json:"-"`
	RunID        string          `json:"run_id"`
	Status       string          `json:"status"`
	Currency     string          `json:"currency"`
	Discrepancy  decimal.Decimal `json:"discrepancy"`
	ItemsCreated int             `json:"items_created"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// Reconciliation run statuses.
const (
	RunStarted   = "started"
	RunCompleted = "completed"
	RunFailed    = "failed"
)
