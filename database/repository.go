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
	"time"

	"github.com/shopspring/decimal"

	"github.com/Khalil2008k/guild-payops/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	queueItem      // Manual payment queue operations
	releaseTimer   // Escrow release timer operations
	auditLog       // Append-only audit trail operations
	ledger         // Platform ledger mirror operations
	reconciliation // Reconciliation run history operations
}

// QueueFilter narrows GetQueueItems. Zero values mean no constraint.
type QueueFilter struct {
	Status     model.PaymentStatus
	Priority   model.PaymentPriority
	AssignedTo string
	ItemType   string
	Limit      int
	Offset     int
}

// AuditFilter narrows GetAuditLog. Zero values mean no constraint.
type AuditFilter struct {
	ResourceID string
	Actor      string
	Action     model.AuditAction
	Limit      int
	Offset     int
}

// queueItem defines methods for the manual payment queue. Every mutation
// takes the audit record covering it; the record is written in the same
// database transaction, so a transition is never durable without its trail.
type queueItem interface {
	RecordQueueItem(ctx context.Context, item *model.ManualPaymentItem, audit *model.AuditRecord) (*model.ManualPaymentItem, error)
	GetQueueItem(ctx context.Context, id string) (*model.ManualPaymentItem, error)
	GetQueueItems(ctx context.Context, filter QueueFilter) ([]*model.ManualPaymentItem, error)
	ClaimQueueItem(ctx context.Context, id, operatorID string, audit *model.AuditRecord) (*model.ManualPaymentItem, error)
	ReassignQueueItem(ctx context.Context, id, operatorID string, audit *model.AuditRecord) (*model.ManualPaymentItem, error)
	StartQueueItemProcessing(ctx context.Context, id, operatorID string, audit *model.AuditRecord) (*model.ManualPaymentItem, error)
	CompleteQueueItem(ctx context.Context, id, operatorID, notes string, audit *model.AuditRecord) (*model.ManualPaymentItem, error)
	FailQueueItem(ctx context.Context, id, operatorID, reason, notes string, audit *model.AuditRecord) (*model.ManualPaymentItem, error)
	MarkQueueItemDisputed(ctx context.Context, id string, audit *model.AuditRecord) (*model.ManualPaymentItem, error)
	ResolveQueueItem(ctx context.Context, id string, outcome model.PaymentStatus, notes string, audit *model.AuditRecord) (*model.ManualPaymentItem, error)
	EscalateQueueItem(ctx context.Context, id string, priority model.PaymentPriority, audit *model.AuditRecord) (*model.ManualPaymentItem, error)
	GetEscalatableItems(ctx context.Context, now time.Time) ([]*model.ManualPaymentItem, error)
	GetQueueStats(ctx context.Context) (*model.QueueStats, error)
}

// releaseTimer defines methods for scheduled escrow releases.
type releaseTimer interface {
	ScheduleReleaseTimer(ctx context.Context, timer *model.ReleaseTimer, audit *model.AuditRecord) (*model.ReleaseTimer, string, error)
	GetReleaseTimer(ctx context.Context, id string) (*model.ReleaseTimer, error)
	GetReleaseTimers(ctx context.Context, status model.TimerStatus, limit, offset int) ([]*model.ReleaseTimer, error)
	GetScheduledTimerForJob(ctx context.Context, jobID, userID string) (*model.ReleaseTimer, error)
	RecordRetroactiveRelease(ctx context.Context, timer *model.ReleaseTimer, audit *model.AuditRecord) (*model.ReleaseTimer, error)
	MarkTimerReleased(ctx context.Context, id string, audit *model.AuditRecord) (*model.ReleaseTimer, error)
	FireDueTimers(ctx context.Context, now time.Time, actor string) ([]*model.ReleaseTimer, error)
	CancelReleaseTimer(ctx context.Context, jobID, userID string, audit *model.AuditRecord) (*model.ReleaseTimer, error)
	CancelReleaseTimerByID(ctx context.Context, id string, audit *model.AuditRecord) (*model.ReleaseTimer, error)
}

// auditLog defines methods for the audit trail. RecordAudit is for events
// that do not ride on a queue or timer transaction.
type auditLog interface {
	RecordAudit(ctx context.Context, record *model.AuditRecord) error
	GetAuditLog(ctx context.Context, filter AuditFilter) ([]*model.AuditRecord, error)
}

// ledger defines methods for the platform-side ledger mirror.
type ledger interface {
	RecordLedgerEntry(ctx context.Context, entry *model.LedgerEntry) (*model.LedgerEntry, error)
	GetPlatformBalance(ctx context.Context, currency string) (decimal.Decimal, error)
	GetLedgerEntries(ctx context.Context, currency string, since time.Time) ([]*model.LedgerEntry, error)
}

// reconciliation defines methods for reconciliation run history.
type reconciliation interface {
	RecordReconciliationRun(ctx context.Context, run *model.ReconciliationRun) error
	UpdateReconciliationRun(ctx context.Context, run *model.ReconciliationRun) error
	GetReconciliationRuns(ctx context.Context, limit, offset int) ([]*model.ReconciliationRun, error)
}
