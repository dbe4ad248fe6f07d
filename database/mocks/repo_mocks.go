package mocks

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/Khalil2008k/guild-payops/database"
	"github.com/Khalil2008k/guild-payops/model"
)

// MockDataSource is a testify mock of database.IDataSource for service tests.
type MockDataSource struct {
	mock.Mock
}

func (m *MockDataSource) RecordQueueItem(ctx context.Context, item *model.ManualPaymentItem, audit *model.AuditRecord) (*model.ManualPaymentItem, error) {
	args := m.Called(ctx, item, audit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ManualPaymentItem), args.Error(1)
}

func (m *MockDataSource) GetQueueItem(ctx context.Context, id string) (*model.ManualPaymentItem, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ManualPaymentItem), args.Error(1)
}

func (m *MockDataSource) GetQueueItems(ctx context.Context, filter database.QueueFilter) ([]*model.ManualPaymentItem, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.ManualPaymentItem), args.Error(1)
}

func (m *MockDataSource) ClaimQueueItem(ctx context.Context, id, operatorID string, audit *model.AuditRecord) (*model.ManualPaymentItem, error) {
	args := m.Called(ctx, id, operatorID, audit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ManualPaymentItem), args.Error(1)
}

func (m *MockDataSource) ReassignQueueItem(ctx context.Context, id, operatorID string, audit *model.AuditRecord) (*model.ManualPaymentItem, error) {
	args := m.Called(ctx, id, operatorID, audit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ManualPaymentItem), args.Error(1)
}

func (m *MockDataSource) StartQueueItemProcessing(ctx context.Context, id, operatorID string, audit *model.AuditRecord) (*model.ManualPaymentItem, error) {
	args := m.Called(ctx, id, operatorID, audit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ManualPaymentItem), args.Error(1)
}

func (m *MockDataSource) CompleteQueueItem(ctx context.Context, id, operatorID, notes string, audit *model.AuditRecord) (*model.ManualPaymentItem, error) {
	args := m.Called(ctx, id, operatorID, notes, audit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ManualPaymentItem), args.Error(1)
}

func (m *MockDataSource) FailQueueItem(ctx context.Context, id, operatorID, reason, notes string, audit *model.AuditRecord) (*model.ManualPaymentItem, error) {
	args := m.Called(ctx, id, operatorID, reason, notes, audit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ManualPaymentItem), args.Error(1)
}

func (m *MockDataSource) MarkQueueItemDisputed(ctx context.Context, id string, audit *model.AuditRecord) (*model.ManualPaymentItem, error) {
	args := m.Called(ctx, id, audit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ManualPaymentItem), args.Error(1)
}

func (m *MockDataSource) ResolveQueueItem(ctx context.Context, id string, outcome model.PaymentStatus, notes string, audit *model.AuditRecord) (*model.ManualPaymentItem, error) {
	args := m.Called(ctx, id, outcome, notes, audit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ManualPaymentItem), args.Error(1)
}

func (m *MockDataSource) EscalateQueueItem(ctx context.Context, id string, priority model.PaymentPriority, audit *model.AuditRecord) (*model.ManualPaymentItem, error) {
	args := m.Called(ctx, id, priority, audit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ManualPaymentItem), args.Error(1)
}

func (m *MockDataSource) GetEscalatableItems(ctx context.Context, now time.Time) ([]*model.ManualPaymentItem, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.ManualPaymentItem), args.Error(1)
}

func (m *MockDataSource) GetQueueStats(ctx context.Context) (*model.QueueStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.QueueStats), args.Error(1)
}

func (m *MockDataSource) ScheduleReleaseTimer(ctx context.Context, timer *model.ReleaseTimer, audit *model.AuditRecord) (*model.ReleaseTimer, string, error) {
	args := m.Called(ctx, timer, audit)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).(*model.ReleaseTimer), args.String(1), args.Error(2)
}

func (m *MockDataSource) GetReleaseTimer(ctx context.Context, id string) (*model.ReleaseTimer, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ReleaseTimer), args.Error(1)
}

func (m *MockDataSource) GetReleaseTimers(ctx context.Context, status model.TimerStatus, limit, offset int) ([]*model.ReleaseTimer, error) {
	args := m.Called(ctx, status, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.ReleaseTimer), args.Error(1)
}

func (m *MockDataSource) GetScheduledTimerForJob(ctx context.Context, jobID, userID string) (*model.ReleaseTimer, error) {
	args := m.Called(ctx, jobID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ReleaseTimer), args.Error(1)
}

func (m *MockDataSource) RecordRetroactiveRelease(ctx context.Context, timer *model.ReleaseTimer, audit *model.AuditRecord) (*model.ReleaseTimer, error) {
	args := m.Called(ctx, timer, audit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ReleaseTimer), args.Error(1)
}

func (m *MockDataSource) MarkTimerReleased(ctx context.Context, id string, audit *model.AuditRecord) (*model.ReleaseTimer, error) {
	args := m.Called(ctx, id, audit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ReleaseTimer), args.Error(1)
}

func (m *MockDataSource) FireDueTimers(ctx context.Context, now time.Time, actor string) ([]*model.ReleaseTimer, error) {
	args := m.Called(ctx, now, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.ReleaseTimer), args.Error(1)
}

func (m *MockDataSource) CancelReleaseTimer(ctx context.Context, jobID, userID string, audit *model.AuditRecord) (*model.ReleaseTimer, error) {
	args := m.Called(ctx, jobID, userID, audit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ReleaseTimer), args.Error(1)
}

func (m *MockDataSource) CancelReleaseTimerByID(ctx context.Context, id string, audit *model.AuditRecord) (*model.ReleaseTimer, error) {
	args := m.Called(ctx, id, audit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ReleaseTimer), args.Error(1)
}

func (m *MockDataSource) RecordAudit(ctx context.Context, record *model.AuditRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockDataSource) GetAuditLog(ctx context.Context, filter database.AuditFilter) ([]*model.AuditRecord, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.AuditRecord), args.Error(1)
}

func (m *MockDataSource) RecordLedgerEntry(ctx context.Context, entry *model.LedgerEntry) (*model.LedgerEntry, error) {
	args := m.Called(ctx, entry)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.LedgerEntry), args.Error(1)
}

func (m *MockDataSource) GetPlatformBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	args := m.Called(ctx, currency)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockDataSource) GetLedgerEntries(ctx context.Context, currency string, since time.Time) ([]*model.LedgerEntry, error) {
	args := m.Called(ctx, currency, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.LedgerEntry), args.Error(1)
}

func (m *MockDataSource) RecordReconciliationRun(ctx context.Context, run *model.ReconciliationRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockDataSource) UpdateReconciliationRun(ctx context.Context, run *model.ReconciliationRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockDataSource) GetReconciliationRuns(ctx context.Context, limit, offset int) ([]*model.ReconciliationRun, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.ReconciliationRun), args.Error(1)
}
