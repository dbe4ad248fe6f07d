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
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state of a manual payment item.
type PaymentStatus string

const (
	StatusPending    PaymentStatus = "PENDING"
	StatusAssigned   PaymentStatus = "ASSIGNED"
	StatusProcessing PaymentStatus = "PROCESSING"
	StatusCompleted  PaymentStatus = "COMPLETED"
	StatusFailed     PaymentStatus = "FAILED"
	StatusDisputed   PaymentStatus = "DISPUTED"
)

// PaymentPriority orders the queue. URGENT > HIGH > NORMAL > LOW.
type PaymentPriority string

const (
	PriorityLow    PaymentPriority = "LOW"
	PriorityNormal PaymentPriority = "NORMAL"
	PriorityHigh   PaymentPriority = "HIGH"
	PriorityUrgent PaymentPriority = "URGENT"
)

// Item types. Investigation items carry no job/user reference and exist only
// so an operator can chase down a discrepancy that could not be attributed to
// any transaction.
const (
	ItemTypePayment       = "payment"
	ItemTypeInvestigation = "investigation"
)

// ParsePriority validates a priority string coming from an API request.
func ParsePriority(s string) (PaymentPriority, error) {
	switch PaymentPriority(s) {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return PaymentPriority(s), nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// Rank returns the sort weight of a priority. Higher serves first.
func (p PaymentPriority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// SLAWindow is the maximum age an item may reach at this priority before it
// is flagged overdue.
func (p PaymentPriority) SLAWindow() time.Duration {
	switch p {
	case PriorityUrgent:
		return time.Hour
	case PriorityHigh:
		return 4 * time.Hour
	case PriorityNormal:
		return 24 * time.Hour
	default:
		return 72 * time.Hour
	}
}

// Escalate bumps a priority one tier. Priorities are never de-escalated.
func (p PaymentPriority) Escalate() PaymentPriority {
	switch p {
	case PriorityLow:
		return PriorityNormal
	case PriorityNormal:
		return PriorityHigh
	default:
		return PriorityUrgent
	}
}

// ManualPaymentItem is a payment that could not be settled automatically and
// must be worked by a human operator. Items are created by the reconciliation
// engine or by an upstream payment-failure event, mutated only through the
// queue manager's transition methods, and never deleted.
type ManualPaymentItem struct {
	ItemID           string          `json:"id"`
	JobID            string          `json:"job_id,omitempty"`
	UserID           string          `json:"user_id,omitempty"`
	ClientID         string          `json:"client_id,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Status           PaymentStatus   `json:"status"`
	Priority         PaymentPriority `json:"priority"`
	ItemType         string          `json:"item_type"`
	AssignedTo       string          `json:"assigned_to,omitempty"`
	Supersedes       string          `json:"supersedes,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	PSPTransactionID string          `json:"psp_transaction_id,omitempty"`

	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
	ProcessingStartedAt     *time.Time `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt   *time.Time `json:"processing_completed_at,omitempty"`
	EstimatedCompletionDate time.Time  `json:"estimated_completion_date"`

	// Overdue is derived at read time from CreatedAt and the priority SLA
	// window. It is never persisted.
	Overdue bool `json:"overdue"`
}

// legalTransitions is the state machine edge set. Terminal states have no
// outgoing edges; ASSIGNED->ASSIGNED is reassignment to a new operator.
var legalTransitions = map[PaymentStatus][]PaymentStatus{
	StatusPending:    {StatusAssigned},
	StatusAssigned:   {StatusAssigned, StatusProcessing, StatusDisputed},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusDisputed},
	StatusDisputed:   {StatusCompleted, StatusFailed},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to PaymentStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the item has reached COMPLETED or FAILED. A
// terminal item is immutable except for append-only notes.
func (i *ManualPaymentItem) IsTerminal() bool {
	return i.Status == StatusCompleted || i.Status == StatusFailed
}

// IsOverdue reports whether a non-terminal item has outlived its SLA window.
func (i *ManualPaymentItem) IsOverdue(now time.Time) bool {
	if i.IsTerminal() {
		return false
	}
	return now.Sub(i.CreatedAt) > i.Priority.SLAWindow()
}

// EstimateCompletion derives the estimated completion date from the creation
// time and priority. Computed once at creation, never recalculated.
func EstimateCompletion(createdAt time.Time, priority PaymentPriority) time.Time {
	return createdAt.Add(priority.SLAWindow())
}

// SortQueue orders items for serving: priority tier first, overdue items
// ahead of non-overdue items within the same tier, then FIFO by creation
// time. It also stamps the derived Overdue flag on every item.
func SortQueue(items []*ManualPaymentItem, now time.Time) {
	for _, item := range items {
		item.Overdue = item.IsOverdue(now)
	}
	sort.SliceStable(items, func(a, b int) bool {
		ia, ib := items[a], items[b]
		if ia.Priority.Rank() != ib.Priority.Rank() {
			return ia.Priority.Rank() > ib.Priority.Rank()
		}
		if ia.Overdue != ib.Overdue {
			return ia.Overdue
		}
		return ia.CreatedAt.Before(ib.CreatedAt)
	})
}

// QueueStats mirrors the aggregate counters the admin dashboard renders.
type QueueStats struct {
	Total      int64 `json:"total"`
	Pending    int64 `json:"pending"`
	Assigned   int64 `json:"assigned"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Urgent     int64 `json:"urgent"`
	High       int64 `json:"high"`
	Overdue    int64 `json:"overdue"`
}
