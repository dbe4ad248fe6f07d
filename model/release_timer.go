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

// TimerStatus is the lifecycle state of a release timer.
type TimerStatus string

const (
	TimerScheduled TimerStatus = "SCHEDULED"
	TimerReleased  TimerStatus = "RELEASED"
	TimerCancelled TimerStatus = "CANCELLED"
)

// ReleaseReason records why escrow funds are being released.
type ReleaseReason string

const (
	ReasonJobCompletion     ReleaseReason = "JOB_COMPLETION"
	ReasonDisputeResolution ReleaseReason = "DISPUTE_RESOLUTION"
	ReasonJobCancellation   ReleaseReason = "JOB_CANCELLATION"
)

// ValidReleaseReason reports whether s is a known release reason.
func ValidReleaseReason(s string) bool {
	switch ReleaseReason(s) {
	case ReasonJobCompletion, ReasonDisputeResolution, ReasonJobCancellation:
		return true
	}
	return false
}

// ReleaseTimer is a durable delayed escrow release keyed by (JobID, UserID).
// At most one SCHEDULED timer may exist per key; scheduling a new one cancels
// the prior timer atomically. The scheduler only signals a release, it never
// moves money itself.
type ReleaseTimer struct {
	TimerID     string          `json:"id"`
	JobID       string          `json:"job_id"`
	UserID      string          `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	ReleaseDate time.Time       `json:"release_date"`
	Status      TimerStatus     `json:"status"`
	Reason      ReleaseReason   `json:"reason"`
	CreatedAt   time.Time       `json:"created_at"`
	ReleasedAt  *time.Time      `json:"released_at,omitempty"`

	// NextFireAt is filled from the task queue when listing; not persisted.
	NextFireAt *time.Time `json:"next_fire_at,omitempty"`
}

// Due reports whether a scheduled timer should fire.
func (t *ReleaseTimer) Due(now time.Time) bool {
	return t.Status == TimerScheduled && !t.ReleaseDate.After(now)
}
