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

import "time"

// AuditAction identifies what a state transition did. Payload shapes are
// typed per action rather than free-form blobs; anything an action needs
// beyond the typed fields goes into the Metadata catch-all.
type AuditAction string

const (
	ActionPaymentEnqueued   AuditAction = "payment.enqueued"
	ActionPaymentAssigned   AuditAction = "payment.assigned"
	ActionPaymentReassigned AuditAction = "payment.reassigned"
	ActionPaymentProcessing AuditAction = "payment.processing"
	ActionPaymentCompleted  AuditAction = "payment.completed"
	ActionPaymentFailed     AuditAction = "payment.failed"
	ActionPaymentDisputed   AuditAction = "payment.disputed"
	ActionPaymentResolved   AuditAction = "payment.resolved"
	ActionPaymentEscalated  AuditAction = "payment.escalated"
	ActionTimerScheduled    AuditAction = "timer.scheduled"
	ActionTimerReleased     AuditAction = "timer.released"
	ActionTimerCancelled    AuditAction = "timer.cancelled"
	ActionReconciliationRun AuditAction = "reconciliation.run"
)

// Resource types referenced by audit records.
const (
	ResourcePaymentItem    = "manual_payment_item"
	ResourceReleaseTimer   = "release_timer"
	ResourceReconciliation = "reconciliation_run"
)

// AuditPayload is the tagged union of per-action detail. Only the fields
// relevant to the action are set; Metadata keeps forward compatibility for
// callers that need to attach unstructured context.
type AuditPayload struct {
	Operator   string                 `json:"operator,omitempty"`
	Notes      string                 `json:"notes,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	Outcome    string                 `json:"outcome,omitempty"`
	FromStatus string                 `json:"from_status,omitempty"`
	ToStatus   string                 `json:"to_status,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// AuditRecord is written for every state transition. The write is part of
// the transition's commit: a transition whose audit record cannot be stored
// is not durable.
type AuditRecord struct {
	AuditID      string       `json:"audit_id"`
	Actor        string       `json:"actor"`
	Action       AuditAction  `json:"action"`
	ResourceType string       `json:"resource_type"`
	ResourceID   string       `json:"resource_id"`
	StatusBefore string       `json:"status_before,omitempty"`
	StatusAfter  string       `json:"status_after,omitempty"`
	Success      bool         `json:"success"`
	CreatedAt    time.Time    `json:"created_at"`
	Payload      AuditPayload `json:"payload"`
}
