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

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/Khalil2008k/guild-payops/database"
	"github.com/Khalil2008k/guild-payops/internal/apierror"
	"github.com/Khalil2008k/guild-payops/model"
)

// newQueueAudit builds the audit record for a queue item transition. The
// datasource writes it in the same transaction as the transition itself and
// fills StatusAfter from the committed row.
func newQueueAudit(actor string, action model.AuditAction, itemID string, statusBefore model.PaymentStatus, payload model.AuditPayload) *model.AuditRecord {
	return &model.AuditRecord{
		Actor:        actor,
		Action:       action,
		ResourceType: model.ResourcePaymentItem,
		ResourceID:   itemID,
		StatusBefore: string(statusBefore),
		Success:      true,
		Payload:      payload,
	}
}

// newTimerAudit builds the audit record for a release timer transition.
func newTimerAudit(actor string, action model.AuditAction, timerID string, statusBefore, statusAfter model.TimerStatus, payload model.AuditPayload) *model.AuditRecord {
	return &model.AuditRecord{
		Actor:        actor,
		Action:       action,
		ResourceType: model.ResourceReleaseTimer,
		ResourceID:   timerID,
		StatusBefore: string(statusBefore),
		StatusAfter:  string(statusAfter),
		Success:      true,
		Payload:      payload,
	}
}

// commitAudit persists a standalone audit record, retrying transient storage
// failures with exponential backoff. Validation failures are not retried.
// Events that ride on a transition's transaction never come through here.
func (p *Payops) commitAudit(ctx context.Context, record *model.AuditRecord) error {
	operation := func() error {
		err := p.datasource.RecordAudit(ctx, record)
		if err == nil {
			return nil
		}
		if apierror.IsCode(err, apierror.ErrInvalidInput) || apierror.IsCode(err, apierror.ErrConflict) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx))
	if err != nil {
		logrus.WithError(err).WithField("audit_id", record.AuditID).Error("audit record could not be persisted")
		return err
	}
	return nil
}

// GetAuditLog exposes the audit trail to the API layer.
func (p *Payops) GetAuditLog(ctx context.Context, filter database.AuditFilter) ([]*model.AuditRecord, error) {
	return p.datasource.GetAuditLog(ctx, filter)
}
