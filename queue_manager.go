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
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/Khalil2008k/guild-payops/database"
	"github.com/Khalil2008k/guild-payops/internal/apierror"
	"github.com/Khalil2008k/guild-payops/model"
)

var queueTracer = otel.Tracer("payops.queue")

// EnqueuePayment adds a payment that could not settle automatically to the
// manual queue. Callers that do not supply a priority get NORMAL.
func (p *Payops) EnqueuePayment(ctx context.Context, item *model.ManualPaymentItem, actor string) (*model.ManualPaymentItem, error) {
	ctx, span := queueTracer.Start(ctx, "Enqueue manual payment")
	defer span.End()

	if item.Amount.Sign() <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Amount must be positive", nil)
	}
	if item.Priority == "" {
		item.Priority = model.PriorityNormal
	}

	audit := newQueueAudit(actor, model.ActionPaymentEnqueued, "", "", model.AuditPayload{
		Metadata: map[string]interface{}{
			"job_id":   item.JobID,
			"amount":   item.Amount.String(),
			"currency": item.Currency,
			"priority": string(item.Priority),
		},
	})

	created, err := p.datasource.RecordQueueItem(ctx, item, audit)
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"item_id":  created.ItemID,
		"priority": created.Priority,
	}).Info("manual payment enqueued")
	return created, nil
}

// GetQueue returns items in serving order: URGENT before HIGH before NORMAL
// before LOW, overdue items first within a tier, FIFO within that.
func (p *Payops) GetQueue(ctx context.Context, filter database.QueueFilter) ([]*model.ManualPaymentItem, error) {
	items, err := p.datasource.GetQueueItems(ctx, filter)
	if err != nil {
		return nil, err
	}
	model.SortQueue(items, time.Now())
	return items, nil
}

// GetQueueItem returns one item by ID.
func (p *Payops) GetQueueItem(ctx context.Context, id string) (*model.ManualPaymentItem, error) {
	return p.datasource.GetQueueItem(ctx, id)
}

// GetQueueStats returns the dashboard counters.
func (p *Payops) GetQueueStats(ctx context.Context) (*model.QueueStats, error) {
	return p.datasource.GetQueueStats(ctx)
}

// AssignItem claims a PENDING item for an operator. When two operators race
// for the same item, exactly one wins; the loser gets a CONFLICT carrying the
// item's current state.
func (p *Payops) AssignItem(ctx context.Context, id, operatorID string) (*model.ManualPaymentItem, error) {
	ctx, span := queueTracer.Start(ctx, "Assign queue item")
	defer span.End()

	audit := newQueueAudit(operatorID, model.ActionPaymentAssigned, id, model.StatusPending, model.AuditPayload{
		Operator: operatorID,
	})
	return p.datasource.ClaimQueueItem(ctx, id, operatorID, audit)
}

// ReassignItem hands an ASSIGNED item to a different operator. The item stays
// ASSIGNED; only the operator changes.
func (p *Payops) ReassignItem(ctx context.Context, id, operatorID string) (*model.ManualPaymentItem, error) {
	audit := newQueueAudit(operatorID, model.ActionPaymentReassigned, id, model.StatusAssigned, model.AuditPayload{
		Operator: operatorID,
	})
	return p.datasource.ReassignQueueItem(ctx, id, operatorID, audit)
}

// StartProcessing moves an item the operator holds into PROCESSING.
func (p *Payops) StartProcessing(ctx context.Context, id, operatorID string) (*model.ManualPaymentItem, error) {
	audit := newQueueAudit(operatorID, model.ActionPaymentProcessing, id, model.StatusAssigned, model.AuditPayload{
		Operator: operatorID,
	})
	return p.datasource.StartQueueItemProcessing(ctx, id, operatorID, audit)
}

// CompleteItem finishes a PROCESSING item successfully, releases the escrow
// timer for the item's job/user pair, and emits the payment.completed
// webhook.
func (p *Payops) CompleteItem(ctx context.Context, id, operatorID, notes string) (*model.ManualPaymentItem, error) {
	ctx, span := queueTracer.Start(ctx, "Complete queue item")
	defer span.End()

	audit := newQueueAudit(operatorID, model.ActionPaymentCompleted, id, model.StatusProcessing, model.AuditPayload{
		Operator: operatorID,
		Notes:    notes,
	})
	item, err := p.datasource.CompleteQueueItem(ctx, id, operatorID, notes, audit)
	if err != nil {
		return nil, err
	}
	p.releaseEscrowForItem(ctx, item, operatorID)
	if err := SendWebhook(NewWebhook{Event: getEventFromStatus(item.Status), Payload: item}); err != nil {
		logrus.WithError(err).Warn("webhook delivery could not be queued")
	}
	return item, nil
}

// FailItem finishes a PROCESSING item unsuccessfully. A failure reason is
// required; it lands in the audit payload and the item notes.
func (p *Payops) FailItem(ctx context.Context, id, operatorID, reason, notes string) (*model.ManualPaymentItem, error) {
	ctx, span := queueTracer.Start(ctx, "Fail queue item")
	defer span.End()

	if reason == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Failure reason is required", nil)
	}
	audit := newQueueAudit(operatorID, model.ActionPaymentFailed, id, model.StatusProcessing, model.AuditPayload{
		Operator: operatorID,
		Reason:   reason,
		Notes:    notes,
	})
	item, err := p.datasource.FailQueueItem(ctx, id, operatorID, reason, notes, audit)
	if err != nil {
		return nil, err
	}
	if err := SendWebhook(NewWebhook{Event: getEventFromStatus(item.Status), Payload: item}); err != nil {
		logrus.WithError(err).Warn("webhook delivery could not be queued")
	}
	return item, nil
}

// DisputeItem parks an in-flight item in the DISPUTED holding state until a
// resolution arrives from the dispute process.
func (p *Payops) DisputeItem(ctx context.Context, id, actor string) (*model.ManualPaymentItem, error) {
	audit := newQueueAudit(actor, model.ActionPaymentDisputed, id, "", model.AuditPayload{
		Operator: actor,
	})
	item, err := p.datasource.MarkQueueItemDisputed(ctx, id, audit)
	if err != nil {
		return nil, err
	}
	if err := SendWebhook(NewWebhook{Event: EventPaymentDisputed, Payload: item}); err != nil {
		logrus.WithError(err).Warn("webhook delivery could not be queued")
	}
	return item, nil
}

// ResolveItem settles a DISPUTED item into the terminal state the resolver
// chose.
func (p *Payops) ResolveItem(ctx context.Context, id, actor string, outcome model.PaymentStatus, notes string) (*model.ManualPaymentItem, error) {
	audit := newQueueAudit(actor, model.ActionPaymentResolved, id, model.StatusDisputed, model.AuditPayload{
		Operator: actor,
		Outcome:  string(outcome),
		Notes:    notes,
	})
	item, err := p.datasource.ResolveQueueItem(ctx, id, outcome, notes, audit)
	if err != nil {
		return nil, err
	}
	if item.Status == model.StatusCompleted {
		p.releaseEscrowForItem(ctx, item, actor)
	}
	if err := SendWebhook(NewWebhook{Event: getEventFromStatus(item.Status), Payload: item}); err != nil {
		logrus.WithError(err).Warn("webhook delivery could not be queued")
	}
	return item, nil
}

// EscalateOverdueItems bumps every open item that has outlived its SLA window
// one priority tier. Runs periodically from the worker process; items already
// at URGENT stay where they are.
func (p *Payops) EscalateOverdueItems(ctx context.Context) (int, error) {
	ctx, span := queueTracer.Start(ctx, "Escalate overdue items")
	defer span.End()

	items, err := p.datasource.GetEscalatableItems(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	escalated := 0
	for _, item := range items {
		next := item.Priority.Escalate()
		audit := newQueueAudit(SystemActor, model.ActionPaymentEscalated, item.ItemID, item.Status, model.AuditPayload{
			Metadata: map[string]interface{}{
				"from_priority": string(item.Priority),
				"to_priority":   string(next),
			},
		})
		if _, err := p.datasource.EscalateQueueItem(ctx, item.ItemID, next, audit); err != nil {
			logrus.WithError(err).WithField("item_id", item.ItemID).Error("escalation failed")
			continue
		}
		escalated++
	}
	if escalated > 0 {
		logrus.WithField("count", escalated).Info("escalated overdue queue items")
	}
	return escalated, nil
}
