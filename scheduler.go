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
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/Khalil2008k/guild-payops/internal/apierror"
	redlock "github.com/Khalil2008k/guild-payops/internal/lock"
	"github.com/Khalil2008k/guild-payops/model"
)

var schedulerTracer = otel.Tracer("payops.scheduler")

const sweepLockKey = "payops:sweep:lock"

// ScheduleEscrowRelease creates a release timer for a (job, user) pair and
// registers the delayed wake-up task. An existing SCHEDULED timer for the same
// pair is cancelled first, so rescheduling a release never leaves two live
// timers racing for the same funds.
func (p *Payops) ScheduleEscrowRelease(ctx context.Context, timer *model.ReleaseTimer, actor string) (*model.ReleaseTimer, error) {
	ctx, span := schedulerTracer.Start(ctx, "Schedule escrow release")
	defer span.End()

	if timer.Amount.Sign() <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Amount must be positive", nil)
	}
	if !model.ValidReleaseReason(string(timer.Reason)) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Unknown release reason %q", timer.Reason), nil)
	}
	if timer.ReleaseDate.IsZero() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Release date is required", nil)
	}

	audit := newTimerAudit(actor, model.ActionTimerScheduled, "", "", model.TimerScheduled, model.AuditPayload{
		Reason: string(timer.Reason),
		Metadata: map[string]interface{}{
			"job_id":       timer.JobID,
			"user_id":      timer.UserID,
			"amount":       timer.Amount.String(),
			"release_date": timer.ReleaseDate.UTC().Format(time.RFC3339),
		},
	})

	created, superseded, err := p.datasource.ScheduleReleaseTimer(ctx, timer, audit)
	if err != nil {
		return nil, err
	}
	if superseded != "" {
		p.queue.cancelTimerTask(superseded)
		logrus.WithFields(logrus.Fields{
			"timer_id":   created.TimerID,
			"superseded": superseded,
		}).Info("release timer rescheduled")
	}
	if err := p.queue.queueTimerFire(created); err != nil {
		// The periodic sweep still fires the timer; the task is only the
		// low-latency path.
		logrus.WithError(err).WithField("timer_id", created.TimerID).Warn("could not enqueue timer fire task")
	}
	return created, nil
}

// CancelEscrowRelease cancels a SCHEDULED timer by ID and drops its pending
// wake-up task.
func (p *Payops) CancelEscrowRelease(ctx context.Context, timerID, actor string) (*model.ReleaseTimer, error) {
	audit := newTimerAudit(actor, model.ActionTimerCancelled, timerID, model.TimerScheduled, model.TimerCancelled, model.AuditPayload{})
	timer, err := p.datasource.CancelReleaseTimerByID(ctx, timerID, audit)
	if err != nil {
		return nil, err
	}
	p.queue.cancelTimerTask(timerID)
	return timer, nil
}

// CancelEscrowReleaseForJob cancels the SCHEDULED timer for a (job, user)
// pair, used when a job is cancelled before its escrow matures.
func (p *Payops) CancelEscrowReleaseForJob(ctx context.Context, jobID, userID, actor string) (*model.ReleaseTimer, error) {
	audit := newTimerAudit(actor, model.ActionTimerCancelled, "", model.TimerScheduled, model.TimerCancelled, model.AuditPayload{
		Metadata: map[string]interface{}{
			"job_id":  jobID,
			"user_id": userID,
		},
	})
	timer, err := p.datasource.CancelReleaseTimer(ctx, jobID, userID, audit)
	if err != nil {
		return nil, err
	}
	p.queue.cancelTimerTask(timer.TimerID)
	return timer, nil
}

// ListReleaseTimers returns timers, optionally filtered by status, ordered by
// release date. Scheduled timers whose fire task is still pending carry the
// task's next run time so operators can see when the wake-up lands.
func (p *Payops) ListReleaseTimers(ctx context.Context, status model.TimerStatus, limit, offset int) ([]*model.ReleaseTimer, error) {
	timers, err := p.datasource.GetReleaseTimers(ctx, status, limit, offset)
	if err != nil {
		return nil, err
	}
	for _, timer := range timers {
		if timer.Status != model.TimerScheduled {
			continue
		}
		if eta, ok := p.queue.GetTimerTaskETA(timer.TimerID); ok {
			timer.NextFireAt = &eta
		}
	}
	return timers, nil
}

// GetReleaseTimer returns one timer by ID.
func (p *Payops) GetReleaseTimer(ctx context.Context, timerID string) (*model.ReleaseTimer, error) {
	return p.datasource.GetReleaseTimer(ctx, timerID)
}

// FireTimer releases a single timer, invoked by the delayed task when its
// release date arrives. The status precondition in the database is the real
// idempotency guard: if the sweep already released the timer the update
// misses and the conflict is swallowed here.
func (p *Payops) FireTimer(ctx context.Context, timerID string) error {
	ctx, span := schedulerTracer.Start(ctx, "Fire release timer")
	defer span.End()

	audit := newTimerAudit(SystemActor, model.ActionTimerReleased, timerID, model.TimerScheduled, model.TimerReleased, model.AuditPayload{})
	timer, err := p.datasource.MarkTimerReleased(ctx, timerID, audit)
	if err != nil {
		if apierror.IsCode(err, apierror.ErrConflict) {
			logrus.WithField("timer_id", timerID).Info("timer already handled, skipping fire")
			return nil
		}
		return err
	}

	p.notifyRelease(timer)
	return nil
}

// releaseEscrowForItem couples a successful payment completion to the escrow
// schedule: the live timer for the item's job/user pair is released
// immediately, and a completion that predates any timer gets a retroactive
// RELEASED record. The completion itself has already committed, so failures
// here are logged; a still-scheduled timer fires on its own date regardless.
func (p *Payops) releaseEscrowForItem(ctx context.Context, item *model.ManualPaymentItem, actor string) {
	if item.ItemType != model.ItemTypePayment || item.JobID == "" || item.UserID == "" {
		return
	}

	timer, err := p.datasource.GetScheduledTimerForJob(ctx, item.JobID, item.UserID)
	if err != nil {
		logrus.WithError(err).WithField("job_id", item.JobID).Error("could not look up release timer for completed payment")
		return
	}

	if timer == nil {
		retro := &model.ReleaseTimer{
			JobID:  item.JobID,
			UserID: item.UserID,
			Amount: item.Amount,
			Reason: model.ReasonJobCompletion,
		}
		audit := newTimerAudit(actor, model.ActionTimerReleased, "", "", model.TimerReleased, model.AuditPayload{
			Metadata: map[string]interface{}{
				"job_id":      item.JobID,
				"user_id":     item.UserID,
				"item_id":     item.ItemID,
				"retroactive": true,
			},
		})
		released, err := p.datasource.RecordRetroactiveRelease(ctx, retro, audit)
		if err != nil {
			logrus.WithError(err).WithField("job_id", item.JobID).Error("could not record retroactive escrow release")
			return
		}
		p.notifyRelease(released)
		return
	}

	audit := newTimerAudit(actor, model.ActionTimerReleased, timer.TimerID, model.TimerScheduled, model.TimerReleased, model.AuditPayload{
		Metadata: map[string]interface{}{"item_id": item.ItemID},
	})
	released, err := p.datasource.MarkTimerReleased(ctx, timer.TimerID, audit)
	if err != nil {
		if apierror.IsCode(err, apierror.ErrConflict) {
			// The fire task or the sweep got there first.
			return
		}
		logrus.WithError(err).WithField("timer_id", timer.TimerID).Error("could not release escrow timer for completed payment")
		return
	}
	p.queue.cancelTimerTask(timer.TimerID)
	p.notifyRelease(released)
}

// SweepDueTimers releases every SCHEDULED timer whose release date has
// passed. It is the safety net behind the delayed tasks: a Redis flush or a
// dropped task cannot strand funds in escrow past their date. The Redis lock
// keeps concurrent worker instances from sweeping at the same time.
func (p *Payops) SweepDueTimers(ctx context.Context) (int, error) {
	ctx, span := schedulerTracer.Start(ctx, "Sweep due release timers")
	defer span.End()

	locker := redlock.NewLocker(p.redis, sweepLockKey, uuid.New().String())
	if err := locker.Lock(ctx, 2*time.Minute); err != nil {
		logrus.WithError(err).Info("skipping sweep, another instance holds the lock")
		return 0, nil
	}
	defer func() {
		if err := locker.Unlock(ctx); err != nil {
			logrus.WithError(err).Error("failed to release sweep lock")
		}
	}()

	timers, err := p.datasource.FireDueTimers(ctx, time.Now(), SystemActor)
	if err != nil {
		return 0, err
	}
	for _, timer := range timers {
		p.queue.cancelTimerTask(timer.TimerID)
		p.notifyRelease(timer)
	}
	if len(timers) > 0 {
		logrus.WithField("count", len(timers)).Info("released due escrow timers")
	}
	return len(timers), nil
}

func (p *Payops) notifyRelease(timer *model.ReleaseTimer) {
	if err := SendWebhook(NewWebhook{Event: EventEscrowReleased, Payload: timer}); err != nil {
		logrus.WithError(err).WithField("timer_id", timer.TimerID).Warn("webhook delivery could not be queued")
	}
}
