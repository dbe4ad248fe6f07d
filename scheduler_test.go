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
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/Khalil2008k/guild-payops/internal/apierror"
	"github.com/Khalil2008k/guild-payops/model"
)

func TestScheduleEscrowRelease(t *testing.T) {
	p, ds, _ := newTestPayops(t)

	timer := &model.ReleaseTimer{
		JobID:       "job_1",
		UserID:      "usr_1",
		Amount:      decimal.NewFromFloat(500),
		ReleaseDate: time.Now().Add(72 * time.Hour),
		Reason:      model.ReasonJobCompletion,
	}
	ds.On("ScheduleReleaseTimer", mock.Anything, timer, mock.MatchedBy(func(a *model.AuditRecord) bool {
		return a.Action == model.ActionTimerScheduled && a.Actor == "usr_1"
	})).Return(&model.ReleaseTimer{TimerID: "rlt_1", Status: model.TimerScheduled, ReleaseDate: timer.ReleaseDate}, "", nil)

	created, err := p.ScheduleEscrowRelease(context.Background(), timer, "usr_1")
	assert.NoError(t, err)
	assert.Equal(t, "rlt_1", created.TimerID)
	assert.Equal(t, model.TimerScheduled, created.Status)
	ds.AssertExpectations(t)
}

func TestScheduleEscrowReleaseValidation(t *testing.T) {
	p, ds, _ := newTestPayops(t)
	ctx := context.Background()

	_, err := p.ScheduleEscrowRelease(ctx, &model.ReleaseTimer{
		Amount: decimal.Zero, ReleaseDate: time.Now(), Reason: model.ReasonJobCompletion,
	}, "usr_1")
	assert.True(t, apierror.IsCode(err, apierror.ErrInvalidInput))

	_, err = p.ScheduleEscrowRelease(ctx, &model.ReleaseTimer{
		Amount: decimal.NewFromFloat(10), ReleaseDate: time.Now(), Reason: "BONUS",
	}, "usr_1")
	assert.True(t, apierror.IsCode(err, apierror.ErrInvalidInput))

	_, err = p.ScheduleEscrowRelease(ctx, &model.ReleaseTimer{
		Amount: decimal.NewFromFloat(10), Reason: model.ReasonJobCompletion,
	}, "usr_1")
	assert.True(t, apierror.IsCode(err, apierror.ErrInvalidInput))

	ds.AssertNotCalled(t, "ScheduleReleaseTimer")
}

func TestCancelEscrowRelease(t *testing.T) {
	p, ds, _ := newTestPayops(t)

	ds.On("CancelReleaseTimerByID", mock.Anything, "rlt_1", mock.MatchedBy(func(a *model.AuditRecord) bool {
		return a.Action == model.ActionTimerCancelled
	})).Return(&model.ReleaseTimer{TimerID: "rlt_1", Status: model.TimerCancelled}, nil)

	timer, err := p.CancelEscrowRelease(context.Background(), "rlt_1", "op_1")
	assert.NoError(t, err)
	assert.Equal(t, model.TimerCancelled, timer.Status)
	ds.AssertExpectations(t)
}

func TestFireTimer(t *testing.T) {
	p, ds, _ := newTestPayops(t)

	ds.On("MarkTimerReleased", mock.Anything, "rlt_1", mock.MatchedBy(func(a *model.AuditRecord) bool {
		return a.Action == model.ActionTimerReleased && a.Actor == SystemActor
	})).Return(&model.ReleaseTimer{TimerID: "rlt_1", Status: model.TimerReleased}, nil)

	err := p.FireTimer(context.Background(), "rlt_1")
	assert.NoError(t, err)
	ds.AssertExpectations(t)
}

func TestFireTimerSwallowsAlreadyReleased(t *testing.T) {
	p, ds, _ := newTestPayops(t)

	// The sweep beat the task to this timer. The fire path treats the missed
	// status precondition as done rather than retrying the task.
	conflict := apierror.NewAPIError(apierror.ErrConflict, "Release timer is not scheduled", nil)
	ds.On("MarkTimerReleased", mock.Anything, "rlt_1", mock.Anything).Return(nil, conflict)

	err := p.FireTimer(context.Background(), "rlt_1")
	assert.NoError(t, err)
}

func TestSweepDueTimers(t *testing.T) {
	p, ds, _ := newTestPayops(t)

	due := []*model.ReleaseTimer{
		{TimerID: "rlt_1", Status: model.TimerReleased},
		{TimerID: "rlt_2", Status: model.TimerReleased},
	}
	ds.On("FireDueTimers", mock.Anything, mock.Anything, SystemActor).Return(due, nil)

	count, err := p.SweepDueTimers(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
	ds.AssertExpectations(t)
}

func TestSweepDueTimersSkipsWhenLockHeld(t *testing.T) {
	p, ds, _ := newTestPayops(t)
	ctx := context.Background()

	// Another instance holds the sweep lock.
	err := p.redis.SetNX(ctx, sweepLockKey, "other-instance", time.Minute).Err()
	assert.NoError(t, err)

	count, err := p.SweepDueTimers(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, count)
	ds.AssertNotCalled(t, "FireDueTimers")
}

func TestListReleaseTimersWithoutPendingTasks(t *testing.T) {
	p, ds, _ := newTestPayops(t)

	timers := []*model.ReleaseTimer{
		{TimerID: "rlt_a", Status: model.TimerScheduled},
		{TimerID: "rlt_b", Status: model.TimerReleased},
	}
	ds.On("GetReleaseTimers", mock.Anything, model.TimerStatus(""), 0, 0).Return(timers, nil)

	got, err := p.ListReleaseTimers(context.Background(), "", 0, 0)
	assert.NoError(t, err)
	assert.Len(t, got, 2)
	// Neither timer has a live fire task in the queue, so no ETA is
	// attached to either.
	assert.Nil(t, got[0].NextFireAt)
	assert.Nil(t, got[1].NextFireAt)
}
