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

package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/Khalil2008k/guild-payops/model"
)

func TestScheduleReleaseTimerEndpoint(t *testing.T) {
	router, ds := setupRouter(t)

	releaseDate := time.Now().Add(72 * time.Hour)
	ds.On("ScheduleReleaseTimer", mock.Anything, mock.Anything, mock.Anything).
		Return(&model.ReleaseTimer{TimerID: "rlt_1", Status: model.TimerScheduled, ReleaseDate: releaseDate}, "", nil)

	var response model.ReleaseTimer
	payload := map[string]interface{}{
		"job_id":       "job_1",
		"user_id":      "usr_1",
		"amount":       500.00,
		"release_date": releaseDate.Format(time.RFC3339),
		"reason":       "JOB_COMPLETION",
	}
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  toJSON(t, payload),
		Response: &response,
		Router:   router,
		Method:   "POST",
		Route:    "/release-timers",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "rlt_1", response.TimerID)
}

func TestScheduleReleaseTimerEndpointRejectsBadReason(t *testing.T) {
	router, ds := setupRouter(t)

	payload := map[string]interface{}{
		"job_id":       "job_1",
		"user_id":      "usr_1",
		"amount":       500.00,
		"release_date": time.Now().Add(time.Hour).Format(time.RFC3339),
		"reason":       "BONUS",
	}
	resp, err := SetUpTestRequest(TestRequest{
		Payload: toJSON(t, payload),
		Router:  router,
		Method:  "POST",
		Route:   "/release-timers",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	ds.AssertNotCalled(t, "ScheduleReleaseTimer")
}

func TestCancelReleaseTimerEndpoint(t *testing.T) {
	router, ds := setupRouter(t)

	ds.On("CancelReleaseTimerByID", mock.Anything, "rlt_1", mock.Anything).
		Return(&model.ReleaseTimer{TimerID: "rlt_1", Status: model.TimerCancelled}, nil)

	var response model.ReleaseTimer
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  toJSON(t, map[string]string{"operator_id": "op_1"}),
		Response: &response,
		Router:   router,
		Method:   "POST",
		Route:    "/release-timers/rlt_1/cancel",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, model.TimerCancelled, response.Status)
}

func TestGetReleaseTimersEndpoint(t *testing.T) {
	router, ds := setupRouter(t)

	ds.On("GetReleaseTimers", mock.Anything, model.TimerScheduled, 0, 0).
		Return([]*model.ReleaseTimer{
			{TimerID: "rlt_1", Status: model.TimerScheduled, Amount: decimal.NewFromFloat(500)},
		}, nil)

	var response []model.ReleaseTimer
	resp, err := SetUpTestRequest(TestRequest{
		Response: &response,
		Router:   router,
		Method:   "GET",
		Route:    "/release-timers?status=SCHEDULED",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, response, 1)
}

func TestGetAuditLogEndpoint(t *testing.T) {
	router, ds := setupRouter(t)

	ds.On("GetAuditLog", mock.Anything, mock.Anything).Return([]*model.AuditRecord{
		{AuditID: "aud_1", Action: model.ActionPaymentAssigned, ResourceID: "mpi_1"},
	}, nil)

	var response []model.AuditRecord
	resp, err := SetUpTestRequest(TestRequest{
		Response: &response,
		Router:   router,
		Method:   "GET",
		Route:    "/audit-log?resource_id=mpi_1",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, response, 1)
	assert.Equal(t, model.ActionPaymentAssigned, response[0].Action)
}
