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
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	payops "github.com/Khalil2008k/guild-payops"
	"github.com/Khalil2008k/guild-payops/config"
	"github.com/Khalil2008k/guild-payops/database/mocks"
	"github.com/Khalil2008k/guild-payops/internal/apierror"
	"github.com/Khalil2008k/guild-payops/model"
)

type TestRequest struct {
	Payload  io.Reader
	Router   *gin.Engine
	Response interface{}
	Method   string
	Route    string
	Header   map[string]string
}

func SetUpTestRequest(s TestRequest) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(s.Method, s.Route, s.Payload)
	for key, value := range s.Header {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.Router.ServeHTTP(resp, req)

	if s.Response != nil {
		err := json.NewDecoder(resp.Body).Decode(&s.Response)
		if err != nil {
			return resp, err
		}
	}
	return resp, nil
}

func setupRouter(t *testing.T) (*gin.Engine, *mocks.MockDataSource) {
	t.Helper()

	mr := miniredis.RunT(t)
	config.MockConfig(&config.Configuration{
		Redis: config.RedisConfig{Dns: mr.Addr()},
		Reconciliation: config.ReconciliationConfig{
			Tolerance:             1.0,
			HighPriorityThreshold: 1000,
			DefaultCurrency:       "USD",
			LookbackHours:         24,
		},
	})

	ds := new(mocks.MockDataSource)
	service, err := payops.NewPayops(ds)
	if err != nil {
		t.Fatalf("building service: %v", err)
	}
	return NewAPI(service).Router(), ds
}

func toJSON(t *testing.T, v interface{}) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(b)
}

func TestEnqueuePaymentEndpoint(t *testing.T) {
	router, ds := setupRouter(t)

	ds.On("RecordQueueItem", mock.Anything, mock.Anything, mock.Anything).
		Return(&model.ManualPaymentItem{ItemID: "mpi_1", Status: model.StatusPending, Priority: model.PriorityNormal}, nil)

	var response model.ManualPaymentItem
	payload := map[string]interface{}{
		"job_id":    "job_1",
		"user_id":   "usr_1",
		"client_id": "cli_1",
		"amount":    150.25,
		"currency":  "USD",
	}
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  toJSON(t, payload),
		Response: &response,
		Router:   router,
		Method:   "POST",
		Route:    "/queue",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "mpi_1", response.ItemID)
}

func TestEnqueuePaymentEndpointRejectsMissingFields(t *testing.T) {
	router, ds := setupRouter(t)

	payload := map[string]interface{}{
		"job_id": "job_1",
		"amount": 150.25,
	}
	resp, err := SetUpTestRequest(TestRequest{
		Payload: toJSON(t, payload),
		Router:  router,
		Method:  "POST",
		Route:   "/queue",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	ds.AssertNotCalled(t, "RecordQueueItem")
}

func TestAssignEndpoint(t *testing.T) {
	router, ds := setupRouter(t)

	ds.On("ClaimQueueItem", mock.Anything, "mpi_1", "op_1", mock.Anything).
		Return(&model.ManualPaymentItem{ItemID: "mpi_1", Status: model.StatusAssigned, AssignedTo: "op_1"}, nil)

	var response model.ManualPaymentItem
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  toJSON(t, map[string]string{"operator_id": "op_1"}),
		Response: &response,
		Router:   router,
		Method:   "POST",
		Route:    "/queue/mpi_1/assign",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, model.StatusAssigned, response.Status)
}

func TestAssignEndpointLostRaceReturns409(t *testing.T) {
	router, ds := setupRouter(t)

	conflict := apierror.NewConflictError("Payment item was claimed by another operator", string(model.StatusAssigned), string(model.StatusAssigned))
	ds.On("ClaimQueueItem", mock.Anything, "mpi_1", "op_2", mock.Anything).Return(nil, conflict)

	resp, err := SetUpTestRequest(TestRequest{
		Payload: toJSON(t, map[string]string{"operator_id": "op_2"}),
		Router:  router,
		Method:  "POST",
		Route:   "/queue/mpi_1/assign",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestFailEndpointRequiresReason(t *testing.T) {
	router, ds := setupRouter(t)

	resp, err := SetUpTestRequest(TestRequest{
		Payload: toJSON(t, map[string]string{"operator_id": "op_1", "notes": "no reason given"}),
		Router:  router,
		Method:  "POST",
		Route:   "/queue/mpi_1/fail",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	ds.AssertNotCalled(t, "FailQueueItem")
}

func TestResolveEndpointRejectsUnknownOutcome(t *testing.T) {
	router, ds := setupRouter(t)

	resp, err := SetUpTestRequest(TestRequest{
		Payload: toJSON(t, map[string]string{"operator_id": "op_1", "outcome": "refunded"}),
		Router:  router,
		Method:  "POST",
		Route:   "/queue/mpi_1/resolve",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	ds.AssertNotCalled(t, "ResolveQueueItem")
}

func TestGetQueueStatsEndpoint(t *testing.T) {
	router, ds := setupRouter(t)

	ds.On("GetQueueStats", mock.Anything).Return(&model.QueueStats{Total: 12, Pending: 4, Overdue: 2}, nil)

	var response model.QueueStats
	resp, err := SetUpTestRequest(TestRequest{
		Response: &response,
		Router:   router,
		Method:   "GET",
		Route:    "/queue/stats",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, int64(12), response.Total)
	assert.Equal(t, int64(2), response.Overdue)
}

func TestGetQueueEndpointOrdersByPriority(t *testing.T) {
	router, ds := setupRouter(t)

	ds.On("GetQueueItems", mock.Anything, mock.Anything).Return([]*model.ManualPaymentItem{
		{ItemID: "mpi_n", Priority: model.PriorityNormal, Status: model.StatusPending, Amount: decimal.NewFromFloat(10)},
		{ItemID: "mpi_u", Priority: model.PriorityUrgent, Status: model.StatusPending, Amount: decimal.NewFromFloat(10)},
	}, nil)

	var response []model.ManualPaymentItem
	resp, err := SetUpTestRequest(TestRequest{
		Response: &response,
		Router:   router,
		Method:   "GET",
		Route:    "/queue",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, response, 2)
	assert.Equal(t, "mpi_u", response[0].ItemID)
}
