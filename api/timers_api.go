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
	"strconv"

	"github.com/gin-gonic/gin"

	payops "github.com/Khalil2008k/guild-payops"
	model2 "github.com/Khalil2008k/guild-payops/api/model"
	"github.com/Khalil2008k/guild-payops/model"
)

func (a Api) ScheduleReleaseTimer(c *gin.Context) {
	var req model2.ScheduleReleaseTimer
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := req.ValidateScheduleReleaseTimer(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.payops.ScheduleEscrowRelease(c.Request.Context(), req.ToReleaseTimer(), req.UserID)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetReleaseTimers(c *gin.Context) {
	var limit, offset int
	if l := c.Query("limit"); l != "" {
		limit, _ = strconv.Atoi(l)
	}
	if o := c.Query("offset"); o != "" {
		offset, _ = strconv.Atoi(o)
	}

	resp, err := a.payops.ListReleaseTimers(c.Request.Context(), model.TimerStatus(c.Query("status")), limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) CancelReleaseTimer(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	// The body is optional; without it the cancellation is attributed to the
	// system actor.
	var req model2.OperatorAction
	_ = c.ShouldBindJSON(&req)
	actor := req.OperatorID
	if actor == "" {
		actor = payops.SystemActor
	}

	resp, err := a.payops.CancelEscrowRelease(c.Request.Context(), id, actor)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
