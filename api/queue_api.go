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

	model2 "github.com/Khalil2008k/guild-payops/api/model"
	"github.com/Khalil2008k/guild-payops/database"
	"github.com/Khalil2008k/guild-payops/model"
)

func (a Api) EnqueuePayment(c *gin.Context) {
	var newItem model2.EnqueuePayment
	if err := c.ShouldBindJSON(&newItem); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := newItem.ValidateEnqueuePayment(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.payops.EnqueuePayment(c.Request.Context(), newItem.ToQueueItem(), newItem.UserID)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetQueue(c *gin.Context) {
	filter := database.QueueFilter{
		Status:     model.PaymentStatus(c.Query("status")),
		Priority:   model.PaymentPriority(c.Query("priority")),
		AssignedTo: c.Query("assigned_to"),
		ItemType:   c.Query("item_type"),
	}
	if limit := c.Query("limit"); limit != "" {
		filter.Limit, _ = strconv.Atoi(limit)
	}
	if offset := c.Query("offset"); offset != "" {
		filter.Offset, _ = strconv.Atoi(offset)
	}

	resp, err := a.payops.GetQueue(c.Request.Context(), filter)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetQueueStats(c *gin.Context) {
	resp, err := a.payops.GetQueueStats(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetQueueItem(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.payops.GetQueueItem(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) AssignItem(c *gin.Context) {
	id, operator, ok := a.bindOperatorAction(c)
	if !ok {
		return
	}

	resp, err := a.payops.AssignItem(c.Request.Context(), id, operator)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) ReassignItem(c *gin.Context) {
	id, operator, ok := a.bindOperatorAction(c)
	if !ok {
		return
	}

	resp, err := a.payops.ReassignItem(c.Request.Context(), id, operator)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) StartProcessing(c *gin.Context) {
	id, operator, ok := a.bindOperatorAction(c)
	if !ok {
		return
	}

	resp, err := a.payops.StartProcessing(c.Request.Context(), id, operator)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) CompleteItem(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var req model2.CompleteItem
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := req.ValidateCompleteItem(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.payops.CompleteItem(c.Request.Context(), id, req.OperatorID, req.Notes)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) FailItem(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var req model2.FailItem
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := req.ValidateFailItem(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.payops.FailItem(c.Request.Context(), id, req.OperatorID, req.Reason, req.Notes)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) DisputeItem(c *gin.Context) {
	id, operator, ok := a.bindOperatorAction(c)
	if !ok {
		return
	}

	resp, err := a.payops.DisputeItem(c.Request.Context(), id, operator)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) ResolveItem(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var req model2.ResolveItem
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := req.ValidateResolveItem(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.payops.ResolveItem(c.Request.Context(), id, req.OperatorID, req.ToOutcome(), req.Notes)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) bindOperatorAction(c *gin.Context) (id, operator string, ok bool) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return "", "", false
	}

	var req model2.OperatorAction
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return "", "", false
	}
	if err := req.ValidateOperatorAction(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return "", "", false
	}
	return id, req.OperatorID, true
}
