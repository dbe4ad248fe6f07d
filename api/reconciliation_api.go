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
)

// GetBalanceSnapshot reads both ledgers and reports the current discrepancy.
func (a Api) GetBalanceSnapshot(c *gin.Context) {
	resp, err := a.payops.GetBalanceSnapshot(c.Request.Context(), c.Query("currency"))
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// RunReconciliation triggers a reconciliation pass on demand. The same engine
// also runs on a timer in the worker process.
func (a Api) RunReconciliation(c *gin.Context) {
	var req struct {
		Currency string `json:"currency"`
	}
	_ = c.ShouldBindJSON(&req)

	run, err := a.payops.RunReconciliation(c.Request.Context(), req.Currency)
	if err != nil {
		handleError(c, err)
		return
	}
	if run == nil {
		c.JSON(http.StatusAccepted, gin.H{"message": "reconciliation already in progress"})
		return
	}

	c.JSON(http.StatusOK, run)
}

func (a Api) GetReconciliationRuns(c *gin.Context) {
	var limit, offset int
	if l := c.Query("limit"); l != "" {
		limit, _ = strconv.Atoi(l)
	}
	if o := c.Query("offset"); o != "" {
		offset, _ = strconv.Atoi(o)
	}

	resp, err := a.payops.GetReconciliationRuns(c.Request.Context(), limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
