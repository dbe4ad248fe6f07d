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

	"github.com/Khalil2008k/guild-payops/database"
	"github.com/Khalil2008k/guild-payops/model"
)

// GetAuditLog returns audit records, newest first, filterable by resource,
// actor and action.
func (a Api) GetAuditLog(c *gin.Context) {
	filter := database.AuditFilter{
		ResourceID: c.Query("resource_id"),
		Actor:      c.Query("actor"),
		Action:     model.AuditAction(c.Query("action")),
	}
	if limit := c.Query("limit"); limit != "" {
		filter.Limit, _ = strconv.Atoi(limit)
	}
	if offset := c.Query("offset"); offset != "" {
		filter.Offset, _ = strconv.Atoi(offset)
	}

	resp, err := a.payops.GetAuditLog(c.Request.Context(), filter)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
