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

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Khalil2008k/guild-payops/internal/apierror"
	"github.com/Khalil2008k/guild-payops/model"
)

const auditColumns = `audit_id, actor, action, resource_type, resource_id, status_before, status_after, success, created_at, payload`

// insertAuditRecordTx writes an audit record inside an open transaction.
// Queue and timer transitions go through here so the trail commits or rolls
// back with the state change it describes.
func (d Datasource) insertAuditRecordTx(ctx context.Context, tx *sql.Tx, record *model.AuditRecord) error {
	if record == nil {
		return nil
	}
	if record.AuditID == "" {
		record.AuditID = model.GenerateUUIDWithSuffix("aud")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	payloadJSON, err := json.Marshal(record.Payload)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal audit payload", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payops.audit_log
			(audit_id, actor, action, resource_type, resource_id, status_before, status_after, success, created_at, payload)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10)
	`, record.AuditID, record.Actor, record.Action, record.ResourceType, record.ResourceID,
		record.StatusBefore, record.StatusAfter, record.Success, record.CreatedAt, payloadJSON)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record audit entry", err)
	}
	return nil
}

// RecordAudit writes a standalone audit record for events that do not ride on
// another transaction, such as reconciliation runs.
func (d Datasource) RecordAudit(ctx context.Context, record *model.AuditRecord) error {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := d.insertAuditRecordTx(ctx, tx, record); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit audit entry", err)
	}
	return nil
}

func scanAuditRecord(row rowScanner) (*model.AuditRecord, error) {
	record := model.AuditRecord{}
	var statusBefore, statusAfter sql.NullString
	var payloadJSON []byte

	err := row.Scan(&record.AuditID, &record.Actor, &record.Action, &record.ResourceType,
		&record.ResourceID, &statusBefore, &statusAfter, &record.Success, &record.CreatedAt, &payloadJSON)
	if err != nil {
		return nil, err
	}
	record.StatusBefore = statusBefore.String
	record.StatusAfter = statusAfter.String
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &record.Payload); err != nil {
			return nil, err
		}
	}
	return &record, nil
}

// GetAuditLog retrieves audit records matching the filter, newest first.
func (d Datasource) GetAuditLog(ctx context.Context, filter AuditFilter) ([]*model.AuditRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM payops.audit_log WHERE 1=1`, auditColumns)
	args := []interface{}{}

	if filter.ResourceID != "" {
		args = append(args, filter.ResourceID)
		query += fmt.Sprintf(" AND resource_id = $%d", len(args))
	}
	if filter.Actor != "" {
		args = append(args, filter.Actor)
		query += fmt.Sprintf(" AND actor = $%d", len(args))
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		query += fmt.Sprintf(" AND action = $%d", len(args))
	}

	query += " ORDER BY created_at DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve audit log", err)
	}
	defer rows.Close()

	records := []*model.AuditRecord{}
	for rows.Next() {
		record, err := scanAuditRecord(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan audit record", err)
		}
		records = append(records, record)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over audit records", err)
	}
	return records, nil
}
