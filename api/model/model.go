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
package model

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"github.com/Khalil2008k/guild-payops/model"
)

type EnqueuePayment struct {
	JobID            string  `json:"job_id"`
	UserID           string  `json:"user_id"`
	ClientID         string  `json:"client_id"`
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency"`
	Priority         string  `json:"priority"`
	PSPTransactionID string  `json:"psp_transaction_id"`
}

type OperatorAction struct {
	OperatorID string `json:"operator_id"`
}

type CompleteItem struct {
	OperatorID string `json:"operator_id"`
	Notes      string `json:"notes"`
}

type FailItem struct {
	OperatorID string `json:"operator_id"`
	Reason     string `json:"reason"`
	Notes      string `json:"notes"`
}

type ResolveItem struct {
	OperatorID string `json:"operator_id"`
	Outcome    string `json:"outcome"`
	Notes      string `json:"notes"`
}

type ScheduleReleaseTimer struct {
	JobID       string  `json:"job_id"`
	UserID      string  `json:"user_id"`
	Amount      float64 `json:"amount"`
	ReleaseDate string  `json:"release_date"`
	Reason      string  `json:"reason"`
}

func validateDateFormat(value string) error {
	_, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return errors.New("please format the release date as 'YYYY-MM-DDTHH:MM:SS+00:00' (e.g., 2026-09-01T15:28:03+00:00)")
	}
	return nil
}

func (e *EnqueuePayment) ValidateEnqueuePayment() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.JobID, validation.Required),
		validation.Field(&e.UserID, validation.Required),
		validation.Field(&e.ClientID, validation.Required),
		validation.Field(&e.Amount, validation.Required, validation.Min(0.0).Exclusive()),
		validation.Field(&e.Currency, validation.Required, validation.Length(3, 3)),
		validation.Field(&e.Priority, validation.In("LOW", "NORMAL", "HIGH", "URGENT")),
	)
}

func (o *OperatorAction) ValidateOperatorAction() error {
	return validation.ValidateStruct(o,
		validation.Field(&o.OperatorID, validation.Required),
	)
}

func (r *CompleteItem) ValidateCompleteItem() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.OperatorID, validation.Required),
	)
}

func (f *FailItem) ValidateFailItem() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.OperatorID, validation.Required),
		validation.Field(&f.Reason, validation.Required),
	)
}

func (r *ResolveItem) ValidateResolveItem() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.OperatorID, validation.Required),
		validation.Field(&r.Outcome, validation.Required, validation.In("completed", "failed")),
	)
}

func (s *ScheduleReleaseTimer) ValidateScheduleReleaseTimer() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.JobID, validation.Required),
		validation.Field(&s.UserID, validation.Required),
		validation.Field(&s.Amount, validation.Required, validation.Min(0.0).Exclusive()),
		validation.Field(&s.ReleaseDate, validation.Required, validation.By(func(value interface{}) error {
			dateStr, ok := value.(string)
			if !ok {
				return errors.New("invalid type for release date")
			}
			return validateDateFormat(dateStr)
		})),
		validation.Field(&s.Reason, validation.Required, validation.In("JOB_COMPLETION", "DISPUTE_RESOLUTION", "JOB_CANCELLATION")),
	)
}

func (e *EnqueuePayment) ToQueueItem() *model.ManualPaymentItem {
	return &model.ManualPaymentItem{
		JobID:            e.JobID,
		UserID:           e.UserID,
		ClientID:         e.ClientID,
		Amount:           decimal.NewFromFloat(e.Amount),
		Currency:         e.Currency,
		Priority:         model.PaymentPriority(e.Priority),
		ItemType:         model.ItemTypePayment,
		PSPTransactionID: e.PSPTransactionID,
	}
}

// ToOutcome maps the lowercase wire outcome onto a terminal payment status.
func (r *ResolveItem) ToOutcome() model.PaymentStatus {
	if r.Outcome == "failed" {
		return model.StatusFailed
	}
	return model.StatusCompleted
}

func (s *ScheduleReleaseTimer) ToReleaseTimer() *model.ReleaseTimer {
	releaseDate, _ := time.Parse(time.RFC3339, s.ReleaseDate)
	return &model.ReleaseTimer{
		JobID:       s.JobID,
		UserID:      s.UserID,
		Amount:      decimal.NewFromFloat(s.Amount),
		ReleaseDate: releaseDate,
		Reason:      model.ReleaseReason(s.Reason),
	}
}
