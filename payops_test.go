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

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/Khalil2008k/guild-payops/config"
	"github.com/Khalil2008k/guild-payops/database/mocks"
	"github.com/Khalil2008k/guild-payops/model"
)

type mockPSPLedger struct {
	mock.Mock
}

func (m *mockPSPLedger) GetBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	args := m.Called(ctx, currency)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockPSPLedger) GetTransactions(ctx context.Context, currency string, since time.Time) ([]*model.LedgerEntry, error) {
	args := m.Called(ctx, currency, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.LedgerEntry), args.Error(1)
}

// newTestPayops wires a Payops instance against a mock datasource, a mock
// provider ledger and an in-memory Redis.
func newTestPayops(t *testing.T) (*Payops, *mocks.MockDataSource, *mockPSPLedger) {
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
	cfg, err := config.Fetch()
	if err != nil {
		t.Fatalf("fetching mock config: %v", err)
	}

	ds := new(mocks.MockDataSource)
	psp := new(mockPSPLedger)
	p := &Payops{
		queue:      NewQueue(cfg),
		redis:      redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		datasource: ds,
		psp:        psp,
	}
	return p, ds, psp
}
