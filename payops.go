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
	"embed"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Khalil2008k/guild-payops/config"
	"github.com/Khalil2008k/guild-payops/database"
	redis_db "github.com/Khalil2008k/guild-payops/internal/redis-db"
)

// Payops is the main struct for the payment operations service. It owns the
// manual payment queue, the escrow release scheduler and the reconciliation
// engine, all backed by the same datasource.
type Payops struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
	psp        PSPLedger
}

// SystemActor is the audit actor recorded for transitions no operator
// triggered, such as scheduler sweeps and reconciliation runs.
const SystemActor = "system"

//go:embed sql/*.sql
var SQLFiles embed.FS

// NewPayops initializes the service with the provided datasource. The Redis
// connection backs the task queues, distributed locks and the read cache.
func NewPayops(db database.IDataSource) (*Payops, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)
	psp := NewPSPClient(configuration.Reconciliation.PSPBaseURL, configuration.Reconciliation.PSPAPIKey)

	newPayops := &Payops{
		datasource: db,
		queue:      newQueue,
		redis:      redisClient.Client(),
		psp:        psp,
	}
	return newPayops, nil
}
