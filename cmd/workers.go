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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	payops "github.com/Khalil2008k/guild-payops"
	"github.com/Khalil2008k/guild-payops/config"
	redis_db "github.com/Khalil2008k/guild-payops/internal/redis-db"
)

// fireReleaseTimer handles a delayed timer task from the Redis queue. The
// release itself is idempotent: if the periodic sweep already released the
// timer, the fire is a no-op rather than a retry.
func (b *payopsInstance) fireReleaseTimer(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("payops.timers.worker").Start(ctx, "Fire Release Timer From Redis Queue")
	defer span.End()

	var payload payops.TimerFirePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return err
	}

	if err := b.payops.FireTimer(ctx, payload.TimerID); err != nil {
		logrus.Infof("Timer %s pushed back for retry due to error: %v", payload.TimerID, err)
		return err
	}

	log.Println(" [*] Release Timer Fired", payload.TimerID)
	return nil
}

// startPeriodicWorkers launches the ticker-driven passes: the due-timer
// sweep, the SLA escalation pass and the scheduled reconciliation run.
func startPeriodicWorkers(ctx context.Context, b *payopsInstance) {
	sweepInterval := time.Duration(b.cnf.Queue.SweepIntervalSec) * time.Second
	reconInterval := time.Duration(b.cnf.Reconciliation.IntervalSec) * time.Second

	go func() {
		ticker := time.NewTicker(sweepInterval)
		for range ticker.C {
			if _, err := b.payops.SweepDueTimers(ctx); err != nil {
				logrus.Error("timer sweep failed: ", err)
			}
			if _, err := b.payops.EscalateOverdueItems(ctx); err != nil {
				logrus.Error("escalation pass failed: ", err)
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(reconInterval)
		for range ticker.C {
			if _, err := b.payops.RunReconciliation(ctx, b.cnf.Reconciliation.DefaultCurrency); err != nil {
				logrus.Error("scheduled reconciliation failed: ", err)
			}
		}
	}()
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.WebhookQueue] = 3
	queues[cfg.Queue.TimerQueue] = 3
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(b *payopsInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	mux.HandleFunc(cfg.Queue.TimerQueue, b.fireReleaseTimer)
	mux.HandleFunc(cfg.Queue.WebhookQueue, payops.ProcessWebhook)
}

// workerCommands defines the "workers" command to start worker processes.
// The workers fire release timers, deliver webhooks, sweep overdue timers,
// escalate stale queue items and run scheduled reconciliation.
func workerCommands(b *payopsInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start payops workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			phClient, shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			if shutdown != nil {
				defer func() {
					if err := shutdown(ctx); err != nil {
						log.Printf("Error during shutdown: %v", err)
					}
				}()
			}
			if phClient != nil {
				defer phClient.Close()
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(b, mux)

			startPeriodicWorkers(ctx, b)

			// Start asynqmon server for health checks and monitoring
			redisOption, _ := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
			h := asynqmon.New(asynqmon.Options{
				RootPath: "/monitoring",
				RedisConnOpt: asynq.RedisClientOpt{
					Addr:      redisOption.Addr,
					Password:  redisOption.Password,
					DB:        redisOption.DB,
					TLSConfig: redisOption.TLSConfig,
				},
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
