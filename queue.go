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
	"encoding/json"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Khalil2008k/guild-payops/config"
	redis_db "github.com/Khalil2008k/guild-payops/internal/redis-db"
	"github.com/Khalil2008k/guild-payops/model"
)

// Queue wraps the asynq client used for delayed timer firing and webhook
// delivery.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// TimerFirePayload is the task payload for a scheduled escrow release.
type TimerFirePayload struct {
	TimerID string `json:"timer_id"`
	JobID   string `json:"job_id"`
	UserID  string `json:"user_id"`
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// queueTimerFire enqueues a task that fires when the timer's release date
// arrives. The task ID is the timer ID, so re-enqueueing the same timer is a
// no-op rather than a duplicate fire. The database status check is the real
// idempotency guard; this task is only the wake-up call.
func (q *Queue) queueTimerFire(timer *model.ReleaseTimer) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(TimerFirePayload{
		TimerID: timer.TimerID,
		JobID:   timer.JobID,
		UserID:  timer.UserID,
	})
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.TaskID(timer.TimerID),
		asynq.Queue(cfg.Queue.TimerQueue),
		asynq.ProcessAt(timer.ReleaseDate),
		asynq.MaxRetry(5),
	}
	task := asynq.NewTask(cfg.Queue.TimerQueue, payload, taskOptions...)
	info, err := q.Client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued timer fire: %+v", timer.TimerID)
	return nil
}

// cancelTimerTask removes a pending fire task for a superseded or cancelled
// timer. A missing task is not an error; the sweep and the status check cover
// any task that slips through.
func (q *Queue) cancelTimerTask(timerID string) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config: %v", err)
		return
	}
	if err := q.Inspector.DeleteTask(cfg.Queue.TimerQueue, timerID); err != nil {
		log.Printf("Could not delete timer task %s: %v", timerID, err)
	}
}

// GetTimerTaskETA reports when the fire task for a timer is scheduled to run.
// Used by the timer listing endpoint for operator visibility.
func (q *Queue) GetTimerTaskETA(timerID string) (time.Time, bool) {
	cfg, err := config.Fetch()
	if err != nil {
		return time.Time{}, false
	}
	task, err := q.Inspector.GetTaskInfo(cfg.Queue.TimerQueue, timerID)
	if err != nil || task == nil {
		return time.Time{}, false
	}
	return task.NextProcessAt, true
}
