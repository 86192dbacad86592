/*
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

package courier

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/surelv/courier/config"
	redis_db "github.com/surelv/courier/internal/redis-db"
)

// Queue wraps the asynq client used for the enqueue intake and the
// post-commit send notifications.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// EnqueueTransactionalMessage triggers one transactional job for one contact.
type EnqueueTransactionalMessage struct {
	RecipeName     string                 `json:"recipe_name"`
	ContactID      string                 `json:"contact_id"`
	RunAt          *time.Time             `json:"run_at,omitempty"`
	Params         map[string]interface{} `json:"params,omitempty"`
	DedupeKey      string                 `json:"dedupe_key,omitempty"`
	FlowKey        string                 `json:"flow_key,omitempty"`
	FlowInstanceID string                 `json:"flow_instance_id,omitempty"`
	StepOrder      int                    `json:"step_order,omitempty"`
	Priority       *int                   `json:"priority,omitempty"`
	SrcID          string                 `json:"src_id,omitempty"`
}

// EnqueueListMessage triggers one list job, optionally narrowed to a list
// sub-type. IsDraft parks the job for manual release instead of queueing it.
type EnqueueListMessage struct {
	RecipeName  string                 `json:"recipe_name"`
	ListID      string                 `json:"list_id,omitempty"`
	ListSubType string                 `json:"list_sub_type,omitempty"`
	RunAt       *time.Time             `json:"run_at,omitempty"`
	Params      map[string]interface{} `json:"params,omitempty"`
	DedupeKey   string                 `json:"dedupe_key,omitempty"`
	FlowKey     string                 `json:"flow_key,omitempty"`
	StepOrder   int                    `json:"step_order,omitempty"`
	Priority    *int                   `json:"priority,omitempty"`
	SrcID       string                 `json:"src_id,omitempty"`
	IsDraft     bool                   `json:"is_draft,omitempty"`
}

// SendEmailMessage references a committed delivery record ready for
// transport.
type SendEmailMessage struct {
	MessageID string                 `json:"message_id"`
	Params    map[string]interface{} `json:"params,omitempty"`
}

// NewQueue initializes the queue from the configured Redis DSN.
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

// PublishSend enqueues a send notification for a committed delivery record.
// TaskID is the message id, so a retried caller cannot fan one record out
// into two transport attempts.
func (q *Queue) PublishSend(ctx context.Context, messageID string, params map[string]interface{}) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(SendEmailMessage{MessageID: messageID, Params: params})
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.TaskID(messageID),
		asynq.Queue(cfg.Queue.SendQueue),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
	}
	task := asynq.NewTask(cfg.Queue.SendQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			log.Printf(" [*] Send already queued for message: %s", messageID)
			return nil
		}
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued send for message: %s", messageID)
	return nil
}

// Task type names on the intake queue. Consumers key handlers on these.
const (
	TaskEnqueueTransactional = "email:enqueue_transactional"
	TaskEnqueueList          = "email:enqueue_list"
)

// PublishEnqueueTransactional puts a transactional trigger on the intake
// queue. When a dedupe key is supplied it doubles as the broker task id so
// duplicate triggers collapse before they ever reach a handler.
func (q *Queue) PublishEnqueueTransactional(ctx context.Context, msg EnqueueTransactionalMessage) error {
	return q.publishEnqueue(ctx, TaskEnqueueTransactional, msg.DedupeKey, msg)
}

// PublishEnqueueList puts a list trigger on the intake queue.
func (q *Queue) PublishEnqueueList(ctx context.Context, msg EnqueueListMessage) error {
	return q.publishEnqueue(ctx, TaskEnqueueList, msg.DedupeKey, msg)
}

func (q *Queue) publishEnqueue(ctx context.Context, taskType string, dedupeKey string, msg interface{}) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.Queue(cfg.Queue.EnqueueQueue),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
	}
	if dedupeKey != "" {
		taskOptions = append(taskOptions, asynq.TaskID(dedupeKey))
	}
	task := asynq.NewTask(taskType, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			log.Printf(" [*] Enqueue trigger already queued: %s", dedupeKey)
			return nil
		}
		log.Println(err, info)
		return err
	}
	return nil
}
