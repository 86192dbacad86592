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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/surelv/courier"
	"github.com/surelv/courier/config"
	redis_db "github.com/surelv/courier/internal/redis-db"
)

// processEnqueueTransactional consumes one transactional intake trigger and
// materializes its job row. Drop-policy errors are already swallowed inside
// the engine; anything returned here pushes the task back for a retry.
func (b *courierInstance) processEnqueueTransactional(ctx context.Context, t *asynq.Task) error {
	var msg courier.EnqueueTransactionalMessage
	if err := json.Unmarshal(t.Payload(), &msg); err != nil {
		logrus.Error(err)
		return fmt.Errorf("malformed transactional trigger: %v: %w", err, asynq.SkipRetry)
	}

	if err := b.courier.EnqueueTransactionalEmail(ctx, msg); err != nil {
		logrus.Infof("Transactional trigger for recipe %s pushed back for retry: %v", msg.RecipeName, err)
		return err
	}

	log.Println(" [*] Transactional trigger processed", msg.RecipeName)
	return nil
}

// processEnqueueList consumes one list intake trigger.
func (b *courierInstance) processEnqueueList(ctx context.Context, t *asynq.Task) error {
	var msg courier.EnqueueListMessage
	if err := json.Unmarshal(t.Payload(), &msg); err != nil {
		logrus.Error(err)
		return fmt.Errorf("malformed list trigger: %v: %w", err, asynq.SkipRetry)
	}

	if err := b.courier.EnqueueListEmail(ctx, msg); err != nil {
		logrus.Infof("List trigger for recipe %s pushed back for retry: %v", msg.RecipeName, err)
		return err
	}

	log.Println(" [*] List trigger processed", msg.RecipeName)
	return nil
}

// processSend delivers one committed record through the SES transport.
func (b *courierInstance) processSend(sender *courier.SESSender) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var msg courier.SendEmailMessage
		if err := json.Unmarshal(t.Payload(), &msg); err != nil {
			logrus.Error(err)
			return fmt.Errorf("malformed send notification: %v: %w", err, asynq.SkipRetry)
		}

		if err := sender.SendQueuedEmail(ctx, msg.MessageID); err != nil {
			return err
		}

		log.Println(" [*] Message sent", msg.MessageID)
		return nil
	}
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.SendQueue] = 3
	queues[cfg.Queue.EnqueueQueue] = 1
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

func initializeTaskHandlers(b *courierInstance, sender *courier.SESSender, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	mux.HandleFunc(courier.TaskEnqueueTransactional, b.processEnqueueTransactional)
	mux.HandleFunc(courier.TaskEnqueueList, b.processEnqueueList)
	mux.Handle(cfg.Queue.SendQueue, b.processSend(sender))
}

// runClaimLoops starts the two polling claim loops alongside the asynq
// consumer. Each loop claims due jobs of its kind, executes them, and
// publishes the resulting send notifications.
func runClaimLoops(ctx context.Context, b *courierInstance) {
	go func() {
		for {
			if err := b.courier.RunTransactionalWorker(ctx); err != nil {
				logrus.Errorf("transactional worker stopped: %v", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	go func() {
		for {
			if err := b.courier.RunListWorker(ctx); err != nil {
				logrus.Errorf("list worker stopped: %v", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
}

// workerCommands defines the "workers" command: the intake/send consumers
// plus the due-job claim loops.
func workerCommands(b *courierInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start courier workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			sender, err := courier.NewSESSender(b.courier.DataSource())
			if err != nil {
				log.Fatal("Error initializing SES sender:", err)
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(b, sender, mux)

			runClaimLoops(ctx, b)

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}

// queueDraftCommands defines the "queue-draft" command: releases parked
// draft list jobs so the claim loops can pick them up.
func queueDraftCommands(b *courierInstance) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "queue-draft",
		Short: "release draft list jobs for sending",
		Run: func(cmd *cobra.Command, args []string) {
			released, err := b.courier.ReleaseDraftJobs(context.Background(), limit)
			if err != nil {
				log.Fatalf("Error releasing draft jobs: %v", err)
			}
			fmt.Printf("Released %d draft jobs\n", released)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of draft jobs to release")

	return cmd
}
