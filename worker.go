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
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/surelv/courier/config"
	"github.com/surelv/courier/database"
	"github.com/surelv/courier/internal/notification"
	"github.com/surelv/courier/model"
)

// idleSleep is the fixed back-off between empty claim cycles.
const idleSleep = time.Second

// RunTransactionalWorker polls, claims and executes due transactional jobs
// until the configured max-time budget elapses (forever when the budget is
// zero or negative) or the context is cancelled.
func (c *Courier) RunTransactionalWorker(ctx context.Context) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}
	return c.runWorker(ctx, model.JobKindTransactional, cnf.Worker.TransactionalBatchSize, cnf.Worker.MaxTimeSeconds)
}

// RunListWorker polls, claims and executes due list jobs.
func (c *Courier) RunListWorker(ctx context.Context) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}
	return c.runWorker(ctx, model.JobKindList, cnf.Worker.ListBatchSize, cnf.Worker.MaxTimeSeconds)
}

func (c *Courier) runWorker(ctx context.Context, kind model.JobKind, batchSize int, maxTimeSeconds int) error {
	workerToken := model.GenerateUUIDWithSuffix("wrk")
	started := time.Now()
	logrus.Infof("%s worker %s starting (batch %d, budget %ds)", kind, workerToken, batchSize, maxTimeSeconds)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		// The budget is checked only between iterations; a long batch can
		// overrun it.
		if maxTimeSeconds > 0 && time.Since(started) >= time.Duration(maxTimeSeconds)*time.Second {
			logrus.Infof("%s worker %s done: time budget spent", kind, workerToken)
			return nil
		}

		jobs, err := c.datasource.ClaimDueJobs(ctx, kind, batchSize, workerToken)
		if err != nil {
			logrus.Errorf("%s worker %s claim failed: %v", kind, workerToken, err)
			notification.NotifyError(err)
			time.Sleep(idleSleep)
			continue
		}
		if len(jobs) == 0 {
			time.Sleep(idleSleep)
			continue
		}

		for _, job := range jobs {
			c.ExecuteJob(ctx, job)
		}
	}
}

// jobRecipient is one unit of fulfillment work inside a claimed job.
type jobRecipient struct {
	contactID string
	member    *model.ListMember
}

// ExecuteJob runs a claimed job to a terminal state: fulfills every
// recipient, aggregates execution metadata, and transitions the job to
// completed (at least one success), skipped (zero successes) or failed
// (an uncaught error before any recipient could be attempted).
func (c *Courier) ExecuteJob(ctx context.Context, job *model.Job) {
	started := time.Now()

	recipe, builder, ok := c.registry.Get(job.Name)
	if !ok {
		c.failJob(ctx, job, fmt.Sprintf("no recipe registered for %q", job.Name), executionMeta(started, 0, nil, 0, 0, nil))
		return
	}
	if recipe.Kind != job.Kind {
		c.failJob(ctx, job, fmt.Sprintf("recipe %q is a %s recipe but job is %s", recipe.Name, recipe.Kind, job.Kind), executionMeta(started, 0, nil, 0, 0, nil))
		return
	}

	recipients, err := c.resolveRecipients(ctx, job)
	if err != nil {
		c.failJob(ctx, job, fmt.Sprintf("recipient resolution failed: %v", err), executionMeta(started, 0, nil, 0, 0, nil))
		return
	}

	var (
		processedIDs   []string
		skippedCount   int
		failedCount    int
		failureReasons = map[string]string{}
	)
	for _, r := range recipients {
		_, err := c.FulfillRecipient(ctx, job, builder, r.contactID, r.member)
		switch e := err.(type) {
		case nil:
			processedIDs = append(processedIDs, r.contactID)
		case SkipRecipientError:
			skippedCount++
			logrus.Infof("job %s: skipping recipient %s: %s", job.JobID, r.contactID, e.Reason)
		default:
			failedCount++
			failureReasons[r.contactID] = err.Error()
			logrus.Errorf("job %s: recipient %s failed: %v", job.JobID, r.contactID, err)
		}
	}

	meta := executionMeta(started, len(recipients), processedIDs, skippedCount, failedCount, failureReasons)

	if len(processedIDs) == 0 {
		statusMsg := fmt.Sprintf("no recipients fulfilled (%d skipped, %d failed of %d)", skippedCount, failedCount, len(recipients))
		if err := c.datasource.UpdateJobStatus(ctx, job.JobID, model.JobStatusSkipped, statusMsg, meta); err != nil {
			logrus.Errorf("job %s: failed to mark skipped: %v", job.JobID, err)
		}
		return
	}

	statusMsg := fmt.Sprintf("fulfilled %d of %d recipients", len(processedIDs), len(recipients))
	if err := c.datasource.UpdateJobStatus(ctx, job.JobID, model.JobStatusCompleted, statusMsg, meta); err != nil {
		logrus.Errorf("job %s: failed to mark completed: %v", job.JobID, err)
		return
	}

	c.enqueueNextStep(ctx, job, recipe)
}

func (c *Courier) failJob(ctx context.Context, job *model.Job, reason string, meta map[string]interface{}) {
	logrus.Errorf("job %s failed: %s", job.JobID, reason)
	if err := c.datasource.FailJob(ctx, job.JobID, reason, meta); err != nil {
		logrus.Errorf("job %s: failed to record failure: %v", job.JobID, err)
		notification.NotifyError(err)
	}
}

// resolveRecipients expands a job into its fulfillment targets: the single
// contact for transactional jobs, the filtered subscriber set for list jobs.
func (c *Courier) resolveRecipients(ctx context.Context, job *model.Job) ([]jobRecipient, error) {
	if job.Kind == model.JobKindTransactional {
		contactID := job.System.ContactID
		if contactID == "" && job.System.ContactEmail != "" {
			contact, err := c.datasource.GetContactByEmail(ctx, job.System.ContactEmail)
			if err != nil {
				if isNotFound(err) {
					return nil, nil
				}
				return nil, err
			}
			contactID = contact.ContactID
		}
		if contactID == "" {
			return nil, nil
		}
		return []jobRecipient{{contactID: contactID}}, nil
	}

	var recipients []jobRecipient
	seen := map[string]struct{}{}
	for _, ref := range job.System.Lists {
		members, err := c.datasource.GetSubscribedMembers(ctx, database.MemberQuery{
			ListID:    ref.ListID,
			SubType:   ref.SubType,
			ContactID: job.System.ContactID,
			ScopeType: job.System.ScopeType,
			ScopeID:   job.System.ScopeID,
		})
		if err != nil {
			return nil, err
		}
		for _, member := range members {
			if _, dup := seen[member.ContactID]; dup {
				continue
			}
			seen[member.ContactID] = struct{}{}
			recipients = append(recipients, jobRecipient{contactID: member.ContactID, member: member})
		}
	}
	return recipients, nil
}

// enqueueNextStep publishes the next step of a multi-step flow after a
// completed job, unless the job's params suppress the continuation. The
// next step is the recipe named "<flowKey>_step_<n+1>"; absence of that
// recipe simply ends the flow.
func (c *Courier) enqueueNextStep(ctx context.Context, job *model.Job, recipe *Recipe) {
	if job.System.SkipNextMessage || job.FlowKey == "" {
		return
	}
	if testMode, _ := job.Params["test_mode"].(bool); testMode {
		return
	}

	nextName := fmt.Sprintf("%s_step_%d", job.FlowKey, job.StepOrder+1)
	nextRecipe, _, ok := c.registry.Get(nextName)
	if !ok {
		return
	}

	params := make(map[string]interface{}, len(job.Params))
	for k, v := range job.Params {
		params[k] = v
	}

	var err error
	if nextRecipe.Kind == model.JobKindTransactional {
		err = c.queue.PublishEnqueueTransactional(ctx, EnqueueTransactionalMessage{
			RecipeName:     nextName,
			ContactID:      job.System.ContactID,
			Params:         params,
			FlowKey:        job.FlowKey,
			FlowInstanceID: job.FlowInstanceID,
			StepOrder:      job.StepOrder + 1,
			SrcID:          job.JobID,
		})
	} else {
		msg := EnqueueListMessage{
			RecipeName: nextName,
			Params:     params,
			FlowKey:    job.FlowKey,
			StepOrder:  job.StepOrder + 1,
			SrcID:      job.JobID,
		}
		if len(job.System.Lists) > 0 {
			msg.ListID = job.System.Lists[0].ListID
			msg.ListSubType = job.System.Lists[0].SubType
		}
		err = c.queue.PublishEnqueueList(ctx, msg)
	}
	if err != nil {
		logrus.Errorf("job %s: failed to enqueue flow step %s: %v", job.JobID, nextName, err)
	} else {
		logrus.Infof("job %s: enqueued flow step %s", job.JobID, nextName)
	}
}

func executionMeta(started time.Time, total int, processedIDs []string, skipped int, failed int, failureReasons map[string]string) map[string]interface{} {
	completed := time.Now()
	meta := map[string]interface{}{
		"members_total": total,
		"processed":     len(processedIDs),
		"skipped":       skipped,
		"failed":        failed,
		"started_at":    started.UTC().Format(time.RFC3339),
		"completed_at":  completed.UTC().Format(time.RFC3339),
		"duration_seconds": completed.Sub(started).Seconds(),
	}
	if len(processedIDs) > 0 {
		meta["processed_ids"] = processedIDs
	}
	if len(failureReasons) > 0 {
		meta["failure_reasons"] = failureReasons
	}
	return meta
}
