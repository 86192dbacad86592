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
	"time"

	"github.com/sirupsen/logrus"

	"github.com/surelv/courier/internal/apierror"
	"github.com/surelv/courier/model"
)

// EnqueueTransactionalEmail handles one transactional trigger from the
// intake queue. Unknown recipes, unresolvable contacts and duplicate keys
// are enqueue errors: logged and dropped, never retried. Only persistence
// failures propagate so the broker can retry them.
func (c *Courier) EnqueueTransactionalEmail(ctx context.Context, msg EnqueueTransactionalMessage) error {
	recipe, _, ok := c.registry.Get(msg.RecipeName)
	if !ok {
		logrus.Warnf("dropping transactional enqueue: unknown recipe %q", msg.RecipeName)
		return nil
	}
	if recipe.Kind != model.JobKindTransactional {
		logrus.Warnf("dropping transactional enqueue: recipe %q is a %s recipe", msg.RecipeName, recipe.Kind)
		return nil
	}

	contact, err := c.datasource.GetContact(ctx, msg.ContactID)
	if err != nil {
		if isNotFound(err) {
			logrus.Warnf("dropping transactional enqueue for recipe %q: contact %q not found", msg.RecipeName, msg.ContactID)
			return nil
		}
		return err
	}

	now := time.Now()
	params, system, err := model.SplitSystemParams(msg.Params)
	if err != nil {
		logrus.Warnf("dropping transactional enqueue for recipe %q: malformed params: %v", msg.RecipeName, err)
		return nil
	}
	system.ContactID = contact.ContactID
	system.ContactEmail = contact.Email

	dedupeKey := msg.DedupeKey
	if dedupeKey == "" {
		dedupeKey = BuildDedupeKey(recipe, DedupeKeyInput{
			ContactID: contact.ContactID,
			StepOrder: msg.StepOrder,
			Params:    params,
			Now:       now,
		})
	}

	if dropped, err := c.dedupeShortCircuit(ctx, recipe.Name, dedupeKey); dropped || err != nil {
		return err
	}

	flowKey := msg.FlowKey
	if flowKey == "" {
		flowKey = recipe.FlowKey
	}
	flowInstanceID := msg.FlowInstanceID
	if flowInstanceID == "" && flowKey != "" {
		flowInstanceID = FlowInstanceID(flowKey, StableBusinessID(recipe, params))
	}

	job := &model.Job{
		JobID:          model.GenerateUUIDWithSuffix("job"),
		Name:           recipe.Name,
		Kind:           model.JobKindTransactional,
		Params:         params,
		System:         system,
		Status:         model.JobStatusQueued,
		RunAt:          resolveRunAt(msg.RunAt, recipe, now),
		Priority:       resolvePriority(msg.Priority, recipe),
		DedupeKey:      dedupeKey,
		FlowKey:        flowKey,
		FlowInstanceID: flowInstanceID,
		StepOrder:      msg.StepOrder,
		SrcID:          msg.SrcID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	inserted, err := c.datasource.EnqueueJob(ctx, job)
	if err != nil {
		return err
	}
	if !inserted {
		logrus.Infof("dropping transactional enqueue for recipe %q: dedupe key %q already taken", recipe.Name, dedupeKey)
		return nil
	}
	logrus.Infof("enqueued transactional job %s (recipe %q, contact %s)", job.JobID, recipe.Name, contact.ContactID)
	return nil
}

// EnqueueListEmail handles one list trigger from the intake queue. The
// unknown-recipe policy matches the transactional path: logged and dropped.
func (c *Courier) EnqueueListEmail(ctx context.Context, msg EnqueueListMessage) error {
	recipe, _, ok := c.registry.Get(msg.RecipeName)
	if !ok {
		logrus.Warnf("dropping list enqueue: unknown recipe %q", msg.RecipeName)
		return nil
	}
	if recipe.Kind != model.JobKindList {
		logrus.Warnf("dropping list enqueue: recipe %q is a %s recipe", msg.RecipeName, recipe.Kind)
		return nil
	}

	now := time.Now()
	params, system, err := model.SplitSystemParams(msg.Params)
	if err != nil {
		logrus.Warnf("dropping list enqueue for recipe %q: malformed params: %v", msg.RecipeName, err)
		return nil
	}
	if msg.ListID != "" {
		system.AddList(model.SystemListRef{ListID: msg.ListID, SubType: msg.ListSubType})
	}
	if len(system.Lists) == 0 {
		logrus.Warnf("dropping list enqueue for recipe %q: no target list", msg.RecipeName)
		return nil
	}

	dedupeKey := msg.DedupeKey
	if dedupeKey == "" {
		dedupeKey = BuildDedupeKey(recipe, DedupeKeyInput{
			StepOrder: msg.StepOrder,
			Params:    params,
			Now:       now,
		})
	}

	if dropped, err := c.dedupeShortCircuit(ctx, recipe.Name, dedupeKey); dropped || err != nil {
		return err
	}

	flowKey := msg.FlowKey
	if flowKey == "" {
		flowKey = recipe.FlowKey
	}
	var flowInstanceID string
	if flowKey != "" {
		flowInstanceID = FlowInstanceID(flowKey, StableBusinessID(recipe, params))
	}

	status := model.JobStatusQueued
	if msg.IsDraft {
		status = model.JobStatusDraft
	}

	job := &model.Job{
		JobID:          model.GenerateUUIDWithSuffix("job"),
		Name:           recipe.Name,
		Kind:           model.JobKindList,
		Params:         params,
		System:         system,
		Status:         status,
		RunAt:          resolveRunAt(msg.RunAt, recipe, now),
		Priority:       resolvePriority(msg.Priority, recipe),
		DedupeKey:      dedupeKey,
		FlowKey:        flowKey,
		FlowInstanceID: flowInstanceID,
		StepOrder:      msg.StepOrder,
		SrcID:          msg.SrcID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	inserted, err := c.datasource.EnqueueJob(ctx, job)
	if err != nil {
		return err
	}
	if !inserted {
		logrus.Infof("dropping list enqueue for recipe %q: dedupe key %q already taken", recipe.Name, dedupeKey)
		return nil
	}
	logrus.Infof("enqueued list job %s (recipe %q, status %s)", job.JobID, recipe.Name, status)
	return nil
}

// dedupeShortCircuit reports whether a job with the key already exists, so
// handlers can drop duplicate triggers before attempting an insert.
func (c *Courier) dedupeShortCircuit(ctx context.Context, recipeName string, dedupeKey string) (bool, error) {
	if dedupeKey == "" {
		return false, nil
	}
	existing, err := c.datasource.GetJobByDedupeKey(ctx, dedupeKey)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	logrus.Infof("dropping enqueue for recipe %q: dedupe key %q already held by job %s", recipeName, dedupeKey, existing.JobID)
	return true, nil
}

func resolveRunAt(runAt *time.Time, recipe *Recipe, now time.Time) time.Time {
	if runAt != nil {
		return *runAt
	}
	return now.Add(time.Duration(recipe.DefaultDelaySeconds) * time.Second)
}

func resolvePriority(priority *int, recipe *Recipe) int {
	if priority != nil {
		return *priority
	}
	return recipe.DefaultPriority
}

func isNotFound(err error) bool {
	apiErr, ok := err.(apierror.APIError)
	return ok && apiErr.Code == apierror.ErrNotFound
}
