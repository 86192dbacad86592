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

	"github.com/surelv/courier/model"
)

// SkipRecipientError marks a recipient that was deliberately not fulfilled:
// missing contact or active suppression. No transaction is opened for a
// skipped recipient, and the skip is not a job-level failure.
type SkipRecipientError struct {
	Reason string
}

func (e SkipRecipientError) Error() string {
	return e.Reason
}

// FulfillRecipient runs the outbox pipeline for one recipient of one job:
// resolve the contact, preallocate a delivery record inside a transaction,
// let the builder populate it, instrument and validate the content, persist
// it, commit, and only then publish the send notification. A rollback is
// never followed by a publish.
func (c *Courier) FulfillRecipient(ctx context.Context, job *model.Job, builder MessageBuilder, contactID string, member *model.ListMember) (string, error) {
	contact, err := c.datasource.GetContact(ctx, contactID)
	if err != nil {
		if isNotFound(err) {
			return "", SkipRecipientError{Reason: fmt.Sprintf("contact %s not found", contactID)}
		}
		return "", err
	}
	if contact.IsSuppressed(time.Now()) {
		return "", SkipRecipientError{Reason: fmt.Sprintf("contact %s suppressed until %s", contactID, contact.SuppressedUntil.Format(time.RFC3339))}
	}

	tx, err := c.datasource.BeginTx(ctx)
	if err != nil {
		return "", err
	}

	now := time.Now()
	msg := &model.EmailMessage{
		MessageID:  model.GenerateUUIDWithSuffix("msg"),
		JobID:      job.JobID,
		ContactID:  contact.ContactID,
		ToEmail:    contact.Email,
		Kind:       model.MessageKind(job.Kind),
		SendStatus: model.SendStatusQueued,
		CreatedAt:  now,
	}
	if err := c.datasource.PreallocateMessageInTx(ctx, tx, msg); err != nil {
		_ = tx.Rollback()
		return "", err
	}

	if err := builder.BuildMessage(ctx, job, contact, member, msg); err != nil {
		_ = tx.Rollback()
		return "", fmt.Errorf("content builder failed: %w", err)
	}

	if err := c.instrumentMessage(ctx, tx, msg); err != nil {
		_ = tx.Rollback()
		return "", fmt.Errorf("tracking instrumentation failed: %w", err)
	}

	if err := msg.ValidateFulfilled(); err != nil {
		_ = tx.Rollback()
		return "", fmt.Errorf("fulfillment validation failed: %w", err)
	}
	msg.ComputeRenderChecksums()

	if err := c.datasource.UpdateMessageInTx(ctx, tx, msg); err != nil {
		_ = tx.Rollback()
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}

	// The record is durable from here; the publish must never move above
	// the commit.
	if err := c.publisher.PublishSend(ctx, msg.MessageID, nil); err != nil {
		return "", fmt.Errorf("send publish failed for committed message %s: %w", msg.MessageID, err)
	}
	return msg.MessageID, nil
}
