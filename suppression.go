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
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/surelv/courier/model"
)

// Transient bounce escalation thresholds. The window only ever lengthens:
// none → +30 days → +90 days → forever.
const (
	transientBounceShortThreshold = 2
	transientBounceLongThreshold  = 3
	transientBounceHardThreshold  = 4

	transientBounceShortWindow = 30 * 24 * time.Hour
	transientBounceLongWindow  = 90 * 24 * time.Hour
)

// FeedbackNotification is the provider feedback payload: a bounce,
// complaint or delivery notification correlated to a sent message by the
// provider-assigned message id.
type FeedbackNotification struct {
	EventType string             `json:"eventType"`
	Bounce    *BounceFeedback    `json:"bounce,omitempty"`
	Complaint *ComplaintFeedback `json:"complaint,omitempty"`
	Mail      MailFeedback       `json:"mail"`
}

type BounceFeedback struct {
	BounceType        string              `json:"bounceType"`
	BounceSubType     string              `json:"bounceSubType"`
	BouncedRecipients []FeedbackRecipient `json:"bouncedRecipients"`
	FeedbackID        string              `json:"feedbackId"`
	Timestamp         time.Time           `json:"timestamp"`
}

type ComplaintFeedback struct {
	ComplaintFeedbackID   string              `json:"feedbackId"`
	ComplaintFeedbackType string              `json:"complaintFeedbackType"`
	ComplaintSubType      string              `json:"complaintSubType"`
	ComplainedRecipients  []FeedbackRecipient `json:"complainedRecipients"`
	Timestamp             time.Time           `json:"timestamp"`
}

type FeedbackRecipient struct {
	EmailAddress   string `json:"emailAddress"`
	DiagnosticCode string `json:"diagnosticCode,omitempty"`
}

type MailFeedback struct {
	MessageID   string   `json:"messageId"`
	Destination []string `json:"destination,omitempty"`
}

// ProcessFeedback applies one feedback notification: updates the delivery
// record matched by provider message id, records a domain event, and runs
// the suppression state machine for every affected contact.
func (c *Courier) ProcessFeedback(ctx context.Context, notification FeedbackNotification) error {
	switch notification.EventType {
	case "Bounce":
		return c.processBounce(ctx, notification)
	case "Complaint":
		return c.processComplaint(ctx, notification)
	case "Delivery":
		return c.processDelivery(ctx, notification)
	}
	return fmt.Errorf("unknown feedback event type %q", notification.EventType)
}

func (c *Courier) processBounce(ctx context.Context, notification FeedbackNotification) error {
	bounce := notification.Bounce
	if bounce == nil {
		return fmt.Errorf("bounce notification without bounce payload")
	}
	now := time.Now()

	msg := c.resolveFeedbackMessage(ctx, notification.Mail.MessageID)
	if msg != nil {
		if err := c.datasource.UpdateMessageSendStatus(ctx, msg.MessageID, model.SendStatusBounced); err != nil {
			logrus.Errorf("failed to mark message %s bounced: %v", msg.MessageID, err)
		}
	}
	c.recordFeedbackEvent(ctx, msg, model.EventBounce, map[string]interface{}{
		"bounce_type":     bounce.BounceType,
		"bounce_sub_type": bounce.BounceSubType,
		"feedback_id":     bounce.FeedbackID,
	}, now)

	for _, recipient := range bounce.BouncedRecipients {
		contact, err := c.datasource.GetContactByEmail(ctx, recipient.EmailAddress)
		if err != nil {
			if isNotFound(err) {
				logrus.Warnf("bounce feedback for unknown contact %s", recipient.EmailAddress)
				continue
			}
			return err
		}

		contact.BounceType = bounce.BounceType
		contact.BounceSubtype = bounce.BounceSubType
		contact.BounceDiagnosticCode = recipient.DiagnosticCode
		contact.FeedbackID = bounce.FeedbackID
		contact.LastBounceAt = &now

		if strings.EqualFold(bounce.BounceType, "Permanent") {
			contact.Suppress(model.SuppressionHardBounce, model.MaxSuppressionTime())
		} else {
			contact.BounceCount++
			switch {
			case contact.BounceCount >= transientBounceHardThreshold:
				contact.Suppress(model.SuppressionHardBounce, model.MaxSuppressionTime())
			case contact.BounceCount >= transientBounceLongThreshold:
				contact.Suppress(model.SuppressionTransientBounce, now.Add(transientBounceLongWindow))
			case contact.BounceCount >= transientBounceShortThreshold:
				contact.Suppress(model.SuppressionTransientBounce, now.Add(transientBounceShortWindow))
			}
		}

		if err := c.datasource.UpdateContactSuppression(ctx, contact); err != nil {
			return err
		}
	}
	return nil
}

func (c *Courier) processComplaint(ctx context.Context, notification FeedbackNotification) error {
	complaint := notification.Complaint
	if complaint == nil {
		return fmt.Errorf("complaint notification without complaint payload")
	}
	now := time.Now()

	msg := c.resolveFeedbackMessage(ctx, notification.Mail.MessageID)
	if msg != nil {
		if err := c.datasource.UpdateMessageSendStatus(ctx, msg.MessageID, model.SendStatusComplained); err != nil {
			logrus.Errorf("failed to mark message %s complained: %v", msg.MessageID, err)
		}
	}
	c.recordFeedbackEvent(ctx, msg, model.EventComplaint, map[string]interface{}{
		"complaint_type": complaint.ComplaintFeedbackType,
		"feedback_id":    complaint.ComplaintFeedbackID,
	}, now)

	for _, recipient := range complaint.ComplainedRecipients {
		contact, err := c.datasource.GetContactByEmail(ctx, recipient.EmailAddress)
		if err != nil {
			if isNotFound(err) {
				logrus.Warnf("complaint feedback for unknown contact %s", recipient.EmailAddress)
				continue
			}
			return err
		}

		contact.ComplaintCount++
		contact.ComplaintType = complaint.ComplaintFeedbackType
		contact.ComplaintSubtype = complaint.ComplaintSubType
		contact.FeedbackID = complaint.ComplaintFeedbackID
		contact.LastComplaintAt = &now
		// A complaint is always a permanent stop; it never de-escalates.
		contact.Suppress(model.SuppressionComplaint, model.MaxSuppressionTime())

		if err := c.datasource.UpdateContactSuppression(ctx, contact); err != nil {
			return err
		}
	}
	return nil
}

func (c *Courier) processDelivery(ctx context.Context, notification FeedbackNotification) error {
	now := time.Now()

	msg := c.resolveFeedbackMessage(ctx, notification.Mail.MessageID)
	if msg != nil {
		if err := c.datasource.UpdateMessageSendStatus(ctx, msg.MessageID, model.SendStatusDelivered); err != nil {
			logrus.Errorf("failed to mark message %s delivered: %v", msg.MessageID, err)
		}
	}
	c.recordFeedbackEvent(ctx, msg, model.EventDelivered, map[string]interface{}{
		"destination": notification.Mail.Destination,
	}, now)
	return nil
}

// resolveFeedbackMessage looks up the delivery record behind a provider
// message id. Unresolvable ids are a no-op, not an error: feedback can
// arrive for mail sent outside this system.
func (c *Courier) resolveFeedbackMessage(ctx context.Context, senderMessageID string) *model.EmailMessage {
	if senderMessageID == "" {
		return nil
	}
	msg, err := c.datasource.GetMessageBySenderMessageID(ctx, senderMessageID)
	if err != nil {
		if !isNotFound(err) {
			logrus.Errorf("failed to resolve message for provider id %s: %v", senderMessageID, err)
		}
		return nil
	}
	return msg
}

func (c *Courier) recordFeedbackEvent(ctx context.Context, msg *model.EmailMessage, eventType model.EventType, payload map[string]interface{}, now time.Time) {
	event := &model.EmailEvent{
		EventID:    model.GenerateUUIDWithSuffix("evt"),
		Type:       eventType,
		Payload:    payload,
		OccurredAt: now,
		CreatedAt:  now,
	}
	if msg != nil {
		event.MessageID = msg.MessageID
		event.ContactID = msg.ContactID
	}
	if err := c.datasource.RecordEvent(ctx, event); err != nil {
		logrus.Errorf("failed to record %s event: %v", eventType, err)
	}
}
