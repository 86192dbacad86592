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
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ses"
	"github.com/aws/aws-sdk-go/service/ses/sesiface"
	"github.com/cenkalti/backoff/v4"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/surelv/courier/config"
	"github.com/surelv/courier/database"
	"github.com/surelv/courier/model"
)

// sendMaxRetries bounds the in-attempt backoff around throttling-class SES
// errors. Exhausting it hands the task back to the broker for a delayed
// retry.
const sendMaxRetries = 3

// SESSender consumes send notifications and moves committed delivery
// records through the SES transport.
type SESSender struct {
	client     sesiface.SESAPI
	datasource database.IDataSource
}

// NewSESSender builds a sender over an SES session from configuration. A
// custom endpoint (localstack, test doubles) overrides the regional one.
func NewSESSender(db database.IDataSource) (*SESSender, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	awsConfig := aws.NewConfig().WithRegion(cnf.SES.Region)
	if cnf.SES.Endpoint != "" {
		awsConfig = awsConfig.WithEndpoint(cnf.SES.Endpoint)
	}
	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, err
	}
	return &SESSender{client: ses.New(sess), datasource: db}, nil
}

// NewSESSenderWithClient injects a prebuilt SES client. Tests use this with
// a fake sesiface implementation.
func NewSESSenderWithClient(client sesiface.SESAPI, db database.IDataSource) *SESSender {
	return &SESSender{client: client, datasource: db}
}

// SendQueuedEmail delivers one committed record. Already-sent records are a
// no-op, so broker redeliveries cannot double-send. Permanent transport
// rejections mark the record failed and stop the task's retries; throttling
// and temporary failures are retried.
func (s *SESSender) SendQueuedEmail(ctx context.Context, messageID string) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	msg, err := s.datasource.GetMessage(ctx, messageID)
	if err != nil {
		if isNotFound(err) {
			logrus.Warnf("send task for unknown message %s, dropping", messageID)
			return nil
		}
		return err
	}
	if msg.SendStatus == model.SendStatusSent || msg.SendStatus == model.SendStatusDelivered {
		logrus.Infof("message %s already sent, dropping duplicate send task", messageID)
		return nil
	}

	contact, err := s.datasource.GetContact(ctx, msg.ContactID)
	if err == nil && contact.IsSuppressed(time.Now()) {
		reason := fmt.Sprintf("contact %s suppressed before transport", contact.ContactID)
		return s.markFailed(ctx, msg, reason)
	}

	raw := buildRawEmail(msg)
	input := &ses.SendRawEmailInput{
		Source:       aws.String(msg.FromEmail),
		Destinations: []*string{aws.String(msg.ToEmail)},
		RawMessage:   &ses.RawMessage{Data: raw},
	}
	if cnf.SES.ConfigurationSet != "" {
		input.ConfigurationSetName = aws.String(cnf.SES.ConfigurationSet)
	}

	var output *ses.SendRawEmailOutput
	operation := func() error {
		var sendErr error
		output, sendErr = s.client.SendRawEmailWithContext(ctx, input)
		if sendErr == nil {
			return nil
		}
		if isRetryableSendError(sendErr) {
			return sendErr
		}
		return backoff.Permanent(sendErr)
	}
	err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), sendMaxRetries), ctx))
	if err != nil {
		if isRetryableSendError(err) {
			logrus.Warnf("message %s throttled by transport, handing back for retry: %v", messageID, err)
			return err
		}
		if markErr := s.markFailed(ctx, msg, err.Error()); markErr != nil {
			return markErr
		}
		return fmt.Errorf("permanent transport failure for message %s: %v: %w", messageID, err, asynq.SkipRetry)
	}

	now := time.Now()
	senderMessageID := aws.StringValue(output.MessageId)
	if err := s.datasource.UpdateMessageAsSent(ctx, msg.MessageID, senderMessageID, now); err != nil {
		return err
	}
	if err := s.datasource.UpdateContactLastEmailAt(ctx, msg.ContactID, now); err != nil {
		logrus.Errorf("failed to stamp last email time for contact %s: %v", msg.ContactID, err)
	}

	event := &model.EmailEvent{
		EventID:    model.GenerateUUIDWithSuffix("evt"),
		MessageID:  msg.MessageID,
		ContactID:  msg.ContactID,
		Type:       model.EventSend,
		Payload:    map[string]interface{}{"sender_message_id": senderMessageID},
		OccurredAt: now,
		CreatedAt:  now,
	}
	if err := s.datasource.RecordEvent(ctx, event); err != nil {
		logrus.Errorf("failed to record send event for message %s: %v", msg.MessageID, err)
	}
	logrus.Infof("sent message %s (provider id %s)", msg.MessageID, senderMessageID)
	return nil
}

func (s *SESSender) markFailed(ctx context.Context, msg *model.EmailMessage, reason string) error {
	now := time.Now()
	if err := s.datasource.UpdateMessageAsFailed(ctx, msg.MessageID, reason, now); err != nil {
		return err
	}
	event := &model.EmailEvent{
		EventID:    model.GenerateUUIDWithSuffix("evt"),
		MessageID:  msg.MessageID,
		ContactID:  msg.ContactID,
		Type:       model.EventSendFail,
		Payload:    map[string]interface{}{"reason": reason},
		OccurredAt: now,
		CreatedAt:  now,
	}
	if err := s.datasource.RecordEvent(ctx, event); err != nil {
		logrus.Errorf("failed to record send failure event for message %s: %v", msg.MessageID, err)
	}
	return nil
}

// isRetryableSendError classifies transport errors: throttling and
// temporary service failures are worth retrying, everything else is
// terminal for this record.
func isRetryableSendError(err error) bool {
	awsErr, ok := err.(awserr.Error)
	if !ok {
		return false
	}
	switch awsErr.Code() {
	case "Throttling", "ThrottlingException", "ServiceUnavailable", "RequestTimeout", "InternalFailure":
		return true
	}
	return false
}

// buildRawEmail assembles the MIME document for one delivery record:
// multipart/alternative when both bodies exist, plus the record's custom
// headers.
func buildRawEmail(msg *model.EmailMessage) []byte {
	var b strings.Builder

	writeHeader := func(name, value string) {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	}

	writeHeader("From", msg.FromEmail)
	writeHeader("To", msg.ToEmail)
	if msg.ReplyTo != "" {
		writeHeader("Reply-To", msg.ReplyTo)
	}
	writeHeader("Subject", msg.Subject)
	writeHeader("MIME-Version", "1.0")

	names := make([]string, 0, len(msg.Headers))
	for name := range msg.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		writeHeader(name, msg.Headers[name])
	}

	if msg.BodyPlain != "" {
		boundary := "=_courier_" + msg.MessageID
		writeHeader("Content-Type", fmt.Sprintf(`multipart/alternative; boundary="%s"`, boundary))
		b.WriteString("\r\n")
		b.WriteString("--" + boundary + "\r\n")
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.BodyPlain)
		b.WriteString("\r\n--" + boundary + "\r\n")
		b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.BodyHTML)
		b.WriteString("\r\n--" + boundary + "--\r\n")
	} else {
		writeHeader("Content-Type", "text/html; charset=UTF-8")
		b.WriteString("\r\n")
		b.WriteString(msg.BodyHTML)
		b.WriteString("\r\n")
	}

	return []byte(b.String())
}
