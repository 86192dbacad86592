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

package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// SendStatus tracks a delivery record from preallocation through provider
// feedback.
type SendStatus string

const (
	SendStatusQueued     SendStatus = "queued"
	SendStatusSent       SendStatus = "sent"
	SendStatusFailed     SendStatus = "failed"
	SendStatusBounced    SendStatus = "bounced"
	SendStatusComplained SendStatus = "complained"
	SendStatusDelivered  SendStatus = "delivered"
)

func ParseSendStatus(raw string) (SendStatus, error) {
	switch SendStatus(raw) {
	case SendStatusQueued, SendStatusSent, SendStatusFailed, SendStatusBounced, SendStatusComplained, SendStatusDelivered:
		return SendStatus(raw), nil
	}
	return "", fmt.Errorf("unknown send status %q", raw)
}

// MessageKind mirrors JobKind on the delivery record so ad-hoc messages
// without an owning job still carry a kind.
type MessageKind string

const (
	MessageKindTransactional MessageKind = "transactional"
	MessageKindList          MessageKind = "list"
)

// EmailMessage is one outbox row: one recipient of one job. Rows are
// preallocated empty to obtain a durable id before content exists, then
// mutated in place; they are never deleted.
type EmailMessage struct {
	MessageID          string            `json:"message_id"`
	JobID              string            `json:"job_id,omitempty"`
	ContactID          string            `json:"contact_id"`
	Subject            string            `json:"subject,omitempty"`
	FromEmail          string            `json:"from_email,omitempty"`
	ReplyTo            string            `json:"reply_to,omitempty"`
	ToEmail            string            `json:"to_email"`
	BodyHTML           string            `json:"body_html,omitempty"`
	BodyPlain          string            `json:"body_plain,omitempty"`
	Headers            map[string]string `json:"headers,omitempty"`
	SenderMessageID    string            `json:"sender_message_id,omitempty"`
	Kind               MessageKind       `json:"kind"`
	SendStatus         SendStatus        `json:"send_status"`
	SentAt             *time.Time        `json:"sent_at,omitempty"`
	FailedAt           *time.Time        `json:"failed_at,omitempty"`
	FailReason         string            `json:"fail_reason,omitempty"`
	TemplateKey        string            `json:"template_key,omitempty"`
	TemplateVersion    string            `json:"template_version,omitempty"`
	RenderChecksumHTML string            `json:"render_checksum_html,omitempty"`
	RenderChecksumText string            `json:"render_checksum_text,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

// ComputeRenderChecksums records SHA-256 digests of the rendered bodies for
// render audit. They play no part in delivery dedupe.
func (m *EmailMessage) ComputeRenderChecksums() {
	if m.BodyHTML != "" {
		sum := sha256.Sum256([]byte(m.BodyHTML))
		m.RenderChecksumHTML = hex.EncodeToString(sum[:])
	}
	if m.BodyPlain != "" {
		sum := sha256.Sum256([]byte(m.BodyPlain))
		m.RenderChecksumText = hex.EncodeToString(sum[:])
	}
}

// ValidateFulfilled checks the fields a content builder must have populated
// before the record may be persisted and dispatched.
func (m *EmailMessage) ValidateFulfilled() error {
	if m.Subject == "" {
		return errors.New("subject is required")
	}
	if m.FromEmail == "" {
		return errors.New("from email is required")
	}
	if m.ToEmail == "" {
		return errors.New("to email is required")
	}
	if m.BodyHTML == "" {
		return errors.New("html body is required")
	}
	if m.TemplateKey == "" {
		return errors.New("template key is required")
	}
	if m.TemplateVersion == "" {
		return errors.New("template version is required")
	}
	return nil
}
