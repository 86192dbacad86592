package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/surelv/courier/internal/apierror"
	"github.com/surelv/courier/model"
)

// BeginTx opens the per-recipient transaction the outbox pipeline runs in.
func (d Datasource) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	return tx, nil
}

// PreallocateMessageInTx inserts a skeleton delivery record inside the given
// transaction. Only identity fields are known at this point; content is
// filled in by a later update once the builder has run.
func (d Datasource) PreallocateMessageInTx(ctx context.Context, tx *sql.Tx, msg *model.EmailMessage) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO messages(message_id,job_id,contact_id,to_email,kind,send_status,created_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		msg.MessageID, nullString(msg.JobID), msg.ContactID, msg.ToEmail, msg.Kind, msg.SendStatus, msg.CreatedAt,
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to preallocate message", err)
	}
	return nil
}

// UpdateMessageInTx persists the fully populated delivery record inside the
// given transaction.
func (d Datasource) UpdateMessageInTx(ctx context.Context, tx *sql.Tx, msg *model.EmailMessage) error {
	headersJSON, err := json.Marshal(msg.Headers)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal message headers", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE messages
		SET subject = $1, from_email = $2, reply_to = $3, to_email = $4, body_html = $5, body_plain = $6, headers = $7, template_key = $8, template_version = $9, render_checksum_html = $10, render_checksum_text = $11, send_status = $12
		WHERE message_id = $13
	`, msg.Subject, msg.FromEmail, msg.ReplyTo, msg.ToEmail, msg.BodyHTML, msg.BodyPlain, headersJSON, msg.TemplateKey, msg.TemplateVersion, msg.RenderChecksumHTML, msg.RenderChecksumText, msg.SendStatus, msg.MessageID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update message", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read update result", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Message with ID '%s' not found", msg.MessageID), nil)
	}
	return nil
}

func (d Datasource) GetMessage(ctx context.Context, id string) (*model.EmailMessage, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT message_id, job_id, contact_id, subject, from_email, reply_to, to_email, body_html, body_plain, headers, sender_message_id, kind, send_status, sent_at, failed_at, fail_reason, template_key, template_version, render_checksum_html, render_checksum_text, created_at
		FROM messages
		WHERE message_id = $1
	`, id)

	msg, err := scanMessage(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Message with ID '%s' not found", id), err)
		}
		return nil, err
	}
	return msg, nil
}

// GetMessageBySenderMessageID resolves a delivery record by the provider's
// message id, used when applying delivery feedback.
func (d Datasource) GetMessageBySenderMessageID(ctx context.Context, senderMessageID string) (*model.EmailMessage, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT message_id, job_id, contact_id, subject, from_email, reply_to, to_email, body_html, body_plain, headers, sender_message_id, kind, send_status, sent_at, failed_at, fail_reason, template_key, template_version, render_checksum_html, render_checksum_text, created_at
		FROM messages
		WHERE sender_message_id = $1
	`, senderMessageID)

	msg, err := scanMessage(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Message with sender message ID '%s' not found", senderMessageID), err)
		}
		return nil, err
	}
	return msg, nil
}

func (d Datasource) UpdateMessageAsSent(ctx context.Context, messageID string, senderMessageID string, sentAt time.Time) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE messages
		SET send_status = 'sent', sender_message_id = $1, sent_at = $2
		WHERE message_id = $3
	`, senderMessageID, sentAt, messageID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark message as sent", err)
	}
	return nil
}

func (d Datasource) UpdateMessageAsFailed(ctx context.Context, messageID string, reason string, failedAt time.Time) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE messages
		SET send_status = 'failed', fail_reason = $1, failed_at = $2
		WHERE message_id = $3
	`, reason, failedAt, messageID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark message as failed", err)
	}
	return nil
}

func (d Datasource) UpdateMessageSendStatus(ctx context.Context, messageID string, status model.SendStatus) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE messages
		SET send_status = $1
		WHERE message_id = $2
	`, status, messageID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update message send status", err)
	}
	return nil
}

func scanMessage(row rowScanner) (*model.EmailMessage, error) {
	msg := &model.EmailMessage{}
	var jobID, subject, fromEmail, replyTo, bodyHTML, bodyPlain, senderMessageID, failReason, templateKey, templateVersion, checksumHTML, checksumText sql.NullString
	var headersJSON []byte
	var sentAt, failedAt sql.NullTime

	err := row.Scan(&msg.MessageID, &jobID, &msg.ContactID, &subject, &fromEmail, &replyTo, &msg.ToEmail, &bodyHTML, &bodyPlain, &headersJSON, &senderMessageID, &msg.Kind, &msg.SendStatus, &sentAt, &failedAt, &failReason, &templateKey, &templateVersion, &checksumHTML, &checksumText, &msg.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan message row", err)
	}

	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &msg.Headers); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal message headers", err)
		}
	}

	msg.JobID = jobID.String
	msg.Subject = subject.String
	msg.FromEmail = fromEmail.String
	msg.ReplyTo = replyTo.String
	msg.BodyHTML = bodyHTML.String
	msg.BodyPlain = bodyPlain.String
	msg.SenderMessageID = senderMessageID.String
	msg.FailReason = failReason.String
	msg.TemplateKey = templateKey.String
	msg.TemplateVersion = templateVersion.String
	msg.RenderChecksumHTML = checksumHTML.String
	msg.RenderChecksumText = checksumText.String
	if sentAt.Valid {
		t := sentAt.Time
		msg.SentAt = &t
	}
	if failedAt.Valid {
		t := failedAt.Time
		msg.FailedAt = &t
	}
	return msg, nil
}
