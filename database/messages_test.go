package database

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surelv/courier/internal/apierror"
	"github.com/surelv/courier/model"
)

func messageColumns() []string {
	return []string{"message_id", "job_id", "contact_id", "subject", "from_email", "reply_to", "to_email", "body_html", "body_plain", "headers", "sender_message_id", "kind", "send_status", "sent_at", "failed_at", "fail_reason", "template_key", "template_version", "render_checksum_html", "render_checksum_text", "created_at"}
}

func TestPreallocateAndUpdateMessageInTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	now := time.Now()
	msg := &model.EmailMessage{
		MessageID:  "msg_1",
		JobID:      "job_1",
		ContactID:  "cnt_1",
		ToEmail:    "user@example.com",
		Kind:       model.MessageKindTransactional,
		SendStatus: model.SendStatusQueued,
		CreatedAt:  now,
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO messages`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE messages`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := ds.BeginTx(ctx)
	require.NoError(t, err)

	require.NoError(t, ds.PreallocateMessageInTx(ctx, tx, msg))

	msg.Subject = "Welcome"
	msg.FromEmail = "noreply@example.com"
	msg.BodyHTML = "<p>hi</p>"
	msg.TemplateKey = "welcome"
	msg.TemplateVersion = "1"
	msg.ComputeRenderChecksums()
	require.NoError(t, ds.UpdateMessageInTx(ctx, tx, msg))

	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMessageInTx_RollbackOnMissingRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE messages`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := ds.BeginTx(ctx)
	require.NoError(t, err)

	err = ds.UpdateMessageInTx(ctx, tx, &model.EmailMessage{MessageID: "missing"})
	require.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	require.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)

	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMessageBySenderMessageID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	now := time.Now()

	rows := sqlmock.NewRows(messageColumns()).
		AddRow("msg_1", "job_1", "cnt_1", "Welcome", "noreply@example.com", nil, "user@example.com", "<p>hi</p>", "hi", []byte(`{"X-Campaign":"welcome"}`), "ses-abc-123", "transactional", "sent", now, nil, nil, "welcome", "1", nil, nil, now)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE sender_message_id = $1`)).
		WithArgs("ses-abc-123").
		WillReturnRows(rows)

	msg, err := ds.GetMessageBySenderMessageID(context.Background(), "ses-abc-123")
	require.NoError(t, err)
	assert.Equal(t, "msg_1", msg.MessageID)
	assert.Equal(t, model.SendStatusSent, msg.SendStatus)
	assert.Equal(t, "welcome", msg.Headers["X-Campaign"])
	assert.NotNil(t, msg.SentAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMessageBySenderMessageID_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE sender_message_id = $1`)).
		WithArgs("unknown").
		WillReturnRows(sqlmock.NewRows(messageColumns()))

	_, err = ds.GetMessageBySenderMessageID(context.Background(), "unknown")
	require.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	require.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}

func TestUpdateMessageAsSent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	sentAt := time.Now()

	mock.ExpectExec(regexp.QuoteMeta(`SET send_status = 'sent'`)).
		WithArgs("ses-abc-123", sentAt, "msg_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.UpdateMessageAsSent(context.Background(), "msg_1", "ses-abc-123", sentAt)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMessageAsFailed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	failedAt := time.Now()

	mock.ExpectExec(regexp.QuoteMeta(`SET send_status = 'failed'`)).
		WithArgs("MessageRejected: address is on the suppression list", failedAt, "msg_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.UpdateMessageAsFailed(context.Background(), "msg_1", "MessageRejected: address is on the suppression list", failedAt)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMessageSendStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectExec(regexp.QuoteMeta(`SET send_status = $1`)).
		WithArgs("bounced", "msg_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.UpdateMessageSendStatus(context.Background(), "msg_1", model.SendStatusBounced)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
