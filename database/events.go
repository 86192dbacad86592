package database

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/surelv/courier/internal/apierror"
	"github.com/surelv/courier/model"
)

// RecordEvent appends one delivery lifecycle event to the log.
func (d Datasource) RecordEvent(ctx context.Context, e *model.EmailEvent) error {
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal event payload", err)
	}

	_, err = d.Conn.ExecContext(ctx,
		`INSERT INTO email_events(event_id,message_id,contact_id,type,payload,occurred_at,created_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.EventID, nullString(e.MessageID), nullString(e.ContactID), e.Type, payloadJSON, e.OccurredAt, e.CreatedAt,
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record email event", err)
	}
	return nil
}

func (d Datasource) GetEventsByMessage(ctx context.Context, messageID string) ([]*model.EmailEvent, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT event_id, message_id, contact_id, type, payload, occurred_at, created_at
		FROM email_events
		WHERE message_id = $1
		ORDER BY occurred_at ASC
	`, messageID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list email events", err)
	}
	defer rows.Close()

	var events []*model.EmailEvent
	for rows.Next() {
		e := &model.EmailEvent{}
		var msgID, contactID sql.NullString
		var payloadJSON []byte
		if err := rows.Scan(&e.EventID, &msgID, &contactID, &e.Type, &payloadJSON, &e.OccurredAt, &e.CreatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan email event row", err)
		}
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &e.Payload); err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal event payload", err)
			}
		}
		e.MessageID = msgID.String
		e.ContactID = contactID.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to iterate email events", err)
	}
	return events, nil
}
