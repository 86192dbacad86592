package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/surelv/courier/internal/apierror"
	"github.com/surelv/courier/model"
)

func (d Datasource) CreateTracking(ctx context.Context, t *model.Tracking) error {
	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO tracking(tracking_id,message_id,contact_id,type,hash,target_url,hit_count,created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.TrackingID, t.MessageID, nullString(t.ContactID), t.Type, t.Hash, nullString(t.TargetURL), t.HitCount, t.CreatedAt,
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create tracking record", err)
	}
	return nil
}

// CreateTrackingInTx inserts a tracking row inside a caller-owned
// transaction, so instrumentation rolls back with the message it decorates.
func (d Datasource) CreateTrackingInTx(ctx context.Context, tx *sql.Tx, t *model.Tracking) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO tracking(tracking_id,message_id,contact_id,type,hash,target_url,hit_count,created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.TrackingID, t.MessageID, nullString(t.ContactID), t.Type, t.Hash, nullString(t.TargetURL), t.HitCount, t.CreatedAt,
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create tracking record", err)
	}
	return nil
}

func (d Datasource) GetTracking(ctx context.Context, trackingID string) (*model.Tracking, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT tracking_id, message_id, contact_id, type, hash, target_url, hit_count, first_hit_at, last_hit_at, last_hit_ip, last_hit_ua, created_at
		FROM tracking
		WHERE tracking_id = $1
	`, trackingID)

	t := &model.Tracking{}
	var contactID, targetURL, lastHitIP, lastHitUA sql.NullString
	var firstHitAt, lastHitAt sql.NullTime

	err := row.Scan(&t.TrackingID, &t.MessageID, &contactID, &t.Type, &t.Hash, &targetURL, &t.HitCount, &firstHitAt, &lastHitAt, &lastHitIP, &lastHitUA, &t.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Tracking record with ID '%s' not found", trackingID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan tracking row", err)
	}

	t.ContactID = contactID.String
	t.TargetURL = targetURL.String
	t.LastHitIP = lastHitIP.String
	t.LastHitUA = lastHitUA.String
	if firstHitAt.Valid {
		ts := firstHitAt.Time
		t.FirstHitAt = &ts
	}
	if lastHitAt.Valid {
		ts := lastHitAt.Time
		t.LastHitAt = &ts
	}
	return t, nil
}

// RecordTrackingHit increments the hit counter and stamps first/last hit
// details in one statement.
func (d Datasource) RecordTrackingHit(ctx context.Context, trackingID string, ip string, userAgent string, at time.Time) error {
	res, err := d.Conn.ExecContext(ctx, `
		UPDATE tracking
		SET hit_count = hit_count + 1,
			first_hit_at = COALESCE(first_hit_at, $1),
			last_hit_at = $1,
			last_hit_ip = $2,
			last_hit_ua = $3
		WHERE tracking_id = $4
	`, at, ip, userAgent, trackingID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record tracking hit", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read update result", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Tracking record with ID '%s' not found", trackingID), nil)
	}
	return nil
}
