package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/surelv/courier/internal/apierror"
	"github.com/surelv/courier/model"
)

const contactCacheTTL = 5 * time.Minute

// UpsertContact inserts a contact or refreshes the name fields of the
// existing row keyed by normalized email. Suppression state and feedback
// counters are never touched here; those change only through
// UpdateContactSuppression.
func (d Datasource) UpsertContact(ctx context.Context, c *model.Contact) (*model.Contact, error) {
	row := d.Conn.QueryRowContext(ctx, `
		INSERT INTO contacts(contact_id,email,email_norm,first_name,last_name,is_verified,created_at,updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
		ON CONFLICT (email_norm) DO UPDATE
		SET email = EXCLUDED.email,
			first_name = COALESCE(NULLIF(EXCLUDED.first_name, ''), contacts.first_name),
			last_name = COALESCE(NULLIF(EXCLUDED.last_name, ''), contacts.last_name),
			updated_at = EXCLUDED.updated_at
		RETURNING contact_id, email, email_norm, first_name, last_name, is_verified, suppressed_until, suppression_reason, bounce_count, bounce_type, bounce_subtype, bounce_diagnostic_code, last_bounce_at, complaint_count, complaint_type, complaint_subtype, last_complaint_at, feedback_id, last_email_at, created_at, updated_at
	`, c.ContactID, c.Email, c.EmailNorm, c.FirstName, c.LastName, c.IsVerified, time.Now())

	saved, err := scanContact(row)
	if err != nil {
		return nil, err
	}
	d.invalidateContactCache(ctx, saved.EmailNorm)
	return saved, nil
}

func (d Datasource) GetContact(ctx context.Context, id string) (*model.Contact, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT contact_id, email, email_norm, first_name, last_name, is_verified, suppressed_until, suppression_reason, bounce_count, bounce_type, bounce_subtype, bounce_diagnostic_code, last_bounce_at, complaint_count, complaint_type, complaint_subtype, last_complaint_at, feedback_id, last_email_at, created_at, updated_at
		FROM contacts
		WHERE contact_id = $1
	`, id)

	c, err := scanContact(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Contact with ID '%s' not found", id), err)
		}
		return nil, err
	}
	return c, nil
}

// GetContactByEmail looks up a contact by email, reading through the cache
// when one is wired. The address is normalized here, not by callers: provider
// feedback echoes addresses as raw display strings (`"Name" <User@Host>`),
// and the row is keyed by email_norm.
func (d Datasource) GetContactByEmail(ctx context.Context, email string) (*model.Contact, error) {
	if extracted := model.ExtractEmailAddress(email); extracted != "" {
		email = extracted
	}
	norm, err := model.NormalizeEmail(email)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Contact with email '%s' not found", email), err)
	}

	if d.Cache != nil {
		cached := &model.Contact{}
		if err := d.Cache.Get(ctx, contactCacheKey(norm), cached); err == nil && cached.ContactID != "" {
			return cached, nil
		}
	}

	row := d.Conn.QueryRowContext(ctx, `
		SELECT contact_id, email, email_norm, first_name, last_name, is_verified, suppressed_until, suppression_reason, bounce_count, bounce_type, bounce_subtype, bounce_diagnostic_code, last_bounce_at, complaint_count, complaint_type, complaint_subtype, last_complaint_at, feedback_id, last_email_at, created_at, updated_at
		FROM contacts
		WHERE email_norm = $1
	`, norm)

	c, err := scanContact(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Contact with email '%s' not found", email), err)
		}
		return nil, err
	}

	if d.Cache != nil {
		if err := d.Cache.Set(ctx, contactCacheKey(norm), c, contactCacheTTL); err != nil {
			// cache write failures are not load-bearing
			_ = err
		}
	}
	return c, nil
}

// UpdateContactSuppression persists the suppression window, reason and
// bounce/complaint bookkeeping fields of a contact.
func (d Datasource) UpdateContactSuppression(ctx context.Context, c *model.Contact) error {
	var reason sql.NullString
	if c.SuppressionReason != nil {
		reason = sql.NullString{String: string(*c.SuppressionReason), Valid: true}
	}

	res, err := d.Conn.ExecContext(ctx, `
		UPDATE contacts
		SET suppressed_until = $1, suppression_reason = $2, bounce_count = $3, bounce_type = $4, bounce_subtype = $5, bounce_diagnostic_code = $6, last_bounce_at = $7, complaint_count = $8, complaint_type = $9, complaint_subtype = $10, last_complaint_at = $11, feedback_id = $12, updated_at = NOW()
		WHERE contact_id = $13
	`, nullTime(c.SuppressedUntil), reason, c.BounceCount, nullString(c.BounceType), nullString(c.BounceSubtype), nullString(c.BounceDiagnosticCode), nullTime(c.LastBounceAt), c.ComplaintCount, nullString(c.ComplaintType), nullString(c.ComplaintSubtype), nullTime(c.LastComplaintAt), nullString(c.FeedbackID), c.ContactID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update contact suppression", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read update result", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Contact with ID '%s' not found", c.ContactID), nil)
	}

	d.invalidateContactCache(ctx, c.EmailNorm)
	return nil
}

func (d Datasource) UpdateContactLastEmailAt(ctx context.Context, contactID string, at time.Time) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE contacts
		SET last_email_at = $1, updated_at = NOW()
		WHERE contact_id = $2
	`, at, contactID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update contact last email time", err)
	}
	return nil
}

func (d Datasource) invalidateContactCache(ctx context.Context, emailNorm string) {
	if d.Cache == nil || emailNorm == "" {
		return
	}
	_ = d.Cache.Delete(ctx, contactCacheKey(emailNorm))
}

func contactCacheKey(emailNorm string) string {
	return "contact:" + emailNorm
}

func scanContact(row rowScanner) (*model.Contact, error) {
	c := &model.Contact{}
	var firstName, lastName, reason, bounceType, bounceSubtype, bounceDiag, complaintType, complaintSubtype, feedbackID sql.NullString
	var suppressedUntil, lastBounceAt, lastComplaintAt, lastEmailAt sql.NullTime

	err := row.Scan(&c.ContactID, &c.Email, &c.EmailNorm, &firstName, &lastName, &c.IsVerified, &suppressedUntil, &reason, &c.BounceCount, &bounceType, &bounceSubtype, &bounceDiag, &lastBounceAt, &c.ComplaintCount, &complaintType, &complaintSubtype, &lastComplaintAt, &feedbackID, &lastEmailAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan contact row", err)
	}

	c.FirstName = firstName.String
	c.LastName = lastName.String
	c.BounceType = bounceType.String
	c.BounceSubtype = bounceSubtype.String
	c.BounceDiagnosticCode = bounceDiag.String
	c.ComplaintType = complaintType.String
	c.ComplaintSubtype = complaintSubtype.String
	c.FeedbackID = feedbackID.String
	if reason.Valid {
		r := model.SuppressionReason(reason.String)
		c.SuppressionReason = &r
	}
	if suppressedUntil.Valid {
		t := suppressedUntil.Time
		c.SuppressedUntil = &t
	}
	if lastBounceAt.Valid {
		t := lastBounceAt.Time
		c.LastBounceAt = &t
	}
	if lastComplaintAt.Valid {
		t := lastComplaintAt.Time
		c.LastComplaintAt = &t
	}
	if lastEmailAt.Valid {
		t := lastEmailAt.Time
		c.LastEmailAt = &t
	}
	return c, nil
}
