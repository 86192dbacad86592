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

// UpsertList inserts a list or refreshes its name on conflict.
func (d Datasource) UpsertList(ctx context.Context, l *model.EmailList) (*model.EmailList, error) {
	row := d.Conn.QueryRowContext(ctx, `
		INSERT INTO lists(list_id,name,sub_type,scope_type,scope_id,created_at,updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6)
		ON CONFLICT (list_id) DO UPDATE
		SET name = EXCLUDED.name, updated_at = EXCLUDED.updated_at
		RETURNING list_id, name, sub_type, scope_type, scope_id, created_at, updated_at
	`, l.ListID, l.Name, nullString(l.SubType), nullString(l.ScopeType), nullString(l.ScopeID), time.Now())

	return scanList(row)
}

func (d Datasource) GetList(ctx context.Context, id string) (*model.EmailList, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT list_id, name, sub_type, scope_type, scope_id, created_at, updated_at
		FROM lists
		WHERE list_id = $1
	`, id)

	return scanList(row)
}

// UpsertListMember inserts a membership or updates the existing row for the
// same (list, contact, scope) triple. Params and data maps merge key-by-key
// instead of overwriting, so independent writers keep each other's fields.
// Scope columns default to empty string rather than NULL so the uniqueness
// key covers unscoped memberships too.
func (d Datasource) UpsertListMember(ctx context.Context, m *model.ListMember) (*model.ListMember, error) {
	paramsJSON, err := json.Marshal(m.Params)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal member params", err)
	}
	dataJSON, err := json.Marshal(m.Data)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal member data", err)
	}

	row := d.Conn.QueryRowContext(ctx, `
		INSERT INTO list_members(member_id,list_id,contact_id,scope_type,scope_id,status,params,data,subscribed_at,created_at,updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
		ON CONFLICT (list_id, contact_id, scope_type, scope_id) DO UPDATE
		SET status = EXCLUDED.status,
			params = COALESCE(list_members.params, '{}'::jsonb) || COALESCE(EXCLUDED.params, '{}'::jsonb),
			data = COALESCE(list_members.data, '{}'::jsonb) || COALESCE(EXCLUDED.data, '{}'::jsonb),
			subscribed_at = COALESCE(list_members.subscribed_at, EXCLUDED.subscribed_at),
			updated_at = EXCLUDED.updated_at
		RETURNING member_id, list_id, contact_id, scope_type, scope_id, status, params, data, subscribed_at, unsubscribed_at, created_at, updated_at
	`, m.MemberID, m.ListID, m.ContactID, m.ScopeType, m.ScopeID, m.Status, paramsJSON, dataJSON, nullTime(m.SubscribedAt), time.Now())

	return scanListMember(row)
}

func (d Datasource) GetListMember(ctx context.Context, memberID string) (*model.ListMember, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT member_id, list_id, contact_id, scope_type, scope_id, status, params, data, subscribed_at, unsubscribed_at, created_at, updated_at
		FROM list_members
		WHERE member_id = $1
	`, memberID)

	m, err := scanListMember(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("List member with ID '%s' not found", memberID), err)
		}
		return nil, err
	}
	return m, nil
}

// GetSubscribedMembers resolves the deliverable audience of a list:
// subscribed members, minus contacts with a per-type opt-out matching the
// query's sub-type and scope, optionally narrowed to one contact. The scope
// filter applies to the membership row, where the authorization scope lives.
func (d Datasource) GetSubscribedMembers(ctx context.Context, q MemberQuery) ([]*model.ListMember, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT m.member_id, m.list_id, m.contact_id, m.scope_type, m.scope_id, m.status, m.params, m.data, m.subscribed_at, m.unsubscribed_at, m.created_at, m.updated_at
		FROM list_members m
		JOIN lists l ON l.list_id = m.list_id
		WHERE m.list_id = $1
		AND m.status = 'subscribed'
		AND ($2 = '' OR l.sub_type = $2)
		AND ($3 = '' OR m.contact_id = $3)
		AND ($4 = '' OR m.scope_type = $4)
		AND ($5 = '' OR m.scope_id = $5)
		AND NOT EXISTS (
			SELECT 1 FROM type_unsubscribes u
			WHERE u.contact_id = m.contact_id
			AND u.message_type = $2
			AND ($4 = '' OR u.scope_type IS NULL OR u.scope_type = $4)
			AND ($5 = '' OR u.scope_id IS NULL OR u.scope_id = $5)
		)
		ORDER BY m.id ASC
	`, q.ListID, q.SubType, q.ContactID, q.ScopeType, q.ScopeID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to resolve subscribed members", err)
	}
	defer rows.Close()

	var members []*model.ListMember
	for rows.Next() {
		m, err := scanListMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to iterate subscribed members", err)
	}
	return members, nil
}

func (d Datasource) UnsubscribeMember(ctx context.Context, memberID string, at time.Time) error {
	res, err := d.Conn.ExecContext(ctx, `
		UPDATE list_members
		SET status = 'unsubscribed', unsubscribed_at = $1, updated_at = $1
		WHERE member_id = $2
	`, at, memberID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unsubscribe member", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read update result", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("List member with ID '%s' not found", memberID), nil)
	}
	return nil
}

// AddTypeUnsubscribe records a per-category opt-out. Re-recording the same
// opt-out is a no-op.
func (d Datasource) AddTypeUnsubscribe(ctx context.Context, u *model.TypeUnsubscribe) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO type_unsubscribes(unsubscribe_id,contact_id,message_type,scope_type,scope_id,created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (contact_id, message_type, scope_type, scope_id) DO NOTHING
	`, u.UnsubscribeID, u.ContactID, u.MessageType, nullString(u.ScopeType), nullString(u.ScopeID), u.CreatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record type unsubscribe", err)
	}
	return nil
}

func scanList(row rowScanner) (*model.EmailList, error) {
	l := &model.EmailList{}
	var subType, scopeType, scopeID sql.NullString

	err := row.Scan(&l.ListID, &l.Name, &subType, &scopeType, &scopeID, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "List not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan list row", err)
	}

	l.SubType = subType.String
	l.ScopeType = scopeType.String
	l.ScopeID = scopeID.String
	return l, nil
}

func scanListMember(row rowScanner) (*model.ListMember, error) {
	m := &model.ListMember{}
	var paramsJSON, dataJSON []byte
	var subscribedAt, unsubscribedAt sql.NullTime

	err := row.Scan(&m.MemberID, &m.ListID, &m.ContactID, &m.ScopeType, &m.ScopeID, &m.Status, &paramsJSON, &dataJSON, &subscribedAt, &unsubscribedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan list member row", err)
	}

	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &m.Params); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal member params", err)
		}
	}
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &m.Data); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal member data", err)
		}
	}
	if subscribedAt.Valid {
		t := subscribedAt.Time
		m.SubscribedAt = &t
	}
	if unsubscribedAt.Valid {
		t := unsubscribedAt.Time
		m.UnsubscribedAt = &t
	}
	return m, nil
}
