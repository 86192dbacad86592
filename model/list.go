package model

import (
	"fmt"
	"time"
)

// MemberStatus tracks a contact's subscription state inside a list.
type MemberStatus string

const (
	MemberSubscribed   MemberStatus = "subscribed"
	MemberUnsubscribed MemberStatus = "unsubscribed"
	MemberPending      MemberStatus = "pending"
	MemberCleaned      MemberStatus = "cleaned"
)

func ParseMemberStatus(raw string) (MemberStatus, error) {
	switch MemberStatus(raw) {
	case MemberSubscribed, MemberUnsubscribed, MemberPending, MemberCleaned:
		return MemberStatus(raw), nil
	}
	return "", fmt.Errorf("unknown member status %q", raw)
}

// EmailList is a named audience scoped to an owning entity.
type EmailList struct {
	ListID    string    `json:"list_id"`
	Name      string    `json:"name"`
	SubType   string    `json:"sub_type,omitempty"`
	ScopeType string    `json:"scope_type,omitempty"`
	ScopeID   string    `json:"scope_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListMember joins a contact, a list and an authorization scope. A contact
// may hold one membership per (list, scope) pair. Params carries per-member
// template substitutions; Data carries provider bookkeeping. Both merge on
// upsert rather than overwrite, so independent writers don't clobber each
// other.
type ListMember struct {
	MemberID       string                 `json:"member_id"`
	ListID         string                 `json:"list_id"`
	ContactID      string                 `json:"contact_id"`
	ScopeType      string                 `json:"scope_type,omitempty"`
	ScopeID        string                 `json:"scope_id,omitempty"`
	Status         MemberStatus           `json:"status"`
	Params         map[string]interface{} `json:"params,omitempty"`
	Data           map[string]interface{} `json:"data,omitempty"`
	SubscribedAt   *time.Time             `json:"subscribed_at,omitempty"`
	UnsubscribedAt *time.Time             `json:"unsubscribed_at,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// MergeParams folds incoming params over the existing set, keeping existing
// keys that the incoming map does not mention.
func (m *ListMember) MergeParams(incoming map[string]interface{}) {
	if len(incoming) == 0 {
		return
	}
	if m.Params == nil {
		m.Params = make(map[string]interface{}, len(incoming))
	}
	for k, v := range incoming {
		m.Params[k] = v
	}
}

// MergeData folds incoming data over the existing set.
func (m *ListMember) MergeData(incoming map[string]interface{}) {
	if len(incoming) == 0 {
		return
	}
	if m.Data == nil {
		m.Data = make(map[string]interface{}, len(incoming))
	}
	for k, v := range incoming {
		m.Data[k] = v
	}
}

// TypeUnsubscribe is a per-category opt-out: the contact stays reachable for
// other categories but is excluded from this message type within the scope.
type TypeUnsubscribe struct {
	UnsubscribeID string    `json:"unsubscribe_id"`
	ContactID     string    `json:"contact_id"`
	MessageType   string    `json:"message_type"`
	ScopeType     string    `json:"scope_type,omitempty"`
	ScopeID       string    `json:"scope_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
