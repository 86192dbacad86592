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

package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/surelv/courier/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	job      // Interface for job queue operations
	message  // Interface for outbox delivery records
	contact  // Interface for contact operations
	list     // Interface for list and membership operations
	tracking // Interface for tracking record operations
	event    // Interface for the delivery event log
}

// job defines methods for the scheduled-job queue.
type job interface {
	EnqueueJob(ctx context.Context, j *model.Job) (bool, error)                                                            // Inserts a job; false on dedupe-key collision
	ClaimDueJobs(ctx context.Context, kind model.JobKind, limit int, workerToken string) ([]*model.Job, error)             // Atomically claims due jobs for one worker
	GetJob(ctx context.Context, id string) (*model.Job, error)                                                             // Retrieves a job by ID
	GetJobByDedupeKey(ctx context.Context, key string) (*model.Job, error)                                                 // Point lookup by idempotency key
	GetDraftJobs(ctx context.Context, limit int) ([]*model.Job, error)                                                     // Lists list-jobs awaiting manual release
	UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, statusMsg string, meta map[string]interface{}) error // Unconditional status transition
	FailJob(ctx context.Context, jobID string, reason string, meta map[string]interface{}) error                           // Transition to failed with reason/metadata
	CancelJob(ctx context.Context, jobID string, reason string) error                                                      // Marks a job cancelled
}

// message defines methods for outbox delivery records. Preallocate/update run
// inside a caller-owned transaction so the commit-before-publish ordering
// stays under the pipeline's control.
type message interface {
	BeginTx(ctx context.Context) (*sql.Tx, error)
	PreallocateMessageInTx(ctx context.Context, tx *sql.Tx, msg *model.EmailMessage) error
	UpdateMessageInTx(ctx context.Context, tx *sql.Tx, msg *model.EmailMessage) error
	GetMessage(ctx context.Context, id string) (*model.EmailMessage, error)
	GetMessageBySenderMessageID(ctx context.Context, senderMessageID string) (*model.EmailMessage, error)
	UpdateMessageAsSent(ctx context.Context, messageID string, senderMessageID string, sentAt time.Time) error
	UpdateMessageAsFailed(ctx context.Context, messageID string, reason string, failedAt time.Time) error
	UpdateMessageSendStatus(ctx context.Context, messageID string, status model.SendStatus) error
}

// contact defines methods for recipient identities and suppression state.
type contact interface {
	UpsertContact(ctx context.Context, c *model.Contact) (*model.Contact, error)  // Insert or update keyed by normalized email
	GetContact(ctx context.Context, id string) (*model.Contact, error)            // Retrieves a contact by ID
	GetContactByEmail(ctx context.Context, email string) (*model.Contact, error)  // Retrieves a contact by email; the address is normalized inside the store
	UpdateContactSuppression(ctx context.Context, c *model.Contact) error         // Persists suppression fields and feedback counters
	UpdateContactLastEmailAt(ctx context.Context, contactID string, at time.Time) error
}

// list defines methods for lists, memberships and per-type opt-outs.
type list interface {
	UpsertList(ctx context.Context, l *model.EmailList) (*model.EmailList, error)
	GetList(ctx context.Context, id string) (*model.EmailList, error)
	UpsertListMember(ctx context.Context, m *model.ListMember) (*model.ListMember, error) // Upsert on (list, contact), merging params/data
	GetListMember(ctx context.Context, memberID string) (*model.ListMember, error)
	GetSubscribedMembers(ctx context.Context, q MemberQuery) ([]*model.ListMember, error) // Subscribed members minus per-type opt-outs
	UnsubscribeMember(ctx context.Context, memberID string, at time.Time) error
	AddTypeUnsubscribe(ctx context.Context, u *model.TypeUnsubscribe) error
}

// tracking defines methods for click/open instrumentation records. The InTx
// variant lets the outbox instrument content inside the same transaction
// that holds the uncommitted message row.
type tracking interface {
	CreateTracking(ctx context.Context, t *model.Tracking) error
	CreateTrackingInTx(ctx context.Context, tx *sql.Tx, t *model.Tracking) error
	GetTracking(ctx context.Context, trackingID string) (*model.Tracking, error)
	RecordTrackingHit(ctx context.Context, trackingID string, ip string, userAgent string, at time.Time) error
}

// event defines methods for the append-only delivery event log.
type event interface {
	RecordEvent(ctx context.Context, e *model.EmailEvent) error
	GetEventsByMessage(ctx context.Context, messageID string) ([]*model.EmailEvent, error)
}

// MemberQuery narrows subscriber resolution: SubType filters by the list's
// message category (and drives the per-type opt-out exclusion); ContactID,
// ScopeType and ScopeID target a single recipient or scope when set.
type MemberQuery struct {
	ListID    string
	SubType   string
	ContactID string
	ScopeType string
	ScopeID   string
}
