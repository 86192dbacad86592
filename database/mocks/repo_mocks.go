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
package mocks

import (
	"context"
	"database/sql"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/surelv/courier/database"
	"github.com/surelv/courier/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Job methods

func (m *MockDataSource) EnqueueJob(ctx context.Context, j *model.Job) (bool, error) {
	args := m.Called(ctx, j)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) ClaimDueJobs(ctx context.Context, kind model.JobKind, limit int, workerToken string) ([]*model.Job, error) {
	args := m.Called(ctx, kind, limit, workerToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Job), args.Error(1)
}

func (m *MockDataSource) GetJob(ctx context.Context, id string) (*model.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Job), args.Error(1)
}

func (m *MockDataSource) GetJobByDedupeKey(ctx context.Context, key string) (*model.Job, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Job), args.Error(1)
}

func (m *MockDataSource) GetDraftJobs(ctx context.Context, limit int) ([]*model.Job, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Job), args.Error(1)
}

func (m *MockDataSource) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, statusMsg string, meta map[string]interface{}) error {
	args := m.Called(ctx, jobID, status, statusMsg, meta)
	return args.Error(0)
}

func (m *MockDataSource) FailJob(ctx context.Context, jobID string, reason string, meta map[string]interface{}) error {
	args := m.Called(ctx, jobID, reason, meta)
	return args.Error(0)
}

func (m *MockDataSource) CancelJob(ctx context.Context, jobID string, reason string) error {
	args := m.Called(ctx, jobID, reason)
	return args.Error(0)
}

// Message methods

func (m *MockDataSource) BeginTx(ctx context.Context) (*sql.Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sql.Tx), args.Error(1)
}

func (m *MockDataSource) PreallocateMessageInTx(ctx context.Context, tx *sql.Tx, msg *model.EmailMessage) error {
	args := m.Called(ctx, tx, msg)
	return args.Error(0)
}

func (m *MockDataSource) UpdateMessageInTx(ctx context.Context, tx *sql.Tx, msg *model.EmailMessage) error {
	args := m.Called(ctx, tx, msg)
	return args.Error(0)
}

func (m *MockDataSource) GetMessage(ctx context.Context, id string) (*model.EmailMessage, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.EmailMessage), args.Error(1)
}

func (m *MockDataSource) GetMessageBySenderMessageID(ctx context.Context, senderMessageID string) (*model.EmailMessage, error) {
	args := m.Called(ctx, senderMessageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.EmailMessage), args.Error(1)
}

func (m *MockDataSource) UpdateMessageAsSent(ctx context.Context, messageID string, senderMessageID string, sentAt time.Time) error {
	args := m.Called(ctx, messageID, senderMessageID, sentAt)
	return args.Error(0)
}

func (m *MockDataSource) UpdateMessageAsFailed(ctx context.Context, messageID string, reason string, failedAt time.Time) error {
	args := m.Called(ctx, messageID, reason, failedAt)
	return args.Error(0)
}

func (m *MockDataSource) UpdateMessageSendStatus(ctx context.Context, messageID string, status model.SendStatus) error {
	args := m.Called(ctx, messageID, status)
	return args.Error(0)
}

// Contact methods

func (m *MockDataSource) UpsertContact(ctx context.Context, c *model.Contact) (*model.Contact, error) {
	args := m.Called(ctx, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

func (m *MockDataSource) GetContact(ctx context.Context, id string) (*model.Contact, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

func (m *MockDataSource) GetContactByEmail(ctx context.Context, email string) (*model.Contact, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

func (m *MockDataSource) UpdateContactSuppression(ctx context.Context, c *model.Contact) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockDataSource) UpdateContactLastEmailAt(ctx context.Context, contactID string, at time.Time) error {
	args := m.Called(ctx, contactID, at)
	return args.Error(0)
}

// List methods

func (m *MockDataSource) UpsertList(ctx context.Context, l *model.EmailList) (*model.EmailList, error) {
	args := m.Called(ctx, l)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.EmailList), args.Error(1)
}

func (m *MockDataSource) GetList(ctx context.Context, id string) (*model.EmailList, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.EmailList), args.Error(1)
}

func (m *MockDataSource) UpsertListMember(ctx context.Context, member *model.ListMember) (*model.ListMember, error) {
	args := m.Called(ctx, member)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ListMember), args.Error(1)
}

func (m *MockDataSource) GetListMember(ctx context.Context, memberID string) (*model.ListMember, error) {
	args := m.Called(ctx, memberID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ListMember), args.Error(1)
}

func (m *MockDataSource) GetSubscribedMembers(ctx context.Context, q database.MemberQuery) ([]*model.ListMember, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.ListMember), args.Error(1)
}

func (m *MockDataSource) UnsubscribeMember(ctx context.Context, memberID string, at time.Time) error {
	args := m.Called(ctx, memberID, at)
	return args.Error(0)
}

func (m *MockDataSource) AddTypeUnsubscribe(ctx context.Context, u *model.TypeUnsubscribe) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

// Tracking methods

func (m *MockDataSource) CreateTracking(ctx context.Context, t *model.Tracking) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *MockDataSource) CreateTrackingInTx(ctx context.Context, tx *sql.Tx, t *model.Tracking) error {
	args := m.Called(ctx, tx, t)
	return args.Error(0)
}

func (m *MockDataSource) GetTracking(ctx context.Context, trackingID string) (*model.Tracking, error) {
	args := m.Called(ctx, trackingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Tracking), args.Error(1)
}

func (m *MockDataSource) RecordTrackingHit(ctx context.Context, trackingID string, ip string, userAgent string, at time.Time) error {
	args := m.Called(ctx, trackingID, ip, userAgent, at)
	return args.Error(0)
}

// Event methods

func (m *MockDataSource) RecordEvent(ctx context.Context, e *model.EmailEvent) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *MockDataSource) GetEventsByMessage(ctx context.Context, messageID string) ([]*model.EmailEvent, error) {
	args := m.Called(ctx, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.EmailEvent), args.Error(1)
}
