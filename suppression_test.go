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

package courier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/surelv/courier/database/mocks"
	"github.com/surelv/courier/model"
)

func bounceNotification(bounceType string, email string) FeedbackNotification {
	return FeedbackNotification{
		EventType: "Bounce",
		Bounce: &BounceFeedback{
			BounceType:        bounceType,
			BounceSubType:     "General",
			BouncedRecipients: []FeedbackRecipient{{EmailAddress: email, DiagnosticCode: "smtp; 550"}},
			FeedbackID:        "fb_1",
			Timestamp:         time.Now(),
		},
		Mail: MailFeedback{MessageID: "ses-msg-1"},
	}
}

func feedbackCourier(t *testing.T) (*Courier, *mocks.MockDataSource) {
	t.Helper()
	ds := new(mocks.MockDataSource)
	return newTestCourier(t, ds, welcomeRecipes()), ds
}

func TestProcessBounceTransientEscalation(t *testing.T) {
	c, ds := feedbackCourier(t)

	contact := &model.Contact{ContactID: "cnt_1", Email: "user@example.com"}
	ds.On("GetMessageBySenderMessageID", mock.Anything, "ses-msg-1").Return(nil, notFoundErr("no message"))
	ds.On("GetContactByEmail", mock.Anything, "user@example.com").Return(contact, nil)
	ds.On("RecordEvent", mock.Anything, mock.Anything).Return(nil)

	var updates []model.Contact
	ds.On("UpdateContactSuppression", mock.Anything, contact).Run(func(args mock.Arguments) {
		updates = append(updates, *args.Get(1).(*model.Contact))
	}).Return(nil)

	notification := bounceNotification("Transient", "user@example.com")
	for i := 0; i < 4; i++ {
		require.NoError(t, c.ProcessFeedback(context.Background(), notification))
	}
	require.Len(t, updates, 4)

	// first bounce records state but does not suppress
	assert.Equal(t, 1, updates[0].BounceCount)
	assert.Nil(t, updates[0].SuppressedUntil)

	// second opens a short window, third a long one
	require.NotNil(t, updates[1].SuppressedUntil)
	assert.WithinDuration(t, time.Now().Add(transientBounceShortWindow), *updates[1].SuppressedUntil, 2*time.Second)
	require.NotNil(t, updates[1].SuppressionReason)
	assert.Equal(t, model.SuppressionTransientBounce, *updates[1].SuppressionReason)

	require.NotNil(t, updates[2].SuppressedUntil)
	assert.WithinDuration(t, time.Now().Add(transientBounceLongWindow), *updates[2].SuppressedUntil, 2*time.Second)

	// fourth is terminal
	require.NotNil(t, updates[3].SuppressedUntil)
	assert.Equal(t, model.MaxSuppressionTime(), *updates[3].SuppressedUntil)
	require.NotNil(t, updates[3].SuppressionReason)
	assert.Equal(t, model.SuppressionHardBounce, *updates[3].SuppressionReason)
	assert.Equal(t, "smtp; 550", updates[3].BounceDiagnosticCode)
}

func TestProcessBouncePermanentSuppressesImmediately(t *testing.T) {
	c, ds := feedbackCourier(t)

	contact := &model.Contact{ContactID: "cnt_1", Email: "user@example.com"}
	msg := &model.EmailMessage{MessageID: "msg_1", ContactID: "cnt_1"}
	ds.On("GetMessageBySenderMessageID", mock.Anything, "ses-msg-1").Return(msg, nil)
	ds.On("UpdateMessageSendStatus", mock.Anything, "msg_1", model.SendStatusBounced).Return(nil)
	ds.On("GetContactByEmail", mock.Anything, "user@example.com").Return(contact, nil)
	ds.On("RecordEvent", mock.Anything, mock.Anything).Return(nil)

	var updated model.Contact
	ds.On("UpdateContactSuppression", mock.Anything, contact).Run(func(args mock.Arguments) {
		updated = *args.Get(1).(*model.Contact)
	}).Return(nil)

	require.NoError(t, c.ProcessFeedback(context.Background(), bounceNotification("Permanent", "user@example.com")))

	require.NotNil(t, updated.SuppressedUntil)
	assert.Equal(t, model.MaxSuppressionTime(), *updated.SuppressedUntil)
	require.NotNil(t, updated.SuppressionReason)
	assert.Equal(t, model.SuppressionHardBounce, *updated.SuppressionReason)
	// a permanent bounce does not consume the transient counter
	assert.Equal(t, 0, updated.BounceCount)
	ds.AssertCalled(t, "UpdateMessageSendStatus", mock.Anything, "msg_1", model.SendStatusBounced)
}

func TestProcessComplaintAlwaysTerminal(t *testing.T) {
	c, ds := feedbackCourier(t)

	contact := &model.Contact{ContactID: "cnt_1", Email: "user@example.com"}
	ds.On("GetMessageBySenderMessageID", mock.Anything, "ses-msg-1").Return(nil, notFoundErr("no message"))
	ds.On("GetContactByEmail", mock.Anything, "user@example.com").Return(contact, nil)
	ds.On("RecordEvent", mock.Anything, mock.Anything).Return(nil)

	var updated model.Contact
	ds.On("UpdateContactSuppression", mock.Anything, contact).Run(func(args mock.Arguments) {
		updated = *args.Get(1).(*model.Contact)
	}).Return(nil)

	notification := FeedbackNotification{
		EventType: "Complaint",
		Complaint: &ComplaintFeedback{
			ComplaintFeedbackID:   "fb_2",
			ComplaintFeedbackType: "abuse",
			ComplainedRecipients:  []FeedbackRecipient{{EmailAddress: "user@example.com"}},
		},
		Mail: MailFeedback{MessageID: "ses-msg-1"},
	}
	require.NoError(t, c.ProcessFeedback(context.Background(), notification))

	require.NotNil(t, updated.SuppressedUntil)
	assert.Equal(t, model.MaxSuppressionTime(), *updated.SuppressedUntil)
	require.NotNil(t, updated.SuppressionReason)
	assert.Equal(t, model.SuppressionComplaint, *updated.SuppressionReason)
	assert.Equal(t, 1, updated.ComplaintCount)
	assert.Equal(t, "abuse", updated.ComplaintType)
}

func TestProcessDeliveryOnlyTouchesMessage(t *testing.T) {
	c, ds := feedbackCourier(t)

	msg := &model.EmailMessage{MessageID: "msg_1", ContactID: "cnt_1"}
	ds.On("GetMessageBySenderMessageID", mock.Anything, "ses-msg-1").Return(msg, nil)
	ds.On("UpdateMessageSendStatus", mock.Anything, "msg_1", model.SendStatusDelivered).Return(nil)
	ds.On("RecordEvent", mock.Anything, mock.Anything).Return(nil)

	notification := FeedbackNotification{
		EventType: "Delivery",
		Mail:      MailFeedback{MessageID: "ses-msg-1", Destination: []string{"user@example.com"}},
	}
	require.NoError(t, c.ProcessFeedback(context.Background(), notification))

	ds.AssertNotCalled(t, "UpdateContactSuppression", mock.Anything, mock.Anything)
	ds.AssertNotCalled(t, "GetContactByEmail", mock.Anything, mock.Anything)
}

func TestProcessBounceUnknownContactIsSkipped(t *testing.T) {
	c, ds := feedbackCourier(t)

	ds.On("GetMessageBySenderMessageID", mock.Anything, "ses-msg-1").Return(nil, notFoundErr("no message"))
	ds.On("GetContactByEmail", mock.Anything, "ghost@example.com").Return(nil, notFoundErr("no contact"))
	ds.On("RecordEvent", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, c.ProcessFeedback(context.Background(), bounceNotification("Transient", "ghost@example.com")))
	ds.AssertNotCalled(t, "UpdateContactSuppression", mock.Anything, mock.Anything)
}

func TestProcessFeedbackUnknownEventType(t *testing.T) {
	c, _ := feedbackCourier(t)
	err := c.ProcessFeedback(context.Background(), FeedbackNotification{EventType: "Open"})
	assert.Error(t, err)
}
