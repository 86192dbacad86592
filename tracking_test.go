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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/surelv/courier/config"
	"github.com/surelv/courier/database/mocks"
	"github.com/surelv/courier/internal/signedtoken"
	"github.com/surelv/courier/model"
)

func trackingTestCourier(t *testing.T, ds *mocks.MockDataSource) *Courier {
	t.Helper()
	c := newTestCourier(t, ds, welcomeRecipes())
	config.MockConfig(&config.Configuration{
		Email: config.EmailConfig{
			Secret:    "test-secret",
			URLScheme: "https",
			URLDomain: "mail.example.com",
		},
	})
	return c
}

func TestInstrumentMessageRewritesLinksAndAddsPixel(t *testing.T) {
	ds := new(mocks.MockDataSource)
	c := trackingTestCourier(t, ds)

	tx, _ := newOutboxTx(t)

	var records []*model.Tracking
	ds.On("CreateTrackingInTx", mock.Anything, tx, mock.Anything).Run(func(args mock.Arguments) {
		records = append(records, args.Get(2).(*model.Tracking))
	}).Return(nil)

	msg := &model.EmailMessage{
		MessageID: "msg_1",
		ContactID: "cnt_1",
		BodyHTML: `<html><body>` +
			`<a href="https://example.com/offer">Offer</a>` +
			`<a href="mailto:hello@example.com">Write us</a>` +
			`<a href="{{manage_url}}">Manage</a>` +
			`</body></html>`,
	}
	require.NoError(t, c.instrumentMessage(context.Background(), tx, msg))

	// one click row for the http link, one open row for the pixel
	require.Len(t, records, 2)
	assert.Equal(t, model.TrackingClick, records[0].Type)
	assert.Equal(t, "https://example.com/offer", records[0].TargetURL)
	assert.Equal(t, "msg_1", records[0].MessageID)
	assert.Equal(t, model.TrackingOpen, records[1].Type)
	assert.Empty(t, records[1].TargetURL)

	assert.NotContains(t, msg.BodyHTML, `href="https://example.com/offer"`)
	assert.Contains(t, msg.BodyHTML, "https://mail.example.com/track/click/"+records[0].TrackingID+"/")
	assert.Contains(t, msg.BodyHTML, `href="mailto:hello@example.com"`)
	assert.Contains(t, msg.BodyHTML, `href="{{manage_url}}"`)

	// pixel lands inside the body element
	pixelIdx := strings.Index(msg.BodyHTML, "/track/open/")
	bodyIdx := strings.Index(msg.BodyHTML, "</body>")
	require.True(t, pixelIdx > 0)
	assert.Less(t, pixelIdx, bodyIdx)
}

func TestInstrumentMessageNoDomainLeavesBodyAlone(t *testing.T) {
	ds := new(mocks.MockDataSource)
	c := newTestCourier(t, ds, welcomeRecipes()) // no URL domain configured

	tx, _ := newOutboxTx(t)
	original := `<html><body><a href="https://example.com">x</a></body></html>`
	msg := &model.EmailMessage{MessageID: "msg_1", BodyHTML: original}

	require.NoError(t, c.instrumentMessage(context.Background(), tx, msg))
	assert.Equal(t, original, msg.BodyHTML)
	ds.AssertNotCalled(t, "CreateTrackingInTx", mock.Anything, mock.Anything, mock.Anything)
}

func TestRecordTrackingEventClick(t *testing.T) {
	ds := new(mocks.MockDataSource)
	c := trackingTestCourier(t, ds)

	cnf, err := config.Fetch()
	require.NoError(t, err)

	record := &model.Tracking{
		TrackingID: "trk_1",
		MessageID:  "msg_1",
		ContactID:  "cnt_1",
		Type:       model.TrackingClick,
		Hash:       model.GenerateTrackingHash(),
		TargetURL:  "https://example.com/offer",
	}
	token, err := trackingCodec(cnf).EncodeWithContext(map[string]interface{}{"h": record.Hash, "u": record.TargetURL}, record.Hash)
	require.NoError(t, err)

	ds.On("GetTracking", mock.Anything, "trk_1").Return(record, nil)
	ds.On("RecordTrackingHit", mock.Anything, "trk_1", "10.0.0.1", "curl/8", mock.Anything).Return(nil)

	var event *model.EmailEvent
	ds.On("RecordEvent", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		event = args.Get(1).(*model.EmailEvent)
	}).Return(nil)

	target, err := c.RecordTrackingEvent(context.Background(), model.TrackingClick, "trk_1", token, "10.0.0.1", "curl/8")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/offer", target)

	require.NotNil(t, event)
	assert.Equal(t, model.EventClick, event.Type)
	assert.Equal(t, "msg_1", event.MessageID)
}

func TestRecordTrackingEventRejectsForeignToken(t *testing.T) {
	ds := new(mocks.MockDataSource)
	c := trackingTestCourier(t, ds)

	cnf, err := config.Fetch()
	require.NoError(t, err)

	record := &model.Tracking{
		TrackingID: "trk_1",
		Type:       model.TrackingClick,
		Hash:       model.GenerateTrackingHash(),
	}
	ds.On("GetTracking", mock.Anything, "trk_1").Return(record, nil)

	// token minted for a different record does not verify against this one
	otherHash := model.GenerateTrackingHash()
	token, err := trackingCodec(cnf).EncodeWithContext(map[string]interface{}{"h": otherHash}, otherHash)
	require.NoError(t, err)

	_, err = c.RecordTrackingEvent(context.Background(), model.TrackingClick, "trk_1", token, "", "")
	assert.ErrorIs(t, err, signedtoken.ErrInvalidSignature)
	ds.AssertNotCalled(t, "RecordTrackingHit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRecordTrackingEventTypeMismatch(t *testing.T) {
	ds := new(mocks.MockDataSource)
	c := trackingTestCourier(t, ds)

	record := &model.Tracking{TrackingID: "trk_1", Type: model.TrackingOpen, Hash: model.GenerateTrackingHash()}
	ds.On("GetTracking", mock.Anything, "trk_1").Return(record, nil)

	_, err := c.RecordTrackingEvent(context.Background(), model.TrackingClick, "trk_1", "whatever", "", "")
	assert.ErrorIs(t, err, signedtoken.ErrInvalidPayload)
}

func TestUnsubscribeRoundTrip(t *testing.T) {
	ds := new(mocks.MockDataSource)
	c := trackingTestCourier(t, ds)

	cnf, err := config.Fetch()
	require.NoError(t, err)

	link, err := UnsubscribeLink(cnf, "mbr_1", "msg_1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, "https://mail.example.com/unsubscribe/mbr_1/msg_1/"))

	segments := strings.Split(strings.TrimPrefix(link, "https://mail.example.com/unsubscribe/"), "/")
	require.Len(t, segments, 4)
	payload, signature := segments[2], segments[3]

	member := &model.ListMember{MemberID: "mbr_1", ListID: "lst_1", ContactID: "cnt_1", Status: model.MemberSubscribed}
	list := &model.EmailList{ListID: "lst_1", SubType: "weekly", ScopeType: "site", ScopeID: "site_1"}
	ds.On("GetListMember", mock.Anything, "mbr_1").Return(member, nil)
	ds.On("UnsubscribeMember", mock.Anything, "mbr_1", mock.Anything).Return(nil)
	ds.On("GetList", mock.Anything, "lst_1").Return(list, nil)

	var optOut *model.TypeUnsubscribe
	ds.On("AddTypeUnsubscribe", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		optOut = args.Get(1).(*model.TypeUnsubscribe)
	}).Return(nil)
	ds.On("RecordEvent", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, c.Unsubscribe(context.Background(), "mbr_1", "msg_1", payload, signature))

	require.NotNil(t, optOut)
	assert.Equal(t, "cnt_1", optOut.ContactID)
	assert.Equal(t, "weekly", optOut.MessageType)
	assert.Equal(t, "site", optOut.ScopeType)
}

func TestUnsubscribeRejectsMismatchedMember(t *testing.T) {
	ds := new(mocks.MockDataSource)
	c := trackingTestCourier(t, ds)

	cnf, err := config.Fetch()
	require.NoError(t, err)

	link, err := UnsubscribeLink(cnf, "mbr_1", "msg_1")
	require.NoError(t, err)
	segments := strings.Split(strings.TrimPrefix(link, "https://mail.example.com/unsubscribe/"), "/")
	require.Len(t, segments, 4)

	// replaying the token against another member id must fail verification
	err = c.Unsubscribe(context.Background(), "mbr_2", "msg_1", segments[2], segments[3])
	assert.ErrorIs(t, err, signedtoken.ErrInvalidSignature)
	ds.AssertNotCalled(t, "UnsubscribeMember", mock.Anything, mock.Anything, mock.Anything)
}

func TestUnsubscribeTamperedSignature(t *testing.T) {
	ds := new(mocks.MockDataSource)
	c := trackingTestCourier(t, ds)

	cnf, err := config.Fetch()
	require.NoError(t, err)

	link, err := UnsubscribeLink(cnf, "mbr_1", "msg_1")
	require.NoError(t, err)
	segments := strings.Split(strings.TrimPrefix(link, "https://mail.example.com/unsubscribe/"), "/")
	require.Len(t, segments, 4)

	err = c.Unsubscribe(context.Background(), "mbr_1", "msg_1", segments[2], "deadbeefdeadbeefdeadbeefdeadbeef")
	assert.ErrorIs(t, err, signedtoken.ErrInvalidSignature)
}
