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

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/surelv/courier/database/mocks"
	"github.com/surelv/courier/model"
)

func TestUpsertListAssignsID(t *testing.T) {
	ds := new(mocks.MockDataSource)
	c := newTestCourier(t, ds, nil)

	list := &model.EmailList{
		Name:      gofakeit.ProductName(),
		SubType:   "weekly",
		ScopeType: "site",
	}
	ds.On("UpsertList", mock.Anything, list).Return(list, nil)

	got, err := c.UpsertList(context.Background(), list)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got.ListID, "lst_"))
	assert.False(t, got.CreatedAt.IsZero())
}

func TestUpsertListMemberDefaultsToSubscribed(t *testing.T) {
	ds := new(mocks.MockDataSource)
	c := newTestCourier(t, ds, nil)

	member := &model.ListMember{
		ListID:    "lst_1",
		ContactID: "cnt_1",
		Params:    map[string]interface{}{"plan": gofakeit.Word()},
	}
	ds.On("UpsertListMember", mock.Anything, member).Return(member, nil)

	got, err := c.UpsertListMember(context.Background(), member)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got.MemberID, "mbr_"))
	assert.Equal(t, model.MemberSubscribed, got.Status)
}

func TestUpsertListMemberKeepsExplicitStatus(t *testing.T) {
	ds := new(mocks.MockDataSource)
	c := newTestCourier(t, ds, nil)

	member := &model.ListMember{
		ListID:    "lst_1",
		ContactID: "cnt_1",
		Status:    model.MemberUnsubscribed,
	}
	ds.On("UpsertListMember", mock.Anything, member).Return(member, nil)

	got, err := c.UpsertListMember(context.Background(), member)
	require.NoError(t, err)
	assert.Equal(t, model.MemberUnsubscribed, got.Status)
}

func TestGetMessageEventsPassesThrough(t *testing.T) {
	ds := new(mocks.MockDataSource)
	c := newTestCourier(t, ds, nil)

	events := []*model.EmailEvent{{EventID: "evt_1", MessageID: "msg_1", Type: model.EventSend}}
	ds.On("GetEventsByMessage", mock.Anything, "msg_1").Return(events, nil)

	got, err := c.GetMessageEvents(context.Background(), "msg_1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, "evt_1", got[0].EventID)
}
