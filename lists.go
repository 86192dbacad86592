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
	"time"

	"github.com/surelv/courier/model"
)

// UpsertList creates or updates a list identified by (name, scope).
func (c *Courier) UpsertList(ctx context.Context, list *model.EmailList) (*model.EmailList, error) {
	if list.ListID == "" {
		list.ListID = model.GenerateUUIDWithSuffix("lst")
	}
	if list.CreatedAt.IsZero() {
		list.CreatedAt = time.Now()
	}
	return c.datasource.UpsertList(ctx, list)
}

// GetList retrieves a list by ID.
func (c *Courier) GetList(ctx context.Context, id string) (*model.EmailList, error) {
	return c.datasource.GetList(ctx, id)
}

// UpsertListMember subscribes a contact to a list, merging the member's
// params and data maps over any existing membership row.
func (c *Courier) UpsertListMember(ctx context.Context, member *model.ListMember) (*model.ListMember, error) {
	if member.MemberID == "" {
		member.MemberID = model.GenerateUUIDWithSuffix("mbr")
	}
	if member.Status == "" {
		member.Status = model.MemberSubscribed
	}
	if member.CreatedAt.IsZero() {
		member.CreatedAt = time.Now()
	}
	return c.datasource.UpsertListMember(ctx, member)
}

// GetJob retrieves a scheduled job by ID.
func (c *Courier) GetJob(ctx context.Context, id string) (*model.Job, error) {
	return c.datasource.GetJob(ctx, id)
}

// GetMessage retrieves a delivery record by ID.
func (c *Courier) GetMessage(ctx context.Context, id string) (*model.EmailMessage, error) {
	return c.datasource.GetMessage(ctx, id)
}

// GetMessageEvents lists the event log entries recorded against a message.
func (c *Courier) GetMessageEvents(ctx context.Context, messageID string) ([]*model.EmailEvent, error) {
	return c.datasource.GetEventsByMessage(ctx, messageID)
}
