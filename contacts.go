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

	"github.com/surelv/courier/internal/apierror"
	"github.com/surelv/courier/model"
)

// UpsertContact inserts or updates a contact keyed by its normalized email.
// The store merges onto an existing row, so repeated imports of the same
// address converge on one identity.
func (c *Courier) UpsertContact(ctx context.Context, contact *model.Contact) (*model.Contact, error) {
	norm, err := model.NormalizeEmail(contact.Email)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}
	contact.EmailNorm = norm
	if contact.ContactID == "" {
		contact.ContactID = model.GenerateUUIDWithSuffix("cnt")
	}
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = time.Now()
	}
	return c.datasource.UpsertContact(ctx, contact)
}

// GetContact retrieves a contact by ID.
func (c *Courier) GetContact(ctx context.Context, id string) (*model.Contact, error) {
	return c.datasource.GetContact(ctx, id)
}

// GetContactByEmail retrieves a contact by email address. Raw provider
// strings are fine; the store normalizes before the lookup.
func (c *Courier) GetContactByEmail(ctx context.Context, email string) (*model.Contact, error) {
	return c.datasource.GetContactByEmail(ctx, email)
}
