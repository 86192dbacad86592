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
package model

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

func (r *EnqueueTransactionalRequest) ValidateEnqueueTransactional() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.RecipeName, validation.Required),
		validation.Field(&r.ContactID, validation.Required),
		validation.Field(&r.StepOrder, validation.Min(0)),
	)
}

func (r *EnqueueListRequest) ValidateEnqueueList() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.RecipeName, validation.Required),
		validation.Field(&r.ListID, validation.Required),
		validation.Field(&r.StepOrder, validation.Min(0)),
	)
}

func (r *UpsertContactRequest) ValidateUpsertContact() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (r *UpsertListRequest) ValidateUpsertList() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Name, validation.Required),
	)
}

func (r *UpsertListMemberRequest) ValidateUpsertListMember() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ContactID, validation.Required),
	)
}

func (r *CancelJobRequest) ValidateCancelJob() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Reason, validation.Required),
	)
}
