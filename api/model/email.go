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
	"time"

	"github.com/surelv/courier"
	"github.com/surelv/courier/model"
)

type EnqueueTransactionalRequest struct {
	RecipeName     string                 `json:"recipe_name"`
	ContactID      string                 `json:"contact_id"`
	RunAt          *time.Time             `json:"run_at,omitempty"`
	Params         map[string]interface{} `json:"params,omitempty"`
	DedupeKey      string                 `json:"dedupe_key,omitempty"`
	FlowKey        string                 `json:"flow_key,omitempty"`
	FlowInstanceID string                 `json:"flow_instance_id,omitempty"`
	StepOrder      int                    `json:"step_order,omitempty"`
	Priority       *int                   `json:"priority,omitempty"`
	SrcID          string                 `json:"src_id,omitempty"`
}

func (r *EnqueueTransactionalRequest) ToMessage() courier.EnqueueTransactionalMessage {
	return courier.EnqueueTransactionalMessage{
		RecipeName:     r.RecipeName,
		ContactID:      r.ContactID,
		RunAt:          r.RunAt,
		Params:         r.Params,
		DedupeKey:      r.DedupeKey,
		FlowKey:        r.FlowKey,
		FlowInstanceID: r.FlowInstanceID,
		StepOrder:      r.StepOrder,
		Priority:       r.Priority,
		SrcID:          r.SrcID,
	}
}

type EnqueueListRequest struct {
	RecipeName  string                 `json:"recipe_name"`
	ListID      string                 `json:"list_id"`
	ListSubType string                 `json:"list_sub_type,omitempty"`
	RunAt       *time.Time             `json:"run_at,omitempty"`
	Params      map[string]interface{} `json:"params,omitempty"`
	DedupeKey   string                 `json:"dedupe_key,omitempty"`
	FlowKey     string                 `json:"flow_key,omitempty"`
	StepOrder   int                    `json:"step_order,omitempty"`
	Priority    *int                   `json:"priority,omitempty"`
	SrcID       string                 `json:"src_id,omitempty"`
	IsDraft     bool                   `json:"is_draft,omitempty"`
}

func (r *EnqueueListRequest) ToMessage() courier.EnqueueListMessage {
	return courier.EnqueueListMessage{
		RecipeName:  r.RecipeName,
		ListID:      r.ListID,
		ListSubType: r.ListSubType,
		RunAt:       r.RunAt,
		Params:      r.Params,
		DedupeKey:   r.DedupeKey,
		FlowKey:     r.FlowKey,
		StepOrder:   r.StepOrder,
		Priority:    r.Priority,
		SrcID:       r.SrcID,
		IsDraft:     r.IsDraft,
	}
}

type UpsertContactRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Verified  bool   `json:"verified,omitempty"`
}

func (r *UpsertContactRequest) ToContact() *model.Contact {
	return &model.Contact{
		Email:      r.Email,
		FirstName:  r.FirstName,
		LastName:   r.LastName,
		IsVerified: r.Verified,
	}
}

type UpsertListRequest struct {
	Name      string `json:"name"`
	SubType   string `json:"sub_type,omitempty"`
	ScopeType string `json:"scope_type,omitempty"`
	ScopeID   string `json:"scope_id,omitempty"`
}

func (r *UpsertListRequest) ToList() *model.EmailList {
	return &model.EmailList{
		Name:      r.Name,
		SubType:   r.SubType,
		ScopeType: r.ScopeType,
		ScopeID:   r.ScopeID,
	}
}

type UpsertListMemberRequest struct {
	ContactID string                 `json:"contact_id"`
	ScopeType string                 `json:"scope_type,omitempty"`
	ScopeID   string                 `json:"scope_id,omitempty"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

func (r *UpsertListMemberRequest) ToMember(listID string) *model.ListMember {
	return &model.ListMember{
		ListID:    listID,
		ContactID: r.ContactID,
		ScopeType: r.ScopeType,
		ScopeID:   r.ScopeID,
		Params:    r.Params,
		Data:      r.Data,
	}
}

type CancelJobRequest struct {
	Reason string `json:"reason"`
}
