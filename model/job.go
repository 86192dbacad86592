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
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus is the closed set of job lifecycle states. Terminal states are
// never left once entered.
type JobStatus string

const (
	JobStatusDraft     JobStatus = "draft"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusSkipped   JobStatus = "skipped"
	JobStatusCancelled JobStatus = "cancelled"
)

// ParseJobStatus validates a raw status value against the closed set.
func ParseJobStatus(raw string) (JobStatus, error) {
	switch JobStatus(raw) {
	case JobStatusDraft, JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusSkipped, JobStatusCancelled:
		return JobStatus(raw), nil
	}
	return "", fmt.Errorf("unknown job status %q", raw)
}

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusSkipped, JobStatusCancelled:
		return true
	}
	return false
}

// JobKind separates single-recipient transactional jobs from multi-recipient
// list jobs.
type JobKind string

const (
	JobKindTransactional JobKind = "transactional"
	JobKindList          JobKind = "list"
)

func ParseJobKind(raw string) (JobKind, error) {
	switch JobKind(raw) {
	case JobKindTransactional, JobKindList:
		return JobKind(raw), nil
	}
	return "", fmt.Errorf("unknown job kind %q", raw)
}

// systemParamsKey is the reserved sub-map key inside a job's params under
// which system fields travel on the wire and in storage.
const systemParamsKey = "__"

// SystemListRef points a list job at one target list, optionally narrowed to
// a sub-type with its own unsubscribe handling.
type SystemListRef struct {
	ListID  string `json:"id"`
	SubType string `json:"sub_type,omitempty"`
}

// SystemParams are the reserved fields a job carries alongside its business
// params: target contact, authorization scope, target lists and the
// skip-next-step flag.
type SystemParams struct {
	Lists           []SystemListRef `json:"lists,omitempty"`
	ContactID       string          `json:"contact_id,omitempty"`
	ContactEmail    string          `json:"contact_email,omitempty"`
	ScopeType       string          `json:"scope_type,omitempty"`
	ScopeID         string          `json:"scope_id,omitempty"`
	SkipNextMessage bool            `json:"skip_next_message,omitempty"`
}

// AddList appends a list reference, ignoring duplicates.
func (p *SystemParams) AddList(ref SystemListRef) {
	for _, existing := range p.Lists {
		if existing.ListID == ref.ListID && existing.SubType == ref.SubType {
			return
		}
	}
	p.Lists = append(p.Lists, ref)
}

// Job is one unit of scheduled work. Params hold the business parameters
// without the reserved system sub-map; System holds the split-out reserved
// fields.
type Job struct {
	JobID          string                 `json:"job_id"`
	Name           string                 `json:"name"`
	Kind           JobKind                `json:"kind"`
	Params         map[string]interface{} `json:"params"`
	System         SystemParams           `json:"system"`
	Status         JobStatus              `json:"status"`
	StatusMsg      string                 `json:"status_msg,omitempty"`
	ExecutionMeta  map[string]interface{} `json:"execution_meta,omitempty"`
	RunAt          time.Time              `json:"run_at"`
	Priority       int                    `json:"priority"`
	Attempts       int                    `json:"attempts"`
	LastError      string                 `json:"last_error,omitempty"`
	DedupeKey      string                 `json:"dedupe_key,omitempty"`
	FlowKey        string                 `json:"flow_key,omitempty"`
	FlowInstanceID string                 `json:"flow_instance_id,omitempty"`
	StepOrder      int                    `json:"step_order"`
	LockedAt       *time.Time             `json:"locked_at,omitempty"`
	LockedBy       string                 `json:"locked_by,omitempty"`
	CancelledAt    *time.Time             `json:"cancelled_at,omitempty"`
	CancelReason   string                 `json:"cancel_reason,omitempty"`
	SrcID          string                 `json:"src_id,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// MarshalParams folds the business params and the system sub-map back into
// the single JSON document stored in the jobs table.
func (j *Job) MarshalParams() ([]byte, error) {
	combined := make(map[string]interface{}, len(j.Params)+1)
	for k, v := range j.Params {
		combined[k] = v
	}
	combined[systemParamsKey] = j.System
	return json.Marshal(combined)
}

// UnmarshalParams splits a stored params document into business params and
// the reserved system sub-map.
func (j *Job) UnmarshalParams(raw []byte) error {
	if len(raw) == 0 {
		j.Params = map[string]interface{}{}
		j.System = SystemParams{}
		return nil
	}
	var combined map[string]interface{}
	if err := json.Unmarshal(raw, &combined); err != nil {
		return err
	}
	j.System = SystemParams{}
	if sys, ok := combined[systemParamsKey]; ok {
		sysRaw, err := json.Marshal(sys)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(sysRaw, &j.System); err != nil {
			return err
		}
		delete(combined, systemParamsKey)
	}
	j.Params = combined
	return nil
}

// SplitSystemParams extracts the reserved sub-map from an incoming params
// payload, returning the business params and the parsed system fields.
func SplitSystemParams(params map[string]interface{}) (map[string]interface{}, SystemParams, error) {
	business := make(map[string]interface{}, len(params))
	for k, v := range params {
		business[k] = v
	}
	var system SystemParams
	if sys, ok := business[systemParamsKey]; ok {
		raw, err := json.Marshal(sys)
		if err != nil {
			return nil, SystemParams{}, err
		}
		if err := json.Unmarshal(raw, &system); err != nil {
			return nil, SystemParams{}, err
		}
		delete(business, systemParamsKey)
	}
	return business, system, nil
}
