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

	"github.com/sirupsen/logrus"

	"github.com/surelv/courier/model"
)

// ReleaseDraftJobs flips parked draft jobs to queued so the worker loops
// can claim them. Returns how many jobs were released.
func (c *Courier) ReleaseDraftJobs(ctx context.Context, limit int) (int, error) {
	jobs, err := c.datasource.GetDraftJobs(ctx, limit)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, job := range jobs {
		if err := c.datasource.UpdateJobStatus(ctx, job.JobID, model.JobStatusQueued, "released from draft", nil); err != nil {
			logrus.Errorf("failed to release draft job %s: %v", job.JobID, err)
			continue
		}
		released++
		logrus.Infof("released draft job %s (recipe %q)", job.JobID, job.Name)
	}
	return released, nil
}

// CancelJob marks a draft or queued job cancelled; running and terminal
// jobs are conflicts.
func (c *Courier) CancelJob(ctx context.Context, jobID string, reason string) error {
	return c.datasource.CancelJob(ctx, jobID, reason)
}
