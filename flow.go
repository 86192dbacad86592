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
	"github.com/google/uuid"
)

// flowNamespace is the fixed namespace for workflow instance ids. Changing
// it would silently detach new jobs from existing workflow runs.
var flowNamespace = uuid.MustParse("6ba7b811-9dad-11d1-80b4-00c04fd430c8")

// FlowInstanceID derives the deterministic workflow-instance identifier for
// a flow key and stable business id. Jobs belonging to one logical run
// compute the same instance id independently, without coordination.
func FlowInstanceID(flowKey string, stableID string) string {
	return uuid.NewSHA1(flowNamespace, []byte(flowKey+":"+stableID)).String()
}
