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
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestFlowInstanceIDDeterministic(t *testing.T) {
	a := FlowInstanceID("onboarding", "acc_42")
	b := FlowInstanceID("onboarding", "acc_42")
	assert.Equal(t, a, b)

	parsed, err := uuid.Parse(a)
	assert.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())
}

func TestFlowInstanceIDSeparatesInputs(t *testing.T) {
	assert.NotEqual(t, FlowInstanceID("onboarding", "acc_42"), FlowInstanceID("onboarding", "acc_43"))
	assert.NotEqual(t, FlowInstanceID("onboarding", "acc_42"), FlowInstanceID("winback", "acc_42"))
}
