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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// volatileParamKeys are stripped before fingerprinting a parameter map so
// that per-request noise never changes the derived key.
var volatileParamKeys = map[string]struct{}{
	"now":        {},
	"timestamp":  {},
	"ts":         {},
	"request_id": {},
	"trace_id":   {},
	"nonce":      {},
}

// StableBusinessID fingerprints the semantically meaningful parameters of a
// job. When the recipe names stable keys, their present non-empty string
// values are joined in declared order. Otherwise volatile keys are stripped
// and the remaining map is serialized canonically and hashed.
func StableBusinessID(recipe *Recipe, params map[string]interface{}) string {
	if len(recipe.StableKeys) > 0 {
		values := make([]string, 0, len(recipe.StableKeys))
		for _, key := range recipe.StableKeys {
			v, ok := params[key]
			if !ok {
				continue
			}
			s := stringifyParam(v)
			if s == "" {
				continue
			}
			values = append(values, s)
		}
		return strings.Join(values, ":")
	}

	stripped := make(map[string]interface{}, len(params))
	for k, v := range params {
		if _, volatile := volatileParamKeys[k]; volatile {
			continue
		}
		stripped[k] = v
	}
	// json.Marshal sorts map keys at every level, which makes the
	// serialization canonical under key reordering.
	raw, err := json.Marshal(stripped)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", stripped))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// DedupeKeyInput carries everything the key derivation may substitute.
type DedupeKeyInput struct {
	ContactID string
	StepOrder int
	Params    map[string]interface{}
	Now       time.Time
}

// BuildDedupeKey derives the idempotency key for one enqueue of a recipe.
// With a configured template the recipe's ordered substitution names fill
// the template's verbs; without one the default colon-joined form applies.
// Date components put the key inside a calendar-day dedupe window.
func BuildDedupeKey(recipe *Recipe, in DedupeKeyInput) string {
	stableID := StableBusinessID(recipe, in.Params)

	if recipe.DedupeTemplate != "" {
		args := make([]interface{}, 0, len(recipe.DedupeParams))
		for _, name := range recipe.DedupeParams {
			args = append(args, substitutionValue(name, stableID, in))
		}
		return fmt.Sprintf(recipe.DedupeTemplate, args...)
	}

	return strings.Join([]string{
		recipe.Name,
		stableID,
		in.ContactID,
		in.Now.Format("20060102"),
		fmt.Sprintf("step%d", in.StepOrder),
	}, ":")
}

func substitutionValue(name string, stableID string, in DedupeKeyInput) string {
	switch name {
	case "stableId":
		return stableID
	case "contactId":
		return in.ContactID
	case "stepOrder":
		return fmt.Sprintf("%d", in.StepOrder)
	case "dateYmd":
		return in.Now.Format("20060102")
	case "dateYmdHm":
		return in.Now.Format("200601021504")
	case "timestamp":
		return fmt.Sprintf("%d", in.Now.Unix())
	}
	return ""
}

func stringifyParam(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		// JSON numbers decode as float64; render integers without a
		// fractional part so "42" and 42 derive the same key.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}
