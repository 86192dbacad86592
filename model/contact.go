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
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// SuppressionReason is the closed set of reasons a contact can be blocked
// from receiving mail.
type SuppressionReason string

const (
	SuppressionHardBounce      SuppressionReason = "hard_bounce"
	SuppressionTransientBounce SuppressionReason = "transient_bounce"
	SuppressionComplaint       SuppressionReason = "complaint"
	SuppressionManual          SuppressionReason = "manual"
)

func ParseSuppressionReason(raw string) (SuppressionReason, error) {
	switch SuppressionReason(raw) {
	case SuppressionHardBounce, SuppressionTransientBounce, SuppressionComplaint, SuppressionManual:
		return SuppressionReason(raw), nil
	}
	return "", fmt.Errorf("unknown suppression reason %q", raw)
}

// MaxSuppressionTime is the sentinel for permanent suppression. Using a
// far-future timestamp instead of null keeps "never suppressed" and
// "suppressed forever" distinguishable.
func MaxSuppressionTime() time.Time {
	return time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
}

// Contact is a recipient identity keyed by its normalized email address.
type Contact struct {
	ContactID            string             `json:"contact_id"`
	Email                string             `json:"email"`
	EmailNorm            string             `json:"email_norm"`
	FirstName            string             `json:"first_name,omitempty"`
	LastName             string             `json:"last_name,omitempty"`
	IsVerified           bool               `json:"is_verified"`
	SuppressedUntil      *time.Time         `json:"suppressed_until,omitempty"`
	SuppressionReason    *SuppressionReason `json:"suppression_reason,omitempty"`
	BounceCount          int                `json:"bounce_count"`
	BounceType           string             `json:"bounce_type,omitempty"`
	BounceSubtype        string             `json:"bounce_subtype,omitempty"`
	BounceDiagnosticCode string             `json:"bounce_diagnostic_code,omitempty"`
	LastBounceAt         *time.Time         `json:"last_bounce_at,omitempty"`
	ComplaintCount       int                `json:"complaint_count"`
	ComplaintType        string             `json:"complaint_type,omitempty"`
	ComplaintSubtype     string             `json:"complaint_subtype,omitempty"`
	LastComplaintAt      *time.Time         `json:"last_complaint_at,omitempty"`
	FeedbackID           string             `json:"feedback_id,omitempty"`
	LastEmailAt          *time.Time         `json:"last_email_at,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// IsSuppressed reports whether the contact is blocked at the given instant.
func (c *Contact) IsSuppressed(now time.Time) bool {
	return c.SuppressedUntil != nil && c.SuppressedUntil.After(now)
}

// Suppress records a suppression reason and window end on the contact.
func (c *Contact) Suppress(reason SuppressionReason, until time.Time) {
	c.SuppressionReason = &reason
	c.SuppressedUntil = &until
}

var emailPattern = regexp.MustCompile(`[\w.+-]+@[\w.-]+\.[A-Za-z]{2,}`)

// NormalizeEmail lower-cases and trims an address and applies Gmail
// canonicalization: plus-tag and dots stripped from the local part,
// googlemail.com folded into gmail.com. Dot-stripping is Gmail-only; other
// providers treat dots as significant.
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return "", errors.New("invalid email")
	}

	parts := strings.SplitN(email, "@", 2)
	local, domain := parts[0], parts[1]

	if domain == "gmail.com" || domain == "googlemail.com" {
		if idx := strings.Index(local, "+"); idx >= 0 {
			local = local[:idx]
		}
		local = strings.ReplaceAll(local, ".", "")
		domain = "gmail.com"
	}

	return local + "@" + domain, nil
}

// ExtractEmailAddress pulls the first bare address out of a string such as
// `"Name" <user@example.com>`. Returns "" when nothing matches.
func ExtractEmailAddress(data string) string {
	return emailPattern.FindString(data)
}
