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
	"crypto/hmac"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/surelv/courier/config"
	"github.com/surelv/courier/internal/signedtoken"
	"github.com/surelv/courier/model"
)

var hrefPattern = regexp.MustCompile(`(?i)(<a\s[^>]*href=")([^"]+)(")`)

// trackingCodec signs tracking tokens with a secret derived from the base
// email secret, so tracking links and unsubscribe links never share a key.
func trackingCodec(cnf *config.Configuration) *signedtoken.Codec {
	return signedtoken.NewCodec("tracking_" + cnf.Email.Secret)
}

func unsubscribeCodec(cnf *config.Configuration) *signedtoken.Codec {
	return signedtoken.NewCodec(cnf.Email.Secret)
}

// instrumentMessage rewrites the HTML body's links into click-tracking URLs
// and appends an open pixel, lazily inserting one tracking row per
// instrumented element inside the caller's transaction. Without a configured
// URL domain the body is left untouched.
func (c *Courier) instrumentMessage(ctx context.Context, tx *sql.Tx, msg *model.EmailMessage) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}
	if cnf.Email.URLDomain == "" || msg.BodyHTML == "" {
		return nil
	}
	codec := trackingCodec(cnf)
	now := time.Now()

	var instrumentErr error
	body := hrefPattern.ReplaceAllStringFunc(msg.BodyHTML, func(match string) string {
		if instrumentErr != nil {
			return match
		}
		groups := hrefPattern.FindStringSubmatch(match)
		target := groups[2]
		if isExcludedTarget(target) {
			return match
		}

		record := &model.Tracking{
			TrackingID: model.GenerateUUIDWithSuffix("trk"),
			MessageID:  msg.MessageID,
			ContactID:  msg.ContactID,
			Type:       model.TrackingClick,
			Hash:       model.GenerateTrackingHash(),
			TargetURL:  target,
			CreatedAt:  now,
		}
		if err := c.datasource.CreateTrackingInTx(ctx, tx, record); err != nil {
			instrumentErr = err
			return match
		}
		token, err := codec.EncodeWithContext(map[string]interface{}{"h": record.Hash, "u": target}, record.Hash)
		if err != nil {
			instrumentErr = err
			return match
		}
		return groups[1] + trackingURL(cnf, model.TrackingClick, record.TrackingID, token) + groups[3]
	})
	if instrumentErr != nil {
		return instrumentErr
	}

	pixel := &model.Tracking{
		TrackingID: model.GenerateUUIDWithSuffix("trk"),
		MessageID:  msg.MessageID,
		ContactID:  msg.ContactID,
		Type:       model.TrackingOpen,
		Hash:       model.GenerateTrackingHash(),
		CreatedAt:  now,
	}
	if err := c.datasource.CreateTrackingInTx(ctx, tx, pixel); err != nil {
		return err
	}
	token, err := codec.EncodeWithContext(map[string]interface{}{"h": pixel.Hash}, pixel.Hash)
	if err != nil {
		return err
	}
	pixelTag := fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" style="display:none"/>`, trackingURL(cnf, model.TrackingOpen, pixel.TrackingID, token))
	if idx := strings.LastIndex(strings.ToLower(body), "</body>"); idx >= 0 {
		body = body[:idx] + pixelTag + body[idx:]
	} else {
		body += pixelTag
	}

	msg.BodyHTML = body
	return nil
}

// isExcludedTarget filters link targets that must never be rewritten:
// non-http schemes, anchors, template placeholders, and links that already
// point at the tracking or unsubscribe endpoints.
func isExcludedTarget(target string) bool {
	lower := strings.ToLower(strings.TrimSpace(target))
	switch {
	case strings.HasPrefix(lower, "mailto:"),
		strings.HasPrefix(lower, "tel:"),
		strings.HasPrefix(lower, "#"),
		strings.Contains(lower, "/track/"),
		strings.Contains(lower, "/unsubscribe/"),
		strings.Contains(target, "{{"):
		return true
	}
	return false
}

func trackingURL(cnf *config.Configuration, t model.TrackingType, recordID string, token string) string {
	return fmt.Sprintf("%s://%s/track/%s/%s/%s", cnf.Email.URLScheme, cnf.Email.URLDomain, t, recordID, token)
}

// RecordTrackingEvent resolves one observed click or open: the token is
// verified against the record's own hash, the hit counter and first/last
// seen fields advance, and an email event is logged. For clicks the stored
// target URL is returned for the redirect.
func (c *Courier) RecordTrackingEvent(ctx context.Context, trackingType model.TrackingType, recordID string, token string, ip string, userAgent string) (string, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return "", err
	}

	record, err := c.datasource.GetTracking(ctx, recordID)
	if err != nil {
		return "", err
	}
	if record.Type != trackingType {
		return "", signedtoken.ErrInvalidPayload
	}

	params, err := trackingCodec(cnf).Decode(token)
	if err != nil {
		return "", err
	}
	hash, _ := params["h"].(string)
	if !hmac.Equal([]byte(hash), []byte(record.Hash)) {
		return "", signedtoken.ErrInvalidSignature
	}

	now := time.Now()
	if err := c.datasource.RecordTrackingHit(ctx, record.TrackingID, ip, userAgent, now); err != nil {
		return "", err
	}

	eventType := model.EventOpen
	if trackingType == model.TrackingClick {
		eventType = model.EventClick
	}
	event := &model.EmailEvent{
		EventID:    model.GenerateUUIDWithSuffix("evt"),
		MessageID:  record.MessageID,
		ContactID:  record.ContactID,
		Type:       eventType,
		Payload:    map[string]interface{}{"tracking_id": record.TrackingID, "ip": ip, "user_agent": userAgent},
		OccurredAt: now,
		CreatedAt:  now,
	}
	if err := c.datasource.RecordEvent(ctx, event); err != nil {
		logrus.Errorf("failed to record %s event for tracking %s: %v", eventType, record.TrackingID, err)
	}
	return record.TargetURL, nil
}

// UnsubscribeLink builds the signed unsubscribe URL for a member and the
// message that carries it. Payload and signature travel as separate path
// segments.
func UnsubscribeLink(cnf *config.Configuration, memberID string, messageID string) (string, error) {
	token, err := unsubscribeCodec(cnf).Encode(map[string]interface{}{
		"member_id":  memberID,
		"message_id": messageID,
	})
	if err != nil {
		return "", err
	}
	parts := strings.SplitN(token, "~", 2)
	return fmt.Sprintf("%s://%s/unsubscribe/%s/%s/%s/%s", cnf.Email.URLScheme, cnf.Email.URLDomain, memberID, messageID, parts[0], parts[1]), nil
}

// Unsubscribe verifies a signed unsubscribe request, marks the member
// unsubscribed, records a per-type opt-out when the member's list carries a
// sub-type, and logs an unsubscribe event.
func (c *Courier) Unsubscribe(ctx context.Context, memberID string, messageID string, payload string, signature string) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	params, err := unsubscribeCodec(cnf).Decode(payload + "~" + signature)
	if err != nil {
		return err
	}
	if tokenMember, _ := params["member_id"].(string); tokenMember != memberID {
		return signedtoken.ErrInvalidSignature
	}
	if tokenMessage, _ := params["message_id"].(string); tokenMessage != messageID {
		return signedtoken.ErrInvalidSignature
	}

	member, err := c.datasource.GetListMember(ctx, memberID)
	if err != nil {
		return err
	}

	now := time.Now()
	if err := c.datasource.UnsubscribeMember(ctx, member.MemberID, now); err != nil {
		return err
	}

	list, err := c.datasource.GetList(ctx, member.ListID)
	if err == nil && list.SubType != "" {
		// the authorization scope lives on the membership; the list's
		// scope only covers members enrolled without one
		scopeType, scopeID := member.ScopeType, member.ScopeID
		if scopeType == "" && scopeID == "" {
			scopeType, scopeID = list.ScopeType, list.ScopeID
		}
		unsubscribe := &model.TypeUnsubscribe{
			UnsubscribeID: model.GenerateUUIDWithSuffix("uns"),
			ContactID:     member.ContactID,
			MessageType:   list.SubType,
			ScopeType:     scopeType,
			ScopeID:       scopeID,
			CreatedAt:     now,
		}
		if err := c.datasource.AddTypeUnsubscribe(ctx, unsubscribe); err != nil {
			logrus.Errorf("failed to record type unsubscribe for member %s: %v", member.MemberID, err)
		}
	}

	event := &model.EmailEvent{
		EventID:    model.GenerateUUIDWithSuffix("evt"),
		MessageID:  messageID,
		ContactID:  member.ContactID,
		Type:       model.EventUnsubscribe,
		Payload:    map[string]interface{}{"member_id": member.MemberID, "list_id": member.ListID},
		OccurredAt: now,
		CreatedAt:  now,
	}
	if err := c.datasource.RecordEvent(ctx, event); err != nil {
		logrus.Errorf("failed to record unsubscribe event for member %s: %v", member.MemberID, err)
	}
	return nil
}
