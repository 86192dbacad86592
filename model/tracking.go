package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// TrackingType distinguishes what a tracking row instruments.
type TrackingType string

const (
	TrackingOpen  TrackingType = "open"
	TrackingClick TrackingType = "click"
)

func ParseTrackingType(raw string) (TrackingType, error) {
	switch TrackingType(raw) {
	case TrackingOpen, TrackingClick:
		return TrackingType(raw), nil
	}
	return "", fmt.Errorf("unknown tracking type %q", raw)
}

// Tracking is one instrumented element of a sent message: a rewritten link
// or the open pixel. Hash is a per-row random token signed into the tracking
// URL so rows cannot be enumerated.
type Tracking struct {
	TrackingID  string       `json:"tracking_id"`
	MessageID   string       `json:"message_id"`
	ContactID   string       `json:"contact_id,omitempty"`
	Type        TrackingType `json:"type"`
	Hash        string       `json:"hash"`
	TargetURL   string       `json:"target_url,omitempty"`
	HitCount    int          `json:"hit_count"`
	FirstHitAt  *time.Time   `json:"first_hit_at,omitempty"`
	LastHitAt   *time.Time   `json:"last_hit_at,omitempty"`
	LastHitIP   string       `json:"last_hit_ip,omitempty"`
	LastHitUA   string       `json:"last_hit_ua,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// GenerateTrackingHash returns a random 16-byte hex token.
func GenerateTrackingHash() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the OS entropy source is broken.
		panic(err)
	}
	return hex.EncodeToString(buf)
}
