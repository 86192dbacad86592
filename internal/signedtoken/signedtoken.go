package signedtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

// Wire formats. Current tokens are tilde-separated with unpadded base64url
// parts and a truncated signature; legacy tokens are dot-separated with
// padded standard base64 and a full-length signature. Decoding supports
// both so previously issued links keep working.

// DefaultSignatureLength is the truncation applied to current-format
// signatures.
const DefaultSignatureLength = 32

var (
	// ErrInvalidSignature is returned when a token's signature does not
	// match the recomputed one. Deliberately generic: callers must not leak
	// which part of the check failed.
	ErrInvalidSignature = errors.New("invalid token signature")

	// ErrInvalidPayload is returned for structural failures: wrong part
	// count, bad encoding, or a payload that is not a JSON object.
	ErrInvalidPayload = errors.New("invalid token payload")
)

// format is one wire-format strategy, selected by separator.
type format struct {
	separator string
	encoding  *base64.Encoding
	truncate  bool
}

var (
	currentFormat = format{separator: "~", encoding: base64.RawURLEncoding, truncate: true}
	legacyFormat  = format{separator: ".", encoding: base64.StdEncoding, truncate: false}
)

// Codec signs and verifies compact parameter maps embedded in tracking and
// unsubscribe URLs.
type Codec struct {
	secret    string
	sigLength int
}

// NewCodec creates a codec over the given base secret with the default
// signature truncation.
func NewCodec(secret string) *Codec {
	return &Codec{secret: secret, sigLength: DefaultSignatureLength}
}

// Encode produces a current-format token `payload~signature` signed with
// the base secret.
func (c *Codec) Encode(params map[string]interface{}) (string, error) {
	return c.encode(params, "")
}

// EncodeWithContext produces a current-format token
// `payload~context~signature`. The signing secret is derived from the
// context (`secret + "_" + context`), binding the signature to that context
// value. For tracking links the context is the record's random hash.
func (c *Codec) EncodeWithContext(params map[string]interface{}, context string) (string, error) {
	if context == "" {
		return "", errors.New("context is required")
	}
	return c.encode(params, context)
}

func (c *Codec) encode(params map[string]interface{}, context string) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	payload := currentFormat.encoding.EncodeToString(raw)
	sig := c.sign(currentFormat, payload, context)
	if context != "" {
		return payload + "~" + context + "~" + sig, nil
	}
	return payload + "~" + sig, nil
}

// Decode verifies a token in either wire format and returns its parameter
// map. The format is detected by separator; the signature is recomputed
// with the matching secret-derivation rule and compared in constant time.
func (c *Codec) Decode(token string) (map[string]interface{}, error) {
	f := legacyFormat
	if strings.Contains(token, "~") {
		f = currentFormat
	}

	parts := strings.Split(token, f.separator)
	var payload, context, sig string
	switch len(parts) {
	case 2:
		payload, sig = parts[0], parts[1]
	case 3:
		payload, context, sig = parts[0], parts[1], parts[2]
	default:
		return nil, ErrInvalidPayload
	}
	if payload == "" || sig == "" {
		return nil, ErrInvalidPayload
	}

	expected := c.sign(f, payload, context)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return nil, ErrInvalidSignature
	}

	raw, err := f.encoding.DecodeString(payload)
	if err != nil {
		return nil, ErrInvalidPayload
	}
	var params map[string]interface{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, ErrInvalidPayload
	}
	return params, nil
}

func (c *Codec) sign(f format, payload, context string) string {
	secret := c.secret
	if context != "" {
		secret = secret + "_" + context
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	sig := f.encoding.EncodeToString(mac.Sum(nil))
	if f.truncate && len(sig) > c.sigLength {
		sig = sig[:c.sigLength]
	}
	return sig
}
