package signedtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	codec := NewCodec("secret")

	token, err := codec.Encode(map[string]interface{}{"i": float64(42)})
	require.NoError(t, err)
	assert.Equal(t, 2, len(strings.Split(token, "~")))

	params, err := codec.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"i": float64(42)}, params)
}

func TestEncodeDecodeWithContext(t *testing.T) {
	codec := NewCodec("secret")

	token, err := codec.EncodeWithContext(map[string]interface{}{"m": "msg_1"}, "a1b2c3")
	require.NoError(t, err)
	assert.Equal(t, 3, len(strings.Split(token, "~")))

	params, err := codec.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, "msg_1", params["m"])
}

func TestContextBindsSignature(t *testing.T) {
	codec := NewCodec("secret")

	token, err := codec.EncodeWithContext(map[string]interface{}{"m": "msg_1"}, "hash-a")
	require.NoError(t, err)

	// swap the context for another value: signature no longer matches
	parts := strings.Split(token, "~")
	tampered := parts[0] + "~hash-b~" + parts[2]
	_, err = codec.Decode(tampered)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestDecodeTamperedSignature(t *testing.T) {
	codec := NewCodec("secret")

	token, err := codec.Encode(map[string]interface{}{"i": 42})
	require.NoError(t, err)

	last := token[len(token)-1]
	flip := byte('A')
	if last == 'A' {
		flip = 'B'
	}
	_, err = codec.Decode(token[:len(token)-1] + string(flip))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestDecodeWrongSecret(t *testing.T) {
	token, err := NewCodec("secret-one").Encode(map[string]interface{}{"i": 42})
	require.NoError(t, err)

	_, err = NewCodec("secret-two").Decode(token)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestDecodeGarbledPayload(t *testing.T) {
	codec := NewCodec("secret")

	cases := []string{
		"",
		"just-one-part",
		"a~b~c~d",
		"~sig",
		"payload~",
	}
	for _, tc := range cases {
		_, err := codec.Decode(tc)
		assert.ErrorIs(t, err, ErrInvalidPayload, "token %q", tc)
	}
}

func TestDecodeNonObjectPayload(t *testing.T) {
	codec := NewCodec("secret")

	// correctly signed token whose payload is a JSON array, not an object
	payload := base64.RawURLEncoding.EncodeToString([]byte(`[1,2,3]`))
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(payload))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))[:DefaultSignatureLength]

	_, err := codec.Decode(payload + "~" + sig)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDecodeLegacyFormat(t *testing.T) {
	codec := NewCodec("secret")

	raw, err := json.Marshal(map[string]interface{}{"member": "mbr_7"})
	require.NoError(t, err)
	payload := base64.StdEncoding.EncodeToString(raw)

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(payload))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	params, err := codec.Decode(payload + "." + sig)
	require.NoError(t, err)
	assert.Equal(t, "mbr_7", params["member"])
}

func TestDecodeLegacyFormatWithContext(t *testing.T) {
	codec := NewCodec("secret")

	raw, err := json.Marshal(map[string]interface{}{"m": "msg_9"})
	require.NoError(t, err)
	payload := base64.StdEncoding.EncodeToString(raw)

	mac := hmac.New(sha256.New, []byte("secret_ctx42"))
	mac.Write([]byte(payload))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	params, err := codec.Decode(payload + ".ctx42." + sig)
	require.NoError(t, err)
	assert.Equal(t, "msg_9", params["m"])
}

func TestSignatureTruncation(t *testing.T) {
	codec := NewCodec("secret")

	token, err := codec.Encode(map[string]interface{}{"i": 42})
	require.NoError(t, err)

	parts := strings.Split(token, "~")
	require.Len(t, parts, 2)
	assert.Len(t, parts[1], DefaultSignatureLength)
}
