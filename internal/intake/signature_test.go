package intake

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
)

var (
	currentSecret  = "whsec_" + base64.StdEncoding.EncodeToString([]byte("current-signing-key"))
	previousSecret = "whsec_" + base64.StdEncoding.EncodeToString([]byte("previous-signing-key"))
)

// signedHeaders returns svix headers for body signed with secret at ts.
func signedHeaders(t *testing.T, secret, msgID string, ts time.Time, body []byte) http.Header {
	t.Helper()
	key, err := base64.StdEncoding.DecodeString(secret[len("whsec_"):])
	if err != nil {
		t.Fatalf("decoding test secret: %v", err)
	}
	timestamp := strconv.FormatInt(ts.Unix(), 10)

	h := http.Header{}
	h.Set(HeaderSvixID, msgID)
	h.Set(HeaderSvixTimestamp, timestamp)
	h.Set(HeaderSvixSignature, "v1,"+sign(key, msgID, timestamp, body))
	return h
}

func verifyHeader(v *SignatureVerifier, body []byte, h http.Header) error {
	headers, err := SvixHeaders(h)
	if err != nil {
		return err
	}
	return v.Verify(body, headers)
}

func TestSignatureVerifier(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	body := []byte(`{"id":"evt_1","type":"ticket.updated"}`)

	v, err := NewSignatureVerifier(currentSecret, previousSecret)
	if err != nil {
		t.Fatalf("NewSignatureVerifier error: %v", err)
	}
	v.now = func() time.Time { return now }

	other := "whsec_" + base64.StdEncoding.EncodeToString([]byte("someone-else"))

	tests := []struct {
		name    string
		headers http.Header
		body    []byte
		wantErr bool
	}{
		{"current secret", signedHeaders(t, currentSecret, "msg_1", now, body), body, false},
		{"previous secret during rotation", signedHeaders(t, previousSecret, "msg_1", now, body), body, false},
		{"within tolerance", signedHeaders(t, currentSecret, "msg_1", now.Add(-4*time.Minute), body), body, false},
		{"unknown secret", signedHeaders(t, other, "msg_1", now, body), body, true},
		{"tampered body", signedHeaders(t, currentSecret, "msg_1", now, body), []byte(`{"id":"evt_2"}`), true},
		{"too old", signedHeaders(t, currentSecret, "msg_1", now.Add(-6*time.Minute), body), body, true},
		{"too new", signedHeaders(t, currentSecret, "msg_1", now.Add(6*time.Minute), body), body, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifyHeader(v, tt.body, tt.headers)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !domain.IsUnauthorized(err) {
					t.Errorf("expected auth error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestSignatureVerifier_MultipleSignatures(t *testing.T) {
	now := time.Now()
	body := []byte(`{}`)
	v, _ := NewSignatureVerifier(currentSecret)

	h := signedHeaders(t, currentSecret, "msg_1", now, body)
	h.Set(HeaderSvixSignature, "v1,bm90LWl0 v2,ignored "+h.Get(HeaderSvixSignature))

	if err := verifyHeader(v, body, h); err != nil {
		t.Errorf("one matching signature among several should verify: %v", err)
	}
}

func TestSvixHeaders_Missing(t *testing.T) {
	for _, missing := range []string{HeaderSvixID, HeaderSvixTimestamp, HeaderSvixSignature} {
		h := signedHeaders(t, currentSecret, "msg_1", time.Now(), []byte(`{}`))
		h.Del(missing)

		_, err := SvixHeaders(h)
		if !domain.IsUnauthorized(err) {
			t.Errorf("missing %s: expected auth error, got %v", missing, err)
		}
	}
}

func TestNewSignatureVerifier_Secrets(t *testing.T) {
	if _, err := NewSignatureVerifier("", ""); err == nil {
		t.Error("expected error with no secrets")
	}
	if _, err := NewSignatureVerifier("whsec_!!not-base64!!"); err == nil {
		t.Error("expected error for undecodable secret")
	}

	raw := base64.StdEncoding.EncodeToString([]byte("no-prefix"))
	if _, err := NewSignatureVerifier(raw); err != nil {
		t.Errorf("secret without whsec_ prefix should be accepted: %v", err)
	}
}
