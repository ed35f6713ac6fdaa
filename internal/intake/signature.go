package intake

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
)

// Svix signature headers.
const (
	HeaderSvixID        = "svix-id"
	HeaderSvixTimestamp = "svix-timestamp"
	HeaderSvixSignature = "svix-signature"
)

const (
	secretPrefix       = "whsec_"
	signatureTolerance = 5 * time.Minute
)

// SignatureVerifier checks Svix webhook signatures against the current
// signing secret and, during rotation, the previous one.
type SignatureVerifier struct {
	keys [][]byte
	now  func() time.Time
}

// NewSignatureVerifier decodes the given secrets. Empty secrets are skipped;
// at least one must remain.
func NewSignatureVerifier(secrets ...string) (*SignatureVerifier, error) {
	v := &SignatureVerifier{now: time.Now}
	for _, s := range secrets {
		if s == "" {
			continue
		}
		key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, secretPrefix))
		if err != nil {
			return nil, fmt.Errorf("decoding webhook secret: %w", err)
		}
		v.keys = append(v.keys, key)
	}
	if len(v.keys) == 0 {
		return nil, fmt.Errorf("no webhook signing secret configured")
	}
	return v, nil
}

// SvixHeaders extracts the three signature headers, failing on any that are missing.
func SvixHeaders(h http.Header) (map[string]string, error) {
	out := make(map[string]string, 3)
	for _, name := range []string{HeaderSvixID, HeaderSvixTimestamp, HeaderSvixSignature} {
		value := h.Get(name)
		if value == "" {
			return nil, domain.NewUnauthorizedError("missing required header: " + name)
		}
		out[name] = value
	}
	return out, nil
}

// Verify authenticates body against the svix headers.
func (v *SignatureVerifier) Verify(body []byte, headers map[string]string) error {
	msgID := headers[HeaderSvixID]
	timestamp := headers[HeaderSvixTimestamp]
	signatures := headers[HeaderSvixSignature]
	if msgID == "" || timestamp == "" || signatures == "" {
		return domain.NewUnauthorizedError("missing svix signature headers")
	}

	sec, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return domain.NewUnauthorizedError("invalid signature timestamp")
	}
	sent := time.Unix(sec, 0)
	now := v.now()
	if now.Sub(sent) > signatureTolerance {
		return domain.NewUnauthorizedError("message timestamp too old")
	}
	if sent.Sub(now) > signatureTolerance {
		return domain.NewUnauthorizedError("message timestamp too new")
	}

	for _, key := range v.keys {
		expected := sign(key, msgID, timestamp, body)
		for _, candidate := range strings.Fields(signatures) {
			version, sig, ok := strings.Cut(candidate, ",")
			if !ok || version != "v1" {
				continue
			}
			if hmac.Equal([]byte(sig), []byte(expected)) {
				return nil
			}
		}
	}
	return domain.NewUnauthorizedError("no matching webhook signature")
}

func sign(key []byte, msgID, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msgID + "." + timestamp + "."))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
