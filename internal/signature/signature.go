// Package signature authenticates inbound webhook deliveries from the
// messaging platform.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	Version   = "v0"
	MaxSkew   = 5 * time.Minute
	prefix    = Version + "="
	hexSHA256 = sha256.Size * 2
)

// Verifier checks HMAC-SHA256 signatures over "v0:<timestamp>:<body>".
// An empty secret never verifies.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// WithClock swaps the time source used for the replay window.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	if now != nil {
		v.now = now
	}
	return v
}

func (v *Verifier) Verify(signatureHeader, timestampHeader string, body []byte) bool {
	return verifyAt(v.secret, signatureHeader, timestampHeader, body, v.now())
}

// Verify is the stateless form of Verifier.Verify using the wall clock.
func Verify(secret, signatureHeader, timestampHeader string, body []byte) bool {
	return verifyAt([]byte(secret), signatureHeader, timestampHeader, body, time.Now())
}

// Sign returns the header value the platform would send for body at ts.
func Sign(secret string, ts int64, body []byte) string {
	return prefix + hex.EncodeToString(mac([]byte(secret), strconv.FormatInt(ts, 10), body))
}

func verifyAt(secret []byte, signatureHeader, timestampHeader string, body []byte, now time.Time) bool {
	if len(secret) == 0 {
		return false
	}

	timestampHeader = strings.TrimSpace(timestampHeader)
	ts, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return false
	}

	skew := math.Abs(float64(now.Unix() - ts))
	if skew > MaxSkew.Seconds() {
		return false
	}

	if len(signatureHeader) != len(prefix)+hexSHA256 || !strings.HasPrefix(signatureHeader, prefix) {
		return false
	}

	expected := prefix + hex.EncodeToString(mac(secret, timestampHeader, body))

	return hmac.Equal([]byte(signatureHeader), []byte(expected))
}

func mac(secret []byte, ts string, body []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(Version + ":" + ts + ":"))
	h.Write(body)
	return h.Sum(nil)
}
