package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the provider's webhook signature:
// "t=<unix>,v1=<hex hmac>", where the HMAC-SHA256 covers "<t>.<body>".
const SignatureHeader = "Billing-Signature"

// DefaultTolerance bounds how stale a signed timestamp may be before the
// delivery is treated as a replay.
const DefaultTolerance = 5 * time.Minute

var ErrBadSignature = errors.New("invalid webhook signature")

// Verifier authenticates inbound webhook payloads against the shared
// endpoint secret. It is pure validation; the caller must reject the
// request without further processing on error.
type Verifier struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{
		secret:    secret,
		tolerance: tolerance,
		now:       time.Now,
	}
}

// Verify checks the signature header against the raw body. A missing
// header is treated the same as a bad signature.
func (v *Verifier) Verify(payload []byte, header string) error {
	if header == "" {
		return fmt.Errorf("%w: missing header", ErrBadSignature)
	}

	var timestamp int64 = -1
	var candidates [][]byte
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: bad timestamp", ErrBadSignature)
			}
			timestamp = ts
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			candidates = append(candidates, sig)
		}
	}
	if timestamp < 0 || len(candidates) == 0 {
		return fmt.Errorf("%w: missing timestamp or signature", ErrBadSignature)
	}

	if d := v.now().Sub(time.Unix(timestamp, 0)); d > v.tolerance || d < -v.tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrBadSignature)
	}

	expected := computeSignature(v.secret, timestamp, payload)
	// More than one v1 entry appears during secret rotation; any match wins.
	for _, sig := range candidates {
		if hmac.Equal(sig, expected) {
			return nil
		}
	}
	return ErrBadSignature
}

func computeSignature(secret string, timestamp int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return mac.Sum(nil)
}

// Sign produces a valid signature header for the payload. Tests use it;
// production signatures come from the provider.
func Sign(secret string, timestamp time.Time, payload []byte) string {
	sig := computeSignature(secret, timestamp.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", timestamp.Unix(), hex.EncodeToString(sig))
}
