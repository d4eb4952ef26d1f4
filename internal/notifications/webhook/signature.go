// Package webhook delivers notifications to HTTP endpoints: plain webhooks,
// Slack, Microsoft Teams, Zapier and n8n.
//
// Generic webhooks may be signed with HMAC-SHA256. The header carries both the
// current and, during rotation, the previous secret's signature so receivers
// can roll secrets without dropping alerts:
//
//	X-AlertFlow-Signature: t=<unix>,v1=<hex>[,v1_old=<hex>]
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"alertflow/internal/types"
)

const SignatureHeader = "X-AlertFlow-Signature"

// Signer computes signature headers from a channel's configuration.
type Signer struct{}

// Sign returns the header value, or "" when the channel has no secret.
//
// Recognized configuration keys:
//   - "secret": current signing secret.
//   - "previous_secret": old secret during rotation.
//   - "previous_secret_expires_at": RFC3339 end of the rotation window. The
//     previous signature is omitted once it passes, or when it is missing or
//     malformed.
func (Signer) Sign(payload []byte, cfg types.ChannelConfig, now time.Time) string {
	secret := cfg.String("secret")
	if secret == "" {
		return ""
	}

	ts := now.Unix()
	signed := fmt.Sprintf("%d.%s", ts, payload)
	header := fmt.Sprintf("t=%d,v1=%s", ts, computeHMAC(signed, secret))

	prev := cfg.String("previous_secret")
	if prev == "" {
		return header
	}
	expiresAt, err := time.Parse(time.RFC3339, cfg.String("previous_secret_expires_at"))
	if err != nil || now.After(expiresAt) {
		return header
	}
	return header + ",v1_old=" + computeHMAC(signed, prev)
}

// VerifySignature checks header against payload with the receiver's current
// and (optional) previous secrets. maxAge bounds the timestamp skew; zero
// disables the check.
func VerifySignature(payload []byte, header, current, previous string, maxAge time.Duration, now time.Time) bool {
	parts := parseSignatureHeader(header)
	if parts.timestamp == "" || parts.v1 == "" {
		return false
	}
	if maxAge > 0 {
		var ts int64
		if _, err := fmt.Sscanf(parts.timestamp, "%d", &ts); err != nil {
			return false
		}
		if d := now.Sub(time.Unix(ts, 0)); d > maxAge || d < -maxAge {
			return false
		}
	}

	signed := parts.timestamp + "." + string(payload)
	matches := func(sig, key string) bool {
		return sig != "" && key != "" && hmac.Equal([]byte(sig), []byte(computeHMAC(signed, key)))
	}
	return matches(parts.v1, current) ||
		matches(parts.v1Old, previous) ||
		matches(parts.v1, previous)
}

type signatureParts struct {
	timestamp string
	v1        string
	v1Old     string
}

func parseSignatureHeader(header string) signatureParts {
	var parts signatureParts
	for _, segment := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(segment, "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			parts.timestamp = strings.TrimSpace(value)
		case "v1":
			parts.v1 = strings.TrimSpace(value)
		case "v1_old":
			parts.v1Old = strings.TrimSpace(value)
		}
	}
	return parts
}

func computeHMAC(content, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(content))
	return hex.EncodeToString(mac.Sum(nil))
}
