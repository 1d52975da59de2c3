// Package token mints opaque single-use access credentials.
package token

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidDuration is returned when a non-positive duration is requested.
var ErrInvalidDuration = errors.New("token: duration must be positive")

// Issuer mints session tokens and their expiry timestamps.
// Tokens are random UUIDs (122 bits of entropy), never derived from
// session contents, so possession of one proves nothing but payment.
type Issuer struct{}

// NewIssuer creates a token issuer.
func NewIssuer() *Issuer {
	return &Issuer{}
}

// Issue mints a fresh token expiring durationMinutes after now.
func (i *Issuer) Issue(durationMinutes int, now time.Time) (string, time.Time, error) {
	if durationMinutes <= 0 {
		return "", time.Time{}, ErrInvalidDuration
	}
	expiresAt := now.Add(time.Duration(durationMinutes) * time.Minute)
	return uuid.New().String(), expiresAt, nil
}
