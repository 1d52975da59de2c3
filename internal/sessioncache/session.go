// Package sessioncache provides the fast ephemeral store edge devices hit to
// validate access tokens. Entries live only for the session's TTL; the
// durable ledger keeps the audit copy.
package sessioncache

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned when a token has no live entry, either
// because it never existed or because its TTL ran out.
var ErrSessionNotFound = errors.New("sessioncache: session not found")

// KeyPrefix namespaces session keys in the backing store.
const KeyPrefix = "session:"

// Session is the cached projection of an active WiFi session.
// SSID and password are snapshotted at issuance so later credential
// rotations on the hotspot do not alter sessions already sold.
type Session struct {
	Token            string    `json:"sessionToken"`
	UserID           string    `json:"userId"`
	HotspotID        string    `json:"pinId"` // wire name kept from the mobile clients
	DeviceID         string    `json:"deviceId"`
	SSID             string    `json:"ssid"`
	Password         string    `json:"password"`
	DurationMinutes  int       `json:"durationMinutes"`
	CreatedAt        time.Time `json:"createdAt"`
	ExpiresAt        time.Time `json:"expiresAt"`
	PaymentIntentID  string    `json:"stripePaymentId"`
}

// Store is a key -> session map with per-key expiry.
type Store interface {
	// Put writes the session under its token with the given TTL,
	// replacing any existing entry.
	Put(ctx context.Context, s *Session, ttl time.Duration) error
	// Get returns the live session for a token, or ErrSessionNotFound.
	Get(ctx context.Context, token string) (*Session, error)
	// Remaining reports how long the entry has left to live.
	Remaining(ctx context.Context, token string) (time.Duration, error)
	// Delete removes the entry, reporting whether it existed.
	Delete(ctx context.Context, token string) (bool, error)
}
