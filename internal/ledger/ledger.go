// Package ledger provides the durable system-of-record store for hotspots,
// payment transactions and WiFi session history.
package ledger

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrHotspotNotFound       = errors.New("ledger: hotspot not found")
	ErrTransactionNotFound   = errors.New("ledger: transaction not found")
	ErrSessionRecordNotFound = errors.New("ledger: session record not found")
	ErrDuplicateIntent       = errors.New("ledger: payment intent already recorded")
	ErrDuplicateToken        = errors.New("ledger: session token already recorded")
)

// TransactionStatus is the lifecycle state of a payment transaction.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionSucceeded TransactionStatus = "succeeded"
	TransactionFailed    TransactionStatus = "failed"
	// TransactionRefunded is reachable only from succeeded. No refund flow
	// writes it yet; the state exists so history rows can carry it.
	TransactionRefunded TransactionStatus = "refunded"
)

// SessionStatus is the lifecycle state of a durable session record.
// Once a record leaves active it never returns.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionExpired SessionStatus = "expired"
	SessionRevoked SessionStatus = "revoked"
)

// Hotspot is a physical WiFi access point sellable by time.
// IsOnline is derived from heartbeats and goes stale past the liveness
// threshold; it is advisory, never authoritative.
type Hotspot struct {
	ID                  int64
	DeviceID            string
	Name                string
	IconURL             string
	Latitude            float64
	Longitude           float64
	SSID                string
	Password            string
	PricePerMinuteCents int
	StripeAccountID     string
	IsActive            bool
	IsOnline            bool
	LastHeartbeatAt     *time.Time
	CreatedAt           time.Time
}

// PriceCents returns the charge for the given duration at this hotspot.
func (h *Hotspot) PriceCents(durationMinutes int) int {
	return h.PricePerMinuteCents * durationMinutes
}

// Transaction is the durable payment record backing a session.
// PlatformFeeCents + BusinessPayoutCents always equals AmountCents.
type Transaction struct {
	ID                  int64
	PaymentIntentID     string
	HotspotID           int64
	AmountCents         int
	PlatformFeeCents    int
	BusinessPayoutCents int
	DurationMinutes     int
	Status              TransactionStatus
	CustomerDeviceID    string
	CreatedAt           time.Time
	CompletedAt         *time.Time
}

// SessionRecord mirrors an ephemeral session for history and payout audit.
// TransactionID is nil for sessions created without a payment.
type SessionRecord struct {
	ID               int64
	TransactionID    *int64
	HotspotID        int64
	SessionToken     string
	DurationMinutes  int
	StartedAt        time.Time
	ExpiresAt        time.Time
	CustomerDeviceID string
	Status           SessionStatus
}

// Store persists hotspots, transactions and session records.
type Store interface {
	// Hotspots
	CreateHotspot(ctx context.Context, h *Hotspot) error
	GetHotspot(ctx context.Context, id int64) (*Hotspot, error)
	GetHotspotByDeviceID(ctx context.Context, deviceID string) (*Hotspot, error)
	UpsertHotspotByDeviceID(ctx context.Context, h *Hotspot) (*Hotspot, error)
	FindWithinRadius(ctx context.Context, lat, lng, radiusMeters float64) ([]*Hotspot, error)
	TouchHeartbeat(ctx context.Context, deviceID string, at time.Time) error
	MarkStaleOffline(ctx context.Context, olderThan time.Time) (int64, error)

	// Transactions
	CreateTransaction(ctx context.Context, t *Transaction) error
	GetTransactionByIntentID(ctx context.Context, intentID string) (*Transaction, error)
	// MarkTransactionSucceeded transitions pending -> succeeded and reports
	// whether this call performed the transition. Exactly one concurrent
	// caller per intent observes true.
	MarkTransactionSucceeded(ctx context.Context, intentID string, completedAt time.Time) (bool, error)
	MarkTransactionFailed(ctx context.Context, intentID string) (bool, error)

	// Session records
	CreateSessionRecord(ctx context.Context, r *SessionRecord) error
	GetSessionRecordByToken(ctx context.Context, token string) (*SessionRecord, error)
	// UpdateSessionRecordStatus moves an active record to expired or revoked.
	// Records already expired or revoked are left untouched.
	UpdateSessionRecordStatus(ctx context.Context, token string, status SessionStatus) error
	UpdateSessionRecordExpiry(ctx context.Context, token string, expiresAt time.Time, durationMinutes int) error

	Close() error
}
