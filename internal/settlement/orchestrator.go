// Package settlement is the core state machine turning payment outcomes into
// WiFi sessions. It owns every Transaction and SessionRecord transition and
// keeps the ephemeral cache and the durable ledger in agreement: the ledger
// is the source of truth for history and payout accounting, the cache for
// live validation, and validation fails closed whenever the two diverge.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/roamwifi/roam-backend/internal/billing"
	"github.com/roamwifi/roam-backend/internal/ledger"
	"github.com/roamwifi/roam-backend/internal/payments"
	"github.com/roamwifi/roam-backend/internal/sessioncache"
	"github.com/roamwifi/roam-backend/internal/token"
)

// ErrInvalidDuration re-exports the issuer's sentinel so callers can match
// bad-duration failures without importing token.
var ErrInvalidDuration = token.ErrInvalidDuration

// Invalid-session reasons returned by Validate.
const (
	ReasonNotFound = "not_found"
	ReasonExpired  = "expired"
)

// Orchestrator coordinates the gateway, the durable ledger and the
// ephemeral session cache.
type Orchestrator struct {
	ledger  ledger.Store
	cache   sessioncache.Store
	gateway payments.Gateway
	issuer  *token.Issuer
	logger  *zap.Logger
	now     func() time.Time
}

// NewOrchestrator creates a settlement orchestrator.
func NewOrchestrator(
	ledgerStore ledger.Store,
	cache sessioncache.Store,
	gateway payments.Gateway,
	issuer *token.Issuer,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		ledger:  ledgerStore,
		cache:   cache,
		gateway: gateway,
		issuer:  issuer,
		logger:  logger,
		now:     time.Now,
	}
}

// Quote returns the price in cents for the given duration at a hotspot.
func (o *Orchestrator) Quote(ctx context.Context, hotspotID int64, durationMinutes int) (int, error) {
	if durationMinutes <= 0 {
		return 0, ErrInvalidDuration
	}
	hotspot, err := o.ledger.GetHotspot(ctx, hotspotID)
	if err != nil {
		return 0, err
	}
	return hotspot.PriceCents(durationMinutes), nil
}

// IntentResult echoes pricing back to the client along with the provider
// handle needed to complete payment.
type IntentResult struct {
	ClientSecret    string
	PaymentIntentID string
	AmountCents     int
	DurationMinutes int
	HotspotID       int64
	HotspotName     string
}

// CreateIntent prices the purchase, authorizes it with the payment provider
// and records a pending Transaction. The transaction row is written only
// after the provider call succeeds, so gateway failures leave no orphans.
func (o *Orchestrator) CreateIntent(ctx context.Context, hotspotID int64, durationMinutes int, customerDeviceID string) (*IntentResult, error) {
	if durationMinutes <= 0 {
		return nil, ErrInvalidDuration
	}

	hotspot, err := o.ledger.GetHotspot(ctx, hotspotID)
	if err != nil {
		return nil, err
	}

	amountCents := hotspot.PriceCents(durationMinutes)
	platformFeeCents, businessPayoutCents := billing.Split(amountCents)

	o.logger.Info("creating payment intent",
		zap.Int64("hotspot_id", hotspotID),
		zap.Int("amount_cents", amountCents),
		zap.Int("platform_fee_cents", platformFeeCents),
		zap.Int("business_payout_cents", businessPayoutCents),
	)

	intent, err := o.gateway.CreateIntent(ctx, payments.IntentParams{
		AmountCents: int64(amountCents),
		Currency:    "usd",
		Metadata: map[string]string{
			"hotspot_id":         strconv.FormatInt(hotspotID, 10),
			"duration_minutes":   strconv.Itoa(durationMinutes),
			"customer_device_id": customerDeviceID,
		},
		DestinationAccount:  hotspot.StripeAccountID,
		ApplicationFeeCents: int64(platformFeeCents),
	})
	if err != nil {
		return nil, err
	}

	tx := &ledger.Transaction{
		PaymentIntentID:     intent.ID,
		HotspotID:           hotspot.ID,
		AmountCents:         amountCents,
		PlatformFeeCents:    platformFeeCents,
		BusinessPayoutCents: businessPayoutCents,
		DurationMinutes:     durationMinutes,
		Status:              ledger.TransactionPending,
		CustomerDeviceID:    customerDeviceID,
		CreatedAt:           o.now().UTC(),
	}
	if err := o.ledger.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("record pending transaction: %w", err)
	}

	o.logger.Info("payment intent created",
		zap.String("payment_intent_id", intent.ID),
		zap.Int("duration_minutes", durationMinutes),
		zap.String("hotspot_name", hotspot.Name),
	)

	return &IntentResult{
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
		AmountCents:     amountCents,
		DurationMinutes: durationMinutes,
		HotspotID:       hotspot.ID,
		HotspotName:     hotspot.Name,
	}, nil
}

// HandlePaymentSucceeded settles a transaction and issues its session.
// Safe under replays and concurrent deliveries: the status-guarded update
// lets exactly one caller perform the transition; everyone else no-ops.
// Returns ledger.ErrTransactionNotFound for unknown intents so the webhook
// layer can log and drop them.
func (o *Orchestrator) HandlePaymentSucceeded(ctx context.Context, intentID string) (*sessioncache.Session, error) {
	tx, err := o.ledger.GetTransactionByIntentID(ctx, intentID)
	if err != nil {
		return nil, err
	}

	completedAt := o.now().UTC()
	won, err := o.ledger.MarkTransactionSucceeded(ctx, intentID, completedAt)
	if err != nil {
		return nil, fmt.Errorf("mark transaction succeeded: %w", err)
	}
	if !won {
		o.logger.Info("payment success replayed, no-op",
			zap.String("payment_intent_id", intentID),
			zap.String("status", string(tx.Status)),
		)
		return nil, nil
	}

	o.logger.Info("payment succeeded",
		zap.String("payment_intent_id", intentID),
		zap.Int64("transaction_id", tx.ID),
		zap.Int("duration_minutes", tx.DurationMinutes),
	)

	return o.issueSession(ctx, tx.HotspotID, tx.DurationMinutes, tx.CustomerDeviceID, intentID, &tx.ID, completedAt)
}

// HandlePaymentFailed marks a pending transaction failed; replays and
// late deliveries after success are no-ops.
func (o *Orchestrator) HandlePaymentFailed(ctx context.Context, intentID string) error {
	moved, err := o.ledger.MarkTransactionFailed(ctx, intentID)
	if err != nil {
		return fmt.Errorf("mark transaction failed: %w", err)
	}
	if moved {
		o.logger.Warn("payment failed", zap.String("payment_intent_id", intentID))
	}
	return nil
}

// CreateSession issues a session without a backing transaction. Kept for the
// legacy client flow where the app confirms payment itself.
func (o *Orchestrator) CreateSession(ctx context.Context, hotspotID int64, durationMinutes int, customerDeviceID, paymentIntentID string) (*sessioncache.Session, error) {
	if durationMinutes <= 0 {
		return nil, ErrInvalidDuration
	}
	return o.issueSession(ctx, hotspotID, durationMinutes, customerDeviceID, paymentIntentID, nil, o.now().UTC())
}

// issueSession mints a token and performs the dual write: durable record
// first (the audit row must exist even if the cache write fails), then the
// cache entry that makes the token validate.
func (o *Orchestrator) issueSession(ctx context.Context, hotspotID int64, durationMinutes int, customerDeviceID, paymentIntentID string, transactionID *int64, issuedAt time.Time) (*sessioncache.Session, error) {
	hotspot, err := o.ledger.GetHotspot(ctx, hotspotID)
	if err != nil {
		return nil, err
	}

	tok, expiresAt, err := o.issuer.Issue(durationMinutes, issuedAt)
	if err != nil {
		return nil, err
	}

	record := &ledger.SessionRecord{
		TransactionID:    transactionID,
		HotspotID:        hotspot.ID,
		SessionToken:     tok,
		DurationMinutes:  durationMinutes,
		StartedAt:        issuedAt,
		ExpiresAt:        expiresAt,
		CustomerDeviceID: customerDeviceID,
		Status:           ledger.SessionActive,
	}
	if err := o.ledger.CreateSessionRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("record session: %w", err)
	}

	session := &sessioncache.Session{
		Token:           tok,
		UserID:          customerDeviceID,
		HotspotID:       strconv.FormatInt(hotspot.ID, 10),
		DeviceID:        hotspot.DeviceID,
		SSID:            hotspot.SSID,
		Password:        hotspot.Password,
		DurationMinutes: durationMinutes,
		CreatedAt:       issuedAt,
		ExpiresAt:       expiresAt,
		PaymentIntentID: paymentIntentID,
	}
	ttl := time.Duration(durationMinutes) * time.Minute
	if err := o.cache.Put(ctx, session, ttl); err != nil {
		// The audit row exists but the token will not validate: validation
		// fails closed on a missing cache entry. Surface the error so the
		// provider retries the webhook.
		return nil, fmt.Errorf("cache session: %w", err)
	}

	o.logger.Info("session issued",
		zap.String("token", tok),
		zap.String("customer_device_id", customerDeviceID),
		zap.String("hotspot_name", hotspot.Name),
		zap.Int("duration_minutes", durationMinutes),
	)

	return session, nil
}

// ValidateResult is the answer given to an edge device checking a token.
type ValidateResult struct {
	Valid           bool
	Reason          string
	UserID          string
	HotspotID       string
	DurationMinutes int
	ExpiresAt       time.Time
}

// Validate checks whether a token currently grants access. Expired entries
// found still in the cache are deleted and their durable record marked
// expired on the way out.
func (o *Orchestrator) Validate(ctx context.Context, tok string, now time.Time) (*ValidateResult, error) {
	session, err := o.cache.Get(ctx, tok)
	if errors.Is(err, sessioncache.ErrSessionNotFound) {
		return &ValidateResult{Valid: false, Reason: ReasonNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session cache: %w", err)
	}

	if now.After(session.ExpiresAt) {
		if _, err := o.cache.Delete(ctx, tok); err != nil {
			o.logger.Error("failed to evict expired session", zap.String("token", tok), zap.Error(err))
		}
		if err := o.ledger.UpdateSessionRecordStatus(ctx, tok, ledger.SessionExpired); err != nil {
			o.logger.Error("failed to mark session record expired", zap.String("token", tok), zap.Error(err))
		}
		return &ValidateResult{Valid: false, Reason: ReasonExpired}, nil
	}

	return &ValidateResult{
		Valid:           true,
		UserID:          session.UserID,
		HotspotID:       session.HotspotID,
		DurationMinutes: session.DurationMinutes,
		ExpiresAt:       session.ExpiresAt,
	}, nil
}

// Extend adds minutes to a live session. The new cache TTL is the store's
// remaining TTL plus the extension rather than a recomputation from
// expiresAt, tolerating skew between the two clocks. The read-modify-write
// is last-write-wins under concurrent extends.
func (o *Orchestrator) Extend(ctx context.Context, tok string, additionalMinutes int) (*sessioncache.Session, error) {
	if additionalMinutes <= 0 {
		return nil, ErrInvalidDuration
	}

	session, err := o.cache.Get(ctx, tok)
	if errors.Is(err, sessioncache.ErrSessionNotFound) {
		return nil, sessioncache.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session cache: %w", err)
	}

	extension := time.Duration(additionalMinutes) * time.Minute
	session.ExpiresAt = session.ExpiresAt.Add(extension)
	session.DurationMinutes += additionalMinutes

	remaining, err := o.cache.Remaining(ctx, tok)
	if err != nil && !errors.Is(err, sessioncache.ErrSessionNotFound) {
		return nil, fmt.Errorf("read session ttl: %w", err)
	}
	if err := o.cache.Put(ctx, session, remaining+extension); err != nil {
		return nil, fmt.Errorf("rewrite session: %w", err)
	}

	if err := o.ledger.UpdateSessionRecordExpiry(ctx, tok, session.ExpiresAt, session.DurationMinutes); err != nil {
		o.logger.Error("failed to update session record expiry", zap.String("token", tok), zap.Error(err))
	}

	o.logger.Info("session extended",
		zap.String("token", tok),
		zap.Int("additional_minutes", additionalMinutes),
		zap.Time("new_expires_at", session.ExpiresAt),
	)

	return session, nil
}

// Invalidate revokes a token immediately. A second call for the same token
// reports ErrSessionNotFound, which callers treat as already-invalidated.
func (o *Orchestrator) Invalidate(ctx context.Context, tok string) error {
	deleted, err := o.cache.Delete(ctx, tok)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if !deleted {
		return sessioncache.ErrSessionNotFound
	}

	if err := o.ledger.UpdateSessionRecordStatus(ctx, tok, ledger.SessionRevoked); err != nil {
		o.logger.Error("failed to mark session record revoked", zap.String("token", tok), zap.Error(err))
	}

	o.logger.Info("session invalidated", zap.String("token", tok))
	return nil
}
