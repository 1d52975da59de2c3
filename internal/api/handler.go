package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/roamwifi/roam-backend/internal/ledger"
	"github.com/roamwifi/roam-backend/internal/liveness"
	"github.com/roamwifi/roam-backend/internal/payments"
	"github.com/roamwifi/roam-backend/internal/sessioncache"
	"github.com/roamwifi/roam-backend/internal/settlement"
)

// Handler contains all HTTP handlers for the API.
type Handler struct {
	orchestrator *settlement.Orchestrator
	tracker      *liveness.Tracker
	ledger       ledger.Store
	gateway      payments.Gateway
	logger       *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	orchestrator *settlement.Orchestrator,
	tracker *liveness.Tracker,
	ledgerStore ledger.Store,
	gateway payments.Gateway,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		orchestrator: orchestrator,
		tracker:      tracker,
		ledger:       ledgerStore,
		gateway:      gateway,
		logger:       logger,
	}
}

// HealthCheck returns the service health status.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// --- Payments ---

// CreateIntentRequest is the body for POST /api/payments/create-intent.
type CreateIntentRequest struct {
	HotspotID        int64  `json:"hotspotId" binding:"required"`
	DurationMinutes  int    `json:"durationMinutes" binding:"required"`
	CustomerDeviceID string `json:"customerDeviceId"`
}

// CreateIntent prices a WiFi purchase and returns the provider client secret.
func (h *Handler) CreateIntent(c *gin.Context) {
	var req CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.orchestrator.CreateIntent(c.Request.Context(), req.HotspotID, req.DurationMinutes, req.CustomerDeviceID)
	if err != nil {
		h.respondError(c, err, "failed to create payment intent")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"clientSecret":    result.ClientSecret,
		"paymentIntentId": result.PaymentIntentID,
		"amountCents":     result.AmountCents,
		"durationMinutes": result.DurationMinutes,
		"hotspotId":       strconv.FormatInt(result.HotspotID, 10),
		"hotspotName":     result.HotspotName,
	})
}

// Webhook handles signed payment-provider events. Signature failures get a
// 400; once the event verifies, processing errors still return 200 so the
// provider stops retrying on business-level problems.
func (h *Handler) Webhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.String(http.StatusBadRequest, "cannot read payload")
		return
	}

	event, err := h.gateway.VerifyWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.logger.Error("webhook rejected", zap.Error(err))
		c.String(http.StatusBadRequest, "invalid signature")
		return
	}

	h.logger.Info("webhook received",
		zap.String("provider_type", event.ProviderType),
		zap.String("payment_intent_id", event.IntentID),
	)

	switch event.Type {
	case payments.EventPaymentSucceeded:
		if _, err := h.orchestrator.HandlePaymentSucceeded(c.Request.Context(), event.IntentID); err != nil {
			// Unknown intent or processing failure: log and acknowledge to
			// stop the retry storm.
			h.logger.Error("failed to process payment success",
				zap.String("payment_intent_id", event.IntentID),
				zap.Error(err),
			)
			c.String(http.StatusOK, "error processing event")
			return
		}
	case payments.EventPaymentFailed:
		if err := h.orchestrator.HandlePaymentFailed(c.Request.Context(), event.IntentID); err != nil {
			h.logger.Error("failed to process payment failure",
				zap.String("payment_intent_id", event.IntentID),
				zap.Error(err),
			)
			c.String(http.StatusOK, "error processing event")
			return
		}
	default:
		h.logger.Info("ignoring event", zap.String("provider_type", event.ProviderType))
	}

	c.String(http.StatusOK, "OK")
}

// --- Sessions ---

// CreateSessionRequest is the body for POST /api/session/create.
// Field names match the mobile clients.
type CreateSessionRequest struct {
	UserID          string `json:"userId" binding:"required"`
	PinID           string `json:"pinId" binding:"required"`
	DurationMinutes int    `json:"durationMinutes" binding:"required"`
	StripePaymentID string `json:"stripePaymentId"`
}

// CreateSession issues a session directly, for clients confirming payment
// themselves (legacy flow; the webhook path is canonical).
func (h *Handler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "success": false})
		return
	}

	hotspotID, err := strconv.ParseInt(req.PinID, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pinId", "success": false})
		return
	}

	session, err := h.orchestrator.CreateSession(c.Request.Context(), hotspotID, req.DurationMinutes, req.UserID, req.StripePaymentID)
	if err != nil {
		h.respondError(c, err, "failed to create session")
		return
	}

	c.JSON(http.StatusOK, sessionResponse(session))
}

// ValidateSession answers edge devices checking a token: 200 when the
// session grants access, 401 otherwise.
func (h *Handler) ValidateSession(c *gin.Context) {
	tok := c.Query("token")
	if tok == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}

	result, err := h.orchestrator.Validate(c.Request.Context(), tok, time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "validation unavailable"})
		return
	}

	if !result.Valid {
		message := "Session not found or expired"
		if result.Reason == settlement.ReasonExpired {
			message = "Session has expired"
		}
		c.JSON(http.StatusUnauthorized, gin.H{
			"valid":   false,
			"message": message,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":           true,
		"userId":          result.UserID,
		"pinId":           result.HotspotID,
		"durationMinutes": result.DurationMinutes,
		"expiresAt":       result.ExpiresAt.UnixMilli(),
		"message":         "Session is valid",
	})
}

// ExtendSession adds purchased minutes to a live session.
func (h *Handler) ExtendSession(c *gin.Context) {
	tok := c.Query("token")
	minutes, err := strconv.Atoi(c.Query("minutes"))
	if tok == "" || err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token and minutes are required", "success": false})
		return
	}

	session, err := h.orchestrator.Extend(c.Request.Context(), tok, minutes)
	if err != nil {
		h.respondError(c, err, "failed to extend session")
		return
	}

	c.JSON(http.StatusOK, sessionResponse(session))
}

// InvalidateSession revokes a token immediately.
func (h *Handler) InvalidateSession(c *gin.Context) {
	tok := c.Param("token")

	if err := h.orchestrator.Invalidate(c.Request.Context(), tok); err != nil {
		if errors.Is(err, sessioncache.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found", "success": false})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to invalidate session", "success": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func sessionResponse(s *sessioncache.Session) gin.H {
	return gin.H{
		"sessionToken":    s.Token,
		"ssid":            s.SSID,
		"password":        s.Password,
		"durationMinutes": s.DurationMinutes,
		"expiresAt":       s.ExpiresAt.UnixMilli(),
		"pinId":           s.HotspotID,
		"deviceId":        s.DeviceID,
	}
}

// --- Hotspots ---

// HotspotResponse is the public view of a hotspot; the connected payout
// account stays server-side.
type HotspotResponse struct {
	ID                  int64   `json:"id"`
	DeviceID            string  `json:"deviceId"`
	Name                string  `json:"name"`
	IconURL             string  `json:"iconUrl,omitempty"`
	Latitude            float64 `json:"latitude"`
	Longitude           float64 `json:"longitude"`
	SSID                string  `json:"ssid"`
	Password            string  `json:"password"`
	PricePerMinuteCents int     `json:"pricePerMinuteCents"`
	IsOnline            bool    `json:"isOnline"`
}

func hotspotResponse(h *ledger.Hotspot) HotspotResponse {
	return HotspotResponse{
		ID:                  h.ID,
		DeviceID:            h.DeviceID,
		Name:                h.Name,
		IconURL:             h.IconURL,
		Latitude:            h.Latitude,
		Longitude:           h.Longitude,
		SSID:                h.SSID,
		Password:            h.Password,
		PricePerMinuteCents: h.PricePerMinuteCents,
		IsOnline:            h.IsOnline,
	}
}

// ListHotspots returns active hotspots within a radius of a point.
func (h *Handler) ListHotspots(c *gin.Context) {
	lat, latErr := strconv.ParseFloat(c.Query("lat"), 64)
	lng, lngErr := strconv.ParseFloat(c.Query("lng"), 64)
	if latErr != nil || lngErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng are required"})
		return
	}
	radius, err := strconv.ParseFloat(c.DefaultQuery("radius", "1000"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid radius"})
		return
	}

	hotspots, err := h.ledger.FindWithinRadius(c.Request.Context(), lat, lng, radius)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	out := make([]HotspotResponse, 0, len(hotspots))
	for _, hs := range hotspots {
		out = append(out, hotspotResponse(hs))
	}
	c.JSON(http.StatusOK, out)
}

// GetHotspot returns a single hotspot by id.
func (h *Handler) GetHotspot(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	hotspot, err := h.ledger.GetHotspot(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "failed to load hotspot")
		return
	}
	c.JSON(http.StatusOK, hotspotResponse(hotspot))
}

// CreateHotspotRequest is the admin body for POST /hotspots.
type CreateHotspotRequest struct {
	DeviceID            string  `json:"deviceId" binding:"required"`
	Name                string  `json:"name" binding:"required"`
	IconURL             string  `json:"iconUrl"`
	Latitude            float64 `json:"latitude" binding:"required"`
	Longitude           float64 `json:"longitude" binding:"required"`
	SSID                string  `json:"ssid" binding:"required"`
	Password            string  `json:"password" binding:"required"`
	PricePerMinuteCents int     `json:"pricePerMinuteCents"`
	StripeAccountID     string  `json:"stripeAccountId"`
}

// CreateHotspot creates a hotspot (admin use).
func (h *Handler) CreateHotspot(c *gin.Context) {
	var req CreateHotspotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.PricePerMinuteCents <= 0 {
		req.PricePerMinuteCents = 2
	}

	hotspot := &ledger.Hotspot{
		DeviceID:            req.DeviceID,
		Name:                req.Name,
		IconURL:             req.IconURL,
		Latitude:            req.Latitude,
		Longitude:           req.Longitude,
		SSID:                req.SSID,
		Password:            req.Password,
		PricePerMinuteCents: req.PricePerMinuteCents,
		StripeAccountID:     req.StripeAccountID,
		IsActive:            true,
	}
	if err := h.ledger.CreateHotspot(c.Request.Context(), hotspot); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create hotspot"})
		return
	}
	c.JSON(http.StatusOK, hotspotResponse(hotspot))
}

// RegisterDevice upserts a hotspot keyed by device id. Called by edge
// devices at boot, so parameters arrive as query/form values.
func (h *Handler) RegisterDevice(c *gin.Context) {
	deviceID := param(c, "device_id")
	name := param(c, "name")
	ssid := param(c, "ssid")
	password := param(c, "password")
	latStr := param(c, "lat")
	lngStr := param(c, "lng")
	if deviceID == "" || name == "" || ssid == "" || password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "device_id, name, ssid and password are required"})
		return
	}
	lat, latErr := strconv.ParseFloat(latStr, 64)
	lng, lngErr := strconv.ParseFloat(lngStr, 64)
	if latErr != nil || lngErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "lat and lng are required"})
		return
	}

	price := 2
	if p, err := strconv.Atoi(param(c, "price_per_minute_cents")); err == nil && p > 0 {
		price = p
	}

	now := time.Now().UTC()
	hotspot, err := h.ledger.UpsertHotspotByDeviceID(c.Request.Context(), &ledger.Hotspot{
		DeviceID:            deviceID,
		Name:                name,
		IconURL:             param(c, "icon_url"),
		Latitude:            lat,
		Longitude:           lng,
		SSID:                ssid,
		Password:            password,
		PricePerMinuteCents: price,
		IsActive:            true,
		IsOnline:            true,
		LastHeartbeatAt:     &now,
	})
	if err != nil {
		h.logger.Error("failed to register device", zap.String("device_id", deviceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to register device"})
		return
	}

	h.logger.Info("device registered",
		zap.String("device_id", deviceID),
		zap.String("name", name),
		zap.String("ssid", ssid),
	)

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    "Device registered successfully",
		"hotspot_id": hotspot.ID,
		"device_id":  deviceID,
		"name":       name,
		"ssid":       ssid,
	})
}

// DeviceHeartbeat updates the durable online flag for a hotspot.
func (h *Handler) DeviceHeartbeat(c *gin.Context) {
	deviceID := param(c, "device_id")
	if deviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "device_id is required"})
		return
	}

	if err := h.ledger.TouchHeartbeat(c.Request.Context(), deviceID, time.Now().UTC()); err != nil {
		if errors.Is(err, ledger.ErrHotspotNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "unknown device"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "heartbeat failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "device_id": deviceID})
}

// --- Device liveness ---

// Heartbeat records a device beat and echoes the observed latency.
func (h *Handler) Heartbeat(c *gin.Context) {
	deviceID := c.Query("device_id")
	sequenceID, seqErr := strconv.ParseInt(c.Query("sequence_id"), 10, 64)
	timestamp, tsErr := strconv.ParseInt(c.Query("timestamp"), 10, 64)
	if deviceID == "" || seqErr != nil || tsErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_id, sequence_id and timestamp are required"})
		return
	}

	now := time.Now()
	latency := h.tracker.Record(deviceID, sequenceID, timestamp, now)

	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"device_id":        deviceID,
		"sequence_id":      sequenceID,
		"server_timestamp": now.Unix(),
		"latency_seconds":  latency,
	})
}

// DeviceStatus reports online/offline/unknown for one device.
func (h *Handler) DeviceStatus(c *gin.Context) {
	deviceID := c.Query("device_id")
	if deviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_id is required"})
		return
	}

	now := time.Now()
	status, beat := h.tracker.Status(deviceID, now)
	if status == liveness.StatusUnknown {
		c.JSON(http.StatusOK, gin.H{
			"status":  string(status),
			"message": "No heartbeat received from this device",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":                      string(status),
		"device_id":                   deviceID,
		"last_sequence_id":            beat.SequenceID,
		"last_heartbeat_timestamp":    beat.ReceivedAt.Unix(),
		"seconds_since_last_heartbeat": int64(now.Sub(beat.ReceivedAt).Seconds()),
	})
}

// AllDevices reports the status of every device seen by this process.
func (h *Handler) AllDevices(c *gin.Context) {
	now := time.Now()
	snapshot := h.tracker.Snapshot(now)

	devices := make(gin.H, len(snapshot))
	for id, ds := range snapshot {
		devices[id] = gin.H{
			"status":                      string(ds.Status),
			"last_sequence_id":            ds.Heartbeat.SequenceID,
			"last_heartbeat_timestamp":    ds.Heartbeat.ReceivedAt.Unix(),
			"seconds_since_last_heartbeat": int64(now.Sub(ds.Heartbeat.ReceivedAt).Seconds()),
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"devices":       devices,
		"total_devices": len(devices),
	})
}

// respondError maps domain sentinels onto HTTP status codes.
func (h *Handler) respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ledger.ErrHotspotNotFound),
		errors.Is(err, ledger.ErrTransactionNotFound),
		errors.Is(err, sessioncache.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "success": false})
	case errors.Is(err, settlement.ErrInvalidDuration):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "success": false})
	default:
		h.logger.Error(fallback, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback, "success": false})
	}
}

// param reads a request parameter from the query string or form body.
func param(c *gin.Context, name string) string {
	if v := c.Query(name); v != "" {
		return v
	}
	return c.PostForm(name)
}
