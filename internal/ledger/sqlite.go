package ledger

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	conn *sql.DB
}

// Open opens the SQLite database and creates tables if needed.
func Open(path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// SQLite allows one writer at a time; serialize access through a
	// single connection so concurrent writes queue instead of failing.
	conn.SetMaxOpenConns(1)

	if err := createTables(conn); err != nil {
		conn.Close()
		return nil, err
	}

	return &SQLiteStore{conn: conn}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func createTables(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS hotspots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			icon_url TEXT DEFAULT '',
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			ssid TEXT NOT NULL,
			password TEXT NOT NULL,
			price_per_minute_cents INTEGER NOT NULL DEFAULT 2,
			stripe_account_id TEXT DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			is_online INTEGER NOT NULL DEFAULT 0,
			last_heartbeat_at DATETIME,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			payment_intent_id TEXT NOT NULL UNIQUE,
			hotspot_id INTEGER NOT NULL REFERENCES hotspots(id),
			amount_cents INTEGER NOT NULL,
			platform_fee_cents INTEGER NOT NULL,
			business_payout_cents INTEGER NOT NULL,
			duration_minutes INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			customer_device_id TEXT DEFAULT '',
			created_at DATETIME NOT NULL,
			completed_at DATETIME
		);

		CREATE TABLE IF NOT EXISTS session_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			transaction_id INTEGER REFERENCES transactions(id),
			hotspot_id INTEGER NOT NULL REFERENCES hotspots(id),
			session_token TEXT NOT NULL UNIQUE,
			duration_minutes INTEGER NOT NULL,
			started_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL,
			customer_device_id TEXT DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active'
		);

		CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
		CREATE INDEX IF NOT EXISTS idx_session_records_status ON session_records(status);
		CREATE INDEX IF NOT EXISTS idx_hotspots_online ON hotspots(is_online);
	`)
	return err
}

// --- Hotspots ---

const hotspotColumns = `id, device_id, name, icon_url, latitude, longitude, ssid, password,
	price_per_minute_cents, stripe_account_id, is_active, is_online, last_heartbeat_at, created_at`

func (s *SQLiteStore) CreateHotspot(ctx context.Context, h *Hotspot) error {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO hotspots (device_id, name, icon_url, latitude, longitude, ssid, password,
			price_per_minute_cents, stripe_account_id, is_active, is_online, last_heartbeat_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, h.DeviceID, h.Name, h.IconURL, h.Latitude, h.Longitude, h.SSID, h.Password,
		h.PricePerMinuteCents, h.StripeAccountID, h.IsActive, h.IsOnline, h.LastHeartbeatAt, h.CreatedAt)
	if err != nil {
		return err
	}
	h.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) GetHotspot(ctx context.Context, id int64) (*Hotspot, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+hotspotColumns+` FROM hotspots WHERE id = ?`, id)
	return scanHotspot(row)
}

func (s *SQLiteStore) GetHotspotByDeviceID(ctx context.Context, deviceID string) (*Hotspot, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+hotspotColumns+` FROM hotspots WHERE device_id = ?`, deviceID)
	return scanHotspot(row)
}

// UpsertHotspotByDeviceID creates or updates a hotspot keyed by its device id.
// Used by edge devices registering themselves at boot.
func (s *SQLiteStore) UpsertHotspotByDeviceID(ctx context.Context, h *Hotspot) (*Hotspot, error) {
	existing, err := s.GetHotspotByDeviceID(ctx, h.DeviceID)
	if err != nil && !errors.Is(err, ErrHotspotNotFound) {
		return nil, err
	}

	if existing == nil {
		if err := s.CreateHotspot(ctx, h); err != nil {
			return nil, err
		}
		return h, nil
	}

	iconURL := existing.IconURL
	if h.IconURL != "" {
		iconURL = h.IconURL
	}
	_, err = s.conn.ExecContext(ctx, `
		UPDATE hotspots SET name = ?, icon_url = ?, latitude = ?, longitude = ?, ssid = ?, password = ?,
			price_per_minute_cents = ?, is_online = ?, last_heartbeat_at = ?
		WHERE device_id = ?
	`, h.Name, iconURL, h.Latitude, h.Longitude, h.SSID, h.Password,
		h.PricePerMinuteCents, h.IsOnline, h.LastHeartbeatAt, h.DeviceID)
	if err != nil {
		return nil, err
	}
	return s.GetHotspotByDeviceID(ctx, h.DeviceID)
}

// FindWithinRadius returns active hotspots within radiusMeters of the given
// point, great-circle distance. The scan happens in Go since SQLite has no
// geospatial index; fine at the fleet sizes this serves.
func (s *SQLiteStore) FindWithinRadius(ctx context.Context, lat, lng, radiusMeters float64) ([]*Hotspot, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT `+hotspotColumns+` FROM hotspots WHERE is_active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Hotspot
	for rows.Next() {
		h, err := scanHotspot(rows)
		if err != nil {
			return nil, err
		}
		if haversineMeters(lat, lng, h.Latitude, h.Longitude) <= radiusMeters {
			result = append(result, h)
		}
	}
	return result, rows.Err()
}

func (s *SQLiteStore) TouchHeartbeat(ctx context.Context, deviceID string, at time.Time) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE hotspots SET is_online = 1, last_heartbeat_at = ? WHERE device_id = ?
	`, at, deviceID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrHotspotNotFound
	}
	return nil
}

func (s *SQLiteStore) MarkStaleOffline(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE hotspots SET is_online = 0
		WHERE is_online = 1 AND (last_heartbeat_at IS NULL OR last_heartbeat_at < ?)
	`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Transactions ---

const transactionColumns = `id, payment_intent_id, hotspot_id, amount_cents, platform_fee_cents,
	business_payout_cents, duration_minutes, status, customer_device_id, created_at, completed_at`

func (s *SQLiteStore) CreateTransaction(ctx context.Context, t *Transaction) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Status == "" {
		t.Status = TransactionPending
	}
	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO transactions (payment_intent_id, hotspot_id, amount_cents, platform_fee_cents,
			business_payout_cents, duration_minutes, status, customer_device_id, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.PaymentIntentID, t.HotspotID, t.AmountCents, t.PlatformFeeCents,
		t.BusinessPayoutCents, t.DurationMinutes, string(t.Status), t.CustomerDeviceID, t.CreatedAt, t.CompletedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateIntent
		}
		return err
	}
	t.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) GetTransactionByIntentID(ctx context.Context, intentID string) (*Transaction, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE payment_intent_id = ?`, intentID)
	return scanTransaction(row)
}

func (s *SQLiteStore) MarkTransactionSucceeded(ctx context.Context, intentID string, completedAt time.Time) (bool, error) {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE transactions SET status = ?, completed_at = ?
		WHERE payment_intent_id = ? AND status = ?
	`, string(TransactionSucceeded), completedAt, intentID, string(TransactionPending))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteStore) MarkTransactionFailed(ctx context.Context, intentID string) (bool, error) {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE transactions SET status = ?
		WHERE payment_intent_id = ? AND status = ?
	`, string(TransactionFailed), intentID, string(TransactionPending))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// --- Session records ---

const sessionRecordColumns = `id, transaction_id, hotspot_id, session_token, duration_minutes,
	started_at, expires_at, customer_device_id, status`

func (s *SQLiteStore) CreateSessionRecord(ctx context.Context, r *SessionRecord) error {
	if r.Status == "" {
		r.Status = SessionActive
	}
	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO session_records (transaction_id, hotspot_id, session_token, duration_minutes,
			started_at, expires_at, customer_device_id, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.TransactionID, r.HotspotID, r.SessionToken, r.DurationMinutes,
		r.StartedAt, r.ExpiresAt, r.CustomerDeviceID, string(r.Status))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateToken
		}
		return err
	}
	r.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) GetSessionRecordByToken(ctx context.Context, token string) (*SessionRecord, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+sessionRecordColumns+` FROM session_records WHERE session_token = ?`, token)
	return scanSessionRecord(row)
}

func (s *SQLiteStore) UpdateSessionRecordStatus(ctx context.Context, token string, status SessionStatus) error {
	// Status is monotone: only active records can move.
	_, err := s.conn.ExecContext(ctx, `
		UPDATE session_records SET status = ?
		WHERE session_token = ? AND status = ?
	`, string(status), token, string(SessionActive))
	return err
}

func (s *SQLiteStore) UpdateSessionRecordExpiry(ctx context.Context, token string, expiresAt time.Time, durationMinutes int) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE session_records SET expires_at = ?, duration_minutes = ? WHERE session_token = ?
	`, expiresAt, durationMinutes, token)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionRecordNotFound
	}
	return nil
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHotspot(row rowScanner) (*Hotspot, error) {
	h := &Hotspot{}
	var iconURL, stripeAccount sql.NullString
	var lastHeartbeat sql.NullTime
	err := row.Scan(&h.ID, &h.DeviceID, &h.Name, &iconURL, &h.Latitude, &h.Longitude,
		&h.SSID, &h.Password, &h.PricePerMinuteCents, &stripeAccount,
		&h.IsActive, &h.IsOnline, &lastHeartbeat, &h.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrHotspotNotFound
	}
	if err != nil {
		return nil, err
	}
	if iconURL.Valid {
		h.IconURL = iconURL.String
	}
	if stripeAccount.Valid {
		h.StripeAccountID = stripeAccount.String
	}
	if lastHeartbeat.Valid {
		t := lastHeartbeat.Time
		h.LastHeartbeatAt = &t
	}
	return h, nil
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	t := &Transaction{}
	var status string
	var customerDeviceID sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&t.ID, &t.PaymentIntentID, &t.HotspotID, &t.AmountCents, &t.PlatformFeeCents,
		&t.BusinessPayoutCents, &t.DurationMinutes, &status, &customerDeviceID, &t.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Status = TransactionStatus(status)
	if customerDeviceID.Valid {
		t.CustomerDeviceID = customerDeviceID.String
	}
	if completedAt.Valid {
		at := completedAt.Time
		t.CompletedAt = &at
	}
	return t, nil
}

func scanSessionRecord(row rowScanner) (*SessionRecord, error) {
	r := &SessionRecord{}
	var status string
	var transactionID sql.NullInt64
	var customerDeviceID sql.NullString
	err := row.Scan(&r.ID, &transactionID, &r.HotspotID, &r.SessionToken, &r.DurationMinutes,
		&r.StartedAt, &r.ExpiresAt, &customerDeviceID, &status)
	if err == sql.ErrNoRows {
		return nil, ErrSessionRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Status = SessionStatus(status)
	if transactionID.Valid {
		id := transactionID.Int64
		r.TransactionID = &id
	}
	if customerDeviceID.Valid {
		r.CustomerDeviceID = customerDeviceID.String
	}
	return r, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const earthRadiusMeters = 6371000.0

func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(a))
}
