package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const positionColumns = `id, user_id, protocol, asset, principal, apy,
        claim_cadence_seconds, opened_at, last_claim_at, calendar_event_id, status, created_at`

const (
	listActiveUsersSQL = `SELECT id, handle, chat_id, active, gas_alert_level, created_at
    FROM users
    WHERE active
    ORDER BY id;`

	getUserSQL = `SELECT id, handle, chat_id, active, gas_alert_level, created_at
    FROM users
    WHERE id = $1;`

	upsertUserSQL = `INSERT INTO users (handle, chat_id, active, gas_alert_level)
    VALUES ($1,$2,$3,$4)
    ON CONFLICT (handle) DO UPDATE
    SET chat_id = EXCLUDED.chat_id,
        active = EXCLUDED.active,
        gas_alert_level = EXCLUDED.gas_alert_level
    RETURNING id, handle, chat_id, active, gas_alert_level, created_at;`

	addWalletSQL = `INSERT INTO wallets (user_id, address)
    VALUES ($1,$2)
    ON CONFLICT (user_id, address) DO UPDATE SET address = EXCLUDED.address
    RETURNING id, user_id, address, created_at;`

	listWalletsSQL = `SELECT id, user_id, address, created_at
    FROM wallets
    WHERE user_id = $1
    ORDER BY created_at;`

	removeWalletSQL = `DELETE FROM wallets WHERE user_id = $1 AND address = $2;`

	upsertPositionSQL = `INSERT INTO positions (
        user_id, protocol, asset, principal, apy,
        claim_cadence_seconds, opened_at, last_claim_at, status
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    ON CONFLICT (user_id, protocol, asset, principal, opened_at) DO UPDATE
    SET apy = EXCLUDED.apy,
        claim_cadence_seconds = EXCLUDED.claim_cadence_seconds
    RETURNING ` + positionColumns + `;`

	getPositionSQL = `SELECT ` + positionColumns + `
    FROM positions
    WHERE id = $1;`

	listActivePositionsSQL = `SELECT ` + positionColumns + `
    FROM positions
    WHERE user_id = $1 AND status = 'active'
    ORDER BY id;`

	recordClaimSQL = `UPDATE positions SET last_claim_at = $2 WHERE id = $1 AND status = 'active';`

	setCalendarEventSQL = `UPDATE positions SET calendar_event_id = $2 WHERE id = $1;`

	closePositionSQL = `UPDATE positions SET status = 'closed' WHERE id = $1;`

	listClosedWithCalendarSQL = `SELECT ` + positionColumns + `
    FROM positions
    WHERE status = 'closed' AND calendar_event_id IS NOT NULL
    ORDER BY id;`

	purgePositionSQL = `DELETE FROM positions WHERE id = $1 AND status = 'closed';`

	addWatchSQL = `INSERT INTO watched_contracts (user_id, address)
    VALUES ($1,$2)
    ON CONFLICT (user_id, address) DO UPDATE SET address = EXCLUDED.address
    RETURNING id, user_id, address, created_at;`

	listWatchesSQL = `SELECT id, user_id, address, created_at
    FROM watched_contracts
    WHERE user_id = $1
    ORDER BY created_at;`

	removeWatchSQL = `DELETE FROM watched_contracts WHERE user_id = $1 AND address = $2;`

	saveAssessmentSQL = `INSERT INTO security_assessments (
        address, verified, outcome, score, factors, checked_at
    ) VALUES ($1,$2,$3,$4,$5,$6)
    ON CONFLICT (address) DO UPDATE
    SET verified = EXCLUDED.verified,
        outcome = EXCLUDED.outcome,
        score = EXCLUDED.score,
        factors = EXCLUDED.factors,
        checked_at = EXCLUDED.checked_at;`

	getAssessmentSQL = `SELECT address, verified, outcome, score, factors, checked_at
    FROM security_assessments
    WHERE address = $1;`

	hasAssessmentSQL = `SELECT EXISTS (SELECT 1 FROM security_assessments WHERE address = $1);`

	insertGasSampleSQL = `INSERT INTO gas_samples (chain, fee_gwei, sampled_at) VALUES ($1,$2,$3);`

	listGasSamplesBetweenSQL = `SELECT id, chain, fee_gwei, sampled_at
    FROM gas_samples
    WHERE chain = $1 AND sampled_at >= $2 AND sampled_at < $3
    ORDER BY sampled_at;`

	listRecentGasSamplesSQL = `SELECT id, chain, fee_gwei, sampled_at
    FROM gas_samples
    WHERE chain = $1
    ORDER BY sampled_at DESC
    LIMIT $2;`

	lastNotifiedSQL = `SELECT last_notified_at FROM notification_state
    WHERE user_id = $1 AND kind = $2 AND key = $3;`

	tryMarkNotifiedSQL = `INSERT INTO notification_state (user_id, kind, key, state, last_notified_at)
    VALUES ($1,$2,$3,'notified',$4)
    ON CONFLICT (user_id, kind, key) DO UPDATE
    SET last_notified_at = EXCLUDED.last_notified_at,
        state = 'notified',
        version = notification_state.version + 1
    WHERE notification_state.last_notified_at <= $5;`

	clearNotifiedSQL = `DELETE FROM notification_state WHERE user_id = $1 AND kind = $2 AND key = $3;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// UserStore defines operations over advisory subscribers.
type UserStore interface {
	ListActiveUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	UpsertUser(ctx context.Context, user User) (User, error)
}

// WalletStore defines wallet persistence. AddWallet is idempotent per
// (user, address).
type WalletStore interface {
	AddWallet(ctx context.Context, userID int64, address string) (Wallet, error)
	ListWallets(ctx context.Context, userID int64) ([]Wallet, error)
	RemoveWallet(ctx context.Context, userID int64, address string) error
}

// PositionStore defines position persistence. UpsertPosition is idempotent
// per (user, protocol, asset, principal, opened_at).
type PositionStore interface {
	UpsertPosition(ctx context.Context, position Position) (Position, error)
	GetPosition(ctx context.Context, id int64) (Position, error)
	ListActivePositions(ctx context.Context, userID int64) ([]Position, error)
	RecordClaim(ctx context.Context, id int64, at time.Time) error
	SetCalendarEventID(ctx context.Context, id int64, eventID *string) error
	ClosePosition(ctx context.Context, id int64) error
	ListClosedWithCalendar(ctx context.Context) ([]Position, error)
	PurgePosition(ctx context.Context, id int64) error
}

// WatchStore defines the per-user contract watchlist.
type WatchStore interface {
	AddWatch(ctx context.Context, userID int64, address string) (WatchedContract, error)
	ListWatches(ctx context.Context, userID int64) ([]WatchedContract, error)
	RemoveWatch(ctx context.Context, userID int64, address string) error
}

// AssessmentStore persists contract risk assessments.
type AssessmentStore interface {
	SaveAssessment(ctx context.Context, record AssessmentRecord) error
	GetAssessment(ctx context.Context, address string) (AssessmentRecord, error)
	HasAssessment(ctx context.Context, address string) (bool, error)
}

// GasSampleStore persists fee history for warm starts and exports.
type GasSampleStore interface {
	InsertGasSample(ctx context.Context, chain string, fee decimal.Decimal, at time.Time) error
	ListGasSamplesBetween(ctx context.Context, chain string, from, to time.Time) ([]GasSampleRow, error)
	ListRecentGasSamples(ctx context.Context, chain string, limit int) ([]GasSampleRow, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates all persistence concerns over one pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies connectivity for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the lock dies with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// ListActiveUsers returns all users the scheduler should evaluate.
func (s *Store) ListActiveUsers(ctx context.Context) ([]User, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveUsersSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active users: %w", queryErr)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Handle, &u.ChatID, &u.Active, &u.GasAlertLevel, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return users, nil
}

// GetUser fetches one user row.
func (s *Store) GetUser(ctx context.Context, id int64) (User, error) {
	pool, err := s.getPool()
	if err != nil {
		return User{}, err
	}

	var u User
	row := pool.QueryRow(ctx, getUserSQL, id)
	if err := row.Scan(&u.ID, &u.Handle, &u.ChatID, &u.Active, &u.GasAlertLevel, &u.CreatedAt); err != nil {
		return User{}, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, nil
}

// UpsertUser creates or updates a subscriber.
func (s *Store) UpsertUser(ctx context.Context, user User) (User, error) {
	pool, err := s.getPool()
	if err != nil {
		return User{}, err
	}

	var u User
	row := pool.QueryRow(ctx, upsertUserSQL, user.Handle, user.ChatID, user.Active, user.GasAlertLevel)
	if err := row.Scan(&u.ID, &u.Handle, &u.ChatID, &u.Active, &u.GasAlertLevel, &u.CreatedAt); err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

// AddWallet registers a wallet; re-adding the same address is a no-op.
func (s *Store) AddWallet(ctx context.Context, userID int64, address string) (Wallet, error) {
	pool, err := s.getPool()
	if err != nil {
		return Wallet{}, err
	}

	var w Wallet
	row := pool.QueryRow(ctx, addWalletSQL, userID, address)
	if err := row.Scan(&w.ID, &w.UserID, &w.Address, &w.CreatedAt); err != nil {
		return Wallet{}, fmt.Errorf("add wallet: %w", err)
	}
	return w, nil
}

// ListWallets returns all wallets for a user.
func (s *Store) ListWallets(ctx context.Context, userID int64) ([]Wallet, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listWalletsSQL, userID)
	if queryErr != nil {
		return nil, fmt.Errorf("list wallets: %w", queryErr)
	}
	defer rows.Close()

	wallets := make([]Wallet, 0)
	for rows.Next() {
		var w Wallet
		if err := rows.Scan(&w.ID, &w.UserID, &w.Address, &w.CreatedAt); err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return wallets, nil
}

// RemoveWallet deletes a wallet registration.
func (s *Store) RemoveWallet(ctx context.Context, userID int64, address string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, removeWalletSQL, userID, address); execErr != nil {
		return fmt.Errorf("remove wallet: %w", execErr)
	}
	return nil
}

// UpsertPosition persists a position; identical specs resolve to the same row.
func (s *Store) UpsertPosition(ctx context.Context, position Position) (Position, error) {
	pool, err := s.getPool()
	if err != nil {
		return Position{}, err
	}

	status := position.Status
	if status == "" {
		status = PositionStatusActive
	}

	row := pool.QueryRow(ctx, upsertPositionSQL,
		position.UserID,
		position.Protocol,
		position.Asset,
		position.Principal.String(),
		position.APY.String(),
		int64(position.Cadence/time.Second),
		position.OpenedAt,
		position.LastClaimAt,
		status,
	)
	return scanPosition(row)
}

// GetPosition fetches one position row.
func (s *Store) GetPosition(ctx context.Context, id int64) (Position, error) {
	pool, err := s.getPool()
	if err != nil {
		return Position{}, err
	}
	return scanPosition(pool.QueryRow(ctx, getPositionSQL, id))
}

// ListActivePositions returns the user's open positions.
func (s *Store) ListActivePositions(ctx context.Context, userID int64) ([]Position, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActivePositionsSQL, userID)
	if queryErr != nil {
		return nil, fmt.Errorf("list active positions: %w", queryErr)
	}
	defer rows.Close()

	return collectPositions(rows)
}

// RecordClaim stores a confirmed claim time.
func (s *Store) RecordClaim(ctx context.Context, id int64, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, recordClaimSQL, id, at)
	if execErr != nil {
		return fmt.Errorf("record claim: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// SetCalendarEventID stores or clears the linked calendar event.
func (s *Store) SetCalendarEventID(ctx context.Context, id int64, eventID *string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var value interface{}
	if eventID != nil {
		value = *eventID
	}
	if _, execErr := pool.Exec(ctx, setCalendarEventSQL, id, value); execErr != nil {
		return fmt.Errorf("set calendar event id: %w", execErr)
	}
	return nil
}

// ClosePosition marks a position closed, keeping the calendar link for the
// advisor's cleanup sweep.
func (s *Store) ClosePosition(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, closePositionSQL, id)
	if execErr != nil {
		return fmt.Errorf("close position: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListClosedWithCalendar returns tombstones still holding a calendar event.
func (s *Store) ListClosedWithCalendar(ctx context.Context) ([]Position, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listClosedWithCalendarSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list closed positions: %w", queryErr)
	}
	defer rows.Close()

	return collectPositions(rows)
}

// PurgePosition removes a closed position after its calendar event is gone.
func (s *Store) PurgePosition(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, purgePositionSQL, id); execErr != nil {
		return fmt.Errorf("purge position: %w", execErr)
	}
	return nil
}

// AddWatch flags an address for recurring risk checks; idempotent.
func (s *Store) AddWatch(ctx context.Context, userID int64, address string) (WatchedContract, error) {
	pool, err := s.getPool()
	if err != nil {
		return WatchedContract{}, err
	}

	var w WatchedContract
	row := pool.QueryRow(ctx, addWatchSQL, userID, address)
	if err := row.Scan(&w.ID, &w.UserID, &w.Address, &w.CreatedAt); err != nil {
		return WatchedContract{}, fmt.Errorf("add watch: %w", err)
	}
	return w, nil
}

// ListWatches returns the user's watchlist.
func (s *Store) ListWatches(ctx context.Context, userID int64) ([]WatchedContract, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listWatchesSQL, userID)
	if queryErr != nil {
		return nil, fmt.Errorf("list watches: %w", queryErr)
	}
	defer rows.Close()

	watches := make([]WatchedContract, 0)
	for rows.Next() {
		var w WatchedContract
		if err := rows.Scan(&w.ID, &w.UserID, &w.Address, &w.CreatedAt); err != nil {
			return nil, err
		}
		watches = append(watches, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return watches, nil
}

// RemoveWatch drops an address from the watchlist.
func (s *Store) RemoveWatch(ctx context.Context, userID int64, address string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, removeWatchSQL, userID, address); execErr != nil {
		return fmt.Errorf("remove watch: %w", execErr)
	}
	return nil
}

// SaveAssessment writes through the latest assessment for an address.
func (s *Store) SaveAssessment(ctx context.Context, record AssessmentRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, saveAssessmentSQL,
		record.Address,
		record.Verified,
		record.Outcome,
		record.Score,
		record.Factors,
		record.CheckedAt,
	)
	if execErr != nil {
		return fmt.Errorf("save assessment: %w", execErr)
	}
	return nil
}

// GetAssessment fetches the persisted assessment for an address.
func (s *Store) GetAssessment(ctx context.Context, address string) (AssessmentRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AssessmentRecord{}, err
	}

	var rec AssessmentRecord
	row := pool.QueryRow(ctx, getAssessmentSQL, address)
	if err := row.Scan(&rec.Address, &rec.Verified, &rec.Outcome, &rec.Score, &rec.Factors, &rec.CheckedAt); err != nil {
		return AssessmentRecord{}, fmt.Errorf("get assessment: %w", err)
	}
	return rec, nil
}

// HasAssessment reports whether any assessment was ever persisted for address.
func (s *Store) HasAssessment(ctx context.Context, address string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	var exists bool
	if err := pool.QueryRow(ctx, hasAssessmentSQL, address).Scan(&exists); err != nil {
		return false, fmt.Errorf("has assessment: %w", err)
	}
	return exists, nil
}

// InsertGasSample appends one fee observation to history.
func (s *Store) InsertGasSample(ctx context.Context, chain string, fee decimal.Decimal, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, insertGasSampleSQL, chain, fee.String(), at); execErr != nil {
		return fmt.Errorf("insert gas sample: %w", execErr)
	}
	return nil
}

// ListGasSamplesBetween lists fee history within a window.
func (s *Store) ListGasSamplesBetween(ctx context.Context, chain string, from, to time.Time) ([]GasSampleRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listGasSamplesBetweenSQL, chain, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list gas samples: %w", queryErr)
	}
	defer rows.Close()

	return collectGasSamples(rows)
}

// ListRecentGasSamples lists the newest fee history rows, newest first.
func (s *Store) ListRecentGasSamples(ctx context.Context, chain string, limit int) ([]GasSampleRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentGasSamplesSQL, chain, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent gas samples: %w", queryErr)
	}
	defer rows.Close()

	return collectGasSamples(rows)
}

// LastNotified returns the stored notification time for a dedup key.
func (s *Store) LastNotified(ctx context.Context, userID int64, kind, key string) (time.Time, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return time.Time{}, false, err
	}

	var at time.Time
	if err := pool.QueryRow(ctx, lastNotifiedSQL, userID, kind, key).Scan(&at); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("last notified: %w", err)
	}
	return at, true, nil
}

// TryMark records a notification at `at` unless one already landed within
// the cooldown. Returns false when the mark was suppressed.
func (s *Store) TryMark(ctx context.Context, userID int64, kind, key string, at time.Time, cooldown time.Duration) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	cmdTag, execErr := pool.Exec(ctx, tryMarkNotifiedSQL, userID, kind, key, at, at.Add(-cooldown))
	if execErr != nil {
		return false, fmt.Errorf("mark notified: %w", execErr)
	}
	return cmdTag.RowsAffected() > 0, nil
}

// Clear removes a dedup key so the alert can fire again once the condition
// re-arms.
func (s *Store) Clear(ctx context.Context, userID int64, kind, key string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, clearNotifiedSQL, userID, kind, key); execErr != nil {
		return fmt.Errorf("clear notification state: %w", execErr)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (Position, error) {
	var (
		p            Position
		principalStr string
		apyStr       string
		cadenceSec   int64
		calendarID   sql.NullString
	)

	if err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Protocol,
		&p.Asset,
		&principalStr,
		&apyStr,
		&cadenceSec,
		&p.OpenedAt,
		&p.LastClaimAt,
		&calendarID,
		&p.Status,
		&p.CreatedAt,
	); err != nil {
		return Position{}, err
	}

	principal, err := decimal.NewFromString(principalStr)
	if err != nil {
		return Position{}, fmt.Errorf("parse principal: %w", err)
	}
	apy, err := decimal.NewFromString(apyStr)
	if err != nil {
		return Position{}, fmt.Errorf("parse apy: %w", err)
	}

	p.Principal = principal
	p.APY = apy
	p.Cadence = time.Duration(cadenceSec) * time.Second
	if calendarID.Valid {
		id := calendarID.String
		p.CalendarEventID = &id
	}

	return p, nil
}

func collectPositions(rows pgx.Rows) ([]Position, error) {
	positions := make([]Position, 0)
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return positions, nil
}

func collectGasSamples(rows pgx.Rows) ([]GasSampleRow, error) {
	samples := make([]GasSampleRow, 0)
	for rows.Next() {
		var (
			row    GasSampleRow
			feeStr string
		)
		if err := rows.Scan(&row.ID, &row.Chain, &feeStr, &row.SampledAt); err != nil {
			return nil, err
		}
		fee, err := decimal.NewFromString(feeStr)
		if err != nil {
			return nil, fmt.Errorf("parse fee: %w", err)
		}
		row.FeeGwei = fee
		samples = append(samples, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}
