package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position statuses. Closed positions keep their calendar link until the
// advisor sweeps the remote event, then the row is purged.
const (
	PositionStatusActive = "active"
	PositionStatusClosed = "closed"
)

// User is an advisory subscriber.
type User struct {
	ID            int64     `json:"id"`
	Handle        string    `json:"handle"`
	ChatID        string    `json:"chat_id,omitempty"`
	Active        bool      `json:"active"`
	GasAlertLevel string    `json:"gas_alert_level"`
	CreatedAt     time.Time `json:"created_at"`
}

// Wallet links a checksummed address to a user.
type Wallet struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// Position is one tracked yield position. Cadence serialises in nanoseconds;
// API clients should prefer the derived views.
type Position struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	Protocol        string          `json:"protocol"`
	Asset           string          `json:"asset"`
	Principal       decimal.Decimal `json:"principal"`
	APY             decimal.Decimal `json:"apy"`
	Cadence         time.Duration   `json:"cadence"`
	OpenedAt        time.Time       `json:"opened_at"`
	LastClaimAt     time.Time       `json:"last_claim_at"`
	CalendarEventID *string         `json:"calendar_event_id,omitempty"`
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
}

// WatchedContract is an address the user flagged for recurring risk checks.
type WatchedContract struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// AssessmentRecord is the persisted form of a contract risk assessment.
type AssessmentRecord struct {
	Address   string
	Verified  bool
	Outcome   string
	Score     int
	Factors   []string
	CheckedAt time.Time
}

// GasSampleRow is one persisted fee observation.
type GasSampleRow struct {
	ID        int64
	Chain     string
	FeeGwei   decimal.Decimal
	SampledAt time.Time
}
