package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CurrencyDB represents a currency reference row in the database
type CurrencyDB struct {
	CurrencyID uuid.UUID `json:"currency_id" db:"currency_id"` // Primary key
	CBRCode    int       `json:"cbr_code" db:"cbr_code"`       // Numeric code in the CBR system (Vcode)
	CharCode   string    `json:"char_code" db:"char_code"`     // Alphabetic code (USD, EUR, ...), unique
	Name       string    `json:"name" db:"name"`               // Display name of the currency
	CreatedAt  time.Time `json:"created_at" db:"created_at"`   // Timestamp when the currency was first observed
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`   // Timestamp of the last reference update
}

// CurrencyRateDB represents a daily rate row in the database.
// Exactly one row exists per (currency_id, rate_date) pair.
type CurrencyRateDB struct {
	RateID        uuid.UUID       `json:"rate_id" db:"rate_id"`                 // Primary key
	CurrencyID    uuid.UUID       `json:"currency_id" db:"currency_id"`         // Owning currency
	RateDate      time.Time       `json:"rate_date" db:"rate_date"`             // Calendar date the rate applies to
	Nominal       int             `json:"nominal" db:"nominal"`                 // Unit multiple the rate applies to (1, 10, 100)
	Value         decimal.Decimal `json:"value" db:"value"`                     // Rubles per Nominal units, 6 fractional digits
	ImportedAtUTC time.Time       `json:"imported_at_utc" db:"imported_at_utc"` // UTC instant of the last write
}

// DateOnly truncates t to a calendar date at UTC midnight.
// Rate dates carry no time component.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
