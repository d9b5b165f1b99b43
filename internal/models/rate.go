package models

import "github.com/shopspring/decimal"

// RateRecord is one currency's published rate for one date, as decoded
// from the CBR response. It is transient and never persisted directly.
type RateRecord struct {
	CBRCode  int             `json:"cbr_code"`  // Numeric code in the CBR system (Vcode)
	CharCode string          `json:"char_code"` // Alphabetic code (VchCode)
	Name     string          `json:"name"`      // Display name (Vname)
	Nominal  int             `json:"nominal"`   // Unit multiple (Vnom)
	Value    decimal.Decimal `json:"value"`     // Rubles per Nominal units (Vcurs)
}

// DayImportEvent summarizes one day's import, published to Kafka after commit.
type DayImportEvent struct {
	Date       string `json:"date"`        // Calendar date in YYYY-MM-DD format
	Currencies int    `json:"currencies"`  // Records considered
	Inserted   int    `json:"inserted"`    // New rate rows
	Updated    int    `json:"updated"`     // Overwritten rate rows
	ImportedAt int64  `json:"imported_at"` // Unix timestamp of the import
}
