package repositories

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sbilibin2017/cbr-rates-loader/internal/logger"
	"github.com/sbilibin2017/cbr-rates-loader/internal/tx"
)

// CurrencyWriteRepository handles currency reference write operations
type CurrencyWriteRepository struct {
	db *sqlx.DB
}

func NewCurrencyWriteRepository(db *sqlx.DB) *CurrencyWriteRepository {
	return &CurrencyWriteRepository{db: db}
}

// Save performs an UPSERT keyed by char_code: creates the currency if not
// observed before, otherwise refreshes its CBR numeric code and name.
// A blank incoming name never blanks out a stored one.
// Returns the currency identifier.
func (r *CurrencyWriteRepository) Save(ctx context.Context, cbrCode int, charCode, name string) (uuid.UUID, error) {
	query := `
		INSERT INTO currencies (currency_id, cbr_code, char_code, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (char_code)
		DO UPDATE SET
			cbr_code = EXCLUDED.cbr_code,
			name = CASE WHEN EXCLUDED.name = '' THEN currencies.name ELSE EXCLUDED.name END,
			updated_at = NOW()
		RETURNING currency_id
	`

	executor := tx.Executor(ctx, r.db)

	var currencyID uuid.UUID
	err := sqlx.GetContext(ctx, executor, &currencyID, query, uuid.New(), cbrCode, charCode, name)

	logger.Log.Debugw("upsert currency",
		"query", strings.Join(strings.Fields(query), " "),
		"args", []any{cbrCode, charCode, name},
		"result", currencyID,
		"error", err,
	)

	if err != nil {
		return uuid.Nil, err
	}
	return currencyID, nil
}
