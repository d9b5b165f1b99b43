package repositories

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sbilibin2017/cbr-rates-loader/internal/logger"
	"github.com/sbilibin2017/cbr-rates-loader/internal/models"
	"github.com/sbilibin2017/cbr-rates-loader/internal/tx"
	"github.com/shopspring/decimal"
)

// CurrencyRateReadRepository handles rate read operations
type CurrencyRateReadRepository struct {
	db *sqlx.DB
}

func NewCurrencyRateReadRepository(db *sqlx.DB) *CurrencyRateReadRepository {
	return &CurrencyRateReadRepository{db: db}
}

// ExistsOnDate reports whether any rate row exists for the given date.
func (r *CurrencyRateReadRepository) ExistsOnDate(ctx context.Context, date time.Time) (bool, error) {
	const query = `
		SELECT EXISTS (SELECT 1 FROM currency_rates WHERE rate_date = $1)
	`

	executor := tx.Executor(ctx, r.db)

	var exists bool
	err := sqlx.GetContext(ctx, executor, &exists, query, models.DateOnly(date))

	logger.Log.Debugw("check rates exist on date",
		"date", models.DateOnly(date).Format("2006-01-02"),
		"result", exists,
		"error", err,
	)

	return exists, err
}

// GetByDate retrieves all rate rows for the given date restricted to the
// given currency identities.
func (r *CurrencyRateReadRepository) GetByDate(ctx context.Context, date time.Time, currencyIDs []uuid.UUID) ([]models.CurrencyRateDB, error) {
	if len(currencyIDs) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`
		SELECT rate_id, currency_id, rate_date, nominal, value, imported_at_utc
		FROM currency_rates
		WHERE rate_date = ? AND currency_id IN (?)
	`, models.DateOnly(date), currencyIDs)
	if err != nil {
		return nil, err
	}

	executor := tx.Executor(ctx, r.db)
	query = executor.Rebind(query)

	var rates []models.CurrencyRateDB
	err = sqlx.SelectContext(ctx, executor, &rates, query, args...)

	logger.Log.Debugw("get rates by date",
		"date", models.DateOnly(date).Format("2006-01-02"),
		"currencies", len(currencyIDs),
		"result", len(rates),
		"error", err,
	)

	if err != nil {
		return nil, err
	}
	return rates, nil
}

// CurrencyRateWriteRepository handles rate write operations
type CurrencyRateWriteRepository struct {
	db *sqlx.DB
}

func NewCurrencyRateWriteRepository(db *sqlx.DB) *CurrencyRateWriteRepository {
	return &CurrencyRateWriteRepository{db: db}
}

// Insert creates a new rate row for a (currency, date) pair.
func (r *CurrencyRateWriteRepository) Insert(ctx context.Context, rate models.CurrencyRateDB) error {
	query := `
		INSERT INTO currency_rates (rate_id, currency_id, rate_date, nominal, value, imported_at_utc)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	executor := tx.Executor(ctx, r.db)

	_, err := executor.ExecContext(ctx, query,
		rate.RateID, rate.CurrencyID, models.DateOnly(rate.RateDate), rate.Nominal, rate.Value, rate.ImportedAtUTC)

	logger.Log.Debugw("insert rate",
		"query", strings.Join(strings.Fields(query), " "),
		"currency_id", rate.CurrencyID,
		"date", models.DateOnly(rate.RateDate).Format("2006-01-02"),
		"error", err,
	)

	return err
}

// Update overwrites nominal, value and import timestamp of an existing rate row.
func (r *CurrencyRateWriteRepository) Update(ctx context.Context, rateID uuid.UUID, nominal int, value decimal.Decimal, importedAt time.Time) error {
	query := `
		UPDATE currency_rates
		SET nominal = $2, value = $3, imported_at_utc = $4
		WHERE rate_id = $1
	`

	executor := tx.Executor(ctx, r.db)

	_, err := executor.ExecContext(ctx, query, rateID, nominal, value, importedAt)

	logger.Log.Debugw("update rate",
		"query", strings.Join(strings.Fields(query), " "),
		"rate_id", rateID,
		"error", err,
	)

	return err
}
