package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sbilibin2017/cbr-rates-loader/internal/logger"
	"github.com/sbilibin2017/cbr-rates-loader/internal/models"
	"github.com/sbilibin2017/cbr-rates-loader/internal/tx"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

// RateFetcher fetches published rates for a calendar date.
type RateFetcher interface {
	GetRatesOnDate(ctx context.Context, date time.Time) ([]models.RateRecord, error)
}

// CurrencyWriter upserts a currency reference row and returns its id.
type CurrencyWriter interface {
	Save(ctx context.Context, cbrCode int, charCode, name string) (uuid.UUID, error)
}

// CurrencyRateReader reads persisted rate rows.
type CurrencyRateReader interface {
	ExistsOnDate(ctx context.Context, date time.Time) (bool, error)
	GetByDate(ctx context.Context, date time.Time, currencyIDs []uuid.UUID) ([]models.CurrencyRateDB, error)
}

// CurrencyRateWriter writes rate rows.
type CurrencyRateWriter interface {
	Insert(ctx context.Context, rate models.CurrencyRateDB) error
	Update(ctx context.Context, rateID uuid.UUID, nominal int, value decimal.Decimal, importedAt time.Time) error
}

// KafkaWriter defines a Kafka writer abstraction.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RateCacheWriter refreshes the latest-rate cache.
type RateCacheWriter interface {
	SetLatestRate(ctx context.Context, charCode string, nominal int, value decimal.Decimal) error
}

// ImportResult reports what one day's import did.
type ImportResult struct {
	Inserted int // New rate rows
	Updated  int // Overwritten rate rows
	Total    int // Records considered after filtering
}

// RateImporter reconciles fetched CBR rates against persisted currency and
// rate rows. It is the sole writer of both tables. Each day's write phase
// runs inside a single transaction: either the whole batch commits or none
// of it does.
type RateImporter struct {
	db           *sqlx.DB
	fetcher      RateFetcher
	currencyRepo CurrencyWriter
	rateReader   CurrencyRateReader
	rateWriter   CurrencyRateWriter
	kafkaWriter  KafkaWriter     // optional, nil disables publishing
	cacheRepo    RateCacheWriter // optional, nil disables cache refresh
	kafkaTopic   string
	now          func() time.Time
}

// NewRateImporter creates a new RateImporter.
func NewRateImporter(
	db *sqlx.DB,
	fetcher RateFetcher,
	currencyRepo CurrencyWriter,
	rateReader CurrencyRateReader,
	rateWriter CurrencyRateWriter,
	kafkaWriter KafkaWriter,
	cacheRepo RateCacheWriter,
	kafkaTopic string,
) *RateImporter {
	return &RateImporter{
		db:           db,
		fetcher:      fetcher,
		currencyRepo: currencyRepo,
		rateReader:   rateReader,
		rateWriter:   rateWriter,
		kafkaWriter:  kafkaWriter,
		cacheRepo:    cacheRepo,
		kafkaTopic:   kafkaTopic,
		now:          time.Now,
	}
}

// ImportRange imports every calendar day in [from, to] inclusive,
// sequentially in ascending order. Reversed bounds are swapped.
// A failed day halts the remaining range.
func (s *RateImporter) ImportRange(ctx context.Context, from, to time.Time, skipIfAnyExists bool) error {
	from, to = models.DateOnly(from), models.DateOnly(to)
	if from.After(to) {
		from, to = to, from
	}

	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if _, err := s.ImportDay(ctx, d, skipIfAnyExists); err != nil {
			return fmt.Errorf("importing %s: %w", d.Format("2006-01-02"), err)
		}
	}
	return nil
}

// ImportDay fetches the day's rates and reconciles them against storage.
// With skipIfAnyExists set, a day that already has any rate row is left
// untouched and nothing is fetched.
func (s *RateImporter) ImportDay(ctx context.Context, date time.Time, skipIfAnyExists bool) (ImportResult, error) {
	date = models.DateOnly(date)

	if skipIfAnyExists {
		exists, err := s.rateReader.ExistsOnDate(ctx, date)
		if err != nil {
			return ImportResult{}, err
		}
		if exists {
			logger.Log.Infow("skipping day, rates already present", "date", date.Format("2006-01-02"))
			return ImportResult{}, nil
		}
	}

	records, err := s.fetcher.GetRatesOnDate(ctx, date)
	if err != nil {
		logger.Log.Errorw("failed to fetch CBR rates", "date", date.Format("2006-01-02"), "error", err)
		return ImportResult{}, err
	}

	useful := normalizeRecords(records)
	if len(useful) == 0 {
		logger.Log.Warnw("CBR returned no usable rates", "date", date.Format("2006-01-02"))
		return ImportResult{}, nil
	}

	result, err := s.reconcile(ctx, date, useful)
	if err != nil {
		return ImportResult{}, err
	}

	logger.Log.Infow("day imported",
		"date", date.Format("2006-01-02"),
		"currencies", result.Total,
		"inserted", result.Inserted,
		"updated", result.Updated,
	)

	s.publishDayImport(ctx, date, result)
	s.refreshCache(ctx, useful)

	return result, nil
}

// normalizeRecords drops records with blank alphabetic codes, uppercases
// codes, trims names, and collapses duplicate codes (last one wins).
func normalizeRecords(records []models.RateRecord) []models.RateRecord {
	byCode := make(map[string]int, len(records))
	useful := make([]models.RateRecord, 0, len(records))

	for _, rec := range records {
		code := strings.ToUpper(strings.TrimSpace(rec.CharCode))
		if code == "" {
			continue
		}
		rec.CharCode = code
		rec.Name = strings.TrimSpace(rec.Name)

		if i, ok := byCode[code]; ok {
			useful[i] = rec
			continue
		}
		byCode[code] = len(useful)
		useful = append(useful, rec)
	}
	return useful
}

// reconcile applies one day's batch inside a single transaction.
func (s *RateImporter) reconcile(ctx context.Context, date time.Time, useful []models.RateRecord) (ImportResult, error) {
	txn, err := s.db.Beginx()
	if err != nil {
		return ImportResult{}, fmt.Errorf("beginning transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := txn.Rollback(); rbErr != nil {
				logger.Log.Errorw("failed to roll back import transaction", "error", rbErr)
			}
		}
	}()

	txCtx := tx.SetTxToContext(ctx, txn)

	currencyIDs := make(map[string]uuid.UUID, len(useful))
	ids := make([]uuid.UUID, 0, len(useful))
	for _, rec := range useful {
		id, err := s.currencyRepo.Save(txCtx, rec.CBRCode, rec.CharCode, rec.Name)
		if err != nil {
			return ImportResult{}, fmt.Errorf("upserting currency %s: %w", rec.CharCode, err)
		}
		currencyIDs[rec.CharCode] = id
		ids = append(ids, id)
	}

	existing, err := s.rateReader.GetByDate(txCtx, date, ids)
	if err != nil {
		return ImportResult{}, fmt.Errorf("loading existing rates: %w", err)
	}

	rateByCurrency := make(map[uuid.UUID]models.CurrencyRateDB, len(existing))
	for _, rate := range existing {
		rateByCurrency[rate.CurrencyID] = rate
	}

	importedAt := s.now().UTC()
	result := ImportResult{Total: len(useful)}

	for _, rec := range useful {
		currencyID := currencyIDs[rec.CharCode]

		stored, ok := rateByCurrency[currencyID]
		if !ok {
			err := s.rateWriter.Insert(txCtx, models.CurrencyRateDB{
				RateID:        uuid.New(),
				CurrencyID:    currencyID,
				RateDate:      date,
				Nominal:       rec.Nominal,
				Value:         rec.Value,
				ImportedAtUTC: importedAt,
			})
			if err != nil {
				return ImportResult{}, fmt.Errorf("inserting rate %s: %w", rec.CharCode, err)
			}
			result.Inserted++
			continue
		}

		if stored.Nominal != rec.Nominal || !stored.Value.Equal(rec.Value) {
			if err := s.rateWriter.Update(txCtx, stored.RateID, rec.Nominal, rec.Value, importedAt); err != nil {
				return ImportResult{}, fmt.Errorf("updating rate %s: %w", rec.CharCode, err)
			}
			result.Updated++
		}
	}

	if err := txn.Commit(); err != nil {
		return ImportResult{}, fmt.Errorf("committing transaction: %w", err)
	}
	committed = true

	return result, nil
}

// publishDayImport publishes a day-import summary event to Kafka.
// Failures are logged and never fail the import.
func (s *RateImporter) publishDayImport(ctx context.Context, date time.Time, result ImportResult) {
	if s.kafkaWriter == nil {
		logger.Log.Debugw("Kafka writer not configured, skipping publishing", "date", date.Format("2006-01-02"))
		return
	}

	event := models.DayImportEvent{
		Date:       date.Format("2006-01-02"),
		Currencies: result.Total,
		Inserted:   result.Inserted,
		Updated:    result.Updated,
		ImportedAt: s.now().Unix(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		logger.Log.Errorw("failed to marshal day import event", "date", event.Date, "error", err)
		return
	}

	msg := kafka.Message{
		Key:   []byte(event.Date),
		Value: data,
	}

	if err := s.kafkaWriter.WriteMessages(ctx, msg); err != nil {
		logger.Log.Errorw("failed to publish day import event", "date", event.Date, "error", err)
	} else {
		logger.Log.Infow("day import event published", "date", event.Date, "topic", s.kafkaTopic)
	}
}

// refreshCache updates the latest-rate cache for every imported currency.
// Failures are logged and never fail the import.
func (s *RateImporter) refreshCache(ctx context.Context, useful []models.RateRecord) {
	if s.cacheRepo == nil {
		return
	}

	for _, rec := range useful {
		if err := s.cacheRepo.SetLatestRate(ctx, rec.CharCode, rec.Nominal, rec.Value); err != nil {
			logger.Log.Errorw("failed to refresh rate cache", "currency", rec.CharCode, "error", err)
		}
	}
}
