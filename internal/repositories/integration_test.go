package repositories

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sbilibin2017/cbr-rates-loader/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgresContainer(t *testing.T) (*sqlx.DB, func()) {
	t.Helper()

	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "password", "POSTGRES_DB": "testdb", "POSTGRES_USER": "postgres"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp"),
	}

	container, err := tc.GenericContainer(context.Background(), tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	assert.NoError(t, err)

	host, _ := container.Host(context.Background())
	port, _ := container.MappedPort(context.Background(), "5432")

	dsn := fmt.Sprintf("postgres://postgres:password@%s:%d/testdb?sslmode=disable", host, port.Int())

	var db *sqlx.DB
	for i := 0; i < 10; i++ {
		db, err = sqlx.Connect("pgx", dsn)
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	assert.NoError(t, err)

	schema := `
	CREATE TABLE IF NOT EXISTS currencies (
		currency_id UUID PRIMARY KEY,
		cbr_code INTEGER NOT NULL DEFAULT 0,
		char_code VARCHAR(10) NOT NULL,
		name VARCHAR(200) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (char_code)
	);

	CREATE TABLE IF NOT EXISTS currency_rates (
		rate_id UUID PRIMARY KEY,
		currency_id UUID NOT NULL REFERENCES currencies (currency_id) ON DELETE RESTRICT,
		rate_date DATE NOT NULL,
		nominal INTEGER NOT NULL,
		value NUMERIC(18, 6) NOT NULL,
		imported_at_utc TIMESTAMPTZ NOT NULL,
		UNIQUE (currency_id, rate_date)
	);
	`
	_, err = db.Exec(schema)
	assert.NoError(t, err)

	teardown := func() {
		db.Close()
		container.Terminate(context.Background())
	}

	return db, teardown
}

func TestCurrencyWriteRepository_Upsert(t *testing.T) {
	db, teardown := setupPostgresContainer(t)
	defer teardown()

	repo := NewCurrencyWriteRepository(db)
	ctx := context.Background()

	id1, err := repo.Save(ctx, 840, "USD", "Доллар США")
	assert.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id1)

	// A renamed currency updates in place and keeps its identity
	id2, err := repo.Save(ctx, 840, "USD", "Доллар США (новое)")
	assert.NoError(t, err)
	assert.Equal(t, id1, id2)

	var count int
	assert.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM currencies WHERE char_code = 'USD'`))
	assert.Equal(t, 1, count)

	var name string
	assert.NoError(t, db.Get(&name, `SELECT name FROM currencies WHERE currency_id = $1`, id1))
	assert.Equal(t, "Доллар США (новое)", name)

	// A blank incoming name never blanks out the stored one
	_, err = repo.Save(ctx, 840, "USD", "")
	assert.NoError(t, err)
	assert.NoError(t, db.Get(&name, `SELECT name FROM currencies WHERE currency_id = $1`, id1))
	assert.Equal(t, "Доллар США (новое)", name)
}

func TestCurrencyRateRepositories_RoundTrip(t *testing.T) {
	db, teardown := setupPostgresContainer(t)
	defer teardown()

	ctx := context.Background()
	currencyRepo := NewCurrencyWriteRepository(db)
	readRepo := NewCurrencyRateReadRepository(db)
	writeRepo := NewCurrencyRateWriteRepository(db)

	currencyID, err := currencyRepo.Save(ctx, 978, "EUR", "Евро")
	assert.NoError(t, err)

	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	exists, err := readRepo.ExistsOnDate(ctx, date)
	assert.NoError(t, err)
	assert.False(t, exists)

	rate := models.CurrencyRateDB{
		RateID:        uuid.New(),
		CurrencyID:    currencyID,
		RateDate:      date,
		Nominal:       1,
		Value:         decimal.RequireFromString("100.5"),
		ImportedAtUTC: time.Now().UTC(),
	}
	assert.NoError(t, writeRepo.Insert(ctx, rate))

	exists, err = readRepo.ExistsOnDate(ctx, date)
	assert.NoError(t, err)
	assert.True(t, exists)

	rates, err := readRepo.GetByDate(ctx, date, []uuid.UUID{currencyID})
	assert.NoError(t, err)
	assert.Len(t, rates, 1)
	assert.True(t, rates[0].Value.Equal(decimal.RequireFromString("100.5")))

	// Uniqueness on (currency, date): a second insert must fail
	dup := rate
	dup.RateID = uuid.New()
	assert.Error(t, writeRepo.Insert(ctx, dup))

	// Update overwrites in place
	newValue := decimal.RequireFromString("101.25")
	assert.NoError(t, writeRepo.Update(ctx, rate.RateID, 10, newValue, time.Now().UTC()))

	rates, err = readRepo.GetByDate(ctx, date, []uuid.UUID{currencyID})
	assert.NoError(t, err)
	assert.Len(t, rates, 1)
	assert.Equal(t, 10, rates[0].Nominal)
	assert.True(t, rates[0].Value.Equal(newValue))

	// Delete-restrict: a currency with rates cannot be removed
	_, err = db.Exec(`DELETE FROM currencies WHERE currency_id = $1`, currencyID)
	assert.Error(t, err)
}
