package repositories

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	txctx "github.com/sbilibin2017/cbr-rates-loader/internal/tx"
	"github.com/stretchr/testify/assert"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestCurrencyWriteRepository_Save_New(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCurrencyWriteRepository(db)

	expectedID := uuid.New()
	mock.ExpectQuery("INSERT INTO currencies").
		WithArgs(sqlmock.AnyArg(), 840, "USD", "Доллар США").
		WillReturnRows(sqlmock.NewRows([]string{"currency_id"}).AddRow(expectedID.String()))

	id, err := repo.Save(context.Background(), 840, "USD", "Доллар США")
	assert.NoError(t, err)
	assert.Equal(t, expectedID, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCurrencyWriteRepository_Save_Error(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCurrencyWriteRepository(db)

	mock.ExpectQuery("INSERT INTO currencies").
		WithArgs(sqlmock.AnyArg(), 978, "EUR", "Евро").
		WillReturnError(errors.New("connection lost"))

	id, err := repo.Save(context.Background(), 978, "EUR", "Евро")
	assert.Error(t, err)
	assert.Equal(t, uuid.Nil, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCurrencyWriteRepository_Save_InsideTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCurrencyWriteRepository(db)

	expectedID := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO currencies").
		WithArgs(sqlmock.AnyArg(), 840, "USD", "Доллар США").
		WillReturnRows(sqlmock.NewRows([]string{"currency_id"}).AddRow(expectedID.String()))
	mock.ExpectCommit()

	txn, err := db.Beginx()
	assert.NoError(t, err)

	ctx := txctx.SetTxToContext(context.Background(), txn)
	id, err := repo.Save(ctx, 840, "USD", "Доллар США")
	assert.NoError(t, err)
	assert.Equal(t, expectedID, id)

	assert.NoError(t, txn.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}
