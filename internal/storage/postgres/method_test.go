package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
)

func TestMethodRepository_SetDefault(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE checkout_methods SET is_default = false").
		WithArgs("shipping").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE checkout_methods SET is_default = true").
		WithArgs("shipping", "exp").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = NewMethodRepository(mock).SetDefault(context.Background(), catalog.KindShipping, "exp")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMethodRepository_SetDefault_UnknownRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE checkout_methods SET is_default = false").
		WithArgs("payment").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE checkout_methods SET is_default = true").
		WithArgs("payment", "nope").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err = NewMethodRepository(mock).SetDefault(context.Background(), catalog.KindPayment, "nope")
	require.ErrorIs(t, err, catalog.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMethodRepository_Delete_Unknown(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM checkout_methods").
		WithArgs("shipping", "nope").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err = NewMethodRepository(mock).Delete(context.Background(), catalog.KindShipping, "nope")
	require.ErrorIs(t, err, catalog.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func newDefaultMethod() *catalog.Method {
	return &catalog.Method{
		ID:        "exp",
		Kind:      catalog.KindShipping,
		Name:      "Express",
		Price:     decimal.RequireFromString("14.99"),
		Type:      "express",
		IsDefault: true,
		IsEnabled: true,
		SortOrder: 2,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMethodRepository_Create_DefaultInOneTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	m := newDefaultMethod()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE checkout_methods SET is_default = false").
		WithArgs("shipping").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO checkout_methods").
		WithArgs(m.ID, "shipping", m.Name, m.Description, m.Price, m.Type, true, true, m.SortOrder, m.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, NewMethodRepository(mock).Create(context.Background(), m))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMethodRepository_Create_FailedInsertKeepsOldDefault(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE checkout_methods SET is_default = false").
		WithArgs("shipping").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO checkout_methods").
		WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	err = NewMethodRepository(mock).Create(context.Background(), newDefaultMethod())
	require.ErrorContains(t, err, `insert shipping method "exp"`)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMethodRepository_Create_NonDefault(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	m := newDefaultMethod()
	m.IsDefault = false
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO checkout_methods").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, NewMethodRepository(mock).Create(context.Background(), m))
	require.NoError(t, mock.ExpectationsWereMet())
}
