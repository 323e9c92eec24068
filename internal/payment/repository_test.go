package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var paymentColumns = []string{
	"id", "order_id", "gateway", "remote_id", "state", "amount", "currency",
	"captured_amount", "refunded_amount", "completed_at", "created_at", "updated_at",
}

func TestRepository_CreatePayment(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	now := time.Now()

	newPayment := func() *Payment {
		return &Payment{
			OrderID:  101,
			Gateway:  "viabill_payments",
			RemoteID: "vb-101-abcdefghij",
			State:    StateAuthorization,
			Amount:   decimal.RequireFromString("150.00"),
			Currency: "DKK",
		}
	}

	t.Run("Created", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO payments`).
			WithArgs(uint(101), "viabill_payments", "vb-101-abcdefghij", StateAuthorization,
				sqlmock.AnyArg(), "DKK", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(7, now, now))

		p := newPayment()
		created, err := repo.CreatePayment(context.Background(), p)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, uint(7), p.ID)
	})

	t.Run("Existing transaction", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`ON CONFLICT (remote_id)`)).
			WillReturnError(sql.ErrNoRows)

		p := newPayment()
		created, err := repo.CreatePayment(context.Background(), p)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Zero(t, p.ID)
	})

	t.Run("DBError", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO payments`).
			WillReturnError(errors.New("database error"))

		_, err := repo.CreatePayment(context.Background(), newPayment())
		assert.ErrorContains(t, err, "database error")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetPayment(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	now := time.Now()

	t.Run("By id", func(t *testing.T) {
		mock.ExpectQuery(`FROM payments WHERE id = \$1`).
			WithArgs(uint(7)).
			WillReturnRows(sqlmock.NewRows(paymentColumns).AddRow(
				7, 101, "viabill_payments", "vb-101-abcdefghij", "completed", "150.00", "DKK",
				"100.00", "0.00", now, now, now,
			))

		p, err := repo.GetPayment(context.Background(), 7)
		require.NoError(t, err)
		assert.Equal(t, StateCompleted, p.State)
		assert.True(t, decimal.RequireFromString("100").Equal(p.CapturedAmount))
		require.NotNil(t, p.CompletedAt)
		assert.True(t, decimal.RequireFromString("150").Equal(p.Refundable()))
	})

	t.Run("By remote id", func(t *testing.T) {
		mock.ExpectQuery(`FROM payments WHERE remote_id = \$1`).
			WithArgs("vb-101-abcdefghij").
			WillReturnRows(sqlmock.NewRows(paymentColumns).AddRow(
				7, 101, "viabill_payments", "vb-101-abcdefghij", "authorization", "150.00", "DKK",
				"0", "0", nil, now, now,
			))

		p, err := repo.GetPaymentByRemoteID(context.Background(), "vb-101-abcdefghij")
		require.NoError(t, err)
		assert.Equal(t, StateAuthorization, p.State)
		assert.Nil(t, p.CompletedAt)
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery(`FROM payments WHERE remote_id = \$1`).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(paymentColumns))

		_, err := repo.GetPaymentByRemoteID(context.Background(), "missing")
		assert.True(t, errors.Is(err, ErrPaymentNotFound))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_UpdatePayment(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	p := &Payment{ID: 7, State: StateVoided}

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(`UPDATE payments`).
			WithArgs(StateVoided, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), uint(7), StateAuthorization).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.UpdatePayment(context.Background(), p, StateAuthorization))
	})

	t.Run("State moved on", func(t *testing.T) {
		mock.ExpectExec(`UPDATE payments`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.UpdatePayment(context.Background(), p, StateAuthorization)
		assert.True(t, errors.Is(err, ErrStaleState))
	})

	t.Run("DBError", func(t *testing.T) {
		mock.ExpectExec(`UPDATE payments`).
			WillReturnError(errors.New("update failed"))

		assert.Error(t, repo.UpdatePayment(context.Background(), p, StateAuthorization))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_SaveAuditLog(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO payment_audit_logs`).
		WithArgs(uint(7), uint(101), AuditPartialCapture, "Partial capture of 40.00 DKK out of 150.00 DKK").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(3, now))

	entry := &AuditLog{
		PaymentID: 7,
		OrderID:   101,
		Event:     AuditPartialCapture,
		Message:   "Partial capture of 40.00 DKK out of 150.00 DKK",
	}
	require.NoError(t, repo.SaveAuditLog(context.Background(), entry))
	assert.Equal(t, int64(3), entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Callbacks(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	d := &CallbackDelivery{
		Transaction:    "vb-101-abcdefghij",
		Status:         "APPROVED",
		Signature:      "0cc175b9c0f1b6a831c399e269772661",
		SignatureValid: true,
		Payload:        json.RawMessage(`{"transaction":"vb-101-abcdefghij"}`),
	}

	t.Run("First delivery", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO viabill_callbacks`).
			WithArgs(d.Transaction, d.Status, d.Signature, true, []byte(d.Payload)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "processed"}).AddRow(11, false))

		id, processed, err := repo.RecordCallback(context.Background(), d)
		require.NoError(t, err)
		assert.Equal(t, int64(11), id)
		assert.False(t, processed)
	})

	t.Run("Redelivery of processed callback", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`attempts = viabill_callbacks.attempts + 1`)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "processed"}).AddRow(11, true))

		_, processed, err := repo.RecordCallback(context.Background(), d)
		require.NoError(t, err)
		assert.True(t, processed)
	})

	t.Run("Record error", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO viabill_callbacks`).
			WillReturnError(errors.New("insert failed"))

		_, _, err := repo.RecordCallback(context.Background(), d)
		assert.Error(t, err)
	})

	t.Run("Mark processed", func(t *testing.T) {
		mock.ExpectExec(`UPDATE viabill_callbacks\s+SET processed_at = NOW\(\)`).
			WithArgs(int64(11)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.MarkCallbackProcessed(context.Background(), 11))
	})

	t.Run("Mark failed", func(t *testing.T) {
		mock.ExpectExec(`UPDATE viabill_callbacks\s+SET process_error = \$2`).
			WithArgs(int64(11), "order not found").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.MarkCallbackFailed(context.Background(), 11, "order not found"))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
