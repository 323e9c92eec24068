package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type Repository interface {
	// CreatePayment inserts p unless a payment with the same remote id
	// exists, in which case it reports false.
	CreatePayment(ctx context.Context, p *Payment) (bool, error)
	GetPayment(ctx context.Context, id uint) (*Payment, error)
	GetPaymentByRemoteID(ctx context.Context, remoteID string) (*Payment, error)
	// UpdatePayment persists p only while the stored state is still from.
	UpdatePayment(ctx context.Context, p *Payment, from State) error
	SaveAuditLog(ctx context.Context, entry *AuditLog) error

	RecordCallback(ctx context.Context, d *CallbackDelivery) (callbackID int64, processed bool, err error)
	MarkCallbackProcessed(ctx context.Context, callbackID int64) error
	MarkCallbackFailed(ctx context.Context, callbackID int64, reason string) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreatePayment(ctx context.Context, p *Payment) (bool, error) {
	const q = `
	INSERT INTO payments (
		order_id,
		gateway,
		remote_id,
		state,
		amount,
		currency,
		captured_amount,
		refunded_amount,
		completed_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (remote_id)
	DO NOTHING
	RETURNING id, created_at, updated_at;
	`

	err := r.db.QueryRowContext(ctx, q,
		p.OrderID, p.Gateway, p.RemoteID, p.State, p.Amount, p.Currency,
		p.CapturedAmount, p.RefundedAmount, p.CompletedAt,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)

	if err != nil {
		// Existing payment for this transaction
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

const selectPayment = `
	SELECT id, order_id, gateway, remote_id, state, amount, currency,
	       captured_amount, refunded_amount, completed_at, created_at, updated_at
	FROM payments`

func (r *repository) GetPayment(ctx context.Context, id uint) (*Payment, error) {
	return scanPayment(r.db.QueryRowContext(ctx, selectPayment+` WHERE id = $1`, id))
}

func (r *repository) GetPaymentByRemoteID(ctx context.Context, remoteID string) (*Payment, error) {
	return scanPayment(r.db.QueryRowContext(ctx, selectPayment+` WHERE remote_id = $1`, remoteID))
}

func scanPayment(row *sql.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID, &p.OrderID, &p.Gateway, &p.RemoteID, &p.State, &p.Amount, &p.Currency,
		&p.CapturedAmount, &p.RefundedAmount, &p.CompletedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repository) UpdatePayment(ctx context.Context, p *Payment, from State) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET state = $1, captured_amount = $2, refunded_amount = $3, completed_at = $4, updated_at = NOW()
		WHERE id = $5 AND state = $6
	`, p.State, p.CapturedAmount, p.RefundedAmount, p.CompletedAt, p.ID, from)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: payment %d is no longer %s", ErrStaleState, p.ID, from)
	}
	return nil
}

func (r *repository) SaveAuditLog(ctx context.Context, entry *AuditLog) error {
	return r.db.QueryRowContext(ctx, `
		INSERT INTO payment_audit_logs (payment_id, order_id, event, message)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, entry.PaymentID, entry.OrderID, entry.Event, entry.Message).Scan(&entry.ID, &entry.CreatedAt)
}

// RecordCallback stores a delivery. A repeated delivery bumps the attempt
// counter and reports whether an earlier attempt finished processing.
func (r *repository) RecordCallback(ctx context.Context, d *CallbackDelivery) (int64, bool, error) {
	const q = `
	INSERT INTO viabill_callbacks (
		transaction_id,
		status,
		signature,
		signature_valid,
		payload
	)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (transaction_id, status, signature)
	DO UPDATE SET attempts = viabill_callbacks.attempts + 1, updated_at = NOW()
	RETURNING id, processed_at IS NOT NULL;
	`

	var (
		id        int64
		processed bool
	)
	err := r.db.QueryRowContext(ctx, q,
		d.Transaction, d.Status, d.Signature, d.SignatureValid, []byte(d.Payload),
	).Scan(&id, &processed)
	if err != nil {
		return 0, false, err
	}
	return id, processed, nil
}

func (r *repository) MarkCallbackProcessed(ctx context.Context, callbackID int64) error {
	const q = `
	UPDATE viabill_callbacks
	SET processed_at = NOW(), process_error = NULL, updated_at = NOW()
	WHERE id = $1;
	`

	_, err := r.db.ExecContext(ctx, q, callbackID)
	return err
}

func (r *repository) MarkCallbackFailed(ctx context.Context, callbackID int64, reason string) error {
	const q = `
	UPDATE viabill_callbacks
	SET process_error = $2, updated_at = NOW()
	WHERE id = $1;
	`

	_, err := r.db.ExecContext(ctx, q, callbackID, reason)
	return err
}
