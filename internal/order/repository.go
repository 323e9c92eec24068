package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type Repository interface {
	GetOrder(ctx context.Context, id uint) (*Order, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*Order, error)
	UpdateState(ctx context.Context, id uint, from, to State) error
	SetData(ctx context.Context, id uint, key, value string) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

const selectOrder = `
	SELECT id, state, payment_gateway, total, currency, email, billing, data, created_at, updated_at
	FROM orders`

func (r *repository) GetOrder(ctx context.Context, id uint) (*Order, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, selectOrder+` WHERE id = $1`, id))
}

func (r *repository) FindByTransactionID(ctx context.Context, transactionID string) (*Order, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		selectOrder+` WHERE data->>'`+DataTransactionID+`' = $1 ORDER BY id LIMIT 1`,
		transactionID,
	))
}

func (r *repository) scanOne(row *sql.Row) (*Order, error) {
	var (
		o       Order
		billing []byte
		data    []byte
	)
	err := row.Scan(
		&o.ID, &o.State, &o.PaymentGateway, &o.Total, &o.Currency, &o.Email,
		&billing, &data, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	if len(billing) > 0 {
		if err := json.Unmarshal(billing, &o.Billing); err != nil {
			return nil, fmt.Errorf("decode billing of order %d: %w", o.ID, err)
		}
	}
	o.Data = map[string]string{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &o.Data); err != nil {
			return nil, fmt.Errorf("decode data of order %d: %w", o.ID, err)
		}
	}
	return &o, nil
}

// UpdateState moves the order only while it is still in from.
func (r *repository) UpdateState(ctx context.Context, id uint, from, to State) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders SET state = $1, updated_at = NOW()
		WHERE id = $2 AND state = $3
	`, to, id, from)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: order %d is no longer %s", ErrStaleState, id, from)
	}
	return nil
}

func (r *repository) SetData(ctx context.Context, id uint, key, value string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET data = COALESCE(data, '{}'::jsonb) || jsonb_build_object($1::text, $2::text),
		    updated_at = NOW()
		WHERE id = $3
	`, key, value, id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrOrderNotFound
	}
	return nil
}
