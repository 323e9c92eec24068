package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"viabill-be/internal/events"
	"viabill-be/internal/lock"
	"viabill-be/internal/logger"
	"viabill-be/internal/order"
	"viabill-be/internal/viabill"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Service interface {
	HandleNotification(ctx context.Context, n viabill.Notification) (Outcome, error)
	StartCheckout(ctx context.Context, orderID uint, urls CheckoutURLs) (*viabill.CheckoutResult, error)
	// Capture, Void and Refund act on a payment at the merchant's request.
	// A nil amount means the whole remaining balance.
	Capture(ctx context.Context, paymentID uint, amount *decimal.Decimal) (*Payment, error)
	Void(ctx context.Context, paymentID uint) (*Payment, error)
	Refund(ctx context.Context, paymentID uint, amount *decimal.Decimal) (*Payment, error)
	// Renew extends an authorization; Status asks the gateway for its view
	// of the transaction. Neither changes the stored payment.
	Renew(ctx context.Context, paymentID uint) (*viabill.TransactionResult, error)
	Status(ctx context.Context, paymentID uint) (map[string]any, error)
}

// TransitionRecorder counts payment state changes.
type TransitionRecorder interface {
	StateTransition(from, to string)
}

type service struct {
	payments  Repository
	orders    order.Service
	gateways  GatewayResolver
	locker    lock.Locker
	publisher events.Publisher
	recorder  TransitionRecorder
	now       func() time.Time
}

func NewService(
	payments Repository,
	orders order.Service,
	gateways GatewayResolver,
	locker lock.Locker,
	publisher events.Publisher,
	recorder TransitionRecorder,
) Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &service{
		payments:  payments,
		orders:    orders,
		gateways:  gateways,
		locker:    locker,
		publisher: publisher,
		recorder:  recorder,
		now:       time.Now,
	}
}

func lockKey(transactionID string) string {
	return "viabill:tx:" + transactionID
}

// ----------------- Callback -----------------

func (s *service) HandleNotification(ctx context.Context, n viabill.Notification) (Outcome, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("transaction", n.Transaction),
		zap.String("status", n.Status),
	)

	o, err := s.findOrder(ctx, n)
	if err != nil {
		log.Error("Could not find order for transaction", zap.Error(err))
		return "", err
	}
	log = log.With(zap.Uint("order_id", o.ID))

	gw, settings, err := s.gateways.Resolve(ctx, o.PaymentGateway)
	if err != nil {
		log.Error("Could not load payment gateway for order", zap.Error(err))
		return "", err
	}

	switch n.Status {
	case viabill.StatusApproved:
		return s.approve(ctx, log, o, n, gw, settings)
	case viabill.StatusCancelled, viabill.StatusRejected:
		return s.cancelOrder(ctx, log, o, n)
	default:
		log.Error("Unknown status received")
		return "", fmt.Errorf("%w: %s", ErrUnknownStatus, n.Status)
	}
}

// findOrder tries the order number, then order metadata, then an existing
// payment for the transaction.
func (s *service) findOrder(ctx context.Context, n viabill.Notification) (*order.Order, error) {
	if id, err := strconv.ParseUint(strings.TrimSpace(n.OrderNumber), 10, 64); err == nil && id > 0 {
		o, err := s.orders.GetOrder(ctx, uint(id))
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, order.ErrOrderNotFound) {
			return nil, err
		}
	}

	o, err := s.orders.FindByTransactionID(ctx, n.Transaction)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, order.ErrOrderNotFound) {
		return nil, err
	}

	p, err := s.payments.GetPaymentByRemoteID(ctx, n.Transaction)
	if errors.Is(err, ErrPaymentNotFound) {
		return nil, fmt.Errorf("%w: transaction %s", ErrOrderNotFound, n.Transaction)
	}
	if err != nil {
		return nil, err
	}
	return s.orders.GetOrder(ctx, p.OrderID)
}

func (s *service) approve(
	ctx context.Context,
	log *zap.Logger,
	o *order.Order,
	n viabill.Notification,
	gw Gateway,
	settings Settings,
) (Outcome, error) {
	unlock, err := s.locker.Lock(ctx, lockKey(n.Transaction))
	if err != nil {
		return "", err
	}
	defer unlock()

	existing, err := s.payments.GetPaymentByRemoteID(ctx, n.Transaction)
	if err == nil {
		log.Info("Payment already recorded for transaction", zap.Uint("payment_id", existing.ID))
		return OutcomeDuplicate, nil
	}
	if !errors.Is(err, ErrPaymentNotFound) {
		return "", err
	}

	p := &Payment{
		OrderID:  o.ID,
		Gateway:  o.PaymentGateway,
		RemoteID: n.Transaction,
		State:    StateAuthorization,
		Amount:   n.Amount.Abs(),
		Currency: n.Currency,
	}
	outcome := OutcomeAuthorized

	if settings.CaptureOnApproval {
		_, err := gw.CaptureTransaction(ctx, viabill.AmountRequest{
			ID:       n.Transaction,
			Amount:   p.Amount.Neg(),
			Currency: n.Currency,
			APIKey:   settings.APIKey,
			Force:    settings.force(),
		})
		if err != nil {
			log.Warn("Automatic capture failed, payment left in authorization", zap.Error(err))
		} else {
			now := s.now()
			p.State = StateCompleted
			p.CapturedAmount = p.Amount
			p.CompletedAt = &now
			outcome = OutcomeCaptured
		}
	}

	created, err := s.payments.CreatePayment(ctx, p)
	if err != nil {
		log.Error("Failed to save payment", zap.Error(err))
		return "", err
	}
	if !created {
		log.Info("Payment created concurrently for transaction")
		return OutcomeDuplicate, nil
	}

	log.Info("Payment created",
		zap.Uint("payment_id", p.ID),
		zap.String("state", string(p.State)),
		zap.String("amount", viabill.FormatAmount(p.Amount)),
	)
	s.publish(ctx, p, StateNew)
	return outcome, nil
}

func (s *service) cancelOrder(ctx context.Context, log *zap.Logger, o *order.Order, n viabill.Notification) (Outcome, error) {
	unlock, err := s.locker.Lock(ctx, lockKey(n.Transaction))
	if err != nil {
		return "", err
	}
	defer unlock()

	// A concurrent delivery may have moved the order while we waited.
	if o, err = s.orders.GetOrder(ctx, o.ID); err != nil {
		return "", err
	}
	if o.State.Final() {
		log.Warn("Transaction failed, but order is already final", zap.String("order_state", string(o.State)))
		return OutcomeOrderUnchanged, nil
	}

	from := o.State
	applied, err := s.orders.Transition(ctx, o, order.StateCanceled)
	if err != nil {
		return "", err
	}
	if !applied {
		return OutcomeOrderUnchanged, nil
	}

	log.Warn("Transaction failed, order canceled")
	s.emit(ctx, events.StateChanged{
		Entity:        "order",
		ID:            o.ID,
		OrderID:       o.ID,
		TransactionID: n.Transaction,
		PreviousState: string(from),
		State:         string(o.State),
	})
	return OutcomeOrderCanceled, nil
}

// ----------------- Checkout -----------------

func (s *service) StartCheckout(ctx context.Context, orderID uint, urls CheckoutURLs) (*viabill.CheckoutResult, error) {
	log := logger.FromCtx(ctx).With(zap.Uint("order_id", orderID))

	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.State.Final() {
		return nil, fmt.Errorf("%w: order %d is %s", ErrOrderNotPayable, o.ID, o.State)
	}

	gw, _, err := s.gateways.Resolve(ctx, o.PaymentGateway)
	if err != nil {
		return nil, err
	}

	// The transaction id is assigned once; a retried checkout reuses it.
	txID := o.TransactionID()
	if txID == "" {
		if txID, err = viabill.NewTransactionID(o.ID); err != nil {
			return nil, err
		}
		if err := s.orders.SetTransactionID(ctx, o, txID); err != nil {
			log.Error("Failed to store transaction id", zap.Error(err))
			return nil, err
		}
	}

	if o.State == order.StateDraft {
		if _, err := s.orders.Transition(ctx, o, order.StatePending); err != nil {
			return nil, err
		}
	}

	res, err := gw.Checkout(ctx, viabill.CheckoutRequest{
		Transaction:  txID,
		OrderNumber:  strconv.FormatUint(uint64(o.ID), 10),
		Amount:       o.Total,
		Currency:     o.Currency,
		SuccessURL:   urls.Success,
		CancelURL:    urls.Cancel,
		CallbackURL:  urls.Callback,
		CustomParams: customerParams(o),
	})
	if err != nil {
		log.Error("Checkout failed", zap.String("transaction", txID), zap.Error(err))
		return nil, err
	}

	log.Info("Checkout started", zap.String("transaction", txID))
	return res, nil
}

func customerParams(o *order.Order) map[string]any {
	b := o.Billing
	address := strings.TrimSpace(strings.Trim(b.AddressLine1+", "+b.AddressLine2, ", "))
	return map[string]any{
		"email":       o.Email,
		"phoneNumber": b.Phone,
		"firstName":   b.FirstName,
		"lastName":    b.LastName,
		"fullName":    strings.TrimSpace(b.FirstName + " " + b.LastName),
		"address":     address,
		"city":        b.City,
		"postalCode":  b.PostalCode,
		"country":     b.Country,
	}
}

// ----------------- Merchant actions -----------------

func (s *service) Capture(ctx context.Context, paymentID uint, amount *decimal.Decimal) (*Payment, error) {
	return s.mutate(ctx, paymentID, func(p *Payment, gw Gateway, settings Settings) (string, error) {
		if p.State != StateAuthorization {
			return "", fmt.Errorf("%w: cannot capture a payment in %s", ErrInvalidPaymentState, p.State)
		}

		remaining := p.Capturable()
		amt, err := requestedAmount(amount, remaining)
		if err != nil {
			return "", err
		}
		if amt.GreaterThan(remaining) {
			return "", fmt.Errorf("%w: capture of %s exceeds remaining %s",
				ErrInvalidPaymentState, viabill.FormatAmount(amt), viabill.FormatAmount(remaining))
		}

		if _, err := gw.CaptureTransaction(ctx, viabill.AmountRequest{
			ID:       p.RemoteID,
			Amount:   amt.Neg(),
			Currency: p.Currency,
			APIKey:   settings.APIKey,
			Force:    settings.force(),
		}); err != nil {
			return "", err
		}

		now := s.now()
		p.CapturedAmount = p.CapturedAmount.Add(amt)
		p.State = StateCompleted
		p.CompletedAt = &now

		if p.CapturedAmount.LessThan(p.Amount) {
			return fmt.Sprintf("Partial capture of %s %s out of %s %s",
				viabill.FormatAmount(amt), p.Currency, viabill.FormatAmount(p.Amount), p.Currency), nil
		}
		return "", nil
	})
}

func (s *service) Void(ctx context.Context, paymentID uint) (*Payment, error) {
	return s.mutate(ctx, paymentID, func(p *Payment, gw Gateway, settings Settings) (string, error) {
		if p.State != StateAuthorization {
			return "", fmt.Errorf("%w: cannot void a payment in %s", ErrInvalidPaymentState, p.State)
		}

		if _, err := gw.CancelTransaction(ctx, viabill.TransactionRequest{
			ID:     p.RemoteID,
			APIKey: settings.APIKey,
			Force:  settings.force(),
		}); err != nil {
			return "", err
		}

		p.State = StateVoided
		return "", nil
	})
}

func (s *service) Refund(ctx context.Context, paymentID uint, amount *decimal.Decimal) (*Payment, error) {
	return s.mutate(ctx, paymentID, func(p *Payment, gw Gateway, settings Settings) (string, error) {
		if p.State != StateCompleted && p.State != StatePartiallyRefunded {
			return "", fmt.Errorf("%w: cannot refund a payment in %s", ErrInvalidPaymentState, p.State)
		}

		refundable := p.Refundable()
		amt, err := requestedAmount(amount, refundable)
		if err != nil {
			return "", err
		}
		if amt.GreaterThan(refundable) {
			return "", fmt.Errorf("%w: refund of %s exceeds refundable %s",
				ErrInvalidPaymentState, viabill.FormatAmount(amt), viabill.FormatAmount(refundable))
		}

		if _, err := gw.RefundTransaction(ctx, viabill.AmountRequest{
			ID:       p.RemoteID,
			Amount:   amt,
			Currency: p.Currency,
			APIKey:   settings.APIKey,
			Force:    settings.force(),
		}); err != nil {
			return "", err
		}

		p.RefundedAmount = p.RefundedAmount.Add(amt)
		if p.RefundedAmount.GreaterThanOrEqual(p.Amount) {
			p.State = StateRefunded
		} else {
			p.State = StatePartiallyRefunded
		}
		return "", nil
	})
}

func (s *service) Renew(ctx context.Context, paymentID uint) (*viabill.TransactionResult, error) {
	p, gw, req, err := s.remote(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.State != StateAuthorization {
		return nil, fmt.Errorf("%w: cannot renew a payment in %s", ErrInvalidPaymentState, p.State)
	}
	return gw.RenewTransaction(ctx, req)
}

func (s *service) Status(ctx context.Context, paymentID uint) (map[string]any, error) {
	_, gw, req, err := s.remote(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return gw.TransactionStatus(ctx, req)
}

func (s *service) remote(ctx context.Context, paymentID uint) (*Payment, Gateway, viabill.TransactionRequest, error) {
	p, err := s.payments.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, nil, viabill.TransactionRequest{}, err
	}
	gw, settings, err := s.gateways.Resolve(ctx, p.Gateway)
	if err != nil {
		return nil, nil, viabill.TransactionRequest{}, err
	}
	return p, gw, viabill.TransactionRequest{
		ID:     p.RemoteID,
		APIKey: settings.APIKey,
		Force:  settings.force(),
	}, nil
}

func requestedAmount(amount *decimal.Decimal, balance decimal.Decimal) (decimal.Decimal, error) {
	if amount == nil {
		if !balance.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: nothing left", ErrInvalidPaymentState)
		}
		return balance, nil
	}
	amt := amount.Round(2)
	if !amt.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return amt, nil
}

// mutate runs apply on the payment under its transaction lock and persists
// the result. apply validates before calling the gateway; any error it
// returns leaves the stored payment untouched. A non-empty note is saved to
// the audit log as a partial capture.
func (s *service) mutate(
	ctx context.Context,
	paymentID uint,
	apply func(p *Payment, gw Gateway, settings Settings) (note string, err error),
) (*Payment, error) {
	p, err := s.payments.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, lockKey(p.RemoteID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	// reload under the lock
	if p, err = s.payments.GetPayment(ctx, paymentID); err != nil {
		return nil, err
	}

	gw, settings, err := s.gateways.Resolve(ctx, p.Gateway)
	if err != nil {
		return nil, err
	}

	log := logger.FromCtx(ctx).With(
		zap.Uint("payment_id", p.ID),
		zap.String("transaction", p.RemoteID),
	)

	from := p.State
	note, err := apply(p, gw, settings)
	if err != nil {
		log.Warn("Payment operation rejected", zap.Error(err))
		return nil, err
	}

	if !CanTransition(from, p.State) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidPaymentState, from, p.State)
	}

	if err := s.payments.UpdatePayment(ctx, p, from); err != nil {
		log.Error("Failed to update payment", zap.Error(err))
		return nil, err
	}

	if note != "" {
		if err := s.payments.SaveAuditLog(ctx, &AuditLog{
			PaymentID: p.ID,
			OrderID:   p.OrderID,
			Event:     AuditPartialCapture,
			Message:   note,
		}); err != nil {
			log.Error("Failed to save audit log", zap.Error(err))
		}
	}

	log.Info("Payment updated",
		zap.String("from", string(from)),
		zap.String("to", string(p.State)),
	)
	s.publish(ctx, p, from)
	return p, nil
}

func (s *service) publish(ctx context.Context, p *Payment, from State) {
	if s.recorder != nil {
		s.recorder.StateTransition(string(from), string(p.State))
	}
	s.emit(ctx, events.StateChanged{
		Entity:        "payment",
		ID:            p.ID,
		OrderID:       p.OrderID,
		TransactionID: p.RemoteID,
		PreviousState: string(from),
		State:         string(p.State),
		Amount:        viabill.FormatAmount(p.Amount),
		Currency:      p.Currency,
	})
}

func (s *service) emit(ctx context.Context, ev events.StateChanged) {
	ev.Timestamp = s.now().UTC()
	if err := s.publisher.Publish(ctx, ev); err != nil {
		logger.FromCtx(ctx).Warn("Failed to publish state change",
			zap.String("entity", ev.Entity),
			zap.Uint("id", ev.ID),
			zap.Error(err),
		)
	}
}
