package payment

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type State string

const (
	StateNew               State = "new"
	StateAuthorization     State = "authorization"
	StateCompleted         State = "completed"
	StateVoided            State = "voided"
	StateRefunded          State = "refunded"
	StatePartiallyRefunded State = "partially_refunded"
)

var transitions = map[State][]State{
	StateNew:               {StateAuthorization, StateCompleted},
	StateAuthorization:     {StateCompleted, StateVoided},
	StateCompleted:         {StatePartiallyRefunded, StateRefunded},
	StatePartiallyRefunded: {StatePartiallyRefunded, StateRefunded},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s State) Terminal() bool {
	return s == StateVoided || s == StateRefunded
}

type Payment struct {
	ID             uint
	OrderID        uint
	Gateway        string
	RemoteID       string
	State          State
	Amount         decimal.Decimal
	Currency       string
	CapturedAmount decimal.Decimal
	RefundedAmount decimal.Decimal
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Capturable is the authorized amount not yet captured.
func (p *Payment) Capturable() decimal.Decimal {
	return p.Amount.Sub(p.CapturedAmount)
}

// Refundable is the payment amount not yet refunded.
func (p *Payment) Refundable() decimal.Decimal {
	return p.Amount.Sub(p.RefundedAmount)
}

const AuditPartialCapture = "viabill_partial_capture"

type AuditLog struct {
	ID        int64
	PaymentID uint
	OrderID   uint
	Event     string
	Message   string
	CreatedAt time.Time
}

// CallbackDelivery is one inbound notification as received.
type CallbackDelivery struct {
	Transaction    string
	Status         string
	Signature      string
	SignatureValid bool
	Payload        json.RawMessage
}

type Outcome string

const (
	OutcomeAuthorized     Outcome = "authorized"
	OutcomeCaptured       Outcome = "captured"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeOrderCanceled  Outcome = "order_canceled"
	OutcomeOrderUnchanged Outcome = "order_unchanged"
)

// CheckoutURLs are the merchant pages the gateway returns the customer to.
type CheckoutURLs struct {
	Success  string
	Cancel   string
	Callback string
}
