package order

import (
	"time"

	"github.com/shopspring/decimal"
)

type State string

const (
	StateDraft     State = "draft"
	StatePending   State = "pending"
	StateCompleted State = "completed"
	StateCanceled  State = "canceled"
)

// Final reports whether no further workflow transition is expected.
func (s State) Final() bool {
	return s == StateCompleted || s == StateCanceled
}

// DataTransactionID is the metadata key holding the remote transaction id.
const DataTransactionID = "viabill_transaction_id"

type Billing struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Phone        string `json:"phone"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2"`
	City         string `json:"city"`
	PostalCode   string `json:"postal_code"`
	Country      string `json:"country"`
}

type Order struct {
	ID             uint
	State          State
	PaymentGateway string
	Total          decimal.Decimal
	Currency       string
	Email          string
	Billing        Billing
	Data           map[string]string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (o *Order) TransactionID() string {
	return o.Data[DataTransactionID]
}
