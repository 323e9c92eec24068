package viabill

import "github.com/shopspring/decimal"

const (
	StatusApproved  = "APPROVED"
	StatusCancelled = "CANCELLED"
	StatusRejected  = "REJECTED"
)

// Notification is a verified callback about one transaction.
type Notification struct {
	Transaction string
	OrderNumber string
	Status      string
	Amount      decimal.Decimal
	Currency    string
	Time        string
	Signature   string
}
