package viabill

import (
	"net/http"

	"github.com/shopspring/decimal"
)

// Response is the raw outcome of one gateway exchange.
type Response struct {
	StatusCode  int
	Header      http.Header
	Body        []byte
	RedirectURL string
}

type LoginRequest struct {
	Email    string
	Password string
}

type RegisterRequest struct {
	Email          string
	Name           string
	URL            string
	Country        string
	TaxID          string
	AdditionalInfo string
}

// Account is what login and registration return. Raw keeps every field of
// the response body.
type Account struct {
	Key            string
	Secret         string
	PricetagScript string
	Raw            map[string]any
}

// CheckoutRequest starts a hosted checkout. CustomParams and CartParams are
// free-form and sent as nested form fields.
type CheckoutRequest struct {
	Transaction     string
	OrderNumber     string
	Amount          decimal.Decimal
	Currency        string
	SuccessURL      string
	CancelURL       string
	CallbackURL     string
	CustomParams    map[string]any
	CartParams      map[string]any
	TryBeforeYouBuy *bool
}

type CheckoutResult struct {
	StatusCode  int
	RedirectURL string
}

// AmountRequest is the input of capture and refund.
type AmountRequest struct {
	ID       string
	Amount   decimal.Decimal
	Currency string
	APIKey   string
	Force    bool
}

// TransactionRequest is the input of cancel, renew and status calls.
type TransactionRequest struct {
	ID     string
	APIKey string
	Force  bool
}

type TransactionResult struct {
	StatusCode int
	Message    string
	Body       string
}

type NotificationsRequest struct {
	Platform        string
	PlatformVersion string
	ModuleVersion   string
}
