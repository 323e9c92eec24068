package callback

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"viabill-be/internal/viabill"

	"github.com/shopspring/decimal"
)

type Notification = viabill.Notification

// Verifier checks inbound notifications against the merchant secret.
type Verifier struct {
	creds  viabill.Credentials
	format string
}

// NewVerifier uses viabill.DefaultVerifyFormat when format is empty.
func NewVerifier(creds viabill.Credentials, format string) *Verifier {
	if format == "" {
		format = viabill.DefaultVerifyFormat
	}
	return &Verifier{creds: creds, format: format}
}

var requiredFields = []string{"transaction", "status", "amount", "currency"}

// Verify validates data and returns the notification it describes. The
// map is left untouched.
func (v *Verifier) Verify(data map[string]any) (n *Notification, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = nil, fmt.Errorf("%w: %v", ErrMalformedNotification, r)
		}
	}()

	if data == nil {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedNotification)
	}

	for _, field := range requiredFields {
		if text(data[field]) == "" {
			return nil, fmt.Errorf("%w: missing %s", ErrMalformedNotification, field)
		}
	}

	signature := text(data["signature"])
	if signature == "" {
		return nil, fmt.Errorf("%w: missing signature", ErrMalformedNotification)
	}

	amount, err := decimal.NewFromString(text(data["amount"]))
	if err != nil {
		return nil, fmt.Errorf("%w: amount: %v", ErrMalformedNotification, err)
	}

	if _, err := viabill.Verify(v.format, data, v.creds, true); err != nil {
		if errors.Is(err, viabill.ErrMissingSignatureField) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
		}
		return nil, err
	}

	return &Notification{
		Transaction: text(data["transaction"]),
		OrderNumber: text(data["orderNumber"]),
		Status:      strings.ToUpper(text(data["status"])),
		Amount:      amount,
		Currency:    text(data["currency"]),
		Time:        text(data["time"]),
		Signature:   signature,
	}, nil
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return decimal.NewFromFloat(t).String()
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
