package viabill

import (
	"fmt"
	"net/http"
	"regexp"
	"slices"
)

// Protocol is the checkout protocol version sent to the gateway.
const Protocol = "3.0"

const (
	OpLogin              = "login"
	OpRegistration       = "registration"
	OpMyViaBill          = "myviabill"
	OpNotifications      = "notifications"
	OpCheckout           = "checkout"
	OpCaptureTransaction = "capture_transaction"
	OpCancelTransaction  = "cancel_transaction"
	OpRefundTransaction  = "refund_transaction"
	OpRenewTransaction   = "renew_transaction"
	OpTransactionStatus  = "transaction_status"
)

// EndpointDescriptor describes one remote operation. Signatures maps the
// name of a required field to the format its checksum is computed from.
type EndpointDescriptor struct {
	Name        string
	Path        string
	Method      string
	Required    []string
	Optional    []string
	Signatures  map[string]string
	StatusCodes map[int]string
}

const (
	msgSuccessfulRequest = "successful request"
	msgNoContent         = "no content"
	msgPermanentRedirect = "permanent redirect"
	msgTemporaryRedirect = "temporary redirect"
	msgRequestError      = "request error"
	msgDebtorCredit      = "debtor credit error"
	msgFrequency         = "request frequency error"
	msgAccountInactive   = "account inactive"
	msgServerError       = "api server error"
)

var accountStatusCodes = map[int]string{
	200: msgSuccessfulRequest,
	400: msgRequestError,
	500: msgServerError,
}

var endpoints = map[string]EndpointDescriptor{
	OpLogin: {
		Path:        "/api/addon/{affiliate}/login",
		Method:      http.MethodPost,
		Required:    []string{"email", "password"},
		StatusCodes: accountStatusCodes,
	},
	OpRegistration: {
		Path:        "/api/addon/{affiliate}/register",
		Method:      http.MethodPost,
		Required:    []string{"email", "name", "url", "country"},
		Optional:    []string{"taxId", "affiliate", "additionalInfo"},
		StatusCodes: accountStatusCodes,
	},
	OpMyViaBill: {
		Path:        "/api/addon/{affiliate}/myviabill",
		Method:      http.MethodGet,
		Required:    []string{"key", "signature"},
		Signatures:  map[string]string{"signature": "{key}#{secret}"},
		StatusCodes: accountStatusCodes,
	},
	OpNotifications: {
		Path:        "/api/addon/{affiliate}/notifications",
		Method:      http.MethodGet,
		Required:    []string{"key", "signature"},
		Optional:    []string{"platform", "platform_ver", "module_ver"},
		Signatures:  map[string]string{"signature": "{key}#{secret}"},
		StatusCodes: accountStatusCodes,
	},
	OpCheckout: {
		Path:   "/api/checkout-authorize/addon/{affiliate}",
		Method: http.MethodPost,
		Required: []string{
			"protocol", "apikey", "transaction", "order_number", "amount", "currency",
			"success_url", "cancel_url", "callback_url", "test", "md5check",
		},
		Optional: []string{"customParams", "cartParams", "tbyb"},
		Signatures: map[string]string{
			"md5check": "{apikey}#{amount}#{currency}#{transaction}#{order_number}#{success_url}#{cancel_url}#{secret}",
		},
		StatusCodes: map[int]string{
			200: msgSuccessfulRequest,
			204: msgNoContent,
			301: msgPermanentRedirect,
			302: msgTemporaryRedirect,
			400: msgRequestError,
			403: msgDebtorCredit,
			409: msgFrequency,
			500: msgServerError,
		},
	},
	OpCaptureTransaction: {
		Path:       "/api/transaction/capture",
		Method:     http.MethodPost,
		Required:   []string{"id", "apikey", "signature", "amount", "currency"},
		Signatures: map[string]string{"signature": "{id}#{apikey}#{amount}#{currency}#{secret}"},
		StatusCodes: map[int]string{
			200: msgSuccessfulRequest,
			204: msgNoContent,
			400: msgRequestError,
			403: msgDebtorCredit,
			409: msgFrequency,
			500: msgServerError,
		},
	},
	OpCancelTransaction: {
		Path:       "/api/transaction/cancel",
		Method:     http.MethodPost,
		Required:   []string{"id", "apikey", "signature"},
		Signatures: map[string]string{"signature": "{id}#{apikey}#{secret}"},
		StatusCodes: map[int]string{
			200: msgSuccessfulRequest,
			204: msgNoContent,
			400: msgRequestError,
			500: msgServerError,
		},
	},
	OpRefundTransaction: {
		Path:       "/api/transaction/refund",
		Method:     http.MethodPost,
		Required:   []string{"id", "apikey", "signature", "amount", "currency"},
		Signatures: map[string]string{"signature": "{id}#{apikey}#{amount}#{currency}#{secret}"},
		StatusCodes: map[int]string{
			200: msgSuccessfulRequest,
			204: msgNoContent,
			400: msgRequestError,
			403: msgAccountInactive,
			500: msgServerError,
		},
	},
	OpRenewTransaction: {
		Path:       "/api/transaction/renew",
		Method:     http.MethodPost,
		Required:   []string{"id", "apikey", "signature"},
		Signatures: map[string]string{"signature": "{id}#{apikey}#{secret}"},
		StatusCodes: map[int]string{
			200: msgSuccessfulRequest,
			204: msgNoContent,
			400: msgRequestError,
			403: msgDebtorCredit,
			500: msgServerError,
		},
	},
	OpTransactionStatus: {
		Path:       "/api/transaction/status",
		Method:     http.MethodGet,
		Required:   []string{"id", "apikey", "signature"},
		Signatures: map[string]string{"signature": "{id}#{apikey}#{secret}"},
		StatusCodes: map[int]string{
			200: msgSuccessfulRequest,
			204: msgNoContent,
			400: msgRequestError,
			500: msgServerError,
		},
	},
}

func init() {
	for name, d := range endpoints {
		d.Name = name
		if err := d.Validate(); err != nil {
			panic(err)
		}
		endpoints[name] = d
	}
}

var reservedTokens = []string{"secret", "key", "apikey", "apiKey", "protocol", "test"}

var tokenPattern = regexp.MustCompile(`\{([^{}#]+)\}#?`)

// tokens returns the placeholder names of format in order of appearance.
func tokens(format string) []string {
	matches := tokenPattern.FindAllStringSubmatch(format, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// Validate checks that each signature belongs to a required field and only
// references declared fields or reserved tokens.
func (d EndpointDescriptor) Validate() error {
	if d.Method != http.MethodGet && d.Method != http.MethodPost {
		return fmt.Errorf("endpoint %s: unsupported method %q", d.Name, d.Method)
	}
	for field, format := range d.Signatures {
		if !slices.Contains(d.Required, field) {
			return fmt.Errorf("endpoint %s: signature field %q is not required", d.Name, field)
		}
		toks := tokens(format)
		if len(toks) == 0 {
			return fmt.Errorf("endpoint %s: signature format %q has no fields", d.Name, format)
		}
		for _, tok := range toks {
			if !d.Allows(tok) && !slices.Contains(reservedTokens, tok) {
				return fmt.Errorf("endpoint %s: signature token %q is not a declared field", d.Name, tok)
			}
		}
	}
	return nil
}

// Allows reports whether field belongs to the required or optional set.
func (d EndpointDescriptor) Allows(field string) bool {
	return slices.Contains(d.Required, field) || slices.Contains(d.Optional, field)
}

// Lookup returns the descriptor registered under name.
func Lookup(name string) (EndpointDescriptor, error) {
	d, ok := endpoints[name]
	if !ok {
		return EndpointDescriptor{}, fmt.Errorf("%w: %s", ErrUnknownEndpoint, name)
	}
	return d, nil
}

// MustLookup is Lookup for names fixed at compile time. An unknown name is a
// programming error and panics.
func MustLookup(name string) EndpointDescriptor {
	d, err := Lookup(name)
	if err != nil {
		panic(err)
	}
	return d
}

// Message returns the meaning of an HTTP status for the named operation.
func Message(name string, status int) string {
	d, ok := endpoints[name]
	if !ok {
		return ""
	}
	return d.StatusCodes[status]
}
