package payment

import (
	"errors"

	"viabill-be/internal/order"
)

var (
	ErrOrderNotFound               = order.ErrOrderNotFound
	ErrPaymentNotFound             = errors.New("payment not found")
	ErrGatewayConfigurationMissing = errors.New("payment gateway configuration not found")
	ErrUnknownStatus               = errors.New("unknown status")
	ErrInvalidPaymentState         = errors.New("invalid payment state")
	ErrInvalidAmount               = errors.New("amount must be positive")
	ErrStaleState                  = errors.New("payment state changed concurrently")
	ErrOrderNotPayable             = errors.New("order can no longer be paid")
)
