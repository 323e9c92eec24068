package payment

import (
	"context"
	"fmt"

	"viabill-be/internal/viabill"
)

// Gateway is the part of *viabill.Client the lifecycle drives.
type Gateway interface {
	Checkout(ctx context.Context, in viabill.CheckoutRequest) (*viabill.CheckoutResult, error)
	CaptureTransaction(ctx context.Context, in viabill.AmountRequest) (*viabill.TransactionResult, error)
	CancelTransaction(ctx context.Context, in viabill.TransactionRequest) (*viabill.TransactionResult, error)
	RefundTransaction(ctx context.Context, in viabill.AmountRequest) (*viabill.TransactionResult, error)
	RenewTransaction(ctx context.Context, in viabill.TransactionRequest) (*viabill.TransactionResult, error)
	TransactionStatus(ctx context.Context, in viabill.TransactionRequest) (map[string]any, error)
}

// Settings is the merchant configuration of one gateway.
type Settings struct {
	// APIKey is sent with transaction requests. When empty the requests
	// are forced and the client signs with its own credentials.
	APIKey            string
	CaptureOnApproval bool
}

func (s Settings) force() bool { return s.APIKey == "" }

type GatewayResolver interface {
	Resolve(ctx context.Context, gatewayID string) (Gateway, Settings, error)
}

// StaticResolver serves a single configured gateway.
type StaticResolver struct {
	ID       string
	Gateway  Gateway
	Settings Settings
}

func (r StaticResolver) Resolve(_ context.Context, gatewayID string) (Gateway, Settings, error) {
	if r.Gateway == nil || gatewayID != r.ID {
		return nil, Settings{}, fmt.Errorf("%w: %q", ErrGatewayConfigurationMissing, gatewayID)
	}
	return r.Gateway, r.Settings, nil
}
