package viabill

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// FormatAmount renders an amount the way the gateway expects it: a decimal
// string with exactly two fraction digits.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

const txAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewTransactionID builds the remote transaction id for an order,
// vb-<order>-<10 random characters>.
func NewTransactionID(orderID uint) (string, error) {
	suffix := make([]byte, 10)
	max := big.NewInt(int64(len(txAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate transaction id: %w", err)
		}
		suffix[i] = txAlphabet[n.Int64()]
	}
	return fmt.Sprintf("vb-%d-%s", orderID, suffix), nil
}
