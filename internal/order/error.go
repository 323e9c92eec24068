package order

import "errors"

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrStaleState    = errors.New("order state changed concurrently")
)
