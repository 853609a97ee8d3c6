package settlement

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCart              = errors.New("order must contain at least one item")
	ErrInvalidShippingAddress = errors.New("invalid shipping address")
	ErrOrderNotFound          = errors.New("order not found")

	// ErrPendingOrderNotFound marks a finalize call whose pending order is
	// already gone — an earlier callback won. Treated as benign.
	ErrPendingOrderNotFound = errors.New("pending order not found")
)

// InsufficientStockError fails the whole checkout when any cart line asks
// for more than the ledger has.
type InsufficientStockError struct {
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: %d available, %d requested", e.ProductName, e.Available, e.Requested)
}
