package stock_test

import (
	"testing"

	"github.com/mstepanov-dev/storefront-core/internal/stock"
	"github.com/stretchr/testify/assert"
)

func TestMovement_Signed(t *testing.T) {
	tests := []struct {
		name     string
		movement stock.Movement
		expected int
	}{
		{name: "purchase_adds", movement: stock.Movement{Type: stock.TypePurchase, Quantity: 5}, expected: 5},
		{name: "return_adds", movement: stock.Movement{Type: stock.TypeReturn, Quantity: 2}, expected: 2},
		{name: "sale_subtracts", movement: stock.Movement{Type: stock.TypeSale, Quantity: 3}, expected: -3},
		{name: "damage_subtracts", movement: stock.Movement{Type: stock.TypeDamage, Quantity: 1}, expected: -1},
		{name: "adjustment_positive", movement: stock.Movement{Type: stock.TypeAdjustment, Quantity: 4}, expected: 4},
		{name: "adjustment_negative", movement: stock.Movement{Type: stock.TypeAdjustment, Quantity: -4}, expected: -4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.movement.Signed())
		})
	}
}

func TestBalance(t *testing.T) {
	movements := []stock.Movement{
		{Type: stock.TypePurchase, Quantity: 10},
		{Type: stock.TypeSale, Quantity: 3},
		{Type: stock.TypeReturn, Quantity: 1},
		{Type: stock.TypeDamage, Quantity: 2},
		{Type: stock.TypeAdjustment, Quantity: -1},
	}

	assert.Equal(t, 5, stock.Balance(movements))
}

func TestBalance_OrderIndependent(t *testing.T) {
	forward := []stock.Movement{
		{Type: stock.TypePurchase, Quantity: 7},
		{Type: stock.TypeSale, Quantity: 4},
		{Type: stock.TypeAdjustment, Quantity: 2},
	}
	reversed := []stock.Movement{forward[2], forward[1], forward[0]}

	assert.Equal(t, stock.Balance(forward), stock.Balance(reversed))
}

func TestBalance_Empty(t *testing.T) {
	assert.Equal(t, 0, stock.Balance(nil))
}

func TestBalance_CanGoNegative(t *testing.T) {
	// The ledger does not reject overdraws; validation is the caller's job.
	movements := []stock.Movement{
		{Type: stock.TypePurchase, Quantity: 1},
		{Type: stock.TypeSale, Quantity: 3},
	}

	assert.Equal(t, -2, stock.Balance(movements))
}
