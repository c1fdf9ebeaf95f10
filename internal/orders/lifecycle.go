package orders

import (
	"github.com/angelmondragon/digistore-backend/pkg/db/models"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
	"github.com/shopspring/decimal"
)

var transitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusAwaitingPayment: {
		enums.OrderStatusPending,
		enums.OrderStatusProcess,
		enums.OrderStatusFailed,
		enums.OrderStatusDiscrepancy,
		enums.OrderStatusRejected,
	},
	enums.OrderStatusPending: {
		enums.OrderStatusPending,
		enums.OrderStatusProcess,
		enums.OrderStatusFailed,
		enums.OrderStatusDiscrepancy,
		enums.OrderStatusRejected,
	},
	enums.OrderStatusProcess: {
		enums.OrderStatusSuccess,
		enums.OrderStatusCompleted,
	},
}

// CanTransition reports whether the order lifecycle allows moving from one
// status to another. Terminal statuses have no outgoing edges.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AcceptsPayment reports whether a callback may still settle the order.
func AcceptsPayment(order *models.Order) bool {
	if order == nil {
		return false
	}
	return order.Status.IsUnpaid() && !order.Payment.Status.IsSettled()
}

// Profit computes finalProfit = sellingPrice - capitalCost and the margin as
// a fraction of the selling price. Both are nil when the capital cost is unknown.
func Profit(sellingPrice int64, capitalCost *int64) (*int64, *decimal.Decimal) {
	if capitalCost == nil {
		return nil, nil
	}
	profit := sellingPrice - *capitalCost
	if sellingPrice == 0 {
		return &profit, nil
	}
	margin := decimal.NewFromInt(profit).Div(decimal.NewFromInt(sellingPrice)).Round(4)
	return &profit, &margin
}
