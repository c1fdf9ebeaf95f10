package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/digistore-backend/internal/inventory"
	"github.com/angelmondragon/digistore-backend/pkg/db/models"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
)

// ErrOutOfStock is reported when a preloaded product has no unused item.
var ErrOutOfStock = errors.New("OUT_OF_STOCK")

// Job is one claimed delivery handed to a strategy.
type Job struct {
	Order   *models.Order
	Product *models.Product
	Now     time.Time
}

// Outcome is what a strategy produced. AwaitManual parks the order for an
// operator instead of marking it delivered.
type Outcome struct {
	ContentRef  *string
	PublicRef   *string
	AwaitManual bool
	Note        string
}

// Strategy fulfils one delivery type.
type Strategy interface {
	Type() enums.DeliveryType
	Execute(ctx context.Context, job Job) (*Outcome, error)
}

type stockClaimer interface {
	ClaimStockItem(ctx context.Context, productSlug, orderID string, now time.Time) (*models.StockItem, error)
}

type stockMetrics interface {
	IncStockClaim(outcome string)
}

// PreloadedStrategy hands out one stock item per order.
type PreloadedStrategy struct {
	stock   stockClaimer
	metrics stockMetrics
}

func NewPreloadedStrategy(stock stockClaimer, m stockMetrics) (*PreloadedStrategy, error) {
	if stock == nil {
		return nil, fmt.Errorf("stock repository required")
	}
	return &PreloadedStrategy{stock: stock, metrics: m}, nil
}

func (s *PreloadedStrategy) Type() enums.DeliveryType { return enums.DeliveryTypePreloaded }

func (s *PreloadedStrategy) Execute(ctx context.Context, job Job) (*Outcome, error) {
	item, err := s.stock.ClaimStockItem(ctx, job.Order.ProductSlug, job.Order.OrderID, job.Now)
	if err != nil {
		if errors.Is(err, inventory.ErrOutOfStock) {
			s.count("out_of_stock")
			return nil, ErrOutOfStock
		}
		s.count("error")
		return nil, fmt.Errorf("claim stock item: %w", err)
	}
	s.count("claimed")
	content := item.Content
	ref := "stock_item:" + item.ID.String()
	return &Outcome{ContentRef: &content, PublicRef: &ref}, nil
}

func (s *PreloadedStrategy) count(outcome string) {
	if s.metrics != nil {
		s.metrics.IncStockClaim(outcome)
	}
}

// ManualStrategy leaves fulfilment to an operator.
type ManualStrategy struct{}

func (ManualStrategy) Type() enums.DeliveryType { return enums.DeliveryTypeManual }

func (ManualStrategy) Execute(_ context.Context, job Job) (*Outcome, error) {
	note := "awaiting manual delivery"
	if job.Product != nil {
		if instructions := job.Product.DeliveryConfig.Data().ManualInstructions; instructions != "" {
			note = instructions
		}
	}
	return &Outcome{AwaitManual: true, Note: note}, nil
}
