package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/angelmondragon/digistore-backend/pkg/db"
	"github.com/angelmondragon/digistore-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const defaultClaimAttempts = 5

var (
	// ErrOutOfStock is returned when no unused item remains for the product.
	ErrOutOfStock = errors.New("out of stock")
	// ErrClaimContention is returned when every candidate was taken by a
	// concurrent claimer before this one could mark it.
	ErrClaimContention = errors.New("stock claim contention")
)

// Repository hands out preloaded stock items. Claims are compare-and-swap
// updates on the used flag so an item is assigned to at most one order.
type Repository struct {
	db            *gorm.DB
	claimAttempts int
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, claimAttempts: defaultClaimAttempts}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx, claimAttempts: r.claimAttempts}
}

// ClaimStockItem assigns one unused item of the product to the order. An
// item already assigned to the order is returned as is, so a retried
// delivery never consumes a second credential.
func (r *Repository) ClaimStockItem(ctx context.Context, productSlug, orderID string, now time.Time) (*models.StockItem, error) {
	productSlug = strings.TrimSpace(productSlug)
	if productSlug == "" || orderID == "" {
		return nil, fmt.Errorf("product slug and order id are required")
	}

	existing, err := r.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	for attempt := 0; attempt < r.claimAttempts; attempt++ {
		var candidate models.StockItem
		err := r.db.WithContext(ctx).
			Where("product_slug = ? AND used = ?", productSlug, false).
			Order("created_at ASC, id ASC").
			First(&candidate).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrOutOfStock
			}
			return nil, err
		}

		result := r.db.WithContext(ctx).
			Model(&models.StockItem{}).
			Where("id = ? AND used = ?", candidate.ID, false).
			Updates(map[string]any{
				"used":              true,
				"assigned_to_order": orderID,
				"claimed_at":        now,
			})
		if result.Error != nil {
			if dbpkg.IsUniqueViolation(result.Error, "") {
				// another worker claimed for the same order first
				return r.mustFindByOrder(ctx, orderID)
			}
			return nil, result.Error
		}
		if result.RowsAffected == 1 {
			candidate.Used = true
			candidate.AssignedToOrder = &orderID
			candidate.ClaimedAt = &now
			return &candidate, nil
		}
	}
	return nil, ErrClaimContention
}

// FindByOrder returns the item assigned to the order or nil.
func (r *Repository) FindByOrder(ctx context.Context, orderID string) (*models.StockItem, error) {
	var item models.StockItem
	err := r.db.WithContext(ctx).
		Where("assigned_to_order = ?", orderID).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// CountAvailable reports how many unused items remain for the product.
func (r *Repository) CountAvailable(ctx context.Context, productSlug string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.StockItem{}).
		Where("product_slug = ? AND used = ?", productSlug, false).
		Count(&count).Error
	return count, err
}

// AddItems loads credentials into stock for a product.
func (r *Repository) AddItems(ctx context.Context, productSlug string, contents []string) ([]models.StockItem, error) {
	if len(contents) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	items := make([]models.StockItem, 0, len(contents))
	for i, content := range contents {
		items = append(items, models.StockItem{
			ID:          uuid.New(),
			ProductSlug: productSlug,
			Content:     content,
			CreatedAt:   now.Add(time.Duration(i) * time.Microsecond),
		})
	}
	if err := r.db.WithContext(ctx).Create(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *Repository) mustFindByOrder(ctx context.Context, orderID string) (*models.StockItem, error) {
	item, err := r.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrClaimContention
	}
	return item, nil
}
