package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/angelmondragon/digistore-backend/pkg/db/models"
	"gorm.io/gorm"
)

// ErrProductNotFound is returned when the slug matches no active product.
var ErrProductNotFound = errors.New("product not found")

// Repository reads products and their prices. The catalog is owned
// elsewhere; the engine never writes to it outside of tests and seeds.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// GetProductBySlug loads an active product with every price row.
func (r *Repository) GetProductBySlug(ctx context.Context, slug string) (*models.Product, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, ErrProductNotFound
	}
	var product models.Product
	err := r.db.WithContext(ctx).
		Preload("Prices").
		Where("slug = ? AND active = ?", slug, true).
		First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &product, nil
}

// CreateProduct inserts a product and its prices.
func (r *Repository) CreateProduct(ctx context.Context, product *models.Product) (*models.Product, error) {
	if err := r.db.WithContext(ctx).Create(product).Error; err != nil {
		return nil, err
	}
	return product, nil
}
