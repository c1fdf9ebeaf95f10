package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/angelmondragon/digistore-backend/pkg/enums"
)

// Product is owned by the catalog; the engine only reads it.
type Product struct {
	ID             uuid.UUID                                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Slug           string                                    `gorm:"column:slug;not null;uniqueIndex"`
	Name           string                                    `gorm:"column:name;not null"`
	Active         bool                                      `gorm:"column:active;not null;default:true"`
	DeliveryType   enums.DeliveryType                        `gorm:"column:delivery_type;type:text;not null"`
	DeliveryConfig datatypes.JSONType[ProductDeliveryConfig] `gorm:"column:delivery_config"`
	Prices         []ProductPrice                            `gorm:"foreignKey:ProductID;references:ID"`
	CreatedAt      time.Time                                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time                                 `gorm:"column:updated_at;autoUpdateTime"`
}

func (Product) TableName() string { return "products" }

// ProductPrice is the authoritative price of a product plan in one currency,
// optionally pinning the gateways used to collect it.
type ProductPrice struct {
	ID            uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProductID     uuid.UUID              `gorm:"column:product_id;type:uuid;not null"`
	PlanID        string                 `gorm:"column:plan_id;not null;default:''"`
	Currency      enums.Currency         `gorm:"column:currency;type:text;not null"`
	SellingPrice  int64                  `gorm:"column:selling_price;not null"`
	CapitalCost   *int64                 `gorm:"column:capital_cost"`
	Gateway       *enums.PaymentProvider `gorm:"column:gateway;type:text"`
	BackupGateway *enums.PaymentProvider `gorm:"column:backup_gateway;type:text"`
}

func (ProductPrice) TableName() string { return "product_prices" }

// ProductDeliveryConfig holds strategy specific settings.
type ProductDeliveryConfig struct {
	API                *APIDeliveryConfig `json:"api,omitempty"`
	ManualInstructions string             `json:"manual_instructions,omitempty"`
}

// APIDeliveryConfig describes the fulfilment endpoint called by the api strategy.
// Zero values fall back to service defaults.
type APIDeliveryConfig struct {
	URL          string            `json:"url"`
	Method       string            `json:"method,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	BodyTemplate string            `json:"body_template,omitempty"`
	MaxAttempts  int               `json:"max_attempts,omitempty"`
	BackoffMS    int               `json:"backoff_ms,omitempty"`
	TimeoutMS    int               `json:"timeout_ms,omitempty"`
}

// PriceFor finds the price row for a plan and currency.
func (p *Product) PriceFor(planID string, currency enums.Currency) (*ProductPrice, bool) {
	if p == nil {
		return nil, false
	}
	for i := range p.Prices {
		price := &p.Prices[i]
		if price.PlanID == planID && price.Currency == currency {
			return price, true
		}
	}
	return nil, false
}
