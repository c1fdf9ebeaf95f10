package models

import (
	"time"

	"github.com/google/uuid"
)

// StockItem is a single-use credential consumed by preloaded delivery.
type StockItem struct {
	ID              uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProductSlug     string     `gorm:"column:product_slug;not null"`
	Content         string     `gorm:"column:content;not null"`
	Used            bool       `gorm:"column:used;not null;default:false"`
	AssignedToOrder *string    `gorm:"column:assigned_to_order"`
	ClaimedAt       *time.Time `gorm:"column:claimed_at"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (StockItem) TableName() string { return "stock_items" }
