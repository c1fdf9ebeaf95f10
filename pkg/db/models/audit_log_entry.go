package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/angelmondragon/digistore-backend/pkg/enums"
)

// AuditLogEntry is an immutable record of a transition on an order.
type AuditLogEntry struct {
	ID        uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   string           `gorm:"column:order_id;not null;index"`
	Event     enums.AuditEvent `gorm:"column:event;type:text;not null"`
	Actor     enums.AuditActor `gorm:"column:actor;type:text;not null"`
	Payload   datatypes.JSON   `gorm:"column:payload"`
	CreatedAt time.Time        `gorm:"column:created_at;not null"`
}

func (AuditLogEntry) TableName() string { return "order_audit_logs" }
