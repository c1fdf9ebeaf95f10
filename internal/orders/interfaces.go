package orders

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/digistore-backend/pkg/db/models"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
	"github.com/angelmondragon/digistore-backend/pkg/pagination"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when no order matches the lookup.
	ErrNotFound = errors.New("order not found")
	// ErrPreconditionFailed is returned when a conditional write matched no row.
	// Callers reload the order and decide from its current state.
	ErrPreconditionFailed = errors.New("order precondition failed")
	// ErrInvalidCursor is returned for an undecodable pagination cursor.
	ErrInvalidCursor = errors.New("invalid pagination cursor")
)

// Repository defines conditional persistence operations for orders.
// Every mutation is guarded by a predicate on the current row so that
// concurrent writers cannot both win.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, orderID string) (*models.Order, error)
	FindByProviderRef(ctx context.Context, provider enums.PaymentProvider, providerRef string) (*models.Order, error)
	AttachSession(ctx context.Context, orderID string, session SessionUpdate) error
	MarkPaymentPending(ctx context.Context, orderID string, now time.Time) error
	MarkPaid(ctx context.Context, orderID string, paid PaidUpdate) error
	MarkPaymentFailed(ctx context.Context, orderID string, now time.Time) error
	MarkDiscrepancy(ctx context.Context, orderID string, d DiscrepancyUpdate) error
	ClaimDelivery(ctx context.Context, orderID string, claim DeliveryClaim) error
	CompleteDelivery(ctx context.Context, orderID string, done DeliveryCompletion) error
	FailDelivery(ctx context.Context, orderID, claimToken, message string, now time.Time) error
	ReleaseToManual(ctx context.Context, orderID, claimToken, note string, now time.Time) error
	Reject(ctx context.Context, orderID, reason string, now time.Time) error
	ExpirePending(ctx context.Context, orderID string, cutoff time.Time) error
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	ListAwaitingDelivery(ctx context.Context, paidBefore, staleBefore time.Time, limit int) ([]models.Order, error)
	ListAttention(ctx context.Context, params pagination.Params) (*AttentionList, error)
}
