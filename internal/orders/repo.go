package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/digistore-backend/pkg/db/models"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
	"github.com/angelmondragon/digistore-backend/pkg/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	if order.Status == "" {
		order.Status = enums.OrderStatusAwaitingPayment
	}
	if order.Payment.Status == "" {
		order.Payment.Status = enums.PaymentStatusAwaitingProof
	}
	if order.Delivery.Status == "" {
		order.Delivery.Status = enums.DeliveryStatusPending
	}
	if order.Quantity <= 0 {
		order.Quantity = 1
	}
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByProviderRef(ctx context.Context, provider enums.PaymentProvider, providerRef string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Where("payment_provider = ? AND payment_provider_ref = ?", provider, providerRef).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

// AttachSession stores the provider session. It only succeeds while the
// order is unpaid, unlocked and has no provider reference yet.
func (r *repository) AttachSession(ctx context.Context, orderID string, s SessionUpdate) error {
	return r.conditionalUpdate(ctx, orderID, func(q *gorm.DB) *gorm.DB {
		return q.Where("payment_provider_ref IS NULL").
			Where("locked = ?", false).
			Where("status IN ?", enums.UnpaidOrderStatuses).
			Where("payment_status NOT IN ?", enums.SettledPaymentStatuses)
	}, map[string]any{
		"status":               enums.OrderStatusPending,
		"currency":             s.Currency,
		"selling_price":        s.SellingPrice,
		"capital_cost":         s.CapitalCost,
		"payment_status":       enums.PaymentStatusPending,
		"payment_provider":     s.Provider,
		"payment_provider_ref": s.ProviderRef,
		"payment_amount":       s.Amount,
		"payment_fee":          s.Fee,
		"payment_checkout_url": s.CheckoutURL,
		"payment_qr_payload":   s.QRPayload,
		"payment_expires_at":   s.ExpiresAt,
		"payment_initiated_at": s.InitiatedAt,
		"delivery_type":        s.DeliveryType,
		"updated_at":           s.InitiatedAt,
	})
}

func (r *repository) MarkPaymentPending(ctx context.Context, orderID string, now time.Time) error {
	return r.conditionalUpdate(ctx, orderID, unpaidAndUnsettled, map[string]any{
		"status":         enums.OrderStatusPending,
		"payment_status": enums.PaymentStatusPending,
		"updated_at":     now,
	})
}

// MarkPaid is the idempotency gate: only one writer can move a payment into
// SUCCESS, every later attempt gets ErrPreconditionFailed.
func (r *repository) MarkPaid(ctx context.Context, orderID string, p PaidUpdate) error {
	values := map[string]any{
		"status":          enums.OrderStatusProcess,
		"payment_status":  enums.PaymentStatusSuccess,
		"payment_paid_at": p.PaidAt,
		"payment_amount":  gorm.Expr("COALESCE(payment_amount, ?)", p.Amount),
		"locked":          true,
		"final_profit":    p.FinalProfit,
		"margin":          p.Margin,
		"updated_at":      p.PaidAt,
	}
	if p.ProviderRef != nil && *p.ProviderRef != "" {
		values["payment_provider_ref"] = gorm.Expr("COALESCE(payment_provider_ref, ?)", *p.ProviderRef)
	}
	return r.conditionalUpdate(ctx, orderID, unpaidAndUnsettled, values)
}

func (r *repository) MarkPaymentFailed(ctx context.Context, orderID string, now time.Time) error {
	return r.conditionalUpdate(ctx, orderID, unpaidAndUnsettled, map[string]any{
		"status":         enums.OrderStatusFailed,
		"payment_status": enums.PaymentStatusFailed,
		"updated_at":     now,
	})
}

func (r *repository) MarkDiscrepancy(ctx context.Context, orderID string, d DiscrepancyUpdate) error {
	values := map[string]any{
		"status":                      enums.OrderStatusDiscrepancy,
		"payment_status":              enums.PaymentStatusDiscrepancy,
		"discrepancy_expected_amount": d.ExpectedAmount,
		"discrepancy_received_amount": d.ReceivedAmount,
		"updated_at":                  d.At,
	}
	if len(d.RawPayload) > 0 {
		values["discrepancy_raw_payload"] = datatypes.JSON(d.RawPayload)
	}
	return r.conditionalUpdate(ctx, orderID, unpaidAndUnsettled, values)
}

// ClaimDelivery hands the delivery to exactly one worker. A PROCESSING claim
// older than StaleBefore is treated as abandoned and may be taken over.
func (r *repository) ClaimDelivery(ctx context.Context, orderID string, c DeliveryClaim) error {
	if c.Token == "" {
		return fmt.Errorf("claim token required")
	}
	return r.conditionalUpdate(ctx, orderID, func(q *gorm.DB) *gorm.DB {
		return q.Where("status = ?", enums.OrderStatusProcess).
			Where("payment_status IN ?", enums.SettledPaymentStatuses).
			Where("(delivery_status IN ?) OR (delivery_status = ? AND delivery_claimed_at < ?)",
				enums.ClaimableDeliveryStatuses, enums.DeliveryStatusProcessing, c.StaleBefore)
	}, map[string]any{
		"delivery_status":        enums.DeliveryStatusProcessing,
		"delivery_claim_token":   c.Token,
		"delivery_claimed_at":    c.Now,
		"delivery_error_message": nil,
		"delivery_attempts":      gorm.Expr("delivery_attempts + 1"),
		"updated_at":             c.Now,
	})
}

func (r *repository) CompleteDelivery(ctx context.Context, orderID string, d DeliveryCompletion) error {
	if d.OrderStatus != enums.OrderStatusSuccess && d.OrderStatus != enums.OrderStatusCompleted {
		return fmt.Errorf("invalid completion status %q", d.OrderStatus)
	}
	return r.conditionalUpdate(ctx, orderID, ownsClaim(d.ClaimToken), map[string]any{
		"status":                 d.OrderStatus,
		"locked":                 true,
		"delivery_status":        enums.DeliveryStatusDelivered,
		"delivery_delivered_at":  d.At,
		"delivery_delivered_by":  d.DeliveredBy,
		"delivery_content_ref":   d.ContentRef,
		"delivery_error_message": nil,
		"delivery_claim_token":   nil,
		"updated_at":             d.At,
	})
}

func (r *repository) FailDelivery(ctx context.Context, orderID, claimToken, message string, now time.Time) error {
	return r.conditionalUpdate(ctx, orderID, ownsClaim(claimToken), map[string]any{
		"delivery_status":        enums.DeliveryStatusFailed,
		"delivery_error_message": message,
		"delivery_claim_token":   nil,
		"updated_at":             now,
	})
}

// ReleaseToManual parks the delivery for an operator, switching the
// strategy to manual so the order shows up in the attention queue.
func (r *repository) ReleaseToManual(ctx context.Context, orderID, claimToken, note string, now time.Time) error {
	values := map[string]any{
		"delivery_status":      enums.DeliveryStatusPending,
		"delivery_type":        enums.DeliveryTypeManual,
		"delivery_claim_token": nil,
		"updated_at":           now,
	}
	if note != "" {
		values["delivery_error_message"] = note
	} else {
		values["delivery_error_message"] = nil
	}
	return r.conditionalUpdate(ctx, orderID, ownsClaim(claimToken), values)
}

func (r *repository) Reject(ctx context.Context, orderID, reason string, now time.Time) error {
	return r.conditionalUpdate(ctx, orderID, func(q *gorm.DB) *gorm.DB {
		return unpaidAndUnsettled(q).Where("locked = ?", false)
	}, map[string]any{
		"status":        enums.OrderStatusRejected,
		"reject_reason": reason,
		"locked":        true,
		"updated_at":    now,
	})
}

// ExpirePending fails a PENDING order whose session expired before cutoff.
func (r *repository) ExpirePending(ctx context.Context, orderID string, cutoff time.Time) error {
	return r.conditionalUpdate(ctx, orderID, func(q *gorm.DB) *gorm.DB {
		return q.Where("status = ?", enums.OrderStatusPending).
			Where("payment_status NOT IN ?", enums.SettledPaymentStatuses).
			Where("payment_expires_at IS NOT NULL AND payment_expires_at < ?", cutoff)
	}, map[string]any{
		"status":         enums.OrderStatusFailed,
		"payment_status": enums.PaymentStatusFailed,
		"updated_at":     time.Now().UTC(),
	})
}

func (r *repository) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.OrderStatusPending).
		Where("payment_status NOT IN ?", enums.SettledPaymentStatuses).
		Where("payment_expires_at IS NOT NULL AND payment_expires_at < ?", cutoff).
		Order("payment_expires_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListAwaitingDelivery returns paid orders whose automatic delivery never
// started (paid before paidBefore) or whose claim was abandoned (claimed
// before staleBefore). Orders parked for an operator are left alone.
func (r *repository) ListAwaitingDelivery(ctx context.Context, paidBefore, staleBefore time.Time, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.OrderStatusProcess).
		Where("payment_status IN ?", enums.SettledPaymentStatuses).
		Where("(delivery_type IS NULL OR delivery_type <> ?)", enums.DeliveryTypeManual).
		Where("(delivery_status = ? AND payment_paid_at < ?) OR (delivery_status = ? AND delivery_claimed_at < ?)",
			enums.DeliveryStatusPending, paidBefore, enums.DeliveryStatusProcessing, staleBefore).
		Order("payment_paid_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListAttention pages through orders an operator must act on: amount
// discrepancies, failed deliveries and deliveries parked for manual work.
func (r *repository) ListAttention(ctx context.Context, params pagination.Params) (*AttentionList, error) {
	limit := pagination.LimitWithBuffer(params.Limit)

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	query := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("(status = ?) OR (status = ? AND (delivery_status = ? OR (delivery_status = ? AND delivery_type = ?)))",
			enums.OrderStatusDiscrepancy,
			enums.OrderStatusProcess,
			enums.DeliveryStatusFailed,
			enums.DeliveryStatusPending,
			enums.DeliveryTypeManual,
		)
	if cursor != nil {
		query = query.Where("(created_at, order_id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Order
	if err := query.Order("created_at DESC, order_id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}

	rows, next := pagination.Trim(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.OrderID}
	})
	list := &AttentionList{Orders: make([]AttentionItem, 0, len(rows)), NextCursor: next}
	for _, row := range rows {
		list.Orders = append(list.Orders, attentionItemFrom(row))
	}
	return list, nil
}

func (r *repository) conditionalUpdate(ctx context.Context, orderID string, guard func(*gorm.DB) *gorm.DB, values map[string]any) error {
	values["version"] = gorm.Expr("version + 1")
	if _, ok := values["updated_at"]; !ok {
		values["updated_at"] = time.Now().UTC()
	}

	query := r.db.WithContext(ctx).Model(&models.Order{}).Where("order_id = ?", orderID)
	result := guard(query).Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPreconditionFailed
	}
	return nil
}

func unpaidAndUnsettled(q *gorm.DB) *gorm.DB {
	return q.Where("status IN ?", enums.UnpaidOrderStatuses).
		Where("payment_status NOT IN ?", enums.SettledPaymentStatuses)
}

func ownsClaim(token string) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		return q.Where("delivery_status = ?", enums.DeliveryStatusProcessing).
			Where("delivery_claim_token = ?", token)
	}
}
