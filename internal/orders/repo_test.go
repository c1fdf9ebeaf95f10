package orders

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/digistore-backend/pkg/db/dbtest"
	"github.com/angelmondragon/digistore-backend/pkg/db/models"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
	"github.com/angelmondragon/digistore-backend/pkg/pagination"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedOrder(t *testing.T, repo Repository, mutate func(*models.Order)) *models.Order {
	t.Helper()
	capital := int64(120000)
	order := &models.Order{
		OrderID:      "ORD-" + uuid.NewString()[:8],
		ProductID:    uuid.New(),
		ProductSlug:  "netflix-1m",
		Currency:     enums.CurrencyIDR,
		SellingPrice: 150000,
		CapitalCost:  &capital,
		CreatedAt:    time.Now().UTC(),
	}
	if mutate != nil {
		mutate(order)
	}
	require.NoError(t, repo.Create(context.Background(), order))
	return order
}

func attach(t *testing.T, repo Repository, orderID, ref string) {
	t.Helper()
	err := repo.AttachSession(context.Background(), orderID, SessionUpdate{
		Provider:     enums.ProviderTripay,
		ProviderRef:  ref,
		Currency:     enums.CurrencyIDR,
		Amount:       150000,
		SellingPrice: 150000,
		DeliveryType: enums.DeliveryTypePreloaded,
		InitiatedAt:  time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestRepositoryCreateAppliesDefaults(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	order := seedOrder(t, repo, nil)

	got, err := repo.FindByID(context.Background(), order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusAwaitingPayment, got.Status)
	assert.Equal(t, enums.PaymentStatusAwaitingProof, got.Payment.Status)
	assert.Equal(t, enums.DeliveryStatusPending, got.Delivery.Status)
	assert.Equal(t, 1, got.Quantity)

	_, err = repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepositoryAttachSessionOnlyOnce(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	order := seedOrder(t, repo, nil)

	attach(t, repo, order.OrderID, "T-1")

	got, err := repo.FindByProviderRef(ctx, enums.ProviderTripay, "T-1")
	require.NoError(t, err)
	assert.Equal(t, order.OrderID, got.OrderID)
	assert.Equal(t, enums.OrderStatusPending, got.Status)
	assert.Equal(t, enums.PaymentStatusPending, got.Payment.Status)
	assert.Equal(t, int64(1), got.Version)

	err = repo.AttachSession(ctx, order.OrderID, SessionUpdate{
		Provider:    enums.ProviderMidtrans,
		ProviderRef: "M-1",
		Amount:      150000,
		InitiatedAt: time.Now().UTC(),
	})
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	_, err = repo.FindByProviderRef(ctx, enums.ProviderMidtrans, "T-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepositoryMarkPaidIsIdempotent(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	order := seedOrder(t, repo, nil)
	attach(t, repo, order.OrderID, "T-2")

	profit, margin := Profit(150000, order.CapitalCost)
	paid := PaidUpdate{Amount: 150000, FinalProfit: profit, Margin: margin, PaidAt: time.Now().UTC()}
	require.NoError(t, repo.MarkPaid(ctx, order.OrderID, paid))
	assert.ErrorIs(t, repo.MarkPaid(ctx, order.OrderID, paid), ErrPreconditionFailed)

	got, err := repo.FindByID(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusProcess, got.Status)
	assert.Equal(t, enums.PaymentStatusSuccess, got.Payment.Status)
	assert.True(t, got.Locked)
	require.NotNil(t, got.FinalProfit)
	assert.Equal(t, int64(30000), *got.FinalProfit)
	require.NotNil(t, got.Payment.PaidAt)

	assert.ErrorIs(t, repo.MarkPaymentFailed(ctx, order.OrderID, time.Now().UTC()), ErrPreconditionFailed)
	assert.ErrorIs(t, repo.MarkDiscrepancy(ctx, order.OrderID, DiscrepancyUpdate{ExpectedAmount: 1, At: time.Now().UTC()}), ErrPreconditionFailed)
}

func TestRepositoryMarkDiscrepancyStoresEvidence(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	order := seedOrder(t, repo, nil)
	attach(t, repo, order.OrderID, "T-3")

	received := int64(98000)
	require.NoError(t, repo.MarkDiscrepancy(ctx, order.OrderID, DiscrepancyUpdate{
		ExpectedAmount: 150000,
		ReceivedAmount: &received,
		RawPayload:     []byte(`{"amount":98000}`),
		At:             time.Now().UTC(),
	}))

	got, err := repo.FindByID(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDiscrepancy, got.Status)
	assert.Equal(t, enums.PaymentStatusDiscrepancy, got.Payment.Status)
	require.NotNil(t, got.Discrepancy.ReceivedAmount)
	assert.Equal(t, received, *got.Discrepancy.ReceivedAmount)
	assert.JSONEq(t, `{"amount":98000}`, string(got.Discrepancy.RawPayload))
}

func TestRepositoryDeliveryClaimLifecycle(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	order := seedOrder(t, repo, nil)

	now := time.Now().UTC()
	claim := DeliveryClaim{Token: "a", Now: now, StaleBefore: now.Add(-time.Minute)}
	assert.ErrorIs(t, repo.ClaimDelivery(ctx, order.OrderID, claim), ErrPreconditionFailed, "unpaid orders cannot be claimed")

	attach(t, repo, order.OrderID, "T-4")
	require.NoError(t, repo.MarkPaid(ctx, order.OrderID, PaidUpdate{Amount: 150000, PaidAt: now}))

	require.NoError(t, repo.ClaimDelivery(ctx, order.OrderID, claim))
	second := DeliveryClaim{Token: "b", Now: now, StaleBefore: now.Add(-time.Minute)}
	assert.ErrorIs(t, repo.ClaimDelivery(ctx, order.OrderID, second), ErrPreconditionFailed)

	assert.ErrorIs(t, repo.CompleteDelivery(ctx, order.OrderID, DeliveryCompletion{
		ClaimToken:  "b",
		OrderStatus: enums.OrderStatusSuccess,
		DeliveredBy: "system",
		At:          now,
	}), ErrPreconditionFailed)

	ref := "stock_item/1"
	require.NoError(t, repo.CompleteDelivery(ctx, order.OrderID, DeliveryCompletion{
		ClaimToken:  "a",
		OrderStatus: enums.OrderStatusSuccess,
		DeliveredBy: "system",
		ContentRef:  &ref,
		At:          now,
	}))

	got, err := repo.FindByID(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusSuccess, got.Status)
	assert.Equal(t, enums.DeliveryStatusDelivered, got.Delivery.Status)
	assert.Equal(t, 1, got.Delivery.Attempts)
	assert.Nil(t, got.Delivery.ClaimToken)

	later := DeliveryClaim{Token: "c", Now: now.Add(time.Hour), StaleBefore: now.Add(30 * time.Minute)}
	assert.ErrorIs(t, repo.ClaimDelivery(ctx, order.OrderID, later), ErrPreconditionFailed)
}

func TestRepositoryStaleClaimCanBeTakenOver(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	order := seedOrder(t, repo, nil)
	attach(t, repo, order.OrderID, "T-5")

	start := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, repo.MarkPaid(ctx, order.OrderID, PaidUpdate{Amount: 150000, PaidAt: start}))
	require.NoError(t, repo.ClaimDelivery(ctx, order.OrderID, DeliveryClaim{Token: "old", Now: start, StaleBefore: start.Add(-time.Minute)}))

	now := time.Now().UTC()
	require.NoError(t, repo.ClaimDelivery(ctx, order.OrderID, DeliveryClaim{Token: "new", Now: now, StaleBefore: now.Add(-10 * time.Minute)}))
	assert.ErrorIs(t, repo.FailDelivery(ctx, order.OrderID, "old", "late", now), ErrPreconditionFailed)
	require.NoError(t, repo.FailDelivery(ctx, order.OrderID, "new", "vendor down", now))

	got, err := repo.FindByID(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, enums.DeliveryStatusFailed, got.Delivery.Status)
	assert.Equal(t, 2, got.Delivery.Attempts)
	require.NotNil(t, got.Delivery.ErrorMessage)
	assert.Equal(t, "vendor down", *got.Delivery.ErrorMessage)
}

func TestRepositoryRejectOnlyUnpaid(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	unpaid := seedOrder(t, repo, nil)
	paid := seedOrder(t, repo, nil)
	attach(t, repo, paid.OrderID, "T-6")
	require.NoError(t, repo.MarkPaid(ctx, paid.OrderID, PaidUpdate{Amount: 150000, PaidAt: time.Now().UTC()}))

	require.NoError(t, repo.Reject(ctx, unpaid.OrderID, "fraud", time.Now().UTC()))
	assert.ErrorIs(t, repo.Reject(ctx, paid.OrderID, "fraud", time.Now().UTC()), ErrPreconditionFailed)

	got, err := repo.FindByID(ctx, unpaid.OrderID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusRejected, got.Status)
	require.NotNil(t, got.RejectReason)
	assert.Equal(t, "fraud", *got.RejectReason)
}

func TestRepositoryExpirePending(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	order := seedOrder(t, repo, nil)

	expired := time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, repo.AttachSession(ctx, order.OrderID, SessionUpdate{
		Provider:    enums.ProviderTripay,
		ProviderRef: "T-7",
		Amount:      150000,
		ExpiresAt:   &expired,
		InitiatedAt: expired.Add(-time.Hour),
	}))

	cutoff := time.Now().UTC()
	rows, err := repo.ListExpiredPending(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, repo.ExpirePending(ctx, order.OrderID, cutoff))
	assert.ErrorIs(t, repo.ExpirePending(ctx, order.OrderID, cutoff), ErrPreconditionFailed)

	rows, err = repo.ListExpiredPending(ctx, cutoff, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRepositoryListAttentionPagination(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		order := seedOrder(t, repo, func(o *models.Order) { o.CreatedAt = base.Add(time.Duration(i) * time.Minute) })
		attach(t, repo, order.OrderID, "D-"+order.OrderID)
		received := int64(1)
		require.NoError(t, repo.MarkDiscrepancy(ctx, order.OrderID, DiscrepancyUpdate{ExpectedAmount: 150000, ReceivedAmount: &received, At: base}))
	}
	seedOrder(t, repo, nil)

	first, err := repo.ListAttention(ctx, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Orders, 2)
	require.NotEmpty(t, first.NextCursor)
	assert.True(t, first.Orders[0].CreatedAt.After(first.Orders[1].CreatedAt))

	second, err := repo.ListAttention(ctx, pagination.Params{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Orders, 1)
	assert.Empty(t, second.NextCursor)
	assert.Equal(t, enums.OrderStatusDiscrepancy, second.Orders[0].Status)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(enums.OrderStatusPending, enums.OrderStatusProcess))
	assert.True(t, CanTransition(enums.OrderStatusProcess, enums.OrderStatusCompleted))
	assert.False(t, CanTransition(enums.OrderStatusSuccess, enums.OrderStatusProcess))
	assert.False(t, CanTransition(enums.OrderStatusRejected, enums.OrderStatusPending))
	assert.False(t, CanTransition(enums.OrderStatusProcess, enums.OrderStatusRejected))
}

func TestProfit(t *testing.T) {
	capital := int64(120000)
	profit, margin := Profit(150000, &capital)
	require.NotNil(t, profit)
	assert.Equal(t, int64(30000), *profit)
	require.NotNil(t, margin)
	assert.Equal(t, "0.2", margin.String())

	profit, margin = Profit(150000, nil)
	assert.Nil(t, profit)
	assert.Nil(t, margin)
}

func TestRepositoryListAwaitingDelivery(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	now := time.Now().UTC()

	paid := func(ref string, paidAt time.Time) *models.Order {
		order := seedOrder(t, repo, nil)
		attach(t, repo, order.OrderID, ref)
		require.NoError(t, repo.MarkPaid(ctx, order.OrderID, PaidUpdate{Amount: 150000, PaidAt: paidAt}))
		return order
	}
	unstarted := paid("W-1", now.Add(-5*time.Minute))
	paid("W-2", now)
	abandoned := paid("W-3", now.Add(-time.Hour))
	require.NoError(t, repo.ClaimDelivery(ctx, abandoned.OrderID, DeliveryClaim{Token: "dead", Now: now.Add(-time.Hour), StaleBefore: now.Add(-2 * time.Hour)}))
	running := paid("W-4", now.Add(-time.Hour))
	require.NoError(t, repo.ClaimDelivery(ctx, running.OrderID, DeliveryClaim{Token: "live", Now: now, StaleBefore: now.Add(-time.Hour)}))
	parked := paid("W-5", now.Add(-time.Hour))
	require.NoError(t, repo.ClaimDelivery(ctx, parked.OrderID, DeliveryClaim{Token: "p", Now: now, StaleBefore: now.Add(-time.Hour)}))
	require.NoError(t, repo.ReleaseToManual(ctx, parked.OrderID, "p", "out of stock", now))
	seedOrder(t, repo, nil)

	rows, err := repo.ListAwaitingDelivery(ctx, now.Add(-time.Minute), now.Add(-10*time.Minute), 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.OrderID)
	}
	assert.ElementsMatch(t, []string{unstarted.OrderID, abandoned.OrderID}, ids)
}
