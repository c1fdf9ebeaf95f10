package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/angelmondragon/digistore-backend/internal/notifications"
	"github.com/angelmondragon/digistore-backend/pkg/db/dbtest"
	"github.com/angelmondragon/digistore-backend/pkg/db/models"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingNotifier struct {
	events []notifications.Event
	accept bool
}

func (r *recordingNotifier) Enqueue(ctx context.Context, event notifications.Event) bool {
	if !r.accept {
		return false
	}
	r.events = append(r.events, event)
	return true
}

type failingRepo struct{}

func (failingRepo) WithTx(tx *gorm.DB) Repository { return failingRepo{} }
func (failingRepo) Append(ctx context.Context, entry *models.AuditLogEntry) error {
	return errors.New("insert failed")
}
func (failingRepo) ListByOrderID(ctx context.Context, orderID string) ([]models.AuditLogEntry, error) {
	return nil, nil
}

func TestSinkFlushAppendsInOrder(t *testing.T) {
	notifier := &recordingNotifier{accept: true}
	sink, err := NewSink(NewRepository(dbtest.Open(t)), notifier, nil)
	require.NoError(t, err)
	ctx := context.Background()

	var effects Effects
	effects.Audit("ORD-1", enums.AuditCallbackReceived, enums.ProviderActor(enums.ProviderTripay), []byte(`{"status":"PAID"}`))
	effects.Audit("ORD-1", enums.AuditPaymentSucceeded, enums.ProviderActor(enums.ProviderTripay), map[string]any{"amount": 150000})
	effects.Notify(notifications.Event{Type: enums.EventDeliveryCompleted, OrderID: "ORD-1"})
	sink.Flush(ctx, &effects)

	history, err := sink.History(ctx, "ORD-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, enums.AuditCallbackReceived, history[0].Event)
	assert.Equal(t, enums.AuditActor("provider:tripay"), history[0].Actor)
	assert.JSONEq(t, `{"status":"PAID"}`, string(history[0].Payload))
	assert.Equal(t, enums.AuditPaymentSucceeded, history[1].Event)

	require.Len(t, notifier.events, 1)
	assert.False(t, notifier.events[0].OccurredAt.IsZero())
	assert.Empty(t, effects.Entries(), "flush empties the effect list")
}

func TestSinkWrapsNonJSONPayload(t *testing.T) {
	sink, err := NewSink(NewRepository(dbtest.Open(t)), nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	sink.Record(ctx, Entry{OrderID: "ORD-2", Event: enums.AuditCallbackReceived, Payload: []byte("status=PAID")})

	history, err := sink.History(ctx, "ORD-2")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, enums.ActorSystem, history[0].Actor)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(history[0].Payload, &payload))
	assert.Equal(t, "status=PAID", payload["raw"])
}

func TestSinkNeverFails(t *testing.T) {
	notifier := &recordingNotifier{accept: false}
	sink, err := NewSink(failingRepo{}, notifier, nil)
	require.NoError(t, err)

	var effects Effects
	effects.Audit("ORD-3", enums.AuditDeliveryFailed, enums.ActorSystem, nil)
	effects.Notify(notifications.Event{Type: enums.EventDeliveryFailed, OrderID: "ORD-3"})

	assert.NotPanics(t, func() { sink.Flush(context.Background(), &effects) })
	assert.NotPanics(t, func() { sink.Record(context.Background(), Entry{}) })
}
