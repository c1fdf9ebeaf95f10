package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/digistore-backend/internal/reconciler"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/digistore-backend/pkg/errors"
)

type fakeCallbackService struct {
	mu       sync.Mutex
	calls    int
	provider string
	payload  []byte
	signal   string
	ack      *reconciler.Ack
	err      error
}

func (f *fakeCallbackService) HandleCallback(_ context.Context, provider string, payload []byte, headers http.Header) (*reconciler.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.provider = provider
	f.payload = payload
	f.signal = headers.Get("X-Callback-Signature")
	return f.ack, f.err
}

type fakeGuard struct {
	mu       sync.Mutex
	held     map[string]bool
	released []string
	err      error
}

func newFakeGuard() *fakeGuard { return &fakeGuard{held: map[string]bool{}} }

func (g *fakeGuard) Acquire(_ context.Context, provider string, payload []byte) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", false, g.err
	}
	key := provider + ":" + string(payload)
	if g.held[key] {
		return key, false, nil
	}
	g.held[key] = true
	return key, true, nil
}

func (g *fakeGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, key)
	g.released = append(g.released, key)
	return nil
}

func serveCallback(t *testing.T, h http.HandlerFunc, provider string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Post("/api/v1/webhooks/{provider}", h)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/"+provider, bytes.NewReader(body))
	req.Header.Set("X-Callback-Signature", "sig")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestPaymentCallback_AcksOutcome(t *testing.T) {
	svc := &fakeCallbackService{ack: &reconciler.Ack{
		Provider:       enums.ProviderTripay,
		OrderID:        "ORD-1",
		Outcome:        reconciler.OutcomePaid,
		OrderStatus:    enums.OrderStatusSuccess,
		DeliveryStatus: enums.DeliveryStatusDelivered,
	}}
	guard := newFakeGuard()
	body := []byte(`{"merchant_ref":"ORD-1","status":"PAID"}`)

	rec := serveCallback(t, PaymentCallback(svc, guard, nil), "Tripay", body)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, svc.calls)
	assert.Equal(t, "tripay", svc.provider)
	assert.Equal(t, body, svc.payload)
	assert.Equal(t, "sig", svc.signal)
	assert.Len(t, guard.released, 1)
	assert.Empty(t, guard.held)

	var envelope struct {
		Data reconciler.Ack `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, reconciler.OutcomePaid, envelope.Data.Outcome)
	assert.Equal(t, "ORD-1", envelope.Data.OrderID)
}

func TestPaymentCallback_ErrorStatuses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"signature", pkgerrors.New(pkgerrors.CodeSignatureInvalid, "callback signature invalid"), http.StatusUnauthorized},
		{"order missing", pkgerrors.New(pkgerrors.CodeOrderNotFound, "order not found"), http.StatusNotFound},
		{"provider missing", pkgerrors.New(pkgerrors.CodeProviderNotFound, "unknown payment provider"), http.StatusNotFound},
		{"malformed", pkgerrors.New(pkgerrors.CodeValidation, "callback payload could not be parsed"), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeCallbackService{err: tc.err}
			guard := newFakeGuard()
			rec := serveCallback(t, PaymentCallback(svc, guard, nil), "tripay", []byte(`{}`))
			assert.Equal(t, tc.status, rec.Code)
			assert.Empty(t, guard.held, "guard released after failure")
		})
	}
}

func TestPaymentCallback_ConcurrentCopyWaitsForFirst(t *testing.T) {
	svc := &fakeCallbackService{ack: &reconciler.Ack{Outcome: reconciler.OutcomeDuplicate, OrderStatus: enums.OrderStatusProcess}}
	guard := newFakeGuard()
	body := []byte(`{"merchant_ref":"ORD-1"}`)
	key := "tripay:" + string(body)
	guard.held[key] = true

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = guard.Release(context.Background(), key)
	}()
	rec := serveCallback(t, PaymentCallback(svc, guard, nil), "tripay", body)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, svc.calls)
	var envelope struct {
		Data reconciler.Ack `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, reconciler.OutcomeDuplicate, envelope.Data.Outcome)

	guard.mu.Lock()
	defer guard.mu.Unlock()
	assert.Empty(t, guard.held, "the waiting copy took and released the key")
	assert.Len(t, guard.released, 2)
}

func TestPaymentCallback_StuckCopyIsHandledAfterWait(t *testing.T) {
	wait := inFlightWait
	inFlightWait = 60 * time.Millisecond
	t.Cleanup(func() { inFlightWait = wait })

	svc := &fakeCallbackService{ack: &reconciler.Ack{Outcome: reconciler.OutcomeDuplicate}}
	guard := newFakeGuard()
	body := []byte(`{"merchant_ref":"ORD-1"}`)
	guard.held["tripay:"+string(body)] = true

	rec := serveCallback(t, PaymentCallback(svc, guard, nil), "tripay", body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, svc.calls)
	assert.Empty(t, guard.released, "a key this request never held is not released")
}

func TestPaymentCallback_GuardFailureStillProcesses(t *testing.T) {
	svc := &fakeCallbackService{ack: &reconciler.Ack{Outcome: reconciler.OutcomeDuplicate}}
	guard := newFakeGuard()
	guard.err = errors.New("redis down")

	rec := serveCallback(t, PaymentCallback(svc, guard, nil), "tripay", []byte(`{}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, svc.calls)
}

func TestPaymentCallback_RejectsOversizedBody(t *testing.T) {
	svc := &fakeCallbackService{}
	rec := serveCallback(t, PaymentCallback(svc, nil, nil), "tripay", bytes.Repeat([]byte("a"), maxCallbackBytes+1))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, svc.calls)
}
