package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/digistore-backend/api/responses"
	"github.com/angelmondragon/digistore-backend/api/validators"
	"github.com/angelmondragon/digistore-backend/internal/payments/session"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/digistore-backend/pkg/errors"
	"github.com/angelmondragon/digistore-backend/pkg/logger"
)

type sessionCreator interface {
	CreateSession(ctx context.Context, orderID string, currency enums.Currency) (*session.Result, error)
}

type paymentSessionRequest struct {
	Currency string `json:"currency" validate:"required,currency"`
}

// CreatePaymentSession opens (or returns the live) provider session for an order.
func CreatePaymentSession(svc sessionCreator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment session service unavailable"))
			return
		}

		orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
		if orderID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "order id is required"))
			return
		}

		var body paymentSessionRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		currency, err := enums.ParseCurrency(body.Currency)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported currency"))
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{"order_id": orderID, "currency": currency})
		}

		result, err := svc.CreateSession(ctx, orderID, currency)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		status := http.StatusCreated
		if result.Reused {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, result)
	}
}
