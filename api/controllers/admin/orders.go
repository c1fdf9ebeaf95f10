package admin

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/digistore-backend/api/middleware"
	"github.com/angelmondragon/digistore-backend/api/responses"
	"github.com/angelmondragon/digistore-backend/api/validators"
	adminsvc "github.com/angelmondragon/digistore-backend/internal/admin"
	"github.com/angelmondragon/digistore-backend/internal/delivery"
	"github.com/angelmondragon/digistore-backend/internal/orders"
	pkgerrors "github.com/angelmondragon/digistore-backend/pkg/errors"
	"github.com/angelmondragon/digistore-backend/pkg/logger"
	"github.com/angelmondragon/digistore-backend/pkg/pagination"
)

type ordersService interface {
	TriggerManualDelivery(ctx context.Context, operator, orderID string, input adminsvc.ManualDeliveryInput) (*delivery.Result, error)
	TriggerRedelivery(ctx context.Context, operator, orderID string) (*delivery.Result, error)
	RejectOrder(ctx context.Context, operator, orderID string, input adminsvc.RejectInput) (*adminsvc.OrderDTO, error)
	ListAttention(ctx context.Context, params pagination.Params) (*orders.AttentionList, error)
	GetOrder(ctx context.Context, orderID string) (*adminsvc.OrderDetail, error)
}

type manualDeliveryRequest struct {
	Payload string `json:"payload" validate:"required,max=8192"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// AttentionOrders lists orders that need an operator, newest first.
func AttentionOrders(svc ordersService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}

		list, err := svc.ListAttention(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// OrderDetail returns an order with its audit trail.
func OrderDetail(svc ordersService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		orderID, ok := orderIDParam(w, r, logg)
		if !ok {
			return
		}

		detail, err := svc.GetOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

// ManualDelivery completes an order with operator supplied content.
func ManualDelivery(svc ordersService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		orderID, ok := orderIDParam(w, r, logg)
		if !ok {
			return
		}

		var body manualDeliveryRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.TriggerManualDelivery(r.Context(), middleware.SubjectFromContext(r.Context()), orderID, adminsvc.ManualDeliveryInput{Payload: body.Payload})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// Redeliver reruns the product's delivery strategy.
func Redeliver(svc ordersService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		orderID, ok := orderIDParam(w, r, logg)
		if !ok {
			return
		}

		result, err := svc.TriggerRedelivery(r.Context(), middleware.SubjectFromContext(r.Context()), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// Reject moves an unpaid order to REJECTED.
func Reject(svc ordersService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		orderID, ok := orderIDParam(w, r, logg)
		if !ok {
			return
		}

		var body rejectRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.RejectOrder(r.Context(), middleware.SubjectFromContext(r.Context()), orderID, adminsvc.RejectInput{Reason: validators.SanitizeString(body.Reason, 500)})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

func orderIDParam(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if orderID == "" {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "order id is required"))
		return "", false
	}
	return orderID, true
}
