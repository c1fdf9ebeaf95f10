package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/digistore-backend/api/responses"
	"github.com/angelmondragon/digistore-backend/internal/reconciler"
	pkgerrors "github.com/angelmondragon/digistore-backend/pkg/errors"
	"github.com/angelmondragon/digistore-backend/pkg/logger"
)

const maxCallbackBytes = 1 << 20

// An identical callback that is already being handled is waited for rather
// than refused, so the provider gets the outcome instead of a retryable error.
var (
	inFlightWait = 3 * time.Second
	inFlightPoll = 50 * time.Millisecond
)

var errCallbackInFlight = errors.New("identical callback in flight")

type callbackService interface {
	HandleCallback(ctx context.Context, providerName string, payload []byte, headers http.Header) (*reconciler.Ack, error)
}

type replayGuard interface {
	Acquire(ctx context.Context, provider string, payload []byte) (string, bool, error)
	Release(ctx context.Context, key string) error
}

// PaymentCallback receives asynchronous status callbacks for the provider in
// the {provider} path segment. Anything the reconciler accepts answers 200 so
// the provider stops retrying.
func PaymentCallback(svc callbackService, guard replayGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "callback service unavailable"))
			return
		}

		provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
		if provider == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeProviderNotFound, "provider is required"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes+1))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}
		if len(payload) > maxCallbackBytes {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "callback body too large"))
			return
		}

		if guard != nil {
			key, err := acquireGuard(ctx, guard, provider, payload)
			switch {
			case errors.Is(err, errCallbackInFlight):
				// the copy in flight has settled the order or is about to;
				// the reconciler's conditional writes answer duplicate
				if logg != nil {
					logg.Warn(ctx, "identical callback still in flight, handling anyway")
				}
			case err != nil:
				// the reconciler's conditional writes still hold without the guard
				if logg != nil {
					logg.Warn(ctx, "webhook replay guard unavailable: "+err.Error())
				}
			default:
				defer func() {
					if err := guard.Release(context.WithoutCancel(ctx), key); err != nil && logg != nil {
						logg.Warn(ctx, "webhook replay guard release failed: "+err.Error())
					}
				}()
			}
		}

		ack, err := svc.HandleCallback(ctx, provider, payload, r.Header)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, ack)
	}
}

// acquireGuard takes the replay key, waiting up to inFlightWait for an
// identical callback to finish with it.
func acquireGuard(ctx context.Context, guard replayGuard, provider string, payload []byte) (string, error) {
	var key string
	b := retry.WithMaxDuration(inFlightWait, retry.NewConstant(inFlightPoll))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		k, acquired, err := guard.Acquire(ctx, provider, payload)
		if err != nil {
			return err
		}
		if !acquired {
			return retry.RetryableError(errCallbackInFlight)
		}
		key = k
		return nil
	})
	return key, err
}
