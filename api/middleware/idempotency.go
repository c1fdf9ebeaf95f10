package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/digistore-backend/api/responses"
	pkgerrors "github.com/angelmondragon/digistore-backend/pkg/errors"
	"github.com/angelmondragon/digistore-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/digistore-backend/pkg/redis"
)

const (
	defaultIdempotencyTTL = 24 * time.Hour
	// A request that crashed mid-flight frees its key after this long.
	inFlightTTL = time.Minute

	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
)

// idempotencyRule is a mutating route that honours Idempotency-Key. A zero
// ttl means the session TTL handed to Idempotency; optional rules engage only
// when the client sends a key.
type idempotencyRule struct {
	method   string
	prefix   string
	suffix   string
	ttl      time.Duration
	optional bool
}

func (r idempotencyRule) matches(method, path string) bool {
	return r.method == method && strings.HasPrefix(path, r.prefix) && strings.HasSuffix(path, r.suffix)
}

var idempotencyRules = []idempotencyRule{
	{method: http.MethodPost, prefix: "/api/v1/orders/", suffix: "/payment-session", optional: true},
	{method: http.MethodPost, prefix: "/api/admin/v1/orders/", suffix: "/deliver", ttl: defaultIdempotencyTTL},
	{method: http.MethodPost, prefix: "/api/admin/v1/orders/", suffix: "/redeliver", ttl: defaultIdempotencyTTL},
	{method: http.MethodPost, prefix: "/api/admin/v1/orders/", suffix: "/reject", ttl: defaultIdempotencyTTL},
}

// storedResponse is the redis value under an idempotency key. InFlight marks
// a key whose first request has not finished yet.
type storedResponse struct {
	InFlight    bool   `json:"in_flight,omitempty"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency replays the first response for a repeated Idempotency-Key on
// the routes in idempotencyRules. Concurrent duplicates are refused while the
// first request runs, and 5xx outcomes release the key so the client can retry.
func Idempotency(store pkgredis.IdempotencyStore, sessionTTL time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	if sessionTTL <= 0 {
		sessionTTL = defaultIdempotencyTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rule, ok := ruleFor(r)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if clientKey == "" {
				if rule.optional {
					next.ServeHTTP(w, r)
					return
				}
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, idempotencyHeader+" header required"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fingerprint := requestFingerprint(body)
			key := store.IdempotencyKey(SubjectFromContext(ctx)+"|"+r.Method+"|"+r.URL.Path, clientKey)

			claimed, err := claimKey(ctx, store, key, fingerprint)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				replayOrReject(ctx, store, key, fingerprint, w, logg)
				return
			}

			var captured bytes.Buffer
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&captured)
			defer func() {
				ttl := rule.ttl
				if ttl == 0 {
					ttl = sessionTTL
				}
				settleKey(context.WithoutCancel(ctx), store, key, storedResponse{
					RequestHash: fingerprint,
					Status:      statusOrOK(ww.Status()),
					ContentType: ww.Header().Get("Content-Type"),
					Body:        captured.Bytes(),
				}, ttl, logg)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func ruleFor(r *http.Request) (idempotencyRule, bool) {
	if rule, ok := matchRule(r.Method, routePattern(r)); ok {
		return rule, true
	}
	// mid-routing chi only knows the mount pattern ("/api/admin/*")
	return matchRule(r.Method, r.URL.Path)
}

func matchRule(method, path string) (idempotencyRule, bool) {
	if path == "" {
		return idempotencyRule{}, false
	}
	for _, rule := range idempotencyRules {
		if rule.matches(method, path) {
			return rule, true
		}
	}
	return idempotencyRule{}, false
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

// claimKey parks an in-flight marker under key and reports whether this
// request owns it.
func claimKey(ctx context.Context, store pkgredis.IdempotencyStore, key, fingerprint string) (bool, error) {
	marker, err := json.Marshal(storedResponse{InFlight: true, RequestHash: fingerprint})
	if err != nil {
		return false, err
	}
	return store.SetNX(ctx, key, string(marker), inFlightTTL)
}

func replayOrReject(ctx context.Context, store pkgredis.IdempotencyStore, key, fingerprint string, w http.ResponseWriter, logg *logger.Logger) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) || (err == nil && raw == "") {
		// the holder released the key between our SetNX and Get
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is being retried, try again"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record"))
		return
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case stored.RequestHash != fingerprint:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case stored.InFlight:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is still in progress"))
	default:
		if stored.ContentType != "" {
			w.Header().Set("Content-Type", stored.ContentType)
		}
		w.Header().Set(replayedHeader, "true")
		w.WriteHeader(stored.Status)
		_, _ = w.Write(stored.Body)
	}
}

// settleKey swaps the in-flight marker for the final response. Server errors
// drop the key instead so the same request can be retried.
func settleKey(ctx context.Context, store pkgredis.IdempotencyStore, key string, resp storedResponse, ttl time.Duration, logg *logger.Logger) {
	if err := store.Del(ctx, key); err != nil {
		logError(ctx, logg, "release idempotency key", err)
		return
	}
	if resp.Status >= http.StatusInternalServerError {
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		logError(ctx, logg, "encode idempotency record", err)
		return
	}
	if _, err := store.SetNX(ctx, key, string(payload), ttl); err != nil {
		logError(ctx, logg, "persist idempotency record", err)
	}
}

func requestFingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func statusOrOK(status int) int {
	if status == 0 {
		return http.StatusOK
	}
	return status
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg != nil && err != nil {
		logg.Error(ctx, msg, err)
	}
}
