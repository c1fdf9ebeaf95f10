package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/angelmondragon/digistore-backend/api/responses"
	pkgAuth "github.com/angelmondragon/digistore-backend/pkg/auth"
	"github.com/angelmondragon/digistore-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/digistore-backend/pkg/errors"
	"github.com/angelmondragon/digistore-backend/pkg/logger"
)

// Auth requires an operator bearer token and puts the operator identity on
// the request context for handlers and audit entries.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="digistore-admin"`)
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, pkgAuth.ErrTokenExpired) {
					msg = "token expired"
				}
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, msg))
				return
			}

			ctx := WithOperator(r.Context(), claims.Subject, claims.Role)
			if logg != nil {
				ctx = logg.WithOperator(ctx, claims.Subject, string(claims.Role))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
