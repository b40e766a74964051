package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/connect-reconciler/api/responses"
	pkgAuth "github.com/angelmondragon/connect-reconciler/pkg/auth"
	"github.com/angelmondragon/connect-reconciler/pkg/config"
	pkgerrors "github.com/angelmondragon/connect-reconciler/pkg/errors"
	"github.com/angelmondragon/connect-reconciler/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the claims.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithActor(r.Context(), claims.Role, claims.VendorID)
			ctx = context.WithValue(ctx, ctxSubject, claims.Subject)

			if logg != nil {
				ctx = logg.WithActorRole(ctx, string(claims.Role))
				if claims.Subject != "" {
					ctx = logg.WithField(ctx, "subject", claims.Subject)
				}
				if claims.VendorID != nil {
					ctx = logg.WithVendorID(ctx, *claims.VendorID)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
