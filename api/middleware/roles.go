package middleware

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/connect-reconciler/api/responses"
	"github.com/angelmondragon/connect-reconciler/pkg/enums"
	pkgerrors "github.com/angelmondragon/connect-reconciler/pkg/errors"
	"github.com/angelmondragon/connect-reconciler/pkg/logger"
)

func RequireRole(logg *logger.Logger, roles ...enums.ActorRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			for _, allowed := range roles {
				if role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role required"))
		})
	}
}

// RequireVendorAccess lets admins through and restricts vendor tokens to the
// vendor named by the route parameter.
func RequireVendorAccess(param string, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			switch RoleFromContext(ctx) {
			case enums.ActorRoleAdmin:
				next.ServeHTTP(w, r)
				return
			case enums.ActorRoleVendor:
				own, ok := VendorIDFromContext(ctx)
				requested, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
				if ok && err == nil && own == requested {
					next.ServeHTTP(w, r)
					return
				}
			}
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "vendor access denied"))
		})
	}
}
