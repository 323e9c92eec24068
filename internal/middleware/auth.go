package middleware

import (
	"net/http"

	"viabill-be/internal/auth"
	"viabill-be/internal/logger"
	"viabill-be/internal/utils"

	"go.uber.org/zap"
)

// RequireAdmin rejects requests without a valid token carrying role=admin.
func RequireAdmin(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := auth.ExtractAccessToken(r)
			if tokenStr == "" {
				utils.WriteJSONError(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := auth.ParseToken(secret, tokenStr)
			if err != nil {
				logger.FromCtx(r.Context()).Warn("Rejected admin token", zap.Error(err))
				utils.WriteJSONError(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if claims.Role != utils.RoleAdmin {
				utils.WriteJSONError(w, "forbidden", http.StatusForbidden)
				return
			}

			ctx := utils.SetUserContext(r.Context(), claims.UserID, claims.Email, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
