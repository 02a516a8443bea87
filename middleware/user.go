package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/dailytake/utils"
)

// EnsureUser must run after AuthRequired. It lets ensure create the user row
// for the authenticated identity before any handler loads it.
func EnsureUser(ensure func(ctx context.Context, userID uint, username string) error) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		err := ensure(ctx.Request.Context(), ctx.GetUint(ContextUserIDKey), ctx.GetString(ContextUsernameKey))
		if err != nil {
			utils.Error(ctx, http.StatusServiceUnavailable, 50330, "storage unavailable")
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}
