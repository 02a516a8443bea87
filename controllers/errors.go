package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/dailytake/services"
	"github.com/cppla/dailytake/utils"
)

type apiError struct {
	err     error
	status  int
	code    int
	message string
}

// errorTable maps engine errors to HTTP status and business code. Order
// matters: the first match wins.
var errorTable = []apiError{
	{services.ErrInvalidContent, http.StatusBadRequest, 40030, "invalid content"},
	{services.ErrInvalidAmount, http.StatusBadRequest, 40031, "invalid amount"},
	{services.ErrInvalidDateKey, http.StatusBadRequest, 40032, "invalid date, expected YYYY-MM-DD"},
	{services.ErrInvalidTimezone, http.StatusBadRequest, 40033, "timezone offset out of range"},
	{services.ErrUnknownCreditType, http.StatusBadRequest, 40034, "unknown credit type"},
	{services.ErrInsufficientCredit, http.StatusPaymentRequired, 40210, "insufficient credit"},
	{services.ErrNotEligible, http.StatusForbidden, 40310, "not eligible"},
	{services.ErrNoPromptForDate, http.StatusNotFound, 40410, "no prompt for date"},
	{services.ErrUserNotFound, http.StatusNotFound, 40411, "user not found"},
	{services.ErrRefundNotAllowed, http.StatusConflict, 40910, "refund not allowed"},
	{services.ErrConcurrencyConflict, http.StatusConflict, 40911, "concurrent update, retry"},
	{services.ErrStorageUnavailable, http.StatusServiceUnavailable, 50330, "storage unavailable, retry later"},
}

// respondError writes the envelope for err. Unknown errors are 500.
func respondError(ctx *gin.Context, log *zap.Logger, err error) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			if e.status >= http.StatusInternalServerError {
				log.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
			}
			utils.Error(ctx, e.status, e.code, e.message)
			return
		}
	}
	log.Error("unexpected error", zap.String("path", ctx.FullPath()), zap.Error(err))
	utils.Error(ctx, http.StatusInternalServerError, 50000, "internal error")
}

func badRequest(ctx *gin.Context) {
	utils.Error(ctx, http.StatusBadRequest, 40020, "invalid request payload")
}

func unauthorized(ctx *gin.Context) {
	utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
}
