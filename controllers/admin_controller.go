package controllers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/dailytake/models"
	"github.com/cppla/dailytake/services"
	"github.com/cppla/dailytake/utils"
)

// AdminController serves service-to-service calls: the payment webhook
// relay, support adjustments and the prompt scheduler.
type AdminController struct {
	engine *services.Engine
	log    *zap.Logger
}

// NewAdminController creates a new controller instance.
func NewAdminController(engine *services.Engine, log *zap.Logger) *AdminController {
	return &AdminController{engine: engine, log: log}
}

// Purchase books credits for an already confirmed payment. Idempotent on receipt_id.
func (a *AdminController) Purchase(ctx *gin.Context) {
	var req struct {
		UserID     uint   `json:"user_id" binding:"required"`
		CreditType string `json:"credit_type" binding:"required"`
		Amount     int64  `json:"amount" binding:"required"`
		ReceiptID  string `json:"receipt_id" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx)
		return
	}
	t, err := models.ParseCreditType(req.CreditType)
	if err != nil {
		respondError(ctx, a.log, err)
		return
	}
	entry, err := a.engine.PurchaseCreditsConfirmed(ctx.Request.Context(), req.UserID, t, req.Amount, req.ReceiptID)
	if err != nil {
		respondError(ctx, a.log, err)
		return
	}
	utils.Success(ctx, entry)
}

// Adjust moves a balance up or down with reason admin_adjust.
func (a *AdminController) Adjust(ctx *gin.Context) {
	var req struct {
		UserID     uint   `json:"user_id" binding:"required"`
		CreditType string `json:"credit_type" binding:"required"`
		Delta      int64  `json:"delta" binding:"required"`
		Note       string `json:"note"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx)
		return
	}
	t, err := models.ParseCreditType(req.CreditType)
	if err != nil {
		respondError(ctx, a.log, err)
		return
	}
	entry, err := a.engine.AdminAdjust(ctx.Request.Context(), req.UserID, t, req.Delta, req.Note)
	if err != nil {
		respondError(ctx, a.log, err)
		return
	}
	a.log.Info("credits adjusted",
		zap.String("admin", getUsername(ctx)),
		zap.Uint("user_id", req.UserID),
		zap.String("credit_type", string(t)),
		zap.Int64("delta", req.Delta))
	utils.Success(ctx, entry)
}

// Refund reverses a spend whose downstream action failed.
func (a *AdminController) Refund(ctx *gin.Context) {
	var req struct {
		UserID  uint `json:"user_id" binding:"required"`
		SpendID uint `json:"spend_id" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx)
		return
	}
	entry, err := a.engine.RefundAction(ctx.Request.Context(), req.UserID, req.SpendID)
	if err != nil {
		respondError(ctx, a.log, err)
		return
	}
	utils.Success(ctx, entry)
}

// UpsertPrompt creates or corrects the prompt for :date.
func (a *AdminController) UpsertPrompt(ctx *gin.Context) {
	var req struct {
		Text     string `json:"text" binding:"required"`
		IsActive *bool  `json:"is_active"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx)
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	day, err := a.engine.UpsertPromptDay(ctx.Request.Context(), ctx.Param("date"), req.Text, active)
	if err != nil {
		respondError(ctx, a.log, err)
		return
	}
	utils.Success(ctx, day)
}

// Reconcile reports balance vs history sum per credit type for a user.
func (a *AdminController) Reconcile(ctx *gin.Context) {
	userID, err := strconv.ParseUint(ctx.Param("userId"), 10, 64)
	if err != nil || userID == 0 {
		badRequest(ctx)
		return
	}
	recs, err := a.engine.Reconcile(ctx.Request.Context(), uint(userID))
	if err != nil {
		respondError(ctx, a.log, err)
		return
	}
	consistent := true
	for _, r := range recs {
		if !r.Consistent {
			consistent = false
			a.log.Warn("ledger drift", zap.Uint64("user_id", userID), zap.String("credit_type", string(r.CreditType)),
				zap.Int64("balance", r.Balance), zap.Int64("history_sum", r.HistorySum))
		}
	}
	utils.Success(ctx, gin.H{"consistent": consistent, "types": recs})
}
