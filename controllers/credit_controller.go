package controllers

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/dailytake/models"
	"github.com/cppla/dailytake/services"
	"github.com/cppla/dailytake/utils"
)

// CreditController exposes balances, history and action spends to the owner.
type CreditController struct {
	engine *services.Engine
	log    *zap.Logger
}

// NewCreditController creates a new controller instance.
func NewCreditController(engine *services.Engine, log *zap.Logger) *CreditController {
	return &CreditController{engine: engine, log: log}
}

// Balances lists every credit type with its balance.
func (c *CreditController) Balances(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		unauthorized(ctx)
		return
	}
	balances, err := c.engine.GetCreditBalances(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, c.log, err)
		return
	}
	utils.Success(ctx, balances)
}

// History pages through ledger entries, newest first. ?type= filters.
func (c *CreditController) History(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		unauthorized(ctx)
		return
	}
	var filter *models.CreditType
	if raw := strings.TrimSpace(ctx.Query("type")); raw != "" {
		t, err := models.ParseCreditType(raw)
		if err != nil {
			respondError(ctx, c.log, err)
			return
		}
		filter = &t
	}
	page, pageSize := parsePagination(ctx.Query("page"), ctx.Query("page_size"))

	rows, total, err := c.engine.CreditHistory(ctx.Request.Context(), userID, filter, page, pageSize)
	if err != nil {
		respondError(ctx, c.log, err)
		return
	}
	utils.Success(ctx, utils.Page{Items: rows, Total: total, Page: page, PageSize: pageSize})
}

// Spend debits credits for an action such as boost or sneak peek. The
// Idempotency-Key header makes retries safe.
func (c *CreditController) Spend(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		unauthorized(ctx)
		return
	}
	var req struct {
		CreditType string `json:"credit_type" binding:"required"`
		Amount     int64  `json:"amount"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx)
		return
	}
	t, err := models.ParseCreditType(req.CreditType)
	if err != nil {
		respondError(ctx, c.log, err)
		return
	}
	if req.Amount == 0 {
		req.Amount = 1
	}

	entry, err := c.engine.SpendCreditForAction(ctx.Request.Context(), userID, t, req.Amount, strings.TrimSpace(ctx.GetHeader("Idempotency-Key")))
	if err != nil {
		respondError(ctx, c.log, err)
		return
	}
	utils.Success(ctx, entry)
}
