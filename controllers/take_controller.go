package controllers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/dailytake/services"
	"github.com/cppla/dailytake/utils"
)

// TakeController handles daily and late take submissions.
type TakeController struct {
	engine *services.Engine
	log    *zap.Logger
}

// NewTakeController creates a new controller instance.
func NewTakeController(engine *services.Engine, log *zap.Logger) *TakeController {
	return &TakeController{engine: engine, log: log}
}

// Submit records today's take. A repeated submit answers 200 with the
// stored take and already_submitted set.
func (t *TakeController) Submit(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		unauthorized(ctx)
		return
	}
	var req struct {
		Content     string  `json:"content" binding:"required"`
		IsAnonymous bool    `json:"is_anonymous"`
		PromptDate  *string `json:"prompt_date"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx)
		return
	}

	take, err := t.engine.Submit(ctx.Request.Context(), services.SubmitRequest{
		UserID:      userID,
		Content:     req.Content,
		IsAnonymous: req.IsAnonymous,
		PromptDate:  req.PromptDate,
	})
	if errors.Is(err, services.ErrAlreadySubmitted) && take != nil {
		utils.Success(ctx, gin.H{"take": take, "already_submitted": true})
		return
	}
	if err != nil {
		respondError(ctx, t.log, err)
		return
	}
	utils.Created(ctx, gin.H{"take": take, "already_submitted": false})
}

// SubmitLate records a take for a past prompt date, funded by a credit or by
// a receipt the payment relay already booked through the admin purchase route.
func (t *TakeController) SubmitLate(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		unauthorized(ctx)
		return
	}
	var req struct {
		PromptDate  string `json:"prompt_date" binding:"required"`
		Content     string `json:"content" binding:"required"`
		IsAnonymous bool   `json:"is_anonymous"`
		Funding     string `json:"funding"`
		ReceiptID   string `json:"receipt_id"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx)
		return
	}
	funding := services.Funding(req.Funding)
	if funding == "" {
		funding = services.FundingCredit
	}

	take, err := t.engine.SubmitLate(ctx.Request.Context(), services.LateRequest{
		UserID:      userID,
		PromptDate:  req.PromptDate,
		Content:     req.Content,
		IsAnonymous: req.IsAnonymous,
		Funding:     funding,
		ReceiptID:   req.ReceiptID,
	})
	if errors.Is(err, services.ErrAlreadySubmitted) && take != nil {
		utils.Success(ctx, gin.H{"take": take, "already_submitted": true})
		return
	}
	if err != nil {
		respondError(ctx, t.log, err)
		return
	}
	utils.Created(ctx, gin.H{"take": take, "already_submitted": false})
}
