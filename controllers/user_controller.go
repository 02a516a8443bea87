package controllers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/dailytake/services"
	"github.com/cppla/dailytake/utils"
)

// UserController manages the viewer's engine-side profile.
type UserController struct {
	engine *services.Engine
	log    *zap.Logger
}

// NewUserController creates a new controller instance.
func NewUserController(engine *services.Engine, log *zap.Logger) *UserController {
	return &UserController{engine: engine, log: log}
}

// UpdateTimezone sets the UTC offset used to compute the viewer's today.
// The first call for a user creates its row.
func (u *UserController) UpdateTimezone(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		unauthorized(ctx)
		return
	}
	var req struct {
		OffsetMinutes *int `json:"offset_minutes" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx)
		return
	}
	user, err := u.engine.UpdateTimezone(ctx.Request.Context(), userID, getUsername(ctx), *req.OffsetMinutes)
	if err != nil {
		respondError(ctx, u.log, err)
		return
	}
	utils.Success(ctx, user)
}
