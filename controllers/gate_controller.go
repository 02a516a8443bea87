package controllers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/dailytake/services"
	"github.com/cppla/dailytake/utils"
)

// GateController serves the read side: gate, streak, today's prompt.
type GateController struct {
	engine *services.Engine
	log    *zap.Logger
}

// NewGateController creates a new controller instance.
func NewGateController(engine *services.Engine, log *zap.Logger) *GateController {
	return &GateController{engine: engine, log: log}
}

// Gate returns the viewer's state for today.
func (g *GateController) Gate(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		unauthorized(ctx)
		return
	}
	state, err := g.engine.GetGateState(ctx.Request.Context(), userID, g.engine.Now())
	if err != nil {
		respondError(ctx, g.log, err)
		return
	}
	utils.Success(ctx, state)
}

// GateForDate returns the viewer's state for a specific prompt date.
func (g *GateController) GateForDate(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		unauthorized(ctx)
		return
	}
	state, err := g.engine.GetDateState(ctx.Request.Context(), userID, ctx.Param("date"), g.engine.Now())
	if err != nil {
		respondError(ctx, g.log, err)
		return
	}
	utils.Success(ctx, state)
}

// Streak returns current and longest streak.
func (g *GateController) Streak(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		unauthorized(ctx)
		return
	}
	streak, err := g.engine.GetStreak(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, g.log, err)
		return
	}
	utils.Success(ctx, gin.H{
		"current_streak": streak.Current,
		"longest_streak": streak.Longest,
	})
}

// TodayPrompt returns the active prompt for the viewer's today.
func (g *GateController) TodayPrompt(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		unauthorized(ctx)
		return
	}
	day, err := g.engine.TodayPrompt(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, g.log, err)
		return
	}
	utils.Success(ctx, day)
}
