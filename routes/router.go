package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/dailytake/config"
	"github.com/cppla/dailytake/controllers"
	"github.com/cppla/dailytake/middleware"
	"github.com/cppla/dailytake/services"
	"github.com/cppla/dailytake/utils"
)

// SetupRouter wires routes, middlewares, and controllers. accessLog receives
// one line per request; log is the application logger.
func SetupRouter(cfg config.AppConfig, engine *services.Engine, log, accessLog *zap.Logger) *gin.Engine {
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}
	if accessLog == nil {
		accessLog = zap.NewNop()
	}

	r := gin.New()
	r.Use(ginzap.Ginzap(accessLog, time.RFC3339, true))
	r.Use(ginzap.RecoveryWithZap(log, true))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Idempotency-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	gateController := controllers.NewGateController(engine, log)
	takeController := controllers.NewTakeController(engine, log)
	creditController := controllers.NewCreditController(engine, log)
	userController := controllers.NewUserController(engine, log)
	adminController := controllers.NewAdminController(engine, log)

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute)

	api := r.Group("/api/v1")
	protected := api.Group("")
	protected.Use(middleware.AuthRequired(cfg.JWTSecret), limiter.Middleware(), middleware.EnsureUser(engine.EnsureUser))

	protected.GET("/gate", gateController.Gate)
	protected.GET("/gate/:date", gateController.GateForDate)
	protected.GET("/streak", gateController.Streak)
	protected.GET("/prompts/today", gateController.TodayPrompt)
	protected.POST("/takes", takeController.Submit)
	protected.POST("/takes/late", takeController.SubmitLate)
	protected.GET("/credits", creditController.Balances)
	protected.GET("/credits/history", creditController.History)
	protected.POST("/credits/spend", creditController.Spend)
	protected.PUT("/users/me/timezone", userController.UpdateTimezone)

	admin := api.Group("/admin")
	admin.Use(middleware.AuthRequired(cfg.JWTSecret), middleware.AdminRequired(cfg.IsAdmin))
	admin.POST("/credits/purchase", adminController.Purchase)
	admin.POST("/credits/adjust", adminController.Adjust)
	admin.POST("/credits/refund", adminController.Refund)
	admin.GET("/credits/reconcile/:userId", adminController.Reconcile)
	admin.PUT("/prompts/:date", adminController.UpsertPrompt)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "api route not found")
	})

	return r
}
