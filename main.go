package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/cppla/dailytake/config"
	"github.com/cppla/dailytake/models"
	"github.com/cppla/dailytake/routes"
	"github.com/cppla/dailytake/services"
	"github.com/cppla/dailytake/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger early
	logger, err := utils.InitLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := config.InitDatabase(cfg, logger, models.All()...)
	if err != nil {
		logger.Fatal("database init failed", zap.Error(err))
	}

	opts := services.Options{
		MaxTakeLength:  cfg.MaxTakeLength,
		PromptCacheTTL: cfg.PromptCacheTTL(),
		Logger:         logger,
	}
	if rc := utils.NewRedis(cfg, logger); rc != nil {
		defer func() { _ = rc.Close() }()
		cache := utils.NewRedisCache(rc, logger)
		// prompts may have been edited while we were down
		cache.InvalidateByPrefix(context.Background(), services.PromptCachePrefix)
		opts.PromptCache = cache
	}
	engine := services.NewEngine(db, opts)

	accessLog, err := utils.NewRollingFileLogger(cfg.GinPath, cfg)
	if err != nil {
		logger.Warn("access log disabled", zap.Error(err))
	}
	r := routes.SetupRouter(cfg, engine, logger, accessLog)

	logger.Info("starting server (graceful)", zap.String("port", cfg.AppPort))
	if err := utils.GraceServer(":"+cfg.AppPort, r, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
}
