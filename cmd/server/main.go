package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/agenthands/graphkeeper/internal/app"
	"github.com/agenthands/graphkeeper/internal/config"
	"github.com/agenthands/graphkeeper/internal/logger"
	"github.com/agenthands/graphkeeper/internal/server"
)

func main() {
	envErr := godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = config.DefaultPath
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		panic(err)
	}

	if err := logger.Init(cfg.Server.Env); err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Get()
	if envErr != nil {
		log.Debug("No .env file found, using environment")
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize", zap.Error(err))
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := server.NewServer(a.Keeper, cfg.Server.DefaultDomain, log).SetupRouter()

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started",
		zap.String("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("default_domain", cfg.Server.DefaultDomain))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := a.Close(shutdownCtx); err != nil {
		log.Error("Failed to close stores", zap.Error(err))
	}

	log.Info("Server exited")
}
