package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/martazobro/s3-plugin/internal/api"
	"github.com/martazobro/s3-plugin/internal/config"
	"github.com/martazobro/s3-plugin/internal/profile"
	"github.com/martazobro/s3-plugin/pkg/logger"
)

func main() {
	cfg := config.Load()

	if cfg.Server.Mode == "debug" {
		logger.Init("debug")
		gin.SetMode(gin.DebugMode)
	} else {
		logger.Init("info")
		gin.SetMode(gin.ReleaseMode)
	}

	p := profile.New(cfg.Profile, cfg.Storage)
	if err := p.Connect(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to build storage client")
	}

	router := api.NewRouter(p, cfg.Storage.Bucket, cfg.Server.AllowedOrigins)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Str("bucket", cfg.Storage.Bucket).Msg("starting artifact server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exiting")
}
