package main

import (
	"context"
	"log"
	"net/http"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/mpreston/matchpoint/internal/auth"
	"github.com/mpreston/matchpoint/internal/config"
	"github.com/mpreston/matchpoint/internal/httpapi"
	"github.com/mpreston/matchpoint/internal/hub"
	"github.com/mpreston/matchpoint/internal/store"
)

func main() {
	cfg := config.Load()

	var logger *zap.Logger
	var err error
	if cfg.Dev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	db, err := store.Open(cfg.DB.DSN())
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}

	ctx := context.Background()
	authSvc := auth.New(db)
	h := hub.NewHub(ctx, db, clockwork.NewRealClock(), logger)

	api := httpapi.NewAPI(db, authSvc, logger)
	handler := httpapi.SetupRoutes(api, h)

	logger.Info("listening", zap.String("addr", cfg.HTTPAddr))
	if err := http.ListenAndServe(cfg.HTTPAddr, handler); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
