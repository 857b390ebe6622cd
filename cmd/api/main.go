package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/punchamoorthee/bettask/internal/api"
	"github.com/punchamoorthee/bettask/internal/config"
	"github.com/punchamoorthee/bettask/internal/dialogue"
	"github.com/punchamoorthee/bettask/internal/engine"
	"github.com/punchamoorthee/bettask/internal/intent"
	"github.com/punchamoorthee/bettask/internal/ledger"
	"github.com/punchamoorthee/bettask/internal/nlu"
	"github.com/punchamoorthee/bettask/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	var logger *zap.Logger
	if cfg.Env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Postgres when configured, otherwise the in-memory store for local runs.
	var ledgerStore ledger.Store
	if cfg.DBSource != "" {
		pg, err := store.NewPostgres(cfg.DBSource)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer pg.Close()
		ledgerStore = pg
		logger.Info("using postgres store")
	} else {
		ledgerStore = store.NewMemory()
		logger.Warn("DB_SOURCE not set, using volatile in-memory store")
	}

	svc := ledger.NewService(ledgerStore, cfg.BonusRate, logger)

	// The Gemini collaborator is optional: without a key, Tier 2 is skipped
	// and payment assertions and completion proofs go to manual review.
	var classifier intent.Classifier
	var extractor engine.FactExtractor
	var verifier engine.ProofVerifier
	if cfg.GeminiAPIKey != "" {
		gem, err := nlu.NewGemini(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel, logger)
		if err != nil {
			logger.Fatal("gemini init failed", zap.Error(err))
		}
		classifier = gem
		extractor = gem
		verifier = gem
		logger.Info("gemini collaborator enabled", zap.String("model", cfg.GeminiModel))
	} else {
		logger.Warn("GEMINI_API_KEY not set, running rules-only classification")
	}

	resolver := intent.NewResolver(classifier, cfg.NLUTimeout, logger)
	sessions := dialogue.NewSessionStore(cfg.SessionTTL)
	defer sessions.Drain()
	manager := dialogue.NewManager(sessions, svc, logger)

	eng := engine.New(resolver, manager, svc, extractor, verifier, engine.Config{
		ExpectedPayee:      cfg.ExpectedPayee,
		PaymentWindowHours: cfg.PaymentWindowHours,
		MinDeposit:         cfg.MinDeposit,
		MaxDeposit:         cfg.MaxDeposit,
	}, logger)

	// Deadline sweep: forfeits the stakes of active and unverified-claim
	// commitments past their deadline.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			n, err := svc.ExpireOverdue(ctx, time.Now().UTC())
			cancel()
			if err != nil {
				logger.Error("overdue sweep failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("overdue commitments expired", zap.Int("count", n))
			}
		}
	}()

	handler := api.NewHandler(eng, svc, logger)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	handler.Register(r)

	logger.Info("server starting", zap.String("port", cfg.Port))
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
