// Package main provides the entry point for the LEOScope coordinator (C5),
// the central gRPC service backing admission, scheduling, and run/task
// bookkeeping.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/leoscope/leoscope/internal/api/health"
	apimw "github.com/leoscope/leoscope/internal/api/middleware"
	"github.com/leoscope/leoscope/internal/auth"
	coordgrpc "github.com/leoscope/leoscope/internal/grpc"
	pgstore "github.com/leoscope/leoscope/internal/store/postgres"
	"github.com/leoscope/leoscope/internal/shutdown"
	"github.com/leoscope/leoscope/pkg/config"
	"github.com/leoscope/leoscope/pkg/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

// dbPinger adapts a *sql.DB to health.Pinger.
type dbPinger struct{ db *sql.DB }

func (p dbPinger) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func main() {
	log := logger.New(slog.LevelInfo, os.Getenv("LEOSCOPE_ENV") != "development")

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	st, err := pgstore.NewPostgresStore(pgstore.DefaultConfig(cfg.DatabaseDSN), log.Logger)
	if err != nil {
		log.Error("failed to connect to metadata store", "error", err)
		os.Exit(1)
	}

	authCfg := &auth.Config{JWTSecret: []byte(cfg.JWTSecret), TokenExpiry: cfg.TokenExpiry}
	authService := auth.NewService(authCfg, st.Users(), log.Logger)
	rbac := auth.NewRBACService(st.Users(), log.Logger)

	grpcCfg := coordgrpc.DefaultConfig()
	grpcCfg.Port = cfg.GRPCPort
	grpcCfg.RescheduleStep = cfg.Schedule.RescheduleStep
	grpcServer, err := coordgrpc.NewServer(grpcCfg, st, authService, rbac, log.Logger)
	if err != nil {
		log.Error("failed to construct gRPC server", "error", err)
		os.Exit(1)
	}

	checker := health.NewChecker(dbPinger{db: st.DB()}, version)
	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(apimw.Recovery(log.Logger))
	router.Use(apimw.RequestLogger(log.Logger))
	router.Get("/healthz", checker.Handler())

	adminServer := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.AdminHost, cfg.AdminPort), Handler: router}

	sc := shutdown.NewCoordinator(shutdown.WithTimeout(cfg.ShutdownTimeout), shutdown.WithLogger(log.Logger))
	sc.Register(shutdown.NewCloserComponent("metadata-store", st))
	sc.Register(shutdown.NewFuncComponent("grpc-server", func(ctx context.Context) error { return grpcServer.Stop(ctx) }))
	sc.Register(shutdown.NewHTTPServerComponent("admin-http", adminServer))

	go func() {
		log.Info("admin HTTP listening", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin HTTP server error", "error", err)
		}
	}()

	go func() {
		log.Info("gRPC coordinator listening", "port", grpcCfg.Port)
		if err := grpcServer.Start(context.Background()); err != nil {
			log.Error("gRPC server error", "error", err)
		}
	}()

	sc.WaitForSignal()
	sc.Wait()
	os.Exit(sc.ExitCode())
}
