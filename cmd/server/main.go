package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/codesync/codesync/internal/api"
	"github.com/codesync/codesync/internal/config"
	"github.com/codesync/codesync/internal/db"
	"github.com/codesync/codesync/internal/room"
	"github.com/codesync/codesync/internal/runner"
	"github.com/codesync/codesync/internal/workspace"
	"github.com/codesync/codesync/internal/ws"
)

func main() {
	cfgPath := os.Getenv("CODESYNC_CONFIG")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		panic(err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	database, err := db.New(filepath.Join(cfg.Storage.DataDir, "codesync.db"))
	if err != nil {
		logger.Fatal("database init failed", zap.Error(err))
	}
	defer database.Close()

	store, err := workspace.New(cfg.Storage.RoomsDir, cfg.Exec.MaxFileSize)
	if err != nil {
		logger.Fatal("workspace init failed", zap.Error(err))
	}

	coord := room.NewCoordinator(store, logger)
	run := runner.New(store, cfg.Exec.Timeout, logger)
	term := runner.NewTerminal(cfg.Exec.Timeout)

	wsServer := ws.NewServer(coord, store, run, term, logger)
	apiHandler := api.New(coord, store, run, database, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsServer.ServeWS)
	mux.HandleFunc("/health", apiHandler.HealthHandler)
	mux.HandleFunc("/api/stats", apiHandler.StatsHandler)
	mux.HandleFunc("/api/files/", apiHandler.FilesRouter)
	mux.HandleFunc("/api/save_file", apiHandler.SaveFileHandler)
	mux.HandleFunc("/api/create_file", apiHandler.CreateFileHandler)
	mux.HandleFunc("/api/create_dir", apiHandler.CreateDirHandler)
	mux.HandleFunc("/api/delete_file", apiHandler.DeleteFileHandler)
	mux.HandleFunc("/api/rename_file", apiHandler.RenameFileHandler)
	mux.HandleFunc("/api/run", apiHandler.RunHandler)
	mux.HandleFunc("/api/languages", apiHandler.LanguagesHandler)
	mux.HandleFunc("/api/settings/", apiHandler.SettingsRouter)
	mux.HandleFunc("/api/snippets/", apiHandler.SnippetsHandler)

	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: corsMiddleware(mux),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("rooms_dir", cfg.Storage.RoomsDir),
			zap.Duration("exec_timeout", cfg.Exec.Timeout))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "dev" || env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
