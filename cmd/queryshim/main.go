// Package main is queryshim, the one HTTP-facing exception the core
// pipeline exposes: a minimal GET /search endpoint in front of the
// search index, for embedding-backed search without standing up the
// full web client the spec excludes.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/olivere/elastic/v7"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/reciperun/pipeline/internal/config"
	"github.com/reciperun/pipeline/internal/embed"
	"github.com/reciperun/pipeline/internal/middleware"
	"github.com/reciperun/pipeline/internal/pkg/response"
	"github.com/reciperun/pipeline/internal/search"
)

func main() {
	cfg := config.Load()

	logLevel := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	fileLogger := &lumberjack.Logger{
		Filename:   "logs/queryshim.jsonl",
		MaxSize:    500,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	}
	logger := slog.New(slog.NewJSONHandler(io.MultiWriter(os.Stdout, fileLogger), &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	esClient, err := elastic.NewClient(elastic.SetURL(cfg.ElasticsearchURL), elastic.SetSniff(false))
	if err != nil {
		logger.Error("failed to connect to elasticsearch", slog.Any("error", err))
		os.Exit(1)
	}
	indexer := search.New(esClient, "recipes")

	handler := &searchHandler{indexer: indexer}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recover(logger))

	r.Get("/health", handler.health)
	r.Get("/search", handler.search)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("query shim starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("query shim stopped with error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down query shim")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("query shim shutdown failed", slog.Any("error", err))
	}
}

type searchHandler struct {
	indexer *search.Indexer
}

func (h *searchHandler) health(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{"status": "ok"})
}

// search handles GET /search?q=<text>&mode=text|semantic|hybrid&difficulty=&meal_type=&size=
func (h *searchHandler) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		response.BadRequest(w, "missing required query parameter \"q\"")
		return
	}

	mode := search.Mode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = search.ModeHybrid
	}

	size := 10
	if raw := r.URL.Query().Get("size"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			size = parsed
		}
	}

	query := search.Query{
		Text:         q,
		Mode:         mode,
		DifficultyEq: r.URL.Query().Get("difficulty"),
		MealTypeEq:   r.URL.Query().Get("meal_type"),
		Size:         size,
	}
	if mode == search.ModeSemantic || mode == search.ModeHybrid {
		query.SemanticVector = embed.Generate(q)
	}

	results, err := h.indexer.Run(r.Context(), query)
	if err != nil {
		response.ServiceUnavailable(w, fmt.Sprintf("search: %v", err))
		return
	}

	response.OK(w, map[string]interface{}{
		"query":   q,
		"mode":    mode,
		"results": results,
	})
}
