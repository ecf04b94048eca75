package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/skarimi/docqa/config"
	"github.com/skarimi/docqa/internal/provider/openai"
	"github.com/skarimi/docqa/internal/queue/streams"
	"github.com/skarimi/docqa/internal/rag"
	"github.com/skarimi/docqa/internal/store"
	"github.com/skarimi/docqa/internal/vector"
)

// newEcho builds the echo instance with recovery, CORS and the unified JSON
// error handler shared by all routes.
func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		details := ""
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
			if he.Internal != nil {
				details = he.Internal.Error()
			}
		}
		if details == "" {
			details = http.StatusText(code)
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg, "details": details})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))
	return e
}

// Run wires the API server from config and blocks serving HTTP.
func Run(cfg *appconfig.Config) error {
	e := newEcho()
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()

	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr(),
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
	}
	// Create the group before the first publish so no upload is missed even
	// if the worker has not started yet.
	if err := streams.EnsureGroup(ctx, rdb, streams.StreamFileUpload, cfg.Ingest.Group); err != nil {
		return err
	}
	publisher := streams.NewPublisher(rdb)

	llm, err := openai.New(openai.Config{
		APIKey:          cfg.OpenAI.APIKey,
		BaseURL:         cfg.OpenAI.BaseURL,
		EmbeddingModel:  cfg.OpenAI.EmbeddingModel,
		CompletionModel: cfg.OpenAI.CompletionModel,
		Timeout:         cfg.OpenAI.Timeout,
	})
	if err != nil {
		return err
	}

	qdrant, err := vector.NewClient(vector.Config{
		URL:     cfg.Qdrant.URL,
		APIKey:  cfg.Qdrant.APIKey,
		Timeout: cfg.Qdrant.Timeout,
	})
	if err != nil {
		return err
	}

	engine := rag.New(llm, qdrant, rag.Config{
		Collection:  cfg.Qdrant.Collection,
		TopK:        cfg.Query.TopK,
		Temperature: cfg.OpenAI.Temperature,
		MaxTokens:   cfg.OpenAI.MaxTokens,
	}, nil)

	api := e.Group("/api", authMiddleware([]byte(cfg.Server.JWTSecret)))
	uh := &UploadHandler{
		Store:     st,
		Publisher: publisher,
		Dir:       cfg.Uploads.Dir,
		MaxSize:   cfg.Uploads.MaxSizeBytes,
	}
	uh.Register(api)
	qh := &QueryHandler{Engine: engine}
	qh.Register(api)

	sweeper := &Sweeper{
		Store:      st,
		Index:      qdrant,
		Collection: cfg.Qdrant.Collection,
		TTL:        cfg.Uploads.RetentionTTL,
		Schedule:   cfg.Uploads.SweepSchedule,
	}
	go sweeper.Run(ctx)

	addr := cfg.Server.Listen
	if addr == "" {
		addr = ":8080"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
