package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/clearbound/grc-assistant/internal/auth"
	"github.com/clearbound/grc-assistant/internal/authz"
	"github.com/clearbound/grc-assistant/internal/crud"
	"github.com/clearbound/grc-assistant/internal/llm"
	"github.com/clearbound/grc-assistant/internal/orchestrator"
	"github.com/clearbound/grc-assistant/internal/server"
	"github.com/clearbound/grc-assistant/internal/storage"
	"github.com/clearbound/grc-assistant/internal/tenant"
	"github.com/clearbound/grc-assistant/internal/tools"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("ASSISTANT_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	port := envOrDefault("ASSISTANT_PORT", "8087")
	postgresDSN := os.Getenv("POSTGRES_DSN")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	modelBaseURL := envOrDefault("MODEL_SERVICE_URL", "https://api.openai.com")
	modelAPIKey := os.Getenv("MODEL_SERVICE_API_KEY")
	modelName := envOrDefault("MODEL_NAME", "gpt-4o")
	searchModelName := os.Getenv("SEARCH_MODEL_NAME")
	requireApproval := envOrDefaultBool("ASSISTANT_REQUIRE_APPROVAL", true)
	authCacheTTL := envOrDefaultInt("ASSISTANT_AUTH_CACHE_TTL_S", 30)
	execTimeoutMs := envOrDefaultInt("ASSISTANT_TOOL_TIMEOUT_MS", 15000)
	divergenceCheck := envOrDefaultBool("ASSISTANT_TENANT_DIVERGENCE_CHECK", false)

	logger.Info("starting assistant server",
		zap.String("port", port),
		zap.String("model", modelName),
		zap.Bool("require_approval", requireApproval),
	)

	if postgresDSN == "" {
		logger.Fatal("POSTGRES_DSN is required")
	}
	db, err := sql.Open("pgx", postgresDSN)
	if err != nil {
		logger.Fatal("failed to open postgres", zap.Error(err))
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(context.Background()); err != nil {
		logger.Fatal("failed to ping postgres", zap.Error(err))
	}

	// Audit — ClickHouse or LogWriter fallback
	var writer storage.EventWriter
	if clickhouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse audit writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log audit writer")
	}
	defer writer.Close()

	// Authentication
	var authenticator auth.Authenticator
	if envOrDefaultBool("ASSISTANT_STATIC_AUTH", false) {
		authenticator = auth.NewStaticAuthenticator()
		logger.Info("using static authenticator (development only)")
	} else {
		authenticator = auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
			DB:       db,
			CacheTTL: time.Duration(authCacheTTL) * time.Second,
			Logger:   logger,
		})
	}

	// Authorization core
	resolver := tenant.NewResolver(tenant.ResolverConfig{
		Store:           tenant.NewSQLProjectStore(db),
		CheckDivergence: divergenceCheck,
		Logger:          logger,
	})
	store := crud.NewSQLStore(db)
	validator := authz.NewValidator(resolver, store, logger)
	gateway := crud.NewGateway(store, validator, resolver, logger)

	// Model service
	modelClient := llm.NewHTTPClient(llm.HTTPConfig{
		BaseURL:     modelBaseURL,
		APIKey:      modelAPIKey,
		Model:       modelName,
		SearchModel: searchModelName,
		Logger:      logger,
	})

	// Tool surface
	defs := tools.CRUDDefinitions(gateway)
	defs = append(defs, tools.DomainDefinitions(tools.DomainToolsConfig{
		Store:     tools.NewSQLDomainStore(db),
		Gateway:   gateway,
		Validator: validator,
		Search:    modelClient,
	})...)
	registry, err := tools.NewRegistry(defs)
	if err != nil {
		logger.Fatal("failed to build tool registry", zap.Error(err))
	}
	executor := tools.NewExecutor(registry, time.Duration(execTimeoutMs)*time.Millisecond, logger)

	orch := orchestrator.New(orchestrator.Config{
		LLM:             modelClient,
		Registry:        registry,
		Executor:        executor,
		Audit:           writer,
		RequireApproval: requireApproval,
		Logger:          logger,
	})

	srv := server.New(orch, authenticator, logger)
	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       5 * time.Minute,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("assistant server listening", zap.String("addr", httpServer.Addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}
