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

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/chatpad-app/chatpad/backend/internal/config"
	"github.com/chatpad-app/chatpad/backend/internal/handler"
	"github.com/chatpad-app/chatpad/backend/internal/service/ai"
	"github.com/chatpad-app/chatpad/backend/internal/session"
	"github.com/chatpad-app/chatpad/backend/internal/settings"
	"github.com/chatpad-app/chatpad/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger()

	if err := godotenv.Load(); err != nil {
		logger.Warn().Err(err).Msg("no .env file, continuing with system environment only")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	if dir := filepath.Dir(cfg.Store.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatal().Err(err).Str("dir", dir).Msg("failed to create data directory")
		}
	}

	st, err := store.Open(cfg.Store.Path, logger.With().Str("component", "store").Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open chat store")
	}

	settingsStore, err := settings.Open(st.DB())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open settings store")
	}

	// The key saved through the settings surface wins over the environment.
	credentials := func(ctx context.Context) string {
		if key := settingsStore.OpenAIKey(ctx); key != "" {
			return key
		}
		return cfg.AI.APIKey
	}

	var manager *session.Manager
	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, cfg.AI, credentials, logger.With().Str("component", "ai").Logger())
		if err != nil {
			logger.Warn().Err(err).Msg("failed to initialize AI service, continuing without chat generation")
		} else {
			systemPrompt := cfg.AI.SystemPrompt
			if systemPrompt == "" {
				systemPrompt = ai.DefaultSystemPrompt
			}
			manager = session.NewManager(aiService, st, session.CredentialSource(credentials), session.Config{
				SystemPrompt:  systemPrompt,
				HistoryWindow: cfg.AI.HistoryWindow,
			}, logger.With().Str("component", "session").Logger())
			logger.Info().Str("provider", cfg.AI.Provider).Str("model", cfg.AI.Model).Msg("AI service initialized")
		}
	} else {
		logger.Warn().Msg("model provider not configured, chat generation disabled")
	}

	router := handler.NewRouter(st, settingsStore, manager, logger.With().Str("component", "http").Logger())

	startServer(ctx, logger, cfg.Server, router)
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if parsed, err := zerolog.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

func startServer(ctx context.Context, logger zerolog.Logger, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", serverCfg.Addr).Msg("chatpad backend listening")
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
