package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"ragchat/internal/api"
	"ragchat/internal/config"
	"ragchat/internal/core"
	"ragchat/internal/logging"
	"ragchat/internal/ratelimit"
	"ragchat/internal/store"
	"ragchat/internal/utils"
)

func main() {
	// Command line flag for dumping an archived chat
	exportChat := flag.String("export-chat", "", "Print the archived messages of a chat as JSON lines and exit")
	flag.Parse()

	if err := run(*exportChat); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

// run wires the service and blocks until a shutdown signal or a listener
// failure. Deferred cleanup always runs before it returns.
func run(exportChat string) error {
	if err := config.LoadConfig(); err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	cfg := config.AppConfig
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	var archiver *store.SQLiteArchiver
	if cfg.DatabaseURL != "" {
		var err error
		archiver, err = store.NewSQLiteArchiver(cfg.DatabaseURL, 0)
		if err != nil {
			return fmt.Errorf("initialize archive: %w", err)
		}
		defer func() {
			if err := archiver.Close(); err != nil {
				slog.Error("failed to close archive", "err", err)
			}
		}()
	}

	if exportChat != "" {
		if err := runExport(archiver, exportChat); err != nil {
			return fmt.Errorf("export chat %s: %w", exportChat, err)
		}
		return nil
	}

	encoder := utils.NewHashEncoder(cfg.EmbeddingDim)
	storeOpts := []store.Option{}
	if archiver != nil {
		storeOpts = append(storeOpts, store.WithArchiver(archiver))
	}
	messageStore := store.NewMessageStore(encoder, storeOpts...)

	generator, closeGenerator, err := newGenerator(cfg)
	if err != nil {
		return fmt.Errorf("initialize %s generation backend: %w", cfg.LLMProvider, err)
	}
	defer closeGenerator()

	ragService := core.NewRAGService(messageStore, core.PlaceholderInsights{}, cfg.ContextLimit)
	chatService := core.NewChatService(messageStore, ragService, generator, cfg.GenerationTimeout())

	var limiter api.Limiter
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
		fixedWindow, err := ratelimit.NewFixedWindow(redisClient, "", cfg.RateLimitPerMinute, time.Minute)
		if err != nil {
			return fmt.Errorf("initialize rate limiter: %w", err)
		}
		limiter = fixedWindow
	}

	apiHandler := api.NewAPIHandler(chatService, cfg.MaxUploadBytes())
	router := api.NewRouter(apiHandler, limiter, cfg.CORSAllowedOrigins)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.GenerationTimeout() + 30*time.Second, // generation can take a while
		IdleTimeout:  120 * time.Second,
	}

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", serverAddr, "provider", cfg.LLMProvider,
			"embedding_dim", encoder.Dimension(), "archive", archiver != nil, "rate_limit", limiter != nil)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			listenErr <- err
		}
		close(listenErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err, ok := <-listenErr:
		if ok {
			return fmt.Errorf("listen on %s: %w", serverAddr, err)
		}
		return nil
	case <-quit:
	}
	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	slog.Info("server exited")
	return nil
}

func newGenerator(cfg config.Config) (core.Generator, func(), error) {
	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		return core.NewOpenAIGenerator(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.GenerationMaxRetries), func() {}, nil
	case config.ProviderOllama:
		return core.NewOllamaGenerator(cfg.OllamaBaseURL, cfg.OllamaModel), func() {}, nil
	default:
		gemini, err := core.NewGeminiGenerator(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, nil, err
		}
		return gemini, gemini.Close, nil
	}
}

func runExport(archiver *store.SQLiteArchiver, chatID string) error {
	if archiver == nil {
		return fmt.Errorf("DATABASE_URL is not set")
	}
	msgs, err := archiver.ArchivedMessages(chatID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for _, m := range msgs {
		if err := enc.Encode(m); err != nil {
			return err
		}
	}
	slog.Info("export complete", "chat_id", chatID, "messages", len(msgs))
	return nil
}
