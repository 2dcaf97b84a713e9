package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/janikdotzel/healthcare-agent/internal/agent"
	"github.com/janikdotzel/healthcare-agent/internal/fitbit"
	"github.com/janikdotzel/healthcare-agent/internal/ingest"
	"github.com/janikdotzel/healthcare-agent/internal/rag"
	"github.com/janikdotzel/healthcare-agent/internal/server"
	"github.com/janikdotzel/healthcare-agent/pkg/config"
	"github.com/janikdotzel/healthcare-agent/pkg/embeddings"
	"github.com/janikdotzel/healthcare-agent/pkg/ledger"
	"github.com/janikdotzel/healthcare-agent/pkg/observability"
	"github.com/janikdotzel/healthcare-agent/pkg/projection"
	"github.com/janikdotzel/healthcare-agent/pkg/vectorstore"
)

// Version is set via ldflags.
var Version = "dev"

var configFile = flag.String("config", os.Getenv("CONFIG_FILE"), "Configuration file (YAML)")

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "healthagent:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	log.Info().Str("version", Version).Msg("starting healthagent")

	observability.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis backs the conversation ledger and the sensor view.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis at %s: %w", cfg.Redis.Addr, err)
	}
	defer redisClient.Close()

	conversations := ledger.New(ledger.NewRedisStoreFromClient(redisClient, ""), log)
	defer conversations.Close()

	sessions := projection.New(log)
	go sessions.Run(ctx, conversations.Subscribe())

	records, err := buildVectorStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer records.Close()

	embedder, err := embeddings.NewOpenAIService(embeddings.OpenAIConfig{
		APIKey: cfg.OpenAIKey,
		Model:  cfg.EmbeddingModel,
	})
	if err != nil {
		return err
	}

	retriever := rag.New(records, embedder, log)
	indexer := ingest.NewIndexer(records, embedder, log)
	sensors := ingest.NewSensorStore(redisClient, log)

	var fitbitAPI fitbit.API
	if cfg.Fitbit.AccessToken != "" {
		fitbitAPI = fitbit.NewClient(fitbit.Config{
			BaseURL:     cfg.Fitbit.BaseURL,
			AccessToken: cfg.Fitbit.AccessToken,
		}, log)
	} else {
		log.Warn().Msg("no fitbit access token, fitness tools disabled")
	}

	streamer := agent.NewOpenAIStreamer(openai.NewClient(cfg.OpenAIKey))
	ag := agent.New(streamer, conversations, retriever, fitbitAPI, sensors, agent.Config{
		Model:         cfg.Model,
		MaxToolRounds: cfg.MaxToolRounds,
	}, log)

	health := observability.NewHealthChecker(3 * time.Second)
	health.Register("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})

	srv := server.New(server.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, ag, sessions, indexer, sensors, health, log)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}

	log.Info().Msg("healthagent stopped")
	return nil
}

func buildVectorStore(ctx context.Context, cfg *config.Config) (vectorstore.VectorStore, error) {
	switch cfg.VectorProvider {
	case "firestore":
		return vectorstore.NewFirestoreStore(ctx, vectorstore.FirestoreConfig{
			ProjectID:       cfg.Firestore.ProjectID,
			Collection:      cfg.Firestore.Collection,
			CredentialsFile: cfg.Firestore.Credentials,
		})
	default:
		return vectorstore.NewMemoryStore(), nil
	}
}
