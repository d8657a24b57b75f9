// Command agentd wires the full runtime: MongoDB-backed registry and memory,
// the CDC sync processor feeding Qdrant, the hybrid selector, synthesizer and
// executor, and the ReAct controller. Queries are read from stdin; run events
// stream to stderr as they happen.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"goa.design/clue/log"

	"github.com/ioc-platform/agentcore/config"
	rediscache "github.com/ioc-platform/agentcore/features/cache/redis"
	openaiembed "github.com/ioc-platform/agentcore/features/embed/openai"
	anthropicmodel "github.com/ioc-platform/agentcore/features/model/anthropic"
	bedrockmodel "github.com/ioc-platform/agentcore/features/model/bedrock"
	openaimodel "github.com/ioc-platform/agentcore/features/model/openai"
	pulsesink "github.com/ioc-platform/agentcore/features/stream/pulse"
	pulseclient "github.com/ioc-platform/agentcore/features/stream/pulse/clients/pulse"
	qdrantindex "github.com/ioc-platform/agentcore/features/vector/qdrant"
	"github.com/ioc-platform/agentcore/runtime/agent"
	"github.com/ioc-platform/agentcore/runtime/agent/telemetry"
	"github.com/ioc-platform/agentcore/runtime/executor"
	"github.com/ioc-platform/agentcore/runtime/memory"
	memorymongo "github.com/ioc-platform/agentcore/runtime/memory/store/mongo"
	"github.com/ioc-platform/agentcore/runtime/model"
	"github.com/ioc-platform/agentcore/runtime/model/middleware"
	"github.com/ioc-platform/agentcore/runtime/rag"
	"github.com/ioc-platform/agentcore/runtime/registry"
	registrymongo "github.com/ioc-platform/agentcore/runtime/registry/store/mongo"
	"github.com/ioc-platform/agentcore/runtime/selector"
	syncpkg "github.com/ioc-platform/agentcore/runtime/sync"
	syncmongo "github.com/ioc-platform/agentcore/runtime/sync/store/mongo"
	"github.com/ioc-platform/agentcore/runtime/synthesizer"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config file (optional)")
		userID     = flag.String("user", "local", "user ID for the session")
	)
	flag.Parse()

	ctx := log.Context(context.Background(), log.WithFormat(log.FormatText))
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf(ctx, err, "load configuration")
	}

	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()

	// Mongo backs the registry, the sync log and conversation memory.
	mongoClient, err := mongodriver.Connect(ctx, mongooptions.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		log.Fatalf(ctx, err, "connect mongodb")
	}
	defer func() { _ = mongoClient.Disconnect(context.Background()) }()

	registryStore, err := registrymongo.New(registrymongo.Options{
		Client:   mongoClient,
		Database: cfg.Mongo.Database,
		Timeout:  cfg.Mongo.Timeout,
	})
	if err != nil {
		log.Fatalf(ctx, err, "registry store")
	}
	syncStore, err := syncmongo.New(syncmongo.Options{
		Client:   mongoClient,
		Database: cfg.Mongo.Database,
		Timeout:  cfg.Mongo.Timeout,
	})
	if err != nil {
		log.Fatalf(ctx, err, "sync store")
	}
	memoryStore, err := memorymongo.New(memorymongo.Options{
		Client:   mongoClient,
		Database: cfg.Mongo.Database,
		Timeout:  cfg.Mongo.Timeout,
	})
	if err != nil {
		log.Fatalf(ctx, err, "memory store")
	}

	registrySvc, err := registry.New(registry.Options{
		Store:   registryStore,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		log.Fatalf(ctx, err, "registry service")
	}

	// Model and embedder providers. The rate limiter adapts to provider
	// throttling so a burst of runs cannot exhaust the quota.
	provider, err := newModelClient(ctx, cfg)
	if err != nil {
		log.Fatalf(ctx, err, "model client")
	}
	modelClient, err := middleware.NewRateLimited(provider, middleware.RateLimitOptions{
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
	})
	if err != nil {
		log.Fatalf(ctx, err, "model rate limiter")
	}
	embedder, err := openaiembed.NewFromAPIKey(cfg.LLM.OpenAIAPIKey, openaiembed.Options{
		Model: cfg.LLM.EmbeddingModel,
	})
	if err != nil {
		log.Fatalf(ctx, err, "embedder")
	}

	// Vector index and two-stage retriever.
	index, err := qdrantindex.NewFromConfig(ctx, cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.APIKey,
		qdrantindex.Options{
			Collection: cfg.Qdrant.Collection,
			Dimension:  embedder.Dimension(),
		})
	if err != nil {
		log.Fatalf(ctx, err, "qdrant index")
	}
	retriever, err := rag.NewRetriever(rag.RetrieverOptions{
		Embedder:    embedder,
		Index:       index,
		InitialTopK: cfg.RAG.InitialTopK,
		FinalTopK:   cfg.RAG.FinalTopK,
		Logger:      logger,
	})
	if err != nil {
		log.Fatalf(ctx, err, "retriever")
	}

	// CDC processor keeps the index consistent with the registry.
	processor, err := syncpkg.NewProcessor(syncpkg.ProcessorOptions{
		Store:     syncStore,
		Indexer:   retriever,
		BatchSize: cfg.Sync.BatchSize,
		Interval:  cfg.Sync.Interval,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		log.Fatalf(ctx, err, "sync processor")
	}
	go processor.Run(ctx)

	// Redis backs the executor result cache and the Pulse event stream.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = redisClient.Close() }()

	resultCache, err := rediscache.New(redisClient)
	if err != nil {
		log.Fatalf(ctx, err, "result cache")
	}
	pc, err := pulseclient.New(pulseclient.Options{Redis: redisClient})
	if err != nil {
		log.Fatalf(ctx, err, "pulse client")
	}
	sink, err := pulsesink.NewSink(pulsesink.Options{Client: pc})
	if err != nil {
		log.Fatalf(ctx, err, "pulse sink")
	}

	exec, err := executor.New(executor.Options{
		Usage:          registrySvc,
		Cache:          resultCache,
		APIKey:         cfg.Executor.APIKey,
		UserAgent:      fmt.Sprintf("%s/%s", cfg.App.Name, cfg.App.Version),
		RequestTimeout: cfg.Executor.RequestTimeout,
		ConnectTimeout: cfg.Executor.ConnectTimeout,
		Logger:         logger,
		Metrics:        metrics,
	})
	if err != nil {
		log.Fatalf(ctx, err, "executor")
	}

	sel, err := selector.New(selector.Options{
		Retriever: retriever,
		Model:     modelClient,
		TopK:      cfg.RAG.FinalTopK,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		log.Fatalf(ctx, err, "selector")
	}
	synth, err := synthesizer.New(synthesizer.Options{Model: modelClient, Logger: logger})
	if err != nil {
		log.Fatalf(ctx, err, "synthesizer")
	}
	builder, err := memory.NewContextBuilder(memory.ContextBuilderOptions{
		Store:  memoryStore,
		Logger: logger,
	})
	if err != nil {
		log.Fatalf(ctx, err, "context builder")
	}

	runner, err := agent.New(agent.Options{
		Model:            modelClient,
		Selector:         sel,
		Synthesizer:      synth,
		Executor:         exec,
		Functions:        registrySvc,
		Context:          builder,
		Sink:             sink,
		MaxSteps:         cfg.Agent.MaxSteps,
		QualityThreshold: cfg.Agent.QualityThreshold,
		Logger:           logger,
		Metrics:          metrics,
	})
	if err != nil {
		log.Fatalf(ctx, err, "agent")
	}

	conv, err := memoryStore.CreateConversation(ctx, *userID, "agentd session")
	if err != nil {
		log.Fatalf(ctx, err, "create conversation")
	}
	log.Infof(ctx, "agentd ready (conversation %s), type a query", conv.ID)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		query := scanner.Text()
		if query == "" {
			continue
		}
		state, err := runner.Run(ctx, *userID, conv.ID, query)
		if err != nil {
			log.Errorf(ctx, err, "run")
			continue
		}
		out, _ := json.MarshalIndent(map[string]any{
			"status":  state.Status,
			"quality": state.Quality,
			"steps":   state.Steps,
			"answer":  state.FinalAnswer,
		}, "", "  ")
		fmt.Println(string(out))
		if ctx.Err() != nil {
			break
		}
	}
}

// newModelClient builds the configured provider. Bedrock picks up ambient AWS
// credentials via the default credential chain.
func newModelClient(ctx context.Context, cfg *config.Config) (model.Client, error) {
	switch cfg.LLM.Provider {
	case "anthropic":
		return anthropicmodel.NewFromAPIKey(cfg.LLM.AnthropicKey, cfg.LLM.AnthropicModel)
	case "openai":
		return openaimodel.NewFromAPIKey(cfg.LLM.OpenAIAPIKey, cfg.LLM.OpenAIModel)
	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return bedrockmodel.New(bedrockruntime.NewFromConfig(awsCfg), bedrockmodel.Options{
			DefaultModel: cfg.LLM.BedrockModel,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}
