// Package config loads runtime configuration from environment variables and
// an optional YAML file. Environment variables use the AGENTCORE prefix with
// underscores (e.g. AGENTCORE_MONGO_URI).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type (
	// Config is the root configuration for the agent runtime.
	Config struct {
		App      App      `mapstructure:"app"`
		LLM      LLM      `mapstructure:"llm"`
		Mongo    Mongo    `mapstructure:"mongo"`
		Redis    Redis    `mapstructure:"redis"`
		Qdrant   Qdrant   `mapstructure:"qdrant"`
		RAG      RAG      `mapstructure:"rag"`
		Executor Executor `mapstructure:"executor"`
		Agent    Agent    `mapstructure:"agent"`
		Sync     Sync     `mapstructure:"sync"`
	}

	// App holds identity settings used in outbound headers and telemetry.
	App struct {
		Name    string `mapstructure:"name"`
		Version string `mapstructure:"version"`
	}

	// LLM selects the model provider and per-provider model identifiers.
	LLM struct {
		Provider       string `mapstructure:"provider"` // anthropic, openai or bedrock
		OpenAIAPIKey   string `mapstructure:"openai_api_key"`
		OpenAIModel    string `mapstructure:"openai_model"`
		AnthropicKey   string `mapstructure:"anthropic_api_key"`
		AnthropicModel string `mapstructure:"anthropic_model"`
		BedrockModel   string `mapstructure:"bedrock_model"`
		EmbeddingModel string `mapstructure:"embedding_model"`
		// RequestsPerSecond caps outbound model calls.
		RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	}

	// Mongo configures the document store backing the registry, sync log and
	// conversation memory.
	Mongo struct {
		URI      string        `mapstructure:"uri"`
		Database string        `mapstructure:"database"`
		Timeout  time.Duration `mapstructure:"timeout"`
	}

	// Redis configures the result cache and Pulse stream backing.
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	}

	// Qdrant configures the vector index.
	Qdrant struct {
		Host       string `mapstructure:"host"`
		Port       int    `mapstructure:"port"`
		APIKey     string `mapstructure:"api_key"`
		Collection string `mapstructure:"collection"`
	}

	// RAG configures the two-stage retriever.
	RAG struct {
		InitialTopK int `mapstructure:"initial_top_k"`
		FinalTopK   int `mapstructure:"final_top_k"`
	}

	// Executor configures outbound API execution. Result-cache TTLs are
	// per function, declared on each registry entry.
	Executor struct {
		APIKey         string        `mapstructure:"api_key"`
		RequestTimeout time.Duration `mapstructure:"request_timeout"`
		ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	}

	// Agent configures the ReAct loop.
	Agent struct {
		MaxSteps         int     `mapstructure:"max_steps"`
		QualityThreshold float64 `mapstructure:"quality_threshold"`
	}

	// Sync configures the background CDC processor.
	Sync struct {
		Interval  time.Duration `mapstructure:"interval"`
		BatchSize int           `mapstructure:"batch_size"`
	}
)

// Load reads configuration from the given file path (optional, "" skips the
// file) and the environment, applying defaults for everything unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AGENTCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "agentcore")
	v.SetDefault("app.version", "0.1.0")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.openai_model", "gpt-4o-mini")
	v.SetDefault("llm.anthropic_model", "claude-sonnet-4-20250514")
	v.SetDefault("llm.bedrock_model", "anthropic.claude-3-5-sonnet-20240620-v1:0")
	v.SetDefault("llm.embedding_model", "text-embedding-3-small")
	v.SetDefault("llm.requests_per_second", 5.0)

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "agentcore")
	v.SetDefault("mongo.timeout", 5*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "function_embeddings")

	v.SetDefault("rag.initial_top_k", 20)
	v.SetDefault("rag.final_top_k", 5)

	v.SetDefault("executor.request_timeout", 30*time.Second)
	v.SetDefault("executor.connect_timeout", 10*time.Second)

	v.SetDefault("agent.max_steps", 5)
	v.SetDefault("agent.quality_threshold", 0.75)

	v.SetDefault("sync.interval", 30*time.Second)
	v.SetDefault("sync.batch_size", 10)
}
