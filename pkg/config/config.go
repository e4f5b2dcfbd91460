package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ErrMetricMismatch rejects any vector metric other than COSINE. The retrieval
// thresholds are calibrated for cosine scores in [0,1] and silently break under
// any other distance.
var ErrMetricMismatch = errors.New("collections must use the COSINE metric")

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Milvus    MilvusConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Pipeline  PipelineConfig
	Analytics AnalyticsConfig
	Ingestion IngestionConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type MilvusConfig struct {
	Endpoint  string
	APIKey    string
	VectorDim int
	Metric    string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
}

type PipelineConfig struct {
	ConfidenceThreshold float64
	StrongBestScore     float64
	StrictThreshold     float64
	LenientThreshold    float64
}

type AnalyticsConfig struct {
	HealthTTLMinutes  int
	InsightTTLHours   int
	AssumedConfidence float64
	GapWindowDays     int
	MaxGapFetch       int
	MaxPromptQueries  int
}

type IngestionConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

type RateLimitConfig struct {
	MaxRequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/botblocks")

	viper.SetEnvPrefix("BOTBLOCKS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if !strings.EqualFold(config.Milvus.Metric, "COSINE") {
		return nil, fmt.Errorf("unsupported milvus metric %q: %w", config.Milvus.Metric, ErrMetricMismatch)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("sqlite.path", "./data/botblocks.db")

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.vectorDim", 1536)
	viper.SetDefault("milvus.metric", "COSINE")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.temperature", 0.3)
	viper.SetDefault("llm.maxTokens", 1024)
	viper.SetDefault("llm.timeoutSec", 30)

	viper.SetDefault("pipeline.confidenceThreshold", 0.7)
	viper.SetDefault("pipeline.strongBestScore", 0.50)
	viper.SetDefault("pipeline.strictThreshold", 0.35)
	viper.SetDefault("pipeline.lenientThreshold", 0.30)

	viper.SetDefault("analytics.healthTTLMinutes", 10)
	viper.SetDefault("analytics.insightTTLHours", 24)
	viper.SetDefault("analytics.assumedConfidence", 0.95)
	viper.SetDefault("analytics.gapWindowDays", 30)
	viper.SetDefault("analytics.maxGapFetch", 50)
	viper.SetDefault("analytics.maxPromptQueries", 30)

	viper.SetDefault("ingestion.chunkSize", 1200)
	viper.SetDefault("ingestion.chunkOverlap", 250)

	viper.SetDefault("ratelimit.maxRequestsPerMinute", 60)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
