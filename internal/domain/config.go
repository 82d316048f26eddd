package domain

// Config holds the complete FraudGuard configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Tier determines which backends are used
	Tier Tier `json:"tier" yaml:"tier"`

	// Scoring engine
	Model ModelConfig `json:"model" yaml:"model"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"eventBus"`
	Worker     WorkerConfig     `json:"worker" yaml:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"readTimeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"writeTimeout"` // seconds

	// AllowedOrigins limits CORS to the listed origins. Empty allows any.
	AllowedOrigins []string `json:"allowedOrigins" yaml:"allowedOrigins"`
}

// ModelConfig holds the scoring engine lifecycle and hyperparameters.
type ModelConfig struct {
	// ArtifactPath is where the trained artifact is persisted and restored from.
	ArtifactPath string `json:"artifactPath" yaml:"artifactPath"`

	// DatasetPath is the labeled CSV used by /model/train and scheduled retraining.
	DatasetPath string `json:"datasetPath" yaml:"datasetPath"`

	// RetrainSchedule is a cron spec (with seconds); empty disables retraining.
	RetrainSchedule string `json:"retrainSchedule" yaml:"retrainSchedule"`

	// TrainOnStart trains from DatasetPath when no artifact can be restored.
	TrainOnStart bool `json:"trainOnStart" yaml:"trainOnStart"`

	TestFraction   float64 `json:"testFraction" yaml:"testFraction"`
	Seed           int64   `json:"seed" yaml:"seed"`
	SMOTENeighbors int     `json:"smoteNeighbors" yaml:"smoteNeighbors"`

	// BatchConcurrency bounds parallel scoring inside one batch.
	BatchConcurrency int `json:"batchConcurrency" yaml:"batchConcurrency"`

	Classifier ClassifierConfig `json:"classifier" yaml:"classifier"`
	Anomaly    AnomalyConfig    `json:"anomaly" yaml:"anomaly"`
}

// ClassifierConfig holds gradient boosting hyperparameters.
type ClassifierConfig struct {
	NEstimators    int     `json:"nEstimators" yaml:"nEstimators"`
	MaxDepth       int     `json:"maxDepth" yaml:"maxDepth"`
	LearningRate   float64 `json:"learningRate" yaml:"learningRate"`
	Subsample      float64 `json:"subsample" yaml:"subsample"`
	Lambda         float64 `json:"lambda" yaml:"lambda"`
	MinChildWeight float64 `json:"minChildWeight" yaml:"minChildWeight"`
	MaxBins        int     `json:"maxBins" yaml:"maxBins"`
}

// AnomalyConfig holds isolation forest hyperparameters.
type AnomalyConfig struct {
	NEstimators   int     `json:"nEstimators" yaml:"nEstimators"`
	MaxSamples    int     `json:"maxSamples" yaml:"maxSamples"`
	Contamination float64 `json:"contamination" yaml:"contamination"`

	// Steepness of the logistic squash applied to the decision value.
	Steepness float64 `json:"steepness" yaml:"steepness"`
}

// WorkerConfig holds async worker settings.
type WorkerConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	TenantIDs []string `json:"tenantIds" yaml:"tenantIds"`

	// Group is the consumer group shared by all replicas scoring ingested
	// transactions. Empty means DefaultWorkerGroup.
	Group string `json:"group" yaml:"group"`
}

// DefaultWorkerGroup is the consumer group used when none is configured.
const DefaultWorkerGroup = "fraudguard-scorers"

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName" yaml:"serviceName"`
	Endpoint    string `json:"endpoint" yaml:"endpoint"` // OTLP gRPC collector, host:port
	Insecure    bool   `json:"insecure" yaml:"insecure"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-process LRU
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultModelConfig returns the production hyperparameter set.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		ArtifactPath:     "./models/fraud_detector.art",
		DatasetPath:      "./data/transactions.csv",
		TestFraction:     0.2,
		Seed:             42,
		SMOTENeighbors:   5,
		BatchConcurrency: 8,
		Classifier: ClassifierConfig{
			NEstimators:    100,
			MaxDepth:       6,
			LearningRate:   0.1,
			Subsample:      1.0,
			Lambda:         1.0,
			MinChildWeight: 1.0,
			MaxBins:        64,
		},
		Anomaly: AnomalyConfig{
			NEstimators:   100,
			MaxSamples:    256,
			Contamination: 0.02,
			Steepness:     20,
		},
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  30,
			WriteTimeout: 120,
		},
		Tier:  TierCommunity,
		Model: DefaultModelConfig(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./fraudguard.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300, // 5 minutes
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "fraudguard",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "fraudguard",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	cfg.Tracing.Endpoint = "localhost:4317"
	cfg.Tracing.Insecure = true
	return cfg
}
