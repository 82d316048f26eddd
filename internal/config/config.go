// Package config assembles the runtime configuration from the tier defaults,
// an optional YAML file, a .env file and FRAUDGUARD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// CronParser accepts six-field specs with a leading seconds field.
var CronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Load builds the configuration. path may be empty; a missing file is not an
// error. Values are applied in order: tier defaults, YAML file, environment.
func Load(path string) (*domain.Config, error) {
	// Load .env if present (ignore error if missing)
	_ = godotenv.Load()

	cfg := domain.DefaultConfig()
	if strings.EqualFold(os.Getenv("FRAUDGUARD_TIER"), string(domain.TierPro)) {
		cfg = domain.ProConfig()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *domain.Config) error {
	var errs []error

	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	setString("FRAUDGUARD_HOST", &cfg.Server.Host)
	setInt("FRAUDGUARD_PORT", &cfg.Server.Port)
	if v := os.Getenv("FRAUDGUARD_CORS_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	setString("FRAUDGUARD_DB_DRIVER", &cfg.Repository.Driver)
	setString("FRAUDGUARD_SQLITE_PATH", &cfg.Repository.SQLitePath)
	setString("FRAUDGUARD_DATABASE_URL", &cfg.Repository.PostgresURL)
	setString("FRAUDGUARD_POSTGRES_HOST", &cfg.Repository.PostgresHost)
	setInt("FRAUDGUARD_POSTGRES_PORT", &cfg.Repository.PostgresPort)
	setString("FRAUDGUARD_POSTGRES_USER", &cfg.Repository.PostgresUser)
	setString("FRAUDGUARD_POSTGRES_PASSWORD", &cfg.Repository.PostgresPassword)
	setString("FRAUDGUARD_POSTGRES_DB", &cfg.Repository.PostgresDB)
	setString("FRAUDGUARD_POSTGRES_SSLMODE", &cfg.Repository.PostgresSSLMode)

	setString("FRAUDGUARD_CACHE_TYPE", &cfg.Cache.Type)
	setString("FRAUDGUARD_REDIS_ADDR", &cfg.Cache.RedisAddr)
	setString("FRAUDGUARD_REDIS_PASSWORD", &cfg.Cache.RedisPassword)

	setString("FRAUDGUARD_BUS_TYPE", &cfg.EventBus.Type)
	setString("FRAUDGUARD_NATS_URL", &cfg.EventBus.NATSUrl)
	setString("FRAUDGUARD_NATS_TOKEN", &cfg.EventBus.NATSToken)

	setString("FRAUDGUARD_ARTIFACT_PATH", &cfg.Model.ArtifactPath)
	setString("FRAUDGUARD_DATASET_PATH", &cfg.Model.DatasetPath)
	setString("FRAUDGUARD_RETRAIN_SCHEDULE", &cfg.Model.RetrainSchedule)
	setBool("FRAUDGUARD_TRAIN_ON_START", &cfg.Model.TrainOnStart)

	setBool("FRAUDGUARD_ASYNC_WORKER", &cfg.Worker.Enabled)
	setString("FRAUDGUARD_WORKER_GROUP", &cfg.Worker.Group)
	if v := os.Getenv("FRAUDGUARD_TENANTS"); v != "" {
		cfg.Worker.TenantIDs = splitList(v)
	}

	setString("FRAUDGUARD_LOG_LEVEL", &cfg.Logging.Level)
	setString("FRAUDGUARD_LOG_FORMAT", &cfg.Logging.Format)
	if os.Getenv("FRAUDGUARD_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}

	setBool("FRAUDGUARD_TRACING", &cfg.Tracing.Enabled)
	setString("FRAUDGUARD_OTLP_ENDPOINT", &cfg.Tracing.Endpoint)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration for values the services cannot run with.
func Validate(cfg *domain.Config) error {
	var errs []error

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", cfg.Server.Port))
	}

	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("repository.driver %q must be sqlite or postgres", cfg.Repository.Driver))
	}
	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.type %q must be memory or redis", cfg.Cache.Type))
	}
	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		errs = append(errs, fmt.Errorf("eventBus.type %q must be channel or nats", cfg.EventBus.Type))
	}

	// tenants and the worker group become NATS subject and queue tokens
	for _, id := range cfg.Worker.TenantIDs {
		if strings.ContainsAny(id, ".*> \t") {
			errs = append(errs, fmt.Errorf("worker.tenantIds: %q is not a single subject token", id))
		}
	}
	if strings.ContainsAny(cfg.Worker.Group, ".*> \t") {
		errs = append(errs, fmt.Errorf("worker.group %q is not a single subject token", cfg.Worker.Group))
	}

	m := cfg.Model
	if m.TestFraction <= 0 || m.TestFraction >= 1 {
		errs = append(errs, fmt.Errorf("model.testFraction %v must be in (0,1)", m.TestFraction))
	}
	if m.Classifier.NEstimators <= 0 || m.Classifier.MaxDepth <= 0 || m.Classifier.LearningRate <= 0 {
		errs = append(errs, errors.New("model.classifier needs positive nEstimators, maxDepth and learningRate"))
	}
	if m.Anomaly.NEstimators <= 0 {
		errs = append(errs, errors.New("model.anomaly.nEstimators must be positive"))
	}
	if m.Anomaly.Contamination <= 0 || m.Anomaly.Contamination >= 0.5 {
		errs = append(errs, fmt.Errorf("model.anomaly.contamination %v must be in (0,0.5)", m.Anomaly.Contamination))
	}
	if m.RetrainSchedule != "" {
		if _, err := CronParser.Parse(m.RetrainSchedule); err != nil {
			errs = append(errs, fmt.Errorf("model.retrainSchedule: %w", err))
		}
	}
	if m.ArtifactPath == "" {
		errs = append(errs, errors.New("model.artifactPath is required"))
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, errors.New("tracing.endpoint is required when tracing is enabled"))
	}

	return errors.Join(errs...)
}
