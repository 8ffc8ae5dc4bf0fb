// Package config loads the process configuration once at cold start. The
// resulting Config is passed explicitly to every component; nothing reads
// the environment after Load returns.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config captures the full runtime configuration.
type Config struct {
	App      AppConfig
	Pipeline PipelineConfig
	Retry    RetryConfig
	Storage  StorageConfig
	Kafka    KafkaConfig
	Tracing  TracingConfig
}

// AppConfig holds the environment label, log settings and the optional
// SSM override prefix.
type AppConfig struct {
	Environment string `env:"LICORICE_ENV" envDefault:"dev"`
	LogLevel    string `env:"LICORICE_LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat   string `env:"LICORICE_LOG_FORMAT" envDefault:"json" validate:"oneof=json console"`
	// SSMPrefix, when set, makes the bootstrap read the target bucket and
	// table name from SSM Parameter Store (<prefix>/target-bucket,
	// <prefix>/table) instead of the variables below.
	SSMPrefix string `env:"LICORICE_SSM_PREFIX"`
}

// PipelineConfig holds the destination bucket, catalog table and the
// rendition limits.
type PipelineConfig struct {
	TargetBucket      string        `env:"LICORICE_S3_TARGET_BUCKET_NAME" validate:"required"`
	TableName         string        `env:"LICORICE_DYNAMODB_TABLE_NAME" validate:"required"`
	MaxDimension      int           `env:"LICORICE_MAX_DIMENSION" envDefault:"512" validate:"min=1,max=16384"`
	MaxMegapixels     int           `env:"LICORICE_MAX_MEGAPIXELS" envDefault:"100" validate:"min=1,max=1000"`
	JPEGQuality       int           `env:"LICORICE_JPEG_QUALITY" envDefault:"85" validate:"min=1,max=100"`
	InvocationTimeout time.Duration `env:"LICORICE_INVOCATION_TIMEOUT" envDefault:"45s" validate:"gt=0"`
	Tagging           string        `env:"LICORICE_OBJECT_TAGGING" envDefault:"Project=licorice"`
}

// RetryConfig bounds retries of transient store errors.
type RetryConfig struct {
	MaxTries        uint          `env:"LICORICE_RETRY_MAX_TRIES" envDefault:"3" validate:"min=1,max=10"`
	InitialInterval time.Duration `env:"LICORICE_RETRY_INITIAL_INTERVAL" envDefault:"200ms"`
	MaxInterval     time.Duration `env:"LICORICE_RETRY_MAX_INTERVAL" envDefault:"2s"`
}

// StorageConfig selects the object store backend. Endpoint and keys are
// only read for MinIO, or for S3 against a custom endpoint.
type StorageConfig struct {
	Provider  string `env:"STORAGE_PROVIDER" envDefault:"s3" validate:"oneof=s3 minio"`
	Endpoint  string `env:"STORAGE_ENDPOINT" validate:"required_if=Provider minio"`
	Region    string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	AccessKey string `env:"STORAGE_ACCESS_KEY"`
	SecretKey string `env:"STORAGE_SECRET_KEY"`
	UseSSL    bool   `env:"STORAGE_USE_SSL" envDefault:"false"`
}

// KafkaConfig configures the worker's notification consumer.
type KafkaConfig struct {
	Brokers     []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	Topic       string   `env:"KAFKA_TOPIC" envDefault:"licorice.uploads"`
	GroupID     string   `env:"KAFKA_GROUP_ID" envDefault:"licorice-worker"`
	Concurrency int      `env:"KAFKA_CONCURRENCY" envDefault:"4" validate:"min=1,max=64"`
}

// TracingConfig configures OTLP span export. An empty Endpoint disables it.
type TracingConfig struct {
	Endpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure    bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0" validate:"min=0,max=1"`
	ServiceName string  `env:"OTEL_SERVICE_NAME" envDefault:"licorice"`
}

// Load parses environment variables into Config without validating it.
// Call Validate once SSM overrides (if any) have been applied.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
