package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config holds all runtime configuration for the sync engine. Values come
// from the environment with defaults suitable for local development.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"inventory-sync-service"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	ServerAddr      string        `env:"SERVER_ADDR" envDefault:":8086"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	MongoURI      string `env:"MONGODB_URI" envDefault:"mongodb://localhost:27017" validate:"required"`
	MongoDatabase string `env:"MONGODB_DATABASE" envDefault:"inventory_sync" validate:"required"`

	KafkaBrokers       []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" validate:"min=1"`
	KafkaConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"inventory-sync-group"`

	PlanningLedgerURL  string `env:"PLANNING_LEDGER_URL" envDefault:"http://localhost:8081" validate:"required,url"`
	WarehouseLedgerURL string `env:"WAREHOUSE_LEDGER_URL" envDefault:"http://localhost:8082" validate:"required,url"`
	LedgerTimeout      time.Duration `env:"LEDGER_TIMEOUT" envDefault:"5s"`

	// Applier settings
	WorkerCount          int           `env:"SYNC_WORKER_COUNT" envDefault:"4" validate:"min=1"`
	PartitionCount       int           `env:"SYNC_PARTITION_COUNT" envDefault:"16" validate:"min=1"`
	MaxAttempts          int           `env:"SYNC_MAX_ATTEMPTS" envDefault:"5" validate:"min=1"`
	BackoffBase          time.Duration `env:"SYNC_BACKOFF_BASE" envDefault:"2s"`
	BackoffCap           time.Duration `env:"SYNC_BACKOFF_CAP" envDefault:"5m"`
	LeaseTimeout         time.Duration `env:"SYNC_LEASE_TIMEOUT" envDefault:"30s"`
	PollInterval         time.Duration `env:"SYNC_POLL_INTERVAL" envDefault:"500ms"`
	MappingRetryInterval time.Duration `env:"SYNC_MAPPING_RETRY_INTERVAL" envDefault:"1m"`

	// Snapshot settings
	SnapshotFreshness time.Duration `env:"SNAPSHOT_FRESHNESS_WINDOW" envDefault:"30s"`

	// Reconciliation settings
	ReconInterval       time.Duration `env:"RECON_INTERVAL" envDefault:"1h"`
	ReconChunkSize      int           `env:"RECON_CHUNK_SIZE" envDefault:"200" validate:"min=1"`
	// ReconMinorThreshold has no default on purpose. A zero threshold puts
	// every nonzero delta in the major band, so nothing is auto-corrected
	// until an operator chooses a value.
	ReconMinorThreshold float64       `env:"RECON_MINOR_THRESHOLD" validate:"gte=0,lte=1"`
	ReconAutoCorrect    bool          `env:"RECON_AUTO_CORRECT" envDefault:"true"`

	// Observability
	OTLPEndpoint   string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	TracingEnabled bool   `env:"TRACING_ENABLED" envDefault:"false"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.WorkerCount > cfg.PartitionCount {
		// Extra workers would own no partitions and spin idle.
		cfg.WorkerCount = cfg.PartitionCount
	}

	return cfg, nil
}
