package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// Config holds Kafka configuration
type Config struct {
	Brokers       []string
	ConsumerGroup string
	ClientID      string

	// Producer settings
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int // 0: no ack, 1: leader ack, -1: all replicas ack

	// Consumer settings
	MinBytes      int
	MaxBytes      int
	MaxWait       time.Duration
	CommitTimeout time.Duration

	// TLS settings
	TLSEnabled bool
	TLSCert    string
	TLSKey     string
	TLSCA      string

	// SASL settings
	SASLEnabled   bool
	SASLMechanism string
	SASLUsername  string
	SASLPassword  string
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Brokers:       []string{"localhost:9092"},
		ConsumerGroup: "inventory-sync-group",
		ClientID:      "inventory-sync-client",

		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: -1, // All replicas

		MinBytes:      1,
		MaxBytes:      10e6, // 10MB
		MaxWait:       500 * time.Millisecond,
		CommitTimeout: 5 * time.Second,

		TLSEnabled:  false,
		SASLEnabled: false,
	}
}

// Topics contains the Kafka topic names the sync engine uses
var Topics = struct {
	// Intake topics published by the two ledgers
	PlanningEvents  string
	WarehouseEvents string

	// Engine's own event topics
	SyncEvents           string
	ReconciliationEvents string
}{
	PlanningEvents:  "wms.planning.inventory.events",
	WarehouseEvents: "wms.warehouse.inventory.events",

	SyncEvents:           "wms.sync.events",
	ReconciliationEvents: "wms.reconciliation.events",
}

// TopicConfig holds configuration for a Kafka topic
type TopicConfig struct {
	Name              string
	Partitions        int
	ReplicationFactor int
	RetentionMs       int64
}

// DefaultTopicConfigs returns default configurations for sync engine topics
func DefaultTopicConfigs() []TopicConfig {
	return []TopicConfig{
		{Name: Topics.PlanningEvents, Partitions: 12, ReplicationFactor: 3, RetentionMs: 7 * 24 * 60 * 60 * 1000},  // 7 days
		{Name: Topics.WarehouseEvents, Partitions: 12, ReplicationFactor: 3, RetentionMs: 7 * 24 * 60 * 60 * 1000}, // 7 days
		{Name: Topics.SyncEvents, Partitions: 6, ReplicationFactor: 3, RetentionMs: 7 * 24 * 60 * 60 * 1000},
		{Name: Topics.ReconciliationEvents, Partitions: 6, ReplicationFactor: 3, RetentionMs: 30 * 24 * 60 * 60 * 1000}, // 30 days for audit
	}
}

// EnsureTopics creates the sync engine topics on the brokers if they do not
// exist. Brokers that manage topics externally return an authorization or
// policy error, which callers treat as non-fatal.
func EnsureTopics(ctx context.Context, brokers []string) error {
	client := &kafka.Client{Addr: kafka.TCP(brokers...)}

	topics := make([]kafka.TopicConfig, 0, 4)
	for _, tc := range DefaultTopicConfigs() {
		topics = append(topics, kafka.TopicConfig{
			Topic:             tc.Name,
			NumPartitions:     tc.Partitions,
			ReplicationFactor: tc.ReplicationFactor,
			ConfigEntries: []kafka.ConfigEntry{
				{ConfigName: "retention.ms", ConfigValue: strconv.FormatInt(tc.RetentionMs, 10)},
			},
		})
	}

	resp, err := client.CreateTopics(ctx, &kafka.CreateTopicsRequest{Topics: topics})
	if err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}
	for name, topicErr := range resp.Errors {
		if topicErr != nil && !errors.Is(topicErr, kafka.TopicAlreadyExists) {
			return fmt.Errorf("failed to create topic %s: %w", name, topicErr)
		}
	}
	return nil
}
