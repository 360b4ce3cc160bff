package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wms-platform/inventory-sync-service/internal/application"
	"github.com/wms-platform/inventory-sync-service/internal/config"
	"github.com/wms-platform/inventory-sync-service/internal/domain"
	"github.com/wms-platform/inventory-sync-service/internal/infrastructure/ledger"
	mongoRepo "github.com/wms-platform/inventory-sync-service/internal/infrastructure/mongodb"
	"github.com/wms-platform/inventory-sync-service/pkg/cloudevents"
	"github.com/wms-platform/inventory-sync-service/pkg/kafka"
	"github.com/wms-platform/inventory-sync-service/pkg/logging"
	"github.com/wms-platform/inventory-sync-service/pkg/metrics"
	"github.com/wms-platform/inventory-sync-service/pkg/mongodb"
	"github.com/wms-platform/inventory-sync-service/pkg/tracing"
)

const serviceName = "inventory-sync-reconciler"

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logConfig := logging.DefaultConfig(serviceName)
	logConfig.Level = logging.LogLevel(cfg.LogLevel)
	logConfig.Environment = cfg.Environment
	logger := logging.New(logConfig)
	logger.SetDefault()

	logger.Info("Starting reconciliation scheduler", "interval", cfg.ReconInterval.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry tracing
	tracingConfig := tracing.DefaultConfig(serviceName)
	tracingConfig.OTLPEndpoint = cfg.OTLPEndpoint
	tracingConfig.Environment = cfg.Environment
	tracingConfig.Enabled = cfg.TracingEnabled

	tracerProvider, err := tracing.Initialize(ctx, tracingConfig)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize tracing")
		// Continue without tracing - don't exit
	} else {
		defer func() {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()
			if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Error("Failed to shutdown tracer")
			}
		}()
	}

	m := metrics.New(metrics.DefaultConfig(serviceName))

	// Initialize MongoDB with instrumentation and circuit breaker
	mongoConfig := mongodb.DefaultConfig()
	mongoConfig.URI = cfg.MongoURI
	mongoConfig.Database = cfg.MongoDatabase

	mongoClient, err := mongodb.NewProductionClient(ctx, mongoConfig, m, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to MongoDB")
		os.Exit(1)
	}
	defer mongoClient.Close(ctx)
	logger.Info("Connected to MongoDB", "database", cfg.MongoDatabase)

	// Initialize Kafka producer for variance and completion events
	kafkaConfig := kafka.DefaultConfig()
	kafkaConfig.Brokers = cfg.KafkaBrokers
	kafkaConfig.ClientID = serviceName

	producer := kafka.NewProductionProducer(kafkaConfig, m, logger)
	defer producer.Close()

	eventFactory := cloudevents.NewEventFactory(cloudevents.SourceSyncEngine)

	queueRepo := mongoRepo.NewSyncQueueRepository(mongoClient)
	mappingRepo := mongoRepo.NewMappingRepository(mongoClient)
	varianceRepo := mongoRepo.NewVarianceRepository(mongoClient)
	runRepo := mongoRepo.NewRunRepository(mongoClient)

	planningLedger := ledger.NewClient(ledger.Config{
		Name:    "planning",
		BaseURL: cfg.PlanningLedgerURL,
		Timeout: cfg.LedgerTimeout,
	}, m, logger)
	warehouseLedger := ledger.NewClient(ledger.Config{
		Name:    "warehouse",
		BaseURL: cfg.WarehouseLedgerURL,
		Timeout: cfg.LedgerTimeout,
	}, m, logger)

	reconService := application.NewReconciliationService(
		application.ReconciliationConfig{
			ChunkSize:      cfg.ReconChunkSize,
			MinorThreshold: cfg.ReconMinorThreshold,
			AutoCorrect:    cfg.ReconAutoCorrect,
			PartitionCount: cfg.PartitionCount,
			MaxAttempts:    cfg.MaxAttempts,
		},
		runRepo, varianceRepo, mappingRepo, queueRepo,
		planningLedger, warehouseLedger,
		producer, eventFactory, m, logger,
	)

	// Run scheduled full-scope passes until interrupted. The first pass
	// starts one interval after boot.
	ticker := time.NewTicker(cfg.ReconInterval)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runOnce(ctx, tracerProvider, reconService, varianceRepo, m, logger)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down reconciliation scheduler...")

	cancel()
	<-done
	logger.Info("Reconciliation scheduler stopped")
}

func runOnce(ctx context.Context, tp *tracing.TracerProvider, service *application.ReconciliationService, variances *mongoRepo.VarianceRepository, m *metrics.Metrics, logger *logging.Logger) {
	if tp != nil {
		var span trace.Span
		ctx, span = tp.StartSpan(ctx, "reconciliation.run")
		defer span.End()
	}

	run, err := service.Execute(ctx, application.StartRunCommand{})
	if err != nil {
		logger.WithError(err).Error("Reconciliation run failed")
		return
	}
	tracing.SpanFromContext(ctx).SetAttributes(
		attribute.String("run.id", run.ID),
		attribute.Int64("run.pairs_checked", int64(run.PairsChecked)),
	)
	logger.Info("Reconciliation run finished",
		"runId", run.ID,
		"status", run.Status,
		"pairsChecked", run.PairsChecked,
	)

	counts, err := variances.CountOutstanding(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to count outstanding variances")
		return
	}
	for _, class := range []domain.Classification{domain.ClassMinor, domain.ClassMajor} {
		m.SetOutstandingVariances(string(class), counts[class])
	}
}
