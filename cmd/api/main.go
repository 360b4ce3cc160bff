package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wms-platform/inventory-sync-service/internal/application"
	"github.com/wms-platform/inventory-sync-service/internal/config"
	"github.com/wms-platform/inventory-sync-service/internal/infrastructure/ledger"
	mongoRepo "github.com/wms-platform/inventory-sync-service/internal/infrastructure/mongodb"
	"github.com/wms-platform/inventory-sync-service/pkg/cloudevents"
	"github.com/wms-platform/inventory-sync-service/pkg/kafka"
	"github.com/wms-platform/inventory-sync-service/pkg/logging"
	"github.com/wms-platform/inventory-sync-service/pkg/metrics"
	"github.com/wms-platform/inventory-sync-service/pkg/middleware"
	"github.com/wms-platform/inventory-sync-service/pkg/mongodb"
	"github.com/wms-platform/inventory-sync-service/pkg/tracing"
)

const serviceName = "inventory-sync-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Setup enhanced logger
	logConfig := logging.DefaultConfig(serviceName)
	logConfig.Level = logging.LogLevel(cfg.LogLevel)
	logConfig.Environment = cfg.Environment
	logger := logging.New(logConfig)
	logger.SetDefault()

	logger.Info("Starting inventory sync API")

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
	} else if tracerProvider != nil {
		defer func() {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()
			if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Error("Failed to shutdown tracer")
			}
		}()
		logger.Info("Tracing initialized", "endpoint", tracingConfig.OTLPEndpoint)
	}

	// Initialize Prometheus metrics
	m := metrics.New(metrics.DefaultConfig(serviceName))
	logger.Info("Metrics initialized")

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

	// Initialize Kafka producer with instrumentation and circuit breaker
	kafkaConfig := kafka.DefaultConfig()
	kafkaConfig.Brokers = cfg.KafkaBrokers
	kafkaConfig.ConsumerGroup = cfg.KafkaConsumerGroup
	kafkaConfig.ClientID = serviceName

	if err := kafka.EnsureTopics(ctx, cfg.KafkaBrokers); err != nil {
		// Managed clusters often disallow topic creation from clients.
		logger.WithError(err).Warn("Could not ensure Kafka topics")
	}

	producer := kafka.NewProductionProducer(kafkaConfig, m, logger)
	defer producer.Close()
	logger.Info("Kafka producer initialized", "brokers", cfg.KafkaBrokers)

	// Initialize CloudEvents factory
	eventFactory := cloudevents.NewEventFactory(cloudevents.SourceSyncEngine)

	// Initialize repositories
	queueRepo := mongoRepo.NewSyncQueueRepository(mongoClient)
	mappingRepo := mongoRepo.NewMappingRepository(mongoClient)
	varianceRepo := mongoRepo.NewVarianceRepository(mongoClient)
	runRepo := mongoRepo.NewRunRepository(mongoClient)

	// Initialize ledger clients for both sides
	ledgers := &ledger.Pair{
		Planning: ledger.NewClient(ledger.Config{
			Name:    "planning",
			BaseURL: cfg.PlanningLedgerURL,
			Timeout: cfg.LedgerTimeout,
		}, m, logger),
		Warehouse: ledger.NewClient(ledger.Config{
			Name:    "warehouse",
			BaseURL: cfg.WarehouseLedgerURL,
			Timeout: cfg.LedgerTimeout,
		}, m, logger),
	}
	logger.Info("Ledger clients initialized",
		"planning", cfg.PlanningLedgerURL,
		"warehouse", cfg.WarehouseLedgerURL,
	)

	// Initialize application services
	syncService := application.NewSyncService(
		queueRepo, producer, eventFactory, m, logger,
		cfg.PartitionCount, cfg.MaxAttempts,
	)
	adminService := application.NewAdminService(
		queueRepo, mappingRepo, varianceRepo, producer, eventFactory, m, logger,
	)
	snapshotService := application.NewSnapshotService(
		mappingRepo, ledgers.Planning, ledgers.Warehouse, cfg.SnapshotFreshness, logger,
	)
	reconService := application.NewReconciliationService(
		application.ReconciliationConfig{
			ChunkSize:      cfg.ReconChunkSize,
			MinorThreshold: cfg.ReconMinorThreshold,
			AutoCorrect:    cfg.ReconAutoCorrect,
			PartitionCount: cfg.PartitionCount,
			MaxAttempts:    cfg.MaxAttempts,
		},
		runRepo, varianceRepo, mappingRepo, queueRepo,
		ledgers.Planning, ledgers.Warehouse,
		producer, eventFactory, m, logger,
	)

	// Start the delivery workers
	applier := application.NewApplier(
		application.ApplierConfig{
			WorkerCount:          cfg.WorkerCount,
			PartitionCount:       cfg.PartitionCount,
			LeaseTimeout:         cfg.LeaseTimeout,
			PollInterval:         cfg.PollInterval,
			BackoffBase:          cfg.BackoffBase,
			BackoffCap:           cfg.BackoffCap,
			MappingRetryInterval: cfg.MappingRetryInterval,
		},
		queueRepo, mappingRepo,
		ledgers.Planning, ledgers.Warehouse,
		producer, eventFactory, m, logger.WithComponent("applier"),
	)
	go applier.Start(ctx)
	logger.Info("Sync applier started", "workers", cfg.WorkerCount, "partitions", cfg.PartitionCount)

	// Start the Kafka intake from both ledger topics
	consumer := kafka.NewProductionConsumer(kafkaConfig, m, logger)
	defer consumer.Close()

	ingestService := application.NewIngestService(syncService, logger.WithComponent("ingest"))
	ingestService.Register(consumer)
	go func() {
		if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("Kafka consumer stopped")
		}
	}()
	logger.Info("Kafka intake started",
		"topics", []string{kafka.Topics.PlanningEvents, kafka.Topics.WarehouseEvents},
	)

	// Setup Gin router with middleware
	router := gin.New()

	middlewareConfig := middleware.DefaultConfig(serviceName, logger.Logger)
	middleware.Setup(router, middlewareConfig)

	router.Use(middleware.MetricsMiddleware(m))
	router.Use(middleware.SimpleTracingMiddleware(serviceName))

	router.NoRoute(middleware.NoRoute())
	router.NoMethod(middleware.NoMethod())

	// Health check endpoints
	router.GET("/health", middleware.HealthCheck(serviceName))
	router.GET("/ready", middleware.ReadinessCheck(serviceName, func() error {
		return mongoClient.HealthCheck(ctx)
	}))

	// Metrics endpoint
	router.GET("/metrics", middleware.MetricsEndpoint(m))

	api := router.Group("/api/v1")
	{
		sync := api.Group("/sync")
		{
			sync.POST("/events", enqueueEventHandler(syncService, logger))
			sync.GET("/queue/stats", queueStatsHandler(adminService, logger))
			sync.GET("/queue/:entryId", getEntryHandler(adminService, logger))
			sync.GET("/dead-letters", listDeadLettersHandler(adminService, logger))
			sync.POST("/dead-letters/:entryId/requeue", requeueEntryHandler(adminService, logger))
			sync.POST("/dead-letters/:entryId/discard", discardEntryHandler(adminService, logger))
		}

		mappings := api.Group("/mappings")
		{
			mappings.GET("", listMappingsHandler(adminService, logger))
			mappings.PUT("/:aggregateLocationId", saveMappingHandler(adminService, logger))
			mappings.GET("/:aggregateLocationId", getMappingHandler(adminService, logger))
		}

		api.GET("/snapshots/:materialId/:aggregateLocationId", getSnapshotHandler(snapshotService, logger))

		recon := api.Group("/reconciliation")
		{
			recon.POST("/runs", startRunHandler(reconService, logger))
			recon.GET("/runs", listRunsHandler(reconService, logger))
			recon.GET("/runs/:runId", getRunHandler(reconService, logger))
		}

		variances := api.Group("/variances")
		{
			variances.GET("", listVariancesHandler(adminService, logger))
			variances.GET("/:varianceId", getVarianceHandler(adminService, logger))
			variances.POST("/:varianceId/resolve", resolveVarianceHandler(adminService, logger))
		}
	}

	// Start server
	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
		}
	}()
	logger.Info("Server started", "addr", cfg.ServerAddr)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// Stop the applier and consumer after the HTTP surface drains.
	cancel()

	logger.Info("Server stopped")
}

func enqueueEventHandler(service *application.SyncService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var req struct {
			EventID          string `json:"eventId" binding:"required"`
			Origin           string `json:"origin" binding:"required"`
			EventType        string `json:"eventType" binding:"required"`
			MaterialID       string `json:"materialId" binding:"required"`
			Quantity         int64  `json:"quantity"`
			SourceLocation   string `json:"sourceLocation"`
			DestLocation     string `json:"destLocation"`
			LogicalTimestamp int64  `json:"logicalTimestamp"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			responder.RespondBindError(err)
			return
		}

		cmd := application.EnqueueEventCommand{
			EventID:          req.EventID,
			Origin:           req.Origin,
			EventType:        req.EventType,
			MaterialID:       req.MaterialID,
			Quantity:         req.Quantity,
			SourceLocation:   req.SourceLocation,
			DestLocation:     req.DestLocation,
			LogicalTimestamp: req.LogicalTimestamp,
		}

		entry, err := service.EnqueueEvent(c.Request.Context(), cmd)
		if err != nil {
			respond(responder, err)
			return
		}

		c.JSON(http.StatusAccepted, entry)
	}
}

func queueStatsHandler(service *application.AdminService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		stats, err := service.QueueStats(c.Request.Context())
		if err != nil {
			respond(responder, err)
			return
		}

		c.JSON(http.StatusOK, stats)
	}
}

func getEntryHandler(service *application.AdminService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		query := application.GetEntryQuery{EntryID: c.Param("entryId")}

		entry, err := service.GetEntry(c.Request.Context(), query)
		if err != nil {
			respond(responder, err)
			return
		}

		c.JSON(http.StatusOK, entry)
	}
}

func listDeadLettersHandler(service *application.AdminService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

		entries, err := service.ListDeadLetters(c.Request.Context(), application.ListDeadLettersQuery{Limit: limit})
		if err != nil {
			respond(responder, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"entries": entries,
			"count":   len(entries),
		})
	}
}

func requeueEntryHandler(service *application.AdminService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var req struct {
			RequestedBy string `json:"requestedBy"`
		}
		// Body is optional for requeue
		_ = c.ShouldBindJSON(&req)

		cmd := application.RequeueEntryCommand{
			EntryID:     c.Param("entryId"),
			RequestedBy: req.RequestedBy,
		}

		entry, err := service.RequeueEntry(c.Request.Context(), cmd)
		if err != nil {
			respond(responder, err)
			return
		}

		c.JSON(http.StatusOK, entry)
	}
}

func discardEntryHandler(service *application.AdminService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var req struct {
			RequestedBy string `json:"requestedBy"`
		}
		_ = c.ShouldBindJSON(&req)

		cmd := application.DiscardEntryCommand{
			EntryID:     c.Param("entryId"),
			RequestedBy: req.RequestedBy,
		}

		if err := service.DiscardEntry(c.Request.Context(), cmd); err != nil {
			respond(responder, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"entryId": cmd.EntryID,
			"message": "Entry discarded",
		})
	}
}

func saveMappingHandler(service *application.AdminService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var req struct {
			Bins []struct {
				BinLocationID string  `json:"binLocationId" binding:"required"`
				Weight        float64 `json:"weight"`
				Default       bool    `json:"default"`
			} `json:"bins" binding:"required,min=1"`
			Active *bool `json:"active"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			responder.RespondBindError(err)
			return
		}

		bins := make([]application.BinAllocationInput, len(req.Bins))
		for i, bin := range req.Bins {
			bins[i] = application.BinAllocationInput{
				BinLocationID: bin.BinLocationID,
				Weight:        bin.Weight,
				Default:       bin.Default,
			}
		}

		active := true
		if req.Active != nil {
			active = *req.Active
		}

		cmd := application.SaveMappingCommand{
			AggregateLocationID: c.Param("aggregateLocationId"),
			Bins:                bins,
			Active:              active,
		}

		mapping, err := service.SaveMapping(c.Request.Context(), cmd)
		if err != nil {
			respond(responder, err)
			return
		}

		c.JSON(http.StatusOK, mapping)
	}
}

func getMappingHandler(service *application.AdminService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		mapping, err := service.GetMapping(c.Request.Context(), c.Param("aggregateLocationId"))
		if err != nil {
			respond(responder, err)
			return
		}

		c.JSON(http.StatusOK, mapping)
	}
}

func listMappingsHandler(service *application.AdminService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		mappings, err := service.ListMappings(c.Request.Context())
		if err != nil {
			respond(responder, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"mappings": mappings,
			"count":    len(mappings),
		})
	}
}

func getSnapshotHandler(service *application.SnapshotService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		query := application.GetSnapshotQuery{
			MaterialID:          c.Param("materialId"),
			AggregateLocationID: c.Param("aggregateLocationId"),
		}

		// ?refresh=true bypasses the snapshot cache.
		if c.Query("refresh") == "true" {
			service.Invalidate(query.MaterialID, query.AggregateLocationID)
		}

		snapshot, err := service.GetSnapshot(c.Request.Context(), query)
		if err != nil {
			respond(responder, err)
			return
		}

		c.JSON(http.StatusOK, snapshot)
	}
}

func startRunHandler(service *application.ReconciliationService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var req struct {
			MaterialIDs          []string `json:"materialIds"`
			AggregateLocationIDs []string `json:"aggregateLocationIds"`
		}
		// Empty body means a full-scope run
		_ = c.ShouldBindJSON(&req)

		cmd := application.StartRunCommand{
			MaterialIDs:          req.MaterialIDs,
			AggregateLocationIDs: req.AggregateLocationIDs,
		}

		run, err := service.Execute(c.Request.Context(), cmd)
		if err != nil {
			respond(responder, err)
			return
		}

		c.JSON(http.StatusOK, run)
	}
}

func getRunHandler(service *application.ReconciliationService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		run, err := service.GetRun(c.Request.Context(), c.Param("runId"))
		if err != nil {
			respond(responder, err)
			return
		}

		c.JSON(http.StatusOK, run)
	}
}

func listRunsHandler(service *application.ReconciliationService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

		runs, err := service.ListRuns(c.Request.Context(), application.ListRunsQuery{Limit: limit})
		if err != nil {
			respond(responder, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"runs":  runs,
			"count": len(runs),
		})
	}
}

func listVariancesHandler(service *application.AdminService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

		query := application.ListVariancesQuery{
			Classification: c.Query("classification"),
			Limit:          limit,
		}

		variances, err := service.ListVariances(c.Request.Context(), query)
		if err != nil {
			respond(responder, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"variances": variances,
			"count":     len(variances),
		})
	}
}

func getVarianceHandler(service *application.AdminService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		variance, err := service.GetVariance(c.Request.Context(), c.Param("varianceId"))
		if err != nil {
			respond(responder, err)
			return
		}

		c.JSON(http.StatusOK, variance)
	}
}

func resolveVarianceHandler(service *application.AdminService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var req struct {
			Resolution string `json:"resolution" binding:"required"`
			ResolvedBy string `json:"resolvedBy" binding:"required"`
			Note       string `json:"note"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			responder.RespondBindError(err)
			return
		}

		cmd := application.ResolveVarianceCommand{
			VarianceID: c.Param("varianceId"),
			Resolution: req.Resolution,
			ResolvedBy: req.ResolvedBy,
			Note:       req.Note,
		}

		variance, err := service.ResolveVariance(c.Request.Context(), cmd)
		if err != nil {
			respond(responder, err)
			return
		}

		c.JSON(http.StatusOK, variance)
	}
}

func respond(responder *middleware.ErrorResponder, err error) {
	responder.RespondWithError(err)
}
