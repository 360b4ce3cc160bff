package kafka

import (
	"context"
	"time"

	"github.com/wms-platform/inventory-sync-service/pkg/cloudevents"
	"github.com/wms-platform/inventory-sync-service/pkg/logging"
	"github.com/wms-platform/inventory-sync-service/pkg/metrics"
	"github.com/wms-platform/inventory-sync-service/pkg/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// addCloudEventAttributes adds extension attributes to a span
func addCloudEventAttributes(span trace.Span, event *cloudevents.WMSCloudEvent) {
	if event.CorrelationID != "" {
		span.SetAttributes(attribute.String("wms.correlation_id", event.CorrelationID))
	}
	if event.RunID != "" {
		span.SetAttributes(attribute.String("wms.run_id", event.RunID))
	}
}

// InstrumentedProducer wraps a Producer with metrics and tracing
type InstrumentedProducer struct {
	producer *Producer
	metrics  *metrics.Metrics
	logger   *logging.Logger
	tracer   trace.Tracer
}

// NewInstrumentedProducer creates a new instrumented producer
func NewInstrumentedProducer(producer *Producer, m *metrics.Metrics, logger *logging.Logger) *InstrumentedProducer {
	return &InstrumentedProducer{
		producer: producer,
		metrics:  m,
		logger:   logger,
		tracer:   otel.Tracer("kafka-producer"),
	}
}

// PublishEvent publishes a CloudEvent with metrics and tracing
func (p *InstrumentedProducer) PublishEvent(ctx context.Context, topic string, event *cloudevents.WMSCloudEvent) error {
	start := time.Now()

	ctx, span := p.tracer.Start(ctx, "kafka.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("kafka"),
			semconv.MessagingDestinationNameKey.String(topic),
			semconv.MessagingOperationKey.String("publish"),
			attribute.String("messaging.kafka.event_type", event.Type),
			attribute.String("messaging.message_id", event.ID),
		),
	)
	defer span.End()

	addCloudEventAttributes(span, event)

	// CloudEvents distributed tracing extension. The attributes travel as
	// ce-traceparent / ce-tracestate headers and the consumer side restores
	// them into the context.
	carrier := tracing.MapCarrier{}
	tracing.InjectTraceContext(ctx, carrier)
	if tp, ok := carrier["traceparent"]; ok {
		event.SetExtension("traceparent", tp)
		if ts, ok := carrier["tracestate"]; ok {
			event.SetExtension("tracestate", ts)
		}
		if event.CorrelationID == "" {
			event.CorrelationID = event.ID
		}
	}

	err := p.producer.PublishEvent(ctx, topic, event)
	duration := time.Since(start)

	success := err == nil
	if p.metrics != nil {
		p.metrics.RecordKafkaPublish(topic, event.Type, success, duration)
	}

	if p.logger != nil {
		p.logger.KafkaPublish(ctx, topic, event.Type, success, duration)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int64("messaging.duration_ms", duration.Milliseconds()))
	}

	return err
}

// PublishBatch publishes multiple events with metrics and tracing
func (p *InstrumentedProducer) PublishBatch(ctx context.Context, topic string, events []*cloudevents.WMSCloudEvent) error {
	if len(events) == 0 {
		return nil
	}

	start := time.Now()

	ctx, span := p.tracer.Start(ctx, "kafka.publish.batch",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("kafka"),
			semconv.MessagingDestinationNameKey.String(topic),
			semconv.MessagingOperationKey.String("publish"),
			attribute.Int("messaging.batch_size", len(events)),
		),
	)
	defer span.End()

	err := p.producer.PublishBatch(ctx, topic, events)
	duration := time.Since(start)

	success := err == nil
	if p.metrics != nil {
		for _, event := range events {
			p.metrics.RecordKafkaPublish(topic, event.Type, success, duration/time.Duration(len(events)))
		}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int64("messaging.duration_ms", duration.Milliseconds()))
	}

	return err
}

// Close closes the underlying producer
func (p *InstrumentedProducer) Close() error {
	return p.producer.Close()
}

// InstrumentedConsumer wraps a Consumer with metrics and tracing
type InstrumentedConsumer struct {
	consumer *Consumer
	metrics  *metrics.Metrics
	logger   *logging.Logger
	tracer   trace.Tracer
}

// NewInstrumentedConsumer creates a new instrumented consumer
func NewInstrumentedConsumer(consumer *Consumer, m *metrics.Metrics, logger *logging.Logger) *InstrumentedConsumer {
	ic := &InstrumentedConsumer{
		consumer: consumer,
		metrics:  m,
		logger:   logger,
		tracer:   otel.Tracer("kafka-consumer"),
	}
	consumer.lagReporter = ic.SetConsumerLag
	return ic
}

// Subscribe subscribes to a topic with instrumented handler
func (c *InstrumentedConsumer) Subscribe(topic string, eventType string, handler EventHandler) {
	wrappedHandler := c.instrumentHandler(topic, eventType, handler)
	c.consumer.Subscribe(topic, eventType, wrappedHandler)
}

// SubscribeAll subscribes to all event types with instrumented handler
func (c *InstrumentedConsumer) SubscribeAll(topic string, handler EventHandler) {
	wrappedHandler := c.instrumentHandler(topic, "*", handler)
	c.consumer.SubscribeAll(topic, wrappedHandler)
}

// instrumentHandler wraps an event handler with metrics and tracing
func (c *InstrumentedConsumer) instrumentHandler(topic, eventType string, handler EventHandler) EventHandler {
	return func(ctx context.Context, event *cloudevents.WMSCloudEvent) error {
		start := time.Now()

		if tp, ok := event.GetExtension("traceparent"); ok {
			if parent, isString := tp.(string); isString {
				carrier := tracing.MapCarrier{"traceparent": parent}
				if ts, ok := event.GetExtension("tracestate"); ok {
					if state, isString := ts.(string); isString {
						carrier["tracestate"] = state
					}
				}
				ctx = tracing.ExtractTraceContext(ctx, carrier)
			}
		}

		ctx, span := c.tracer.Start(ctx, "kafka.consume",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				semconv.MessagingSystemKey.String("kafka"),
				semconv.MessagingDestinationNameKey.String(topic),
				semconv.MessagingOperationKey.String("receive"),
				attribute.String("messaging.kafka.event_type", event.Type),
				attribute.String("messaging.message_id", event.ID),
				attribute.String("messaging.kafka.consumer_group", c.consumer.config.ConsumerGroup),
			),
		)
		defer span.End()

		addCloudEventAttributes(span, event)

		err := handler(ctx, event)
		duration := time.Since(start)

		success := err == nil
		if c.metrics != nil {
			c.metrics.RecordKafkaConsume(topic, event.Type, success)
		}

		if c.logger != nil {
			c.logger.KafkaConsume(ctx, topic, event.Type, 0, 0) // partition/offset not available here
		}

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
			span.SetAttributes(attribute.Int64("messaging.processing_duration_ms", duration.Milliseconds()))
		}

		return err
	}
}

// Start starts the instrumented consumer
func (c *InstrumentedConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// Close closes the underlying consumer
func (c *InstrumentedConsumer) Close() error {
	return c.consumer.Close()
}

// SetConsumerLag updates the consumer lag metric
func (c *InstrumentedConsumer) SetConsumerLag(topic string, partition int, lag int64) {
	if c.metrics != nil {
		c.metrics.SetKafkaConsumerLag(topic, partition, lag)
	}
}
