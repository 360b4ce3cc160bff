package cloudevents

// CloudEvents extension attribute names used on the wire and as Kafka
// message headers
const (
	ExtCorrelationID = "wmscorrelationid"
	ExtRunID         = "wmsrunid"
	ExtOrigin        = "wmsorigin"
	ExtMaterialID    = "wmsmaterialid"
)

// HTTP header names for request context
const (
	HeaderCorrelationID  = "X-Correlation-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// WithCorrelation sets the correlation ID and returns the event
func (e *WMSCloudEvent) WithCorrelation(correlationID string) *WMSCloudEvent {
	e.CorrelationID = correlationID
	return e
}

// WithRun sets the reconciliation run ID and returns the event
func (e *WMSCloudEvent) WithRun(runID string) *WMSCloudEvent {
	e.RunID = runID
	return e
}

// SetExtension records an arbitrary extension attribute
func (e *WMSCloudEvent) SetExtension(name string, value interface{}) {
	if e.Extensions == nil {
		e.Extensions = make(map[string]interface{})
	}
	e.Extensions[name] = value
}

// GetExtension reads an extension attribute
func (e *WMSCloudEvent) GetExtension(name string) (interface{}, bool) {
	v, ok := e.Extensions[name]
	return v, ok
}
