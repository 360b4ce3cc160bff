package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/wms-platform/inventory-sync-service/internal/domain"
	"github.com/wms-platform/inventory-sync-service/pkg/cloudevents"
	"github.com/wms-platform/inventory-sync-service/pkg/logging"
	"github.com/wms-platform/inventory-sync-service/pkg/metrics"
	"github.com/wms-platform/inventory-sync-service/pkg/resilience"
)

// Client talks to one ledger's inventory HTTP API. It implements both
// domain.LedgerReader and domain.LedgerWriter and translates transport-level
// outcomes into the queue's failure taxonomy: timeouts and 5xx responses are
// transient, 4xx responses are permanent.
type Client struct {
	name    string
	baseURL string
	http    *http.Client
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// Config holds ledger client configuration.
type Config struct {
	Name    string
	BaseURL string
	Timeout time.Duration
}

// NewClient creates a ledger client with circuit breaker protection.
func NewClient(cfg Config, m *metrics.Metrics, logger *logging.Logger) *Client {
	cbConfig := resilience.DefaultCircuitBreakerConfig("ledger-" + cfg.Name)
	if m != nil {
		cbConfig.Metrics = m
	}

	return &Client{
		name:    cfg.Name,
		baseURL: cfg.BaseURL,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
		breaker: resilience.NewCircuitBreaker(cbConfig, logger.Logger),
		metrics: m,
		logger:  logger.WithFields(map[string]any{"ledger": cfg.Name}),
	}
}

type quantityResponse struct {
	MaterialID string    `json:"materialId"`
	LocationID string    `json:"locationId"`
	OnHand     int64     `json:"onHand"`
	Allocated  int64     `json:"allocated"`
	Available  int64     `json:"available"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type listQuantitiesResponse struct {
	Records       []quantityResponse `json:"records"`
	NextPageToken string             `json:"nextPageToken"`
}

// GetQuantity reads the ledger's current view of one (material, location)
// pair.
func (c *Client) GetQuantity(ctx context.Context, materialID, locationID string) (*domain.QuantityRecord, error) {
	path := fmt.Sprintf("/api/v1/inventory/%s/locations/%s",
		url.PathEscape(materialID), url.PathEscape(locationID))

	body, err := c.do(ctx, http.MethodGet, path, nil, "", "get_quantity")
	if err != nil {
		return nil, err
	}

	var resp quantityResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, domain.Permanent(fmt.Errorf("malformed quantity response from %s: %w", c.name, err))
	}

	return &domain.QuantityRecord{
		MaterialID: resp.MaterialID,
		LocationID: resp.LocationID,
		OnHand:     resp.OnHand,
		Allocated:  resp.Allocated,
		Available:  resp.Available,
		UpdatedAt:  resp.UpdatedAt,
	}, nil
}

// ListQuantities enumerates the ledger's (material, location) pairs page by
// page for reconciliation.
func (c *Client) ListQuantities(ctx context.Context, scope domain.ReconciliationScope, pageToken string, pageSize int) ([]*domain.QuantityRecord, string, error) {
	query := url.Values{}
	query.Set("pageSize", strconv.Itoa(pageSize))
	if pageToken != "" {
		query.Set("pageToken", pageToken)
	}
	for _, id := range scope.MaterialIDs {
		query.Add("materialId", id)
	}
	for _, id := range scope.AggregateLocationIDs {
		query.Add("locationId", id)
	}

	body, err := c.do(ctx, http.MethodGet, "/api/v1/inventory?"+query.Encode(), nil, "", "list_quantities")
	if err != nil {
		return nil, "", err
	}

	var resp listQuantitiesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", domain.Permanent(fmt.Errorf("malformed listing response from %s: %w", c.name, err))
	}

	records := make([]*domain.QuantityRecord, 0, len(resp.Records))
	for _, r := range resp.Records {
		records = append(records, &domain.QuantityRecord{
			MaterialID: r.MaterialID,
			LocationID: r.LocationID,
			OnHand:     r.OnHand,
			Allocated:  r.Allocated,
			Available:  r.Available,
			UpdatedAt:  r.UpdatedAt,
		})
	}
	return records, resp.NextPageToken, nil
}

// ApplyAdjustment posts an idempotent quantity change. The idempotency key
// travels as a request header; a ledger that has already seen the key
// acknowledges without reapplying, so a 409 response counts as success.
func (c *Client) ApplyAdjustment(ctx context.Context, adj *domain.LedgerAdjustment) error {
	payload, err := json.Marshal(adj)
	if err != nil {
		return domain.Permanent(fmt.Errorf("failed to encode adjustment: %w", err))
	}

	_, err = c.do(ctx, http.MethodPost, "/api/v1/inventory/adjustments", payload, adj.IdempotencyKey, "apply_adjustment")
	return err
}

// do executes one request through the circuit breaker and maps the response
// onto the failure taxonomy.
func (c *Client) do(ctx context.Context, method, path string, payload []byte, idempotencyKey, operation string) ([]byte, error) {
	start := time.Now()

	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return nil, domain.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if idempotencyKey != "" {
			req.Header.Set(cloudevents.HeaderIdempotencyKey, idempotencyKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			// Network errors and timeouts are expected to clear on retry.
			return nil, domain.Transient(fmt.Errorf("%s request to %s failed: %w", operation, c.name, err))
		}
		defer resp.Body.Close()

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if readErr != nil {
			return nil, domain.Transient(fmt.Errorf("failed to read %s response from %s: %w", operation, c.name, readErr))
		}

		return body, c.classifyStatus(resp.StatusCode, body)
	})

	duration := time.Since(start)
	success := err == nil
	if c.metrics != nil {
		c.metrics.RecordLedgerRequest(c.name, operation, success, duration)
	}

	if err != nil {
		// Breaker-open errors are transient: the ledger should recover.
		if !domain.IsTransient(err) && !domain.IsPermanent(err) {
			err = domain.Transient(err)
		}
		return nil, err
	}

	body, _ := result.([]byte)
	return body, nil
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusConflict:
		// Idempotency replay, the ledger already holds this update.
		return nil
	case status == http.StatusNotFound:
		return domain.Permanent(fmt.Errorf("%s: %w", c.name, domain.ErrUnknownMaterial))
	case status == http.StatusTooManyRequests:
		return domain.Transient(fmt.Errorf("%s throttled the request", c.name))
	case status >= 400 && status < 500:
		var er errorResponse
		if json.Unmarshal(body, &er) == nil && er.Message != "" {
			return domain.Permanent(fmt.Errorf("%s rejected the request: %s", c.name, er.Message))
		}
		return domain.Permanent(fmt.Errorf("%s rejected the request with status %d", c.name, status))
	default:
		return domain.Transient(fmt.Errorf("%s returned status %d", c.name, status))
	}
}

var _ domain.LedgerReader = (*Client)(nil)
var _ domain.LedgerWriter = (*Client)(nil)

// Pair bundles the two ledger clients by origin so callers can resolve the
// target of a sync direction.
type Pair struct {
	Planning  *Client
	Warehouse *Client
}

// Target returns the ledger a direction writes to.
func (p *Pair) Target(direction domain.SyncDirection) (*Client, error) {
	switch direction {
	case domain.DirectionPlanningToWarehouse:
		return p.Warehouse, nil
	case domain.DirectionWarehouseToPlanning:
		return p.Planning, nil
	default:
		return nil, errors.New("unknown sync direction")
	}
}
