package fda

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wellmind/medtrack/pkg/circuitbreaker"
)

// ClientConfig holds configuration for the HTTP-backed validator.
type ClientConfig struct {
	// Endpoint is the base URL of the verification service.
	Endpoint string
	// Timeout bounds each lookup.
	Timeout time.Duration
}

// DefaultClientConfig returns defaults for a local verification service.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Endpoint: "http://localhost:8090",
		Timeout:  5 * time.Second,
	}
}

// Client calls a remote verification service. All requests go through a
// circuit breaker so a flapping upstream cannot stall add operations.
type Client struct {
	http    *http.Client
	cfg     ClientConfig
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewClient creates an HTTP validator guarded by a circuit breaker.
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Endpoint == "" {
		cfg = DefaultClientConfig()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultClientConfig().Timeout
	}

	breaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("fda-validator"), logger)
	if err != nil {
		return nil, fmt.Errorf("create breaker: %w", err)
	}

	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		breaker: breaker,
		logger:  logger,
		tracer:  otel.Tracer("fda-client"),
	}, nil
}

// ValidateMedication looks the name up against the verification service.
func (c *Client) ValidateMedication(ctx context.Context, name string) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "fda_validate",
		trace.WithAttributes(attribute.String("medication", name)))
	defer span.End()

	var result Result
	err := c.getJSON(ctx, "/drugs/validate", url.Values{"name": {name}}, &result)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &result, nil
}

// CheckDrugInteractions asks the service for interactions between the
// medication and the caller's other medications.
func (c *Client) CheckDrugInteractions(ctx context.Context, name string, others []string) ([]Interaction, error) {
	ctx, span := c.tracer.Start(ctx, "fda_interactions",
		trace.WithAttributes(
			attribute.String("medication", name),
			attribute.Int("others", len(others)),
		))
	defer span.End()

	q := url.Values{"name": {name}}
	for _, o := range others {
		q.Add("with", o)
	}

	var out []Interaction
	if err := c.getJSON(ctx, "/drugs/interactions", q, &out); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return out, nil
}

// NDCCode resolves the NDC code for a medication and optional dosage.
func (c *Client) NDCCode(ctx context.Context, name, dosage string) (string, error) {
	q := url.Values{"name": {name}}
	if dosage != "" {
		q.Set("dosage", dosage)
	}

	var resp struct {
		NDC string `json:"ndc"`
	}
	if err := c.getJSON(ctx, "/drugs/ndc", q, &resp); err != nil {
		return "", err
	}
	return resp.NDC, nil
}

// getJSON issues a GET through the breaker and decodes the body into v.
func (c *Client) getJSON(ctx context.Context, path string, q url.Values, v interface{}) error {
	_, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+path+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("verification service returned %d", resp.StatusCode)
		}
		return nil, json.NewDecoder(resp.Body).Decode(v)
	})
	if err != nil {
		c.logger.Warn("fda lookup failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("fda lookup %s: %w", path, err)
	}
	return nil
}
