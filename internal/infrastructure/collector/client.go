package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/usagebill/backend/internal/domain/billing"
	"github.com/usagebill/backend/internal/infrastructure/resilience"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const maxPageBytes = 64 << 20

// Config holds metering API client settings
type Config struct {
	Backend  string
	Endpoint string
	PageSize int
	Timeout  time.Duration

	// OAuth2 client credentials; requests are unauthenticated when TokenURL is empty
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Page is one page of raw sample records
type Page struct {
	Records    []gjson.Result
	NextCursor string
}

// Last reports whether no page follows
func (p *Page) Last() bool {
	return p.NextCursor == ""
}

// Client reads raw samples from the metering API. Every request passes
// through the backend's limiter; retries are left to the caller.
type Client struct {
	http     *http.Client
	base     *url.URL
	backend  string
	pageSize int
	limiter  *resilience.Limiter
	logger   *zap.Logger
}

// ClientOption is a functional option for configuring the client
type ClientOption func(*Client)

// WithHTTPClient replaces the instrumented, authenticated default client
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithLimiter bounds the request rate and concurrency
func WithLimiter(l *resilience.Limiter) ClientOption {
	return func(cl *Client) {
		cl.limiter = l
	}
}

// WithLogger sets the logger for the client
func WithLogger(l *zap.Logger) ClientOption {
	return func(cl *Client) {
		cl.logger = l
	}
}

// NewClient creates a metering API client
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.Endpoint, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid collector endpoint %q", cfg.Endpoint)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := &Client{
		base:     base,
		backend:  cfg.Backend,
		pageSize: cfg.PageSize,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = newHTTPClient(cfg)
	}
	if c.limiter == nil {
		c.limiter = resilience.NewLimiter(cfg.Backend, resilience.LimitConfig{})
	}
	return c, nil
}

func newHTTPClient(cfg Config) *http.Client {
	instrumented := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   cfg.Timeout,
	}
	if cfg.TokenURL == "" {
		return instrumented
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, instrumented)
	client := cc.Client(ctx)
	client.Timeout = cfg.Timeout
	return client
}

// Backend returns the metering backend id
func (c *Client) Backend() string {
	return c.backend
}

// FetchSamples reads one page of a tenant's samples in the time range,
// starting after cursor. An empty cursor starts at the first page.
func (c *Client) FetchSamples(ctx context.Context, tenantID string, tr billing.TimeRange, cursor string) (*Page, error) {
	q := url.Values{}
	q.Set("project_id", tenantID)
	q.Set("start", tr.Start.UTC().Format(time.RFC3339))
	q.Set("end", tr.End.UTC().Format(time.RFC3339))
	q.Set("limit", strconv.Itoa(c.pageSize))
	if cursor != "" {
		q.Set("marker", cursor)
	}

	body, err := c.get(ctx, "/v1/samples", q, tenantID)
	if err != nil {
		return nil, err
	}
	samples := body.Get("samples")
	if !samples.IsArray() {
		return nil, billing.NewTransientError("collect", errors.New("response has no samples array"))
	}
	return &Page{
		Records:    samples.Array(),
		NextCursor: body.Get("next_marker").Str,
	}, nil
}

// ListTenants returns the ids of every enabled project known to the metering API
func (c *Client) ListTenants(ctx context.Context) ([]string, error) {
	var tenants []string
	cursor := ""
	for {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(c.pageSize))
		if cursor != "" {
			q.Set("marker", cursor)
		}
		body, err := c.get(ctx, "/v1/projects", q, "")
		if err != nil {
			return nil, err
		}
		for _, p := range body.Get("projects").Array() {
			if enabled := p.Get("enabled"); enabled.Exists() && !enabled.Bool() {
				continue
			}
			if id := p.Get("id").Str; id != "" {
				tenants = append(tenants, id)
			}
		}
		next := body.Get("next_marker").Str
		if next == "" {
			return tenants, nil
		}
		if next == cursor {
			return nil, billing.NewValidationError("list_tenants", "project listing cursor did not advance")
		}
		cursor = next
	}
}

func (c *Client) get(ctx context.Context, path string, q url.Values, tenantID string) (gjson.Result, error) {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = q.Encode()

	var body []byte
	err := c.limiter.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return billing.NewValidationError("collect", "build request: %v", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return billing.NewTransientError("collect", err)
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
		if err != nil {
			return billing.NewTransientError("collect", fmt.Errorf("read response: %w", err))
		}
		return classifyStatus(resp.StatusCode, tenantID, body)
	})
	if err != nil {
		c.logger.Debug("Metering request failed",
			zap.String("backend", c.backend),
			zap.String("path", path),
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, billing.NewTransientError("collect", errors.New("response is not valid JSON"))
	}
	return gjson.ParseBytes(body), nil
}

// classifyStatus maps HTTP failures onto the pipeline error taxonomy:
// throttling and server errors are transient, other client errors are not
func classifyStatus(status int, tenantID string, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return billing.NewTransientError("collect", fmt.Errorf("metering API returned %d", status))
	case status == http.StatusNotFound && tenantID != "":
		return billing.NewValidationError("collect", "unknown tenant %s", tenantID)
	}
	msg := gjson.GetBytes(body, "error.message").Str
	if msg == "" {
		msg = gjson.GetBytes(body, "description").Str
	}
	return billing.NewValidationError("collect", "metering API returned %d %s", status, msg)
}
