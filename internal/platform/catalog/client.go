package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ferrebot/ferrebot-backend/internal/domain"
	"github.com/ferrebot/ferrebot-backend/internal/pkg/httpx"
	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
	"github.com/ferrebot/ferrebot-backend/internal/utils"
)

// Item is one catalog entity as the storefront reports it.
type Item struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	Title      string         `json:"title"`
	Body       string         `json:"body"`
	Attributes map[string]any `json:"attributes"`
	Active     bool           `json:"active"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Page is one slice of a cursor walk over the catalog.
type Page struct {
	Items      []Item `json:"items"`
	NextCursor string `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}

// Order is the storefront's order status payload.
type Order struct {
	Number      string    `json:"number"`
	Status      string    `json:"status"`
	PlacedAt    time.Time `json:"placed_at"`
	Carrier     string    `json:"carrier,omitempty"`
	TrackingURL string    `json:"tracking_url,omitempty"`
	EtaDays     int       `json:"eta_days,omitempty"`
}

// Client talks to the storefront catalog and order APIs.
type Client interface {
	// ListSince walks catalog changes after cursor. An empty cursor
	// starts from the beginning.
	ListSince(ctx context.Context, cursor string, limit int) (*Page, error)
	Get(ctx context.Context, id string) (*Item, error)
	// ResolveOrder looks up an order by number and the buyer's email.
	// Both are required; a mismatch is indistinguishable from absence.
	ResolveOrder(ctx context.Context, orderNumber, email string) (*Order, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
	sem        *semaphore.Weighted
	timeout    time.Duration
	maxRetries int
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(utils.GetEnv("CATALOG_BASE_URL", "", nil)), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("missing CATALOG_BASE_URL")
	}
	maxInFlight := int64(utils.GetEnvAsInt("CATALOG_MAX_IN_FLIGHT", 8, nil))
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &client{
		log:        log.With("service", "CatalogClient"),
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(utils.GetEnv("CATALOG_API_KEY", "", nil)),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		sem:        semaphore.NewWeighted(maxInFlight),
		timeout:    utils.GetEnvAsDuration("CATALOG_TIMEOUT", 15*time.Second, nil),
		maxRetries: utils.GetEnvAsInt("CATALOG_MAX_RETRIES", 3, nil),
	}, nil
}

type catalogHTTPError struct {
	StatusCode int
	Body       string
}

func (e *catalogHTTPError) Error() string {
	return fmt.Sprintf("catalog http %d: %s", e.StatusCode, e.Body)
}

func (e *catalogHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// do serializes access through the in-flight semaphore so bulk
// reconciles cannot starve the storefront.
func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	backoff := 500 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("catalog decode: %w", uErr)
			}
			return nil
		}

		var httpErr *catalogHTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return domain.ErrNotFound
		}
		if !httpx.IsRetryableError(err) {
			return err
		}
		lastErr = err
		if attempt == c.maxRetries {
			break
		}

		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("Catalog request retrying",
			"path", path,
			"attempt", attempt+1,
			"sleep", sleepFor.String(),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepFor):
		}
		backoff *= 2
	}
	return fmt.Errorf("%w: %w", domain.ErrUpstream, lastErr)
}

func (c *client) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
		reader = &buf
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &catalogHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *client) ListSince(ctx context.Context, cursor string, limit int) (*Page, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", limit))
	if strings.TrimSpace(cursor) != "" {
		q.Set("cursor", strings.TrimSpace(cursor))
	}
	var page Page
	if err := c.do(ctx, http.MethodGet, "/v1/catalog/changes?"+q.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *client) Get(ctx context.Context, id string) (*Item, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: empty catalog id", domain.ErrInvariant)
	}
	var item Item
	if err := c.do(ctx, http.MethodGet, "/v1/catalog/items/"+url.PathEscape(id), nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *client) ResolveOrder(ctx context.Context, orderNumber, email string) (*Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	email = strings.ToLower(strings.TrimSpace(email))
	if orderNumber == "" || email == "" {
		return nil, fmt.Errorf("%w: order lookup requires order number and email", domain.ErrInvariant)
	}
	payload := map[string]string{
		"order_number": orderNumber,
		"email":        email,
	}
	var order Order
	if err := c.do(ctx, http.MethodPost, "/v1/orders/resolve", payload, &order); err != nil {
		return nil, err
	}
	return &order, nil
}
