package shopify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/metrics"
)

const DefaultAPIVersion = "2024-10"

// Client talks to one shop's Admin GraphQL endpoint. The same type serves
// both the production (read) and staging (write) side of a sync.
type Client struct {
	shop     string
	token    string
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
	logger   zerolog.Logger
}

type ClientConfig struct {
	Shop        string
	AccessToken string
	APIVersion  string
	// Endpoint overrides the computed admin URL. Tests point it at a local
	// fake server.
	Endpoint   string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	version := cfg.APIVersion
	if version == "" {
		version = DefaultAPIVersion
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s/admin/api/%s/graphql.json", cfg.Shop, version)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		shop:     cfg.Shop,
		token:    cfg.AccessToken,
		endpoint: endpoint,
		http:     httpClient,
		limiter:  rate.NewLimiter(rate.Limit(2), 4),
		logger:   cfg.Logger.With().Str("shop", cfg.Shop).Logger(),
	}
}

// Shop returns the shop domain this client is bound to.
func (c *Client) Shop() string {
	return c.shop
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// ResponseError is one entry of the top-level errors array.
type ResponseError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type costExtensions struct {
	Cost struct {
		RequestedQueryCost float64 `json:"requestedQueryCost"`
		ActualQueryCost    float64 `json:"actualQueryCost"`
		ThrottleStatus     struct {
			MaximumAvailable   float64 `json:"maximumAvailable"`
			CurrentlyAvailable float64 `json:"currentlyAvailable"`
			RestoreRate        float64 `json:"restoreRate"`
		} `json:"throttleStatus"`
	} `json:"cost"`
}

type envelope struct {
	Data       json.RawMessage `json:"data"`
	Errors     []ResponseError `json:"errors"`
	Extensions *costExtensions `json:"extensions"`
}

// PageInfo is the cursor-pagination fragment shared by all list queries.
type PageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

// Query sends one GraphQL document (query or mutation) and decodes the data
// object into out. A throttled call waits out the cost deficit and retries
// once; any remaining top-level errors come back as *GraphQLError.
func (c *Client) Query(ctx context.Context, query string, variables map[string]any, out any) error {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		env, err := c.do(ctx, query, variables)
		if err != nil {
			return err
		}
		if wait, throttled := throttleWait(env); throttled && attempt == 0 {
			metrics.ThrottleWaits.Inc()
			c.logger.Warn().Dur("wait", wait).Msg("graphql call throttled, backing off")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		if len(env.Errors) > 0 {
			return &GraphQLError{Errors: env.Errors}
		}
		if out != nil && len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, out); err != nil {
				return fmt.Errorf("decode graphql response from %s: %w", c.shop, err)
			}
		}
		return nil
	}
}

func (c *Client) do(ctx context.Context, query string, variables map[string]any) (*envelope, error) {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("encode graphql request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s: %w", c.shop, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		return nil, &AuthError{Shop: c.shop, StatusCode: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("unexpected status %d from %s: %s", resp.StatusCode, c.shop, strings.TrimSpace(string(b)))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode graphql envelope from %s: %w", c.shop, err)
	}
	return &env, nil
}

func throttleWait(env *envelope) (time.Duration, bool) {
	throttled := false
	for _, e := range env.Errors {
		if e.Extensions.Code == "THROTTLED" {
			throttled = true
			break
		}
	}
	if !throttled {
		return 0, false
	}
	wait := time.Second
	if ext := env.Extensions; ext != nil && ext.Cost.ThrottleStatus.RestoreRate > 0 {
		deficit := ext.Cost.RequestedQueryCost - ext.Cost.ThrottleStatus.CurrentlyAvailable
		if deficit > 0 {
			wait = time.Duration(deficit / ext.Cost.ThrottleStatus.RestoreRate * float64(time.Second))
		}
	}
	if wait < 500*time.Millisecond {
		wait = 500 * time.Millisecond
	}
	return wait, true
}
