package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// RESTClient implements Server over the record server's HTTP API.
type RESTClient struct {
	http *resty.Client
}

var _ Server = (*RESTClient)(nil)

// ClientConfig configures the REST client.
type ClientConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration // default 30s
}

// NewRESTClient builds a Server talking to the given base URL.
func NewRESTClient(cfg ClientConfig) *RESTClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)
	if cfg.Username != "" {
		c.SetBasicAuth(cfg.Username, cfg.Password)
	}
	return &RESTClient{http: c}
}

func (c *RESTClient) LocationDelta(ctx context.Context, since string) (LocationDelta, error) {
	var out LocationDelta
	return out, c.pull(ctx, "/v1/locations", since, &out)
}

func (c *RESTClient) PatientDelta(ctx context.Context, since string) (PatientDelta, error) {
	var out PatientDelta
	return out, c.pull(ctx, "/v1/patients", since, &out)
}

func (c *RESTClient) OrderDelta(ctx context.Context, since string) (OrderDelta, error) {
	var out OrderDelta
	return out, c.pull(ctx, "/v1/orders", since, &out)
}

func (c *RESTClient) EncounterDelta(ctx context.Context, since string) (EncounterDelta, error) {
	var out EncounterDelta
	return out, c.pull(ctx, "/v1/encounters", since, &out)
}

func (c *RESTClient) pull(ctx context.Context, path, since string, out any) error {
	req := c.http.R().SetContext(ctx).SetResult(out)
	if since != "" {
		req.SetQueryParam("since", since)
	}
	resp, err := req.Get(path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("GET %s: server returned %s", path, resp.Status())
	}
	return nil
}
