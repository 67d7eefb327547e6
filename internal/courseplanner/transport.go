package courseplanner

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Transport issues a GET against the catalogue API and returns the raw
// response. Non-200 statuses are not errors at this level.
type Transport interface {
	Get(ctx context.Context, baseURL, params string) (status int, body []byte, err error)
}

type httpTransport struct {
	client *retryablehttp.Client
}

// NewHTTPTransport returns a Transport retrying up to retryMax times on
// connection errors and 5xx responses. Zero disables retries.
func NewHTTPTransport(timeout time.Duration, retryMax int) Transport {
	c := retryablehttp.NewClient()
	c.RetryMax = retryMax
	c.HTTPClient.Timeout = timeout
	c.Logger = nil
	// hand the last response back instead of a "giving up" error so the
	// caller sees the real status
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return &httpTransport{client: c}
}

func (t *httpTransport) Get(ctx context.Context, baseURL, params string) (int, []byte, error) {
	u := baseURL
	if params != "" {
		u += "?" + params
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}
