package agent

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// DefaultRetryMax is the number of retries after the first request, so a
// post makes at most three attempts, matching the Python source's
// aiohttp_retry.ExponentialRetry(attempts=3).
const DefaultRetryMax = 2

// HTTPRemoteClient is the RemoteClient used in production: a
// hashicorp/go-retryablehttp client with HTTP Basic auth and raise-for-status
// semantics.
type HTTPRemoteClient struct {
	client *retryablehttp.Client
	token  string
}

// NewHTTPRemoteClient requires a non-empty token; otherwise it fails as a
// configuration error.
func NewHTTPRemoteClient(token string, logger *logrus.Entry) (*HTTPRemoteClient, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: token must not be empty", ErrConfiguration)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = DefaultRetryMax
	rc.Logger = newRetryableHTTPLogAdapter(logger)

	return &HTTPRemoteClient{client: rc, token: token}, nil
}

// Post builds the envelope request with Basic auth and JSON content type,
// and treats any non-2xx final response as a recoverable transport error.
func (c *HTTPRemoteClient) Post(ctx context.Context, url string, body []byte) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.token, "")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRecoverableTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: collector responded %s", ErrRecoverableTransport, resp.Status)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *HTTPRemoteClient) Close() error {
	c.client.HTTPClient.CloseIdleConnections()
	return nil
}

// retryableHTTPLogAdapter lets retryablehttp log its retry attempts through
// the agent's own structured logger instead of the standard library logger
// it defaults to.
type retryableHTTPLogAdapter struct {
	entry *logrus.Entry
}

func newRetryableHTTPLogAdapter(entry *logrus.Entry) *retryableHTTPLogAdapter {
	return &retryableHTTPLogAdapter{entry: entry}
}

func (a *retryableHTTPLogAdapter) fields(keysAndValues []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if k, ok := keysAndValues[i].(string); ok {
			f[k] = keysAndValues[i+1]
		}
	}
	return f
}

func (a *retryableHTTPLogAdapter) Error(msg string, kv ...interface{}) {
	a.entry.WithFields(a.fields(kv)).Error(msg)
}

func (a *retryableHTTPLogAdapter) Info(msg string, kv ...interface{}) {
	a.entry.WithFields(a.fields(kv)).Info(msg)
}

func (a *retryableHTTPLogAdapter) Debug(msg string, kv ...interface{}) {
	a.entry.WithFields(a.fields(kv)).Debug(msg)
}

func (a *retryableHTTPLogAdapter) Warn(msg string, kv ...interface{}) {
	a.entry.WithFields(a.fields(kv)).Warn(msg)
}
