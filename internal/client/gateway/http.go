package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/souzou-notes/souzou/internal/authx"
	"github.com/souzou-notes/souzou/internal/common"
	"github.com/souzou-notes/souzou/internal/wire"
)

// HTTPGateway talks JSON over HTTP to the sync server. Transient failures
// (network errors, 5xx) are retried with fibonacci backoff inside the
// caller's deadline; anything else is returned as-is.
type HTTPGateway struct {
	baseURL    string
	deviceID   string
	secretKey  []byte
	client     *http.Client
	maxRetries uint64
}

// NewHTTPGateway returns a gateway for the server at baseURL. Requests are
// authenticated with short-lived tokens signed for deviceID using secretKey.
func NewHTTPGateway(baseURL, deviceID string, secretKey []byte, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL:    baseURL,
		deviceID:   deviceID,
		secretKey:  secretKey,
		client:     &http.Client{Timeout: timeout},
		maxRetries: 3,
	}
}

func (g *HTTPGateway) Pull(ctx context.Context, checkpoint int64) (*wire.PullResponse, error) {
	var resp wire.PullResponse
	url := g.baseURL + "/api/sync/pull?since=" + strconv.FormatInt(checkpoint, 10)
	if err := g.do(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (g *HTTPGateway) Push(ctx context.Context, batch []wire.Mutation) ([]wire.Outcome, error) {
	var resp wire.PushResponse
	if err := g.do(ctx, http.MethodPost, g.baseURL+"/api/sync/push", &wire.PushRequest{Mutations: batch}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) != len(batch) {
		return nil, fmt.Errorf("push answered %d outcomes for %d mutations", len(resp.Results), len(batch))
	}
	return resp.Results, nil
}

func (g *HTTPGateway) MediaUploadURL(ctx context.Context) (string, string, error) {
	var resp wire.UploadURLResponse
	if err := g.do(ctx, http.MethodGet, g.baseURL+"/api/media/upload-url", nil, &resp); err != nil {
		return "", "", err
	}
	return resp.Key, resp.URL, nil
}

// do issues one authenticated request, retrying transient failures.
func (g *HTTPGateway) do(ctx context.Context, method, url string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	backoff := retry.WithMaxRetries(g.maxRetries, retry.NewFibonacci(200*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		token, err := authx.GenerateToken(g.deviceID, g.secretKey, time.Minute)
		if err != nil {
			return err
		}
		req.Header.Set(common.AuthHeaderName, "Bearer "+token)

		resp, err := g.client.Do(req)
		if err != nil {
			// Connection loss and timeouts are transient by definition.
			return retry.RetryableError(fmt.Errorf("%w: %v", common.ErrUnavailable, err))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			return json.NewDecoder(resp.Body).Decode(out)
		case resp.StatusCode == http.StatusUnauthorized:
			return common.ErrUnauthorized
		case resp.StatusCode >= 500:
			b, _ := io.ReadAll(resp.Body)
			return retry.RetryableError(fmt.Errorf("%w: %s: %s", common.ErrUnavailable, resp.Status, b))
		default:
			b, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("unexpected status %s: %s", resp.Status, b)
		}
	})
}
