package real

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/shadowcall/errmap"
	"github.com/opd-ai/shadowcall/interfaces"
	"github.com/opd-ai/shadowcall/limits"
	"github.com/sirupsen/logrus"
)

// Sleeper provides an abstraction over time.Sleep for deterministic testing.
type Sleeper interface {
	// Sleep pauses execution for the specified duration.
	Sleep(d time.Duration)
}

// DefaultSleeper implements Sleeper using the standard library time.Sleep.
type DefaultSleeper struct{}

// Sleep pauses execution for the specified duration using time.Sleep.
func (DefaultSleeper) Sleep(d time.Duration) {
	time.Sleep(d)
}

// HTTPControlPlane implements interfaces.IControlPlane over HTTP.
type HTTPControlPlane struct {
	baseURL string
	client  *http.Client
	config  *interfaces.TransportConfig
	sleeper Sleeper
}

// NewHTTPControlPlane creates a control-plane client for config.APIEndpoint.
func NewHTTPControlPlane(config *interfaces.TransportConfig) *HTTPControlPlane {
	logrus.WithFields(logrus.Fields{
		"function": "NewHTTPControlPlane",
		"endpoint": config.APIEndpoint,
		"timeout":  config.NetworkTimeout,
		"retries":  config.RetryAttempts,
	}).Info("Creating HTTP control plane client")

	return &HTTPControlPlane{
		baseURL: strings.TrimRight(config.APIEndpoint, "/"),
		client:  &http.Client{Timeout: config.Timeout()},
		config:  config,
		sleeper: DefaultSleeper{},
	}
}

// SetSleeper sets a custom Sleeper implementation (primarily for testing).
func (c *HTTPControlPlane) SetSleeper(s Sleeper) {
	c.sleeper = s
}

// SetHTTPClient replaces the underlying HTTP client.
func (c *HTTPControlPlane) SetHTTPClient(client *http.Client) {
	c.client = client
}

// IsSimulation implements IControlPlane.IsSimulation
func (c *HTTPControlPlane) IsSimulation() bool {
	return false
}

// Request implements IControlPlane.Request. The returned error is non-nil
// only for transport and protocol failures; a non-zero result code is
// returned in the response for the caller to map.
func (c *HTTPControlPlane) Request(ctx context.Context, req *interfaces.Request) (*interfaces.Response, error) {
	if req == nil || req.Path == "" {
		return nil, errmap.New(errmap.KindInvalidParameter, "request path required")
	}
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	var body []byte
	if req.Body != nil {
		var err error
		if body, err = json.Marshal(req.Body); err != nil {
			return nil, errmap.Wrap(errmap.KindBadJSON, err)
		}
	}

	requestID := uuid.NewString()
	attempts := c.config.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		resp, retryable, err := c.do(ctx, method, req, body, requestID)
		if err == nil {
			logRequestSuccess(req.Path, requestID, resp.Code, attempt+1)
			return resp, nil
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			break
		}
		logRequestRetry(req.Path, requestID, attempt+1, err)
		c.waitBeforeRetry(attempt, attempts)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "HTTPControlPlane.Request",
		"path":       req.Path,
		"request_id": requestID,
		"error":      lastErr.Error(),
	}).Error("Control plane request failed")
	return nil, lastErr
}

func (c *HTTPControlPlane) do(ctx context.Context, method string, req *interfaces.Request, body []byte, requestID string) (*interfaces.Response, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+req.Path, bytes.NewReader(body))
	if err != nil {
		return nil, false, errmap.Wrap(errmap.KindMalformed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-Id", requestID)
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, true, errmap.Wrap(errmap.KindTimeout, err)
		}
		return nil, true, errmap.Wrap(errmap.KindConnectFailed, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, limits.MaxProcessingBuffer+1))
	if err != nil {
		return nil, true, errmap.Wrap(errmap.KindConnectFailed, err)
	}
	if len(raw) > limits.MaxProcessingBuffer {
		return nil, false, errmap.Wrap(errmap.KindMalformed, limits.ErrMessageTooLarge)
	}

	if httpResp.StatusCode >= 500 {
		return nil, true, errmap.New(errmap.KindSystem, fmt.Sprintf("server status %d", httpResp.StatusCode))
	}

	var resp interfaces.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		if kind := errmap.MapStatus(httpResp.StatusCode); kind != errmap.KindOK {
			return nil, false, errmap.New(kind, fmt.Sprintf("status %d", httpResp.StatusCode))
		}
		return nil, false, errmap.Wrap(errmap.KindBadJSON, err)
	}
	resp.Status = httpResp.StatusCode
	return &resp, false, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// waitBeforeRetry implements linear backoff between retries.
func (c *HTTPControlPlane) waitBeforeRetry(attempt, attempts int) {
	if attempt < attempts-1 {
		c.sleeper.Sleep(time.Duration(200*(attempt+1)) * time.Millisecond)
	}
}

func logRequestSuccess(path, requestID string, code, attempt int) {
	logrus.WithFields(logrus.Fields{
		"function":   "HTTPControlPlane.Request",
		"path":       path,
		"request_id": requestID,
		"code":       code,
		"attempt":    attempt,
	}).Debug("Control plane request completed")
}

func logRequestRetry(path, requestID string, attempt int, err error) {
	logrus.WithFields(logrus.Fields{
		"function":   "HTTPControlPlane.Request",
		"path":       path,
		"request_id": requestID,
		"attempt":    attempt,
		"error":      err.Error(),
	}).Warn("Control plane request failed, retrying")
}
