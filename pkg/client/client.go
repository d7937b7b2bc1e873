// Package client talks to the project storage service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deniskipeles/swalang-sandbox/internal/logging"
	"github.com/deniskipeles/swalang-sandbox/internal/metrics"
	"github.com/deniskipeles/swalang-sandbox/pkg/content"
	"github.com/deniskipeles/swalang-sandbox/pkg/protocol"
	"github.com/deniskipeles/swalang-sandbox/pkg/retry"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a project or file does not exist.
var ErrNotFound = errors.New("not found")

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 4 << 10

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Body)
}

// Is lets errors.Is(err, ErrNotFound) match a 404.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// Client is the storage service HTTP client.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config
	authToken   string
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	AuthToken   string
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		authToken:   cfg.AuthToken,
	}
}

func (c *Client) applyAuth(req *http.Request) {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// FetchProject loads a project, optionally pinned to a version.
func (c *Client) FetchProject(ctx context.Context, projectID, version string) (*protocol.ProjectResponse, error) {
	u := c.projectURL(projectID) + versionQuery(version)

	var result protocol.ProjectResponse
	err := c.do(ctx, http.MethodGet, u, nil, func(resp *http.Response) error {
		return json.NewDecoder(resp.Body).Decode(&result)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch project %s: %w", projectID, err)
	}
	logging.Debug("fetched project",
		zap.String("project", projectID),
		zap.String("strategy", result.Strategy),
		zap.Int64("size", result.Size))
	return &result, nil
}

// FetchContent loads one split-strategy file as raw text.
func (c *Client) FetchContent(ctx context.Context, projectID, path, version string) (string, error) {
	u := c.projectURL(projectID) + "/files/" + escapePath(path) + versionQuery(version)

	var body string
	err := c.do(ctx, http.MethodGet, u, nil, func(resp *http.Response) error {
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.Retryable(err)
		}
		body = string(b)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", path, err)
	}
	return body, nil
}

// SaveProject persists a whole tree with inline content.
func (c *Client) SaveProject(ctx context.Context, projectID string, req *protocol.SaveRequest) (*protocol.SaveResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var result protocol.SaveResponse
	err = c.do(ctx, http.MethodPost, c.projectURL(projectID), payload, func(resp *http.Response) error {
		return json.NewDecoder(resp.Body).Decode(&result)
	})
	if err != nil {
		return nil, fmt.Errorf("save project %s: %w", projectID, err)
	}
	logging.Info("saved project",
		zap.String("project", projectID),
		zap.String("version", string(result.Version)),
		zap.Int64("size", result.Size))
	return &result, nil
}

// Fetcher binds the client to one project for lazy content loads.
func (c *Client) Fetcher(projectID string) content.Fetcher {
	return content.FetcherFunc(func(ctx context.Context, path, version string) (string, error) {
		return c.FetchContent(ctx, projectID, path, version)
	})
}

// do runs one request with retries. 5xx responses and network failures
// are retried; anything else non-2xx is returned as a *StatusError.
func (c *Client) do(ctx context.Context, method, u string, payload []byte, decode func(*http.Response) error) error {
	if err := c.checkToken(); err != nil {
		return err
	}
	return retry.Do(ctx, c.retryConfig, func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, body)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		c.applyAuth(req)

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.RecordRequest("storage", method, 0, time.Since(start))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Warn("storage request failed", zap.String("url", u), zap.Error(err))
			return retry.Retryable(err)
		}
		defer resp.Body.Close()
		metrics.RecordRequest("storage", method, resp.StatusCode, time.Since(start))

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			serr := &StatusError{Code: resp.StatusCode, Body: readErrorBody(resp.Body)}
			if resp.StatusCode >= 500 {
				return retry.Retryable(serr)
			}
			return serr
		}
		return decode(resp)
	})
}

// readErrorBody extracts a message from an error response, preferring
// the "error" field of a JSON body.
func readErrorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var errResp protocol.ErrorResponse
	if json.Unmarshal(b, &errResp) == nil && errResp.Error != "" {
		return errResp.Error
	}
	return strings.TrimSpace(string(b))
}

func (c *Client) projectURL(projectID string) string {
	return c.baseURL + "/api/projects/" + url.PathEscape(projectID)
}

func versionQuery(version string) string {
	if version == "" {
		return ""
	}
	return "?" + url.Values{"version": {version}}.Encode()
}

// escapePath escapes each segment of a slash-separated path.
func escapePath(p string) string {
	segs := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
