// Package sandbox is the execution sandbox session client: it creates a
// session, keeps its output stream open, uploads project files and
// triggers runs.
package sandbox

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
	"sync"
	"time"

	"github.com/deniskipeles/swalang-sandbox/internal/logging"
	"github.com/deniskipeles/swalang-sandbox/internal/metrics"
	"github.com/deniskipeles/swalang-sandbox/pkg/client"
	"github.com/deniskipeles/swalang-sandbox/pkg/models"
	"github.com/deniskipeles/swalang-sandbox/pkg/protocol"
	"github.com/deniskipeles/swalang-sandbox/pkg/retry"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotConnected is returned when an operation needs an open session.
	ErrNotConnected = errors.New("sandbox: not connected")
	// ErrClosed is returned once the session has been closed.
	ErrClosed = errors.New("sandbox: session closed")
	// ErrConnecting is returned by Connect while another Connect is running.
	ErrConnecting = errors.New("sandbox: connect already in progress")
)

// UploadError names the file whose upload aborted a run.
type UploadError struct {
	Path string
	Err  error
}

func (e *UploadError) Error() string {
	detail := e.Err.Error()
	var serr *client.StatusError
	if errors.As(e.Err, &serr) {
		detail = serr.Body
		if detail == "" {
			detail = http.StatusText(serr.Code)
		}
	}
	return fmt.Sprintf("Failed to upload %s: %s", e.Path, detail)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Hooks observe the session. They are called without internal locks held,
// possibly from the stream goroutine.
type Hooks struct {
	// OnState is called on every state change.
	OnState func(from, to State)
	// OnRetry is called after a failed session request that will be
	// retried.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Config holds session client configuration.
type Config struct {
	BaseURL    string
	Attempts   int           // session request attempts
	RetryDelay time.Duration // fixed delay between session attempts
	// Settle ends a run after this long without output when the sandbox
	// sends no end marker.
	Settle time.Duration
	// Secure upgrades ws stream URLs to wss.
	Secure bool

	UploadRetry        retry.Config
	MaxParallelUploads int
	Buffer             int // inbound message buffer

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Hooks      Hooks
}

// Client is one sandbox session.
type Client struct {
	cfg        Config
	httpClient *http.Client
	dialer     *websocket.Dialer

	mu        sync.Mutex
	state     State
	err       error
	sessionID string
	conn      *websocket.Conn
	reading   bool
	delivered uint64

	// run tracking
	idle     chan struct{}
	settle   *time.Timer
	gen      uint64
	runStart time.Time

	wmu       sync.Mutex
	msgs      chan Message
	done      chan struct{}
	closeOnce sync.Once
	msgsOnce  sync.Once
}

// New creates a disconnected session client.
func New(cfg Config) *Client {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 1500 * time.Millisecond
	}
	if cfg.UploadRetry.MaxAttempts == 0 {
		cfg.UploadRetry = retry.DefaultConfig()
	}
	if cfg.MaxParallelUploads <= 0 {
		cfg.MaxParallelUploads = 10
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	idle := make(chan struct{})
	close(idle)
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		dialer:     dialer,
		state:      Disconnected,
		idle:       idle,
		msgs:       make(chan Message, cfg.Buffer),
		done:       make(chan struct{}),
	}
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the sandbox session id, empty until bootstrapped.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Err returns the error that closed the session, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Delivered reports how many messages have been handed to Messages.
func (c *Client) Delivered() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delivered
}

// Messages yields inbound messages in arrival order. It is closed when
// the session closes.
func (c *Client) Messages() <-chan Message { return c.msgs }

// Connect requests a session and opens its stream. Session requests are
// retried with a fixed delay; once the attempts are used up the client is
// closed and stays closed.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Connected, Running:
		c.mu.Unlock()
		return nil
	case Closed:
		c.mu.Unlock()
		return ErrClosed
	case Connecting:
		c.mu.Unlock()
		return ErrConnecting
	}
	c.setStateLocked(Connecting)
	c.mu.Unlock()
	c.notify(Disconnected, Connecting)

	cfg := retry.Fixed(c.cfg.Attempts, c.cfg.RetryDelay)
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		logging.Warn("session request failed",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Error(err))
		if c.cfg.Hooks.OnRetry != nil {
			c.cfg.Hooks.OnRetry(attempt, err, wait)
		}
	}
	sess, err := retry.DoWithResult(ctx, cfg, func() (*protocol.SessionResponse, error) {
		s, err := c.newSession(ctx)
		metrics.RecordSessionAttempt(err == nil)
		return s, err
	})
	if err != nil {
		return c.fail(fmt.Errorf("create session: %w", err))
	}

	c.mu.Lock()
	c.sessionID = sess.SessionID
	c.mu.Unlock()

	streamURL, err := StreamURL(c.cfg.BaseURL, sess.WSURL, c.cfg.Secure)
	if err != nil {
		return c.fail(err)
	}
	conn, _, err := c.dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return c.fail(fmt.Errorf("open stream: %w", err))
	}

	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.reading = true
	prev := c.setStateLocked(Connected)
	c.mu.Unlock()
	c.notify(prev, Connected)

	logging.Info("sandbox session connected",
		zap.String("session_id", sess.SessionID),
		zap.String("stream", streamURL))

	go c.readLoop(conn)
	return nil
}

// newSession performs one session request. Network failures and non-2xx
// responses are retryable.
func (c *Client) newSession(ctx context.Context) (*protocol.SessionResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/session/new", nil)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordRequest("sandbox", http.MethodPost, 0, time.Since(start))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, retry.Retryable(err)
	}
	defer resp.Body.Close()
	metrics.RecordRequest("sandbox", http.MethodPost, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, retry.Retryable(&client.StatusError{Code: resp.StatusCode, Body: readBody(resp.Body)})
	}

	var sess protocol.SessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if sess.SessionID == "" || sess.WSURL == "" {
		return nil, errors.New("session response is missing session_id or ws_url")
	}
	return &sess, nil
}

// UploadAll uploads every file concurrently and waits for all of them.
// The first failure is returned as an *UploadError; uploads that already
// succeeded are not rolled back.
func (c *Client) UploadAll(ctx context.Context, files []models.UploadFile) error {
	id := c.SessionID()
	if id == "" {
		return ErrNotConnected
	}

	var g errgroup.Group
	g.SetLimit(c.cfg.MaxParallelUploads)
	for _, f := range files {
		g.Go(func() error {
			return c.upload(ctx, id, f)
		})
	}
	return g.Wait()
}

func (c *Client) upload(ctx context.Context, sessionID string, f models.UploadFile) error {
	payload, err := json.Marshal(protocol.UploadRequest(f))
	if err != nil {
		return &UploadError{Path: f.Path, Err: err}
	}
	u := c.cfg.BaseURL + "/api/session/" + url.PathEscape(sessionID) + "/files"

	err = retry.Do(ctx, c.cfg.UploadRetry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.RecordRequest("sandbox", http.MethodPost, 0, time.Since(start))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return retry.Retryable(err)
		}
		defer resp.Body.Close()
		metrics.RecordRequest("sandbox", http.MethodPost, resp.StatusCode, time.Since(start))

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			serr := &client.StatusError{Code: resp.StatusCode, Body: readBody(resp.Body)}
			if resp.StatusCode >= 500 {
				return retry.Retryable(serr)
			}
			return serr
		}
		return nil
	})
	metrics.RecordUpload(int64(len(f.Content)), err == nil)
	if err != nil {
		logging.Warn("upload failed", zap.String("path", f.Path), zap.Error(err))
		return &UploadError{Path: f.Path, Err: err}
	}
	logging.Debug("uploaded file", zap.String("path", f.Path), zap.Int("bytes", len(f.Content)))
	return nil
}

// Run uploads files and then sends the run command. Nothing is sent if
// any upload fails. A run started while another is still streaming
// extends it.
func (c *Client) Run(ctx context.Context, files []models.UploadFile) error {
	switch c.State() {
	case Connected, Running:
	case Closed:
		return ErrClosed
	default:
		return ErrNotConnected
	}

	if err := c.UploadAll(ctx, files); err != nil {
		metrics.RecordRunFailed()
		return err
	}

	c.mu.Lock()
	conn := c.conn
	if c.state != Connected && c.state != Running {
		c.mu.Unlock()
		metrics.RecordRunFailed()
		return ErrClosed
	}
	prev := c.state
	if prev == Connected {
		c.setStateLocked(Running)
		c.idle = make(chan struct{})
		c.runStart = time.Now()
	}
	c.resetSettleLocked()
	c.mu.Unlock()
	if prev != Running {
		c.notify(prev, Running)
	}

	c.wmu.Lock()
	err := conn.WriteJSON(protocol.Command{Action: protocol.ActionRun})
	c.wmu.Unlock()
	if err != nil {
		c.mu.Lock()
		ok := c.finishRunLocked()
		c.mu.Unlock()
		if ok {
			c.notify(Running, Connected)
		}
		metrics.RecordRunFailed()
		return fmt.Errorf("send run: %w", err)
	}
	metrics.RecordRunStarted()
	return nil
}

// WaitIdle blocks until the current run, if any, has settled.
func (c *Client) WaitIdle(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the stream. Pending uploads and runs are abandoned.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		conn := c.conn
		reading := c.reading
		prev := c.setStateLocked(Closed)
		c.finishRunLocked()
		c.mu.Unlock()

		if conn != nil {
			c.wmu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.wmu.Unlock()
			_ = conn.Close()
		}
		if !reading {
			c.closeMessages()
		}
		if prev != Closed {
			c.notify(prev, Closed)
		}
	})
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.closeMessages()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.streamEnded(conn, err)
			return
		}

		msg := ParseMessage(data)
		metrics.RecordStreamMessage(msg.Kind.String())

		c.mu.Lock()
		c.delivered++
		msg.Seq = c.delivered
		c.mu.Unlock()

		select {
		case c.msgs <- msg:
		case <-c.done:
			return
		}
		c.observe(msg)
	}
}

// observe drives the running state from inbound traffic.
func (c *Client) observe(msg Message) {
	c.mu.Lock()
	if c.state != Running {
		c.mu.Unlock()
		return
	}
	if msg.Kind == KindEnd {
		ok := c.finishRunLocked()
		c.mu.Unlock()
		if ok {
			c.notify(Running, Connected)
		}
		return
	}
	c.resetSettleLocked()
	c.mu.Unlock()
}

func (c *Client) streamEnded(conn *websocket.Conn, err error) {
	select {
	case <-c.done:
		return
	default:
	}

	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		logging.Warn("sandbox stream failed", zap.Error(err))
	} else {
		err = nil
	}

	c.mu.Lock()
	if err != nil && c.err == nil {
		c.err = fmt.Errorf("stream: %w", err)
	}
	prev := c.setStateLocked(Closed)
	c.finishRunLocked()
	c.mu.Unlock()
	conn.Close()

	if prev != Closed {
		c.notify(prev, Closed)
	}
}

func (c *Client) resetSettleLocked() {
	c.gen++
	gen := c.gen
	if c.settle != nil {
		c.settle.Stop()
	}
	c.settle = time.AfterFunc(c.cfg.Settle, func() { c.settleRun(gen) })
}

func (c *Client) settleRun(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != Running {
		c.mu.Unlock()
		return
	}
	ok := c.finishRunLocked()
	c.mu.Unlock()
	if ok {
		c.notify(Running, Connected)
	}
}

// finishRunLocked releases WaitIdle callers. It reports whether a run
// ended in the Connected state.
func (c *Client) finishRunLocked() bool {
	if c.settle != nil {
		c.settle.Stop()
		c.settle = nil
	}
	select {
	case <-c.idle:
		return false
	default:
	}
	close(c.idle)
	metrics.RecordRunSettled(time.Since(c.runStart))
	if c.state == Running {
		c.state = Connected
		return true
	}
	return false
}

func (c *Client) fail(err error) error {
	logging.Error("sandbox session failed", zap.Error(err))

	c.mu.Lock()
	c.err = err
	prev := c.setStateLocked(Closed)
	reading := c.reading
	c.mu.Unlock()

	if !reading {
		c.closeMessages()
	}
	if prev != Closed {
		c.notify(prev, Closed)
	}
	return err
}

func (c *Client) setStateLocked(s State) State {
	prev := c.state
	c.state = s
	return prev
}

func (c *Client) notify(from, to State) {
	logging.Debug("sandbox state", zap.Stringer("from", from), zap.Stringer("to", to))
	if c.cfg.Hooks.OnState != nil {
		c.cfg.Hooks.OnState(from, to)
	}
}

func (c *Client) closeMessages() {
	c.msgsOnce.Do(func() { close(c.msgs) })
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4<<10))
	return strings.TrimSpace(string(b))
}
