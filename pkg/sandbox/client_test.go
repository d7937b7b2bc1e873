package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/deniskipeles/swalang-sandbox/internal/sandboxtest"
	"github.com/deniskipeles/swalang-sandbox/pkg/models"
	"github.com/deniskipeles/swalang-sandbox/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	lines  []string
	states []string
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		OnState: func(from, to State) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.states = append(r.states, from.String()+"->"+to.String())
		},
		OnRetry: func(attempt int, err error, wait time.Duration) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.lines = append(r.lines, fmt.Sprintf("Attempt %d failed. Retrying in %v...", attempt, wait))
		},
	}
}

func (r *recorder) snapshot() ([]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...), append([]string(nil), r.states...)
}

func newClient(t *testing.T, sb *sandboxtest.Sandbox, rec *recorder) *Client {
	t.Helper()
	cfg := Config{
		BaseURL:     sb.URL(),
		RetryDelay:  5 * time.Millisecond,
		Settle:      50 * time.Millisecond,
		UploadRetry: retry.Config{MaxAttempts: 2, InitialWait: time.Millisecond, MaxWait: time.Millisecond},
	}
	if rec != nil {
		cfg.Hooks = rec.hooks()
	}
	c := New(cfg)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func ctxTimeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func collectUntil(t *testing.T, c *Client, stop func(Message) bool) []Message {
	t.Helper()
	var out []Message
	timeout := time.After(5 * time.Second)
	for {
		select {
		case m, ok := <-c.Messages():
			if !ok {
				return out
			}
			out = append(out, m)
			if stop(m) {
				return out
			}
		case <-timeout:
			t.Fatalf("timed out after %d messages", len(out))
		}
	}
}

func TestConnectRetriesThenSucceeds(t *testing.T) {
	sb := sandboxtest.NewSandbox(t)
	sb.FailSessions(2)
	rec := &recorder{}
	c := newClient(t, sb, rec)

	require.NoError(t, c.Connect(ctxTimeout(t)))

	lines, states := rec.snapshot()
	assert.Equal(t, Connected, c.State())
	assert.Equal(t, 3, sb.SessionCalls())
	assert.Len(t, lines, 2)
	assert.Equal(t, "Attempt 1 failed. Retrying in 5ms...", lines[0])
	assert.Equal(t, "Attempt 2 failed. Retrying in 5ms...", lines[1])
	assert.Equal(t, []string{"disconnected->connecting", "connecting->connected"}, states)
	assert.NotEmpty(t, c.SessionID())
}

func TestConnectWhileConnecting(t *testing.T) {
	sb := sandboxtest.NewSandbox(t)
	sb.FailSessions(1)
	ctx := ctxTimeout(t)

	var c *Client
	var during error
	c = New(Config{
		BaseURL:    sb.URL(),
		RetryDelay: 5 * time.Millisecond,
		Settle:     50 * time.Millisecond,
		Hooks: Hooks{OnRetry: func(int, error, time.Duration) {
			during = c.Connect(ctx)
		}},
	})
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Connect(ctx))
	assert.ErrorIs(t, during, ErrConnecting)
	assert.NoError(t, c.Connect(ctx), "connecting an open session is a no-op")
}

func TestConnectGivesUpAfterAttempts(t *testing.T) {
	sb := sandboxtest.NewSandbox(t)
	sb.FailSessions(10)
	rec := &recorder{}
	c := newClient(t, sb, rec)

	err := c.Connect(ctxTimeout(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no capacity")
	assert.Equal(t, Closed, c.State())
	assert.Equal(t, 3, sb.SessionCalls())
	assert.Equal(t, err, c.Err())

	lines, states := rec.snapshot()
	assert.Len(t, lines, 2, "no retry line after the final attempt")
	assert.Equal(t, "connecting->closed", states[len(states)-1])

	_, open := <-c.Messages()
	assert.False(t, open, "message stream is closed")
	assert.ErrorIs(t, c.Connect(context.Background()), ErrClosed, "no automatic reconnection")
}

func TestUploadFailureAbortsRun(t *testing.T) {
	sb := sandboxtest.NewSandbox(t)
	sb.FailUpload("lib/b.sw", http.StatusBadRequest)
	c := newClient(t, sb, nil)
	require.NoError(t, c.Connect(ctxTimeout(t)))

	err := c.Run(ctxTimeout(t), []models.UploadFile{
		{Path: "main.sw", Content: "a"},
		{Path: "lib/b.sw", Content: "b"},
		{Path: "lib/c.sw", Content: "c"},
	})

	var uerr *UploadError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, "lib/b.sw", uerr.Path)
	assert.Equal(t, "Failed to upload lib/b.sw: disk quota exceeded", err.Error())
	assert.Equal(t, 0, sb.Runs(), "run command is never sent")
	assert.Equal(t, Connected, c.State())

	files := sb.Files(c.SessionID())
	assert.Equal(t, "a", files["main.sw"], "completed uploads are not rolled back")
}

func TestUploadServerErrorIsRetried(t *testing.T) {
	sb := sandboxtest.NewSandbox(t)
	sb.FailUpload("x.sw", http.StatusInternalServerError)
	c := newClient(t, sb, nil)
	require.NoError(t, c.Connect(ctxTimeout(t)))

	err := c.UploadAll(ctxTimeout(t), []models.UploadFile{{Path: "x.sw"}})
	require.Error(t, err)
	assert.Equal(t, 2, sb.UploadCalls())
}

func TestRunStreamsOutputInOrder(t *testing.T) {
	sb := sandboxtest.NewSandbox(t)
	sb.SendSentinel(true)
	rec := &recorder{}
	c := newClient(t, sb, rec)
	require.NoError(t, c.Connect(ctxTimeout(t)))

	require.NoError(t, c.Run(ctxTimeout(t), []models.UploadFile{
		{Path: "main.sw", Content: "one\nerr:two\nthree\n"},
	}))
	msgs := collectUntil(t, c, func(m Message) bool { return m.Kind == KindEnd })

	var lines []string
	for i, m := range msgs {
		assert.EqualValues(t, i+1, m.Seq)
		if m.Kind != KindEnd {
			lines = append(lines, m.Line())
		}
	}
	assert.Equal(t, []string{"one", "[stderr] two", "three"}, lines)

	require.NoError(t, c.WaitIdle(ctxTimeout(t)))
	assert.Equal(t, Connected, c.State())
	assert.EqualValues(t, 4, c.Delivered())

	_, states := rec.snapshot()
	assert.Contains(t, states, "connected->running")
	assert.Contains(t, states, "running->connected")
}

func TestRunSettlesWithoutEndMarker(t *testing.T) {
	sb := sandboxtest.NewSandbox(t)
	c := newClient(t, sb, nil)
	require.NoError(t, c.Connect(ctxTimeout(t)))

	require.NoError(t, c.Run(ctxTimeout(t), []models.UploadFile{{Path: "main.sw", Content: "hi"}}))
	assert.Equal(t, Running, c.State())

	require.NoError(t, c.WaitIdle(ctxTimeout(t)))
	assert.Equal(t, Connected, c.State())

	msgs := collectUntil(t, c, func(Message) bool { return true })
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Line())
}

func TestMalformedMessagesAreKept(t *testing.T) {
	sb := sandboxtest.NewSandbox(t)
	c := newClient(t, sb, nil)
	require.NoError(t, c.Connect(ctxTimeout(t)))
	id := <-sb.Connected()

	for _, frame := range []string{`not json`, `{"foo":1}`, `{"content":"hi"}`} {
		require.NoError(t, sb.Push(id, []byte(frame)))
	}
	msgs := collectUntil(t, c, func(m Message) bool { return m.Seq == 3 })

	require.Len(t, msgs, 3)
	assert.Equal(t, "not json", msgs[0].Line())
	assert.Equal(t, `[server] {"foo":1}`, msgs[1].Line())
	assert.Equal(t, "hi", msgs[2].Line())
}

func TestServerCloseEndsSession(t *testing.T) {
	sb := sandboxtest.NewSandbox(t)
	rec := &recorder{}
	c := newClient(t, sb, rec)
	require.NoError(t, c.Connect(ctxTimeout(t)))
	id := <-sb.Connected()

	sb.Disconnect(id)
	collectUntil(t, c, func(Message) bool { return false })

	assert.Equal(t, Closed, c.State())
	assert.NoError(t, c.Err(), "a normal close is not an error")
	_, states := rec.snapshot()
	assert.Equal(t, "connected->closed", states[len(states)-1])
	assert.ErrorIs(t, c.Run(context.Background(), nil), ErrClosed)
}

func TestRunBeforeConnect(t *testing.T) {
	sb := sandboxtest.NewSandbox(t)
	c := newClient(t, sb, nil)

	assert.ErrorIs(t, c.Run(context.Background(), nil), ErrNotConnected)
	assert.ErrorIs(t, c.UploadAll(context.Background(), nil), ErrNotConnected)
}

func TestCloseIsIdempotent(t *testing.T) {
	sb := sandboxtest.NewSandbox(t)
	rec := &recorder{}
	c := newClient(t, sb, rec)
	require.NoError(t, c.Connect(ctxTimeout(t)))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Equal(t, Closed, c.State())
	collectUntil(t, c, func(Message) bool { return false })
	_, states := rec.snapshot()
	assert.Equal(t, []string{"disconnected->connecting", "connecting->connected", "connected->closed"}, states)
}
