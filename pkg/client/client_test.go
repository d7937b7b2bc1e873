package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deniskipeles/swalang-sandbox/pkg/models"
	"github.com/deniskipeles/swalang-sandbox/pkg/protocol"
	"github.com/deniskipeles/swalang-sandbox/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	return testClientWithToken(t, handler, "tok")
}

func testClientWithToken(t *testing.T, handler http.Handler, token string) *Client {
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return New(Config{
		BaseURL: ts.URL + "/",
		RetryConfig: retry.Config{
			MaxAttempts: 3,
			InitialWait: time.Millisecond,
			MaxWait:     time.Millisecond,
		},
		AuthToken: token,
	})
}

func TestFetchProjectFat(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/projects/p1", r.URL.Path)
		assert.Equal(t, "4", r.URL.Query().Get("version"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"strategy":"fat","size":10,"tree":[
			{"id":"f","name":"src","type":"folder","children":[
				{"id":"m","name":"main.sw","type":"file","content":"print(1)"}]}]}`)
	}))

	resp, err := c.FetchProject(context.Background(), "p1", "4")
	require.NoError(t, err)
	assert.Equal(t, protocol.StrategyFat, resp.Strategy)
	require.Len(t, resp.Tree, 1)
	folder := resp.Tree[0].(*models.Folder)
	assert.Equal(t, "print(1)", folder.Children[0].(*models.File).Content)
}

func TestFetchProjectNotFound(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: "no such project"})
	}))

	_, err := c.FetchProject(context.Background(), "missing", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "no such project", serr.Body)
	assert.EqualValues(t, 1, calls.Load(), "4xx is not retried")
}

func TestServerErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"strategy":"split","size":1,"files":[{"name":"a.sw","isFolder":false}]}`)
	}))

	resp, err := c.FetchProject(context.Background(), "p", "")
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, []models.FlatEntry{{Path: "a.sw"}}, resp.Files)
}

func TestServerErrorsExhaustAttempts(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))

	_, err := c.FetchProject(context.Background(), "p", "")
	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusBadGateway, serr.Code)
	assert.Equal(t, "down", serr.Body)
	assert.EqualValues(t, 3, calls.Load())
}

func TestFetchContentEscapesSegments(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/projects/p/files/src/my%20file%3F.sw", r.URL.EscapedPath())
		assert.Empty(t, r.URL.RawQuery)
		_, _ = io.WriteString(w, "raw text\n")
	}))

	got, err := c.FetchContent(context.Background(), "p", "src/my file?.sw", "")
	require.NoError(t, err)
	assert.Equal(t, "raw text\n", got)
}

func TestFetcherBindsProject(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/projects/bound/files/a.sw", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("version"))
		_, _ = io.WriteString(w, "x")
	}))

	got, err := c.Fetcher("bound").FetchContent(context.Background(), "a.sw", "2")
	require.NoError(t, err)
	assert.Equal(t, "x", got)
}

func TestSaveProject(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req protocol.SaveRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Tree, 1)
		assert.Equal(t, "body", req.Tree[0].(*models.File).Content)
		_, _ = io.WriteString(w, `{"version":8,"size":4}`)
	}))

	resp, err := c.SaveProject(context.Background(), "p", &protocol.SaveRequest{
		Tree: models.Nodes{&models.File{ID: "a", Name: "a.sw", Content: "body"}},
	})
	require.NoError(t, err)
	assert.Equal(t, protocol.Version("8"), resp.Version)
	assert.EqualValues(t, 4, resp.Size)
}

func TestContextCancelStopsRetries(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FetchProject(ctx, "p", "")
	assert.Error(t, err)
}
