package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordUpload(t *testing.T) {
	okBefore := testutil.ToFloat64(uploadsTotal.WithLabelValues("success"))
	errBefore := testutil.ToFloat64(uploadsTotal.WithLabelValues("error"))
	bytesBefore := testutil.ToFloat64(uploadBytes)

	RecordUpload(100, true)
	RecordUpload(50, false)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(uploadsTotal.WithLabelValues("success")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(uploadsTotal.WithLabelValues("error")))
	assert.Equal(t, bytesBefore+100, testutil.ToFloat64(uploadBytes), "failed uploads add no bytes")
}

func TestRecordSessionAttempt(t *testing.T) {
	before := testutil.ToFloat64(sessionAttemptsTotal.WithLabelValues("error"))
	RecordSessionAttempt(false)
	RecordSessionAttempt(false)
	assert.Equal(t, before+2, testutil.ToFloat64(sessionAttemptsTotal.WithLabelValues("error")))
}

func TestRecordRequest(t *testing.T) {
	before := testutil.ToFloat64(requestsTotal.WithLabelValues("storage", "GET", "0"))
	RecordRequest("storage", "GET", 0, time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(requestsTotal.WithLabelValues("storage", "GET", "0")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordStreamMessage("stdout")
	RecordConsoleLine()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `playground_stream_messages_total{kind="stdout"}`))
	assert.True(t, strings.Contains(body, "playground_console_lines_total"))
}
