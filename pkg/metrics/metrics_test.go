package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := New()

	r.NodeVisited("conversation", "router", nil)
	r.NodeVisited("conversation", "router", nil)
	r.NodeVisited("conversation", "safe_tools", errors.New("boom"))
	r.Interrupted("sensitive_tools")
	r.Decided("continue")
	r.Decided("deny")
	r.Decided("deny")
	r.ToolCalled("reservation_assistant", "CancelReservation", nil)
	r.ToolCalled("reservation_assistant", "CancelReservation", errors.New("db down"))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.nodeVisits.WithLabelValues("conversation", "router", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.nodeVisits.WithLabelValues("conversation", "safe_tools", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.interrupts.WithLabelValues("sensitive_tools")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.decisions.WithLabelValues("deny")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.toolCalls.WithLabelValues("reservation_assistant", "CancelReservation", OutcomeError)))
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.NodeVisited("g", "n", nil)
		r.Interrupted("n")
		r.Decided("continue")
		r.ToolCalled("a", "t", nil)
		r.ObserveToolDuration("t", time.Second)
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.ObserveToolDuration("SearchServiceMenu", 120*time.Millisecond)
	r.Decided("continue")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `grooming_decisions_total{action="continue"} 1`), body)
	assert.Contains(t, body, "grooming_tool_duration_seconds_bucket")
}
