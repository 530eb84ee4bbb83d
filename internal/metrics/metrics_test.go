package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Inc(FeedDeliveries)
	m.Add(ReadStateMarked, 3)
	m.SubscriptionOpened()
	m.SubscriptionClosed()
}

func TestCountersAndHandler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Inc(NotifyFailures)
	m.Add(ReadStateMarked, 2)
	m.SubscriptionOpened()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifyFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReadStateMarked))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSubscriptions))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "agora_notify_failures_total 1"))
}
