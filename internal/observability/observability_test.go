package observability

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solvejet/pixe-whatspp-sub001/internal/config"
)

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger(config.LoggerConfig{Level: "nonsense"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
}

func TestMetricsCountPoolOutcomes(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.TaskStarted()
	m.TaskFinished("webhook", "ok", 10*time.Millisecond)
	m.TaskDropped("webhook")
	m.RecordQueueMessage("media.delete", "dead_letter")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.poolTasks.WithLabelValues("webhook", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.poolTasks.WithLabelValues("webhook", "dropped")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.poolInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queueMessages.WithLabelValues("media.delete", "dead_letter")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordRequest("/", "GET", 200, time.Millisecond)
	m.TaskDropped("webhook")
	m.RecordUpstream("send", nil)
}

func TestRequestLoggerRecordsRoute(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	app := fiber.New()
	app.Use(RequestLogger(zap.NewNop(), m))
	app.Get("/ping/:id", func(c *fiber.Ctx) error { return c.SendString("pong") })

	resp, err := app.Test(httptest.NewRequest("GET", "/ping/1", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/ping/:id", "GET", "200")))
}
