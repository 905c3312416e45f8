package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrun/internal/job"
	"qrun/internal/logging"
	"qrun/internal/queue"
)

func TestObserveCountsLifecycle(t *testing.T) {
	c := NewCollector()
	name := queue.Named("m")
	j := job.New("true", 0, time.Now())
	start := time.Now()

	c.Observe(queue.Event{Kind: queue.EventSubmitted, Queue: name, Job: j, Queues: 1, Pending: 1})
	c.Observe(queue.Event{Kind: queue.EventSubmitted, Queue: name, Job: j, Queues: 1, Pending: 2})
	c.Observe(queue.Event{Kind: queue.EventDropped, Queue: name, Queues: 1, Pending: 2})
	c.Observe(queue.Event{Kind: queue.EventStarted, Queue: name, Job: j, Queues: 1, Pending: 1})
	c.Observe(queue.Event{Kind: queue.EventFinished, Queue: name, Queues: 1, Pending: 1, Run: &queue.Run{
		Job: j, Started: start, Finished: start.Add(2 * time.Second), Outcome: queue.OutcomeCompleted,
	}})
	c.Observe(queue.Event{Kind: queue.EventExpired, Queue: name, Queues: 1, Pending: 0, Run: &queue.Run{Outcome: queue.OutcomeExpired}})
	c.Observe(queue.Event{Kind: queue.EventQueueDrained, Queue: name})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.jobsSubmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsExpired))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsFinished.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsFinished.WithLabelValues("expired")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.queuesActive))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.jobsPending))
	assert.Equal(t, 1, testutil.CollectAndCount(c.jobDuration))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector()
	c.Observe(queue.Event{Kind: queue.EventSubmitted, Queues: 1, Pending: 1})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "qrun_jobs_submitted_total 1")
	assert.Contains(t, body, "qrun_queues_active 1")
}

func TestServeDisabledWithoutBind(t *testing.T) {
	assert.NoError(t, Serve(context.Background(), "", NewCollector(), logging.NewNop()))
}

func TestServeListensUntilCancelled(t *testing.T) {
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := probe.Addr().String()
	require.NoError(t, probe.Close())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, Serve(ctx, addr, NewCollector(), logging.NewNop()))

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		body = string(data)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(t, strings.Contains(body, "qrun_jobs_pending"))

	cancel()
	require.Eventually(t, func() bool {
		_, err := http.Get("http://" + addr + "/metrics")
		return err != nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestServeReportsBadBind(t *testing.T) {
	err := Serve(context.Background(), "256.0.0.1:bad", NewCollector(), logging.NewNop())
	assert.Error(t, err)
}
