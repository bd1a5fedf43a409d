package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/ada/internal/answer"
	"github.com/ChamsBouzaiene/ada/internal/session"
)

var (
	_ session.Recorder     = (*Metrics)(nil)
	_ answer.CacheRecorder = (*Metrics)(nil)
)

func TestRecorderCounts(t *testing.T) {
	m := New()

	m.Submitted("answered", 2*time.Second)
	m.Submitted("answered", time.Second)
	m.Submitted("failed", 10*time.Millisecond)
	m.Discarded()
	m.CacheHit("memory")
	m.CacheMiss()
	m.Command("submit_question")
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues("answered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StaleDiscards))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit", "memory")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandsTotal.WithLabelValues("submit_question")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveConnections))
	assert.Equal(t, 2, testutil.CollectAndCount(m.AnswerDuration))
}

func TestStoreReportsToMetrics(t *testing.T) {
	m := New()
	store := session.NewStore(answer.NewFixtureService(0), session.WithRecorder(m))

	_, err := store.Submit(context.Background(), "What is X?")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues("answered")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.Discarded()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ada_session_stale_discards_total 1")
}

// Instances are independent.
func TestNewIsolated(t *testing.T) {
	a, b := New(), New()
	a.Discarded()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.StaleDiscards))
}
