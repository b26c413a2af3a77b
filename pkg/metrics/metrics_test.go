package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserveCommitUpdatesHeightAndLatency(t *testing.T) {
	m := New("0-65536")
	m.ObserveCommit(42, time.Now().Add(-50*time.Millisecond))
	m.SetLockedHeight(41)
	m.IncVotesReceived()
	m.IncQuorumsFormed()
	m.SetPoolDepth("new", 3)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "dancore_block_height")
	require.Contains(t, body, `shard_group="0-65536"`)
	require.Contains(t, body, "dancore_pool_depth")
}
