package endpoints

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errProbe = errors.New("connection refused")

func newTestPool(t *testing.T, urls []string, opts ...Option) *Pool {
	t.Helper()
	return New(urls, 3, zap.NewNop(), opts...)
}

func TestSelectPrefersPriority(t *testing.T) {
	p := newTestPool(t, []string{"http://a", "http://b", "http://c"})

	sel := p.Select()
	assert.Equal(t, "http://a", sel.Endpoint.URL)
	assert.False(t, sel.Degraded)
}

func TestFailoverOrdering(t *testing.T) {
	p := newTestPool(t, []string{"http://a", "http://b", "http://c"})

	// One failure degrades A but keeps it preferred.
	p.Report("http://a", errProbe)
	sel := p.Select()
	assert.Equal(t, "http://a", sel.Endpoint.URL)
	assert.Equal(t, StatusDegraded, sel.Endpoint.Status)

	// Third consecutive failure takes A down; B takes over.
	p.Report("http://a", errProbe)
	p.Report("http://a", errProbe)
	sel = p.Select()
	assert.Equal(t, "http://b", sel.Endpoint.URL)
	assert.False(t, sel.Degraded)
}

func TestSuccessResetsEndpoint(t *testing.T) {
	p := newTestPool(t, []string{"http://a", "http://b"})

	p.Report("http://a", errProbe)
	p.Report("http://a", errProbe)
	p.Report("http://a", nil)

	snap := p.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, StatusHealthy, snap[0].Status)
	assert.Equal(t, 0, snap[0].ConsecutiveFailures)
}

func TestAllDownDegradedSelection(t *testing.T) {
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }
	p := newTestPool(t, []string{"http://a", "http://b"}, WithClock(clock))

	// A fails first, then B: B becomes the more recent failure.
	for i := 0; i < 3; i++ {
		p.Report("http://a", errProbe)
	}
	now = now.Add(time.Minute)
	for i := 0; i < 3; i++ {
		p.Report("http://b", errProbe)
	}

	sel := p.Select()
	assert.True(t, sel.Degraded)
	assert.Equal(t, "http://a", sel.Endpoint.URL, "least-recently-failed endpoint wins")
}

func TestHealthCheckAll(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	p := newTestPool(t, []string{healthy.URL, broken.URL})
	p.HealthCheckAll(context.Background(), time.Second)

	snap := p.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, StatusHealthy, snap[0].Status)
	assert.Equal(t, StatusDegraded, snap[1].Status)
}
