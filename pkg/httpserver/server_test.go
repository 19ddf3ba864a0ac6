package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mselser95/polymarket-bot/pkg/healthprobe"
)

func TestServer_Routes(t *testing.T) {
	t.Parallel()

	hc := healthprobe.New()
	hc.Register("store", func() bool { return true })
	hc.SetReady(true)

	srv := New(&Config{
		Port:          "0",
		Logger:        zaptest.NewLogger(t),
		HealthChecker: hc,
	})

	for _, tt := range []struct {
		path string
		want int
	}{
		{"/health", http.StatusOK},
		{"/ready", http.StatusOK},
		{"/metrics", http.StatusOK},
	} {
		rec := httptest.NewRecorder()
		srv.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		assert.Equal(t, tt.want, rec.Code, tt.path)
	}
}

func TestServer_HealthDegraded(t *testing.T) {
	t.Parallel()

	hc := healthprobe.New()
	hc.Register("websocket", func() bool { return false })

	srv := New(&Config{Port: "0", Logger: zaptest.NewLogger(t), HealthChecker: hc})

	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_ShutdownIdempotent(t *testing.T) {
	t.Parallel()

	hc := healthprobe.New()
	srv := New(&Config{Port: "0", Logger: zaptest.NewLogger(t), HealthChecker: hc})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
}
