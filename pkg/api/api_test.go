// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/owners-notify/pkg/config"
	"github.com/telekom/owners-notify/pkg/metrics"
	"github.com/telekom/owners-notify/pkg/version"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func testConfig() config.Config {
	return config.Config{
		Server: config.Server{ListenAddress: ":0"},
		Notify: config.Notify{BaseURL: "https://owners.example.com"},
	}
}

func TestNewServer(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tests := []struct {
		name  string
		debug bool
	}{
		{name: "debug mode", debug: true},
		{name: "production mode", debug: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer(logger, testConfig(), tt.debug, nil)
			defer server.Close()

			assert.NotNil(t, server.gin)
			assert.NotNil(t, server.limiter)
			assert.Equal(t, ":0", server.config.Server.ListenAddress)
		})
	}
	gin.SetMode(gin.TestMode)
}

func TestNewHTTPServer_AppliesServerTimeouts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listenAddress: ":9090"
  timeouts:
    readTimeout: 15s
    writeTimeout: 2m
    maxHeaderBytes: 4096
`), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)

	server := NewServer(zaptest.NewLogger(t), cfg, false, nil)
	defer server.Close()
	gin.SetMode(gin.TestMode)

	srv := server.newHTTPServer()
	assert.Equal(t, ":9090", srv.Addr)
	assert.Equal(t, server.gin, srv.Handler)
	assert.Equal(t, 15*time.Second, srv.ReadTimeout)
	assert.Equal(t, 2*time.Minute, srv.WriteTimeout)
	assert.Equal(t, 4096, srv.MaxHeaderBytes)
	assert.Equal(t, config.DefaultReadHeaderTimeout, srv.ReadHeaderTimeout, "unset values keep their defaults")
	assert.Equal(t, config.DefaultIdleTimeout, srv.IdleTimeout)
}

func TestNewServer_RateLimitFromConfig(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig()
	cfg.Server.RateLimit = 3
	cfg.Server.RateBurst = 7

	server := NewServer(zaptest.NewLogger(t), cfg, true, nil)
	defer server.Close()

	assert.Equal(t, 3.0, server.limiter.Config().Rate)
	assert.Equal(t, 7, server.limiter.Config().Burst)
}

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name string
		ping Pinger
		want int
	}{
		{name: "no store", ping: nil, want: http.StatusOK},
		{name: "store reachable", ping: pingFunc(func(context.Context) error { return nil }), want: http.StatusOK},
		{name: "store down", ping: pingFunc(func(context.Context) error { return errors.New("closed") }), want: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer(zaptest.NewLogger(t), testConfig(), true, tt.ping)
			defer server.Close()

			w := httptest.NewRecorder()
			server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestVersionEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := NewServer(zaptest.NewLogger(t), testConfig(), true, nil)
	defer server.Close()

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/version", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var info version.BuildInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, version.Version, info.Version)
}

func TestMetricsEndpointAndRequestCounter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := NewServer(zaptest.NewLogger(t), testConfig(), true, nil)
	defer server.Close()

	before := testutil.ToFloat64(metrics.APIRequests.WithLabelValues("/healthz", "200"))
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.APIRequests.WithLabelValues("/healthz", "200")))

	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "owners_notify_api_requests_total")
}

func TestUnmatchedRouteCounted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := NewServer(zaptest.NewLogger(t), testConfig(), true, nil)
	defer server.Close()

	before := testutil.ToFloat64(metrics.APIRequests.WithLabelValues("unmatched", "404"))
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.APIRequests.WithLabelValues("unmatched", "404")))
}

func TestServer_CloseAndShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := NewServer(zaptest.NewLogger(t), testConfig(), true, nil)

	// never listened
	require.NoError(t, server.Shutdown(context.Background()))
	server.Close()
}

func TestServer_CloseHandlesNilLimiter(t *testing.T) {
	server := &Server{}
	// Should not panic
	server.Close()
}
