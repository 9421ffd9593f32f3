package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/owners-notify/pkg/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestDefaultConfigs(t *testing.T) {
	t.Run("DefaultAPIConfig", func(t *testing.T) {
		cfg := DefaultAPIConfig()
		assert.Equal(t, float64(20), cfg.Rate)
		assert.Equal(t, 50, cfg.Burst)
		assert.Equal(t, time.Minute, cfg.CleanupInterval)
		assert.Equal(t, 5*time.Minute, cfg.MaxAge)
	})

	t.Run("package config is stricter than API config", func(t *testing.T) {
		apiCfg := DefaultAPIConfig()
		pkgCfg := DefaultPackageConfig()
		assert.Less(t, pkgCfg.Rate, apiCfg.Rate)
		assert.Less(t, pkgCfg.Burst, apiCfg.Burst)
	})
}

func TestNew(t *testing.T) {
	t.Run("creates limiter with config", func(t *testing.T) {
		rl := New(Config{Rate: 10, Burst: 20, CleanupInterval: time.Second, MaxAge: time.Minute})
		defer rl.Stop()

		assert.Equal(t, float64(10), rl.Config().Rate)
		assert.Equal(t, 20, rl.Config().Burst)
	})

	t.Run("sets defaults if zero", func(t *testing.T) {
		rl := New(Config{Rate: 10, Burst: 20})
		defer rl.Stop()

		assert.Equal(t, time.Minute, rl.Config().CleanupInterval)
		assert.Equal(t, 5*time.Minute, rl.Config().MaxAge)
	})
}

func TestAllow(t *testing.T) {
	t.Run("blocks requests exceeding burst limit", func(t *testing.T) {
		rl := New(Config{Rate: 1, Burst: 3, CleanupInterval: time.Hour, MaxAge: time.Hour})
		defer rl.Stop()

		for i := 0; i < 3; i++ {
			assert.True(t, rl.Allow("192.168.1.1"), "request %d should be allowed", i)
		}
		assert.False(t, rl.Allow("192.168.1.1"))
	})

	t.Run("different keys have separate limits", func(t *testing.T) {
		rl := New(Config{Rate: 1, Burst: 2, CleanupInterval: time.Hour, MaxAge: time.Hour})
		defer rl.Stop()

		rl.Allow("P1")
		rl.Allow("P1")
		assert.False(t, rl.Allow("P1"))

		assert.True(t, rl.Allow("P2"))
		assert.True(t, rl.Allow("P2"))
		assert.Equal(t, 2, rl.Len())
	})

	t.Run("tokens refill over time", func(t *testing.T) {
		rl := New(Config{Rate: 10, Burst: 1, CleanupInterval: time.Hour, MaxAge: time.Hour})
		defer rl.Stop()

		assert.True(t, rl.Allow("192.168.1.1"))
		assert.False(t, rl.Allow("192.168.1.1"))
		assert.Eventually(t, func() bool { return rl.Allow("192.168.1.1") }, time.Second, 20*time.Millisecond)
	})

	t.Run("concurrent access is safe", func(t *testing.T) {
		rl := New(Config{Rate: 1000, Burst: 1000, CleanupInterval: time.Hour, MaxAge: time.Hour})
		defer rl.Stop()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 20; j++ {
					rl.Allow("shared")
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, rl.Len())
	})
}

func TestCleanupStaleEntries(t *testing.T) {
	rl := New(Config{Rate: 1, Burst: 1, CleanupInterval: time.Hour, MaxAge: time.Millisecond})
	defer rl.Stop()

	rl.Allow("old")
	time.Sleep(5 * time.Millisecond)
	rl.cleanupStaleEntries()
	assert.Equal(t, 0, rl.Len())
}

func TestStopIsIdempotent(t *testing.T) {
	rl := New(DefaultAPIConfig())
	rl.Stop()
	assert.NotPanics(t, rl.Stop)
}

func TestMiddleware(t *testing.T) {
	rl := New(Config{Rate: 1, Burst: 1, CleanupInterval: time.Hour, MaxAge: time.Hour})
	defer rl.Stop()

	router := gin.New()
	router.POST("/packages/:id/notifications", rl.Middleware("notify", ByParam("id")), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})

	do := func(id string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/packages/"+id+"/notifications", nil)
		router.ServeHTTP(w, req)
		return w.Code
	}

	before := testutil.ToFloat64(metrics.APIRateLimited.WithLabelValues("notify"))
	require.Equal(t, http.StatusAccepted, do("P1"))
	assert.Equal(t, http.StatusTooManyRequests, do("P1"))
	assert.Equal(t, http.StatusAccepted, do("P2"), "other packages are not affected")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.APIRateLimited.WithLabelValues("notify")))
}

func TestMiddleware_ByClientIP(t *testing.T) {
	rl := New(Config{Rate: 1, Burst: 2, CleanupInterval: time.Hour, MaxAge: time.Hour})
	defer rl.Stop()

	router := gin.New()
	router.Use(rl.Middleware("api", ByClientIP))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
