package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/walletrecovery/internal/handlers"
	"github.com/charlesng35/walletrecovery/internal/handlers/testutil"
	"github.com/charlesng35/walletrecovery/internal/monitoring"
)

func serveHealth(t *testing.T, manager *monitoring.HealthManager) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", handlers.Health(manager))

	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, "/health", nil)
	require.NoError(t, err)
	r.ServeHTTP(w, req)
	return w
}

func TestHealthReportsProbes(t *testing.T) {
	manager := monitoring.NewHealthManager()
	manager.Register(monitoring.NewCheck("database", func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))

	w := serveHealth(t, manager)
	require.Equal(t, http.StatusOK, w.Code)

	var report monitoring.HealthReport
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &report)
	require.Equal(t, monitoring.StatusUp, report.Status)
	require.Len(t, report.Checks, 1)
}

func TestHealthDownAnswers503(t *testing.T) {
	manager := monitoring.NewHealthManager()
	manager.Register(monitoring.NewCheck("chain", func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "rpc unreachable"}
	}))

	w := serveHealth(t, manager)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := testutil.DecodeResponse(t, w)
	require.False(t, resp.Success)
}

func TestHealthWithoutManager(t *testing.T) {
	require.Equal(t, http.StatusOK, serveHealth(t, nil).Code)
}
