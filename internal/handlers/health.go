package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/walletrecovery/internal/monitoring"
	"github.com/charlesng35/walletrecovery/pkg/response"
)

// Health evaluates the registered dependency probes. A down report answers 503 so load balancers
// stop routing to the instance; degraded still answers 200.
func Health(manager *monitoring.HealthManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if manager == nil {
			response.Success(c, http.StatusOK, gin.H{"status": monitoring.StatusUp})
			return
		}

		report := manager.Evaluate(requestContext(c))
		if !report.Healthy() {
			c.JSON(http.StatusServiceUnavailable, response.Response{Success: false, Data: report})
			return
		}
		response.Success(c, http.StatusOK, report)
	}
}
