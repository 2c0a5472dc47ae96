package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/charlesng35/walletrecovery/pkg/errors"
	"github.com/charlesng35/walletrecovery/pkg/logger"
	"github.com/charlesng35/walletrecovery/pkg/response"
)

// Recovery converts panics into a 500 response and logs the error.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithModule("http").Error("panic",
					zap.String("path", c.Request.URL.Path),
					zap.String("request_id", c.GetString(contextRequestID)),
					zap.Any("error", r),
				)
				response.Error(c, apperrors.ErrInternalServer)
				c.Abort()
			}
		}()
		c.Next()
	}
}

// NotFoundHandler returns a JSON 404 response for unknown routes.
func NotFoundHandler(c *gin.Context) {
	appErr := *apperrors.ErrNotFound
	appErr.Message = fmt.Sprintf("route %s not found", c.Request.URL.Path)
	response.Error(c, &appErr)
}
