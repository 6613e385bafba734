package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nulzo/refract/pkg/api"
)

// ErrorHandler renders errors attached by handlers as RFC 9457 problem
// documents. Handlers call c.Error(err) and return; classification and
// status mapping happen here in one place.
func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		if c.Writer.Written() {
			// A handler already streamed a body; too late for a problem
			// document.
			return
		}

		err := c.Errors.Last().Err
		problem := api.AsProblem(err)

		if problem.Status >= 500 {
			logger.Error("request failed",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err),
			)
		}

		c.Header("Content-Type", "application/problem+json")
		c.AbortWithStatusJSON(problem.Status, problem)
	}
}
