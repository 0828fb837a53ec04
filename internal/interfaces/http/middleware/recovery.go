package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

// Recovery turns a handler panic into a 500 response and logs the stack.
func Recovery(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.Error("Recovered from handler panic",
				logging.Any("panic", rec),
				logging.String("method", c.Request.Method),
				logging.String("path", c.Request.URL.Path),
				logging.String(logging.KeyRequestID, GetRequestID(c)),
				logging.String("stack", string(debug.Stack())),
			)
			WriteError(c, errors.Internal("internal server error"))
		}()
		c.Next()
	}
}
