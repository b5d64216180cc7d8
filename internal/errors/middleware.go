package errors

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorHandler renders any *Error left on the gin context in the façade's
// wire format and logs it at a severity derived from its HTTP status.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		var appErr *Error
		if e, ok := err.(*Error); ok {
			appErr = e
		} else {
			appErr = Wrap(ExternalFailure, "unhandled error", err)
		}

		status := httpStatus(appErr.Kind)
		if status >= 500 {
			log.Printf("[ERROR] %s - %s", appErr.Kind, appErr.Message)
		} else {
			log.Printf("[WARN] %s - %s", appErr.Kind, appErr.Message)
		}
		c.JSON(status, appErr.ToResponse())
	}
}

// Recovery converts a panic in a handler into an ExternalFailure response
// instead of crashing the admin surface.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[PANIC] recovered: %v", r)
				appErr := Newf(ExternalFailure, "internal error: %v", r)
				c.JSON(http.StatusInternalServerError, appErr.ToResponse())
				c.Abort()
			}
		}()
		c.Next()
	}
}

// AbortWithError aborts the request with err rendered in the façade's wire format.
func AbortWithError(c *gin.Context, err *Error) {
	c.Error(err)
	c.AbortWithStatusJSON(httpStatus(err.Kind), err.ToResponse())
}
