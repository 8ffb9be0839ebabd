package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// BodyLimit caps request bodies at limit bytes. Requests that declare a larger
// Content-Length are refused up front; streamed bodies fail on read with
// *http.MaxBytesError, which handlers map through IsBodyTooLarge.
func BodyLimit(limit int64, display string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			AbortBodyTooLarge(c, display)
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Set("max_body_display", display)
		c.Next()
	}
}

// AbortBodyTooLarge writes the 413 response.
func AbortBodyTooLarge(c *gin.Context, display string) {
	if display == "" {
		if v, ok := c.Get("max_body_display"); ok {
			display, _ = v.(string)
		}
	}
	c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
		"error":    "File size too large",
		"max_size": display,
	})
}

// IsBodyTooLarge reports whether err came from the body cap. Some multipart
// paths flatten the error to text, so the message is checked as well.
func IsBodyTooLarge(err error) bool {
	if err == nil {
		return false
	}
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}
