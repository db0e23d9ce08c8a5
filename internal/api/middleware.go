package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"memotag-notifier/internal/common/logger"
)

// Recovery turns a handler panic into a 500 and logs it.
func Recovery(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("handler panic", map[string]interface{}{
					"path":  c.Request.URL.Path,
					"panic": fmt.Sprint(r),
				})
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code":  "INTERNAL_ERROR",
					"error": "internal server error",
				})
			}
		}()
		c.Next()
	}
}

func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request", map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
	}
}

// InternalAuth requires "Authorization: Bearer <token>". An empty token
// disables the check.
func InternalAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "UNAUTHORIZED",
				"error": "missing or invalid internal token",
			})
			return
		}
		c.Next()
	}
}
