package api

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger is a Gin middleware that logs every request with the queue
// directory it targeted (when present), method, path, status code, and
// latency.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		dir := c.Param("dir")
		if dir == "" {
			dir = "-"
		}
		log.Printf("[%s] dir=%s %s %s | %d | %s",
			c.Request.Method,
			dir,
			c.Request.URL.Path,
			c.ClientIP(),
			c.Writer.Status(),
			time.Since(start),
		)
	}
}

// Recovery is used in place of Gin's default recovery: it logs panics with
// the request's dir parameter and answers with this package's own error
// envelope shape.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("PANIC recovered: dir=%s err=%v", c.Param("dir"), err)
				c.AbortWithStatusJSON(500, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}
