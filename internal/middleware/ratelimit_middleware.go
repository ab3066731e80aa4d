package middleware

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"sentinal-realtime/internal/redis"
	"sentinal-realtime/internal/transport/httpdto"
	sentinal_errors "sentinal-realtime/pkg/errors"
)

// HandshakeRateLimitMiddleware limits websocket handshakes per client IP.
// A Redis failure lets the request through.
func HandshakeRateLimitMiddleware(limiter *redis.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := limiter.CheckAndIncrement(c.Request.Context(), c.ClientIP())
		if result != nil {
			setRateLimitHeaders(c, result)
		}

		if errors.Is(err, sentinal_errors.ErrRateLimited) {
			c.JSON(http.StatusTooManyRequests, httpdto.NewErrorResponse(err))
			c.Abort()
			return
		}
		c.Next()
	}
}

// setRateLimitHeaders sets standard rate limit response headers
func setRateLimitHeaders(c *gin.Context, result *redis.RateLimitResult) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(result.ResetIn.Seconds()), 10))
}
