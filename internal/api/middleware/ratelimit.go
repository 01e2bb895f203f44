package middleware

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"time"

	"bookstore/internal/pkg/apperr"
	"bookstore/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// Limiter 判断某个 key 是否允许继续请求。
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// RateLimit 按 "路由 + 客户端 IP" 限流，超限返回 429 并带 Retry-After。
// 限流存储不可用时放行并记录告警。
func RateLimit(limiter Limiter, route string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		allowed, wait, err := limiter.Allow(c.Request.Context(), route+":"+c.ClientIP())
		if err != nil {
			if logger != nil {
				logger.Warn("rate limiter unavailable, allowing request",
					slog.String("route", route),
					slog.String("error", err.Error()),
				)
			}
			c.Next()
			return
		}
		if !allowed {
			metrics.RateLimitRejectedTotal.WithLabelValues(route).Inc()
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
			apperr.Respond(c, logger, apperr.New(apperr.KindRateLimited, "Too many requests, please try again later."))
			return
		}
		c.Next()
	}
}

func retryAfterSeconds(wait time.Duration) int {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
