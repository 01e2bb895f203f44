package middleware

import (
	"errors"
	"log/slog"
	"strings"

	"bookstore/internal/api/auth"
	"bookstore/internal/model"
	"bookstore/internal/pkg/apperr"
	"bookstore/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// TokenVerifier 校验访问令牌。
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// Authenticate 校验 Bearer 令牌并将身份写入上下文。
func Authenticate(verifier TokenVerifier, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			metrics.AuthFailuresTotal.WithLabelValues("missing").Inc()
			apperr.Respond(c, logger, apperr.Unauthenticated("missing authorization"))
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			metrics.AuthFailuresTotal.WithLabelValues("missing").Inc()
			apperr.Respond(c, logger, apperr.Unauthenticated("invalid authorization header"))
			return
		}

		id, err := verifier.Verify(strings.TrimSpace(parts[1]))
		if err != nil {
			reason, msg := describeTokenError(err)
			metrics.AuthFailuresTotal.WithLabelValues(reason).Inc()
			apperr.Respond(c, logger, apperr.Unauthenticated(msg))
			return
		}

		c.Set(identityKey, id)
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// Authorize 要求身份角色与 allowed 存在交集，角色之间不做继承。
func Authorize(logger *slog.Logger, allowed ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := GetIdentity(c)
		if !ok {
			metrics.AuthFailuresTotal.WithLabelValues("missing").Inc()
			apperr.Respond(c, logger, apperr.Unauthenticated("missing authorization"))
			return
		}
		if !id.HasAnyRole(allowed...) {
			metrics.AuthFailuresTotal.WithLabelValues("forbidden").Inc()
			if logger != nil {
				logger.Info("access denied",
					slog.String("user_id", id.UserID),
					slog.String("path", c.FullPath()),
				)
			}
			apperr.Respond(c, logger, apperr.Forbidden("insufficient role"))
			return
		}
		c.Next()
	}
}

// GetIdentity 读取 Authenticate 写入的身份。
func GetIdentity(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}

func describeTokenError(err error) (string, string) {
	switch {
	case errors.Is(err, auth.ErrExpired):
		return "expired", "token expired"
	case errors.Is(err, auth.ErrInvalidSignature):
		return "invalid_signature", "invalid token signature"
	default:
		return "malformed", "malformed token"
	}
}
