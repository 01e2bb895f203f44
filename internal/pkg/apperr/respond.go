package apperr

import (
	"log/slog"

	"github.com/gin-gonic/gin"
)

// Respond 写出错误响应并中止后续 handler。
//
// 内部错误与上游错误会被记录，底层原因不会出现在响应体中。
func Respond(c *gin.Context, logger *slog.Logger, err error) {
	e := As(err)
	if e == nil {
		return
	}
	if logger != nil && (e.Kind == KindInternal || e.Kind == KindUpstream) {
		logger.Error("request failed",
			slog.String("path", c.FullPath()),
			slog.String("kind", string(e.Kind)),
			slog.String("error", e.Error()),
		)
	}
	body := gin.H{"error": e.Message, "code": e.Kind}
	if len(e.Fields) > 0 {
		body["fields"] = e.Fields
	}
	c.AbortWithStatusJSON(e.Status(), body)
}
