package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"strings"

	"bookstore/internal/pkg/apperr"

	"github.com/gin-gonic/gin"
)

// errKeyCollision 表示替换 '$' 后对象中出现重复键。
var errKeyCollision = errors.New("duplicate key after sanitization")

// Sanitize 重写 JSON 请求体：对象键中的 '$' 替换为 '_'，防止查询操作符注入。
// 非 JSON 或无法解析的请求体原样放行，由后续绑定返回 400。
// 替换后与同级已有键重名（如 "a$" 与 "a_"）的请求直接拒绝。
func Sanitize(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body == nil || !isJSON(c.GetHeader("Content-Type")) {
			c.Next()
			return
		}

		raw, err := io.ReadAll(c.Request.Body)
		_ = c.Request.Body.Close()
		if err != nil {
			c.Request.Body = io.NopCloser(bytes.NewReader(raw))
			c.Next()
			return
		}

		clean, err := sanitizeJSON(raw)
		if err != nil {
			apperr.Respond(c, logger, apperr.Validation("validation failed", map[string]string{
				"body": err.Error(),
			}))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(clean))
		c.Request.ContentLength = -1
		c.Next()
	}
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func sanitizeJSON(raw []byte) ([]byte, error) {
	if !bytes.ContainsRune(raw, '$') {
		return raw, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return raw, nil
	}
	clean, err := sanitizeValue(v)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(clean)
	if err != nil {
		return raw, nil
	}
	return out, nil
}

func sanitizeValue(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		clean := make(map[string]any, len(t))
		for k, val := range t {
			key := strings.ReplaceAll(k, "$", "_")
			if _, dup := clean[key]; dup {
				return nil, errKeyCollision
			}
			sv, err := sanitizeValue(val)
			if err != nil {
				return nil, err
			}
			clean[key] = sv
		}
		return clean, nil
	case []any:
		for i := range t {
			sv, err := sanitizeValue(t[i])
			if err != nil {
				return nil, err
			}
			t[i] = sv
		}
		return t, nil
	default:
		return v, nil
	}
}
