package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"

	"bookstore/internal/pkg/apperr"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var setupOnce sync.Once

// Setup 配置 gin 的绑定行为：拒绝未声明字段，校验错误使用 json/form 字段名。
func Setup() {
	setupOnce.Do(func() {
		binding.EnableDecoderDisallowUnknownFields = true
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			v.RegisterTagNameFunc(fieldName)
		}
	})
}

func fieldName(fld reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return fld.Name
}

// Messages 覆盖默认的字段提示，key 为 "field" 或 "field.tag"。
type Messages map[string]string

// FromBindError 将 gin 绑定/校验错误转换为带字段信息的 ValidationError。
func FromBindError(err error, overrides Messages) *apperr.Error {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			name := fe.Field()
			if _, seen := fields[name]; seen {
				continue
			}
			fields[name] = messageFor(fe, overrides)
		}
		return apperr.Validation("validation failed", fields)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		name := typeErr.Field
		if name == "" {
			return apperr.Validation("request body has an invalid shape", nil)
		}
		return apperr.Validation("validation failed", map[string]string{
			name: fmt.Sprintf("must be of type %s", typeErr.Type.String()),
		})
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return apperr.Validation("request body must be valid JSON", nil)
	}

	if name, ok := unknownField(err); ok {
		msg := "property " + name + " should not exist"
		if m, ok := overrides[name]; ok {
			msg = m
		}
		return apperr.Validation("validation failed", map[string]string{name: msg})
	}

	return apperr.Validation(err.Error(), nil)
}

// unknownField 解析 encoding/json 的 DisallowUnknownFields 错误。
func unknownField(err error) (string, bool) {
	const prefix = `json: unknown field "`
	msg := err.Error()
	if !strings.HasPrefix(msg, prefix) {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(msg, prefix), `"`), true
}

func messageFor(fe validator.FieldError, overrides Messages) string {
	field := baseField(fe.Field())
	if m, ok := overrides[field+"."+fe.Tag()]; ok {
		return m
	}
	if m, ok := overrides[field]; ok {
		return m
	}

	isString := fe.Kind() == reflect.String
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		if isString {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must not be less than %s", fe.Param())
	case "max":
		if isString {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must not be greater than %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must not be less than %s", fe.Param())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "isdefault":
		return "must not be set"
	case "uuid", "uuid4":
		return "must be a valid id"
	default:
		return fmt.Sprintf("failed on %s", fe.Tag())
	}
}

// baseField 去掉切片下标，如 "role[0]" -> "role"。
func baseField(name string) string {
	if i := strings.IndexByte(name, '['); i >= 0 {
		return name[:i]
	}
	return name
}
