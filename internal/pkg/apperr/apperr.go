package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 标识错误类别，同时作为响应体中的 code 字段。
type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindUnprocessable      Kind = "unprocessable"
	KindUnauthenticated    Kind = "unauthenticated"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindForbidden          Kind = "forbidden"
	KindDuplicateEmail     Kind = "duplicate_email"
	KindNotFound           Kind = "not_found"
	KindRateLimited        Kind = "rate_limited"
	KindUpstream           Kind = "upstream_failure"
	KindInternal           Kind = "internal"
)

var kindStatus = map[Kind]int{
	KindValidation:         http.StatusBadRequest,
	KindUnprocessable:      http.StatusUnprocessableEntity,
	KindUnauthenticated:    http.StatusUnauthorized,
	KindInvalidCredentials: http.StatusUnauthorized,
	KindForbidden:          http.StatusForbidden,
	KindDuplicateEmail:     http.StatusConflict,
	KindNotFound:           http.StatusNotFound,
	KindRateLimited:        http.StatusTooManyRequests,
	KindUpstream:           http.StatusBadGateway,
	KindInternal:           http.StatusInternalServerError,
}

// Error 是对外可见的请求级错误。
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]string // 字段级校验信息，仅 KindValidation 使用
	Err     error             // 底层原因，不返回给客户端
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Status 返回对应的 HTTP 状态码。
func (e *Error) Status() int {
	if s, ok := kindStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New 创建一个指定类别的错误。
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap 创建带底层原因的错误。
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

func Unauthenticated(message string) *Error { return New(KindUnauthenticated, message) }

func Forbidden(message string) *Error { return New(KindForbidden, message) }

func NotFound(message string) *Error { return New(KindNotFound, message) }

func Upstream(message string, err error) *Error { return Wrap(KindUpstream, message, err) }

// As 提取 *Error；非 *Error 的错误按内部错误处理。
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(KindInternal, "internal server error", err)
}

// IsKind 判断 err 是否为指定类别。
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
