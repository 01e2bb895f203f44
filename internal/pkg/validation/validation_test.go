package validation

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"bookstore/internal/pkg/apperr"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signupLike struct {
	Name     string   `json:"name" binding:"required"`
	Email    string   `json:"email" binding:"required,email"`
	Password string   `json:"password" binding:"required,min=6"`
	Role     []string `json:"role" binding:"omitempty,dive,oneof=user moderator admin"`
	Price    float64  `json:"price"`
}

func bind(t *testing.T, body string) error {
	t.Helper()
	Setup()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	c.Request.Header.Set("Content-Type", "application/json")
	var req signupLike
	return c.ShouldBindJSON(&req)
}

func TestFromBindError_FieldMessages(t *testing.T) {
	err := bind(t, `{"name":"","email":"nope","password":"123"}`)
	require.Error(t, err)

	e := FromBindError(err, Messages{"email.email": "Please enter correct email"})
	assert.Equal(t, apperr.KindValidation, e.Kind)
	assert.Equal(t, "is required", e.Fields["name"])
	assert.Equal(t, "Please enter correct email", e.Fields["email"])
	assert.Equal(t, "must be at least 6 characters", e.Fields["password"])
}

func TestFromBindError_DiveUsesIndexedName(t *testing.T) {
	err := bind(t, `{"name":"Jo","email":"jo@x.com","password":"secret1","role":["user","root"]}`)
	require.Error(t, err)

	e := FromBindError(err, nil)
	assert.Equal(t, "must be one of: user, moderator, admin", e.Fields["role[1]"])
}

func TestFromBindError_UnknownField(t *testing.T) {
	err := bind(t, `{"name":"Jo","email":"jo@x.com","password":"secret1","isAdmin":true}`)
	require.Error(t, err)

	e := FromBindError(err, nil)
	assert.Equal(t, "property isAdmin should not exist", e.Fields["isAdmin"])
}

func TestFromBindError_TypeAndSyntax(t *testing.T) {
	err := bind(t, `{"name":"Jo","email":"jo@x.com","password":"secret1","price":"cheap"}`)
	require.Error(t, err)
	e := FromBindError(err, nil)
	assert.Contains(t, e.Fields["price"], "float64")

	err = bind(t, `{`)
	require.Error(t, err)
	assert.Equal(t, "request body must be valid JSON", FromBindError(err, nil).Message)
}

func TestFromBindError_Fallback(t *testing.T) {
	e := FromBindError(errors.New("odd"), nil)
	assert.Equal(t, apperr.KindValidation, e.Kind)
	assert.Equal(t, "odd", e.Message)
	assert.Nil(t, FromBindError(nil, nil))
}
