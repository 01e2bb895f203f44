package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"bookstore/internal/model"
	"bookstore/internal/pkg/apperr"
	"bookstore/internal/pkg/metrics"
	"bookstore/internal/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// maxPasswordBytes 是 bcrypt 可处理的最大密码字节数。
const maxPasswordBytes = 72

// invalidCredentialsMessage 对"用户不存在"和"密码错误"返回同一提示，避免枚举邮箱。
const invalidCredentialsMessage = "invalid email or password"

var authMessages = validation.Messages{
	"email.email": "Please enter correct email",
}

// Notifier 在注册成功后发送欢迎通知，实现方需保证不阻塞请求。
type Notifier interface {
	Welcome(name, email string)
}

// Handler 提供注册与登录接口。
type Handler struct {
	users      UserStore
	tokens     *TokenService
	notifier   Notifier
	bcryptCost int
	logger     *slog.Logger

	dummyOnce sync.Once
	dummyHash []byte
}

// NewHandler 创建 Auth Handler。
func NewHandler(users UserStore, tokens *TokenService, notifier Notifier, bcryptCost int, logger *slog.Logger) *Handler {
	validation.Setup()
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Handler{
		users:      users,
		tokens:     tokens,
		notifier:   notifier,
		bcryptCost: bcryptCost,
		logger:     logger,
	}
}

type signupRequest struct {
	Name     string       `json:"name" binding:"required"`
	Email    string       `json:"email" binding:"required,email"`
	Password string       `json:"password" binding:"required,min=6,max=72"`
	Role     []model.Role `json:"role" binding:"omitempty,dive,oneof=user moderator admin"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=72"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Signup 创建新用户并返回访问令牌。
func (h *Handler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, h.logger, validation.FromBindError(err, authMessages))
		return
	}

	user, err := h.register(c.Request.Context(), req.Name, req.Email, req.Password, req.Role)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}

	token, err := h.tokens.Issue(user.ID, user.Roles)
	if err != nil {
		apperr.Respond(c, h.logger, fmt.Errorf("signup: %w", err))
		return
	}

	if h.notifier != nil {
		h.notifier.Welcome(user.Name, user.Email)
	}
	if h.logger != nil {
		h.logger.Info("user signed up", slog.String("user_id", user.ID), slog.String("email", user.Email))
	}
	c.JSON(http.StatusCreated, tokenResponse{Token: token})
}

// Login 校验用户并返回访问令牌。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, h.logger, validation.FromBindError(err, authMessages))
		return
	}

	user, err := h.authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}

	token, err := h.tokens.Issue(user.ID, user.Roles)
	if err != nil {
		apperr.Respond(c, h.logger, fmt.Errorf("login: %w", err))
		return
	}

	if h.logger != nil {
		h.logger.Info("user logged in", slog.String("user_id", user.ID))
	}
	c.JSON(http.StatusOK, tokenResponse{Token: token})
}

// EnsureUser 在用户不存在时创建，用于启动时初始化管理员。
func (h *Handler) EnsureUser(ctx context.Context, name, email, password string, roles []model.Role) (bool, error) {
	_, err := h.users.FindByEmail(ctx, email)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return false, err
	}
	if _, err := h.register(ctx, name, email, password, roles); err != nil {
		if apperr.IsKind(err, apperr.KindDuplicateEmail) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (h *Handler) register(ctx context.Context, name, email, password string, roles []model.Role) (*model.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("validation failed", map[string]string{"name": "is required"})
	}
	if len(password) > maxPasswordBytes {
		return nil, passwordTooLong()
	}
	email = normalizeEmail(email)

	_, err := h.users.FindByEmail(ctx, email)
	if err == nil {
		return nil, apperr.New(apperr.KindDuplicateEmail, "Duplicate email entered")
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.bcryptCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, passwordTooLong()
	}
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		ID:       uuid.NewString(),
		Name:     name,
		Email:    email,
		Password: string(hash),
		Roles:    normalizeRoles(roles),
	}
	// 唯一索引是并发注册时的最终保障
	if err := h.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, apperr.New(apperr.KindDuplicateEmail, "Duplicate email entered")
		}
		return nil, err
	}
	return user, nil
}

func passwordTooLong() *apperr.Error {
	return apperr.Validation("validation failed", map[string]string{
		"password": fmt.Sprintf("must be at most %d bytes", maxPasswordBytes),
	})
}

func (h *Handler) authenticate(ctx context.Context, email, password string) (*model.User, error) {
	user, err := h.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return nil, fmt.Errorf("lookup user: %w", err)
		}
		// 保持与密码错误相近的耗时
		_ = bcrypt.CompareHashAndPassword(h.dummy(), []byte(password))
		metrics.AuthFailuresTotal.WithLabelValues("invalid_credentials").Inc()
		return nil, apperr.New(apperr.KindInvalidCredentials, invalidCredentialsMessage)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		metrics.AuthFailuresTotal.WithLabelValues("invalid_credentials").Inc()
		return nil, apperr.New(apperr.KindInvalidCredentials, invalidCredentialsMessage)
	}
	return user, nil
}

func (h *Handler) dummy() []byte {
	h.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), h.bcryptCost)
		if err == nil {
			h.dummyHash = hash
		}
	})
	return h.dummyHash
}

// normalizeRoles 去重，未指定时默认 {user}。
func normalizeRoles(roles []model.Role) []model.Role {
	out := make([]model.Role, 0, len(roles))
	seen := make(map[model.Role]bool, len(roles))
	for _, r := range roles {
		if !r.Valid() || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	if len(out) == 0 {
		out = append(out, model.RoleUser)
	}
	return out
}
