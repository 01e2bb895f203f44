package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"bookstore/internal/model"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidSignature 签名与内容不匹配。
	ErrInvalidSignature = errors.New("token signature is invalid")
	// ErrExpired 当前时间已超过 exp。
	ErrExpired = errors.New("token has expired")
	// ErrMalformed 令牌无法解码为预期结构。
	ErrMalformed = errors.New("token is malformed")
)

// Identity 是从访问令牌中解出的调用者身份。
type Identity struct {
	UserID string
	Roles  []model.Role
}

// HasAnyRole 判断身份是否命中 allowed 中的任一角色。
func (i Identity) HasAnyRole(allowed ...model.Role) bool {
	return model.HasAnyRole(i.Roles, allowed)
}

type identityKey struct{}

// WithIdentity 将身份写入 context。
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom 从 context 读取身份。
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

type customClaims struct {
	jwt.RegisteredClaims
	Roles []model.Role `json:"roles"`
}

// TokenService 签发并校验 HS256 访问令牌，校验过程不访问任何存储。
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService 创建令牌服务。secret 在进程启动时加载一次。
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue 为用户签发访问令牌，exp = iat + ttl。
func (s *TokenService) Issue(userID string, roles []model.Role) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("issue token: empty user id")
	}
	now := s.now()
	claims := customClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Roles: roles,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify 校验令牌并返回身份。
//
// 签名在解码 claims 之前校验，因此任何字节被篡改都会得到 ErrInvalidSignature，
// 除非篡改破坏了三段式结构（此时为 ErrMalformed）。
func (s *TokenService) Verify(tokenString string) (Identity, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return Identity{}, ErrMalformed
	}

	sig, err := base64.RawURLEncoding.Strict().DecodeString(parts[2])
	if err != nil {
		return Identity{}, ErrInvalidSignature
	}
	if err := jwt.SigningMethodHS256.Verify(parts[0]+"."+parts[1], sig, s.secret); err != nil {
		return Identity{}, ErrInvalidSignature
	}

	claims := &customClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
	)
	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return Identity{}, mapJWTError(err)
	}
	if !token.Valid || claims.Subject == "" {
		return Identity{}, ErrMalformed
	}
	for _, r := range claims.Roles {
		if !r.Valid() {
			return Identity{}, ErrMalformed
		}
	}

	return Identity{UserID: claims.Subject, Roles: claims.Roles}, nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrSignatureInvalid):
		return ErrInvalidSignature
	default:
		return ErrMalformed
	}
}
