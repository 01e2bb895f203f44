package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"bookstore/internal/model"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

type memUserStore struct {
	mu        sync.Mutex
	users     map[string]*model.User
	findErr   error
	createErr error
	creates   int
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: map[string]*model.User{}}
}

func (m *memUserStore) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	u, ok := m.users[normalizeEmail(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUserStore) Create(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.createErr != nil {
		return m.createErr
	}
	key := normalizeEmail(user.Email)
	if _, ok := m.users[key]; ok {
		return ErrDuplicateEmail
	}
	cp := *user
	m.users[key] = &cp
	return nil
}

type recordingNotifier struct {
	calls []string
}

func (n *recordingNotifier) Welcome(name, email string) {
	n.calls = append(n.calls, name+"<"+email+">")
}

type fixture struct {
	store    *memUserStore
	tokens   *TokenService
	notifier *recordingNotifier
	handler  *Handler
	router   *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{
		store:    newMemUserStore(),
		tokens:   NewTokenService("test-secret", 3*time.Hour),
		notifier: &recordingNotifier{},
	}
	f.handler = NewHandler(f.store, f.tokens, f.notifier, bcrypt.MinCost, logger)

	r := gin.New()
	r.POST("/auth/signup", f.handler.Signup)
	r.POST("/auth/login", f.handler.Login)
	f.router = r
	return f
}

func (f *fixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	switch b := body.(type) {
	case string:
		payload = []byte(b)
	default:
		var err error
		payload, err = json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

type errorBody struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var b errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, w.Body.String())
	}
	return b
}

func decodeToken(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var b tokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode token body: %v", err)
	}
	if b.Token == "" {
		t.Fatalf("empty token in %s", w.Body.String())
	}
	return b.Token
}

func TestSignup_IssuesTokenForPersistedUser(t *testing.T) {
	f := newFixture(t)

	w := f.post(t, "/auth/signup", map[string]any{"name": "Jo", "email": "Jo@X.com", "password": "secret1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	token := decodeToken(t, w)

	stored, err := f.store.FindByEmail(context.Background(), "jo@x.com")
	if err != nil {
		t.Fatalf("user not persisted: %v", err)
	}
	if stored.Email != "jo@x.com" {
		t.Fatalf("email not normalized: %q", stored.Email)
	}
	if stored.Password == "secret1" {
		t.Fatalf("password stored in plaintext")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.Password), []byte("secret1")); err != nil {
		t.Fatalf("stored hash does not match: %v", err)
	}

	id, err := f.tokens.Verify(token)
	if err != nil {
		t.Fatalf("verify issued token: %v", err)
	}
	if id.UserID != stored.ID {
		t.Fatalf("token subject %q != user id %q", id.UserID, stored.ID)
	}
	if len(id.Roles) != 1 || id.Roles[0] != model.RoleUser {
		t.Fatalf("expected default role user, got %v", id.Roles)
	}
	if len(f.notifier.calls) != 1 {
		t.Fatalf("expected welcome notification, got %v", f.notifier.calls)
	}
}

func TestSignup_ExplicitRoles(t *testing.T) {
	f := newFixture(t)

	w := f.post(t, "/auth/signup", map[string]any{
		"name": "Mo", "email": "mo@x.com", "password": "secret1",
		"role": []string{"moderator", "admin", "moderator"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	id, err := f.tokens.Verify(decodeToken(t, w))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(id.Roles) != 2 || id.Roles[0] != model.RoleModerator || id.Roles[1] != model.RoleAdmin {
		t.Fatalf("unexpected roles: %v", id.Roles)
	}
}

func TestSignup_ValidationErrors(t *testing.T) {
	cases := []struct {
		name  string
		body  any
		field string
	}{
		{"missing name", map[string]any{"email": "a@x.com", "password": "secret1"}, "name"},
		{"blank name", map[string]any{"name": "   ", "email": "a@x.com", "password": "secret1"}, "name"},
		{"bad email", map[string]any{"name": "A", "email": "not-an-email", "password": "secret1"}, "email"},
		{"short password", map[string]any{"name": "A", "email": "a@x.com", "password": "12345"}, "password"},
		{"multibyte password over 72 bytes", map[string]any{"name": "A", "email": "a@x.com", "password": strings.Repeat("é", 40)}, "password"},
		{"unknown role", map[string]any{"name": "A", "email": "a@x.com", "password": "secret1", "role": []string{"root"}}, "role[0]"},
		{"unknown field", map[string]any{"name": "A", "email": "a@x.com", "password": "secret1", "isAdmin": true}, "isAdmin"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			w := f.post(t, "/auth/signup", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			b := decodeError(t, w)
			if b.Code != "validation_error" {
				t.Fatalf("expected validation_error, got %q", b.Code)
			}
			if _, ok := b.Fields[tc.field]; !ok {
				t.Fatalf("expected field %q in %v", tc.field, b.Fields)
			}
			if f.store.creates != 0 {
				t.Fatalf("store must not be touched on validation failure")
			}
		})
	}
}

func TestSignup_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	if w := f.post(t, "/auth/signup", map[string]any{"name": "Jo", "email": "jo@x.com", "password": "secret1"}); w.Code != http.StatusCreated {
		t.Fatalf("first signup: %d", w.Code)
	}
	original, _ := f.store.FindByEmail(context.Background(), "jo@x.com")

	w := f.post(t, "/auth/signup", map[string]any{"name": "Other", "email": "JO@x.com", "password": "another1"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	if b := decodeError(t, w); b.Code != "duplicate_email" {
		t.Fatalf("expected duplicate_email, got %q", b.Code)
	}

	after, _ := f.store.FindByEmail(context.Background(), "jo@x.com")
	if after.ID != original.ID || after.Name != "Jo" || after.Password != original.Password {
		t.Fatalf("existing user was overwritten")
	}
}

func TestSignup_DuplicateFromStoreBackstop(t *testing.T) {
	f := newFixture(t)
	f.store.createErr = ErrDuplicateEmail

	w := f.post(t, "/auth/signup", map[string]any{"name": "Jo", "email": "jo@x.com", "password": "secret1"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestSignup_StoreFailure(t *testing.T) {
	f := newFixture(t)
	f.store.findErr = errors.New("connection refused")

	w := f.post(t, "/auth/signup", map[string]any{"name": "Jo", "email": "jo@x.com", "password": "secret1"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("connection refused")) {
		t.Fatalf("internal cause leaked: %s", w.Body.String())
	}
}

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	f.post(t, "/auth/signup", map[string]any{"name": "Jo", "email": "jo@x.com", "password": "secret1"})

	w := f.post(t, "/auth/login", map[string]any{"email": "JO@x.com", "password": "secret1"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if _, err := f.tokens.Verify(decodeToken(t, w)); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestLogin_NoEnumeration(t *testing.T) {
	f := newFixture(t)
	f.post(t, "/auth/signup", map[string]any{"name": "Jo", "email": "jo@x.com", "password": "secret1"})

	wrongPassword := f.post(t, "/auth/login", map[string]any{"email": "jo@x.com", "password": "wrong-one"})
	unknownEmail := f.post(t, "/auth/login", map[string]any{"email": "nobody@x.com", "password": "secret1"})

	if wrongPassword.Code != http.StatusUnauthorized || unknownEmail.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401/401, got %d/%d", wrongPassword.Code, unknownEmail.Code)
	}
	if wrongPassword.Body.String() != unknownEmail.Body.String() {
		t.Fatalf("responses differ: %s vs %s", wrongPassword.Body.String(), unknownEmail.Body.String())
	}
	if b := decodeError(t, unknownEmail); b.Code != "invalid_credentials" || b.Error != invalidCredentialsMessage {
		t.Fatalf("unexpected body: %+v", b)
	}
}

func TestLogin_Validation(t *testing.T) {
	f := newFixture(t)
	w := f.post(t, "/auth/login", map[string]any{"email": "jo@x.com", "password": "123"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	w = f.post(t, "/auth/login", "{")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on malformed body, got %d", w.Code)
	}
}

func TestEnsureUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.handler.EnsureUser(ctx, "Admin", "admin@x.com", "secret1", []model.Role{model.RoleAdmin})
	if err != nil || !created {
		t.Fatalf("expected admin to be created, created=%v err=%v", created, err)
	}
	created, err = f.handler.EnsureUser(ctx, "Admin", "admin@x.com", "secret1", []model.Role{model.RoleAdmin})
	if err != nil || created {
		t.Fatalf("expected no-op on second call, created=%v err=%v", created, err)
	}
	u, _ := f.store.FindByEmail(ctx, "admin@x.com")
	if len(u.Roles) != 1 || u.Roles[0] != model.RoleAdmin {
		t.Fatalf("unexpected roles %v", u.Roles)
	}
}
