package auth

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/saidmaadan/inventtiveapp/internal/config"
	"github.com/saidmaadan/inventtiveapp/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func newGoogleTestRouter(t *testing.T) (*gin.Engine, *Handler, *gorm.DB, *redis.Client) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testDB(t)
	rdb := testRedis(t)
	cfg := testConfig()
	cfg.OAuth = config.OAuthConfig{
		GoogleClientID:     "test-client-id",
		GoogleClientSecret: "test-client-secret",
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	h := NewHandler(db, rdb, cfg, newMockMailer(), logger)

	r := gin.New()
	r.GET("/api/auth/google/login", h.GoogleLogin)
	r.GET("/api/auth/google/callback", h.GoogleCallback)
	return r, h, db, rdb
}

func googleTestContext(t *testing.T) *gin.Context {
	t.Helper()
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c
}

func TestGoogleUpsertCreatesVerifiedUser(t *testing.T) {
	_, h, db, _ := newGoogleTestRouter(t)

	user, err := h.upsertGoogleUser(googleTestContext(t), &googleUser{
		Email:         "G-User@Example.com",
		EmailVerified: true,
		Name:          "G User",
		Picture:       "https://example.com/avatar.png",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if user.Email != "g-user@example.com" {
		t.Fatalf("expected lowercased email, got %q", user.Email)
	}
	if user.Role != model.RoleUser {
		t.Fatalf("expected role USER, got %q", user.Role)
	}

	// Google 邮箱视为已验证，首次登录即写库
	var stored model.User
	if err := db.Where("email = ?", "g-user@example.com").First(&stored).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if !stored.Verified() {
		t.Fatal("expected account to be verified on first sign-in")
	}
	if stored.Image != "https://example.com/avatar.png" {
		t.Fatalf("expected picture to be stored, got %q", stored.Image)
	}
}

func TestGoogleUpsertBackfillsExistingAccount(t *testing.T) {
	_, h, db, _ := newGoogleTestRouter(t)

	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	seeded := model.User{
		Email:    "hank@example.com",
		Password: string(hash),
		Name:     "Hank",
		Role:     model.RoleUser,
		// 凭据注册但尚未点验证链接
	}
	if err := db.Create(&seeded).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	user, err := h.upsertGoogleUser(googleTestContext(t), &googleUser{
		Email:         "Hank@Example.com",
		EmailVerified: true,
		Name:          "Hank G",
		Picture:       "https://example.com/hank.png",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if user.ID != seeded.ID {
		t.Fatalf("expected existing account to be reused, got id %d vs %d", user.ID, seeded.ID)
	}

	var count int64
	if err := db.Model(&model.User{}).Where("email = ?", "hank@example.com").Count(&count).Error; err != nil {
		t.Fatalf("count users: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 account, got %d", count)
	}

	var stored model.User
	if err := db.First(&stored, seeded.ID).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if !stored.Verified() {
		t.Fatal("expected google sign-in to mark the account verified")
	}
	if stored.Image != "https://example.com/hank.png" {
		t.Fatalf("expected image backfill, got %q", stored.Image)
	}
	if stored.Password != string(hash) {
		t.Fatal("password hash must not change on google sign-in")
	}
}

func TestGoogleLoginStoresStateAndRedirects(t *testing.T) {
	r, _, _, rdb := newGoogleTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/google/login", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("expected 307, got %d (%s)", w.Code, w.Body.String())
	}
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	if !strings.Contains(loc.Host, "accounts.google.com") {
		t.Fatalf("unexpected redirect host: %s", loc.Host)
	}
	state := loc.Query().Get("state")
	if state == "" {
		t.Fatal("expected state in redirect URL")
	}

	n, err := rdb.Exists(req.Context(), oauthStatePrefix+state).Result()
	if err != nil {
		t.Fatalf("check state key: %v", err)
	}
	if n != 1 {
		t.Fatal("expected state to be stored for the callback")
	}
}

func TestGoogleCallbackRejectsUnknownState(t *testing.T) {
	r, _, _, _ := newGoogleTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/google/callback?state=bogus&code=abc", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%s)", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "invalid or expired state") {
		t.Fatalf("unexpected error body: %s", w.Body.String())
	}
}
