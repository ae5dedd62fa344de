package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/saidmaadan/inventtiveapp/internal/config"
	"github.com/saidmaadan/inventtiveapp/internal/model"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	googleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL    = "https://oauth2.googleapis.com/token"
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

	oauthStatePrefix = "inventtive:oauth:state:"
	oauthStateTTL    = 10 * time.Minute
)

// GoogleProvider 实现 Google OAuth 授权码流程。
type GoogleProvider struct {
	clientID     string
	clientSecret string
	callbackURL  string
	httpClient   *http.Client
}

// NewGoogleProvider 创建 Google OAuth provider。
//
// 回调地址未配置时由 baseURL 拼接默认路径。
func NewGoogleProvider(cfg *config.OAuthConfig, baseURL string) *GoogleProvider {
	callback := cfg.GoogleCallbackURL
	if callback == "" {
		callback = strings.TrimRight(baseURL, "/") + "/api/auth/google/callback"
	}
	return &GoogleProvider{
		clientID:     cfg.GoogleClientID,
		clientSecret: cfg.GoogleClientSecret,
		callbackURL:  callback,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled 返回是否配置了 Google OAuth。
func (p *GoogleProvider) Enabled() bool {
	return p.clientID != "" && p.clientSecret != ""
}

// AuthCodeURL 构造 Google 授权页 URL。
func (p *GoogleProvider) AuthCodeURL(state string) string {
	params := url.Values{
		"client_id":     {p.clientID},
		"redirect_uri":  {p.callbackURL},
		"response_type": {"code"},
		"scope":         {"openid email profile"},
		"state":         {state},
		"access_type":   {"offline"},
		"prompt":        {"consent"},
	}
	return googleAuthURL + "?" + params.Encode()
}

// Exchange 用授权码换取 access token。
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (string, error) {
	data := url.Values{
		"client_id":     {p.clientID},
		"client_secret": {p.clientSecret},
		"code":          {code},
		"redirect_uri":  {p.callbackURL},
		"grant_type":    {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, googleTokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token exchange: status %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("token exchange: parse response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", errors.New("token exchange: empty access token")
	}
	return payload.AccessToken, nil
}

// googleUser 是 Google userinfo 端点返回的用户信息。
type googleUser struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// FetchUser 获取已授权用户的信息。
func (p *GoogleProvider) FetchUser(ctx context.Context, accessToken string) (*googleUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, googleUserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch userinfo: status %d", resp.StatusCode)
	}

	var user googleUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("fetch userinfo: parse response: %w", err)
	}
	if user.Email == "" {
		return nil, errors.New("fetch userinfo: empty email")
	}
	return &user, nil
}

// GoogleLogin 重定向到 Google 授权页。
func (h *Handler) GoogleLogin(c *gin.Context) {
	if !h.google.Enabled() {
		c.JSON(http.StatusNotFound, gin.H{"error": "google login is not configured"})
		return
	}

	state, err := randomState()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate state failed"})
		return
	}
	if err := h.rdb.Set(c.Request.Context(), oauthStatePrefix+state, "1", oauthStateTTL).Err(); err != nil {
		h.logger.Error("store oauth state failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store state failed"})
		return
	}

	c.Redirect(http.StatusTemporaryRedirect, h.google.AuthCodeURL(state))
}

// GoogleCallback 处理 Google 回调：校验 state、换取用户信息、登录或建号。
//
// 策略：Google 返回的邮箱视为已验证，首次登录即标记 email_verified_at。
func (h *Handler) GoogleCallback(c *gin.Context) {
	if !h.google.Enabled() {
		c.JSON(http.StatusNotFound, gin.H{"error": "google login is not configured"})
		return
	}

	state := c.Query("state")
	code := c.Query("code")
	if state == "" || code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing state or code"})
		return
	}

	deleted, err := h.rdb.Del(c.Request.Context(), oauthStatePrefix+state).Result()
	if err != nil {
		h.logger.Error("check oauth state failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "check state failed"})
		return
	}
	if deleted == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired state"})
		return
	}

	accessToken, err := h.google.Exchange(c.Request.Context(), code)
	if err != nil {
		h.logger.Warn("google code exchange failed", slog.String("error", err.Error()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "google sign-in failed"})
		return
	}
	profile, err := h.google.FetchUser(c.Request.Context(), accessToken)
	if err != nil {
		h.logger.Warn("google userinfo failed", slog.String("error", err.Error()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "google sign-in failed"})
		return
	}

	user, err := h.upsertGoogleUser(c, profile)
	if err != nil {
		h.logger.Error("upsert google user failed", slog.String("email", profile.Email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "google sign-in failed"})
		return
	}

	token, err := h.issueToken(user)
	if err != nil {
		h.logger.Error("sign token failed", slog.String("email", user.Email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}

	h.logger.Info("user logged in via google", slog.String("email", user.Email))
	c.JSON(http.StatusOK, tokenResponse{Token: token})
}

func (h *Handler) upsertGoogleUser(c *gin.Context, profile *googleUser) (*model.User, error) {
	email := strings.TrimSpace(strings.ToLower(profile.Email))

	var user model.User
	err := h.db.WithContext(c.Request.Context()).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		now := time.Now()
		user = model.User{
			Email:           email,
			Name:            profile.Name,
			Image:           profile.Picture,
			Role:            model.RoleUser,
			EmailVerifiedAt: &now,
		}
		if err := h.db.WithContext(c.Request.Context()).Create(&user).Error; err != nil {
			return nil, err
		}
		return &user, nil
	}
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if !user.Verified() {
		now := time.Now()
		updates["email_verified_at"] = &now
		user.EmailVerifiedAt = &now
	}
	if user.Image == "" && profile.Picture != "" {
		updates["image"] = profile.Picture
		user.Image = profile.Picture
	}
	if len(updates) > 0 {
		if err := h.db.WithContext(c.Request.Context()).Model(&model.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return &user, nil
}

func randomState() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
