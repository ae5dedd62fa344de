package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/saidmaadan/inventtiveapp/internal/config"
	"github.com/saidmaadan/inventtiveapp/internal/model"
	"github.com/saidmaadan/inventtiveapp/internal/pkg/notify"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// 会话有效期 30 天。
const sessionTTL = 30 * 24 * time.Hour

// Handler 提供注册、登录、邮箱验证与密码重置接口。
type Handler struct {
	db         *gorm.DB
	rdb        *redis.Client
	tokens     *TokenStore
	mailer     notify.Mailer
	logger     *slog.Logger
	jwtSecret  []byte
	baseURL    string
	bcryptCost int
	google     *GoogleProvider
}

// NewHandler 创建 Auth Handler。
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config, mailer notify.Mailer, logger *slog.Logger) *Handler {
	return &Handler{
		db:         db,
		rdb:        rdb,
		tokens:     NewTokenStore(db),
		mailer:     mailer,
		logger:     logger,
		jwtSecret:  []byte(cfg.Security.JWTSecret),
		baseURL:    strings.TrimRight(cfg.App.BaseURL, "/"),
		bcryptCost: cfg.Security.BcryptCost,
		google:     NewGoogleProvider(&cfg.OAuth, cfg.App.BaseURL),
	}
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Name     string `json:"name" binding:"required,min=2"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type sessionClaims struct {
	jwt.RegisteredClaims
	Role            string `json:"role"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	EmailVerifiedAt int64  `json:"email_verified_at,omitempty"` // unix 秒
}

// Register 创建新用户并发送验证邮件。
//
// 已存在且未验证的账号会重新签发验证令牌（旧令牌作废）。
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))

	var existing model.User
	err := h.db.WithContext(c.Request.Context()).Where("email = ?", email).First(&existing).Error
	if err == nil {
		if existing.Verified() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user with this email already exists"})
			return
		}
		if err := h.sendVerification(c, email); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send verification email"})
			return
		}
		h.logger.Info("verification email resent", slog.String("email", email))
		c.JSON(http.StatusOK, gin.H{"message": "verification email sent"})
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.bcryptCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}

	user := model.User{
		Email:    email,
		Password: string(hash),
		Name:     strings.TrimSpace(req.Name),
		Role:     model.RoleUser,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&user).Error; err != nil {
		h.logger.Error("create user failed", slog.String("email", email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create user failed"})
		return
	}

	if err := h.sendVerification(c, email); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "account created but failed to send verification email, please try registering again to resend it"})
		return
	}

	h.logger.Info("user registered", slog.String("email", email))
	c.JSON(http.StatusCreated, gin.H{"message": "please check your email to verify your account"})
}

// Login 校验凭证并返回 JWT。
//
// 未验证邮箱的账号无论密码是否正确都拒绝登录。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))

	var user model.User
	if err := h.db.WithContext(c.Request.Context()).Where("email = ?", email).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}
	if user.Password == "" {
		// OAuth 账号没有口令
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}
	if !user.Verified() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "please verify your email before logging in"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}

	token, err := h.issueToken(&user)
	if err != nil {
		h.logger.Error("sign token failed", slog.String("email", email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}

	h.logger.Info("user logged in", slog.String("email", email), slog.String("role", user.Role))
	c.JSON(http.StatusOK, tokenResponse{Token: token})
}

// Logout 处理注销请求（会话无状态，直接返回成功）。
func (h *Handler) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Verify 消费验证令牌，标记邮箱已验证。
func (h *Handler) Verify(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "verification token is required"})
		return
	}

	email, err := h.tokens.ConsumeVerification(c.Request.Context(), req.Token)
	switch {
	case errors.Is(err, ErrTokenNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid verification token"})
		return
	case errors.Is(err, ErrTokenExpired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "verification token has expired"})
		return
	case err != nil:
		h.logger.Error("verify email failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify email"})
		return
	}

	h.logger.Info("email verified", slog.String("email", email))
	c.JSON(http.StatusOK, gin.H{"message": "email verified successfully"})
}

// SendVerification 重新发送验证邮件。
func (h *Handler) SendVerification(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))

	var user model.User
	if err := h.db.WithContext(c.Request.Context()).Where("email = ?", email).First(&user).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if user.Verified() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email already verified"})
		return
	}

	if err := h.sendVerification(c, email); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send verification email"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "verification email sent successfully"})
}

// ResetPassword 发起密码重置。
//
// 无论邮箱是否存在都返回同样的成功消息，避免账号枚举。
func (h *Handler) ResetPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	const okMessage = "if an account exists with this email, you will receive a password reset link"

	var user model.User
	if err := h.db.WithContext(c.Request.Context()).Where("email = ?", email).First(&user).Error; err != nil {
		c.JSON(http.StatusOK, gin.H{"message": okMessage})
		return
	}

	token, err := h.tokens.IssueReset(c.Request.Context(), email)
	if err != nil {
		h.logger.Error("issue reset token failed", slog.String("email", email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process password reset request"})
		return
	}
	link := h.baseURL + "/new-password?token=" + token
	if err := h.mailer.SendPasswordResetEmail(email, link); err != nil {
		h.logger.Warn("send reset email failed", slog.String("email", email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process password reset request"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": okMessage})
}

// NewPassword 消费重置令牌并更新密码。
func (h *Handler) NewPassword(c *gin.Context) {
	var req struct {
		Token    string `json:"token" binding:"required"`
		Password string `json:"password" binding:"required,min=6"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token and password are required"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.bcryptCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}

	email, err := h.tokens.ConsumeReset(c.Request.Context(), req.Token, string(hash))
	switch {
	case errors.Is(err, ErrTokenNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired token"})
		return
	case errors.Is(err, ErrTokenExpired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "token has expired"})
		return
	case err != nil:
		h.logger.Error("reset password failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update password"})
		return
	}

	h.logger.Info("password updated", slog.String("email", email))
	c.JSON(http.StatusOK, gin.H{"message": "password updated successfully"})
}

// sendVerification 签发验证令牌并发送邮件。
func (h *Handler) sendVerification(c *gin.Context, email string) error {
	token, err := h.tokens.IssueVerification(c.Request.Context(), email)
	if err != nil {
		h.logger.Error("issue verification token failed", slog.String("email", email), slog.String("error", err.Error()))
		return err
	}
	link := h.baseURL + "/verify?token=" + token
	if err := h.mailer.SendVerificationEmail(email, link); err != nil {
		h.logger.Warn("send verification email failed", slog.String("email", email), slog.String("error", err.Error()))
		return fmt.Errorf("send verification email: %w", err)
	}
	return nil
}

// ParseSubject 解析会话 JWT 并返回其中的用户 ID。
//
// 用于可选鉴权的公开接口，校验失败视为匿名访问。
func ParseSubject(tokenStr, jwtSecret string) (uint, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return 0, err
	}
	if !token.Valid || claims.Subject == "" {
		return 0, errors.New("invalid session token")
	}
	uid, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(uid), nil
}

// issueToken 签发 30 天有效期的会话 JWT。
//
// 角色写入 claim 只作提示；角色敏感接口会重新查库。
func (h *Handler) issueToken(user *model.User) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(user.ID), 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(sessionTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Role:  user.Role,
		Name:  user.Name,
		Email: user.Email,
	}
	if user.EmailVerifiedAt != nil {
		claims.EmailVerifiedAt = user.EmailVerifiedAt.Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.jwtSecret)
}
