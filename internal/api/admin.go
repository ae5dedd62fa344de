package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/saidmaadan/inventtiveapp/internal/model"
	"github.com/saidmaadan/inventtiveapp/internal/newsletter"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// userResponse 管理端返回的用户信息（不含口令）。
type userResponse struct {
	ID              uint       `json:"id"`
	Email           string     `json:"email"`
	Name            string     `json:"name"`
	Role            string     `json:"role"`
	Image           string     `json:"image,omitempty"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:              u.ID,
		Email:           u.Email,
		Name:            u.Name,
		Role:            u.Role,
		Image:           u.Image,
		EmailVerifiedAt: u.EmailVerifiedAt,
		CreatedAt:       u.CreatedAt,
	}
}

// handleAdminListUsers 返回所有用户。
//
// GET /api/admin/users
func (s *Server) handleAdminListUsers(c *gin.Context) {
	var users []model.User
	if err := s.db.WithContext(c.Request.Context()).
		Order("created_at DESC").
		Find(&users).Error; err != nil {
		s.logger.Error("list users failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list users failed"})
		return
	}

	items := make([]userResponse, 0, len(users))
	for i := range users {
		items = append(items, toUserResponse(&users[i]))
	}
	c.JSON(http.StatusOK, items)
}

type adminCreateUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Name     string `json:"name" binding:"required,min=2"`
	Role     string `json:"role"`
}

// handleAdminCreateUser 创建用户。
//
// 管理员创建的账号直接标记为已验证，不走邮箱验证流程。
//
// POST /api/admin/users
func (s *Server) handleAdminCreateUser(c *gin.Context) {
	var req adminCreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role := strings.ToUpper(strings.TrimSpace(req.Role))
	if role == "" {
		role = model.RoleUser
	}
	if role != model.RoleUser && role != model.RoleAdmin {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cfg.Security.BcryptCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}

	now := time.Now()
	user := model.User{
		Email:           strings.TrimSpace(strings.ToLower(req.Email)),
		Password:        string(hash),
		Name:            strings.TrimSpace(req.Name),
		Role:            role,
		EmailVerifiedAt: &now,
	}
	if err := s.db.WithContext(c.Request.Context()).Create(&user).Error; err != nil {
		if isDuplicateKey(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user with this email already exists"})
			return
		}
		s.logger.Error("create user failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create user failed"})
		return
	}

	s.logger.Info("user created by admin",
		slog.String("email", user.Email),
		slog.String("role", user.Role))
	c.JSON(http.StatusCreated, toUserResponse(&user))
}

// handleAdminGetUser 返回单个用户。
//
// GET /api/admin/users/:id
func (s *Server) handleAdminGetUser(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	var user model.User
	if err := s.db.WithContext(c.Request.Context()).First(&user, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, toUserResponse(&user))
}

type adminUpdateUserRequest struct {
	Email    *string `json:"email"`
	Password *string `json:"password"`
	Name     *string `json:"name"`
	Role     *string `json:"role"`
}

// handleAdminUpdateUser 更新用户资料、角色或口令。
//
// PATCH /api/admin/users/:id
func (s *Server) handleAdminUpdateUser(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	var user model.User
	if err := s.db.WithContext(c.Request.Context()).First(&user, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	var req adminUpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*req.Email))
		if email == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
			return
		}
		updates["email"] = email
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if len(name) < 2 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name must be at least 2 characters"})
			return
		}
		updates["name"] = name
	}
	if req.Role != nil {
		role := strings.ToUpper(strings.TrimSpace(*req.Role))
		if role != model.RoleUser && role != model.RoleAdmin {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
			return
		}
		updates["role"] = role
	}
	if req.Password != nil {
		if len(*req.Password) < 6 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 6 characters"})
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), s.cfg.Security.BcryptCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
			return
		}
		updates["password"] = string(hash)
	}

	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no updates"})
		return
	}

	if err := s.db.WithContext(c.Request.Context()).Model(&user).Updates(updates).Error; err != nil {
		if isDuplicateKey(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user with this email already exists"})
			return
		}
		s.logger.Error("update user failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update user failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// handleAdminDeleteUser 删除用户。
//
// 管理员不能删除自己的账号。
//
// DELETE /api/admin/users/:id
func (s *Server) handleAdminDeleteUser(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	if id == getUserID(c) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot delete your own account"})
		return
	}

	result := s.db.WithContext(c.Request.Context()).Delete(&model.User{}, id)
	if result.Error != nil {
		s.logger.Error("delete user failed", slog.String("error", result.Error.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete user failed"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	s.logger.Info("user deleted by admin", slog.Uint64("user_id", uint64(id)))
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// newsletterResponse 管理端返回的快讯信息。
type newsletterResponse struct {
	ID             uint       `json:"id"`
	Subject        string     `json:"subject"`
	Content        string     `json:"content,omitempty"`
	Status         string     `json:"status"`
	ScheduledFor   *time.Time `json:"scheduled_for,omitempty"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	OpenRate       *float64   `json:"open_rate,omitempty"`
	ClickRate      *float64   `json:"click_rate,omitempty"`
	RecipientCount int        `json:"recipient_count"`
	FailedCount    int        `json:"failed_count"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toNewsletterResponse(n *model.Newsletter, withContent bool) newsletterResponse {
	resp := newsletterResponse{
		ID:             n.ID,
		Subject:        n.Subject,
		Status:         n.Status,
		ScheduledFor:   n.ScheduledFor,
		SentAt:         n.SentAt,
		OpenRate:       n.OpenRate,
		ClickRate:      n.ClickRate,
		RecipientCount: n.RecipientCount,
		FailedCount:    n.FailedCount,
		CreatedAt:      n.CreatedAt,
	}
	if withContent {
		resp.Content = n.Content
	}
	return resp
}

// handleAdminListNewsletters 返回所有快讯。
//
// GET /api/admin/newsletter
func (s *Server) handleAdminListNewsletters(c *gin.Context) {
	var campaigns []model.Newsletter
	if err := s.db.WithContext(c.Request.Context()).
		Order("created_at DESC").
		Find(&campaigns).Error; err != nil {
		s.logger.Error("list newsletters failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list newsletters failed"})
		return
	}

	items := make([]newsletterResponse, 0, len(campaigns))
	for i := range campaigns {
		items = append(items, toNewsletterResponse(&campaigns[i], false))
	}
	c.JSON(http.StatusOK, items)
}

type adminNewsletterRequest struct {
	Subject      string     `json:"subject" binding:"required,min=3"`
	Content      string     `json:"content" binding:"required"`
	ScheduledFor *time.Time `json:"scheduled_for"`
}

// handleAdminCreateNewsletter 创建快讯。
//
// 指定 scheduled_for 的快讯进入 SCHEDULED 状态，由调度器到期投递；
// 否则保持 DRAFT，需手动触发发送。
//
// POST /api/admin/newsletter
func (s *Server) handleAdminCreateNewsletter(c *gin.Context) {
	var req adminNewsletterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	campaign := model.Newsletter{
		Subject:      strings.TrimSpace(req.Subject),
		Content:      req.Content,
		Status:       model.NewsletterDraft,
		ScheduledFor: req.ScheduledFor,
		UserID:       getUserID(c),
	}
	if req.ScheduledFor != nil {
		campaign.Status = model.NewsletterScheduled
	}

	if err := s.db.WithContext(c.Request.Context()).Create(&campaign).Error; err != nil {
		s.logger.Error("create newsletter failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create newsletter failed"})
		return
	}

	s.logger.Info("newsletter created",
		slog.Uint64("newsletter_id", uint64(campaign.ID)),
		slog.String("status", campaign.Status))
	c.JSON(http.StatusCreated, toNewsletterResponse(&campaign, false))
}

// handleAdminGetNewsletter 返回单期快讯。
//
// GET /api/admin/newsletter/:id
func (s *Server) handleAdminGetNewsletter(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid newsletter id"})
		return
	}

	var campaign model.Newsletter
	if err := s.db.WithContext(c.Request.Context()).First(&campaign, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "newsletter not found"})
		return
	}
	c.JSON(http.StatusOK, toNewsletterResponse(&campaign, true))
}

type adminUpdateNewsletterRequest struct {
	Subject      *string    `json:"subject"`
	Content      *string    `json:"content"`
	ScheduledFor *time.Time `json:"scheduled_for"`
}

// handleAdminUpdateNewsletter 更新快讯内容或投递时间。
//
// 已发送的快讯不可修改。
//
// PATCH /api/admin/newsletter/:id
func (s *Server) handleAdminUpdateNewsletter(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid newsletter id"})
		return
	}

	var campaign model.Newsletter
	if err := s.db.WithContext(c.Request.Context()).First(&campaign, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "newsletter not found"})
		return
	}
	if campaign.Status == model.NewsletterSent {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot edit a sent newsletter"})
		return
	}

	var req adminUpdateNewsletterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.Subject != nil {
		subject := strings.TrimSpace(*req.Subject)
		if len(subject) < 3 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "subject must be at least 3 characters"})
			return
		}
		updates["subject"] = subject
	}
	if req.Content != nil {
		updates["content"] = *req.Content
	}
	if req.ScheduledFor != nil {
		updates["scheduled_for"] = *req.ScheduledFor
		updates["status"] = model.NewsletterScheduled
	}

	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no updates"})
		return
	}

	if err := s.db.WithContext(c.Request.Context()).Model(&campaign).Updates(updates).Error; err != nil {
		s.logger.Error("update newsletter failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update newsletter failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// handleAdminDeleteNewsletter 删除快讯。
//
// DELETE /api/admin/newsletter/:id
func (s *Server) handleAdminDeleteNewsletter(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid newsletter id"})
		return
	}

	result := s.db.WithContext(c.Request.Context()).Delete(&model.Newsletter{}, id)
	if result.Error != nil {
		s.logger.Error("delete newsletter failed", slog.String("error", result.Error.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete newsletter failed"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "newsletter not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// handleAdminSendNewsletter 立即投递一期快讯。
//
// POST /api/admin/newsletter/:id/send
func (s *Server) handleAdminSendNewsletter(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid newsletter id"})
		return
	}

	result, err := s.dispatcher.Send(c.Request.Context(), id)
	switch {
	case errors.Is(err, newsletter.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "newsletter not found"})
		return
	case errors.Is(err, newsletter.ErrAlreadySent):
		c.JSON(http.StatusBadRequest, gin.H{"error": "newsletter has already been sent"})
		return
	case errors.Is(err, newsletter.ErrNoSubscribers):
		c.JSON(http.StatusBadRequest, gin.H{"error": "no active subscribers to send to"})
		return
	case errors.Is(err, newsletter.ErrSendInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "newsletter send already in progress"})
		return
	case err != nil:
		s.logger.Error("send newsletter failed",
			slog.Uint64("newsletter_id", uint64(id)),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "send newsletter failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sent": result.Sent, "failed": result.Failed})
}

// subscriberResponse 管理端返回的订阅者信息。
type subscriberResponse struct {
	ID           uint      `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	Status       string    `json:"status"`
	Source       string    `json:"source"`
	SubscribedAt time.Time `json:"subscribed_at"`
}

// handleAdminListSubscribers 返回订阅者列表，支持按状态过滤。
//
// GET /api/admin/newsletter/subscribers?status=ACTIVE
func (s *Server) handleAdminListSubscribers(c *gin.Context) {
	query := s.db.WithContext(c.Request.Context()).Model(&model.NewsletterSubscriber{})
	if status := strings.ToUpper(c.Query("status")); status != "" {
		query = query.Where("status = ?", status)
	}

	var subs []model.NewsletterSubscriber
	if err := query.Order("subscribed_at DESC").Find(&subs).Error; err != nil {
		s.logger.Error("list subscribers failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list subscribers failed"})
		return
	}

	items := make([]subscriberResponse, 0, len(subs))
	for _, sub := range subs {
		items = append(items, subscriberResponse{
			ID:           sub.ID,
			Email:        sub.Email,
			Name:         sub.Name,
			Status:       sub.Status,
			Source:       sub.Source,
			SubscribedAt: sub.SubscribedAt,
		})
	}
	c.JSON(http.StatusOK, items)
}

type adminAddSubscriberRequest struct {
	Email string `json:"email" binding:"required,email"`
	Name  string `json:"name"`
}

// handleAdminAddSubscriber 手动添加订阅者并发送欢迎邮件。
//
// 已退订的订阅者会被恢复并收到回归欢迎邮件。
//
// POST /api/admin/newsletter/subscribers
func (s *Server) handleAdminAddSubscriber(c *gin.Context) {
	var req adminAddSubscriberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))

	var existing model.NewsletterSubscriber
	err := s.db.WithContext(c.Request.Context()).Where("email = ?", email).First(&existing).Error
	if err == nil {
		if existing.Status == model.SubscriberActive {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email already subscribed"})
			return
		}
		updates := map[string]interface{}{"status": model.SubscriberActive}
		if req.Name != "" {
			updates["name"] = strings.TrimSpace(req.Name)
		}
		if err := s.db.WithContext(c.Request.Context()).Model(&existing).Updates(updates).Error; err != nil {
			s.logger.Error("reactivate subscriber failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "add subscriber failed"})
			return
		}
		if err := s.mailer.SendWelcomeEmail(email, true); err != nil {
			s.logger.Warn("send welcome back email failed",
				slog.String("email", email),
				slog.String("error", err.Error()))
		}
		c.JSON(http.StatusOK, gin.H{"message": "subscription reactivated"})
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Error("query subscriber failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "add subscriber failed"})
		return
	}

	sub := model.NewsletterSubscriber{
		Email:  email,
		Name:   strings.TrimSpace(req.Name),
		Status: model.SubscriberActive,
		Source: "ADMIN",
	}
	if err := s.db.WithContext(c.Request.Context()).Create(&sub).Error; err != nil {
		s.logger.Error("create subscriber failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "add subscriber failed"})
		return
	}
	if err := s.mailer.SendWelcomeEmail(email, false); err != nil {
		s.logger.Warn("send welcome email failed",
			slog.String("email", email),
			slog.String("error", err.Error()))
	}

	s.logger.Info("subscriber added by admin", slog.String("email", email))
	c.JSON(http.StatusCreated, gin.H{"message": "subscriber added"})
}

// parseIDParam 解析路径中的 :id 参数。
func parseIDParam(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
