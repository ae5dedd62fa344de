package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/saidmaadan/inventtiveapp/internal/api/auth"
	"github.com/saidmaadan/inventtiveapp/internal/api/middleware"
	"github.com/saidmaadan/inventtiveapp/internal/api/scheduler"
	"github.com/saidmaadan/inventtiveapp/internal/config"
	"github.com/saidmaadan/inventtiveapp/internal/model"
	"github.com/saidmaadan/inventtiveapp/internal/newsletter"
	"github.com/saidmaadan/inventtiveapp/internal/pkg/metrics"
	"github.com/saidmaadan/inventtiveapp/internal/pkg/notify"
	"github.com/saidmaadan/inventtiveapp/internal/pkg/ratelimit"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端、快讯投递器以及 Gin 路由引擎。
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	db         *gorm.DB
	rdb        *redis.Client
	router     *gin.Engine
	auth       *auth.Handler
	mailer     notify.Mailer
	dispatcher CampaignDispatcher
	sched      *scheduler.Scheduler
}

// CampaignDispatcher 快讯投递入口，管理端发送接口只依赖这一个方法。
type CampaignDispatcher interface {
	Send(ctx context.Context, id uint) (newsletter.Result, error)
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 MySQL 数据库并执行自动迁移
// 2. 连接 Redis
// 3. 初始化快讯投递器与调度器
// 4. 初始化 Gin 路由引擎
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&model.User{},
		&model.VerificationToken{},
		&model.PasswordResetToken{},
		&model.Category{},
		&model.Blog{},
		&model.Newsletter{},
		&model.NewsletterSubscriber{},
	); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	mailer := notify.NewEmailNotifier(&cfg.Email, logger)

	limiter := ratelimit.NewRedisRateLimiter(rdb, logger, "", cfg.App.SendRate, cfg.App.SendBurst)
	dispatcher := newsletter.NewDispatcher(db, rdb, mailer, limiter, logger, cfg.App.WorkerPoolSize)
	sched := scheduler.NewScheduler(db, dispatcher, logger, cfg.App.ScheduleInterval)

	// 初始化 Prometheus 指标
	metrics.InitMetrics(cfg.App.WorkerPoolSize)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		rdb:        rdb,
		router:     r,
		auth:       auth.NewHandler(db, rdb, cfg, mailer, logger),
		mailer:     mailer,
		dispatcher: dispatcher,
		sched:      sched,
	}
	s.registerRoutes()
	return s, nil
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// StartScheduler 启动定时快讯调度循环。
func (s *Server) StartScheduler(ctx context.Context) {
	go s.sched.Run(ctx)
}

// Close 关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			if closeErr := sqlDB.Close(); closeErr != nil {
				if firstErr == nil {
					firstErr = closeErr
				}
			}
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/healthz", s.handleHealthz)

	api := s.router.Group("/api")

	api.POST("/auth/register", s.auth.Register)
	api.POST("/auth/login", s.auth.Login)
	api.POST("/auth/verify", s.auth.Verify)
	api.POST("/auth/send-verification", s.auth.SendVerification)
	api.POST("/auth/reset-password", s.auth.ResetPassword)
	api.POST("/auth/new-password", s.auth.NewPassword)
	api.GET("/auth/google/login", s.auth.GoogleLogin)
	api.GET("/auth/google/callback", s.auth.GoogleCallback)

	api.GET("/blogs", s.handleListBlogs)
	api.GET("/blogs/:slug", s.handleGetBlog)
	api.GET("/categories", s.handleListCategories)

	api.POST("/newsletter",
		middleware.SubscribeThrottle(s.rdb, s.cfg.App.SubscribeLimit, s.cfg.App.SubscribeWindow),
		s.handleSubscribe)
	api.DELETE("/newsletter", s.handleUnsubscribe)

	authed := s.router.Group("/api")
	authed.Use(middleware.AuthMiddleware(s.cfg.Security.JWTSecret))
	authed.POST("/auth/logout", s.auth.Logout)
	authed.POST("/blogs", s.handleCreateBlog)
	authed.PATCH("/blogs/:slug", s.handleUpdateBlog)
	authed.DELETE("/blogs/:slug", s.handleDeleteBlog)
	authed.POST("/categories", s.handleCreateCategory)
	authed.PATCH("/user/profile", s.handleUpdateProfile)
	authed.PATCH("/user/settings", s.handleUpdateSettings)

	admin := s.router.Group("/api/admin")
	admin.Use(middleware.AuthMiddleware(s.cfg.Security.JWTSecret))
	admin.Use(s.adminOnly())
	admin.GET("/users", s.handleAdminListUsers)
	admin.POST("/users", s.handleAdminCreateUser)
	admin.GET("/users/:id", s.handleAdminGetUser)
	admin.PATCH("/users/:id", s.handleAdminUpdateUser)
	admin.DELETE("/users/:id", s.handleAdminDeleteUser)
	admin.GET("/newsletter", s.handleAdminListNewsletters)
	admin.POST("/newsletter", s.handleAdminCreateNewsletter)
	admin.GET("/newsletter/stats", s.handleNewsletterStats)
	admin.GET("/newsletter/performance", s.handleNewsletterPerformance)
	admin.GET("/newsletter/subscriber-growth", s.handleSubscriberGrowth)
	admin.GET("/newsletter/subscriber-sources", s.handleSubscriberSources)
	admin.GET("/newsletter/subscribers", s.handleAdminListSubscribers)
	admin.POST("/newsletter/subscribers", s.handleAdminAddSubscriber)
	admin.GET("/newsletter/:id", s.handleAdminGetNewsletter)
	admin.PATCH("/newsletter/:id", s.handleAdminUpdateNewsletter)
	admin.DELETE("/newsletter/:id", s.handleAdminDeleteNewsletter)
	admin.POST("/newsletter/:id/send", s.handleAdminSendNewsletter)
	admin.GET("/stats", s.handleAdminStats)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// authorResponse 对外暴露的作者信息（不含口令等敏感字段）。
type authorResponse struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

type categoryResponse struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	BlogCount int64  `json:"blog_count,omitempty"`
}

type blogResponse struct {
	ID            uint             `json:"id"`
	Title         string           `json:"title"`
	Slug          string           `json:"slug"`
	Content       string           `json:"content,omitempty"`
	FeaturedImage string           `json:"featured_image,omitempty"`
	IsFeatured    bool             `json:"is_featured"`
	IsPublished   bool             `json:"is_published"`
	PublishedAt   *time.Time       `json:"published_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	Author        authorResponse   `json:"author"`
	Category      categoryResponse `json:"category"`
}

func toBlogResponse(b *model.Blog, withContent bool) blogResponse {
	resp := blogResponse{
		ID:            b.ID,
		Title:         b.Title,
		Slug:          b.Slug,
		FeaturedImage: b.FeaturedImage,
		IsFeatured:    b.IsFeatured,
		IsPublished:   b.IsPublished,
		PublishedAt:   b.PublishedAt,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
		Author: authorResponse{
			ID:    b.Author.ID,
			Name:  b.Author.Name,
			Image: b.Author.Image,
		},
		Category: categoryResponse{
			ID:   b.Category.ID,
			Name: b.Category.Name,
			Slug: b.Category.Slug,
		},
	}
	if withContent {
		resp.Content = b.Content
	}
	return resp
}

// handleListBlogs 返回已发布的博客列表，支持分页与分类/精选过滤。
//
// GET /api/blogs?page=1&limit=10&category=<slug>&featured=true
func (s *Server) handleListBlogs(c *gin.Context) {
	page := parseQueryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	limit := parseQueryInt(c, "limit", 10)
	if limit < 1 || limit > 50 {
		limit = 10
	}

	query := s.db.WithContext(c.Request.Context()).Model(&model.Blog{}).
		Where("is_published = ?", true)

	if categorySlug := c.Query("category"); categorySlug != "" {
		query = query.Where("category_id IN (?)",
			s.db.Model(&model.Category{}).Select("id").Where("slug = ?", categorySlug))
	}
	if c.Query("featured") == "true" {
		query = query.Where("is_featured = ?", true)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		s.logger.Error("count blogs failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list blogs failed"})
		return
	}

	var blogs []model.Blog
	if err := query.
		Preload("Author").
		Preload("Category").
		Order("published_at DESC").
		Limit(limit).
		Offset((page - 1) * limit).
		Find(&blogs).Error; err != nil {
		s.logger.Error("list blogs failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list blogs failed"})
		return
	}

	items := make([]blogResponse, 0, len(blogs))
	for i := range blogs {
		items = append(items, toBlogResponse(&blogs[i], false))
	}

	pages := (total + int64(limit) - 1) / int64(limit)
	c.JSON(http.StatusOK, gin.H{
		"blogs": items,
		"pagination": gin.H{
			"total": total,
			"pages": pages,
			"page":  page,
			"limit": limit,
		},
	})
}

// handleGetBlog 按 slug 返回单篇博客。
//
// 未发布的文章只有作者和管理员可见；匿名访问一律 404。
func (s *Server) handleGetBlog(c *gin.Context) {
	slug := c.Param("slug")

	var blog model.Blog
	if err := s.db.WithContext(c.Request.Context()).
		Preload("Author").
		Preload("Category").
		Where("slug = ?", slug).
		First(&blog).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "blog not found"})
		return
	}

	if !blog.IsPublished {
		viewer, ok := s.currentUser(c)
		if !ok || (viewer.ID != blog.AuthorID && viewer.Role != model.RoleAdmin) {
			c.JSON(http.StatusNotFound, gin.H{"error": "blog not found"})
			return
		}
	}

	c.JSON(http.StatusOK, toBlogResponse(&blog, true))
}

type createBlogRequest struct {
	Title         string `json:"title" binding:"required,min=3"`
	Content       string `json:"content"`
	FeaturedImage string `json:"featured_image"`
	IsFeatured    bool   `json:"is_featured"`
	IsPublished   bool   `json:"is_published"`
	CategoryID    uint   `json:"category_id" binding:"required"`
}

// handleCreateBlog 创建博客文章。
//
// POST /api/blogs
func (s *Server) handleCreateBlog(c *gin.Context) {
	var req createBlogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := getUserID(c)

	var category model.Category
	if err := s.db.WithContext(c.Request.Context()).First(&category, req.CategoryID).Error; err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "category not found"})
		return
	}

	blog := model.Blog{
		Title:         strings.TrimSpace(req.Title),
		Slug:          s.uniqueBlogSlug(c.Request.Context(), req.Title),
		Content:       req.Content,
		FeaturedImage: req.FeaturedImage,
		IsFeatured:    req.IsFeatured,
		IsPublished:   req.IsPublished,
		AuthorID:      userID,
		CategoryID:    req.CategoryID,
	}
	if req.IsPublished {
		now := time.Now()
		blog.PublishedAt = &now
	}

	if err := s.db.WithContext(c.Request.Context()).Create(&blog).Error; err != nil {
		s.logger.Error("create blog failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create blog failed"})
		return
	}

	s.logger.Info("blog created",
		slog.Uint64("blog_id", uint64(blog.ID)),
		slog.String("slug", blog.Slug),
		slog.Uint64("author_id", uint64(userID)))
	c.JSON(http.StatusCreated, gin.H{"id": blog.ID, "slug": blog.Slug})
}

type updateBlogRequest struct {
	Title         *string `json:"title"`
	Content       *string `json:"content"`
	FeaturedImage *string `json:"featured_image"`
	IsFeatured    *bool   `json:"is_featured"`
	IsPublished   *bool   `json:"is_published"`
	CategoryID    *uint   `json:"category_id"`
}

// handleUpdateBlog 更新博客文章，仅作者本人或管理员可操作。
//
// PATCH /api/blogs/:slug
func (s *Server) handleUpdateBlog(c *gin.Context) {
	slug := c.Param("slug")

	var blog model.Blog
	if err := s.db.WithContext(c.Request.Context()).Where("slug = ?", slug).First(&blog).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "blog not found"})
		return
	}
	if !s.canEditBlog(c, &blog) {
		return
	}

	var req updateBlogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid title"})
			return
		}
		updates["title"] = title
	}
	if req.Content != nil {
		updates["content"] = *req.Content
	}
	if req.FeaturedImage != nil {
		updates["featured_image"] = *req.FeaturedImage
	}
	if req.IsFeatured != nil {
		updates["is_featured"] = *req.IsFeatured
	}
	if req.IsPublished != nil {
		updates["is_published"] = *req.IsPublished
		if *req.IsPublished && blog.PublishedAt == nil {
			updates["published_at"] = time.Now()
		}
	}
	if req.CategoryID != nil {
		var category model.Category
		if err := s.db.WithContext(c.Request.Context()).First(&category, *req.CategoryID).Error; err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "category not found"})
			return
		}
		updates["category_id"] = *req.CategoryID
	}

	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no updates"})
		return
	}

	if err := s.db.WithContext(c.Request.Context()).Model(&blog).Updates(updates).Error; err != nil {
		s.logger.Error("update blog failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update blog failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// handleDeleteBlog 删除博客文章，仅作者本人或管理员可操作。
//
// DELETE /api/blogs/:slug
func (s *Server) handleDeleteBlog(c *gin.Context) {
	slug := c.Param("slug")

	var blog model.Blog
	if err := s.db.WithContext(c.Request.Context()).Where("slug = ?", slug).First(&blog).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "blog not found"})
		return
	}
	if !s.canEditBlog(c, &blog) {
		return
	}

	if err := s.db.WithContext(c.Request.Context()).Delete(&blog).Error; err != nil {
		s.logger.Error("delete blog failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete blog failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": slug})
}

// handleListCategories 返回所有分类及其已发布文章数。
func (s *Server) handleListCategories(c *gin.Context) {
	categories := []categoryResponse{}
	if err := s.db.WithContext(c.Request.Context()).Model(&model.Category{}).
		Select("categories.id, categories.name, categories.slug, COUNT(blogs.id) AS blog_count").
		Joins("LEFT JOIN blogs ON blogs.category_id = categories.id AND blogs.is_published = ?", true).
		Group("categories.id, categories.name, categories.slug").
		Order("categories.name ASC").
		Scan(&categories).Error; err != nil {
		s.logger.Error("list categories failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list categories failed"})
		return
	}
	c.JSON(http.StatusOK, categories)
}

// handleCreateCategory 创建分类，仅管理员可操作。
//
// POST /api/categories
func (s *Server) handleCreateCategory(c *gin.Context) {
	if _, ok := s.requireAdmin(c); !ok {
		return
	}

	var req struct {
		Name string `json:"name" binding:"required,min=2"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name := strings.TrimSpace(req.Name)
	category := model.Category{
		Name: name,
		Slug: slugify(name),
	}
	if err := s.db.WithContext(c.Request.Context()).Create(&category).Error; err != nil {
		if isDuplicateKey(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "category already exists"})
			return
		}
		s.logger.Error("create category failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create category failed"})
		return
	}

	c.JSON(http.StatusCreated, categoryResponse{ID: category.ID, Name: category.Name, Slug: category.Slug})
}

type subscribeRequest struct {
	Email string `json:"email" binding:"required,email"`
	Name  string `json:"name"`
}

// handleSubscribe 订阅快讯。
//
// 幂等语义: 活跃订阅者重复订阅返回 400；已退订的恢复为 ACTIVE 并返回 200。
//
// POST /api/newsletter
func (s *Server) handleSubscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a valid email is required"})
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
			c.JSON(http.StatusInternalServerError, gin.H{"error": "subscribe failed"})
			return
		}
		s.logger.Info("subscriber reactivated", slog.String("email", email))
		c.JSON(http.StatusOK, gin.H{"message": "subscription reactivated"})
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Error("query subscriber failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscribe failed"})
		return
	}

	sub := model.NewsletterSubscriber{
		Email:  email,
		Name:   strings.TrimSpace(req.Name),
		Status: model.SubscriberActive,
		Source: "WEBSITE",
	}
	if err := s.db.WithContext(c.Request.Context()).Create(&sub).Error; err != nil {
		s.logger.Error("create subscriber failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscribe failed"})
		return
	}

	s.logger.Info("subscriber added", slog.String("email", email), slog.String("source", sub.Source))
	c.JSON(http.StatusCreated, gin.H{"message": "subscribed successfully"})
}

// handleUnsubscribe 退订快讯（状态软删除）。
//
// DELETE /api/newsletter?email=...
func (s *Server) handleUnsubscribe(c *gin.Context) {
	email := strings.TrimSpace(strings.ToLower(c.Query("email")))
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}

	result := s.db.WithContext(c.Request.Context()).Model(&model.NewsletterSubscriber{}).
		Where("email = ?", email).
		Update("status", model.SubscriberUnsubscribed)
	if result.Error != nil {
		s.logger.Error("unsubscribe failed", slog.String("error", result.Error.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unsubscribe failed"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "subscriber not found"})
		return
	}

	s.logger.Info("subscriber unsubscribed", slog.String("email", email))
	c.JSON(http.StatusOK, gin.H{"message": "unsubscribed successfully"})
}

type updateProfileRequest struct {
	Name  *string `json:"name"`
	Image *string `json:"image"`
}

// handleUpdateProfile 更新当前用户资料。
//
// PATCH /api/user/profile
func (s *Server) handleUpdateProfile(c *gin.Context) {
	userID := getUserID(c)

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if len(name) < 2 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name must be at least 2 characters"})
			return
		}
		updates["name"] = name
	}
	if req.Image != nil {
		updates["image"] = *req.Image
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no updates"})
		return
	}

	if err := s.db.WithContext(c.Request.Context()).Model(&model.User{}).
		Where("id = ?", userID).
		Updates(updates).Error; err != nil {
		s.logger.Error("update profile failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update profile failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// handleUpdateSettings 接收用户偏好设置。
//
// 偏好目前不落库，仅确认请求；前端本地保存。
func (s *Server) handleUpdateSettings(c *gin.Context) {
	var req map[string]interface{}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "settings saved"})
}

// canEditBlog 校验当前用户是否为文章作者或管理员，失败时已写好响应。
func (s *Server) canEditBlog(c *gin.Context, blog *model.Blog) bool {
	userID := getUserID(c)
	if userID == blog.AuthorID {
		return true
	}
	role, err := roleOf(c.Request.Context(), s.db, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "authorization check failed"})
		return false
	}
	if role != model.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return false
	}
	return true
}

// currentUser 从可选的 Authorization 头解析当前用户，匿名请求返回 false。
func (s *Server) currentUser(c *gin.Context) (*model.User, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return nil, false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, false
	}
	userID, err := auth.ParseSubject(parts[1], s.cfg.Security.JWTSecret)
	if err != nil {
		return nil, false
	}
	var user model.User
	if err := s.db.WithContext(c.Request.Context()).First(&user, userID).Error; err != nil {
		return nil, false
	}
	return &user, true
}

// uniqueBlogSlug 由标题生成 slug，冲突时追加序号。
func (s *Server) uniqueBlogSlug(ctx context.Context, title string) string {
	base := slugify(title)
	slug := base
	for i := 2; ; i++ {
		var count int64
		if err := s.db.WithContext(ctx).Model(&model.Blog{}).Where("slug = ?", slug).Count(&count).Error; err != nil || count == 0 {
			return slug
		}
		slug = base + "-" + strconv.Itoa(i)
	}
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// slugify 将标题转为 URL 友好的 slug。
func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonSlugChars.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "untitled"
	}
	return s
}

// isDuplicateKey 判断是否为唯一键冲突。
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique")
}

// parseQueryInt 解析查询参数中的整数值。
func parseQueryInt(c *gin.Context, key string, def int) int {
	val := c.Query(key)
	if val == "" {
		return def
	}
	iv, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return iv
}

func getUserID(c *gin.Context) uint {
	v, ok := c.Get("userID")
	if !ok {
		return 0
	}
	if id, ok := v.(uint); ok {
		return id
	}
	return 0
}
