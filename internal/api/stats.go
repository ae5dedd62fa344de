package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/saidmaadan/inventtiveapp/internal/model"

	"github.com/gin-gonic/gin"
)

// handleAdminStats 返回控制台总览统计。
//
// GET /api/admin/stats
func (s *Server) handleAdminStats(c *gin.Context) {
	ctx := c.Request.Context()

	var totalUsers, totalBlogs, totalSubscribers, newUsers int64

	if err := s.db.WithContext(ctx).Model(&model.User{}).Count(&totalUsers).Error; err != nil {
		s.logger.Error("count users failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load stats failed"})
		return
	}
	if err := s.db.WithContext(ctx).Model(&model.Blog{}).Count(&totalBlogs).Error; err != nil {
		s.logger.Error("count blogs failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load stats failed"})
		return
	}
	if err := s.db.WithContext(ctx).Model(&model.NewsletterSubscriber{}).
		Where("status = ?", model.SubscriberActive).
		Count(&totalSubscribers).Error; err != nil {
		s.logger.Error("count subscribers failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load stats failed"})
		return
	}
	weekAgo := time.Now().AddDate(0, 0, -7)
	if err := s.db.WithContext(ctx).Model(&model.User{}).
		Where("created_at >= ?", weekAgo).
		Count(&newUsers).Error; err != nil {
		s.logger.Error("count new users failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load stats failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total_users":       totalUsers,
		"total_blogs":       totalBlogs,
		"total_subscribers": totalSubscribers,
		"new_users":         newUsers,
	})
}

// handleNewsletterStats 返回快讯整体统计。
//
// GET /api/admin/newsletter/stats
func (s *Server) handleNewsletterStats(c *gin.Context) {
	ctx := c.Request.Context()

	var totalSent, totalSubscribers int64
	if err := s.db.WithContext(ctx).Model(&model.Newsletter{}).
		Where("status = ?", model.NewsletterSent).
		Count(&totalSent).Error; err != nil {
		s.logger.Error("count sent newsletters failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load newsletter stats failed"})
		return
	}
	if err := s.db.WithContext(ctx).Model(&model.NewsletterSubscriber{}).
		Where("status = ?", model.SubscriberActive).
		Count(&totalSubscribers).Error; err != nil {
		s.logger.Error("count subscribers failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load newsletter stats failed"})
		return
	}

	var rates struct {
		AvgOpenRate  *float64
		AvgClickRate *float64
	}
	if err := s.db.WithContext(ctx).Model(&model.Newsletter{}).
		Select("AVG(open_rate) AS avg_open_rate, AVG(click_rate) AS avg_click_rate").
		Where("status = ?", model.NewsletterSent).
		Scan(&rates).Error; err != nil {
		s.logger.Error("average rates failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load newsletter stats failed"})
		return
	}

	avgOpen := 0.0
	if rates.AvgOpenRate != nil {
		avgOpen = *rates.AvgOpenRate
	}
	avgClick := 0.0
	if rates.AvgClickRate != nil {
		avgClick = *rates.AvgClickRate
	}

	c.JSON(http.StatusOK, gin.H{
		"total_sent":         totalSent,
		"total_subscribers":  totalSubscribers,
		"average_open_rate":  avgOpen,
		"average_click_rate": avgClick,
	})
}

// performanceRow 单期快讯的表现数据。
type performanceRow struct {
	ID             uint       `json:"id"`
	Subject        string     `json:"subject"`
	SentAt         *time.Time `json:"sent_at"`
	OpenRate       *float64   `json:"open_rate"`
	ClickRate      *float64   `json:"click_rate"`
	RecipientCount int        `json:"recipient_count"`
	FailedCount    int        `json:"failed_count"`
}

// handleNewsletterPerformance 返回近 30 天内已发送快讯的表现。
//
// GET /api/admin/newsletter/performance
func (s *Server) handleNewsletterPerformance(c *gin.Context) {
	cutoff := time.Now().AddDate(0, 0, -30)

	rows := []performanceRow{}
	if err := s.db.WithContext(c.Request.Context()).Model(&model.Newsletter{}).
		Select("id, subject, sent_at, open_rate, click_rate, recipient_count, failed_count").
		Where("status = ? AND sent_at >= ?", model.NewsletterSent, cutoff).
		Order("sent_at DESC").
		Scan(&rows).Error; err != nil {
		s.logger.Error("load newsletter performance failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load newsletter performance failed"})
		return
	}
	c.JSON(http.StatusOK, rows)
}

// growthRow 某一天的订阅者增长。
type growthRow struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// handleSubscriberGrowth 返回近 30 天每日新增订阅数。
//
// GET /api/admin/newsletter/subscriber-growth
func (s *Server) handleSubscriberGrowth(c *gin.Context) {
	cutoff := time.Now().AddDate(0, 0, -30)

	rows := []growthRow{}
	if err := s.db.WithContext(c.Request.Context()).Model(&model.NewsletterSubscriber{}).
		Select("DATE(subscribed_at) AS date, COUNT(*) AS count").
		Where("subscribed_at >= ?", cutoff).
		Group("DATE(subscribed_at)").
		Order("date ASC").
		Scan(&rows).Error; err != nil {
		s.logger.Error("load subscriber growth failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load subscriber growth failed"})
		return
	}
	c.JSON(http.StatusOK, rows)
}

// sourceRow 按来源统计的订阅者数。
type sourceRow struct {
	Source string `json:"source"`
	Count  int64  `json:"count"`
}

// handleSubscriberSources 返回活跃订阅者的来源分布。
//
// GET /api/admin/newsletter/subscriber-sources
func (s *Server) handleSubscriberSources(c *gin.Context) {
	rows := []sourceRow{}
	if err := s.db.WithContext(c.Request.Context()).Model(&model.NewsletterSubscriber{}).
		Select("source, COUNT(*) AS count").
		Where("status = ?", model.SubscriberActive).
		Group("source").
		Order("count DESC").
		Scan(&rows).Error; err != nil {
		s.logger.Error("load subscriber sources failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load subscriber sources failed"})
		return
	}

	var total int64
	for _, row := range rows {
		total += row.Count
	}
	type sourceShare struct {
		Source     string  `json:"source"`
		Count      int64   `json:"count"`
		Percentage float64 `json:"percentage"`
	}
	shares := make([]sourceShare, 0, len(rows))
	for _, row := range rows {
		pct := 0.0
		if total > 0 {
			pct = float64(row.Count) / float64(total) * 100
		}
		shares = append(shares, sourceShare{Source: row.Source, Count: row.Count, Percentage: pct})
	}
	c.JSON(http.StatusOK, shares)
}
