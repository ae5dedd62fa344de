package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/saidmaadan/inventtiveapp/internal/model"
	"github.com/saidmaadan/inventtiveapp/internal/newsletter"

	"gorm.io/gorm"
)

// Dispatcher 由快讯投递器实现，调度器只依赖这一个方法。
type Dispatcher interface {
	Send(ctx context.Context, id uint) (newsletter.Result, error)
}

// Scheduler 周期扫描到期的定时快讯并触发投递。
type Scheduler struct {
	db         *gorm.DB
	dispatcher Dispatcher
	logger     *slog.Logger
	interval   time.Duration
}

// NewScheduler 创建调度器。
func NewScheduler(db *gorm.DB, dispatcher Dispatcher, logger *slog.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		db:         db,
		dispatcher: dispatcher,
		logger:     logger,
		interval:   interval,
	}
}

// Run 启动调度循环，直到 ctx 被取消。
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("newsletter scheduler started",
		slog.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("newsletter scheduler stopped")
			return
		case <-ticker.C:
			s.safeDispatchDue(ctx)
		}
	}
}

// safeDispatchDue 带 panic 恢复，单轮失败不影响后续调度。
func (s *Scheduler) safeDispatchDue(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler tick panic recovered",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	s.dispatchDue(ctx)
}

// dispatchDue 查出所有已到投递时间的 SCHEDULED 快讯并逐个投递。
func (s *Scheduler) dispatchDue(ctx context.Context) {
	var due []model.Newsletter
	if err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", model.NewsletterScheduled, time.Now()).
		Order("scheduled_for asc").
		Find(&due).Error; err != nil {
		s.logger.Error("load due newsletters failed", slog.String("error", err.Error()))
		return
	}
	if len(due) == 0 {
		return
	}

	s.logger.Info("due newsletters found", slog.Int("count", len(due)))

	for _, campaign := range due {
		result, err := s.dispatcher.Send(ctx, campaign.ID)
		if err != nil {
			// 无订阅者不会因重试而好转，降回 DRAFT 结束循环；
			// 其余错误（SMTP、锁竞争）留待下一轮
			if errors.Is(err, newsletter.ErrNoSubscribers) {
				if dbErr := s.db.WithContext(ctx).Model(&model.Newsletter{}).
					Where("id = ?", campaign.ID).
					Update("status", model.NewsletterDraft).Error; dbErr != nil {
					s.logger.Error("demote newsletter to draft failed",
						slog.Uint64("newsletter_id", uint64(campaign.ID)),
						slog.String("error", dbErr.Error()))
					continue
				}
				s.logger.Warn("scheduled newsletter demoted to draft",
					slog.Uint64("newsletter_id", uint64(campaign.ID)),
					slog.String("reason", err.Error()))
				continue
			}
			s.logger.Warn("scheduled dispatch failed",
				slog.Uint64("newsletter_id", uint64(campaign.ID)),
				slog.String("error", err.Error()))
			continue
		}
		s.logger.Info("scheduled newsletter sent",
			slog.Uint64("newsletter_id", uint64(campaign.ID)),
			slog.Int("sent", result.Sent),
			slog.Int("failed", result.Failed))
	}
}
