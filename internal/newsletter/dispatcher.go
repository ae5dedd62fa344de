package newsletter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/saidmaadan/inventtiveapp/internal/model"
	"github.com/saidmaadan/inventtiveapp/internal/pkg/metrics"
	"github.com/saidmaadan/inventtiveapp/internal/pkg/notify"
	"github.com/saidmaadan/inventtiveapp/internal/pkg/queue"
	"github.com/saidmaadan/inventtiveapp/internal/pkg/ratelimit"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var (
	ErrNotFound       = errors.New("newsletter not found")
	ErrAlreadySent    = errors.New("newsletter already sent")
	ErrNoSubscribers  = errors.New("no active subscribers")
	ErrSendInProgress = errors.New("newsletter send already in progress")
)

const (
	sendLockPrefix = "inventtive:campaign:lock:"
	sendLockTTL    = 10 * time.Minute
)

// Result 是一次投递的逐收件人统计。
type Result struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Dispatcher 负责把一期快讯投递给所有活跃订阅者。
//
// 投递通过固定大小的 worker 池并发执行，每次发送前先从
// Redis 令牌桶取得发送配额，避免压垮邮件服务商。
// 同一期快讯的并发投递由 Redis 锁排他。
type Dispatcher struct {
	db      *gorm.DB
	rdb     *redis.Client
	mailer  notify.Mailer
	limiter *ratelimit.RateLimiter
	logger  *slog.Logger
	workers int
}

// NewDispatcher 创建投递器。
func NewDispatcher(db *gorm.DB, rdb *redis.Client, mailer notify.Mailer, limiter *ratelimit.RateLimiter, logger *slog.Logger, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 10
	}
	return &Dispatcher{
		db:      db,
		rdb:     rdb,
		mailer:  mailer,
		limiter: limiter,
		logger:  logger,
		workers: workers,
	}
}

// Send 投递一期快讯。
//
// 前置条件：快讯存在、未发送、至少有一个 ACTIVE 订阅者。
// 完成后写入 SENT 状态、发送时间与逐收件人统计，并把统计返回给调用方。
// 个别收件人失败不会中止整体投递。
func (d *Dispatcher) Send(ctx context.Context, id uint) (Result, error) {
	var campaign model.Newsletter
	if err := d.db.WithContext(ctx).First(&campaign, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Result{}, ErrNotFound
		}
		return Result{}, fmt.Errorf("load newsletter: %w", err)
	}
	if campaign.Status == model.NewsletterSent {
		return Result{}, ErrAlreadySent
	}

	var subscribers []model.NewsletterSubscriber
	if err := d.db.WithContext(ctx).
		Where("status = ?", model.SubscriberActive).
		Find(&subscribers).Error; err != nil {
		return Result{}, fmt.Errorf("load subscribers: %w", err)
	}
	if len(subscribers) == 0 {
		return Result{}, ErrNoSubscribers
	}

	lockKey := fmt.Sprintf("%s%d", sendLockPrefix, id)
	locked, err := d.rdb.SetNX(ctx, lockKey, "1", sendLockTTL).Result()
	if err != nil {
		return Result{}, fmt.Errorf("acquire send lock: %w", err)
	}
	if !locked {
		return Result{}, ErrSendInProgress
	}
	defer d.rdb.Del(context.WithoutCancel(ctx), lockKey)

	metrics.CampaignDispatchTotal.Inc()
	d.logger.Info("newsletter dispatch started",
		slog.Uint64("newsletter_id", uint64(id)),
		slog.Int("subscribers", len(subscribers)),
		slog.Int("workers", d.workers))

	var sent, failed atomic.Int64

	q := queue.NewQueue(d.logger, d.workers, len(subscribers))
	q.Start(ctx)
	for _, sub := range subscribers {
		sub := sub
		q.Enqueue(func(jobCtx context.Context) error {
			if err := d.limiter.Acquire(jobCtx); err != nil {
				failed.Add(1)
				metrics.CampaignSendFailedTotal.Inc()
				return fmt.Errorf("rate limit for %s: %w", sub.Email, err)
			}
			if err := d.mailer.SendCampaign(sub.Email, campaign.Subject, campaign.Content); err != nil {
				failed.Add(1)
				metrics.CampaignSendFailedTotal.Inc()
				return fmt.Errorf("send to %s: %w", sub.Email, err)
			}
			sent.Add(1)
			metrics.CampaignSendTotal.Inc()
			return nil
		})
	}
	q.Shutdown()

	result := Result{
		Sent:   int(sent.Load()),
		Failed: int(failed.Load()),
	}

	now := time.Now()
	if err := d.db.WithContext(ctx).Model(&model.Newsletter{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          model.NewsletterSent,
			"sent_at":         &now,
			"recipient_count": result.Sent,
			"failed_count":    result.Failed,
		}).Error; err != nil {
		return result, fmt.Errorf("mark newsletter sent: %w", err)
	}

	d.logger.Info("newsletter dispatch finished",
		slog.Uint64("newsletter_id", uint64(id)),
		slog.Int("sent", result.Sent),
		slog.Int("failed", result.Failed))

	return result, nil
}
