package model

import (
	"time"
)

// Newsletter 状态。
const (
	NewsletterDraft     = "DRAFT"
	NewsletterScheduled = "SCHEDULED"
	NewsletterSent      = "SENT"
)

// 订阅者状态。
const (
	SubscriberActive       = "ACTIVE"
	SubscriberUnsubscribed = "UNSUBSCRIBED"
)

// Category 博客分类。
type Category struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"type:varchar(191);not null"`
	Slug      string    `gorm:"type:varchar(191);uniqueIndex;not null"` // 由名称生成
	CreatedAt time.Time

	Blogs []Blog `gorm:"foreignKey:CategoryID"`
}

// Blog 表示一篇博客文章。
//
// Slug 由标题生成，作为对外的唯一标识。未发布的文章只有作者和管理员可见。
type Blog struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间

	Title         string `gorm:"type:varchar(255);not null"`
	Slug          string `gorm:"type:varchar(255);uniqueIndex;not null"`
	Content       string `gorm:"type:longtext"`
	FeaturedImage string `gorm:"type:varchar(512)"`
	IsFeatured    bool   `gorm:"default:false"`
	IsPublished   bool   `gorm:"default:false"`
	PublishedAt   *time.Time

	AuthorID   uint     `gorm:"not null;index"`
	Author     User     `gorm:"foreignKey:AuthorID"`
	CategoryID uint     `gorm:"not null;index"`
	Category   Category `gorm:"foreignKey:CategoryID"`
}

// Newsletter 表示一期邮件快讯。
//
// 状态流转: DRAFT -> SCHEDULED (设定 ScheduledFor) -> SENT。
// RecipientCount / FailedCount 记录投递结果，发送完成时写入。
type Newsletter struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time // 创建时间

	Subject      string `gorm:"type:varchar(255);not null"`
	Content      string `gorm:"type:longtext"` // HTML 正文
	Status       string `gorm:"type:varchar(16);default:DRAFT;index"`
	ScheduledFor *time.Time
	SentAt       *time.Time

	OpenRate  *float64 // 打开率（由外部统计回填，可为空）
	ClickRate *float64 // 点击率

	RecipientCount int `gorm:"default:0"` // 成功投递数
	FailedCount    int `gorm:"default:0"` // 失败投递数

	UserID uint `gorm:"not null;index"` // 创建者
	User   User `gorm:"foreignKey:UserID"`
}

// NewsletterSubscriber 表示一个快讯订阅者。
//
// 邮箱唯一。退订为软删除（状态置为 UNSUBSCRIBED），重新订阅时恢复。
type NewsletterSubscriber struct {
	ID           uint       `gorm:"primaryKey"`
	Email        string     `gorm:"type:varchar(191);uniqueIndex;not null"`
	Name         string     `gorm:"type:varchar(191)"`
	Status       string     `gorm:"type:varchar(16);default:ACTIVE;index"`
	Source       string     `gorm:"type:varchar(32);default:WEBSITE"` // 来源: WEBSITE / ADMIN / ...
	SubscribedAt time.Time  `gorm:"autoCreateTime"`
	UpdatedAt    time.Time
}
