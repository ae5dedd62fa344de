package model

import "time"

// 用户角色。
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// User 表示系统用户。
type User struct {
	ID              uint       `gorm:"primaryKey"`                    // 用户 ID
	Email           string     `gorm:"type:varchar(191);uniqueIndex"` // 邮箱（唯一）
	Password        string     `gorm:"type:varchar(191)"`             // bcrypt 哈希（OAuth 账号为空）
	Name            string     `gorm:"type:varchar(191)"`             // 显示名
	Role            string     `gorm:"type:varchar(16);default:USER"` // 角色: USER / ADMIN
	Image           string     `gorm:"type:varchar(512)"`             // 头像 URL
	EmailVerifiedAt *time.Time // 邮箱验证时间（nil = 未验证）
	CreatedAt       time.Time  // 创建时间

	Blogs       []Blog       `gorm:"foreignKey:AuthorID"`
	Newsletters []Newsletter `gorm:"foreignKey:UserID"`
}

// Verified 返回邮箱是否已验证。
func (u *User) Verified() bool {
	return u.EmailVerifiedAt != nil
}

// VerificationToken 邮箱验证令牌。
//
// 不透明随机字符串，单次有效：验证成功或发现过期时立即删除。
// 同一邮箱同时最多存在一条（签发新令牌时删除旧令牌）。
type VerificationToken struct {
	Token     string    `gorm:"primaryKey;type:varchar(128)"` // 令牌（hex 编码随机字节）
	Email     string    `gorm:"type:varchar(191);uniqueIndex"`
	ExpiresAt time.Time `gorm:"index"` // 过期时间（签发后 24h）
	CreatedAt time.Time
}

// PasswordResetToken 密码重置令牌。
//
// 与 VerificationToken 生命周期相同，单独建表以区分用途。
type PasswordResetToken struct {
	Token     string    `gorm:"primaryKey;type:varchar(128)"`
	Email     string    `gorm:"type:varchar(191);uniqueIndex"`
	ExpiresAt time.Time `gorm:"index"` // 过期时间（签发后 1h）
	CreatedAt time.Time
}
