package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/saidmaadan/inventtiveapp/internal/model"

	"gorm.io/gorm"
)

var (
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExpired  = errors.New("token expired")
)

// 令牌有效期。
const (
	verificationTokenTTL = 24 * time.Hour
	resetTokenTTL        = 1 * time.Hour
)

// TokenStore 管理验证与重置令牌的签发和消费。
//
// 消费与其对应的用户变更在同一个事务中完成，令牌单次有效；
// 签发时删除同邮箱的旧令牌，保证同一邮箱只有一条有效令牌。
type TokenStore struct {
	db *gorm.DB
}

// NewTokenStore 创建 TokenStore。
func NewTokenStore(db *gorm.DB) *TokenStore {
	return &TokenStore{db: db}
}

// IssueVerification 为邮箱签发新的验证令牌（24h 有效）。
func (s *TokenStore) IssueVerification(ctx context.Context, email string) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("email = ?", email).Delete(&model.VerificationToken{}).Error; err != nil {
			return err
		}
		return tx.Create(&model.VerificationToken{
			Token:     token,
			Email:     email,
			ExpiresAt: time.Now().Add(verificationTokenTTL),
		}).Error
	})
	if err != nil {
		return "", fmt.Errorf("issue verification token: %w", err)
	}
	return token, nil
}

// IssueReset 为邮箱签发新的密码重置令牌（1h 有效）。
func (s *TokenStore) IssueReset(ctx context.Context, email string) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("email = ?", email).Delete(&model.PasswordResetToken{}).Error; err != nil {
			return err
		}
		return tx.Create(&model.PasswordResetToken{
			Token:     token,
			Email:     email,
			ExpiresAt: time.Now().Add(resetTokenTTL),
		}).Error
	})
	if err != nil {
		return "", fmt.Errorf("issue reset token: %w", err)
	}
	return token, nil
}

// ConsumeVerification 消费验证令牌：将对应用户标记为已验证并删除令牌。
//
// 返回令牌关联的邮箱。过期令牌会被删除并返回 ErrTokenExpired。
func (s *TokenStore) ConsumeVerification(ctx context.Context, token string) (string, error) {
	var rec model.VerificationToken
	if err := s.db.WithContext(ctx).Where("token = ?", token).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrTokenNotFound
		}
		return "", err
	}
	if time.Now().After(rec.ExpiresAt) {
		if err := s.db.WithContext(ctx).Where("token = ?", token).Delete(&model.VerificationToken{}).Error; err != nil {
			return "", err
		}
		return "", ErrTokenExpired
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if err := tx.Model(&model.User{}).Where("email = ?", rec.Email).
			Update("email_verified_at", &now).Error; err != nil {
			return err
		}
		res := tx.Where("token = ?", token).Delete(&model.VerificationToken{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// 并发消费：另一请求已用掉该令牌
			return ErrTokenNotFound
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return rec.Email, nil
}

// ConsumeReset 消费重置令牌：覆盖用户密码哈希并删除令牌。
func (s *TokenStore) ConsumeReset(ctx context.Context, token string, newHash string) (string, error) {
	var rec model.PasswordResetToken
	if err := s.db.WithContext(ctx).Where("token = ?", token).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrTokenNotFound
		}
		return "", err
	}
	if time.Now().After(rec.ExpiresAt) {
		if err := s.db.WithContext(ctx).Where("token = ?", token).Delete(&model.PasswordResetToken{}).Error; err != nil {
			return "", err
		}
		return "", ErrTokenExpired
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.User{}).Where("email = ?", rec.Email).
			Update("password", newHash).Error; err != nil {
			return err
		}
		res := tx.Where("token = ?", token).Delete(&model.PasswordResetToken{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrTokenNotFound
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return rec.Email, nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
