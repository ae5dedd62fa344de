package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/saidmaadan/inventtiveapp/internal/model"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func seedVerifiedUser(t *testing.T, db *gorm.DB, email, password, role string) model.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := model.User{
		Email:           email,
		Password:        string(hash),
		Name:            "Test User",
		Role:            role,
		EmailVerifiedAt: nowPtr(),
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func nowPtr() *time.Time {
	now := time.Now()
	return &now
}

func TestTokenStore_IssueReplacesPriorToken(t *testing.T) {
	db := testDB(t)
	store := NewTokenStore(db)
	ctx := context.Background()

	first, err := store.IssueVerification(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("issue first: %v", err)
	}
	second, err := store.IssueVerification(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("issue second: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct tokens")
	}

	// 旧令牌随新签发而作废
	if _, err := store.ConsumeVerification(ctx, first); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound for replaced token, got %v", err)
	}

	var count int64
	if err := db.Model(&model.VerificationToken{}).Where("email = ?", "user@example.com").Count(&count).Error; err != nil {
		t.Fatalf("count tokens: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 live token, got %d", count)
	}
}

func TestTokenStore_ConsumeVerificationMarksUser(t *testing.T) {
	db := testDB(t)
	store := NewTokenStore(db)
	ctx := context.Background()

	user := model.User{Email: "user@example.com", Password: "x", Name: "User", Role: model.RoleUser}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	token, err := store.IssueVerification(ctx, user.Email)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	email, err := store.ConsumeVerification(ctx, token)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if email != user.Email {
		t.Fatalf("expected email %q, got %q", user.Email, email)
	}

	var updated model.User
	if err := db.First(&updated, user.ID).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if !updated.Verified() {
		t.Fatal("expected user to be verified")
	}
}

func TestTokenStore_ConsumeIsSingleUse(t *testing.T) {
	db := testDB(t)
	store := NewTokenStore(db)
	ctx := context.Background()

	seedVerifiedUser(t, db, "user@example.com", "pw", model.RoleUser)
	token, err := store.IssueReset(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := store.ConsumeReset(ctx, token, "new-hash"); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if _, err := store.ConsumeReset(ctx, token, "other-hash"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound on second consume, got %v", err)
	}
}

func TestTokenStore_ExpiredTokenIsDeleted(t *testing.T) {
	db := testDB(t)
	store := NewTokenStore(db)
	ctx := context.Background()

	rec := model.PasswordResetToken{
		Token:     "expired-token",
		Email:     "user@example.com",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	if err := db.Create(&rec).Error; err != nil {
		t.Fatalf("seed token: %v", err)
	}

	if _, err := store.ConsumeReset(ctx, rec.Token, "new-hash"); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	var count int64
	if err := db.Model(&model.PasswordResetToken{}).Where("token = ?", rec.Token).Count(&count).Error; err != nil {
		t.Fatalf("count tokens: %v", err)
	}
	if count != 0 {
		t.Fatal("expected expired token to be deleted")
	}
}

func TestTokenStore_ExpiredVerificationTokenIsDeleted(t *testing.T) {
	db := testDB(t)
	store := NewTokenStore(db)
	ctx := context.Background()

	rec := model.VerificationToken{
		Token:     "expired-token",
		Email:     "user@example.com",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	if err := db.Create(&rec).Error; err != nil {
		t.Fatalf("seed token: %v", err)
	}

	if _, err := store.ConsumeVerification(ctx, rec.Token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	var count int64
	if err := db.Model(&model.VerificationToken{}).Where("token = ?", rec.Token).Count(&count).Error; err != nil {
		t.Fatalf("count tokens: %v", err)
	}
	if count != 0 {
		t.Fatal("expected expired token to be deleted")
	}
}

func TestTokenStore_ResetUpdatesPasswordHash(t *testing.T) {
	db := testDB(t)
	store := NewTokenStore(db)
	ctx := context.Background()

	user := seedVerifiedUser(t, db, "user@example.com", "old-pw", model.RoleUser)
	token, err := store.IssueReset(ctx, user.Email)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := store.ConsumeReset(ctx, token, "new-hash"); err != nil {
		t.Fatalf("consume: %v", err)
	}

	var updated model.User
	if err := db.First(&updated, user.ID).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if updated.Password != "new-hash" {
		t.Fatalf("expected password hash to be replaced, got %q", updated.Password)
	}
}
