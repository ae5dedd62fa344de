package newsletter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/saidmaadan/inventtiveapp/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.Newsletter{}, &model.NewsletterSubscriber{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	return redis.NewClient(&redis.Options{Addr: s.Addr()})
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockMailer 记录投递并可针对指定收件人返回错误。
type mockMailer struct {
	mu      sync.Mutex
	sent    []string
	failFor map[string]bool
}

func newMockMailer() *mockMailer {
	return &mockMailer{failFor: map[string]bool{}}
}

func (m *mockMailer) SendVerificationEmail(to, link string) error  { return nil }
func (m *mockMailer) SendPasswordResetEmail(to, link string) error { return nil }
func (m *mockMailer) SendWelcomeEmail(to string, back bool) error  { return nil }

func (m *mockMailer) SendCampaign(to, subject, html string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor[to] {
		return errors.New("smtp rejected")
	}
	m.sent = append(m.sent, to)
	return nil
}

func (m *mockMailer) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockMailer) didSendTo(email string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, to := range m.sent {
		if to == email {
			return true
		}
	}
	return false
}

func seedCampaign(t *testing.T, db *gorm.DB, status string) model.Newsletter {
	t.Helper()
	campaign := model.Newsletter{
		Subject: "Monthly Update",
		Content: "<p>Hello</p>",
		Status:  status,
		UserID:  1,
	}
	if err := db.Create(&campaign).Error; err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
	return campaign
}

func seedSubscriber(t *testing.T, db *gorm.DB, email, status string) {
	t.Helper()
	sub := model.NewsletterSubscriber{Email: email, Status: status, Source: "WEBSITE"}
	if err := db.Create(&sub).Error; err != nil {
		t.Fatalf("seed subscriber: %v", err)
	}
}

func TestDispatcherSend_NotFound(t *testing.T) {
	d := NewDispatcher(testDB(t), testRedis(t), newMockMailer(), nil, testLogger(), 2)

	_, err := d.Send(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDispatcherSend_AlreadySent(t *testing.T) {
	db := testDB(t)
	campaign := seedCampaign(t, db, model.NewsletterSent)
	seedSubscriber(t, db, "a@example.com", model.SubscriberActive)

	d := NewDispatcher(db, testRedis(t), newMockMailer(), nil, testLogger(), 2)
	_, err := d.Send(context.Background(), campaign.ID)
	if !errors.Is(err, ErrAlreadySent) {
		t.Fatalf("expected ErrAlreadySent, got %v", err)
	}
}

func TestDispatcherSend_NoSubscribers(t *testing.T) {
	db := testDB(t)
	campaign := seedCampaign(t, db, model.NewsletterDraft)
	seedSubscriber(t, db, "gone@example.com", model.SubscriberUnsubscribed)

	d := NewDispatcher(db, testRedis(t), newMockMailer(), nil, testLogger(), 2)
	_, err := d.Send(context.Background(), campaign.ID)
	if !errors.Is(err, ErrNoSubscribers) {
		t.Fatalf("expected ErrNoSubscribers, got %v", err)
	}
}

func TestDispatcherSend_MarksSentWithCounts(t *testing.T) {
	db := testDB(t)
	campaign := seedCampaign(t, db, model.NewsletterDraft)
	seedSubscriber(t, db, "a@example.com", model.SubscriberActive)
	seedSubscriber(t, db, "b@example.com", model.SubscriberActive)
	seedSubscriber(t, db, "c@example.com", model.SubscriberActive)
	seedSubscriber(t, db, "gone@example.com", model.SubscriberUnsubscribed)

	mailer := newMockMailer()
	mailer.failFor["b@example.com"] = true

	d := NewDispatcher(db, testRedis(t), mailer, nil, testLogger(), 2)
	result, err := d.Send(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.Sent != 2 || result.Failed != 1 {
		t.Fatalf("expected sent=2 failed=1, got %+v", result)
	}
	if mailer.didSendTo("gone@example.com") {
		t.Fatal("unsubscribed address must not be contacted")
	}

	var updated model.Newsletter
	if err := db.First(&updated, campaign.ID).Error; err != nil {
		t.Fatalf("reload campaign: %v", err)
	}
	if updated.Status != model.NewsletterSent {
		t.Fatalf("expected status SENT, got %s", updated.Status)
	}
	if updated.SentAt == nil {
		t.Fatal("expected sent_at to be set")
	}
	if updated.RecipientCount != 2 || updated.FailedCount != 1 {
		t.Fatalf("expected persisted counts 2/1, got %d/%d", updated.RecipientCount, updated.FailedCount)
	}
}

func TestDispatcherSend_LockPreventsConcurrentDelivery(t *testing.T) {
	db := testDB(t)
	campaign := seedCampaign(t, db, model.NewsletterDraft)
	seedSubscriber(t, db, "a@example.com", model.SubscriberActive)

	rdb := testRedis(t)
	lockKey := fmt.Sprintf("%s%d", sendLockPrefix, campaign.ID)
	if err := rdb.Set(context.Background(), lockKey, "1", time.Minute).Err(); err != nil {
		t.Fatalf("pre-acquire lock: %v", err)
	}

	mailer := newMockMailer()
	d := NewDispatcher(db, rdb, mailer, nil, testLogger(), 2)
	_, err := d.Send(context.Background(), campaign.ID)
	if !errors.Is(err, ErrSendInProgress) {
		t.Fatalf("expected ErrSendInProgress, got %v", err)
	}
	if mailer.sentCount() != 0 {
		t.Fatal("no mail should be sent while locked")
	}
}

func TestDispatcherSend_LockReleasedAfterDelivery(t *testing.T) {
	db := testDB(t)
	campaign := seedCampaign(t, db, model.NewsletterDraft)
	seedSubscriber(t, db, "a@example.com", model.SubscriberActive)

	rdb := testRedis(t)
	d := NewDispatcher(db, rdb, newMockMailer(), nil, testLogger(), 2)
	if _, err := d.Send(context.Background(), campaign.ID); err != nil {
		t.Fatalf("send: %v", err)
	}

	lockKey := fmt.Sprintf("%s%d", sendLockPrefix, campaign.ID)
	exists, err := rdb.Exists(context.Background(), lockKey).Result()
	if err != nil {
		t.Fatalf("check lock: %v", err)
	}
	if exists != 0 {
		t.Fatal("expected send lock to be released")
	}
}
