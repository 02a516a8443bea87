package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/dailytake/models"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	// per-test in-memory database to avoid cross-test interference
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// sqlite has a single writer; one connection serializes concurrent tests
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func newTestEngine(t *testing.T, db *gorm.DB, now time.Time) *Engine {
	t.Helper()
	return NewEngine(db, Options{
		Logger: zaptest.NewLogger(t),
		Clock:  func() time.Time { return now },
	})
}

func createUser(t *testing.T, db *gorm.DB, id uint, offset int) *models.User {
	t.Helper()
	u := &models.User{ID: id, Username: fmt.Sprintf("user%d", id), TimezoneOffsetMinutes: offset}
	require.NoError(t, db.Create(u).Error)
	return u
}

func createPrompt(t *testing.T, db *gorm.DB, date string) {
	t.Helper()
	require.NoError(t, db.Create(&models.PromptDay{PromptDate: date, Text: "prompt for " + date, IsActive: true}).Error)
}

func insertTake(t *testing.T, db *gorm.DB, userID uint, date string) {
	t.Helper()
	require.NoError(t, db.Create(&models.Take{UserID: userID, PromptDate: date, Content: "earlier take"}).Error)
}

func countTakes(t *testing.T, db *gorm.DB, userID uint) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.Take{}).Where("user_id = ?", userID).Count(&n).Error)
	return n
}

func grant(t *testing.T, l *CreditLedger, userID uint, ct models.CreditType, amount int64) {
	t.Helper()
	_, err := l.Grant(context.Background(), userID, ct, amount, models.ReasonGrant)
	require.NoError(t, err)
}

var errDiskUnavailable = errors.New("disk unavailable")

// failTakeInserts makes every INSERT into takes fail, simulating storage loss
// for the registry only.
func failTakeInserts(t *testing.T, db *gorm.DB) {
	t.Helper()
	err := db.Callback().Create().Before("gorm:create").Register("test:fail_take_insert", func(tx *gorm.DB) {
		if tx.Statement.Schema != nil && tx.Statement.Schema.Table == "takes" {
			_ = tx.AddError(errDiskUnavailable)
		}
	})
	require.NoError(t, err)
}
