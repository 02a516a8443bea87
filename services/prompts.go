package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/dailytake/models"
)

const (
	defaultPromptCacheTTL = time.Hour
	// PromptCachePrefix namespaces prompt entries in the shared cache.
	PromptCachePrefix = "cache:prompt:"
)

// Cache is the byte cache used for prompt lookups. utils.RedisCache
// implements it; a nil Cache disables caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
	Delete(ctx context.Context, keys ...string)
}

// PromptStore reads prompt days, caching hits by date.
type PromptStore struct {
	db    *gorm.DB
	cache Cache
	ttl   time.Duration
	log   *zap.Logger
}

// NewPromptStore creates a prompt store. cache may be nil.
func NewPromptStore(db *gorm.DB, cache Cache, ttl time.Duration, log *zap.Logger) *PromptStore {
	if ttl <= 0 {
		ttl = defaultPromptCacheTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PromptStore{db: db, cache: cache, ttl: ttl, log: log.Named("prompts")}
}

func promptCacheKey(date string) string {
	return PromptCachePrefix + date
}

// Find returns the prompt for date, or nil when there is none.
func (p *PromptStore) Find(ctx context.Context, date string) (*models.PromptDay, error) {
	if p.cache != nil {
		if b, ok := p.cache.Get(ctx, promptCacheKey(date)); ok {
			var day models.PromptDay
			if err := json.Unmarshal(b, &day); err == nil {
				return &day, nil
			}
		}
	}

	var day models.PromptDay
	if err := p.db.WithContext(ctx).Where("prompt_date = ?", date).Limit(1).Find(&day).Error; err != nil {
		return nil, storageErr(err)
	}
	if day.ID == 0 {
		return nil, nil
	}
	if p.cache != nil {
		if b, err := json.Marshal(day); err == nil {
			p.cache.Set(ctx, promptCacheKey(date), b, p.ttl)
		}
	}
	return &day, nil
}

// Resolvable reports whether an active prompt exists for date.
func (p *PromptStore) Resolvable(ctx context.Context, date string) (bool, error) {
	day, err := p.Find(ctx, date)
	if err != nil {
		return false, err
	}
	return day != nil && day.IsActive, nil
}

// Upsert creates the prompt for date or corrects its text and active flag.
func (p *PromptStore) Upsert(ctx context.Context, date, text string, active bool) (*models.PromptDay, error) {
	if _, err := ParseDayKey(date); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrInvalidContent
	}
	now := time.Now()
	day := models.PromptDay{PromptDate: date, Text: text, IsActive: active, CreatedAt: now, UpdatedAt: now}
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "prompt_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"text", "is_active", "updated_at"}),
	}).Create(&day).Error
	if err != nil {
		return nil, storageErr(err)
	}
	if p.cache != nil {
		p.cache.Delete(ctx, promptCacheKey(date))
	}

	var stored models.PromptDay
	if err := p.db.WithContext(ctx).Where("prompt_date = ?", date).First(&stored).Error; err != nil {
		return nil, storageErr(err)
	}
	p.log.Info("prompt day saved", zap.String("prompt_date", date), zap.Bool("active", active))
	return &stored, nil
}
