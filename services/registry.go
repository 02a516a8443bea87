package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/dailytake/models"
)

// DefaultMaxTakeLength is the server-side ceiling on take content, in runes.
const DefaultMaxTakeLength = 2000

// RecordRequest is one submission attempt.
type RecordRequest struct {
	UserID       uint
	PromptDate   string
	Content      string
	IsAnonymous  bool
	IsLateSubmit bool
	Now          time.Time
}

// SubmissionRegistry accepts at most one take per (user, prompt date).
// It never touches credits; callers fund anonymous and late takes first.
type SubmissionRegistry struct {
	db        *gorm.DB
	prompts   *PromptStore
	maxLength int
	sanitizer *bluemonday.Policy
	log       *zap.Logger
}

// NewSubmissionRegistry creates a registry. maxLength <= 0 selects the default.
func NewSubmissionRegistry(db *gorm.DB, prompts *PromptStore, maxLength int, log *zap.Logger) *SubmissionRegistry {
	if maxLength <= 0 {
		maxLength = DefaultMaxTakeLength
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SubmissionRegistry{
		db:        db,
		prompts:   prompts,
		maxLength: maxLength,
		sanitizer: bluemonday.UGCPolicy(),
		log:       log.Named("registry"),
	}
}

// Validate returns the sanitized text to store. The length limit applies
// to that stored form, so escaped entities count.
func (r *SubmissionRegistry) Validate(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidContent)
	}
	clean := strings.TrimSpace(r.sanitizer.Sanitize(trimmed))
	if clean == "" {
		return "", fmt.Errorf("%w: empty after sanitizing", ErrInvalidContent)
	}
	if n := utf8.RuneCountInString(clean); n > r.maxLength {
		return "", fmt.Errorf("%w: length %d exceeds %d", ErrInvalidContent, n, r.maxLength)
	}
	return clean, nil
}

// Precheck runs every validation step of Record without writing. When a
// take already exists it is returned with ErrAlreadySubmitted.
func (r *SubmissionRegistry) Precheck(ctx context.Context, req RecordRequest) (string, *models.Take, error) {
	clean, err := r.Validate(req.Content)
	if err != nil {
		return "", nil, err
	}
	if _, err := ParseDayKey(req.PromptDate); err != nil {
		return "", nil, err
	}
	user, err := loadUser(ctx, r.db, req.UserID)
	if err != nil {
		return "", nil, err
	}

	existing, err := r.Get(ctx, req.UserID, req.PromptDate)
	if err != nil {
		return "", nil, err
	}
	if existing != nil {
		return clean, existing, ErrAlreadySubmitted
	}

	today := TodayKey(req.Now, user.TimezoneOffsetMinutes)
	if req.IsLateSubmit {
		if !IsPast(req.PromptDate, req.Now, user.TimezoneOffsetMinutes) {
			return "", nil, fmt.Errorf("%w: %s is not before %s", ErrNotEligible, req.PromptDate, today)
		}
		ok, err := r.prompts.Resolvable(ctx, req.PromptDate)
		if err != nil {
			return "", nil, err
		}
		if !ok {
			return "", nil, fmt.Errorf("%w: %s", ErrNoPromptForDate, req.PromptDate)
		}
	} else if req.PromptDate != today {
		return "", nil, fmt.Errorf("%w: %s is not today (%s)", ErrNotEligible, req.PromptDate, today)
	}
	return clean, nil, nil
}

// Record persists an accepted take and refreshes the cached streak columns
// in the same transaction. A duplicate returns the stored take together with
// ErrAlreadySubmitted.
func (r *SubmissionRegistry) Record(ctx context.Context, req RecordRequest) (*models.Take, error) {
	clean, existing, err := r.Precheck(ctx, req)
	if err != nil {
		return existing, err
	}

	take := &models.Take{
		UserID:       req.UserID,
		PromptDate:   req.PromptDate,
		Content:      clean,
		IsAnonymous:  req.IsAnonymous,
		IsLateSubmit: req.IsLateSubmit,
		CreatedAt:    req.Now,
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(take).Error; err != nil {
			return err
		}
		return refreshStreakCache(tx, req.UserID, req.Now)
	})
	if err == nil {
		return take, nil
	}

	// a concurrent duplicate may have won the unique index
	if winner, gerr := r.Get(ctx, req.UserID, req.PromptDate); gerr == nil && winner != nil {
		r.log.Info("duplicate take resolved to existing row",
			zap.Uint("user_id", req.UserID), zap.String("prompt_date", req.PromptDate), zap.Uint("take_id", winner.ID))
		return winner, ErrAlreadySubmitted
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, fmt.Errorf("%w: %w", ErrConcurrencyConflict, err)
	}
	r.log.Warn("take insert failed", zap.Uint("user_id", req.UserID), zap.String("prompt_date", req.PromptDate), zap.Error(err))
	return nil, storageErr(err)
}

// Get returns the take for (user, date), or nil.
func (r *SubmissionRegistry) Get(ctx context.Context, userID uint, date string) (*models.Take, error) {
	var take models.Take
	if err := r.db.WithContext(ctx).Where("user_id = ? AND prompt_date = ?", userID, date).Limit(1).Find(&take).Error; err != nil {
		return nil, storageErr(err)
	}
	if take.ID == 0 {
		return nil, nil
	}
	return &take, nil
}

// HasTake reports whether an accepted take exists for (user, date).
func (r *SubmissionRegistry) HasTake(ctx context.Context, userID uint, date string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Take{}).Where("user_id = ? AND prompt_date = ?", userID, date).Count(&n).Error; err != nil {
		return false, storageErr(err)
	}
	return n > 0, nil
}

// AcceptedDates lists the user's prompt dates in ascending order.
func (r *SubmissionRegistry) AcceptedDates(ctx context.Context, userID uint) ([]string, error) {
	return acceptedDates(r.db.WithContext(ctx), userID)
}

func acceptedDates(db *gorm.DB, userID uint) ([]string, error) {
	var dates []string
	if err := db.Model(&models.Take{}).Where("user_id = ?", userID).Order("prompt_date ASC").Pluck("prompt_date", &dates).Error; err != nil {
		return nil, storageErr(err)
	}
	return dates, nil
}

// refreshStreakCache recomputes the user's streak columns from their takes.
func refreshStreakCache(tx *gorm.DB, userID uint, now time.Time) error {
	var user models.User
	if err := tx.First(&user, userID).Error; err != nil {
		return err
	}
	dates, err := acceptedDates(tx, userID)
	if err != nil {
		return err
	}
	streak := ComputeStreak(dates, TodayKey(now, user.TimezoneOffsetMinutes))
	last := ""
	if len(dates) > 0 {
		last = dates[len(dates)-1]
	}
	return tx.Model(&user).Updates(map[string]interface{}{
		"current_streak": streak.Current,
		"longest_streak": streak.Longest,
		"last_take_date": last,
	}).Error
}

func loadUser(ctx context.Context, db *gorm.DB, userID uint) (*models.User, error) {
	var user models.User
	err := db.WithContext(ctx).First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return &user, nil
}
