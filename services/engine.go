package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/dailytake/models"
)

// Options configures an Engine. Zero values select defaults.
type Options struct {
	MaxTakeLength  int
	PromptCache    Cache
	PromptCacheTTL time.Duration
	Logger         *zap.Logger
	Clock          func() time.Time
}

// Engine is the facade collaborators call. Every method takes the acting
// user explicitly; the engine keeps no per-user state between calls.
type Engine struct {
	db       *gorm.DB
	clock    func() time.Time
	log      *zap.Logger
	Prompts  *PromptStore
	Ledger   *CreditLedger
	Registry *SubmissionRegistry
	Gate     *GateStateMachine
	Late     *LateSubmissionOrchestrator
}

// NewEngine builds the engine and its components on db.
func NewEngine(db *gorm.DB, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	prompts := NewPromptStore(db, opts.PromptCache, opts.PromptCacheTTL, log)
	ledger := NewCreditLedger(db, log)
	registry := NewSubmissionRegistry(db, prompts, opts.MaxTakeLength, log)
	gate := NewGateStateMachine(registry, prompts)
	return &Engine{
		db:       db,
		clock:    clock,
		log:      log.Named("engine"),
		Prompts:  prompts,
		Ledger:   ledger,
		Registry: registry,
		Gate:     gate,
		Late:     NewLateSubmissionOrchestrator(db, ledger, registry, gate, log),
	}
}

// Now returns the engine clock in UTC.
func (e *Engine) Now() time.Time {
	return e.clock().UTC()
}

// SubmitRequest is a normal (today) submission. PromptDate, when set, must
// equal the viewer's today key.
type SubmitRequest struct {
	UserID      uint
	Content     string
	IsAnonymous bool
	PromptDate  *string
}

// GetGateState returns Locked or Unlocked for the viewer's today.
func (e *Engine) GetGateState(ctx context.Context, userID uint, now time.Time) (GateState, error) {
	user, err := loadUser(ctx, e.db, userID)
	if err != nil {
		return GateState{}, err
	}
	return e.Gate.Evaluate(ctx, user, now.UTC())
}

// GetDateState returns the state of an arbitrary date for the viewer.
func (e *Engine) GetDateState(ctx context.Context, userID uint, date string, now time.Time) (GateState, error) {
	user, err := loadUser(ctx, e.db, userID)
	if err != nil {
		return GateState{}, err
	}
	return e.Gate.EvaluateDate(ctx, user, date, now.UTC())
}

// GetLateEligibility reports whether date is open for a late take now.
func (e *Engine) GetLateEligibility(ctx context.Context, userID uint, date string) (bool, error) {
	user, err := loadUser(ctx, e.db, userID)
	if err != nil {
		return false, err
	}
	return e.Gate.LateEligible(ctx, user, date, e.Now())
}

// GetStreak recomputes the streak from accepted takes and refreshes the
// cached columns when they drifted.
func (e *Engine) GetStreak(ctx context.Context, userID uint) (Streak, error) {
	user, err := loadUser(ctx, e.db, userID)
	if err != nil {
		return Streak{}, err
	}
	dates, err := e.Registry.AcceptedDates(ctx, userID)
	if err != nil {
		return Streak{}, err
	}
	streak := ComputeStreak(dates, TodayKey(e.Now(), user.TimezoneOffsetMinutes))
	if streak.Current != user.CurrentStreak || streak.Longest != user.LongestStreak {
		err := e.db.WithContext(ctx).Model(user).Updates(map[string]interface{}{
			"current_streak": streak.Current,
			"longest_streak": streak.Longest,
		}).Error
		if err != nil {
			e.log.Warn("streak cache refresh failed", zap.Uint("user_id", userID), zap.Error(err))
		}
	}
	return streak, nil
}

// GetCreditBalances returns every credit type with its balance.
func (e *Engine) GetCreditBalances(ctx context.Context, userID uint) (map[models.CreditType]int64, error) {
	if _, err := loadUser(ctx, e.db, userID); err != nil {
		return nil, err
	}
	return e.Ledger.Balances(ctx, userID)
}

// CreditHistory pages through the user's ledger entries.
func (e *Engine) CreditHistory(ctx context.Context, userID uint, t *models.CreditType, page, pageSize int) ([]models.CreditHistory, int64, error) {
	return e.Ledger.History(ctx, userID, t, page, pageSize)
}

// TodayPrompt returns the active prompt for the viewer's today.
func (e *Engine) TodayPrompt(ctx context.Context, userID uint) (*models.PromptDay, error) {
	user, err := loadUser(ctx, e.db, userID)
	if err != nil {
		return nil, err
	}
	today := TodayKey(e.Now(), user.TimezoneOffsetMinutes)
	day, err := e.Prompts.Find(ctx, today)
	if err != nil {
		return nil, err
	}
	if day == nil || !day.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrNoPromptForDate, today)
	}
	return day, nil
}

// Submit records today's take. Anonymous takes spend one anonymous credit
// first and get it refunded when recording fails, including the duplicate
// case. A duplicate returns the stored take with ErrAlreadySubmitted.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*models.Take, error) {
	ctx = context.WithoutCancel(ctx)
	now := e.Now()
	user, err := loadUser(ctx, e.db, req.UserID)
	if err != nil {
		return nil, err
	}
	today := TodayKey(now, user.TimezoneOffsetMinutes)
	date := today
	if req.PromptDate != nil && strings.TrimSpace(*req.PromptDate) != "" {
		date = strings.TrimSpace(*req.PromptDate)
	}

	rec := RecordRequest{
		UserID:      req.UserID,
		PromptDate:  date,
		Content:     req.Content,
		IsAnonymous: req.IsAnonymous,
		Now:         now,
	}
	if _, existing, err := e.Registry.Precheck(ctx, rec); err != nil {
		return existing, err
	}

	var spends []*models.CreditHistory
	attempt := "take:" + uuid.NewString()
	if req.IsAnonymous {
		spend, err := e.Ledger.SpendWith(ctx, SpendRequest{
			UserID:    req.UserID,
			Type:      models.CreditAnonymous,
			Amount:    1,
			Reason:    models.ReasonSpend,
			Reference: attempt,
		})
		if err != nil {
			return nil, err
		}
		spends = append(spends, spend)
	}

	take, err := e.Registry.Record(ctx, rec)
	if err != nil {
		refundAll(ctx, e.Ledger, e.log, req.UserID, spends, attempt)
		return take, err
	}
	e.log.Info("take recorded",
		zap.Uint("user_id", req.UserID),
		zap.String("prompt_date", date),
		zap.Bool("anonymous", req.IsAnonymous))
	return take, nil
}

// SubmitLate records a take for a past prompt date.
func (e *Engine) SubmitLate(ctx context.Context, req LateRequest) (*models.Take, error) {
	ctx = context.WithoutCancel(ctx)
	if req.Now.IsZero() {
		req.Now = e.Now()
	}
	return e.Late.Submit(ctx, req)
}

// PurchaseCreditsConfirmed books credits for a payment the external
// processor already confirmed. It does not verify the payment.
func (e *Engine) PurchaseCreditsConfirmed(ctx context.Context, userID uint, t models.CreditType, amount int64, receiptID string) (*models.CreditHistory, error) {
	ctx = context.WithoutCancel(ctx)
	if _, err := loadUser(ctx, e.db, userID); err != nil {
		return nil, err
	}
	return e.Ledger.PurchaseConfirmed(ctx, userID, t, amount, receiptID)
}

// SpendCreditForAction debits credits for a gated action owned by the
// caller (boost, sneak peek, delete...). idempotencyKey may be empty.
func (e *Engine) SpendCreditForAction(ctx context.Context, userID uint, t models.CreditType, amount int64, idempotencyKey string) (*models.CreditHistory, error) {
	ctx = context.WithoutCancel(ctx)
	if _, err := loadUser(ctx, e.db, userID); err != nil {
		return nil, err
	}
	return e.Ledger.SpendWith(ctx, SpendRequest{
		UserID:         userID,
		Type:           t,
		Amount:         amount,
		Reason:         models.ReasonSpend,
		Reference:      "action:" + string(t),
		IdempotencyKey: idempotencyKey,
	})
}

// RefundAction reverses a SpendCreditForAction whose action failed later.
func (e *Engine) RefundAction(ctx context.Context, userID, spendEntryID uint) (*models.CreditHistory, error) {
	return e.Ledger.Refund(context.WithoutCancel(ctx), userID, spendEntryID, "action-failed")
}

// AdminAdjust moves a balance by delta with reason admin_adjust.
func (e *Engine) AdminAdjust(ctx context.Context, userID uint, t models.CreditType, delta int64, note string) (*models.CreditHistory, error) {
	ctx = context.WithoutCancel(ctx)
	if _, err := loadUser(ctx, e.db, userID); err != nil {
		return nil, err
	}
	switch {
	case delta > 0:
		return e.Ledger.Grant(ctx, userID, t, delta, models.ReasonAdminAdjust)
	case delta < 0:
		return e.Ledger.SpendWith(ctx, SpendRequest{
			UserID:    userID,
			Type:      t,
			Amount:    -delta,
			Reason:    models.ReasonAdminAdjust,
			Reference: note,
		})
	default:
		return nil, fmt.Errorf("%w: zero adjustment", ErrInvalidAmount)
	}
}

// Reconcile checks the ledger invariant for every credit type of a user.
func (e *Engine) Reconcile(ctx context.Context, userID uint) ([]Reconciliation, error) {
	return e.Ledger.Reconcile(ctx, userID)
}

// UpsertPromptDay is the hook for the external prompt scheduler and for
// text corrections.
func (e *Engine) UpsertPromptDay(ctx context.Context, date, text string, active bool) (*models.PromptDay, error) {
	return e.Prompts.Upsert(context.WithoutCancel(ctx), date, text, active)
}

// UpdateTimezone sets the viewer's offset, creating the user row on first
// contact. Stored prompt dates are never rewritten; only the next "today"
// computation changes.
func (e *Engine) UpdateTimezone(ctx context.Context, userID uint, username string, offsetMinutes int) (*models.User, error) {
	if err := ValidateOffset(offsetMinutes); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	user := models.User{ID: userID, Username: username, TimezoneOffsetMinutes: offsetMinutes}
	err := e.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"timezone_offset_minutes", "updated_at"}),
	}).Create(&user).Error
	if err != nil {
		return nil, storageErr(err)
	}
	stored, err := loadUser(ctx, e.db, userID)
	if err != nil {
		return nil, err
	}
	e.log.Info("timezone updated", zap.Uint("user_id", userID), zap.Int("offset_minutes", offsetMinutes))
	return stored, nil
}

// EnsureUser creates the row for an authenticated identity on first
// contact, with a UTC offset. Existing rows are left untouched.
func (e *Engine) EnsureUser(ctx context.Context, userID uint, username string) error {
	var n int64
	if err := e.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Count(&n).Error; err != nil {
		return storageErr(err)
	}
	if n > 0 {
		return nil
	}
	user := models.User{ID: userID, Username: username}
	err := e.db.WithContext(context.WithoutCancel(ctx)).Clauses(clause.OnConflict{DoNothing: true}).Create(&user).Error
	if err != nil {
		return storageErr(err)
	}
	e.log.Info("user created on first contact", zap.Uint("user_id", userID))
	return nil
}

// IsBenign reports errors callers should treat as success with existing state.
func IsBenign(err error) bool {
	return errors.Is(err, ErrAlreadySubmitted)
}
