package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/dailytake/models"
)

// CreditLedger keeps per-user, per-type balances together with an
// append-only history. Each mutation updates the balance row and appends its
// history entry inside a single transaction.
type CreditLedger struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewCreditLedger creates a ledger on top of db.
func NewCreditLedger(db *gorm.DB, log *zap.Logger) *CreditLedger {
	if log == nil {
		log = zap.NewNop()
	}
	return &CreditLedger{db: db, log: log.Named("ledger")}
}

// SpendRequest describes a debit. IdempotencyKey, when set, makes a retried
// request return the entry written by the first one.
type SpendRequest struct {
	UserID         uint
	Type           models.CreditType
	Amount         int64
	Reason         models.CreditReason
	Reference      string
	IdempotencyKey string
}

// Reconciliation compares a balance row with the sum of its history.
type Reconciliation struct {
	CreditType models.CreditType `json:"credit_type"`
	Balance    int64             `json:"balance"`
	HistorySum int64             `json:"history_sum"`
	Consistent bool              `json:"consistent"`
}

// Balance returns the current balance, zero when no row exists.
func (l *CreditLedger) Balance(ctx context.Context, userID uint, t models.CreditType) (int64, error) {
	if _, err := models.ParseCreditType(string(t)); err != nil {
		return 0, err
	}
	var row models.CreditBalance
	err := l.db.WithContext(ctx).Where("user_id = ? AND credit_type = ?", userID, t).Limit(1).Find(&row).Error
	if err != nil {
		return 0, storageErr(err)
	}
	return row.Balance, nil
}

// Balances returns every credit type, zero-filled.
func (l *CreditLedger) Balances(ctx context.Context, userID uint) (map[models.CreditType]int64, error) {
	var rows []models.CreditBalance
	if err := l.db.WithContext(ctx).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, storageErr(err)
	}
	out := make(map[models.CreditType]int64, len(models.CreditTypes))
	for _, t := range models.CreditTypes {
		out[t] = 0
	}
	for _, r := range rows {
		out[r.CreditType] = r.Balance
	}
	return out, nil
}

// Grant credits amount units. Allowed reasons are grant, purchase and
// admin_adjust.
func (l *CreditLedger) Grant(ctx context.Context, userID uint, t models.CreditType, amount int64, reason models.CreditReason) (*models.CreditHistory, error) {
	switch reason {
	case models.ReasonGrant, models.ReasonPurchase, models.ReasonAdminAdjust:
	default:
		return nil, fmt.Errorf("%w: reason %q cannot grant", ErrInvalidAmount, reason)
	}
	if err := validateMutation(t, amount); err != nil {
		return nil, err
	}
	entry := &models.CreditHistory{UserID: userID, CreditType: t, Delta: amount, Reason: reason}
	if err := l.apply(ctx, entry); err != nil {
		return nil, err
	}
	l.log.Debug("credit granted", zap.Uint("user_id", userID), zap.String("type", string(t)), zap.Int64("amount", amount))
	return entry, nil
}

// Spend debits amount units or fails with ErrInsufficientCredit without
// writing anything.
func (l *CreditLedger) Spend(ctx context.Context, userID uint, t models.CreditType, amount int64, reason models.CreditReason) (*models.CreditHistory, error) {
	return l.SpendWith(ctx, SpendRequest{UserID: userID, Type: t, Amount: amount, Reason: reason})
}

// SpendWith is Spend with a reference and an optional idempotency key.
func (l *CreditLedger) SpendWith(ctx context.Context, req SpendRequest) (*models.CreditHistory, error) {
	if req.Reason == "" {
		req.Reason = models.ReasonSpend
	}
	if req.Reason != models.ReasonSpend && req.Reason != models.ReasonAdminAdjust {
		return nil, fmt.Errorf("%w: reason %q cannot spend", ErrInvalidAmount, req.Reason)
	}
	if err := validateMutation(req.Type, req.Amount); err != nil {
		return nil, err
	}

	var key *string
	if req.IdempotencyKey != "" {
		k := req.IdempotencyKey
		key = &k
		if prior, err := l.findByIdempotencyKey(ctx, req.UserID, k); err != nil || prior != nil {
			if err != nil {
				return nil, err
			}
			return replayedSpend(prior, req)
		}
	}

	entry := &models.CreditHistory{
		UserID:         req.UserID,
		CreditType:     req.Type,
		Delta:          -req.Amount,
		Reason:         req.Reason,
		Reference:      req.Reference,
		IdempotencyKey: key,
	}
	err := l.apply(ctx, entry)
	if err != nil && key != nil && !errors.Is(err, ErrInsufficientCredit) {
		// lost the race to an identical retry
		if prior, ferr := l.findByIdempotencyKey(ctx, req.UserID, *key); ferr == nil && prior != nil {
			return replayedSpend(prior, req)
		}
	}
	if err != nil {
		return nil, err
	}
	l.log.Debug("credit spent", zap.Uint("user_id", req.UserID), zap.String("type", string(req.Type)), zap.Int64("amount", req.Amount))
	return entry, nil
}

// Refund reverses one spend entry of userID. A spend can be refunded once.
func (l *CreditLedger) Refund(ctx context.Context, userID, spendEntryID uint, reference string) (*models.CreditHistory, error) {
	var entry *models.CreditHistory
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var spend models.CreditHistory
		if err := tx.Where("id = ? AND user_id = ?", spendEntryID, userID).Limit(1).Find(&spend).Error; err != nil {
			return err
		}
		if spend.ID == 0 || spend.Reason != models.ReasonSpend || spend.Delta >= 0 {
			return fmt.Errorf("%w: entry %d is not a spend of user %d", ErrRefundNotAllowed, spendEntryID, userID)
		}
		var refunded int64
		if err := tx.Model(&models.CreditHistory{}).Where("refund_of = ?", spend.ID).Count(&refunded).Error; err != nil {
			return err
		}
		if refunded > 0 {
			return fmt.Errorf("%w: entry %d already refunded", ErrRefundNotAllowed, spend.ID)
		}
		spendID := spend.ID
		entry = &models.CreditHistory{
			UserID:     userID,
			CreditType: spend.CreditType,
			Delta:      -spend.Delta,
			Reason:     models.ReasonRefund,
			Reference:  reference,
			RefundOf:   &spendID,
		}
		return applyTx(tx, entry)
	})
	if err != nil {
		if errors.Is(err, ErrRefundNotAllowed) {
			return nil, err
		}
		var refunded int64
		if cerr := l.db.WithContext(ctx).Model(&models.CreditHistory{}).Where("refund_of = ?", spendEntryID).Count(&refunded).Error; cerr == nil && refunded > 0 {
			return nil, fmt.Errorf("%w: entry %d already refunded", ErrRefundNotAllowed, spendEntryID)
		}
		return nil, classify(err)
	}
	l.log.Info("credit refunded",
		zap.Uint("user_id", userID),
		zap.Uint("spend_id", spendEntryID),
		zap.String("type", string(entry.CreditType)),
		zap.String("reference", reference))
	return entry, nil
}

// PurchaseConfirmed books a payment the processor already confirmed. The
// receipt id makes it idempotent: a replayed confirmation returns the
// original entry.
func (l *CreditLedger) PurchaseConfirmed(ctx context.Context, userID uint, t models.CreditType, amount int64, receiptID string) (*models.CreditHistory, error) {
	if receiptID == "" {
		return nil, fmt.Errorf("%w: missing receipt id", ErrInvalidAmount)
	}
	if err := validateMutation(t, amount); err != nil {
		return nil, err
	}
	if prior, err := l.findByReceipt(ctx, receiptID); err != nil {
		return nil, err
	} else if prior != nil {
		return checkReceiptOwner(prior, userID, t)
	}

	receipt := receiptID
	entry := &models.CreditHistory{
		UserID:            userID,
		CreditType:        t,
		Delta:             amount,
		Reason:            models.ReasonPurchase,
		Reference:         "receipt:" + receiptID,
		ExternalReceiptID: &receipt,
	}
	if err := l.apply(ctx, entry); err != nil {
		if !errors.Is(err, ErrInsufficientCredit) {
			if prior, ferr := l.findByReceipt(ctx, receiptID); ferr == nil && prior != nil {
				return checkReceiptOwner(prior, userID, t)
			}
		}
		return nil, err
	}
	l.log.Info("purchase booked", zap.Uint("user_id", userID), zap.String("type", string(t)), zap.Int64("amount", amount), zap.String("receipt", receiptID))
	return entry, nil
}

// ConfirmedPurchase returns the purchase booked for receiptID when it belongs
// to userID and type t. An unknown receipt, or one booked for another
// account or type, is ErrNotEligible.
func (l *CreditLedger) ConfirmedPurchase(ctx context.Context, userID uint, t models.CreditType, receiptID string) (*models.CreditHistory, error) {
	if receiptID == "" {
		return nil, fmt.Errorf("%w: missing receipt id", ErrNotEligible)
	}
	prior, err := l.findByReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	if prior == nil || prior.Reason != models.ReasonPurchase || prior.UserID != userID || prior.CreditType != t {
		return nil, fmt.Errorf("%w: receipt %q is not a confirmed %s purchase", ErrNotEligible, receiptID, t)
	}
	return prior, nil
}

// History lists entries newest first. A nil type lists all types.
func (l *CreditLedger) History(ctx context.Context, userID uint, t *models.CreditType, page, pageSize int) ([]models.CreditHistory, int64, error) {
	q := l.db.WithContext(ctx).Model(&models.CreditHistory{}).Where("user_id = ?", userID)
	if t != nil {
		q = q.Where("credit_type = ?", *t)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, storageErr(err)
	}
	var rows []models.CreditHistory
	if err := q.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&rows).Error; err != nil {
		return nil, 0, storageErr(err)
	}
	return rows, total, nil
}

// Reconcile checks that each balance equals the sum of its history deltas.
func (l *CreditLedger) Reconcile(ctx context.Context, userID uint) ([]Reconciliation, error) {
	balances, err := l.Balances(ctx, userID)
	if err != nil {
		return nil, err
	}
	var sums []struct {
		CreditType models.CreditType
		Total      int64
	}
	err = l.db.WithContext(ctx).Model(&models.CreditHistory{}).
		Select("credit_type, COALESCE(SUM(delta), 0) AS total").
		Where("user_id = ?", userID).
		Group("credit_type").
		Scan(&sums).Error
	if err != nil {
		return nil, storageErr(err)
	}
	bySum := make(map[models.CreditType]int64, len(sums))
	for _, s := range sums {
		bySum[s.CreditType] = s.Total
	}
	out := make([]Reconciliation, 0, len(models.CreditTypes))
	for _, t := range models.CreditTypes {
		out = append(out, Reconciliation{
			CreditType: t,
			Balance:    balances[t],
			HistorySum: bySum[t],
			Consistent: balances[t] == bySum[t] && balances[t] >= 0,
		})
	}
	return out, nil
}

func (l *CreditLedger) apply(ctx context.Context, entry *models.CreditHistory) error {
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return applyTx(tx, entry)
	})
	return classify(err)
}

// applyTx moves the balance and appends entry. Debits are a conditional
// UPDATE so two concurrent spends of the last unit cannot both succeed.
func applyTx(tx *gorm.DB, entry *models.CreditHistory) error {
	now := time.Now()
	if entry.Delta > 0 {
		row := models.CreditBalance{
			UserID:     entry.UserID,
			CreditType: entry.CreditType,
			Balance:    entry.Delta,
			UpdatedAt:  now,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "credit_type"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"balance":    gorm.Expr("credit_balances.balance + ?", entry.Delta),
				"updated_at": now,
			}),
		}).Create(&row).Error
		if err != nil {
			return err
		}
	} else {
		res := tx.Model(&models.CreditBalance{}).
			Where("user_id = ? AND credit_type = ? AND balance >= ?", entry.UserID, entry.CreditType, -entry.Delta).
			Updates(map[string]interface{}{
				"balance":    gorm.Expr("balance - ?", -entry.Delta),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientCredit
		}
	}

	var bal models.CreditBalance
	if err := tx.Where("user_id = ? AND credit_type = ?", entry.UserID, entry.CreditType).First(&bal).Error; err != nil {
		return err
	}
	entry.BalanceAfter = bal.Balance
	return tx.Create(entry).Error
}

func (l *CreditLedger) findByIdempotencyKey(ctx context.Context, userID uint, key string) (*models.CreditHistory, error) {
	var row models.CreditHistory
	if err := l.db.WithContext(ctx).Where("user_id = ? AND idempotency_key = ?", userID, key).Limit(1).Find(&row).Error; err != nil {
		return nil, storageErr(err)
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (l *CreditLedger) findByReceipt(ctx context.Context, receiptID string) (*models.CreditHistory, error) {
	var row models.CreditHistory
	if err := l.db.WithContext(ctx).Where("external_receipt_id = ?", receiptID).Limit(1).Find(&row).Error; err != nil {
		return nil, storageErr(err)
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

// replayedSpend returns prior only when it records the same spend as req.
func replayedSpend(prior *models.CreditHistory, req SpendRequest) (*models.CreditHistory, error) {
	if prior.CreditType != req.Type || prior.Delta != -req.Amount || prior.Reason != req.Reason {
		return nil, fmt.Errorf("%w: idempotency key %q was used for %s %d", ErrConcurrencyConflict, req.IdempotencyKey, prior.CreditType, -prior.Delta)
	}
	return prior, nil
}

func checkReceiptOwner(prior *models.CreditHistory, userID uint, t models.CreditType) (*models.CreditHistory, error) {
	if prior.UserID != userID || prior.CreditType != t {
		return nil, fmt.Errorf("%w: receipt already booked for another account", ErrConcurrencyConflict)
	}
	return prior, nil
}

func validateMutation(t models.CreditType, amount int64) error {
	if _, err := models.ParseCreditType(string(t)); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	return nil
}

// classify maps driver errors onto the engine taxonomy, leaving engine
// errors untouched.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInsufficientCredit),
		errors.Is(err, ErrRefundNotAllowed),
		errors.Is(err, ErrAlreadySubmitted),
		errors.Is(err, ErrNoPromptForDate),
		errors.Is(err, ErrNotEligible),
		errors.Is(err, ErrConcurrencyConflict),
		errors.Is(err, ErrStorageUnavailable),
		errors.Is(err, ErrUserNotFound):
		return err
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %w", ErrConcurrencyConflict, err)
	default:
		return storageErr(err)
	}
}

func storageErr(err error) error {
	if err == nil || errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}
