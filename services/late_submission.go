package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/dailytake/models"
)

// Funding selects how a late take is paid for.
type Funding string

const (
	// FundingCredit spends an existing lateSubmit credit.
	FundingCredit Funding = "credit"
	// FundingPayment spends the lateSubmit credit of a purchase already
	// booked by the payment relay under ReceiptID. If recording then fails
	// the spend is refunded and the purchased credit stays on the balance.
	FundingPayment Funding = "payment"
)

// LateRequest is a retroactive submission for a past prompt date.
type LateRequest struct {
	UserID      uint
	PromptDate  string
	Content     string
	IsAnonymous bool
	Funding     Funding
	ReceiptID   string
	Now         time.Time
}

// LateSubmissionOrchestrator funds and records late takes. It is the only
// place, together with Engine.Submit, that issues compensating refunds.
type LateSubmissionOrchestrator struct {
	db       *gorm.DB
	ledger   *CreditLedger
	registry *SubmissionRegistry
	gate     *GateStateMachine
	log      *zap.Logger
}

// NewLateSubmissionOrchestrator wires the orchestrator.
func NewLateSubmissionOrchestrator(db *gorm.DB, ledger *CreditLedger, registry *SubmissionRegistry, gate *GateStateMachine, log *zap.Logger) *LateSubmissionOrchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &LateSubmissionOrchestrator{db: db, ledger: ledger, registry: registry, gate: gate, log: log.Named("late")}
}

// Submit runs eligibility check, funding spend, record, and refunds every
// spend of this attempt when recording fails. The stored take keeps the
// backdated prompt date with the real creation time.
func (o *LateSubmissionOrchestrator) Submit(ctx context.Context, req LateRequest) (*models.Take, error) {
	if _, err := o.registry.Validate(req.Content); err != nil {
		return nil, err
	}
	if _, err := ParseDayKey(req.PromptDate); err != nil {
		return nil, err
	}
	if req.Funding != FundingCredit && req.Funding != FundingPayment {
		return nil, fmt.Errorf("%w: unknown funding %q", ErrNotEligible, req.Funding)
	}
	if req.Funding == FundingPayment && req.ReceiptID == "" {
		return nil, fmt.Errorf("%w: payment funding needs a receipt id", ErrNotEligible)
	}
	user, err := loadUser(ctx, o.db, req.UserID)
	if err != nil {
		return nil, err
	}

	eligible, err := o.gate.LateEligible(ctx, user, req.PromptDate, req.Now)
	if err != nil {
		return nil, err
	}
	if !eligible {
		// a retry after a lost response lands here once the first call won
		if existing, gerr := o.registry.Get(ctx, req.UserID, req.PromptDate); gerr == nil && existing != nil {
			return existing, ErrAlreadySubmitted
		}
		return nil, fmt.Errorf("%w: %s is not open for late submission", ErrNotEligible, req.PromptDate)
	}

	if req.Funding == FundingPayment {
		if _, err := o.ledger.ConfirmedPurchase(ctx, req.UserID, models.CreditLateSubmit, req.ReceiptID); err != nil {
			return nil, err
		}
	}
	if err := o.checkFunds(ctx, req); err != nil {
		return nil, err
	}

	attempt := "late:" + uuid.NewString()

	spends := make([]*models.CreditHistory, 0, 2)
	spend, err := o.ledger.SpendWith(ctx, SpendRequest{
		UserID:    req.UserID,
		Type:      models.CreditLateSubmit,
		Amount:    1,
		Reason:    models.ReasonSpend,
		Reference: attempt,
	})
	if err != nil {
		return nil, err
	}
	spends = append(spends, spend)

	if req.IsAnonymous {
		anon, err := o.ledger.SpendWith(ctx, SpendRequest{
			UserID:    req.UserID,
			Type:      models.CreditAnonymous,
			Amount:    1,
			Reason:    models.ReasonSpend,
			Reference: attempt,
		})
		if err != nil {
			refundAll(ctx, o.ledger, o.log, req.UserID, spends, attempt)
			return nil, err
		}
		spends = append(spends, anon)
	}

	take, err := o.registry.Record(ctx, RecordRequest{
		UserID:       req.UserID,
		PromptDate:   req.PromptDate,
		Content:      req.Content,
		IsAnonymous:  req.IsAnonymous,
		IsLateSubmit: true,
		Now:          req.Now,
	})
	if err != nil {
		refundAll(ctx, o.ledger, o.log, req.UserID, spends, attempt)
		return take, err
	}
	o.log.Info("late take recorded",
		zap.Uint("user_id", req.UserID),
		zap.String("prompt_date", req.PromptDate),
		zap.String("funding", string(req.Funding)),
		zap.String("receipt", req.ReceiptID),
		zap.String("attempt", attempt))
	return take, nil
}

// checkFunds fails before any spend when one of the needed balances is
// empty. The spends themselves stay conditional.
func (o *LateSubmissionOrchestrator) checkFunds(ctx context.Context, req LateRequest) error {
	needed := []models.CreditType{models.CreditLateSubmit}
	if req.IsAnonymous {
		needed = append(needed, models.CreditAnonymous)
	}
	for _, t := range needed {
		bal, err := o.ledger.Balance(ctx, req.UserID, t)
		if err != nil {
			return err
		}
		if bal < 1 {
			return fmt.Errorf("%w: no %s credit", ErrInsufficientCredit, t)
		}
	}
	return nil
}

// refundAll reverses the spends of a failed attempt. A refund failure is
// logged and left for reconciliation; the original error still wins.
func refundAll(ctx context.Context, ledger *CreditLedger, log *zap.Logger, userID uint, spends []*models.CreditHistory, attempt string) {
	for _, s := range spends {
		if _, err := ledger.Refund(ctx, userID, s.ID, attempt+":failed"); err != nil {
			log.Error("compensating refund failed",
				zap.Uint("user_id", userID),
				zap.Uint("spend_id", s.ID),
				zap.String("attempt", attempt),
				zap.Error(err))
		}
	}
}
