package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cppla/dailytake/models"
)

func newTestLedger(t *testing.T) (*CreditLedger, func() int64) {
	t.Helper()
	db := setupDB(t)
	createUser(t, db, 1, 0)
	createUser(t, db, 2, 0)
	historyRows := func() int64 {
		var n int64
		require.NoError(t, db.Model(&models.CreditHistory{}).Count(&n).Error)
		return n
	}
	return NewCreditLedger(db, zaptest.NewLogger(t)), historyRows
}

func requireReconciled(t *testing.T, l *CreditLedger, userID uint) {
	t.Helper()
	recs, err := l.Reconcile(context.Background(), userID)
	require.NoError(t, err)
	for _, r := range recs {
		assert.True(t, r.Consistent, "type %s: balance %d history %d", r.CreditType, r.Balance, r.HistorySum)
	}
}

func TestLedger_GrantSpendBalance(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	entry, err := l.Grant(ctx, 1, models.CreditAnonymous, 3, models.ReasonGrant)
	require.NoError(t, err)
	assert.Equal(t, int64(3), entry.Delta)
	assert.Equal(t, int64(3), entry.BalanceAfter)

	spend, err := l.Spend(ctx, 1, models.CreditAnonymous, 2, models.ReasonSpend)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), spend.Delta)
	assert.Equal(t, int64(1), spend.BalanceAfter)

	bal, err := l.Balance(ctx, 1, models.CreditAnonymous)
	require.NoError(t, err)
	assert.Equal(t, int64(1), bal)

	all, err := l.Balances(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, all, len(models.CreditTypes))
	assert.Equal(t, int64(1), all[models.CreditAnonymous])
	assert.Equal(t, int64(0), all[models.CreditBoost])

	requireReconciled(t, l, 1)
}

func TestLedger_SpendInsufficientHasNoSideEffect(t *testing.T) {
	l, historyRows := newTestLedger(t)
	ctx := context.Background()
	grant(t, l, 1, models.CreditBoost, 1)
	before := historyRows()

	_, err := l.Spend(ctx, 1, models.CreditBoost, 2, models.ReasonSpend)
	require.ErrorIs(t, err, ErrInsufficientCredit)

	_, err = l.Spend(ctx, 1, models.CreditSneakPeek, 1, models.ReasonSpend)
	require.ErrorIs(t, err, ErrInsufficientCredit, "no balance row at all")

	bal, err := l.Balance(ctx, 1, models.CreditBoost)
	require.NoError(t, err)
	assert.Equal(t, int64(1), bal)
	assert.Equal(t, before, historyRows())
}

func TestLedger_RejectsBadInput(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Grant(ctx, 1, models.CreditBoost, 0, models.ReasonGrant)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = l.Grant(ctx, 1, models.CreditBoost, -4, models.ReasonGrant)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = l.Grant(ctx, 1, models.CreditType("karma"), 1, models.ReasonGrant)
	assert.ErrorIs(t, err, ErrUnknownCreditType)
	_, err = l.Grant(ctx, 1, models.CreditBoost, 1, models.ReasonSpend)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = l.Spend(ctx, 1, models.CreditBoost, 1, models.ReasonRefund)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestLedger_ConcurrentSpendOfLastUnit(t *testing.T) {
	l, _ := newTestLedger(t)
	grant(t, l, 1, models.CreditAnonymous, 1)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Spend(context.Background(), 1, models.CreditAnonymous, 1, models.ReasonSpend)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if assert.ErrorIs(t, err, ErrInsufficientCredit) {
				failures++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, failures)
	bal, err := l.Balance(context.Background(), 1, models.CreditAnonymous)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal)
	requireReconciled(t, l, 1)
}

func TestLedger_RefundOnceAndOnlySpends(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	grant(t, l, 1, models.CreditLateSubmit, 2)

	spend, err := l.Spend(ctx, 1, models.CreditLateSubmit, 1, models.ReasonSpend)
	require.NoError(t, err)

	refund, err := l.Refund(ctx, 1, spend.ID, "attempt-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), refund.Delta)
	assert.Equal(t, models.ReasonRefund, refund.Reason)
	require.NotNil(t, refund.RefundOf)
	assert.Equal(t, spend.ID, *refund.RefundOf)

	_, err = l.Refund(ctx, 1, spend.ID, "attempt-1")
	assert.ErrorIs(t, err, ErrRefundNotAllowed, "second refund of the same spend")

	_, err = l.Refund(ctx, 2, spend.ID, "attempt-1")
	assert.ErrorIs(t, err, ErrRefundNotAllowed, "another user's spend")

	var grantEntry models.CreditHistory
	require.NoError(t, l.db.Where("user_id = ? AND reason = ?", 1, models.ReasonGrant).First(&grantEntry).Error)
	_, err = l.Refund(ctx, 1, grantEntry.ID, "attempt-1")
	assert.ErrorIs(t, err, ErrRefundNotAllowed, "grants are not refundable")

	bal, err := l.Balance(ctx, 1, models.CreditLateSubmit)
	require.NoError(t, err)
	assert.Equal(t, int64(2), bal)
	requireReconciled(t, l, 1)
}

func TestLedger_PurchaseConfirmedIsIdempotent(t *testing.T) {
	l, historyRows := newTestLedger(t)
	ctx := context.Background()

	first, err := l.PurchaseConfirmed(ctx, 1, models.CreditBoost, 5, "rcpt_123")
	require.NoError(t, err)
	assert.Equal(t, models.ReasonPurchase, first.Reason)

	again, err := l.PurchaseConfirmed(ctx, 1, models.CreditBoost, 5, "rcpt_123")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, int64(1), historyRows())

	_, err = l.PurchaseConfirmed(ctx, 2, models.CreditBoost, 5, "rcpt_123")
	assert.ErrorIs(t, err, ErrConcurrencyConflict, "receipt belongs to user 1")

	_, err = l.PurchaseConfirmed(ctx, 1, models.CreditBoost, 5, "")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	bal, err := l.Balance(ctx, 1, models.CreditBoost)
	require.NoError(t, err)
	assert.Equal(t, int64(5), bal)
}

func TestLedger_SpendIdempotencyKey(t *testing.T) {
	l, historyRows := newTestLedger(t)
	ctx := context.Background()
	grant(t, l, 1, models.CreditBoost, 3)

	req := SpendRequest{UserID: 1, Type: models.CreditBoost, Amount: 1, IdempotencyKey: "boost-42"}
	first, err := l.SpendWith(ctx, req)
	require.NoError(t, err)
	retry, err := l.SpendWith(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, retry.ID)

	bal, err := l.Balance(ctx, 1, models.CreditBoost)
	require.NoError(t, err)
	assert.Equal(t, int64(2), bal)
	assert.Equal(t, int64(2), historyRows(), "grant plus one spend")

	// same key for another user is independent
	grant(t, l, 2, models.CreditBoost, 1)
	other, err := l.SpendWith(ctx, SpendRequest{UserID: 2, Type: models.CreditBoost, Amount: 1, IdempotencyKey: "boost-42"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestLedger_SpendKeyReusedForAnotherSpend(t *testing.T) {
	l, historyRows := newTestLedger(t)
	ctx := context.Background()
	grant(t, l, 1, models.CreditSneakPeek, 1)

	_, err := l.SpendWith(ctx, SpendRequest{UserID: 1, Type: models.CreditSneakPeek, Amount: 1, IdempotencyKey: "k"})
	require.NoError(t, err)

	_, err = l.SpendWith(ctx, SpendRequest{UserID: 1, Type: models.CreditBoost, Amount: 10, IdempotencyKey: "k"})
	require.ErrorIs(t, err, ErrConcurrencyConflict, "other type and amount")

	grant(t, l, 1, models.CreditSneakPeek, 5)
	_, err = l.SpendWith(ctx, SpendRequest{UserID: 1, Type: models.CreditSneakPeek, Amount: 2, IdempotencyKey: "k"})
	require.ErrorIs(t, err, ErrConcurrencyConflict, "same type, other amount")

	_, err = l.SpendWith(ctx, SpendRequest{UserID: 1, Type: models.CreditSneakPeek, Amount: 1, Reason: models.ReasonAdminAdjust, IdempotencyKey: "k"})
	require.ErrorIs(t, err, ErrConcurrencyConflict, "other reason")

	bal, err := l.Balance(ctx, 1, models.CreditSneakPeek)
	require.NoError(t, err)
	assert.Equal(t, int64(5), bal)
	assert.Equal(t, int64(3), historyRows(), "two grants and the first spend")
}

func TestLedger_HistoryPaging(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		grant(t, l, 1, models.CreditBoost, 1)
	}
	grant(t, l, 1, models.CreditDelete, 1)

	rows, total, err := l.History(ctx, 1, nil, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), total)
	require.Len(t, rows, 4)
	assert.Equal(t, models.CreditDelete, rows[0].CreditType, "newest first")

	boost := models.CreditBoost
	rows, total, err = l.History(ctx, 1, &boost, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, rows, 1)
}

func TestLedger_MixedSequenceStaysReconciled(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	grant(t, l, 1, models.CreditAnonymous, 2)
	s1, err := l.Spend(ctx, 1, models.CreditAnonymous, 1, models.ReasonSpend)
	require.NoError(t, err)
	_, err = l.Spend(ctx, 1, models.CreditAnonymous, 1, models.ReasonSpend)
	require.NoError(t, err)
	_, err = l.Spend(ctx, 1, models.CreditAnonymous, 1, models.ReasonSpend)
	require.ErrorIs(t, err, ErrInsufficientCredit)
	_, err = l.Refund(ctx, 1, s1.ID, "r")
	require.NoError(t, err)
	_, err = l.Grant(ctx, 1, models.CreditAnonymous, 4, models.ReasonAdminAdjust)
	require.NoError(t, err)
	_, err = l.SpendWith(ctx, SpendRequest{UserID: 1, Type: models.CreditAnonymous, Amount: 5, Reason: models.ReasonAdminAdjust})
	require.NoError(t, err)

	bal, err := l.Balance(ctx, 1, models.CreditAnonymous)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal)
	requireReconciled(t, l, 1)
}
