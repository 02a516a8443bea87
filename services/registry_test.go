package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/cppla/dailytake/models"
)

func newTestRegistry(t *testing.T, maxLen int) (*SubmissionRegistry, *gorm.DB) {
	t.Helper()
	db := setupDB(t)
	log := zaptest.NewLogger(t)
	return NewSubmissionRegistry(db, NewPromptStore(db, nil, 0, log), maxLen, log), db
}

func TestRegistry_Validate(t *testing.T) {
	r, _ := newTestRegistry(t, 11)

	clean, err := r.Validate("  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", clean)

	clean, err = r.Validate("héllo wörld")
	require.NoError(t, err, "length counts runes, not bytes")
	assert.Equal(t, "héllo wörld", clean)

	for _, bad := range []string{"", "   ", strings.Repeat("a", 12)} {
		_, err := r.Validate(bad)
		assert.ErrorIs(t, err, ErrInvalidContent, bad)
	}
}

func TestRegistry_ValidateSanitizes(t *testing.T) {
	r, _ := newTestRegistry(t, 0)

	_, err := r.Validate("<script>alert(1)</script>")
	assert.ErrorIs(t, err, ErrInvalidContent, "nothing left after sanitizing")

	clean, err := r.Validate(`<b onclick="x()">bold</b>`)
	require.NoError(t, err)
	assert.NotContains(t, clean, "onclick")
	assert.Contains(t, clean, "bold")
}

func TestRegistry_ValidateCountsStoredForm(t *testing.T) {
	r, _ := newTestRegistry(t, 11)

	clean, err := r.Validate("it's ok")
	require.NoError(t, err)
	assert.LessOrEqual(t, utf8.RuneCountInString(clean), 11)

	// 11 runes typed, more once the apostrophe is escaped
	_, err = r.Validate("it's a take")
	assert.ErrorIs(t, err, ErrInvalidContent)
}

func TestRegistry_RecordTodayAndDuplicate(t *testing.T) {
	r, db := newTestRegistry(t, 0)
	createUser(t, db, 1, -300)
	now := mustTime(t, "2024-03-02T03:00:00Z")
	ctx := context.Background()

	req := RecordRequest{UserID: 1, PromptDate: "2024-03-01", Content: "my take", Now: now}
	take, err := r.Record(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", take.PromptDate)
	assert.False(t, take.IsLateSubmit)

	again, err := r.Record(ctx, req)
	require.ErrorIs(t, err, ErrAlreadySubmitted)
	require.NotNil(t, again)
	assert.Equal(t, take.ID, again.ID)
	assert.Equal(t, int64(1), countTakes(t, db, 1))

	var user models.User
	require.NoError(t, db.First(&user, 1).Error)
	assert.Equal(t, 1, user.CurrentStreak)
	assert.Equal(t, 1, user.LongestStreak)
	assert.Equal(t, "2024-03-01", user.LastTakeDate)
}

func TestRegistry_RejectsWrongDates(t *testing.T) {
	r, db := newTestRegistry(t, 0)
	createUser(t, db, 1, 0)
	now := mustTime(t, "2024-03-05T12:00:00Z")
	ctx := context.Background()

	_, err := r.Record(ctx, RecordRequest{UserID: 1, PromptDate: "2024-03-04", Content: "x", Now: now})
	assert.ErrorIs(t, err, ErrNotEligible, "normal submission for a past date")

	_, err = r.Record(ctx, RecordRequest{UserID: 1, PromptDate: "2024-03-06", Content: "x", Now: now})
	assert.ErrorIs(t, err, ErrNotEligible, "normal submission for a future date")

	_, err = r.Record(ctx, RecordRequest{UserID: 1, PromptDate: "2024-03-05", Content: "x", IsLateSubmit: true, Now: now})
	assert.ErrorIs(t, err, ErrNotEligible, "late submission for today")

	_, err = r.Record(ctx, RecordRequest{UserID: 1, PromptDate: "2024-03-04", Content: "x", IsLateSubmit: true, Now: now})
	assert.ErrorIs(t, err, ErrNoPromptForDate)

	_, err = r.Record(ctx, RecordRequest{UserID: 1, PromptDate: "03/04/2024", Content: "x", Now: now})
	assert.ErrorIs(t, err, ErrInvalidDateKey)

	_, err = r.Record(ctx, RecordRequest{UserID: 99, PromptDate: "2024-03-05", Content: "x", Now: now})
	assert.ErrorIs(t, err, ErrUserNotFound)

	assert.Equal(t, int64(0), countTakes(t, db, 1))
}

func TestRegistry_LateRecordNeedsActivePrompt(t *testing.T) {
	r, db := newTestRegistry(t, 0)
	createUser(t, db, 1, 0)
	now := mustTime(t, "2024-03-05T12:00:00Z")
	ctx := context.Background()

	require.NoError(t, db.Create(&models.PromptDay{PromptDate: "2024-03-03", Text: "retired", IsActive: false}).Error)
	_, err := r.Record(ctx, RecordRequest{UserID: 1, PromptDate: "2024-03-03", Content: "x", IsLateSubmit: true, Now: now})
	assert.ErrorIs(t, err, ErrNoPromptForDate)

	createPrompt(t, db, "2024-03-04")
	take, err := r.Record(ctx, RecordRequest{UserID: 1, PromptDate: "2024-03-04", Content: "x", IsLateSubmit: true, Now: now})
	require.NoError(t, err)
	assert.True(t, take.IsLateSubmit)
	assert.True(t, take.CreatedAt.Equal(now), "created at is the real insertion time")
}

func TestRegistry_ConcurrentDuplicatesKeepOneRow(t *testing.T) {
	r, db := newTestRegistry(t, 0)
	createUser(t, db, 1, 0)
	now := mustTime(t, "2024-03-05T12:00:00Z")

	const workers = 6
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		ids      = map[uint]struct{}{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			take, err := r.Record(context.Background(), RecordRequest{UserID: 1, PromptDate: "2024-03-05", Content: "retry", Now: now})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
			} else {
				assert.ErrorIs(t, err, ErrAlreadySubmitted)
			}
			if take != nil {
				ids[take.ID] = struct{}{}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Len(t, ids, 1, "every caller sees the same take")
	assert.Equal(t, int64(1), countTakes(t, db, 1))
}

func TestRegistry_StorageFailureIsReported(t *testing.T) {
	r, db := newTestRegistry(t, 0)
	createUser(t, db, 1, 0)
	failTakeInserts(t, db)

	_, err := r.Record(context.Background(), RecordRequest{
		UserID: 1, PromptDate: "2024-03-05", Content: "x", Now: mustTime(t, "2024-03-05T12:00:00Z"),
	})
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.ErrorIs(t, err, errDiskUnavailable)
}
