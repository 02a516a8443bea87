package services

import (
	"context"
	"time"

	"github.com/cppla/dailytake/models"
)

// GateStatus is the derived gate state for a view.
type GateStatus string

const (
	GateLocked       GateStatus = "locked"
	GateUnlocked     GateStatus = "unlocked"
	GateLateEligible GateStatus = "late_eligible"
)

// GateState is computed per request and never stored. NextBoundary is when
// the viewer's day rolls over; the UI may refresh then.
type GateState struct {
	Status       GateStatus `json:"status"`
	PromptDate   string     `json:"prompt_date"`
	TodayKey     string     `json:"today_key"`
	NextBoundary time.Time  `json:"next_boundary"`
}

// GateStateMachine derives gate states from take and prompt existence.
type GateStateMachine struct {
	registry *SubmissionRegistry
	prompts  *PromptStore
}

// NewGateStateMachine wires the gate to its sources.
func NewGateStateMachine(registry *SubmissionRegistry, prompts *PromptStore) *GateStateMachine {
	return &GateStateMachine{registry: registry, prompts: prompts}
}

// Evaluate returns the primary state, always against today's key.
func (g *GateStateMachine) Evaluate(ctx context.Context, user *models.User, now time.Time) (GateState, error) {
	today := TodayKey(now, user.TimezoneOffsetMinutes)
	state := GateState{
		Status:       GateLocked,
		PromptDate:   today,
		TodayKey:     today,
		NextBoundary: NextBoundary(now, user.TimezoneOffsetMinutes),
	}
	ok, err := g.registry.HasTake(ctx, user.ID, today)
	if err != nil {
		return GateState{}, err
	}
	if ok {
		state.Status = GateUnlocked
	}
	return state, nil
}

// EvaluateDate returns the state of one specific date. Past dates without a
// take but with an active prompt are late_eligible. This never changes the
// primary state returned by Evaluate.
func (g *GateStateMachine) EvaluateDate(ctx context.Context, user *models.User, date string, now time.Time) (GateState, error) {
	if _, err := ParseDayKey(date); err != nil {
		return GateState{}, err
	}
	today := TodayKey(now, user.TimezoneOffsetMinutes)
	if date == today {
		return g.Evaluate(ctx, user, now)
	}
	state := GateState{
		Status:       GateLocked,
		PromptDate:   date,
		TodayKey:     today,
		NextBoundary: NextBoundary(now, user.TimezoneOffsetMinutes),
	}
	has, err := g.registry.HasTake(ctx, user.ID, date)
	if err != nil {
		return GateState{}, err
	}
	switch {
	case has:
		state.Status = GateUnlocked
	case date < today:
		ok, err := g.prompts.Resolvable(ctx, date)
		if err != nil {
			return GateState{}, err
		}
		if ok {
			state.Status = GateLateEligible
		}
	}
	return state, nil
}

// LateEligible is the boolean form of EvaluateDate.
func (g *GateStateMachine) LateEligible(ctx context.Context, user *models.User, date string, now time.Time) (bool, error) {
	state, err := g.EvaluateDate(ctx, user, date, now)
	if err != nil {
		return false, err
	}
	return state.Status == GateLateEligible, nil
}
