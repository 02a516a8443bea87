package services

import (
	"sort"
	"time"
)

// Streak is the derived streak pair for a user.
type Streak struct {
	Current int `json:"current"`
	Longest int `json:"longest"`
}

// CurrentStreak counts consecutive days with a take ending at todayKey. When
// today has no take yet the walk starts at yesterday: today's obligation is
// not due until the day ends.
func CurrentStreak(dates []string, todayKey string) int {
	present := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		present[d] = struct{}{}
	}

	day, err := ParseDayKey(todayKey)
	if err != nil {
		return 0
	}
	if _, ok := present[todayKey]; !ok {
		day = day.AddDate(0, 0, -1)
	}

	streak := 0
	for {
		if _, ok := present[day.Format(DayKeyLayout)]; !ok {
			return streak
		}
		streak++
		day = day.AddDate(0, 0, -1)
	}
}

// LongestStreak returns the longest run of consecutive calendar days.
// Invalid keys are ignored.
func LongestStreak(dates []string) int {
	days := distinctDays(dates)
	if len(days) == 0 {
		return 0
	}

	longest, run := 1, 1
	for i := 1; i < len(days); i++ {
		if days[i-1].AddDate(0, 0, 1).Equal(days[i]) {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}

// ComputeStreak returns both values for one set of dates.
func ComputeStreak(dates []string, todayKey string) Streak {
	return Streak{
		Current: CurrentStreak(dates, todayKey),
		Longest: LongestStreak(dates),
	}
}

func distinctDays(dates []string) []time.Time {
	seen := make(map[string]struct{}, len(dates))
	days := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		if _, dup := seen[d]; dup {
			continue
		}
		t, err := ParseDayKey(d)
		if err != nil {
			continue
		}
		seen[d] = struct{}{}
		days = append(days, t)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}
