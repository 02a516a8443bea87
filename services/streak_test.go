package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrentStreak(t *testing.T) {
	cases := []struct {
		name  string
		dates []string
		today string
		want  int
	}{
		{"no takes", nil, "2024-03-01", 0},
		{"today only", []string{"2024-03-01"}, "2024-03-01", 1},
		{"grace keeps yesterday's run", []string{"2024-02-28", "2024-02-29"}, "2024-03-01", 2},
		{"run ending two days ago is broken", []string{"2024-02-27", "2024-02-28"}, "2024-03-01", 0},
		{"gap stops the walk", []string{"2024-03-01", "2024-02-29", "2024-02-27"}, "2024-03-01", 2},
		{"unsorted with duplicates", []string{"2024-02-29", "2024-03-01", "2024-02-29", "2024-02-28"}, "2024-03-01", 3},
		{"across year end", []string{"2023-12-30", "2023-12-31", "2024-01-01"}, "2024-01-01", 3},
		{"invalid today", []string{"2024-03-01"}, "bogus", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CurrentStreak(tc.dates, tc.today))
		})
	}
}

func TestLongestStreak(t *testing.T) {
	cases := []struct {
		name  string
		dates []string
		want  int
	}{
		{"empty", nil, 0},
		{"single", []string{"2024-03-01"}, 1},
		{"gap", []string{"2024-03-01", "2024-02-29", "2024-02-27"}, 2},
		{"longest is earlier run", []string{"2024-01-01", "2024-01-02", "2024-01-03", "2024-02-01", "2024-02-02"}, 3},
		{"duplicates ignored", []string{"2024-01-01", "2024-01-01", "2024-01-02"}, 2},
		{"invalid keys ignored", []string{"2024-01-01", "nope", "2024-01-02"}, 2},
		{"leap day bridges february", []string{"2024-02-28", "2024-02-29", "2024-03-01"}, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, LongestStreak(tc.dates))
		})
	}
}

func TestComputeStreak_BreakScenario(t *testing.T) {
	// submissions on D, D-1 and D-3
	s := ComputeStreak([]string{"2024-03-10", "2024-03-09", "2024-03-07"}, "2024-03-10")
	assert.Equal(t, Streak{Current: 2, Longest: 2}, s)
}

func TestCurrentStreak_GraceMatchesEndOfYesterday(t *testing.T) {
	dates := []string{"2024-03-08", "2024-03-09"}
	endOfYesterday := CurrentStreak(dates, "2024-03-09")
	assert.Equal(t, endOfYesterday, CurrentStreak(dates, "2024-03-10"))
}
