package schedule

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"classtab/internal/apperr"
	"classtab/internal/model"
)

// WeekWindow returns the closed Monday..Sunday date window containing now,
// as day-starts in loc.
func WeekWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	day := dayStart(now, loc)
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
	start := day.AddDate(0, 0, -offset)
	return start, start.AddDate(0, 0, 6)
}

// Ranking sums class-hours per user over the closed date window
// [windowStart, windowEnd] (compared by start date, both ends inclusive)
// and returns a leaderboard sorted by cumulative duration, descending.
// Ties keep roster encounter order; users with zero qualifying occurrences
// are excluded rather than shown with zero. Per-user failures (missing or
// unparseable calendars) are logged and skipped.
func (e *Engine) Ranking(groupID string, windowStart, windowEnd time.Time) ([]model.RankingEntry, error) {
	if !e.bindings.HasGroup(groupID) {
		return nil, apperr.ErrGroupEmpty
	}

	entries := make([]model.RankingEntry, 0)

	e.bindings.ForEach(groupID, func(b model.Binding) {
		occs, err := e.Occurrences(b.GroupID, b.UserID)
		if err != nil {
			e.log.Warn("ranking: skipping user",
				zap.String("group", b.GroupID),
				zap.String("user", b.UserID),
				zap.Error(err),
			)
			return
		}

		total, count := accumulate(occs, windowStart, windowEnd, e.loc)
		if count == 0 {
			return
		}
		entries = append(entries, model.RankingEntry{
			UserID:   b.UserID,
			Nickname: b.Nickname,
			Total:    total,
			Count:    count,
		})
	})

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Total > entries[j].Total
	})

	return entries, nil
}

func accumulate(occs []model.Occurrence, windowStart, windowEnd time.Time, loc *time.Location) (time.Duration, int) {
	var total time.Duration
	count := 0
	for _, occ := range occs {
		day := dayStart(occ.Start, loc)
		if day.Before(windowStart) || day.After(windowEnd) {
			continue
		}
		total += occ.Duration()
		count++
	}
	return total, count
}
