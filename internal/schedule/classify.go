package schedule

import (
	"fmt"
	"time"

	"classtab/internal/model"
)

// Status labels an occurrence relative to a reference instant.
type Status int

const (
	// StatusNoCourse means no occurrence exists for the queried scope.
	StatusNoCourse Status = iota
	// StatusInProgress means start <= now < end.
	StatusInProgress
	// StatusUpcoming means now < start.
	StatusUpcoming
	// StatusFinished means now >= end.
	StatusFinished
)

func (s Status) String() string {
	switch s {
	case StatusInProgress:
		return "in_progress"
	case StatusUpcoming:
		return "upcoming"
	case StatusFinished:
		return "finished"
	default:
		return "no_course"
	}
}

// Result is a classifier verdict: the status plus a human-readable
// remaining/until duration. Detail is empty for finished/no-course.
type Result struct {
	Status Status
	Detail string
}

// Classify labels occ relative to now. For an in-progress occurrence the
// detail is the remaining time; for an upcoming one, the time until start.
func Classify(occ *model.Occurrence, now time.Time) Result {
	if occ == nil {
		return Result{Status: StatusNoCourse}
	}

	switch {
	case !now.Before(occ.End):
		return Result{Status: StatusFinished}
	case !now.Before(occ.Start):
		return Result{Status: StatusInProgress, Detail: FormatDelta(occ.End.Sub(now))}
	default:
		return Result{Status: StatusUpcoming, Detail: FormatDelta(occ.Start.Sub(now))}
	}
}

// FormatDelta renders a duration as "X 分钟" below 61 minutes and
// "X 小时 Y 分钟" at 61 and above. The cutover is deliberately 61, not 60:
// exactly one hour renders as "60 分钟", matching long-standing user-facing
// behavior.
func FormatDelta(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := int(d.Minutes())
	if minutes < 61 {
		return fmt.Sprintf("%d 分钟", minutes)
	}
	return fmt.Sprintf("%d 小时 %d 分钟", minutes/60, minutes%60)
}
