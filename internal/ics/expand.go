package ics

import (
	"time"

	"github.com/teambition/rrule-go"
	"go.uber.org/zap"

	"classtab/internal/model"
)

const (
	// DefaultHorizonDays bounds forward expansion: no occurrence is
	// produced past reference-day start + horizon.
	DefaultHorizonDays = 365

	// maxOccurrencesPerEvent is a hard cap per template so a pathological
	// rule can never produce an unbounded sequence.
	maxOccurrencesPerEvent = 5000
)

// RuleExpander enumerates the concrete start instants an RRULE generates
// for an anchor within [from, to], both ends inclusive. It exists so the
// rule grammar engine stays swappable without touching expansion policy.
type RuleExpander interface {
	Expand(rule string, anchor, from, to time.Time) ([]time.Time, error)
}

// rruleExpander is the production RuleExpander backed by rrule-go.
type rruleExpander struct{}

func (rruleExpander) Expand(rule string, anchor, from, to time.Time) ([]time.Time, error) {
	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return nil, err
	}
	r.DTStart(anchor)
	return r.Between(from, to, true), nil
}

// Expander turns event templates into concrete occurrences bounded by the
// horizon. Rules are evaluated on the UTC timeline so a daylight-saving
// transition never alters an occurrence's wall-clock duration; results are
// converted back into the configured location.
type Expander struct {
	loc         *time.Location
	horizonDays int
	rules       RuleExpander
	log         *zap.Logger
}

func NewExpander(loc *time.Location, horizonDays int, log *zap.Logger) *Expander {
	if loc == nil {
		loc = time.Local
	}
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	return &Expander{loc: loc, horizonDays: horizonDays, rules: rruleExpander{}, log: log}
}

// Expand produces occurrences for every template from the reference day
// start through the horizon, inclusive of the boundary day.
//
//   - A non-recurring template yields its single occurrence only when its
//     start date is on or after the reference day; past one-off events are
//     dropped, not reported as finished forever.
//   - A recurring template yields one occurrence per rule-generated start
//     within the window, each paired with the template's fixed duration.
//   - A malformed rule degrades that one template to zero occurrences with
//     a logged warning; sibling templates are unaffected.
//
// Occurrences are appended in the enumerator's natural ascending order per
// template. Callers that need a global ordering across templates must sort
// by start themselves.
func (e *Expander) Expand(templates []model.EventTemplate, now time.Time) []model.Occurrence {
	local := now.In(e.loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.loc)
	windowEnd := dayStart.AddDate(0, 0, e.horizonDays)

	out := make([]model.Occurrence, 0)

	for _, tpl := range templates {
		if tpl.RRule == "" {
			if occ, ok := e.expandSingle(tpl, dayStart, windowEnd); ok {
				out = append(out, occ)
			}
			continue
		}
		out = append(out, e.expandRecurring(tpl, dayStart, windowEnd)...)
	}

	return out
}

func (e *Expander) expandSingle(tpl model.EventTemplate, dayStart, windowEnd time.Time) (model.Occurrence, bool) {
	start := tpl.Start.In(e.loc)
	startDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, e.loc)
	if startDay.Before(dayStart) || start.After(windowEnd) {
		return model.Occurrence{}, false
	}
	return occurrenceAt(tpl, start), true
}

func (e *Expander) expandRecurring(tpl model.EventTemplate, dayStart, windowEnd time.Time) []model.Occurrence {
	starts, err := e.rules.Expand(tpl.RRule, tpl.Start.UTC(), dayStart.UTC(), windowEnd.UTC())
	if err != nil {
		e.log.Warn("recurrence rule unparseable, skipping template",
			zap.String("summary", tpl.Summary),
			zap.String("rrule", tpl.RRule),
			zap.Error(err),
		)
		return nil
	}

	if len(starts) > maxOccurrencesPerEvent {
		e.log.Warn("recurrence expansion truncated at cap",
			zap.String("summary", tpl.Summary),
			zap.Int("cap", maxOccurrencesPerEvent),
		)
		starts = starts[:maxOccurrencesPerEvent]
	}

	out := make([]model.Occurrence, 0, len(starts))
	for _, s := range starts {
		out = append(out, occurrenceAt(tpl, s.In(e.loc)))
	}
	return out
}

func occurrenceAt(tpl model.EventTemplate, start time.Time) model.Occurrence {
	return model.Occurrence{
		Summary:     tpl.Summary,
		Description: tpl.Description,
		Location:    tpl.Location,
		Start:       start,
		End:         start.Add(tpl.Duration()),
	}
}
