package model

import "time"

// EventTemplate is one calendar event as parsed from an ICS source, before
// recurrence expansion. Start and End are always resolved to the configured
// location; RRule is the raw RRULE value, empty for a one-off event.
// Templates are immutable once produced by the parser.
type EventTemplate struct {
	Summary     string
	Description string
	Location    string

	Start time.Time
	End   time.Time

	RRule string
}

// Duration is the template's wall-clock length. Every expanded occurrence of
// a recurring template keeps this exact duration.
func (t EventTemplate) Duration() time.Duration {
	return t.End.Sub(t.Start)
}

// Occurrence is a single concrete instance of an event after recurrence
// expansion, in the configured display timezone. Occurrences are ephemeral:
// recomputed or cache-served, never persisted.
type Occurrence struct {
	Summary     string
	Description string
	Location    string

	Start time.Time
	End   time.Time
}

func (o Occurrence) Duration() time.Duration {
	return o.End.Sub(o.Start)
}

// Binding associates a user, within a group, with their calendar source.
type Binding struct {
	GroupID  string
	UserID   string
	Nickname string
	Reminder bool
}

// RankingEntry is one row of a class-hours leaderboard for one aggregation
// window. Immutable once produced.
type RankingEntry struct {
	UserID   string
	Nickname string
	Total    time.Duration
	Count    int
}
