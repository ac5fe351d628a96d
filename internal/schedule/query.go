package schedule

import (
	"sort"
	"time"

	"github.com/samber/mo"
	"go.uber.org/zap"

	"classtab/internal/apperr"
	"classtab/internal/ics"
	"classtab/internal/model"
)

// BindingSource is the engine-facing view of the user registry. Iteration
// order is the roster encounter order and must be deterministic.
type BindingSource interface {
	Binding(groupID, userID string) mo.Option[model.Binding]
	ForEach(groupID string, fn func(model.Binding))
	HasGroup(groupID string) bool
}

// SourceStore is the engine-facing view of calendar source storage.
type SourceStore interface {
	PathFor(groupID, userID string) string
	Read(path string) ([]byte, error)
}

// Engine answers time-scoped schedule queries for bound users, backed by
// the parse+expand pipeline and the occurrence cache.
type Engine struct {
	bindings BindingSource
	store    SourceStore
	cache    *Cache
	parser   *ics.Parser
	expander *ics.Expander
	loc      *time.Location
	now      func() time.Time
	log      *zap.Logger
}

// Option tweaks Engine construction.
type Option func(*Engine)

// WithNow overrides the engine's clock.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(
	bindings BindingSource,
	store SourceStore,
	cache *Cache,
	parser *ics.Parser,
	expander *ics.Expander,
	loc *time.Location,
	log *zap.Logger,
	opts ...Option,
) *Engine {
	if loc == nil {
		loc = time.Local
	}
	e := &Engine{
		bindings: bindings,
		store:    store,
		cache:    cache,
		parser:   parser,
		expander: expander,
		loc:      loc,
		now:      time.Now,
		log:      log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Occurrences returns the full expanded occurrence list for one user,
// cache-served, stable-sorted by start instant. The sort is defense in
// depth: the expander's per-template order is ascending, but nothing
// downstream is allowed to rely on that.
func (e *Engine) Occurrences(groupID, userID string) ([]model.Occurrence, error) {
	b, ok := e.bindings.Binding(groupID, userID).Get()
	if !ok {
		return nil, apperr.ErrNotBound
	}

	path := e.store.PathFor(b.GroupID, b.UserID)
	occs, err := e.cache.GetOrExpand(path, func() ([]model.Occurrence, error) {
		body, err := e.store.Read(path)
		if err != nil {
			return nil, err
		}
		templates, err := e.parser.Parse(body)
		if err != nil {
			return nil, err
		}
		return e.expander.Expand(templates, e.now()), nil
	})
	if err != nil {
		return nil, err
	}

	sorted := make([]model.Occurrence, len(occs))
	copy(sorted, occs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})
	return sorted, nil
}

// ScheduleForDate returns the user's occurrences whose start date equals
// date, ascending by start. When date is today, occurrences that already
// started are filtered out: only future classes remain. For any other date
// no time-of-day filtering applies.
func (e *Engine) ScheduleForDate(groupID, userID string, date time.Time) ([]model.Occurrence, error) {
	occs, err := e.Occurrences(groupID, userID)
	if err != nil {
		return nil, err
	}

	now := e.now().In(e.loc)
	today := sameDay(date, now, e.loc)

	out := make([]model.Occurrence, 0)
	for _, occ := range occs {
		if !sameDay(occ.Start, date, e.loc) {
			continue
		}
		if today && !occ.Start.After(now) {
			continue
		}
		out = append(out, occ)
	}
	return out, nil
}

// CurrentOrNext returns the user's in-progress occurrence on date if "now"
// falls inside one ([start, end), first match in start order wins), else
// the next occurrence with start after now. For a date other than today
// the in-progress notion is meaningless and the day's earliest occurrence
// is returned regardless of now. A nil occurrence with nil error means the
// user has no qualifying class that day.
func (e *Engine) CurrentOrNext(groupID, userID string, date time.Time) (*model.Occurrence, error) {
	occs, err := e.Occurrences(groupID, userID)
	if err != nil {
		return nil, err
	}
	now := e.now().In(e.loc)
	return pickCurrentOrNext(occs, date, now, e.loc), nil
}

// pickCurrentOrNext is the single-scan selection shared by the per-user
// query and the group snapshot.
func pickCurrentOrNext(occs []model.Occurrence, date, now time.Time, loc *time.Location) *model.Occurrence {
	today := sameDay(date, now, loc)

	var next *model.Occurrence
	for i := range occs {
		occ := occs[i]
		if !sameDay(occ.Start, date, loc) {
			continue
		}

		if !today {
			if next == nil || occ.Start.Before(next.Start) {
				next = &occs[i]
			}
			continue
		}

		if !now.Before(occ.Start) && now.Before(occ.End) {
			return &occs[i]
		}
		if occ.Start.After(now) && (next == nil || occ.Start.Before(next.Start)) {
			next = &occs[i]
		}
	}
	return next
}

// GroupEntry is one user's row in a group snapshot. Occurrence is nil when
// the user is bound but has no qualifying class that day.
type GroupEntry struct {
	UserID     string
	Nickname   string
	Occurrence *model.Occurrence
}

// GroupSnapshot answers "who in the group is in (or next heading to) class
// on date". Every bound user gets an entry, classless users included;
// users whose calendar file is missing or unparseable are skipped with a
// warning and never abort the sweep. Entries are ordered by start instant
// with classless users last.
func (e *Engine) GroupSnapshot(groupID string, date time.Time) ([]GroupEntry, error) {
	if !e.bindings.HasGroup(groupID) {
		return nil, apperr.ErrGroupEmpty
	}

	now := e.now().In(e.loc)
	entries := make([]GroupEntry, 0)

	e.bindings.ForEach(groupID, func(b model.Binding) {
		occs, err := e.Occurrences(b.GroupID, b.UserID)
		if err != nil {
			e.log.Warn("group snapshot: skipping user",
				zap.String("group", b.GroupID),
				zap.String("user", b.UserID),
				zap.Error(err),
			)
			return
		}
		entries = append(entries, GroupEntry{
			UserID:     b.UserID,
			Nickname:   b.Nickname,
			Occurrence: pickCurrentOrNext(occs, date, now, e.loc),
		})
	})

	sort.SliceStable(entries, func(i, j int) bool {
		oi, oj := entries[i].Occurrence, entries[j].Occurrence
		if oi == nil || oj == nil {
			return oi != nil && oj == nil
		}
		return oi.Start.Before(oj.Start)
	})

	return entries, nil
}

// InvalidateSource drops the cached occurrence list for one user's
// calendar. Must be called after every successful rebind of that source.
func (e *Engine) InvalidateSource(groupID, userID string) {
	e.cache.Invalidate(e.store.PathFor(groupID, userID))
}

// Classify labels occ against the engine's clock.
func (e *Engine) Classify(occ *model.Occurrence) Result {
	return Classify(occ, e.now().In(e.loc))
}

// Week returns the closed Monday..Sunday window containing today.
func (e *Engine) Week() (time.Time, time.Time) {
	return WeekWindow(e.now(), e.loc)
}

// Today returns the current day-start in the engine's location.
func (e *Engine) Today() time.Time {
	return dayStart(e.now().In(e.loc), e.loc)
}

// Now exposes the engine's clock in the configured location.
func (e *Engine) Now() time.Time {
	return e.now().In(e.loc)
}

func dayStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	a, b = a.In(loc), b.In(loc)
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
