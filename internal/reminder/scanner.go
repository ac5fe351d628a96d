// Package reminder runs the periodic sweep that notifies users shortly
// before a class starts.
package reminder

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"classtab/internal/model"
)

// Notifier delivers one reminder. Implementations are the messaging
// collaborator's concern; delivery failures are logged by the scanner and
// never abort a sweep.
type Notifier interface {
	Notify(b model.Binding, occ model.Occurrence) error
}

// Roster iterates every binding, all groups.
type Roster interface {
	ForEachAll(fn func(model.Binding))
}

// ScheduleSource provides a user's occurrences for one date.
type ScheduleSource interface {
	ScheduleForDate(groupID, userID string, date time.Time) ([]model.Occurrence, error)
}

// Scanner sweeps the roster once a minute and fires at-most-once
// notifications for occurrences starting in [lead, lead+1min) from now.
//
// Fired reminders are tracked in a process-lifetime set keyed by
// (group, user, occurrence start); the set is deliberately not persisted,
// so a restart inside the window can repeat a notification. That gap is a
// documented limitation, not a bug to silently fix. A reminder is
// recorded as fired only after a successful send, accepting a duplicate
// on crash-between-send-and-record as the lesser failure versus losing
// the notification entirely.
type Scanner struct {
	roster Roster
	src    ScheduleSource
	notify Notifier
	loc    *time.Location
	lead   time.Duration
	width  time.Duration
	now    func() time.Time
	log    *zap.Logger

	mu    sync.Mutex
	fired map[string]struct{}

	cron *cron.Cron
}

// Option tweaks Scanner construction.
type Option func(*Scanner)

// WithNow overrides the scanner's clock.
func WithNow(now func() time.Time) Option {
	return func(s *Scanner) { s.now = now }
}

func New(roster Roster, src ScheduleSource, notify Notifier, loc *time.Location, lead time.Duration, log *zap.Logger, opts ...Option) *Scanner {
	if loc == nil {
		loc = time.Local
	}
	if lead <= 0 {
		lead = 30 * time.Minute
	}
	s := &Scanner{
		roster: roster,
		src:    src,
		notify: notify,
		loc:    loc,
		lead:   lead,
		width:  time.Minute,
		now:    time.Now,
		log:    log,
		fired:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the minute sweep loop. The loop runs until Stop; a failed
// sweep never prevents the next one.
func (s *Scanner) Start() error {
	c := cron.New()
	if _, err := c.AddFunc("@every 1m", s.Sweep); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.log.Info("reminder scanner started", zap.Duration("lead", s.lead))
	return nil
}

// Stop halts the sweep loop, waiting for an in-flight sweep to finish.
func (s *Scanner) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep scans every reminder-enabled binding once. Per-user failures are
// logged and the sweep continues with the remaining users.
func (s *Scanner) Sweep() {
	now := s.now().In(s.loc)

	s.roster.ForEachAll(func(b model.Binding) {
		if !b.Reminder {
			return
		}

		occs, err := s.src.ScheduleForDate(b.GroupID, b.UserID, now)
		if err != nil {
			s.log.Warn("reminder sweep: skipping user",
				zap.String("group", b.GroupID),
				zap.String("user", b.UserID),
				zap.Error(err),
			)
			return
		}

		for _, occ := range occs {
			delta := occ.Start.Sub(now)
			if delta < s.lead || delta >= s.lead+s.width {
				continue
			}

			key := firedKey(b, occ)
			if s.alreadyFired(key) {
				continue
			}

			if err := s.notify.Notify(b, occ); err != nil {
				s.log.Warn("reminder send failed",
					zap.String("group", b.GroupID),
					zap.String("user", b.UserID),
					zap.String("summary", occ.Summary),
					zap.Error(err),
				)
				continue
			}
			// Record after send.
			s.markFired(key)
			s.log.Info("reminder sent",
				zap.String("group", b.GroupID),
				zap.String("user", b.UserID),
				zap.String("summary", occ.Summary),
				zap.Time("start", occ.Start),
			)
		}
	})
}

func firedKey(b model.Binding, occ model.Occurrence) string {
	return fmt.Sprintf("%s|%s|%s", b.GroupID, b.UserID, occ.Start.UTC().Format(time.RFC3339))
}

func (s *Scanner) alreadyFired(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.fired[key]
	return ok
}

func (s *Scanner) markFired(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fired[key] = struct{}{}
}
