// Package wakeup imports schedules shared from the WakeUp timetable app.
// A share token found in free-form chat text is resolved against the
// share API and the returned course list is converted into ICS text,
// which then flows through the normal calendar bind path; nothing in the
// engine treats WakeUp-derived calendars specially.
package wakeup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://i.wakeup.fun"

// Share tokens arrive quoted in corner brackets inside a boilerplate
// share message.
var tokenPattern = regexp.MustCompile(`「([0-9A-Za-z]{4,})」`)

// ParseToken extracts a WakeUp share token from message text. Returns ""
// when the text is not a share message.
func ParseToken(text string) string {
	if !strings.Contains(text, "WakeUp") {
		return ""
	}
	m := tokenPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// Course is one weekly-repeating class from a shared timetable.
type Course struct {
	Name      string `json:"name"`
	Room      string `json:"room"`
	Teacher   string `json:"teacher"`
	Day       int    `json:"day"` // 1 = Monday .. 7 = Sunday
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	StartWeek int    `json:"start_week"`
	EndWeek   int    `json:"end_week"`
}

// Schedule is a shared timetable: a term anchor (the Monday of week one)
// plus the course list.
type Schedule struct {
	TermStart string   `json:"term_start"`
	Courses   []Course `json:"courses"`
}

type shareResponse struct {
	Status  int      `json:"status"`
	Message string   `json:"message"`
	Data    Schedule `json:"data"`
}

// Client fetches shared schedules. Requests are time-bounded so a slow
// share endpoint can never stall a caller.
type Client struct {
	http *http.Client
	base string
	log  *zap.Logger
}

// ClientOption tweaks Client construction.
type ClientOption func(*Client)

// WithBaseURL points the client at an alternate share endpoint.
func WithBaseURL(base string) ClientOption {
	return func(c *Client) { c.base = base }
}

func NewClient(log *zap.Logger, opts ...ClientOption) *Client {
	c := &Client{
		http: &http.Client{Timeout: 15 * time.Second},
		base: defaultBaseURL,
		log:  log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch resolves a share token. Tokens expire server-side; an expired or
// unknown token surfaces as an error, never as an empty schedule.
func (c *Client) Fetch(ctx context.Context, token string) (*Schedule, error) {
	if token == "" {
		return nil, errors.New("empty share token")
	}

	url := fmt.Sprintf("%s/share_schedule/get?key=%s", c.base, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("share fetch: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var sr shareResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("share fetch: decode: %w", err)
	}
	if sr.Status != 1 {
		return nil, fmt.Errorf("share fetch: rejected: %s", sr.Message)
	}

	c.log.Info("wakeup share fetched", zap.Int("course_count", len(sr.Data.Courses)))
	return &sr.Data, nil
}

// ConvertToICS renders a shared schedule as ICS text with one weekly
// RRULE per course, anchored on the term start. Courses with impossible
// fields are skipped with a warning rather than failing the import.
func ConvertToICS(s *Schedule, loc *time.Location, log *zap.Logger) (string, error) {
	if s == nil || len(s.Courses) == 0 {
		return "", errors.New("shared schedule has no courses")
	}

	termStart, err := time.ParseInLocation("2006-01-02", s.TermStart, loc)
	if err != nil {
		return "", fmt.Errorf("term start %q: %w", s.TermStart, err)
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//classtab//wakeup-import//CN")

	emitted := 0
	for i, course := range s.Courses {
		start, end, until, err := courseTimes(course, termStart, loc)
		if err != nil {
			log.Warn("wakeup course skipped", zap.String("name", course.Name), zap.Error(err))
			continue
		}

		ev := cal.AddEvent(fmt.Sprintf("classtab-wakeup-%d", i))
		ev.SetProperty(ical.ComponentPropertySummary, course.Name)
		if course.Room != "" {
			ev.SetProperty(ical.ComponentPropertyLocation, course.Room)
		}
		if course.Teacher != "" {
			ev.SetProperty(ical.ComponentPropertyDescription, course.Teacher)
		}
		ev.SetStartAt(start)
		ev.SetEndAt(end)
		ev.AddRrule(fmt.Sprintf("FREQ=WEEKLY;UNTIL=%s", until.UTC().Format("20060102T150405Z")))
		emitted++
	}

	if emitted == 0 {
		return "", errors.New("no convertible courses in shared schedule")
	}
	return cal.Serialize(), nil
}

// courseTimes computes the first occurrence bounds and the inclusive
// UNTIL instant for one course.
func courseTimes(course Course, termStart time.Time, loc *time.Location) (start, end, until time.Time, err error) {
	if course.Day < 1 || course.Day > 7 {
		return start, end, until, fmt.Errorf("day %d out of range", course.Day)
	}
	if course.StartWeek < 1 || course.EndWeek < course.StartWeek {
		return start, end, until, fmt.Errorf("week range %d..%d invalid", course.StartWeek, course.EndWeek)
	}

	startClock, err := time.Parse("15:04", course.StartTime)
	if err != nil {
		return start, end, until, fmt.Errorf("start time %q: %w", course.StartTime, err)
	}
	endClock, err := time.Parse("15:04", course.EndTime)
	if err != nil {
		return start, end, until, fmt.Errorf("end time %q: %w", course.EndTime, err)
	}
	if !endClock.After(startClock) {
		return start, end, until, fmt.Errorf("end %q not after start %q", course.EndTime, course.StartTime)
	}

	firstDay := termStart.AddDate(0, 0, (course.StartWeek-1)*7+(course.Day-1))
	start = time.Date(firstDay.Year(), firstDay.Month(), firstDay.Day(),
		startClock.Hour(), startClock.Minute(), 0, 0, loc)
	end = time.Date(firstDay.Year(), firstDay.Month(), firstDay.Day(),
		endClock.Hour(), endClock.Minute(), 0, 0, loc)

	lastDay := termStart.AddDate(0, 0, (course.EndWeek-1)*7+(course.Day-1))
	until = time.Date(lastDay.Year(), lastDay.Month(), lastDay.Day(),
		startClock.Hour(), startClock.Minute(), 0, 0, loc)
	return start, end, until, nil
}
