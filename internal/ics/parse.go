package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"go.uber.org/zap"

	"classtab/internal/apperr"
	"classtab/internal/model"
)

// Parser turns raw ICS text into EventTemplate values. All time-of-day
// handling is normalized here: downstream of the parser every instant is
// fully resolved into the configured location, never optional-timezone.
type Parser struct {
	loc *time.Location
	log *zap.Logger
}

func NewParser(loc *time.Location, log *zap.Logger) *Parser {
	if loc == nil {
		loc = time.Local
	}
	return &Parser{loc: loc, log: log}
}

// Parse parses a single ICS payload into an ordered list of EventTemplate.
//
// Normalization rules:
//   - summary/description/location are optional; missing means empty.
//   - a bare DATE bound becomes start-of-day in the configured location.
//   - a bound with TZID or a UTC "Z" suffix is converted to the location.
//   - a naive date-time is assumed to already be in the location.
//   - a date-only RRULE UNTIL is extended to end-of-day so the final
//     recurrence day stays inclusive.
//
// A VEVENT that cannot be normalized is skipped with a warning; only a
// structurally malformed calendar fails the whole parse.
func (p *Parser) Parse(body []byte) ([]model.EventTemplate, error) {
	if len(body) == 0 {
		return nil, apperr.Wrap(apperr.ErrParse, errors.New("empty ICS body"))
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrParse, err)
	}

	templates := make([]model.EventTemplate, 0)

	for _, ve := range cal.Events() {
		tpl, perr := p.parseVEvent(ve)
		if perr != nil {
			// Skip this event but keep parsing siblings.
			p.log.Warn("ics vevent skipped", zap.Error(perr))
			continue
		}
		templates = append(templates, tpl)
	}

	return templates, nil
}

func (p *Parser) parseVEvent(ve *ical.VEvent) (model.EventTemplate, error) {
	var out model.EventTemplate

	if prop := ve.GetProperty(ical.ComponentPropertySummary); prop != nil {
		out.Summary = prop.Value
	}
	if prop := ve.GetProperty(ical.ComponentPropertyDescription); prop != nil {
		out.Description = prop.Value
	}
	if prop := ve.GetProperty(ical.ComponentPropertyLocation); prop != nil {
		out.Location = prop.Value
	}

	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil || startProp.Value == "" {
		return out, errors.New("missing DTSTART")
	}
	start, err := p.parseTimeProp(startProp)
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	out.Start = start

	// DTEND is optional; a missing end means a zero-length event.
	out.End = start
	if endProp := ve.GetProperty(ical.ComponentPropertyDtEnd); endProp != nil && endProp.Value != "" {
		end, err := p.parseTimeProp(endProp)
		if err != nil {
			return out, fmt.Errorf("DTEND: %w", err)
		}
		out.End = end
	}

	if out.End.Before(out.Start) {
		return out, fmt.Errorf("DTEND %s before DTSTART %s", out.End, out.Start)
	}

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil && rruleProp.Value != "" {
		out.RRule = p.normalizeUntil(rruleProp.Value)
	}

	return out, nil
}

// parseTimeProp resolves one DTSTART/DTEND property into the configured
// location, following the normalization rules documented on Parse.
func (p *Parser) parseTimeProp(prop *ical.IANAProperty) (time.Time, error) {
	v := strings.TrimSpace(prop.Value)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// Bare date (VALUE=DATE or no time part): start-of-day in the location.
	if isDateOnly(prop, v) {
		return time.ParseInLocation("20060102", v, p.loc)
	}

	// UTC form, e.g. 20250101T090000Z.
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		if err != nil {
			return time.Time{}, err
		}
		return t.In(p.loc), nil
	}

	// TZID-qualified local time.
	if tzid := paramValue(prop, "TZID"); tzid != "" {
		tzloc, err := time.LoadLocation(tzid)
		if err != nil {
			// Unknown TZID: fall back to the configured location.
			tzloc = p.loc
		}
		t, err := time.ParseInLocation("20060102T150405", v, tzloc)
		if err != nil {
			return time.Time{}, err
		}
		return t.In(p.loc), nil
	}

	// Naive date-time: assume the configured location.
	return time.ParseInLocation("20060102T150405", v, p.loc)
}

// normalizeUntil rewrites the UNTIL part of an RRULE into an absolute UTC
// instant. A date-only UNTIL is extended to end-of-day in the configured
// location first, so the last recurrence day is inclusive; a naive
// date-time UNTIL is interpreted in the configured location.
func (p *Parser) normalizeUntil(rule string) string {
	parts := strings.Split(rule, ";")
	for i, part := range parts {
		if !strings.HasPrefix(strings.ToUpper(part), "UNTIL=") {
			continue
		}
		val := part[len("UNTIL="):]

		var until time.Time
		switch {
		case strings.HasSuffix(val, "Z"):
			// Already absolute.
			continue
		case strings.Contains(val, "T"):
			t, err := time.ParseInLocation("20060102T150405", val, p.loc)
			if err != nil {
				p.log.Warn("ics rrule UNTIL unparseable", zap.String("until", val))
				continue
			}
			until = t
		default:
			d, err := time.ParseInLocation("20060102", val, p.loc)
			if err != nil {
				p.log.Warn("ics rrule UNTIL unparseable", zap.String("until", val))
				continue
			}
			until = d.AddDate(0, 0, 1).Add(-time.Second)
		}

		parts[i] = "UNTIL=" + until.UTC().Format("20060102T150405Z")
	}
	return strings.Join(parts, ";")
}

func isDateOnly(prop *ical.IANAProperty, v string) bool {
	if strings.EqualFold(paramValue(prop, "VALUE"), "DATE") {
		return true
	}
	return !strings.Contains(v, "T")
}

func paramValue(prop *ical.IANAProperty, key string) string {
	if prop.ICalParameters == nil {
		return ""
	}
	if vs, ok := prop.ICalParameters[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}
