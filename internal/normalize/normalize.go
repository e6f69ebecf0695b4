// Package normalize maps raw local schedule strings ("Monday 6:00 PM",
// "tomorrow 09:15") to absolute UTC instants in a given IANA timezone.
package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/milesc-bot/gym-scraper/internal/types"
)

// InstantFormat is the emitted ISO-8601 UTC layout.
const InstantFormat = "2006-01-02T15:04:05.000Z"

// Result carries the normalized instant and any soft warning produced
// while resolving it.
type Result struct {
	InstantUTC string
	Warning    string
}

var (
	// leadingWordRe captures an optional leading alphabetic day token.
	leadingWordRe = regexp.MustCompile(`^\s*([A-Za-z]+)[\s,]+(.*)$`)

	// Accepted time shapes.
	meridiemRe   = regexp.MustCompile(`(?i)^\s*(\d{1,2})(?::(\d{2}))?\s*(AM|PM)\s*$`)
	twentyFourRe = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)
)

var weekdays = map[string]time.Weekday{
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday, "weds": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
	"sunday": time.Sunday, "sun": time.Sunday,
}

// Normalize resolves raw in the IANA zone tz relative to ref and emits
// an ISO-8601 UTC instant. Already-absolute inputs pass through
// unchanged, which makes Normalize idempotent on its own output.
func Normalize(raw, tz string, ref time.Time) (Result, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Result{}, &types.NormalizeError{Raw: raw, Err: types.ErrNoTimeToken}
	}

	// Pass-through for instants we already produced.
	if t, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return Result{InstantUTC: t.UTC().Format(InstantFormat)}, nil
	}
	if t, err := time.Parse(InstantFormat, trimmed); err == nil {
		return Result{InstantUTC: t.UTC().Format(InstantFormat)}, nil
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Result{}, &types.NormalizeError{Raw: raw, Err: fmt.Errorf("load timezone %q: %w", tz, err)}
	}

	dayTok, timeTok := splitDayTime(trimmed)

	offset, warning, err := resolveDayOffset(dayTok, ref.In(loc).Weekday())
	if err != nil {
		return Result{}, &types.NormalizeError{Raw: raw, Err: err}
	}

	hour, minute, err := parseClock(timeTok)
	if err != nil {
		return Result{}, &types.NormalizeError{Raw: raw, Err: err}
	}

	local := ref.In(loc)
	date := local.AddDate(0, 0, offset)
	instant := time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, loc)

	return Result{
		InstantUTC: instant.UTC().Format(InstantFormat),
		Warning:    warning,
	}, nil
}

// splitDayTime separates an optional leading day token from the time
// token. A leading digit means there is no day token.
func splitDayTime(s string) (dayTok, timeTok string) {
	m := leadingWordRe.FindStringSubmatch(s)
	if m == nil {
		return "", s
	}
	word := strings.ToLower(m[1])
	rest := m[2]
	if _, ok := weekdays[word]; ok {
		return word, rest
	}
	if word == "today" || word == "tomorrow" {
		return word, rest
	}
	if isMeridiem(word) {
		return "", s
	}
	// Unknown leading word: keep it as the (unrecognized) day token.
	return word, rest
}

func isMeridiem(w string) bool { return w == "am" || w == "pm" }

// resolveDayOffset maps a day token to a calendar offset from the
// reference day. Day names resolve to the nearest forthcoming
// occurrence including the reference day itself.
func resolveDayOffset(dayTok string, current time.Weekday) (int, string, error) {
	switch dayTok {
	case "", "today":
		return 0, "", nil
	case "tomorrow":
		return 1, "", nil
	}
	if target, ok := weekdays[dayTok]; ok {
		return (int(target) - int(current) + 7) % 7, "", nil
	}
	return 0, fmt.Sprintf("unrecognized day token %q, assuming reference date", dayTok), nil
}

// parseClock parses the three accepted time shapes into a 24h clock.
func parseClock(s string) (hour, minute int, err error) {
	if m := meridiemRe.FindStringSubmatch(s); m != nil {
		hour, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour < 1 || hour > 12 || minute > 59 {
			return 0, 0, types.ErrNoTimeToken
		}
		meridiem := strings.ToUpper(m[3])
		if hour == 12 {
			hour = 0
		}
		if meridiem == "PM" {
			hour += 12
		}
		return hour, minute, nil
	}

	if m := twentyFourRe.FindStringSubmatch(s); m != nil {
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
		if hour > 23 || minute > 59 {
			return 0, 0, types.ErrNoTimeToken
		}
		return hour, minute, nil
	}

	return 0, 0, types.ErrNoTimeToken
}
