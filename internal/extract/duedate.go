package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// defaultDueHour applies when a phrase names a day but no clock time.
const defaultDueHour = 9

var (
	clockRe    = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	clock24Re  = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	inAmountRe = regexp.MustCompile(`(?i)\bin\s+(\d+)\s+(minute|hour|day|week)s?\b`)
)

var isoLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// NormalizeDueDate resolves a reminder's due time to UTC. A machine
// timestamp (dueISO) wins over the raw phrase (dueText); phrases are
// interpreted relative to ref in the user's timezone. The boolean reports
// that the timezone was unknown and UTC was used instead, so callers can
// warn the user once.
func NormalizeDueDate(dueISO, dueText, timezone string, ref time.Time) (*time.Time, bool) {
	loc, tzFallback := loadLocation(timezone)

	if dueISO != "" {
		if t, err := time.Parse(time.RFC3339, dueISO); err == nil {
			utc := t.UTC()
			return &utc, tzFallback
		}
		for _, layout := range isoLayouts {
			// Naive timestamps are read as the user's wall clock.
			if t, err := time.ParseInLocation(layout, dueISO, loc); err == nil {
				utc := t.UTC()
				return &utc, tzFallback
			}
		}
	}

	if dueText == "" {
		return nil, tzFallback
	}
	if t := parseRelative(strings.ToLower(dueText), ref.In(loc), loc); t != nil {
		utc := t.UTC()
		return &utc, tzFallback
	}
	return nil, tzFallback
}

func loadLocation(timezone string) (*time.Location, bool) {
	if timezone == "" {
		return time.UTC, true
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.UTC, true
	}
	return loc, false
}

// parseRelative anchors a natural-language phrase at now (already in the
// user's location). Phrases naming no recognizable date or time resolve
// to today at the default hour.
func parseRelative(text string, now time.Time, loc *time.Location) *time.Time {
	// Pure offsets keep the anchor's clock: "in 2 hours" means exactly
	// that, no default hour.
	if m := inAmountRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		var t time.Time
		switch m[2] {
		case "minute":
			t = now.Add(time.Duration(n) * time.Minute)
		case "hour":
			t = now.Add(time.Duration(n) * time.Hour)
		case "day":
			t = dayAt(now.AddDate(0, 0, n), timeOfDay(text, now), loc)
		case "week":
			t = dayAt(now.AddDate(0, 0, 7*n), timeOfDay(text, now), loc)
		}
		return &t
	}

	hour, minute, hasClock := extractClock(text)

	day, hasDay := extractDay(text, now)
	if !hasDay {
		if hasClock {
			// Time without a day means the next occurrence of that clock.
			t := dayAt(now, clockValue{hour, minute}, loc)
			if !t.After(now) {
				t = t.AddDate(0, 0, 1)
			}
			return &t
		}
		// Vague phrases ("when you get a chance") anchor at today; the
		// default hour below applies.
		day = now
	}

	if !hasClock {
		hour, minute = defaultDueHour, 0
		if strings.Contains(text, "tonight") || strings.Contains(text, "night") {
			hour = 20
		} else if strings.Contains(text, "afternoon") {
			hour = 15
		} else if strings.Contains(text, "evening") {
			hour = 18
		} else if strings.Contains(text, "noon") {
			hour = 12
		}
	}
	t := dayAt(day, clockValue{hour, minute}, loc)
	return &t
}

type clockValue struct {
	hour   int
	minute int
}

func timeOfDay(text string, now time.Time) clockValue {
	if h, m, ok := extractClock(text); ok {
		return clockValue{h, m}
	}
	return clockValue{now.Hour(), now.Minute()}
}

func dayAt(day time.Time, c clockValue, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.hour, c.minute, 0, 0, loc)
}

// extractClock pulls a clock time out of the phrase, preferring 12-hour
// forms ("3pm", "11:30 am") over bare 24-hour ones.
func extractClock(text string) (hour, minute int, ok bool) {
	if m := clockRe.FindStringSubmatch(text); m != nil {
		hour, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour > 12 || minute > 59 {
			return 0, 0, false
		}
		meridiem := strings.ToLower(m[3])
		if meridiem == "pm" && hour != 12 {
			hour += 12
		}
		if meridiem == "am" && hour == 12 {
			hour = 0
		}
		return hour, minute, true
	}
	if m := clock24Re.FindStringSubmatch(text); m != nil {
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
		if hour > 23 || minute > 59 {
			return 0, 0, false
		}
		return hour, minute, true
	}
	switch {
	case strings.Contains(text, "noon"):
		return 12, 0, true
	case strings.Contains(text, "midnight"):
		return 0, 0, true
	}
	return 0, 0, false
}

// extractDay resolves the day a phrase refers to. The returned time keeps
// now's clock; callers overwrite it with the extracted or default hour.
func extractDay(text string, now time.Time) (time.Time, bool) {
	switch {
	case strings.Contains(text, "day after tomorrow"):
		return now.AddDate(0, 0, 2), true
	case strings.Contains(text, "tomorrow"):
		return now.AddDate(0, 0, 1), true
	case strings.Contains(text, "today"), strings.Contains(text, "tonight"):
		return now, true
	case strings.Contains(text, "next week"):
		return now.AddDate(0, 0, 7), true
	case strings.Contains(text, "next month"):
		return now.AddDate(0, 0, 30), true
	}

	for name, wd := range weekdays {
		if !strings.Contains(text, name) {
			continue
		}
		days := int(wd-now.Weekday()+7) % 7
		if days == 0 {
			days = 7
		}
		if strings.Contains(text, "next "+name) && days < 7 {
			days += 7
		}
		return now.AddDate(0, 0, days), true
	}
	return time.Time{}, false
}
