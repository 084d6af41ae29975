package connector

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/araddon/dateparse"

	"bloomberg-lite/model"
)

var (
	reDay      = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	reMonth    = regexp.MustCompile(`^(\d{4})-?M?(\d{2})$`)
	reQuarter  = regexp.MustCompile(`^(\d{4})-?Q([1-4])$`)
	reSemester = regexp.MustCompile(`^(\d{4})-?[SH]([12])$`)
	reWeek     = regexp.MustCompile(`^(\d{4})-?W(\d{2})$`)
	reYear     = regexp.MustCompile(`^(\d{4})$`)
)

// ParsePeriod converts a provider period code to the calendar date of the
// start of the period. Recognized forms: 2024-03-15, 2024-03, 2024M03,
// 2024-Q2, 2024Q2, 2024-S2, 2024-W05 and 2024.
func ParsePeriod(code string) (time.Time, error) {
	if m := reDay.FindStringSubmatch(code); m != nil {
		t, err := time.Parse(model.DateLayout, code)
		if err != nil {
			return time.Time{}, fmt.Errorf("period %q: %w", code, err)
		}
		return t, nil
	}
	if m := reMonth.FindStringSubmatch(code); m != nil {
		return monthStart(code, m[1], m[2])
	}
	if m := reQuarter.FindStringSubmatch(code); m != nil {
		y, _ := strconv.Atoi(m[1])
		q, _ := strconv.Atoi(m[2])
		return model.Date(y, time.Month(3*(q-1)+1), 1), nil
	}
	if m := reSemester.FindStringSubmatch(code); m != nil {
		y, _ := strconv.Atoi(m[1])
		s, _ := strconv.Atoi(m[2])
		return model.Date(y, time.Month(6*(s-1)+1), 1), nil
	}
	if m := reWeek.FindStringSubmatch(code); m != nil {
		y, _ := strconv.Atoi(m[1])
		w, _ := strconv.Atoi(m[2])
		if w < 1 || w > 53 {
			return time.Time{}, fmt.Errorf("period %q: week out of range", code)
		}
		return isoWeekMonday(y, w), nil
	}
	if m := reYear.FindStringSubmatch(code); m != nil {
		y, _ := strconv.Atoi(m[1])
		return model.Date(y, time.January, 1), nil
	}
	return time.Time{}, fmt.Errorf("period %q: unrecognized format", code)
}

func monthStart(code, year, month string) (time.Time, error) {
	y, _ := strconv.Atoi(year)
	mo, _ := strconv.Atoi(month)
	if mo < 1 || mo > 12 {
		return time.Time{}, fmt.Errorf("period %q: month out of range", code)
	}
	return model.Date(y, time.Month(mo), 1), nil
}

// isoWeekMonday returns the Monday of ISO week w in year y. January 4th is
// always in week 1.
func isoWeekMonday(y, w int) time.Time {
	jan4 := model.Date(y, time.January, 4)
	offset := (int(jan4.Weekday()) + 6) % 7 // days since Monday
	week1 := jan4.AddDate(0, 0, -offset)
	return week1.AddDate(0, 0, 7*(w-1))
}

// parseTimestamp parses the free-form timestamps some providers emit.
func parseTimestamp(s string) (time.Time, error) {
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
