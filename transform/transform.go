// Package transform holds the numeric adjustments applied to raw series
// values before they are stored: period-over-period percent change and
// scalar multipliers.
package transform

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind names a configured transform. The zero value means none.
type Kind string

const (
	None       Kind = ""
	YoYPercent Kind = "yoy_percent"
	QoQPercent Kind = "qoq_percent"
)

// ParseKind maps a configuration string to a Kind. Short aliases "yoy" and
// "qoq" are accepted.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return None, nil
	case "yoy", "yoy_percent":
		return YoYPercent, nil
	case "qoq", "qoq_percent":
		return QoQPercent, nil
	}
	return None, fmt.Errorf("unknown transform %q", s)
}

// lagMonths is the distance between a point and its anchor.
func (k Kind) lagMonths() int {
	switch k {
	case YoYPercent:
		return 12
	case QoQPercent:
		return 3
	}
	return 0
}

// Point is one (date, value) pair of a series.
type Point struct {
	Date  time.Time
	Value float64
}

// Result is the output of a transform. Dropped counts input points that had
// no usable anchor, or a NaN or infinite value, and were therefore omitted.
type Result struct {
	Points  []Point
	Dropped int
}

// Apply runs transform k over points. With None the points are returned
// sorted and de-duplicated, unchanged otherwise.
func Apply(k Kind, points []Point) Result {
	lag := k.lagMonths()
	if lag == 0 {
		series, dropped := normalize(points)
		return Result{Points: series, Dropped: dropped}
	}
	return percentChange(points, lag)
}

// YoY computes year-over-year percent change. A point whose date exactly
// twelve months earlier is missing from the series is dropped.
func YoY(points []Point) Result {
	return percentChange(points, YoYPercent.lagMonths())
}

// QoQ computes quarter-over-quarter percent change with a three month lag.
func QoQ(points []Point) Result {
	return percentChange(points, QoQPercent.lagMonths())
}

func percentChange(points []Point, lagMonths int) Result {
	series, dropped := normalize(points)

	byDate := make(map[string]float64, len(series))
	for _, p := range series {
		byDate[dateKey(p.Date)] = p.Value
	}

	res := Result{Points: make([]Point, 0, len(series)), Dropped: dropped}
	for _, p := range series {
		anchor, ok := byDate[dateKey(monthsBefore(p.Date, lagMonths))]
		if !ok || anchor == 0 {
			res.Dropped++
			continue
		}
		res.Points = append(res.Points, Point{Date: p.Date, Value: pct(p.Value, anchor)})
	}
	return res
}

// Multiply scales every value by k. A multiplier of 0 or 1 is the identity,
// so an absent configuration value leaves the series untouched. Non-finite
// values and multipliers are left as they are.
func Multiply(points []Point, k float64) []Point {
	out := make([]Point, len(points))
	copy(out, points)
	if k == 0 || k == 1 || !finite(k) {
		return out
	}
	m := decimal.NewFromFloat(k)
	for i := range out {
		if !finite(out[i].Value) {
			continue
		}
		out[i].Value = toFloat(decimal.NewFromFloat(out[i].Value).Mul(m))
	}
	return out
}

// Change derives the absolute and percent change between the latest and the
// previous value. The percent is nil when previous is zero.
func Change(last, previous *float64) (change, percent *float64) {
	if last == nil || previous == nil || !finite(*last) || !finite(*previous) {
		return nil, nil
	}
	c := toFloat(decimal.NewFromFloat(*last).Sub(decimal.NewFromFloat(*previous)))
	change = &c
	if *previous != 0 {
		p := pct(*last, *previous)
		percent = &p
	}
	return change, percent
}

// pct returns (cur-base)/base*100.
func pct(cur, base float64) float64 {
	b := decimal.NewFromFloat(base)
	return toFloat(decimal.NewFromFloat(cur).Sub(b).Div(b).Mul(decimal.NewFromInt(100)))
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// finite reports whether v is neither NaN nor infinite.
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// monthsBefore steps n calendar months back from t, clamping the day to the
// end of the target month: 2024-05-31 minus 3 months is 2024-02-29.
func monthsBefore(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month()-time.Month(n), 1, 0, 0, 0, 0, t.Location())
	lastDay := first.AddDate(0, 1, -1).Day()
	return first.AddDate(0, 0, min(t.Day(), lastDay)-1)
}

// normalize sorts by date, keeps the last point for each date and removes
// non-finite values, returning how many it removed.
func normalize(points []Point) ([]Point, int) {
	sorted := make([]Point, 0, len(points))
	for _, p := range points {
		if finite(p.Value) {
			sorted = append(sorted, p)
		}
	}
	dropped := len(points) - len(sorted)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	out := sorted[:0]
	for _, p := range sorted {
		if n := len(out); n > 0 && dateKey(out[n-1].Date) == dateKey(p.Date) {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	return out, dropped
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
