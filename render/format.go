package render

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// Placeholder is shown for a metric without data.
const Placeholder = "—"

var sparkChars = []rune("▁▂▃▄▅▆▇█")

// Sparkline draws values, oldest first, as a row of block characters. Fewer
// than two values draw nothing; a flat series draws a flat mid line.
func Sparkline(values []float64) string {
	if len(values) < 2 {
		return ""
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	out := make([]rune, len(values))
	for i, v := range values {
		if hi == lo {
			out[i] = sparkChars[len(sparkChars)/2-1]
			continue
		}
		idx := int((v-lo)/(hi-lo)*float64(len(sparkChars)-1) + 0.5)
		out[i] = sparkChars[idx]
	}
	return string(out)
}

// fixed formats v with d decimals and thousands separators.
func fixed(v float64, d int) string {
	if d < 0 {
		d = 0
	}
	s := decimal.NewFromFloat(v).Abs().StringFixed(int32(d))
	intPart, frac, _ := strings.Cut(s, ".")
	n, _ := strconv.ParseInt(intPart, 10, 64)
	out := humanize.Comma(n)
	if frac != "" {
		out += "." + frac
	}
	if v < 0 && strings.Trim(s, "0.") != "" {
		out = "-" + out
	}
	return out
}

// FormatValue renders a metric value for its unit.
func FormatValue(v *float64, unit string, decimals int) string {
	if v == nil {
		return Placeholder
	}
	switch {
	case unit == "%":
		return fixed(*v, decimals) + "%"
	case unit == "bp":
		return fixed(*v, 0) + "bp"
	case strings.Contains(unit, "$"):
		return "$" + fixed(*v, 2)
	default:
		return fixed(*v, decimals)
	}
}

// FormatChange renders an absolute change with an explicit sign. Percent
// units change in percentage points.
func FormatChange(c *float64, unit string) string {
	if c == nil {
		return ""
	}
	prefix := ""
	if *c > 0 {
		prefix = "+"
	}
	switch unit {
	case "%":
		return prefix + fixed(*c, 2) + "pp"
	case "bp":
		return prefix + fixed(*c, 0) + "bp"
	default:
		return prefix + fixed(*c, 2)
	}
}

// FormatPercent renders a relative change, e.g. "+1.2%".
func FormatPercent(p *float64) string {
	if p == nil {
		return ""
	}
	prefix := ""
	if *p > 0 {
		prefix = "+"
	}
	return prefix + fixed(*p, 1) + "%"
}

// Direction returns an arrow for the sign of c.
func Direction(c *float64) string {
	switch {
	case c == nil:
		return ""
	case *c > 0:
		return "⬆"
	case *c < 0:
		return "⬇"
	}
	return "→"
}

// ChangeClass returns the CSS class for the sign of c.
func ChangeClass(c *float64) string {
	switch {
	case c == nil:
		return ""
	case *c > 0:
		return "up"
	case *c < 0:
		return "down"
	}
	return ""
}

// HeatSymbol grades a story score.
func HeatSymbol(score int) string {
	switch {
	case score >= 1000:
		return "🔥"
	case score >= 500:
		return "⚡"
	case score >= 200:
		return "✦"
	}
	return "•"
}

// TimeAgo renders the age of t in compact form: now, 5m, 3h, 2d, 1w.
func TimeAgo(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return strconv.Itoa(int(d/time.Minute)) + "m"
	case d < 24*time.Hour:
		return strconv.Itoa(int(d/time.Hour)) + "h"
	case d < 7*24*time.Hour:
		return strconv.Itoa(int(d/(24*time.Hour))) + "d"
	}
	return strconv.Itoa(int(d/(7*24*time.Hour))) + "w"
}

// TimeAgoLong renders the age of t in words, for tooltips.
func TimeAgoLong(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// TimeSymbol grades a compact age from TimeAgo.
func TimeSymbol(ago string) string {
	switch {
	case ago == "":
		return ""
	case ago == "now", strings.HasSuffix(ago, "m"):
		return "⚡"
	case strings.HasSuffix(ago, "h"):
		if h, _ := strconv.Atoi(strings.TrimSuffix(ago, "h")); h <= 6 {
			return "⏱"
		}
		return "🕐"
	case strings.HasSuffix(ago, "d"):
		return "📅"
	case strings.HasSuffix(ago, "w"):
		return "📆"
	}
	return ""
}

// Domain returns the host of rawURL without a leading "www.".
func Domain(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

var sectionIcons = map[string]string{
	"US Economy":        "🇺🇸",
	"Eurozone":          "🇪🇺",
	"Asia Pacific":      "🌏",
	"Global Markets":    "🌐",
	"Crypto":            "₿",
	"Tech Discussion":   "💻",
	"AI/ML":             "🤖",
	"Infrastructure":    "🏗",
	"Markets & Finance": "📊",
	"China Tech":        "🇨🇳",
	"Top Stories":       "📰",
}

// SectionIcon returns the icon shown next to a section heading.
func SectionIcon(name string) string {
	return sectionIcons[name]
}
