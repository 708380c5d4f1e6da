package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var weekdayNames = []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// Describe renders def as text for listings, e.g. "Every day at 9:00 AM".
// Expressions without a friendly form fall back to "Cron: <expr>".
func Describe(def Definition) string {
	var text string
	switch def.Kind {
	case KindInterval:
		text = describeInterval(def.IntervalMinutes)
	default:
		text = describeCron(def.CronExpression)
	}

	if def.Timezone != "" && def.Timezone != "UTC" {
		text += " (" + def.Timezone + ")"
	}
	return text
}

func describeInterval(minutes int) string {
	switch {
	case minutes <= 0:
		return "Invalid interval"
	case minutes%1440 == 0:
		return plural(minutes/1440, "day")
	case minutes%60 == 0:
		return plural(minutes/60, "hour")
	default:
		return plural(minutes, "minute")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "Every " + unit
	}
	return fmt.Sprintf("Every %d %ss", n, unit)
}

func describeCron(expr string) string {
	resolved := ResolvePreset(expr)
	f := strings.Fields(resolved)
	if len(f) != 5 {
		return "Cron: " + expr
	}
	minute, hour, dom, month, dow := f[0], f[1], f[2], f[3], f[4]

	if month != "*" {
		return "Cron: " + resolved
	}

	if hour == "*" && dom == "*" && dow == "*" {
		switch {
		case minute == "*":
			return "Every minute"
		case minute == "0":
			return "Every hour"
		case strings.HasPrefix(minute, "*/"):
			if n, err := strconv.Atoi(minute[2:]); err == nil {
				return plural(n, "minute")
			}
		default:
			if m, err := strconv.Atoi(minute); err == nil {
				return fmt.Sprintf("Every hour at %d minutes past", m)
			}
		}
		return "Cron: " + resolved
	}

	at, ok := clockTime(hour, minute)
	if !ok {
		return "Cron: " + resolved
	}

	switch {
	case dom == "*" && dow == "*":
		return "Every day at " + at
	case dom == "*":
		days, ok := weekdays(dow)
		if !ok {
			return "Cron: " + resolved
		}
		return "Every " + days + " at " + at
	case dow == "*":
		d, err := strconv.Atoi(dom)
		if err != nil {
			return "Cron: " + resolved
		}
		return ordinal(d) + " of every month at " + at
	}

	return "Cron: " + resolved
}

func clockTime(hour, minute string) (string, bool) {
	h, err := strconv.Atoi(hour)
	if err != nil {
		return "", false
	}
	m, err := strconv.Atoi(minute)
	if err != nil {
		return "", false
	}
	if h == 0 && m == 0 {
		return "midnight", true
	}
	if h == 12 && m == 0 {
		return "noon", true
	}
	return time.Date(2000, 1, 1, h, m, 0, 0, time.UTC).Format("3:04 PM"), true
}

func weekdays(dow string) (string, bool) {
	switch dow {
	case "1-5":
		return "weekday", true
	case "0,6", "6,0", "6,7", "6-7":
		return "Saturday and Sunday", true
	}

	var names []string
	for _, part := range strings.Split(dow, ",") {
		d, err := strconv.Atoi(part)
		if err != nil || d < 0 || d > 7 {
			return "", false
		}
		names = append(names, weekdayNames[d%7])
	}

	switch len(names) {
	case 1:
		return names[0], true
	case 2:
		return names[0] + " and " + names[1], true
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1], true
	}
}

func ordinal(n int) string {
	suffix := "th"
	switch {
	case n%100 >= 11 && n%100 <= 13:
	case n%10 == 1:
		suffix = "st"
	case n%10 == 2:
		suffix = "nd"
	case n%10 == 3:
		suffix = "rd"
	}
	return strconv.Itoa(n) + suffix
}
