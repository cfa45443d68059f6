package report

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xaenox/report-bot/internal/models"
)

var (
	monthDayRe = regexp.MustCompile(`(\d{1,2})[月\-/](\d{1,2})`)
	monthRe    = regexp.MustCompile(`(\d{1,2})\s*月`)
)

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// ResolveRange turns a summary period and a free-text date fragment into a
// concrete range relative to now, in now's location. Unknown periods are not ok.
func ResolveRange(period models.Period, fragment string, now time.Time) (models.DateRange, bool) {
	switch period {
	case models.PeriodDaily:
		return resolveDay(fragment, now), true
	case models.PeriodWeekly:
		return resolveWeek(fragment, now), true
	case models.PeriodMonthly:
		return resolveMonth(fragment, now), true
	}
	return models.DateRange{}, false
}

func resolveDay(fragment string, now time.Time) models.DateRange {
	target := now
	switch {
	case strings.Contains(fragment, "昨天"), strings.Contains(fragment, "昨日"):
		target = now.AddDate(0, 0, -1)
	case strings.Contains(fragment, "前天"):
		target = now.AddDate(0, 0, -2)
	case fragment == "", strings.Contains(fragment, "今天"), strings.Contains(fragment, "今日"):
	default:
		if m := monthDayRe.FindStringSubmatch(fragment); m != nil {
			month, _ := strconv.Atoi(m[1])
			day, _ := strconv.Atoi(m[2])
			if month >= 1 && month <= 12 && day >= 1 && day <= daysIn(now.Year(), time.Month(month), now.Location()) {
				target = time.Date(now.Year(), time.Month(month), day, 0, 0, 0, 0, now.Location())
			}
		}
	}

	start := startOfDay(target)
	return models.DateRange{Start: start, End: endOfDay(target), Label: start.Format(time.DateOnly)}
}

// mondayOf uses ISO weeks, Monday first.
func mondayOf(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return startOfDay(t).AddDate(0, 0, -offset)
}

func resolveWeek(fragment string, now time.Time) models.DateRange {
	monday := mondayOf(now)
	if strings.Contains(fragment, "上周") {
		start := monday.AddDate(0, 0, -7)
		end := endOfDay(start.AddDate(0, 0, 6))
		return models.DateRange{
			Start: start,
			End:   end,
			Label: fmt.Sprintf("%s 至 %s (上周)", start.Format(time.DateOnly), end.Format(time.DateOnly)),
		}
	}
	return models.DateRange{
		Start: monday,
		End:   now,
		Label: fmt.Sprintf("%s 至 %s (本周)", monday.Format(time.DateOnly), now.Format(time.DateOnly)),
	}
}

func resolveMonth(fragment string, now time.Time) models.DateRange {
	year, month := now.Year(), now.Month()
	if strings.Contains(fragment, "上月") || strings.Contains(fragment, "上个月") {
		if month == time.January {
			year, month = year-1, time.December
		} else {
			month--
		}
	} else if m := monthRe.FindStringSubmatch(fragment); m != nil {
		if n, _ := strconv.Atoi(m[1]); n >= 1 && n <= 12 {
			month = time.Month(n)
			// a month later than the current one means last year
			if month > now.Month() {
				year--
			}
		}
	}

	loc := now.Location()
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	end := time.Date(year, month, daysIn(year, month, loc), 23, 59, 59, 0, loc)
	return models.DateRange{
		Start: start,
		End:   end,
		Label: fmt.Sprintf("%s 至 %s (%d月)", start.Format(time.DateOnly), end.Format(time.DateOnly), int(month)),
	}
}
