// Package koredate parses Korean-language relative date and time
// expressions into concrete civil dates and times. It is shared by the
// intent extractor and the personal agent so that both resolve the same
// utterance to the same instant.
package koredate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var weekdayNames = map[string]time.Weekday{
	"일요일": time.Sunday,
	"월요일": time.Monday,
	"화요일": time.Tuesday,
	"수요일": time.Wednesday,
	"목요일": time.Thursday,
	"금요일": time.Friday,
	"토요일": time.Saturday,
}

var eveningKeywords = []string{"저녁", "밤", "술", "디너", "야식"}
var morningKeywords = []string{"아침", "오전", "조식", "브런치"}

// ConvertRelativeDate resolves a Korean relative-date expression to a
// concrete civil date ("2006-01-02"), anchored at now.
//
// Supported forms: "오늘", "내일", "모레", "이번주", a weekday name
// optionally prefixed with "다음주" (resolves to the *next* week's
// occurrence of that weekday, not merely the nearest future one), bare
// "M월 D일", and bare "D일" (month/year roll over when the day has
// already passed this month).
func ConvertRelativeDate(expr string, now time.Time) (string, bool) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", false
	}
	today := civilDate(now)

	switch {
	case strings.Contains(expr, "오늘"):
		return fmtDate(today), true
	case strings.Contains(expr, "모레"):
		return fmtDate(today.AddDate(0, 0, 2)), true
	case strings.Contains(expr, "내일"):
		return fmtDate(today.AddDate(0, 0, 1)), true
	}

	nextWeek := strings.Contains(expr, "다음주") || strings.Contains(expr, "다음 주")
	for name, wd := range weekdayNames {
		if strings.Contains(expr, name) {
			return fmtDate(nextWeekday(today, wd, nextWeek)), true
		}
	}

	if strings.Contains(expr, "이번주") {
		return fmtDate(today), true
	}

	if m, d, ok := parseMonthDay(expr); ok {
		year := today.Year()
		candidate := time.Date(year, time.Month(m), d, 0, 0, 0, 0, today.Location())
		if candidate.Before(today) {
			candidate = candidate.AddDate(1, 0, 0)
		}
		return fmtDate(candidate), true
	}

	if d, ok := parseDayOnly(expr); ok {
		candidate := time.Date(today.Year(), today.Month(), d, 0, 0, 0, 0, today.Location())
		if candidate.Before(today) {
			candidate = candidate.AddDate(0, 1, 0)
		}
		return fmtDate(candidate), true
	}

	return "", false
}

var reMonthDay = regexp.MustCompile(`(\d{1,2})월\s*(\d{1,2})일`)
var reDayOnly = regexp.MustCompile(`(\d{1,2})일`)

func parseMonthDay(expr string) (month, day int, ok bool) {
	m := reMonthDay.FindStringSubmatch(expr)
	if m == nil {
		return 0, 0, false
	}
	mo, _ := strconv.Atoi(m[1])
	da, _ := strconv.Atoi(m[2])
	return mo, da, true
}

func parseDayOnly(expr string) (day int, ok bool) {
	m := reDayOnly.FindStringSubmatch(expr)
	if m == nil {
		return 0, false
	}
	d, _ := strconv.Atoi(m[1])
	return d, true
}

// nextWeekday finds the next occurrence of wd on or after from. When
// forceNextWeek is set (the "다음주" prefix was present), the result is wd's
// day in the following Monday-to-Sunday week, even if wd has not yet
// occurred this week.
func nextWeekday(from time.Time, wd time.Weekday, forceNextWeek bool) time.Time {
	daysAhead := (int(wd) - int(from.Weekday()) + 7) % 7
	candidate := from.AddDate(0, 0, daysAhead)
	// A wd earlier in the week than from already lands in the following week.
	if forceNextWeek && (int(wd)+6)%7 >= (int(from.Weekday())+6)%7 {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}

// ConvertRelativeTime resolves a Korean time-of-day expression to
// "HH:MM". fullUtterance is consulted for AM/PM keyword inference when the
// expression itself is a bare ambiguous numeral.
func ConvertRelativeTime(expr, fullUtterance string) (string, bool) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", false
	}

	switch {
	case strings.Contains(expr, "점심"):
		return "12:00", true
	case strings.Contains(expr, "저녁"):
		return "18:00", true
	case strings.Contains(expr, "아침"):
		return "08:00", true
	case strings.Contains(expr, "새벽"):
		return "06:00", true
	}

	hour, minute, ok := parseHourMinute(expr)
	if !ok {
		return "", false
	}

	if strings.Contains(expr, "오후") || strings.Contains(expr, "저녁") || strings.Contains(expr, "밤") {
		hour = to24Hour(hour, true)
	} else if strings.Contains(expr, "오전") || strings.Contains(expr, "아침") {
		hour = to24Hour(hour, false)
	} else if hour < 12 {
		hour = InferAMPM(hour, fullUtterance)
	}

	return fmt.Sprintf("%02d:%02d", hour, minute), true
}

var reHour = regexp.MustCompile(`(\d{1,2})\s*시`)
var reMinute = regexp.MustCompile(`(\d{1,2})\s*분`)

func parseHourMinute(expr string) (hour, minute int, ok bool) {
	hm := reHour.FindStringSubmatch(expr)
	if hm == nil {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(hm[1])

	if strings.Contains(expr, "반") {
		minute = 30
		return hour, minute, true
	}
	if mm := reMinute.FindStringSubmatch(expr); mm != nil {
		minute, _ = strconv.Atoi(mm[1])
	}
	return hour, minute, true
}

func to24Hour(hour int, pm bool) int {
	if pm {
		if hour < 12 {
			return hour + 12
		}
		return hour
	}
	if hour == 12 {
		return 0
	}
	return hour
}

// InferAMPM infers a 24-hour hour value for a bare numeral without an
// explicit AM/PM qualifier, per the rule shared by the intent extractor and
// the personal agent:
//
//   - hours 1-6 without qualifier are assumed PM (dinner/evening-biased usage)
//   - hours 7-11 are PM if an evening keyword appears anywhere in the
//     utterance, AM otherwise
//   - hour 12 and hours 13-23 are already unambiguous and pass through
func InferAMPM(hour int, fullUtterance string) int {
	if hour == 0 || hour >= 13 {
		return hour
	}
	if hour == 12 {
		return 12
	}
	if hour >= 1 && hour <= 6 {
		return hour + 12
	}
	// hour in [7, 11]
	for _, kw := range eveningKeywords {
		if strings.Contains(fullUtterance, kw) {
			return hour + 12
		}
	}
	for _, kw := range morningKeywords {
		if strings.Contains(fullUtterance, kw) {
			return hour
		}
	}
	return hour
}

func civilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func fmtDate(t time.Time) string {
	return t.Format("2006-01-02")
}
