package sched

import (
	"strconv"
	"strings"
	"time"

	"github.com/barelyworkingcode/eve/internal/model"
)

// cronFallback is used for cron expressions outside the supported
// subset ("m h * * *" and "m * * * *").
const cronFallback = time.Hour

// NextFire computes when a schedule next fires after now. fallback is
// true when a cron expression was outside the supported subset and the
// one-hour default applied.
func NextFire(s model.Schedule, now time.Time) (next time.Time, fallback bool) {
	switch s.Kind {
	case model.ScheduleDaily:
		hour, minute, err := s.ParseClock()
		if err != nil {
			return now.Add(cronFallback), true
		}
		return nextDaily(now, hour, minute), false

	case model.ScheduleHourly:
		return nextHourly(now, s.Minute), false

	case model.ScheduleInterval:
		minutes := s.Minutes
		if minutes < 1 {
			minutes = 1
		}
		return now.Add(time.Duration(minutes) * time.Minute), false

	case model.ScheduleWeekly:
		hour, minute, err := s.ParseClock()
		if err != nil {
			return now.Add(cronFallback), true
		}
		next := nextDaily(now, hour, minute)
		for next.Weekday() != s.Weekday {
			next = next.AddDate(0, 0, 1)
		}
		return next, false

	case model.ScheduleCron:
		return nextCron(now, s.Expression)

	default:
		return now.Add(cronFallback), true
	}
}

// nextCron handles the supported cron subset. "m h * * *" is a daily
// schedule, "m * * * *" an hourly one; anything else falls back to one
// hour out.
func nextCron(now time.Time, expr string) (time.Time, bool) {
	fields := strings.Fields(expr)
	if len(fields) != 5 || fields[2] != "*" || fields[3] != "*" || fields[4] != "*" {
		return now.Add(cronFallback), true
	}

	minute, err := strconv.Atoi(fields[0])
	if err != nil || minute < 0 || minute > 59 {
		return now.Add(cronFallback), true
	}

	if fields[1] == "*" {
		return nextHourly(now, minute), false
	}

	hour, err := strconv.Atoi(fields[1])
	if err != nil || hour < 0 || hour > 23 {
		return now.Add(cronFallback), true
	}
	return nextDaily(now, hour, minute), false
}

func nextDaily(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func nextHourly(now time.Time, minute int) time.Time {
	if minute < 0 || minute > 59 {
		minute = 0
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(time.Hour)
	}
	return next
}
