package sched

import (
	"testing"
	"time"

	"github.com/barelyworkingcode/eve/internal/model"
)

func TestNextFire(t *testing.T) {
	// A fixed reference: Tuesday 2024-03-05 10:30:00 local time.
	now := time.Date(2024, 3, 5, 10, 30, 0, 0, time.Local)

	cases := []struct {
		name     string
		schedule model.Schedule
		want     time.Time
		fallback bool
	}{
		{
			name:     "DailyLaterToday",
			schedule: model.Schedule{Kind: model.ScheduleDaily, Time: "14:00"},
			want:     time.Date(2024, 3, 5, 14, 0, 0, 0, time.Local),
		},
		{
			name:     "DailyAlreadyPassed",
			schedule: model.Schedule{Kind: model.ScheduleDaily, Time: "09:00"},
			want:     time.Date(2024, 3, 6, 9, 0, 0, 0, time.Local),
		},
		{
			name:     "HourlyLaterThisHour",
			schedule: model.Schedule{Kind: model.ScheduleHourly, Minute: 45},
			want:     time.Date(2024, 3, 5, 10, 45, 0, 0, time.Local),
		},
		{
			name:     "HourlyAlreadyPassed",
			schedule: model.Schedule{Kind: model.ScheduleHourly, Minute: 15},
			want:     time.Date(2024, 3, 5, 11, 15, 0, 0, time.Local),
		},
		{
			name:     "Interval",
			schedule: model.Schedule{Kind: model.ScheduleInterval, Minutes: 90},
			want:     now.Add(90 * time.Minute),
		},
		{
			name:     "IntervalFloorsAtOneMinute",
			schedule: model.Schedule{Kind: model.ScheduleInterval, Minutes: 0},
			want:     now.Add(time.Minute),
		},
		{
			name:     "WeeklySameDayLater",
			schedule: model.Schedule{Kind: model.ScheduleWeekly, Weekday: time.Tuesday, Time: "18:00"},
			want:     time.Date(2024, 3, 5, 18, 0, 0, 0, time.Local),
		},
		{
			name:     "WeeklyNextWeek",
			schedule: model.Schedule{Kind: model.ScheduleWeekly, Weekday: time.Monday, Time: "08:00"},
			want:     time.Date(2024, 3, 11, 8, 0, 0, 0, time.Local),
		},
		{
			name:     "CronDaily",
			schedule: model.Schedule{Kind: model.ScheduleCron, Expression: "0 12 * * *"},
			want:     time.Date(2024, 3, 5, 12, 0, 0, 0, time.Local),
		},
		{
			name:     "CronHourly",
			schedule: model.Schedule{Kind: model.ScheduleCron, Expression: "45 * * * *"},
			want:     time.Date(2024, 3, 5, 10, 45, 0, 0, time.Local),
		},
		{
			name:     "CronUnsupportedFallsBack",
			schedule: model.Schedule{Kind: model.ScheduleCron, Expression: "*/5 * * * 1"},
			want:     now.Add(time.Hour),
			fallback: true,
		},
		{
			name:     "CronMalformedFallsBack",
			schedule: model.Schedule{Kind: model.ScheduleCron, Expression: "not cron"},
			want:     now.Add(time.Hour),
			fallback: true,
		},
		{
			name:     "DailyBadClockFallsBack",
			schedule: model.Schedule{Kind: model.ScheduleDaily, Time: "25:99"},
			want:     now.Add(time.Hour),
			fallback: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, fellBack := NextFire(tc.schedule, now)
			if !got.Equal(tc.want) {
				t.Errorf("NextFire = %v, want %v", got, tc.want)
			}
			if fellBack != tc.fallback {
				t.Errorf("fallback = %v, want %v", fellBack, tc.fallback)
			}
			if !got.After(now) {
				t.Errorf("NextFire %v not after now %v", got, now)
			}
		})
	}
}
