package scheduler

import (
	"time"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/models"
)

// ComputeNextRunAt returns the first firing time strictly after now.
//
// daily: the configured hour/minute, tomorrow if today's slot has passed.
// every_6h/every_12h: the next slot on the grid anchored at hour/minute.
// weekly: the configured weekday at hour/minute, a full week forward if
// this week's slot has passed. A slot exactly at now counts as passed.
func ComputeNextRunAt(s *models.SyncSchedule, now time.Time) time.Time {
	anchor := time.Date(now.Year(), now.Month(), now.Day(), s.Hour, s.Minute, 0, 0, now.Location())

	switch s.Frequency {
	case models.FrequencyEvery6h, models.FrequencyEvery12h:
		interval := 6 * time.Hour
		if s.Frequency == models.FrequencyEvery12h {
			interval = 12 * time.Hour
		}
		slot := anchor
		// Slots repeat on the interval grid; walk back so the scan also
		// covers grid points before today's anchor.
		if slot.After(now) {
			slot = slot.Add(-24 * time.Hour)
		}
		for !slot.After(now) {
			slot = slot.Add(interval)
		}
		return slot

	case models.FrequencyWeekly:
		days := (s.DayOfWeek - int(now.Weekday()) + 7) % 7
		target := anchor.AddDate(0, 0, days)
		if !target.After(now) {
			target = target.AddDate(0, 0, 7)
		}
		return target

	default: // daily
		if anchor.After(now) {
			return anchor
		}
		return anchor.AddDate(0, 0, 1)
	}
}
