// Package scheduler registers recurring and one-shot triggers and hands
// each firing to the task engine. It never runs jobs itself.
//
// Recurring schedules accept a cron expression ("0 */1 * * *", "@hourly"),
// a Go duration ("55m") or an HH:MM interval ("00:50"). One-shot triggers
// back the region watch alerts.
package scheduler
