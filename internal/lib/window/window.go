// Package window определяет окна подсчёта квот. Окна выровнены по календарю в UTC:
// сутки начинаются в 00:00 UTC, месяц начинается 1-го числа в 00:00 UTC.
package window

import "time"

// StartOfDay возвращает начало суток t в UTC.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// StartOfMonth возвращает начало календарного месяца t в UTC.
func StartOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Bounds — начала дневного и месячного окон для момента времени.
type Bounds struct {
	Day   time.Time
	Month time.Time
}

// At возвращает оба окна для t.
func At(t time.Time) Bounds {
	return Bounds{Day: StartOfDay(t), Month: StartOfMonth(t)}
}
