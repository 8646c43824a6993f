// Package clock абстрагирует текущее время, чтобы окна квот и проверку
// свежести callback'ов можно было тестировать детерминированно.
package clock

import (
	"sync"
	"time"
)

// Clock возвращает текущее время.
type Clock interface {
	Now() time.Time
}

// Real — системные часы в UTC.
type Real struct{}

// Now возвращает time.Now в UTC.
func (Real) Now() time.Time { return time.Now().UTC() }

// FakeClock — управляемые часы для тестов.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock создаёт часы, остановленные на t.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

// Now возвращает текущее значение часов.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance сдвигает часы вперёд на d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set переставляет часы на t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}
