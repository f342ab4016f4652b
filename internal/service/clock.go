package service

import "time"

// Clock источник текущего времени
type Clock interface {
	Now() time.Time
}

// RealClock системные часы в UTC
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }
