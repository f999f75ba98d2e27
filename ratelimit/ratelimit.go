// Package ratelimit admits or rejects submissions based on a sliding window
// over persisted note history. There is no in-process counting: the backing
// store is the single source of truth so that the limit holds across
// instances.
package ratelimit

import (
	"time"

	log "github.com/sirupsen/logrus"

	se "fanwall.io/notes/errors"
)

// History vends the recent-submission count for a hashed identifier. The note
// store implements it; rate-limit records are just a view over note history.
type History interface {
	CountSince(hashedID string, since time.Time) (int, *se.Err)
}

type Limiter struct {
	History History
	// Window is the sliding interval and Max the number of notes admitted
	// within it
	Window time.Duration
	Max    int
}

func New(h History, window time.Duration, max int) *Limiter {
	return &Limiter{History: h, Window: window, Max: max}
}

// Allow reports whether another note from hashedID fits the window. Fail
// closed: if history cannot be consulted the request is denied, never admitted.
func (l *Limiter) Allow(hashedID string) bool {
	since := time.Now().Add(-l.Window)
	cnt, err := l.History.CountSince(hashedID, since)
	if err != nil {
		log.WithError(err).WithField("hashedID", hashedID).Error("error counting recent notes. Denying request")
		return false
	}
	return cnt < l.Max
}
