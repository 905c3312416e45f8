// Package job defines the immutable command-plus-expiry record queued by qrun.
package job

import (
	"time"

	"github.com/google/uuid"
)

// Job is one shell command together with its staleness policy. A Job is never
// mutated after New returns it.
type Job struct {
	ID      string
	Command string
	Created time.Time
	// TTL is the number of seconds the job may wait before it is stale.
	// Zero means the job never expires.
	TTL     int
	Expires time.Time
}

// New stamps a job with a fresh identifier and the supplied creation time.
func New(command string, ttl int, now time.Time) Job {
	if ttl < 0 {
		ttl = 0
	}
	j := Job{
		ID:      uuid.NewString(),
		Command: command,
		Created: now,
		TTL:     ttl,
	}
	if ttl > 0 {
		j.Expires = now.Add(time.Duration(ttl) * time.Second)
	}
	return j
}

// Valid reports whether the job may still run at now.
func (j Job) Valid(now time.Time) bool {
	if j.TTL == 0 {
		return true
	}
	return now.Before(j.Expires)
}

// Remaining returns the time left before expiry, or zero for jobs without a TTL
// and for jobs that are already stale.
func (j Job) Remaining(now time.Time) time.Duration {
	if j.TTL == 0 {
		return 0
	}
	left := j.Expires.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// ShortID returns the first eight characters of the job identifier.
func (j Job) ShortID() string {
	if len(j.ID) <= 8 {
		return j.ID
	}
	return j.ID[:8]
}
