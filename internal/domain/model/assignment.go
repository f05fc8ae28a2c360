package model

import "time"

// WorkerAssignment is the lease a worker holds on a running job. A worker
// holds at most one lease; the lease dies with the job or when the
// watchdog decides the worker did.
type WorkerAssignment struct {
	WorkerID   string
	JobID      string
	AssignedAt time.Time
}

// ExpiredAt reports whether the lease has outlived the given timeout at
// instant now.
func (a *WorkerAssignment) ExpiredAt(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	return now.Sub(a.AssignedAt) > timeout
}
