package rate

import (
	"context"
	"time"
)

// Decision is the outcome of one sliding-window check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// ResetUnix returns ResetAt as Unix seconds rounded up.
func (d Decision) ResetUnix() int64 {
	return CeilUnix(d.ResetAt)
}

// CeilUnix rounds t up to the next whole Unix second.
func CeilUnix(t time.Time) int64 {
	sec := t.Unix()
	if t.Nanosecond() > 0 {
		sec++
	}
	return sec
}

// Store performs an atomic sliding-window check for subject.
type Store interface {
	Check(ctx context.Context, subject string, limit int, window time.Duration, now time.Time) (Decision, error)
}

func validate(limit int, window time.Duration) error {
	if limit <= 0 || window < time.Millisecond {
		return ErrInvalidLimit
	}
	return nil
}
