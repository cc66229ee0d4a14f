package storage

import (
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/spool/pkg/session"
	"github.com/papercomputeco/spool/pkg/state"
)

// Timestamps are persisted as unix microseconds in every backend.
const timestampPrecision = time.Microsecond

// ValidateIdentity wraps identity validation in the error taxonomy.
func ValidateIdentity(op string, id session.Identity) error {
	if err := id.Validate(); err != nil {
		return Invalid(op, err)
	}
	return nil
}

// NormalizeState validates a caller-supplied state or delta.
func NormalizeState(op string, s state.State) (state.State, error) {
	out, err := state.Normalize(s)
	if err != nil {
		return nil, Invalid(op, err)
	}
	return out, nil
}

// PrepareEvent validates ev and returns the copy a backend should persist:
// id assigned when missing, delta normalized and timestamp fixed. The
// timestamp defaults to now and never precedes last, the timestamp of the
// session's most recent event, so timestamp order and insertion order agree.
func PrepareEvent(op string, ev *session.Event, last, now time.Time) (*session.Event, error) {
	if err := ev.Validate(); err != nil {
		return nil, Invalid(op, err)
	}
	out := ev.Clone()
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.StateDelta != nil {
		delta, err := NormalizeState(op, out.StateDelta)
		if err != nil {
			return nil, err
		}
		out.StateDelta = delta
	}

	ts := out.Timestamp
	if ts.IsZero() {
		ts = now
	}
	ts = Timestamp(ts)
	if last = Timestamp(last); ts.Before(last) {
		ts = last
	}
	out.Timestamp = ts
	out.Seq = 0
	return out, nil
}

// Timestamp truncates t to the persisted precision in UTC.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(timestampPrecision)
}

// UnixMicro converts a persisted integer timestamp back to a time.
func UnixMicro(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}
