// Package ledger enforces "at most one attendance record per person per
// calendar day". Uniqueness is not checked in process: the underlying store
// carries a unique key on (token, day) and the insert itself reports whether
// a row was created, so concurrent writers cannot race a check-then-insert.
package ledger

import (
	"context"
	"fmt"

	"time"

	"github.com/your-org/faceroll/internal/models"
	"github.com/your-org/faceroll/internal/observability"
)

// Store is the persistence boundary the ledger writes through.
// InsertAttendance returns false without error when a record for the same
// (token, day) already exists.
type Store interface {
	InsertAttendance(ctx context.Context, rec models.AttendanceRecord) (inserted bool, err error)
}

// Outcome reports what TryMark did.
type Outcome int

const (
	Inserted Outcome = iota
	AlreadyPresent
)

func (o Outcome) String() string {
	if o == Inserted {
		return "inserted"
	}
	return "already_present"
}

// Result carries the outcome plus the record as written (or as it would
// have been written, for AlreadyPresent).
type Result struct {
	Outcome Outcome
	Record  models.AttendanceRecord
}

// Ledger assigns On Time/Late from the cutoff and performs the idempotent
// daily insert.
type Ledger struct {
	store  Store
	cutoff string // "15:04:05"; a mark at exactly this time is still on time
}

func New(store Store, cutoff string) (*Ledger, error) {
	if _, err := time.Parse(models.ClockFormat, cutoff); err != nil {
		return nil, fmt.Errorf("invalid late cutoff %q: %w", cutoff, err)
	}
	return &Ledger{store: store, cutoff: cutoff}, nil
}

// TryMark records attendance for the calendar day of now. The first call of
// the day inserts; every later call for the same person and day returns
// AlreadyPresent and writes nothing, no matter how fast the frame loop
// retries.
func (l *Ledger) TryMark(ctx context.Context, tokenNo, name string, now time.Time) (Result, error) {
	rec := models.NewAttendanceRecord(tokenNo, name, now, l.cutoff)

	inserted, err := l.store.InsertAttendance(ctx, rec)
	if err != nil {
		observability.LedgerWriteFailures.Inc()
		return Result{}, fmt.Errorf("insert attendance %s/%s: %w", tokenNo, rec.Day, err)
	}
	if !inserted {
		observability.AttendanceDuplicates.Inc()
		return Result{Outcome: AlreadyPresent, Record: rec}, nil
	}
	observability.AttendanceMarked.WithLabelValues(string(rec.Status)).Inc()
	return Result{Outcome: Inserted, Record: rec}, nil
}
