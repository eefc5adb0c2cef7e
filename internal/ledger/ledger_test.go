package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/your-org/faceroll/internal/models"
)

// memStore mimics the database's unique (token, day) key in memory.
type memStore struct {
	mu      sync.Mutex
	rows    map[string]models.AttendanceRecord // key: token|day
	failErr error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]models.AttendanceRecord)}
}

func (s *memStore) InsertAttendance(_ context.Context, rec models.AttendanceRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return false, s.failErr
	}
	key := rec.TokenNo + "|" + rec.Day
	if _, exists := s.rows[key]; exists {
		return false, nil
	}
	s.rows[key] = rec
	return true, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func mustLedger(t *testing.T, store Store) *Ledger {
	t.Helper()
	l, err := New(store, "09:15:00")
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestTryMarkIdempotentPerDay(t *testing.T) {
	store := newMemStore()
	l := mustLedger(t, store)
	ctx := context.Background()

	t1 := time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC)
	t2 := t1.Add(2 * time.Hour)

	res, err := l.TryMark(ctx, "42", "Alice", t1)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Inserted {
		t.Fatalf("first mark = %v, want Inserted", res.Outcome)
	}

	res, err = l.TryMark(ctx, "42", "Alice", t2)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != AlreadyPresent {
		t.Fatalf("second mark same day = %v, want AlreadyPresent", res.Outcome)
	}
	if store.count() != 1 {
		t.Fatalf("store has %d rows, want exactly 1", store.count())
	}
}

func TestTryMarkNewDayInsertsAgain(t *testing.T) {
	store := newMemStore()
	l := mustLedger(t, store)
	ctx := context.Background()

	day1 := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	if res, _ := l.TryMark(ctx, "42", "Alice", day1); res.Outcome != Inserted {
		t.Fatal("day 1 should insert")
	}
	if res, _ := l.TryMark(ctx, "42", "Alice", day2); res.Outcome != Inserted {
		t.Fatal("day 2 should insert")
	}
	if store.count() != 2 {
		t.Fatalf("store has %d rows, want 2", store.count())
	}
}

func TestStatusBoundary(t *testing.T) {
	cases := []struct {
		name string
		at   time.Time
		want models.Status
	}{
		{"well before cutoff", time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC), models.StatusOnTime},
		{"exactly at cutoff", time.Date(2025, 3, 10, 9, 15, 0, 0, time.UTC), models.StatusOnTime},
		{"one second late", time.Date(2025, 3, 10, 9, 15, 1, 0, time.UTC), models.StatusLate},
		{"afternoon", time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC), models.StatusLate},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			l := mustLedger(t, newMemStore())
			res, err := l.TryMark(context.Background(), "7", "Bob", c.at)
			if err != nil {
				t.Fatal(err)
			}
			if res.Record.Status != c.want {
				t.Errorf("status at %s = %q, want %q", c.at.Format("15:04:05"), res.Record.Status, c.want)
			}
		})
	}
}

func TestTryMarkDistinctPeopleSameDay(t *testing.T) {
	store := newMemStore()
	l := mustLedger(t, store)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	for _, token := range []string{"1", "2", "3"} {
		res, err := l.TryMark(context.Background(), token, "N"+token, now)
		if err != nil || res.Outcome != Inserted {
			t.Fatalf("token %s: res=%v err=%v", token, res.Outcome, err)
		}
	}
	if store.count() != 3 {
		t.Fatalf("store has %d rows, want 3", store.count())
	}
}

func TestTryMarkStoreFailureSurfaced(t *testing.T) {
	store := newMemStore()
	store.failErr = errors.New("connection refused")
	l := mustLedger(t, store)

	_, err := l.TryMark(context.Background(), "42", "Alice", time.Now())
	if err == nil {
		t.Fatal("want error from failing store")
	}
	if !errors.Is(err, store.failErr) {
		t.Errorf("error %v does not wrap store error", err)
	}
}

func TestTryMarkConcurrentCallersOneRow(t *testing.T) {
	store := newMemStore()
	l := mustLedger(t, store)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	inserted := make(chan Outcome, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.TryMark(context.Background(), "42", "Alice", now)
			if err == nil {
				inserted <- res.Outcome
			}
		}()
	}
	wg.Wait()
	close(inserted)

	wins := 0
	for o := range inserted {
		if o == Inserted {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("Inserted outcomes = %d, want exactly 1", wins)
	}
	if store.count() != 1 {
		t.Errorf("store has %d rows, want 1", store.count())
	}
}

func TestNewRejectsBadCutoff(t *testing.T) {
	if _, err := New(newMemStore(), "9:15"); err == nil {
		t.Error("want error for malformed cutoff")
	}
}
