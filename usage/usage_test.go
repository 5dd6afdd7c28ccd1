package usage

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// fixedClock returns a clock pinned to the given UTC time.
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestDayKeyIsUTCCalendarDate(t *testing.T) {
	t.Parallel()

	// 2025-06-01 23:30 in UTC+10 is still 2025-06-01 13:30 UTC.
	loc := time.FixedZone("UTC+10", 10*60*60)
	l := NewLedger(WithClock(fixedClock(time.Date(2025, 6, 1, 23, 30, 0, 0, loc))))

	if got := l.DayKey(); got != "2025-06-01" {
		t.Errorf("DayKey() = %q, want %q", got, "2025-06-01")
	}
}

func TestGetOrInitCreatesFreshRecord(t *testing.T) {
	t.Parallel()

	l := NewLedger(WithClock(fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))))

	rec := l.GetOrInit("client-a")
	if rec.DayKey != "2025-06-01" {
		t.Errorf("DayKey = %q, want %q", rec.DayKey, "2025-06-01")
	}
	if rec.Count != 0 {
		t.Errorf("Count = %d, want 0", rec.Count)
	}
}

func TestRolloverResetsCountOnRead(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	l := NewLedger(WithClock(clock))

	// Consume two exports under yesterday's key.
	l.RecordExport("client-a")
	l.RecordExport("client-a")
	if rec := l.GetOrInit("client-a"); rec.Count != 2 {
		t.Fatalf("Count = %d, want 2", rec.Count)
	}

	// Cross the UTC day boundary.
	mu.Lock()
	now = now.Add(24 * time.Hour)
	mu.Unlock()

	rec := l.GetOrInit("client-a")
	if rec.DayKey != "2025-06-02" {
		t.Errorf("DayKey = %q, want %q", rec.DayKey, "2025-06-02")
	}
	if rec.Count != 0 {
		t.Errorf("Count = %d after rollover, want 0", rec.Count)
	}
}

func TestRemaining(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		exports int
		max     int
		want    int
	}{
		{name: "untouched", exports: 0, max: 3, want: 3},
		{name: "partial", exports: 1, max: 3, want: 2},
		{name: "exhausted", exports: 3, max: 3, want: 0},
		{name: "over limit clamps to zero", exports: 5, max: 3, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			l := NewLedger(WithClock(fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))))
			for range tt.exports {
				l.RecordExport("client-a")
			}
			if got := l.Remaining("client-a", tt.max); got != tt.want {
				t.Errorf("Remaining() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestClientsAreIndependent(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	l.RecordExport("client-a")

	if got := l.Remaining("client-b", 3); got != 3 {
		t.Errorf("Remaining(client-b) = %d, want 3", got)
	}
}

func TestConcurrentRecordExport(t *testing.T) {
	t.Parallel()

	l := NewLedger(WithClock(fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))))

	const workers = 16
	const perWorker = 25

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				l.RecordExport("shared")
			}
		}()
	}
	wg.Wait()

	if rec := l.GetOrInit("shared"); rec.Count != workers*perWorker {
		t.Errorf("Count = %d, want %d", rec.Count, workers*perWorker)
	}
}

func TestWithStoreInjection(t *testing.T) {
	t.Parallel()

	store := &recordingStore{records: make(map[string]Record)}
	l := NewLedger(WithStore(store))

	l.RecordExport("client-a")

	if store.puts == 0 {
		t.Error("expected injected store to receive writes")
	}
}

type recordingStore struct {
	records map[string]Record
	puts    int
}

func (s *recordingStore) Get(clientID string) (Record, bool) {
	rec, ok := s.records[clientID]
	return rec, ok
}

func (s *recordingStore) Put(clientID string, rec Record) {
	s.puts++
	s.records[clientID] = rec
}

func ExampleLedger_Remaining() {
	l := NewLedger()
	l.RecordExport("client-a")
	fmt.Println(l.Remaining("client-a", 3))
	// Output: 2
}
