package sched

import (
	"testing"
	"time"

	"github.com/thingsshell/tshd/internal/imdb"
	"github.com/thingsshell/tshd/internal/platform"
	"github.com/thingsshell/tshd/internal/platform/sim"
)

func TestParseFieldMaskForms(t *testing.T) {
	cases := []struct {
		s        string
		min, max int
		want     []int
	}{
		{"*", 0, 3, []int{0, 1, 2, 3}},
		{"1,3", 0, 5, []int{1, 3}},
		{"2-4", 0, 6, []int{2, 3, 4}},
		{"*/2", 0, 5, []int{0, 2, 4}},
		{"1/3", 0, 7, []int{1, 4, 7}},
	}
	for _, tc := range cases {
		f, err := ParseFieldMask(tc.s, tc.min, tc.max)
		if err != nil {
			t.Fatalf("ParseFieldMask(%q): %v", tc.s, err)
		}
		for v := tc.min; v <= tc.max; v++ {
			want := false
			for _, w := range tc.want {
				if w == v {
					want = true
				}
			}
			if f.Test(v) != want {
				t.Errorf("ParseFieldMask(%q).Test(%d) = %v, want %v", tc.s, v, f.Test(v), want)
			}
		}
	}
}

func TestParseTSEntryRejectsWrongFieldCount(t *testing.T) {
	if _, err := ParseTSEntry("0 * * *"); err != ErrParseError {
		t.Fatalf("want ErrParseError for short field list, got %v", err)
	}
}

func TestNextFireTimeEveryMinute(t *testing.T) {
	e, err := ParseTSEntry("0 */1 * * *")
	if err != nil {
		t.Fatalf("ParseTSEntry: %v", err)
	}
	now := time.Date(2026, 7, 29, 10, 30, 15, 0, time.UTC)
	next := NextFireTime(e, now)
	want := time.Date(2026, 7, 29, 10, 31, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("NextFireTime = %v, want %v", next, want)
	}
}

// TestNextFireTimeSentinelWhenNoMinuteMatches covers spec.md §8's
// boundary behaviour: an entry whose masks exclude every minute never
// fires, and NextFireTime reports the zero-value sentinel rather than
// picking an arbitrary time. ParseFieldMask always sets at least one
// bit for any syntactically valid field, so the all-false mask is
// built directly against the unexported constructor to exercise this
// path, which a hand-authored schedule string can never reach.
func TestNextFireTimeSentinelWhenNoMinuteMatches(t *testing.T) {
	minpart, _ := ParseFieldMask("*", 0, minutePartCount-1)
	hour, _ := ParseFieldMask("*", 0, hourPerDay-1)
	dom, _ := ParseFieldMask("*", 1, dayPerMonth)
	dow, _ := ParseFieldMask("*", 0, dayPerWeek-1)
	e := &TSEntry{MinPart: minpart, Minute: newFieldMask(0, minPerHour-1), Hour: hour, Dom: dom, Dow: dow}

	next := NextFireTime(e, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if !next.IsZero() {
		t.Fatalf("NextFireTime = %v, want zero sentinel", next)
	}
}

func newTestStore(t *testing.T, clock *sim.Clock, evalStmt func(name string) error) *Store {
	t.Helper()
	inst, err := imdb.Init(imdb.Def{BlockSize: 1024})
	if err != nil {
		t.Fatalf("imdb.Init: %v", err)
	}
	if evalStmt == nil {
		evalStmt = func(string) error { return nil }
	}
	store, err := NewStore(inst, nil, clock, nil, nil, evalStmt)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestEntryAddRejectsDuplicate(t *testing.T) {
	clock := sim.NewClock()
	store := newTestStore(t, clock, nil)
	if err := store.EntryAdd("tick", false, "0 */1 * * *", "tick_stmt", nil, 0); err != nil {
		t.Fatalf("EntryAdd: %v", err)
	}
	if err := store.EntryAdd("tick", false, "0 */1 * * *", "tick_stmt", nil, 0); err != ErrEntryExists {
		t.Fatalf("want ErrEntryExists, got %v", err)
	}
}

func TestEntryRemoveUnknown(t *testing.T) {
	clock := sim.NewClock()
	store := newTestStore(t, clock, nil)
	if err := store.EntryRemove("nope"); err != ErrEntryNotExists {
		t.Fatalf("want ErrEntryNotExists, got %v", err)
	}
}

// TestSchedulerTickFiresOncePerMinute mirrors spec.md §8 scenario 5:
// an entry firing at second 0 of every minute runs exactly once per
// minute advanced, with run_count and next_ctime both tracking it.
func TestSchedulerTickFiresOncePerMinute(t *testing.T) {
	clock := sim.NewClock()
	var runs int
	store := newTestStore(t, clock, func(name string) error {
		if name != "tick_stmt" {
			t.Fatalf("unexpected stmt eval: %s", name)
		}
		runs++
		return nil
	})

	if err := store.EntryAdd("tick", false, "0 */1 * * *", "tick_stmt", nil, 0); err != nil {
		t.Fatalf("EntryAdd: %v", err)
	}

	before, err := store.Info("tick")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}

	clock.Advance(60)
	store.Tick(clock.Now())

	after, err := store.Info("tick")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if runs != 1 {
		t.Fatalf("runs = %d, want 1", runs)
	}
	if after.RunCount != before.RunCount+1 {
		t.Fatalf("RunCount = %d, want %d", after.RunCount, before.RunCount+1)
	}
	if after.NextCtime != before.NextCtime+60 {
		t.Fatalf("NextCtime = %d, want %d", after.NextCtime, before.NextCtime+60)
	}
	if after.State != StateQueue {
		t.Fatalf("State = %v, want StateQueue", after.State)
	}
}

func TestSchedulerTickMarksFailedStmt(t *testing.T) {
	clock := sim.NewClock()
	store := newTestStore(t, clock, func(string) error { return ErrStmtError })
	if err := store.EntryAdd("bad", false, "0 */1 * * *", "missing", nil, 0); err != nil {
		t.Fatalf("EntryAdd: %v", err)
	}
	clock.Advance(60)
	store.Tick(clock.Now())
	info, err := store.Info("bad")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.State != StateFailed || info.FailCount != 1 {
		t.Fatalf("info = %+v, want FAILED/FailCount=1", info)
	}
}

func TestEntryRunForcesImmediateDispatch(t *testing.T) {
	clock := sim.NewClock()
	var ran bool
	store := newTestStore(t, clock, func(string) error { ran = true; return nil })
	if err := store.EntryAdd("once", false, "0 0 0 1 *", "stmt", nil, 0); err != nil {
		t.Fatalf("EntryAdd: %v", err)
	}
	if err := store.EntryRun("once"); err != nil {
		t.Fatalf("EntryRun: %v", err)
	}
	if !ran {
		t.Fatalf("EntryRun did not dispatch the bound statement")
	}
}

func TestSignalDispatchesMatchingMask(t *testing.T) {
	clock := sim.NewClock()
	var runs []string
	store := newTestStore(t, clock, func(name string) error { runs = append(runs, name); return nil })
	if err := store.EntryAdd("wake", false, "0 0 0 1 *", "wake_stmt", nil, 1<<2); err != nil {
		t.Fatalf("EntryAdd: %v", err)
	}
	if err := store.EntryAdd("other", false, "0 0 0 1 *", "other_stmt", nil, 1<<5); err != nil {
		t.Fatalf("EntryAdd: %v", err)
	}
	store.Signal(3) // bit 2 == signal 3
	if len(runs) != 1 || runs[0] != "wake_stmt" {
		t.Fatalf("runs = %v, want [wake_stmt]", runs)
	}
}

func TestEntryPersistenceSurvivesRestore(t *testing.T) {
	clock := sim.NewClock()
	flash := sim.NewFlash(64*1024, 1024)
	crc := platform.SoftwareCRC{}
	file, err := imdb.OpenFileStore(flash, crc, 1024)
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}

	inst1, err := imdb.Init(imdb.Def{BlockSize: 1024})
	if err != nil {
		t.Fatalf("imdb.Init: %v", err)
	}
	store1, err := NewStore(inst1, file, clock, nil, nil, func(string) error { return nil })
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store1.EntryAdd("persisted", true, "0 */1 * * *", "stmt", []byte("arg"), 0); err != nil {
		t.Fatalf("EntryAdd: %v", err)
	}
	if err := store1.EntryAdd("ephemeral", false, "0 */1 * * *", "stmt2", nil, 0); err != nil {
		t.Fatalf("EntryAdd: %v", err)
	}
	store1.Close()

	inst2, err := imdb.Init(imdb.Def{BlockSize: 1024})
	if err != nil {
		t.Fatalf("imdb.Init: %v", err)
	}
	store2, err := NewStore(inst2, file, clock, nil, nil, func(string) error { return nil })
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store2.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if _, err := store2.Info("persisted"); err != nil {
		t.Fatalf("persisted entry missing after restore: %v", err)
	}
	if _, err := store2.Info("ephemeral"); err != ErrEntryNotExists {
		t.Fatalf("non-persistent entry should not survive restore, got %v", err)
	}
}
