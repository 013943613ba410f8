package idxhash

import "testing"

func TestAddSearchRemove(t *testing.T) {
	m := New(8, 32, NulTerminated, Variable)
	val, err := m.Add([]byte("alpha"), 4)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	copy(val, []byte{1, 2, 3, 4})

	got, ok := m.Search([]byte("alpha"))
	if !ok {
		t.Fatalf("Search: not found")
	}
	if got[0] != 1 || got[3] != 4 {
		t.Fatalf("unexpected value: %v", got)
	}

	if err := m.Remove([]byte("alpha")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := m.Search([]byte("alpha")); ok {
		t.Fatalf("expected key gone after Remove")
	}
	if err := m.Remove([]byte("alpha")); err != ErrNotFound {
		t.Fatalf("want ErrNotFound on double remove, got %v", err)
	}
}

func TestAddRejectsDuplicateKey(t *testing.T) {
	m := New(8, 32, NulTerminated, Variable)
	if _, err := m.Add([]byte("k"), 1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := m.Add([]byte("k"), 1); err != ErrExists {
		t.Fatalf("want ErrExists, got %v", err)
	}
}

func TestV2Key(t *testing.T) {
	m := New(8, 32, NulTerminated, Variable)
	val, err := m.Add([]byte("beta"), 2)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	key, ok := m.V2Key(val)
	if !ok || string(key) != "beta" {
		t.Fatalf("V2Key: got %q, %v", key, ok)
	}
}

func TestForallInsertionOrder(t *testing.T) {
	m := New(4, 32, NulTerminated, Variable)
	order := []string{"one", "two", "three", "four"}
	for _, k := range order {
		if _, err := m.Add([]byte(k), 0); err != nil {
			t.Fatalf("Add(%s): %v", k, err)
		}
	}
	var seen []string
	err := m.Forall(func(key, value []byte) error {
		seen = append(seen, string(key))
		return nil
	})
	if err != nil {
		t.Fatalf("Forall: %v", err)
	}
	if len(seen) != len(order) {
		t.Fatalf("want %d entries, got %d", len(order), len(seen))
	}
	for i, k := range order {
		if seen[i] != k {
			t.Fatalf("index %d: want %s, got %s", i, k, seen[i])
		}
	}
}

// TestCompactionPreservesOrder exercises the overflow-full compaction
// path: fill the overflow area exactly, delete every other entry, add
// one more (forcing a compaction), and confirm surviving keys are
// still visited in first-seen order.
func TestCompactionPreservesOrder(t *testing.T) {
	m := New(4, 4, NulTerminated, Variable)
	for i, k := range []string{"a", "b", "c", "d"} {
		if _, err := m.Add([]byte(k), 0); err != nil {
			t.Fatalf("Add %d: %v", i, err)
		}
	}
	if err := m.Remove([]byte("b")); err != nil {
		t.Fatalf("Remove b: %v", err)
	}
	if err := m.Remove([]byte("d")); err != nil {
		t.Fatalf("Remove d: %v", err)
	}
	if _, err := m.Add([]byte("e"), 0); err != nil {
		t.Fatalf("Add e after compaction: %v", err)
	}

	var seen []string
	m.Forall(func(key, value []byte) error {
		seen = append(seen, string(key))
		return nil
	})
	want := []string{"a", "c", "e"}
	if len(seen) != len(want) {
		t.Fatalf("want %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("want %v, got %v", want, seen)
		}
	}
}
