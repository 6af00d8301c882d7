package datasource

import (
	"strings"
	"testing"
)

const csvData = "id,name,active,score\n1,alice,true,9.5\n2,bob,false,7\n3,carol,true,8.25\n"

func mustLoad(t *testing.T, strategy Strategy) *Source {
	t.Helper()
	s, err := Load("users", strings.NewReader(csvData), 0, strategy)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	return s
}

func TestAutomaticTyping(t *testing.T) {
	s := mustLoad(t, Shared)
	row, err := s.GetRow(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row["id"] != int64(1) {
		t.Fatalf("expected id to be typed as int64, got %T %v", row["id"], row["id"])
	}
	if row["score"] != 9.5 {
		t.Fatalf("expected score to be typed as float64, got %T %v", row["score"], row["score"])
	}
	if row["active"] != true {
		t.Fatalf("expected active to be typed as bool, got %T %v", row["active"], row["active"])
	}
	if row["name"] != "alice" {
		t.Fatalf("expected name to remain a string, got %T %v", row["name"], row["name"])
	}
}

func TestSequentialWrapsModuloRowCount(t *testing.T) {
	s := mustLoad(t, Sequential)
	row, _ := s.GetRow(3) // 3 rows, user 3 -> index 0
	if row["name"] != "alice" {
		t.Fatalf("expected sequential wraparound to row 0, got %v", row["name"])
	}
}

func TestSharedAlwaysReturnsRowZero(t *testing.T) {
	s := mustLoad(t, Shared)
	for userID := 0; userID < 5; userID++ {
		row, err := s.GetRow(userID)
		if err != nil || row["name"] != "alice" {
			t.Fatalf("expected shared to always return row 0, got %v err=%v", row, err)
		}
	}
}

func TestCircularAdvancesGlobally(t *testing.T) {
	s := mustLoad(t, Circular)
	var names []string
	for i := 0; i < 4; i++ {
		row, err := s.GetRow(0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		names = append(names, row["name"].(string))
	}
	want := []string{"alice", "bob", "carol", "alice"}
	for i, n := range names {
		if n != want[i] {
			t.Fatalf("circular sequence mismatch at %d: got %v want %v", i, names, want)
		}
	}
}

func TestUniqueExhaustsThenFails(t *testing.T) {
	s := mustLoad(t, Unique)
	for i := 0; i < 3; i++ {
		if _, err := s.GetRow(0); err != nil {
			t.Fatalf("unexpected error on row %d: %v", i, err)
		}
	}
	if _, err := s.GetRow(0); err != ErrExhausted {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if !s.Exhausted() {
		t.Fatalf("expected source to report exhausted")
	}
}

func TestManagerGetRowUnknownSource(t *testing.T) {
	m := NewManager()
	if _, err := m.GetRow(0, "missing"); err == nil {
		t.Fatalf("expected an error for an unknown source")
	}
}

func TestManagerGetRowKnownSource(t *testing.T) {
	m := NewManager()
	m.Add(mustLoad(t, Sequential))
	row, err := m.GetRow(0, "users")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row["name"] != "alice" {
		t.Fatalf("expected alice, got %v", row["name"])
	}
}
