package zkclient

import (
	"fmt"
	"path/filepath"
	"testing"
)

func TestSnapshotManager_SaveLoadRoundTrip(t *testing.T) {
	snapPath := filepath.Join(t.TempDir(), "snapshot.json")
	mgr := NewSnapshotManager(snapPath)

	src := NewFake()
	if _, err := src.Create("/jobs", nil, Persistent); err != nil {
		t.Fatal(err)
	}
	var last string
	for i := 0; i < 5; i++ {
		p, err := src.Create("/jobs/qn-", []byte(fmt.Sprintf("item-%d", i)), PersistentSequential)
		if err != nil {
			t.Fatal(err)
		}
		last = p
	}

	if err := mgr.Save(src); err != nil {
		t.Fatal(err)
	}

	restored, err := mgr.Load()
	if err != nil {
		t.Fatal(err)
	}

	children, _, err := restored.Children("/jobs", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 5 {
		t.Fatalf("got %d children after restore, want 5", len(children))
	}

	data, _, err := restored.Get(last, false)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "item-4" {
		t.Fatalf("got payload %q, want %q", data, "item-4")
	}
}

func TestSnapshotManager_LoadMissingFileYieldsEmptyConn(t *testing.T) {
	mgr := NewSnapshotManager(filepath.Join(t.TempDir(), "absent.json"))

	conn, err := mgr.Load()
	if err != nil {
		t.Fatal(err)
	}
	children, _, err := conn.Children("/", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 0 {
		t.Fatalf("got %d children on a fresh conn, want 0", len(children))
	}
}

// TestSnapshotManager_LargeFixture builds the 2000-entry interleaved-producer
// style fixture once via plain Creates, snapshots it, and confirms a fresh
// test case can reload it without re-running any Create calls — the
// motivating use case for SnapshotManager.
func TestSnapshotManager_LargeFixture(t *testing.T) {
	snapPath := filepath.Join(t.TempDir(), "large.json")
	mgr := NewSnapshotManager(snapPath)

	const n = 2000
	src := NewFake()
	if _, err := src.Create("/jobs", nil, Persistent); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		if _, err := src.Create("/jobs/qn-", []byte(fmt.Sprintf("p-%05d", i)), PersistentSequential); err != nil {
			t.Fatal(err)
		}
	}
	if err := mgr.Save(src); err != nil {
		t.Fatal(err)
	}

	restored, err := mgr.Load()
	if err != nil {
		t.Fatal(err)
	}
	children, _, err := restored.Children("/jobs", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != n {
		t.Fatalf("got %d children after restore, want %d", len(children), n)
	}
}
