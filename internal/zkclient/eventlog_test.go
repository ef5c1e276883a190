package zkclient

import (
	"path/filepath"
	"testing"
)

func TestEventLog_RecordAndReplay(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "events.log")

	log, err := OpenEventLog(logPath)
	if err != nil {
		t.Fatal(err)
	}

	src := NewFake().WithEventLog(log)
	if _, err := src.Create("/jobs", nil, Persistent); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if _, err := src.Create("/jobs/qn-", []byte("payload"), PersistentSequential); err != nil {
			t.Fatal(err)
		}
	}
	if err := src.Set("/jobs", []byte("marker"), -1); err != nil {
		t.Fatal(err)
	}
	children, _, err := src.Children("/jobs", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := src.Delete("/jobs/"+children[0], -1); err != nil {
		t.Fatal(err)
	}
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenEventLog(logPath)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	entries, err := reopened.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	// 1 dir create + 5 child creates + 1 set + 1 delete.
	if len(entries) != 8 {
		t.Fatalf("got %d log entries, want 8", len(entries))
	}

	dst := NewFake()
	if err := Replay(reopened, dst); err != nil {
		t.Fatal(err)
	}

	remaining, _, err := dst.Children("/jobs", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 4 {
		t.Fatalf("got %d children after replay, want 4 (5 created, 1 deleted)", len(remaining))
	}
	for _, name := range remaining {
		if name == children[0] {
			t.Fatalf("replay restored deleted node %q", name)
		}
	}

	data, _, err := dst.Get("/jobs", false)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "marker" {
		t.Fatalf("got dir payload %q, want %q", data, "marker")
	}
}

func TestEventLog_ReplaySkipsCorruptLines(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "events.log")
	log, err := OpenEventLog(logPath)
	if err != nil {
		t.Fatal(err)
	}

	src := NewFake().WithEventLog(log)
	if _, err := src.Create("/jobs", nil, Persistent); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Create("/jobs/qn-", []byte("ok"), PersistentSequential); err != nil {
		t.Fatal(err)
	}
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}

	// Append a corrupt trailing line directly, simulating a torn write.
	f, err := OpenEventLog(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.file.WriteString("{not json\n"); err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	entries, err := f.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 (corrupt trailing line skipped)", len(entries))
	}
}
