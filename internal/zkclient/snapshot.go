package zkclient

import (
	"encoding/json"
	"os"
	"path"
)

// fakeNodeView is the serializable projection of a fakeNode used by
// Snapshot/Restore — it drops the session-ownership bookkeeping that only
// makes sense for a live FakeConn.
type fakeNodeView struct {
	Data      []byte `json:"data"`
	Version   int32  `json:"version"`
	Ephemeral bool   `json:"ephemeral"`
}

// SnapshotManager saves and loads a point-in-time copy of a FakeConn's node
// tree, the same tmp-file-then-rename idiom the teacher's
// store.SnapshotManager uses for the KV engine's disk snapshots — applied
// here to a large fixed fixture (e.g. a pre-populated 2000-entry queue
// directory) so a test suite can build it once and reload it instead of
// re-running thousands of Create calls per test.
type SnapshotManager struct {
	path string
}

func NewSnapshotManager(path string) *SnapshotManager {
	return &SnapshotManager{path: path}
}

// Save writes conn's entire node tree to the snapshot file.
func (m *SnapshotManager) Save(conn *FakeConn) error {
	conn.mu.Lock()
	view := conn.dumpLocked()
	conn.mu.Unlock()

	data, err := json.Marshal(view)
	if err != nil {
		return err
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}

// Load reads the snapshot file (if present) and returns a FakeConn
// pre-populated with its contents. A missing file is not an error; it
// yields a fresh, empty FakeConn.
func (m *SnapshotManager) Load() (*FakeConn, error) {
	conn := NewFake()

	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return conn, nil
	}
	if err != nil {
		return nil, err
	}

	var view map[string]fakeNodeView
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, err
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	for p, nv := range view {
		if p == "/" {
			continue
		}
		conn.nodes[p] = &fakeNode{data: nv.Data, version: nv.Version, ephemeral: nv.Ephemeral}
		if conn.kids[p] == nil {
			conn.kids[p] = map[string]bool{}
		}
	}
	for p := range view {
		if p == "/" {
			continue
		}
		parent := path.Dir(p)
		if conn.kids[parent] == nil {
			conn.kids[parent] = map[string]bool{}
		}
		conn.kids[parent][path.Base(p)] = true
	}
	return conn, nil
}
