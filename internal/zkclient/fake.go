package zkclient

import (
	"fmt"
	"path"
	"sort"
	"sync"
)

// fakeNode is one node in the in-memory tree.
type fakeNode struct {
	data      []byte
	version   int32
	ephemeral bool
	ownerSess int64
	seqNext   int64 // next sequential suffix to hand out to a child of this node
}

// FakeConn is an in-memory Conn used by the queue package's tests and by
// any harness that wants coordination-service semantics (ordered sequential
// children, ephemeral lifetimes, one-shot watches, atomic multi-delete)
// without a live ZooKeeper ensemble. It plays the role the teacher's
// internal/store.Store plays for the KV engine, generalized here to model
// the coordination service instead of the payload storage itself.
//
// Each FakeConn models exactly one client session: ephemeral nodes it
// creates disappear when ExpireSession or Close is called, mirroring what
// happens to a real ZooKeeper session on disconnect.
type FakeConn struct {
	mu     *sync.Mutex // shared by every session over the same tree
	nodes  map[string]*fakeNode
	kids   map[string]map[string]bool // parent path -> set of child names
	cWatch map[string][]chan Event    // children watches by path
	dWatch map[string][]chan Event    // data watches by path
	sessID int64
	sessCh chan Event
	closed bool
	log    *EventLog // optional durability/replay log, nil if unused

	dropChildWatch map[string]bool // paths whose next children-watch fire is discarded
}

// NewFake creates an empty FakeConn as session 1. Tests that want to model
// independent clients create further FakeConns over the SAME backing tree
// via NewFakeSession.
func NewFake() *FakeConn {
	c := &FakeConn{
		mu:             &sync.Mutex{},
		nodes:          map[string]*fakeNode{"/": {}},
		kids:           map[string]map[string]bool{"/": {}},
		cWatch:         map[string][]chan Event{},
		dWatch:         map[string][]chan Event{},
		sessID:         1,
		sessCh:         make(chan Event, 16),
		dropChildWatch: map[string]bool{},
	}
	return c
}

// NewFakeSession returns a new FakeConn sharing the same backing tree but
// with a distinct session identity, so its ephemeral nodes are tracked and
// torn down independently of the parent's. The new session's identity is
// the parent's plus one, so sessions derived from the same parent share an
// identity with each other. Useful for simulating multiple RRQ submitters
// against one fake ensemble.
func (c *FakeConn) NewFakeSession() *FakeConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &FakeConn{
		mu:             c.mu,
		nodes:          c.nodes,
		kids:           c.kids,
		cWatch:         c.cWatch,
		dWatch:         c.dWatch,
		sessID:         c.sessID + 1,
		sessCh:         make(chan Event, 16),
		log:            c.log,
		dropChildWatch: c.dropChildWatch,
	}
}

// WithEventLog attaches an append-only log that records every mutation,
// for test harnesses that want to replay a fixture deterministically.
func (c *FakeConn) WithEventLog(l *EventLog) *FakeConn {
	c.log = l
	return c
}

// DropNextChildrenWatch makes the next children-watch fire on p deliver to
// no one: every watcher outstanding at that moment is torn down without
// ever receiving an event, simulating a notification the network lost.
// Used by tests that must show a bounded-wakeup fallback (rather than the
// watch itself) is what notices a missed change.
func (c *FakeConn) DropNextChildrenWatch(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropChildWatch[p] = true
}

func (c *FakeConn) ensureParentLocked(parent string) error {
	if _, ok := c.nodes[parent]; !ok {
		return ErrNoNode
	}
	return nil
}

func (c *FakeConn) Create(p string, data []byte, mode CreateMode) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrClosed
	}

	parent := path.Dir(p)
	if err := c.ensureParentLocked(parent); err != nil {
		return "", err
	}

	actual := p
	if mode == PersistentSequential || mode == EphemeralSequential {
		pn := c.nodes[parent]
		seq := pn.seqNext
		pn.seqNext++
		actual = fmt.Sprintf("%s%010d", p, seq)
	} else if _, exists := c.nodes[p]; exists {
		return "", ErrNodeExists
	}

	n := &fakeNode{data: append([]byte(nil), data...)}
	if mode == Ephemeral || mode == EphemeralSequential {
		n.ephemeral = true
		n.ownerSess = c.sessID
	}
	c.nodes[actual] = n
	if c.kids[actual] == nil {
		c.kids[actual] = map[string]bool{}
	}
	if c.kids[parent] == nil {
		c.kids[parent] = map[string]bool{}
	}
	c.kids[parent][path.Base(actual)] = true

	if c.log != nil {
		c.log.record(logEntry{Op: "create", Path: actual, Data: n.data})
	}

	c.fireChildren(parent)
	return actual, nil
}

func (c *FakeConn) Children(p string, watch bool) ([]string, <-chan Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, ErrClosed
	}
	if _, ok := c.nodes[p]; !ok {
		return nil, nil, ErrNoNode
	}

	names := make([]string, 0, len(c.kids[p]))
	for name := range c.kids[p] {
		names = append(names, name)
	}
	sort.Strings(names)

	if !watch {
		return names, nil, nil
	}
	ch := make(chan Event, 8)
	c.cWatch[p] = append(c.cWatch[p], ch)
	return names, ch, nil
}

func (c *FakeConn) Get(p string, watch bool) ([]byte, <-chan Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, ErrClosed
	}
	n, ok := c.nodes[p]
	if !ok {
		return nil, nil, ErrNoNode
	}
	data := append([]byte(nil), n.data...)

	if !watch {
		return data, nil, nil
	}
	ch := make(chan Event, 8)
	c.dWatch[p] = append(c.dWatch[p], ch)
	return data, ch, nil
}

func (c *FakeConn) Set(p string, data []byte, version int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	n, ok := c.nodes[p]
	if !ok {
		return ErrNoNode
	}
	if version != -1 && version != n.version {
		return ErrBadVersion
	}
	n.data = append([]byte(nil), data...)
	n.version++

	if c.log != nil {
		c.log.record(logEntry{Op: "set", Path: p, Data: n.data})
	}

	c.fireData(p, EventNodeDataChanged)
	return nil
}

func (c *FakeConn) Delete(p string, version int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteLocked(p, version)
}

func (c *FakeConn) deleteLocked(p string, version int32) error {
	if c.closed {
		return ErrClosed
	}
	n, ok := c.nodes[p]
	if !ok {
		return ErrNoNode
	}
	if version != -1 && version != n.version {
		return ErrBadVersion
	}

	delete(c.nodes, p)
	delete(c.kids, p)
	parent := path.Dir(p)
	if set := c.kids[parent]; set != nil {
		delete(set, path.Base(p))
	}

	if c.log != nil {
		c.log.record(logEntry{Op: "delete", Path: p})
	}

	c.fireData(p, EventNodeDeleted)
	c.fireChildren(parent)
	return nil
}

func (c *FakeConn) Multi(ops ...DeleteOp) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	// Pre-flight: every target must exist with a matching version, or the
	// whole batch is rejected (spec's "rejects a multi-op wholesale on any
	// failed sub-op").
	for _, op := range ops {
		n, ok := c.nodes[op.Path]
		if !ok {
			return fmt.Errorf("%w: %s: %v", ErrMultiFailed, op.Path, ErrNoNode)
		}
		if op.Version != -1 && op.Version != n.version {
			return fmt.Errorf("%w: %s: %v", ErrMultiFailed, op.Path, ErrBadVersion)
		}
	}
	for _, op := range ops {
		_ = c.deleteLocked(op.Path, op.Version)
	}
	return nil
}

func (c *FakeConn) ExistsChildren(p string) (bool, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, 0, ErrClosed
	}
	if _, ok := c.nodes[p]; !ok {
		return false, 0, nil
	}
	return true, len(c.kids[p]), nil
}

func (c *FakeConn) SessionEvents() <-chan Event {
	return c.sessCh
}

// ExpireSession simulates this session's coordination-service session
// ending: every ephemeral node it owns is removed (firing watches), and a
// StateExpired session event is delivered. Lets a harness exercise
// session-expiry propagation without a real network partition; lost watch
// deliveries are simulated separately by DropNextChildrenWatch.
func (c *FakeConn) ExpireSession() {
	c.mu.Lock()
	var owned []string
	for p, n := range c.nodes {
		if n.ephemeral && n.ownerSess == c.sessID {
			owned = append(owned, p)
		}
	}
	c.mu.Unlock()

	for _, p := range owned {
		_ = c.Delete(p, -1)
	}

	c.broadcastSessionEvent(Event{Type: EventSession, State: StateExpired})
}

// broadcastSessionEvent delivers a bare session-state event to every
// outstanding watch channel WITHOUT consuming the watch (the channels stay
// registered; only a genuine child/data/delete event closes them) — this is
// the behavior spec.md's watcher discipline requires ("a session-state
// event fires the watcher without consuming the watch and must be ignored
// without re-fetch").
func (c *FakeConn) broadcastSessionEvent(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case c.sessCh <- ev:
	default:
	}
	for _, chans := range c.cWatch {
		for _, ch := range chans {
			select {
			case ch <- ev:
			default:
			}
		}
	}
	for _, chans := range c.dWatch {
		for _, ch := range chans {
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.sessCh)
	return nil
}

func (c *FakeConn) fireChildren(p string) {
	watchers := c.cWatch[p]
	delete(c.cWatch, p)

	if c.dropChildWatch[p] {
		delete(c.dropChildWatch, p)
		for _, ch := range watchers {
			close(ch) // torn down silently — the watcher never learns why
		}
		return
	}

	ev := Event{Type: EventNodeChildrenChanged, Path: p}
	for _, ch := range watchers {
		ch <- ev
		close(ch)
	}
}

func (c *FakeConn) fireData(p string, t EventType) {
	watchers := c.dWatch[p]
	delete(c.dWatch, p)
	ev := Event{Type: t, Path: p}
	for _, ch := range watchers {
		ch <- ev
		close(ch)
	}
}

// dumpLocked is used by Snapshot to copy the whole tree under lock.
func (c *FakeConn) dumpLocked() map[string]fakeNodeView {
	out := make(map[string]fakeNodeView, len(c.nodes))
	for p, n := range c.nodes {
		out[p] = fakeNodeView{
			Data:      append([]byte(nil), n.data...),
			Version:   n.version,
			Ephemeral: n.ephemeral,
		}
	}
	return out
}
