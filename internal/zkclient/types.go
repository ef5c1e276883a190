// Package zkclient defines the coordination-service capability contract the
// queue package depends on, plus two bindings: a thin wrapper over the real
// ZooKeeper client (zk.go) and an in-memory fake for tests (fake.go).
//
// The queue package never imports github.com/go-zookeeper/zk directly — it
// only sees the Conn interface and the Event/error vocabulary defined here,
// the same way the teacher's internal/client package hides raw net/http
// behind a small Go API.
package zkclient

import "errors"

// CreateMode selects the lifetime and naming behavior of a node created via
// Conn.Create. It mirrors the four modes ZooKeeper itself exposes.
type CreateMode int

const (
	Persistent CreateMode = iota
	PersistentSequential
	Ephemeral
	EphemeralSequential
)

// EventType identifies what kind of change triggered a watch callback.
type EventType int

const (
	EventNodeChildrenChanged EventType = iota
	EventNodeDataChanged
	EventNodeDeleted
	EventSession
)

// SessionState reports the state of the underlying connection. Only
// EventSession events carry a meaningful SessionState; it is the zero value
// otherwise.
type SessionState int

const (
	StateUnknown SessionState = iota
	StateConnected
	StateDisconnected
	StateExpired
)

// Event is delivered on a watch channel. A session-state event (Type ==
// EventSession) fires without consuming the one-shot watch it rode in on —
// callers must ignore it and keep waiting on the same channel.
type Event struct {
	Type  EventType
	Path  string
	State SessionState
}

// Sentinel errors every Conn implementation must return verbatim so the
// queue package can use errors.Is against them regardless of which binding
// is in use.
var (
	// ErrNoNode means the target node does not exist. It collapses into an
	// empty-head result during consumption rather than propagating as an
	// infrastructure error — see queue.BaseQueue's cache-coherence protocol.
	ErrNoNode = errors.New("zkclient: no such node")
	// ErrNodeExists means Create raced with a concurrent create of the same
	// path (should not happen for sequential nodes; possible for fixed paths).
	ErrNodeExists = errors.New("zkclient: node already exists")
	// ErrBadVersion means a versioned Set/Delete lost an optimistic race.
	ErrBadVersion = errors.New("zkclient: version conflict")
	// ErrMultiFailed means an atomic multi-op was rejected wholesale because
	// one of its sub-operations failed (e.g. a delete targeting a node that
	// another peer already removed).
	ErrMultiFailed = errors.New("zkclient: multi-op failed")
	// ErrSessionExpired means the client's session ended; ephemeral nodes it
	// owned are gone and any outstanding watches must be re-installed once a
	// new session is established.
	ErrSessionExpired = errors.New("zkclient: session expired")
	// ErrClosed means the Conn has been closed and can no longer be used.
	ErrClosed = errors.New("zkclient: connection closed")
)

// DeleteOp is one sub-operation of an atomic Multi call. Version -1 means
// "accept any version" (spec's "version-wildcard accepted").
type DeleteOp struct {
	Path    string
	Version int32
}
