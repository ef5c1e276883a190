package zkclient

// Conn is the capability contract required from the coordination service.
// It covers exactly the primitives spec'd for this queue: sequential node
// creation, watched children/data reads, versioned writes/deletes, an
// all-or-nothing multi-delete, an existence probe that returns a child
// count, and a subscription to bare session-state events.
//
// Both the real ZooKeeper binding (zk.go) and the in-memory fake (fake.go)
// implement this so queue.BaseQueue and queue.RRQ are agnostic to which one
// they're driving.
type Conn interface {
	// Create makes a node at path (or path with a sequential suffix
	// appended, for the two *Sequential modes) holding data, and returns
	// the node's actual path.
	Create(path string, data []byte, mode CreateMode) (string, error)

	// Children lists the children of path and installs a watch for the
	// next child-list change. The returned channel may deliver zero or
	// more bare session-state events first (these do not consume the
	// watch — ignore them and keep reading) followed by exactly one
	// child-list-changed event, at which point the channel is closed and
	// the watch must be re-installed via another Children call. A nil
	// channel is returned when watch is false.
	Children(path string, watch bool) (children []string, ch <-chan Event, err error)

	// Get reads the data at path and, if watch is true, installs a watch
	// with the same "session events don't consume it" semantics as
	// Children, terminated by exactly one data-change or delete event.
	Get(path string, watch bool) (data []byte, ch <-chan Event, err error)

	// Set overwrites the data at path. version == -1 accepts any version
	// (spec's "version-wildcard").
	Set(path string, data []byte, version int32) error

	// Delete removes path. version == -1 accepts any version.
	Delete(path string, version int32) error

	// Multi executes every op atomically: either all deletes succeed or
	// none are applied, and ErrMultiFailed is returned wrapping the
	// failing sub-op's error.
	Multi(ops ...DeleteOp) error

	// ExistsChildren reports whether path exists and, if so, how many
	// children it has — used by the capacity-bound recheck in Offer
	// without needing to materialize the full child list.
	ExistsChildren(path string) (exists bool, numChildren int, err error)

	// SessionEvents returns a channel of bare session-state transitions
	// (connected/disconnected/expired), independent of any particular
	// watch. Implementations deliver these on every outstanding watch
	// channel too (per the watch contract), but this channel lets callers
	// observe session health without holding a data/child watch open.
	SessionEvents() <-chan Event

	// Close releases the connection and, for ephemeral nodes owned by
	// this session, ends their lifetime.
	Close() error
}
