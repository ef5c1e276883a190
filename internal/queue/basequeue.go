// Package queue implements the distributed FIFO work queue: BaseQueue
// (this file) and its request/response extension RRQ (rrq.go). Both are
// driven entirely through the zkclient.Conn capability contract — nothing
// here talks to a coordination service directly.
package queue

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"distributed-zk-queue/internal/metrics"
	"distributed-zk-queue/internal/zkclient"
)

const (
	reqPrefix  = "qn-"
	respPrefix = "qnr-"

	// bulkDeleteChunk bounds how many children one atomic Multi call
	// targets — spec.md's "partitions the input into chunks of ≤1000".
	bulkDeleteChunk = 1000

	// pollSlice is the bounded wakeup spec.md's blocking discipline uses
	// to survive a dropped watch signal.
	pollSlice = 500 * time.Millisecond
)

// WaitForever is the sentinel waitMillis value meaning "block until an
// element is available" rather than until a deadline. It doubles as the
// value that makes metrics.ForOp emit the "_wait_forever" suffix spec.md's
// observability surface calls for.
const WaitForever int64 = 0

// Element is one entry returned by PeekElements: a cache short name, its
// full coordination-service path, and its payload.
type Element struct {
	Name    string
	Path    string
	Payload []byte
}

// BaseQueue is an ordered FIFO whose elements are children of a directory
// node on the coordination service. See SPEC_FULL.md §6.1.
type BaseQueue struct {
	conn         zkclient.Conn
	dir          string
	maxQueueSize int

	mu           sync.Mutex
	cond         *sync.Cond
	known        map[string]struct{} // K: qn- short names believed to exist
	version      uint64              // bumped every time K is replaced
	watcherCount int
	credit       int // P: amortized capacity headroom
}

// NewBaseQueue opens dir on conn. dir must already exist as a persistent
// node; maxQueueSize <= 0 means unbounded.
func NewBaseQueue(conn zkclient.Conn, dir string, maxQueueSize int) (*BaseQueue, error) {
	q := &BaseQueue{
		conn:         conn,
		dir:          dir,
		maxQueueSize: maxQueueSize,
		known:        map[string]struct{}{},
	}
	q.cond = sync.NewCond(&q.mu)

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.fetchChildrenLocked(); err != nil {
		return nil, fmt.Errorf("queue: init %s: %w", dir, err)
	}
	return q, nil
}

// Dir returns the queue directory path.
func (q *BaseQueue) Dir() string { return q.dir }

// fetchChildrenLocked re-reads the directory's children with a fresh
// watch, REPLACES K (never merges — spec.md's load-bearing invariant), and
// bumps the cache version so blocked waiters re-check. Must be called with
// q.mu held.
func (q *BaseQueue) fetchChildrenLocked() error {
	children, ch, err := q.conn.Children(q.dir, true)
	if err != nil {
		return err
	}

	known := make(map[string]struct{}, len(children))
	for _, c := range children {
		if len(c) >= len(reqPrefix) && c[:len(reqPrefix)] == reqPrefix {
			known[c] = struct{}{}
		}
	}

	q.known = known
	q.version++
	q.watcherCount++
	metrics.QueueLength(q.dir, len(known))
	metrics.WatcherCount(q.dir, q.watcherCount)
	q.cond.Broadcast()

	if ch != nil {
		go q.watchLoop(ch)
	}
	return nil
}

// watchLoop consumes the single outstanding child-list watch. Bare
// session-state events are ignored without a re-fetch (spec.md's watcher
// discipline); the terminal child-change event triggers exactly one
// re-fetch, which installs the next watch.
func (q *BaseQueue) watchLoop(ch <-chan zkclient.Event) {
	for ev := range ch {
		if ev.Type == zkclient.EventSession {
			continue
		}
		q.mu.Lock()
		q.watcherCount--
		_ = q.fetchChildrenLocked() // infra errors here surface on the next caller-driven fetch
		q.mu.Unlock()
		return
	}
}

// headLocked returns the lexicographically smallest (== numerically
// smallest, since suffixes are zero-padded) known request name, or "" if K
// is empty.
func (q *BaseQueue) headLocked() string {
	head := ""
	for name := range q.known {
		if head == "" || name < head {
			head = name
		}
	}
	return head
}

// sortedNamesLocked returns K's contents in ascending order.
func (q *BaseQueue) sortedNamesLocked() []string {
	names := make([]string, 0, len(q.known))
	for n := range q.known {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// peekHeadLocked advisory-reads the current head: it tries candidates from
// K smallest-first, dropping any that the coordination service reports
// missing (a peer already consumed them) and retrying the next one.
func (q *BaseQueue) peekHeadLocked() (name string, data []byte, found bool, err error) {
	for {
		name = q.headLocked()
		if name == "" {
			return "", nil, false, nil
		}
		data, _, err = q.conn.Get(path.Join(q.dir, name), false)
		switch {
		case err == nil:
			return name, data, true, nil
		case errors.Is(err, zkclient.ErrNoNode):
			delete(q.known, name)
			continue
		default:
			return "", nil, false, err
		}
	}
}

// pollOnceLocked advisory-reads then deletes the head, retrying past any
// name a racing consumer already removed. The delete is what makes this
// "atomic w.r.t. the coordination service": only one of two racing
// consumers succeeds in deleting a given name.
func (q *BaseQueue) pollOnceLocked() ([]byte, bool, error) {
	for {
		name := q.headLocked()
		if name == "" {
			return nil, false, nil
		}
		p := path.Join(q.dir, name)

		data, _, err := q.conn.Get(p, false)
		if errors.Is(err, zkclient.ErrNoNode) {
			delete(q.known, name)
			continue
		}
		if err != nil {
			return nil, false, err
		}

		if err := q.conn.Delete(p, -1); err != nil {
			if errors.Is(err, zkclient.ErrNoNode) {
				// A racing consumer deleted it first — this payload was not
				// ours to return. Drop it from K and try the next head.
				delete(q.known, name)
				continue
			}
			return nil, false, err
		}
		delete(q.known, name)
		return data, true, nil
	}
}

// waitSliceLocked blocks on the cache-change condition for at most
// pollSlice, or until ctx is done, or until the cache version advances
// past startVersion — whichever comes first. When the slice runs out with
// the version unchanged, it re-reads the directory's children without a
// watch and replaces K, so a change whose watch delivery was lost is still
// seen. Must be called with q.mu held; returns with q.mu held.
func (q *BaseQueue) waitSliceLocked(ctx context.Context, startVersion uint64) {
	done := make(chan struct{})
	expired := false
	timer := time.AfterFunc(pollSlice, func() {
		q.mu.Lock()
		expired = true
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-done:
			}
		}()
	}

	for q.version == startVersion && ctx.Err() == nil && !expired {
		q.cond.Wait()
	}
	close(done)

	if expired && q.version == startVersion && ctx.Err() == nil {
		if children, _, err := q.conn.Children(q.dir, false); err == nil {
			known := make(map[string]struct{}, len(children))
			for _, c := range children {
				if len(c) >= len(reqPrefix) && c[:len(reqPrefix)] == reqPrefix {
					known[c] = struct{}{}
				}
			}
			q.known = known
			q.version++
			metrics.QueueLength(q.dir, len(known))
		}
	}
}

// Peek returns the head's payload without removing it, or found=false if
// the queue is empty. Non-blocking.
func (q *BaseQueue) Peek() (data []byte, found bool, err error) {
	err = metrics.ForOp(q.dir, "peek", -1).Timed(func() error {
		q.mu.Lock()
		defer q.mu.Unlock()
		var e error
		_, data, found, e = q.peekHeadLocked()
		return e
	})
	return data, found, err
}

// PeekWait returns the head's payload without removing it, blocking up to
// waitMillis (or forever, if waitMillis == WaitForever) for one to appear.
func (q *BaseQueue) PeekWait(ctx context.Context, waitMillis int64) (data []byte, found bool, err error) {
	infinite := waitMillis <= 0
	var deadline time.Time
	if !infinite {
		deadline = time.Now().Add(time.Duration(waitMillis) * time.Millisecond)
	}

	err = metrics.ForOp(q.dir, "peek", int(waitMillis)).Timed(func() error {
		q.mu.Lock()
		defer q.mu.Unlock()
		for {
			_, d, f, e := q.peekHeadLocked()
			if e != nil {
				return e
			}
			if f {
				data, found = d, true
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !infinite && !time.Now().Before(deadline) {
				return nil
			}
			ver := q.version
			q.waitSliceLocked(ctx, ver)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	})
	return data, found, err
}

// Poll removes and returns the head, or found=false if the queue is empty.
// Non-blocking.
func (q *BaseQueue) Poll() (data []byte, found bool, err error) {
	err = metrics.ForOp(q.dir, "poll", -1).Timed(func() error {
		q.mu.Lock()
		defer q.mu.Unlock()
		var e error
		data, found, e = q.pollOnceLocked()
		return e
	})
	return data, found, err
}

// Take blocks until it can remove and return a head.
func (q *BaseQueue) Take(ctx context.Context) (data []byte, err error) {
	err = metrics.ForOp(q.dir, "take", int(WaitForever)).Timed(func() error {
		q.mu.Lock()
		defer q.mu.Unlock()
		for {
			d, f, e := q.pollOnceLocked()
			if e != nil {
				return e
			}
			if f {
				data = d
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ver := q.version
			q.waitSliceLocked(ctx, ver)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	})
	return data, err
}

// Remove is like Poll but surfaces ErrNoSuchElement instead of an empty result.
func (q *BaseQueue) Remove() (data []byte, err error) {
	err = metrics.ForOp(q.dir, "remove", -1).Timed(func() error {
		q.mu.Lock()
		defer q.mu.Unlock()
		d, f, e := q.pollOnceLocked()
		if e != nil {
			return e
		}
		if !f {
			return ErrNoSuchElement
		}
		data = d
		return nil
	})
	return data, err
}

// Offer creates a new request node holding payload, returning its full
// path. If a capacity bound is configured, it is enforced to within ~1%
// slack per producer via the local credit counter (spec.md §4.1's amortized
// recheck).
func (q *BaseQueue) Offer(payload []byte) (createdPath string, err error) {
	err = metrics.ForOp(q.dir, "offer", -1).Timed(func() error {
		q.mu.Lock()
		defer q.mu.Unlock()

		if q.maxQueueSize > 0 {
			if q.credit <= 0 {
				exists, n, e := q.conn.ExistsChildren(q.dir)
				if e != nil {
					return e
				}
				if !exists {
					return fmt.Errorf("offer %s: %w", q.dir, zkclient.ErrNoNode)
				}
				if n >= q.maxQueueSize {
					return ErrQueueFull
				}
				q.credit = (q.maxQueueSize - n) / 100
			}
			q.credit--
		}

		p, e := q.conn.Create(path.Join(q.dir, reqPrefix), payload, zkclient.PersistentSequential)
		if e != nil {
			return e
		}
		createdPath = p
		// Record the new name in K at once, so this instance's own offers
		// are visible to its next peek or poll without waiting for the
		// asynchronous watch re-fetch.
		q.known[path.Base(p)] = struct{}{}
		return nil
	})
	return createdPath, err
}

// gatherElementsLocked collects up to max accepted entries from K,
// smallest-name-first, advisory-dropping any name the coordination service
// reports missing.
func (q *BaseQueue) gatherElementsLocked(max int, accept func(name string) bool) ([]Element, error) {
	out := make([]Element, 0, max)
	for _, name := range q.sortedNamesLocked() {
		if len(out) >= max {
			break
		}
		if accept != nil && !accept(name) {
			continue
		}
		p := path.Join(q.dir, name)
		data, _, err := q.conn.Get(p, false)
		if errors.Is(err, zkclient.ErrNoNode) {
			delete(q.known, name)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, Element{Name: name, Path: p, Payload: data})
	}
	return out, nil
}

// PeekElements returns up to max entries whose short name satisfies accept,
// blocking up to waitMillis (or forever, per WaitForever) if nothing
// matches yet.
func (q *BaseQueue) PeekElements(ctx context.Context, max int, waitMillis int64, accept func(name string) bool) ([]Element, error) {
	infinite := waitMillis <= 0
	var deadline time.Time
	if !infinite {
		deadline = time.Now().Add(time.Duration(waitMillis) * time.Millisecond)
	}

	var result []Element
	err := metrics.ForOp(q.dir, "peekElements", int(waitMillis)).Timed(func() error {
		q.mu.Lock()
		defer q.mu.Unlock()
		for {
			els, e := q.gatherElementsLocked(max, accept)
			if e != nil {
				return e
			}
			if len(els) > 0 {
				result = els
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !infinite && !time.Now().Before(deadline) {
				return nil
			}
			ver := q.version
			q.waitSliceLocked(ctx, ver)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	})
	return result, err
}

// RemoveMany deletes the named children in chunks of at most
// bulkDeleteChunk, each an atomic multi-delete; a chunk that fails because
// one of its members is already gone falls back to per-node deletes that
// silently tolerate the missing ones. Calling RemoveMany twice with the
// same names is a no-op the second time.
func (q *BaseQueue) RemoveMany(names []string) error {
	return metrics.ForOp(q.dir, "removeMany", -1).Timed(func() error {
		for i := 0; i < len(names); i += bulkDeleteChunk {
			end := i + bulkDeleteChunk
			if end > len(names) {
				end = len(names)
			}
			if err := q.removeChunk(names[i:end]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (q *BaseQueue) removeChunk(names []string) error {
	ops := make([]zkclient.DeleteOp, len(names))
	for i, n := range names {
		ops[i] = zkclient.DeleteOp{Path: path.Join(q.dir, n), Version: -1}
	}

	if err := q.conn.Multi(ops...); err == nil {
		q.mu.Lock()
		for _, n := range names {
			delete(q.known, n)
		}
		q.mu.Unlock()
		return nil
	} else if !errors.Is(err, zkclient.ErrMultiFailed) {
		return err
	}

	// One sub-op failed (almost certainly a missing node) — the
	// coordination service rejected the whole batch. Fall back to
	// per-node deletes, tolerating missing nodes silently.
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, n := range names {
		p := path.Join(q.dir, n)
		if err := q.conn.Delete(p, -1); err != nil && !errors.Is(err, zkclient.ErrNoNode) {
			return err
		}
		delete(q.known, n)
	}
	return nil
}
