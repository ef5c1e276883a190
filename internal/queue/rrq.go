package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"distributed-zk-queue/internal/metrics"
	"distributed-zk-queue/internal/zkclient"
)

// drainSlice is the spin-sleep interval AwaitPendingResponses uses — spec.md
// calls for "short intervals (~250 ms)", distinct from the 500 ms bounded
// wakeup BaseQueue's blocking ops use.
const drainSlice = 250 * time.Millisecond

// RRQ layers offer-and-wait rendezvous on top of a BaseQueue: OfferAndWait
// creates an ephemeral-sequential response node, then a persistent request
// node sharing its sequence suffix, and blocks on the response node's own
// data-change watch — no separate in-process latch is needed, since the
// coordination service's watch mechanism already is the latch spec.md §4.2
// describes. The consumer side calls RemoveWithResponse to answer a
// request (a plain Set on the response node) and remove it.
//
// RRQ and BaseQueue live in the same package, so RRQ reaches BaseQueue's
// unexported cache directly (q.mu, q.known) rather than through a separate
// capability interface — spec.md §9's "tight coupling" question resolves to
// "there is no seam to defend" once both sides are one Go package.
type RRQ struct {
	*BaseQueue

	pending atomic.Int64 // count of in-flight OfferAndWait calls
}

// NewRRQ opens dir as a request/response queue on conn.
func NewRRQ(conn zkclient.Conn, dir string, maxQueueSize int) (*RRQ, error) {
	base, err := NewBaseQueue(conn, dir, maxQueueSize)
	if err != nil {
		return nil, err
	}
	return &RRQ{BaseQueue: base}, nil
}

// sequenceSuffix returns the trailing sequence digits common to both a
// request node's "qn-" name and its paired response node's "qnr-" name.
func sequenceSuffix(name string) string {
	switch {
	case strings.HasPrefix(name, reqPrefix):
		return name[len(reqPrefix):]
	case strings.HasPrefix(name, respPrefix):
		return name[len(respPrefix):]
	default:
		return ""
	}
}

// OfferAndWait submits payload as a request and blocks for its paired
// reply, up to timeout (<=0 means wait forever). A timeout is not an
// error: it returns whatever bytes (possibly none) the response node holds
// at that point, and the request node is left in place for a later
// consumer. The response-node-first-then-request-node creation order is
// load-bearing: reversed, a fast consumer could answer the request before
// the submitter had installed its watch.
func (q *RRQ) OfferAndWait(ctx context.Context, payload []byte, timeout time.Duration) (resp []byte, err error) {
	q.pending.Add(1)
	metrics.PendingResponses(q.Dir(), q.pending.Load())
	defer func() {
		q.pending.Add(-1)
		metrics.PendingResponses(q.Dir(), q.pending.Load())
	}()

	waitMillis := int(WaitForever)
	if timeout > 0 {
		waitMillis = int(timeout / time.Millisecond)
	}

	err = metrics.ForOp(q.Dir(), "offerAndWait", waitMillis).Timed(func() error {
		respPath, e := q.conn.Create(path.Join(q.Dir(), respPrefix), nil, zkclient.EphemeralSequential)
		if e != nil {
			return e
		}
		suffix := sequenceSuffix(path.Base(respPath))

		data, watch, e := q.conn.Get(respPath, true)
		if e != nil {
			return e
		}

		reqPath := path.Join(q.Dir(), reqPrefix+suffix)
		if _, e := q.conn.Create(reqPath, payload, zkclient.Persistent); e != nil {
			return e
		}

		// waitErr is set on a caller cancellation or an infra error while
		// waiting; either way the response node still must be deleted
		// below before returning, same as every other exit path.
		var waitErr error
		if len(data) == 0 {
			waitCtx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				waitCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
		wait:
			for {
				select {
				case ev, ok := <-watch:
					if ok && ev.Type == zkclient.EventSession {
						// A bare session event leaves the watch armed:
						// keep waiting on the same channel.
						continue
					}
					if ok {
						d, _, e := q.conn.Get(respPath, false)
						if e != nil && !errors.Is(e, zkclient.ErrNoNode) {
							waitErr = e
						} else {
							data = d
						}
					}
				case <-waitCtx.Done():
					if ctx.Err() != nil {
						waitErr = ctx.Err()
					} else {
						// waitCtx's own deadline, not the caller's: this is a
						// timeout, not an error. Re-read defensively in case
						// the reply landed in the race between select branches.
						d, _, e := q.conn.Get(respPath, false)
						if e == nil {
							data = d
						}
					}
				}
				break wait
			}
		}

		resp = data

		if e := q.conn.Delete(respPath, -1); e != nil && !errors.Is(e, zkclient.ErrNoNode) {
			if waitErr == nil {
				waitErr = e
			}
		}
		return waitErr
	})
	return resp, err
}

// RemoveWithResponse answers the request node named by event's short name:
// it writes reply onto the paired response node (tolerating "no such
// node" — the submitter may have gone away) and deletes the request node
// (same tolerance).
func (q *RRQ) RemoveWithResponse(event string, reply []byte) error {
	return metrics.ForOp(q.Dir(), "removeWithResponse", -1).Timed(func() error {
		suffix := sequenceSuffix(event)
		if suffix == "" {
			return fmt.Errorf("queue: %q is not a request node name", event)
		}

		respPath := path.Join(q.Dir(), respPrefix+suffix)
		if err := q.conn.Set(respPath, reply, -1); err != nil && !errors.Is(err, zkclient.ErrNoNode) {
			return err
		}

		reqPath := path.Join(q.Dir(), event)
		if err := q.conn.Delete(reqPath, -1); err != nil && !errors.Is(err, zkclient.ErrNoNode) {
			return err
		}

		q.mu.Lock()
		delete(q.known, event)
		q.mu.Unlock()
		return nil
	})
}

// ContainsRequestWithID scans the live children of the queue directory
// directly against the coordination service (bypassing K entirely), reads
// each request node's payload as a JSON key/value envelope, and reports
// whether any envelope has envelope[key] == id. This is explicitly
// inefficient and intended only for duplicate-submission detection; nodes
// that vanish mid-scan are skipped.
func (q *RRQ) ContainsRequestWithID(key, id string) (bool, error) {
	var found bool
	err := metrics.ForOp(q.Dir(), "containsRequestWithId", -1).Timed(func() error {
		names, _, err := q.conn.Children(q.Dir(), false)
		if err != nil {
			return err
		}
		for _, name := range names {
			if !strings.HasPrefix(name, reqPrefix) {
				continue
			}
			data, _, err := q.conn.Get(path.Join(q.Dir(), name), false)
			if errors.Is(err, zkclient.ErrNoNode) {
				continue
			}
			if err != nil {
				return err
			}
			var envelope map[string]string
			if json.Unmarshal(data, &envelope) != nil {
				continue // not a key/value envelope, skip
			}
			if envelope[key] == id {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

// TailID returns the full path of the request node with the largest
// extant sequential suffix, or "" if the queue is empty. It snapshots K
// under the cache lock, then iterates descending, dropping names the
// coordination service reports missing and probing the next-smaller one.
func (q *RRQ) TailID() (string, error) {
	var tail string
	err := metrics.ForOp(q.Dir(), "tailId", -1).Timed(func() error {
		q.mu.Lock()
		names := q.sortedNamesLocked()
		q.mu.Unlock()

		for i := len(names) - 1; i >= 0; i-- {
			name := names[i]
			p := path.Join(q.Dir(), name)
			exists, _, err := q.conn.ExistsChildren(p)
			if err != nil {
				return err
			}
			if !exists {
				q.mu.Lock()
				delete(q.known, name)
				q.mu.Unlock()
				continue
			}
			tail = p
			return nil
		}
		return nil
	})
	return tail, err
}

// AwaitPendingResponses blocks until every in-flight OfferAndWait call has
// received its response (or failed), or ctx is done. Intended for graceful
// shutdown: stop accepting new requests, then drain the ones in flight.
func (q *RRQ) AwaitPendingResponses(ctx context.Context) error {
	for q.pending.Load() > 0 {
		select {
		case <-time.After(drainSlice):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
