package zkclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-zookeeper/zk"
)

// ZKConn binds Conn to a real ZooKeeper ensemble via github.com/go-zookeeper/zk.
// It exists to translate zk's Event/error vocabulary into this package's own,
// so queue.BaseQueue and queue.RRQ never import go-zookeeper/zk directly.
type ZKConn struct {
	conn       *zk.Conn
	sessionEvs chan Event
}

// Dial connects to the given ZooKeeper ensemble and returns a ready Conn.
// sessionTimeout follows zk's own semantics: the ensemble expires the
// session if no heartbeat is received within this window.
func Dial(servers []string, sessionTimeout time.Duration) (*ZKConn, error) {
	conn, events, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("zkclient: dial: %w", err)
	}

	c := &ZKConn{
		conn:       conn,
		sessionEvs: make(chan Event, 16),
	}
	go c.pumpSessionEvents(events)
	return c, nil
}

func (c *ZKConn) pumpSessionEvents(events <-chan zk.Event) {
	for ev := range events {
		select {
		case c.sessionEvs <- translateEvent(ev):
		default:
			// Slow consumer: session-state events are advisory, drop rather
			// than block the library's event pump.
		}
	}
	close(c.sessionEvs)
}

func translateEvent(ev zk.Event) Event {
	out := Event{Path: ev.Path}
	switch ev.Type {
	case zk.EventNodeChildrenChanged:
		out.Type = EventNodeChildrenChanged
	case zk.EventNodeDataChanged, zk.EventNodeCreated:
		out.Type = EventNodeDataChanged
	case zk.EventNodeDeleted:
		out.Type = EventNodeDeleted
	default:
		out.Type = EventSession
	}
	switch ev.State {
	case zk.StateConnected, zk.StateHasSession:
		out.State = StateConnected
	case zk.StateDisconnected:
		out.State = StateDisconnected
	case zk.StateExpired:
		out.State = StateExpired
	default:
		out.State = StateUnknown
	}
	return out
}

func flagsFor(mode CreateMode) int32 {
	switch mode {
	case PersistentSequential:
		return zk.FlagSequence
	case Ephemeral:
		return zk.FlagEphemeral
	case EphemeralSequential:
		return zk.FlagEphemeral | zk.FlagSequence
	default:
		return 0
	}
}

func (c *ZKConn) Create(path string, data []byte, mode CreateMode) (string, error) {
	acl := zk.WorldACL(zk.PermAll)
	p, err := c.conn.Create(path, data, flagsFor(mode), acl)
	if err != nil {
		return "", translateErr(err)
	}
	return p, nil
}

func (c *ZKConn) Children(path string, watch bool) ([]string, <-chan Event, error) {
	if !watch {
		children, _, err := c.conn.Children(path)
		if err != nil {
			return nil, nil, translateErr(err)
		}
		return children, nil, nil
	}

	children, _, events, err := c.conn.ChildrenW(path)
	if err != nil {
		return nil, nil, translateErr(err)
	}
	return children, c.oneShot(events), nil
}

func (c *ZKConn) Get(path string, watch bool) ([]byte, <-chan Event, error) {
	if !watch {
		data, _, err := c.conn.Get(path)
		if err != nil {
			return nil, nil, translateErr(err)
		}
		return data, nil, nil
	}

	data, _, events, err := c.conn.GetW(path)
	if err != nil {
		return nil, nil, translateErr(err)
	}
	return data, c.oneShot(events), nil
}

// oneShot adapts go-zookeeper's watch channel onto Conn's documented
// contract ("session events don't consume the watch; exactly one terminal
// node event closes it"). Caveat: the real go-zookeeper/zk client delivers
// at most one event per watch channel regardless of its type, so a bare
// session blip arriving on this channel is, in the real binding, also
// terminal — it triggers one extra, harmless re-fetch in BaseQueue rather
// than being silently ignored. FakeConn (used by this repository's tests)
// implements the full multi-event semantics faithfully; see DESIGN.md.
func (c *ZKConn) oneShot(events <-chan zk.Event) <-chan Event {
	out := make(chan Event, 4)
	go func() {
		defer close(out)
		ev, ok := <-events
		if !ok {
			return
		}
		out <- translateEvent(ev)
	}()
	return out
}

func (c *ZKConn) Set(path string, data []byte, version int32) error {
	_, err := c.conn.Set(path, data, version)
	return translateErr(err)
}

func (c *ZKConn) Delete(path string, version int32) error {
	return translateErr(c.conn.Delete(path, version))
}

func (c *ZKConn) Multi(ops ...DeleteOp) error {
	if len(ops) == 0 {
		return nil
	}
	reqs := make([]interface{}, 0, len(ops))
	for _, op := range ops {
		reqs = append(reqs, &zk.DeleteRequest{Path: op.Path, Version: op.Version})
	}
	if _, err := c.conn.Multi(reqs...); err != nil {
		return fmt.Errorf("%w: %v", ErrMultiFailed, translateErr(err))
	}
	return nil
}

func (c *ZKConn) ExistsChildren(path string) (bool, int, error) {
	_, stat, err := c.conn.Exists(path)
	if err != nil {
		return false, 0, translateErr(err)
	}
	if stat == nil {
		return false, 0, nil
	}
	return true, int(stat.NumChildren), nil
}

func (c *ZKConn) SessionEvents() <-chan Event {
	return c.sessionEvs
}

func (c *ZKConn) Close() error {
	c.conn.Close()
	return nil
}

func translateErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, zk.ErrNoNode):
		return ErrNoNode
	case errors.Is(err, zk.ErrNodeExists):
		return ErrNodeExists
	case errors.Is(err, zk.ErrBadVersion):
		return ErrBadVersion
	case errors.Is(err, zk.ErrSessionExpired):
		return ErrSessionExpired
	case errors.Is(err, zk.ErrConnectionClosed):
		return ErrClosed
	default:
		return err
	}
}
