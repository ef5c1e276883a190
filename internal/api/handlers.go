// Package api wires up the Gin HTTP router with all handler functions.
package api

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"path"
	"strconv"
	"sync"
	"time"

	"distributed-zk-queue/internal/queue"
	"distributed-zk-queue/internal/zkclient"

	"github.com/gin-gonic/gin"
)

// Handler holds all dependencies injected from main and lazily opens
// queue directories on first use, caching them for the process lifetime.
// A directory is opened as exactly one of a plain BaseQueue or an RRQ —
// never both.
type Handler struct {
	conn         zkclient.Conn
	maxQueueSize int

	mu   sync.Mutex
	base map[string]*queue.BaseQueue
	rrq  map[string]*queue.RRQ
}

// NewHandler creates a Handler bound to conn. maxQueueSize <= 0 leaves
// every opened queue unbounded.
func NewHandler(conn zkclient.Conn, maxQueueSize int) *Handler {
	return &Handler{
		conn:         conn,
		maxQueueSize: maxQueueSize,
		base:         map[string]*queue.BaseQueue{},
		rrq:          map[string]*queue.RRQ{},
	}
}

// Register mounts all routes on r.
func (h *Handler) Register(r *gin.Engine) {
	q := r.Group("/queue/:dir")
	q.POST("/offer", h.Offer)
	q.GET("/peek", h.Peek)
	q.POST("/poll", h.Poll)
	q.POST("/take", h.Take)
	q.POST("/offer-and-wait", h.OfferAndWait)
	q.POST("/remove-with-response", h.RemoveWithResponse)
	q.GET("/contains", h.Contains)

	r.GET("/healthz", h.Healthz)
}

func dirParam(c *gin.Context) string {
	return path.Join("/", c.Param("dir"))
}

func (h *Handler) ensureDir(dir string) error {
	_, err := h.conn.Create(dir, nil, zkclient.Persistent)
	if err != nil && !errors.Is(err, zkclient.ErrNodeExists) {
		return err
	}
	return nil
}

// openBase returns the BaseQueue for dir, opening it (or reusing the
// BaseQueue embedded in an already-open RRQ) on first use.
func (h *Handler) openBase(dir string) (*queue.BaseQueue, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if q, ok := h.base[dir]; ok {
		return q, nil
	}
	if q, ok := h.rrq[dir]; ok {
		return q.BaseQueue, nil
	}
	if err := h.ensureDir(dir); err != nil {
		return nil, err
	}
	q, err := queue.NewBaseQueue(h.conn, dir, h.maxQueueSize)
	if err != nil {
		return nil, err
	}
	h.base[dir] = q
	return q, nil
}

// openRRQ returns the RRQ for dir, opening it on first use. A dir already
// opened as a plain base queue cannot be reopened as an RRQ.
func (h *Handler) openRRQ(dir string) (*queue.RRQ, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if q, ok := h.rrq[dir]; ok {
		return q, nil
	}
	if _, ok := h.base[dir]; ok {
		return nil, errDirKindConflict
	}
	if err := h.ensureDir(dir); err != nil {
		return nil, err
	}
	q, err := queue.NewRRQ(h.conn, dir, h.maxQueueSize)
	if err != nil {
		return nil, err
	}
	h.rrq[dir] = q
	return q, nil
}

var errDirKindConflict = errors.New("api: directory already opened as a different queue kind")

// waitMillisParam parses the optional waitMillis query parameter. Absent
// means "no wait" (signaled by ok=false); present and <= 0 means
// queue.WaitForever.
func waitMillisParam(c *gin.Context) (millis int64, ok bool, err error) {
	raw := c.Query("waitMillis")
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func writeErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, queue.ErrNoSuchElement):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, errDirKindConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "request canceled"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// Offer handles POST /queue/:dir/offer. Body: {"payload": "<base64>"}.
func (h *Handler) Offer(c *gin.Context) {
	var body struct {
		Payload string `json:"payload"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	payload, err := base64.StdEncoding.DecodeString(body.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload: " + err.Error()})
		return
	}

	q, err := h.openBase(dirParam(c))
	if err != nil {
		writeErr(c, err)
		return
	}
	p, err := q.Offer(payload)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": p})
}

// Peek handles GET /queue/:dir/peek?waitMillis=N. Absent waitMillis is
// non-blocking; present means block up to N ms (or forever, if N <= 0).
func (h *Handler) Peek(c *gin.Context) {
	q, err := h.openBase(dirParam(c))
	if err != nil {
		writeErr(c, err)
		return
	}

	millis, waiting, err := waitMillisParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "waitMillis: " + err.Error()})
		return
	}

	var data []byte
	var found bool
	if waiting {
		data, found, err = q.PeekWait(c.Request.Context(), millis)
	} else {
		data, found, err = q.Peek()
	}
	if err != nil {
		writeErr(c, err)
		return
	}
	if !found {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payload": base64.StdEncoding.EncodeToString(data)})
}

// Poll handles POST /queue/:dir/poll.
func (h *Handler) Poll(c *gin.Context) {
	q, err := h.openBase(dirParam(c))
	if err != nil {
		writeErr(c, err)
		return
	}
	data, found, err := q.Poll()
	if err != nil {
		writeErr(c, err)
		return
	}
	if !found {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payload": base64.StdEncoding.EncodeToString(data)})
}

// Take handles POST /queue/:dir/take?waitMillis=N. N=0 or absent means
// block until the request is canceled or an element appears.
func (h *Handler) Take(c *gin.Context) {
	q, err := h.openBase(dirParam(c))
	if err != nil {
		writeErr(c, err)
		return
	}

	millis, _, err := waitMillisParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "waitMillis: " + err.Error()})
		return
	}

	ctx := c.Request.Context()
	if millis > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(millis)*time.Millisecond)
		defer cancel()
	}

	data, err := q.Take(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		c.Status(http.StatusNoContent)
		return
	}
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payload": base64.StdEncoding.EncodeToString(data)})
}

// OfferAndWait handles POST /queue/:dir/offer-and-wait?timeoutMillis=N.
// Body: {"payload": "<base64>"}. RRQ directories only.
func (h *Handler) OfferAndWait(c *gin.Context) {
	var body struct {
		Payload string `json:"payload"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	payload, err := base64.StdEncoding.DecodeString(body.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload: " + err.Error()})
		return
	}

	timeoutMillis := int64(0)
	if raw := c.Query("timeoutMillis"); raw != "" {
		timeoutMillis, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "timeoutMillis: " + err.Error()})
			return
		}
	}

	q, err := h.openRRQ(dirParam(c))
	if err != nil {
		writeErr(c, err)
		return
	}

	reply, err := q.OfferAndWait(c.Request.Context(), payload, time.Duration(timeoutMillis)*time.Millisecond)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": base64.StdEncoding.EncodeToString(reply)})
}

// RemoveWithResponse handles POST /queue/:dir/remove-with-response. Body:
// {"id": "<short request node name>", "reply": "<base64>"}.
func (h *Handler) RemoveWithResponse(c *gin.Context) {
	var body struct {
		ID    string `json:"id" binding:"required"`
		Reply string `json:"reply"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reply, err := base64.StdEncoding.DecodeString(body.Reply)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reply: " + err.Error()})
		return
	}

	q, err := h.openRRQ(dirParam(c))
	if err != nil {
		writeErr(c, err)
		return
	}
	if err := q.RemoveWithResponse(path.Base(body.ID), reply); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Contains handles GET /queue/:dir/contains?key=&id=.
func (h *Handler) Contains(c *gin.Context) {
	key, id := c.Query("key"), c.Query("id")
	if key == "" || id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key and id are required"})
		return
	}

	q, err := h.openRRQ(dirParam(c))
	if err != nil {
		writeErr(c, err)
		return
	}
	found, err := q.ContainsRequestWithID(key, id)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"found": found})
}

// Shutdown drains every RRQ directory this process has opened — spec.md
// §4.2's "drain-on-shutdown" applied across the whole registry, for
// cmd/queueserver's graceful-shutdown sequence.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	rrqs := make([]*queue.RRQ, 0, len(h.rrq))
	for _, q := range h.rrq {
		rrqs = append(rrqs, q)
	}
	h.mu.Unlock()

	for _, q := range rrqs {
		if err := q.AwaitPendingResponses(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Healthz handles GET /healthz: liveness plus a live child-count snapshot
// of every queue directory this process has opened.
func (h *Handler) Healthz(c *gin.Context) {
	h.mu.Lock()
	dirs := make(map[string]*queue.BaseQueue, len(h.base)+len(h.rrq))
	for dir, q := range h.base {
		dirs[dir] = q
	}
	for dir, q := range h.rrq {
		dirs[dir] = q.BaseQueue
	}
	h.mu.Unlock()

	lengths := make(gin.H, len(dirs))
	for dir, q := range dirs {
		_, n, err := h.conn.ExistsChildren(q.Dir())
		if err != nil {
			continue
		}
		lengths[dir] = n
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "queueLength": lengths})
}
