// Package metrics wraps github.com/VictoriaMetrics/metrics behind a small
// adapter, the same way the teacher's internal/api wraps Gin: callers never
// touch the underlying library's global registry directly.
//
// spec.md §4.1 "Statistics" and §6 "Observability surface" call for
// per-operation timers keyed by "<dir>_<op>" (or "<dir>_<op>_wait<millis>"
// / "<dir>_<op>_wait_forever" for the wait variants), success/failure
// counters, a queue-length gauge, and a watcher-count gauge.
package metrics

import (
	"fmt"
	"sync"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
)

// gauges holds the current value behind every named gauge this package has
// registered. VictoriaMetrics/metrics gauges are callback-driven rather
// than directly settable, so each GetOrCreateGauge call here is paired with
// a closure reading back into this map under gaugeMu.
var (
	gaugeMu sync.Mutex
	gauges  = map[string]float64{}
)

func setGauge(name string) func(float64) {
	vm.GetOrCreateGauge(name, func() float64 {
		gaugeMu.Lock()
		defer gaugeMu.Unlock()
		return gauges[name]
	})
	return func(v float64) {
		gaugeMu.Lock()
		gauges[name] = v
		gaugeMu.Unlock()
	}
}

// Op is a single per-operation instrumentation handle, pre-built for one
// "<dir>_<op>" key so call sites don't re-format strings on every call.
type Op struct {
	name string
}

// ForOp returns the Op handle for dir/op. When waitMillis >= 0, the key is
// suffixed per spec.md's naming rule; pass waitMillis < 0 for non-waiting
// operations.
func ForOp(dir, op string, waitMillis int) Op {
	name := fmt.Sprintf("%s_%s", dir, op)
	switch {
	case waitMillis < 0:
		// no suffix
	case waitMillis == 0:
		name += "_wait_forever"
	default:
		name += fmt.Sprintf("_wait%d", waitMillis)
	}
	return Op{name: name}
}

// Timed runs fn, records its latency in a histogram keyed by this Op, and
// increments the matching success/failure counter based on whether fn
// returned an error.
func (o Op) Timed(fn func() error) error {
	start := time.Now()
	err := fn()
	vm.GetOrCreateHistogram(fmt.Sprintf(`queue_op_duration_seconds{op=%q}`, o.name)).
		Update(time.Since(start).Seconds())
	if err != nil {
		vm.GetOrCreateCounter(fmt.Sprintf(`queue_op_total{op=%q,result="error"}`, o.name)).Inc()
	} else {
		vm.GetOrCreateCounter(fmt.Sprintf(`queue_op_total{op=%q,result="success"}`, o.name)).Inc()
	}
	return err
}

// QueueLength sets the queue-length gauge for dir, refreshed on every
// remote child-list fetch per spec.md's "Statistics" section.
func QueueLength(dir string, n int) {
	setGauge(fmt.Sprintf(`queue_length{dir=%q}`, dir))(float64(n))
}

// WatcherCount sets the outstanding-watch gauge for dir.
func WatcherCount(dir string, n int) {
	setGauge(fmt.Sprintf(`queue_watchers{dir=%q}`, dir))(float64(n))
}

// PendingResponses sets the in-flight offer-and-wait gauge for dir (RRQ only).
func PendingResponses(dir string, n int64) {
	setGauge(fmt.Sprintf(`queue_pending_responses{dir=%q}`, dir))(float64(n))
}
