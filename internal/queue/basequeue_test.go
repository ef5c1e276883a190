package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"distributed-zk-queue/internal/zkclient"
)

func mustDir(t *testing.T, conn zkclient.Conn, dir string) {
	t.Helper()
	if _, err := conn.Create(dir, nil, zkclient.Persistent); err != nil {
		t.Fatalf("create dir %s: %v", dir, err)
	}
}

// S1: Offer "a","b","c"; poll()x3 yields them in order; fourth poll is empty.
func TestBaseQueue_FIFO_S1(t *testing.T) {
	conn := zkclient.NewFake()
	mustDir(t, conn, "/jobs")
	q, err := NewBaseQueue(conn, "/jobs", 0)
	if err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{"a", "b", "c"} {
		if _, err := q.Offer([]byte(p)); err != nil {
			t.Fatalf("offer %s: %v", p, err)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		data, found, err := q.Poll()
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatalf("poll: expected %q, got empty", want)
		}
		if string(data) != want {
			t.Fatalf("poll: got %q, want %q", data, want)
		}
	}

	_, found, err := q.Poll()
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("poll: expected empty queue, got a result")
	}
}

// Invariant 2 / S2: interleaved producers preserve per-producer order and
// the consumer's multiset equals the union offered.
func TestBaseQueue_InterleavedProducers_S2(t *testing.T) {
	conn := zkclient.NewFake()
	mustDir(t, conn, "/jobs")
	q, err := NewBaseQueue(conn, "/jobs", 0)
	if err != nil {
		t.Fatal(err)
	}

	const perProducer = 200
	var wg sync.WaitGroup
	for p := 0; p < 2; p++ {
		wg.Add(1)
		go func(producer int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				payload := fmt.Sprintf("p%d-%04d", producer, i)
				if _, err := q.Offer([]byte(payload)); err != nil {
					t.Errorf("offer: %v", err)
					return
				}
			}
		}(p)
	}
	wg.Wait()

	ctx := context.Background()
	seenByProducer := map[int][]int{}
	total := 0
	for total < 2*perProducer {
		data, err := q.Take(ctx)
		if err != nil {
			t.Fatal(err)
		}
		var producer, seq int
		if _, err := fmt.Sscanf(string(data), "p%d-%04d", &producer, &seq); err != nil {
			t.Fatalf("unparseable payload %q: %v", data, err)
		}
		seenByProducer[producer] = append(seenByProducer[producer], seq)
		total++
	}

	for p, seqs := range seenByProducer {
		if len(seqs) != perProducer {
			t.Fatalf("producer %d: got %d payloads, want %d", p, len(seqs), perProducer)
		}
		if !sort.IntsAreSorted(seqs) {
			t.Fatalf("producer %d: payloads out of order: %v", p, seqs)
		}
	}
}

// Invariant 3: two consumers racing on poll() never duplicate or lose a payload.
func TestBaseQueue_CacheAdvisorySafety(t *testing.T) {
	conn := zkclient.NewFake()
	mustDir(t, conn, "/jobs")
	producer, err := NewBaseQueue(conn, "/jobs", 0)
	if err != nil {
		t.Fatal(err)
	}

	const n = 100
	for i := 0; i < n; i++ {
		if _, err := producer.Offer([]byte(fmt.Sprintf("item-%03d", i))); err != nil {
			t.Fatal(err)
		}
	}

	consumerA, err := NewBaseQueue(conn.NewFakeSession(), "/jobs", 0)
	if err != nil {
		t.Fatal(err)
	}
	consumerB, err := NewBaseQueue(conn.NewFakeSession(), "/jobs", 0)
	if err != nil {
		t.Fatal(err)
	}

	results := make(chan string, n)
	var wg sync.WaitGroup
	drain := func(q *BaseQueue) {
		defer wg.Done()
		for {
			data, found, err := q.Poll()
			if err != nil {
				t.Errorf("poll: %v", err)
				return
			}
			if !found {
				return
			}
			results <- string(data)
		}
	}
	wg.Add(2)
	go drain(consumerA)
	go drain(consumerB)
	wg.Wait()
	close(results)

	seen := map[string]int{}
	for r := range results {
		seen[r]++
	}
	if len(seen) != n {
		t.Fatalf("got %d distinct items, want %d", len(seen), n)
	}
	for item, count := range seen {
		if count != 1 {
			t.Fatalf("item %q delivered %d times, want exactly 1", item, count)
		}
	}
}

// Invariant 4 / S3: with maxQueueSize=10, exactly 10 offers succeed and the
// rest fail with ErrQueueFull.
func TestBaseQueue_BoundedCapacity_S3(t *testing.T) {
	conn := zkclient.NewFake()
	mustDir(t, conn, "/bounded")
	q, err := NewBaseQueue(conn, "/bounded", 10)
	if err != nil {
		t.Fatal(err)
	}

	successes, failures := 0, 0
	for i := 0; i < 20; i++ {
		_, err := q.Offer([]byte(fmt.Sprintf("x%d", i)))
		switch {
		case err == nil:
			successes++
		case err == ErrQueueFull:
			failures++
		default:
			t.Fatalf("offer %d: unexpected error %v", i, err)
		}
	}

	if successes != 10 {
		t.Fatalf("got %d successful offers, want 10", successes)
	}
	if failures != 10 {
		t.Fatalf("got %d queue-full failures, want 10", failures)
	}
}

// Invariant 7: removeMany is idempotent — the second call on the same
// names is a no-op rather than an error.
func TestBaseQueue_RemoveMany_Idempotent(t *testing.T) {
	conn := zkclient.NewFake()
	mustDir(t, conn, "/jobs")
	q, err := NewBaseQueue(conn, "/jobs", 0)
	if err != nil {
		t.Fatal(err)
	}

	var names []string
	for i := 0; i < 5; i++ {
		p, err := q.Offer([]byte(fmt.Sprintf("n%d", i)))
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, p[len("/jobs/"):])
	}

	if err := q.RemoveMany(names); err != nil {
		t.Fatalf("first removeMany: %v", err)
	}
	if err := q.RemoveMany(names); err != nil {
		t.Fatalf("second removeMany (expected no-op): %v", err)
	}

	_, found, err := q.Peek()
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected empty queue after removeMany")
	}
}

// Invariant 8: a dropped watch does not deadlock Take; the bounded
// wakeup eventually notices a payload that arrived without a live watch.
func TestBaseQueue_WatchLossSurvival(t *testing.T) {
	conn := zkclient.NewFake()
	mustDir(t, conn, "/jobs")
	q, err := NewBaseQueue(conn, "/jobs", 0)
	if err != nil {
		t.Fatal(err)
	}

	// Forcibly drop the next children-watch delivery on /jobs (the one
	// NewBaseQueue just installed) — the coordination service loses this
	// notification entirely. Take must still notice the new element via
	// its bounded poll-slice wakeup, not via the watch, which never fires.
	conn.DropNextChildrenWatch("/jobs")

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		data, err := q.Take(ctx)
		if err != nil {
			t.Errorf("take: %v", err)
			return
		}
		if string(data) != "late" {
			t.Errorf("take: got %q, want %q", data, "late")
		}
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := q.Offer([]byte("late")); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("take() deadlocked past its bounded wakeup")
	}
}

func TestBaseQueue_Remove_EmptyQueueErrors(t *testing.T) {
	conn := zkclient.NewFake()
	mustDir(t, conn, "/jobs")
	q, err := NewBaseQueue(conn, "/jobs", 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := q.Remove(); err != ErrNoSuchElement {
		t.Fatalf("got %v, want ErrNoSuchElement", err)
	}
}

func TestBaseQueue_PeekElements_Filters(t *testing.T) {
	conn := zkclient.NewFake()
	mustDir(t, conn, "/jobs")
	q, err := NewBaseQueue(conn, "/jobs", 0)
	if err != nil {
		t.Fatal(err)
	}

	var middle string
	for i, payload := range []string{"keep-1", "skip", "keep-2"} {
		p, err := q.Offer([]byte(payload))
		if err != nil {
			t.Fatal(err)
		}
		if i == 1 {
			middle = p[len("/jobs/"):]
		}
	}

	accept := func(name string) bool { return name != middle }

	els, err := q.PeekElements(context.Background(), 10, -1, accept)
	if err != nil {
		t.Fatal(err)
	}
	if len(els) != 2 {
		t.Fatalf("got %d elements, want 2", len(els))
	}
	for _, el := range els {
		if el.Name == middle {
			t.Fatalf("accept predicate did not exclude %q", middle)
		}
	}
}
