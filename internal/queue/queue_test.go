package queue

import (
	"sync"
	"testing"
)

func TestQueue_DropOldest(t *testing.T) {
	q := New[int](100)
	for i := 1; i <= 150; i++ {
		q.Push(i)
	}

	if q.Len() != 100 {
		t.Fatalf("expected len 100, got %d", q.Len())
	}
	if q.Dropped() != 50 {
		t.Errorf("expected 50 dropped, got %d", q.Dropped())
	}

	got := q.Drain()
	for i, v := range got {
		if v != i+51 {
			t.Fatalf("position %d: expected %d, got %d", i, i+51, v)
		}
	}
}

func TestQueue_NeverExceedsCapacity(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		pushes   int
	}{
		{"under capacity", 10, 3},
		{"exactly capacity", 10, 10},
		{"one over", 10, 11},
		{"many over", 3, 1000},
		{"capacity one", 1, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New[int](tt.capacity)
			for i := 0; i < tt.pushes; i++ {
				q.Push(i)
				if q.Len() > tt.capacity {
					t.Fatalf("len %d exceeds capacity %d after push %d", q.Len(), tt.capacity, i)
				}
			}

			got := q.Drain()
			start := tt.pushes - len(got)
			for i, v := range got {
				if v != start+i {
					t.Errorf("expected most recent pushes in order: position %d = %d, want %d", i, v, start+i)
				}
			}
		})
	}
}

func TestQueue_DrainTwice(t *testing.T) {
	q := New[string](5)
	q.Push("a")
	q.Push("b")

	first := q.Drain()
	if len(first) != 2 {
		t.Fatalf("expected 2 items, got %d", len(first))
	}
	second := q.Drain()
	if len(second) != 0 {
		t.Errorf("expected empty second drain, got %v", second)
	}
	if !q.IsEmpty() {
		t.Error("queue should be empty after drain")
	}
}

func TestQueue_PushFrontKeepsOrder(t *testing.T) {
	q := New[int](5)
	q.Push(1)
	q.Push(2)
	batch := q.Drain()

	q.Push(3)
	q.PushFront(batch)

	got := q.Drain()
	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
			break
		}
	}
}

func TestQueue_PushFrontOverflowEvictsRequeuedFirst(t *testing.T) {
	q := New[int](3)
	q.Push(4)
	q.Push(5)

	dropped := q.PushFront([]int{1, 2, 3})
	if dropped != 2 {
		t.Errorf("expected 2 evictions, got %d", dropped)
	}

	got := q.Drain()
	want := []int{3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestQueue_ZeroCapacityUsesDefault(t *testing.T) {
	q := New[int](0)
	if q.Cap() != DefaultCapacity {
		t.Errorf("expected default capacity %d, got %d", DefaultCapacity, q.Cap())
	}
}

func TestQueue_ConcurrentPushDrainNoLossNoDup(t *testing.T) {
	const producers = 8
	const perProducer = 500
	q := New[int](producers * perProducer)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(base + i)
			}
		}(p * perProducer)
	}

	seen := make(map[int]int)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	collect := func() {
		for _, v := range q.Drain() {
			seen[v]++
		}
	}
loop:
	for {
		select {
		case <-done:
			break loop
		default:
			collect()
		}
	}
	collect()

	if len(seen) != producers*perProducer {
		t.Fatalf("expected %d distinct items, got %d", producers*perProducer, len(seen))
	}
	for v, n := range seen {
		if n != 1 {
			t.Fatalf("item %d seen %d times", v, n)
		}
	}
}

func BenchmarkQueue_PushAtCapacity(b *testing.B) {
	q := New[int](100)
	for i := 0; i < 100; i++ {
		q.Push(i)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		q.Push(i)
	}
}
