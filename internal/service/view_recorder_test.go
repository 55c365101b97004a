package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/inkblog/internal/logging"
)

type fakeViewCounter struct {
	mu      sync.Mutex
	calls   []string
	fail    bool
	release chan struct{}
}

func (f *fakeViewCounter) IncrementViewCount(ctx context.Context, postID string) bool {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, postID)
	return !f.fail
}

func (f *fakeViewCounter) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func TestViewRecorder_DrainsOnClose(t *testing.T) {
	counter := &fakeViewCounter{}
	recorder := NewViewRecorder(counter, logging.Discard(), 8)

	for _, id := range []string{"a", "b", "c"} {
		if !recorder.Record(id) {
			t.Fatalf("expected %s to be queued", id)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := recorder.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := counter.recorded(); len(got) != 3 {
		t.Fatalf("expected 3 recorded views, got %v", got)
	}
	if recorder.Record("late") {
		t.Fatal("expected record after close to be rejected")
	}
}

func TestViewRecorder_DropsWhenQueueFull(t *testing.T) {
	counter := &fakeViewCounter{release: make(chan struct{})}
	recorder := NewViewRecorder(counter, logging.Discard(), 1)

	// 第一条被 worker 取走并阻塞，第二条占满队列
	recorder.Record("first")
	deadline := time.Now().Add(time.Second)
	for !recorder.Record("second") {
		if time.Now().After(deadline) {
			t.Fatal("queue never accepted the second view")
		}
		time.Sleep(time.Millisecond)
	}

	dropped := false
	for i := 0; i < 10; i++ {
		if !recorder.Record("overflow") {
			dropped = true
			break
		}
	}
	if !dropped {
		t.Fatal("expected a full queue to drop views without blocking")
	}

	close(counter.release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := recorder.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestViewRecorder_FailuresAreNotSurfaced(t *testing.T) {
	counter := &fakeViewCounter{fail: true}
	recorder := NewViewRecorder(counter, logging.Discard(), 4)

	if !recorder.Record("broken") {
		t.Fatal("expected view to be queued even if the store later fails")
	}
	if err := recorder.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := counter.recorded(); len(got) != 1 {
		t.Fatalf("expected one attempt, got %v", got)
	}
}

func TestViewRecorder_CloseHonoursContext(t *testing.T) {
	counter := &fakeViewCounter{release: make(chan struct{})}
	recorder := NewViewRecorder(counter, logging.Discard(), 4)
	recorder.Record("stuck")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := recorder.Close(ctx); err == nil {
		t.Fatal("expected close to give up when the worker is stuck")
	}
	close(counter.release)
}
