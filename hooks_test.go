package devrun

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/capitan"
)

func waitGroup(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for hook")
	}
}

// TestFlushHooks verifies that a flush emits started and completed with its fields.
func TestFlushHooks(t *testing.T) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var startedRun, startedFile, completedFlush string
	var startedMoves, startedLastMove int
	var startedOnce, completedOnce sync.Once

	client, runID := newMockRun(t)

	wg.Add(2)
	started := capitan.Hook(FlushStarted, func(_ context.Context, e *capitan.Event) {
		if id, _ := RunIDKey.From(e); id != runID {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		startedOnce.Do(func() {
			startedRun, _ = RunIDKey.From(e)
			startedFile, _ = FileKey.From(e)
			startedMoves, _ = MoveCountKey.From(e)
			startedLastMove, _ = MoveIDKey.From(e)
			wg.Done()
		})
	})
	defer started.Close()
	completed := capitan.Hook(FlushCompleted, func(_ context.Context, e *capitan.Event) {
		if id, _ := RunIDKey.From(e); id != runID {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		completedOnce.Do(func() {
			completedFlush, _ = RequestIDKey.From(e)
			wg.Done()
		})
	})
	defer completed.Close()

	editor := NewMockEditor()
	editor.Open("main.go", "go", "")
	batcher := NewBatcher(runID, client, editor, BatcherConfig{IdleWindow: time.Hour})
	batcher.Append(cursorMoves(1, 2, 3)...)
	if err := batcher.Flush(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	waitGroup(t, &wg)

	mu.Lock()
	defer mu.Unlock()
	if startedRun != runID {
		t.Errorf("Expected run %q, got %q", runID, startedRun)
	}
	if startedLastMove != 2 {
		t.Errorf("Expected last move id 2, got %d", startedLastMove)
	}
	if startedFile != "main.go" {
		t.Errorf("Expected file 'main.go', got %q", startedFile)
	}
	if startedMoves != 3 {
		t.Errorf("Expected 3 moves, got %d", startedMoves)
	}
	if completedFlush == "" {
		t.Error("Flush ID was not set in hook")
	}
}

// TestFlushFailedHook verifies that a failed flush reports its error.
func TestFlushFailedHook(t *testing.T) {
	var wg sync.WaitGroup
	var errorReceived string
	var once sync.Once

	client, runID := newMockRun(t)
	client.SetAvailable(false)

	wg.Add(1)
	listener := capitan.Hook(FlushFailed, func(_ context.Context, e *capitan.Event) {
		if id, _ := RunIDKey.From(e); id != runID {
			return
		}
		once.Do(func() {
			errorReceived, _ = ErrorKey.From(e)
			wg.Done()
		})
	})
	defer listener.Close()

	batcher := NewBatcher(runID, client, nil, BatcherConfig{IdleWindow: time.Hour})
	batcher.Append(cursorMoves(1)...)
	_ = batcher.Flush(context.Background())

	waitGroup(t, &wg)

	if !strings.Contains(errorReceived, ErrConnection.Error()) {
		t.Errorf("Expected error to mention %q, got %q", ErrConnection.Error(), errorReceived)
	}
}

// TestRunHooks verifies that start and stop are reported with the run's identity.
func TestRunHooks(t *testing.T) {
	var wg sync.WaitGroup
	var problemReceived, modeReceived string
	var stopped bool

	client := NewMockClient()
	controller := NewController(client, NewMockEditor(), fastControllerConfig())

	wg.Add(2)
	start := capitan.Hook(RunStarted, func(_ context.Context, e *capitan.Event) {
		if p, _ := ProblemKey.From(e); p != "hooked-run" {
			return
		}
		problemReceived, _ = ProblemKey.From(e)
		modeReceived, _ = ModeKey.From(e)
		wg.Done()
	})
	defer start.Close()
	stop := capitan.Hook(RunStopped, func(_ context.Context, e *capitan.Event) {
		if p, _ := ProblemKey.From(e); p != "hooked-run" {
			return
		}
		stopped = true
		wg.Done()
	})
	defer stop.Close()

	ctx := context.Background()
	if _, err := controller.Start(ctx, "hooked-run", ModeHundredPercent); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := controller.Stop(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	waitGroup(t, &wg)

	if problemReceived != "hooked-run" {
		t.Errorf("Expected problem 'hooked-run', got %q", problemReceived)
	}
	if modeReceived != ModeHundredPercent {
		t.Errorf("Expected mode %q, got %q", ModeHundredPercent, modeReceived)
	}
	if !stopped {
		t.Error("run.stopped hook was not called")
	}
}

// TestReconcileCorrectedHook verifies that corrections report both lengths.
func TestReconcileCorrectedHook(t *testing.T) {
	var wg sync.WaitGroup
	var localLen, serverLen int
	var once sync.Once

	f := newObserverFixture(t)
	f.editor.Open("main.go", "go", "abcd")
	f.sync(t)
	f.client.SetText(f.runID, "xy")

	wg.Add(1)
	listener := capitan.Hook(ReconcileCorrected, func(_ context.Context, e *capitan.Event) {
		if id, _ := RunIDKey.From(e); id != f.runID {
			return
		}
		once.Do(func() {
			localLen, _ = LocalLengthKey.From(e)
			serverLen, _ = ServerLengthKey.From(e)
			wg.Done()
		})
	})
	defer listener.Close()

	r := NewReconciler(f.runID, f.client, f.obs, f.batcher, time.Hour, f.clock)
	if _, err := r.Check(context.Background()); err != nil {
		t.Fatalf("check failed: %v", err)
	}

	waitGroup(t, &wg)

	if localLen != 4 || serverLen != 2 {
		t.Errorf("Expected lengths 4 and 2, got %d and %d", localLen, serverLen)
	}
}

// TestHooksWithObserver verifies that observers can capture all hook events.
func TestHooksWithObserver(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[capitan.Signal]bool)

	observer := capitan.Observe(func(_ context.Context, e *capitan.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen[e.Signal()] = true
	})
	defer observer.Close()

	f := newObserverFixture(t)
	f.editor.Open("main.go", "go", "observed")
	f.sync(t)

	ok := eventually(2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[MoveCaptured] && seen[FlushStarted] && seen[FlushCompleted]
	})
	if !ok {
		t.Errorf("Expected move and flush events, got %v", seen)
	}
}
