package testing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/devrun"
)

func newRun(t *testing.T, client devrun.Client) string {
	t.Helper()
	runID, err := client.CreateRun(context.Background(), "two-sum", devrun.ModeAnyPercent)
	if err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	return runID
}

func TestMoveBuilder_NumbersInOrder(t *testing.T) {
	moves := NewMoveBuilder().
		From(3).
		Insert(0, "abc").
		Delete(1, 2).
		Replace(0, 1, "x").
		Cursor(2).
		Build()

	if len(moves) != 4 {
		t.Fatalf("expected 4 moves, got %d", len(moves))
	}
	for i, m := range moves {
		if m.MoveID != 3+i {
			t.Errorf("move %d: expected id %d, got %d", i, 3+i, m.MoveID)
		}
	}
	if moves[0].Cursor != 3 {
		t.Errorf("expected cursor after insert at 3, got %d", moves[0].Cursor)
	}
	if moves[3].Changes != nil {
		t.Errorf("expected cursor-only move, got %+v", moves[3].Changes)
	}

	text, err := "", error(nil)
	for _, m := range moves {
		if m.Changes == nil {
			continue
		}
		if text, err = m.Changes.Apply(text); err != nil {
			t.Fatalf("failed to apply: %v", err)
		}
	}
	if text != "xc" {
		t.Errorf("expected %q, got %q", "xc", text)
	}
}

func TestFailingClient_FailsThenSucceeds(t *testing.T) {
	inner := devrun.NewMockClient()
	client := NewFailingClient(inner, 2)
	runID := newRun(t, client)
	ctx := context.Background()

	req := devrun.MoveRequest{RunID: runID, Moves: NewMoveBuilder().Insert(0, "a").Build()}

	// First two calls should fail
	for i := 0; i < 2; i++ {
		err := client.SendMoves(ctx, req)
		if !errors.Is(err, devrun.ErrConnection) {
			t.Errorf("call %d: expected ErrConnection, got %v", i, err)
		}
	}

	if err := client.SendMoves(ctx, req); err != nil {
		t.Fatalf("call 3: expected success, got error: %v", err)
	}
	if client.CallCount() != 3 {
		t.Errorf("expected 3 calls, got %d", client.CallCount())
	}
	if len(inner.Batches()) != 1 {
		t.Errorf("expected 1 delivered batch, got %d", len(inner.Batches()))
	}
}

func TestFailingClient_Reset(t *testing.T) {
	client := NewFailingClient(devrun.NewMockClient(), 1).WithFailError(devrun.ErrRequestTimeout)
	runID := newRun(t, client)
	ctx := context.Background()
	req := devrun.MoveRequest{RunID: runID}

	_ = client.SendMoves(ctx, req) // fail
	_ = client.SendMoves(ctx, req) // succeed

	client.Reset()

	if client.CallCount() != 0 {
		t.Errorf("expected call count 0 after reset, got %d", client.CallCount())
	}
	if err := client.SendMoves(ctx, req); !errors.Is(err, devrun.ErrRequestTimeout) {
		t.Errorf("expected ErrRequestTimeout after reset, got %v", err)
	}
}

func TestRecordingClient_RecordsBatches(t *testing.T) {
	recorder := NewRecordingClient(devrun.NewMockClient())
	runID := newRun(t, recorder)
	ctx := context.Background()

	moves := NewMoveBuilder().Insert(0, "hi").Cursor(1).Build()
	if err := recorder.SendMoves(ctx, devrun.MoveRequest{RunID: runID, Moves: moves}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	moves[0].Cursor = 99 // recorded copy must not change

	batches := recorder.Batches()
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	if batches[0].Moves[0].Cursor != 2 {
		t.Errorf("expected recorded cursor 2, got %d", batches[0].Moves[0].Cursor)
	}
	if len(recorder.Moves()) != 2 {
		t.Errorf("expected 2 moves, got %d", len(recorder.Moves()))
	}

	text, err := recorder.GetText(ctx, runID)
	if err != nil {
		t.Fatalf("get text failed: %v", err)
	}
	if text != "hi" {
		t.Errorf("expected %q, got %q", "hi", text)
	}

	recorder.Reset()
	if recorder.BatchCount() != 0 {
		t.Errorf("expected 0 batches after reset, got %d", recorder.BatchCount())
	}
}

func TestRecordingClient_ConcurrentSafety(t *testing.T) {
	recorder := NewRecordingClient(devrun.NewMockClient())
	runID := newRun(t, recorder)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = recorder.SendMoves(ctx, devrun.MoveRequest{RunID: runID, Moves: NewMoveBuilder().Cursor(0).Build()})
		}()
	}
	wg.Wait()

	if recorder.BatchCount() != 100 {
		t.Errorf("expected 100 batches, got %d", recorder.BatchCount())
	}
}

func TestLossyClient_LosesFirstBatches(t *testing.T) {
	inner := devrun.NewMockClient()
	client := NewLossyClient(inner, 1)
	runID := newRun(t, client)
	ctx := context.Background()

	if err := client.SendMoves(ctx, devrun.MoveRequest{RunID: runID, Moves: NewMoveBuilder().Insert(0, "lost").Build()}); err != nil {
		t.Fatalf("expected lost send to report success, got %v", err)
	}
	if err := client.SendMoves(ctx, devrun.MoveRequest{RunID: runID, Moves: NewMoveBuilder().From(1).Insert(0, "kept").Build()}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	text, _ := client.GetText(ctx, runID)
	if text != "kept" {
		t.Errorf("expected %q, got %q", "kept", text)
	}
}

func TestLatencyClient_AddsLatency(t *testing.T) {
	client := NewLatencyClient(devrun.NewMockClient(), 50*time.Millisecond)
	runID := newRun(t, client)

	start := time.Now()
	err := client.SendMoves(context.Background(), devrun.MoveRequest{RunID: runID})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if elapsed < 50*time.Millisecond {
		t.Errorf("expected at least 50ms latency, got %v", elapsed)
	}
}

func TestLatencyClient_RespectsContextCancellation(t *testing.T) {
	client := NewLatencyClient(devrun.NewMockClient(), time.Second)
	runID := newRun(t, client)

	ctx, cancel := context.WithCancel(context.Background())

	// Cancel after 50ms
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := client.SendMoves(ctx, devrun.MoveRequest{RunID: runID})
	elapsed := time.Since(start)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation error, got %v", err)
	}
	if elapsed > 200*time.Millisecond {
		t.Errorf("context cancellation should have been faster, took %v", elapsed)
	}
}

func TestGatedClient_HoldsUntilRelease(t *testing.T) {
	inner := devrun.NewMockClient()
	client := NewGatedClient(inner)
	runID := newRun(t, client)

	done := make(chan error, 1)
	go func() {
		done <- client.SendMoves(context.Background(), devrun.MoveRequest{RunID: runID})
	}()

	select {
	case <-client.Entered():
	case <-time.After(time.Second):
		t.Fatal("expected send to reach the gate")
	}
	select {
	case <-done:
		t.Fatal("expected send to wait for release")
	case <-time.After(20 * time.Millisecond):
	}

	client.Release()
	if err := <-done; err != nil {
		t.Errorf("expected success after release, got %v", err)
	}
	if len(inner.Batches()) != 1 {
		t.Errorf("expected 1 batch, got %d", len(inner.Batches()))
	}
}

func TestEventRecorder_CountsSignals(t *testing.T) {
	recorder := NewEventRecorder()
	defer recorder.Close()

	batcher := devrun.NewBatcher("run-x", devrun.NewMockClient(), nil, devrun.BatcherConfig{IdleWindow: time.Hour})
	batcher.Append(devrun.Move{})
	_ = batcher.Flush(context.Background()) // unknown run: fails

	if !recorder.WaitFor(devrun.FlushFailed, 1, time.Second) {
		t.Fatalf("expected FlushFailed, got %v", recorder.Signals())
	}
	if !recorder.WaitFor(devrun.FlushStarted, 1, time.Second) {
		t.Errorf("expected FlushStarted, got %v", recorder.Signals())
	}
}

func TestEventually(t *testing.T) {
	calls := 0
	if !Eventually(time.Second, func() bool { calls++; return calls == 3 }) {
		t.Error("expected condition to hold")
	}
	if Eventually(20*time.Millisecond, func() bool { return false }) {
		t.Error("expected timeout")
	}
}
