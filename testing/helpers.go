// Package testing provides utilities for testing devrun sessions.
package testing

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"

	"github.com/zoobzio/devrun"
)

// MoveBuilder provides a fluent interface for constructing move sequences.
// Ids are assigned in order starting at the configured first id.
type MoveBuilder struct {
	next   int
	cursor int
	moves  []devrun.Move
}

// NewMoveBuilder creates a MoveBuilder numbering from 0.
func NewMoveBuilder() *MoveBuilder {
	return &MoveBuilder{}
}

// From sets the id of the next move.
func (b *MoveBuilder) From(id int) *MoveBuilder {
	b.next = id
	return b
}

// Insert adds a move inserting text at offset.
func (b *MoveBuilder) Insert(at int, text string) *MoveBuilder {
	b.cursor = at + len([]rune(text))
	return b.add(&devrun.Span{From: at, To: at, Insert: text})
}

// Delete adds a move removing [from, to).
func (b *MoveBuilder) Delete(from, to int) *MoveBuilder {
	b.cursor = from
	return b.add(&devrun.Span{From: from, To: to})
}

// Replace adds a move replacing [from, to) with text.
func (b *MoveBuilder) Replace(from, to int, text string) *MoveBuilder {
	b.cursor = from + len([]rune(text))
	return b.add(&devrun.Span{From: from, To: to, Insert: text})
}

// Cursor adds a cursor-only move.
func (b *MoveBuilder) Cursor(offset int) *MoveBuilder {
	b.cursor = offset
	return b.add(nil)
}

func (b *MoveBuilder) add(span *devrun.Span) *MoveBuilder {
	b.moves = append(b.moves, devrun.Move{MoveID: b.next, Cursor: b.cursor, Changes: span})
	b.next++
	return b
}

// Build returns the moves.
func (b *MoveBuilder) Build() []devrun.Move {
	out := make([]devrun.Move, len(b.moves))
	copy(out, b.moves)
	return out
}

// FailingClient fails SendMoves a specified number of times before
// delegating to the wrapped client. Other calls are delegated untouched.
type FailingClient struct {
	devrun.Client
	failCount    int
	currentCount atomic.Int64
	failError    error
}

// NewFailingClient wraps client so that the first failCount sends fail.
func NewFailingClient(client devrun.Client, failCount int) *FailingClient {
	return &FailingClient{
		Client:    client,
		failCount: failCount,
		failError: devrun.ErrConnection,
	}
}

// WithFailError sets the error failures wrap.
func (c *FailingClient) WithFailError(err error) *FailingClient {
	c.failError = err
	return c
}

// SendMoves fails until failCount is reached, then delegates.
func (c *FailingClient) SendMoves(ctx context.Context, req devrun.MoveRequest) error {
	count := c.currentCount.Add(1)
	if int(count) <= c.failCount {
		return fmt.Errorf("%w: simulated failure (attempt %d/%d)", c.failError, count, c.failCount)
	}
	return c.Client.SendMoves(ctx, req)
}

// CallCount returns the number of sends attempted.
func (c *FailingClient) CallCount() int {
	return int(c.currentCount.Load())
}

// Reset resets the send counter.
func (c *FailingClient) Reset() {
	c.currentCount.Store(0)
}

// RecordingClient wraps a client and records every batch sent through it,
// whether or not the wrapped client accepted it.
type RecordingClient struct {
	devrun.Client
	batches []devrun.MoveRequest
	mu      sync.Mutex
}

// NewRecordingClient wraps client with batch recording.
func NewRecordingClient(client devrun.Client) *RecordingClient {
	return &RecordingClient{
		Client:  client,
		batches: make([]devrun.MoveRequest, 0),
	}
}

// SendMoves records the batch and delegates.
func (r *RecordingClient) SendMoves(ctx context.Context, req devrun.MoveRequest) error {
	moves := make([]devrun.Move, len(req.Moves))
	copy(moves, req.Moves)
	recorded := req
	recorded.Moves = moves

	r.mu.Lock()
	r.batches = append(r.batches, recorded)
	r.mu.Unlock()

	return r.Client.SendMoves(ctx, req)
}

// GetText delegates when the wrapped client is a TextSource.
func (r *RecordingClient) GetText(ctx context.Context, runID string) (string, error) {
	source, ok := r.Client.(devrun.TextSource)
	if !ok {
		return "", devrun.ErrNotSupported
	}
	return source.GetText(ctx, runID)
}

// Batches returns a copy of all recorded batches.
func (r *RecordingClient) Batches() []devrun.MoveRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	batches := make([]devrun.MoveRequest, len(r.batches))
	copy(batches, r.batches)
	return batches
}

// Moves returns every recorded move, batch after batch.
func (r *RecordingClient) Moves() []devrun.Move {
	r.mu.Lock()
	defer r.mu.Unlock()

	var moves []devrun.Move
	for _, b := range r.batches {
		moves = append(moves, b.Moves...)
	}
	return moves
}

// BatchCount returns the number of batches recorded.
func (r *RecordingClient) BatchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

// Reset clears all recorded batches.
func (r *RecordingClient) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = make([]devrun.MoveRequest, 0)
}

// LatencyClient wraps a client and delays every send.
type LatencyClient struct {
	devrun.Client
	delay time.Duration
}

// NewLatencyClient wraps client with artificial delay.
// The delay is applied before each send and respects context cancellation.
func NewLatencyClient(client devrun.Client, delay time.Duration) *LatencyClient {
	return &LatencyClient{
		Client: client,
		delay:  delay,
	}
}

// SendMoves adds latency then delegates.
func (c *LatencyClient) SendMoves(ctx context.Context, req devrun.MoveRequest) error {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.Client.SendMoves(ctx, req)
}

// LossyClient reports the first lossCount sends as delivered without
// delivering them, leaving the authority behind the editor.
type LossyClient struct {
	devrun.Client
	lossCount    int
	currentCount atomic.Int64
}

// NewLossyClient wraps client so that the first lossCount sends are lost.
func NewLossyClient(client devrun.Client, lossCount int) *LossyClient {
	return &LossyClient{Client: client, lossCount: lossCount}
}

// SendMoves drops the batch until lossCount is reached, then delegates.
func (c *LossyClient) SendMoves(ctx context.Context, req devrun.MoveRequest) error {
	if int(c.currentCount.Add(1)) <= c.lossCount {
		return nil
	}
	return c.Client.SendMoves(ctx, req)
}

// GetText delegates when the wrapped client is a TextSource.
func (c *LossyClient) GetText(ctx context.Context, runID string) (string, error) {
	source, ok := c.Client.(devrun.TextSource)
	if !ok {
		return "", devrun.ErrNotSupported
	}
	return source.GetText(ctx, runID)
}

// GatedClient holds every send until it is released, so tests can act
// while a flush is in flight.
type GatedClient struct {
	devrun.Client
	entered chan struct{}
	gate    chan struct{}
}

// NewGatedClient wraps client with a gate on SendMoves.
func NewGatedClient(client devrun.Client) *GatedClient {
	return &GatedClient{
		Client:  client,
		entered: make(chan struct{}, 64),
		gate:    make(chan struct{}),
	}
}

// SendMoves signals entry, waits for the gate and delegates.
func (c *GatedClient) SendMoves(ctx context.Context, req devrun.MoveRequest) error {
	c.entered <- struct{}{}
	select {
	case <-c.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.Client.SendMoves(ctx, req)
}

// Entered is signalled each time a send reaches the gate.
func (c *GatedClient) Entered() <-chan struct{} {
	return c.entered
}

// Release opens the gate for good.
func (c *GatedClient) Release() {
	close(c.gate)
}

// EventRecorder records devrun hook events.
type EventRecorder struct {
	stop   func()
	mu     sync.Mutex
	counts map[capitan.Signal]int
	order  []capitan.Signal
}

// NewEventRecorder starts observing every signal. Close stops it.
func NewEventRecorder() *EventRecorder {
	r := &EventRecorder{counts: make(map[capitan.Signal]int)}
	listener := capitan.Observe(func(_ context.Context, e *capitan.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.counts[e.Signal()]++
		r.order = append(r.order, e.Signal())
	})
	r.stop = func() { listener.Close() }
	return r
}

// Count returns how often signal was seen.
func (r *EventRecorder) Count(signal capitan.Signal) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[signal]
}

// Signals returns every signal seen, in arrival order.
func (r *EventRecorder) Signals() []capitan.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]capitan.Signal, len(r.order))
	copy(out, r.order)
	return out
}

// WaitFor waits until signal was seen at least n times.
func (r *EventRecorder) WaitFor(signal capitan.Signal, n int, timeout time.Duration) bool {
	return Eventually(timeout, func() bool { return r.Count(signal) >= n })
}

// Close stops observing.
func (r *EventRecorder) Close() {
	r.stop()
}

// Eventually polls cond every few milliseconds until it holds or timeout
// passes. It reports whether cond held.
func Eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}
