package devrun

import (
	"context"
	"fmt"
	"sync"
	"unicode/utf8"
)

// MockEditor is an in-memory Editor for testing. It implements Notifier:
// every mutation sends a change notification without blocking.
type MockEditor struct {
	mu      sync.Mutex
	doc     Document
	open    bool
	changes chan struct{}
}

// NewMockEditor creates an editor with no open document.
func NewMockEditor() *MockEditor {
	return &MockEditor{changes: make(chan struct{}, 1)}
}

// Active returns the open document.
func (m *MockEditor) Active() (Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc, m.open
}

// Changes returns the change notification channel.
func (m *MockEditor) Changes() <-chan struct{} {
	return m.changes
}

// Open makes a document active, replacing any other.
func (m *MockEditor) Open(name, language, text string) {
	m.update(func() {
		m.doc = Document{Name: name, Language: language, Text: text, Cursor: utf8.RuneCountInString(text)}
		m.open = true
	})
}

// Close leaves the editor without an active document.
func (m *MockEditor) Close() {
	m.update(func() {
		m.doc = Document{}
		m.open = false
	})
}

// SetText replaces the whole text and puts the cursor at its end.
func (m *MockEditor) SetText(text string) {
	m.update(func() {
		m.doc.Text = text
		m.doc.Cursor = utf8.RuneCountInString(text)
	})
}

// Type inserts text at the cursor and advances it.
func (m *MockEditor) Type(text string) {
	m.update(func() {
		runes := []rune(m.doc.Text)
		at := min(max(m.doc.Cursor, 0), len(runes))
		m.doc.Text = string(runes[:at]) + text + string(runes[at:])
		m.doc.Cursor = at + utf8.RuneCountInString(text)
	})
}

// MoveCursor sets the cursor offset.
func (m *MockEditor) MoveCursor(offset int) {
	m.update(func() {
		m.doc.Cursor = offset
	})
}

func (m *MockEditor) update(fn func()) {
	m.mu.Lock()
	fn()
	m.mu.Unlock()

	select {
	case m.changes <- struct{}{}:
	default:
	}
}

// MockClient is an in-memory authority for testing. It implements Client
// and TextSource, applying every received move to the run's text.
type MockClient struct {
	mu        sync.Mutex
	available bool
	nextRun   int
	runs      map[string]*MockRun
	batches   []MoveRequest
}

// MockRun is the state MockClient keeps per run.
type MockRun struct {
	Problem   string
	Category  string
	Text      string
	Submitted bool
	Moves     []Move
}

// NewMockClient creates an available in-memory authority.
func NewMockClient() *MockClient {
	return &MockClient{
		available: true,
		runs:      make(map[string]*MockRun),
	}
}

// SetAvailable sets the availability status (for testing failures).
// An unavailable client fails every call with ErrConnection.
func (m *MockClient) SetAvailable(available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = available
}

// CreateRun registers a run and returns ids "run-1", "run-2", ...
func (m *MockClient) CreateRun(_ context.Context, problem, category string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.available {
		return "", ErrConnection
	}
	m.nextRun++
	id := fmt.Sprintf("run-%d", m.nextRun)
	m.runs[id] = &MockRun{Problem: problem, Category: category}
	return id, nil
}

// SubmitRun marks a run submitted.
func (m *MockClient) SubmitRun(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.available {
		return ErrConnection
	}
	run, ok := m.runs[runID]
	if !ok {
		return &ServerError{Payload: []byte(`"unknown run"`)}
	}
	run.Submitted = true
	return nil
}

// SendMoves records the batch and applies its moves.
func (m *MockClient) SendMoves(_ context.Context, req MoveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.available {
		return ErrConnection
	}
	run, ok := m.runs[req.RunID]
	if !ok {
		return &ServerError{Payload: []byte(`"unknown run"`)}
	}

	moves := make([]Move, len(req.Moves))
	copy(moves, req.Moves)
	req.Moves = moves
	m.batches = append(m.batches, req)

	for _, move := range moves {
		run.Moves = append(run.Moves, move)
		if move.Changes == nil {
			continue
		}
		text, err := move.Changes.Apply(run.Text)
		if err != nil {
			return &ServerError{Payload: []byte(fmt.Sprintf("%q", err.Error()))}
		}
		run.Text = text
	}
	return nil
}

// GetText returns the run's text.
func (m *MockClient) GetText(_ context.Context, runID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.available {
		return "", ErrConnection
	}
	run, ok := m.runs[runID]
	if !ok {
		return "", &ServerError{Payload: []byte(`"unknown run"`)}
	}
	return run.Text, nil
}

// SetText overwrites a run's text, simulating drift on the authority.
func (m *MockClient) SetText(runID, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run, ok := m.runs[runID]; ok {
		run.Text = text
	}
}

// Run returns a copy of a run's state.
func (m *MockClient) Run(runID string) (MockRun, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return MockRun{}, false
	}
	out := *run
	out.Moves = append([]Move(nil), run.Moves...)
	return out, true
}

// Batches returns every batch received, in order.
func (m *MockClient) Batches() []MoveRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MoveRequest, len(m.batches))
	copy(out, m.batches)
	return out
}
