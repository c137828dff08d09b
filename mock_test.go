package devrun

import (
	"context"
	"errors"
	"testing"
)

func TestMockEditor(t *testing.T) {
	t.Run("no document", func(t *testing.T) {
		editor := NewMockEditor()
		if _, ok := editor.Active(); ok {
			t.Error("Expected no active document")
		}
	})

	t.Run("typing", func(t *testing.T) {
		editor := NewMockEditor()
		editor.Open("a.txt", "plaintext", "hé")
		editor.MoveCursor(1)
		editor.Type("xy")

		doc, ok := editor.Active()
		if !ok {
			t.Fatal("Expected active document")
		}
		if doc.Text != "hxyé" {
			t.Errorf("Expected 'hxyé', got %q", doc.Text)
		}
		if doc.Cursor != 3 {
			t.Errorf("Expected cursor 3, got %d", doc.Cursor)
		}
	})

	t.Run("notifications", func(t *testing.T) {
		editor := NewMockEditor()
		editor.Open("a.txt", "plaintext", "")
		editor.SetText("one")
		editor.SetText("two")

		select {
		case <-editor.Changes():
		default:
			t.Fatal("Expected a pending notification")
		}
		select {
		case <-editor.Changes():
			t.Error("Expected notifications to coalesce")
		default:
		}
	})

	t.Run("close", func(t *testing.T) {
		editor := NewMockEditor()
		editor.Open("a.txt", "plaintext", "x")
		editor.Close()
		if _, ok := editor.Active(); ok {
			t.Error("Expected no active document after close")
		}
	})
}

func TestMockClient(t *testing.T) {
	t.Run("applies moves", func(t *testing.T) {
		client := NewMockClient()
		ctx := context.Background()
		runID, err := client.CreateRun(ctx, "two-sum", ModeAnyPercent)
		if err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
		if runID != "run-1" {
			t.Errorf("Expected 'run-1', got %q", runID)
		}

		err = client.SendMoves(ctx, MoveRequest{RunID: runID, Moves: []Move{
			{MoveID: 0, Changes: &Span{From: 0, To: 0, Insert: "hello"}},
			{MoveID: 1, Cursor: 2},
			{MoveID: 2, Changes: &Span{From: 5, To: 5, Insert: "!"}},
		}})
		if err != nil {
			t.Fatalf("SendMoves failed: %v", err)
		}

		text, _ := client.GetText(ctx, runID)
		if text != "hello!" {
			t.Errorf("Expected 'hello!', got %q", text)
		}
		run, _ := client.Run(runID)
		if len(run.Moves) != 3 {
			t.Errorf("Expected 3 moves, got %d", len(run.Moves))
		}
	})

	t.Run("unknown run", func(t *testing.T) {
		client := NewMockClient()
		var serverErr *ServerError
		if err := client.SubmitRun(context.Background(), "nope"); !errors.As(err, &serverErr) {
			t.Errorf("Expected ServerError, got %v", err)
		}
	})

	t.Run("invalid span", func(t *testing.T) {
		client := NewMockClient()
		ctx := context.Background()
		runID, _ := client.CreateRun(ctx, "two-sum", ModeAnyPercent)
		err := client.SendMoves(ctx, MoveRequest{RunID: runID, Moves: []Move{{Changes: &Span{From: 3, To: 4}}}})
		var serverErr *ServerError
		if !errors.As(err, &serverErr) {
			t.Errorf("Expected ServerError, got %v", err)
		}
	})

	t.Run("unavailable", func(t *testing.T) {
		client := NewMockClient()
		client.SetAvailable(false)
		if _, err := client.CreateRun(context.Background(), "two-sum", ModeAnyPercent); !errors.Is(err, ErrConnection) {
			t.Errorf("Expected ErrConnection, got %v", err)
		}
	})

	t.Run("submit and drift", func(t *testing.T) {
		client := NewMockClient()
		ctx := context.Background()
		runID, _ := client.CreateRun(ctx, "two-sum", ModeHundredPercent)
		client.SetText(runID, "drift")
		if err := client.SubmitRun(ctx, runID); err != nil {
			t.Fatalf("SubmitRun failed: %v", err)
		}

		run, ok := client.Run(runID)
		if !ok {
			t.Fatal("Expected run to exist")
		}
		if !run.Submitted || run.Text != "drift" || run.Category != ModeHundredPercent {
			t.Errorf("Unexpected run state %+v", run)
		}
	})
}
