package integration

import (
	"context"
	"testing"
	"time"

	"github.com/zoobzio/devrun"
	drt "github.com/zoobzio/devrun/testing"
)

func fastConfig() devrun.ControllerConfig {
	return devrun.ControllerConfig{
		IdleWindow:         20 * time.Millisecond,
		TextPollInterval:   10 * time.Millisecond,
		CursorPollInterval: 20 * time.Millisecond,
		ReconcileInterval:  time.Hour,
		FinalFlushTimeout:  time.Second,
	}
}

func waitForText(t *testing.T, h *drt.AuthorityHarness, runID, want string) {
	t.Helper()
	ctx := context.Background()
	var got string
	ok := drt.Eventually(3*time.Second, func() bool {
		got, _ = h.Authority.Text(ctx, runID)
		return got == want
	})
	if !ok {
		t.Fatalf("expected authority text %q, got %q", want, got)
	}
}

func TestSession_StreamedRun(t *testing.T) {
	h := drt.NewAuthorityHarness(t)
	client := devrun.NewRPCClient(h.Transport(t))

	editor := devrun.NewMockEditor()
	editor.Open("main.go", "go", "package main\n")

	controller := devrun.NewController(client, editor, fastConfig())
	ctx := context.Background()

	run, err := controller.Start(ctx, "two-sum", devrun.ModeAnyPercent)
	if err != nil {
		t.Fatalf("failed to start run: %v", err)
	}
	if run.ID == "" {
		t.Fatal("expected run id")
	}

	waitForText(t, h, run.ID, "package main\n")

	editor.Type("\nfunc main() {}\n")
	waitForText(t, h, run.ID, "package main\n\nfunc main() {}\n")

	editor.MoveCursor(0)
	editor.Type("// two-sum\n")
	waitForText(t, h, run.ID, "// two-sum\npackage main\n\nfunc main() {}\n")

	if err := controller.Stop(ctx); err != nil {
		t.Fatalf("failed to stop run: %v", err)
	}

	info, err := h.Authority.Info(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run info: %v", err)
	}
	if !info.Submitted {
		t.Error("expected run to be submitted")
	}
	if info.Problem != "two-sum" {
		t.Errorf("expected problem two-sum, got %q", info.Problem)
	}
	if info.Category != devrun.ModeAnyPercent {
		t.Errorf("expected category any%%, got %q", info.Category)
	}
}

func TestSession_FinalFlushOnStop(t *testing.T) {
	h := drt.NewAuthorityHarness(t)
	client := devrun.NewRPCClient(h.Transport(t))

	editor := devrun.NewMockEditor()
	editor.Open("main.go", "go", "")

	cfg := fastConfig()
	cfg.IdleWindow = time.Hour // only the final flush sends
	controller := devrun.NewController(client, editor, cfg)
	ctx := context.Background()

	run, err := controller.Start(ctx, "final-flush", devrun.ModeHundredPercent)
	if err != nil {
		t.Fatalf("failed to start run: %v", err)
	}

	editor.Type("unsent")
	if err := controller.SwitchDocument(ctx); err != nil {
		t.Fatalf("failed to sample: %v", err)
	}

	if err := controller.Stop(ctx); err != nil {
		t.Fatalf("failed to stop run: %v", err)
	}

	text, err := h.Authority.Text(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get text: %v", err)
	}
	if text != "unsent" {
		t.Errorf("expected final flush to deliver %q, got %q", "unsent", text)
	}
}

func TestSession_DocumentSwitchThenReconcile(t *testing.T) {
	h := drt.NewAuthorityHarness(t)
	client := devrun.NewRPCClient(h.Transport(t))

	editor := devrun.NewMockEditor()
	editor.Open("a.go", "go", "first file")

	controller := devrun.NewController(client, editor, fastConfig())
	ctx := context.Background()

	run, err := controller.Start(ctx, "switch", devrun.ModeAnyPercent)
	if err != nil {
		t.Fatalf("failed to start run: %v", err)
	}
	defer func() { _ = controller.Stop(ctx) }()

	waitForText(t, h, run.ID, "first file")

	// the switch only sends a cursor move, so the authority keeps the old text
	editor.Open("b.py", "python", "second")
	time.Sleep(100 * time.Millisecond)

	corrected, err := controller.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if !corrected {
		t.Error("expected a correction after switching documents")
	}
	waitForText(t, h, run.ID, "second")

	corrected, err = controller.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if corrected {
		t.Error("expected no correction once texts agree")
	}
}

func TestSession_RestartRun(t *testing.T) {
	h := drt.NewAuthorityHarness(t)
	client := devrun.NewRPCClient(h.Transport(t))

	editor := devrun.NewMockEditor()
	editor.Open("main.go", "go", "x")

	controller := devrun.NewController(client, editor, fastConfig())
	ctx := context.Background()

	first, err := controller.Start(ctx, "first", devrun.ModeAnyPercent)
	if err != nil {
		t.Fatalf("failed to start first run: %v", err)
	}
	if _, err := controller.Start(ctx, "second", devrun.ModeAnyPercent); err == nil {
		t.Fatal("expected second start to fail while a run is active")
	}
	if err := controller.Stop(ctx); err != nil {
		t.Fatalf("failed to stop first run: %v", err)
	}

	second, err := controller.Start(ctx, "second", devrun.ModeAnyPercent)
	if err != nil {
		t.Fatalf("failed to start second run: %v", err)
	}
	if second.ID == first.ID {
		t.Error("expected a new run id")
	}
	waitForText(t, h, second.ID, "x")

	if err := controller.Stop(ctx); err != nil {
		t.Fatalf("failed to stop second run: %v", err)
	}
}
