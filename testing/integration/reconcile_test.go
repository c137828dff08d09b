package integration

import (
	"context"
	"testing"
	"time"

	"github.com/zoobzio/devrun"
	drt "github.com/zoobzio/devrun/testing"
)

func TestReconcile_LostBatchIsCorrected(t *testing.T) {
	h := drt.NewAuthorityHarness(t)
	client := drt.NewLossyClient(devrun.NewRPCClient(h.Transport(t)), 1)

	editor := devrun.NewMockEditor()
	editor.Open("main.go", "go", "local text")

	cfg := fastConfig()
	cfg.ReconcileInterval = 50 * time.Millisecond
	controller := devrun.NewController(client, editor, cfg)
	ctx := context.Background()

	recorder := drt.NewEventRecorder()
	defer recorder.Close()

	run, err := controller.Start(ctx, "drift", devrun.ModeAnyPercent)
	if err != nil {
		t.Fatalf("failed to start run: %v", err)
	}
	defer func() { _ = controller.Stop(ctx) }()

	if !recorder.WaitFor(devrun.ReconcileCorrected, 1, 3*time.Second) {
		t.Fatal("expected a reconcile correction")
	}
	waitForText(t, h, run.ID, "local text")

	editor.Type(" and more")
	waitForText(t, h, run.ID, "local text and more")
}

func TestReconcile_NoCorrectionWhenInSync(t *testing.T) {
	h := drt.NewAuthorityHarness(t)
	client := devrun.NewRPCClient(h.Transport(t))

	editor := devrun.NewMockEditor()
	editor.Open("main.go", "go", "same")

	controller := devrun.NewController(client, editor, fastConfig())
	ctx := context.Background()

	run, err := controller.Start(ctx, "in-sync", devrun.ModeAnyPercent)
	if err != nil {
		t.Fatalf("failed to start run: %v", err)
	}
	defer func() { _ = controller.Stop(ctx) }()

	waitForText(t, h, run.ID, "same")

	for i := 0; i < 3; i++ {
		corrected, err := controller.Reconcile(ctx)
		if err != nil {
			t.Fatalf("reconcile %d failed: %v", i, err)
		}
		if corrected {
			t.Errorf("reconcile %d: expected no correction", i)
		}
	}
}

func TestReconcile_NotSupportedOverHTTP(t *testing.T) {
	h := drt.NewAuthorityHarness(t)

	editor := devrun.NewMockEditor()
	editor.Open("main.go", "go", "x")

	controller := devrun.NewController(h.HTTPClient(), editor, fastConfig())
	ctx := context.Background()

	if _, err := controller.Start(ctx, "plain", devrun.ModeAnyPercent); err != nil {
		t.Fatalf("failed to start run: %v", err)
	}
	defer func() { _ = controller.Stop(ctx) }()

	if _, err := controller.Reconcile(ctx); err != devrun.ErrNotSupported {
		t.Errorf("expected ErrNotSupported, got %v", err)
	}
}
