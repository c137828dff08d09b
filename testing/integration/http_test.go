package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/zoobzio/devrun"
	drt "github.com/zoobzio/devrun/testing"
)

func TestHTTP_PlainRequestRun(t *testing.T) {
	h := drt.NewAuthorityHarness(t)

	editor := devrun.NewMockEditor()
	editor.Open("solution.py", "python", "def solve():\n")

	controller := devrun.NewController(h.HTTPClient(), editor, fastConfig())
	ctx := context.Background()

	run, err := controller.Start(ctx, "valid-parentheses", devrun.ModeHundredPercent)
	if err != nil {
		t.Fatalf("failed to start run: %v", err)
	}
	waitForText(t, h, run.ID, "def solve():\n")

	editor.Type("    return True\n")
	waitForText(t, h, run.ID, "def solve():\n    return True\n")

	if err := controller.Stop(ctx); err != nil {
		t.Fatalf("failed to stop run: %v", err)
	}
	info, err := h.Authority.Info(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get info: %v", err)
	}
	if !info.Submitted {
		t.Error("expected run to be submitted")
	}
}

func TestHTTP_RejectedCredential(t *testing.T) {
	h := drt.NewAuthorityHarness(t)
	client := devrun.NewHTTPClient(devrun.HTTPConfig{
		BaseURL:     h.URL(),
		Credentials: devrun.StaticCredential("session=wrong"),
	})

	_, err := client.CreateRun(context.Background(), "two-sum", devrun.ModeAnyPercent)
	var serverErr *devrun.ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected ServerError, got %v", err)
	}
	if serverErr.Status != 401 {
		t.Errorf("expected status 401, got %d", serverErr.Status)
	}
	if serverErr.Message() != "unauthenticated" {
		t.Errorf("expected message 'unauthenticated', got %q", serverErr.Message())
	}
}

func TestHTTP_SubmitUnknownRun(t *testing.T) {
	h := drt.NewAuthorityHarness(t)

	err := h.HTTPClient().SubmitRun(context.Background(), "missing")
	var serverErr *devrun.ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected ServerError, got %v", err)
	}
	if serverErr.Status != 404 {
		t.Errorf("expected status 404, got %d", serverErr.Status)
	}
}
