package devrun

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

var problemPattern = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// ControllerConfig holds configuration for a Controller.
type ControllerConfig struct {
	IdleWindow         time.Duration // Optional, defaults to 350ms
	TextPollInterval   time.Duration // Optional, defaults to 500ms
	CursorPollInterval time.Duration // Optional, defaults to 1000ms
	ReconcileInterval  time.Duration // Optional, defaults to 5s
	FinalFlushTimeout  time.Duration // Optional, defaults to 2s
	Clock              clockz.Clock  // Optional, defaults to clockz.RealClock
	Encoder            Encoder       // Optional, defaults to NewDiffEncoder()
	Options            []Option      // Reliability options for the flush pipeline
}

// Controller runs one session at a time: it creates the run, streams the
// active document while the run lasts and submits it on Stop.
//
// Controllers are safe for concurrent use by multiple goroutines.
type Controller struct {
	client Client
	editor Editor
	config ControllerConfig

	ops sync.Mutex // serializes Start and Stop

	mu         sync.RWMutex
	run        *Run
	batcher    *Batcher
	observer   *Observer
	reconciler *Reconciler
	cancel     context.CancelFunc
	tasks      sync.WaitGroup
}

// NewController creates a Controller streaming editor to client.
func NewController(client Client, editor Editor, cfg ControllerConfig) *Controller {
	if cfg.IdleWindow == 0 {
		cfg.IdleWindow = DefaultIdleWindow
	}
	if cfg.ReconcileInterval == 0 {
		cfg.ReconcileInterval = DefaultReconcileInterval
	}
	if cfg.FinalFlushTimeout == 0 {
		cfg.FinalFlushTimeout = DefaultFinalFlushTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockz.RealClock
	}
	return &Controller{
		client: client,
		editor: editor,
		config: cfg,
	}
}

// ValidateProblem checks a problem id.
func ValidateProblem(problem string) error {
	if !problemPattern.MatchString(problem) {
		return fmt.Errorf("%w: %q", ErrInvalidProblem, problem)
	}
	return nil
}

// ValidateMode checks a run mode.
func ValidateMode(mode string) error {
	switch mode {
	case ModeAnyPercent, ModeHundredPercent:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
}

// Start creates a run and begins streaming the active document.
// Reconciliation runs only when the client implements TextSource.
func (c *Controller) Start(ctx context.Context, problem, mode string) (Run, error) {
	if err := ValidateProblem(problem); err != nil {
		return Run{}, err
	}
	if err := ValidateMode(mode); err != nil {
		return Run{}, err
	}

	c.ops.Lock()
	defer c.ops.Unlock()

	if c.Active() {
		return Run{}, ErrRunActive
	}

	runID, err := c.client.CreateRun(ctx, problem, mode)
	if err != nil {
		return Run{}, fmt.Errorf("create run: %w", err)
	}

	run := &Run{
		ID:        runID,
		Problem:   problem,
		Mode:      mode,
		StartedAt: c.config.Clock.Now(),
	}
	batcher := NewBatcher(runID, c.client, c.editor, BatcherConfig{
		IdleWindow: c.config.IdleWindow,
		Clock:      c.config.Clock,
		Options:    c.config.Options,
	})
	observer := NewObserver(c.editor, batcher, ObserverConfig{
		IdleWindow:         c.config.IdleWindow,
		TextPollInterval:   c.config.TextPollInterval,
		CursorPollInterval: c.config.CursorPollInterval,
		Clock:              c.config.Clock,
		Encoder:            c.config.Encoder,
	})
	var reconciler *Reconciler
	if source, ok := c.client.(TextSource); ok {
		reconciler = NewReconciler(runID, source, observer, batcher, c.config.ReconcileInterval, c.config.Clock)
	}

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	c.mu.Lock()
	c.run = run
	c.batcher = batcher
	c.observer = observer
	c.reconciler = reconciler
	c.cancel = cancel
	c.mu.Unlock()

	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		observer.Run(taskCtx)
	}()
	if reconciler != nil {
		c.tasks.Add(1)
		go func() {
			defer c.tasks.Done()
			reconciler.Run(taskCtx)
		}()
	}

	capitan.Info(ctx, RunStarted,
		RunIDKey.Field(runID),
		ProblemKey.Field(problem),
		ModeKey.Field(mode),
	)
	return *run, nil
}

// Stop ends the active run: every task is cancelled, one final flush is
// made within FinalFlushTimeout and the run is submitted.
func (c *Controller) Stop(ctx context.Context) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	c.mu.Lock()
	run, batcher, cancel := c.run, c.batcher, c.cancel
	c.run, c.batcher, c.observer, c.reconciler, c.cancel = nil, nil, nil, nil, nil
	c.mu.Unlock()

	if run == nil {
		return ErrNoRun
	}

	cancel()
	c.tasks.Wait()

	flushCtx, flushCancel := context.WithTimeout(ctx, c.config.FinalFlushTimeout)
	flushErr := batcher.Close(flushCtx)
	flushCancel()

	err := c.client.SubmitRun(ctx, run.ID)

	fields := []capitan.Field{
		RunIDKey.Field(run.ID),
		ProblemKey.Field(run.Problem),
		ModeKey.Field(run.Mode),
		DurationMsKey.Field(int(c.config.Clock.Since(run.StartedAt).Milliseconds())),
	}
	if flushErr != nil {
		fields = append(fields, ErrorKey.Field(flushErr.Error()))
	}
	capitan.Info(ctx, RunStopped, fields...)

	if err != nil {
		return fmt.Errorf("submit run: %w", err)
	}
	return nil
}

// SwitchDocument samples the editor at once, so a change of the active
// document is picked up without waiting for the next poll tick.
func (c *Controller) SwitchDocument(ctx context.Context) error {
	c.mu.RLock()
	observer := c.observer
	c.mu.RUnlock()

	if observer == nil {
		return ErrNoRun
	}
	observer.SampleText(ctx)
	return nil
}

// Reconcile runs one reconciliation check outside the regular cadence.
func (c *Controller) Reconcile(ctx context.Context) (bool, error) {
	c.mu.RLock()
	run, reconciler := c.run, c.reconciler
	c.mu.RUnlock()

	if run == nil {
		return false, ErrNoRun
	}
	if reconciler == nil {
		return false, ErrNotSupported
	}
	return reconciler.Check(ctx)
}

// Active reports whether a run is in progress.
func (c *Controller) Active() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.run != nil
}

// Current returns the active run.
func (c *Controller) Current() (Run, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.run == nil {
		return Run{}, false
	}
	return *c.run, true
}

// Elapsed returns the time since the active run started, or 0.
func (c *Controller) Elapsed() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.run == nil {
		return 0
	}
	return c.config.Clock.Since(c.run.StartedAt)
}

// Status renders the status line: the elapsed time as m:ss.hh while a run
// is active, otherwise an empty string.
func (c *Controller) Status() string {
	if !c.Active() {
		return ""
	}
	return FormatElapsed(c.Elapsed())
}

// FormatElapsed renders d as m:ss.hh.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hundredths := d.Milliseconds() / 10
	minutes := hundredths / 6000
	seconds := (hundredths / 100) % 60
	return fmt.Sprintf("%d:%02d.%02d", minutes, seconds, hundredths%100)
}
