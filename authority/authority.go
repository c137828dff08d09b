// Package authority is a reference authority for devrun sessions.
//
// It speaks the streamed protocol over a WebSocket and the plain-request
// API over HTTP. Every run is an automerge document holding the run text
// and metadata; documents are persisted to a Store on create, on submit and
// periodically while moves arrive.
//
// Usage:
//
//	store, _ := authority.OpenSQLite("runs.sqlite3")
//	a, _ := authority.New(ctx, authority.Config{Store: store})
//	go a.Run(ctx)
//	http.ListenAndServe(":3000", authority.NewServer(a).Handler())
package authority

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zoobzio/devrun"
)

// Errors reported to clients.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrUnknownRun      = errors.New("unknown run")
	ErrSubmitted       = errors.New("run already submitted")
	ErrInvalidMove     = errors.New("invalid move")
)

// Config holds configuration for an Authority.
type Config struct {
	Store          Store                        // Optional, runs are kept in memory only when nil
	Authenticate   func(credential string) bool // Optional, defaults to accepting any non-empty credential
	BackupInterval time.Duration                // Optional, defaults to 5s
	PingInterval   time.Duration                // Optional, defaults to 30s
	Logger         *slog.Logger                 // Optional, defaults to slog.Default()
}

// RunInfo describes a run.
type RunInfo struct {
	ID        string `json:"runId"`
	Problem   string `json:"problem"`
	Category  string `json:"category"`
	Submitted bool   `json:"submitted"`
	Text      string `json:"text"`
}

// Authority owns the run documents.
type Authority struct {
	config Config
	logger *slog.Logger

	mu   sync.RWMutex
	runs map[string]*runDoc
}

// New creates an Authority and loads every run saved in the store.
func New(ctx context.Context, cfg Config) (*Authority, error) {
	if cfg.Authenticate == nil {
		cfg.Authenticate = func(credential string) bool { return credential != "" }
	}
	if cfg.BackupInterval == 0 {
		cfg.BackupInterval = 5 * time.Second
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	a := &Authority{
		config: cfg,
		logger: cfg.Logger,
		runs:   make(map[string]*runDoc),
	}
	if cfg.Store == nil {
		return a, nil
	}

	saved, err := cfg.Store.Load(ctx)
	if err != nil {
		return nil, err
	}
	for runID, raw := range saved {
		doc, err := loadRunDoc(raw)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", runID, err)
		}
		a.runs[runID] = doc
	}
	a.logger.Info("loaded runs", "count", len(saved))
	return a, nil
}

// Authenticate reports whether credential is accepted.
func (a *Authority) Authenticate(credential string) bool {
	return a.config.Authenticate(credential)
}

// Create starts a run and returns its id.
func (a *Authority) Create(ctx context.Context, problem, category string) (string, error) {
	if err := devrun.ValidateProblem(problem); err != nil {
		return "", err
	}
	if err := devrun.ValidateMode(category); err != nil {
		return "", err
	}

	doc, err := newRunDoc(problem, category)
	if err != nil {
		return "", err
	}
	runID := uuid.New().String()

	a.mu.Lock()
	a.runs[runID] = doc
	a.mu.Unlock()

	a.persist(ctx, runID, doc)
	a.logger.Info("run created", "run", runID, "problem", problem, "category", category)
	return runID, nil
}

// Submit ends a run. Later moves are rejected.
func (a *Authority) Submit(ctx context.Context, runID string) error {
	doc, err := a.lookup(runID)
	if err != nil {
		return err
	}
	if err := doc.submit(); err != nil {
		return err
	}
	a.persist(ctx, runID, doc)
	a.logger.Info("run submitted", "run", runID)
	return nil
}

// Move applies a batch to its run.
func (a *Authority) Move(_ context.Context, req devrun.MoveRequest) error {
	doc, err := a.lookup(req.RunID)
	if err != nil {
		return err
	}
	applied, err := doc.apply(req.Moves)
	a.logger.Debug("moves applied", "run", req.RunID, "received", len(req.Moves), "applied", applied)
	return err
}

// Text returns a run's current text.
func (a *Authority) Text(_ context.Context, runID string) (string, error) {
	doc, err := a.lookup(runID)
	if err != nil {
		return "", err
	}
	return doc.text()
}

// Info describes a run.
func (a *Authority) Info(_ context.Context, runID string) (RunInfo, error) {
	doc, err := a.lookup(runID)
	if err != nil {
		return RunInfo{}, err
	}
	problem, category, err := doc.meta()
	if err != nil {
		return RunInfo{}, err
	}
	submitted, err := doc.submitted()
	if err != nil {
		return RunInfo{}, err
	}
	text, err := doc.text()
	if err != nil {
		return RunInfo{}, err
	}
	return RunInfo{ID: runID, Problem: problem, Category: category, Submitted: submitted, Text: text}, nil
}

func (a *Authority) lookup(runID string) (*runDoc, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	doc, ok := a.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return doc, nil
}

// Run saves changed documents every BackupInterval until ctx is done,
// then saves once more.
func (a *Authority) Run(ctx context.Context) {
	t := time.NewTicker(a.config.BackupInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			a.Backup(ctx)
		case <-ctx.Done():
			a.Backup(context.WithoutCancel(ctx))
			return
		}
	}
}

// Backup saves every document changed since its last save.
func (a *Authority) Backup(ctx context.Context) {
	a.mu.RLock()
	docs := make(map[string]*runDoc, len(a.runs))
	for runID, doc := range a.runs {
		docs[runID] = doc
	}
	a.mu.RUnlock()

	for runID, doc := range docs {
		a.persist(ctx, runID, doc)
	}
}

func (a *Authority) persist(ctx context.Context, runID string, doc *runDoc) {
	if a.config.Store == nil {
		return
	}
	content, changed := doc.save()
	if !changed {
		return
	}
	if err := a.config.Store.Save(ctx, runID, content); err != nil {
		doc.markDirty()
		a.logger.Error("failed to back up run", "run", runID, "err", err)
		return
	}
	a.logger.Debug("backed up", "run", runID)
}
