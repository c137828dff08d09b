package authority

import (
	"fmt"
	"sync"

	"github.com/automerge/automerge-go"

	"github.com/zoobzio/devrun"
)

// runDoc is one run kept as an automerge document:
//
//	text       text the moves are applied to
//	problem    problem id
//	category   run mode
//	submitted  set once by submit
//	lastMoveId highest move id applied, -1 before the first
//	moves      counter of applied moves
type runDoc struct {
	mu    sync.Mutex
	doc   *automerge.Doc
	dirty bool
}

func newRunDoc(problem, category string) (*runDoc, error) {
	doc := automerge.New()
	for key, value := range map[string]any{
		"problem":    problem,
		"category":   category,
		"submitted":  false,
		"lastMoveId": int64(-1),
		"text":       automerge.NewText(""),
		"moves":      automerge.NewCounter(0),
	} {
		if err := doc.Path(key).Set(value); err != nil {
			return nil, fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	if _, err := doc.Commit("create", automerge.CommitOptions{AllowEmpty: true}); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return &runDoc{doc: doc, dirty: true}, nil
}

func loadRunDoc(raw []byte) (*runDoc, error) {
	doc, err := automerge.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load doc: %w", err)
	}
	return &runDoc{doc: doc}, nil
}

func (r *runDoc) text() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Path("text").Text().Get()
}

func (r *runDoc) submitted() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return automerge.As[bool](r.doc.Path("submitted").Get())
}

func (r *runDoc) meta() (problem, category string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if problem, err = automerge.As[string](r.doc.Path("problem").Get()); err != nil {
		return "", "", err
	}
	category, err = automerge.As[string](r.doc.Path("category").Get())
	return problem, category, err
}

func (r *runDoc) submit() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	done, err := automerge.As[bool](r.doc.Path("submitted").Get())
	if err != nil {
		return err
	}
	if done {
		return ErrSubmitted
	}
	if err := r.doc.Path("submitted").Set(true); err != nil {
		return err
	}
	if _, err := r.doc.Commit("submit", automerge.CommitOptions{}); err != nil {
		return err
	}
	r.dirty = true
	return nil
}

// apply applies moves in order. Moves whose id is not above the highest
// applied so far were delivered before and are skipped. Moves applied
// before a failing one stay applied.
func (r *runDoc) apply(moves []devrun.Move) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	done, err := automerge.As[bool](r.doc.Path("submitted").Get())
	if err != nil {
		return 0, err
	}
	if done {
		return 0, ErrSubmitted
	}

	last, err := automerge.As[int64](r.doc.Path("lastMoveId").Get())
	if err != nil {
		return 0, err
	}

	text := r.doc.Path("text").Text()
	applied := 0
	var applyErr error
	for _, m := range moves {
		if int64(m.MoveID) <= last {
			continue
		}
		if m.Cursor < 0 {
			applyErr = fmt.Errorf("%w: move %d: negative cursor", ErrInvalidMove, m.MoveID)
			break
		}
		if m.Changes != nil {
			s := m.Changes
			if s.From < 0 || s.From > s.To || s.To > text.Len() {
				applyErr = fmt.Errorf("%w: move %d: span [%d,%d) out of range (len=%d)", ErrInvalidMove, m.MoveID, s.From, s.To, text.Len())
				break
			}
			if err := text.Splice(s.From, s.To-s.From, s.Insert); err != nil {
				applyErr = fmt.Errorf("move %d: %w", m.MoveID, err)
				break
			}
		}
		last = int64(m.MoveID)
		applied++
	}

	if applied > 0 {
		if err := r.doc.Path("lastMoveId").Set(last); err != nil {
			return applied, err
		}
		if err := r.doc.Path("moves").Counter().Inc(int64(applied)); err != nil {
			return applied, err
		}
		if _, err := r.doc.Commit(fmt.Sprintf("move %d", last), automerge.CommitOptions{}); err != nil {
			return applied, err
		}
		r.dirty = true
	}
	return applied, applyErr
}

// save returns the saved document if it changed since the last save.
func (r *runDoc) save() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.dirty {
		return nil, false
	}
	r.dirty = false
	return r.doc.Save(), true
}

// markDirty flags the document for the next save after a failed one.
func (r *runDoc) markDirty() {
	r.mu.Lock()
	r.dirty = true
	r.mu.Unlock()
}
