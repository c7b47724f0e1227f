package optimistic

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrReadOnly is returned when an update names a field that cannot be edited.
var ErrReadOnly = eris.New("optimistic: field is read-only")

// PersistFunc sends the merged record and the requested updates to the
// server and returns the record the server committed.
type PersistFunc[T any] func(ctx context.Context, merged T, updates Fields) (T, error)

// EditorOption configures an Editor.
type EditorOption func(*editorOptions)

type editorOptions struct {
	readOnly map[string]bool
	name     string
}

// WithReadOnly rejects updates to the named fields.
func WithReadOnly(fields ...string) EditorOption {
	return func(o *editorOptions) {
		for _, f := range fields {
			o.readOnly[f] = true
		}
	}
}

// WithName labels the editor in log output.
func WithName(name string) EditorOption {
	return func(o *editorOptions) { o.name = name }
}

// Editor holds the view shown to readers, the last server-confirmed
// snapshot, and the set of fields edited since that snapshot. Readers only
// ever see the snapshot or the snapshot with every pending update applied.
type Editor[T any] struct {
	mu       sync.Mutex
	view     T
	snapshot T
	pending  map[string]bool
	opts     editorOptions

	// submitMu serializes Submit so one update's revert cannot undo another.
	submitMu sync.Mutex
}

// NewEditor creates an editor whose view and snapshot are initial.
func NewEditor[T any](initial T, opts ...EditorOption) *Editor[T] {
	o := editorOptions{readOnly: make(map[string]bool)}
	for _, fn := range opts {
		fn(&o)
	}
	return &Editor[T]{
		view:     initial,
		snapshot: initial,
		pending:  make(map[string]bool),
		opts:     o,
	}
}

// View returns the current merged view.
func (e *Editor[T]) View() T {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view
}

// Snapshot returns the last server-confirmed record.
func (e *Editor[T]) Snapshot() T {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot
}

// Pending returns the sorted names of fields awaiting confirmation.
func (e *Editor[T]) Pending() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.pending))
	for f := range e.pending {
		names = append(names, f)
	}
	sort.Strings(names)
	return names
}

// IsPending reports whether field awaits confirmation.
func (e *Editor[T]) IsPending(field string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending[field]
}

// Apply merges updates into the view and marks each field pending. If the
// merge fails nothing changes.
func (e *Editor[T]) Apply(updates Fields) error {
	if len(updates) == 0 {
		return nil
	}
	for _, f := range updates.Names() {
		if e.opts.readOnly[f] {
			return eris.Wrapf(ErrReadOnly, "optimistic: apply %s", f)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	merged, err := MergeJSON(e.view, updates)
	if err != nil {
		return err
	}
	e.view = merged
	for f := range updates {
		e.pending[f] = true
	}
	return nil
}

// Commit replaces both the view and the snapshot with the server record and
// clears every pending field.
func (e *Editor[T]) Commit(server T) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.view = server
	e.snapshot = server
	e.pending = make(map[string]bool)
}

// Revert restores the snapshot and clears every pending field.
func (e *Editor[T]) Revert() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.view = e.snapshot
	e.pending = make(map[string]bool)
}

// Submit applies updates, persists them, and commits the server's record.
// On a persistence failure the editor is reverted and the error returned.
func (e *Editor[T]) Submit(ctx context.Context, updates Fields, persist PersistFunc[T]) (T, error) {
	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	if err := e.Apply(updates); err != nil {
		var zero T
		return zero, err
	}

	committed, err := persist(ctx, e.View(), updates)
	if err != nil {
		e.Revert()
		zap.L().Warn("optimistic: update reverted",
			zap.String("editor", e.opts.name),
			zap.Strings("fields", updates.Names()),
			zap.Error(err),
		)
		var zero T
		return zero, eris.Wrap(err, "optimistic: persist")
	}
	e.Commit(committed)
	return committed, nil
}
