package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/patternd/pkg/pattern"
	"github.com/fyrsmithlabs/patternd/pkg/registry"
)

const watchV1 = `
domain: ops
version: 1.0.0
patterns:
  - name: ticket
    category: entity
    regex: 'OPS-\d+'
    output_type: ticket
    base_confidence: 0.8
  - name: runbook
    category: entity
    regex: 'RB-\d+'
    output_type: runbook
    base_confidence: 0.7
`

const watchV2 = `
domain: ops
version: 1.1.0
patterns:
  - name: ticket
    category: entity
    regex: 'OPS-\d{3,}'
    output_type: ticket
    base_confidence: 0.85
`

func startWatcher(t *testing.T, reg *registry.Registry, path string) *Watcher {
	t.Helper()
	w, err := NewWatcher(reg, []string{path}, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
	})
	return w
}

func nextReload(t *testing.T, w *Watcher) Reload {
	t.Helper()
	select {
	case r := <-w.Reloads():
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no reload")
		return Reload{}
	}
}

func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "ops.yaml", watchV1)
	reg := registry.New()

	w := startWatcher(t, reg, path)

	initial := nextReload(t, w)
	require.NoError(t, initial.Err)
	assert.Equal(t, 2, initial.Report.Registered)
	assert.Len(t, reg.GetPatterns([]string{"ops"}, pattern.CategoryEntity), 2)

	require.NoError(t, os.WriteFile(path, []byte(watchV2), 0o600))

	require.Eventually(t, func() bool {
		latest, err := reg.Latest("ops", "ticket")
		return err == nil && latest.Version == "1.1.0" &&
			len(reg.GetPatterns([]string{"ops"}, pattern.CategoryEntity)) == 1
	}, 5*time.Second, 10*time.Millisecond)

	runbook, err := reg.Get(pattern.Key{Domain: "ops", Name: "runbook", Version: "1.0.0"})
	require.NoError(t, err)
	assert.False(t, runbook.Active(), "removed from file")
	assert.Len(t, reg.Versions("ops", "ticket"), 2)
}

const watchV1WithoutRunbook = `
domain: ops
version: 1.0.0
patterns:
  - name: ticket
    category: entity
    regex: 'OPS-\d+'
    output_type: ticket
    base_confidence: 0.8
`

// waitReload reads reloads until one satisfies ok.
func waitReload(t *testing.T, w *Watcher, ok func(Reload) bool) Reload {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case r := <-w.Reloads():
			if ok(r) {
				return r
			}
		case <-deadline:
			t.Fatal("no matching reload")
			return Reload{}
		}
	}
}

func TestWatcher_RestoredPatternStaysDeactivated(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "ops.yaml", watchV1)
	reg := registry.New()
	runbook := pattern.Key{Domain: "ops", Name: "runbook", Version: "1.0.0"}

	w := startWatcher(t, reg, path)
	require.NoError(t, nextReload(t, w).Err)

	require.NoError(t, os.WriteFile(path, []byte(watchV1WithoutRunbook), 0o600))
	removed := waitReload(t, w, func(r Reload) bool { return r.Deactivated == 1 })
	assert.Zero(t, removed.Stale)

	require.NoError(t, os.WriteFile(path, []byte(watchV1), 0o600))
	restored := waitReload(t, w, func(r Reload) bool { return r.Stale == 1 })
	require.NoError(t, restored.Err)
	assert.Equal(t, 2, restored.Report.Existing)

	got, err := reg.Get(runbook)
	require.NoError(t, err)
	assert.False(t, got.Active(), "restoring an identity does not reactivate it")
	assert.Len(t, reg.GetPatterns([]string{"ops"}, pattern.CategoryEntity), 1)
}

func TestWatcher_BadEditKeepsPatterns(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "ops.yaml", watchV1)
	other := writeFile(t, dir, "notes.txt", "ignored")
	reg := registry.New()

	w := startWatcher(t, reg, path)
	require.NoError(t, nextReload(t, w).Err)

	require.NoError(t, os.WriteFile(other, []byte("still ignored"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("patterns: ["), 0o600))

	r := nextReload(t, w)
	assert.Equal(t, filepath.Clean(path), r.Path)
	assert.Error(t, r.Err)
	assert.Len(t, reg.GetPatterns([]string{"ops"}, pattern.CategoryEntity), 2)
}

func TestNewWatcher_MissingDirectory(t *testing.T) {
	_, err := NewWatcher(registry.New(), []string{filepath.Join(t.TempDir(), "nope", "x.yaml")})
	assert.Error(t, err)
}
