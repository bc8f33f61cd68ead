package watch_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dlovans/taxflow/internal/flowtest"
	"github.com/dlovans/taxflow/internal/watch"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// start runs a watcher until the test ends and returns its change batches.
func start(t *testing.T, globs, files []string) <-chan []string {
	t.Helper()
	changes := make(chan []string, 16)
	w := watch.New(globs, files, func(_ context.Context, changed []string) {
		changes <- changed
	}, watch.WithDebounce(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	// let the watches register before the test writes
	time.Sleep(50 * time.Millisecond)
	return changes
}

func next(t *testing.T, changes <-chan []string) []string {
	t.Helper()
	select {
	case c := <-changes:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
		return nil
	}
}

func TestReportsFlowAndDictionaryChanges(t *testing.T) {
	files := flowtest.WriteFiles(t, t.TempDir())
	changes := start(t, []string{files.FlowGlob}, []string{files.Dictionary})

	chunk := filepath.Join(files.Dir, "flow", "02-income.yaml")
	require.NoError(t, os.WriteFile(chunk, flowtest.FlowChunks()["02-income.yaml"], 0o644))
	assert.Equal(t, []string{chunk}, next(t, changes))

	require.NoError(t, os.WriteFile(files.Dictionary, flowtest.DictionaryYAML(), 0o644))
	assert.Equal(t, []string{files.Dictionary}, next(t, changes))
}

func TestDebouncesBursts(t *testing.T) {
	files := flowtest.WriteFiles(t, t.TempDir())
	changes := start(t, []string{files.FlowGlob}, nil)

	a := filepath.Join(files.Dir, "flow", "01-you-and-your-family.yaml")
	b := filepath.Join(files.Dir, "flow", "03-complete.yaml")
	require.NoError(t, os.WriteFile(a, []byte("version: 1.2.0\n"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("version: 1.2.0\n"), 0o644))

	got := next(t, changes)
	if len(got) == 1 {
		// the burst straddled a debounce window
		got = append(got, next(t, changes)...)
	}
	assert.ElementsMatch(t, []string{a, b}, got)
}

func TestIgnoresUnmatchedFiles(t *testing.T) {
	files := flowtest.WriteFiles(t, t.TempDir())
	changes := start(t, []string{files.FlowGlob}, nil)

	require.NoError(t, os.WriteFile(filepath.Join(files.Dir, "flow", "notes.txt"), []byte("x"), 0o644))
	select {
	case c := <-changes:
		t.Fatalf("unexpected change %v", c)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRunFailsOnMissingBase(t *testing.T) {
	w := watch.New([]string{filepath.Join(t.TempDir(), "missing", "*.yaml")}, nil,
		func(context.Context, []string) {})
	assert.Error(t, w.Run(context.Background()))
}
