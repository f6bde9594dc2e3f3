package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/ngld/xverify/pkg/matrix"
	"github.com/ngld/xverify/pkg/workspace"
)

func openStore(t *testing.T) *Store {
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "state", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func result(runID, job string, status matrix.Status, fingerprint, output string) matrix.Result {
	return matrix.Result{
		RunID:       runID,
		Job:         matrix.NewJob(workspace.JobSpec{Name: job, Command: job}),
		Status:      status,
		Command:     []string{"cargo", job},
		Fingerprint: fingerprint,
		Output:      output,
		Started:     time.Now(),
		Duration:    3 * time.Second,
	}
}

func TestRecordAndList(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	diagnostic := "error[E0425]: cannot find value `x` in this scope\n --> src/main.rs:4:5\n" + strings.Repeat("=", 4096)
	failed := result("run1", "build", matrix.StatusFailed, "fp-build", diagnostic)
	failed.Kind = matrix.FailureCompile
	failed.ExitCode = 101

	require.NoError(t, store.Record(ctx, failed))
	require.NoError(t, store.Record(ctx, result("run1", "fmt", matrix.StatusPassed, "fp-fmt", "")))

	conflict := result("run2", "test", matrix.StatusFailed, "", "")
	conflict.Kind = matrix.FailureConflictingTargetConfig
	conflict.Err = errors.New("build.target is set")
	require.NoError(t, store.Record(ctx, conflict))

	entries, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "test", entries[0].Job)
	assert.Equal(t, "build.target is set", entries[0].Error)
	assert.Equal(t, "fmt", entries[1].Job)

	build := entries[2]
	assert.Equal(t, "CompileFailure", build.Kind)
	assert.Equal(t, 101, build.ExitCode)
	assert.Less(t, len(build.Output), len(diagnostic))

	text, err := build.OutputText()
	require.NoError(t, err)
	assert.Equal(t, diagnostic, text)

	entries, err = store.List(ctx, Filter{RunID: "run1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fmt", entries[0].Job)

	entries, err = store.List(ctx, Filter{Job: "build"})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	runs, err := store.Runs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run2", "run1"}, runs)
}

func TestLastByFingerprint(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	require.NoError(t, store.Record(ctx, result("run1", "lint", matrix.StatusFailed, "fp-lint", "warning: unused")))
	require.NoError(t, store.Record(ctx, result("run2", "lint", matrix.StatusPassed, "fp-lint", "")))

	entry, err := store.Last(ctx, "fp-lint")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "run2", entry.RunID)
	assert.Equal(t, matrix.StatusPassed, entry.Status)

	entry, err = store.Last(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	store, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.Record(ctx, result("run1", "fmt", matrix.StatusPassed, "fp", "")))
	require.NoError(t, store.Close())

	store, err = Open(ctx, path)
	require.NoError(t, err)
	defer store.Close()

	entries, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	require.NoError(t, store.Record(ctx, result("run1", "build", matrix.StatusFailed, "fp-build", "error: linker `xtensa-esp32-elf-gcc` not found\n")))
	require.NoError(t, store.Record(ctx, result("run1", "fmt", matrix.StatusPassed, "fp-fmt", "")))

	buffer := &bytes.Buffer{}
	count, err := store.Export(ctx, buffer, Filter{RunID: "run1"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	reader, err := xz.NewReader(buffer)
	require.NoError(t, err)

	decoder := json.NewDecoder(reader)
	records := []exportRecord{}
	for decoder.More() {
		var record exportRecord
		require.NoError(t, decoder.Decode(&record))
		records = append(records, record)
	}

	require.Len(t, records, 2)
	assert.Equal(t, "build", records[0].Job)
	assert.Equal(t, "error: linker `xtensa-esp32-elf-gcc` not found\n", records[0].Output)
	assert.Equal(t, int64(3000), records[0].DurationMS)
	assert.Equal(t, "fmt", records[1].Job)
}
