package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ngld/xverify/pkg/history"
	"github.com/ngld/xverify/pkg/matrix"
	"github.com/ngld/xverify/pkg/selector"
	"github.com/ngld/xverify/pkg/workspace"
)

func TestSplitArgs(t *testing.T) {
	positional, options := splitArgs([]string{"build", "target=xtensa-esp32s3-none-elf", "lint", "=x"})
	assert.Equal(t, []string{"build", "lint", "=x"}, positional)
	assert.Equal(t, map[string]string{"target": "xtensa-esp32s3-none-elf"}, options)
}

func TestAdHocSpecReusesDeclaredJob(t *testing.T) {
	ws := workspace.Default("/src/firmware")

	spec := adHocSpec(ws, selector.IntentTest, "", []string{"--no-fail-fast"})
	assert.Equal(t, "test", spec.Name)
	assert.Equal(t, workspace.HostNative, spec.Target)
	assert.Equal(t, []string{"unit-tests"}, spec.Features)
	assert.Equal(t, []string{"--no-fail-fast"}, spec.Args)
	assert.Empty(t, spec.Triggers)

	// the declared job is left alone
	declared, _ := ws.Job("test")
	assert.Empty(t, declared.Args)

	spec = adHocSpec(ws, selector.IntentRun, "", nil)
	assert.Equal(t, "run", spec.Name)
	assert.Equal(t, "run", spec.Command)
}

func TestDescribeChange(t *testing.T) {
	started := time.Date(2021, 4, 2, 10, 0, 0, 0, time.UTC)
	previous := &history.Entry{RunID: "k3x9f0a1b2c3", Status: matrix.StatusPassed, Started: started}
	result := matrix.Result{Fingerprint: "abc", Status: matrix.StatusFailed}

	assert.Equal(t, "failed now, was passed in run k3x9f0a1b2c3 (2021-04-02T10:00:00Z)", describeChange(previous, result))
	assert.Empty(t, describeChange(nil, result))

	result.Status = matrix.StatusPassed
	assert.Empty(t, describeChange(previous, result))

	result.Status = matrix.StatusCancelled
	assert.Empty(t, describeChange(previous, result))
}

func TestSummarizeRun(t *testing.T) {
	started := time.Date(2021, 4, 2, 10, 0, 0, 0, time.UTC)
	entries := []history.Entry{
		{RunID: "run1", Status: matrix.StatusFailed, Started: started.Add(time.Minute)},
		{RunID: "run1", Status: matrix.StatusPassed, Started: started.Add(30 * time.Second)},
		{RunID: "run1", Status: matrix.StatusPassed, Started: started},
	}

	summary := summarizeRun("run1", entries)
	assert.Contains(t, summary, "run1  2021-04-02T10:00:00Z")
	assert.Contains(t, summary, "2 of 3 jobs passed")
	assert.Equal(t, "run2", summarizeRun("run2", nil))
}
