package models

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLogLines(t *testing.T, path string) []LogLine {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []LogLine
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var l LogLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		lines = append(lines, l)
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestWorkflowLogger(t *testing.T) {
	dir := t.TempDir()
	wid := WorkflowId{PipelineId: NewPipelineId(), Name: "ci.yml"}

	l, err := NewWorkflowLogger(dir, wid)
	require.NoError(t, err)

	step := Step{Name: "test", Command: "pytest", Kind: StepKindUser}

	require.NoError(t, l.LogControl(0, step, StatusKindRunning))

	w := l.DataWriter(0, "stdout")
	_, err = w.Write([]byte("collected 3 items\nall passed\n"))
	require.NoError(t, err)

	require.NoError(t, l.LogControl(0, step, StatusKindSuccess))
	require.NoError(t, l.Close())

	lines := readLogLines(t, LogFilePath(dir, wid))
	require.Len(t, lines, 4)

	assert.Equal(t, LogLineKindControl, lines[0].Kind)
	assert.Equal(t, "test", lines[0].StepName)
	assert.Equal(t, StatusKindRunning, lines[0].Status)

	assert.Equal(t, LogLineKindData, lines[1].Kind)
	assert.Equal(t, "stdout", lines[1].Stream)
	assert.Equal(t, "collected 3 items", lines[1].Data)
	assert.Equal(t, "all passed", lines[2].Data)

	assert.Equal(t, LogLineKindControl, lines[3].Kind)
	assert.Equal(t, StatusKindSuccess, lines[3].Status)
}

func TestWorkflowIdString(t *testing.T) {
	wid := WorkflowId{PipelineId: "abc-123", Name: "build & test.yml"}
	assert.Equal(t, "abc-123-build---test.yml", wid.String())
}
