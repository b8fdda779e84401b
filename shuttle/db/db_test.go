package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"shuttleci.dev/core/notifier"
	"shuttleci.dev/core/shuttle/models"
)

func testDB(t *testing.T) (*DB, *notifier.Notifier) {
	t.Helper()
	d, err := Make(filepath.Join(t.TempDir(), "shuttle.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	n := notifier.New()
	return d, &n
}

func TestPipelineLifecycle(t *testing.T) {
	d, n := testDB(t)

	id := models.NewPipelineId()
	require.NoError(t, d.CreatePipeline(id, "acme/app", n))

	p, err := d.GetPipeline(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusKindPending, p.Status)
	assert.Equal(t, "acme/app", p.Repo)
	assert.Nil(t, p.FinishedAt)

	require.NoError(t, d.MarkPipelineRunning(id, n))
	p, err = d.GetPipeline(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusKindRunning, p.Status)

	require.NoError(t, d.MarkPipelineFailed(id, 2, "step \"test\" failed", n))
	p, err = d.GetPipeline(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusKindFailed, p.Status)
	assert.Equal(t, 2, p.ExitCode)
	assert.Contains(t, p.Error, "test")
	assert.NotNil(t, p.FinishedAt)
}

func TestPipelineSuccess(t *testing.T) {
	d, n := testDB(t)

	id := models.NewPipelineId()
	require.NoError(t, d.CreatePipeline(id, "acme/app", n))
	require.NoError(t, d.MarkPipelineSuccess(id, n))

	p, err := d.GetPipeline(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusKindSuccess, p.Status)
	assert.NotNil(t, p.FinishedAt)
}

func TestListPipelines(t *testing.T) {
	d, n := testDB(t)

	for range 3 {
		require.NoError(t, d.CreatePipeline(models.NewPipelineId(), "acme/app", n))
	}

	ps, err := d.ListPipelines(2)
	require.NoError(t, err)
	assert.Len(t, ps, 2)
}

func TestWorkflowStatusEvents(t *testing.T) {
	d, n := testDB(t)

	id := models.NewPipelineId()
	wid := models.WorkflowId{PipelineId: id, Name: "ci.yml"}

	require.NoError(t, d.StatusPending(wid, n))
	require.NoError(t, d.StatusRunning(wid, n))
	require.NoError(t, d.StatusFailed(wid, "lint failed", 1, n))

	ev, err := d.GetWorkflowStatus(wid)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, models.StatusKindFailed, ev.Status)
	require.NotNil(t, ev.ExitCode)
	assert.EqualValues(t, 1, *ev.ExitCode)
}

func TestGetEventsCursor(t *testing.T) {
	d, n := testDB(t)

	id := models.NewPipelineId()
	wid := models.WorkflowId{PipelineId: id, Name: "ci.yml"}

	require.NoError(t, d.StatusPending(wid, n))
	require.NoError(t, d.StatusRunning(wid, n))

	evts, err := d.GetEvents(0)
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, models.StatusKindPending, evts[0].Status)

	// resume from the first event's cursor
	rest, err := d.GetEvents(evts[0].Id)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, models.StatusKindRunning, rest[0].Status)
}

func TestNotifierFiresOnInsert(t *testing.T) {
	d, n := testDB(t)

	ch := n.Subscribe()
	defer n.Unsubscribe(ch)

	id := models.NewPipelineId()
	require.NoError(t, d.CreatePipeline(id, "acme/app", n))

	select {
	case pipeline := <-ch:
		assert.Equal(t, string(id), pipeline)
	default:
		t.Fatal("expected a notification after insert")
	}
}
