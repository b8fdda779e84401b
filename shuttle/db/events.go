package db

import (
	"database/sql"
	"time"

	"shuttleci.dev/core/notifier"
	"shuttleci.dev/core/shuttle/models"
)

// Event is one workflow status transition. The events table is
// append-only; the websocket stream backfills from a cursor and then
// follows live inserts.
type Event struct {
	Id       int64             `json:"id"`
	Pipeline models.PipelineId `json:"pipeline"`
	Workflow string            `json:"workflow"`
	Status   models.StatusKind `json:"status"`
	Error    *string           `json:"error,omitempty"`
	ExitCode *int64            `json:"exit_code,omitempty"`
	Created  int64             `json:"created"`
}

func (d *DB) InsertEvent(event Event, n *notifier.Notifier) error {
	_, err := d.Exec(
		`insert into events (pipeline, workflow, status, error, exit_code, created) values (?, ?, ?, ?, ?, ?)`,
		event.Pipeline,
		event.Workflow,
		event.Status,
		event.Error,
		event.ExitCode,
		event.Created,
	)

	n.NotifyAll(string(event.Pipeline))

	return err
}

func (d *DB) GetEvents(cursor int64) ([]Event, error) {
	rows, err := d.Query(`
		select id, pipeline, workflow, status, error, exit_code, created
		from events
		where id > ?
		order by id asc
		limit 100
	`, cursor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evts []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.Id, &ev.Pipeline, &ev.Workflow, &ev.Status, &ev.Error, &ev.ExitCode, &ev.Created); err != nil {
			return nil, err
		}
		evts = append(evts, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return evts, nil
}

func (d *DB) createStatusEvent(
	workflowId models.WorkflowId,
	statusKind models.StatusKind,
	workflowError *string,
	exitCode *int64,
	n *notifier.Notifier,
) error {
	event := Event{
		Pipeline: workflowId.PipelineId,
		Workflow: workflowId.Name,
		Status:   statusKind,
		Error:    workflowError,
		ExitCode: exitCode,
		Created:  time.Now().UnixNano(),
	}

	return d.InsertEvent(event, n)
}

// GetWorkflowStatus returns the most recent status transition of a
// single workflow.
func (d *DB) GetWorkflowStatus(workflowId models.WorkflowId) (*Event, error) {
	var ev Event
	err := d.QueryRow(
		`
		select id, pipeline, workflow, status, error, exit_code, created
		from events
		where pipeline = ? and workflow = ?
		order by id desc
		limit 1
		`,
		workflowId.PipelineId,
		workflowId.Name,
	).Scan(&ev.Id, &ev.Pipeline, &ev.Workflow, &ev.Status, &ev.Error, &ev.ExitCode, &ev.Created)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &ev, nil
}

func (d *DB) StatusPending(workflowId models.WorkflowId, n *notifier.Notifier) error {
	return d.createStatusEvent(workflowId, models.StatusKindPending, nil, nil, n)
}

func (d *DB) StatusRunning(workflowId models.WorkflowId, n *notifier.Notifier) error {
	return d.createStatusEvent(workflowId, models.StatusKindRunning, nil, nil, n)
}

func (d *DB) StatusFailed(workflowId models.WorkflowId, workflowError string, exitCode int64, n *notifier.Notifier) error {
	return d.createStatusEvent(workflowId, models.StatusKindFailed, &workflowError, &exitCode, n)
}

func (d *DB) StatusSuccess(workflowId models.WorkflowId, n *notifier.Notifier) error {
	return d.createStatusEvent(workflowId, models.StatusKindSuccess, nil, nil, n)
}

func (d *DB) StatusTimeout(workflowId models.WorkflowId, n *notifier.Notifier) error {
	return d.createStatusEvent(workflowId, models.StatusKindTimeout, nil, nil, n)
}

func (d *DB) StatusCancelled(workflowId models.WorkflowId, n *notifier.Notifier) error {
	return d.createStatusEvent(workflowId, models.StatusKindCancelled, nil, nil, n)
}
