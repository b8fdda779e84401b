package db

import (
	"database/sql"
	"time"

	"shuttleci.dev/core/notifier"
	"shuttleci.dev/core/shuttle/models"
)

type Pipeline struct {
	Id     models.PipelineId `json:"id"`
	Repo   string            `json:"repo"`
	Status models.StatusKind `json:"status"`

	// only if Failed
	Error    string `json:"error,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (db *DB) CreatePipeline(id models.PipelineId, repo string, n *notifier.Notifier) error {
	_, err := db.Exec(`
		insert into pipelines (id, repo, status)
		values (?, ?, ?)
	`, id, repo, models.StatusKindPending)

	if err != nil {
		return err
	}
	n.NotifyAll(string(id))
	return nil
}

func (db *DB) MarkPipelineRunning(id models.PipelineId, n *notifier.Notifier) error {
	_, err := db.Exec(`
			update pipelines
			set status = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
			where id = ?
		`, models.StatusKindRunning, id)

	if err != nil {
		return err
	}
	n.NotifyAll(string(id))
	return nil
}

func (db *DB) MarkPipelineFailed(id models.PipelineId, exitCode int, errorMsg string, n *notifier.Notifier) error {
	_, err := db.Exec(`
		update pipelines
		set status = ?,
		    exit_code = ?,
		    error = ?,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now'),
		    finished_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		where id = ?
	`, models.StatusKindFailed, exitCode, errorMsg, id)
	if err != nil {
		return err
	}
	n.NotifyAll(string(id))
	return nil
}

func (db *DB) MarkPipelineTimeout(id models.PipelineId, n *notifier.Notifier) error {
	return db.markTerminal(id, models.StatusKindTimeout, n)
}

func (db *DB) MarkPipelineCancelled(id models.PipelineId, n *notifier.Notifier) error {
	return db.markTerminal(id, models.StatusKindCancelled, n)
}

func (db *DB) MarkPipelineSuccess(id models.PipelineId, n *notifier.Notifier) error {
	return db.markTerminal(id, models.StatusKindSuccess, n)
}

func (db *DB) markTerminal(id models.PipelineId, status models.StatusKind, n *notifier.Notifier) error {
	_, err := db.Exec(`
			update pipelines
			set status = ?,
			    updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now'),
			    finished_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
			where id = ?
		`, status, id)
	if err != nil {
		return err
	}
	n.NotifyAll(string(id))
	return nil
}

func (db *DB) GetPipeline(id models.PipelineId) (*Pipeline, error) {
	row := db.QueryRow(`
		select id, repo, status, error, exit_code, started_at, updated_at, finished_at
		from pipelines
		where id = ?
	`, id)

	return scanPipeline(row)
}

func (db *DB) ListPipelines(limit int) ([]Pipeline, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.Query(`
		select id, repo, status, error, exit_code, started_at, updated_at, finished_at
		from pipelines
		order by started_at desc
		limit ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ps []Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, err
		}
		ps = append(ps, *p)
	}

	return ps, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPipeline(row scanner) (*Pipeline, error) {
	var p Pipeline
	var startedAt, updatedAt string
	var finishedAt sql.NullString

	err := row.Scan(&p.Id, &p.Repo, &p.Status, &p.Error, &p.ExitCode, &startedAt, &updatedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
		p.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		p.UpdatedAt = t
	}
	if finishedAt.Valid {
		if t, err := time.Parse(time.RFC3339, finishedAt.String); err == nil {
			p.FinishedAt = &t
		}
	}

	return &p, nil
}
