package shuttle

import (
	"io"
	"net/http"
	"os"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/go-chi/chi/v5"

	"shuttleci.dev/core/shuttle/models"
)

// Logs serves the JSON-lines log of one workflow run.
func (s *Shuttle) Logs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "workflow")

	wid := models.WorkflowId{
		PipelineId: models.PipelineId(id),
		Name:       name,
	}

	path, err := securejoin.SecureJoin(s.cfg.Pipelines.LogDir, wid.String()+".log")
	if err != nil {
		writeError(w, "log not found", http.StatusNotFound)
		s.l.Error("failed to secure join log path", "handler", "Logs", "error", err)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		writeError(w, "log not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/jsonlines")
	if _, err := io.Copy(w, f); err != nil {
		s.l.Error("failed to stream log", "handler", "Logs", "error", err)
	}
}
