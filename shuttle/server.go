package shuttle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"shuttleci.dev/core/log"
	"shuttleci.dev/core/notifier"
	"shuttleci.dev/core/shuttle/config"
	"shuttleci.dev/core/shuttle/db"
	"shuttleci.dev/core/shuttle/engines/docker"
	"shuttleci.dev/core/shuttle/engines/host"
	"shuttleci.dev/core/shuttle/models"
	"shuttleci.dev/core/shuttle/queue"
	"shuttleci.dev/core/shuttle/runner"
	"shuttleci.dev/core/shuttle/secrets"
	"shuttleci.dev/core/workflow"
)

type Shuttle struct {
	db  *db.DB
	l   *slog.Logger
	n   *notifier.Notifier
	eng models.Engine
	r   *runner.Runner
	jq  *queue.Queue
	sm  secrets.Manager
	cfg *config.Config
}

func Run(ctx context.Context) error {
	logger := log.FromContext(ctx)

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	d, err := db.Make(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("failed to setup db: %w", err)
	}

	n := notifier.New()

	eng, err := NewEngine(ctx, cfg)
	if err != nil {
		return err
	}

	sm, err := secrets.NewSQLiteManager(cfg.Secrets.DBPath)
	if err != nil {
		return fmt.Errorf("failed to setup secrets manager: %w", err)
	}

	jq := queue.NewQueue(cfg.Pipelines.QueueSize, cfg.Pipelines.Workers)

	shuttle := Shuttle{
		db:  d,
		l:   logger,
		n:   &n,
		eng: eng,
		r:   runner.New(ctx, eng, d, &n, cfg.Pipelines.LogDir),
		jq:  jq,
		sm:  sm,
		cfg: cfg,
	}

	// starts the job queue workers in the background
	jq.Start()
	defer jq.Stop()

	logger.Info("starting shuttle server", "address", cfg.Server.ListenAddr, "engine", cfg.Pipelines.Engine)
	logger.Error("server error", "error", http.ListenAndServe(cfg.Server.ListenAddr, shuttle.Router()))

	return nil
}

// NewEngine builds the execution engine named by the configuration.
func NewEngine(ctx context.Context, cfg *config.Config) (models.Engine, error) {
	switch cfg.Pipelines.Engine {
	case "docker":
		return docker.New(ctx, cfg)
	case "host":
		return host.New(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.Pipelines.Engine)
	}
}

func (s *Shuttle) Router() http.Handler {
	mux := chi.NewRouter()
	mux.Use(s.RequestLogger)

	mux.Post("/pipelines", s.TriggerPipeline)
	mux.Get("/pipelines", s.ListPipelines)
	mux.Get("/pipelines/{id}", s.GetPipeline)
	mux.Get("/logs/{id}/{workflow}", s.Logs)
	mux.HandleFunc("/events", s.Events)
	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	return mux
}

// TriggerRequest is the payload the forge hook posts to start a
// pipeline: the trigger itself plus the raw workflow files of the
// repository at the triggering commit.
type TriggerRequest struct {
	Trigger   workflow.Trigger       `json:"trigger"`
	Workflows []workflow.RawWorkflow `json:"workflows"`
}

type TriggerResponse struct {
	Id       models.PipelineId `json:"id,omitempty"`
	Skipped  bool              `json:"skipped,omitempty"`
	Errors   []string          `json:"errors,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
}

func (s *Shuttle) TriggerPipeline(w http.ResponseWriter, r *http.Request) {
	l := s.l.With("handler", "TriggerPipeline")

	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Sprintf("invalid trigger payload: %s", err), http.StatusBadRequest)
		return
	}

	switch req.Trigger.Kind {
	case workflow.TriggerKindPush, workflow.TriggerKindPullRequest, workflow.TriggerKindManual:
	default:
		writeError(w, fmt.Sprintf("unknown trigger kind %q", req.Trigger.Kind), http.StatusBadRequest)
		return
	}

	compiler := workflow.Compiler{
		Trigger:      req.Trigger,
		DefaultImage: s.cfg.Pipelines.DefaultImage,
	}
	compiled := compiler.Compile(compiler.Parse(req.Workflows))

	resp := TriggerResponse{}
	for _, e := range compiler.Diagnostics.Errors {
		resp.Errors = append(resp.Errors, e.String())
	}
	for _, warning := range compiler.Diagnostics.Warnings {
		resp.Warnings = append(resp.Warnings, warning.String())
	}

	if compiler.Diagnostics.IsErr() {
		l.Error("pipeline rejected", "repo", req.Trigger.Repo.Name, "errors", len(resp.Errors))
		writeJSONStatus(w, resp, http.StatusBadRequest)
		return
	}

	if len(compiled.Workflows) == 0 {
		// nothing matched the trigger; not an error
		l.Info("pipeline skipped", "repo", req.Trigger.Repo.Name)
		resp.Skipped = true
		writeJSON(w, resp)
		return
	}

	pid := models.NewPipelineId()
	if err := s.db.CreatePipeline(pid, req.Trigger.Repo.Name, s.n); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	for _, cw := range compiled.Workflows {
		err := s.db.StatusPending(models.WorkflowId{PipelineId: pid, Name: cw.Name}, s.n)
		if err != nil {
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	unlocked, err := s.sm.GetSecretsUnlocked(r.Context(), req.Trigger.Repo.Name)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ok := s.jq.Enqueue(queue.Job{
		Run: func() error {
			return s.r.Run(context.Background(), compiled, pid, unlocked)
		},
		OnFail: func(jobError error) {
			s.l.Error("pipeline run failed", "id", pid, "error", jobError)
		},
	})
	if !ok {
		l.Error("failed to enqueue pipeline: queue is full", "id", pid)
		if err := s.db.MarkPipelineCancelled(pid, s.n); err != nil {
			l.Error("failed to cancel pipeline", "id", pid, "error", err)
		}
		writeError(w, "queue is full", http.StatusServiceUnavailable)
		return
	}

	l.Info("pipeline enqueued successfully", "id", pid, "workflows", len(compiled.Workflows))

	resp.Id = pid
	writeJSONStatus(w, resp, http.StatusAccepted)
}

func (s *Shuttle) ListPipelines(w http.ResponseWriter, r *http.Request) {
	ps, err := s.db.ListPipelines(50)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, ps)
}

func (s *Shuttle) GetPipeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := s.db.GetPipeline(models.PipelineId(id))
	if err != nil {
		writeError(w, "pipeline not found", http.StatusNotFound)
		return
	}
	writeJSON(w, p)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeJSONStatus(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
