package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/unclesp1d3r/cipherswarm/pkg/agent"
	"github.com/unclesp1d3r/cipherswarm/pkg/campaign"
	"github.com/unclesp1d3r/cipherswarm/pkg/crack"
	"github.com/unclesp1d3r/cipherswarm/pkg/eta"
	"github.com/unclesp1d3r/cipherswarm/pkg/health"
	"github.com/unclesp1d3r/cipherswarm/pkg/log"
	"github.com/unclesp1d3r/cipherswarm/pkg/metrics"
	"github.com/unclesp1d3r/cipherswarm/pkg/objectstore"
	"github.com/unclesp1d3r/cipherswarm/pkg/scheduler"
	"github.com/unclesp1d3r/cipherswarm/pkg/storage"
	"github.com/unclesp1d3r/cipherswarm/pkg/telemetry"
	"github.com/unclesp1d3r/cipherswarm/pkg/types"
)

// taskRecencyWindow is how far back the deleted-task heuristic looks
// when classifying an unknown task id.
const taskRecencyWindow = 24 * time.Hour

// Server is the HTTP surface: thin controllers that decode requests,
// delegate to the services and render their results.
type Server struct {
	store     storage.Store
	scheduler *scheduler.Service
	cracks    *crack.Service
	telemetry *telemetry.Service
	agents    *agent.Service
	campaigns *campaign.Service
	etas      *eta.Calculator
	health    *health.Service
	objects   objectstore.Store
	logger    zerolog.Logger

	mux  *http.ServeMux
	http *http.Server

	// baseURL prefixes the download and polling URLs rendered into
	// attack descriptors.
	baseURL string

	// Version is reported on the health endpoint.
	Version string
}

// Config bundles the server's collaborators.
type Config struct {
	Store     storage.Store
	Scheduler *scheduler.Service
	Cracks    *crack.Service
	Telemetry *telemetry.Service
	Agents    *agent.Service
	Campaigns *campaign.Service
	ETAs      *eta.Calculator
	Health    *health.Service
	Objects   objectstore.Store
	BaseURL   string
	Version   string
}

// NewServer creates the HTTP server and registers every route.
func NewServer(cfg Config) *Server {
	s := &Server{
		store:     cfg.Store,
		scheduler: cfg.Scheduler,
		cracks:    cfg.Cracks,
		telemetry: cfg.Telemetry,
		agents:    cfg.Agents,
		campaigns: cfg.Campaigns,
		etas:      cfg.ETAs,
		health:    cfg.Health,
		objects:   cfg.Objects,
		logger:    log.WithComponent("api"),
		mux:       http.NewServeMux(),
		baseURL:   cfg.BaseURL,
		Version:   cfg.Version,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	// Agent-facing surface
	s.mux.HandleFunc("POST /api/v1/agents", s.handle("agents.register", s.registerAgent))
	s.mux.HandleFunc("POST /api/v1/agents/{agent_id}/benchmarks", s.handle("agents.benchmarks", s.submitBenchmarks))
	s.mux.HandleFunc("POST /api/v1/agents/{agent_id}/shutdown", s.handle("agents.shutdown", s.shutdownAgent))
	s.mux.HandleFunc("POST /api/v1/agents/{agent_id}/errors", s.handle("agents.errors", s.reportAgentError))
	s.mux.HandleFunc("GET /api/v1/agents/{agent_id}/tasks/new", s.handle("tasks.pickup", s.pickupTask))

	s.mux.HandleFunc("POST /api/v1/tasks/{id}/accept", s.handle("tasks.accept", s.acceptTask))
	s.mux.HandleFunc("POST /api/v1/tasks/{id}/status", s.handle("tasks.status", s.submitStatus))
	s.mux.HandleFunc("POST /api/v1/tasks/{id}/crack", s.handle("tasks.crack", s.submitCrack))
	s.mux.HandleFunc("POST /api/v1/tasks/{id}/completed", s.handle("tasks.completed", s.completeTask))
	s.mux.HandleFunc("POST /api/v1/tasks/{id}/exhausted", s.handle("tasks.exhausted", s.exhaustTask))

	s.mux.HandleFunc("GET /api/v1/attacks/{id}", s.handle("attacks.show", s.attackDescriptor))
	s.mux.HandleFunc("GET /api/v1/attacks/{id}/hash_list", s.handle("attacks.hash_list", s.attackHashList))
	s.mux.HandleFunc("GET /api/v1/attacks/{id}/status", s.handle("attacks.status", s.attackStatus))

	// Operator surface
	s.mux.HandleFunc("POST /api/v1/projects", s.handle("projects.create", s.createProject))
	s.mux.HandleFunc("POST /api/v1/hash_lists", s.handle("hash_lists.create", s.createHashList))
	s.mux.HandleFunc("POST /api/v1/campaigns", s.handle("campaigns.create", s.createCampaign))
	s.mux.HandleFunc("POST /api/v1/campaigns/{id}/pause", s.handle("campaigns.pause", s.pauseCampaign))
	s.mux.HandleFunc("POST /api/v1/campaigns/{id}/resume", s.handle("campaigns.resume", s.resumeCampaign))
	s.mux.HandleFunc("POST /api/v1/campaigns/{id}/priority", s.handle("campaigns.priority", s.setCampaignPriority))
	s.mux.HandleFunc("DELETE /api/v1/campaigns/{id}", s.handle("campaigns.delete", s.deleteCampaign))
	s.mux.HandleFunc("GET /api/v1/campaigns/{id}/eta", s.handle("campaigns.eta", s.campaignETA))

	s.mux.HandleFunc("POST /api/v1/attacks", s.handle("attacks.create", s.createAttack))
	s.mux.HandleFunc("POST /api/v1/attacks/{id}/abandon", s.handle("attacks.abandon", s.abandonAttack))

	s.mux.HandleFunc("POST /api/v1/tasks/{id}/cancel", s.handle("tasks.cancel", s.cancelTask))
	s.mux.HandleFunc("POST /api/v1/tasks/{id}/retry", s.handle("tasks.retry", s.retryTask))
	s.mux.HandleFunc("POST /api/v1/tasks/{id}/reassign", s.handle("tasks.reassign", s.reassignTask))

	// Resources
	s.mux.HandleFunc("POST /api/v1/resources", s.handle("resources.upload", s.uploadResource))
	s.mux.HandleFunc("GET /resources/{id}", s.handle("resources.download", s.downloadResource))

	// Operational surface
	s.mux.HandleFunc("GET /health", s.handle("health", s.healthSnapshot))
	s.mux.Handle("GET /metrics", metrics.Handler())
}

// Start runs the server until the listener fails or Stop is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("http api listening")
	return s.http.ListenAndServe()
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Handler exposes the mux for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// handlerFunc is a controller returning the status code it wrote, for
// the request counter.
type handlerFunc func(w http.ResponseWriter, r *http.Request) int

// handle wraps a controller with request metrics.
func (s *Server) handle(route string, fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := fn(w, r)
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
	return status
}

// writeError renders an expected error kind without logging.
func (s *Server) writeError(w http.ResponseWriter, status int, kind string) int {
	return s.writeJSON(w, status, errorResponse{Error: kind})
}

// fail classifies an unexpected service error, logs it and renders the
// corresponding response.
func (s *Server) fail(w http.ResponseWriter, route string, err error, sc log.StateChange) int {
	var invalid *types.ErrInvalidTransition
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return s.writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, scheduler.ErrNotOwner):
		return s.writeError(w, http.StatusUnprocessableEntity, "task_not_assigned")
	case errors.As(err, &invalid):
		return s.writeError(w, http.StatusUnprocessableEntity, "task_invalid")
	default:
		log.APIError(route, err, sc)
		return s.writeError(w, http.StatusInternalServerError, "internal")
	}
}

// decode parses a JSON request body.
func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("malformed request body: %w", err)
	}
	return nil
}

// classifyTask distinguishes a task assigned elsewhere from one that
// was recently deleted and one that never existed.
func (s *Server) classifyTask(w http.ResponseWriter, taskID string, err error) int {
	if !errors.Is(err, storage.ErrNotFound) {
		return -1
	}
	deleted := false
	_ = s.store.View(func(tx storage.Txn) error {
		var viewErr error
		deleted, viewErr = tx.TaskDeletedRecently(taskID, taskRecencyWindow)
		return viewErr
	})
	if deleted {
		return s.writeError(w, http.StatusNotFound, "task_deleted")
	}
	return s.writeError(w, http.StatusNotFound, "task_invalid")
}
