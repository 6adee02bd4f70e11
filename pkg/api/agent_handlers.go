package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/unclesp1d3r/cipherswarm/pkg/agent"
	"github.com/unclesp1d3r/cipherswarm/pkg/log"
	"github.com/unclesp1d3r/cipherswarm/pkg/telemetry"
	"github.com/unclesp1d3r/cipherswarm/pkg/types"
)

type registerAgentRequest struct {
	UserID          string                     `json:"user_id"`
	ProjectIDs      []string                   `json:"project_ids"`
	HostName        string                     `json:"host_name"`
	OperatingSystem string                     `json:"operating_system"`
	Devices         []types.AgentDevice        `json:"devices"`
	Advanced        *types.AdvancedAgentConfig `json:"advanced_configuration"`
}

func (s *Server) registerAgent(w http.ResponseWriter, r *http.Request) int {
	var req registerAgentRequest
	if err := decode(r, &req); err != nil {
		return s.writeError(w, http.StatusBadRequest, "malformed_request")
	}
	registered, err := s.agents.Register(agent.RegisterParams{
		UserID:          req.UserID,
		ProjectIDs:      req.ProjectIDs,
		HostName:        req.HostName,
		OperatingSystem: req.OperatingSystem,
		IPAddress:       r.RemoteAddr,
		Devices:         req.Devices,
		Advanced:        req.Advanced,
	}, time.Now())
	if err != nil {
		return s.fail(w, "agents.register", err, log.StateChange{Event: "register"})
	}
	return s.writeJSON(w, http.StatusCreated, renderAgent(registered))
}

type benchmarkRequest struct {
	Benchmarks []struct {
		HashType  types.HashType `json:"hash_type"`
		HashSpeed float64        `json:"hash_speed"`
		Runtime   int64          `json:"runtime"`
	} `json:"hashcat_benchmarks"`
}

func (s *Server) submitBenchmarks(w http.ResponseWriter, r *http.Request) int {
	agentID := r.PathValue("agent_id")
	var req benchmarkRequest
	if err := decode(r, &req); err != nil {
		return s.writeError(w, http.StatusBadRequest, "malformed_request")
	}
	results := make([]agent.BenchmarkResult, 0, len(req.Benchmarks))
	for _, b := range req.Benchmarks {
		results = append(results, agent.BenchmarkResult{
			HashType:  b.HashType,
			HashSpeed: b.HashSpeed,
			Runtime:   b.Runtime,
		})
	}
	if err := s.agents.SubmitBenchmarks(agentID, results, time.Now()); err != nil {
		return s.fail(w, "agents.benchmarks", err, log.StateChange{Event: "benchmark", AgentID: agentID})
	}
	return s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) shutdownAgent(w http.ResponseWriter, r *http.Request) int {
	agentID := r.PathValue("agent_id")
	if err := s.agents.Shutdown(agentID, time.Now()); err != nil {
		return s.fail(w, "agents.shutdown", err, log.StateChange{Event: "shutdown", AgentID: agentID})
	}
	return s.writeJSON(w, http.StatusNoContent, nil)
}

type agentErrorRequest struct {
	TaskID   string            `json:"task_id"`
	Severity types.Severity    `json:"severity"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata"`
}

func (s *Server) reportAgentError(w http.ResponseWriter, r *http.Request) int {
	agentID := r.PathValue("agent_id")
	var req agentErrorRequest
	if err := decode(r, &req); err != nil {
		return s.writeError(w, http.StatusBadRequest, "malformed_request")
	}
	err := s.agents.ReportError(agentID, req.TaskID, req.Severity, req.Message, req.Metadata, time.Now())
	if err != nil {
		return s.fail(w, "agents.errors", err, log.StateChange{Event: "agent_error", AgentID: agentID})
	}
	return s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) pickupTask(w http.ResponseWriter, r *http.Request) int {
	agentID := r.PathValue("agent_id")
	now := time.Now()

	if err := s.agents.TouchPickup(agentID, r.RemoteAddr, now); err != nil {
		return s.fail(w, "tasks.pickup", err, log.StateChange{Event: "pickup", AgentID: agentID})
	}
	task, err := s.scheduler.Pickup(agentID, now)
	if err != nil {
		return s.fail(w, "tasks.pickup", err, log.StateChange{Event: "pickup", AgentID: agentID})
	}
	if task == nil {
		return s.writeJSON(w, http.StatusNoContent, nil)
	}
	return s.writeJSON(w, http.StatusOK, renderTask(task))
}

func (s *Server) acceptTask(w http.ResponseWriter, r *http.Request) int {
	taskID := r.PathValue("id")
	agentID := r.Header.Get("X-Agent-ID")
	if err := s.scheduler.Accept(taskID, agentID, time.Now()); err != nil {
		if code := s.classifyTask(w, taskID, err); code >= 0 {
			return code
		}
		return s.fail(w, "tasks.accept", err, log.StateChange{Event: "accept", TaskID: taskID, AgentID: agentID})
	}
	return s.writeJSON(w, http.StatusNoContent, nil)
}

type statusRequest struct {
	Session       string               `json:"session"`
	Status        int                  `json:"status"`
	Target        string               `json:"target"`
	Progress      [2]int64             `json:"progress"`
	RestorePoint  int64                `json:"restore_point"`
	Rejected      int64                `json:"rejected"`
	Guess         *types.HashcatGuess  `json:"hashcat_guess"`
	DeviceStatus  []types.DeviceStatus `json:"device_statuses"`
	Devices       []types.DeviceStatus `json:"devices"`
	Time          time.Time            `json:"time"`
	TimeStart     time.Time            `json:"time_start"`
	EstimatedStop time.Time            `json:"estimated_stop"`
}

func (s *Server) submitStatus(w http.ResponseWriter, r *http.Request) int {
	taskID := r.PathValue("id")
	agentID := r.Header.Get("X-Agent-ID")
	var req statusRequest
	if err := decode(r, &req); err != nil {
		return s.writeError(w, http.StatusBadRequest, "malformed_request")
	}

	// The device list is accepted under either name.
	devices := req.DeviceStatus
	if len(devices) == 0 {
		devices = req.Devices
	}
	frame := &telemetry.Frame{
		Session:       req.Session,
		Status:        req.Status,
		Target:        req.Target,
		Progress:      req.Progress,
		RestorePoint:  req.RestorePoint,
		Rejected:      req.Rejected,
		Guess:         req.Guess,
		Devices:       devices,
		Time:          req.Time,
		TimeStart:     req.TimeStart,
		EstimatedStop: req.EstimatedStop,
	}

	result, err := s.telemetry.Submit(taskID, agentID, frame, time.Now())
	switch {
	case err == nil:
	case errors.Is(err, telemetry.ErrGuessMissing):
		return s.writeError(w, http.StatusUnprocessableEntity, "guess_not_found")
	case errors.Is(err, telemetry.ErrDevicesMissing):
		return s.writeError(w, http.StatusUnprocessableEntity, "device_statuses_not_found")
	case errors.Is(err, telemetry.ErrTaskNotRunning):
		return s.writeError(w, http.StatusUnprocessableEntity, "task_invalid")
	default:
		if code := s.classifyTask(w, taskID, err); code >= 0 {
			return code
		}
		return s.fail(w, "tasks.status", err, log.StateChange{Event: "status", TaskID: taskID, AgentID: agentID})
	}
	return s.writeJSON(w, http.StatusOK, map[string]string{"status": string(result)})
}

type crackRequest struct {
	HashValue string    `json:"hash_value"`
	PlainText string    `json:"plain_text"`
	Timestamp time.Time `json:"timestamp"`
}

type crackResponse struct {
	Success        bool   `json:"success"`
	ErrorType      string `json:"error_type,omitempty"`
	AlreadyCracked bool   `json:"already_cracked,omitempty"`
	UncrackedCount int    `json:"uncracked_count"`
}

func (s *Server) submitCrack(w http.ResponseWriter, r *http.Request) int {
	taskID := r.PathValue("id")
	var req crackRequest
	if err := decode(r, &req); err != nil {
		return s.writeError(w, http.StatusBadRequest, "malformed_request")
	}
	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	result, err := s.cracks.Submit(taskID, req.HashValue, req.PlainText, ts)
	if err != nil {
		if code := s.classifyTask(w, taskID, err); code >= 0 {
			return code
		}
		return s.fail(w, "tasks.crack", err, log.StateChange{Event: "crack", TaskID: taskID})
	}
	return s.writeJSON(w, http.StatusOK, crackResponse{
		Success:        result.Success,
		ErrorType:      string(result.ErrorType),
		AlreadyCracked: result.AlreadyCracked,
		UncrackedCount: result.UncrackedCount,
	})
}

func (s *Server) completeTask(w http.ResponseWriter, r *http.Request) int {
	taskID := r.PathValue("id")
	agentID := r.Header.Get("X-Agent-ID")
	if err := s.scheduler.Complete(taskID, agentID, time.Now()); err != nil {
		if code := s.classifyTask(w, taskID, err); code >= 0 {
			return code
		}
		return s.fail(w, "tasks.completed", err, log.StateChange{Event: "complete", TaskID: taskID, AgentID: agentID})
	}
	return s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) exhaustTask(w http.ResponseWriter, r *http.Request) int {
	taskID := r.PathValue("id")
	agentID := r.Header.Get("X-Agent-ID")
	if err := s.scheduler.Exhaust(taskID, agentID, time.Now()); err != nil {
		if code := s.classifyTask(w, taskID, err); code >= 0 {
			return code
		}
		return s.fail(w, "tasks.exhausted", err, log.StateChange{Event: "exhaust", TaskID: taskID, AgentID: agentID})
	}
	return s.writeJSON(w, http.StatusNoContent, nil)
}

type taskResponse struct {
	ID              string `json:"id"`
	AttackID        string `json:"attack_id"`
	AgentID         string `json:"agent_id"`
	State           string `json:"state"`
	Stale           bool   `json:"stale"`
	RetryCount      int    `json:"retry_count"`
	PreemptionCount int    `json:"preemption_count"`
}

func renderTask(task *types.Task) taskResponse {
	return taskResponse{
		ID:              task.ID,
		AttackID:        task.AttackID,
		AgentID:         task.AgentID,
		State:           string(task.State),
		Stale:           task.Stale,
		RetryCount:      task.RetryCount,
		PreemptionCount: task.PreemptionCount,
	}
}

type agentResponse struct {
	ID         string   `json:"id"`
	State      string   `json:"state"`
	ProjectIDs []string `json:"project_ids"`
	HostName   string   `json:"host_name"`
}

func renderAgent(a *types.Agent) agentResponse {
	return agentResponse{
		ID:         a.ID,
		State:      string(a.State),
		ProjectIDs: a.ProjectIDs,
		HostName:   a.HostName,
	}
}
