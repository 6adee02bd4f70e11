package agent

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/unclesp1d3r/cipherswarm/pkg/events"
	"github.com/unclesp1d3r/cipherswarm/pkg/log"
	"github.com/unclesp1d3r/cipherswarm/pkg/storage"
	"github.com/unclesp1d3r/cipherswarm/pkg/types"
)

// HeartbeatMultiplier scales an agent's update interval into its
// allowed silence before it is declared offline.
const HeartbeatMultiplier = 3

// fatalErrorThreshold is how many fatal errors inside fatalErrorWindow
// move an agent to the error state.
const (
	fatalErrorThreshold = 3
	fatalErrorWindow    = time.Hour
)

// RegisterParams describes a new agent.
type RegisterParams struct {
	UserID          string
	ProjectIDs      []string
	HostName        string
	OperatingSystem string
	IPAddress       string
	Devices         []types.AgentDevice
	Advanced        *types.AdvancedAgentConfig
}

// BenchmarkResult is one measured (hash type, speed) pair.
type BenchmarkResult struct {
	HashType  types.HashType
	HashSpeed float64
	Runtime   int64
}

// Service manages the agent lifecycle: registration, benchmark intake,
// heartbeat accounting, voluntary shutdown and error reporting.
type Service struct {
	store  storage.Store
	broker *events.Broker
	logger zerolog.Logger

	// grace pads the heartbeat deadline beyond update_interval times
	// HeartbeatMultiplier.
	grace  time.Duration
	stopCh chan struct{}
}

// NewService creates an agent lifecycle service.
func NewService(store storage.Store, broker *events.Broker, grace time.Duration) *Service {
	return &Service{
		store:  store,
		broker: broker,
		logger: log.WithComponent("agent"),
		grace:  grace,
		stopCh: make(chan struct{}),
	}
}

// Register creates a new agent in pending state. The agent stays
// pending until its first successful benchmark run.
func (s *Service) Register(params RegisterParams, now time.Time) (*types.Agent, error) {
	agent := &types.Agent{
		ID:              uuid.New().String(),
		UserID:          params.UserID,
		ProjectIDs:      params.ProjectIDs,
		State:           types.AgentStatePending,
		HostName:        params.HostName,
		OperatingSystem: params.OperatingSystem,
		LastIPAddress:   params.IPAddress,
		LastSeenAt:      now,
		Devices:         params.Devices,
		Advanced:        params.Advanced,
		CreatedAt:       now,
	}
	err := s.store.Update(func(tx storage.Txn) error {
		return tx.CreateAgent(agent)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register agent: %w", err)
	}
	s.broker.Publish(&events.Event{
		Type:     events.EventAgentRegistered,
		Message:  "agent registered",
		Metadata: map[string]string{"agent_id": agent.ID, "host": agent.HostName},
	})
	return agent, nil
}

// SubmitBenchmarks records a benchmark run. A pending agent is
// activated by its first successful run.
func (s *Service) SubmitBenchmarks(agentID string, results []BenchmarkResult, now time.Time) error {
	activated := false
	err := s.store.Update(func(tx storage.Txn) error {
		agent, err := tx.GetAgent(agentID)
		if err != nil {
			return err
		}
		for _, r := range results {
			benchmark := &types.Benchmark{
				ID:        uuid.New().String(),
				AgentID:   agent.ID,
				HashType:  r.HashType,
				HashSpeed: r.HashSpeed,
				Runtime:   r.Runtime,
				RunAt:     now,
			}
			if err := tx.CreateBenchmark(benchmark); err != nil {
				return err
			}
		}
		if agent.State == types.AgentStatePending && len(results) > 0 {
			if err := agent.Apply(types.AgentEventActivate, now); err != nil {
				return err
			}
			activated = true
		}
		agent.LastSeenAt = now
		return tx.UpdateAgent(agent)
	})
	if err != nil {
		return fmt.Errorf("failed to record benchmarks for agent %s: %w", agentID, err)
	}
	if activated {
		log.Transition(log.StateChange{
			Event:   string(types.AgentEventActivate),
			AgentID: agentID,
			From:    string(types.AgentStatePending),
			To:      string(types.AgentStateActive),
		})
		s.broker.Publish(&events.Event{
			Type:     events.EventAgentActivated,
			Message:  "agent activated",
			Metadata: map[string]string{"agent_id": agentID},
		})
	}
	return nil
}

// TouchPickup refreshes the agent's liveness on an authenticated
// pickup, recovering it from offline if needed.
func (s *Service) TouchPickup(agentID, ipAddress string, now time.Time) error {
	recovered := false
	err := s.store.Update(func(tx storage.Txn) error {
		agent, err := tx.GetAgent(agentID)
		if err != nil {
			return err
		}
		if agent.State == types.AgentStateOffline {
			if err := agent.Apply(types.AgentEventRecover, now); err != nil {
				return err
			}
			recovered = true
		}
		if now.After(agent.LastSeenAt) {
			agent.LastSeenAt = now
		}
		if ipAddress != "" {
			agent.LastIPAddress = ipAddress
		}
		return tx.UpdateAgent(agent)
	})
	if err != nil {
		return fmt.Errorf("failed to touch agent %s: %w", agentID, err)
	}
	if recovered {
		log.Transition(log.StateChange{
			Event:   string(types.AgentEventRecover),
			AgentID: agentID,
			From:    string(types.AgentStateOffline),
			To:      string(types.AgentStateActive),
		})
		s.broker.Publish(&events.Event{
			Type:     events.EventAgentRecovered,
			Message:  "agent recovered",
			Metadata: map[string]string{"agent_id": agentID},
		})
	}
	return nil
}

// Shutdown handles a voluntary agent shutdown: the agent goes offline
// and its running tasks are paused with agent_id preserved, so another
// agent can reclaim them.
func (s *Service) Shutdown(agentID string, now time.Time) error {
	err := s.store.Update(func(tx storage.Txn) error {
		agent, err := tx.GetAgent(agentID)
		if err != nil {
			return err
		}
		if err := agent.Apply(types.AgentEventShutdown, now); err != nil {
			return err
		}
		if err := tx.UpdateAgent(agent); err != nil {
			return err
		}
		return pauseRunningTasks(tx, agent.ID, now)
	})
	if err != nil {
		return fmt.Errorf("failed to shut down agent %s: %w", agentID, err)
	}
	log.Transition(log.StateChange{
		Event:   string(types.AgentEventShutdown),
		AgentID: agentID,
		From:    string(types.AgentStateActive),
		To:      string(types.AgentStateOffline),
	})
	s.broker.Publish(&events.Event{
		Type:     events.EventAgentOffline,
		Message:  "agent shut down",
		Metadata: map[string]string{"agent_id": agentID},
	})
	return nil
}

// ReportError records an agent-reported incident. A fatal error fails
// the referenced task and its attack; an agent accumulating fatal
// errors is moved to the error state.
func (s *Service) ReportError(agentID, taskID string, severity types.Severity, message string, metadata map[string]string, now time.Time) error {
	errored := false
	err := s.store.Update(func(tx storage.Txn) error {
		agent, err := tx.GetAgent(agentID)
		if err != nil {
			return err
		}
		agentError := &types.AgentError{
			ID:        uuid.New().String(),
			AgentID:   agent.ID,
			TaskID:    taskID,
			Severity:  severity,
			Message:   message,
			Metadata:  metadata,
			CreatedAt: now,
		}
		if err := tx.CreateAgentError(agentError); err != nil {
			return err
		}
		if severity != types.SeverityFatal {
			return nil
		}

		if taskID != "" {
			if err := failTask(tx, taskID, message, now); err != nil {
				return err
			}
		}

		fatal, err := s.recentFatalCount(tx, agent.ID, now)
		if err != nil {
			return err
		}
		if fatal >= fatalErrorThreshold && agent.State != types.AgentStateError {
			from := agent.State
			if err := agent.Apply(types.AgentEventError, now); err != nil {
				return err
			}
			if err := tx.UpdateAgent(agent); err != nil {
				return err
			}
			errored = true
			log.Transition(log.StateChange{
				Event:   string(types.AgentEventError),
				AgentID: agent.ID,
				From:    string(from),
				To:      string(agent.State),
				Context: map[string]string{"fatal_errors": fmt.Sprintf("%d", fatal)},
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record error for agent %s: %w", agentID, err)
	}
	if errored {
		s.broker.Publish(&events.Event{
			Type:     events.EventAgentErrored,
			Message:  "agent moved to error state",
			Metadata: map[string]string{"agent_id": agentID},
		})
	}
	return nil
}

func (s *Service) recentFatalCount(tx storage.Txn, agentID string, now time.Time) (int, error) {
	agentErrors, err := tx.ListAgentErrorsByAgent(agentID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, ae := range agentErrors {
		if ae.Severity == types.SeverityFatal && now.Sub(ae.CreatedAt) <= fatalErrorWindow {
			count++
		}
	}
	return count, nil
}

// failTask cancels a live task after a fatal agent error and fails its
// attack if the attack was running.
func failTask(tx storage.Txn, taskID, message string, now time.Time) error {
	task, err := tx.GetTask(taskID)
	if err != nil {
		return err
	}
	if task.State != types.TaskStatePending && task.State != types.TaskStateRunning {
		return nil
	}
	from := task.State
	if err := task.Apply(types.TaskEventCancel, now); err != nil {
		return err
	}
	task.LastError = message
	if err := tx.UpdateTask(task); err != nil {
		return err
	}
	log.Transition(log.StateChange{
		Event:  "fail",
		TaskID: task.ID,
		From:   string(from),
		To:     string(task.State),
	})

	attack, err := tx.GetAttack(task.AttackID)
	if err != nil {
		return err
	}
	if attack.State != types.AttackStateRunning {
		return nil
	}
	if err := attack.Apply(types.AttackEventFail, now); err != nil {
		return err
	}
	if err := tx.UpdateAttack(attack); err != nil {
		return err
	}
	log.Transition(log.StateChange{
		Event:    string(types.AttackEventFail),
		AttackID: attack.ID,
		From:     string(types.AttackStateRunning),
		To:       string(attack.State),
	})
	return nil
}

// pauseRunningTasks pauses an agent's running tasks in place, leaving
// agent_id set so the reclaim path can see who abandoned them.
func pauseRunningTasks(tx storage.Txn, agentID string, now time.Time) error {
	tasks, err := tx.ListTasksByAgent(agentID)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if task.State != types.TaskStateRunning {
			continue
		}
		if err := task.Apply(types.TaskEventPause, now); err != nil {
			return err
		}
		if err := tx.UpdateTask(task); err != nil {
			return err
		}
		log.Transition(log.StateChange{
			Event:   string(types.TaskEventPause),
			TaskID:  task.ID,
			AgentID: agentID,
			From:    string(types.TaskStateRunning),
			To:      string(task.State),
		})
	}
	return nil
}
