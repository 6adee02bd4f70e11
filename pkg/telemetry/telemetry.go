package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/unclesp1d3r/cipherswarm/pkg/log"
	"github.com/unclesp1d3r/cipherswarm/pkg/metrics"
	"github.com/unclesp1d3r/cipherswarm/pkg/storage"
	"github.com/unclesp1d3r/cipherswarm/pkg/types"
)

// Validation errors for malformed frames. Their messages are surfaced
// verbatim to the submitting agent.
var (
	ErrGuessMissing   = errors.New("guess_not_found")
	ErrDevicesMissing = errors.New("device_statuses_not_found")
)

// ErrTaskNotRunning is returned when a frame arrives for a task that is
// neither running nor paused.
var ErrTaskNotRunning = errors.New("task not running")

// Result tells the agent what to do after a frame was accepted.
type Result string

const (
	// ResultOK: keep cracking.
	ResultOK Result = "ok"
	// ResultStale: re-sync cracked hashes before continuing.
	ResultStale Result = "stale"
	// ResultPaused: stop work; the campaign or attack is paused.
	ResultPaused Result = "paused"
)

// statusRetention bounds the per-task frame history. Older frames are
// pruned on every ingest.
const statusRetention = 100

// Frame is one decoded status submission. Guess and Devices are
// pointers/slices so absence is distinguishable from emptiness.
type Frame struct {
	Session       string
	Status        int
	Target        string
	Progress      [2]int64
	RestorePoint  int64
	Rejected      int64
	Guess         *types.HashcatGuess
	Devices       []types.DeviceStatus
	Time          time.Time
	TimeStart     time.Time
	EstimatedStop time.Time
}

// Validate checks the frame for the required sub-structures.
func (f *Frame) Validate() error {
	if f.Guess == nil {
		return ErrGuessMissing
	}
	if len(f.Devices) == 0 {
		return ErrDevicesMissing
	}
	return nil
}

// Service ingests periodic hashcat status frames: it persists the
// frame, advances the task's activity clock, refreshes the agent's
// last-seen time and tells the agent whether to continue, re-sync or
// pause.
type Service struct {
	store  storage.Store
	logger zerolog.Logger
}

// NewService creates a telemetry ingestion service.
func NewService(store storage.Store) *Service {
	return &Service{
		store:  store,
		logger: log.WithComponent("telemetry"),
	}
}

// Submit ingests one frame for the given task on behalf of the given
// agent. Validation failures reject the frame before anything is
// written.
func (s *Service) Submit(taskID, agentID string, frame *Frame, now time.Time) (Result, error) {
	if err := frame.Validate(); err != nil {
		metrics.StatusFramesTotal.WithLabelValues("rejected").Inc()
		return "", err
	}

	result := ResultOK
	err := s.store.Update(func(tx storage.Txn) error {
		task, err := tx.GetTask(taskID)
		if err != nil {
			return err
		}
		switch task.State {
		case types.TaskStateRunning:
		case types.TaskStatePaused:
			// A frame racing a pause gets the back-off answer, not an
			// error. The frame itself is discarded.
			result = ResultPaused
			return s.touchAgent(tx, agentID, now)
		default:
			return ErrTaskNotRunning
		}

		status := &types.HashcatStatus{
			ID:            uuid.New().String(),
			TaskID:        task.ID,
			Time:          frame.Time,
			Session:       frame.Session,
			Status:        frame.Status,
			Target:        frame.Target,
			Progress:      frame.Progress,
			RestorePoint:  frame.RestorePoint,
			Rejected:      frame.Rejected,
			Guess:         *frame.Guess,
			Devices:       frame.Devices,
			TimeStart:     frame.TimeStart,
			EstimatedStop: frame.EstimatedStop,
			CreatedAt:     now,
		}
		if err := tx.AppendHashcatStatus(status); err != nil {
			return err
		}
		if pruned, err := tx.PruneHashcatStatuses(task.ID, statusRetention); err != nil {
			return err
		} else if pruned > 0 {
			log.Cleanup("status_prune", pruned, map[string]string{"task_id": task.ID})
		}

		task.TouchActivity(now)
		if err := tx.UpdateTask(task); err != nil {
			return err
		}

		if err := s.touchAgent(tx, agentID, now); err != nil {
			return err
		}

		// Stale outranks paused: the agent must re-sync its cracked
		// hashes before it backs off.
		if task.Stale {
			result = ResultStale
			return nil
		}
		paused, err := s.pausedUpstream(tx, task)
		if err != nil {
			return err
		}
		if paused {
			result = ResultPaused
		}
		return nil
	})
	if err != nil {
		metrics.StatusFramesTotal.WithLabelValues("rejected").Inc()
		return "", fmt.Errorf("failed to ingest status for task %s: %w", taskID, err)
	}

	metrics.StatusFramesTotal.WithLabelValues(string(result)).Inc()
	return result, nil
}

// touchAgent refreshes the agent's last-seen time, never regressing it.
func (s *Service) touchAgent(tx storage.Txn, agentID string, now time.Time) error {
	if agentID == "" {
		return nil
	}
	agent, err := tx.GetAgent(agentID)
	if err != nil {
		return err
	}
	if now.After(agent.LastSeenAt) {
		agent.LastSeenAt = now
		return tx.UpdateAgent(agent)
	}
	return nil
}

// pausedUpstream reports whether the task's attack or campaign is
// paused, which obliges the agent to stop until resumed.
func (s *Service) pausedUpstream(tx storage.Txn, task *types.Task) (bool, error) {
	attack, err := tx.GetAttack(task.AttackID)
	if err != nil {
		return false, err
	}
	if attack.State == types.AttackStatePaused {
		return true, nil
	}
	campaign, err := tx.GetCampaign(attack.CampaignID)
	if err != nil {
		return false, err
	}
	return campaign.Paused, nil
}
