package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/unclesp1d3r/cipherswarm/pkg/events"
	"github.com/unclesp1d3r/cipherswarm/pkg/log"
	"github.com/unclesp1d3r/cipherswarm/pkg/metrics"
	"github.com/unclesp1d3r/cipherswarm/pkg/storage"
	"github.com/unclesp1d3r/cipherswarm/pkg/types"
)

// PreemptIfNeeded reclaims one slot for the incoming attack by moving a
// lower-priority running task back to pending. It returns the preempted
// task, or nil when no preemption was necessary or possible. Intended
// for use on admission of a high-priority attack.
func (s *Service) PreemptIfNeeded(attackID string, now time.Time) (*types.Task, error) {
	var (
		preempted *types.Task
		published []*events.Event
	)
	err := s.store.Update(func(tx storage.Txn) error {
		attack, err := tx.GetAttack(attackID)
		if err != nil {
			return err
		}
		preempted, published, err = s.preemptFor(tx, attack, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to preempt for attack %s: %w", attackID, err)
	}
	for _, ev := range published {
		s.broker.Publish(ev)
	}
	return preempted, nil
}

// preemptForHighPriority is rule 5 of the pickup path: it looks for
// high-priority attacks starved of a slot and preempts on their behalf.
func (s *Service) preemptForHighPriority(tx storage.Txn, agent *types.Agent, now time.Time) (bool, []*events.Event, error) {
	attacks, err := tx.ListAttacks()
	if err != nil {
		return false, nil, err
	}

	var published []*events.Event
	for _, attack := range attacks {
		if attack.State != types.AttackStatePending && attack.State != types.AttackStateRunning {
			continue
		}
		campaign, err := tx.GetCampaign(attack.CampaignID)
		if err != nil {
			continue
		}
		if campaign.Priority != types.PriorityHigh || campaign.Paused || !agent.InProject(campaign.ProjectID) {
			continue
		}
		uncracked, err := tx.CountUncrackedHashItems(campaign.HashListID)
		if err != nil || uncracked == 0 {
			continue
		}
		busy, err := s.attackHasLiveTask(tx, attack.ID)
		if err != nil || busy {
			continue
		}

		task, evs, err := s.preemptFor(tx, attack, now)
		if err != nil {
			return false, nil, err
		}
		if task != nil {
			published = append(published, evs...)
			return true, published, nil
		}
	}
	return false, published, nil
}

// preemptFor selects and preempts one victim for the incoming attack.
// Preconditions and exclusions follow the scheduler's contract: every
// active agent must be busy, only strictly lower-priority tasks in the
// same project qualify, and pinned or nearly-complete tasks are immune.
func (s *Service) preemptFor(tx storage.Txn, incoming *types.Attack, now time.Time) (*types.Task, []*events.Event, error) {
	incomingCampaign, err := tx.GetCampaign(incoming.CampaignID)
	if err != nil {
		return nil, nil, err
	}

	idle, err := s.anyActiveAgentIdle(tx)
	if err != nil {
		return nil, nil, err
	}
	if idle {
		return nil, nil, nil
	}

	candidates, err := s.preemptionCandidates(tx, incomingCampaign)
	if err != nil {
		return nil, nil, err
	}

	for _, candidate := range candidates {
		task, err := tx.GetTask(candidate.task.ID)
		if err != nil {
			log.TransitionError(log.StateChange{
				Event:  string(types.TaskEventPreempt),
				TaskID: candidate.task.ID,
			}, err)
			continue
		}
		// Revalidate under the transaction; the task may have finished
		// or been claimed since enumeration.
		if !task.Preemptable(candidate.progress) {
			continue
		}
		previous := task.AgentID
		if err := task.Apply(types.TaskEventPreempt, now); err != nil {
			log.TransitionError(log.StateChange{
				Event:  string(types.TaskEventPreempt),
				TaskID: task.ID,
			}, err)
			continue
		}
		if err := tx.UpdateTask(task); err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				continue
			}
			return nil, nil, err
		}
		log.Transition(log.StateChange{
			Event:    string(types.TaskEventPreempt),
			TaskID:   task.ID,
			AttackID: incoming.ID,
			From:     string(types.TaskStateRunning),
			To:       string(task.State),
			Context:  map[string]string{"previous_agent_id": previous},
		})
		metrics.TasksPreemptedTotal.Inc()
		ev := &events.Event{
			Type:    events.EventTaskPreempted,
			Message: "task preempted for higher-priority attack",
			Metadata: map[string]string{
				"task_id":   task.ID,
				"attack_id": incoming.ID,
			},
		}
		return task, []*events.Event{ev}, nil
	}
	return nil, nil, nil
}

func (s *Service) anyActiveAgentIdle(tx storage.Txn) (bool, error) {
	agents, err := tx.ListAgents()
	if err != nil {
		return false, err
	}
	for _, agent := range agents {
		if agent.State != types.AgentStateActive {
			continue
		}
		tasks, err := tx.ListTasksByAgent(agent.ID)
		if err != nil {
			return false, err
		}
		busy := false
		for _, task := range tasks {
			if task.State.Incomplete() {
				busy = true
				break
			}
		}
		if !busy {
			return true, nil
		}
	}
	return false, nil
}

type preemptionCandidate struct {
	task     *types.Task
	priority int
	progress float64
}

// preemptionCandidates enumerates running tasks on active agents in the
// incoming campaign's project whose campaign priority is strictly lower,
// ordered lowest priority first, then smallest progress, then oldest
// activity. Tasks with no status frames count as zero progress.
func (s *Service) preemptionCandidates(tx storage.Txn, incoming *types.Campaign) ([]preemptionCandidate, error) {
	tasks, err := tx.ListTasks()
	if err != nil {
		return nil, err
	}

	var out []preemptionCandidate
	for _, task := range tasks {
		if task.State != types.TaskStateRunning || task.AgentID == "" {
			continue
		}
		agent, err := tx.GetAgent(task.AgentID)
		if err != nil || agent.State != types.AgentStateActive {
			continue
		}
		attack, err := tx.GetAttack(task.AttackID)
		if err != nil {
			continue
		}
		campaign, err := tx.GetCampaign(attack.CampaignID)
		if err != nil {
			continue
		}
		if campaign.ProjectID != incoming.ProjectID {
			continue
		}
		if campaign.Priority.Ordinal() >= incoming.Priority.Ordinal() {
			continue
		}

		latest, err := tx.LatestHashcatStatus(task.ID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		progress := latest.FractionalProgress()
		if !task.Preemptable(progress) {
			continue
		}
		out = append(out, preemptionCandidate{
			task:     task,
			priority: campaign.Priority.Ordinal(),
			progress: progress,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority < out[j].priority
		}
		if out[i].progress != out[j].progress {
			return out[i].progress < out[j].progress
		}
		return out[i].task.ActivityAt.Before(out[j].task.ActivityAt)
	})
	return out, nil
}
