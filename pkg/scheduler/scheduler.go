package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/unclesp1d3r/cipherswarm/pkg/events"
	"github.com/unclesp1d3r/cipherswarm/pkg/log"
	"github.com/unclesp1d3r/cipherswarm/pkg/metrics"
	"github.com/unclesp1d3r/cipherswarm/pkg/storage"
	"github.com/unclesp1d3r/cipherswarm/pkg/types"
)

// MinPerformanceBenchmark is the slowest acceptable benchmark speed, in
// guesses per second. Agents below it are skipped for the attack and an
// informational error is recorded.
const MinPerformanceBenchmark = 1000

// Service hands out work to agents. Pickup walks a strict rule order:
// the agent's own live work first, then its retryable failures, then
// paused tasks orphaned by offline agents, then a fresh task from the
// cheapest eligible attack, and finally a preemption attempt on behalf
// of high-priority attacks.
type Service struct {
	store  storage.Store
	broker *events.Broker
	logger zerolog.Logger
}

// NewService creates a task assignment service.
func NewService(store storage.Store, broker *events.Broker) *Service {
	return &Service{
		store:  store,
		broker: broker,
		logger: log.WithComponent("scheduler"),
	}
}

// Pickup returns the next task for the agent, or nil when no work is
// available. The whole decision, including any preemption, runs in one
// transaction so two concurrent pickups cannot claim the same slot.
func (s *Service) Pickup(agentID string, now time.Time) (*types.Task, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.AssignmentLatency)

	var (
		picked    *types.Task
		published []*events.Event
	)
	err := s.store.Update(func(tx storage.Txn) error {
		agent, err := tx.GetAgent(agentID)
		if err != nil {
			return err
		}
		if len(agent.ProjectIDs) == 0 {
			return nil
		}

		picked, published, err = s.findNextTask(tx, agent, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pick up task for agent %s: %w", agentID, err)
	}

	for _, ev := range published {
		s.broker.Publish(ev)
	}
	return picked, nil
}

func (s *Service) findNextTask(tx storage.Txn, agent *types.Agent, now time.Time) (*types.Task, []*events.Event, error) {
	owned, err := tx.ListTasksByAgent(agent.ID)
	if err != nil {
		return nil, nil, err
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].Seq < owned[j].Seq })

	fatal, err := s.fatalTaskIDs(tx, agent.ID)
	if err != nil {
		return nil, nil, err
	}

	// Rule 1: resume own incomplete work.
	for _, task := range owned {
		if !task.State.Incomplete() || fatal[task.ID] {
			continue
		}
		attack, err := tx.GetAttack(task.AttackID)
		if err != nil {
			continue
		}
		if attack.State == types.AttackStateAbandoned {
			continue
		}
		metrics.TasksAssignedTotal.WithLabelValues("own_incomplete").Inc()
		return task, nil, nil
	}

	// Rule 2: retry own failed tasks.
	for _, task := range owned {
		if task.State != types.TaskStateFailed || fatal[task.ID] {
			continue
		}
		attack, err := tx.GetAttack(task.AttackID)
		if err != nil || attack.State == types.AttackStateAbandoned {
			continue
		}
		from := task.State
		if err := task.Apply(types.TaskEventRetry, now); err != nil {
			return nil, nil, err
		}
		if err := tx.UpdateTask(task); err != nil {
			return nil, nil, err
		}
		log.Transition(log.StateChange{
			Event:   string(types.TaskEventRetry),
			TaskID:  task.ID,
			AgentID: agent.ID,
			From:    string(from),
			To:      string(task.State),
		})
		metrics.TasksAssignedTotal.WithLabelValues("own_failed").Inc()
		return task, nil, nil
	}

	// Rule 3: reclaim paused tasks orphaned by offline agents.
	task, ev, err := s.reclaimOrphan(tx, agent, now)
	if err != nil {
		return nil, nil, err
	}
	if task != nil {
		metrics.TasksAssignedTotal.WithLabelValues("orphan_reclaim").Inc()
		return task, []*events.Event{ev}, nil
	}

	// Rule 4: create a task from the cheapest eligible attack.
	task, evs, err := s.createFromAttack(tx, agent, now)
	if err != nil {
		return nil, nil, err
	}
	if task != nil {
		metrics.TasksAssignedTotal.WithLabelValues("new_attack").Inc()
		return task, evs, nil
	}

	// Rule 5: preempt on behalf of a starved high-priority attack, then
	// try rule 4 once more.
	preempted, pevs, err := s.preemptForHighPriority(tx, agent, now)
	if err != nil {
		return nil, nil, err
	}
	if preempted {
		task, evs, err = s.createFromAttack(tx, agent, now)
		if err != nil {
			return nil, nil, err
		}
		if task != nil {
			metrics.TasksAssignedTotal.WithLabelValues("after_preempt").Inc()
			pevs = append(pevs, evs...)
		}
		return task, pevs, nil
	}
	return nil, nil, nil
}

// fatalTaskIDs collects task ids carrying a fatal error attributed to
// this agent. Those tasks are never handed back to it.
func (s *Service) fatalTaskIDs(tx storage.Txn, agentID string) (map[string]bool, error) {
	agentErrors, err := tx.ListAgentErrorsByAgent(agentID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for _, ae := range agentErrors {
		if ae.Severity == types.SeverityFatal && ae.TaskID != "" {
			out[ae.TaskID] = true
		}
	}
	return out, nil
}

func (s *Service) reclaimOrphan(tx storage.Txn, agent *types.Agent, now time.Time) (*types.Task, *events.Event, error) {
	tasks, err := tx.ListTasks()
	if err != nil {
		return nil, nil, err
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Seq < tasks[j].Seq })

	for _, task := range tasks {
		if task.State != types.TaskStatePaused || task.AgentID == agent.ID {
			continue
		}
		if task.AgentID != "" {
			owner, err := tx.GetAgent(task.AgentID)
			if err != nil || owner.State != types.AgentStateOffline {
				continue
			}
		}
		attack, err := tx.GetAttack(task.AttackID)
		if err != nil || attack.State.Terminal() {
			continue
		}
		campaign, err := tx.GetCampaign(attack.CampaignID)
		if err != nil || campaign.Paused || !agent.InProject(campaign.ProjectID) {
			continue
		}
		uncracked, err := tx.CountUncrackedHashItems(campaign.HashListID)
		if err != nil || uncracked == 0 {
			continue
		}

		previous := task.AgentID
		if err := task.Reassign(agent.ID, now); err != nil {
			return nil, nil, err
		}
		if err := tx.UpdateTask(task); err != nil {
			return nil, nil, err
		}
		log.Transition(log.StateChange{
			Event:   "reassign",
			TaskID:  task.ID,
			AgentID: agent.ID,
			From:    string(types.TaskStatePaused),
			To:      string(task.State),
			Context: map[string]string{"previous_agent_id": previous},
		})
		ev := &events.Event{
			Type:    events.EventTaskReassigned,
			Message: "orphaned task reclaimed",
			Metadata: map[string]string{
				"task_id":  task.ID,
				"agent_id": agent.ID,
			},
		}
		return task, ev, nil
	}
	return nil, nil, nil
}

func (s *Service) createFromAttack(tx storage.Txn, agent *types.Agent, now time.Time) (*types.Task, []*events.Event, error) {
	attacks, err := s.eligibleAttacks(tx, agent, now)
	if err != nil {
		return nil, nil, err
	}
	if len(attacks) == 0 {
		return nil, nil, nil
	}
	attack := attacks[0]

	task := &types.Task{
		ID:         uuid.New().String(),
		AttackID:   attack.ID,
		AgentID:    agent.ID,
		State:      types.TaskStatePending,
		ActivityAt: now,
		CreatedAt:  now,
	}
	if err := tx.CreateTask(task); err != nil {
		return nil, nil, err
	}

	var evs []*events.Event
	if attack.State == types.AttackStatePending {
		if err := attack.Apply(types.AttackEventRun, now); err != nil {
			return nil, nil, err
		}
		if err := tx.UpdateAttack(attack); err != nil {
			return nil, nil, err
		}
		log.Transition(log.StateChange{
			Event:    string(types.AttackEventRun),
			AttackID: attack.ID,
			From:     string(types.AttackStatePending),
			To:       string(attack.State),
		})
		evs = append(evs, &events.Event{
			Type:     events.EventAttackStarted,
			Message:  "attack started",
			Metadata: map[string]string{"attack_id": attack.ID},
		})
	}
	log.Transition(log.StateChange{
		Event:    "create",
		TaskID:   task.ID,
		AgentID:  agent.ID,
		AttackID: attack.ID,
		To:       string(task.State),
	})
	evs = append(evs, &events.Event{
		Type:    events.EventTaskCreated,
		Message: "task assigned",
		Metadata: map[string]string{
			"task_id":   task.ID,
			"agent_id":  agent.ID,
			"attack_id": attack.ID,
		},
	})
	return task, evs, nil
}

// eligibleAttacks returns the attacks this agent may start work on,
// cheapest candidate space first, attack id as the deterministic
// tie-break. An attack with a live task anywhere is skipped; one task
// runs per attack at a time.
func (s *Service) eligibleAttacks(tx storage.Txn, agent *types.Agent, now time.Time) ([]*types.Attack, error) {
	attacks, err := tx.ListAttacks()
	if err != nil {
		return nil, err
	}

	var out []*types.Attack
	for _, attack := range attacks {
		if attack.State != types.AttackStatePending && attack.State != types.AttackStateRunning {
			continue
		}
		campaign, err := tx.GetCampaign(attack.CampaignID)
		if err != nil {
			continue
		}
		if campaign.Paused || !agent.InProject(campaign.ProjectID) {
			continue
		}
		hashList, err := tx.GetHashList(campaign.HashListID)
		if err != nil {
			continue
		}
		ok, err := s.meetsBenchmark(tx, agent, attack, hashList.HashType, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		uncracked, err := tx.CountUncrackedHashItems(hashList.ID)
		if err != nil {
			return nil, err
		}
		if uncracked == 0 {
			continue
		}
		busy, err := s.attackHasLiveTask(tx, attack.ID)
		if err != nil {
			return nil, err
		}
		if busy {
			continue
		}
		out = append(out, attack)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ComplexityValue != out[j].ComplexityValue {
			return out[i].ComplexityValue < out[j].ComplexityValue
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Service) attackHasLiveTask(tx storage.Txn, attackID string) (bool, error) {
	tasks, err := tx.ListTasksByAttack(attackID)
	if err != nil {
		return false, err
	}
	for _, task := range tasks {
		if task.State.Incomplete() {
			return true, nil
		}
	}
	return false, nil
}

// meetsBenchmark checks hash-type affinity: the agent must carry a
// benchmark for the attack's hash type, and its most recent one must
// reach MinPerformanceBenchmark. A too-slow agent gets an informational
// error record and is skipped.
func (s *Service) meetsBenchmark(tx storage.Txn, agent *types.Agent, attack *types.Attack, hashType types.HashType, now time.Time) (bool, error) {
	benchmarks, err := tx.ListBenchmarksByAgent(agent.ID)
	if err != nil {
		return false, err
	}
	var latest *types.Benchmark
	for _, b := range benchmarks {
		if b.HashType != hashType {
			continue
		}
		if latest == nil || b.RunAt.After(latest.RunAt) {
			latest = b
		}
	}
	if latest == nil {
		return false, nil
	}
	if latest.HashSpeed < MinPerformanceBenchmark {
		agentError := &types.AgentError{
			ID:       uuid.New().String(),
			AgentID:  agent.ID,
			Severity: types.SeverityInfo,
			Message:  "performance threshold",
			Metadata: map[string]string{
				"attack_id":  attack.ID,
				"hash_speed": fmt.Sprintf("%.0f", latest.HashSpeed),
			},
			CreatedAt: now,
		}
		if err := tx.CreateAgentError(agentError); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}
