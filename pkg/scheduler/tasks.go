package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/unclesp1d3r/cipherswarm/pkg/events"
	"github.com/unclesp1d3r/cipherswarm/pkg/log"
	"github.com/unclesp1d3r/cipherswarm/pkg/storage"
	"github.com/unclesp1d3r/cipherswarm/pkg/types"
)

// ErrNotOwner is returned when an agent acts on a task bound to a
// different agent.
var ErrNotOwner = errors.New("task not assigned to agent")

// Accept moves a pending task to running on behalf of its agent.
func (s *Service) Accept(taskID, agentID string, now time.Time) error {
	err := s.store.Update(func(tx storage.Txn) error {
		task, err := tx.GetTask(taskID)
		if err != nil {
			return err
		}
		if task.AgentID != agentID {
			return ErrNotOwner
		}
		from := task.State
		if err := task.Apply(types.TaskEventAccept, now); err != nil {
			return err
		}
		task.TouchActivity(now)
		if err := tx.UpdateTask(task); err != nil {
			return err
		}
		log.Transition(log.StateChange{
			Event:   string(types.TaskEventAccept),
			TaskID:  task.ID,
			AgentID: agentID,
			From:    string(from),
			To:      string(task.State),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to accept task %s: %w", taskID, err)
	}
	s.broker.Publish(&events.Event{
		Type:     events.EventTaskAccepted,
		Message:  "task accepted",
		Metadata: map[string]string{"task_id": taskID, "agent_id": agentID},
	})
	return nil
}

// Complete finishes a running task. When its hash list has no uncracked
// items left, the attack completes with it.
func (s *Service) Complete(taskID, agentID string, now time.Time) error {
	var published []*events.Event
	err := s.store.Update(func(tx storage.Txn) error {
		task, err := tx.GetTask(taskID)
		if err != nil {
			return err
		}
		if task.AgentID != agentID {
			return ErrNotOwner
		}
		from := task.State
		if err := task.Apply(types.TaskEventComplete, now); err != nil {
			return err
		}
		if err := tx.UpdateTask(task); err != nil {
			return err
		}
		log.Transition(log.StateChange{
			Event:   string(types.TaskEventComplete),
			TaskID:  task.ID,
			AgentID: agentID,
			From:    string(from),
			To:      string(task.State),
		})
		published = append(published, &events.Event{
			Type:     events.EventTaskCompleted,
			Message:  "task completed",
			Metadata: map[string]string{"task_id": task.ID},
		})

		attack, err := tx.GetAttack(task.AttackID)
		if err != nil {
			return err
		}
		campaign, err := tx.GetCampaign(attack.CampaignID)
		if err != nil {
			return err
		}
		uncracked, err := tx.CountUncrackedHashItems(campaign.HashListID)
		if err != nil {
			return err
		}
		if uncracked == 0 && attack.State == types.AttackStateRunning {
			if err := attack.Apply(types.AttackEventComplete, now); err != nil {
				return err
			}
			if err := tx.UpdateAttack(attack); err != nil {
				return err
			}
			log.Transition(log.StateChange{
				Event:      string(types.AttackEventComplete),
				AttackID:   attack.ID,
				CampaignID: campaign.ID,
				From:       string(types.AttackStateRunning),
				To:         string(attack.State),
			})
			published = append(published, &events.Event{
				Type:     events.EventAttackCompleted,
				Message:  "attack completed",
				Metadata: map[string]string{"attack_id": attack.ID},
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to complete task %s: %w", taskID, err)
	}
	for _, ev := range published {
		s.broker.Publish(ev)
	}
	return nil
}

// Exhaust records a fully enumerated keyspace: the task and its attack
// both move to exhausted.
func (s *Service) Exhaust(taskID, agentID string, now time.Time) error {
	var published []*events.Event
	err := s.store.Update(func(tx storage.Txn) error {
		task, err := tx.GetTask(taskID)
		if err != nil {
			return err
		}
		if task.AgentID != agentID {
			return ErrNotOwner
		}
		from := task.State
		if err := task.Apply(types.TaskEventExhaust, now); err != nil {
			return err
		}
		if err := tx.UpdateTask(task); err != nil {
			return err
		}
		log.Transition(log.StateChange{
			Event:   string(types.TaskEventExhaust),
			TaskID:  task.ID,
			AgentID: agentID,
			From:    string(from),
			To:      string(task.State),
		})
		published = append(published, &events.Event{
			Type:     events.EventTaskExhausted,
			Message:  "task exhausted",
			Metadata: map[string]string{"task_id": task.ID},
		})

		attack, err := tx.GetAttack(task.AttackID)
		if err != nil {
			return err
		}
		if attack.State == types.AttackStateRunning {
			if err := attack.Apply(types.AttackEventExhaust, now); err != nil {
				return err
			}
			if err := tx.UpdateAttack(attack); err != nil {
				return err
			}
			log.Transition(log.StateChange{
				Event:    string(types.AttackEventExhaust),
				AttackID: attack.ID,
				From:     string(types.AttackStateRunning),
				To:       string(attack.State),
			})
			published = append(published, &events.Event{
				Type:     events.EventAttackExhausted,
				Message:  "attack exhausted",
				Metadata: map[string]string{"attack_id": attack.ID},
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to exhaust task %s: %w", taskID, err)
	}
	for _, ev := range published {
		s.broker.Publish(ev)
	}
	return nil
}

// Cancel fails a pending or running task on operator request.
func (s *Service) Cancel(taskID string, now time.Time) error {
	err := s.store.Update(func(tx storage.Txn) error {
		task, err := tx.GetTask(taskID)
		if err != nil {
			return err
		}
		from := task.State
		if err := task.Apply(types.TaskEventCancel, now); err != nil {
			return err
		}
		if err := tx.UpdateTask(task); err != nil {
			return err
		}
		log.Transition(log.StateChange{
			Event:  string(types.TaskEventCancel),
			TaskID: task.ID,
			From:   string(from),
			To:     string(task.State),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to cancel task %s: %w", taskID, err)
	}
	s.broker.Publish(&events.Event{
		Type:     events.EventTaskFailed,
		Message:  "task cancelled",
		Metadata: map[string]string{"task_id": taskID},
	})
	return nil
}

// Retry moves a failed task back to pending on operator request.
func (s *Service) Retry(taskID string, now time.Time) error {
	err := s.store.Update(func(tx storage.Txn) error {
		task, err := tx.GetTask(taskID)
		if err != nil {
			return err
		}
		from := task.State
		if err := task.Apply(types.TaskEventRetry, now); err != nil {
			return err
		}
		if err := tx.UpdateTask(task); err != nil {
			return err
		}
		log.Transition(log.StateChange{
			Event:  string(types.TaskEventRetry),
			TaskID: task.ID,
			From:   string(from),
			To:     string(task.State),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to retry task %s: %w", taskID, err)
	}
	return nil
}

// Reassign rebinds a task to another agent and marks it stale.
func (s *Service) Reassign(taskID, agentID string, now time.Time) error {
	err := s.store.Update(func(tx storage.Txn) error {
		task, err := tx.GetTask(taskID)
		if err != nil {
			return err
		}
		if _, err := tx.GetAgent(agentID); err != nil {
			return err
		}
		from := task.State
		previous := task.AgentID
		if err := task.Reassign(agentID, now); err != nil {
			return err
		}
		if err := tx.UpdateTask(task); err != nil {
			return err
		}
		log.Transition(log.StateChange{
			Event:   "reassign",
			TaskID:  task.ID,
			AgentID: agentID,
			From:    string(from),
			To:      string(task.State),
			Context: map[string]string{"previous_agent_id": previous},
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reassign task %s: %w", taskID, err)
	}
	s.broker.Publish(&events.Event{
		Type:     events.EventTaskReassigned,
		Message:  "task reassigned",
		Metadata: map[string]string{"task_id": taskID, "agent_id": agentID},
	})
	return nil
}
