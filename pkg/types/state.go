package types

import (
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when an event does not apply to the
// entity's current state.
type ErrInvalidTransition struct {
	Entity string
	Event  string
	From   string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("%s: event %q not allowed in state %q", e.Entity, e.Event, e.From)
}

// TaskEvent names a task state machine transition.
type TaskEvent string

const (
	TaskEventAccept   TaskEvent = "accept"
	TaskEventPause    TaskEvent = "pause"
	TaskEventResume   TaskEvent = "resume"
	TaskEventCancel   TaskEvent = "cancel"
	TaskEventRetry    TaskEvent = "retry"
	TaskEventPreempt  TaskEvent = "preempt"
	TaskEventComplete TaskEvent = "complete"
	TaskEventExhaust  TaskEvent = "exhaust"
	TaskEventAbandon  TaskEvent = "abandon"
)

// taskTransitions is the explicit transition table for tasks. Guards
// and side effects that need more context than (state, event) live in
// Task.Apply below.
var taskTransitions = map[TaskEvent]map[TaskState]TaskState{
	TaskEventAccept: {
		TaskStatePending: TaskStateRunning,
	},
	TaskEventPause: {
		TaskStateRunning: TaskStatePaused,
	},
	// resume goes back to pending, not running: the agent must re-pick
	// the task up so it re-syncs cracks first.
	TaskEventResume: {
		TaskStatePaused: TaskStatePending,
	},
	TaskEventCancel: {
		TaskStatePending: TaskStateFailed,
		TaskStateRunning: TaskStateFailed,
	},
	TaskEventRetry: {
		TaskStateFailed: TaskStatePending,
	},
	TaskEventPreempt: {
		TaskStateRunning: TaskStatePending,
	},
	TaskEventComplete: {
		TaskStateRunning: TaskStateCompleted,
	},
	TaskEventExhaust: {
		TaskStateRunning: TaskStateExhausted,
	},
	TaskEventAbandon: {
		TaskStatePending: TaskStateAbandoned,
		TaskStateRunning: TaskStateAbandoned,
		TaskStatePaused:  TaskStateAbandoned,
		TaskStateFailed:  TaskStateAbandoned,
	},
}

// Apply transitions the task. It mutates counters and flags per event:
//
//	retry    - increments RetryCount, clears LastError
//	preempt  - increments PreemptionCount, sets Stale, clears AgentID;
//	           rejected once the task is pinned (PreemptionCount >= MaxPreemptions)
//	complete/exhaust/cancel/abandon - record FinishedAt
func (t *Task) Apply(ev TaskEvent, now time.Time) error {
	next, ok := taskTransitions[ev][t.State]
	if !ok {
		return &ErrInvalidTransition{Entity: "task", Event: string(ev), From: string(t.State)}
	}

	switch ev {
	case TaskEventRetry:
		t.RetryCount++
		t.LastError = ""
	case TaskEventPreempt:
		if t.PreemptionCount >= MaxPreemptions {
			return &ErrInvalidTransition{Entity: "task", Event: string(ev), From: string(t.State)}
		}
		t.PreemptionCount++
		t.Stale = true
		t.AgentID = ""
	case TaskEventCancel, TaskEventComplete, TaskEventExhaust, TaskEventAbandon:
		t.FinishedAt = now
	}

	t.State = next
	return nil
}

// Reassign rebinds the task to another agent and marks it stale. A
// running task is paused and resumed through the table so the move is
// auditable as two legal transitions.
func (t *Task) Reassign(agentID string, now time.Time) error {
	switch t.State {
	case TaskStateRunning:
		if err := t.Apply(TaskEventPause, now); err != nil {
			return err
		}
		if err := t.Apply(TaskEventResume, now); err != nil {
			return err
		}
	case TaskStatePaused:
		if err := t.Apply(TaskEventResume, now); err != nil {
			return err
		}
	case TaskStateFailed:
		if err := t.Apply(TaskEventRetry, now); err != nil {
			return err
		}
	case TaskStatePending:
		// already assignable
	default:
		return &ErrInvalidTransition{Entity: "task", Event: "reassign", From: string(t.State)}
	}

	t.AgentID = agentID
	t.Stale = true
	return nil
}

// AttackEvent names an attack state machine transition.
type AttackEvent string

const (
	AttackEventRun      AttackEvent = "run"
	AttackEventComplete AttackEvent = "complete"
	AttackEventExhaust  AttackEvent = "exhaust"
	AttackEventFail     AttackEvent = "fail"
	AttackEventPause    AttackEvent = "pause"
	AttackEventResume   AttackEvent = "resume"
	AttackEventAbandon  AttackEvent = "abandon"
)

var attackTransitions = map[AttackEvent]map[AttackState]AttackState{
	AttackEventRun: {
		AttackStatePending: AttackStateRunning,
	},
	AttackEventComplete: {
		AttackStateRunning: AttackStateCompleted,
	},
	AttackEventExhaust: {
		AttackStateRunning: AttackStateExhausted,
	},
	AttackEventFail: {
		AttackStateRunning: AttackStateFailed,
	},
	AttackEventPause: {
		AttackStatePending: AttackStatePaused,
		AttackStateRunning: AttackStatePaused,
	},
	AttackEventResume: {
		AttackStatePaused: AttackStatePending,
	},
	AttackEventAbandon: {
		AttackStatePending: AttackStateAbandoned,
		AttackStateRunning: AttackStateAbandoned,
		AttackStatePaused:  AttackStateAbandoned,
	},
}

// Apply transitions the attack.
func (a *Attack) Apply(ev AttackEvent, now time.Time) error {
	next, ok := attackTransitions[ev][a.State]
	if !ok {
		return &ErrInvalidTransition{Entity: "attack", Event: string(ev), From: string(a.State)}
	}
	a.State = next
	a.UpdatedAt = now
	return nil
}

// AgentEvent names an agent state machine transition.
type AgentEvent string

const (
	AgentEventActivate      AgentEvent = "activate"
	AgentEventHeartbeatLost AgentEvent = "heartbeat_lost"
	AgentEventShutdown      AgentEvent = "shutdown"
	AgentEventRecover       AgentEvent = "recover"
	AgentEventError         AgentEvent = "error"
)

var agentTransitions = map[AgentEvent]map[AgentState]AgentState{
	AgentEventActivate: {
		AgentStatePending: AgentStateActive,
	},
	AgentEventHeartbeatLost: {
		AgentStateActive: AgentStateOffline,
	},
	AgentEventShutdown: {
		AgentStateActive: AgentStateOffline,
	},
	AgentEventRecover: {
		AgentStateOffline: AgentStateActive,
	},
	AgentEventError: {
		AgentStatePending: AgentStateError,
		AgentStateActive:  AgentStateError,
		AgentStateOffline: AgentStateError,
	},
}

// Apply transitions the agent.
func (a *Agent) Apply(ev AgentEvent, now time.Time) error {
	next, ok := agentTransitions[ev][a.State]
	if !ok {
		return &ErrInvalidTransition{Entity: "agent", Event: string(ev), From: string(a.State)}
	}
	a.State = next
	if ev == AgentEventRecover || ev == AgentEventActivate {
		a.LastSeenAt = now
	}
	return nil
}
