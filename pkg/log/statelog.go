package log

import (
	"fmt"
	"runtime"

	"github.com/rs/zerolog"
)

// maxBacktraceFrames bounds the number of stack frames attached to an
// API error record.
const maxBacktraceFrames = 5

// maxContextEntries bounds the free-form context map on a record.
const maxContextEntries = 16

// StateChange is one uniform lifecycle record: a task, attack, campaign
// or agent transition. Empty identifiers are omitted from the output.
type StateChange struct {
	Event      string
	TaskID     string
	AgentID    string
	AttackID   string
	CampaignID string
	From       string
	To         string
	Context    map[string]string
}

func (sc StateChange) apply(e *zerolog.Event) *zerolog.Event {
	e = e.Str("event", sc.Event)
	if sc.TaskID != "" {
		e = e.Str("task_id", sc.TaskID)
	}
	if sc.AgentID != "" {
		e = e.Str("agent_id", sc.AgentID)
	}
	if sc.AttackID != "" {
		e = e.Str("attack_id", sc.AttackID)
	}
	if sc.CampaignID != "" {
		e = e.Str("campaign_id", sc.CampaignID)
	}
	if sc.From != "" || sc.To != "" {
		e = e.Str("from", sc.From).Str("to", sc.To)
	}
	n := 0
	for k, v := range sc.Context {
		if n >= maxContextEntries {
			break
		}
		e = e.Str("ctx_"+k, v)
		n++
	}
	return e
}

// Transition emits one lifecycle record at info level.
func Transition(sc StateChange) {
	sc.apply(Logger.Info()).Msg("state change")
}

// TransitionError emits a lifecycle record for a transition that failed.
func TransitionError(sc StateChange, err error) {
	sc.apply(Logger.Error()).Err(err).Msg("state change failed")
}

// APIError emits a uniform record for an error surfaced at the API
// boundary, with the backtrace truncated to the first frames.
func APIError(route string, err error, sc StateChange) {
	e := sc.apply(Logger.Error()).Str("route", route).Err(err)
	if frames := backtrace(); len(frames) > 0 {
		e = e.Strs("backtrace", frames)
	}
	e.Msg("api error")
}

// Cleanup emits a data-cleanup record. Records with no affected rows
// are suppressed.
func Cleanup(event string, affected int, context map[string]string) {
	if affected <= 0 {
		return
	}
	sc := StateChange{Event: event, Context: context}
	sc.apply(Logger.Info()).Int("affected", affected).Msg("cleanup")
}

// BroadcastError emits a record for a failed event-bus delivery.
func BroadcastError(event string, err error) {
	Logger.Error().Str("event", event).Err(err).Msg("broadcast failed")
}

func backtrace() []string {
	pcs := make([]uintptr, maxBacktraceFrames)
	// skip runtime.Callers, backtrace and the log helper itself
	n := runtime.Callers(3, pcs)
	if n == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs[:n])
	out := make([]string, 0, n)
	for {
		frame, more := frames.Next()
		out = append(out, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		if !more {
			break
		}
	}
	return out
}
