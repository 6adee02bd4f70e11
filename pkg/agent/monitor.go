package agent

import (
	"time"

	"github.com/unclesp1d3r/cipherswarm/pkg/events"
	"github.com/unclesp1d3r/cipherswarm/pkg/log"
	"github.com/unclesp1d3r/cipherswarm/pkg/storage"
	"github.com/unclesp1d3r/cipherswarm/pkg/types"
)

// StartHeartbeatMonitor launches the background sweep that marks silent
// agents offline. beat, if non-nil, is called after every sweep so the
// health registry can track liveness. Stop terminates the loop.
func (s *Service) StartHeartbeatMonitor(checkInterval time.Duration, beat func(time.Time)) {
	go s.monitorLoop(checkInterval, beat)
}

// Stop terminates the heartbeat monitor.
func (s *Service) Stop() {
	close(s.stopCh)
}

func (s *Service) monitorLoop(checkInterval time.Duration, beat func(time.Time)) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			if err := s.SweepHeartbeats(now); err != nil {
				s.logger.Error().Err(err).Msg("heartbeat sweep failed")
			}
			if beat != nil {
				beat(now)
			}
		case <-s.stopCh:
			return
		}
	}
}

// SweepHeartbeats marks every active agent offline whose last status is
// older than its update interval times HeartbeatMultiplier plus grace,
// and pauses its running tasks so they can be reclaimed.
func (s *Service) SweepHeartbeats(now time.Time) error {
	var lost []string
	err := s.store.Update(func(tx storage.Txn) error {
		agents, err := tx.ListAgents()
		if err != nil {
			return err
		}
		for _, agent := range agents {
			if agent.State != types.AgentStateActive {
				continue
			}
			deadline := agent.UpdateInterval()*HeartbeatMultiplier + s.grace
			if now.Sub(agent.LastSeenAt) <= deadline {
				continue
			}
			if err := agent.Apply(types.AgentEventHeartbeatLost, now); err != nil {
				return err
			}
			if err := tx.UpdateAgent(agent); err != nil {
				return err
			}
			if err := pauseRunningTasks(tx, agent.ID, now); err != nil {
				return err
			}
			log.Transition(log.StateChange{
				Event:   string(types.AgentEventHeartbeatLost),
				AgentID: agent.ID,
				From:    string(types.AgentStateActive),
				To:      string(agent.State),
			})
			lost = append(lost, agent.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, id := range lost {
		s.broker.Publish(&events.Event{
			Type:     events.EventAgentOffline,
			Message:  "agent heartbeat lost",
			Metadata: map[string]string{"agent_id": id},
		})
	}
	return nil
}
