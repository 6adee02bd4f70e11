package campaign

import (
	"time"

	"github.com/unclesp1d3r/cipherswarm/pkg/log"
	"github.com/unclesp1d3r/cipherswarm/pkg/storage"
)

// TaskRetention is how long finished tasks stay around for inspection
// before the cleanup sweep removes them.
const TaskRetention = 7 * 24 * time.Hour

// StartCleanup launches the periodic sweep removing aged-out finished
// tasks and their telemetry. beat, if non-nil, is called after every
// sweep so the health registry can track liveness. Stop terminates the
// loop.
func (s *Service) StartCleanup(interval time.Duration, beat func(time.Time)) {
	go s.cleanupLoop(interval, beat)
}

// Stop terminates the cleanup loop.
func (s *Service) Stop() {
	close(s.stopCh)
}

func (s *Service) cleanupLoop(interval time.Duration, beat func(time.Time)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			if err := s.SweepFinishedTasks(now); err != nil {
				s.logger.Error().Err(err).Msg("cleanup sweep failed")
			}
			if beat != nil {
				beat(now)
			}
		case <-s.stopCh:
			return
		}
	}
}

// SweepFinishedTasks deletes terminal tasks whose finish time is older
// than TaskRetention, together with their status history.
func (s *Service) SweepFinishedTasks(now time.Time) error {
	removed := 0
	err := s.store.Update(func(tx storage.Txn) error {
		tasks, err := tx.ListTasks()
		if err != nil {
			return err
		}
		for _, task := range tasks {
			if !task.State.Terminal() || task.FinishedAt.IsZero() {
				continue
			}
			if now.Sub(task.FinishedAt) < TaskRetention {
				continue
			}
			if _, err := tx.PruneHashcatStatuses(task.ID, 0); err != nil {
				return err
			}
			if err := tx.DeleteTask(task.ID); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Cleanup("task_retention", removed, nil)
	return nil
}
