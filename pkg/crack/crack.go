package crack

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/unclesp1d3r/cipherswarm/pkg/events"
	"github.com/unclesp1d3r/cipherswarm/pkg/log"
	"github.com/unclesp1d3r/cipherswarm/pkg/metrics"
	"github.com/unclesp1d3r/cipherswarm/pkg/storage"
	"github.com/unclesp1d3r/cipherswarm/pkg/types"
)

// ErrorType names the expected non-success outcome of a submission.
type ErrorType string

// ErrorNotFound means the hash value is not part of the task's hash
// list. It is a benign outcome, not a failure.
const ErrorNotFound ErrorType = "not_found"

// Result is the outcome of one crack submission.
type Result struct {
	Success        bool
	ErrorType      ErrorType
	AlreadyCracked bool
	// UncrackedCount is the number of uncracked items remaining in the
	// submitting task's hash list.
	UncrackedCount int
	// Propagated counts sibling hash lists that received the crack.
	Propagated int
}

// Service records cracked hashes: it updates the matching hash item,
// propagates the crack to sibling hash lists in the same project, and
// marks every other live task on the same hash list stale so its agent
// re-syncs before continuing.
type Service struct {
	store  storage.Store
	broker *events.Broker
	logger zerolog.Logger
}

// NewService creates a crack submission service.
func NewService(store storage.Store, broker *events.Broker) *Service {
	return &Service{
		store:  store,
		broker: broker,
		logger: log.WithComponent("crack"),
	}
}

// Submit records one cracked hash for the given task. All mutations
// happen in one transaction; an absent hash value is reported in-band
// as ErrorNotFound and mutates nothing.
func (s *Service) Submit(taskID, hashValue, plainText string, timestamp time.Time) (*Result, error) {
	result := &Result{}
	var crackedItem *types.HashItem

	err := s.store.Update(func(tx storage.Txn) error {
		task, err := tx.GetTask(taskID)
		if err != nil {
			return err
		}
		attack, err := tx.GetAttack(task.AttackID)
		if err != nil {
			return err
		}
		campaign, err := tx.GetCampaign(attack.CampaignID)
		if err != nil {
			return err
		}
		hashList, err := tx.GetHashList(campaign.HashListID)
		if err != nil {
			return err
		}

		item, err := tx.GetHashItem(hashList.ID, hashValue)
		if errors.Is(err, storage.ErrNotFound) {
			result.ErrorType = ErrorNotFound
			return nil
		}
		if err != nil {
			return err
		}

		if item.Cracked {
			// A sibling got here first; report success without rewriting.
			result.Success = true
			result.AlreadyCracked = true
			result.UncrackedCount, err = tx.CountUncrackedHashItems(hashList.ID)
			return err
		}

		if err := crackItem(tx, item, plainText, attack.ID, timestamp); err != nil {
			return err
		}
		crackedItem = item

		propagated, err := s.propagate(tx, hashList, hashValue, plainText, attack.ID, timestamp)
		if err != nil {
			return err
		}
		result.Propagated = propagated

		if err := s.markSiblingsStale(tx, task, hashList.ID); err != nil {
			return err
		}

		result.Success = true
		result.UncrackedCount, err = tx.CountUncrackedHashItems(hashList.ID)
		if err != nil {
			return err
		}

		if result.UncrackedCount == 0 {
			return s.finishAttacksOnList(tx, hashList.ID, timestamp)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit crack for task %s: %w", taskID, err)
	}

	if crackedItem != nil {
		metrics.HashesCrackedTotal.Inc()
		metrics.CrackPropagationsTotal.Add(float64(result.Propagated))
		s.broker.Publish(&events.Event{
			Type:    events.EventHashCracked,
			Message: "hash cracked",
			Metadata: map[string]string{
				"task_id":    taskID,
				"hash_value": hashValue,
			},
		})
	}

	return result, nil
}

func crackItem(tx storage.Txn, item *types.HashItem, plainText, attackID string, timestamp time.Time) error {
	item.Cracked = true
	item.PlainText = &plainText
	crackedAt := timestamp
	item.CrackedAt = &crackedAt
	item.AttackID = attackID
	return tx.PutHashItem(item)
}

// propagate applies the crack to every other hash list in the same
// project that holds the same hash value with a matching hash type.
// Items already cracked are skipped; best effort, same transaction.
func (s *Service) propagate(tx storage.Txn, origin *types.HashList, hashValue, plainText, attackID string, timestamp time.Time) (int, error) {
	lists, err := tx.ListHashListsByProject(origin.ProjectID)
	if err != nil {
		return 0, err
	}

	propagated := 0
	for _, list := range lists {
		if list.ID == origin.ID || list.HashType != origin.HashType {
			continue
		}
		item, err := tx.GetHashItem(list.ID, hashValue)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return propagated, err
		}
		if item.Cracked {
			continue
		}
		if err := crackItem(tx, item, plainText, attackID, timestamp); err != nil {
			return propagated, err
		}
		propagated++
	}
	return propagated, nil
}

// markSiblingsStale flags every other live task bound to the same hash
// list. The submitting task stays non-stale; it already has this crack.
func (s *Service) markSiblingsStale(tx storage.Txn, submitting *types.Task, hashListID string) error {
	tasks, err := tx.ListTasks()
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if task.ID == submitting.ID || !task.State.Incomplete() || task.Stale {
			continue
		}
		attack, err := tx.GetAttack(task.AttackID)
		if err != nil {
			// The attack may have been deleted out from under the task;
			// staleness is moot then.
			continue
		}
		campaign, err := tx.GetCampaign(attack.CampaignID)
		if err != nil {
			continue
		}
		if campaign.HashListID != hashListID {
			continue
		}
		task.Stale = true
		if err := tx.UpdateTask(task); err != nil {
			return err
		}
	}
	return nil
}

// finishAttacksOnList completes every running attack bound to a hash
// list whose last item just cracked, and settles their live tasks.
func (s *Service) finishAttacksOnList(tx storage.Txn, hashListID string, now time.Time) error {
	campaigns, err := tx.ListCampaigns()
	if err != nil {
		return err
	}
	for _, campaign := range campaigns {
		if campaign.HashListID != hashListID {
			continue
		}
		attacks, err := tx.ListAttacksByCampaign(campaign.ID)
		if err != nil {
			return err
		}
		for _, attack := range attacks {
			if attack.State != types.AttackStateRunning {
				continue
			}
			if err := attack.Apply(types.AttackEventComplete, now); err != nil {
				return err
			}
			if err := tx.UpdateAttack(attack); err != nil {
				return err
			}
			log.Transition(log.StateChange{
				Event:      "attack_complete",
				AttackID:   attack.ID,
				CampaignID: campaign.ID,
				From:       string(types.AttackStateRunning),
				To:         string(attack.State),
			})

			tasks, err := tx.ListTasksByAttack(attack.ID)
			if err != nil {
				return err
			}
			for _, task := range tasks {
				if !task.State.Incomplete() {
					continue
				}
				from := task.State
				ev := types.TaskEventAbandon
				if task.State == types.TaskStateRunning {
					ev = types.TaskEventComplete
				}
				if err := task.Apply(ev, now); err != nil {
					return err
				}
				if err := tx.UpdateTask(task); err != nil {
					return err
				}
				log.Transition(log.StateChange{
					Event:    string(ev),
					TaskID:   task.ID,
					AttackID: attack.ID,
					From:     string(from),
					To:       string(task.State),
				})
			}
		}
	}
	return nil
}
