package campaign

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

// Service carries out campaign and attack administration: creation,
// pause/resume cascades, priority changes, abandonment and deletion.
type Service struct {
	store  storage.Store
	broker *events.Broker
	logger zerolog.Logger
	stopCh chan struct{}
}

// NewService creates a campaign administration service.
func NewService(store storage.Store, broker *events.Broker) *Service {
	return &Service{
		store:  store,
		broker: broker,
		logger: log.WithComponent("campaign"),
		stopCh: make(chan struct{}),
	}
}

// CreateParams describes a new campaign.
type CreateParams struct {
	ProjectID  string
	HashListID string
	Name       string
	Priority   types.Priority
	CreatorID  string
}

// Create registers a new campaign against an existing hash list in the
// same project.
func (s *Service) Create(params CreateParams, now time.Time) (*types.Campaign, error) {
	campaign := &types.Campaign{
		ID:         uuid.New().String(),
		ProjectID:  params.ProjectID,
		HashListID: params.HashListID,
		Name:       params.Name,
		Priority:   params.Priority,
		CreatorID:  params.CreatorID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if campaign.Priority == "" {
		campaign.Priority = types.PriorityNormal
	}
	err := s.store.Update(func(tx storage.Txn) error {
		if _, err := tx.GetProject(params.ProjectID); err != nil {
			return err
		}
		hashList, err := tx.GetHashList(params.HashListID)
		if err != nil {
			return err
		}
		if hashList.ProjectID != params.ProjectID {
			return fmt.Errorf("hash list %s belongs to another project", hashList.ID)
		}
		return tx.CreateCampaign(campaign)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}
	return campaign, nil
}

// AttackParams describes a new attack within a campaign.
type AttackParams struct {
	CampaignID string
	Name       string
	Mode       types.AttackMode

	Mask          string
	IncrementMode bool
	IncrementMin  int
	IncrementMax  int

	CustomCharset1 string
	CustomCharset2 string
	CustomCharset3 string
	CustomCharset4 string

	ClassicMarkov   bool
	DisableMarkov   bool
	MarkovThreshold int
	Optimized       bool
	SlowCandidates  bool
	WorkloadProfile int

	LeftRule  string
	RightRule string

	WordListID string
	RuleListID string
	MaskListID string

	ComplexityValue uint64
}

// CreateAttack adds a pending attack to a campaign.
func (s *Service) CreateAttack(params AttackParams, now time.Time) (*types.Attack, error) {
	attack := &types.Attack{
		ID:         uuid.New().String(),
		CampaignID: params.CampaignID,
		Name:       params.Name,
		Mode:       params.Mode,
		State:      types.AttackStatePending,

		Mask:          params.Mask,
		IncrementMode: params.IncrementMode,
		IncrementMin:  params.IncrementMin,
		IncrementMax:  params.IncrementMax,

		CustomCharset1: params.CustomCharset1,
		CustomCharset2: params.CustomCharset2,
		CustomCharset3: params.CustomCharset3,
		CustomCharset4: params.CustomCharset4,

		ClassicMarkov:   params.ClassicMarkov,
		DisableMarkov:   params.DisableMarkov,
		MarkovThreshold: params.MarkovThreshold,
		Optimized:       params.Optimized,
		SlowCandidates:  params.SlowCandidates,
		WorkloadProfile: params.WorkloadProfile,

		LeftRule:  params.LeftRule,
		RightRule: params.RightRule,

		WordListID: params.WordListID,
		RuleListID: params.RuleListID,
		MaskListID: params.MaskListID,

		ComplexityValue: params.ComplexityValue,

		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.store.Update(func(tx storage.Txn) error {
		if _, err := tx.GetCampaign(params.CampaignID); err != nil {
			return err
		}
		return tx.CreateAttack(attack)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create attack: %w", err)
	}
	return attack, nil
}

// Pause stops a campaign: every non-terminal attack goes to paused and
// every running task of those attacks is paused with it.
func (s *Service) Pause(campaignID string, now time.Time) error {
	err := s.store.Update(func(tx storage.Txn) error {
		campaign, err := tx.GetCampaign(campaignID)
		if err != nil {
			return err
		}
		if campaign.Paused {
			return nil
		}
		campaign.Paused = true
		campaign.UpdatedAt = now
		if err := tx.UpdateCampaign(campaign); err != nil {
			return err
		}

		attacks, err := tx.ListAttacksByCampaign(campaign.ID)
		if err != nil {
			return err
		}
		for _, attack := range attacks {
			if attack.State != types.AttackStatePending && attack.State != types.AttackStateRunning {
				continue
			}
			from := attack.State
			if err := attack.Apply(types.AttackEventPause, now); err != nil {
				return err
			}
			if err := tx.UpdateAttack(attack); err != nil {
				return err
			}
			log.Transition(log.StateChange{
				Event:      string(types.AttackEventPause),
				AttackID:   attack.ID,
				CampaignID: campaign.ID,
				From:       string(from),
				To:         string(attack.State),
			})
			if err := pauseTasks(tx, attack.ID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to pause campaign %s: %w", campaignID, err)
	}
	s.broker.Publish(&events.Event{
		Type:     events.EventCampaignPaused,
		Message:  "campaign paused",
		Metadata: map[string]string{"campaign_id": campaignID},
	})
	return nil
}

// Resume restarts a paused campaign: paused attacks go back to pending
// and their paused tasks follow, so agents re-pick them up and re-sync.
func (s *Service) Resume(campaignID string, now time.Time) error {
	err := s.store.Update(func(tx storage.Txn) error {
		campaign, err := tx.GetCampaign(campaignID)
		if err != nil {
			return err
		}
		if !campaign.Paused {
			return nil
		}
		campaign.Paused = false
		campaign.UpdatedAt = now
		if err := tx.UpdateCampaign(campaign); err != nil {
			return err
		}

		attacks, err := tx.ListAttacksByCampaign(campaign.ID)
		if err != nil {
			return err
		}
		for _, attack := range attacks {
			if attack.State != types.AttackStatePaused {
				continue
			}
			if err := attack.Apply(types.AttackEventResume, now); err != nil {
				return err
			}
			if err := tx.UpdateAttack(attack); err != nil {
				return err
			}
			log.Transition(log.StateChange{
				Event:      string(types.AttackEventResume),
				AttackID:   attack.ID,
				CampaignID: campaign.ID,
				From:       string(types.AttackStatePaused),
				To:         string(attack.State),
			})
			if err := resumeTasks(tx, attack.ID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to resume campaign %s: %w", campaignID, err)
	}
	s.broker.Publish(&events.Event{
		Type:     events.EventCampaignResumed,
		Message:  "campaign resumed",
		Metadata: map[string]string{"campaign_id": campaignID},
	})
	return nil
}

// SetPriority changes a campaign's scheduling priority. Raising a
// campaign to high priority is expected to be gated by a separate
// capability at the API boundary.
func (s *Service) SetPriority(campaignID string, priority types.Priority, now time.Time) error {
	if priority.Ordinal() < 0 {
		return fmt.Errorf("invalid priority %q", priority)
	}
	err := s.store.Update(func(tx storage.Txn) error {
		campaign, err := tx.GetCampaign(campaignID)
		if err != nil {
			return err
		}
		campaign.Priority = priority
		campaign.UpdatedAt = now
		return tx.UpdateCampaign(campaign)
	})
	if err != nil {
		return fmt.Errorf("failed to set priority on campaign %s: %w", campaignID, err)
	}
	return nil
}

// AbandonAttack abandons a non-terminal attack and destroys its tasks.
func (s *Service) AbandonAttack(attackID string, now time.Time) error {
	err := s.store.Update(func(tx storage.Txn) error {
		attack, err := tx.GetAttack(attackID)
		if err != nil {
			return err
		}
		return abandonAttack(tx, attack, now)
	})
	if err != nil {
		return fmt.Errorf("failed to abandon attack %s: %w", attackID, err)
	}
	return nil
}

// Delete removes a campaign with all its attacks and their tasks.
// Non-terminal attacks are abandoned first so the teardown is logged.
func (s *Service) Delete(campaignID string, now time.Time) error {
	err := s.store.Update(func(tx storage.Txn) error {
		campaign, err := tx.GetCampaign(campaignID)
		if err != nil {
			return err
		}
		attacks, err := tx.ListAttacksByCampaign(campaign.ID)
		if err != nil {
			return err
		}
		for _, attack := range attacks {
			if !attack.State.Terminal() {
				if err := abandonAttack(tx, attack, now); err != nil {
					return err
				}
			}
			tasks, err := tx.ListTasksByAttack(attack.ID)
			if err != nil {
				return err
			}
			for _, task := range tasks {
				if err := tx.DeleteTask(task.ID); err != nil {
					return err
				}
			}
			if err := tx.DeleteAttack(attack.ID); err != nil {
				return err
			}
		}
		return tx.DeleteCampaign(campaign.ID)
	})
	if err != nil {
		return fmt.Errorf("failed to delete campaign %s: %w", campaignID, err)
	}
	return nil
}

func abandonAttack(tx storage.Txn, attack *types.Attack, now time.Time) error {
	from := attack.State
	if err := attack.Apply(types.AttackEventAbandon, now); err != nil {
		return err
	}
	if err := tx.UpdateAttack(attack); err != nil {
		return err
	}
	log.Transition(log.StateChange{
		Event:    string(types.AttackEventAbandon),
		AttackID: attack.ID,
		From:     string(from),
		To:       string(attack.State),
	})

	tasks, err := tx.ListTasksByAttack(attack.ID)
	if err != nil {
		return err
	}
	destroyed := 0
	for _, task := range tasks {
		if err := tx.DeleteTask(task.ID); err != nil {
			return err
		}
		destroyed++
	}
	log.Cleanup("attack_abandon_tasks", destroyed, map[string]string{"attack_id": attack.ID})
	return nil
}

func pauseTasks(tx storage.Txn, attackID string, now time.Time) error {
	tasks, err := tx.ListTasksByAttack(attackID)
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
			Event:    string(types.TaskEventPause),
			TaskID:   task.ID,
			AttackID: attackID,
			From:     string(types.TaskStateRunning),
			To:       string(task.State),
		})
	}
	return nil
}

func resumeTasks(tx storage.Txn, attackID string, now time.Time) error {
	tasks, err := tx.ListTasksByAttack(attackID)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if task.State != types.TaskStatePaused {
			continue
		}
		if err := task.Apply(types.TaskEventResume, now); err != nil {
			return err
		}
		if err := tx.UpdateTask(task); err != nil {
			return err
		}
		log.Transition(log.StateChange{
			Event:    string(types.TaskEventResume),
			TaskID:   task.ID,
			AttackID: attackID,
			From:     string(types.TaskStatePaused),
			To:       string(task.State),
		})
	}
	return nil
}
