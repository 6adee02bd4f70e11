package api

import (
	"net/http"
	"time"

	"github.com/unclesp1d3r/cipherswarm/pkg/campaign"
	"github.com/unclesp1d3r/cipherswarm/pkg/log"
	"github.com/unclesp1d3r/cipherswarm/pkg/storage"
	"github.com/unclesp1d3r/cipherswarm/pkg/types"
)

type createCampaignRequest struct {
	ProjectID  string         `json:"project_id"`
	HashListID string         `json:"hash_list_id"`
	Name       string         `json:"name"`
	Priority   types.Priority `json:"priority"`
	CreatorID  string         `json:"creator_id"`
}

func (s *Server) createCampaign(w http.ResponseWriter, r *http.Request) int {
	var req createCampaignRequest
	if err := decode(r, &req); err != nil {
		return s.writeError(w, http.StatusBadRequest, "malformed_request")
	}
	created, err := s.campaigns.Create(campaign.CreateParams{
		ProjectID:  req.ProjectID,
		HashListID: req.HashListID,
		Name:       req.Name,
		Priority:   req.Priority,
		CreatorID:  req.CreatorID,
	}, time.Now())
	if err != nil {
		return s.fail(w, "campaigns.create", err, log.StateChange{Event: "campaign_create"})
	}
	return s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) pauseCampaign(w http.ResponseWriter, r *http.Request) int {
	id := r.PathValue("id")
	if err := s.campaigns.Pause(id, time.Now()); err != nil {
		return s.fail(w, "campaigns.pause", err, log.StateChange{Event: "campaign_pause", CampaignID: id})
	}
	s.etas.Invalidate(id)
	return s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) resumeCampaign(w http.ResponseWriter, r *http.Request) int {
	id := r.PathValue("id")
	if err := s.campaigns.Resume(id, time.Now()); err != nil {
		return s.fail(w, "campaigns.resume", err, log.StateChange{Event: "campaign_resume", CampaignID: id})
	}
	s.etas.Invalidate(id)
	return s.writeJSON(w, http.StatusNoContent, nil)
}

type priorityRequest struct {
	Priority types.Priority `json:"priority"`
}

func (s *Server) setCampaignPriority(w http.ResponseWriter, r *http.Request) int {
	id := r.PathValue("id")
	var req priorityRequest
	if err := decode(r, &req); err != nil {
		return s.writeError(w, http.StatusBadRequest, "malformed_request")
	}
	if err := s.campaigns.SetPriority(id, req.Priority, time.Now()); err != nil {
		return s.fail(w, "campaigns.priority", err, log.StateChange{Event: "campaign_priority", CampaignID: id})
	}
	return s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) deleteCampaign(w http.ResponseWriter, r *http.Request) int {
	id := r.PathValue("id")
	if err := s.campaigns.Delete(id, time.Now()); err != nil {
		return s.fail(w, "campaigns.delete", err, log.StateChange{Event: "campaign_delete", CampaignID: id})
	}
	s.etas.Invalidate(id)
	return s.writeJSON(w, http.StatusNoContent, nil)
}

type etaResponse struct {
	CurrentETA *time.Time `json:"current_eta"`
	TotalETA   *time.Time `json:"total_eta"`
}

func (s *Server) campaignETA(w http.ResponseWriter, r *http.Request) int {
	id := r.PathValue("id")
	estimate, err := s.etas.CampaignETA(id)
	if err != nil {
		return s.fail(w, "campaigns.eta", err, log.StateChange{Event: "campaign_eta", CampaignID: id})
	}
	return s.writeJSON(w, http.StatusOK, etaResponse{
		CurrentETA: estimate.CurrentETA,
		TotalETA:   estimate.TotalETA,
	})
}

type createAttackRequest struct {
	CampaignID string `json:"campaign_id"`
	Name       string `json:"name"`
	Mode       string `json:"attack_mode"`

	Mask          string `json:"mask"`
	IncrementMode bool   `json:"increment_mode"`
	IncrementMin  int    `json:"increment_minimum"`
	IncrementMax  int    `json:"increment_maximum"`

	CustomCharset1 string `json:"custom_charset_1"`
	CustomCharset2 string `json:"custom_charset_2"`
	CustomCharset3 string `json:"custom_charset_3"`
	CustomCharset4 string `json:"custom_charset_4"`

	ClassicMarkov   bool `json:"classic_markov"`
	DisableMarkov   bool `json:"disable_markov"`
	MarkovThreshold int  `json:"markov_threshold"`
	Optimized       bool `json:"optimized"`
	SlowCandidates  bool `json:"slow_candidate_generators"`
	WorkloadProfile int  `json:"workload_profile"`

	LeftRule  string `json:"left_rule"`
	RightRule string `json:"right_rule"`

	WordListID string `json:"word_list_id"`
	RuleListID string `json:"rule_list_id"`
	MaskListID string `json:"mask_list_id"`

	ComplexityValue uint64 `json:"complexity_value"`
}

func (s *Server) createAttack(w http.ResponseWriter, r *http.Request) int {
	var req createAttackRequest
	if err := decode(r, &req); err != nil {
		return s.writeError(w, http.StatusBadRequest, "malformed_request")
	}
	mode := types.AttackMode(req.Mode)
	if mode.HashcatMode() < 0 {
		return s.writeError(w, http.StatusUnprocessableEntity, "invalid_attack_mode")
	}

	created, err := s.campaigns.CreateAttack(campaign.AttackParams{
		CampaignID: req.CampaignID,
		Name:       req.Name,
		Mode:       mode,

		Mask:          req.Mask,
		IncrementMode: req.IncrementMode,
		IncrementMin:  req.IncrementMin,
		IncrementMax:  req.IncrementMax,

		CustomCharset1: req.CustomCharset1,
		CustomCharset2: req.CustomCharset2,
		CustomCharset3: req.CustomCharset3,
		CustomCharset4: req.CustomCharset4,

		ClassicMarkov:   req.ClassicMarkov,
		DisableMarkov:   req.DisableMarkov,
		MarkovThreshold: req.MarkovThreshold,
		Optimized:       req.Optimized,
		SlowCandidates:  req.SlowCandidates,
		WorkloadProfile: req.WorkloadProfile,

		LeftRule:  req.LeftRule,
		RightRule: req.RightRule,

		WordListID: req.WordListID,
		RuleListID: req.RuleListID,
		MaskListID: req.MaskListID,

		ComplexityValue: req.ComplexityValue,
	}, time.Now())
	if err != nil {
		return s.fail(w, "attacks.create", err, log.StateChange{Event: "attack_create"})
	}

	// A high-priority admission may need to reclaim a slot right away.
	var campaignPriority types.Priority
	if c, cerr := s.campaignOf(created.CampaignID); cerr == nil {
		campaignPriority = c.Priority
		s.etas.Invalidate(c.ID)
	}
	if campaignPriority == types.PriorityHigh {
		if _, err := s.scheduler.PreemptIfNeeded(created.ID, time.Now()); err != nil {
			log.APIError("attacks.create", err, log.StateChange{Event: "preempt", AttackID: created.ID})
		}
	}
	return s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) abandonAttack(w http.ResponseWriter, r *http.Request) int {
	id := r.PathValue("id")
	if err := s.campaigns.AbandonAttack(id, time.Now()); err != nil {
		return s.fail(w, "attacks.abandon", err, log.StateChange{Event: "attack_abandon", AttackID: id})
	}
	return s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) int {
	id := r.PathValue("id")
	if err := s.scheduler.Cancel(id, time.Now()); err != nil {
		if code := s.classifyTask(w, id, err); code >= 0 {
			return code
		}
		return s.fail(w, "tasks.cancel", err, log.StateChange{Event: "cancel", TaskID: id})
	}
	return s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) retryTask(w http.ResponseWriter, r *http.Request) int {
	id := r.PathValue("id")
	if err := s.scheduler.Retry(id, time.Now()); err != nil {
		if code := s.classifyTask(w, id, err); code >= 0 {
			return code
		}
		return s.fail(w, "tasks.retry", err, log.StateChange{Event: "retry", TaskID: id})
	}
	return s.writeJSON(w, http.StatusNoContent, nil)
}

type reassignRequest struct {
	AgentID string `json:"agent_id"`
}

func (s *Server) reassignTask(w http.ResponseWriter, r *http.Request) int {
	id := r.PathValue("id")
	var req reassignRequest
	if err := decode(r, &req); err != nil {
		return s.writeError(w, http.StatusBadRequest, "malformed_request")
	}
	if err := s.scheduler.Reassign(id, req.AgentID, time.Now()); err != nil {
		if code := s.classifyTask(w, id, err); code >= 0 {
			return code
		}
		return s.fail(w, "tasks.reassign", err, log.StateChange{Event: "reassign", TaskID: id, AgentID: req.AgentID})
	}
	return s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) campaignOf(id string) (*types.Campaign, error) {
	var out *types.Campaign
	err := s.store.View(func(tx storage.Txn) error {
		var err error
		out, err = tx.GetCampaign(id)
		return err
	})
	return out, err
}
