package api

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strings"

	"github.com/unclesp1d3r/cipherswarm/pkg/log"
	"github.com/unclesp1d3r/cipherswarm/pkg/storage"
	"github.com/unclesp1d3r/cipherswarm/pkg/types"
)

// resourceRef points an agent at a downloadable blob.
type resourceRef struct {
	ID          string `json:"id"`
	DownloadURL string `json:"download_url"`
	Checksum    string `json:"checksum"`
	FileName    string `json:"file_name"`
}

// attackDescriptor is the full recipe an agent needs to run one attack.
// Absent resources render as explicit nulls.
type attackDescriptor struct {
	ID          string `json:"id"`
	Mode        string `json:"attack_mode"`
	HashcatMode int    `json:"attack_mode_hashcat"`

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

	WordList *resourceRef `json:"word_list"`
	RuleList *resourceRef `json:"rule_list"`
	MaskList *resourceRef `json:"mask_list"`

	HashListURL      string `json:"hash_list_url"`
	HashListChecksum string `json:"hash_list_checksum"`
	StatusURL        string `json:"url"`
}

func (s *Server) attackDescriptor(w http.ResponseWriter, r *http.Request) int {
	attackID := r.PathValue("id")

	var (
		attack    *types.Attack
		uncracked []string
	)
	err := s.store.View(func(tx storage.Txn) error {
		var err error
		attack, err = tx.GetAttack(attackID)
		if err != nil {
			return err
		}
		uncracked, err = s.uncrackedValues(tx, attack)
		return err
	})
	if err != nil {
		return s.fail(w, "attacks.show", err, log.StateChange{Event: "descriptor", AttackID: attackID})
	}

	desc := attackDescriptor{
		ID:          attack.ID,
		Mode:        string(attack.Mode),
		HashcatMode: attack.Mode.HashcatMode(),

		Mask:          attack.Mask,
		IncrementMode: attack.IncrementMode,
		IncrementMin:  attack.IncrementMin,
		IncrementMax:  attack.IncrementMax,

		CustomCharset1: attack.CustomCharset1,
		CustomCharset2: attack.CustomCharset2,
		CustomCharset3: attack.CustomCharset3,
		CustomCharset4: attack.CustomCharset4,

		ClassicMarkov:   attack.ClassicMarkov,
		DisableMarkov:   attack.DisableMarkov,
		MarkovThreshold: attack.MarkovThreshold,
		Optimized:       attack.Optimized,
		SlowCandidates:  attack.SlowCandidates,
		WorkloadProfile: attack.WorkloadProfile,

		LeftRule:  attack.LeftRule,
		RightRule: attack.RightRule,

		WordList: s.resourceRef(attack.WordListID),
		RuleList: s.resourceRef(attack.RuleListID),
		MaskList: s.resourceRef(attack.MaskListID),

		HashListURL:      s.baseURL + "/api/v1/attacks/" + attack.ID + "/hash_list",
		HashListChecksum: hashListChecksum(uncracked),
		StatusURL:        s.baseURL + "/api/v1/attacks/" + attack.ID + "/status",
	}
	return s.writeJSON(w, http.StatusOK, desc)
}

// attackHashList serves the dynamic uncracked-hash list as one hash
// value per line.
func (s *Server) attackHashList(w http.ResponseWriter, r *http.Request) int {
	attackID := r.PathValue("id")

	var uncracked []string
	err := s.store.View(func(tx storage.Txn) error {
		attack, err := tx.GetAttack(attackID)
		if err != nil {
			return err
		}
		uncracked, err = s.uncrackedValues(tx, attack)
		return err
	})
	if err != nil {
		return s.fail(w, "attacks.hash_list", err, log.StateChange{Event: "hash_list", AttackID: attackID})
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(strings.Join(uncracked, "\n")))
	return http.StatusOK
}

func (s *Server) attackStatus(w http.ResponseWriter, r *http.Request) int {
	attackID := r.PathValue("id")

	var attack *types.Attack
	err := s.store.View(func(tx storage.Txn) error {
		var err error
		attack, err = tx.GetAttack(attackID)
		return err
	})
	if err != nil {
		return s.fail(w, "attacks.status", err, log.StateChange{Event: "attack_status", AttackID: attackID})
	}
	return s.writeJSON(w, http.StatusOK, map[string]string{"id": attack.ID, "state": string(attack.State)})
}

// uncrackedValues returns the attack's remaining hash values in stable
// position order.
func (s *Server) uncrackedValues(tx storage.Txn, attack *types.Attack) ([]string, error) {
	campaign, err := tx.GetCampaign(attack.CampaignID)
	if err != nil {
		return nil, err
	}
	items, err := tx.ListHashItems(campaign.HashListID)
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Position < items[j].Position })

	var out []string
	for _, item := range items {
		if !item.Cracked {
			out = append(out, item.HashValue)
		}
	}
	return out, nil
}

// hashListChecksum fingerprints the rendered uncracked list so agents
// can detect when it changed.
func hashListChecksum(values []string) string {
	sum := sha256.Sum256([]byte(strings.Join(values, "\n")))
	return hex.EncodeToString(sum[:])
}

// resourceRef resolves a resource id to its agent-facing reference, or
// nil when the attack does not use one.
func (s *Server) resourceRef(id string) *resourceRef {
	if id == "" {
		return nil
	}
	resource, err := s.objects.Get(id)
	if err != nil {
		s.logger.Warn().Err(err).Str("resource_id", id).Msg("failed to resolve resource")
		return nil
	}
	return &resourceRef{
		ID:          resource.ID,
		DownloadURL: s.objects.DownloadURL(resource.ID),
		Checksum:    resource.Checksum,
		FileName:    resource.FileName,
	}
}
