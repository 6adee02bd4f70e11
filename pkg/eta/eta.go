package eta

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/unclesp1d3r/cipherswarm/pkg/storage"
	"github.com/unclesp1d3r/cipherswarm/pkg/types"
)

// CacheTTL is how long a computed estimate stays fresh.
const CacheTTL = 60 * time.Second

// Estimate carries the two independent completion estimates for a
// campaign. Either may be nil: CurrentETA when nothing is running,
// TotalETA when a required benchmark is missing.
type Estimate struct {
	// CurrentETA is when the work currently in flight will finish: the
	// latest estimated stop across the campaign's running tasks.
	CurrentETA *time.Time
	// TotalETA covers the not-yet-running remainder: candidate space of
	// pending and paused attacks divided by the fleet's best benchmark.
	TotalETA *time.Time
}

type cacheEntry struct {
	estimate Estimate
	at       time.Time
}

// Calculator computes campaign ETAs over the store, caching each
// campaign's result for CacheTTL.
type Calculator struct {
	store storage.Store

	mu    sync.Mutex
	cache map[string]cacheEntry
	now   func() time.Time
}

// NewCalculator creates an ETA calculator.
func NewCalculator(store storage.Store) *Calculator {
	return &Calculator{
		store: store,
		cache: make(map[string]cacheEntry),
		now:   time.Now,
	}
}

// CampaignETA returns the cached or freshly computed estimate for the
// campaign.
func (c *Calculator) CampaignETA(campaignID string) (Estimate, error) {
	now := c.now()

	c.mu.Lock()
	if entry, ok := c.cache[campaignID]; ok && now.Sub(entry.at) < CacheTTL {
		c.mu.Unlock()
		return entry.estimate, nil
	}
	c.mu.Unlock()

	estimate, err := c.compute(campaignID, now)
	if err != nil {
		return Estimate{}, err
	}

	c.mu.Lock()
	c.cache[campaignID] = cacheEntry{estimate: estimate, at: now}
	c.mu.Unlock()
	return estimate, nil
}

// Invalidate drops the cached estimate for a campaign, forcing the next
// call to recompute.
func (c *Calculator) Invalidate(campaignID string) {
	c.mu.Lock()
	delete(c.cache, campaignID)
	c.mu.Unlock()
}

func (c *Calculator) compute(campaignID string, now time.Time) (Estimate, error) {
	var estimate Estimate
	err := c.store.View(func(tx storage.Txn) error {
		campaign, err := tx.GetCampaign(campaignID)
		if err != nil {
			return err
		}
		hashList, err := tx.GetHashList(campaign.HashListID)
		if err != nil {
			return err
		}
		attacks, err := tx.ListAttacksByCampaign(campaign.ID)
		if err != nil {
			return err
		}

		current, err := c.currentETA(tx, attacks)
		if err != nil {
			return err
		}
		estimate.CurrentETA = current

		total, err := c.totalETA(tx, attacks, hashList.HashType, now)
		if err != nil {
			return err
		}
		estimate.TotalETA = total
		return nil
	})
	if err != nil {
		return Estimate{}, fmt.Errorf("failed to compute eta for campaign %s: %w", campaignID, err)
	}
	return estimate, nil
}

// currentETA is the maximum estimated stop reported across the
// campaign's running tasks, nil when none are running or no frame
// carries a stop time.
func (c *Calculator) currentETA(tx storage.Txn, attacks []*types.Attack) (*time.Time, error) {
	var latest *time.Time
	for _, attack := range attacks {
		tasks, err := tx.ListTasksByAttack(attack.ID)
		if err != nil {
			return nil, err
		}
		for _, task := range tasks {
			if task.State != types.TaskStateRunning {
				continue
			}
			status, err := tx.LatestHashcatStatus(task.ID)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if status.EstimatedStop.IsZero() {
				continue
			}
			if latest == nil || status.EstimatedStop.After(*latest) {
				stop := status.EstimatedStop
				latest = &stop
			}
		}
	}
	return latest, nil
}

// totalETA sums complexity over the fleet's best benchmark speed for
// the pending and paused attacks. Running attacks are excluded; their
// remainder is what currentETA reports. Nil when no attack is waiting
// or the benchmark is missing.
func (c *Calculator) totalETA(tx storage.Txn, attacks []*types.Attack, hashType types.HashType, now time.Time) (*time.Time, error) {
	waiting := false
	var totalGuesses float64
	for _, attack := range attacks {
		if attack.State != types.AttackStatePending && attack.State != types.AttackStatePaused {
			continue
		}
		waiting = true
		totalGuesses += float64(attack.ComplexityValue)
	}
	if !waiting {
		return nil, nil
	}

	speed, err := c.bestBenchmarkSpeed(tx, hashType)
	if err != nil {
		return nil, err
	}
	if speed <= 0 {
		return nil, nil
	}

	finish := now.Add(time.Duration(totalGuesses / speed * float64(time.Second)))
	return &finish, nil
}

// bestBenchmarkSpeed returns the fastest recorded speed for the hash
// type across the fleet, zero when nobody has benchmarked it.
func (c *Calculator) bestBenchmarkSpeed(tx storage.Txn, hashType types.HashType) (float64, error) {
	agents, err := tx.ListAgents()
	if err != nil {
		return 0, err
	}
	best := 0.0
	for _, agent := range agents {
		benchmarks, err := tx.ListBenchmarksByAgent(agent.ID)
		if err != nil {
			return 0, err
		}
		for _, b := range benchmarks {
			if b.HashType == hashType && b.HashSpeed > best {
				best = b.HashSpeed
			}
		}
	}
	return best, nil
}
