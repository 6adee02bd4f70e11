package metrics

import (
	"time"

	"github.com/unclesp1d3r/cipherswarm/pkg/storage"
	"github.com/unclesp1d3r/cipherswarm/pkg/types"
)

// collectInterval is how often the fleet gauges are refreshed from the
// store.
const collectInterval = 15 * time.Second

// Collector periodically refreshes the by-state fleet gauges from the
// store. Counters are incremented inline by the services; the gauges
// here are snapshots.
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a collector over the given store.
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting in the background.
func (c *Collector) Start() {
	ticker := time.NewTicker(collectInterval)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	var (
		agents    []*types.Agent
		tasks     []*types.Task
		campaigns []*types.Campaign
	)
	err := c.store.View(func(tx storage.Txn) error {
		var err error
		if agents, err = tx.ListAgents(); err != nil {
			return err
		}
		if tasks, err = tx.ListTasks(); err != nil {
			return err
		}
		campaigns, err = tx.ListCampaigns()
		return err
	})
	if err != nil {
		return
	}

	agentCounts := make(map[types.AgentState]int)
	for _, a := range agents {
		agentCounts[a.State]++
	}
	AgentsTotal.Reset()
	for state, count := range agentCounts {
		AgentsTotal.WithLabelValues(string(state)).Set(float64(count))
	}

	taskCounts := make(map[types.TaskState]int)
	for _, task := range tasks {
		taskCounts[task.State]++
	}
	TasksTotal.Reset()
	for state, count := range taskCounts {
		TasksTotal.WithLabelValues(string(state)).Set(float64(count))
	}

	campaignCounts := make(map[types.Priority]int)
	for _, campaign := range campaigns {
		campaignCounts[campaign.Priority]++
	}
	CampaignsTotal.Reset()
	for priority, count := range campaignCounts {
		CampaignsTotal.WithLabelValues(string(priority)).Set(float64(count))
	}
}
