package eta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unclesp1d3r/cipherswarm/pkg/storage"
	"github.com/unclesp1d3r/cipherswarm/pkg/types"
)

func newTestCalculator(t *testing.T) (*Calculator, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewCalculator(store), store
}

func seedCampaign(t *testing.T, store storage.Store) {
	t.Helper()
	err := store.Update(func(tx storage.Txn) error {
		if err := tx.CreateHashList(&types.HashList{ID: "hl1", ProjectID: "p1", HashType: 1000}); err != nil {
			return err
		}
		return tx.CreateCampaign(&types.Campaign{ID: "c1", ProjectID: "p1", HashListID: "hl1"})
	})
	require.NoError(t, err)
}

func TestCampaignETAUnknownCampaign(t *testing.T) {
	calc, _ := newTestCalculator(t)

	_, err := calc.CampaignETA("nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCampaignETAEmptyCampaign(t *testing.T) {
	calc, store := newTestCalculator(t)
	seedCampaign(t, store)

	estimate, err := calc.CampaignETA("c1")
	require.NoError(t, err)
	assert.Nil(t, estimate.CurrentETA)
	assert.Nil(t, estimate.TotalETA)
}

func TestCurrentETAUsesLatestStopAcrossRunningTasks(t *testing.T) {
	calc, store := newTestCalculator(t)
	seedCampaign(t, store)

	early := time.Now().Add(10 * time.Minute).UTC()
	late := time.Now().Add(30 * time.Minute).UTC()

	require.NoError(t, store.Update(func(tx storage.Txn) error {
		if err := tx.CreateAttack(&types.Attack{ID: "a1", CampaignID: "c1", State: types.AttackStateRunning}); err != nil {
			return err
		}
		if err := tx.CreateTask(&types.Task{ID: "t1", AttackID: "a1", State: types.TaskStateRunning}); err != nil {
			return err
		}
		if err := tx.AppendHashcatStatus(&types.HashcatStatus{ID: "s1", TaskID: "t1", EstimatedStop: early}); err != nil {
			return err
		}
		if err := tx.CreateAttack(&types.Attack{ID: "a2", CampaignID: "c1", State: types.AttackStateRunning}); err != nil {
			return err
		}
		if err := tx.CreateTask(&types.Task{ID: "t2", AttackID: "a2", State: types.TaskStateRunning}); err != nil {
			return err
		}
		return tx.AppendHashcatStatus(&types.HashcatStatus{ID: "s2", TaskID: "t2", EstimatedStop: late})
	}))

	estimate, err := calc.CampaignETA("c1")
	require.NoError(t, err)
	require.NotNil(t, estimate.CurrentETA)
	assert.WithinDuration(t, late, *estimate.CurrentETA, 0)
}

func TestCurrentETASkipsFramelessAndZeroStopTasks(t *testing.T) {
	calc, store := newTestCalculator(t)
	seedCampaign(t, store)

	require.NoError(t, store.Update(func(tx storage.Txn) error {
		if err := tx.CreateAttack(&types.Attack{ID: "a1", CampaignID: "c1", State: types.AttackStateRunning}); err != nil {
			return err
		}
		// running but no frames yet
		if err := tx.CreateTask(&types.Task{ID: "t1", AttackID: "a1", State: types.TaskStateRunning}); err != nil {
			return err
		}
		// frame without an estimated stop
		if err := tx.CreateTask(&types.Task{ID: "t2", AttackID: "a1", State: types.TaskStateRunning}); err != nil {
			return err
		}
		return tx.AppendHashcatStatus(&types.HashcatStatus{ID: "s1", TaskID: "t2"})
	}))

	estimate, err := calc.CampaignETA("c1")
	require.NoError(t, err)
	assert.Nil(t, estimate.CurrentETA)
}

func TestTotalETASumsWaitingAttacks(t *testing.T) {
	calc, store := newTestCalculator(t)
	seedCampaign(t, store)

	now := time.Now()
	calc.now = func() time.Time { return now }

	require.NoError(t, store.Update(func(tx storage.Txn) error {
		if err := tx.CreateAttack(&types.Attack{ID: "a1", CampaignID: "c1", State: types.AttackStatePending, ComplexityValue: 6000}); err != nil {
			return err
		}
		if err := tx.CreateAttack(&types.Attack{ID: "a2", CampaignID: "c1", State: types.AttackStatePaused, ComplexityValue: 6000}); err != nil {
			return err
		}
		// running attacks are the currentETA's problem, not totalETA's
		if err := tx.CreateAttack(&types.Attack{ID: "a3", CampaignID: "c1", State: types.AttackStateRunning, ComplexityValue: 100000}); err != nil {
			return err
		}
		if err := tx.CreateAgent(&types.Agent{ID: "agent-1", State: types.AgentStateActive}); err != nil {
			return err
		}
		if err := tx.CreateBenchmark(&types.Benchmark{ID: "b1", AgentID: "agent-1", HashType: 1000, HashSpeed: 1000}); err != nil {
			return err
		}
		// slower benchmark must not win
		if err := tx.CreateAgent(&types.Agent{ID: "agent-2", State: types.AgentStateActive}); err != nil {
			return err
		}
		return tx.CreateBenchmark(&types.Benchmark{ID: "b2", AgentID: "agent-2", HashType: 1000, HashSpeed: 500})
	}))

	estimate, err := calc.CampaignETA("c1")
	require.NoError(t, err)
	require.NotNil(t, estimate.TotalETA)
	// 12000 guesses at 1000 g/s = 12s
	assert.WithinDuration(t, now.Add(12*time.Second), *estimate.TotalETA, time.Millisecond)
}

func TestTotalETANilWithoutBenchmark(t *testing.T) {
	calc, store := newTestCalculator(t)
	seedCampaign(t, store)

	require.NoError(t, store.Update(func(tx storage.Txn) error {
		return tx.CreateAttack(&types.Attack{ID: "a1", CampaignID: "c1", State: types.AttackStatePending, ComplexityValue: 5000})
	}))

	estimate, err := calc.CampaignETA("c1")
	require.NoError(t, err)
	assert.Nil(t, estimate.TotalETA)
}

func TestTotalETAIgnoresBenchmarksForOtherHashTypes(t *testing.T) {
	calc, store := newTestCalculator(t)
	seedCampaign(t, store)

	require.NoError(t, store.Update(func(tx storage.Txn) error {
		if err := tx.CreateAttack(&types.Attack{ID: "a1", CampaignID: "c1", State: types.AttackStatePending, ComplexityValue: 5000}); err != nil {
			return err
		}
		if err := tx.CreateAgent(&types.Agent{ID: "agent-1", State: types.AgentStateActive}); err != nil {
			return err
		}
		return tx.CreateBenchmark(&types.Benchmark{ID: "b1", AgentID: "agent-1", HashType: 0, HashSpeed: 9000})
	}))

	estimate, err := calc.CampaignETA("c1")
	require.NoError(t, err)
	assert.Nil(t, estimate.TotalETA)
}

func TestCacheServesStaleUntilTTL(t *testing.T) {
	calc, store := newTestCalculator(t)
	seedCampaign(t, store)

	now := time.Now()
	calc.now = func() time.Time { return now }

	first, err := calc.CampaignETA("c1")
	require.NoError(t, err)
	assert.Nil(t, first.TotalETA)

	// new waiting attack plus a benchmark; within the TTL the cached
	// empty estimate still wins
	require.NoError(t, store.Update(func(tx storage.Txn) error {
		if err := tx.CreateAttack(&types.Attack{ID: "a1", CampaignID: "c1", State: types.AttackStatePending, ComplexityValue: 5000}); err != nil {
			return err
		}
		if err := tx.CreateAgent(&types.Agent{ID: "agent-1", State: types.AgentStateActive}); err != nil {
			return err
		}
		return tx.CreateBenchmark(&types.Benchmark{ID: "b1", AgentID: "agent-1", HashType: 1000, HashSpeed: 1000})
	}))

	cached, err := calc.CampaignETA("c1")
	require.NoError(t, err)
	assert.Nil(t, cached.TotalETA)

	// past the TTL the estimate refreshes
	now = now.Add(CacheTTL + time.Second)
	fresh, err := calc.CampaignETA("c1")
	require.NoError(t, err)
	assert.NotNil(t, fresh.TotalETA)
}

func TestInvalidateForcesRecompute(t *testing.T) {
	calc, store := newTestCalculator(t)
	seedCampaign(t, store)

	first, err := calc.CampaignETA("c1")
	require.NoError(t, err)
	assert.Nil(t, first.TotalETA)

	require.NoError(t, store.Update(func(tx storage.Txn) error {
		if err := tx.CreateAttack(&types.Attack{ID: "a1", CampaignID: "c1", State: types.AttackStatePending, ComplexityValue: 5000}); err != nil {
			return err
		}
		if err := tx.CreateAgent(&types.Agent{ID: "agent-1", State: types.AgentStateActive}); err != nil {
			return err
		}
		return tx.CreateBenchmark(&types.Benchmark{ID: "b1", AgentID: "agent-1", HashType: 1000, HashSpeed: 1000})
	}))

	calc.Invalidate("c1")

	fresh, err := calc.CampaignETA("c1")
	require.NoError(t, err)
	assert.NotNil(t, fresh.TotalETA)
}
