package campaign

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unclesp1d3r/cipherswarm/pkg/events"
	"github.com/unclesp1d3r/cipherswarm/pkg/storage"
	"github.com/unclesp1d3r/cipherswarm/pkg/types"
)

func newTestService(t *testing.T) (*Service, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	return NewService(store, broker), store
}

func seedProject(t *testing.T, store storage.Store) {
	t.Helper()
	err := store.Update(func(tx storage.Txn) error {
		if err := tx.CreateProject(&types.Project{ID: "p1", Name: "test"}); err != nil {
			return err
		}
		if err := tx.CreateHashList(&types.HashList{ID: "hl1", ProjectID: "p1", HashType: 1000}); err != nil {
			return err
		}
		return tx.CreateHashList(&types.HashList{ID: "hl-other", ProjectID: "p2", HashType: 1000})
	})
	require.NoError(t, err)
}

func getCampaign(t *testing.T, store storage.Store, id string) *types.Campaign {
	t.Helper()
	var campaign *types.Campaign
	require.NoError(t, store.View(func(tx storage.Txn) error {
		var err error
		campaign, err = tx.GetCampaign(id)
		return err
	}))
	return campaign
}

func getAttack(t *testing.T, store storage.Store, id string) *types.Attack {
	t.Helper()
	var attack *types.Attack
	require.NoError(t, store.View(func(tx storage.Txn) error {
		var err error
		attack, err = tx.GetAttack(id)
		return err
	}))
	return attack
}

func TestCreateDefaultsToNormalPriority(t *testing.T) {
	svc, store := newTestService(t)
	seedProject(t, store)

	campaign, err := svc.Create(CreateParams{ProjectID: "p1", HashListID: "hl1", Name: "run"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, types.PriorityNormal, campaign.Priority)
	assert.False(t, campaign.Paused)
}

func TestCreateRejectsCrossProjectHashList(t *testing.T) {
	svc, store := newTestService(t)
	seedProject(t, store)

	_, err := svc.Create(CreateParams{ProjectID: "p1", HashListID: "hl-other", Name: "bad"}, time.Now())
	assert.Error(t, err)
}

func TestCreateRejectsUnknownProject(t *testing.T) {
	svc, store := newTestService(t)
	seedProject(t, store)

	_, err := svc.Create(CreateParams{ProjectID: "ghost", HashListID: "hl1", Name: "bad"}, time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCreateAttackStartsPending(t *testing.T) {
	svc, store := newTestService(t)
	seedProject(t, store)

	campaign, err := svc.Create(CreateParams{ProjectID: "p1", HashListID: "hl1", Name: "run"}, time.Now())
	require.NoError(t, err)

	attack, err := svc.CreateAttack(AttackParams{
		CampaignID:      campaign.ID,
		Name:            "rockyou",
		Mode:            types.AttackModeDictionary,
		WordListID:      "res-1",
		ComplexityValue: 14344392,
	}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, types.AttackStatePending, attack.State)
	assert.Equal(t, uint64(14344392), attack.ComplexityValue)

	_, err = svc.CreateAttack(AttackParams{CampaignID: "ghost"}, time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// seedCascade builds campaign c1 with a running attack (one running and
// one pending task), a pending attack, and a completed attack.
func seedCascade(t *testing.T, store storage.Store) {
	t.Helper()
	err := store.Update(func(tx storage.Txn) error {
		if err := tx.CreateCampaign(&types.Campaign{ID: "c1", ProjectID: "p1", HashListID: "hl1", Priority: types.PriorityNormal}); err != nil {
			return err
		}
		if err := tx.CreateAttack(&types.Attack{ID: "a-run", CampaignID: "c1", State: types.AttackStateRunning}); err != nil {
			return err
		}
		if err := tx.CreateTask(&types.Task{ID: "t-run", AttackID: "a-run", AgentID: "agent-1", State: types.TaskStateRunning}); err != nil {
			return err
		}
		if err := tx.CreateTask(&types.Task{ID: "t-pend", AttackID: "a-run", AgentID: "agent-2", State: types.TaskStatePending}); err != nil {
			return err
		}
		if err := tx.CreateAttack(&types.Attack{ID: "a-pend", CampaignID: "c1", State: types.AttackStatePending}); err != nil {
			return err
		}
		return tx.CreateAttack(&types.Attack{ID: "a-done", CampaignID: "c1", State: types.AttackStateCompleted})
	})
	require.NoError(t, err)
}

func TestPauseCascades(t *testing.T) {
	svc, store := newTestService(t)
	seedProject(t, store)
	seedCascade(t, store)

	require.NoError(t, svc.Pause("c1", time.Now()))

	assert.True(t, getCampaign(t, store, "c1").Paused)
	assert.Equal(t, types.AttackStatePaused, getAttack(t, store, "a-run").State)
	assert.Equal(t, types.AttackStatePaused, getAttack(t, store, "a-pend").State)
	assert.Equal(t, types.AttackStateCompleted, getAttack(t, store, "a-done").State, "terminal attacks stay put")

	require.NoError(t, store.View(func(tx storage.Txn) error {
		running, err := tx.GetTask("t-run")
		require.NoError(t, err)
		assert.Equal(t, types.TaskStatePaused, running.State)

		pending, err := tx.GetTask("t-pend")
		require.NoError(t, err)
		assert.Equal(t, types.TaskStatePending, pending.State, "only running tasks pause")
		return nil
	}))

	// pausing twice is a no-op
	require.NoError(t, svc.Pause("c1", time.Now()))
}

func TestResumeCascades(t *testing.T) {
	svc, store := newTestService(t)
	seedProject(t, store)
	seedCascade(t, store)

	require.NoError(t, svc.Pause("c1", time.Now()))
	require.NoError(t, svc.Resume("c1", time.Now()))

	assert.False(t, getCampaign(t, store, "c1").Paused)
	assert.Equal(t, types.AttackStatePending, getAttack(t, store, "a-run").State)
	assert.Equal(t, types.AttackStatePending, getAttack(t, store, "a-pend").State)

	require.NoError(t, store.View(func(tx storage.Txn) error {
		task, err := tx.GetTask("t-run")
		require.NoError(t, err)
		// resume routes through pending so the agent re-syncs cracks
		assert.Equal(t, types.TaskStatePending, task.State)
		return nil
	}))

	// resuming an unpaused campaign is a no-op
	require.NoError(t, svc.Resume("c1", time.Now()))
}

func TestSetPriority(t *testing.T) {
	svc, store := newTestService(t)
	seedProject(t, store)
	seedCascade(t, store)

	require.NoError(t, svc.SetPriority("c1", types.PriorityHigh, time.Now()))
	assert.Equal(t, types.PriorityHigh, getCampaign(t, store, "c1").Priority)

	assert.Error(t, svc.SetPriority("c1", types.Priority("urgent"), time.Now()))
	assert.Equal(t, types.PriorityHigh, getCampaign(t, store, "c1").Priority)
}

func TestAbandonAttackDestroysTasks(t *testing.T) {
	svc, store := newTestService(t)
	seedProject(t, store)
	seedCascade(t, store)

	require.NoError(t, svc.AbandonAttack("a-run", time.Now()))

	assert.Equal(t, types.AttackStateAbandoned, getAttack(t, store, "a-run").State)
	require.NoError(t, store.View(func(tx storage.Txn) error {
		_, err := tx.GetTask("t-run")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = tx.GetTask("t-pend")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		// the deletion leaves tombstones behind
		recent, err := tx.TaskDeletedRecently("t-run", time.Hour)
		require.NoError(t, err)
		assert.True(t, recent)
		return nil
	}))

	// abandoning a terminal attack is rejected
	assert.Error(t, svc.AbandonAttack("a-done", time.Now()))
}

func TestDeleteRemovesEverything(t *testing.T) {
	svc, store := newTestService(t)
	seedProject(t, store)
	seedCascade(t, store)

	require.NoError(t, svc.Delete("c1", time.Now()))

	require.NoError(t, store.View(func(tx storage.Txn) error {
		_, err := tx.GetCampaign("c1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		for _, id := range []string{"a-run", "a-pend", "a-done"} {
			_, err = tx.GetAttack(id)
			assert.ErrorIs(t, err, storage.ErrNotFound, "attack %s", id)
		}
		_, err = tx.GetTask("t-run")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		return nil
	}))
}

func TestSweepFinishedTasks(t *testing.T) {
	svc, store := newTestService(t)
	now := time.Now()

	require.NoError(t, store.Update(func(tx storage.Txn) error {
		// aged out
		if err := tx.CreateTask(&types.Task{ID: "t-old", AttackID: "a1", State: types.TaskStateCompleted, FinishedAt: now.Add(-TaskRetention - time.Hour)}); err != nil {
			return err
		}
		if err := tx.AppendHashcatStatus(&types.HashcatStatus{ID: "s1", TaskID: "t-old"}); err != nil {
			return err
		}
		// finished but fresh
		if err := tx.CreateTask(&types.Task{ID: "t-fresh", AttackID: "a1", State: types.TaskStateCompleted, FinishedAt: now.Add(-time.Hour)}); err != nil {
			return err
		}
		// still live
		return tx.CreateTask(&types.Task{ID: "t-live", AttackID: "a1", State: types.TaskStateRunning})
	}))

	require.NoError(t, svc.SweepFinishedTasks(now))

	require.NoError(t, store.View(func(tx storage.Txn) error {
		_, err := tx.GetTask("t-old")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		statuses, err := tx.ListHashcatStatuses("t-old")
		require.NoError(t, err)
		assert.Empty(t, statuses, "telemetry goes with the task")

		_, err = tx.GetTask("t-fresh")
		assert.NoError(t, err)
		_, err = tx.GetTask("t-live")
		assert.NoError(t, err)
		return nil
	}))
}
