package agent

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unclesp1d3r/cipherswarm/pkg/events"
	"github.com/unclesp1d3r/cipherswarm/pkg/storage"
	"github.com/unclesp1d3r/cipherswarm/pkg/types"
)

func newTestService(t *testing.T, grace time.Duration) (*Service, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	return NewService(store, broker, grace), store
}

func getAgent(t *testing.T, store storage.Store, id string) *types.Agent {
	t.Helper()
	var agent *types.Agent
	require.NoError(t, store.View(func(tx storage.Txn) error {
		var err error
		agent, err = tx.GetAgent(id)
		return err
	}))
	return agent
}

func TestRegisterStartsPending(t *testing.T) {
	svc, store := newTestService(t, 0)

	agent, err := svc.Register(RegisterParams{
		UserID:          "u1",
		ProjectIDs:      []string{"p1"},
		HostName:        "rig-01",
		OperatingSystem: "linux",
		IPAddress:       "10.0.0.5",
	}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, types.AgentStatePending, agent.State)
	assert.NotEmpty(t, agent.ID)

	stored := getAgent(t, store, agent.ID)
	assert.Equal(t, "rig-01", stored.HostName)
	assert.Equal(t, "10.0.0.5", stored.LastIPAddress)
}

func TestFirstBenchmarksActivateAgent(t *testing.T) {
	svc, store := newTestService(t, 0)

	agent, err := svc.Register(RegisterParams{ProjectIDs: []string{"p1"}}, time.Now())
	require.NoError(t, err)

	results := []BenchmarkResult{
		{HashType: 0, HashSpeed: 12000, Runtime: 500},
		{HashType: 1000, HashSpeed: 8000, Runtime: 700},
	}
	require.NoError(t, svc.SubmitBenchmarks(agent.ID, results, time.Now()))

	assert.Equal(t, types.AgentStateActive, getAgent(t, store, agent.ID).State)

	require.NoError(t, store.View(func(tx storage.Txn) error {
		benchmarks, err := tx.ListBenchmarksByAgent(agent.ID)
		require.NoError(t, err)
		assert.Len(t, benchmarks, 2)
		return nil
	}))
}

func TestEmptyBenchmarkRunDoesNotActivate(t *testing.T) {
	svc, store := newTestService(t, 0)

	agent, err := svc.Register(RegisterParams{ProjectIDs: []string{"p1"}}, time.Now())
	require.NoError(t, err)

	require.NoError(t, svc.SubmitBenchmarks(agent.ID, nil, time.Now()))
	assert.Equal(t, types.AgentStatePending, getAgent(t, store, agent.ID).State)
}

func TestTouchPickupRecoversOfflineAgent(t *testing.T) {
	svc, store := newTestService(t, 0)
	now := time.Now()

	require.NoError(t, store.Update(func(tx storage.Txn) error {
		return tx.CreateAgent(&types.Agent{ID: "agent-1", State: types.AgentStateOffline})
	}))

	require.NoError(t, svc.TouchPickup("agent-1", "10.0.0.9", now))

	agent := getAgent(t, store, "agent-1")
	assert.Equal(t, types.AgentStateActive, agent.State)
	assert.Equal(t, "10.0.0.9", agent.LastIPAddress)
	assert.WithinDuration(t, now, agent.LastSeenAt, 0)
}

func TestShutdownPausesRunningTasks(t *testing.T) {
	svc, store := newTestService(t, 0)

	require.NoError(t, store.Update(func(tx storage.Txn) error {
		if err := tx.CreateAgent(&types.Agent{ID: "agent-1", State: types.AgentStateActive}); err != nil {
			return err
		}
		if err := tx.CreateTask(&types.Task{ID: "t1", AttackID: "a1", AgentID: "agent-1", State: types.TaskStateRunning}); err != nil {
			return err
		}
		return tx.CreateTask(&types.Task{ID: "t2", AttackID: "a1", AgentID: "agent-1", State: types.TaskStatePending})
	}))

	require.NoError(t, svc.Shutdown("agent-1", time.Now()))

	assert.Equal(t, types.AgentStateOffline, getAgent(t, store, "agent-1").State)

	require.NoError(t, store.View(func(tx storage.Txn) error {
		running, err := tx.GetTask("t1")
		require.NoError(t, err)
		assert.Equal(t, types.TaskStatePaused, running.State)
		assert.Equal(t, "agent-1", running.AgentID, "ownership survives for reclaim")

		pending, err := tx.GetTask("t2")
		require.NoError(t, err)
		assert.Equal(t, types.TaskStatePending, pending.State)
		return nil
	}))
}

func TestFatalErrorFailsTaskAndAttack(t *testing.T) {
	svc, store := newTestService(t, 0)

	require.NoError(t, store.Update(func(tx storage.Txn) error {
		if err := tx.CreateAgent(&types.Agent{ID: "agent-1", State: types.AgentStateActive}); err != nil {
			return err
		}
		if err := tx.CreateAttack(&types.Attack{ID: "a1", CampaignID: "c1", State: types.AttackStateRunning}); err != nil {
			return err
		}
		return tx.CreateTask(&types.Task{ID: "t1", AttackID: "a1", AgentID: "agent-1", State: types.TaskStateRunning})
	}))

	require.NoError(t, svc.ReportError("agent-1", "t1", types.SeverityFatal, "hashcat segfault", nil, time.Now()))

	require.NoError(t, store.View(func(tx storage.Txn) error {
		task, err := tx.GetTask("t1")
		require.NoError(t, err)
		assert.Equal(t, types.TaskStateFailed, task.State)
		assert.Equal(t, "hashcat segfault", task.LastError)

		attack, err := tx.GetAttack("a1")
		require.NoError(t, err)
		assert.Equal(t, types.AttackStateFailed, attack.State)
		return nil
	}))

	// one fatal error is not enough to condemn the agent
	assert.Equal(t, types.AgentStateActive, getAgent(t, store, "agent-1").State)
}

func TestNonFatalErrorIsJustRecorded(t *testing.T) {
	svc, store := newTestService(t, 0)

	require.NoError(t, store.Update(func(tx storage.Txn) error {
		if err := tx.CreateAgent(&types.Agent{ID: "agent-1", State: types.AgentStateActive}); err != nil {
			return err
		}
		if err := tx.CreateAttack(&types.Attack{ID: "a1", CampaignID: "c1", State: types.AttackStateRunning}); err != nil {
			return err
		}
		return tx.CreateTask(&types.Task{ID: "t1", AttackID: "a1", AgentID: "agent-1", State: types.TaskStateRunning})
	}))

	require.NoError(t, svc.ReportError("agent-1", "t1", types.SeverityWarning, "thermal throttle", nil, time.Now()))

	require.NoError(t, store.View(func(tx storage.Txn) error {
		task, err := tx.GetTask("t1")
		require.NoError(t, err)
		assert.Equal(t, types.TaskStateRunning, task.State)

		errs, err := tx.ListAgentErrorsByAgent("agent-1")
		require.NoError(t, err)
		assert.Len(t, errs, 1)
		return nil
	}))
}

func TestRepeatedFatalErrorsCondemnAgent(t *testing.T) {
	svc, store := newTestService(t, 0)
	now := time.Now()

	require.NoError(t, store.Update(func(tx storage.Txn) error {
		return tx.CreateAgent(&types.Agent{ID: "agent-1", State: types.AgentStateActive})
	}))

	for i := 0; i < fatalErrorThreshold; i++ {
		require.NoError(t, svc.ReportError("agent-1", "", types.SeverityFatal,
			fmt.Sprintf("crash %d", i), nil, now.Add(time.Duration(i)*time.Minute)))
	}

	assert.Equal(t, types.AgentStateError, getAgent(t, store, "agent-1").State)
}

func TestOldFatalErrorsAgeOut(t *testing.T) {
	svc, store := newTestService(t, 0)
	now := time.Now()

	require.NoError(t, store.Update(func(tx storage.Txn) error {
		return tx.CreateAgent(&types.Agent{ID: "agent-1", State: types.AgentStateActive})
	}))

	// two fatals well outside the window, then one fresh
	require.NoError(t, svc.ReportError("agent-1", "", types.SeverityFatal, "old 1", nil, now.Add(-2*fatalErrorWindow)))
	require.NoError(t, svc.ReportError("agent-1", "", types.SeverityFatal, "old 2", nil, now.Add(-2*fatalErrorWindow)))
	require.NoError(t, svc.ReportError("agent-1", "", types.SeverityFatal, "fresh", nil, now))

	assert.Equal(t, types.AgentStateActive, getAgent(t, store, "agent-1").State)
}

func TestSweepHeartbeats(t *testing.T) {
	grace := 30 * time.Second
	svc, store := newTestService(t, grace)
	now := time.Now()
	deadline := types.DefaultAgentUpdateInterval*HeartbeatMultiplier + grace

	require.NoError(t, store.Update(func(tx storage.Txn) error {
		// silent past the deadline
		if err := tx.CreateAgent(&types.Agent{ID: "silent", State: types.AgentStateActive, LastSeenAt: now.Add(-deadline - time.Second)}); err != nil {
			return err
		}
		if err := tx.CreateTask(&types.Task{ID: "t1", AttackID: "a1", AgentID: "silent", State: types.TaskStateRunning}); err != nil {
			return err
		}
		// still inside the deadline
		if err := tx.CreateAgent(&types.Agent{ID: "alive", State: types.AgentStateActive, LastSeenAt: now.Add(-deadline + time.Second)}); err != nil {
			return err
		}
		// offline agents are not swept again
		return tx.CreateAgent(&types.Agent{ID: "already-off", State: types.AgentStateOffline, LastSeenAt: now.Add(-48 * time.Hour)})
	}))

	require.NoError(t, svc.SweepHeartbeats(now))

	assert.Equal(t, types.AgentStateOffline, getAgent(t, store, "silent").State)
	assert.Equal(t, types.AgentStateActive, getAgent(t, store, "alive").State)
	assert.Equal(t, types.AgentStateOffline, getAgent(t, store, "already-off").State)

	require.NoError(t, store.View(func(tx storage.Txn) error {
		task, err := tx.GetTask("t1")
		require.NoError(t, err)
		assert.Equal(t, types.TaskStatePaused, task.State)
		assert.Equal(t, "silent", task.AgentID)
		return nil
	}))
}

func TestSweepHonorsCustomUpdateInterval(t *testing.T) {
	svc, store := newTestService(t, 0)
	now := time.Now()

	require.NoError(t, store.Update(func(tx storage.Txn) error {
		// a 5s interval means a 15s deadline; 20s of silence is fatal
		return tx.CreateAgent(&types.Agent{
			ID:         "tuned",
			State:      types.AgentStateActive,
			LastSeenAt: now.Add(-20 * time.Second),
			Advanced:   &types.AdvancedAgentConfig{AgentUpdateInterval: 5},
		})
	}))

	require.NoError(t, svc.SweepHeartbeats(now))
	assert.Equal(t, types.AgentStateOffline, getAgent(t, store, "tuned").State)
}
