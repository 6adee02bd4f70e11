package telemetry

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unclesp1d3r/cipherswarm/pkg/storage"
	"github.com/unclesp1d3r/cipherswarm/pkg/types"
)

func newTestService(t *testing.T) (*Service, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewService(store), store
}

func seedTask(t *testing.T, store storage.Store, taskState types.TaskState, attackState types.AttackState, campaignPaused bool) {
	t.Helper()
	err := store.Update(func(tx storage.Txn) error {
		if err := tx.CreateCampaign(&types.Campaign{ID: "c1", ProjectID: "p1", HashListID: "hl1", Paused: campaignPaused}); err != nil {
			return err
		}
		if err := tx.CreateAttack(&types.Attack{ID: "a1", CampaignID: "c1", State: attackState}); err != nil {
			return err
		}
		if err := tx.CreateAgent(&types.Agent{ID: "agent-1", State: types.AgentStateActive}); err != nil {
			return err
		}
		return tx.CreateTask(&types.Task{ID: "t1", AttackID: "a1", AgentID: "agent-1", State: taskState})
	})
	require.NoError(t, err)
}

func validFrame() *Frame {
	return &Frame{
		Session:  "session",
		Status:   3,
		Progress: [2]int64{10, 100},
		Guess:    &types.HashcatGuess{GuessBase: "wordlist.txt"},
		Devices:  []types.DeviceStatus{{DeviceID: 1, DeviceName: "gpu0", Speed: 5000}},
	}
}

func TestFrameValidation(t *testing.T) {
	frame := validFrame()
	assert.NoError(t, frame.Validate())

	noGuess := validFrame()
	noGuess.Guess = nil
	assert.ErrorIs(t, noGuess.Validate(), ErrGuessMissing)

	noDevices := validFrame()
	noDevices.Devices = nil
	assert.ErrorIs(t, noDevices.Validate(), ErrDevicesMissing)
}

func TestSubmitRejectsInvalidFrameBeforeWriting(t *testing.T) {
	svc, store := newTestService(t)
	seedTask(t, store, types.TaskStateRunning, types.AttackStateRunning, false)

	frame := validFrame()
	frame.Guess = nil
	_, err := svc.Submit("t1", "agent-1", frame, time.Now())
	assert.ErrorIs(t, err, ErrGuessMissing)

	require.NoError(t, store.View(func(tx storage.Txn) error {
		statuses, err := tx.ListHashcatStatuses("t1")
		require.NoError(t, err)
		assert.Empty(t, statuses)
		return nil
	}))
}

func TestSubmitOK(t *testing.T) {
	svc, store := newTestService(t)
	seedTask(t, store, types.TaskStateRunning, types.AttackStateRunning, false)
	now := time.Now()

	result, err := svc.Submit("t1", "agent-1", validFrame(), now)
	require.NoError(t, err)
	assert.Equal(t, ResultOK, result)

	require.NoError(t, store.View(func(tx storage.Txn) error {
		latest, err := tx.LatestHashcatStatus("t1")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, [2]int64{10, 100}, latest.Progress)

		task, err := tx.GetTask("t1")
		require.NoError(t, err)
		assert.WithinDuration(t, now, task.ActivityAt, 0)

		agent, err := tx.GetAgent("agent-1")
		require.NoError(t, err)
		assert.WithinDuration(t, now, agent.LastSeenAt, 0)
		return nil
	}))
}

func TestSubmitStale(t *testing.T) {
	svc, store := newTestService(t)
	seedTask(t, store, types.TaskStateRunning, types.AttackStateRunning, false)

	require.NoError(t, store.Update(func(tx storage.Txn) error {
		task, err := tx.GetTask("t1")
		if err != nil {
			return err
		}
		task.Stale = true
		return tx.UpdateTask(task)
	}))

	result, err := svc.Submit("t1", "agent-1", validFrame(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, ResultStale, result)
}

func TestSubmitPaused(t *testing.T) {
	tests := []struct {
		name           string
		attackState    types.AttackState
		campaignPaused bool
	}{
		{name: "attack paused", attackState: types.AttackStatePaused},
		{name: "campaign paused", attackState: types.AttackStateRunning, campaignPaused: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestService(t)
			seedTask(t, store, types.TaskStateRunning, tt.attackState, tt.campaignPaused)

			result, err := svc.Submit("t1", "agent-1", validFrame(), time.Now())
			require.NoError(t, err)
			assert.Equal(t, ResultPaused, result)
		})
	}
}

func TestSubmitStaleWinsOverPaused(t *testing.T) {
	svc, store := newTestService(t)
	seedTask(t, store, types.TaskStateRunning, types.AttackStatePaused, false)

	require.NoError(t, store.Update(func(tx storage.Txn) error {
		task, err := tx.GetTask("t1")
		if err != nil {
			return err
		}
		task.Stale = true
		return tx.UpdateTask(task)
	}))

	// re-syncing cracked hashes comes before backing off
	result, err := svc.Submit("t1", "agent-1", validFrame(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, ResultStale, result)
}

func TestSubmitPausedTaskBacksOff(t *testing.T) {
	svc, store := newTestService(t)
	seedTask(t, store, types.TaskStatePaused, types.AttackStatePaused, true)
	now := time.Now()

	result, err := svc.Submit("t1", "agent-1", validFrame(), now)
	require.NoError(t, err)
	assert.Equal(t, ResultPaused, result)

	require.NoError(t, store.View(func(tx storage.Txn) error {
		// the frame is discarded, but the contact still counts
		statuses, err := tx.ListHashcatStatuses("t1")
		require.NoError(t, err)
		assert.Empty(t, statuses)

		agent, err := tx.GetAgent("agent-1")
		require.NoError(t, err)
		assert.WithinDuration(t, now, agent.LastSeenAt, 0)
		return nil
	}))
}

func TestSubmitNonRunningTask(t *testing.T) {
	for _, state := range []types.TaskState{types.TaskStatePending, types.TaskStateCompleted} {
		svc, store := newTestService(t)
		seedTask(t, store, state, types.AttackStateRunning, false)

		_, err := svc.Submit("t1", "agent-1", validFrame(), time.Now())
		assert.ErrorIs(t, err, ErrTaskNotRunning, "state %s", state)
	}
}

func TestSubmitPrunesRetention(t *testing.T) {
	svc, store := newTestService(t)
	seedTask(t, store, types.TaskStateRunning, types.AttackStateRunning, false)

	base := time.Now()
	for i := 0; i < statusRetention+10; i++ {
		frame := validFrame()
		frame.Session = fmt.Sprintf("s-%d", i)
		_, err := svc.Submit("t1", "agent-1", frame, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	require.NoError(t, store.View(func(tx storage.Txn) error {
		statuses, err := tx.ListHashcatStatuses("t1")
		require.NoError(t, err)
		assert.Len(t, statuses, statusRetention)

		latest, err := tx.LatestHashcatStatus("t1")
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("s-%d", statusRetention+9), latest.Session)
		return nil
	}))
}

func TestActivityNeverRegresses(t *testing.T) {
	svc, store := newTestService(t)
	seedTask(t, store, types.TaskStateRunning, types.AttackStateRunning, false)

	later := time.Now()
	earlier := later.Add(-time.Minute)

	_, err := svc.Submit("t1", "agent-1", validFrame(), later)
	require.NoError(t, err)

	_, err = svc.Submit("t1", "agent-1", validFrame(), earlier)
	require.NoError(t, err)

	require.NoError(t, store.View(func(tx storage.Txn) error {
		task, err := tx.GetTask("t1")
		require.NoError(t, err)
		assert.WithinDuration(t, later, task.ActivityAt, 0)
		return nil
	}))
}
