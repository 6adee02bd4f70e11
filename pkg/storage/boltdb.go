package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/unclesp1d3r/cipherswarm/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketProjects    = []byte("projects")
	bucketHashLists   = []byte("hash_lists")
	bucketHashItems   = []byte("hash_items") // nested: one sub-bucket per hash list, keyed by hash value
	bucketCampaigns   = []byte("campaigns")
	bucketAttacks     = []byte("attacks")
	bucketTasks       = []byte("tasks")
	bucketTombstones  = []byte("task_tombstones")
	bucketAgents      = []byte("agents")
	bucketBenchmarks  = []byte("benchmarks")
	bucketStatuses    = []byte("statuses") // nested: one sub-bucket per task, keyed by arrival sequence
	bucketAgentErrors = []byte("agent_errors")
)

// BoltStore implements Store using BoltDB. Writes go through bbolt's
// single-writer transactions, which serializes every multi-entity
// mutation performed via Update.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "cipherswarm.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketProjects,
			bucketHashLists,
			bucketHashItems,
			bucketCampaigns,
			bucketAttacks,
			bucketTasks,
			bucketTombstones,
			bucketAgents,
			bucketBenchmarks,
			bucketStatuses,
			bucketAgentErrors,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Size returns the on-disk size of the database file in bytes.
func (s *BoltStore) Size() (int64, error) {
	var size int64
	err := s.db.View(func(tx *bolt.Tx) error {
		size = tx.Size()
		return nil
	})
	return size, err
}

// View runs fn inside a read-only transaction.
func (s *BoltStore) View(fn func(tx Txn) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&boltTxn{tx: tx})
	})
}

// Update runs fn inside one read-write transaction; all mutations
// commit or roll back together.
func (s *BoltStore) Update(fn func(tx Txn) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTxn{tx: tx})
	})
}

// boltTxn binds the Txn operations to one open bolt transaction.
type boltTxn struct {
	tx *bolt.Tx
}

func putJSON(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

// Project operations

func (t *boltTxn) CreateProject(project *types.Project) error {
	return putJSON(t.tx.Bucket(bucketProjects), project.ID, project)
}

func (t *boltTxn) GetProject(id string) (*types.Project, error) {
	data := t.tx.Bucket(bucketProjects).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	var project types.Project
	if err := json.Unmarshal(data, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

func (t *boltTxn) ListProjects() ([]*types.Project, error) {
	var projects []*types.Project
	err := t.tx.Bucket(bucketProjects).ForEach(func(k, v []byte) error {
		var project types.Project
		if err := json.Unmarshal(v, &project); err != nil {
			return err
		}
		projects = append(projects, &project)
		return nil
	})
	return projects, err
}

// Hash list operations

func (t *boltTxn) CreateHashList(list *types.HashList) error {
	return putJSON(t.tx.Bucket(bucketHashLists), list.ID, list)
}

func (t *boltTxn) GetHashList(id string) (*types.HashList, error) {
	data := t.tx.Bucket(bucketHashLists).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("hash list %s: %w", id, ErrNotFound)
	}
	var list types.HashList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (t *boltTxn) ListHashLists() ([]*types.HashList, error) {
	var lists []*types.HashList
	err := t.tx.Bucket(bucketHashLists).ForEach(func(k, v []byte) error {
		var list types.HashList
		if err := json.Unmarshal(v, &list); err != nil {
			return err
		}
		lists = append(lists, &list)
		return nil
	})
	return lists, err
}

func (t *boltTxn) ListHashListsByProject(projectID string) ([]*types.HashList, error) {
	lists, err := t.ListHashLists()
	if err != nil {
		return nil, err
	}
	var filtered []*types.HashList
	for _, list := range lists {
		if list.ProjectID == projectID {
			filtered = append(filtered, list)
		}
	}
	return filtered, nil
}

func (t *boltTxn) UpdateHashList(list *types.HashList) error {
	return t.CreateHashList(list) // upsert
}

// Hash item operations. Items live in a sub-bucket per hash list keyed
// by hash value, giving the (hash_list, hash_value) index the crack
// path depends on.

func (t *boltTxn) itemBucket(hashListID string, create bool) (*bolt.Bucket, error) {
	root := t.tx.Bucket(bucketHashItems)
	if create {
		return root.CreateBucketIfNotExists([]byte(hashListID))
	}
	b := root.Bucket([]byte(hashListID))
	if b == nil {
		return nil, fmt.Errorf("hash list %s items: %w", hashListID, ErrNotFound)
	}
	return b, nil
}

func (t *boltTxn) PutHashItem(item *types.HashItem) error {
	b, err := t.itemBucket(item.HashListID, true)
	if err != nil {
		return err
	}
	return putJSON(b, item.HashValue, item)
}

func (t *boltTxn) GetHashItem(hashListID, hashValue string) (*types.HashItem, error) {
	b, err := t.itemBucket(hashListID, false)
	if err != nil {
		return nil, err
	}
	data := b.Get([]byte(hashValue))
	if data == nil {
		return nil, fmt.Errorf("hash item %q in list %s: %w", hashValue, hashListID, ErrNotFound)
	}
	var item types.HashItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (t *boltTxn) ListHashItems(hashListID string) ([]*types.HashItem, error) {
	b, err := t.itemBucket(hashListID, false)
	if err != nil {
		return nil, nil // list exists but has no items yet
	}
	var items []*types.HashItem
	err = b.ForEach(func(k, v []byte) error {
		var item types.HashItem
		if err := json.Unmarshal(v, &item); err != nil {
			return err
		}
		items = append(items, &item)
		return nil
	})
	return items, err
}

func (t *boltTxn) CountUncrackedHashItems(hashListID string) (int, error) {
	items, err := t.ListHashItems(hashListID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, item := range items {
		if !item.Cracked {
			count++
		}
	}
	return count, nil
}

// Campaign operations

func (t *boltTxn) CreateCampaign(campaign *types.Campaign) error {
	return putJSON(t.tx.Bucket(bucketCampaigns), campaign.ID, campaign)
}

func (t *boltTxn) GetCampaign(id string) (*types.Campaign, error) {
	data := t.tx.Bucket(bucketCampaigns).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	var campaign types.Campaign
	if err := json.Unmarshal(data, &campaign); err != nil {
		return nil, err
	}
	return &campaign, nil
}

func (t *boltTxn) ListCampaigns() ([]*types.Campaign, error) {
	var campaigns []*types.Campaign
	err := t.tx.Bucket(bucketCampaigns).ForEach(func(k, v []byte) error {
		var campaign types.Campaign
		if err := json.Unmarshal(v, &campaign); err != nil {
			return err
		}
		campaigns = append(campaigns, &campaign)
		return nil
	})
	return campaigns, err
}

func (t *boltTxn) ListCampaignsByProject(projectID string) ([]*types.Campaign, error) {
	campaigns, err := t.ListCampaigns()
	if err != nil {
		return nil, err
	}
	var filtered []*types.Campaign
	for _, campaign := range campaigns {
		if campaign.ProjectID == projectID {
			filtered = append(filtered, campaign)
		}
	}
	return filtered, nil
}

func (t *boltTxn) UpdateCampaign(campaign *types.Campaign) error {
	return t.CreateCampaign(campaign)
}

func (t *boltTxn) DeleteCampaign(id string) error {
	return t.tx.Bucket(bucketCampaigns).Delete([]byte(id))
}

// Attack operations

func (t *boltTxn) CreateAttack(attack *types.Attack) error {
	return putJSON(t.tx.Bucket(bucketAttacks), attack.ID, attack)
}

func (t *boltTxn) GetAttack(id string) (*types.Attack, error) {
	data := t.tx.Bucket(bucketAttacks).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("attack %s: %w", id, ErrNotFound)
	}
	var attack types.Attack
	if err := json.Unmarshal(data, &attack); err != nil {
		return nil, err
	}
	return &attack, nil
}

func (t *boltTxn) ListAttacks() ([]*types.Attack, error) {
	var attacks []*types.Attack
	err := t.tx.Bucket(bucketAttacks).ForEach(func(k, v []byte) error {
		var attack types.Attack
		if err := json.Unmarshal(v, &attack); err != nil {
			return err
		}
		attacks = append(attacks, &attack)
		return nil
	})
	return attacks, err
}

func (t *boltTxn) ListAttacksByCampaign(campaignID string) ([]*types.Attack, error) {
	attacks, err := t.ListAttacks()
	if err != nil {
		return nil, err
	}
	var filtered []*types.Attack
	for _, attack := range attacks {
		if attack.CampaignID == campaignID {
			filtered = append(filtered, attack)
		}
	}
	return filtered, nil
}

func (t *boltTxn) UpdateAttack(attack *types.Attack) error {
	return t.CreateAttack(attack)
}

func (t *boltTxn) DeleteAttack(id string) error {
	return t.tx.Bucket(bucketAttacks).Delete([]byte(id))
}

// Task operations

func (t *boltTxn) CreateTask(task *types.Task) error {
	b := t.tx.Bucket(bucketTasks)
	seq, err := b.NextSequence()
	if err != nil {
		return err
	}
	task.Seq = seq
	task.Version = 1
	return putJSON(b, task.ID, task)
}

func (t *boltTxn) GetTask(id string) (*types.Task, error) {
	data := t.tx.Bucket(bucketTasks).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	var task types.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (t *boltTxn) ListTasks() ([]*types.Task, error) {
	var tasks []*types.Task
	err := t.tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
		var task types.Task
		if err := json.Unmarshal(v, &task); err != nil {
			return err
		}
		tasks = append(tasks, &task)
		return nil
	})
	return tasks, err
}

func (t *boltTxn) ListTasksByAgent(agentID string) ([]*types.Task, error) {
	tasks, err := t.ListTasks()
	if err != nil {
		return nil, err
	}
	var filtered []*types.Task
	for _, task := range tasks {
		if task.AgentID == agentID {
			filtered = append(filtered, task)
		}
	}
	return filtered, nil
}

func (t *boltTxn) ListTasksByAttack(attackID string) ([]*types.Task, error) {
	tasks, err := t.ListTasks()
	if err != nil {
		return nil, err
	}
	var filtered []*types.Task
	for _, task := range tasks {
		if task.AttackID == attackID {
			filtered = append(filtered, task)
		}
	}
	return filtered, nil
}

// UpdateTask writes the task back, failing with ErrVersionConflict if
// another writer advanced the stored version since this copy was read.
func (t *boltTxn) UpdateTask(task *types.Task) error {
	stored, err := t.GetTask(task.ID)
	if err != nil {
		return err
	}
	if stored.Version != task.Version {
		return fmt.Errorf("task %s: %w", task.ID, ErrVersionConflict)
	}
	task.Version++
	return putJSON(t.tx.Bucket(bucketTasks), task.ID, task)
}

// DeleteTask removes the task and leaves a tombstone so the API can
// distinguish "recently deleted" from "never existed".
func (t *boltTxn) DeleteTask(id string) error {
	if err := t.tx.Bucket(bucketTasks).Delete([]byte(id)); err != nil {
		return err
	}
	deletedAt, err := time.Now().UTC().MarshalText()
	if err != nil {
		return err
	}
	return t.tx.Bucket(bucketTombstones).Put([]byte(id), deletedAt)
}

func (t *boltTxn) TaskDeletedRecently(id string, within time.Duration) (bool, error) {
	data := t.tx.Bucket(bucketTombstones).Get([]byte(id))
	if data == nil {
		return false, nil
	}
	var deletedAt time.Time
	if err := deletedAt.UnmarshalText(data); err != nil {
		return false, err
	}
	return time.Since(deletedAt) <= within, nil
}

// Agent operations

func (t *boltTxn) CreateAgent(agent *types.Agent) error {
	return putJSON(t.tx.Bucket(bucketAgents), agent.ID, agent)
}

func (t *boltTxn) GetAgent(id string) (*types.Agent, error) {
	data := t.tx.Bucket(bucketAgents).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	var agent types.Agent
	if err := json.Unmarshal(data, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

func (t *boltTxn) ListAgents() ([]*types.Agent, error) {
	var agents []*types.Agent
	err := t.tx.Bucket(bucketAgents).ForEach(func(k, v []byte) error {
		var agent types.Agent
		if err := json.Unmarshal(v, &agent); err != nil {
			return err
		}
		agents = append(agents, &agent)
		return nil
	})
	return agents, err
}

func (t *boltTxn) UpdateAgent(agent *types.Agent) error {
	return t.CreateAgent(agent)
}

// Benchmark operations

func (t *boltTxn) CreateBenchmark(benchmark *types.Benchmark) error {
	return putJSON(t.tx.Bucket(bucketBenchmarks), benchmark.ID, benchmark)
}

func (t *boltTxn) ListBenchmarksByAgent(agentID string) ([]*types.Benchmark, error) {
	var benchmarks []*types.Benchmark
	err := t.tx.Bucket(bucketBenchmarks).ForEach(func(k, v []byte) error {
		var benchmark types.Benchmark
		if err := json.Unmarshal(v, &benchmark); err != nil {
			return err
		}
		if benchmark.AgentID == agentID {
			benchmarks = append(benchmarks, &benchmark)
		}
		return nil
	})
	return benchmarks, err
}

// Status frame operations. Frames live in a sub-bucket per task, keyed
// by an arrival sequence number, so iteration order is storage order.

func (t *boltTxn) statusBucket(taskID string, create bool) (*bolt.Bucket, error) {
	root := t.tx.Bucket(bucketStatuses)
	if create {
		return root.CreateBucketIfNotExists([]byte(taskID))
	}
	b := root.Bucket([]byte(taskID))
	if b == nil {
		return nil, nil
	}
	return b, nil
}

func (t *boltTxn) AppendHashcatStatus(status *types.HashcatStatus) error {
	b, err := t.statusBucket(status.TaskID, true)
	if err != nil {
		return err
	}
	seq, err := b.NextSequence()
	if err != nil {
		return err
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func (t *boltTxn) LatestHashcatStatus(taskID string) (*types.HashcatStatus, error) {
	b, err := t.statusBucket(taskID, false)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrNotFound
	}
	_, v := b.Cursor().Last()
	if v == nil {
		return nil, ErrNotFound
	}
	var status types.HashcatStatus
	if err := json.Unmarshal(v, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (t *boltTxn) ListHashcatStatuses(taskID string) ([]*types.HashcatStatus, error) {
	b, err := t.statusBucket(taskID, false)
	if err != nil || b == nil {
		return nil, err
	}
	var statuses []*types.HashcatStatus
	err = b.ForEach(func(k, v []byte) error {
		var status types.HashcatStatus
		if err := json.Unmarshal(v, &status); err != nil {
			return err
		}
		statuses = append(statuses, &status)
		return nil
	})
	return statuses, err
}

// PruneHashcatStatuses drops the oldest frames beyond keep and returns
// how many were removed.
func (t *boltTxn) PruneHashcatStatuses(taskID string, keep int) (int, error) {
	b, err := t.statusBucket(taskID, false)
	if err != nil || b == nil {
		return 0, err
	}

	// Stats().KeyN only covers the committed state, invisible to keys
	// appended earlier in this transaction; count by cursor instead.
	c := b.Cursor()
	total := 0
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		total++
	}
	excess := total - keep
	if excess <= 0 {
		return 0, nil
	}

	removed := 0
	for k, _ := c.First(); k != nil && removed < excess; k, _ = c.Next() {
		if err := c.Delete(); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Agent error operations

func (t *boltTxn) CreateAgentError(agentError *types.AgentError) error {
	return putJSON(t.tx.Bucket(bucketAgentErrors), agentError.ID, agentError)
}

func (t *boltTxn) ListAgentErrorsByAgent(agentID string) ([]*types.AgentError, error) {
	var agentErrors []*types.AgentError
	err := t.tx.Bucket(bucketAgentErrors).ForEach(func(k, v []byte) error {
		var agentError types.AgentError
		if err := json.Unmarshal(v, &agentError); err != nil {
			return err
		}
		if agentError.AgentID == agentID {
			agentErrors = append(agentErrors, &agentError)
		}
		return nil
	})
	return agentErrors, err
}
