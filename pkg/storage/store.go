package storage

import (
	"errors"
	"time"

	"github.com/unclesp1d3r/cipherswarm/pkg/types"
)

var (
	// ErrNotFound is returned when a looked-up entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is returned when an optimistic task update
	// loses a race against a concurrent writer.
	ErrVersionConflict = errors.New("version conflict")
)

// Txn exposes every entity operation bound to one transaction. All
// mutations performed through a Txn commit or roll back together.
type Txn interface {
	// Projects
	CreateProject(project *types.Project) error
	GetProject(id string) (*types.Project, error)
	ListProjects() ([]*types.Project, error)

	// Hash lists
	CreateHashList(list *types.HashList) error
	GetHashList(id string) (*types.HashList, error)
	ListHashLists() ([]*types.HashList, error)
	ListHashListsByProject(projectID string) ([]*types.HashList, error)
	UpdateHashList(list *types.HashList) error

	// Hash items, indexed by (hash list, hash value)
	PutHashItem(item *types.HashItem) error
	GetHashItem(hashListID, hashValue string) (*types.HashItem, error)
	ListHashItems(hashListID string) ([]*types.HashItem, error)
	CountUncrackedHashItems(hashListID string) (int, error)

	// Campaigns
	CreateCampaign(campaign *types.Campaign) error
	GetCampaign(id string) (*types.Campaign, error)
	ListCampaigns() ([]*types.Campaign, error)
	ListCampaignsByProject(projectID string) ([]*types.Campaign, error)
	UpdateCampaign(campaign *types.Campaign) error
	DeleteCampaign(id string) error

	// Attacks
	CreateAttack(attack *types.Attack) error
	GetAttack(id string) (*types.Attack, error)
	ListAttacks() ([]*types.Attack, error)
	ListAttacksByCampaign(campaignID string) ([]*types.Attack, error)
	UpdateAttack(attack *types.Attack) error
	DeleteAttack(id string) error

	// Tasks. CreateTask assigns the monotonic Seq; UpdateTask enforces
	// optimistic versioning and returns ErrVersionConflict on a lost race.
	CreateTask(task *types.Task) error
	GetTask(id string) (*types.Task, error)
	ListTasks() ([]*types.Task, error)
	ListTasksByAgent(agentID string) ([]*types.Task, error)
	ListTasksByAttack(attackID string) ([]*types.Task, error)
	UpdateTask(task *types.Task) error
	DeleteTask(id string) error
	TaskDeletedRecently(id string, within time.Duration) (bool, error)

	// Agents
	CreateAgent(agent *types.Agent) error
	GetAgent(id string) (*types.Agent, error)
	ListAgents() ([]*types.Agent, error)
	UpdateAgent(agent *types.Agent) error

	// Benchmarks
	CreateBenchmark(benchmark *types.Benchmark) error
	ListBenchmarksByAgent(agentID string) ([]*types.Benchmark, error)

	// Status frames, stored in arrival order per task.
	// LatestHashcatStatus returns ErrNotFound for a task with no frames.
	AppendHashcatStatus(status *types.HashcatStatus) error
	LatestHashcatStatus(taskID string) (*types.HashcatStatus, error)
	ListHashcatStatuses(taskID string) ([]*types.HashcatStatus, error)
	PruneHashcatStatuses(taskID string, keep int) (int, error)

	// Agent errors
	CreateAgentError(agentError *types.AgentError) error
	ListAgentErrorsByAgent(agentID string) ([]*types.AgentError, error)
}

// Store is the persistent state store. Every read or mutation runs
// through a transaction closure; mutations grouped inside one Update
// commit or roll back together.
type Store interface {
	View(fn func(tx Txn) error) error
	Update(fn func(tx Txn) error) error
	Close() error
}
