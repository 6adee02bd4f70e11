package types

import (
	"time"
)

// Project is the isolation boundary. Campaigns, hash lists, agents and
// everything they own never cross projects.
type Project struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// HashType identifies a hashcat hash mode (e.g. 0 = MD5, 1000 = NTLM).
type HashType int

// HashList is an ordered collection of hash items of a single hash type
// within a project.
type HashList struct {
	ID        string
	ProjectID string
	Name      string
	HashType  HashType
	Processed bool // true once items are ingested
	CreatedAt time.Time
}

// HashItem is one hash inside a hash list.
type HashItem struct {
	ID         string
	HashListID string
	HashValue  string
	Position   int
	Cracked    bool
	PlainText  *string
	CrackedAt  *time.Time
	AttackID   string // attack that produced the crack, if any
}

// Priority orders campaigns for scheduling and preemption decisions.
type Priority string

const (
	PriorityDeferred Priority = "deferred"
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
)

// Ordinal returns the numeric rank of a priority. Higher wins.
func (p Priority) Ordinal() int {
	switch p {
	case PriorityDeferred:
		return 0
	case PriorityLow:
		return 1
	case PriorityNormal:
		return 2
	case PriorityHigh:
		return 3
	default:
		return -1
	}
}

// Campaign is a named, priority-tagged grouping of attacks against one
// hash list within one project.
type Campaign struct {
	ID         string
	ProjectID  string
	HashListID string
	Name       string
	Priority   Priority
	Paused     bool
	CreatorID  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AttackMode selects the hashcat attack strategy.
type AttackMode string

const (
	AttackModeDictionary  AttackMode = "dictionary"
	AttackModeMask        AttackMode = "mask"
	AttackModeBruteForce  AttackMode = "brute_force"
	AttackModeHybridDM    AttackMode = "hybrid_dm"
	AttackModeHybridMD    AttackMode = "hybrid_md"
	AttackModeIncremental AttackMode = "incremental"
)

// HashcatMode returns the numeric -a value passed to hashcat.
func (m AttackMode) HashcatMode() int {
	switch m {
	case AttackModeDictionary:
		return 0
	case AttackModeMask, AttackModeBruteForce, AttackModeIncremental:
		return 3
	case AttackModeHybridDM:
		return 6
	case AttackModeHybridMD:
		return 7
	default:
		return -1
	}
}

// AttackState tracks an attack through its lifecycle.
type AttackState string

const (
	AttackStatePending   AttackState = "pending"
	AttackStateRunning   AttackState = "running"
	AttackStatePaused    AttackState = "paused"
	AttackStateCompleted AttackState = "completed"
	AttackStateExhausted AttackState = "exhausted"
	AttackStateFailed    AttackState = "failed"
	AttackStateAbandoned AttackState = "abandoned"
)

// Terminal reports whether the attack can no longer make progress.
func (s AttackState) Terminal() bool {
	switch s {
	case AttackStateCompleted, AttackStateExhausted, AttackStateFailed, AttackStateAbandoned:
		return true
	}
	return false
}

// Attack is one complete hashcat invocation recipe within a campaign.
type Attack struct {
	ID         string
	CampaignID string
	Name       string
	Mode       AttackMode
	State      AttackState

	Mask          string
	IncrementMode bool
	IncrementMin  int
	IncrementMax  int

	CustomCharset1 string
	CustomCharset2 string
	CustomCharset3 string
	CustomCharset4 string

	ClassicMarkov   bool
	DisableMarkov   bool
	MarkovThreshold int
	Optimized       bool
	SlowCandidates  bool
	WorkloadProfile int

	LeftRule  string
	RightRule string

	WordListID string
	RuleListID string
	MaskListID string

	// ComplexityValue estimates the candidate space (guesses to exhaust).
	// Cheaper attacks are scheduled first.
	ComplexityValue uint64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TaskState tracks a task through its lifecycle.
type TaskState string

const (
	TaskStatePending   TaskState = "pending"
	TaskStateRunning   TaskState = "running"
	TaskStatePaused    TaskState = "paused"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
	TaskStateExhausted TaskState = "exhausted"
	TaskStateAbandoned TaskState = "abandoned"
)

// Incomplete reports whether the state still represents live work.
func (s TaskState) Incomplete() bool {
	switch s {
	case TaskStatePending, TaskStateRunning, TaskStatePaused:
		return true
	}
	return false
}

// Terminal reports whether the state is final.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateExhausted, TaskStateAbandoned:
		return true
	}
	return false
}

// MaxPreemptions pins a task against further preemption once reached.
const MaxPreemptions = 2

// PreemptProgressCutoff protects near-finishers: a task at or beyond
// this fractional progress is never preempted.
const PreemptProgressCutoff = 0.90

// Task is one assignment of an attack to an agent.
type Task struct {
	ID  string
	Seq uint64 // monotonic creation counter, used by the deleted-recently heuristic

	AttackID string
	AgentID  string // empty after preemption until re-picked up

	State TaskState

	// Stale forces the agent to re-sync cracked hashes before it may
	// continue submitting results.
	Stale bool

	RetryCount      int
	PreemptionCount int
	LastError       string

	// ActivityAt advances on every status submission and only ever
	// moves forward.
	ActivityAt time.Time

	// Version supports optimistic concurrency on update.
	Version uint64

	CreatedAt  time.Time
	FinishedAt time.Time
}

// TouchActivity advances ActivityAt, never backwards.
func (t *Task) TouchActivity(now time.Time) {
	if now.After(t.ActivityAt) {
		t.ActivityAt = now
	}
}

// Preemptable reports whether the task may be reclaimed for a
// higher-priority attack given its current fractional progress.
func (t *Task) Preemptable(progress float64) bool {
	return t.State == TaskStateRunning &&
		t.PreemptionCount < MaxPreemptions &&
		progress < PreemptProgressCutoff
}

// AgentState tracks a worker through its lifecycle.
type AgentState string

const (
	AgentStatePending AgentState = "pending"
	AgentStateActive  AgentState = "active"
	AgentStateOffline AgentState = "offline"
	AgentStateError   AgentState = "error"
)

// AgentDevice describes one compute device reported by an agent.
type AgentDevice struct {
	ID   int
	Name string
	Type string // "cpu" or "gpu"
}

// AdvancedAgentConfig carries optional per-agent tuning. Field shapes
// mirror what the agent persists locally.
type AdvancedAgentConfig struct {
	AgentUpdateInterval int64 // seconds between status submissions
	UseNativeHashcat    bool
	BackendDevices      string
	OpenCLDevices       string
}

// Agent is a worker that runs hashcat on behalf of the server.
type Agent struct {
	ID              string
	UserID          string
	ProjectIDs      []string
	State           AgentState
	Trusted         bool
	HostName        string
	OperatingSystem string
	LastIPAddress   string
	LastSeenAt      time.Time
	Devices         []AgentDevice
	Advanced        *AdvancedAgentConfig
	CreatedAt       time.Time
}

// InProject reports whether the agent is a member of the given project.
func (a *Agent) InProject(projectID string) bool {
	for _, id := range a.ProjectIDs {
		if id == projectID {
			return true
		}
	}
	return false
}

// DefaultAgentUpdateInterval is assumed when an agent carries no
// advanced configuration.
const DefaultAgentUpdateInterval = 30 * time.Second

// UpdateInterval returns the configured status interval, falling back
// to the fleet default.
func (a *Agent) UpdateInterval() time.Duration {
	if a.Advanced != nil && a.Advanced.AgentUpdateInterval > 0 {
		return time.Duration(a.Advanced.AgentUpdateInterval) * time.Second
	}
	return DefaultAgentUpdateInterval
}

// Benchmark records measured guesses/sec for one (agent, hash type).
type Benchmark struct {
	ID        string
	AgentID   string
	HashType  HashType
	HashSpeed float64 // guesses per second
	Runtime   int64   // milliseconds
	RunAt     time.Time
}

// HashcatGuess carries the guess-base/mod metadata from a status frame.
type HashcatGuess struct {
	GuessBase        string
	GuessBaseCount   uint64
	GuessBaseOffset  uint64
	GuessBasePercent float64
	GuessMod         string
	GuessModCount    uint64
	GuessModOffset   uint64
	GuessModPercent  float64
	GuessMode        int
}

// DeviceStatus is one device entry inside a status frame.
type DeviceStatus struct {
	DeviceID    int
	DeviceName  string
	DeviceType  string
	Speed       int64 // guesses per second
	Utilization int
	Temperature int
}

// HashcatStatus is a periodic telemetry frame from a running task.
type HashcatStatus struct {
	ID            string
	TaskID        string
	Time          time.Time
	Session       string
	Status        int // hashcat numeric state
	Target        string
	Progress      [2]int64 // [done, total]
	RestorePoint  int64
	Rejected      int64
	Guess         HashcatGuess
	Devices       []DeviceStatus
	TimeStart     time.Time
	EstimatedStop time.Time
	CreatedAt     time.Time
}

// FractionalProgress returns done/total clamped to [0,1]; zero when the
// frame carries no total.
func (s *HashcatStatus) FractionalProgress() float64 {
	if s == nil || s.Progress[1] <= 0 {
		return 0
	}
	p := float64(s.Progress[0]) / float64(s.Progress[1])
	if p > 1 {
		return 1
	}
	return p
}

// Severity ranks agent-reported incidents. Only fatal blocks
// reassignment of the affected task to the same agent.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityMajor   Severity = "major"
	SeverityFatal   Severity = "fatal"
)

// AgentError is an incident attributable to an agent and optionally a task.
type AgentError struct {
	ID        string
	AgentID   string
	TaskID    string // optional
	Severity  Severity
	Message   string
	Metadata  map[string]string
	CreatedAt time.Time
}

// Resource is an opaque blob (word list, rule list, mask list) stored
// in object storage and referenced by attacks.
type Resource struct {
	ID        string
	FileName  string
	Checksum  string // hex sha256
	Size      int64
	CreatedAt time.Time
}
