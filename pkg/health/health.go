package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/unclesp1d3r/cipherswarm/pkg/log"
	"github.com/unclesp1d3r/cipherswarm/pkg/memstore"
	"github.com/unclesp1d3r/cipherswarm/pkg/objectstore"
	"github.com/unclesp1d3r/cipherswarm/pkg/storage"
)

// Status of one dependency probe.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	// StatusChecking is reported to callers that lost the probe lock;
	// another caller is probing right now.
	StatusChecking Status = "checking"
)

const (
	lockKey = "health:check"
	lockTTL = 10 * time.Second

	// ProbeTimeout bounds each individual dependency probe.
	ProbeTimeout = 5 * time.Second
)

// Dependency is the probe result for one external dependency.
// Secondary metrics degrade to nil when unavailable.
type Dependency struct {
	Status  Status  `json:"status"`
	Error   string  `json:"error,omitempty"`
	Latency *int64  `json:"latency_ms,omitempty"`
	// Size is the database file size in bytes; database probe only.
	Size *int64 `json:"size_bytes,omitempty"`
}

// Report is one full health snapshot.
type Report struct {
	Database    Dependency `json:"database"`
	MemoryStore Dependency `json:"memory_store"`
	ObjectStore Dependency `json:"object_store"`
	Jobs        Dependency `json:"background_jobs"`
	CheckedAt   time.Time  `json:"checked_at"`
}

// Healthy reports whether every dependency probe passed.
func (r *Report) Healthy() bool {
	for _, d := range []Dependency{r.Database, r.MemoryStore, r.ObjectStore, r.Jobs} {
		if d.Status != StatusHealthy {
			return false
		}
	}
	return true
}

// sizer is implemented by stores that can report their on-disk size.
type sizer interface {
	Size() (int64, error)
}

// Service probes the server's external dependencies. A named lock with
// a TTL serializes probing under load; callers that lose the lock get
// the cached snapshot with statuses set to checking.
type Service struct {
	db      storage.Store
	mem     *memstore.Store
	objects objectstore.Store
	jobs    *Registry
	logger  zerolog.Logger

	mu     sync.Mutex
	cached Report
}

// NewService creates a health check service.
func NewService(db storage.Store, mem *memstore.Store, objects objectstore.Store, jobs *Registry) *Service {
	return &Service{
		db:      db,
		mem:     mem,
		objects: objects,
		jobs:    jobs,
		logger:  log.WithComponent("health"),
	}
}

// Check returns a health report. At most one caller probes at a time;
// the rest are served the last snapshot marked checking. When the
// in-memory store itself is down, the lock is skipped, the remaining
// probes still run, and the store is reported unhealthy.
func (s *Service) Check(now time.Time) *Report {
	memDown := s.mem.Ping() != nil
	if !memDown {
		token := uuid.New().String()
		acquired, err := s.mem.SetNX(lockKey, token, lockTTL)
		if err != nil {
			memDown = true
		} else if !acquired {
			return s.cachedAsChecking()
		} else {
			defer func() {
				if err := s.mem.Delete(lockKey); err != nil {
					s.logger.Warn().Err(err).Msg("failed to release health lock")
				}
			}()
		}
	}

	report := &Report{CheckedAt: now}
	report.Database = s.probe(s.probeDatabase)
	report.ObjectStore = s.probe(s.probeObjectStore)
	report.Jobs = s.probe(func() (Dependency, error) { return s.probeJobs(now) })
	if memDown {
		report.MemoryStore = Dependency{Status: StatusUnhealthy, Error: "memory store unreachable"}
	} else {
		report.MemoryStore = s.probe(s.probeMemoryStore)
	}

	s.mu.Lock()
	s.cached = *report
	s.mu.Unlock()
	return report
}

func (s *Service) cachedAsChecking() *Report {
	s.mu.Lock()
	report := s.cached
	s.mu.Unlock()

	report.Database.Status = StatusChecking
	report.MemoryStore.Status = StatusChecking
	report.ObjectStore.Status = StatusChecking
	report.Jobs.Status = StatusChecking
	return &report
}

// probe runs one dependency check under ProbeTimeout.
func (s *Service) probe(fn func() (Dependency, error)) Dependency {
	type outcome struct {
		dep Dependency
		err error
	}
	start := time.Now()
	ch := make(chan outcome, 1)
	go func() {
		dep, err := fn()
		ch <- outcome{dep: dep, err: err}
	}()

	select {
	case out := <-ch:
		latency := time.Since(start).Milliseconds()
		out.dep.Latency = &latency
		if out.err != nil {
			out.dep.Status = StatusUnhealthy
			out.dep.Error = out.err.Error()
		}
		return out.dep
	case <-time.After(ProbeTimeout):
		return Dependency{Status: StatusUnhealthy, Error: "probe timed out"}
	}
}

func (s *Service) probeDatabase() (Dependency, error) {
	if err := s.db.View(func(tx storage.Txn) error { return nil }); err != nil {
		return Dependency{}, err
	}
	dep := Dependency{Status: StatusHealthy}
	if sz, ok := s.db.(sizer); ok {
		if size, err := sz.Size(); err == nil {
			dep.Size = &size
		}
	}
	return dep, nil
}

func (s *Service) probeMemoryStore() (Dependency, error) {
	if err := s.mem.Ping(); err != nil {
		return Dependency{}, err
	}
	return Dependency{Status: StatusHealthy}, nil
}

func (s *Service) probeObjectStore() (Dependency, error) {
	if err := s.objects.Ping(); err != nil {
		return Dependency{}, err
	}
	return Dependency{Status: StatusHealthy}, nil
}

func (s *Service) probeJobs(now time.Time) (Dependency, error) {
	if s.jobs == nil {
		return Dependency{}, fmt.Errorf("no job registry")
	}
	if stalled := s.jobs.Stalled(now); len(stalled) > 0 {
		return Dependency{}, fmt.Errorf("stalled jobs: %v", stalled)
	}
	return Dependency{Status: StatusHealthy}, nil
}
