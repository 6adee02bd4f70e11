package health

import (
	"sync"
	"time"
)

// Registry tracks background job liveness. Each loop registers itself
// with its expected cadence and beats on every iteration; a job is
// stalled once it misses several beats in a row.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*jobRecord
}

type jobRecord struct {
	interval time.Duration
	lastBeat time.Time
}

// stallMultiplier is how many missed beats declare a job stalled.
const stallMultiplier = 3

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*jobRecord)}
}

// Register announces a background job and its cadence.
func (r *Registry) Register(name string, interval time.Duration, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[name] = &jobRecord{interval: interval, lastBeat: now}
}

// Beat records one completed iteration of the named job.
func (r *Registry) Beat(name string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[name]; ok {
		job.lastBeat = now
	}
}

// Stalled returns the names of jobs past their stall deadline.
func (r *Registry) Stalled(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for name, job := range r.jobs {
		if now.Sub(job.lastBeat) > job.interval*stallMultiplier {
			out = append(out, name)
		}
	}
	return out
}
