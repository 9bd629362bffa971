package async

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/teranos/vidget/errors"
)

// SubscriberChannelBufferSize is the buffer of each subscription channel.
// Slow subscribers miss updates rather than stall writers.
const SubscriberChannelBufferSize = 100

// Registry is the in-memory store of job records.
//
// One RWMutex guards every record. Callers only ever see clones, and all
// mutation goes through Create, Update, Delete and the pool's claim/reap
// operations. No I/O happens while the lock is held.
type Registry struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	issued      map[string]struct{} // every id ever created, ids are never reused
	nextSeq     uint64
	subscribers []chan *Job
	now         func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		jobs:   make(map[string]*Job),
		issued: make(map[string]struct{}),
		now:    time.Now,
	}
}

// Create stores a new queued job and returns its id
func (r *Registry) Create(job *Job) (string, error) {
	return r.create(job, 0)
}

// create stores job unless limit > 0 and the active count has reached it.
// The check and the insert share one critical section.
func (r *Registry) create(job *Job, limit int) (string, error) {
	if job == nil || job.ID == "" {
		return "", errors.NewInvalidRequestError("job must have an id")
	}
	if job.Status != JobStatusQueued {
		return "", errors.NewInvalidRequestError("new jobs must be queued, got %s", job.Status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if limit > 0 {
		if active := r.activeLocked(); active >= limit {
			return "", errors.NewAdmissionRejectedError("%d of %d download slots in use", active, limit)
		}
	}
	if _, seen := r.issued[job.ID]; seen {
		return "", errors.NewConflictError("job id %s already issued", job.ID)
	}

	stored := job.Clone()
	r.nextSeq++
	stored.seq = r.nextSeq
	r.jobs[stored.ID] = stored
	r.issued[stored.ID] = struct{}{}
	r.notifyLocked(stored)

	return stored.ID, nil
}

// Get returns a copy of the job
func (r *Registry) Get(id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, errors.NewNotFoundError("job %s not found", id)
	}
	return job.Clone(), nil
}

// List returns jobs newest first. An empty status matches every job;
// limit <= 0 returns all matches.
func (r *Registry) List(status JobStatus, limit int) []*Job {
	r.mu.RLock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		if status == "" || job.Status == status {
			jobs = append(jobs, job.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(jobs, func(i, k int) bool { return jobs[i].seq > jobs[k].seq })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}

// Delete removes a terminal job's record. Active jobs are refused with a
// conflict; callers cancel and wait first.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return errors.NewNotFoundError("job %s not found", id)
	}
	if job.Status.IsActive() {
		return errors.NewConflictError("job %s is still %s", id, job.Status)
	}
	delete(r.jobs, id)
	return nil
}

// ActiveCount returns the number of queued and downloading jobs
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeLocked()
}

func (r *Registry) activeLocked() int {
	active := 0
	for _, job := range r.jobs {
		if job.Status.IsActive() {
			active++
		}
	}
	return active
}

// Update applies fn to a copy of the job and commits the copy only if fn
// succeeds, so readers never observe a half-applied change.
func (r *Registry) Update(id string, fn func(*Job) error) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.jobs[id]
	if !ok {
		return nil, errors.NewNotFoundError("job %s not found", id)
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID, next.seq, next.CreatedAt, next.URL = current.ID, current.seq, current.CreatedAt, current.URL
	next.UpdatedAt = r.now()
	r.jobs[id] = next
	r.notifyLocked(next)

	return next.Clone(), nil
}

// Counts is a consistent view of the registry taken under one lock
type Counts struct {
	Total    int
	ByStatus map[JobStatus]int
	Active   int
}

// Counts tallies jobs by status
func (r *Registry) Counts() Counts {
	counts := Counts{ByStatus: make(map[JobStatus]int, len(AllStatuses))}
	for _, s := range AllStatuses {
		counts.ByStatus[s] = 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	counts.Total = len(r.jobs)
	for _, job := range r.jobs {
		counts.ByStatus[job.Status]++
		if job.Status.IsActive() {
			counts.Active++
		}
	}
	return counts
}

// TerminalBefore returns copies of terminal jobs that finished before cutoff
func (r *Registry) TerminalBefore(cutoff time.Time) []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var jobs []*Job
	for _, job := range r.jobs {
		if job.Status.IsTerminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			jobs = append(jobs, job.Clone())
		}
	}
	return jobs
}

// Has reports whether a record exists for id
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.jobs[id]
	return ok
}

// claimNext moves the oldest queued job that was not asked to cancel to
// downloading and returns a copy, or nil when nothing is waiting.
func (r *Registry) claimNext() *Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	var next *Job
	for _, job := range r.jobs {
		if job.Status != JobStatusQueued || job.CancelRequested {
			continue
		}
		if next == nil || job.seq < next.seq {
			next = job
		}
	}
	if next == nil {
		return nil
	}

	claimed := next.Clone()
	if err := claimed.start(r.now()); err != nil {
		return nil
	}
	claimed.UpdatedAt = *claimed.StartedAt
	r.jobs[claimed.ID] = claimed
	r.notifyLocked(claimed)
	return claimed.Clone()
}

// reapCancelled moves every queued job with a pending cancel request
// straight to cancelled. Those jobs never enter downloading.
func (r *Registry) reapCancelled() []*Job {
	return r.cancelQueued(CancelReasonRequested, true)
}

// cancelQueued cancels queued jobs with reason. With onlyRequested set it
// touches only jobs whose cancel flag is already raised.
func (r *Registry) cancelQueued(reason CancelReason, onlyRequested bool) []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	var cancelled []*Job
	now := r.now()
	for id, job := range r.jobs {
		if job.Status != JobStatusQueued || (onlyRequested && !job.CancelRequested) {
			continue
		}
		next := job.Clone()
		if err := next.cancel(reason, now); err != nil {
			continue
		}
		next.UpdatedAt = now
		r.jobs[id] = next
		r.notifyLocked(next)
		cancelled = append(cancelled, next.Clone())
	}
	return cancelled
}

// WaitTerminal blocks until the job reaches a terminal status or ctx is
// done. It returns the terminal record.
func (r *Registry) WaitTerminal(ctx context.Context, id string) (*Job, error) {
	updates := r.Subscribe()
	defer r.Unsubscribe(updates)

	// Subscribers can miss updates under load, so re-read on a slow tick too
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		job, err := r.Get(id)
		if err != nil {
			return nil, err
		}
		if job.Status.IsTerminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "waiting for job %s to stop", id)
		case <-updates:
		case <-ticker.C:
		}
	}
}

// Subscribe returns a channel that receives a copy of every job change.
// Unsubscribe when done; the channel is not closed.
func (r *Registry) Subscribe() chan *Job {
	ch := make(chan *Job, SubscriberChannelBufferSize)
	r.mu.Lock()
	r.subscribers = append(r.subscribers, ch)
	r.mu.Unlock()
	return ch
}

// Unsubscribe stops delivery to ch
func (r *Registry) Unsubscribe(ch chan *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, sub := range r.subscribers {
		if sub == ch {
			r.subscribers = append(r.subscribers[:i], r.subscribers[i+1:]...)
			return
		}
	}
}

// notifyLocked performs a non-blocking send to every subscriber
func (r *Registry) notifyLocked(job *Job) {
	for _, ch := range r.subscribers {
		select {
		case ch <- job.Clone():
		default:
		}
	}
}
