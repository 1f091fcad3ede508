// Package inflight tracks the stage task currently running for each
// pipeline. At most one task may be claimed per pipeline id; claiming is the
// only way to start a stage, so overlapping writes to one pipeline are
// refused instead of assumed away.
package inflight

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/mimic/internal/domain/model"
)

// Task is the handle for one in-flight stage.
type Task struct {
	PipelineID string
	Stage      model.Stage
	StartedAt  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error

	// settling is guarded by the registry mutex.
	settling bool
}

// Context is cancelled when the task is cancelled or released.
func (t *Task) Context() context.Context { return t.ctx }

// Done is closed once the task is released.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the stage result. Only meaningful after Done is closed.
func (t *Task) Err() error {
	<-t.done
	return t.err
}

// Cancel asks the running stage to stop.
func (t *Task) Cancel() { t.cancel() }

func (t *Task) finish(err error) {
	t.once.Do(func() {
		t.err = err
		t.cancel()
		close(t.done)
	})
}

// Info is a read-only view of a task, used for leak detection and stats.
type Info struct {
	PipelineID string        `json:"pipelineId"`
	Stage      model.Stage   `json:"stage"`
	StartedAt  time.Time     `json:"startedAt"`
	Running    time.Duration `json:"running"`
}

// Registry maps pipeline ids to their in-flight task.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*Task
	now   func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tasks: make(map[string]*Task),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Claim registers a task for id. It returns false, and the task already
// holding the id, when one exists. A task that is settling still holds the
// id; Claim waits for it to finish, or for parent to end, and tries again.
// The task context derives from parent.
func (r *Registry) Claim(parent context.Context, id string, stage model.Stage) (*Task, bool) {
	for {
		r.mu.Lock()
		existing, ok := r.tasks[id]
		if !ok {
			t := r.newTask(parent, id, stage)
			r.tasks[id] = t
			r.mu.Unlock()
			return t, true
		}
		settling := existing.settling
		r.mu.Unlock()

		if !settling {
			return existing, false
		}
		select {
		case <-existing.done:
		case <-parent.Done():
			return existing, false
		}
	}
}

func (r *Registry) newTask(parent context.Context, id string, stage model.Stage) *Task {
	ctx, cancel := context.WithCancel(parent)
	return &Task{
		PipelineID: id,
		Stage:      stage,
		StartedAt:  r.now(),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Release records the task result, closes Done and frees the id. Releasing a
// task that no longer owns its id only finishes the task.
func (r *Registry) Release(t *Task, err error) {
	r.mu.Lock()
	if cur, ok := r.tasks[t.PipelineID]; ok && cur == t {
		delete(r.tasks, t.PipelineID)
	}
	r.mu.Unlock()
	t.finish(err)
}

// Settle runs fn while t still holds its id, then releases t with fn's
// result. Only claims for t's id wait on fn; the rest of the registry stays
// available.
func (r *Registry) Settle(t *Task, fn func() error) (err error) {
	r.mu.Lock()
	t.settling = true
	r.mu.Unlock()

	defer func() { r.Release(t, err) }()
	return fn()
}

// Get returns the task holding id.
func (r *Registry) Get(id string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	return t, ok
}

// Cancel cancels the task holding id. It reports whether one existed.
func (r *Registry) Cancel(id string) bool {
	t, ok := r.Get(id)
	if ok {
		t.Cancel()
	}
	return ok
}

// CancelAll cancels every in-flight task.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		t.Cancel()
	}
}

// Size returns the number of in-flight tasks.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Snapshot lists in-flight tasks, oldest first.
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	now := r.now()
	out := make([]Info, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, Info{
			PipelineID: t.PipelineID,
			Stage:      t.Stage,
			StartedAt:  t.StartedAt,
			Running:    now.Sub(t.StartedAt),
		})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].PipelineID < out[j].PipelineID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Wait blocks until no tasks are in flight or ctx ends.
func (r *Registry) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		var pending *Task
		for _, t := range r.tasks {
			pending = t
			break
		}
		r.mu.Unlock()
		if pending == nil {
			return nil
		}
		select {
		case <-pending.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
