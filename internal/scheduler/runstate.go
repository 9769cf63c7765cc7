package scheduler

import (
	"context"
	"errors"
	"sync"
)

// ErrCancelled unwinds a pipeline silently; it is never recorded as a job
// error.
var ErrCancelled = errors.New("job cancelled")

// runState holds the runtime-only controls of one active job: the
// cancellation handle and the resume notifier. It is correlated to the
// persisted record by job id and never serialized.
type runState struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

func newRunState() *runState {
	ctx, cancel := context.WithCancel(context.Background())
	return &runState{ctx: ctx, cancel: cancel}
}

// setPaused flips the pause flag. Resuming closes the current resume channel,
// releasing every checkpoint blocked on it.
func (r *runState) setPaused(paused bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if paused && !r.paused {
		r.paused = true
		r.resume = make(chan struct{})
		return
	}
	if !paused && r.paused {
		r.paused = false
		close(r.resume)
	}
}

// releaseResume unblocks a pending pause wait without resuming; used by
// cancel so the checkpoint wakes up and observes the dead context.
func (r *runState) releaseResume() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.paused {
		r.paused = false
		close(r.resume)
	}
}

// checkpoint is called by the pipeline at every stage boundary. It reports
// cancellation, blocks while the job is paused, and re-checks cancellation
// after any resume.
func (r *runState) checkpoint(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ErrCancelled
		}

		r.mu.Lock()
		if !r.paused {
			r.mu.Unlock()
			return nil
		}
		resume := r.resume
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ErrCancelled
		case <-resume:
		}
	}
}
