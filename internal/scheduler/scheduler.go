// Package scheduler owns the job set: it dispatches pending jobs to the
// pipeline under the global concurrency limit and reacts to completion,
// pause, resume, cancel, and retry signals.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"transcriptor-pro/internal/config"
	"transcriptor-pro/internal/keypool"
	"transcriptor-pro/internal/store"
	"transcriptor-pro/internal/transcribe"
	"transcriptor-pro/internal/types"
)

const (
	minConcurrency = 1
	maxConcurrency = 25
)

// Runner abstracts the transcription pipeline so tests can substitute it.
type Runner interface {
	Execute(ctx context.Context, run transcribe.Run) error
}

// Options wires the scheduler's collaborators.
type Options struct {
	Limit        int
	DefaultModel string
	Runner       Runner
	Pool         *keypool.Pool
	Jobs         store.JobStore
	Log          *logrus.Entry
}

// Scheduler is safe for concurrent use. One pipeline goroutine runs per
// active job; all job-record mutations go through the scheduler's lock and
// are mirrored to the job store.
type Scheduler struct {
	mu           sync.Mutex
	limit        int
	globalPaused bool
	order        []string
	jobs         map[string]*types.Job
	runs         map[string]*runState
	defaultModel string

	runner Runner
	pool   *keypool.Pool
	store  store.JobStore
	log    *logrus.Entry
}

func New(opts Options) *Scheduler {
	limit := clampLimit(opts.Limit)
	s := &Scheduler{
		limit:        limit,
		defaultModel: opts.DefaultModel,
		jobs:         make(map[string]*types.Job),
		runs:         make(map[string]*runState),
		runner:       opts.Runner,
		pool:         opts.Pool,
		store:        opts.Jobs,
		log:          opts.Log,
	}

	// Reload retained history. Jobs that were mid-flight when the process
	// died have no pipeline anymore; they surface as stuck-active and the
	// retry operation accepts them.
	for _, j := range opts.Jobs.List() {
		job := j
		s.jobs[job.ID] = &job
		s.order = append(s.order, job.ID)
	}
	return s
}

// SetRunner installs the pipeline after construction; the scheduler and the
// pipeline reference each other, so one side has to be wired late.
func (s *Scheduler) SetRunner(r Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runner = r
}

func clampLimit(n int) int {
	if n < minConcurrency {
		return minConcurrency
	}
	if n > maxConcurrency {
		return maxConcurrency
	}
	return n
}

// Submit creates one pending job per uploaded file and triggers dispatch.
func (s *Scheduler) Submit(agent config.Agent, fileName, sourcePath string, size int64, model string) types.Job {
	if model == "" {
		model = s.defaultModel
	}
	job := types.Job{
		ID:         uuid.New().String(),
		FileName:   fileName,
		FileSize:   size,
		SourcePath: sourcePath,
		Model:      model,
		Agent:      agent.Name,
		AgentID:    agent.ID,
		CreatedAt:  time.Now(),
		Status:     types.JobPending,
	}

	s.mu.Lock()
	s.jobs[job.ID] = &job
	s.order = append(s.order, job.ID)
	snapshot := job
	s.mu.Unlock()

	s.persist(snapshot)
	s.log.WithFields(logrus.Fields{"job_id": job.ID, "file": fileName, "agent": agent.Name}).Info("job submitted")
	s.Dispatch()
	return snapshot
}

// Jobs returns all jobs in submission order.
func (s *Scheduler) Jobs() []types.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Job, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.jobs[id])
	}
	return out
}

// Get returns one job snapshot.
func (s *Scheduler) Get(id string) (types.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return types.Job{}, false
	}
	return *j, true
}

// Limit returns the current concurrency limit.
func (s *Scheduler) Limit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limit
}

// SetLimit changes the concurrency limit (clamped to 1–25) and backfills
// newly freed capacity.
func (s *Scheduler) SetLimit(n int) int {
	s.mu.Lock()
	s.limit = clampLimit(n)
	limit := s.limit
	s.mu.Unlock()

	s.Dispatch()
	return limit
}

// Paused reports the global pause flag.
func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.globalPaused
}

// Dispatch starts pending jobs in submission order while slots are free.
// No-op while globally paused. A job whose scope has no usable credential is
// failed here, before any network call.
func (s *Scheduler) Dispatch() {
	var changed []types.Job

	s.mu.Lock()
	if s.globalPaused {
		s.mu.Unlock()
		return
	}

	active := 0
	for _, j := range s.jobs {
		if j.Status == types.JobActive {
			active++
		}
	}

	slots := s.limit - active
	for _, id := range s.order {
		if slots <= 0 {
			break
		}
		j := s.jobs[id]
		if j.Status != types.JobPending {
			continue
		}

		key, err := s.pool.SelectNext(scopeFor(j))
		if err != nil {
			s.log.WithError(err).WithField("job_id", id).Error("key selection failed")
			j.Status = types.JobError
			j.StatusText = "Sin llaves disponibles/activas"
			changed = append(changed, *j)
			continue
		}
		if key == nil {
			j.Status = types.JobError
			j.StatusText = "Sin llaves disponibles/activas"
			changed = append(changed, *j)
			continue
		}

		j.Status = types.JobActive
		j.Paused = false
		j.AssignedKey = key
		j.Progress = 5
		j.ProgressStep = "decoding"
		j.StatusText = "Iniciando..."

		rs := newRunState()
		s.runs[id] = rs
		changed = append(changed, *j)
		slots--

		go s.runJob(*j, rs, key)
		s.log.WithFields(logrus.Fields{
			"job_id":    id,
			"key_id":    key.VisualID,
			"key_owner": key.Owner,
		}).Info("job dispatched")
	}
	s.mu.Unlock()

	for _, j := range changed {
		s.persist(j)
	}
}

func scopeFor(j *types.Job) keypool.Scope {
	return keypool.Scope{
		Admin:   j.AgentID == config.AdminID,
		AgentID: j.AgentID,
	}
}

func (s *Scheduler) runJob(job types.Job, rs *runState, key *types.KeyAssignment) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("job_id", job.ID).Errorf("pipeline panic: %v", r)
			s.finish(job.ID, fmt.Errorf("internal error: %v", r))
		}
	}()

	err := s.runner.Execute(rs.ctx, transcribe.Run{
		Job:        job,
		Scope:      scopeFor(&job),
		Key:        key,
		Checkpoint: rs.checkpoint,
	})
	s.finish(job.ID, err)
}

// finish maps the pipeline outcome onto the job record, frees the slot, and
// backfills. One job's failure never touches the scheduler or other jobs.
func (s *Scheduler) finish(id string, err error) {
	s.mu.Lock()
	delete(s.runs, id)

	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}

	switch {
	case err == nil:
		if j.Status == types.JobActive {
			j.Status = types.JobDone
		}
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		j.Status = types.JobCancelled
	default:
		if j.Status == types.JobActive {
			j.Status = types.JobError
			j.StatusText = truncate(err.Error(), 100)
		}
		s.log.WithError(err).WithField("job_id", id).Warn("job failed")
	}
	j.Paused = false
	snapshot := *j
	s.mu.Unlock()

	s.persist(snapshot)
	s.Dispatch()
}

// Pause sets the global pause flag and marks every active job paused. Active
// pipelines suspend at their next checkpoint; dispatch stops entirely.
func (s *Scheduler) Pause() {
	var changed []types.Job

	s.mu.Lock()
	s.globalPaused = true
	for _, id := range s.order {
		j := s.jobs[id]
		if j.Status != types.JobActive {
			continue
		}
		j.Paused = true
		if rs, ok := s.runs[id]; ok {
			rs.setPaused(true)
		}
		changed = append(changed, *j)
	}
	s.mu.Unlock()

	for _, j := range changed {
		s.persist(j)
	}
	s.log.Info("processing paused")
}

// Resume clears the global pause flag, releases every blocked pipeline, and
// backfills free capacity.
func (s *Scheduler) Resume() {
	var changed []types.Job

	s.mu.Lock()
	s.globalPaused = false
	for _, id := range s.order {
		j := s.jobs[id]
		if j.Status != types.JobActive {
			continue
		}
		j.Paused = false
		if rs, ok := s.runs[id]; ok {
			rs.setPaused(false)
		}
		changed = append(changed, *j)
	}
	s.mu.Unlock()

	for _, j := range changed {
		s.persist(j)
	}
	s.log.Info("processing resumed")
	s.Dispatch()
}

// Cancel signals the job's cancellation handle, releases any pending
// resume-wait, and excludes the job from scheduling immediately.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown job: %s", id)
	}
	if j.Status != types.JobPending && j.Status != types.JobActive {
		s.mu.Unlock()
		return fmt.Errorf("job %s is %s, cannot cancel", id, j.Status)
	}

	if rs, ok := s.runs[id]; ok {
		rs.cancel()
		rs.releaseResume()
	}
	j.Status = types.JobCancelled
	j.Paused = false
	j.StatusText = "Cancelado"
	snapshot := *j
	s.mu.Unlock()

	s.persist(snapshot)
	s.log.WithField("job_id", id).Info("job cancelled")
	s.Dispatch()
	return nil
}

// Retry re-queues a failed (or stuck) job: back to pending with progress 0,
// no assigned key, no runtime controls.
func (s *Scheduler) Retry(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown job: %s", id)
	}

	_, running := s.runs[id]
	if j.Status != types.JobError && !(j.Status == types.JobActive && !running) {
		s.mu.Unlock()
		return fmt.Errorf("job %s is %s, cannot retry", id, j.Status)
	}

	delete(s.runs, id)
	j.Status = types.JobPending
	j.Paused = false
	j.Progress = 0
	j.ProgressStep = ""
	j.AssignedKey = nil
	j.StatusText = "Reintentando..."
	snapshot := *j
	s.mu.Unlock()

	s.persist(snapshot)
	s.log.WithField("job_id", id).Info("job requeued")
	s.Dispatch()
	return nil
}

// MarkDownloaded flags a finished job's artifact as fetched.
func (s *Scheduler) MarkDownloaded(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok || j.Status != types.JobDone {
		s.mu.Unlock()
		return fmt.Errorf("job %s has no finished document", id)
	}
	j.Downloaded = true
	snapshot := *j
	s.mu.Unlock()

	s.persist(snapshot)
	return nil
}

// UpdateJob implements transcribe.JobUpdater: pipelines publish progress and
// field changes through the scheduler's lock.
func (s *Scheduler) UpdateJob(id string, mutate func(*types.Job)) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	mutate(j)
	snapshot := *j
	s.mu.Unlock()

	s.persist(snapshot)
}

func (s *Scheduler) persist(j types.Job) {
	if err := s.store.Save(j); err != nil {
		s.log.WithError(err).WithField("job_id", j.ID).Error("job persist failed")
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
