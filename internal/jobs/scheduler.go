package jobs

import (
	"context"
	"log"
	"sync"
	"time"
)

// Job is a scheduled background task. Each job decides its own cadence via
// GetNextRunTime.
type Job interface {
	Run(ctx context.Context) error
	GetNextRunTime() time.Time
}

// JobStatus is the scheduler's view of one registered job.
type JobStatus struct {
	Name        string    `json:"name"`
	NextRunTime time.Time `json:"next_run_time"`
	LastRunTime time.Time `json:"last_run_time,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// JobScheduler runs registered jobs on their own schedules, one timer per
// job, rescheduling after each run.
type JobScheduler struct {
	jobs    map[string]Job
	timers  map[string]*time.Timer
	status  map[string]*JobStatus
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewJobScheduler creates an empty scheduler.
func NewJobScheduler() *JobScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &JobScheduler{
		jobs:   make(map[string]Job),
		timers: make(map[string]*time.Timer),
		status: make(map[string]*JobStatus),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds a job. Must be called before Start.
func (s *JobScheduler) Register(name string, job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[name] = job
	s.status[name] = &JobStatus{Name: name}
	log.Printf("✅ [SCHEDULER] Registered job: %s", name)
}

// Start schedules all registered jobs.
func (s *JobScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	log.Printf("🚀 [SCHEDULER] Starting job scheduler with %d jobs", len(s.jobs))

	for name, job := range s.jobs {
		s.scheduleJob(name, job)
	}
}

// scheduleJob arms the timer for one job. Caller holds the lock.
func (s *JobScheduler) scheduleJob(name string, job Job) {
	nextRun := job.GetNextRunTime()
	s.status[name].NextRunTime = nextRun

	log.Printf("⏰ [SCHEDULER] Job '%s' next run at %s", name, nextRun.Format(time.RFC3339))
	s.timers[name] = time.AfterFunc(time.Until(nextRun), func() {
		s.runJob(name, job)
	})
}

// runJob executes a job, records its outcome and reschedules it.
func (s *JobScheduler) runJob(name string, job Job) {
	s.wg.Add(1)
	defer s.wg.Done()

	startTime := time.Now()
	err := job.Run(s.ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.status[name]
	status.LastRunTime = startTime
	if err != nil {
		status.LastError = err.Error()
		log.Printf("❌ [SCHEDULER] Job '%s' failed after %v: %v", name, time.Since(startTime), err)
	} else {
		status.LastError = ""
		log.Printf("✅ [SCHEDULER] Job '%s' completed in %v", name, time.Since(startTime))
	}

	if s.running {
		s.scheduleJob(name, job)
	}
}

// RunNow runs a job immediately, outside its schedule.
func (s *JobScheduler) RunNow(name string) error {
	s.mu.Lock()
	job, exists := s.jobs[name]
	s.mu.Unlock()

	if !exists {
		log.Printf("⚠️ [SCHEDULER] Job '%s' not found", name)
		return nil
	}
	return job.Run(s.ctx)
}

// GetStatus returns a copy of every job's status.
func (s *JobScheduler) GetStatus() map[string]JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]JobStatus, len(s.status))
	for name, status := range s.status {
		out[name] = *status
	}
	return out
}

// Stop cancels all timers, then waits for in-flight jobs.
func (s *JobScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	for name, timer := range s.timers {
		timer.Stop()
		log.Printf("⏹️ [SCHEDULER] Stopped job: %s", name)
	}
	s.timers = make(map[string]*time.Timer)
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	log.Println("✅ [SCHEDULER] Job scheduler stopped")
}
