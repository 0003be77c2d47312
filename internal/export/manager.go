package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-editor/internal/logging"
	"github.com/heimdex/heimdex-editor/internal/store"
	"github.com/heimdex/heimdex-editor/internal/timeline"
)

var (
	ErrJobNotFound = errors.New("export job not found")
	ErrJobFinished = errors.New("export job already finished")
)

// Publisher uploads a finished export and returns where it can be fetched.
type Publisher interface {
	Publish(ctx context.Context, path string) (string, error)
}

const (
	subscriberBuffer = 64

	// terminalSendTimeout bounds how long a full subscriber may hold up
	// delivery of the terminal event.
	terminalSendTimeout = 2 * time.Second
)

// Manager runs exports in the background, one goroutine per job, and keeps
// each job's row and event history current.
type Manager struct {
	exporter  *Exporter
	jobs      store.JobRepository
	publisher Publisher
	logger    *slog.Logger

	mu     sync.Mutex
	active map[string]*jobRun
	wg     sync.WaitGroup
}

type jobRun struct {
	job    store.ExportJob
	cancel context.CancelFunc
	events []Event
	subs   map[int]chan Event
	nextID int
	done   chan struct{}
}

// NewManager creates a manager. publisher may be nil.
func NewManager(exporter *Exporter, jobs store.JobRepository, publisher Publisher, logger *slog.Logger) *Manager {
	return &Manager{
		exporter:  exporter,
		jobs:      jobs,
		publisher: publisher,
		logger:    logging.WithComponent(logging.OrDiscard(logger), "export_manager"),
		active:    make(map[string]*jobRun),
	}
}

// Start records a new job and exports snap to outputPath in the background.
// The caller passes a snapshot; later edits to the live timeline never reach it.
func (m *Manager) Start(ctx context.Context, snap *timeline.Timeline, projectID, outputPath string) (*store.ExportJob, error) {
	now := time.Now().UTC()
	job := store.ExportJob{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		Status:     store.JobStatusPending,
		OutputPath: outputPath,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.jobs.CreateExportJob(ctx, &job); err != nil {
		return nil, fmt.Errorf("create export job: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run := &jobRun{job: job, cancel: cancel, subs: make(map[int]chan Event), done: make(chan struct{})}

	m.mu.Lock()
	m.active[job.ID] = run
	m.mu.Unlock()

	m.wg.Add(1)
	go m.execute(runCtx, run, snap, outputPath)

	m.logger.Info("export job started", "job_id", job.ID, "output", logging.SanitizePath(outputPath))
	return &job, nil
}

func (m *Manager) execute(ctx context.Context, run *jobRun, snap *timeline.Timeline, outputPath string) {
	defer m.wg.Done()
	defer run.cancel()
	logger := logging.WithJobID(m.logger, run.job.ID)

	m.update(run, func(j *store.ExportJob) { j.Status = store.JobStatusRunning })

	var final *Event
	out, err := m.exporter.Run(ctx, snap, outputPath, func(e Event) {
		if e.Phase == PhaseDone {
			// Held back until publishing finishes so it stays the last event.
			final = &e
			return
		}
		m.record(run, e)
	})
	if err != nil {
		logger.Warn("export job ended without output", "error", err)
		m.finish(run, nil)
		return
	}

	if final == nil {
		final = &Event{Phase: PhaseDone, OutputPath: out.Path, FileSizeBytes: out.FileSizeBytes}
	}
	if m.publisher != nil {
		m.update(run, func(j *store.ExportJob) { j.Phase = "publishing" })
		url, perr := m.publisher.Publish(ctx, out.Path)
		if perr != nil {
			logger.Warn("publish failed", "error", perr)
			m.update(run, func(j *store.ExportJob) { j.Error = "publish failed: " + perr.Error() })
		} else {
			final.Detail = "published to " + url
			m.update(run, func(j *store.ExportJob) { j.PublishedURL = url })
		}
	}
	m.update(run, func(j *store.ExportJob) { j.Segments = out.Segments })
	m.finish(run, final)
	logger.Info("export job completed", "size_bytes", out.FileSizeBytes, "segments", out.Segments)
}

// record applies an event to the job row, appends it to the history and fans
// it out to subscribers. Terminal events close every subscription.
func (m *Manager) record(run *jobRun, e Event) {
	m.update(run, func(j *store.ExportJob) {
		j.Phase = string(e.Phase)
		j.Progress = progressFor(e, j.Progress)
		switch e.Phase {
		case PhaseDone:
			j.Status = store.JobStatusCompleted
			j.FileSizeBytes = e.FileSizeBytes
		case PhaseFailed:
			j.Status = store.JobStatusFailed
			j.Error = e.Error
		case PhaseCancelled:
			j.Status = store.JobStatusCancelled
			j.Error = e.Error
		}
	})

	m.mu.Lock()
	run.events = append(run.events, e)
	var closing []chan Event
	for id, ch := range run.subs {
		if e.Phase.Terminal() {
			closing = append(closing, ch)
			delete(run.subs, id)
			continue
		}
		select {
		case ch <- e:
		default:
			m.logger.Debug("dropping export event for slow subscriber", "job_id", run.job.ID, "subscriber", id)
		}
	}
	m.mu.Unlock()

	// Out of run.subs now, so unsubscribe can no longer close them.
	for _, ch := range closing {
		timer := time.NewTimer(terminalSendTimeout)
		select {
		case ch <- e:
		case <-timer.C:
			m.logger.Warn("subscriber missed terminal export event", "job_id", run.job.ID, "phase", string(e.Phase))
		}
		timer.Stop()
		close(ch)
	}
}

func (m *Manager) finish(run *jobRun, final *Event) {
	if final != nil {
		m.record(run, *final)
	}
	m.mu.Lock()
	delete(m.active, run.job.ID)
	m.mu.Unlock()
	close(run.done)
}

// update mutates the in-memory job and persists it. Store errors are logged;
// the export itself carries on.
func (m *Manager) update(run *jobRun, fn func(*store.ExportJob)) {
	m.mu.Lock()
	fn(&run.job)
	run.job.UpdatedAt = time.Now().UTC()
	snapshot := run.job
	m.mu.Unlock()

	if err := m.jobs.UpdateExportJob(context.Background(), &snapshot); err != nil {
		m.logger.Error("failed to persist export job", "job_id", snapshot.ID, "error", err)
	}
}

// progressFor maps an event onto a 0-100 progress value that never decreases.
func progressFor(e Event, prev int) int {
	next := prev
	switch e.Phase {
	case PhaseSegmenting:
		if e.Total > 0 {
			next = e.Segment * 80 / e.Total
		}
	case PhaseConcatenating:
		next = 85
	case PhaseMixing:
		next = 90
	case PhaseFinalizing:
		next = 95
	case PhaseDone:
		next = 100
	}
	return max(next, prev)
}

// Get returns the live state of a running job, or its stored row.
func (m *Manager) Get(ctx context.Context, id string) (*store.ExportJob, error) {
	m.mu.Lock()
	if run, ok := m.active[id]; ok {
		job := run.job
		m.mu.Unlock()
		return &job, nil
	}
	m.mu.Unlock()

	job, err := m.jobs.GetExportJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (m *Manager) List(ctx context.Context, limit int) ([]*store.ExportJob, error) {
	return m.jobs.ListExportJobs(ctx, limit)
}

// Cancel stops a running job. The exporter removes its segment files and
// partial output before the terminal cancelled event is emitted.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	run, ok := m.active[id]
	m.mu.Unlock()
	if ok {
		run.cancel()
		m.logger.Info("export job cancel requested", "job_id", id)
		return nil
	}

	job, err := m.jobs.GetExportJob(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrJobNotFound
	}
	return ErrJobFinished
}

// Subscribe returns the events emitted so far and a channel carrying the rest.
// The channel is closed after the terminal event. Jobs that are no longer
// running report ErrJobNotFound; their final state is in the store.
func (m *Manager) Subscribe(id string) (history []Event, events <-chan Event, unsubscribe func(), err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.active[id]
	if !ok {
		return nil, nil, func() {}, ErrJobNotFound
	}
	history = append([]Event(nil), run.events...)
	ch := make(chan Event, subscriberBuffer)
	if n := len(history); n > 0 && history[n-1].Phase.Terminal() {
		close(ch)
		return history, ch, func() {}, nil
	}
	subID := run.nextID
	run.nextID++
	run.subs[subID] = ch

	unsubscribe = func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := run.subs[subID]; ok {
			close(c)
			delete(run.subs, subID)
		}
	}
	return history, ch, unsubscribe, nil
}

// Wait blocks until the job finishes or ctx ends, then returns its state.
func (m *Manager) Wait(ctx context.Context, id string) (*store.ExportJob, error) {
	m.mu.Lock()
	run, ok := m.active[id]
	m.mu.Unlock()
	if ok {
		select {
		case <-run.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.Get(ctx, id)
}

// ActiveCount reports how many jobs are still running.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Close cancels every running job and waits for them to clean up.
func (m *Manager) Close() {
	m.mu.Lock()
	for _, run := range m.active {
		run.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
