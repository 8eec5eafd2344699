package reprocess

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/customeros/dmarcwatch/config"
	"github.com/customeros/dmarcwatch/interfaces"
	"github.com/customeros/dmarcwatch/internal/enum"
	"github.com/customeros/dmarcwatch/internal/logger"
	"github.com/customeros/dmarcwatch/internal/models"
	"github.com/customeros/dmarcwatch/internal/repository"
	"github.com/customeros/dmarcwatch/internal/utils"
	"github.com/customeros/dmarcwatch/services/classifier"
)

// reprocessService re-runs the forwarding classification over every
// record. At most one job runs at a time; progress is persisted so an
// interrupted job resumes where it stopped.
type reprocessService struct {
	cfg        *config.ReprocessConfig
	log        logger.Logger
	jobs       repository.ReprocessJobRepository
	records    repository.RecordRepository
	classifier *classifier.Service

	startMu sync.Mutex
}

func NewReprocessService(
	cfg *config.ReprocessConfig,
	log logger.Logger,
	jobs repository.ReprocessJobRepository,
	records repository.RecordRepository,
	classifierService *classifier.Service,
) interfaces.ReprocessService {
	return &reprocessService{
		cfg:        cfg,
		log:        log,
		jobs:       jobs,
		records:    records,
		classifier: classifierService,
	}
}

// StartJob creates and launches a job, or returns the already-running one
// untouched.
func (s *reprocessService) StartJob(ctx context.Context) (*models.ReprocessJob, error) {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if existing, err := s.jobs.GetRunning(ctx); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	if err := s.records.ResetReprocessedFlags(ctx); err != nil {
		return nil, err
	}

	total, err := s.records.CountAll(ctx)
	if err != nil {
		return nil, err
	}

	job := &models.ReprocessJob{
		Status:       enum.JobStatusRunning,
		TotalRecords: total,
		StartedAt:    utils.Ptr(time.Now()),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	s.log.Infof("reprocess job %s started (%d records)", job.ID, total)
	go s.run(job.ID)

	return job, nil
}

func (s *reprocessService) GetJob(ctx context.Context, id string) (*models.ReprocessJob, error) {
	return s.jobs.GetByID(ctx, id)
}

// CurrentJob returns the running job, or nil when none is running.
func (s *reprocessService) CurrentJob(ctx context.Context) (*models.ReprocessJob, error) {
	return s.jobs.GetRunning(ctx)
}

// RequestCancel flips a running job to cancelled. Workers notice at the
// next progress flush and stop; counters written so far are kept.
func (s *reprocessService) RequestCancel(ctx context.Context, id string) (*models.ReprocessJob, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != enum.JobStatusRunning {
		return job, nil
	}

	if err := s.jobs.SetStatus(ctx, id, enum.JobStatusCancelled, ""); err != nil {
		return nil, err
	}
	s.log.Infof("reprocess job %s cancellation requested", id)

	return s.jobs.GetByID(ctx, id)
}

// ResumeOnStartup picks up a job left in running state by a restart.
// Counters come from the job row; records already flagged reprocessed are
// not visited again.
func (s *reprocessService) ResumeOnStartup(ctx context.Context) error {
	job, err := s.jobs.GetRunning(ctx)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}

	remaining, err := s.records.CountPendingReprocess(ctx)
	if err != nil {
		return err
	}
	if remaining == 0 {
		s.log.Infof("reprocess job %s had no remaining records, completing", job.ID)
		return s.jobs.SetStatus(ctx, job.ID, enum.JobStatusCompleted, "")
	}

	s.log.Infof("resuming reprocess job %s (%d records remaining)", job.ID, remaining)
	go s.run(job.ID)

	return nil
}

// run executes the job across a fixed pool of workers, each owning a
// contiguous chunk of the pending record ids.
func (s *reprocessService) run(jobID string) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("reprocess job %s panicked: %v", jobID, r)
			if err := s.jobs.SetStatus(ctx, jobID, enum.JobStatusFailed, fmt.Sprintf("panic: %v", r)); err != nil {
				s.log.Errorf("marking reprocess job %s failed: %v", jobID, err)
			}
		}
	}()

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		s.log.Errorf("loading reprocess job %s: %v", jobID, err)
		return
	}

	ids, err := s.records.ListIDsForReprocess(ctx)
	if err != nil {
		s.log.Errorf("listing records for reprocess job %s: %v", jobID, err)
		if serr := s.jobs.SetStatus(ctx, jobID, enum.JobStatusFailed, err.Error()); serr != nil {
			s.log.Errorf("marking reprocess job %s failed: %v", jobID, serr)
		}
		return
	}

	tracker := &progressTracker{
		jobs:          s.jobs,
		log:           s.log,
		jobID:         jobID,
		processed:     job.ProcessedRecords,
		forwarded:     job.ForwardedCount,
		notForwarded:  job.NotForwardedCount,
		unknown:       job.UnknownCount,
		flushInterval: time.Duration(s.cfg.ProgressSeconds) * time.Second,
		lastFlush:     time.Now(),
	}

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU() / 2
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(ids) && len(ids) > 0 {
		workers = len(ids)
	}

	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	var wg sync.WaitGroup
	if len(ids) > 0 {
		chunkSize := (len(ids) + workers - 1) / workers
		for w := 0; w < workers; w++ {
			start := w * chunkSize
			if start >= len(ids) {
				break
			}
			end := start + chunkSize
			if end > len(ids) {
				end = len(ids)
			}

			wg.Add(1)
			go func(chunk []string) {
				defer wg.Done()
				s.processChunk(ctx, chunk, batchSize, tracker)
			}(ids[start:end])
		}
	}
	wg.Wait()

	tracker.flush(ctx)

	current, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		s.log.Errorf("reloading reprocess job %s: %v", jobID, err)
		return
	}
	if current.Status == enum.JobStatusRunning {
		if err := s.jobs.SetStatus(ctx, jobID, enum.JobStatusCompleted, ""); err != nil {
			s.log.Errorf("completing reprocess job %s: %v", jobID, err)
			return
		}
		s.log.Infof("reprocess job %s completed (%d records)", jobID, tracker.processedCount())
		return
	}
	s.log.Infof("reprocess job %s stopped with status %s", jobID, current.Status)
}

func (s *reprocessService) processChunk(ctx context.Context, chunk []string, batchSize int, tracker *progressTracker) {
	for start := 0; start < len(chunk); start += batchSize {
		if tracker.stopRequested() {
			return
		}

		end := start + batchSize
		if end > len(chunk) {
			end = len(chunk)
		}

		records, err := s.records.LoadBatchWithChildren(ctx, chunk[start:end])
		if err != nil {
			s.log.Errorf("loading reprocess batch: %v", err)
			continue
		}

		for i := range records {
			rec := &records[i]
			verdict := s.classifier.Classify(ctx, classifier.InputFromRecord(rec))
			if err := s.records.UpdateForwarding(ctx, rec.ID, verdict.Forwarded, verdict.Reason, true); err != nil {
				s.log.Errorf("updating record %s during reprocess: %v", rec.ID, err)
			}
			tracker.record(verdict.Forwarded)
		}

		tracker.maybeFlush(ctx)
	}
}

// progressTracker accumulates counters across workers and persists them
// at most once per flush interval. The flush also reads the job status so
// a cancellation is noticed without a per-batch query.
type progressTracker struct {
	jobs  repository.ReprocessJobRepository
	log   logger.Logger
	jobID string

	mu            sync.Mutex
	processed     int64
	forwarded     int64
	notForwarded  int64
	unknown       int64
	lastFlush     time.Time
	flushInterval time.Duration

	stopped atomic.Bool
}

func (t *progressTracker) record(forwarded *bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.processed++
	switch {
	case forwarded == nil:
		t.unknown++
	case *forwarded:
		t.forwarded++
	default:
		t.notForwarded++
	}
}

func (t *progressTracker) stopRequested() bool {
	return t.stopped.Load()
}

func (t *progressTracker) processedCount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.processed
}

func (t *progressTracker) maybeFlush(ctx context.Context) {
	t.mu.Lock()
	if time.Since(t.lastFlush) < t.flushInterval {
		t.mu.Unlock()
		return
	}
	t.lastFlush = time.Now()
	t.mu.Unlock()

	t.flush(ctx)
}

func (t *progressTracker) flush(ctx context.Context) {
	t.mu.Lock()
	processed, forwarded, notForwarded, unknown := t.processed, t.forwarded, t.notForwarded, t.unknown
	t.mu.Unlock()

	if err := t.jobs.UpdateProgress(ctx, t.jobID, processed, forwarded, notForwarded, unknown); err != nil {
		t.log.Errorf("persisting reprocess progress for %s: %v", t.jobID, err)
	}

	job, err := t.jobs.GetByID(ctx, t.jobID)
	if err != nil {
		t.log.Errorf("checking reprocess job %s status: %v", t.jobID, err)
		return
	}
	if job.Status != enum.JobStatusRunning {
		t.stopped.Store(true)
	}
}
