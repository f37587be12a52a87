package extraction

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finsight-labs/extractd/constants"
	"github.com/finsight-labs/extractd/internal/entity"
	"github.com/finsight-labs/extractd/internal/metrics"
	"github.com/finsight-labs/extractd/internal/parseapi"
	"github.com/finsight-labs/extractd/internal/repository"
)

const (
	pollDelayInitial = time.Second
	pollDelayFactor  = 1.5
	pollDelayCap     = 8 * time.Second

	// DefaultPollCeiling bounds how many status checks one job gets before
	// it is written off as timed out.
	DefaultPollCeiling = 60
)

// AsyncPath submits a remote parse job and polls it to completion. Poll
// delays grow geometrically up to a cap; the ceiling on attempts turns a
// stuck job into a TIMEOUT-classified failure without touching the remote
// side again.
type AsyncPath struct {
	api     parseapi.API
	jobs    repository.JobStore
	ceiling int
	sleep   parseapi.SleepFunc
	log     *zap.Logger
}

type AsyncOption func(*AsyncPath)

// WithPollCeiling overrides the maximum number of status checks per job.
func WithPollCeiling(n int) AsyncOption {
	return func(p *AsyncPath) {
		if n > 0 {
			p.ceiling = n
		}
	}
}

// WithPollSleep replaces the delay between polls, for tests.
func WithPollSleep(fn parseapi.SleepFunc) AsyncOption {
	return func(p *AsyncPath) {
		if fn != nil {
			p.sleep = fn
		}
	}
}

func NewAsyncPath(api parseapi.API, jobs repository.JobStore, log *zap.Logger, opts ...AsyncOption) *AsyncPath {
	if log == nil {
		log = zap.NewNop()
	}
	p := &AsyncPath{
		api:     api,
		jobs:    jobs,
		ceiling: DefaultPollCeiling,
		sleep:   sleepCtx,
		log:     log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Extract submits the document payload as a remote job, records it, and
// polls until the job reaches a terminal state.
func (p *AsyncPath) Extract(ctx context.Context, doc *entity.Document, payload []byte) (*entity.ExtractionResult, error) {
	remoteID, err := p.api.SubmitJob(ctx, doc.Filename, payload)
	if err != nil {
		return nil, err
	}
	job := &entity.ExtractionJob{
		ID:          uuid.New(),
		DocumentID:  doc.ID,
		RemoteID:    remoteID,
		State:       constants.JobStateSubmitted,
		SubmittedAt: time.Now().UTC(),
	}
	if err := p.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("record job %s: %w", remoteID, err)
	}
	return p.poll(ctx, remoteID, doc.DocType, job)
}

// extractMember is the untracked variant used for archive members, which do
// not own a job record of their own.
func (p *AsyncPath) extractMember(ctx context.Context, filename string, payload []byte, docType constants.DocType) (*entity.ExtractionResult, error) {
	remoteID, err := p.api.SubmitJob(ctx, filename, payload)
	if err != nil {
		return nil, err
	}
	return p.poll(ctx, remoteID, docType, nil)
}

// poll drives one job to a terminal state. It never polls past the ceiling
// and stops at the next delay boundary on cancellation.
func (p *AsyncPath) poll(ctx context.Context, remoteID string, docType constants.DocType, job *entity.ExtractionJob) (*entity.ExtractionResult, error) {
	delay := pollDelayInitial
	for attempt := 1; attempt <= p.ceiling; attempt++ {
		if err := p.sleep(ctx, delay); err != nil {
			p.finishJob(ctx, job, constants.JobStateFailed, "canceled while waiting to poll")
			return nil, &parseapi.APIError{Op: "job_poll", Class: parseapi.ClassCanceled, Cause: err}
		}

		status, err := p.api.JobStatus(ctx, remoteID)
		if err != nil {
			p.finishJob(ctx, job, constants.JobStateFailed, err.Error())
			return nil, err
		}

		switch status {
		case parseapi.RemoteStatusCompleted:
			metrics.JobPolls.Observe(float64(attempt))
			parsed, err := p.api.JobResult(ctx, remoteID)
			if err != nil {
				p.finishJob(ctx, job, constants.JobStateFailed, err.Error())
				return nil, err
			}
			// The remote job itself succeeded; a schema-phase problem past
			// this point is the document's concern, not the job's.
			p.finishJob(ctx, job, constants.JobStateSucceeded, "")
			return schemaPhase(ctx, p.api, p.log, parsed, docType)
		case parseapi.RemoteStatusFailed:
			p.finishJob(ctx, job, constants.JobStateFailed, "remote job failed")
			return nil, &parseapi.APIError{
				Op:    "job_status",
				Class: parseapi.ClassFatalRequest,
				Body:  fmt.Sprintf("job %s failed remotely", remoteID),
			}
		case parseapi.RemoteStatusSubmitted, parseapi.RemoteStatusRunning:
			p.recordPoll(ctx, job, remoteToJobState(status), attempt)
		default:
			p.log.Warn("unknown job status, still polling",
				zap.String("remote_id", remoteID),
				zap.String("status", status))
			p.recordPoll(ctx, job, constants.JobStateRunning, attempt)
		}

		next := time.Duration(float64(delay) * pollDelayFactor)
		if next > pollDelayCap {
			next = pollDelayCap
		}
		delay = next
	}

	metrics.JobPolls.Observe(float64(p.ceiling))
	p.finishJob(ctx, job, constants.JobStateTimedOut, fmt.Sprintf("no result after %d polls", p.ceiling))
	return nil, &parseapi.APIError{
		Op:    "job_poll",
		Class: parseapi.ClassTimeout,
		Body:  fmt.Sprintf("job %s not finished after %d polls", remoteID, p.ceiling),
	}
}

func (p *AsyncPath) recordPoll(ctx context.Context, job *entity.ExtractionJob, state constants.JobState, attempts int) {
	if job == nil {
		return
	}
	if err := p.jobs.UpdateJobState(ctx, job.ID, state, attempts); err != nil {
		p.log.Warn("job state update failed", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
}

// finishJob records the terminal state. It uses a detached context so the
// job row is not stranded mid-flight when the caller has been canceled.
func (p *AsyncPath) finishJob(ctx context.Context, job *entity.ExtractionJob, state constants.JobState, lastErr string) {
	if job == nil {
		return
	}
	if err := p.jobs.FinishJob(context.WithoutCancel(ctx), job.ID, state, lastErr); err != nil {
		p.log.Warn("job finish failed", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
}

func remoteToJobState(status string) constants.JobState {
	if status == parseapi.RemoteStatusSubmitted {
		return constants.JobStateSubmitted
	}
	return constants.JobStateRunning
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
