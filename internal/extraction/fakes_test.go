package extraction

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finsight-labs/extractd/constants"
	"github.com/finsight-labs/extractd/internal/entity"
	"github.com/finsight-labs/extractd/internal/parseapi"
)

// fakeAPI implements parseapi.API with per-method overrides and call
// counters. Defaults answer successfully.
type fakeAPI struct {
	mu           sync.Mutex
	parseCalls   int
	extractCalls int
	submitCalls  int
	statusCalls  int
	resultCalls  int

	parseFn   func(ctx context.Context, filename string, data []byte) (*parseapi.ParseResult, error)
	extractFn func(ctx context.Context, text string, schema any) (*parseapi.ExtractResult, error)
	submitFn  func(ctx context.Context, filename string, data []byte) (string, error)
	statusFn  func(ctx context.Context, jobID string, call int) (string, error)
	resultFn  func(ctx context.Context, jobID string) (*parseapi.ParseResult, error)
}

func defaultParseResult() *parseapi.ParseResult {
	return &parseapi.ParseResult{
		Text:     "ACME Corp\nInvoice 42\nTotal: 99.00",
		Tables:   []parseapi.Table{{Rows: [][]string{{"item", "price"}, {"widget", "99.00"}}, Page: 1}},
		Metadata: parseapi.Metadata{PageCount: 2},
	}
}

func defaultExtractResult() *parseapi.ExtractResult {
	return &parseapi.ExtractResult{
		Entities:   []parseapi.Entity{{Type: "org", Value: "ACME Corp", Confidence: 0.97}},
		KeyValues:  []parseapi.KeyValue{{Key: "total", Value: "99.00", Confidence: 0.93}},
		Confidence: 0.9,
	}
}

func (f *fakeAPI) Parse(ctx context.Context, filename string, data []byte) (*parseapi.ParseResult, error) {
	f.mu.Lock()
	f.parseCalls++
	fn := f.parseFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, filename, data)
	}
	return defaultParseResult(), nil
}

func (f *fakeAPI) Extract(ctx context.Context, text string, schema any) (*parseapi.ExtractResult, error) {
	f.mu.Lock()
	f.extractCalls++
	fn := f.extractFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, text, schema)
	}
	return defaultExtractResult(), nil
}

func (f *fakeAPI) SubmitJob(ctx context.Context, filename string, data []byte) (string, error) {
	f.mu.Lock()
	f.submitCalls++
	fn := f.submitFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, filename, data)
	}
	return "job-" + filename, nil
}

func (f *fakeAPI) JobStatus(ctx context.Context, jobID string) (string, error) {
	f.mu.Lock()
	f.statusCalls++
	call := f.statusCalls
	fn := f.statusFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, jobID, call)
	}
	return parseapi.RemoteStatusCompleted, nil
}

func (f *fakeAPI) JobResult(ctx context.Context, jobID string) (*parseapi.ParseResult, error) {
	f.mu.Lock()
	f.resultCalls++
	fn := f.resultFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, jobID)
	}
	return defaultParseResult(), nil
}

func (f *fakeAPI) counts() (parse, extract, submit, status, result int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.parseCalls, f.extractCalls, f.submitCalls, f.statusCalls, f.resultCalls
}

// fakeSleeper records requested delays instead of sleeping. errAt makes the
// n-th sleep fail, simulating cancellation at a delay boundary.
type fakeSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
	errAt  int
	err    error
}

func (s *fakeSleeper) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	if s.errAt > 0 && len(s.delays) == s.errAt {
		return s.err
	}
	return nil
}

func (s *fakeSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

// recordingJobs captures job lifecycle calls without a database.
type recordingJobs struct {
	mu       sync.Mutex
	created  []*entity.ExtractionJob
	states   []constants.JobState
	attempts []int
	finished []constants.JobState
	lastErrs []string
}

func (r *recordingJobs) CreateJob(_ context.Context, job *entity.ExtractionJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	r.created = append(r.created, &cp)
	return nil
}

func (r *recordingJobs) GetJob(_ context.Context, id uuid.UUID) (*entity.ExtractionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.created {
		if job.ID == id {
			cp := *job
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *recordingJobs) UpdateJobState(_ context.Context, _ uuid.UUID, state constants.JobState, attempts int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	r.attempts = append(r.attempts, attempts)
	return nil
}

func (r *recordingJobs) FinishJob(_ context.Context, _ uuid.UUID, state constants.JobState, lastErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, state)
	r.lastErrs = append(r.lastErrs, lastErr)
	return nil
}

func (r *recordingJobs) snapshot() (created int, finished []constants.JobState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.created), append([]constants.JobState(nil), r.finished...)
}
