package extraction

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-labs/extractd/constants"
	"github.com/finsight-labs/extractd/internal/entity"
	"github.com/finsight-labs/extractd/internal/parseapi"
)

func asyncTestDoc() *entity.Document {
	return &entity.Document{
		ID:        uuid.New(),
		Filename:  "big.pdf",
		DocType:   constants.DocTypeInvoice,
		SizeBytes: 64 << 20,
		Status:    constants.DocStatusExtracting,
	}
}

func TestAsyncPathCompletes(t *testing.T) {
	api := &fakeAPI{
		statusFn: func(_ context.Context, _ string, call int) (string, error) {
			if call < 3 {
				return parseapi.RemoteStatusRunning, nil
			}
			return parseapi.RemoteStatusCompleted, nil
		},
	}
	jobs := &recordingJobs{}
	sleeper := &fakeSleeper{}
	p := NewAsyncPath(api, jobs, nil, WithPollSleep(sleeper.sleep))
	doc := asyncTestDoc()

	res, err := p.Extract(context.Background(), doc, []byte("payload"))
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Equal(t, 2, res.PageCount)

	_, _, submits, statuses, results := api.counts()
	assert.Equal(t, 1, submits)
	assert.Equal(t, 3, statuses)
	assert.Equal(t, 1, results)

	assert.Equal(t, []time.Duration{time.Second, 1500 * time.Millisecond, 2250 * time.Millisecond}, sleeper.recorded(),
		"one growing delay before each poll")

	require.Len(t, jobs.created, 1)
	assert.Equal(t, doc.ID, jobs.created[0].DocumentID)
	assert.Equal(t, "job-big.pdf", jobs.created[0].RemoteID)
	assert.Equal(t, constants.JobStateSubmitted, jobs.created[0].State)
	assert.Equal(t, []constants.JobState{constants.JobStateRunning, constants.JobStateRunning}, jobs.states)
	assert.Equal(t, []int{1, 2}, jobs.attempts)
	assert.Equal(t, []constants.JobState{constants.JobStateSucceeded}, jobs.finished)
}

func TestAsyncPathPollDelayScheduleAndCeiling(t *testing.T) {
	api := &fakeAPI{
		statusFn: func(_ context.Context, _ string, _ int) (string, error) {
			return parseapi.RemoteStatusRunning, nil
		},
	}
	jobs := &recordingJobs{}
	sleeper := &fakeSleeper{}
	p := NewAsyncPath(api, jobs, nil, WithPollSleep(sleeper.sleep))

	res, err := p.Extract(context.Background(), asyncTestDoc(), []byte("payload"))
	assert.Nil(t, res)
	require.Error(t, err)

	var apiErr *parseapi.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, parseapi.ClassTimeout, apiErr.Class)

	_, _, _, statuses, results := api.counts()
	assert.Equal(t, DefaultPollCeiling, statuses, "the ceiling poll is the last one")
	assert.Zero(t, results)

	delays := sleeper.recorded()
	require.Len(t, delays, DefaultPollCeiling)
	wantHead := []time.Duration{
		time.Second,
		1500 * time.Millisecond,
		2250 * time.Millisecond,
		3375 * time.Millisecond,
		5062500 * time.Microsecond,
		7593750 * time.Microsecond,
	}
	assert.Equal(t, wantHead, delays[:len(wantHead)])
	for _, d := range delays[len(wantHead):] {
		assert.Equal(t, 8*time.Second, d, "delay stays capped")
	}

	assert.Equal(t, []constants.JobState{constants.JobStateTimedOut}, jobs.finished)
}

func TestAsyncPathRemoteFailureIsFatal(t *testing.T) {
	api := &fakeAPI{
		statusFn: func(_ context.Context, _ string, _ int) (string, error) {
			return parseapi.RemoteStatusFailed, nil
		},
	}
	jobs := &recordingJobs{}
	sleeper := &fakeSleeper{}
	p := NewAsyncPath(api, jobs, nil, WithPollSleep(sleeper.sleep))

	res, err := p.Extract(context.Background(), asyncTestDoc(), []byte("payload"))
	assert.Nil(t, res)

	var apiErr *parseapi.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, parseapi.ClassFatalRequest, apiErr.Class)

	assert.Equal(t, []constants.JobState{constants.JobStateFailed}, jobs.finished)
	assert.Equal(t, []string{"remote job failed"}, jobs.lastErrs)
}

func TestAsyncPathSubmitFailureSkipsPolling(t *testing.T) {
	wantErr := &parseapi.APIError{Op: "submit_job", Status: 401, Class: parseapi.ClassFatalRequest}
	api := &fakeAPI{
		submitFn: func(context.Context, string, []byte) (string, error) {
			return "", wantErr
		},
	}
	jobs := &recordingJobs{}
	p := NewAsyncPath(api, jobs, nil)

	res, err := p.Extract(context.Background(), asyncTestDoc(), []byte("payload"))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, wantErr)

	_, _, _, statuses, _ := api.counts()
	assert.Zero(t, statuses)
	created, _ := jobs.snapshot()
	assert.Zero(t, created, "no job record without a remote handle")
}

func TestAsyncPathCancellationStopsAtDelayBoundary(t *testing.T) {
	api := &fakeAPI{
		statusFn: func(_ context.Context, _ string, _ int) (string, error) {
			return parseapi.RemoteStatusRunning, nil
		},
	}
	jobs := &recordingJobs{}
	sleeper := &fakeSleeper{errAt: 3, err: context.Canceled}
	p := NewAsyncPath(api, jobs, nil, WithPollSleep(sleeper.sleep))

	res, err := p.Extract(context.Background(), asyncTestDoc(), []byte("payload"))
	assert.Nil(t, res)
	assert.True(t, parseapi.IsCanceled(err))

	_, _, _, statuses, _ := api.counts()
	assert.Equal(t, 2, statuses, "no poll after the canceled delay")
	assert.Equal(t, []constants.JobState{constants.JobStateFailed}, jobs.finished)
}

func TestAsyncPathResultFetchFailureIsFatal(t *testing.T) {
	wantErr := &parseapi.APIError{Op: "job_result", Status: 502, Class: parseapi.ClassTransient, Body: "bad gateway"}
	api := &fakeAPI{
		resultFn: func(context.Context, string) (*parseapi.ParseResult, error) {
			return nil, wantErr
		},
	}
	jobs := &recordingJobs{}
	sleeper := &fakeSleeper{}
	p := NewAsyncPath(api, jobs, nil, WithPollSleep(sleeper.sleep))

	res, err := p.Extract(context.Background(), asyncTestDoc(), []byte("payload"))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, []constants.JobState{constants.JobStateFailed}, jobs.finished)
}

func TestAsyncPathSchemaFailureStillDegrades(t *testing.T) {
	api := &fakeAPI{
		extractFn: func(context.Context, string, any) (*parseapi.ExtractResult, error) {
			return nil, &parseapi.APIError{Op: "extract", Status: 404, Class: parseapi.ClassFatalRequest}
		},
	}
	jobs := &recordingJobs{}
	sleeper := &fakeSleeper{}
	p := NewAsyncPath(api, jobs, nil, WithPollSleep(sleeper.sleep))

	res, err := p.Extract(context.Background(), asyncTestDoc(), []byte("payload"))
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	// The remote job did its part; only the schema phase came up short.
	assert.Equal(t, []constants.JobState{constants.JobStateSucceeded}, jobs.finished)
}
