package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nulzo/refract/internal/config"
	"github.com/nulzo/refract/pkg/api"
)

func fastEngine(maxDuration time.Duration) *Engine {
	return New(config.JobsConfig{
		PollInterval: time.Millisecond,
		MaxDuration:  maxDuration,
	}, nil, nil)
}

// scriptedPoll returns the given jobs in order, repeating the last one.
func scriptedPoll(states ...*api.PredictionJob) PollFunc {
	i := 0
	return func(ctx context.Context, id string) (*api.PredictionJob, error) {
		if i < len(states)-1 {
			job := states[i]
			i++
			return job, nil
		}
		return states[len(states)-1], nil
	}
}

func TestRun_PollsUntilSucceeded(t *testing.T) {
	submitted := &api.PredictionJob{ID: "p1", Status: api.JobStarting}

	job, err := fastEngine(time.Second).Run(context.Background(), "replicate",
		func(ctx context.Context) (*api.PredictionJob, error) { return submitted, nil },
		scriptedPoll(
			&api.PredictionJob{ID: "p1", Status: api.JobProcessing},
			&api.PredictionJob{ID: "p1", Status: api.JobProcessing},
			&api.PredictionJob{ID: "p1", Status: api.JobSucceeded, Output: "done"},
		),
	)

	require.NoError(t, err)
	assert.Equal(t, api.JobSucceeded, job.Status)
	assert.Equal(t, "done", job.Output)
}

func TestAwait_AlreadyTerminal(t *testing.T) {
	// No poll calls when the submit response is already terminal.
	poll := func(ctx context.Context, id string) (*api.PredictionJob, error) {
		t.Fatal("poll should not be called")
		return nil, nil
	}

	job, err := fastEngine(time.Second).Await(context.Background(), "replicate",
		&api.PredictionJob{ID: "p1", Status: api.JobSucceeded}, poll)
	require.NoError(t, err)
	assert.Equal(t, "p1", job.ID)
}

func TestAwait_FailedJob(t *testing.T) {
	_, err := fastEngine(time.Second).Await(context.Background(), "replicate",
		&api.PredictionJob{ID: "p1", Status: api.JobStarting},
		scriptedPoll(&api.PredictionJob{ID: "p1", Status: api.JobFailed, Error: "CUDA out of memory"}),
	)

	require.Error(t, err)
	assert.Equal(t, api.KindJobFailed, api.KindOf(err))
	assert.Contains(t, err.Error(), "CUDA out of memory")
}

func TestAwait_CanceledUpstream(t *testing.T) {
	_, err := fastEngine(time.Second).Await(context.Background(), "replicate",
		&api.PredictionJob{ID: "p1", Status: api.JobProcessing},
		scriptedPoll(&api.PredictionJob{ID: "p1", Status: api.JobCanceled}),
	)

	assert.Equal(t, api.KindJobCanceled, api.KindOf(err))
}

func TestAwait_TimesOut(t *testing.T) {
	_, err := fastEngine(5*time.Millisecond).Await(context.Background(), "replicate",
		&api.PredictionJob{ID: "p1", Status: api.JobProcessing},
		scriptedPoll(&api.PredictionJob{ID: "p1", Status: api.JobProcessing}),
	)

	assert.Equal(t, api.KindTimeout, api.KindOf(err))
}

func TestAwait_CallerCancelInterruptsWait(t *testing.T) {
	engine := New(config.JobsConfig{
		PollInterval: time.Minute, // a wait the test must interrupt
		MaxDuration:  time.Hour,
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := engine.Await(ctx, "replicate",
		&api.PredictionJob{ID: "p1", Status: api.JobProcessing},
		scriptedPoll(&api.PredictionJob{ID: "p1", Status: api.JobProcessing}),
	)

	assert.Equal(t, api.KindCanceled, api.KindOf(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestExtractText(t *testing.T) {
	assert.Equal(t, "plain", ExtractText("plain"))
	assert.Equal(t, "ab c", ExtractText([]interface{}{"ab", " ", "c"}))
	assert.Equal(t, "nested", ExtractText(map[string]interface{}{"text": "nested"}))
	assert.Equal(t, "", ExtractText(map[string]interface{}{"weird": 7}))
	assert.Equal(t, "", ExtractText(42))
	assert.Equal(t, "", ExtractText(nil))
}

func TestExtractList(t *testing.T) {
	assert.Equal(t, []string{"https://a/img.png"}, ExtractList("https://a/img.png"))
	assert.Equal(t, []string{"a", "b"}, ExtractList([]interface{}{"a", "b", 3}))
	assert.Nil(t, ExtractList(map[string]interface{}{}))
	assert.Nil(t, ExtractList(nil))
}
