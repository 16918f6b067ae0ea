package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/webcam-harvester/internal/fetcher"
	"github.com/JakeFAU/webcam-harvester/internal/metadata"
	"github.com/JakeFAU/webcam-harvester/internal/webcam"
)

type countingFetcher struct {
	mu    sync.Mutex
	byURL map[string]int
	total atomic.Int32
}

func newCountingFetcher() *countingFetcher {
	return &countingFetcher{byURL: map[string]int{}}
}

func (f *countingFetcher) Fetch(_ context.Context, req fetcher.Request) (fetcher.Response, error) {
	f.total.Add(1)
	f.mu.Lock()
	f.byURL[req.URL]++
	f.mu.Unlock()
	return fetcher.Response{URL: req.URL, StatusCode: http.StatusOK, Body: []byte("jpeg")}, nil
}

type fixedIDs struct{ id string }

func (f fixedIDs) NewID() (string, error) { return f.id, nil }

type failingIDs struct{}

func (failingIDs) NewID() (string, error) { return "", errors.New("no entropy") }

func liveCams(t *testing.T, f fetcher.Fetcher, ids ...string) []*webcam.Webcam {
	t.Helper()
	root := t.TempDir()
	out := make([]*webcam.Webcam, 0, len(ids))
	for _, id := range ids {
		out = append(out, webcam.New(metadata.Metadata{
			Source:       "opentopia",
			Identifier:   id,
			LivestillURL: "http://images.example.test/" + id + ".jpg",
			IsLive:       true,
		}, webcam.Options{Root: root, Fetcher: f}))
	}
	return out
}

func TestSessionScenarioThreeWebcamsTwoWorkers(t *testing.T) {
	t.Parallel()

	f := newCountingFetcher()
	cams := liveCams(t, f, "1", "2", "3")

	start := time.Now()
	result, err := Run(context.Background(), Config{
		Webcams:      cams,
		Period:       time.Second,
		Duration:     2500 * time.Millisecond,
		Workers:      2,
		FetchTimeout: time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.Equal(t, 3, result.Cycles)
	assert.Equal(t, 9, result.Enqueued)
	total := int(f.total.Load())
	assert.GreaterOrEqual(t, total, 6)
	assert.LessOrEqual(t, total, 9)
	assert.GreaterOrEqual(t, elapsed, 2500*time.Millisecond)
	assert.Less(t, elapsed, 4*time.Second, "blocked workers must wake at the deadline")

	for _, cam := range cams {
		frames, err := cam.Frames()
		require.NoError(t, err)
		assert.NotEmpty(t, frames)
	}
}

func TestSessionSkipsWebcamsThatAreNotLive(t *testing.T) {
	t.Parallel()

	f := newCountingFetcher()
	cams := liveCams(t, f, "1")
	cams = append(cams, webcam.New(metadata.NotLive("opentopia", "2"), webcam.Options{
		Root:    t.TempDir(),
		Fetcher: f,
	}))

	result, err := Run(context.Background(), Config{
		Webcams:  cams,
		Period:   20 * time.Millisecond,
		Duration: 50 * time.Millisecond,
		Workers:  1,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, result.Cycles, result.Enqueued)
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Len(t, f.byURL, 1)
}

func TestSessionLogsSessionID(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	runner := NewRunner(fixedIDs{id: "sess-1"}, nil, zap.New(core))

	_, err := runner.Run(context.Background(), Config{
		Webcams:  liveCams(t, newCountingFetcher(), "1"),
		Period:   10 * time.Millisecond,
		Duration: 20 * time.Millisecond,
		Workers:  1,
	})
	require.NoError(t, err)

	started := logs.FilterMessage("session starting").All()
	require.Len(t, started, 1)
	assert.Equal(t, "sess-1", started[0].ContextMap()["session_id"])
}

type recordingRecorder struct {
	mu       sync.Mutex
	started  []Record
	finished []Record
	err      error
}

func (r *recordingRecorder) StartSession(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, rec)
	return r.err
}

func (r *recordingRecorder) FinishSession(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, rec)
	return r.err
}

func TestSessionRecordsHistory(t *testing.T) {
	t.Parallel()

	recorder := &recordingRecorder{}
	runner := NewRunner(fixedIDs{id: "sess-2"}, recorder, nil)
	result, err := runner.Run(context.Background(), Config{
		Source:   "opentopia",
		Webcams:  liveCams(t, newCountingFetcher(), "1", "2"),
		Period:   10 * time.Millisecond,
		Duration: 25 * time.Millisecond,
		Workers:  2,
	})
	require.NoError(t, err)

	require.Len(t, recorder.started, 1)
	require.Len(t, recorder.finished, 1)
	started, finished := recorder.started[0], recorder.finished[0]
	assert.Equal(t, "sess-2", started.ID)
	assert.Equal(t, "opentopia", started.Source)
	assert.Equal(t, 2, started.Webcams)
	assert.Nil(t, started.FinishedAt)
	require.NotNil(t, finished.FinishedAt)
	assert.False(t, finished.FinishedAt.Before(finished.StartedAt))
	assert.Equal(t, result.Cycles, finished.Cycles)
	assert.Equal(t, result.Attempts, finished.Attempts)
}

func TestSessionHistoryFailureDoesNotStopSession(t *testing.T) {
	t.Parallel()

	recorder := &recordingRecorder{err: errors.New("db down")}
	result, err := NewRunner(fixedIDs{id: "sess-3"}, recorder, nil).Run(context.Background(), Config{
		Webcams:  liveCams(t, newCountingFetcher(), "1"),
		Period:   10 * time.Millisecond,
		Duration: 15 * time.Millisecond,
		Workers:  1,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.Cycles, 1)
}

func TestSessionIDFailure(t *testing.T) {
	t.Parallel()

	_, err := NewRunner(failingIDs{}, nil, nil).Run(context.Background(), Config{
		Period: time.Second, Duration: time.Second, Workers: 1,
	})
	assert.Error(t, err)
}

func TestSessionStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := Run(ctx, Config{
			Webcams:  liveCams(t, newCountingFetcher(), "1"),
			Period:   time.Hour,
			Duration: time.Hour,
			Workers:  2,
		}, nil)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop after cancel")
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	valid := Config{Period: time.Second, Duration: time.Minute, Workers: 4}
	require.NoError(t, valid.Validate())

	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero period", func(c *Config) { c.Period = 0 }},
		{"negative duration", func(c *Config) { c.Duration = -time.Second }},
		{"no workers", func(c *Config) { c.Workers = 0 }},
		{"negative timeout", func(c *Config) { c.FetchTimeout = -1 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
			_, err := Run(context.Background(), cfg, nil)
			assert.Error(t, err)
		})
	}
}
