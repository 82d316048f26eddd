package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/fraudguard/internal/bus"
	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/repository"
	"github.com/opensource-finance/fraudguard/internal/testutil"
)

type fakeEngine struct {
	calls atomic.Int32
	rows  atomic.Int32
	err   error
	delay time.Duration

	// onTrain runs inside Train, before it returns.
	onTrain func()
}

func (e *fakeEngine) Train(ctx context.Context, ds *domain.Dataset) (*domain.PerformanceReport, error) {
	n := e.calls.Add(1)
	e.rows.Store(int32(ds.Len()))
	if e.onTrain != nil {
		e.onTrain()
	}
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	return &domain.PerformanceReport{
		ArtifactID: fmt.Sprintf("artifact-%d", n),
		Rows:       ds.Len(),
		DurationMs: 12,
	}, nil
}

func newRepo(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: repository.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestTrainerRun(t *testing.T) {
	ctx := context.Background()
	path := testutil.WriteCSV(t, testutil.Dataset(200, 0.1, 7))

	t.Run("Succeeded", func(t *testing.T) {
		repo := newRepo(t)
		eventBus := bus.NewChannelBus(10)
		defer eventBus.Close()

		announced := make(chan domain.ModelPublished, 1)
		_, err := eventBus.Subscribe(ctx, domain.GlobalTenantID, domain.TopicModelPublished, func(ctx context.Context, msg *domain.Message) error {
			var ev domain.ModelPublished
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				return err
			}
			announced <- ev
			return nil
		})
		require.NoError(t, err)

		engine := &fakeEngine{}
		run, err := NewTrainer(engine, repo, eventBus, path).Run(ctx, SourceAPI)
		require.NoError(t, err)

		assert.Equal(t, domain.RunSucceeded, run.Status)
		assert.Equal(t, "artifact-1", run.ArtifactID)
		assert.Equal(t, int32(200), engine.rows.Load())
		assert.False(t, run.FinishedAt.Before(run.StartedAt))

		stored, err := repo.GetLatestTrainingRun(ctx)
		require.NoError(t, err)
		assert.Equal(t, run.ID, stored.ID)
		require.NotNil(t, stored.Report)
		assert.Equal(t, 200, stored.Report.Rows)

		select {
		case ev := <-announced:
			assert.Equal(t, "artifact-1", ev.ArtifactID)
			assert.Equal(t, run.ID, ev.RunID)
			assert.Equal(t, SourceAPI, ev.Source)
		case <-time.After(time.Second):
			t.Fatal("artifact was not announced")
		}
	})

	t.Run("TrainingFails", func(t *testing.T) {
		repo := newRepo(t)
		engine := &fakeEngine{err: fmt.Errorf("%w: no fraud rows", domain.ErrTrainingData)}

		run, err := NewTrainer(engine, repo, nil, path).Run(ctx, SourceScheduler)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrTrainingData)
		assert.Equal(t, domain.RunFailed, run.Status)
		assert.Contains(t, run.Error, "no fraud rows")

		stored, err := repo.GetLatestTrainingRun(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.RunFailed, stored.Status)
		assert.Nil(t, stored.Report)
	})

	t.Run("MissingDataset", func(t *testing.T) {
		repo := newRepo(t)
		engine := &fakeEngine{}

		run, err := NewTrainer(engine, repo, nil, filepath.Join(t.TempDir(), "absent.csv")).Run(ctx, SourceStartup)
		require.Error(t, err)
		assert.Equal(t, domain.RunFailed, run.Status)
		assert.Equal(t, int32(0), engine.calls.Load())

		runs, err := repo.ListTrainingRuns(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, runs, 1)
	})

	t.Run("RecordedWhileRunning", func(t *testing.T) {
		repo := newRepo(t)

		var during *domain.TrainingRun
		engine := &fakeEngine{onTrain: func() {
			during, _ = repo.GetLatestTrainingRun(ctx)
		}}

		run, err := NewTrainer(engine, repo, nil, path).Run(ctx, SourceAPI)
		require.NoError(t, err)

		require.NotNil(t, during, "run was not stored before training finished")
		assert.Equal(t, run.ID, during.ID)
		assert.Equal(t, domain.RunRunning, during.Status)
		assert.True(t, during.FinishedAt.IsZero())

		runs, err := repo.ListTrainingRuns(ctx, 10)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, domain.RunSucceeded, runs[0].Status)
		assert.False(t, runs[0].FinishedAt.IsZero())
	})

	t.Run("WithoutRepository", func(t *testing.T) {
		run, err := NewTrainer(&fakeEngine{}, nil, nil, path).RunDataset(ctx, SourceAPI, testutil.Dataset(50, 0.2, 1))
		require.NoError(t, err)
		assert.Equal(t, domain.RunSucceeded, run.Status)
	})
}

func TestScheduler(t *testing.T) {
	path := testutil.WriteCSV(t, testutil.Dataset(100, 0.1, 3))

	t.Run("InvalidSpec", func(t *testing.T) {
		_, err := New("not a schedule", NewTrainer(&fakeEngine{}, nil, nil, path))
		assert.Error(t, err)
	})

	t.Run("RunsOnSchedule", func(t *testing.T) {
		engine := &fakeEngine{}
		s, err := New("* * * * * *", NewTrainer(engine, nil, nil, path))
		require.NoError(t, err)

		s.Start()
		defer s.Stop()

		require.Eventually(t, func() bool { return engine.calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	})

	t.Run("RunNow", func(t *testing.T) {
		engine := &fakeEngine{}
		s, err := New("0 0 3 * * *", NewTrainer(engine, nil, nil, path))
		require.NoError(t, err)

		s.RunNow()
		assert.Equal(t, int32(1), engine.calls.Load())
	})

	t.Run("SkipsOverlappingRuns", func(t *testing.T) {
		engine := &fakeEngine{delay: 200 * time.Millisecond}
		s, err := New("0 0 3 * * *", NewTrainer(engine, nil, nil, path))
		require.NoError(t, err)

		done := make(chan struct{})
		go func() {
			s.RunNow()
			close(done)
		}()
		require.Eventually(t, func() bool { return engine.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

		s.RunNow()
		<-done
		assert.Equal(t, int32(1), engine.calls.Load())
	})

	t.Run("StopCancelsRunningJob", func(t *testing.T) {
		engine := &fakeEngine{delay: time.Minute, err: errors.New("unreachable")}
		s, err := New("0 0 3 * * *", NewTrainer(engine, nil, nil, path))
		require.NoError(t, err)

		done := make(chan struct{})
		go func() {
			s.RunNow()
			close(done)
		}()
		require.Eventually(t, func() bool { return engine.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

		s.Stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("running job not cancelled")
		}
	})
}
