package engine

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/fraudguard/internal/artifact"
	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/testutil"
)

var (
	trainedOnce    sync.Once
	trainedService *Service
	trainedReport  *domain.PerformanceReport
	trainedErr     error
)

func testConfig() domain.ModelConfig {
	cfg := domain.DefaultModelConfig()
	cfg.Classifier.NEstimators = 60
	return cfg
}

// trained returns a service trained once on 2000 rows at 2% fraud.
func trained(t *testing.T) (*Service, *domain.PerformanceReport) {
	t.Helper()
	trainedOnce.Do(func() {
		trainedService = New(testConfig(), nil)
		trainedReport, trainedErr = trainedService.Train(context.Background(), testutil.Dataset(2000, 0.02, 42))
	})
	require.NoError(t, trainedErr)
	return trainedService, trainedReport
}

type stubStore struct {
	saveErr error
	loadErr error
	loaded  *artifact.Artifact
	saves   int
}

func (s *stubStore) Save(_ context.Context, _ *artifact.Artifact) error {
	s.saves++
	return s.saveErr
}

func (s *stubStore) Load(_ context.Context) (*artifact.Artifact, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.loaded, nil
}

func TestPredictBeforeTrain(t *testing.T) {
	svc := New(testConfig(), nil)
	assert.False(t, svc.Ready())

	p, err := svc.Predict(context.Background(), testutil.Suspicious())
	assert.ErrorIs(t, err, domain.ErrUninitializedModel)
	assert.Nil(t, p)

	results, err := svc.PredictBatch(context.Background(), []domain.Transaction{testutil.Benign()})
	assert.ErrorIs(t, err, domain.ErrUninitializedModel)
	assert.Nil(t, results)

	assert.ErrorIs(t, svc.Persist(context.Background()), domain.ErrArtifactIO)
	assert.Equal(t, int64(2), svc.Stats().Failures)
}

func TestScenarios(t *testing.T) {
	svc, _ := trained(t)
	ctx := context.Background()

	t.Run("SuspiciousIsFlagged", func(t *testing.T) {
		p, err := svc.Predict(ctx, testutil.Suspicious())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p.FraudScore, 0.5)
		assert.Contains(t, []domain.Action{domain.ActionAlert, domain.ActionBlock}, p.Action)
		assert.True(t, p.IsFraudPredicted)
	})

	t.Run("BenignIsApproved", func(t *testing.T) {
		p, err := svc.Predict(ctx, testutil.Benign())
		require.NoError(t, err)
		assert.Less(t, p.FraudScore, 0.2)
		assert.Equal(t, domain.ActionApprove, p.Action)
		assert.Equal(t, domain.RiskMinimal, p.RiskLevel)
		assert.False(t, p.IsFraudPredicted)
	})

	t.Run("SuspiciousOutranksBenign", func(t *testing.T) {
		a, err := svc.Predict(ctx, testutil.Suspicious())
		require.NoError(t, err)
		b, err := svc.Predict(ctx, testutil.Benign())
		require.NoError(t, err)
		assert.Greater(t, a.ClassifierScore, b.ClassifierScore)
		assert.Greater(t, a.AnomalyScore, b.AnomalyScore)
		assert.Less(t, a.AnomalyDecision, b.AnomalyDecision)
	})
}

func TestTrainingReport(t *testing.T) {
	_, report := trained(t)

	assert.Equal(t, 2000, report.Rows)
	assert.Equal(t, 24, report.FeatureCount)

	t.Run("OversamplingBalancesTrainingSplit", func(t *testing.T) {
		assert.Equal(t, 32, report.TrainingBalance.Fraud)
		assert.Equal(t, 1568, report.TrainingBalance.Legitimate)
		assert.Equal(t, report.ResampledBalance.Legitimate, report.ResampledBalance.Fraud)
		assert.Equal(t, 1568, report.ResampledBalance.Fraud)
	})

	t.Run("EvaluationKeepsPrevalence", func(t *testing.T) {
		assert.Equal(t, 8, report.EvaluationBalance.Fraud)
		assert.Equal(t, 392, report.EvaluationBalance.Legitimate)
		assert.InDelta(t, 0.02, report.EvaluationBalance.Prevalence, 1e-12)
	})

	t.Run("AllStrategiesEvaluated", func(t *testing.T) {
		for _, s := range []domain.Strategy{domain.StrategyClassifier, domain.StrategyAnomaly, domain.StrategyHybrid} {
			m, ok := report.Strategies[s]
			require.True(t, ok, s)
			assert.GreaterOrEqual(t, m.AUC, 0.0)
			assert.LessOrEqual(t, m.AUC, 1.0)
			cm := m.Confusion
			assert.Equal(t, 400, cm.TruePositives+cm.FalsePositives+cm.TrueNegatives+cm.FalseNegatives)
		}
		assert.Greater(t, report.Strategies[domain.StrategyClassifier].AUC, 0.7)
	})

	t.Run("ImportanceCoversFeatures", func(t *testing.T) {
		assert.Len(t, report.FeatureImportance, 24)
	})
}

func TestPredictBatch(t *testing.T) {
	svc, _ := trained(t)
	ctx := context.Background()
	ds := testutil.Dataset(50, 0.1, 9)

	t.Run("MatchesSingle", func(t *testing.T) {
		results, err := svc.PredictBatch(ctx, ds.Records)
		require.NoError(t, err)
		require.Len(t, results, len(ds.Records))
		for i, r := range results {
			require.NoError(t, r.Err)
			single, err := svc.Predict(ctx, ds.Records[i])
			require.NoError(t, err)
			assert.Equal(t, single, r.Prediction)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		results, err := svc.PredictBatch(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("PerRecordFailure", func(t *testing.T) {
		txs := []domain.Transaction{testutil.Benign(), testutil.Suspicious(), testutil.Benign()}
		txs[1].Amount = math.Inf(-1)

		results, err := svc.PredictBatch(ctx, txs)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.NoError(t, results[0].Err)
		assert.ErrorIs(t, results[1].Err, domain.ErrSchemaMismatch)
		assert.Nil(t, results[1].Prediction)
		assert.NoError(t, results[2].Err)
		assert.Equal(t, results[0].Prediction, results[2].Prediction)
	})
}

func TestScoreBounds(t *testing.T) {
	svc, _ := trained(t)
	results, err := svc.PredictBatch(context.Background(), testutil.Dataset(300, 0.2, 5).Records)
	require.NoError(t, err)
	for _, r := range results {
		require.NoError(t, r.Err)
		p := r.Prediction
		assert.GreaterOrEqual(t, p.FraudScore, 0.0)
		assert.LessOrEqual(t, p.FraudScore, 1.0)
		assert.Equal(t, p.RiskLevel.Rank() >= domain.RiskMedium.Rank(), p.IsFraudPredicted)
	}
}

func TestTrainValidation(t *testing.T) {
	svc := New(testConfig(), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		ds   *domain.Dataset
	}{
		{"Nil", nil},
		{"Empty", &domain.Dataset{}},
		{"LabelCountMismatch", &domain.Dataset{Records: make([]domain.Transaction, 3), Labels: []int{0}}},
		{"BadLabel", &domain.Dataset{Records: make([]domain.Transaction, 2), Labels: []int{0, 2}}},
		{"NoPositives", testutil.Dataset(100, 0, 1)},
		{"TooFewPositives", testutil.Dataset(100, 0.02, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Train(ctx, tt.ds)
			assert.ErrorIs(t, err, domain.ErrTrainingData)
			assert.False(t, svc.Ready())
		})
	}

	t.Run("NoNegatives", func(t *testing.T) {
		ds := testutil.Dataset(20, 1, 1)
		_, err := svc.Train(ctx, ds)
		assert.ErrorIs(t, err, domain.ErrTrainingData)
	})
}

func TestStoreFailureDoesNotSwap(t *testing.T) {
	base, _ := trained(t)
	previous := base.Current()

	store := &stubStore{saveErr: errors.New("disk full")}
	svc := New(testConfig(), store)
	require.NoError(t, svc.Swap(previous))

	_, err := svc.Train(context.Background(), testutil.Dataset(400, 0.05, 3))
	assert.ErrorIs(t, err, domain.ErrArtifactIO)
	assert.Equal(t, 1, store.saves)
	assert.Same(t, previous, svc.Current())
}

func TestPersistAndRestore(t *testing.T) {
	base, _ := trained(t)
	ctx := context.Background()
	store := artifact.NewFileStore(filepath.Join(t.TempDir(), "fraud_detector.art"))

	writer := New(testConfig(), store)
	require.NoError(t, writer.Swap(base.Current()))
	require.NoError(t, writer.Persist(ctx))

	reader := New(testConfig(), store)
	restored, err := reader.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, base.Current().ID, restored.ID)

	want, err := base.Predict(ctx, testutil.Suspicious())
	require.NoError(t, err)
	got, err := reader.Predict(ctx, testutil.Suspicious())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	t.Run("FailedRestoreKeepsPrevious", func(t *testing.T) {
		svc := New(testConfig(), &stubStore{loadErr: domain.ErrArtifactNotFound})
		require.NoError(t, svc.Swap(base.Current()))

		_, err := svc.Restore(ctx)
		assert.ErrorIs(t, err, domain.ErrArtifactIO)
		assert.Same(t, base.Current(), svc.Current())
	})
}

func TestStats(t *testing.T) {
	svc := New(testConfig(), nil)
	base, _ := trained(t)
	require.NoError(t, svc.Swap(base.Current()))

	_, err := svc.Predict(context.Background(), testutil.Benign())
	require.NoError(t, err)

	st := svc.Stats()
	assert.True(t, st.ModelLoaded)
	assert.Equal(t, base.Current().ID, st.ArtifactID)
	assert.Equal(t, int64(1), st.TotalPredictions)
	assert.NotNil(t, st.LastPrediction)
	assert.GreaterOrEqual(t, st.AvgProcessingMs, 0.0)
}
