package explain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/testutil"
)

func newDefaultEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(4)
	require.NoError(t, err)
	require.NoError(t, e.LoadRules(DefaultRules()))
	return e
}

func ruleIDs(ex *domain.Explanation) []string {
	ids := make([]string, 0, len(ex.Factors))
	for _, f := range ex.Factors {
		ids = append(ids, f.RuleID)
	}
	return ids
}

func TestExplain(t *testing.T) {
	e := newDefaultEngine(t)
	assert.Equal(t, 5, e.RulesCount())
	ctx := context.Background()

	t.Run("SuspiciousTransaction", func(t *testing.T) {
		tx := testutil.Suspicious()
		ex, err := e.Explain(ctx, &tx, &domain.Prediction{FraudScore: 0.91})
		require.NoError(t, err)

		assert.Equal(t, []string{"factor-geo-risk", "factor-amount-high", "factor-velocity-high", "factor-odd-hour"}, ruleIDs(ex))
		assert.Equal(t, 4, ex.RiskFactorCount)
		assert.Equal(t, domain.ActionBlock, ex.Recommendation)
		assert.Equal(t, 0.91, ex.Confidence)
		assert.Equal(t, "90%", ex.Factors[0].Value)
		assert.Equal(t, "5000.00", ex.Factors[1].Value)
		assert.Equal(t, "12 trans/h", ex.Factors[2].Value)
		assert.Equal(t, "2h", ex.Factors[3].Value)
	})

	t.Run("NormalTransaction", func(t *testing.T) {
		tx := testutil.Benign()
		ex, err := e.Explain(ctx, &tx, &domain.Prediction{FraudScore: 0.05})
		require.NoError(t, err)

		require.Len(t, ex.Factors, 2)
		for _, f := range ex.Factors {
			assert.Equal(t, domain.ImpactSafe, f.Impact)
		}
		assert.Equal(t, "14h", ex.Factors[1].Value)
		assert.Equal(t, 0, ex.RiskFactorCount)
		assert.Equal(t, domain.ActionApprove, ex.Recommendation)
	})

	t.Run("BoundariesAreExclusive", func(t *testing.T) {
		tx := testutil.Benign()
		tx.Amount = 1000
		tx.Hour = 22
		tx.GeographicRisk = 0.5
		tx.Velocity1h = 5
		ex, err := e.Explain(ctx, &tx, &domain.Prediction{})
		require.NoError(t, err)
		assert.Equal(t, 0, ex.RiskFactorCount)

		tx.Hour = 23
		tx.Amount = 9.99
		ex, err = e.Explain(ctx, &tx, &domain.Prediction{})
		require.NoError(t, err)
		assert.Equal(t, []string{"factor-odd-hour", "factor-amount-micro"}, ruleIDs(ex))
		assert.Equal(t, domain.ActionAlert, ex.Recommendation)
	})
}

func TestRecommend(t *testing.T) {
	assert.Equal(t, domain.ActionApprove, Recommend(0))
	assert.Equal(t, domain.ActionMonitor, Recommend(1))
	assert.Equal(t, domain.ActionAlert, Recommend(2))
	assert.Equal(t, domain.ActionBlock, Recommend(3))
	assert.Equal(t, domain.ActionBlock, Recommend(5))
}

func TestRuleManagement(t *testing.T) {
	e := newDefaultEngine(t)
	ctx := context.Background()

	t.Run("ScoreVariables", func(t *testing.T) {
		rule := &domain.FactorRule{
			ID: "factor-anomalous", Name: "Anomalous profile", Condition: "anomaly_score > 0.5 && device_type == 'mobile'",
			Field: domain.FieldDeviceType, Impact: domain.ImpactRisk, Weight: 0.2, Enabled: true,
		}
		require.NoError(t, e.LoadRule(rule))

		tx := testutil.Benign()
		ex, err := e.Explain(ctx, &tx, &domain.Prediction{AnomalyScore: 0.8})
		require.NoError(t, err)
		assert.Equal(t, []string{"factor-anomalous"}, ruleIDs(ex))
		assert.Equal(t, "mobile", ex.Factors[0].Value)
	})

	t.Run("RejectsNonBoolCondition", func(t *testing.T) {
		err := e.ValidateRule(&domain.FactorRule{ID: "bad", Condition: "amount * 2.0", Impact: domain.ImpactRisk})
		assert.Error(t, err)
	})

	t.Run("RejectsUnknownVariable", func(t *testing.T) {
		err := e.ValidateRule(&domain.FactorRule{ID: "bad", Condition: "balance > 10.0", Impact: domain.ImpactRisk})
		assert.Error(t, err)
	})

	t.Run("RejectsUnknownImpact", func(t *testing.T) {
		err := e.ValidateRule(&domain.FactorRule{ID: "bad", Condition: "amount > 1.0", Impact: "MAYBE"})
		assert.Error(t, err)
	})

	t.Run("ReloadKeepsPreviousOnError", func(t *testing.T) {
		before := e.RulesCount()
		err := e.ReloadRules([]*domain.FactorRule{{ID: "broken", Condition: "amount >", Enabled: true}})
		assert.Error(t, err)
		assert.Equal(t, before, e.RulesCount())
	})

	t.Run("ReloadSkipsDisabled", func(t *testing.T) {
		rules := DefaultRules()
		rules[0].Enabled = false
		require.NoError(t, e.ReloadRules(rules))
		assert.Equal(t, 4, e.RulesCount())
		assert.Equal(t, "factor-amount-micro", e.GetLoadedRules()[0].ID)
	})
}
