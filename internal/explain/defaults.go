package explain

import (
	"fmt"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// DefaultRules returns the built-in factor rules.
func DefaultRules() []*domain.FactorRule {
	return []*domain.FactorRule{
		{
			ID:          "factor-amount-high",
			Name:        "High amount",
			Description: "Transactions above 1000 are statistically riskier",
			Condition:   "amount > 1000.0",
			Field:       domain.FieldAmount,
			Impact:      domain.ImpactRisk,
			Weight:      0.35,
			Enabled:     true,
		},
		{
			ID:          "factor-amount-micro",
			Name:        "Very small amount",
			Description: "Micro-transactions can indicate card testing",
			Condition:   "amount < 10.0",
			Field:       domain.FieldAmount,
			Impact:      domain.ImpactRisk,
			Weight:      0.25,
			Enabled:     true,
		},
		{
			ID:          "factor-odd-hour",
			Name:        "Unusual hour",
			Description: "Night-time transactions are more likely to be fraudulent",
			Condition:   "hour < 6 || hour > 22",
			Field:       domain.FieldHour,
			Impact:      domain.ImpactRisk,
			Weight:      0.3,
			Enabled:     true,
		},
		{
			ID:          "factor-geo-risk",
			Name:        "Risky location",
			Description: "Transaction from an unusual geographic area",
			Condition:   "geographic_risk > 0.5",
			Field:       domain.FieldGeographicRisk,
			Impact:      domain.ImpactRisk,
			Weight:      0.4,
			Enabled:     true,
		},
		{
			ID:          "factor-velocity-high",
			Name:        "High velocity",
			Description: "Too many transactions in a short time",
			Condition:   "velocity_1h > 5",
			Field:       domain.FieldVelocity1h,
			Impact:      domain.ImpactRisk,
			Weight:      0.35,
			Enabled:     true,
		},
	}
}

// normalFactors are reported when no rule matched.
func normalFactors(tx *domain.Transaction) []domain.ExplanationFactor {
	return []domain.ExplanationFactor{
		{
			Factor:      "Normal user profile",
			Value:       "usual behaviour",
			Impact:      domain.ImpactSafe,
			Weight:      0.4,
			Explanation: "Transaction consistent with the user's profile",
		},
		{
			Factor:      "Normal hour",
			Value:       FormatValue(domain.FieldHour, int64(tx.Hour)),
			Impact:      domain.ImpactSafe,
			Weight:      0.3,
			Explanation: "Transaction during normal activity hours",
		},
	}
}

// FormatValue renders an attribute value for display.
func FormatValue(field string, v any) string {
	switch field {
	case domain.FieldAmount, domain.FieldAmountLastHour, domain.FieldAmountLastDay,
		domain.FieldAvgAmount30d, domain.FieldStdAmount30d:
		if f, ok := v.(float64); ok {
			return fmt.Sprintf("%.2f", f)
		}
	case domain.FieldGeographicRisk, domain.FieldDeviceRisk:
		if f, ok := v.(float64); ok {
			return fmt.Sprintf("%.0f%%", f*100)
		}
	case domain.FieldHour:
		return fmt.Sprintf("%vh", v)
	case domain.FieldVelocity1h:
		return fmt.Sprintf("%v trans/h", v)
	}
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
