package domain

import (
	"time"
)

// Factor impacts.
const (
	ImpactRisk = "RISK"
	ImpactSafe = "SAFE"
)

// FactorRule is a human-readable explanation rule. Condition is a CEL
// expression over the transaction attributes that yields bool; when it holds,
// the factor is attached to the explanation with the value of Field.
type FactorRule struct {
	ID          string  `json:"id"`
	TenantID    string  `json:"tenantId"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Condition   string  `json:"condition"`
	Field       string  `json:"field"`
	Impact      string  `json:"impact"`
	Weight      float64 `json:"weight"`
	Enabled     bool    `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// ExplanationFactor is one matched factor.
type ExplanationFactor struct {
	RuleID      string  `json:"ruleId,omitempty"`
	Factor      string  `json:"factor"`
	Value       string  `json:"value"`
	Impact      string  `json:"impact"`
	Weight      float64 `json:"weight"`
	Explanation string  `json:"explanation"`
}

// Explanation accompanies a prediction with the factors that drove it.
type Explanation struct {
	Factors         []ExplanationFactor `json:"factors"`
	Summary         string              `json:"summary"`
	Confidence      float64             `json:"confidence"`
	RiskFactorCount int                 `json:"riskFactorCount"`
	Recommendation  Action              `json:"recommendation"`
}
