// Package explain attaches human-readable factors to predictions. Factors are
// CEL rules evaluated over the raw transaction attributes and the model
// scores.
package explain

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// Model score variables available to factor conditions.
const (
	VarFraudScore      = "fraud_score"
	VarClassifierScore = "classifier_score"
	VarAnomalyScore    = "anomaly_score"
)

// Engine evaluates factor rules.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	compiled   map[string]*CompiledFactor
	maxWorkers int
}

// CompiledFactor holds a pre-compiled CEL program.
type CompiledFactor struct {
	Rule    *domain.FactorRule
	Program cel.Program
}

// NewEngine creates an engine with every transaction attribute declared as a
// typed CEL variable.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	var zero domain.Transaction
	opts := []cel.EnvOption{
		cel.Variable("tx", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(VarFraudScore, cel.DoubleType),
		cel.Variable(VarClassifierScore, cel.DoubleType),
		cel.Variable(VarAnomalyScore, cel.DoubleType),
	}
	for name, v := range zero.Attributes() {
		switch v.(type) {
		case string:
			opts = append(opts, cel.Variable(name, cel.StringType))
		case int64:
			opts = append(opts, cel.Variable(name, cel.IntType))
		case float64:
			opts = append(opts, cel.Variable(name, cel.DoubleType))
		}
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		compiled:   make(map[string]*CompiledFactor),
		maxWorkers: maxWorkers,
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(rule *domain.FactorRule) error {
	if rule == nil {
		return fmt.Errorf("factor rule is required")
	}
	if rule.Impact != domain.ImpactRisk && rule.Impact != domain.ImpactSafe {
		return fmt.Errorf("factor %s: impact must be %s or %s", rule.ID, domain.ImpactRisk, domain.ImpactSafe)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compile(rule)
	return err
}

// LoadRule compiles and loads a rule, replacing any rule with the same ID.
func (e *Engine) LoadRule(rule *domain.FactorRule) error {
	if err := e.ValidateRule(rule); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compile(rule)
	if err != nil {
		return err
	}
	e.compiled[rule.ID] = compiled
	return nil
}

// LoadRules loads every enabled rule.
func (e *Engine) LoadRules(rules []*domain.FactorRule) error {
	for _, rule := range rules {
		if rule.Enabled {
			if err := e.LoadRule(rule); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules replaces the loaded rule set. On a compile error the previous
// set stays active.
func (e *Engine) ReloadRules(rules []*domain.FactorRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*CompiledFactor, len(rules))
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		compiled, err := e.compile(rule)
		if err != nil {
			return err
		}
		next[rule.ID] = compiled
	}
	e.compiled = next
	return nil
}

// GetLoadedRules returns the loaded rules ordered by ID.
func (e *Engine) GetLoadedRules() []*domain.FactorRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.FactorRule, 0, len(e.compiled))
	for _, c := range e.compiled {
		rules = append(rules, c.Rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// Explain evaluates all loaded rules against tx and p. Matching factors are
// ordered by descending weight. When nothing matches, the normal-profile
// factors are attached instead.
func (e *Engine) Explain(ctx context.Context, tx *domain.Transaction, p *domain.Prediction) (*domain.Explanation, error) {
	e.mu.RLock()
	factors := make([]*CompiledFactor, 0, len(e.compiled))
	for _, c := range e.compiled {
		factors = append(factors, c)
	}
	e.mu.RUnlock()

	attrs := tx.Attributes()
	activation := make(map[string]any, len(attrs)+4)
	for k, v := range attrs {
		activation[k] = v
	}
	activation["tx"] = attrs
	activation[VarFraudScore] = p.FraudScore
	activation[VarClassifierScore] = p.ClassifierScore
	activation[VarAnomalyScore] = p.AnomalyScore

	matched := make([]*domain.ExplanationFactor, len(factors))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, f := range factors {
		wg.Add(1)
		go func(idx int, c *CompiledFactor) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			matched[idx] = e.evaluate(ctx, c, activation, attrs)
		}(i, f)
	}
	wg.Wait()

	out := make([]domain.ExplanationFactor, 0, len(matched))
	for _, m := range matched {
		if m != nil {
			out = append(out, *m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].RuleID < out[j].RuleID
	})
	if len(out) == 0 {
		out = normalFactors(tx)
	}

	risk := 0
	for _, f := range out {
		if f.Impact == domain.ImpactRisk {
			risk++
		}
	}

	return &domain.Explanation{
		Factors:         out,
		Summary:         fmt.Sprintf("decision based on %d main indicator(s)", len(out)),
		Confidence:      p.FraudScore,
		RiskFactorCount: risk,
		Recommendation:  Recommend(risk),
	}, nil
}

func (e *Engine) evaluate(ctx context.Context, c *CompiledFactor, activation, attrs map[string]any) *domain.ExplanationFactor {
	out, _, err := c.Program.ContextEval(ctx, activation)
	if err != nil {
		slog.Warn("factor evaluation failed", "rule_id", c.Rule.ID, "error", err)
		return nil
	}
	if hit, ok := out.(types.Bool); !ok || !bool(hit) {
		return nil
	}
	return &domain.ExplanationFactor{
		RuleID:      c.Rule.ID,
		Factor:      c.Rule.Name,
		Value:       FormatValue(c.Rule.Field, attrs[c.Rule.Field]),
		Impact:      c.Rule.Impact,
		Weight:      c.Rule.Weight,
		Explanation: c.Rule.Description,
	}
}

// Recommend maps the number of matched risk factors to an action.
func Recommend(riskFactors int) domain.Action {
	switch {
	case riskFactors >= 3:
		return domain.ActionBlock
	case riskFactors == 2:
		return domain.ActionAlert
	case riskFactors == 1:
		return domain.ActionMonitor
	default:
		return domain.ActionApprove
	}
}

// Close unloads all rules.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]*CompiledFactor)
	return nil
}

func (e *Engine) compile(rule *domain.FactorRule) (*CompiledFactor, error) {
	ast, issues := e.env.Compile(rule.Condition)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile factor %s: %w", rule.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("factor %s: condition must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for factor %s: %w", rule.ID, err)
	}
	return &CompiledFactor{Rule: rule, Program: program}, nil
}
