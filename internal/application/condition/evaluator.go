// Package condition evaluates condition-node predicates against a payment
// request snapshot.
//
// Unknown or absent predicates evaluate to true, so a missing condition never
// strands a workflow. Only a malformed expression is reported as an error.
package condition

import (
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/graph"
)

// env is the variable set visible to predicate expressions
type env struct {
	Amount      float64 `expr:"amount"`
	Currency    string  `expr:"currency"`
	Category    string  `expr:"category"`
	OrgID       string  `expr:"org_id"`
	RequesterID string  `expr:"requester_id"`
}

// Evaluator evaluates predicates. Compiled expressions are cached and shared
// across goroutines.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewEvaluator creates a new condition evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]*vm.Program)}
}

// Evaluate reports whether the snapshot matches the predicate
func (e *Evaluator) Evaluate(p *graph.Predicate, snap entity.PaymentSnapshot) (bool, error) {
	if p == nil {
		return true, nil
	}
	if p.Expression != "" {
		return e.evaluateExpression(p.Expression, snap)
	}

	switch strings.ToLower(p.Field) {
	case graph.FieldAmount:
		return compareAmount(p.Operator, snap.Amount, p.Threshold), nil
	case graph.FieldCategory:
		return compareCategory(p.Operator, snap.Category, p.Value), nil
	default:
		return true, nil
	}
}

// Compile checks that an expression is well formed and caches it
func (e *Evaluator) Compile(expression string) error {
	_, err := e.program(expression)
	return err
}

func (e *Evaluator) evaluateExpression(expression string, snap entity.PaymentSnapshot) (bool, error) {
	program, err := e.program(expression)
	if err != nil {
		return false, err
	}

	out, err := expr.Run(program, env{
		Amount:      snap.Amount,
		Currency:    snap.Currency,
		Category:    snap.Category,
		OrgID:       snap.OrgID,
		RequesterID: snap.RequesterID,
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate expression %q: %w", expression, err)
	}

	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %T, want bool", expression, out)
	}
	return matched, nil
}

func (e *Evaluator) program(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if program, ok := e.cache[expression]; ok {
		return program, nil
	}

	program, err := expr.Compile(expression, expr.Env(env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expression, err)
	}
	e.cache[expression] = program
	return program, nil
}

func compareAmount(op string, amount, threshold float64) bool {
	switch strings.ToLower(op) {
	case "", graph.OpGT:
		return amount > threshold
	case graph.OpGTE:
		return amount >= threshold
	case graph.OpLT:
		return amount < threshold
	case graph.OpLTE:
		return amount <= threshold
	case graph.OpEQ:
		return amount == threshold
	case graph.OpNEQ:
		return amount != threshold
	default:
		return true
	}
}

func compareCategory(op, category, value string) bool {
	category = strings.TrimSpace(category)
	switch strings.ToLower(op) {
	case "", graph.OpEQ:
		return strings.EqualFold(category, strings.TrimSpace(value))
	case graph.OpNEQ:
		return !strings.EqualFold(category, strings.TrimSpace(value))
	case graph.OpIn:
		for _, v := range strings.Split(value, ",") {
			if strings.EqualFold(category, strings.TrimSpace(v)) {
				return true
			}
		}
		return false
	default:
		return true
	}
}
