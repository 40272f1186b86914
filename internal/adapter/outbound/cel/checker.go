// Package cel evaluates optional CEL conditions attached to policy rules.
// A condition refines when a rule applies, e.g.
// `toolInput.command.contains("prod")`.
package cel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/latch-sh/latch/internal/domain/eval"
)

// maxExpressionLength bounds rule condition size.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit, guarding against
// cost-exhaustion via user-authored conditions.
const maxCostBudget = 100_000

// maxNestingDepth bounds parenthesis/bracket nesting.
const maxNestingDepth = 50

// evalTimeout caps a single condition evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context
// cancellation is checked.
const interruptCheckFreq = 100

// Checker compiles and evaluates rule conditions. Compiled programs are
// cached by expression text since policies repeat conditions across calls.
type Checker struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewChecker creates a checker whose environment exposes the invocation as
// toolName, toolInput, and harnessId.
func NewChecker() (*Checker, error) {
	env, err := cel.NewEnv(
		cel.Variable("toolName", cel.StringType),
		cel.Variable("toolInput", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("harnessId", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("creating condition environment: %w", err)
	}
	return &Checker{env: env, cache: make(map[string]cel.Program)}, nil
}

// Check evaluates a condition expression against one invocation.
func (c *Checker) Check(expr, toolName string, input map[string]any, harnessID string) (bool, error) {
	prg, err := c.program(expr)
	if err != nil {
		return false, err
	}
	if input == nil {
		input = map[string]any{}
	}
	activation := map[string]any{
		"toolName":  toolName,
		"toolInput": input,
		"harnessId": harnessID,
	}

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()
	result, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return false, fmt.Errorf("evaluating condition: %w", err)
	}
	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition did not return a boolean, got %T", result.Value())
	}
	return boolResult, nil
}

// ValidateExpression checks a condition at policy-authoring time: length
// and nesting limits plus compilation.
func (c *Checker) ValidateExpression(expr string) error {
	if expr == "" {
		return errors.New("expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return err
	}
	if _, err := c.compile(expr); err != nil {
		return fmt.Errorf("invalid condition: %w", err)
	}
	return nil
}

func (c *Checker) program(expr string) (cel.Program, error) {
	c.mu.RLock()
	prg, ok := c.cache[expr]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}
	if len(expr) > maxExpressionLength {
		return nil, fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return nil, err
	}
	prg, err := c.compile(expr)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.cache[expr] = prg
	c.mu.Unlock()
	return prg, nil
}

func (c *Checker) compile(expr string) (cel.Program, error) {
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}
	prg, err := c.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}
	return prg, nil
}

// validateNesting bounds parenthesis, bracket and brace depth.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// Compile-time interface verification.
var _ eval.ConditionChecker = (*Checker)(nil)
