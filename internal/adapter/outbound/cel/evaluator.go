// Package cel evaluates the operator-defined URL deny policy with
// Common Expression Language rules.
package cel

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/superfetch/superfetch/internal/port/outbound"
)

// maxExpressionLength is the maximum allowed length for a policy
// expression.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit, preventing
// cost-exhaustion through pathological expressions.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting
// depth.
const maxNestingDepth = 50

// evalTimeout is the maximum time allowed for a single evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations)
// context cancellation is checked.
const interruptCheckFreq = 100

// reasonLimit truncates the expression echoed back as a deny reason.
const reasonLimit = 120

// Policy is a compiled URL deny rule. An empty expression compiles to
// the allow-all policy. Policy implements outbound.URLPolicy.
type Policy struct {
	expression string
	program    cel.Program
}

// NewPolicy validates and compiles expression once. The returned
// Policy is immutable and safe for concurrent use.
func NewPolicy(expression string) (*Policy, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return &Policy{}, nil
	}
	if len(expression) > maxExpressionLength {
		return nil, fmt.Errorf("policy expression too long: %d characters (max %d)", len(expression), maxExpressionLength)
	}
	if err := validateNesting(expression); err != nil {
		return nil, err
	}

	env, err := newURLEnvironment()
	if err != nil {
		return nil, fmt.Errorf("creating policy environment: %w", err)
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compiling policy expression: %w", issues.Err())
	}
	program, err := env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("building policy program: %w", err)
	}

	return &Policy{expression: expression, program: program}, nil
}

// Deny evaluates the policy against u. The reason identifies the
// expression that matched so operators can trace denials in logs.
func (p *Policy) Deny(u *url.URL) (bool, string, error) {
	if p.program == nil {
		return false, "", nil
	}

	activation := map[string]any{
		"url":    u.String(),
		"scheme": strings.ToLower(u.Scheme),
		"host":   strings.ToLower(u.Hostname()),
		"port":   effectivePort(u),
		"path":   u.Path,
	}

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := p.program.ContextEval(ctx, activation)
	if err != nil {
		return false, "", fmt.Errorf("evaluating policy: %w", err)
	}
	denied, ok := result.Value().(bool)
	if !ok {
		return false, "", fmt.Errorf("policy expression returned %T, want bool", result.Value())
	}
	if !denied {
		return false, "", nil
	}
	return true, p.reason(), nil
}

func (p *Policy) reason() string {
	if len(p.expression) <= reasonLimit {
		return p.expression
	}
	return p.expression[:reasonLimit] + "..."
}

// effectivePort returns the explicit port or the scheme default.
func effectivePort(u *url.URL) int {
	if port := u.Port(); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			return n
		}
	}
	if strings.EqualFold(u.Scheme, "https") {
		return 443
	}
	return 80
}

// validateNesting checks that the expression does not exceed the
// maximum nesting depth for parentheses, brackets, and braces.
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
		return fmt.Errorf("policy expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// Compile-time check that Policy implements URLPolicy.
var _ outbound.URLPolicy = (*Policy)(nil)
