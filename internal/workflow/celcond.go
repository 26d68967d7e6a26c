// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// opExpression selects CEL-based condition evaluation on a decision step.
// The program sees the accumulated input as `input`.
const opExpression = "expression"

// compileCondition compiles a decision expression. The result must be a
// boolean.
func compileCondition(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build expression environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression must evaluate to a boolean, got %s", ast.OutputType())
	}

	return env.Program(ast)
}

// evalCondition evaluates a compiled condition against the accumulated
// input.
func evalCondition(expr string, input map[string]any) (bool, error) {
	program, err := compileCondition(expr)
	if err != nil {
		return false, err
	}
	out, _, err := program.Eval(map[string]any{"input": input})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate expression: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T, want bool", out.Value())
	}
	return result, nil
}
