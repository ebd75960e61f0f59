package schema

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Expression is a compiled boolean expression evaluated against a document.
// Top-level document keys are exposed as variables, so "user.profile != nil"
// reads the profile of the user subdocument. Kinds absent from the document
// evaluate to nil.
type Expression struct {
	Source  string
	program *vm.Program
}

// CompileExpression parses and compiles src at construction time so syntax
// errors surface during bootstrap rather than during migration.
func CompileExpression(src string) (*Expression, error) {
	if src == "" {
		return nil, fmt.Errorf("expression is empty")
	}
	program, err := expr.Compile(src, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", src, err)
	}
	return &Expression{Source: src, program: program}, nil
}

// Eval runs the expression against doc.
func (e *Expression) Eval(doc Document) (bool, error) {
	env := map[string]any(doc)
	if env == nil {
		env = map[string]any{}
	}
	out, err := expr.Run(e.program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", e.Source, err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("evaluate %q: expected bool, got %T", e.Source, out)
	}
	return ok, nil
}

// ExprRule builds a Rule from a boolean expression. message is reported when
// the expression evaluates to false; an empty message falls back to the
// expression source.
func ExprRule(path, source, message string) (Rule, error) {
	e, err := CompileExpression(source)
	if err != nil {
		return nil, err
	}
	if message == "" {
		message = fmt.Sprintf("expectation %q does not hold", source)
	}
	return RuleFunc(func(doc Document) *ValidationError {
		ok, err := e.Eval(doc)
		if err != nil {
			return &ValidationError{Path: path, Message: err.Error()}
		}
		if !ok {
			return &ValidationError{Path: path, Message: message}
		}
		return nil
	}), nil
}
