package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
)

// Filter is a validated filter expression bound to a field set.
type Filter struct {
	node   ast.Node
	raw    string
	fields map[string]FieldDef
}

// Raw returns the original expression string.
func (f *Filter) Raw() string {
	return f.raw
}

// Parse compiles and validates a filter expression against fields.
func Parse(expression string, fields map[string]FieldDef) (*Filter, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, fmt.Errorf("empty expression")
	}

	program, err := expr.Compile(expression, expr.Env(buildEnv(fields)), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	node := program.Node()
	v := &validationVisitor{fields: fields}
	ast.Walk(&node, v)
	if v.err != nil {
		return nil, v.err
	}

	return &Filter{node: node, raw: expression, fields: fields}, nil
}

// Compile parses expression and renders it as a SQL predicate. An empty
// expression matches everything.
func Compile(expression string, fields map[string]FieldDef) (*BuildResult, error) {
	if strings.TrimSpace(expression) == "" {
		return &BuildResult{SQL: "1"}, nil
	}
	f, err := Parse(expression, fields)
	if err != nil {
		return nil, err
	}
	return f.SQL()
}

// buildEnv creates the typed environment for expr compilation.
func buildEnv(fields map[string]FieldDef) map[string]any {
	env := make(map[string]any, len(fields)+6)

	for name, field := range fields {
		switch field.Type {
		case FieldTypeString:
			env[name] = ""
		case FieldTypeInt:
			env[name] = 0
		case FieldTypeFloat:
			env[name] = 0.0
		case FieldTypeTime:
			env[name] = time.Time{}
		case FieldTypeMap:
			env[name] = map[string]any{}
		}
	}

	env["now"] = func() time.Time { return time.Now() }
	env["duration"] = func(s string) time.Duration {
		d, _ := time.ParseDuration(s)
		return d
	}

	// Placeholders so method-style string operators type-check.
	env["contains"] = func(s, substr string) bool { return true }
	env["startsWith"] = func(s, prefix string) bool { return true }
	env["endsWith"] = func(s, suffix string) bool { return true }
	env["matches"] = func(s, pattern string) bool { return true }

	return env
}

// validationVisitor checks fields and operators in the AST.
type validationVisitor struct {
	fields map[string]FieldDef
	err    error
}

func (v *validationVisitor) Visit(node *ast.Node) {
	if v.err != nil {
		return
	}

	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		if _, ok := v.fields[n.Value]; !ok && !AllowedFunctions[n.Value] && !isBuiltinFunction(n.Value) {
			v.err = fmt.Errorf("unknown field: %s", n.Value)
		}

	case *ast.BinaryNode:
		if ident, ok := n.Left.(*ast.IdentifierNode); ok {
			if field, ok := v.fields[ident.Value]; ok && !field.IsOperatorAllowed(n.Operator) {
				v.err = fmt.Errorf("operator %q not allowed for field %q", n.Operator, ident.Value)
			}
		}

	case *ast.MemberNode:
		// Map access like attributes.status
		if ident, ok := n.Node.(*ast.IdentifierNode); ok {
			if field, ok := v.fields[ident.Value]; ok && field.Type != FieldTypeMap {
				v.err = fmt.Errorf("field %q does not support member access", ident.Value)
			}
		}

	case *ast.CallNode:
		if ident, ok := n.Callee.(*ast.IdentifierNode); ok {
			if !AllowedFunctions[ident.Value] && !isBuiltinFunction(ident.Value) {
				v.err = fmt.Errorf("function %q is not allowed", ident.Value)
			}
		}
	}
}

var builtinFunctions = map[string]bool{
	"len": true, "lower": true, "upper": true,
}

func isBuiltinFunction(name string) bool {
	return builtinFunctions[name]
}
