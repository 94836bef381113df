package query

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/expr-lang/expr/ast"
)

// reDoSPattern detects nested quantifiers like (a+)+ or (a|a)+.
var reDoSPattern = regexp.MustCompile(`\([^)]*[+*][^)]*\)[+*]|\([^)]*\|[^)]*\)[+*]`)

// BuildResult contains the generated SQL and positional parameters.
type BuildResult struct {
	SQL  string
	Args []any
}

// SQL renders the filter as a ClickHouse predicate.
func (f *Filter) SQL() (*BuildResult, error) {
	b := &sqlBuilder{fields: f.fields}
	node := f.node
	sql, err := b.visit(node)
	if err != nil {
		return nil, err
	}
	return &BuildResult{SQL: sql, Args: b.args}, nil
}

type sqlBuilder struct {
	fields map[string]FieldDef
	args   []any
}

func (b *sqlBuilder) bind(v any) string {
	if s, ok := v.(string); ok {
		v = strings.ToLower(s)
	}
	b.args = append(b.args, v)
	return "?"
}

func (b *sqlBuilder) visit(node ast.Node) (string, error) {
	switch n := node.(type) {
	case *ast.BinaryNode:
		return b.binary(n)
	case *ast.UnaryNode:
		operand, err := b.visit(n.Node)
		if err != nil {
			return "", err
		}
		switch n.Operator {
		case "not", "!":
			return fmt.Sprintf("NOT (%s)", operand), nil
		case "-":
			return "-" + operand, nil
		}
		return "", fmt.Errorf("unsupported unary operator: %s", n.Operator)
	case *ast.IdentifierNode:
		if field, ok := b.fields[n.Value]; ok {
			return field.Column, nil
		}
		return "", fmt.Errorf("unknown field: %s", n.Value)
	case *ast.StringNode:
		return b.bind(n.Value), nil
	case *ast.IntegerNode:
		return b.bind(n.Value), nil
	case *ast.FloatNode:
		return b.bind(n.Value), nil
	case *ast.BoolNode:
		if n.Value {
			return "1", nil
		}
		return "0", nil
	case *ast.NilNode:
		return "NULL", nil
	case *ast.ArrayNode:
		parts := make([]string, len(n.Nodes))
		for i, item := range n.Nodes {
			sql, err := b.visit(item)
			if err != nil {
				return "", err
			}
			parts[i] = sql
		}
		return "(" + strings.Join(parts, ", ") + ")", nil
	case *ast.ConstantNode:
		return b.constant(n.Value)
	case *ast.CallNode:
		return b.call(n)
	case *ast.MemberNode:
		return b.member(n)
	default:
		return "", fmt.Errorf("unsupported node type: %T", n)
	}
}

func (b *sqlBuilder) binary(n *ast.BinaryNode) (string, error) {
	switch n.Operator {
	case "contains", "startsWith", "endsWith", "matches":
		return b.stringMethod(n)
	}

	left, err := b.visit(n.Left)
	if err != nil {
		return "", err
	}
	right, err := b.visit(n.Right)
	if err != nil {
		return "", err
	}

	// String equality and membership are case-insensitive; bound literals
	// are lowercased.
	if b.isStringField(n.Left) && (n.Operator == "==" || n.Operator == "!=" || n.Operator == "in") {
		left = fmt.Sprintf("lower(%s)", left)
	}

	if n.Operator == "in" {
		return fmt.Sprintf("%s IN %s", left, right), nil
	}

	op, err := mapOperator(n.Operator)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("(%s %s %s)", left, op, right), nil
}

// constant handles literals folded by the expr optimizer, including "in" sets.
func (b *sqlBuilder) constant(value any) (string, error) {
	switch val := value.(type) {
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = b.bind(item)
		}
		return "(" + strings.Join(parts, ", ") + ")", nil
	case map[string]struct{}:
		keys := make([]string, 0, len(val))
		for key := range val {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, key := range keys {
			parts[i] = b.bind(key)
		}
		return "(" + strings.Join(parts, ", ") + ")", nil
	case map[int]struct{}:
		keys := make([]int, 0, len(val))
		for key := range val {
			keys = append(keys, key)
		}
		sort.Ints(keys)
		parts := make([]string, len(keys))
		for i, key := range keys {
			parts[i] = b.bind(key)
		}
		return "(" + strings.Join(parts, ", ") + ")", nil
	case string, int, int64, float64:
		return b.bind(val), nil
	case bool:
		if val {
			return "1", nil
		}
		return "0", nil
	default:
		return "", fmt.Errorf("unsupported constant type: %T", val)
	}
}

func (b *sqlBuilder) call(n *ast.CallNode) (string, error) {
	callee, ok := n.Callee.(*ast.IdentifierNode)
	if !ok {
		return "", fmt.Errorf("unsupported callee type")
	}

	switch callee.Value {
	case "now":
		return "now()", nil
	case "duration":
		if len(n.Arguments) != 1 {
			return "", fmt.Errorf("duration() requires exactly 1 argument")
		}
		strNode, ok := n.Arguments[0].(*ast.StringNode)
		if !ok {
			return "", fmt.Errorf("duration() argument must be a string")
		}
		d, err := time.ParseDuration(strNode.Value)
		if err != nil {
			return "", fmt.Errorf("invalid duration: %w", err)
		}
		return fmt.Sprintf("INTERVAL %d SECOND", int64(d.Seconds())), nil
	}

	sqlFn := map[string]string{"lower": "lower", "upper": "upper", "len": "length"}[callee.Value]
	if sqlFn == "" {
		return "", fmt.Errorf("unsupported function: %s", callee.Value)
	}
	if len(n.Arguments) != 1 {
		return "", fmt.Errorf("%s() requires exactly 1 argument", callee.Value)
	}
	arg, err := b.visit(n.Arguments[0])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s(%s)", sqlFn, arg), nil
}

// member renders map access such as attributes.status as attributes['status'].
func (b *sqlBuilder) member(n *ast.MemberNode) (string, error) {
	ident, ok := n.Node.(*ast.IdentifierNode)
	if !ok {
		return "", fmt.Errorf("unsupported member access")
	}
	field, ok := b.fields[ident.Value]
	if !ok {
		return "", fmt.Errorf("unknown field: %s", ident.Value)
	}
	if field.Type != FieldTypeMap {
		return "", fmt.Errorf("field %q does not support member access", ident.Value)
	}

	var key string
	switch prop := n.Property.(type) {
	case *ast.StringNode:
		key = prop.Value
	case *ast.IdentifierNode:
		key = prop.Value
	default:
		return "", fmt.Errorf("unsupported property type")
	}
	if !isValidMapKey(key) {
		return "", fmt.Errorf("invalid map key: %q", key)
	}
	return fmt.Sprintf("%s['%s']", field.Column, key), nil
}

func (b *sqlBuilder) stringMethod(n *ast.BinaryNode) (string, error) {
	left, err := b.visit(n.Left)
	if err != nil {
		return "", err
	}
	if n.Operator == "matches" {
		if strNode, ok := n.Right.(*ast.StringNode); ok && reDoSPattern.MatchString(strNode.Value) {
			return "", fmt.Errorf("potentially dangerous regex pattern: nested quantifiers detected")
		}
	}
	right, err := b.visit(n.Right)
	if err != nil {
		return "", err
	}

	switch n.Operator {
	case "contains":
		return fmt.Sprintf("position(lower(%s), %s) > 0", left, right), nil
	case "startsWith":
		return fmt.Sprintf("startsWith(lower(%s), %s)", left, right), nil
	case "endsWith":
		return fmt.Sprintf("endsWith(lower(%s), %s)", left, right), nil
	default:
		return fmt.Sprintf("match(lower(%s), %s)", left, right), nil
	}
}

func (b *sqlBuilder) isStringField(node ast.Node) bool {
	if ident, ok := node.(*ast.IdentifierNode); ok {
		if field, ok := b.fields[ident.Value]; ok {
			return field.Type == FieldTypeString
		}
	}
	return false
}

func mapOperator(op string) (string, error) {
	switch op {
	case "==":
		return "=", nil
	case "and", "&&":
		return "AND", nil
	case "or", "||":
		return "OR", nil
	case "!=", ">=", "<=", ">", "<", "-", "+", "*", "/":
		return op, nil
	default:
		return "", fmt.Errorf("unknown operator: %s", op)
	}
}

// isValidMapKey allows alphanumerics, underscores, dots and hyphens.
func isValidMapKey(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') &&
			(r < '0' || r > '9') && r != '_' && r != '-' && r != '.' {
			return false
		}
	}
	return true
}
