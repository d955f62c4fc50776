// Package filter parses AIP-160 audit filters and evaluates them either as
// SQL fragments or directly against events.
package filter

import (
	"fmt"
	"strings"
	"time"

	"go.einride.tech/aip/filtering"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	apperrors "github.com/louisbranch/freightdesk/internal/platform/errors"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/event"
)

// EventDeclarations returns the field declarations for event filtering.
func EventDeclarations() (*filtering.Declarations, error) {
	return filtering.NewDeclarations(
		filtering.DeclareStandardFunctions(),
		filtering.DeclareIdent("type", filtering.TypeString),
		filtering.DeclareIdent("actor_id", filtering.TypeString),
		filtering.DeclareIdent("actor_role", filtering.TypeString),
		filtering.DeclareIdent("old_status", filtering.TypeString),
		filtering.DeclareIdent("new_status", filtering.TypeString),
		filtering.DeclareIdent("ts", filtering.TypeTimestamp),
	)
}

// SQLCondition represents a SQL WHERE clause fragment with parameters.
type SQLCondition struct {
	// Clause is the SQL WHERE clause (e.g., "event_type = ?").
	Clause string
	// Params are the positional parameters for the clause.
	Params []any
}

// fieldMapping maps filter field names to SQL column names.
var fieldMapping = map[string]string{
	"type":       "event_type",
	"actor_id":   "actor_id",
	"actor_role": "actor_role",
	"old_status": "old_status",
	"new_status": "new_status",
	"ts":         "created_at",
}

// Filter is a parsed, type-checked audit filter. The zero value and nil
// match everything.
type Filter struct {
	raw  string
	root node
}

// filterRequest adapts a raw filter string to filtering.Request.
type filterRequest string

func (r filterRequest) GetFilter() string { return string(r) }

// Parse parses an AIP-160 filter expression. An empty expression yields nil.
func Parse(filterStr string) (*Filter, error) {
	filterStr = strings.TrimSpace(filterStr)
	if filterStr == "" {
		return nil, nil
	}

	decls, err := EventDeclarations()
	if err != nil {
		return nil, fmt.Errorf("create declarations: %w", err)
	}

	parsed, err := filtering.ParseFilter(filterRequest(filterStr), decls)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeFilterInvalid, "invalid filter", err)
	}
	if parsed.CheckedExpr == nil {
		return nil, nil
	}

	root, err := translateExpr(parsed.CheckedExpr.Expr)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeFilterInvalid, "unsupported filter", err)
	}
	return &Filter{raw: filterStr, root: root}, nil
}

// String returns the original expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.raw
}

// SQL renders the filter as a WHERE fragment. Nil renders an empty clause.
func (f *Filter) SQL() SQLCondition {
	if f == nil || f.root == nil {
		return SQLCondition{}
	}
	return f.root.sql()
}

// Match evaluates the filter against evt.
func (f *Filter) Match(evt event.Event) bool {
	if f == nil || f.root == nil {
		return true
	}
	return f.root.match(evt)
}

type node interface {
	sql() SQLCondition
	match(evt event.Event) bool
}

type logical struct {
	op          string
	left, right node
}

func (l logical) sql() SQLCondition {
	left, right := l.left.sql(), l.right.sql()
	params := make([]any, 0, len(left.Params)+len(right.Params))
	params = append(params, left.Params...)
	params = append(params, right.Params...)
	return SQLCondition{
		Clause: fmt.Sprintf("(%s %s %s)", left.Clause, l.op, right.Clause),
		Params: params,
	}
}

func (l logical) match(evt event.Event) bool {
	if l.op == "AND" {
		return l.left.match(evt) && l.right.match(evt)
	}
	return l.left.match(evt) || l.right.match(evt)
}

type negation struct {
	inner node
}

func (n negation) sql() SQLCondition {
	inner := n.inner.sql()
	return SQLCondition{Clause: "NOT " + inner.Clause, Params: inner.Params}
}

func (n negation) match(evt event.Event) bool {
	return !n.inner.match(evt)
}

type comparison struct {
	field string
	op    string
	value any
}

func (c comparison) sql() SQLCondition {
	return SQLCondition{
		Clause: fmt.Sprintf("%s %s ?", fieldMapping[c.field], c.op),
		Params: []any{c.value},
	}
}

func (c comparison) match(evt event.Event) bool {
	if c.field == "ts" {
		want, _ := c.value.(int64)
		return compareOrdered(evt.CreatedAt.UTC().UnixMilli(), want, c.op)
	}
	want, _ := c.value.(string)
	return compareOrdered(fieldValue(evt, c.field), want, c.op)
}

func fieldValue(evt event.Event, field string) string {
	switch field {
	case "type":
		return string(evt.Type)
	case "actor_id":
		return evt.ActorID
	case "actor_role":
		return evt.ActorRole
	case "old_status":
		return string(evt.OldStatus)
	case "new_status":
		return string(evt.NewStatus)
	default:
		return ""
	}
}

func compareOrdered[T int64 | string](got, want T, op string) bool {
	switch op {
	case "=":
		return got == want
	case "!=":
		return got != want
	case "<":
		return got < want
	case "<=":
		return got <= want
	case ">":
		return got > want
	case ">=":
		return got >= want
	default:
		return false
	}
}

// translateExpr translates a CEL expression to a filter node.
func translateExpr(e *expr.Expr) (node, error) {
	if e == nil {
		return nil, fmt.Errorf("nil expression")
	}

	switch kind := e.ExprKind.(type) {
	case *expr.Expr_CallExpr:
		return translateCall(kind.CallExpr)
	default:
		return nil, fmt.Errorf("unsupported expression type: %T", kind)
	}
}

// translateCall translates a CEL function call to a filter node.
func translateCall(call *expr.Expr_Call) (node, error) {
	switch call.Function {
	case "_&&_", "AND", "FUZZY":
		return translateLogical(call.Args, "AND")
	case "_||_", "OR":
		return translateLogical(call.Args, "OR")
	case "_!_", "NOT":
		if len(call.Args) != 1 {
			return nil, fmt.Errorf("NOT requires 1 argument")
		}
		inner, err := translateExpr(call.Args[0])
		if err != nil {
			return nil, err
		}
		return negation{inner: inner}, nil
	case "_==_", "=":
		return translateComparison(call.Args, "=")
	case "_!=_", "!=":
		return translateComparison(call.Args, "!=")
	case "_<_", "<":
		return translateComparison(call.Args, "<")
	case "_<=_", "<=":
		return translateComparison(call.Args, "<=")
	case "_>_", ">":
		return translateComparison(call.Args, ">")
	case "_>=_", ">=":
		return translateComparison(call.Args, ">=")
	default:
		return nil, fmt.Errorf("unsupported function: %s", call.Function)
	}
}

func translateLogical(args []*expr.Expr, op string) (node, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%s requires 2 arguments", op)
	}

	left, err := translateExpr(args[0])
	if err != nil {
		return nil, err
	}

	right, err := translateExpr(args[1])
	if err != nil {
		return nil, err
	}

	return logical{op: op, left: left, right: right}, nil
}

func translateComparison(args []*expr.Expr, op string) (node, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("comparison requires 2 arguments")
	}

	field, err := extractFieldName(args[0])
	if err != nil {
		return nil, err
	}
	if _, ok := fieldMapping[field]; !ok {
		return nil, fmt.Errorf("unknown field: %s", field)
	}

	if field == "ts" {
		ms, err := extractTimestamp(args[1])
		if err != nil {
			return nil, err
		}
		return comparison{field: field, op: op, value: ms}, nil
	}

	value, err := extractString(args[1])
	if err != nil {
		return nil, err
	}
	return comparison{field: field, op: op, value: value}, nil
}

func extractFieldName(e *expr.Expr) (string, error) {
	if e == nil {
		return "", fmt.Errorf("nil expression")
	}

	switch kind := e.ExprKind.(type) {
	case *expr.Expr_IdentExpr:
		return kind.IdentExpr.Name, nil
	default:
		return "", fmt.Errorf("expected identifier, got %T", kind)
	}
}

func extractString(e *expr.Expr) (string, error) {
	if e == nil {
		return "", fmt.Errorf("nil expression")
	}
	c, ok := e.ExprKind.(*expr.Expr_ConstExpr)
	if !ok {
		return "", fmt.Errorf("expected constant, got %T", e.ExprKind)
	}
	s, ok := c.ConstExpr.ConstantKind.(*expr.Constant_StringValue)
	if !ok {
		return "", fmt.Errorf("expected string constant, got %T", c.ConstExpr.ConstantKind)
	}
	return s.StringValue, nil
}

// extractTimestamp accepts timestamp("...") and returns Unix milliseconds.
func extractTimestamp(e *expr.Expr) (int64, error) {
	if e == nil {
		return 0, fmt.Errorf("nil expression")
	}
	call, ok := e.ExprKind.(*expr.Expr_CallExpr)
	if !ok || call.CallExpr.Function != "timestamp" || len(call.CallExpr.Args) != 1 {
		return 0, fmt.Errorf("ts must be compared with timestamp(\"...\")")
	}
	raw, err := extractString(call.CallExpr.Args[0])
	if err != nil {
		return 0, fmt.Errorf("timestamp argument must be a constant string")
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp format: %s", raw)
	}
	return t.UTC().UnixMilli(), nil
}
