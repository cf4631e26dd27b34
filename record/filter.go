package record

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Op is a filter comparison operator.
type Op int

const (
	Eq Op = iota
	Lt
	Le
	Gt
	Ge
)

func (o Op) token() string {
	switch o {
	case Eq:
		return "="
	case Lt:
		return "<"
	case Le:
		return "<="
	case Gt:
		return ">"
	case Ge:
		return ">="
	default:
		return "?"
	}
}

// Filter is a single conjunctive predicate over a declared column.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

// Query describes a structured lookup: conjunctive predicates, optional
// ordering, optional pagination, optional payload field projection.
type Query struct {
	Filters    []Filter
	OrderBy    string
	Descending bool

	// Limit and Offset apply after all filters, native and client-side,
	// so result identity stays stable. Zero means unbounded.
	Limit  int
	Offset int

	// Fields restricts which payload fields are retrieved. Empty means
	// the full payload.
	Fields []string
}

// resolvedFilter carries a filter whose column type has been looked up and
// whose operand has been converted to a comparably-typed native value.
type resolvedFilter struct {
	column  string
	op      Op
	typ     ColumnType
	operand types.AttributeValue
}

// resolveFilter adapts a typed column filter for the store's predicate
// engine. Filters on undeclared columns are usage errors, surfaced before
// any network call.
func (s *Spec[I, R]) resolveFilter(f Filter) (resolvedFilter, error) {
	col, ok := s.column(f.Column)
	if !ok {
		return resolvedFilter{}, fmt.Errorf("%w: %q is not declared on kind %q", ErrUnknownColumn, f.Column, s.kind)
	}
	operand, err := Convert(col.Type, f.Value)
	if err != nil {
		return resolvedFilter{}, err
	}
	return resolvedFilter{column: f.Column, op: f.Op, typ: col.Type, operand: operand}, nil
}

// pushdown reports whether the store's native predicate engine shares the
// filter's comparison semantics. Encoded messages order differently than
// their source values, and blob/bool tags only agree on equality, so those
// are evaluated client-side after retrieval: correctness never depends on
// the store's filter semantics matching the logical semantics bit-for-bit.
func (f resolvedFilter) pushdown() bool {
	if _, isNull := f.operand.(*types.AttributeValueMemberNULL); isNull {
		// Null comparisons are not expressible natively.
		return false
	}
	switch f.typ {
	case TypeString, TypeInteger, TypeDouble, TypeTimestamp, TypeEnum:
		return true
	case TypeBool, TypeBytes:
		return f.op == Eq
	default:
		return false
	}
}

// matches evaluates the filter against a column value already converted to
// its native representation.
func (f resolvedFilter) matches(v types.AttributeValue) bool {
	cmp, ok := compareValues(v, f.operand)
	if !ok {
		return false
	}
	switch f.op {
	case Eq:
		return cmp == 0
	case Lt:
		return cmp < 0
	case Le:
		return cmp <= 0
	case Gt:
		return cmp > 0
	case Ge:
		return cmp >= 0
	default:
		return false
	}
}
