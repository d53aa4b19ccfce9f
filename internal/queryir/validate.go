package queryir

import (
	"fmt"
	"strings"
)

// ValidationResult lists structural problems of a query.
type ValidationResult struct {
	// IsValid is true when Warnings is empty.
	IsValid bool

	// Warnings describes each problem found, in traversal order.
	Warnings []string
}

// Validate checks a query for problems a backend cannot compile: missing
// table or column names, nil operands, negative paging, and parameter
// values that are not in storage form.
//
// Validate is a pure function with no side effects.
func Validate(query Query) ValidationResult {
	v := &validator{
		warnings: []string{},
	}
	v.validateQuery(query)

	return ValidationResult{
		IsValid:  len(v.warnings) == 0,
		Warnings: v.warnings,
	}
}

// Error returns the warnings joined into one error, or nil when valid.
func (r ValidationResult) Error() error {
	if r.IsValid {
		return nil
	}
	return fmt.Errorf("invalid query: %s", strings.Join(r.Warnings, "; "))
}

// validator accumulates warnings during traversal.
type validator struct {
	warnings []string
}

func (v *validator) addWarning(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

func (v *validator) validateQuery(q Query) {
	switch query := q.(type) {
	case nil:
		v.addWarning("nil query")
	case Select:
		v.validateSelect(query, true)
	case *Select:
		v.validateSelect(*query, true)
	case Count:
		v.validateSelect(query.Source, false)
	case *Count:
		v.validateSelect(query.Source, false)
	default:
		v.addWarning("unknown query type %T", q)
	}
}

func (v *validator) validateSelect(sel Select, needColumns bool) {
	if sel.From == "" {
		v.addWarning("select has no table")
	}
	if needColumns && len(sel.Columns) == 0 {
		v.addWarning("select of %q reads no columns", sel.From)
	}
	for i, c := range sel.Columns {
		if c == "" {
			v.addWarning("column %d has no name", i)
		}
	}
	if sel.Filter != nil {
		v.validatePredicate(sel.Filter)
	}
	for _, k := range sel.OrderBy {
		v.validateOperand(k.Key)
	}
	if sel.Limit != nil && *sel.Limit < 0 {
		v.addWarning("negative limit %d", *sel.Limit)
	}
	if sel.Offset != nil && *sel.Offset < 0 {
		v.addWarning("negative offset %d", *sel.Offset)
	}
}

func (v *validator) validatePredicate(p Predicate) {
	switch pred := p.(type) {
	case nil:
		v.addWarning("nil predicate")
	case Compare:
		if pred.Op < Eq || pred.Op > Ge {
			v.addWarning("unknown comparison operator %d", pred.Op)
		}
		v.validateOperand(pred.Left)
		v.validateOperand(pred.Right)
	case IsNull:
		v.validateOperand(pred.Operand)
	case And:
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub)
		}
	case Or:
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub)
		}
	case Not:
		v.validatePredicate(pred.Predicate)
	case Truth:
		v.validateOperand(pred.Operand)
	case HasFlags:
		if pred.Mask < 0 {
			v.addWarning("negative flag mask %d", pred.Mask)
		}
		v.validateOperand(pred.Operand)
	case In:
		v.validateOperand(pred.Operand)
		for _, val := range pred.Values {
			v.validateValue(val)
		}
	case Match:
		if pred.Kind < Contains || pred.Kind > EndsWith {
			v.addWarning("unknown match kind %d", pred.Kind)
		}
		v.validateOperand(pred.Subject)
	default:
		v.addWarning("unknown predicate type %T", p)
	}
}

func (v *validator) validateOperand(o Operand) {
	switch op := o.(type) {
	case nil:
		v.addWarning("nil operand")
	case Column:
		if op.Name == "" {
			v.addWarning("column reference has no name")
		}
	case Param:
		v.validateValue(op.Value)
	case Arith:
		if op.Op < Add || op.Op > Mul {
			v.addWarning("unknown arithmetic operator %d", op.Op)
		}
		v.validateOperand(op.Left)
		v.validateOperand(op.Right)
	case Negate:
		v.validateOperand(op.Operand)
	case Length:
		v.validateOperand(op.Operand)
	case IndexOf:
		v.validateOperand(op.Operand)
	default:
		v.addWarning("unknown operand type %T", o)
	}
}

func (v *validator) validateValue(val any) {
	switch val.(type) {
	case nil, int64, float64, string, bool, []byte:
	default:
		v.addWarning("parameter of type %T is not a storage value", val)
	}
}
