package catalog

import (
	"fmt"
	"strconv"

	"github.com/planetlabs/go-ogc/filter"
)

// Catalog property names the tile-level predicates apply to.
const (
	PropPlatform     = "platform"
	PropCloudCover   = "eo:cloud_cover"
	PropDataCoverage = "sentinel:data_coverage"
	PropUTMZone      = "sentinel:utm_zone"
	PropLatitudeBand = "sentinel:latitude_band"
	PropGridSquare   = "sentinel:grid_square"
)

// op is a comparison operator on a single catalog field.
type op int

const (
	opAbsent op = iota
	opEq
	opNeq
	opGt
	opGte
	opLt
	opLte
	opIn
)

var opNames = map[string]op{
	"eq":  opEq,
	"neq": opNeq,
	"gt":  opGt,
	"gte": opGte,
	"ge":  opGte,
	"lt":  opLt,
	"lte": opLte,
	"le":  opLte,
	"in":  opIn,
}

// Predicate is one optional comparison constraint on a catalog field. The
// zero value is the absent predicate, which matches every record.
type Predicate struct {
	op     op
	value  any
	values []any
}

// Absent returns the unconstrained predicate.
func Absent() Predicate { return Predicate{} }

// Eq constrains the field to equal v.
func Eq(v any) Predicate { return Predicate{op: opEq, value: v} }

// NotEq constrains the field to differ from v.
func NotEq(v any) Predicate { return Predicate{op: opNeq, value: v} }

// Gt constrains the field to be greater than v.
func Gt(v float64) Predicate { return Predicate{op: opGt, value: v} }

// Gte constrains the field to be greater than or equal to v.
func Gte(v float64) Predicate { return Predicate{op: opGte, value: v} }

// Lt constrains the field to be less than v.
func Lt(v float64) Predicate { return Predicate{op: opLt, value: v} }

// Lte constrains the field to be less than or equal to v.
func Lte(v float64) Predicate { return Predicate{op: opLte, value: v} }

// In constrains the field to be a member of values.
func In(values ...any) Predicate { return Predicate{op: opIn, values: values} }

// IsAbsent reports whether the predicate imposes no constraint.
func (p Predicate) IsAbsent() bool { return p.op == opAbsent }

// ParsePredicate builds a Predicate from the one-key JSON object form used in
// the configuration file, e.g. {"lt": 20} or {"in": ["sentinel-2a"]}.
// A nil or empty map is the absent predicate.
func ParsePredicate(spec map[string]any) (Predicate, error) {
	if len(spec) == 0 {
		return Absent(), nil
	}
	if len(spec) != 1 {
		return Predicate{}, fmt.Errorf("predicate must have exactly one operator, got %d", len(spec))
	}
	for name, raw := range spec {
		o, ok := opNames[name]
		if !ok {
			return Predicate{}, fmt.Errorf("unknown predicate operator %q, must be one of: eq, neq, gt, gte, lt, lte, in", name)
		}
		if o == opIn {
			list, ok := raw.([]any)
			if !ok {
				return Predicate{}, fmt.Errorf("operator %q requires a list value", name)
			}
			return Predicate{op: opIn, values: list}, nil
		}
		return Predicate{op: o, value: raw}, nil
	}
	return Absent(), nil // unreachable
}

// Matches evaluates the predicate against a record field value.
func (p Predicate) Matches(v any) bool {
	switch p.op {
	case opAbsent:
		return true
	case opEq:
		return valuesEqual(v, p.value)
	case opNeq:
		return !valuesEqual(v, p.value)
	case opIn:
		for _, candidate := range p.values {
			if valuesEqual(v, candidate) {
				return true
			}
		}
		return false
	}

	a, aok := toFloat(v)
	b, bok := toFloat(p.value)
	if !aok || !bok {
		return false
	}
	switch p.op {
	case opGt:
		return a > b
	case opGte:
		return a >= b
	case opLt:
		return a < b
	case opLte:
		return a <= b
	}
	return false
}

// Expression compiles the predicate into a CQL2 comparison on the given
// property, or nil for the absent predicate.
func (p Predicate) Expression(property string) filter.BooleanExpression {
	prop := &filter.Property{Name: property}

	switch p.op {
	case opAbsent:
		return nil
	case opIn:
		list := make([]filter.ScalarExpression, 0, len(p.values))
		for _, v := range p.values {
			list = append(list, scalar(v))
		}
		return &filter.In{Item: prop, List: list}
	case opEq:
		return &filter.Comparison{Name: filter.Equals, Left: prop, Right: scalar(p.value)}
	case opNeq:
		return &filter.Comparison{Name: filter.NotEquals, Left: prop, Right: scalar(p.value)}
	case opGt:
		return &filter.Comparison{Name: filter.GreaterThan, Left: prop, Right: scalar(p.value)}
	case opGte:
		return &filter.Comparison{Name: filter.GreaterThanOrEquals, Left: prop, Right: scalar(p.value)}
	case opLt:
		return &filter.Comparison{Name: filter.LessThan, Left: prop, Right: scalar(p.value)}
	case opLte:
		return &filter.Comparison{Name: filter.LessThanOrEquals, Left: prop, Right: scalar(p.value)}
	}
	return nil
}

func scalar(v any) filter.ScalarExpression {
	if f, ok := toFloat(v); ok {
		return &filter.Number{Value: f}
	}
	return &filter.String{Value: fmt.Sprintf("%v", v)}
}

// valuesEqual compares two field values, numerically when both sides parse as
// numbers so that 32 and 32.0 from JSON compare equal.
func valuesEqual(a, b any) bool {
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if aok && bok {
		return fa == fb
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// TilePredicates holds the optional tile-level constraints applied to
// candidate scenes, both in the catalog query and again locally by the
// SceneFilter.
type TilePredicates struct {
	Platform     Predicate
	CloudCover   Predicate
	DataCoverage Predicate
	UTMZone      Predicate
	LatitudeBand Predicate
	GridSquare   Predicate
}

// Matches reports whether a record satisfies every non-absent predicate.
func (tp TilePredicates) Matches(r SceneRecord) bool {
	return tp.Platform.Matches(r.Platform) &&
		tp.CloudCover.Matches(r.CloudCover) &&
		tp.DataCoverage.Matches(r.DataCoverage) &&
		tp.UTMZone.Matches(r.UTMZone) &&
		tp.LatitudeBand.Matches(r.LatitudeBand) &&
		tp.GridSquare.Matches(r.GridSquare)
}

// Expressions compiles all non-absent predicates into CQL2 comparisons.
func (tp TilePredicates) Expressions() []filter.BooleanExpression {
	fields := []struct {
		property string
		pred     Predicate
	}{
		{PropPlatform, tp.Platform},
		{PropCloudCover, tp.CloudCover},
		{PropDataCoverage, tp.DataCoverage},
		{PropUTMZone, tp.UTMZone},
		{PropLatitudeBand, tp.LatitudeBand},
		{PropGridSquare, tp.GridSquare},
	}

	exprs := make([]filter.BooleanExpression, 0, len(fields))
	for _, f := range fields {
		if expr := f.pred.Expression(f.property); expr != nil {
			exprs = append(exprs, expr)
		}
	}
	return exprs
}
