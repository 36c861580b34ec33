package catalog

import (
	"testing"
)

func TestPredicateMatches(t *testing.T) {
	tests := []struct {
		name string
		pred Predicate
		val  any
		want bool
	}{
		{"absent matches anything", Absent(), 123.0, true},
		{"absent matches string", Absent(), "sentinel-2a", true},
		{"eq number", Eq(32), 32.0, true},
		{"eq number mismatch", Eq(32), 33.0, false},
		{"eq string", Eq("U"), "U", true},
		{"neq", NotEq("U"), "T", true},
		{"neq mismatch", NotEq("U"), "U", false},
		{"gt pass", Gt(10), 15.0, true},
		{"gt boundary", Gt(10), 10.0, false},
		{"gte boundary", Gte(10), 10.0, true},
		{"lt pass", Lt(20), 19.5, true},
		{"lt boundary", Lt(20), 20.0, false},
		{"lte boundary", Lte(20), 20.0, true},
		{"in member", In("sentinel-2a", "sentinel-2b"), "sentinel-2b", true},
		{"in non-member", In("sentinel-2a"), "sentinel-2b", false},
		{"in numeric coercion", In(32.0, 33.0), 33, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pred.Matches(tt.val); got != tt.want {
				t.Errorf("Matches(%v) = %v, want %v", tt.val, got, tt.want)
			}
		})
	}
}

func TestParsePredicate(t *testing.T) {
	tests := []struct {
		name        string
		spec        map[string]any
		val         any
		want        bool
		expectError bool
	}{
		{
			name: "lt operator",
			spec: map[string]any{"lt": 20.0},
			val:  19.0,
			want: true,
		},
		{
			name: "gt operator",
			spec: map[string]any{"gt": 10.0},
			val:  5.0,
			want: false,
		},
		{
			name: "le alias",
			spec: map[string]any{"le": 20.0},
			val:  20.0,
			want: true,
		},
		{
			name: "ge alias",
			spec: map[string]any{"ge": 10.0},
			val:  10.0,
			want: true,
		},
		{
			name: "in operator",
			spec: map[string]any{"in": []any{"sentinel-2a"}},
			val:  "sentinel-2a",
			want: true,
		},
		{
			name: "empty map is absent",
			spec: map[string]any{},
			val:  "whatever",
			want: true,
		},
		{
			name: "nil map is absent",
			spec: nil,
			val:  42.0,
			want: true,
		},
		{
			name:        "unknown operator",
			spec:        map[string]any{"between": 5.0},
			expectError: true,
		},
		{
			name:        "two operators",
			spec:        map[string]any{"gt": 1.0, "lt": 2.0},
			expectError: true,
		},
		{
			name:        "in without list",
			spec:        map[string]any{"in": "sentinel-2a"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePredicate(tt.spec)
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := p.Matches(tt.val); got != tt.want {
				t.Errorf("Matches(%v) = %v, want %v", tt.val, got, tt.want)
			}
		})
	}
}

func TestPredicateExpression(t *testing.T) {
	if expr := Absent().Expression(PropCloudCover); expr != nil {
		t.Errorf("absent predicate must compile to nil, got %v", expr)
	}
	if expr := Lt(20).Expression(PropCloudCover); expr == nil {
		t.Error("lt predicate must compile to a comparison")
	}
	if expr := In("sentinel-2a", "sentinel-2b").Expression(PropPlatform); expr == nil {
		t.Error("in predicate must compile to a membership test")
	}
}

func TestTilePredicatesMatches(t *testing.T) {
	record := SceneRecord{
		ID:           "S2A_33UUU_20210904_0_L2A",
		Platform:     "sentinel-2a",
		CloudCover:   12.0,
		DataCoverage: 87.5,
		UTMZone:      33,
		LatitudeBand: "U",
		GridSquare:   "UU",
	}

	all := TilePredicates{
		Platform:     In("sentinel-2a", "sentinel-2b"),
		CloudCover:   Lt(20),
		DataCoverage: Gt(10),
		UTMZone:      Eq(33),
		LatitudeBand: Eq("U"),
		GridSquare:   Eq("UU"),
	}
	if !all.Matches(record) {
		t.Error("record should satisfy all predicates")
	}

	cloudy := all
	cloudy.CloudCover = Lt(10)
	if cloudy.Matches(record) {
		t.Error("record should fail the cloud cover predicate")
	}

	// All-absent predicate set imposes no filter at all.
	if !(TilePredicates{}).Matches(record) {
		t.Error("empty predicate set must match every record")
	}
}

func TestTilePredicatesExpressions(t *testing.T) {
	preds := TilePredicates{
		Platform:   In("sentinel-2a"),
		CloudCover: Lt(20),
	}
	exprs := preds.Expressions()
	if len(exprs) != 2 {
		t.Fatalf("expected 2 expressions, got %d", len(exprs))
	}

	if got := (TilePredicates{}).Expressions(); len(got) != 0 {
		t.Errorf("empty predicate set must compile to no expressions, got %d", len(got))
	}
}
