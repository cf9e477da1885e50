package trigger

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func genSimpleExpr() gopter.Gen {
	idents := []string{"satellite_elevation", "pop_ping_latency_ms", "weather_wind_speed_kph"}
	ops := []string{">", "<", ">=", "<=", "==", "!="}
	return gen.Struct(reflect.TypeOf(exprParts{}), map[string]gopter.Gen{
		"Ident": gen.OneConstOf(idents[0], idents[1], idents[2]),
		"Op":    gen.OneConstOf(ops[0], ops[1], ops[2], ops[3], ops[4], ops[5]),
		"Val":   gen.Float64Range(-1000, 1000),
	})
}

type exprParts struct {
	Ident string
	Op    string
	Val   float64
}

// TestParseRoundTrip validates the round-trip property from section 8:
// parse(format(expr)) == expr, where format here is simply the source text
// the caller stored, since Expr retains it verbatim.
func TestParseRoundTrip(t *testing.T) {
	props := gopter.NewProperties(nil)

	props.Property("parsed expression retains its source text", prop.ForAll(
		func(parts exprParts) bool {
			src := fmt.Sprintf("%s %s %g", parts.Ident, parts.Op, parts.Val)
			e, err := Parse(src)
			if err != nil {
				return false
			}
			return e.String() == src
		},
		genSimpleExpr(),
	))

	props.TestingRun(t)
}

func TestUnresolvedIdentFailsClosed(t *testing.T) {
	e, err := Parse("satellite_elevation > 30")
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if Eval(e, map[string]Value{}) {
		t.Fatalf("expected unresolved identifier to fail closed to false")
	}
}

func TestMixedTypeComparisonFailsClosed(t *testing.T) {
	e, err := Parse("satellite_state == 30")
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	values := map[string]Value{"satellite_state": {Kind: KindString, Str: "CONNECTED"}}
	if Eval(e, values) {
		t.Fatalf("expected mismatched literal/actual types to fail closed")
	}
}

func TestScenarioSixElevationBelowThreshold(t *testing.T) {
	e, err := Parse("satellite_elevation >= 30")
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	values := map[string]Value{"satellite_elevation": {Kind: KindNumber, Num: 12}}
	if Eval(e, values) {
		t.Fatalf("expected elevation 12 < threshold 30 to evaluate false, triggering SKIPPED")
	}
}

func TestAndOrPrecedence(t *testing.T) {
	e, err := Parse("a == 'x' and b > 1 or c < 5")
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	// a==x fails, b>1 fails -> conj false; c<5 true -> or makes it true.
	values := map[string]Value{
		"a": {Kind: KindString, Str: "y"},
		"b": {Kind: KindNumber, Num: 0},
		"c": {Kind: KindNumber, Num: 2},
	}
	if !Eval(e, values) {
		t.Fatalf("expected or-branch to make expression true")
	}
}
