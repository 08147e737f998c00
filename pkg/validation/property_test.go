package validation

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

// Evaluate must be a pure function: for any payload, two runs over the same
// inputs return identical results, fingerprint included, and validity is
// exactly "no error-severity issues".
func TestEvaluate_DeterminismProperty(t *testing.T) {
	engine := NewEngine()
	pack := compileTestPack(t)

	properties := gopter.NewProperties(nil)

	properties.Property("repeated evaluation is identical", prop.ForAll(
		func(number string, code string, loss float64) bool {
			payload := map[string]any{
				"incident_number":    number,
				"incident_type_code": code,
				"start_datetime":     "2026-03-01T08:30:00Z",
				"property_loss":      loss,
				"units":              []any{map[string]any{"unit_id": "E-1"}},
			}
			first, err1 := engine.Evaluate(testRecord(payload), pack)
			second, err2 := engine.Evaluate(testRecord(payload), pack)
			if err1 != nil || err2 != nil {
				return false
			}
			return assert.ObjectsAreEqual(first, second)
		},
		gen.AlphaString(),
		gen.OneConstOf("FIRE", "EMS", "MUTUAL_AID", "STRUCTURE_FIRE", ""),
		gen.Float64Range(-1000, 1_000_000),
	))

	properties.Property("valid iff no error issues", prop.ForAll(
		func(code string, loss float64) bool {
			payload := map[string]any{
				"incident_number":    "F-1",
				"incident_type_code": code,
				"start_datetime":     "2026-03-01T08:30:00Z",
				"property_loss":      loss,
				"units":              []any{map[string]any{"unit_id": "E-1"}},
			}
			result, err := engine.Evaluate(testRecord(payload), pack)
			if err != nil {
				return false
			}
			return result.Valid == !HasErrors(result.Issues)
		},
		gen.OneConstOf("FIRE", "EMS", "bogus"),
		gen.Float64Range(-1000, 1_000_000),
	))

	properties.TestingRun(t)
}

func TestEditDistance(t *testing.T) {
	assert.Equal(t, 0, editDistance("fire", "fire"))
	assert.Equal(t, 1, editDistance("fire", "fired"))
	assert.Equal(t, 4, editDistance("", "fire"))
	assert.Equal(t, 4, editDistance("ems", "fire"))
}
