package deploy

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)


// For any base variable and override variable with the same key,
// the merged environment should contain the override value.


// genValidEnvKey generates a valid environment variable key.
// Valid keys: start with letter or underscore, contain only letters, numbers, underscores.
func genValidEnvKey() gopter.Gen {
	return gen.IntRange(1, 50).FlatMap(func(v interface{}) gopter.Gen {
		length := v.(int)
		return gen.SliceOfN(length, gen.IntRange(0, 62)).Map(func(chars []int) string {
			result := make([]byte, len(chars))
			for i, c := range chars {
				if i == 0 {
					// First char must be letter or underscore
					if c < 26 {
						result[i] = byte('A' + c)
					} else if c < 52 {
						result[i] = byte('a' + (c - 26))
					} else {
						result[i] = '_'
					}
				} else {
					// Subsequent chars can be letter, digit, or underscore
					if c < 26 {
						result[i] = byte('A' + c)
					} else if c < 52 {
						result[i] = byte('a' + (c - 26))
					} else if c < 62 {
						result[i] = byte('0' + (c - 52))
					} else {
						result[i] = '_'
					}
				}
			}
			return string(result)
		})
	}, nil)
}

// genEnvValue generates a random environment variable value.
func genEnvValue() gopter.Gen {
	return gen.IntRange(1, 100).FlatMap(func(v interface{}) gopter.Gen {
		length := v.(int)
		return gen.SliceOfN(length, gen.UInt8()).Map(func(chars []uint8) string {
			result := make([]byte, len(chars))
			for i, c := range chars {
				// Generate printable ASCII characters
				result[i] = byte(32 + (c % 95))
			}
			return string(result)
		})
	}, nil)
}

// genEnvMap generates a map of environment variables.
func genEnvMap() gopter.Gen {
	return gen.IntRange(0, 10).FlatMap(func(v interface{}) gopter.Gen {
		size := v.(int)
		return gen.SliceOfN(size, gen.Struct(reflect.TypeOf(struct {
			Key   string
			Value string
		}{}), map[string]gopter.Gen{
			"Key":   genValidEnvKey(),
			"Value": genEnvValue(),
		})).Map(func(entries []struct {
			Key   string
			Value string
		}) map[string]string {
			result := make(map[string]string, len(entries))
			for _, e := range entries {
				result[e.Key] = e.Value
			}
			return result
		})
	}, nil)
}

// TestOverridePrecedence tests Property 6: Override Precedence.
func TestOverridePrecedence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	// Property 6.1: override values win over base values with same key
	properties.Property("override values win over base values", prop.ForAll(
		func(key, baseValue, overrideValue string) bool {
			baseVars := map[string]string{key: baseValue}
			overrideVars := map[string]string{key: overrideValue}

			merged := MergeEnvVars(baseVars, overrideVars)

			// The merged result should have the override value
			return merged[key] == overrideValue
		},
		genValidEnvKey(),
		genEnvValue(),
		genEnvValue(),
	))

	// Property 6.2: base values are preserved when no override exists
	properties.Property("base values preserved when no override", prop.ForAll(
		func(baseKey, baseValue, overrideKey, overrideValue string) bool {
			// Ensure keys are different
			if baseKey == overrideKey {
				return true // Skip this case
			}

			baseVars := map[string]string{baseKey: baseValue}
			overrideVars := map[string]string{overrideKey: overrideValue}

			merged := MergeEnvVars(baseVars, overrideVars)

			// both values should be present
			return merged[baseKey] == baseValue && merged[overrideKey] == overrideValue
		},
		genValidEnvKey(),
		genEnvValue(),
		genValidEnvKey(),
		genEnvValue(),
	))

	// Property 6.3: empty override vars do not affect base vars
	properties.Property("empty override vars preserve base vars", prop.ForAll(
		func(baseKey, baseValue string) bool {
			baseVars := map[string]string{baseKey: baseValue}
			overrideVars := map[string]string{}

			merged := MergeEnvVars(baseVars, overrideVars)

			return merged[baseKey] == baseValue && len(merged) == 1
		},
		genValidEnvKey(),
		genEnvValue(),
	))

	// Property 6.4: empty base vars do not affect override vars
	properties.Property("empty base vars preserve override vars", prop.ForAll(
		func(overrideKey, overrideValue string) bool {
			baseVars := map[string]string{}
			overrideVars := map[string]string{overrideKey: overrideValue}

			merged := MergeEnvVars(baseVars, overrideVars)

			return merged[overrideKey] == overrideValue && len(merged) == 1
		},
		genValidEnvKey(),
		genEnvValue(),
	))

	// Property 6.5: Both empty maps result in empty merged map
	properties.Property("both empty maps result in empty merged map", prop.ForAll(
		func(_ int) bool {
			baseVars := map[string]string{}
			overrideVars := map[string]string{}

			merged := MergeEnvVars(baseVars, overrideVars)

			return len(merged) == 0
		},
		gen.IntRange(0, 1), // Dummy generator
	))

	// Property 6.6: merged map size is at most sum of both maps
	properties.Property("merged map size is at most sum of both maps", prop.ForAll(
		func(baseVars, overrideVars map[string]string) bool {
			merged := MergeEnvVars(baseVars, overrideVars)

			return len(merged) <= len(baseVars)+len(overrideVars)
		},
		genEnvMap(),
		genEnvMap(),
	))

	// Property 6.7: all override vars are present in merged result
	properties.Property("all override vars present in merged result", prop.ForAll(
		func(baseVars, overrideVars map[string]string) bool {
			merged := MergeEnvVars(baseVars, overrideVars)

			for k, v := range overrideVars {
				if merged[k] != v {
					return false
				}
			}
			return true
		},
		genEnvMap(),
		genEnvMap(),
	))

	// Property 6.8: base vars without override are present in merged result
	properties.Property("base vars without override present in merged result", prop.ForAll(
		func(baseVars, overrideVars map[string]string) bool {
			merged := MergeEnvVars(baseVars, overrideVars)

			for k, v := range baseVars {
				// If override does not have this key, base value should be present
				if _, hasOverride := overrideVars[k]; !hasOverride {
					if merged[k] != v {
						return false
					}
				}
			}
			return true
		},
		genEnvMap(),
		genEnvMap(),
	))

	properties.TestingRun(t)
}
