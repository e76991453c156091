package bus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSchemaRegistryRejectsDangerousKeys(t *testing.T) {
	r := NewSchemaRegistry()
	schema := Schema{
		"type": "object",
		"properties": map[string]interface{}{
			"__proto__": map[string]interface{}{"type": "string"},
		},
	}
	require.Error(t, r.Register("evil", schema), "expected rejection of __proto__ property key")
}

func TestSchemaRegistryRejectsUnsafePattern(t *testing.T) {
	r := NewSchemaRegistry()
	schema := Schema{
		"type":    "string",
		"pattern": `(.*)+`,
	}
	require.Error(t, r.Register("evil-pattern", schema), "expected rejection of unsafe pattern")
}

func TestSchemaRegistryAcceptsValidSchema(t *testing.T) {
	r := NewSchemaRegistry()
	schema := Schema{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{"type": "string"},
			"age":  map[string]interface{}{"type": "number", "minimum": 0},
		},
		"required": []interface{}{"name"},
	}
	require.NoError(t, r.Register("person", schema))
	_, ok := r.Get("person")
	require.True(t, ok, "expected schema to be retrievable")
}

func TestGlobalRegistryIsDistinctFromInstance(t *testing.T) {
	local := NewSchemaRegistry()
	_ = local.Register("only-local", Schema{"type": "string"})

	_, ok := GlobalSchemaRegistry().Get("only-local")
	require.False(t, ok, "global registry must not see instance-local registrations")
}

func TestValidateRequiredAndAdditionalProperties(t *testing.T) {
	schema := Schema{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{"type": "string"},
		},
		"required":             []interface{}{"name"},
		"additionalProperties": false,
	}

	missing := Validate(schema, map[string]interface{}{})
	require.False(t, missing.Valid, "expected missing required property to fail validation")

	extra := Validate(schema, map[string]interface{}{"name": "a", "extra": 1})
	require.False(t, extra.Valid, "expected additional property to fail validation")

	ok := Validate(schema, map[string]interface{}{"name": "a"})
	require.True(t, ok.Valid, "expected valid object to pass, got errors: %v", ok.Errors)
}

func TestValidateInheritedPropertiesNeverSatisfyRequired(t *testing.T) {
	schema := Schema{
		"type":     "object",
		"required": []interface{}{"toString"},
	}
	// A plain Go map has no inherited "toString" own-key; this asserts the
	// own-property check behaves the same as the source's Object.hasOwn
	// guard even though Go maps have no prototype chain to begin with.
	result := Validate(schema, map[string]interface{}{"other": 1})
	require.False(t, result.Valid, "expected missing required property to fail")
}

func TestValidateEnumMinMaxLength(t *testing.T) {
	schema := Schema{
		"type":      "string",
		"enum":      []interface{}{"a", "b", "c"},
		"minLength": 1,
		"maxLength": 1,
	}
	require.True(t, Validate(schema, "a").Valid, "expected 'a' to validate")
	require.False(t, Validate(schema, "z").Valid, "expected 'z' (not in enum) to fail")
}

func TestValidatePatternBailsOutOnOversizedInput(t *testing.T) {
	schema := Schema{"type": "string", "pattern": "^[a-z]+$"}
	huge := make([]byte, MaxRegexTestStringLength+1)
	for i := range huge {
		huge[i] = 'a'
	}
	// Oversized test strings bail out of pattern checking rather than
	// failing validation outright (§4.3: "bails out").
	result := Validate(schema, string(huge))
	require.True(t, result.Valid, "expected oversized pattern test to be skipped, not fail")
}
