package bus

import (
	"fmt"
	"regexp"
	"sync"
)

// Schema is a minimal JSON-Schema-subset definition, represented as a plain
// map so registration can reject dangerous keys with an own-property check
// (§9 "Prototype-based property access" -> explicit allowlisted traversal).
type Schema map[string]interface{}

const (
	// MaxPatternLength bounds a schema's "pattern" string (§4.3).
	MaxPatternLength = 256
	// MaxRegexTestStringLength bounds the value tested against a pattern.
	MaxRegexTestStringLength = 10000
)

var dangerousKeys = map[string]bool{
	"__proto__":   true,
	"constructor": true,
	"prototype":   true,
}

// SchemaRegistry holds schemas for one Bus instance. It never shares state
// with GlobalSchemaRegistry() or with any other Bus's registry (§4.3, §9).
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]Schema
}

// NewSchemaRegistry constructs an empty, instance-scoped registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[string]Schema)}
}

var globalRegistry = NewSchemaRegistry()

// GlobalSchemaRegistry returns the process-wide registry available for
// advanced callers. It is a distinct object from any Bus's local registry
// and must never be confused with one (§4.3, §9).
func GlobalSchemaRegistry() *SchemaRegistry {
	return globalRegistry
}

// Register validates and stores a schema under id, rejecting dangerous
// property names and unsafe regex patterns before the schema is ever used
// for validation (§4.3).
func (r *SchemaRegistry) Register(id string, schema Schema) error {
	if id == "" {
		return ErrSchemaIDInvalid
	}
	if schema == nil {
		return ErrSchemaInvalid
	}
	if err := validateSchemaDefinition(schema); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[id] = schema
	return nil
}

// Get returns the schema registered under id, if any.
func (r *SchemaRegistry) Get(id string) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[id]
	return s, ok
}

// validateSchemaDefinition walks a schema definition (and nested
// properties/items) looking for dangerous keys and unsafe patterns before
// the schema is accepted into a registry.
func validateSchemaDefinition(schema Schema) error {
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		for key, sub := range props {
			if dangerousKeys[key] {
				return fmt.Errorf("%w: %q", ErrSchemaDangerousKey, key)
			}
			if subSchema, ok := sub.(map[string]interface{}); ok {
				if err := validateSchemaDefinition(Schema(subSchema)); err != nil {
					return err
				}
			}
		}
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		if err := validateSchemaDefinition(Schema(items)); err != nil {
			return err
		}
	}
	if pattern, ok := schema["pattern"].(string); ok {
		if err := checkPatternSafety(pattern); err != nil {
			return err
		}
	}
	return nil
}

func checkPatternSafety(pattern string) error {
	if len(pattern) > MaxPatternLength {
		return fmt.Errorf("%w: %d > %d", ErrSchemaPatternTooLong, len(pattern), MaxPatternLength)
	}
	if IsUnsafePattern(pattern) {
		return fmt.Errorf("%w: %q", ErrSchemaUnsafePattern, pattern)
	}
	return nil
}

// ValidationResult carries the outcome of a Validate call, replacing
// exceptions-for-control-flow with a return value callers routinely check
// (§9).
type ValidationResult struct {
	Valid  bool
	Errors []string
}

func newValidResult() ValidationResult { return ValidationResult{Valid: true} }

func (v *ValidationResult) fail(format string, args ...interface{}) {
	v.Valid = false
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks value against schema, implementing the subset of
// JSON-Schema described in §4.3: type, properties, required,
// additionalProperties:false, enum, minimum/maximum, minLength/maxLength,
// pattern, items.
func Validate(schema Schema, value interface{}) ValidationResult {
	result := newValidResult()
	validateValue(schema, value, "$", &result)
	return result
}

func validateValue(schema Schema, value interface{}, path string, result *ValidationResult) {
	if t, ok := schema["type"].(string); ok {
		if !typeMatches(t, value) {
			result.fail("%s: expected type %q", path, t)
			return
		}
	}

	if enumVals, ok := schema["enum"].([]interface{}); ok {
		if !enumContains(enumVals, value) {
			result.fail("%s: value not in enum", path)
			return
		}
	}

	switch v := value.(type) {
	case map[string]interface{}:
		validateObject(schema, v, path, result)
	case []interface{}:
		validateArray(schema, v, path, result)
	case string:
		validateString(schema, v, path, result)
	case float64:
		validateNumber(schema, v, path, result)
	case int:
		validateNumber(schema, float64(v), path, result)
	}
}

func typeMatches(t string, value interface{}) bool {
	switch t {
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "null":
		return value == nil
	default:
		return true
	}
}

func enumContains(enumVals []interface{}, value interface{}) bool {
	for _, v := range enumVals {
		if fmt.Sprintf("%v", v) == fmt.Sprintf("%v", value) {
			return true
		}
	}
	return false
}

// validateObject uses own-property checks only: inherited properties never
// satisfy "required" because Go maps have no prototype chain to begin
// with, but we still reject dangerous keys defensively if a caller feeds a
// hand-built map containing them (§4.3).
func validateObject(schema Schema, obj map[string]interface{}, path string, result *ValidationResult) {
	for key := range obj {
		if dangerousKeys[key] {
			result.fail("%s: dangerous key %q present on value", path, key)
			return
		}
	}

	if required, ok := schema["required"].([]interface{}); ok {
		for _, r := range required {
			name, _ := r.(string)
			if _, present := obj[name]; !present {
				result.fail("%s: missing required property %q", path, name)
			}
		}
	}

	props, hasProps := schema["properties"].(map[string]interface{})
	if additional, ok := schema["additionalProperties"].(bool); ok && !additional && hasProps {
		for key := range obj {
			if _, defined := props[key]; !defined {
				result.fail("%s: additional property %q not allowed", path, key)
			}
		}
	}

	if hasProps {
		for key, sub := range props {
			subSchema, ok := sub.(map[string]interface{})
			if !ok {
				continue
			}
			if val, present := obj[key]; present {
				validateValue(Schema(subSchema), val, path+"."+key, result)
			}
		}
	}
}

func validateArray(schema Schema, arr []interface{}, path string, result *ValidationResult) {
	itemSchema, ok := schema["items"].(map[string]interface{})
	if !ok {
		return
	}
	for i, item := range arr {
		validateValue(Schema(itemSchema), item, fmt.Sprintf("%s[%d]", path, i), result)
	}
}

func validateString(schema Schema, s string, path string, result *ValidationResult) {
	if minLen, ok := numericField(schema, "minLength"); ok && float64(len(s)) < minLen {
		result.fail("%s: length %d < minLength %v", path, len(s), minLen)
	}
	if maxLen, ok := numericField(schema, "maxLength"); ok && float64(len(s)) > maxLen {
		result.fail("%s: length %d > maxLength %v", path, len(s), maxLen)
	}
	if pattern, ok := schema["pattern"].(string); ok {
		if matched, checked := matchPatternSafely(pattern, s); checked && !matched {
			result.fail("%s: value does not match pattern %q", path, pattern)
		}
	}
}

func validateNumber(schema Schema, n float64, path string, result *ValidationResult) {
	if min, ok := numericField(schema, "minimum"); ok && n < min {
		result.fail("%s: %v < minimum %v", path, n, min)
	}
	if max, ok := numericField(schema, "maximum"); ok && n > max {
		result.fail("%s: %v > maximum %v", path, n, max)
	}
}

func numericField(schema Schema, key string) (float64, bool) {
	switch v := schema[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

var patternCache sync.Map // pattern string -> *regexp.Regexp

// matchPatternSafely compiles pattern lazily (caching the compiled form)
// and bails out (reporting "not checked") if either the pattern or the
// test string exceed the configured safety bounds (§4.3).
func matchPatternSafely(pattern, s string) (matched bool, checked bool) {
	if len(pattern) > MaxPatternLength || len(s) > MaxRegexTestStringLength {
		return false, false
	}
	if IsUnsafePattern(pattern) {
		return false, false
	}

	var re *regexp.Regexp
	if cached, ok := patternCache.Load(pattern); ok {
		re = cached.(*regexp.Regexp)
	} else {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return false, false
		}
		patternCache.Store(pattern, compiled)
		re = compiled
	}
	return re.MatchString(s), true
}
