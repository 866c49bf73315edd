package validation

import (
	"errors"
	"testing"

	"github.com/gridbase/gridbase/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intptr(i int) *int { return &i }

func floatptr(f float64) *float64 { return &f }

func TestValidateCollectsAllErrors(t *testing.T) {
	schema := Schema{
		"name":  {Required: true, Type: "string"},
		"email": {Type: "email"},
		"age":   {Type: "integer", Min: floatptr(18)},
	}
	res := Validate(map[string]any{
		"email": "not-an-email",
		"age":   float64(12),
	}, schema)
	require.False(t, res.Valid)
	require.Len(t, res.Errors, 3)
	// errors come back in field order
	assert.Equal(t, "age", res.Errors[0].Field)
	assert.Equal(t, "must be at least 18", res.Errors[0].Message)
	assert.Equal(t, "email", res.Errors[1].Field)
	assert.Equal(t, "name", res.Errors[2].Field)
	assert.Equal(t, "is required", res.Errors[2].Message)

	err := res.Err()
	require.Error(t, err)
	verr, ok := internal.AsValidation(err)
	require.True(t, ok)
	assert.Len(t, verr.Fields, 3)
}

func TestValidateStringRules(t *testing.T) {
	schema := Schema{
		"code": {Type: "string", MinLength: intptr(3), MaxLength: intptr(5), Pattern: "^[A-Z]+$"},
	}
	assert.True(t, Validate(map[string]any{"code": "ABC"}, schema).Valid)

	res := Validate(map[string]any{"code": "ab"}, schema)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "must be at least 3 characters", res.Errors[0].Message)
	assert.Equal(t, "must match pattern ^[A-Z]+$", res.Errors[1].Message)

	res = Validate(map[string]any{"code": "ABCDEF"}, schema)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "must be at most 5 characters", res.Errors[0].Message)
}

func TestValidateEnumAndCustom(t *testing.T) {
	schema := Schema{
		"status": {Enum: []any{"draft", "published"}},
		"slug": {Custom: func(value any) error {
			if value == "forbidden" {
				return errors.New("slug is reserved")
			}
			return nil
		}},
	}
	assert.True(t, Validate(map[string]any{"status": "draft", "slug": "ok"}, schema).Valid)

	res := Validate(map[string]any{"status": "archived", "slug": "forbidden"}, schema)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "slug", res.Errors[0].Field)
	assert.Equal(t, "slug is reserved", res.Errors[0].Message)
	assert.Equal(t, "status", res.Errors[1].Field)
}

func TestValidatePartialSkipsAbsentRequired(t *testing.T) {
	schema := Schema{
		"name":  {Required: true, Type: "string"},
		"email": {Required: true, Type: "email"},
	}
	res := ValidatePartial(map[string]any{"email": "user@example.com"}, schema)
	assert.True(t, res.Valid)

	res = ValidatePartial(map[string]any{"email": "nope"}, schema)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "email", res.Errors[0].Field)
}

func TestValidateTypeMatrix(t *testing.T) {
	cases := []struct {
		typ  string
		good any
		bad  any
	}{
		{"string", "hi", float64(1)},
		{"number", float64(1.5), "1.5"},
		{"integer", float64(3), float64(3.5)},
		{"boolean", true, "true"},
		{"date", "2024-02-29", "yesterday"},
		{"email", "a@b.co", "a@b"},
		{"url", "https://example.com/x", "example.com"},
		{"array", []any{1}, "[]"},
		{"object", map[string]any{}, []any{}},
	}
	for _, tc := range cases {
		schema := Schema{"v": {Type: tc.typ}}
		assert.True(t, Validate(map[string]any{"v": tc.good}, schema).Valid, "type %s good value", tc.typ)
		assert.False(t, Validate(map[string]any{"v": tc.bad}, schema).Valid, "type %s bad value", tc.typ)
	}
}

func TestSchemaValidator(t *testing.T) {
	v := NewSchemaValidator()
	doc := `{
		"type": "object",
		"properties": {
			"price": {"type": "number", "minimum": 0}
		},
		"required": ["price"]
	}`

	require.NoError(t, v.Validate(doc, map[string]any{"price": float64(10)}))

	err := v.Validate(doc, map[string]any{"price": float64(-1)})
	require.Error(t, err)
	verr, ok := internal.AsValidation(err)
	require.True(t, ok)
	require.NotEmpty(t, verr.Fields)
	assert.Equal(t, "price", verr.Fields[0].Field)

	// compiled schema is cached, a second pass behaves the same
	require.NoError(t, v.Validate(doc, map[string]any{"price": float64(0)}))

	_, err = v.compile(`{"type":`)
	require.Error(t, err)
}
