package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/gridbase/gridbase/internal"
)

// Rule is the validation contract for one field. Rules are stateless and
// supplied per call; zero-value fields are not enforced.
type Rule struct {
	Required  bool                  `json:"required,omitempty"`
	Type      string                `json:"type,omitempty"`
	MinLength *int                  `json:"minLength,omitempty"`
	MaxLength *int                  `json:"maxLength,omitempty"`
	Min       *float64              `json:"min,omitempty"`
	Max       *float64              `json:"max,omitempty"`
	Pattern   string                `json:"pattern,omitempty"`
	Enum      []any                 `json:"enum,omitempty"`
	Custom    func(value any) error `json:"-"`
}

// Schema maps field names to their rules.
type Schema map[string]Rule

// Result carries every violation found in one pass.
type Result struct {
	Valid  bool                  `json:"valid"`
	Errors []internal.FieldError `json:"errors,omitempty"`
}

// Err converts the result into a ValidationError, or nil when valid.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return internal.NewValidationError(r.Errors...)
}

// Validate checks data against the schema and collects every violation
// instead of stopping at the first. Absent fields fail only their required
// rule.
func Validate(data map[string]any, schema Schema) Result {
	return validate(data, schema, false)
}

// ValidatePartial is Validate for partial updates: required is not enforced
// on absent fields, every present field is still fully checked.
func ValidatePartial(data map[string]any, schema Schema) Result {
	return validate(data, schema, true)
}

func validate(data map[string]any, schema Schema, partial bool) Result {
	fields := make([]string, 0, len(schema))
	for field := range schema {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	var errs []internal.FieldError
	for _, field := range fields {
		rule := schema[field]
		value, present := data[field]
		if !present || value == nil || value == "" {
			if rule.Required && !partial {
				errs = append(errs, internal.NewFieldError(field, "is required"))
			}
			continue
		}
		errs = append(errs, checkRule(field, value, rule)...)
	}
	return Result{Valid: len(errs) == 0, Errors: errs}
}

func checkRule(field string, value any, rule Rule) []internal.FieldError {
	var errs []internal.FieldError
	if rule.Type != "" {
		if msg := checkType(value, rule.Type); msg != "" {
			errs = append(errs, internal.NewFieldError(field, msg))
			// the remaining rules assume the right type
			return errs
		}
	}
	if str, ok := value.(string); ok {
		length := utf8.RuneCountInString(str)
		if rule.MinLength != nil && length < *rule.MinLength {
			errs = append(errs, internal.NewFieldError(field, fmt.Sprintf("must be at least %d characters", *rule.MinLength)))
		}
		if rule.MaxLength != nil && length > *rule.MaxLength {
			errs = append(errs, internal.NewFieldError(field, fmt.Sprintf("must be at most %d characters", *rule.MaxLength)))
		}
		if rule.Pattern != "" {
			re, err := regexp.Compile(rule.Pattern)
			if err != nil {
				errs = append(errs, internal.NewFieldError(field, fmt.Sprintf("invalid pattern %q", rule.Pattern)))
			} else if !re.MatchString(str) {
				errs = append(errs, internal.NewFieldError(field, fmt.Sprintf("must match pattern %s", rule.Pattern)))
			}
		}
	}
	if rule.Min != nil || rule.Max != nil {
		if num, ok := toFloat(value); ok {
			if rule.Min != nil && num < *rule.Min {
				errs = append(errs, internal.NewFieldError(field, fmt.Sprintf("must be at least %v", *rule.Min)))
			}
			if rule.Max != nil && num > *rule.Max {
				errs = append(errs, internal.NewFieldError(field, fmt.Sprintf("must be at most %v", *rule.Max)))
			}
		}
	}
	if len(rule.Enum) > 0 {
		var found bool
		for _, allowed := range rule.Enum {
			if reflect.DeepEqual(value, allowed) {
				found = true
				break
			}
		}
		if !found {
			errs = append(errs, internal.NewFieldError(field, fmt.Sprintf("must be one of %v", rule.Enum)))
		}
	}
	if rule.Custom != nil {
		if err := rule.Custom(value); err != nil {
			errs = append(errs, internal.NewFieldError(field, err.Error()))
		}
	}
	return errs
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// dateLayouts are the formats accepted anywhere a date string is expected.
var dateLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

// ParseDate parses a date in any accepted layout.
func ParseDate(value string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func checkType(value any, expected string) string {
	switch expected {
	case "string":
		if _, ok := value.(string); !ok {
			return "must be a string"
		}
	case "number":
		if _, ok := toFloat(value); !ok {
			return "must be a number"
		}
	case "integer":
		num, ok := toFloat(value)
		if !ok || num != float64(int64(num)) {
			return "must be an integer"
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return "must be a boolean"
		}
	case "date":
		switch v := value.(type) {
		case time.Time:
		case string:
			if _, ok := ParseDate(v); !ok {
				return "must be a valid date"
			}
		default:
			return "must be a valid date"
		}
	case "email":
		str, ok := value.(string)
		if !ok || !IsValidEmail(str) {
			return "must be a valid email address"
		}
	case "url":
		str, ok := value.(string)
		if !ok || !IsValidURL(str) {
			return "must be a valid url"
		}
	case "array":
		if value == nil || reflect.TypeOf(value).Kind() != reflect.Slice {
			return "must be an array"
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return "must be an object"
		}
	default:
		return fmt.Sprintf("unknown type %q", expected)
	}
	return ""
}
