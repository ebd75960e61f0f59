package schema

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// ValidationError represents a single violated expectation with the path to
// the offending field and a human-readable message.
type ValidationError struct {
	Path    string // dot-separated path (e.g. "user.profile")
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors collects multiple validation failures.
type ValidationErrors []*ValidationError

func (ve ValidationErrors) Error() string {
	return fmt.Sprintf("document validation failed with %d error(s):\n  - %s",
		len(ve), strings.Join(ve.Messages(), "\n  - "))
}

// Messages returns one string per violation.
func (ve ValidationErrors) Messages() []string {
	msgs := make([]string, len(ve))
	for i, e := range ve {
		msgs[i] = e.Error()
	}
	return msgs
}

// Rule is a single structural expectation. It returns nil when the document
// satisfies it.
type Rule interface {
	Check(doc Document) *ValidationError
}

// RuleFunc adapts a plain function to the Rule interface.
type RuleFunc func(doc Document) *ValidationError

// Check implements Rule.
func (f RuleFunc) Check(doc Document) *ValidationError { return f(doc) }

// RequireFields returns one rule per path; each fails when the path is absent
// or null.
func RequireFields(paths ...string) []Rule {
	rules := make([]Rule, 0, len(paths))
	for _, p := range paths {
		path := p
		rules = append(rules, RuleFunc(func(doc Document) *ValidationError {
			if v, ok := doc.Lookup(path); !ok || v == nil {
				return &ValidationError{Path: path, Message: "required field is missing"}
			}
			return nil
		}))
	}
	return rules
}

// RequireObject fails unless path holds an object.
func RequireObject(path string) Rule {
	return FieldType(path, "object", true)
}

// RequireArray fails unless path holds an array.
func RequireArray(path string) Rule {
	return FieldType(path, "array", true)
}

// FieldType checks that the value at path has the expected type: string,
// number, boolean, object or array. When required is false an absent or null
// value is accepted.
func FieldType(path, expectedType string, required bool) Rule {
	return RuleFunc(func(doc Document) *ValidationError {
		v, ok := doc.Lookup(path)
		if !ok || v == nil {
			if required {
				return &ValidationError{Path: path, Message: fmt.Sprintf("required %s is missing", expectedType)}
			}
			return nil
		}
		return checkFieldType(path, expectedType, v)
	})
}

// OneOf fails when the string at path is present and not one of allowed.
func OneOf(path string, allowed ...string) Rule {
	return RuleFunc(func(doc Document) *ValidationError {
		v, ok := doc.Lookup(path)
		if !ok || v == nil {
			return nil
		}
		str, ok := v.(string)
		if !ok {
			return &ValidationError{Path: path, Message: "enum validation requires a string value"}
		}
		if slices.Contains(allowed, str) {
			return nil
		}
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("value %q is not in allowed values %v", str, allowed),
		}
	})
}

// When applies rules only if kind is present at the top level of the
// document, so a version's expectations for "user" do not fail documents that
// carry only a "field".
func When(kind string, rules ...Rule) Rule {
	return RuleFunc(func(doc Document) *ValidationError {
		if _, ok := doc[kind]; !ok {
			return nil
		}
		for _, r := range rules {
			if err := r.Check(doc); err != nil {
				return err
			}
		}
		return nil
	})
}

// checkFieldType validates that value matches the expected type.
func checkFieldType(path, expectedType string, value any) *ValidationError {
	switch expectedType {
	case "string":
		if _, ok := value.(string); !ok {
			return typeMismatch(path, expectedType, value)
		}
	case "number":
		switch value.(type) {
		case float64, float32, int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64:
		default:
			return typeMismatch(path, expectedType, value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return typeMismatch(path, expectedType, value)
		}
	case "object":
		if _, ok := asMap(value); !ok {
			return typeMismatch(path, expectedType, value)
		}
	case "array":
		k := reflect.ValueOf(value).Kind()
		if k != reflect.Slice && k != reflect.Array {
			return typeMismatch(path, expectedType, value)
		}
	default:
		return &ValidationError{Path: path, Message: fmt.Sprintf("unknown expected type %q", expectedType)}
	}
	return nil
}

func typeMismatch(path, expectedType string, value any) *ValidationError {
	return &ValidationError{
		Path:    path,
		Message: fmt.Sprintf("expected type %s, got %s", expectedType, reflect.TypeOf(value).Kind()),
	}
}
