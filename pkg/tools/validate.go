package tools

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// ValidationError reports a single offending argument.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("argument %q: %s", e.Field, e.Message)
}

// ValidateArgs checks args against schema and returns a normalized copy.
//
// Local models are loose with types, so numeric and boolean values given
// as strings are coerced, and scalars given for a string parameter are
// formatted. Unknown arguments are dropped; missing optional arguments
// with a default get the default.
func ValidateArgs(schema Schema, args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(schema.Properties))

	for _, name := range schema.Required {
		v, ok := args[name]
		if !ok || v == nil {
			return nil, &ValidationError{Field: name, Message: "is required"}
		}
	}

	// Deterministic order keeps the first reported error stable.
	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		prop := schema.Properties[name]
		v, ok := args[name]
		if !ok || v == nil {
			if prop.Default != nil {
				out[name] = prop.Default
			}
			continue
		}
		cv, err := coerce(prop.Type, v)
		if err != nil {
			return nil, &ValidationError{Field: name, Message: err.Error()}
		}
		if len(prop.Enum) > 0 {
			s, _ := cv.(string)
			if !slices.Contains(prop.Enum, s) {
				return nil, &ValidationError{Field: name, Message: fmt.Sprintf("must be one of %s", strings.Join(prop.Enum, ", "))}
			}
		}
		out[name] = cv
	}
	return out, nil
}

func coerce(typ string, v any) (any, error) {
	switch typ {
	case "string":
		switch x := v.(type) {
		case string:
			return x, nil
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64), nil
		case int:
			return strconv.Itoa(x), nil
		case bool:
			return strconv.FormatBool(x), nil
		}
	case "number":
		switch x := v.(type) {
		case float64:
			return x, nil
		case int:
			return float64(x), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err == nil {
				return f, nil
			}
		}
	case "integer":
		switch x := v.(type) {
		case int:
			return x, nil
		case float64:
			if x == math.Trunc(x) {
				return int(x), nil
			}
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(x))
			if err == nil {
				return n, nil
			}
		}
	case "boolean":
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err == nil {
				return b, nil
			}
		}
	case "", "object", "array":
		return v, nil
	}
	return nil, fmt.Errorf("expected type %s, got %T", typ, v)
}

// argString and friends read already validated arguments.
func argString(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

func argNumber(args map[string]any, name string) float64 {
	f, _ := args[name].(float64)
	return f
}
