package openai

import (
	"fmt"
	"strings"
)

// ValidateAgainstSchema checks a decoded model response against the
// subset of JSON Schema the prompts actually use: object/required/
// properties, scalar types, enums and typed arrays. Providers claim
// strict mode enforces this server-side; trust but verify.
func ValidateAgainstSchema(value any, schema map[string]any) error {
	return validateValue("$", value, schema)
}

func validateValue(path string, value any, schema map[string]any) error {
	if schema == nil {
		return nil
	}
	typ, _ := schema["type"].(string)

	if enum, ok := schema["enum"].([]any); ok && len(enum) > 0 {
		for _, allowed := range enum {
			if value == allowed {
				return nil
			}
		}
		return fmt.Errorf("%s: value %v not in enum", path, value)
	}

	switch typ {
	case "", "object":
		obj, ok := value.(map[string]any)
		if !ok {
			if typ == "" {
				return nil
			}
			return fmt.Errorf("%s: expected object, got %T", path, value)
		}
		return validateObject(path, obj, schema)
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("%s: expected string, got %T", path, value)
		}
	case "number":
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("%s: expected number, got %T", path, value)
		}
	case "integer":
		f, ok := value.(float64)
		if !ok || f != float64(int64(f)) {
			return fmt.Errorf("%s: expected integer, got %v", path, value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%s: expected boolean, got %T", path, value)
		}
	case "array":
		items, _ := value.([]any)
		if value != nil && items == nil {
			return fmt.Errorf("%s: expected array, got %T", path, value)
		}
		itemSchema, _ := schema["items"].(map[string]any)
		for i, item := range items {
			if err := validateValue(fmt.Sprintf("%s[%d]", path, i), item, itemSchema); err != nil {
				return err
			}
		}
	case "null":
		if value != nil {
			return fmt.Errorf("%s: expected null, got %T", path, value)
		}
	}
	return nil
}

func validateObject(path string, obj map[string]any, schema map[string]any) error {
	if required, ok := schema["required"].([]any); ok {
		var missing []string
		for _, r := range required {
			name, _ := r.(string)
			if name == "" {
				continue
			}
			if _, present := obj[name]; !present {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("%s: missing required fields: %s", path, strings.Join(missing, ", "))
		}
	}

	props, _ := schema["properties"].(map[string]any)
	for name, raw := range props {
		propSchema, _ := raw.(map[string]any)
		val, present := obj[name]
		if !present || val == nil {
			continue
		}
		if err := validateValue(path+"."+name, val, propSchema); err != nil {
			return err
		}
	}
	return nil
}
