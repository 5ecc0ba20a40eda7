package service

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// overridesSchema constrains the optional caller overrides accepted by
// Provision. Unknown keys are rejected so typos surface as validation errors.
const overridesSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "business_id": {
      "type": "string",
      "pattern": "^[0-9]{1,32}$"
    },
    "phone_number": {
      "type": "string",
      "pattern": "^\\+[1-9][0-9]{7,14}$"
    },
    "display_name": {
      "type": "string",
      "minLength": 1,
      "maxLength": 120
    }
  }
}`

// Overrides are the caller-supplied knobs of a provisioning run: pin the
// target business entity, register a specific phone number, or name the WABA.
type Overrides struct {
	BusinessID  *string
	PhoneNumber *string // E.164
	DisplayName *string
}

func compileOverridesSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("memory://whatsapp/overrides.json", strings.NewReader(overridesSchema)); err != nil {
		panic(fmt.Sprintf("register overrides schema: %v", err))
	}
	schema, err := compiler.Compile("memory://whatsapp/overrides.json")
	if err != nil {
		panic(fmt.Sprintf("compile overrides schema: %v", err))
	}
	return schema
}

// parseOverrides validates the raw overrides document and lifts it into the
// typed form. A nil document is a valid empty override set.
func (s *Service) parseOverrides(raw map[string]any) (Overrides, error) {
	if raw == nil {
		return Overrides{}, nil
	}
	if err := s.overrides.Validate(raw); err != nil {
		return Overrides{}, fmt.Errorf("overrides: %w", err)
	}

	var out Overrides
	if v, ok := raw["business_id"].(string); ok {
		out.BusinessID = strPtr(v)
	}
	if v, ok := raw["phone_number"].(string); ok {
		out.PhoneNumber = strPtr(v)
	}
	if v, ok := raw["display_name"].(string); ok {
		out.DisplayName = strPtr(v)
	}
	return out, nil
}

// splitE164 separates an E.164 number into country code and national number,
// the shape the provider's registration endpoint expects. Exact for +55; a
// two-digit prefix is assumed for other countries except the one-digit NANP
// and Russian codes.
func splitE164(number string) (countryCode, national string) {
	digits := strings.TrimPrefix(number, "+")
	switch {
	case strings.HasPrefix(digits, "55"):
		return "55", digits[2:]
	case digits[0] == '1' || digits[0] == '7':
		return digits[:1], digits[1:]
	default:
		return digits[:2], digits[2:]
	}
}
