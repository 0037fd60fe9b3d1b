package policy

// policyDocumentSchema validates policy registration payloads before any rule
// condition is parsed. Version is optional on input; the registry mints or
// bumps it.
const policyDocumentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "rules"],
  "additionalProperties": false,
  "properties": {
    "policy_id": {"type": "string", "maxLength": 128},
    "name": {"type": "string", "minLength": 1, "maxLength": 256},
    "version": {"type": "string", "pattern": "^[0-9]+\\.[0-9]+\\.[0-9]+$"},
    "scope": {"type": "string", "pattern": "^(global|agent:[^:]+|team:[^:]+)$"},
    "active": {"type": "boolean"},
    "metadata": {"type": "object"},
    "rules": {
      "type": "array",
      "minItems": 1,
      "maxItems": 256,
      "items": {
        "type": "object",
        "required": ["condition", "action"],
        "additionalProperties": false,
        "properties": {
          "rule_id": {"type": "string", "maxLength": 128},
          "name": {"type": "string", "maxLength": 256},
          "condition": {"type": "string", "minLength": 1, "maxLength": 4096},
          "action": {"type": "string", "enum": ["ALLOW", "DENY", "ESCALATE"]},
          "priority": {"type": "integer", "minimum": 0, "maximum": 1000000},
          "enabled": {"type": "boolean"},
          "tags": {"type": "array", "items": {"type": "string"}, "maxItems": 32}
        }
      }
    }
  }
}`
