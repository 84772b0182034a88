package services

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

const kpisKey = "kpis"

// outcomeKind tags how the model answered one field.
type outcomeKind int

const (
	// outcomeMissing means the field key was absent or null.
	outcomeMissing outcomeKind = iota
	// outcomePresent means the model reported a value with citations.
	outcomePresent
	// outcomeNotFound means the model reported the field as absent.
	outcomeNotFound
	// outcomeInvalid means the field was there but malformed.
	outcomeInvalid
)

// fieldOutcome is the decoded answer for one card field.
type fieldOutcome struct {
	kind   outcomeKind
	value  string
	labels []string
	reason string
}

type rawKPI struct {
	Name   string
	Value  string
	Unit   string
	Labels []string
}

// cardOutput is the decoded model reply.
type cardOutput struct {
	fields map[domain.FieldName]fieldOutcome
	kpis   []rawKPI
}

// missing lists fields the model left out, in card order.
func (o *cardOutput) missing() []string {
	var names []string
	for _, f := range domain.CardFields {
		if o.fields[f].kind == outcomeMissing {
			names = append(names, string(f))
		}
	}
	return names
}

type fieldJSON struct {
	Status   string   `json:"status"`
	Value    any      `json:"value"`
	Segments []string `json:"segments"`
}

type kpiJSON struct {
	Name     string   `json:"name"`
	Value    any      `json:"value"`
	Unit     string   `json:"unit"`
	Segments []string `json:"segments"`
}

// decodeCardOutput parses a model reply. It fails only when the reply is
// not a JSON object; per-field problems are tagged on the outcome.
func decodeCardOutput(raw string) (*cardOutput, error) {
	body := extractJSONObject(raw)
	if body == "" {
		return nil, fmt.Errorf("malformed output: no JSON object")
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &top); err != nil {
		return nil, fmt.Errorf("malformed output: %w", err)
	}

	out := &cardOutput{fields: make(map[domain.FieldName]fieldOutcome, len(domain.CardFields))}
	for _, name := range domain.CardFields {
		out.fields[name] = decodeField(top[string(name)])
	}

	if rawKPIs, ok := top[kpisKey]; ok && string(rawKPIs) != "null" {
		var kpis []kpiJSON
		if err := json.Unmarshal(rawKPIs, &kpis); err == nil {
			for _, k := range kpis {
				value, ok := scalarString(k.Value)
				if !ok {
					continue
				}
				out.kpis = append(out.kpis, rawKPI{Name: k.Name, Value: value, Unit: k.Unit, Labels: k.Segments})
			}
		}
	}
	return out, nil
}

func decodeField(raw json.RawMessage) fieldOutcome {
	if len(raw) == 0 || string(raw) == "null" {
		return fieldOutcome{kind: outcomeMissing}
	}
	var f fieldJSON
	if err := json.Unmarshal(raw, &f); err != nil {
		return fieldOutcome{kind: outcomeInvalid, reason: "not an object"}
	}

	switch strings.ToLower(strings.TrimSpace(f.Status)) {
	case "found", "present":
		value, ok := scalarString(f.Value)
		if !ok || value == "" {
			return fieldOutcome{kind: outcomeInvalid, reason: "found without a value"}
		}
		return fieldOutcome{kind: outcomePresent, value: value, labels: f.Segments}
	case "not_found", "not found", "absent":
		return fieldOutcome{kind: outcomeNotFound}
	case "":
		return fieldOutcome{kind: outcomeInvalid, reason: "no status"}
	default:
		return fieldOutcome{kind: outcomeInvalid, reason: fmt.Sprintf("unknown status %q", f.Status)}
	}
}

// scalarString renders a JSON string or number as text.
func scalarString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case nil:
		return "", true
	default:
		return "", false
	}
}

// extractJSONObject strips code fences and surrounding prose.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return ""
	}
	return raw[start : end+1]
}

// cardSchema is the structured output schema for the card. Every field
// and every property is required so strict backends emit all of them.
func cardSchema() *driven.OutputSchema {
	field := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status":   map[string]any{"type": "string", "enum": []string{"found", "not_found"}},
			"value":    map[string]any{"type": "string"},
			"segments": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required":             []string{"status", "value", "segments"},
		"additionalProperties": false,
	}
	kpi := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":     map[string]any{"type": "string"},
			"value":    map[string]any{"type": "string"},
			"unit":     map[string]any{"type": "string"},
			"segments": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required":             []string{"name", "value", "unit", "segments"},
		"additionalProperties": false,
	}

	properties := make(map[string]any, len(domain.CardFields)+1)
	required := make([]string, 0, len(domain.CardFields)+1)
	for _, name := range domain.CardFields {
		properties[string(name)] = field
		required = append(required, string(name))
	}
	properties[kpisKey] = map[string]any{"type": "array", "items": kpi}
	required = append(required, kpisKey)

	return &driven.OutputSchema{
		Name: "bond_information_card",
		Definition: map[string]any{
			"type":                 "object",
			"properties":           properties,
			"required":             required,
			"additionalProperties": false,
		},
	}
}
