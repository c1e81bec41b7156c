// Package parse turns raw model text into validated pipeline values.
package parse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pitchql/pitchql/pkg/apperr"
	"github.com/pitchql/pitchql/pkg/models"
)

const fence = "```"

// fenceTags are the language tags recognised after an opening fence on the
// same line as the content.
var fenceTags = map[string]bool{
	"json": true, "python": true, "py": true, "sql": true, "postgresql": true,
	"javascript": true, "js": true, "vega": true, "vega-lite": true, "text": true,
}

// StripFences removes one outer fenced-code-block wrapper, with or without a
// language tag, and trims surrounding whitespace. The closing fence may sit on
// its own line or end the last content line, and the whole block may be on a
// single line. Text that is not fenced is only trimmed.
func StripFences(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, fence) {
		return text
	}
	if text == fence {
		return ""
	}
	lines := strings.Split(text, "\n")
	last := len(lines) - 1
	if l := strings.TrimRight(lines[last], " \t\r"); strings.HasSuffix(l, fence) && (last > 0 || len(l) > len(fence)) {
		lines[last] = strings.TrimSuffix(l, fence)
	}
	lines[0] = openingRest(lines[0], last > 0)
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// openingRest returns what follows the opening fence and its language tag.
// On a line of its own any single word counts as a tag; inline, only known
// tags do, so code such as "fig = ..." survives.
func openingRest(line string, ownLine bool) string {
	rest := strings.TrimPrefix(line, fence)
	if ownLine && isTag(strings.TrimSpace(rest)) {
		return ""
	}
	if i := strings.IndexAny(rest, " \t"); i > 0 && fenceTags[strings.ToLower(rest[:i])] {
		return rest[i:]
	}
	if fenceTags[strings.ToLower(strings.TrimSpace(rest))] {
		return ""
	}
	return rest
}

func isTag(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '+' || r == '.':
		default:
			return false
		}
	}
	return true
}

// ChartSpec parses a model answer of the form {"data": [...], "spec": {...}}.
// Only the shape is checked; the chart grammar inside spec is not.
func ChartSpec(raw string) (models.ChartSpec, error) {
	const op = "parse chart spec"

	obj, err := Object(raw)
	if err != nil {
		return models.ChartSpec{}, err
	}

	rawData, ok := obj["data"]
	if !ok {
		return models.ChartSpec{}, apperr.Wrap(apperr.KindSchemaViolation, op, errors.New("missing 'data'"))
	}
	rawSpec, ok := obj["spec"]
	if !ok {
		return models.ChartSpec{}, apperr.Wrap(apperr.KindSchemaViolation, op, errors.New("missing 'spec'"))
	}

	rows, ok := rawData.([]any)
	if !ok {
		return models.ChartSpec{}, apperr.Wrap(apperr.KindSchemaViolation, op,
			fmt.Errorf("'data' must be a list of records, got %s", typeName(rawData)))
	}
	data := make([]models.Record, 0, len(rows))
	for i, row := range rows {
		rec, ok := row.(map[string]any)
		if !ok {
			return models.ChartSpec{}, apperr.Wrap(apperr.KindSchemaViolation, op,
				fmt.Errorf("data[%d] must be a record, got %s", i, typeName(row)))
		}
		data = append(data, rec)
	}

	spec, ok := rawSpec.(map[string]any)
	if !ok {
		return models.ChartSpec{}, apperr.Wrap(apperr.KindSchemaViolation, op,
			fmt.Errorf("'spec' must be an object, got %s", typeName(rawSpec)))
	}

	return models.ChartSpec{Data: data, Spec: spec}, nil
}

// Object strips fences from raw and decodes it as a single JSON object.
// Syntax errors are MalformedJSON; valid JSON of another type is a
// SchemaViolation. Numbers are kept as json.Number so large integers
// survive a round trip.
func Object(raw string) (map[string]any, error) {
	const op = "parse object"

	text := StripFences(raw)
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, apperr.Wrap(apperr.KindMalformedJSON, op, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, apperr.Wrap(apperr.KindMalformedJSON, op, errors.New("unexpected content after JSON value"))
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, apperr.Wrap(apperr.KindSchemaViolation, op,
			fmt.Errorf("expected a JSON object, got %s", typeName(v)))
	}
	return obj, nil
}

// Compact re-encodes v without HTML escaping, for embedding in prompts.
func Compact(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
