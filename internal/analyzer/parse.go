package analyzer

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sirupsen/logrus"
)

const (
	maxSummaryChars = 500
	keepSummary     = 497
)

// answerSchema accepts what models actually emit: lists or strings for the
// multi-valued fields, and null for anything they chose to leave out.
const answerSchema = `{
  "type": "object",
  "properties": {
    "product_name":        {"type": ["string", "array", "null"], "items": {"type": "string"}},
    "evaluation_tendency": {"type": ["string", "null"]},
    "feedback_category":   {"type": ["string", "array", "null"], "items": {"type": "string"}},
    "feedback_summary":    {"type": ["string", "null"]},
    "detailed_content":    {"type": ["string", "null"]}
  }
}`

var objectRE = regexp.MustCompile(`(?s)\{[^{}]*\}`)

// Parser turns raw model output into an Analysis.
type Parser struct {
	conv   Converter
	schema *jsonschema.Schema
	logger *logrus.Logger
}

// NewParser compiles the answer schema.
func NewParser(conv Converter, logger *logrus.Logger) (*Parser, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("answer.json", strings.NewReader(answerSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("answer.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	if conv == nil {
		conv = identity{}
	}
	return &Parser{conv: conv, schema: schema, logger: logger}, nil
}

// Parse extracts the first flat JSON object from raw and applies defaults.
// ok is false when nothing usable was found; callers fall back to Heuristic.
func (p *Parser) Parse(raw string) (Analysis, bool) {
	text := p.conv.Convert(raw)
	obj := objectRE.FindString(text)
	if obj == "" {
		p.logger.WithField("chars", len([]rune(raw))).Warn("no json object in model output")
		return Analysis{}, false
	}
	var doc any
	if err := json.Unmarshal([]byte(obj), &doc); err != nil {
		p.logger.WithError(err).Warn("model output is not valid json")
		return Analysis{}, false
	}
	if err := p.schema.Validate(doc); err != nil {
		p.logger.WithError(err).Warn("model output does not match schema")
		return Analysis{}, false
	}

	fields, _ := doc.(map[string]any)
	applyDefaults(fields)
	normalized, err := json.Marshal(fields)
	if err != nil {
		return Analysis{}, false
	}
	var a Analysis
	if err := json.Unmarshal(normalized, &a); err != nil {
		p.logger.WithError(err).Warn("decode model answer")
		return Analysis{}, false
	}
	a.Summary = truncateSummary(a.Summary)
	return a, true
}

func applyDefaults(fields map[string]any) {
	defaults := map[string]any{
		"product_name":        []string{defaultNoProduct},
		"evaluation_tendency": SentimentNeutral,
		"feedback_category":   CategoryGeneral,
		"feedback_summary":    defaultSummary,
		"detailed_content":    "",
	}
	for k, v := range defaults {
		if cur, ok := fields[k]; !ok || cur == nil {
			fields[k] = v
		}
	}
}

func truncateSummary(s string) string {
	r := []rune(s)
	if len(r) <= maxSummaryChars {
		return s
	}
	return string(r[:keepSummary]) + "..."
}
