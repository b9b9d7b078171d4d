package agents

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	apperrors "trinity-trader/internal/errors"
	"trinity-trader/internal/models"
)

const codeFence = "```"

const voteSchema = `{
  "type": "object",
  "required": ["signal", "confidence"],
  "properties": {
    "signal": {"type": "string", "enum": ["LONG", "SHORT", "WAIT"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 100},
    "reasoning": {"type": "string"}
  }
}`

var compiledVoteSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("vote.json", strings.NewReader(voteSchema)); err != nil {
		return nil, err
	}
	return compiler.Compile("vote.json")
})

// ParsedVote is the validated content of a model response.
type ParsedVote struct {
	Signal     models.Signal
	Confidence float64
	Reasoning  string
}

// ParseVote extracts and validates the JSON vote in a model response.
// Every failure wraps ErrVoterMalformed.
func ParseVote(raw string) (ParsedVote, error) {
	body, ok := extractObject(raw)
	if !ok || !gjson.Valid(body) {
		return ParsedVote{}, malformed("no JSON object in response")
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return ParsedVote{}, malformed(err.Error())
	}
	if s, ok := doc["signal"].(string); ok {
		doc["signal"] = strings.ToUpper(strings.TrimSpace(s))
	}

	schema, err := compiledVoteSchema()
	if err != nil {
		return ParsedVote{}, fmt.Errorf("compile vote schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return ParsedVote{}, malformed(err.Error())
	}

	parsed := gjson.Parse(body)
	reasoning := strings.TrimSpace(parsed.Get("reasoning").String())
	if reasoning == "" {
		reasoning = "No reasoning provided"
	}
	return ParsedVote{
		Signal:     models.Signal(doc["signal"].(string)),
		Confidence: parsed.Get("confidence").Float(),
		Reasoning:  reasoning,
	}, nil
}

func malformed(detail string) error {
	return fmt.Errorf("%w: %s", apperrors.ErrVoterMalformed, detail)
}

// extractObject returns the first balanced JSON object in raw, looking
// inside a code fence first.
func extractObject(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if start := strings.Index(raw, codeFence); start != -1 {
		rest := raw[start+len(codeFence):]
		if end := strings.Index(rest, codeFence); end != -1 {
			raw = strings.TrimPrefix(strings.TrimSpace(rest[:end]), "json")
		}
	}

	start := strings.Index(raw, "{")
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}
