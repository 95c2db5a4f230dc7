package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/scrypster/engram/pkg/types"
)

// ExtractionResponse is the strict JSON shape the extraction prompt demands.
type ExtractionResponse struct {
	Facts  []types.FactCandidate  `json:"facts"`
	Skills []types.SkillCandidate `json:"skills"`
}

// ParseResult carries the outcome of one parse attempt so the caller can
// decide whether a repair round is warranted.
type ParseResult struct {
	// Response is non-nil when parsing succeeded.
	Response *ExtractionResponse

	// Err describes why parsing failed.
	Err error

	// Raw is the text the parse attempt saw, kept for the repair prompt.
	Raw string
}

// OK reports whether the attempt produced a usable response.
func (r ParseResult) OK() bool {
	return r.Response != nil
}

// extractionPromptTemplate demands bare JSON. Models still wrap output in
// prose or code fences often enough that ParseExtraction strips both.
const extractionPromptTemplate = `Extract durable user facts and reusable procedures from this exchange.

User said: %s
Assistant said: %s

Respond with ONLY a JSON object, no other text:
{"facts": [{"entity": "user", "key": "snake_case_key", "value": "short value", "kind": "identity|preference|constraint|event", "confidence": 0.0}], "skills": [{"title": "short title", "steps": "newline-joined steps", "confidence": 0.0}]}

Rules:
- Only include facts stated by the user about themselves or their work.
- Keys are snake_case, values at most a short phrase.
- Omit anything speculative. Empty arrays are fine.`

// repairPromptTemplate gets one retry with the parse error attached.
const repairPromptTemplate = `Your previous output could not be parsed as JSON.

Error: %s

Previous output:
%s

Respond again with ONLY the corrected JSON object, nothing else.`

// Extractor runs LLM fact extraction behind a circuit breaker, with exactly
// one repair attempt when the first response fails strict parsing.
type Extractor struct {
	gen     TextGenerator
	breaker *CircuitBreaker
}

// NewExtractor wraps gen with breaker. A nil breaker gets defaults.
func NewExtractor(gen TextGenerator, breaker *CircuitBreaker) *Extractor {
	if breaker == nil {
		breaker = NewCircuitBreaker(CircuitBreakerConfig{})
	}
	return &Extractor{gen: gen, breaker: breaker}
}

// Extract asks the model for fact and skill candidates from one exchange.
func (e *Extractor) Extract(ctx context.Context, userText, assistantText string) (*ExtractionResponse, error) {
	prompt := fmt.Sprintf(extractionPromptTemplate, userText, assistantText)

	raw, err := e.breaker.Execute(ctx, func() (string, error) {
		return e.gen.Complete(ctx, prompt)
	})
	if err != nil {
		return nil, fmt.Errorf("llm: extraction call: %w", err)
	}

	result := ParseExtraction(raw)
	if result.OK() {
		return result.Response, nil
	}

	// One repair round: hand the model its own broken output and the error.
	log.Printf("llm: extraction parse failed, attempting repair: %v", result.Err)
	repairPrompt := fmt.Sprintf(repairPromptTemplate, result.Err, result.Raw)

	raw, err = e.breaker.Execute(ctx, func() (string, error) {
		return e.gen.Complete(ctx, repairPrompt)
	})
	if err != nil {
		return nil, fmt.Errorf("llm: extraction repair call: %w", err)
	}

	result = ParseExtraction(raw)
	if !result.OK() {
		return nil, fmt.Errorf("llm: extraction unparseable after repair: %w", result.Err)
	}
	return result.Response, nil
}

// ParseExtraction applies strict parsing to a model response: locate the
// JSON object, unmarshal it, and require both top-level arrays to be valid.
func ParseExtraction(raw string) ParseResult {
	jsonStr := extractJSON(raw)

	var resp ExtractionResponse
	if err := json.Unmarshal([]byte(jsonStr), &resp); err != nil {
		return ParseResult{Err: fmt.Errorf("invalid JSON: %w", err), Raw: raw}
	}

	if resp.Facts == nil && resp.Skills == nil {
		return ParseResult{Err: fmt.Errorf("missing facts and skills arrays"), Raw: raw}
	}
	return ParseResult{Response: &resp, Raw: raw}
}

// extractJSON extracts the first complete JSON object from text that may
// contain extra prose. Models add explanations before/after the JSON
// despite instructions, and fence it in markdown.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text
	}

	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}

		// Braces only count outside string literals.
		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return text
}
