package app

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"transcript-rag/internal/ai"
)

// CleanedChunk is the only shape accepted back from the cleaning model.
type CleanedChunk struct {
	CleanedText       string `json:"cleaned_text"`
	ContainsCrosstalk bool   `json:"contains_crosstalk"`
	Notes             string `json:"notes,omitempty"`
}

var (
	censorMarker = regexp.MustCompile(`\[[\x{00a0} ]__[\x{00a0} ]\]`)
	bracketTag   = regexp.MustCompile(`\[[^\]]*\]`)
	whitespace   = regexp.MustCompile(`\s+`)
	chunkTag     = regexp.MustCompile(`(?i)</?CHUNK>`)
	preamble     = regexp.MustCompile(`(?i)here(?: is|'s) the cleaned chunk:`)

	quoteFixer = strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'")
)

// NormalizeRaw applies the deterministic fixes made to every raw chunk
// before it reaches the model.
func NormalizeRaw(text string) string {
	text = censorMarker.ReplaceAllString(text, "****")
	text = strings.ReplaceAll(text, "\u200b", "")
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = strings.ReplaceAll(text, ">>", "")
	text = bracketTag.ReplaceAllString(text, "")
	text = whitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// CleanResponse strips the wrapping models put around their output.
func CleanResponse(resp string) string {
	resp = ai.StripThinking(resp)
	if locs := preamble.FindAllStringIndex(resp, -1); len(locs) > 0 {
		resp = resp[locs[len(locs)-1][1]:]
	}
	resp = chunkTag.ReplaceAllString(resp, "")
	resp = quoteFixer.Replace(resp)
	return ai.StripFences(resp)
}

var cleanedChunkSchema = mustResolve(&jsonschema.Schema{
	Type:     "object",
	Required: []string{"cleaned_text"},
	Properties: map[string]*jsonschema.Schema{
		"cleaned_text":       {Type: "string", MinLength: intPtr(1)},
		"contains_crosstalk": {Type: "boolean"},
		"notes":              {Type: "string"},
	},
})

func mustResolve(s *jsonschema.Schema) *jsonschema.Resolved {
	resolved, err := s.Resolve(nil)
	if err != nil {
		panic(err)
	}
	return resolved
}

func intPtr(v int) *int {
	return &v
}

// ParseCleanedChunk decodes and validates a cleaning response. The returned
// string is the reason used when the chunk is rejected.
func ParseCleanedChunk(resp string) (*CleanedChunk, string) {
	body := CleanResponse(resp)
	if body == "" {
		return nil, "empty response"
	}

	var instance map[string]interface{}
	if err := json.Unmarshal([]byte(body), &instance); err != nil {
		return nil, "response is not a JSON object: " + err.Error()
	}
	if err := cleanedChunkSchema.Validate(instance); err != nil {
		return nil, "schema violation: " + err.Error()
	}

	var chunk CleanedChunk
	if err := json.Unmarshal([]byte(body), &chunk); err != nil {
		return nil, "decode cleaned chunk: " + err.Error()
	}
	chunk.CleanedText = strings.TrimSpace(whitespace.ReplaceAllString(chunk.CleanedText, " "))
	if chunk.CleanedText == "" {
		return nil, "cleaned_text is blank"
	}
	return &chunk, ""
}
