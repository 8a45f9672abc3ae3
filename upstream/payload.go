package upstream

import (
	"encoding/json"
	"strings"
)

// Sentiment labels accepted in an AnalysisPayload.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
	SentimentMixed    = "mixed"
)

// AnalysisPayload is the structured result of analyzing one text.
type AnalysisPayload struct {
	Sentiment string   `json:"sentiment"`
	Score     float64  `json:"score"`
	Summary   string   `json:"summary"`
	Keywords  []string `json:"keywords"`
	Topics    []string `json:"topics"`
	Language  string   `json:"language"`
}

// Valid reports whether the payload carries the required fields.
func (p AnalysisPayload) Valid() bool {
	if strings.TrimSpace(p.Summary) == "" {
		return false
	}
	switch p.Sentiment {
	case SentimentPositive, SentimentNegative, SentimentNeutral, SentimentMixed:
		return true
	default:
		return false
	}
}

// Marshal encodes the payload for caching.
func (p AnalysisPayload) Marshal() (json.RawMessage, error) {
	return json.Marshal(p)
}

// UnmarshalPayload decodes a cached payload.
func UnmarshalPayload(data json.RawMessage) (AnalysisPayload, error) {
	var p AnalysisPayload
	err := json.Unmarshal(data, &p)
	return p, err
}

// analysisSchema is the JSON schema requested from providers that support
// structured output.
var analysisSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"sentiment": map[string]any{
			"type": "string",
			"enum": []string{SentimentPositive, SentimentNegative, SentimentNeutral, SentimentMixed},
		},
		"score":    map[string]any{"type": "number", "description": "Sentiment strength from -1 to 1"},
		"summary":  map[string]any{"type": "string"},
		"keywords": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"topics":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"language": map[string]any{"type": "string", "description": "ISO 639-1 code"},
	},
	"required":             []string{"sentiment", "score", "summary", "keywords", "topics", "language"},
	"additionalProperties": false,
}
