package upstream

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

// ParseStage identifies which parser produced a payload.
type ParseStage int

const (
	// StageStrict means the whole body matched the schema.
	StageStrict ParseStage = iota + 1
	// StageSalvage means the payload was recovered from surrounding text.
	StageSalvage
)

// String returns the stage name.
func (s ParseStage) String() string {
	switch s {
	case StageStrict:
		return "strict"
	case StageSalvage:
		return "salvage"
	default:
		return "unknown"
	}
}

// ParseResult is a payload tagged with the stage that produced it.
type ParseResult struct {
	Payload AnalysisPayload
	Stage   ParseStage
}

// Parse turns a raw provider reply into a payload. It tries a strict decode
// of the whole body first, then salvages the first embedded object that
// carries the required fields. It returns ErrUpstreamParse when both fail.
func Parse(body string) (ParseResult, error) {
	if p, err := parseStrict(body); err == nil {
		return ParseResult{Payload: p, Stage: StageStrict}, nil
	}
	if p, ok := salvage(body); ok {
		return ParseResult{Payload: p, Stage: StageSalvage}, nil
	}
	return ParseResult{}, fmt.Errorf("%w: no payload in %d byte reply", ErrUpstreamParse, len(body))
}

func parseStrict(body string) (AnalysisPayload, error) {
	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()

	var p AnalysisPayload
	if err := dec.Decode(&p); err != nil {
		return AnalysisPayload{}, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return AnalysisPayload{}, fmt.Errorf("trailing data after object")
	}
	if !p.Valid() {
		return AnalysisPayload{}, fmt.Errorf("missing required fields")
	}
	return p, nil
}

// salvage scans fenced blocks first, then every balanced object in the text.
func salvage(body string) (AnalysisPayload, bool) {
	for _, block := range fencedBlocks(body) {
		if p, ok := salvageObject(block); ok {
			return p, true
		}
		for _, obj := range balancedObjects(block) {
			if p, ok := salvageObject(obj); ok {
				return p, true
			}
		}
	}
	for _, obj := range balancedObjects(body) {
		if p, ok := salvageObject(obj); ok {
			return p, true
		}
	}
	return AnalysisPayload{}, false
}

// salvageObject reads the payload leniently: unknown fields are ignored,
// labels are lower-cased, numeric strings are accepted and list fields may
// be a single comma-separated string.
func salvageObject(raw string) (AnalysisPayload, bool) {
	raw = strings.TrimSpace(raw)
	if !gjson.Valid(raw) {
		return AnalysisPayload{}, false
	}
	doc := gjson.Parse(raw)
	if !doc.IsObject() {
		return AnalysisPayload{}, false
	}

	p := AnalysisPayload{
		Sentiment: strings.ToLower(strings.TrimSpace(doc.Get("sentiment").String())),
		Score:     doc.Get("score").Float(),
		Summary:   strings.TrimSpace(doc.Get("summary").String()),
		Keywords:  stringList(doc.Get("keywords")),
		Topics:    stringList(doc.Get("topics")),
		Language:  strings.TrimSpace(doc.Get("language").String()),
	}
	return p, p.Valid()
}

func stringList(v gjson.Result) []string {
	if !v.Exists() {
		return nil
	}
	var out []string
	if v.IsArray() {
		for _, item := range v.Array() {
			if s := strings.TrimSpace(item.String()); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	for _, s := range strings.Split(v.String(), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// fencedBlocks returns the contents of ``` fenced blocks, skipping an
// optional language tag on the opening line.
func fencedBlocks(text string) []string {
	var blocks []string
	rest := text
	for {
		start := strings.Index(rest, "```")
		if start < 0 {
			return blocks
		}
		rest = rest[start+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.ContainsAny(rest[:nl], "{[") {
			rest = rest[nl+1:]
		}
		end := strings.Index(rest, "```")
		if end < 0 {
			return append(blocks, rest)
		}
		blocks = append(blocks, rest[:end])
		rest = rest[end+3:]
	}
}

// balancedObjects returns every balanced {...} span in text, outermost
// first, honoring JSON string quoting so braces inside strings do not count.
// Nested spans are included so a payload wrapped in another object is found.
func balancedObjects(text string) []string {
	var objs []string
	b := []byte(text)
	for i := 0; i < len(b); i++ {
		if b[i] != '{' {
			continue
		}
		if end := matchBrace(b, i); end > 0 {
			objs = append(objs, string(b[i:end+1]))
		}
	}
	return objs
}

func matchBrace(b []byte, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(b); i++ {
		c := b[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
