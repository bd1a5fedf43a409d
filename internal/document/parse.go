package document

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// payloadSchema accepts both the nested {"article":{"sections":[...]}} shape
// served by the answer backend and a flat {"sections":[...]} shape. Sections
// and references reject unknown keys so a misspelt citation field fails the
// payload instead of dropping its citations.
const payloadSchema = `{
  "type": "object",
  "properties": {
    "article": {
      "type": "object",
      "required": ["sections"],
      "properties": {"sections": {"$ref": "#/definitions/sections"}}
    },
    "sections": {"$ref": "#/definitions/sections"},
    "references": {
      "type": ["array", "null"],
      "items": {"$ref": "#/definitions/reference"}
    }
  },
  "required": ["references"],
  "anyOf": [{"required": ["article"]}, {"required": ["sections"]}],
  "definitions": {
    "sections": {"type": "array", "items": {"$ref": "#/definitions/section"}},
    "section": {
      "type": "object",
      "properties": {
        "header": {"type": ["string", "null"]},
        "markdown": {"type": ["string", "null"]},
        "body": {"type": ["string", "null"]},
        "image": {"type": ["string", "null"]},
        "references": {"type": ["array", "null"], "items": {"type": "integer"}},
        "reference_indices": {"type": ["array", "null"], "items": {"type": "integer"}},
        "referenceIndices": {"type": ["array", "null"], "items": {"type": "integer"}}
      },
      "additionalProperties": false
    },
    "reference": {
      "type": "object",
      "required": ["name", "link"],
      "properties": {
        "name": {"type": "string"},
        "link": {"type": "string"},
        "type": {"type": ["string", "null"]},
        "kind": {"type": ["string", "null"]}
      },
      "additionalProperties": false
    }
  }
}`

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(payloadSchema))
})

type wireSection struct {
	Header           *string `json:"header"`
	Markdown         *string `json:"markdown"`
	Body             *string `json:"body"`
	Image            *string `json:"image"`
	References       []int   `json:"references"`
	ReferenceIndices []int   `json:"reference_indices"`
	CamelIndices     []int   `json:"referenceIndices"`
}

type wireReference struct {
	Type *Kind  `json:"type"`
	Kind *Kind  `json:"kind"`
	Name string `json:"name"`
	Link string `json:"link"`
}

type wirePayload struct {
	Article *struct {
		Sections []wireSection `json:"sections"`
	} `json:"article"`
	Sections   []wireSection   `json:"sections"`
	References []wireReference `json:"references"`
}

// Parse turns a raw answer payload into a Document. The payload is checked
// against the schema, decoded, and every reference index is checked against
// the reference list. Any failure rejects the whole payload.
func Parse(raw []byte) (*Document, error) {
	if !json.Valid(raw) {
		return nil, &ValidationError{Problems: []string{"payload is not valid JSON"}}
	}

	schema, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile document schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, &ValidationError{Problems: problems}
	}

	var payload wirePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}

	wire := payload.Sections
	if payload.Article != nil {
		wire = payload.Article.Sections
	}

	sections := make([]Section, 0, len(wire))
	for _, ws := range wire {
		sec := Section{
			Header: deref(ws.Header),
			Body:   deref(ws.Markdown),
			Image:  deref(ws.Image),
		}
		if sec.Body == "" {
			sec.Body = deref(ws.Body)
		}
		sec.ReferenceIndices = firstNonNil(ws.References, ws.ReferenceIndices, ws.CamelIndices)
		sections = append(sections, sec)
	}

	refs := make([]Reference, 0, len(payload.References))
	for _, wr := range payload.References {
		ref := Reference{Name: wr.Name, Link: wr.Link}
		switch {
		case wr.Type != nil:
			ref.Kind = *wr.Type
		case wr.Kind != nil:
			ref.Kind = *wr.Kind
		}
		refs = append(refs, ref)
	}

	return New(sections, refs)
}

func firstNonNil(lists ...[]int) []int {
	for _, l := range lists {
		if l != nil {
			return l
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
