// Package document holds the structured answer returned for a question:
// an ordered list of sections and the shared reference list they cite.
package document

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind classifies a reference. The set is closed; anything the server sends
// that is not recognised becomes KindUnknown.
type Kind int

const (
	KindUnknown Kind = iota
	KindWebArticle
	KindImage
	KindResearchPaper
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindWebArticle:
		return "Web Article"
	case KindImage:
		return "Image"
	case KindResearchPaper:
		return "Research Paper"
	default:
		return "Unknown"
	}
}

// ParseKind maps a server-provided kind string onto Kind. Matching ignores
// case, spaces, dashes and underscores.
func ParseKind(s string) Kind {
	norm := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(s)))

	switch norm {
	case "webarticle", "web", "article":
		return KindWebArticle
	case "image", "img":
		return KindImage
	case "researchpaper", "paper", "arxiv":
		return KindResearchPaper
	default:
		return KindUnknown
	}
}

// MarshalJSON encodes the kind as its wire name.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes any string; unknown values map to KindUnknown.
func (k *Kind) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*k = KindUnknown
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("reference type must be a string: %w", err)
	}
	*k = ParseKind(s)
	return nil
}

// Reference is a single cited source.
type Reference struct {
	Kind Kind   `json:"type"`
	Name string `json:"name"`
	Link string `json:"link"`
}

// Section is one block of the answer. ReferenceIndices point into the owning
// Document's References and may repeat.
type Section struct {
	Header           string `json:"header"`
	Body             string `json:"markdown"`
	Image            string `json:"image,omitempty"`
	ReferenceIndices []int  `json:"references"`
}

// HasImage reports whether the section is image-led.
func (s Section) HasImage() bool {
	return s.Image != ""
}

// Document is the answer to one question. Values returned by New and Parse
// have been checked so every section's reference indices are in range; they
// must be treated as read-only afterwards.
type Document struct {
	Sections   []Section   `json:"sections"`
	References []Reference `json:"references"`
}

// New builds a Document from already-decoded parts, enforcing the same
// checks as Parse.
func New(sections []Section, refs []Reference) (*Document, error) {
	doc := &Document{
		Sections:   cloneSections(sections),
		References: append([]Reference(nil), refs...),
	}
	if problems := doc.check(); len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return doc, nil
}

// Cited returns the distinct references cited anywhere in the document, in
// order of first citation.
func (d *Document) Cited() []Reference {
	if d == nil {
		return nil
	}
	seen := make(map[int]bool, len(d.References))
	var out []Reference
	for _, sec := range d.Sections {
		for _, idx := range sec.ReferenceIndices {
			if seen[idx] || idx < 0 || idx >= len(d.References) {
				continue
			}
			seen[idx] = true
			out = append(out, d.References[idx])
		}
	}
	return out
}

// check returns every structural problem in the document.
func (d *Document) check() []string {
	var problems []string
	for i, ref := range d.References {
		if strings.TrimSpace(ref.Name) == "" {
			problems = append(problems, fmt.Sprintf("references[%d]: name is empty", i))
		}
	}
	for si, sec := range d.Sections {
		for _, idx := range sec.ReferenceIndices {
			if idx < 0 || idx >= len(d.References) {
				problems = append(problems, fmt.Sprintf("sections[%d]: reference index %d out of range [0,%d)", si, idx, len(d.References)))
			}
		}
	}
	return problems
}

func cloneSections(in []Section) []Section {
	out := make([]Section, len(in))
	for i, s := range in {
		out[i] = s
		if s.ReferenceIndices != nil {
			out[i].ReferenceIndices = append([]int(nil), s.ReferenceIndices...)
		}
	}
	return out
}

// ValidationError reports why a payload could not become a Document.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid document: %s", strings.Join(e.Problems, "; "))
}
