package answer

import (
	"context"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/ada/internal/document"
)

// FixtureService answers from an in-memory table. It serves offline demos
// and tests.
type FixtureService struct {
	entries  map[string]*document.Document
	fallback *document.Document
	delay    time.Duration
}

// NewFixtureService creates a service with the built-in sample answer as the
// fallback for unknown questions.
func NewFixtureService(delay time.Duration) *FixtureService {
	return &FixtureService{
		entries:  make(map[string]*document.Document),
		fallback: sampleDocument(),
		delay:    delay,
	}
}

// Add registers doc as the answer to every question containing keyword.
// Register fixtures before the service is shared.
func (f *FixtureService) Add(keyword string, doc *document.Document) {
	f.entries[strings.ToLower(keyword)] = doc
}

// Ask implements Service.
func (f *FixtureService) Ask(ctx context.Context, question string) (*document.Document, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, Transport(ctx.Err())
		case <-time.After(f.delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, Transport(err)
	}

	q := strings.ToLower(question)
	for kw, doc := range f.entries {
		if strings.Contains(q, kw) {
			return doc, nil
		}
	}
	if f.fallback == nil {
		return nil, Application(404, "no answer for this question")
	}
	return f.fallback, nil
}

func sampleDocument() *document.Document {
	doc, err := document.New(
		[]document.Section{
			{
				Header:           "# Photosynthesis",
				Body:             "Plants turn light, water and carbon dioxide into sugar and oxygen.",
				ReferenceIndices: []int{0},
			},
			{
				Header:           "## Inside the leaf",
				Body:             "Chloroplasts hold chlorophyll, the pigment that absorbs light.",
				Image:            "https://upload.wikimedia.org/wikipedia/commons/4/49/Chloroplast_II.svg",
				ReferenceIndices: []int{1, 0},
			},
			{
				Header:           "## Further reading",
				Body:             "Research continues into making the process more efficient in crops.",
				ReferenceIndices: []int{2},
			},
		},
		[]document.Reference{
			{Kind: document.KindWebArticle, Name: "Photosynthesis - Wikipedia", Link: "https://en.wikipedia.org/wiki/Photosynthesis"},
			{Kind: document.KindImage, Name: "Chloroplast diagram", Link: "https://upload.wikimedia.org/wikipedia/commons/4/49/Chloroplast_II.svg"},
			{Kind: document.KindResearchPaper, Name: "Improving photosynthesis", Link: "https://arxiv.org/abs/1911.00000"},
		},
	)
	if err != nil {
		panic(err)
	}
	return doc
}
