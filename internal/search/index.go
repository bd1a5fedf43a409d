// Package search keeps an in-memory full-text index over answered
// questions: their text, section headers and bodies, and cited reference
// names.
package search

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/ChamsBouzaiene/ada/internal/session"
)

// Hit is one search result.
type Hit struct {
	QuestionID int     `json:"question_id"`
	Score      float64 `json:"score"`
	Question   string  `json:"question"`
}

// entry is the indexed form of a question.
type entry struct {
	QuestionID string `json:"question_id"`
	Question   string `json:"question"`
	Headers    string `json:"headers"`
	Body       string `json:"body"`
	References string `json:"references"`
}

// Index is a bleve memory-only index. It lives as long as the session.
type Index struct {
	mu    sync.RWMutex
	index bleve.Index
}

// NewIndex creates an empty index.
func NewIndex() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create history index: %w", err)
	}
	return &Index{index: idx}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	questionMapping := bleve.NewDocumentMapping()

	idField := bleve.NewTextFieldMapping()
	idField.Analyzer = keyword.Name
	idField.Store = true
	idField.Index = true
	questionMapping.AddFieldMappingsAt("question_id", idField)

	questionField := bleve.NewTextFieldMapping()
	questionField.Analyzer = standard.Name
	questionField.Store = true
	questionField.Index = true
	questionMapping.AddFieldMappingsAt("question", questionField)

	for _, name := range []string{"headers", "body", "references"} {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = standard.Name
		f.Store = false
		f.Index = true
		questionMapping.AddFieldMappingsAt(name, f)
	}

	indexMapping.DefaultMapping = questionMapping
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping
}

// IndexQuestion adds q to the index. It implements session.Indexer.
func (i *Index) IndexQuestion(q session.Question) error {
	e := entry{
		QuestionID: strconv.Itoa(q.ID),
		Question:   q.Text,
	}
	if q.Document != nil {
		var headers, bodies, refs []string
		for _, sec := range q.Document.Sections {
			headers = append(headers, sec.Header)
			bodies = append(bodies, sec.Body)
		}
		for _, ref := range q.Document.References {
			refs = append(refs, ref.Name)
		}
		e.Headers = strings.Join(headers, "\n")
		e.Body = strings.Join(bodies, "\n")
		e.References = strings.Join(refs, "\n")
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.index.Index(e.QuestionID, e); err != nil {
		return fmt.Errorf("failed to index question %d: %w", q.ID, err)
	}
	return nil
}

// Search returns hits for text, best first. The question text is boosted
// over the answer body.
func (i *Index) Search(text string, limit int) ([]Hit, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	questionQ := bleve.NewMatchQuery(text)
	questionQ.SetField("question")
	questionQ.SetBoost(3.0)

	headersQ := bleve.NewMatchQuery(text)
	headersQ.SetField("headers")
	headersQ.SetBoost(2.0)

	bodyQ := bleve.NewMatchQuery(text)
	bodyQ.SetField("body")

	refsQ := bleve.NewMatchQuery(text)
	refsQ.SetField("references")

	prefixQ := bleve.NewPrefixQuery(strings.ToLower(lastWord(text)))
	prefixQ.SetField("question")

	q := bleve.NewDisjunctionQuery([]query.Query{questionQ, headersQ, bodyQ, refsQ, prefixQ}...)

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"question_id", "question"}

	i.mu.RLock()
	res, err := i.index.Search(req)
	i.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("history search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		id, err := strconv.Atoi(h.ID)
		if err != nil {
			continue
		}
		hit := Hit{QuestionID: id, Score: h.Score}
		if text, ok := h.Fields["question"].(string); ok {
			hit.Question = text
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// SearchIDs implements session.Indexer.
func (i *Index) SearchIDs(text string, limit int) ([]int, error) {
	hits, err := i.Search(text, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]int, len(hits))
	for n, h := range hits {
		ids[n] = h.QuestionID
	}
	return ids, nil
}

// Count returns the number of indexed questions.
func (i *Index) Count() (uint64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.index.DocCount()
}

// Close releases the index.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.index.Close()
}

func lastWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}
