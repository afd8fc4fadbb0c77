// Package fulltext implements the Full-Text Index: a bleve BM25 index over
// text content nodes, queried either per-token (disjunction across up to
// 100 tokens) or as a single highlighted phrase match.
package fulltext

import (
	"fmt"
	"log/slog"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/unicodenorm"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
)

const contentAnalyzerName = "contentbase_en"

// maxTokenQuery caps the number of disjunction clauses in a per-token
// search, matching the engine's 100-token query budget.
const maxTokenQuery = 100

// HighlightMarks controls the fragment bracketing used in phrase-highlight
// mode. Defaults to the unicode brackets used across the engine's snippets
// but is overridable per call, per the supplemented highlight-marks feature.
type HighlightMarks struct {
	Open  string
	Close string
}

// DefaultHighlightMarks matches the engine's default snippet bracketing.
var DefaultHighlightMarks = HighlightMarks{Open: "⟦", Close: "⟧"}

// Hit is one full-text match.
type Hit struct {
	NodeID    string
	Score     float64
	Fragments []string
}

// Index is the sole owner of the bleve full-text index.
type Index struct {
	bleve bleve.Index
	log   *slog.Logger
}

// Open creates or opens a bleve index at path ("" for an in-memory index).
func Open(path string, log *slog.Logger) (*Index, error) {
	if log == nil {
		log = slog.Default()
	}

	m, err := buildMapping()
	if err != nil {
		return nil, fmt.Errorf("fulltext: build mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		idx, err = bleve.Open(path)
		if err != nil {
			idx, err = bleve.New(path, m)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("fulltext: open index: %w", err)
	}
	return &Index{bleve: idx, log: log}, nil
}

// Close closes the underlying bleve index.
func (i *Index) Close() error { return i.bleve.Close() }

// buildMapping chains bleve's unicode tokenizer, lowercase filter,
// unicode-normalize (NFKD, approximating ASCII-folding) filter, and the
// English snowball stemmer, per the engine's lowercase/ASCII/snowball
// analyzer requirement.
func buildMapping() (mapping.IndexMapping, error) {
	m := bleve.NewIndexMapping()

	if err := m.AddCustomTokenFilter(unicodenorm.Name, map[string]any{
		"type": unicodenorm.Name,
		"form": unicodenorm.NFKD,
	}); err != nil {
		return nil, err
	}

	if err := m.AddCustomAnalyzer(contentAnalyzerName, map[string]any{
		"type":      custom.Name,
		"tokenizer": unicode.Name,
		"token_filters": []string{
			lowercase.Name,
			unicodenorm.Name,
			en.StemmerName,
		},
	}); err != nil {
		return nil, err
	}

	m.DefaultAnalyzer = contentAnalyzerName

	nodeMapping := bleve.NewDocumentMapping()
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = contentAnalyzerName
	textField.Store = true
	nodeMapping.AddFieldMappingsAt("text", textField)
	m.AddDocumentMapping("content_node", nodeMapping)

	return m, nil
}

// IndexNode upserts one content node's text into the index, keyed by node ID.
func (i *Index) IndexNode(nodeID, text string) error {
	return i.bleve.Index(nodeID, map[string]string{"text": text})
}

// DeleteNode removes a node from the index.
func (i *Index) DeleteNode(nodeID string) error {
	return i.bleve.Delete(nodeID)
}

// SearchTokens ORs a disjunction of match queries, one per token, capped
// at maxTokenQuery clauses.
func (i *Index) SearchTokens(tokens []string, limit int) ([]Hit, error) {
	if len(tokens) > maxTokenQuery {
		tokens = tokens[:maxTokenQuery]
	}
	disj := bleve.NewDisjunctionQuery()
	for _, tok := range tokens {
		q := bleve.NewMatchQuery(tok)
		q.SetField("text")
		disj.AddQuery(q)
	}

	req := bleve.NewSearchRequestOptions(disj, limit, 0, false)
	result, err := i.bleve.Search(req)
	if err != nil {
		return nil, fmt.Errorf("fulltext: search tokens: %w", err)
	}
	return toHits(result), nil
}

// SearchPhrase performs a single match-phrase query with highlighting,
// bracketing fragments with marks (DefaultHighlightMarks if zero value).
func (i *Index) SearchPhrase(phrase string, limit int, marks HighlightMarks) ([]Hit, error) {
	if marks == (HighlightMarks{}) {
		marks = DefaultHighlightMarks
	}
	q := bleve.NewMatchPhraseQuery(phrase)
	q.SetField("text")

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Highlight = bleve.NewHighlightWithStyle("")
	req.Highlight.AddField("text")

	result, err := i.bleve.Search(req)
	if err != nil {
		return nil, fmt.Errorf("fulltext: search phrase: %w", err)
	}
	hits := toHits(result)
	for h := range hits {
		for j, frag := range hits[h].Fragments {
			hits[h].Fragments[j] = marks.Open + frag + marks.Close
		}
	}
	return hits, nil
}

func toHits(result *bleve.SearchResult) []Hit {
	hits := make([]Hit, len(result.Hits))
	for i, h := range result.Hits {
		var frags []string
		for _, fs := range h.Fragments {
			frags = append(frags, fs...)
		}
		hits[i] = Hit{NodeID: h.ID, Score: h.Score, Fragments: frags}
	}
	return hits
}

// compile-time check that the registry package stays imported for the
// custom analyzer wiring above (bleve resolves filters by name at runtime).
var _ = registry.AnalyzerTypesAndInstances
