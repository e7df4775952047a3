package reranker

import (
	"context"
	"sort"
	"strings"
	"unicode"
)

// DefaultLexicalWeight is the share of the combined score taken by term overlap.
const DefaultLexicalWeight = 0.5

// LexicalReranker blends the vector score with the fraction of distinct query
// terms present in each document. It is deterministic: ties keep the
// incoming order.
type LexicalReranker struct {
	weight float32
}

var _ Reranker = (*LexicalReranker)(nil)

// NewLexicalReranker returns a reranker giving weight to term overlap and
// 1-weight to the vector score. Weights outside (0, 1] use the default.
func NewLexicalReranker(weight float32) *LexicalReranker {
	if weight <= 0 || weight > 1 {
		weight = DefaultLexicalWeight
	}
	return &LexicalReranker{weight: weight}
}

func (r *LexicalReranker) Rerank(ctx context.Context, query string, docs []Document, topK int) ([]ScoredDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 || topK > len(docs) {
		topK = len(docs)
	}

	terms := uniqueTerms(query)
	scored := make([]ScoredDocument, len(docs))
	for i, d := range docs {
		s := ScoredDocument{Document: d, OriginalRank: i, Combined: d.Score, RerankerScore: d.Score}
		if len(terms) > 0 {
			s.RerankerScore = overlap(terms, d.Content)
			s.Combined = (1-r.weight)*d.Score + r.weight*s.RerankerScore
		}
		scored[i] = s
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Combined > scored[j].Combined
	})
	return scored[:topK], nil
}

func (r *LexicalReranker) Close() error { return nil }

// overlap is the fraction of terms that occur in content.
func overlap(terms []string, content string) float32 {
	present := make(map[string]bool)
	for _, tok := range tokenize(content) {
		present[tok] = true
	}
	n := 0
	for _, t := range terms {
		if present[t] {
			n++
		}
	}
	return float32(n) / float32(len(terms))
}

func uniqueTerms(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range tokenize(text) {
		if !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out
}

// tokenize lowercases text and splits it on anything but letters and
// digits, dropping stopwords and tokens shorter than three runes.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) > 2 && !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

var stopwords = map[string]bool{
	"the": true, "and": true, "but": true, "for": true, "with": true, "from": true,
	"was": true, "are": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "does": true, "did": true, "will": true, "would": true, "could": true,
	"should": true, "may": true, "might": true, "can": true, "this": true, "that": true,
	"these": true, "those": true, "you": true, "she": true, "they": true, "what": true,
	"which": true, "who": true, "when": true, "where": true, "why": true, "how": true,
	"our": true, "your": true, "their": true, "there": true, "about": true, "into": true,
}
