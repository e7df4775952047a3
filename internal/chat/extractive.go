package chat

import (
	"context"
	"sort"
	"strings"
	"unicode"
)

const (
	extractiveMaxSentences = 3
	extractiveMinSentence  = 10
)

// ExtractiveCompleter answers without a language model by quoting the context
// sentences that best overlap the question. It serves offline deployments.
//
// The last user message is read as "<context>\nQuestion: <question>".
type ExtractiveCompleter struct{}

// NewExtractiveCompleter creates an ExtractiveCompleter.
func NewExtractiveCompleter() *ExtractiveCompleter {
	return &ExtractiveCompleter{}
}

func (e *ExtractiveCompleter) Complete(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	var prompt string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			prompt = req.Messages[i].Content
			break
		}
	}

	contextText, question := splitPrompt(prompt)
	picked := selectSentences(splitSentences(contextText), terms(question))
	if len(picked) == 0 {
		return Response{Content: "I could not find an answer to that in the available documents and emails."}, nil
	}
	answer := "Based on the available documents and emails: " + strings.Join(picked, " ")
	return Response{Content: answer, TokensUsed: len(strings.Fields(prompt)) + len(strings.Fields(answer))}, nil
}

func splitPrompt(prompt string) (contextText, question string) {
	idx := strings.LastIndex(prompt, "Question:")
	if idx < 0 {
		return prompt, prompt
	}
	question = prompt[idx+len("Question:"):]
	if end := strings.Index(question, "\n\n"); end >= 0 {
		question = question[:end]
	}
	return prompt[:idx], strings.TrimSpace(question)
}

// splitSentences breaks text into sentences, dropping context header lines.
func splitSentences(text string) []string {
	var sentences []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "[") || strings.HasPrefix(line, "Context from") {
			continue
		}
		var cur strings.Builder
		for _, r := range line {
			cur.WriteRune(r)
			if r == '.' || r == '!' || r == '?' {
				if s := strings.TrimSpace(cur.String()); len(s) > extractiveMinSentence {
					sentences = append(sentences, s)
					cur.Reset()
				}
			}
		}
		if s := strings.TrimSpace(cur.String()); len(s) > extractiveMinSentence {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

func selectSentences(sentences []string, query map[string]bool) []string {
	if len(query) == 0 {
		return nil
	}
	type scored struct {
		index int
		score float64
	}
	seen := make(map[string]bool)
	var candidates []scored
	for i, s := range sentences {
		if seen[s] {
			continue
		}
		seen[s] = true
		words := terms(s)
		hits := 0
		for w := range words {
			if query[w] {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		// Earlier context is ranked higher by the retriever.
		score := float64(hits)/float64(len(query)) + 0.1/float64(i+1)
		candidates = append(candidates, scored{index: i, score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > extractiveMaxSentences {
		candidates = candidates[:extractiveMaxSentences]
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].index < candidates[j].index })

	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = sentences[c.index]
	}
	return out
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true, "what": true,
	"who": true, "how": true, "does": true, "did": true, "with": true, "this": true,
	"that": true, "from": true, "have": true, "has": true, "about": true, "which": true,
	"when": true, "where": true, "will": true, "can": true, "our": true, "you": true,
}

func terms(text string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(w) > 2 && !stopwords[w] {
			out[w] = true
		}
	}
	return out
}
