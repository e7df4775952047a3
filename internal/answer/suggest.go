package answer

import (
	"strings"

	"github.com/fyrsmithlabs/lexrag/internal/model"
)

// Suggestion limits.
const (
	MaxSuggestions = 8
	MaxFollowUps   = 3
)

var (
	documentQuestions = []string{
		"What are the key terms in our agreements?",
		"Summarize the main legal documents",
		"What compliance requirements do we have?",
		"What are the important dates and deadlines?",
	}
	emailQuestions = []string{
		"What decisions were made in recent email discussions?",
		"What action items are pending?",
		"Who are the key people involved in our legal matters?",
		"What approvals or signatures are needed?",
	}
)

// followUpRules map question keywords to follow-up questions. The first
// matching rule wins a slot before later ones.
var followUpRules = []struct {
	keywords  []string
	questions []string
}{
	{
		keywords: []string{"equity", "stock"},
		questions: []string{
			"What are the vesting requirements for this equity grant?",
			"Are there any performance milestones or conditions?",
			"What documentation is needed to complete this grant?",
		},
	},
	{
		keywords: []string{"agreement", "contract"},
		questions: []string{
			"What are the key terms and conditions?",
			"What are the termination provisions?",
			"Are there any compliance requirements?",
		},
	},
	{
		keywords: []string{"board"},
		questions: []string{
			"What board approvals are required?",
			"When is the next board meeting?",
			"What documentation needs board review?",
		},
	},
}

// Suggestions proposes starter questions for a client's content, followed
// by extra, capped at MaxSuggestions.
func Suggestions(stats model.ClientStats, extra []string) []string {
	out := make([]string, 0, MaxSuggestions)
	if stats.Documents > 0 {
		out = append(out, documentQuestions...)
	}
	if stats.Emails > 0 {
		out = append(out, emailQuestions...)
	}
	out = append(out, extra...)
	if len(out) > MaxSuggestions {
		out = out[:MaxSuggestions]
	}
	return out
}

// FollowUps proposes up to MaxFollowUps questions related to question.
func FollowUps(question string) []string {
	q := strings.ToLower(question)
	out := []string{}
	for _, rule := range followUpRules {
		if !containsAny(q, rule.keywords) {
			continue
		}
		out = append(out, rule.questions...)
		if len(out) >= MaxFollowUps {
			return out[:MaxFollowUps]
		}
	}
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
