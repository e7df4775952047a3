package secrets

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// DefaultRedaction replaces every detected secret.
const DefaultRedaction = "[REDACTED]"

// ErrInvalidRule is returned for rules without an ID or with a bad pattern.
var ErrInvalidRule = errors.New("invalid scrub rule")

// Config configures a Scrubber.
type Config struct {
	Enabled   bool     `koanf:"enabled"`
	Redaction string   `koanf:"redaction"`
	Rules     []Rule   `koanf:"rules"`      // empty means DefaultRules
	AllowList []string `koanf:"allow_list"` // matches of these patterns are kept
}

// Finding locates one redacted secret. The matched value is not kept.
type Finding struct {
	RuleID   string   `json:"rule_id"`
	Severity Severity `json:"severity"`
	Start    int      `json:"start"`
	End      int      `json:"end"`
	Line     int      `json:"line"`
}

// Result is the outcome of Scrub.
type Result struct {
	Text     string
	Findings []Finding
}

// ByRule counts findings per rule ID.
func (r Result) ByRule() map[string]int {
	out := make(map[string]int, len(r.Findings))
	for _, f := range r.Findings {
		out[f.RuleID]++
	}
	return out
}

type compiled struct {
	Rule
	re       *regexp.Regexp
	keywords []string
}

// Scrubber redacts secrets from text. A nil or disabled Scrubber returns
// its input unchanged. It is safe for concurrent use.
type Scrubber struct {
	redaction string
	rules     []compiled
	allow     []*regexp.Regexp
}

// New compiles cfg. It returns nil, nil when scrubbing is disabled.
func New(cfg Config) (*Scrubber, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	rules := cfg.Rules
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	s := &Scrubber{redaction: cfg.Redaction}
	if s.redaction == "" {
		s.redaction = DefaultRedaction
	}

	for i, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("%w: rule %d has no id", ErrInvalidRule, i)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil || r.Pattern == "" {
			return nil, fmt.Errorf("%w: rule %s: bad pattern %q", ErrInvalidRule, r.ID, r.Pattern)
		}
		c := compiled{Rule: r, re: re}
		for _, kw := range r.Keywords {
			c.keywords = append(c.keywords, strings.ToLower(kw))
		}
		s.rules = append(s.rules, c)
	}
	for i, p := range cfg.AllowList {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: allow_list %d: %v", ErrInvalidRule, i, err)
		}
		s.allow = append(s.allow, re)
	}
	return s, nil
}

// Enabled reports whether s redacts anything.
func (s *Scrubber) Enabled() bool { return s != nil }

// Scrub returns text with every match replaced by the redaction string.
// Overlapping matches are merged into one redaction.
func (s *Scrubber) Scrub(text string) Result {
	if s == nil || text == "" {
		return Result{Text: text}
	}
	lower := strings.ToLower(text)

	var findings []Finding
	for _, r := range s.rules {
		if !r.applies(lower) {
			continue
		}
		for _, m := range r.re.FindAllStringIndex(text, -1) {
			if s.allowed(text[m[0]:m[1]]) {
				continue
			}
			findings = append(findings, Finding{
				RuleID:   r.ID,
				Severity: r.Severity,
				Start:    m[0],
				End:      m[1],
				Line:     strings.Count(text[:m[0]], "\n") + 1,
			})
		}
	}
	if len(findings) == 0 {
		return Result{Text: text}
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Start != findings[j].Start {
			return findings[i].Start < findings[j].Start
		}
		return findings[i].End > findings[j].End
	})

	var b strings.Builder
	b.Grow(len(text))
	pos := 0
	for _, f := range findings {
		if f.End <= pos {
			continue
		}
		if f.Start >= pos {
			b.WriteString(text[pos:f.Start])
			b.WriteString(s.redaction)
		}
		pos = f.End
	}
	b.WriteString(text[pos:])
	return Result{Text: b.String(), Findings: findings}
}

func (c compiled) applies(lower string) bool {
	if len(c.keywords) == 0 {
		return true
	}
	for _, kw := range c.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (s *Scrubber) allowed(match string) bool {
	for _, re := range s.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}
