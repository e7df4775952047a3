package secrets

// Severity ranks a rule.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Rule detects one kind of secret.
type Rule struct {
	ID          string   `koanf:"id"`
	Description string   `koanf:"description"`
	Pattern     string   `koanf:"pattern"`
	Keywords    []string `koanf:"keywords"` // any must occur in the text for the rule to run
	Severity    Severity `koanf:"severity"`
}

// DefaultRules returns the built-in rules: cloud and API credentials plus
// the personal identifiers that show up in equity and employment paperwork.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "private-key",
			Description: "PEM private key block",
			Pattern:     `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----[\s\S]*?-----END (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`,
			Severity:    SeverityHigh,
		},
		{
			ID:          "aws-access-key-id",
			Description: "AWS access key ID",
			Pattern:     `\b(?:AKIA|ASIA|AGPA|AIDA|AROA)[A-Z0-9]{16}\b`,
			Severity:    SeverityHigh,
		},
		{
			ID:          "openai-api-key",
			Description: "OpenAI API key",
			Pattern:     `\bsk-(?:proj-)?[A-Za-z0-9_\-]{20,}\b`,
			Severity:    SeverityHigh,
		},
		{
			ID:          "github-token",
			Description: "GitHub token",
			Pattern:     `\b(?:gh[pousr]_[A-Za-z0-9]{36}|github_pat_[A-Za-z0-9_]{22,})\b`,
			Severity:    SeverityHigh,
		},
		{
			ID:          "bearer-token",
			Description: "HTTP bearer token",
			Pattern:     `(?i)\bbearer\s+[A-Za-z0-9\-._~+/]{20,}=*`,
			Keywords:    []string{"bearer"},
			Severity:    SeverityHigh,
		},
		{
			ID:          "password-assignment",
			Description: "Password or secret assignment",
			Pattern:     `(?i)\b(?:password|passwd|pwd|secret|api[_-]?key)\s*[:=]\s*['"]?[^\s'"]{6,}['"]?`,
			Keywords:    []string{"password", "passwd", "pwd", "secret", "key"},
			Severity:    SeverityHigh,
		},
		{
			ID:          "us-ssn",
			Description: "US social security number",
			Pattern:     `\b(?:SSN|social security(?: number)?)?[:#\s]*\d{3}-\d{2}-\d{4}\b`,
			Severity:    SeverityMedium,
		},
		{
			ID:          "payment-card",
			Description: "Payment card number",
			Pattern:     `\b(?:4\d{3}|5[1-5]\d{2}|3[47]\d{2}|6011)[ -]?\d{4}[ -]?\d{4}[ -]?\d{1,4}\b`,
			Severity:    SeverityMedium,
		},
		{
			ID:          "bank-account",
			Description: "Bank account or routing number",
			Pattern:     `(?i)\b(?:account|acct|routing|aba)\s*(?:no\.?|number|#)?\s*[:#]?\s*\d{8,17}\b`,
			Keywords:    []string{"account", "acct", "routing", "aba"},
			Severity:    SeverityLow,
		},
	}
}
