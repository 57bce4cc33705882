// Package security implements the trust boundary in front of the assistant:
// prompt and response filtering, CSRF token issuance and verification, and
// per-identity rate limiting.
package security

import (
	"fmt"
	"regexp"
	"strings"
)

// RedactionMarker replaces matched content in sanitized output.
const RedactionMarker = "[REDACTED]"

const (
	// DefaultPromptCap bounds user input handed to the assistant, in runes.
	DefaultPromptCap = 4000

	// DefaultResponseCap bounds model output shown to users, in runes.
	DefaultResponseCap = 8000

	// DefaultKeywordThreshold is how many sensitive-keyword hits a message
	// may contain before a warning is recorded.
	DefaultKeywordThreshold = 3
)

// PromptResult is the outcome of sanitizing user input. Blocked means at
// least one dangerous pattern matched; Sanitized always holds usable,
// redacted text regardless, so the caller chooses between refusing and
// proceeding.
type PromptResult struct {
	Sanitized string
	Warnings  []string
	Blocked   bool
}

// ResponseResult is the outcome of validating model output. The model is
// untrusted output, not just untrusted input, so the same patterns apply
// before anything is stored or rendered.
type ResponseResult struct {
	Sanitized string
	Warnings  []string
	Valid     bool
}

// Filter screens text crossing the model boundary in either direction.
// It never returns an error: detection is reported through the result
// flags and the caller decides what to do with a hit.
type Filter interface {
	SanitizePrompt(raw string) PromptResult
	ValidateResponse(raw string) ResponseResult
}

// rule is one dangerous-content pattern. Rules are evaluated in order and
// every match is redacted.
type rule struct {
	category string
	re       *regexp.Regexp
}

// The categories below mirror the attack classes seen against chat
// surfaces: overriding the assistant's instructions, escalating privilege,
// smuggling markup or SQL or shell payloads through stored content, pulling
// data out, and steering the model into a different persona.
var defaultRules = []rule{
	{"instruction override", regexp.MustCompile(`(?i)\bignore\s+(all\s+|any\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?|context)\b`)},
	{"instruction override", regexp.MustCompile(`(?i)\bforget\s+(everything|all|your)\b`)},
	{"instruction override", regexp.MustCompile(`(?i)\bsystem\s+prompt\b`)},
	{"instruction override", regexp.MustCompile(`(?i)\bdisregard\s+(all\s+)?(previous|prior|above|your)\b`)},
	{"instruction override", regexp.MustCompile(`(?i)\bnew\s+instructions?\s*:`)},
	{"privilege escalation", regexp.MustCompile(`(?i)\b(admin|administrator|root)\s+(access|privileges?|rights?|mode)\b`)},
	{"privilege escalation", regexp.MustCompile(`(?i)\bsudo\b`)},
	{"privilege escalation", regexp.MustCompile(`(?i)\b(bypass|disable|override)\s+(security|safety|protection|filters?)\b`)},
	{"markup injection", regexp.MustCompile(`(?i)<\s*/?\s*(script|iframe|object|embed|svg)\b[^>]*>`)},
	{"markup injection", regexp.MustCompile(`(?i)\bjavascript\s*:`)},
	{"markup injection", regexp.MustCompile(`(?i)\bon(load|error|click|focus|mouseover)\s*=`)},
	{"markup injection", regexp.MustCompile(`(?i)\bdata:text/html`)},
	{"sql injection", regexp.MustCompile(`(?i)\b(union\s+(all\s+)?select|select\s+[\w*,\s]+\s+from)\b`)},
	{"sql injection", regexp.MustCompile(`(?i)\b(insert\s+into|update\s+\w+\s+set|delete\s+from|drop\s+(table|database)|truncate\s+table|alter\s+table)\b`)},
	{"sql injection", regexp.MustCompile(`(?i)('|--|;)\s*(or|and)\s+\d+\s*=\s*\d+`)},
	{"shell injection", regexp.MustCompile(`(?i)\b(rm\s+-[rf]{1,2}\b|mkfs|chmod\s+777|dd\s+if=|shutdown\b|reboot\b)`)},
	{"shell injection", regexp.MustCompile(`\$\([^)]*\)`)},
	{"shell injection", regexp.MustCompile("`[^`]+`")},
	{"shell injection", regexp.MustCompile(`(?i)[;&]\s*(rm|curl|wget|cat|nc|bash|sh)\b`)},
	{"shell injection", regexp.MustCompile(`(?i)\|\s*(bash|sh|python|perl)\b`)},
	{"data exfiltration", regexp.MustCompile(`(?i)\b(send|post|upload|forward|exfiltrate)\s+(the\s+|all\s+|your\s+)?(data|files?|contents?|credentials?|passwords?|secrets?|conversation|history)\b`)},
	{"data exfiltration", regexp.MustCompile(`(?i)\b(curl|wget)\s+(-\w+\s+)*https?://`)},
	{"data exfiltration", regexp.MustCompile(`!\[[^\]]*\]\(\s*https?://[^)]*\)`)},
	{"role play", regexp.MustCompile(`(?i)\bpretend\s+to\s+be\b`)},
	{"role play", regexp.MustCompile(`(?i)\byou\s+are\s+now\b`)},
	{"role play", regexp.MustCompile(`(?i)\bact\s+as\s+(a|an|if|my)\b`)},
	{"role play", regexp.MustCompile(`(?i)\broleplay\s+as\b`)},
	{"role play", regexp.MustCompile(`(?i)\b(jailbreak|developer\s+mode)\b`)},
}

// sensitiveKeywords is the census list. Hits are counted, not redacted.
var sensitiveKeywords = []string{
	"password", "passwd", "secret", "token", "api key", "apikey",
	"admin", "database", "credential", "private key",
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// RulesetFilter is the pattern-list Filter implementation. The list is
// fixed at construction; swapping in a stronger classifier means providing
// another Filter, not editing this one.
type RulesetFilter struct {
	rules            []rule
	keywords         []string
	keywordThreshold int
	promptCap        int
	responseCap      int
}

// FilterOption customizes a RulesetFilter.
type FilterOption func(*RulesetFilter)

// WithPromptCap overrides the input length cap, in runes.
func WithPromptCap(n int) FilterOption {
	return func(f *RulesetFilter) {
		if n > 0 {
			f.promptCap = n
		}
	}
}

// WithResponseCap overrides the model-output length cap, in runes.
func WithResponseCap(n int) FilterOption {
	return func(f *RulesetFilter) {
		if n > 0 {
			f.responseCap = n
		}
	}
}

// WithKeywordThreshold overrides how many sensitive-keyword hits are
// tolerated before warning.
func WithKeywordThreshold(n int) FilterOption {
	return func(f *RulesetFilter) {
		if n > 0 {
			f.keywordThreshold = n
		}
	}
}

// NewRulesetFilter builds the default pattern filter.
func NewRulesetFilter(opts ...FilterOption) *RulesetFilter {
	f := &RulesetFilter{
		rules:            defaultRules,
		keywords:         sensitiveKeywords,
		keywordThreshold: DefaultKeywordThreshold,
		promptCap:        DefaultPromptCap,
		responseCap:      DefaultResponseCap,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SanitizePrompt screens user input bound for the model. Every pattern
// match is redacted and sets Blocked; the sensitive-keyword census and
// truncation only warn.
func (f *RulesetFilter) SanitizePrompt(raw string) PromptResult {
	text, warnings := f.truncate(raw, f.promptCap)

	text, ruleWarnings, matched := f.applyRules(text)
	warnings = append(warnings, ruleWarnings...)

	if n := f.countKeywords(raw); n > f.keywordThreshold {
		warnings = append(warnings, fmt.Sprintf("sensitive keywords appear %d times", n))
	}

	return PromptResult{
		Sanitized: normalizeWhitespace(text),
		Warnings:  warnings,
		Blocked:   matched,
	}
}

// ValidateResponse screens model output before it is stored or shown.
func (f *RulesetFilter) ValidateResponse(raw string) ResponseResult {
	text, warnings := f.truncate(raw, f.responseCap)

	text, ruleWarnings, matched := f.applyRules(text)
	warnings = append(warnings, ruleWarnings...)

	return ResponseResult{
		Sanitized: normalizeWhitespace(text),
		Warnings:  warnings,
		Valid:     !matched,
	}
}

// applyRules walks the ordered rule list, redacting every match. One
// warning is recorded per rule that fired, not per occurrence.
func (f *RulesetFilter) applyRules(text string) (string, []string, bool) {
	var warnings []string
	matched := false
	for _, r := range f.rules {
		if !r.re.MatchString(text) {
			continue
		}
		text = r.re.ReplaceAllString(text, RedactionMarker)
		warnings = append(warnings, r.category+" pattern redacted")
		matched = true
	}
	return text, warnings, matched
}

func (f *RulesetFilter) truncate(s string, limit int) (string, []string) {
	runes := []rune(s)
	if len(runes) <= limit {
		return s, nil
	}
	return string(runes[:limit]), []string{fmt.Sprintf("content truncated to %d characters", limit)}
}

func (f *RulesetFilter) countKeywords(s string) int {
	lower := strings.ToLower(s)
	n := 0
	for _, kw := range f.keywords {
		n += strings.Count(lower, kw)
	}
	return n
}

func normalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}
