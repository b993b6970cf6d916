package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Replacement is substituted for every detected credential.
const Replacement = "[REDACTED]"

type compiledRule struct {
	id       string
	pattern  *regexp.Regexp
	keywords []string
}

// Redactor replaces credentials in strings and in decoded JSON values.
//
// Detection runs the Gitleaks default ruleset first, then the extra rules
// (DefaultRules unless WithRules replaces them). Matches of any allowlist
// pattern are never redacted. It is safe for concurrent use.
type Redactor struct {
	gitleaks  gitleaksConfig.Config
	rules     []compiledRule
	allowlist []*regexp.Regexp
}

type options struct {
	rules     []Rule
	allowlist []string
}

// Option configures a Redactor.
type Option func(*options)

// WithRules replaces DefaultRules as the extra rule layer.
func WithRules(rules ...Rule) Option {
	return func(o *options) {
		o.rules = rules
	}
}

// WithAllowlist adds patterns whose matches are left untouched.
func WithAllowlist(patterns ...string) Option {
	return func(o *options) {
		o.allowlist = append(o.allowlist, patterns...)
	}
}

// New builds a Redactor on the Gitleaks default config.
func New(opts ...Option) (*Redactor, error) {
	o := options{rules: DefaultRules()}
	for _, opt := range opts {
		opt(&o)
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks config: %w", err)
	}

	r := &Redactor{
		gitleaks: detector.Config,
		rules:    make([]compiledRule, 0, len(o.rules)),
	}

	seen := make(map[string]bool, len(o.rules))
	for i, rule := range o.rules {
		if rule.ID == "" {
			return nil, fmt.Errorf("rule %d: id is required", i)
		}
		if seen[rule.ID] {
			return nil, fmt.Errorf("rule %s: duplicate id", rule.ID)
		}
		seen[rule.ID] = true

		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
		}
		keywords := make([]string, len(rule.Keywords))
		for j, kw := range rule.Keywords {
			keywords[j] = strings.ToLower(kw)
		}
		r.rules = append(r.rules, compiledRule{id: rule.ID, pattern: pattern, keywords: keywords})
	}

	if len(o.allowlist) > 0 {
		allow := &gitleaksConfig.Allowlist{Description: "dispatchd redaction allowlist"}
		for _, p := range o.allowlist {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("allowlist %q: invalid pattern: %w", p, err)
			}
			r.allowlist = append(r.allowlist, re)
			allow.Regexes = append(allow.Regexes, (*gitleaksRegexp.Regexp)(re))
		}
		r.gitleaks.Allowlists = append(r.gitleaks.Allowlists, allow)
	}

	return r, nil
}

type span struct{ start, end int }

type finding struct {
	ruleID string
	span
}

// detect collects findings from Gitleaks followed by the extra rules.
// Gitleaks reports the secret itself, so every occurrence of it is located
// in s.
func (r *Redactor) detect(s string) []finding {
	var found []finding

	// A Detector accumulates findings, so each call gets its own.
	for _, f := range detect.NewDetector(r.gitleaks).DetectString(s) {
		if f.Secret == "" {
			continue
		}
		for off := 0; ; {
			i := strings.Index(s[off:], f.Secret)
			if i < 0 {
				break
			}
			start := off + i
			found = append(found, finding{f.RuleID, span{start, start + len(f.Secret)}})
			off = start + len(f.Secret)
		}
	}

	lower := strings.ToLower(s)
	for _, rule := range r.rules {
		if !rule.applies(lower) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(s, -1) {
			if r.allowed(s[m[0]:m[1]]) {
				continue
			}
			found = append(found, finding{rule.id, span{m[0], m[1]}})
		}
	}
	return found
}

func (r *Redactor) allowed(match string) bool {
	for _, re := range r.allowlist {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

// Scan returns the ids of the rules that match s, Gitleaks rules first,
// without duplicates.
func (r *Redactor) Scan(s string) []string {
	if s == "" {
		return nil
	}
	var ids []string
	seen := make(map[string]bool)
	for _, f := range r.detect(s) {
		if !seen[f.ruleID] {
			seen[f.ruleID] = true
			ids = append(ids, f.ruleID)
		}
	}
	return ids
}

// Redact returns s with every match replaced by Replacement. Overlapping
// matches collapse into one replacement.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}

	found := r.detect(s)
	if len(found) == 0 {
		return s
	}
	spans := make([]span, len(found))
	for i, f := range found {
		spans[i] = f.span
	}

	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, sp := range merge(spans) {
		b.WriteString(s[last:sp.start])
		b.WriteString(Replacement)
		last = sp.end
	}
	b.WriteString(s[last:])
	return b.String()
}

// RedactValue walks strings, maps and slices of a decoded JSON value and
// redacts every string in place of the original. Other values pass through.
func (r *Redactor) RedactValue(v any) any {
	switch val := v.(type) {
	case string:
		return r.Redact(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = r.RedactValue(item)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, item := range val {
			out[k] = r.Redact(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.RedactValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = r.Redact(item)
		}
		return out
	default:
		return v
	}
}

func (c compiledRule) applies(lower string) bool {
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

// merge sorts spans and joins the ones that overlap or touch.
func merge(spans []span) []span {
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	out := []span{spans[0]}
	for _, sp := range spans[1:] {
		last := &out[len(out)-1]
		if sp.start <= last.end {
			if sp.end > last.end {
				last.end = sp.end
			}
			continue
		}
		out = append(out, sp)
	}
	return out
}
