package secrets

// Rule detects one kind of credential on top of the Gitleaks ruleset.
type Rule struct {
	ID          string `koanf:"id"`
	Description string `koanf:"description"`
	Pattern     string `koanf:"pattern"`

	// Keywords gate the rule: when set, at least one must appear
	// (case-insensitive) before the pattern is tried.
	Keywords []string `koanf:"keywords"`
}

// DefaultRules returns the extra credential patterns agents most often echo
// back. Several overlap Gitleaks rules; the generic assignments and
// connection strings catch low-entropy values Gitleaks lets through.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "private-key",
			Description: "PEM private key header",
			Pattern:     `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`,
		},
		{
			ID:          "aws-access-key-id",
			Description: "AWS access key id",
			Pattern:     `(?:AKIA|ASIA|AGPA|AIDA|AROA)[A-Z0-9]{16}`,
		},
		{
			ID:          "anthropic-api-key",
			Description: "Anthropic API key",
			Pattern:     `sk-ant-[A-Za-z0-9_\-]{20,}`,
		},
		{
			ID:          "openai-api-key",
			Description: "OpenAI API key",
			Pattern:     `sk-(?:proj-)?[A-Za-z0-9]{20,}`,
		},
		{
			ID:          "stripe-key",
			Description: "Stripe secret or restricted key",
			Pattern:     `(?:sk|rk)_(?:live|test)_[A-Za-z0-9]{16,}`,
		},
		{
			ID:          "sendgrid-api-key",
			Description: "SendGrid API key",
			Pattern:     `SG\.[A-Za-z0-9_\-]{16,}\.[A-Za-z0-9_\-]{16,}`,
		},
		{
			ID:          "twilio-api-key",
			Description: "Twilio API key",
			Pattern:     `SK[0-9a-fA-F]{32}`,
			Keywords:    []string{"twilio"},
		},
		{
			ID:          "github-token",
			Description: "GitHub token",
			Pattern:     `(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{36}`,
		},
		{
			ID:          "jwt",
			Description: "JSON Web Token",
			Pattern:     `eyJ[A-Za-z0-9_\-]{8,}\.eyJ[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-]{8,}`,
		},
		{
			ID:          "bearer-token",
			Description: "Bearer authorization value",
			Pattern:     `(?i)bearer\s+[A-Za-z0-9_\-\.=]{16,}`,
			Keywords:    []string{"bearer"},
		},
		{
			ID:          "database-url",
			Description: "Connection string with inline password",
			Pattern:     `(?i)(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqp)://[^:\s/]+:[^@\s]+@[^\s'"]+`,
		},
		{
			ID:          "generic-api-key",
			Description: "api_key assignment",
			Pattern:     `(?i)api[_-]?key\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,64}['"]?`,
			Keywords:    []string{"api"},
		},
		{
			ID:          "generic-secret",
			Description: "password or secret assignment",
			Pattern:     `(?i)(?:secret|password|passwd)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`,
			Keywords:    []string{"secret", "passw"},
		},
	}
}
