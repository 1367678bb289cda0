package commands

import "regexp"

// namedSecretPatterns matches well-known credential formats that should never
// be forwarded to the classifier. Each pattern is specific (vendor prefix
// plus length) to keep false positives low.
var namedSecretPatterns = []*regexp.Regexp{
	// OpenAI API key — classic and project variants
	regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}\b`),
	regexp.MustCompile(`\bsk-proj-[A-Za-z0-9_\-]{20,}\b`),
	// Anthropic
	regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_\-]{20,}\b`),
	// AWS access key ID
	regexp.MustCompile(`\bAKIA[A-Z0-9]{16}\b`),
	// GitHub tokens (personal, OAuth, fine-grained)
	regexp.MustCompile(`\bghp_[A-Za-z0-9]{36,}\b`),
	regexp.MustCompile(`\bgho_[A-Za-z0-9]{36,}\b`),
	regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{20,}\b`),
	// Slack tokens
	regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9\-]{10,}\b`),
	// Stripe secret / restricted / public keys
	regexp.MustCompile(`\b(?:sk|rk|pk)_(?:live|test)_[A-Za-z0-9]{20,}\b`),
}

// genericSecretPatterns catches high-entropy strings that are unlikely to
// appear in normal prose. Commands are not checked against them because
// their arguments never leave the process.
var genericSecretPatterns = []*regexp.Regexp{
	// Long base64 segment (≥48 contiguous chars from the base64 alphabet).
	// Using 48 instead of 40 avoids false positives from SHA-1 hashes (40 chars)
	// while still catching SHA-256 hashes (64 chars) and longer API tokens.
	regexp.MustCompile(`[A-Za-z0-9+/]{48,}={0,2}`),
	// Long lowercase hex (≥48 chars).  Avoids SHA-1 (40 chars) while catching
	// SHA-256 (64 chars) and other long hex tokens.
	regexp.MustCompile(`[0-9a-f]{48,}`),
}

// LooksLikeSecret reports whether body appears to contain a credential.
// Free text goes to a third-party model, so it is checked against every
// pattern; commands only against the named vendor patterns.
func LooksLikeSecret(body string, isCommand bool) bool {
	for _, re := range namedSecretPatterns {
		if re.MatchString(body) {
			return true
		}
	}
	if !isCommand {
		for _, re := range genericSecretPatterns {
			if re.MatchString(body) {
				return true
			}
		}
	}
	return false
}

// SecretGuardrailMessage is the reply sent when a message is rejected by the
// secret guardrail.
const SecretGuardrailMessage = "⛔ That looks like a secret. " +
	"I won't send credentials to the language model. " +
	"Delete the message and put keys in the environment instead."
