package classify

import "regexp"

// Pattern tables for the deterministic fast path. Blocked is checked
// first, then needs-attention, then auto-acceptable; a prompt matching
// none of them is inconclusive and goes to the oracle.
var (
	// BlockedPatterns match destructive or credential-touching operations.
	BlockedPatterns = []string{
		// Destructive filesystem removal
		`(?i)\brm\s+-[a-z]*[rf][a-z]*\b`,
		`(?i)\b(?:rm|unlink|rmdir)\b`,
		// Destructive database statements
		`(?i)\bdrop\s+(?:table|database|schema)\b`,
		`(?i)\btruncate\b`,
		`(?i)\bdelete\s+from\s+\w+\s*;?\s*$`,
		// Forced / history-rewriting git
		`(?i)push\s+(?:\S+\s+)*(?:--force\b|-f\b)`,
		`(?i)\breset\s+--hard\b`,
		`(?i)\bfilter-branch\b`,
		// Credentials and secrets
		`(?i)\.env\b`,
		`(?i)\bcredentials?\b`,
		`(?i)\bapi[_-]?key\b`,
		`~/\.ssh`,
		`(?i)\bid_rsa\b`,
		`/etc/(?:passwd|shadow)`,
	}

	// AttentionPatterns match prompts that need human judgment.
	AttentionPatterns = []string{
		`Type here to tell Claude`,
		`3\.\s*Type here`,
		`(?i)which (?:approach|option|method|one)`,
		`(?i)(?:choose|select|pick) (?:one|between|from)`,
		`(?i)what should`,
		`(?i)how would you like`,
		`(?i)do you want me to`,
		`(?i)multiple (?:options|approaches|ways)`,
	}

	// AutoAcceptPatterns match unambiguously benign operations.
	AutoAcceptPatterns = []string{
		// Read-only inspection
		`(?i)\b(?:cat|head|tail|less|read)\b`,
		// Search
		`(?i)\b(?:grep|rg|ripgrep|glob|find|ls)\b`,
		// Tests, linters, type checks
		`(?i)\b(?:go test|go vet|npm test|pytest|jest|vitest|golangci-lint|eslint|tsc|mypy|ruff)\b`,
		// Benign git
		`(?i)\bgit (?:status|diff|log|branch|show|stash list)\b`,
		// Dependency install
		`(?i)\b(?:npm|pnpm|yarn|pip|go)\s+(?:install|get|add)\b`,
		// Source file creation/edit
		`(?i)\b(?:create|edit|write) (?:file|a new file)\b`,
	}
)

// patternTable holds one tier's compiled patterns.
type patternTable struct {
	verdict  Verdict
	compiled []*regexp.Regexp
}

// compileTables returns the tier tables in evaluation order.
func compileTables() []patternTable {
	return []patternTable{
		{VerdictBlocked, compile(BlockedPatterns)},
		{VerdictNeedsAttention, compile(AttentionPatterns)},
		{VerdictAutoAccept, compile(AutoAcceptPatterns)},
	}
}

// compile compiles pattern strings, skipping any that fail.
func compile(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			compiled = append(compiled, re)
		}
	}
	return compiled
}

// matchTable returns the first tier whose table matches the prompt.
// The boolean is false when no table matched (inconclusive).
func matchTable(tables []patternTable, prompt string) (Verdict, bool) {
	for _, table := range tables {
		for _, re := range table.compiled {
			if re.MatchString(prompt) {
				return table.verdict, true
			}
		}
	}
	return VerdictNeedsAttention, false
}
