// Package classify decides whether agent permission prompts can be
// answered automatically. It applies a three-tier policy: deterministic
// pattern tables handle unambiguous prompts locally, everything else goes
// to an external model oracle through a bounded gateway, and any
// uncertainty degrades to needs-attention rather than silent acceptance.
package classify

// Verdict is the safety tier assigned to a prompt.
type Verdict int

const (
	// VerdictAutoAccept means the prompt may be answered automatically
	// when the session is in auto mode.
	VerdictAutoAccept Verdict = iota

	// VerdictNeedsAttention means a human must look at the prompt:
	// design decisions, option menus, clarification requests, or any
	// prompt the engine could not classify confidently.
	VerdictNeedsAttention

	// VerdictBlocked means the prompt asks for a destructive or
	// credential-touching operation. Blocked prompts are never answered
	// automatically regardless of mode.
	VerdictBlocked
)

// String returns a human-readable name for the verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictAutoAccept:
		return "auto_acceptable"
	case VerdictNeedsAttention:
		return "needs_attention"
	case VerdictBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Source records how a verdict was produced.
type Source string

const (
	// SourcePattern means a deterministic pattern table decided.
	SourcePattern Source = "pattern"
	// SourceOracle means the external model oracle decided.
	SourceOracle Source = "oracle"
	// SourceDegraded means the oracle was unavailable and the verdict
	// fell back to needs-attention.
	SourceDegraded Source = "degraded"
)

// Result is a classification outcome.
type Result struct {
	Verdict Verdict
	Reason  string
	Source  Source
}
