// Package detect provides pure output analysis for agent sessions.
// It turns raw pane captures into the signals the monitor loop acts on:
// content fingerprints for change detection, startup prompts, per-stage
// completion markers, and pending permission prompts.
package detect

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Signal classifies what one output snapshot is showing.
type Signal int

const (
	// SignalNone means nothing actionable: the agent is working or idle.
	SignalNone Signal = iota

	// SignalStartup means a startup prompt (trust dialog, welcome banner,
	// continue prompt). These are always answered automatically in both
	// modes; the safety classifier is bypassed entirely.
	SignalStartup

	// SignalStageComplete means a workflow stage completion marker matched.
	SignalStageComplete

	// SignalPendingPrompt means the agent is showing an interactive prompt
	// that needs a safety classification before anyone answers it.
	SignalPendingPrompt
)

// String returns a human-readable name for the signal.
func (s Signal) String() string {
	switch s {
	case SignalNone:
		return "none"
	case SignalStartup:
		return "startup"
	case SignalStageComplete:
		return "stage_complete"
	case SignalPendingPrompt:
		return "pending_prompt"
	default:
		return "unknown"
	}
}

// Marker identifies which stage completion marker matched.
type Marker string

const (
	// MarkerTicketFetched means the initial ticket summary has rendered
	// and the session is ready for specification.
	MarkerTicketFetched Marker = "ticket_fetched"
	// MarkerSpecComplete means the specification stage finished.
	MarkerSpecComplete Marker = "spec_complete"
	// MarkerPlanComplete means the planning stage produced a plan.
	MarkerPlanComplete Marker = "plan_complete"
	// MarkerTasksComplete means the task breakdown finished.
	MarkerTasksComplete Marker = "tasks_complete"
	// MarkerImplementComplete means the implementation stage finished.
	MarkerImplementComplete Marker = "implement_complete"
	// MarkerFatal means the agent reported an unrecoverable failure.
	MarkerFatal Marker = "fatal"
)

// Pattern categories for output analysis.
var (
	// StartupPatterns match the agent's startup dialogs. They are always
	// auto-accepted regardless of mode.
	StartupPatterns = []string{
		`(?i)welcome to claude`,
		`(?i)do you trust the files in this (?:folder|directory)`,
		`❯\s*1\.\s*Yes,\s*proceed`,
		`(?i)press enter to continue`,
		`(?i)choose the text style`,
	}

	// PendingPromptPatterns match interactive permission/confirmation
	// prompts that should be submitted to the safety classifier.
	PendingPromptPatterns = []string{
		`Do you want to proceed\?`,
		`❯\s*1\.\s*Yes`,
		`Yes, and don't ask again`,
		`Allow this action\?`,
		`Proceed with this`,
		`\[Y/n\]`,
		`\(y/N\)`,
		`(?i)do you want (?:me )?to`,
		`(?i)should I\b`,
	}

	// markerPatterns map stage completion markers to the output that
	// signals them. The ticket-fetched marker is the summary line rendered
	// after the ticket command finishes; the rest are the stage commands'
	// own completion lines.
	markerPatterns = map[Marker][]string{
		MarkerTicketFetched: {
			`Review Linear ticket`,
			`(?i)ticket (?:summary|details) (?:loaded|fetched|ready)`,
		},
		MarkerSpecComplete: {
			`(?i)specification (?:is )?(?:complete|ready|written)`,
			`(?i)created .*spec\.md`,
		},
		MarkerPlanComplete: {
			`(?i)plan (?:is )?(?:complete|ready|written)`,
			`(?i)created .*plan\.md`,
		},
		MarkerTasksComplete: {
			`(?i)tasks? (?:breakdown |list )?(?:is )?(?:complete|ready|generated)`,
			`(?i)created .*tasks\.md`,
		},
		MarkerImplementComplete: {
			`(?i)implementation (?:is )?complete`,
			`(?i)all tasks? (?:are )?(?:complete|done)`,
		},
		MarkerFatal: {
			`(?i)^Error: (?:session|connection|authentication|api) `,
			`(?i)(?:rate limit|quota) (?:exceeded|reached)`,
			`(?i)claude (?:exited|terminated|crashed) (?:with|unexpectedly)`,
		},
	}
)

// Analysis is the result of examining one pane capture.
type Analysis struct {
	// Signal says what kind of content the tail is showing.
	Signal Signal
	// Marker is set when Signal is SignalStageComplete.
	Marker Marker
	// Fingerprint identifies this content state for change deduplication.
	Fingerprint string
	// Tail is the cleaned trailing segment the signal was derived from.
	Tail string
}

// Detector analyzes pane captures using pre-compiled patterns.
// It is stateless and safe for concurrent use.
type Detector struct {
	startup  []*regexp.Regexp
	pending  []*regexp.Regexp
	markers  map[Marker][]*regexp.Regexp
	tailSize int
}

// NewDetector creates a Detector with all pattern tables compiled.
func NewDetector() *Detector {
	markers := make(map[Marker][]*regexp.Regexp, len(markerPatterns))
	for marker, patterns := range markerPatterns {
		markers[marker] = compilePatterns(patterns)
	}
	return &Detector{
		startup:  compilePatterns(StartupPatterns),
		pending:  compilePatterns(PendingPromptPatterns),
		markers:  markers,
		tailSize: 10,
	}
}

// compilePatterns compiles a list of regex pattern strings.
// Invalid patterns are silently skipped.
func compilePatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			compiled = append(compiled, re)
		}
	}
	return compiled
}

// Analyze examines a raw pane capture and returns what it is showing.
//
// Precedence mirrors how the monitor reacts: startup prompts first (they
// block everything else and are always answered), then fatal and stage
// markers, then the pending-prompt heuristic. The fingerprint covers the
// trailing window so scrollback growth alone does not register as change.
func (d *Detector) Analyze(capture string) Analysis {
	tail := d.Tail(capture)
	a := Analysis{
		Signal:      SignalNone,
		Fingerprint: Fingerprint(capture),
		Tail:        tail,
	}
	if tail == "" {
		return a
	}

	if matchesAny(tail, d.startup) {
		a.Signal = SignalStartup
		return a
	}

	// Fatal markers outrank stage completion: a crashed agent may leave
	// both on screen.
	if matchesAny(tail, d.markers[MarkerFatal]) {
		a.Signal = SignalStageComplete
		a.Marker = MarkerFatal
		return a
	}

	for _, marker := range []Marker{
		MarkerTicketFetched,
		MarkerSpecComplete,
		MarkerPlanComplete,
		MarkerTasksComplete,
		MarkerImplementComplete,
	} {
		if matchesAny(tail, d.markers[marker]) {
			a.Signal = SignalStageComplete
			a.Marker = marker
			return a
		}
	}

	if matchesAny(tail, d.pending) {
		a.Signal = SignalPendingPrompt
		return a
	}

	return a
}

// Tail returns the cleaned trailing segment of a capture: ANSI stripped,
// last non-empty lines of the trailing window joined back together.
func (d *Detector) Tail(capture string) string {
	if capture == "" {
		return ""
	}

	text := capture
	if len(text) > fingerprintWindow {
		text = text[len(text)-fingerprintWindow:]
	}
	text = StripAnsi(text)

	lines := getLastNonEmptyLines(strings.Split(text, "\n"), d.tailSize)
	return strings.Join(lines, "\n")
}

// matchesAny checks if text matches any of the provided patterns.
func matchesAny(text string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// fingerprintWindow is how many trailing bytes participate in the content
// fingerprint. Content further back can only change by scrolling away,
// which is not new information.
const fingerprintWindow = 2000

// Fingerprint computes a stable identifier for the trailing window of a
// capture, after ANSI stripping and whitespace normalization so cursor
// movement and redraw noise do not count as change.
func Fingerprint(capture string) string {
	text := capture
	if len(text) > fingerprintWindow {
		text = text[len(text)-fingerprintWindow:]
	}
	text = StripAnsi(text)
	text = strings.TrimRight(text, " \t\n")

	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// getLastNonEmptyLines returns the last n non-empty lines from a slice.
func getLastNonEmptyLines(lines []string, n int) []string {
	result := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(result) < n; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" {
			result = append([]string{line}, result...)
		}
	}
	return result
}

// ansiRegex matches CSI sequences (ESC[...letter) and OSC sequences
// (ESC]...BEL).
var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]|\x1b\][^\x07]*\x07`)

// StripAnsi removes ANSI escape codes from text.
func StripAnsi(text string) string {
	return ansiRegex.ReplaceAllString(text, "")
}
