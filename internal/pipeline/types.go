package pipeline

import "context"

// Translator submits one bounded batch per call. retry.Controller
// satisfies it; the response must be in positional correspondence with
// the input.
type Translator interface {
	TranslateBatch(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error)
}

// State tags a cue lookup outcome.
type State int

const (
	// StatePending means the cue was queued for translation; the caller
	// should render a placeholder and trigger a drain.
	StatePending State = iota
	// StateHit means a translation is available in Text.
	StateHit
	// StateFailed means the cue failed translation this session; Text
	// carries the last error message.
	StateFailed
	// StateEcho means the cue is its own translation (non-alphabetic or
	// already in the target language); Text echoes the cue verbatim.
	StateEcho
)

// Result is the tagged outcome of a cue lookup.
type Result struct {
	State State
	Text  string
}
