package engine

import (
	"strings"
	"sync"
)

// TranscriptLine is one rolling utterance track for one speaker: an
// append-only sequence of finalized segments plus at most one pending
// unconfirmed segment.
type TranscriptLine struct {
	Finalized   []string `json:"finalized"`
	LivePreview string   `json:"live_preview"`
}

// TranscriptAccumulator merges a stream of speech fragments into a single
// rolling line for the displayed speaker.
//
// Non-final fragments are cumulative partials from the speech source, so the
// live preview is replaced wholesale on each update, never appended to. A
// final fragment appends to the finalized segments and clears the preview.
// Fragments for any other speaker are dropped; only one speaker's line is
// displayed at a time.
type TranscriptAccumulator struct {
	mu        sync.Mutex
	speaker   string
	separator string
	line      TranscriptLine
}

// NewTranscriptAccumulator creates an accumulator tracking the given speaker.
// An empty separator defaults to a single space.
func NewTranscriptAccumulator(speaker, separator string) *TranscriptAccumulator {
	if separator == "" {
		separator = " "
	}
	return &TranscriptAccumulator{
		speaker:   speaker,
		separator: separator,
	}
}

// Apply folds one fragment into the line. It returns true if the fragment
// was for the displayed speaker and was applied.
func (a *TranscriptAccumulator) Apply(speaker, text string, isFinal bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if speaker != a.speaker {
		return false
	}

	if isFinal {
		if text != "" {
			a.line.Finalized = append(a.line.Finalized, text)
		}
		a.line.LivePreview = ""
		return true
	}

	a.line.LivePreview = text
	return true
}

// SetSpeaker switches the displayed speaker and starts a fresh line.
func (a *TranscriptAccumulator) SetSpeaker(speaker string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if speaker == a.speaker {
		return
	}
	a.speaker = speaker
	a.line = TranscriptLine{}
}

// Speaker returns the currently displayed speaker.
func (a *TranscriptAccumulator) Speaker() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.speaker
}

// Reset clears the line, keeping the speaker.
func (a *TranscriptAccumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.line = TranscriptLine{}
}

// Line returns a snapshot of the current line.
func (a *TranscriptAccumulator) Line() TranscriptLine {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := TranscriptLine{
		Finalized:   make([]string, len(a.line.Finalized)),
		LivePreview: a.line.LivePreview,
	}
	copy(out.Finalized, a.line.Finalized)
	return out
}

// Display returns the rendered line: finalized text joined by the separator,
// followed by the live preview if present.
func (a *TranscriptAccumulator) Display() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	finalized := strings.Join(a.line.Finalized, a.separator)
	if a.line.LivePreview == "" {
		return finalized
	}
	if finalized == "" {
		return a.line.LivePreview
	}
	return finalized + a.separator + a.line.LivePreview
}
