package engine

import (
	"strings"
	"sync"
)

// Capture is the result of closing a recording window.
type Capture struct {
	Text       string
	HadContent bool
}

// Recorder captures voice input over a user-controlled recording window.
//
// State lives in a plain mutex-guarded cell so Stop observes every write from
// the preceding Start and fragment applies immediately; the captured text is
// never computed from a deferred update the caller cannot yet see. Projection
// into UI state happens separately through events.
type Recorder struct {
	mu          sync.Mutex
	active      bool
	segments    []string
	livePreview string
}

// NewRecorder creates an inactive recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Start opens the recording window. Starting an already-active recorder
// discards any previously accumulated text.
func (r *Recorder) Start() {
	r.mu.Lock()
	r.active = true
	r.segments = r.segments[:0]
	r.livePreview = ""
	r.mu.Unlock()
}

// Stop closes the window and returns exactly the text accumulated as of this
// call. An empty capture is a valid outcome, not an error; policy belongs to
// the caller.
func (r *Recorder) Stop() Capture {
	r.mu.Lock()
	defer r.mu.Unlock()

	text := strings.Join(r.segments, " ")
	r.active = false
	r.segments = r.segments[:0]
	r.livePreview = ""

	return Capture{Text: text, HadContent: text != ""}
}

// Fragment feeds one self-speaker fragment into the recorder. Finalized
// fragments accumulate; non-final fragments only replace the live preview.
// Returns false when the recorder is inactive and the fragment was ignored.
func (r *Recorder) Fragment(text string, isFinal bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return false
	}

	if isFinal {
		if text != "" {
			r.segments = append(r.segments, text)
		}
		r.livePreview = ""
		return true
	}

	r.livePreview = text
	return true
}

// Active reports whether a recording window is open.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// LivePreview returns the latest unconfirmed fragment, display-only.
func (r *Recorder) LivePreview() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.livePreview
}
