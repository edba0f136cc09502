// Package engine implements the streaming reconciliation core for a live
// meeting assistant overlay.
//
// The engine folds several concurrent, unordered event sources (partial and
// final transcript fragments, token-by-token model output, provider fallback
// signals, and recording toggles) into a single ordered conversation state,
// guaranteeing at most one streaming assistant message per turn and clean
// teardown on every exit path.
//
// # Architecture
//
// The package provides five cooperating components:
//
//   - TranscriptAccumulator: merges speech fragments into one rolling line of
//     finalized text plus a single live preview suffix
//   - Recorder: captures finalized self-speaker fragments over an explicit
//     start/stop window, readable synchronously at stop time
//   - Consumer: owns all mutations of the streaming assistant message and
//     filters stray token deliveries by target message id
//   - Negotiator: tries the context-augmented primary channel first and
//     transparently retries via the fallback channel on an unavailable signal,
//     never double-delivering tokens
//   - TurnManager: orchestrates the above into one lifecycle per user turn
//
// # Data Flow
//
//	Fragments → Accumulator / Recorder
//	Question  → TurnManager → Negotiator → primary|fallback channel
//	Tokens    → Consumer → conversation Log → Events()
//
// # Turn State Machine
//
//	IDLE → WAITING → STREAMING → DONE|ERROR → IDLE
//	         │            │
//	         └── Cancel ──┘→ IDLE (message marked cancelled)
//
// Terminal states are one-shot: the manager emits the terminal transition on
// its event channel and immediately resets to idle, so a settled turn is
// observable exactly once.
package engine
