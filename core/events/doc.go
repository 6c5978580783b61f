// Package events defines the typed event contract the session engine emits
// to its consumer.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - session.*
//   - transcript.*
//   - user_input.*
//
// Semantics used across the package:
//
//   - Frame: binary audio frame/chunk payload.
//   - Updated: mutable point-in-time snapshot that can change over time.
//   - Final: terminal immutable state for the current stream phase.
//
// session events
//
//   - SessionStateChanged (session.state_changed): the controller entered a
//     new lifecycle state; Message carries the failure description when the
//     state is an error.
//   - BackendWarmupFailed (session.backend_warmup_failed): a speculative
//     warm-up attempt failed and the next start will cold start. Never fatal.
//
// transcript events
//
//   - TranscriptUpdated (transcript.updated): point-in-time view of the
//     assembled transcript, emitted once per processed recognition event.
//     IsFinal marks updates produced by a segment-closing final result.
//
// user_input events
//
//   - UserAudioFrame (user_input.audio_frame): raw captured audio chunk, in
//     capture order, as forwarded to the recognition backend.
package events
