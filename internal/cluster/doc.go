// Package cluster defines the wire protocol spoken between the linkmill
// coordinator and its workers.
//
// # Overview
//
// Each worker holds exactly one TCP stream to the coordinator. Both ends
// frame every value the same way and exchange a closed set of three
// message variants:
//
//	worker                         coordinator
//	  │ ── Ready{task_count: P} ──────▶ │
//	  │ ◀────────────── Task{id, ...} ── │  (up to P times)
//	  │ ◀────────────── Task{id, ...} ── │
//	  │ ── Done{results} ─────────────▶ │
//
// # Framing
//
//	┌──────────────┬───────────────────────────────┐
//	│ length (u32, │ payload: JSON Message          │
//	│ big-endian)  │ {"type":"task","task":{...}}   │
//	└──────────────┴───────────────────────────────┘
//
// A reader takes the 4-byte prefix and then exactly that many bytes before
// decoding. Running out of stream at either step is reported as ErrClosed
// and treated as a clean termination. A complete frame that does not
// decode, or whose tag and payload disagree, is ErrMalformed and closes the
// connection. Frames above MaxFrameLength are rejected with
// ErrFrameTooLarge.
//
// # Actions and results
//
// Action tags serialize by name ("LinkFrequencies", "LinkGraph",
// "KeywordExtraction", "ArticleSummarization"). A Done carries, per job id,
// an object keyed by action tag. LinkFrequencies values are objects of
// link target to count; the other actions carry null.
//
// # End of batch
//
// When the coordinator runs out of work before it has sent task_count
// tasks it half-closes its side of the stream. The worker sees ErrClosed on
// its next read, works through what it received and still writes Done on
// its own, still open, half.
package cluster
