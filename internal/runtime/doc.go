// Package runtime implements the Agent Runtime: the state machine that
// drives one session's conversation with an LLM through repeated turns,
// dispatching tool calls, flushing steers at tool boundaries, and
// triggering compaction when the context window fills up. It owns the
// session's chat.Tree and is the only thing that appends assistant and
// tool_result messages to it — user messages are appended by Prompt/Steer,
// compaction summaries by internal/compaction acting on the Agent's behalf.
//
// Each session gets exactly one Agent (internal/supervisor keys them by
// session id), and at most one turn goroutine runs per Agent at a time
// (submit's running flag, guarded by turnMu, enforces this); Agent's
// public methods are safe to call from other goroutines (the RPC dispatch
// loop) because they only ever touch State behind its mutex or start the
// turn goroutine under turnMu.
package runtime
