// Package compaction implements the Compaction Engine: it trims a
// session's path down to fit the context window by replacing its oldest
// segment with a single LLM-generated summary message, using
// chat.Tree.ReplacePathSegment to keep branch shape elsewhere in the
// tree intact. internal/runtime calls Compact when a turn's prompt
// tokens cross the configured threshold, then resyncs its in-memory
// state from the rewritten path.
package compaction
