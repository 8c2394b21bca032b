// Package subagent implements the Sub-Agent Host: the sub_agent tool's
// backing Spawn implementation. It builds a constrained child Agent
// from a parent's state, runs it to completion against its own bus and
// chat.Tree, and folds the child's events into the tool-log/response
// shape the parent's transcript expects. It relays the child's
// ask_parent questions to a QuestionRelay the caller wires in — in
// practice, internal/rpc, which has the client/input transport this
// protocol asks the user over.
package subagent
