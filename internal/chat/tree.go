package chat

import (
	"sync"

	"github.com/opencode-ai/opal/internal/opalerr"
)

// Tree is a private keyed store of Messages for one session, plus a cursor
// identifying the active leaf. It is the only component (besides the
// Compaction Engine, which calls through it) permitted to mutate a
// session's conversation history.
type Tree struct {
	mu        sync.RWMutex
	sessionID string
	messages  map[string]*Message
	currentID string
	metadata  map[string]any
}

// New returns an empty Tree for sessionID.
func New(sessionID string) *Tree {
	return &Tree{
		sessionID: sessionID,
		messages:  make(map[string]*Message),
		metadata:  make(map[string]any),
	}
}

// SessionID returns the tree's owning session id.
func (t *Tree) SessionID() string { return t.sessionID }

// Metadata returns a copy of the tree's free-form metadata map.
func (t *Tree) Metadata() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]any, len(t.metadata))
	for k, v := range t.metadata {
		out[k] = v
	}
	return out
}

// SetMetadata merges key into the tree's metadata map.
func (t *Tree) SetMetadata(key string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metadata[key] = value
}

// Append sets msg.ParentID to the current cursor (overriding any caller-
// supplied value), inserts it, and moves the cursor to msg.ID.
func (t *Tree) Append(msg *Message) *Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.appendLocked(msg)
}

func (t *Tree) appendLocked(msg *Message) *Message {
	msg.ParentID = t.currentID
	t.messages[msg.ID] = msg
	t.currentID = msg.ID
	return msg
}

// AppendMany chains each subsequent message's ParentID to the previous
// one's ID, extending from the current cursor.
func (t *Tree) AppendMany(msgs []*Message) []*Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range msgs {
		t.appendLocked(m)
	}
	return msgs
}

// GetMessage looks up a message by id.
func (t *Tree) GetMessage(id string) (*Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.messages[id]
	return m, ok
}

// AllMessages returns every message in the tree, in no particular order.
func (t *Tree) AllMessages() []*Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Message, 0, len(t.messages))
	for _, m := range t.messages {
		out = append(out, m)
	}
	return out
}

// CurrentID returns the active leaf's id, or "" if the tree is empty.
func (t *Tree) CurrentID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.currentID
}

// GetPath returns the root-to-current_id sequence.
func (t *Tree) GetPath() []*Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	path, _ := t.pathToLocked(t.currentID)
	return path
}

// GetPathTo returns the root-to-id sequence, or NotFound if id is unknown.
func (t *Tree) GetPathTo(id string) ([]*Message, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.messages[id]; !ok && id != "" {
		return nil, opalerr.NewNotFound("message", id)
	}
	path, _ := t.pathToLocked(id)
	return path, nil
}

func (t *Tree) pathToLocked(id string) ([]*Message, bool) {
	if id == "" {
		return nil, true
	}
	m, ok := t.messages[id]
	if !ok {
		return nil, false
	}
	rest, _ := t.pathToLocked(m.ParentID)
	return append(rest, m), true
}

// GetTree returns the nested {message, children} forest; the root set is
// every message with no parent.
func (t *Tree) GetTree() []*TreeNode {
	t.mu.RLock()
	defer t.mu.RUnlock()

	childrenOf := make(map[string][]*Message)
	var roots []*Message
	for _, m := range t.messages {
		if m.ParentID == "" {
			roots = append(roots, m)
		} else {
			childrenOf[m.ParentID] = append(childrenOf[m.ParentID], m)
		}
	}

	var build func(m *Message) *TreeNode
	build = func(m *Message) *TreeNode {
		node := &TreeNode{Message: m}
		for _, c := range childrenOf[m.ID] {
			node.Children = append(node.Children, build(c))
		}
		return node
	}

	out := make([]*TreeNode, 0, len(roots))
	for _, r := range roots {
		out = append(out, build(r))
	}
	return out
}

// Branch moves the cursor to id. NotFound if id does not exist.
func (t *Tree) Branch(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.messages[id]; !ok {
		return opalerr.NewNotFound("message", id)
	}
	t.currentID = id
	return nil
}

// ReplacePathSegment implements the compaction rewrite described in
// spec §4.2: ids must be a contiguous path segment (parent-to-child
// order). summary is re-parented onto the segment's predecessor, and
// every message parented to the segment's last id (that is not itself
// in the segment) is re-parented onto summary.
func (t *Tree) ReplacePathSegment(ids []string, summary *Message) error {
	if len(ids) == 0 {
		return opalerr.Validation("replace_path_segment: empty id list")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := t.messages[id]; !ok {
			return opalerr.NewNotFound("message", id)
		}
		removed[id] = true
	}

	first := t.messages[ids[0]]
	last := ids[len(ids)-1]

	summary.ParentID = first.ParentID
	t.messages[summary.ID] = summary

	for _, m := range t.messages {
		if removed[m.ID] {
			continue
		}
		if m.ParentID == last {
			m.ParentID = summary.ID
		}
	}

	for _, id := range ids {
		delete(t.messages, id)
	}

	if removed[t.currentID] {
		t.currentID = summary.ID
	}

	return nil
}
