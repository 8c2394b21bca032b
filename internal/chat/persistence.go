package chat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/opencode-ai/opal/internal/storage"
)

const metaKey = "__session_meta__"

type sessionMeta struct {
	SessionID string         `json:"session_id"`
	CurrentID string         `json:"current_id"`
	Metadata  map[string]any `json:"metadata"`
}

func snapshotPath(dir, sessionID string) string {
	return filepath.Join(dir, sessionID+".dets")
}

// Save writes a durable snapshot of the tree to <dir>/<session_id>.dets,
// overwriting any previous content atomically.
func (t *Tree) Save(dir string) error {
	t.mu.RLock()
	entries := make(map[string]json.RawMessage, len(t.messages)+1)
	for id, m := range t.messages {
		data, err := json.Marshal(m)
		if err != nil {
			t.mu.RUnlock()
			return fmt.Errorf("marshal message %s: %w", id, err)
		}
		entries[id] = data
	}
	meta := sessionMeta{SessionID: t.sessionID, CurrentID: t.currentID, Metadata: t.metadata}
	t.mu.RUnlock()

	metaData, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal session meta: %w", err)
	}
	entries[metaKey] = metaData

	return storage.NewKVFile(snapshotPath(dir, t.sessionID)).Save(entries)
}

// LoadFrom populates a fresh Tree from a snapshot file written by Save.
func LoadFrom(path string) (*Tree, error) {
	entries, err := storage.NewKVFile(path).Load()
	if err != nil {
		return nil, err
	}

	t := &Tree{
		messages: make(map[string]*Message),
		metadata: make(map[string]any),
	}

	if raw, ok := entries[metaKey]; ok {
		var meta sessionMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("decode session meta: %w", err)
		}
		t.sessionID = meta.SessionID
		t.currentID = meta.CurrentID
		if meta.Metadata != nil {
			t.metadata = meta.Metadata
		}
	}

	for id, raw := range entries {
		if id == metaKey {
			continue
		}
		var m Message
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode message %s: %w", id, err)
		}
		t.messages[id] = &m
	}

	return t, nil
}

// SessionInfo is one row of ListSessions' result.
type SessionInfo struct {
	SessionID string    `json:"session_id"`
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	ModTime   time.Time `json:"mod_time"`
}

// ListSessions enumerates saved sessions under dir, newest first.
func ListSessions(dir string) ([]SessionInfo, error) {
	paths, err := storage.ListKVFiles(dir)
	if err != nil {
		return nil, err
	}

	out := make([]SessionInfo, 0, len(paths))
	for _, p := range paths {
		tree, err := LoadFrom(p)
		if err != nil {
			continue // skip unreadable/corrupt snapshots
		}
		title, _ := tree.metadata["title"].(string)
		mt, statErr := modTime(p)
		if statErr != nil {
			continue
		}
		out = append(out, SessionInfo{
			SessionID: tree.sessionID,
			Path:      p,
			Title:     title,
			ModTime:   mt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModTime.After(out[j].ModTime) })
	return out, nil
}

// PromptInfo is one row of RecentPrompts' result.
type PromptInfo struct {
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	Time      time.Time `json:"time"`
}

// RecentPrompts walks each session's active path collecting user-role
// content, newest first. Sessions with no user messages are skipped.
func RecentPrompts(dir string, limit int) ([]PromptInfo, error) {
	paths, err := storage.ListKVFiles(dir)
	if err != nil {
		return nil, err
	}

	var out []PromptInfo
	for _, p := range paths {
		tree, err := LoadFrom(p)
		if err != nil {
			continue
		}
		path := tree.GetPath()
		for i := len(path) - 1; i >= 0; i-- {
			m := path[i]
			if m.Role != RoleUser || strings.TrimSpace(m.Content) == "" {
				continue
			}
			out = append(out, PromptInfo{
				SessionID: tree.sessionID,
				Content:   m.Content,
				Time:      createdAt(m),
			})
			break // newest user message on this session's active path
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// createdAt reads a message's created_at metadata stamp, set by the Agent
// Runtime on the user message that starts a turn. Steers folded into a
// running turn, messages from older snapshots and synthetic summaries
// carry none and sort as the zero time (oldest).
func createdAt(m *Message) time.Time {
	raw, ok := m.Metadata["created_at"]
	if !ok {
		return time.Time{}
	}
	switch v := raw.(type) {
	case float64:
		return time.Unix(0, int64(v))
	case json.Number:
		n, _ := v.Int64()
		return time.Unix(0, n)
	}
	return time.Time{}
}

func modTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
