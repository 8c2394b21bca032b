package rpc

import (
	"context"
	"encoding/json"

	"github.com/opencode-ai/opal/internal/logging"
	"github.com/opencode-ai/opal/internal/permission"
)

// clientNotifier is the permission.Notifier backed by the connection's
// client/confirm request. permission.Checker constructs the pending
// wait itself; this only has to forward the request over the wire and
// feed the client's answer back into Checker.Respond, so RequestPermission
// never blocks the caller awaiting Checker.Ask.
type clientNotifier struct {
	conn    *Conn
	checker *permission.Checker
}

// SetChecker wires the Checker this notifier resolves into. cmd/opal-agent
// builds the Notifier before the Checker (Checker's constructor takes the
// Notifier) and sets this immediately after.
func (n *clientNotifier) SetChecker(c *permission.Checker) { n.checker = c }

type confirmParams struct {
	RequestID string         `json:"request_id"`
	SessionID string         `json:"session_id"`
	Type      string         `json:"type"`
	Pattern   []string       `json:"pattern,omitempty"`
	Title     string         `json:"title"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type confirmResult struct {
	Action string `json:"action"` // "once" | "always" | "reject"
}

// RequestPermission asks the client over client/confirm and resolves the
// waiting Checker.Ask call with the client's answer. It runs in its own
// goroutine: Checker.Ask blocks on its own response channel, not on this
// call returning.
func (n *clientNotifier) RequestPermission(req permission.Request) {
	go func() {
		raw, err := n.conn.SendRequest(context.Background(), "client/confirm", confirmParams{
			RequestID: req.ID,
			SessionID: req.SessionID,
			Type:      string(req.Type),
			Pattern:   req.Pattern,
			Title:     req.Title,
			Metadata:  req.Metadata,
		})
		if err != nil {
			logging.Logger.Debug().Err(err).Str("request_id", req.ID).Msg("client/confirm failed, rejecting")
			n.respond(req.ID, "reject")
			return
		}

		var result confirmResult
		if err := json.Unmarshal(raw, &result); err != nil || result.Action == "" {
			n.respond(req.ID, "reject")
			return
		}
		n.respond(req.ID, result.Action)
	}()
}

func (n *clientNotifier) respond(requestID, action string) {
	if n.checker != nil {
		n.checker.Respond(requestID, action)
	}
}

// ResolvePermission is Checker's post-resolution hook; this notifier has
// no client-side UI state of its own to clear, since client/confirm's
// own response already told the client the prompt is done.
func (n *clientNotifier) ResolvePermission(requestID string, granted bool) {}

var _ permission.Notifier = (*clientNotifier)(nil)

// clientRelay is the subagent.QuestionRelay backed by the connection's
// client/input request.
type clientRelay struct {
	conn *Conn
}

type inputParams struct {
	ParentSessionID string   `json:"parent_session_id"`
	ParentCallID    string   `json:"parent_call_id"`
	Question        string   `json:"question"`
	Choices         []string `json:"choices,omitempty"`
}

type inputResult struct {
	Answer string `json:"answer"`
}

// AskUser implements subagent.QuestionRelay by round-tripping client/input.
func (r *clientRelay) AskUser(ctx context.Context, parentSessionID, parentCallID, question string, choices []string) (string, error) {
	raw, err := r.conn.SendRequest(ctx, "client/input", inputParams{
		ParentSessionID: parentSessionID,
		ParentCallID:    parentCallID,
		Question:        question,
		Choices:         choices,
	})
	if err != nil {
		return "", err
	}
	var result inputResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", err
	}
	return result.Answer, nil
}
