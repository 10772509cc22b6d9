// Package ledger keeps the ordered message list of a chat session and
// reconciles optimistic sends, pushed store events and history pages.
//
// All state changes go through Reduce. Session owns a State, feeds it
// events and executes the commands Reduce returns.
package ledger

import (
	"maps"
	"slices"

	"github.com/GetStream/stream-chat-sync/chat"
)

// State is the client side view of a conversation.
type State struct {
	Messages             []chat.Message `json:"messages"`
	Cursor               *chat.Cursor   `json:"cursor,omitempty"`
	HasMoreOlder         bool           `json:"has_more_older"`
	IsResponderComposing bool           `json:"is_responder_composing"`
	IsInitialLoading     bool           `json:"is_initial_loading"`
	IsLoadingOlder       bool           `json:"is_loading_older"`
	// InFlight counts sends whose responder request has not settled.
	InFlight int `json:"in_flight"`

	loaded bool
	// pending maps the nonce of every optimistic message still in
	// Messages to its position.
	pending map[string]int
	// unresolved holds nonces whose append has not returned yet.
	unresolved map[string]struct{}
	// index maps message ids to positions.
	index map[string]int
}

// Loaded reports whether the initial page has been loaded.
func (s State) Loaded() bool {
	return s.loaded
}

// IsPending reports whether id is the nonce of an optimistic message that
// the store has not echoed back yet.
func (s State) IsPending(id string) bool {
	_, ok := s.pending[id]
	return ok
}

// Message returns the message with the given id.
func (s State) Message(id string) (chat.Message, bool) {
	i, ok := s.index[id]
	if !ok {
		return chat.Message{}, false
	}
	return s.Messages[i], true
}

// History returns up to n confirmed messages preceding the message with
// the given id, oldest first. If id is unknown the last n confirmed
// messages are returned.
func (s State) History(id string, n int) []chat.Message {
	end := len(s.Messages)
	if i, ok := s.index[id]; ok {
		end = i
	}
	var out []chat.Message
	for i := end - 1; i >= 0 && len(out) < n; i-- {
		m := s.Messages[i]
		if s.IsPending(m.ID) {
			continue
		}
		out = append(out, m)
	}
	slices.Reverse(out)
	return out
}

// Clone returns a deep enough copy of s: the message slice and the
// bookkeeping maps are copied, message values are shared.
func (s State) Clone() State {
	c := s
	c.Messages = slices.Clone(s.Messages)
	if s.Cursor != nil {
		cur := *s.Cursor
		c.Cursor = &cur
	}
	c.pending = maps.Clone(s.pending)
	c.unresolved = maps.Clone(s.unresolved)
	c.index = maps.Clone(s.index)
	return c
}

// reindex rebuilds the id and pending tables after a structural change.
func (s *State) reindex() {
	s.index = make(map[string]int, len(s.Messages))
	for i, m := range s.Messages {
		s.index[m.ID] = i
	}
	for nonce := range s.pending {
		i, ok := s.index[nonce]
		if !ok {
			delete(s.pending, nonce)
			continue
		}
		s.pending[nonce] = i
	}
}

func (s *State) setInFlight(n int) {
	if n < 0 {
		n = 0
	}
	s.InFlight = n
	s.IsResponderComposing = n > 0
}
