package ledger

import (
	"slices"

	"github.com/GetStream/stream-chat-sync/chat"
)

// Reduce applies ev to prev and returns the next state together with the
// commands the caller must run. prev is never modified.
func Reduce(prev State, ev Event) (State, []Command) {
	s := prev.Clone()
	if s.index == nil {
		s.reindex()
	}

	switch ev := ev.(type) {
	case InitialLoadRequested:
		if s.loaded || s.IsInitialLoading {
			return prev, nil
		}
		s.IsInitialLoading = true
		return s, []Command{QueryRecent{Limit: ev.Limit}}

	case InitialLoadSucceeded:
		if !s.IsInitialLoading {
			return prev, nil
		}
		batch := normalize(ev.Batch)
		s.dropEchoed(batch)
		s.Messages = mergeInitial(batch, s.Messages)
		s.reindex()
		if len(batch) > 0 {
			c := chat.CursorOf(batch[0])
			s.Cursor = &c
		}
		s.HasMoreOlder = ev.Limit > 0 && len(ev.Batch) == ev.Limit
		s.IsInitialLoading = false
		s.loaded = true
		return s, nil

	case InitialLoadFailed:
		if !s.IsInitialLoading {
			return prev, nil
		}
		s.IsInitialLoading = false
		return s, []Command{Notify{Notice{Kind: NoticeLoadFailed, Message: "Could not load messages", Err: ev.Err}}}

	case OlderPageRequested:
		if !s.HasMoreOlder || s.IsLoadingOlder || s.Cursor == nil {
			return prev, nil
		}
		s.IsLoadingOlder = true
		before := *s.Cursor
		return s, []Command{QueryRecent{Limit: ev.Limit, Before: &before, Older: true}}

	case OlderPageLoaded:
		if !s.IsLoadingOlder {
			return prev, nil
		}
		batch := normalize(ev.Batch)
		older := make([]chat.Message, 0, len(batch))
		for _, m := range batch {
			if _, ok := s.index[m.ID]; !ok {
				older = append(older, m)
			}
		}
		s.Messages = append(older, s.Messages...)
		s.reindex()
		if len(batch) > 0 {
			c := chat.CursorOf(batch[0])
			s.Cursor = &c
		}
		s.HasMoreOlder = ev.Limit > 0 && len(ev.Batch) == ev.Limit
		s.IsLoadingOlder = false
		return s, nil

	case OlderPageFailed:
		if !s.IsLoadingOlder {
			return prev, nil
		}
		s.IsLoadingOlder = false
		return s, []Command{Notify{Notice{Kind: NoticeLoadFailed, Message: "Could not load older messages", Err: ev.Err}}}

	case OptimisticSendIssued:
		m := ev.Message
		if m.Nonce == "" || m.ID != m.Nonce {
			return prev, nil
		}
		if _, ok := s.index[m.ID]; ok {
			return prev, nil
		}
		if m.TokenCount == 0 {
			m.TokenCount = chat.TokenCount(m.Text)
		}
		s.Messages = append(s.Messages, m)
		if s.pending == nil {
			s.pending = make(map[string]int)
		}
		if s.unresolved == nil {
			s.unresolved = make(map[string]struct{})
		}
		s.pending[m.Nonce] = len(s.Messages) - 1
		s.unresolved[m.Nonce] = struct{}{}
		s.index[m.ID] = len(s.Messages) - 1
		s.setInFlight(s.InFlight + 1)
		return s, []Command{AppendMessage{Message: m}}

	case SendConfirmed:
		if _, ok := s.unresolved[ev.Nonce]; !ok {
			return prev, nil
		}
		delete(s.unresolved, ev.Nonce)
		return s, []Command{
			AnalyzeMessage{ID: ev.ID, Text: ev.Text},
			RequestReply{ID: ev.ID, Text: ev.Text},
		}

	case SendFailed:
		if _, ok := s.unresolved[ev.Nonce]; !ok {
			return prev, nil
		}
		delete(s.unresolved, ev.Nonce)
		i, ok := s.pending[ev.Nonce]
		if !ok {
			// The store echoed the message, so the append committed even
			// though the call reported an error.
			if m, found := s.byNonce(ev.Nonce); found {
				return s, []Command{
					AnalyzeMessage{ID: m.ID, Text: m.Text},
					RequestReply{ID: m.ID, Text: m.Text},
				}
			}
			s.setInFlight(s.InFlight - 1)
			return s, nil
		}
		s.Messages = slices.Delete(s.Messages, i, i+1)
		delete(s.pending, ev.Nonce)
		s.reindex()
		s.setInFlight(s.InFlight - 1)
		return s, []Command{Notify{Notice{Kind: NoticeSendFailed, Message: "Could not send message", Err: ev.Err}}}

	case StoreAddedPushed:
		m := ev.Message
		if m.ID == "" {
			return prev, nil
		}
		if m.TokenCount == 0 {
			m.TokenCount = chat.TokenCount(m.Text)
		}
		if i, ok := s.pending[m.Nonce]; ok && m.Nonce != "" {
			delete(s.pending, m.Nonce)
			if _, dup := s.index[m.ID]; dup {
				s.Messages = slices.Delete(s.Messages, i, i+1)
			} else {
				s.Messages[i] = m
			}
			s.reindex()
			return s, nil
		}
		if _, ok := s.index[m.ID]; ok {
			return prev, nil
		}
		s.Messages = slices.Insert(s.Messages, s.insertionPoint(m), m)
		s.reindex()
		return s, nil

	case StoreModifiedPushed:
		i, ok := s.index[ev.Message.ID]
		if !ok {
			return prev, nil
		}
		e := ev.Message.Enrichment()
		if e.Empty() {
			return prev, nil
		}
		s.Messages[i].Merge(e)
		return s, nil

	case ResponderSettled:
		if s.InFlight == 0 {
			return prev, nil
		}
		s.setInFlight(s.InFlight - 1)
		if ev.Err != nil {
			return s, []Command{Notify{Notice{Kind: NoticeReplyFailed, Message: "Could not get a reply", Err: ev.Err}}}
		}
		return s, nil
	}

	return prev, nil
}

// insertionPoint returns the position for a newly pushed message: after
// the last message that does not sort after it. The search never moves in
// front of a pending optimistic message, so in-order delivery appends.
func (s *State) insertionPoint(m chat.Message) int {
	i := len(s.Messages)
	for i > 0 {
		prev := s.Messages[i-1]
		if s.IsPending(prev.ID) || !m.Before(prev) {
			break
		}
		i--
	}
	return i
}

// dropEchoed removes the optimistic copies of pending messages whose store
// echo is part of batch.
func (s *State) dropEchoed(batch []chat.Message) {
	for _, m := range batch {
		if m.Nonce == "" {
			continue
		}
		if _, ok := s.pending[m.Nonce]; !ok {
			continue
		}
		delete(s.pending, m.Nonce)
		s.Messages = slices.DeleteFunc(s.Messages, func(o chat.Message) bool {
			return o.ID == m.Nonce
		})
	}
}

// byNonce returns the confirmed message carrying nonce.
func (s *State) byNonce(nonce string) (chat.Message, bool) {
	for _, m := range s.Messages {
		if m.Nonce == nonce && m.ID != nonce {
			return m, true
		}
	}
	return chat.Message{}, false
}

// normalize returns batch sorted oldest first without duplicate ids.
func normalize(batch []chat.Message) []chat.Message {
	out := slices.Clone(batch)
	slices.SortStableFunc(out, func(a, b chat.Message) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		}
		return 0
	})
	seen := make(map[string]struct{}, len(out))
	out = slices.DeleteFunc(out, func(m chat.Message) bool {
		if _, ok := seen[m.ID]; ok {
			return true
		}
		seen[m.ID] = struct{}{}
		return false
	})
	for i := range out {
		if out[i].TokenCount == 0 {
			out[i].TokenCount = chat.TokenCount(out[i].Text)
		}
	}
	return out
}

// mergeInitial places the first page in front of whatever arrived while it
// was loading. Messages present in both keep the loaded copy.
func mergeInitial(batch, current []chat.Message) []chat.Message {
	out := slices.Clone(batch)
	ids := make(map[string]struct{}, len(batch))
	for _, m := range batch {
		ids[m.ID] = struct{}{}
	}
	for _, m := range current {
		if _, ok := ids[m.ID]; !ok {
			out = append(out, m)
		}
	}
	return out
}
