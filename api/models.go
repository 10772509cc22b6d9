package api

import (
	"github.com/GetStream/stream-chat-sync/chat"
	"github.com/GetStream/stream-chat-sync/ledger"
)

// A message is a ledger message as rendered by the API.
type message struct {
	chat.Message
	Pending bool `json:"pending"`
}

type stateResponse struct {
	Messages             []message `json:"messages"`
	HasMoreOlder         bool      `json:"has_more_older"`
	IsResponderComposing bool      `json:"is_responder_composing"`
	IsInitialLoading     bool      `json:"is_initial_loading"`
	IsLoadingOlder       bool      `json:"is_loading_older"`
}

type notice struct {
	Kind    ledger.NoticeKind `json:"kind"`
	Message string            `json:"message"`
	Error   string            `json:"error,omitempty"`
}

func noticeOf(n ledger.Notice) notice {
	out := notice{Kind: n.Kind, Message: n.Message}
	if n.Err != nil {
		out.Error = n.Err.Error()
	}
	return out
}
