package ledger

import (
	"github.com/GetStream/stream-chat-sync/chat"
)

// An Event is an input to Reduce.
type Event interface {
	event()
}

// InitialLoadRequested asks for the newest page of history.
type InitialLoadRequested struct {
	Limit int
}

// InitialLoadSucceeded carries the newest page of history.
type InitialLoadSucceeded struct {
	Batch []chat.Message
	Limit int
}

// InitialLoadFailed reports that the newest page could not be loaded.
type InitialLoadFailed struct {
	Err error
}

// OlderPageRequested asks for the page preceding the cursor.
type OlderPageRequested struct {
	Limit int
}

// OlderPageLoaded carries a page of messages older than the cursor.
type OlderPageLoaded struct {
	Batch []chat.Message
	Limit int
}

// OlderPageFailed reports that an older page could not be loaded.
type OlderPageFailed struct {
	Err error
}

// OptimisticSendIssued inserts a user message before the store confirms
// it. Message.ID must equal Message.Nonce.
type OptimisticSendIssued struct {
	Message chat.Message
}

// SendConfirmed reports that the store accepted the message sent with
// Nonce and assigned it ID.
type SendConfirmed struct {
	Nonce string
	ID    string
	Text  string
}

// SendFailed reports that the store rejected the message sent with Nonce.
type SendFailed struct {
	Nonce string
	Err   error
}

// StoreAddedPushed is a message addition delivered by the subscription.
type StoreAddedPushed struct {
	Message chat.Message
}

// StoreModifiedPushed is a message modification delivered by the
// subscription.
type StoreModifiedPushed struct {
	Message chat.Message
}

// ResponderSettled reports that one responder request finished. Err is
// nil on success.
type ResponderSettled struct {
	Err error
}

func (InitialLoadRequested) event() {}
func (InitialLoadSucceeded) event() {}
func (InitialLoadFailed) event()    {}
func (OlderPageRequested) event()   {}
func (OlderPageLoaded) event()      {}
func (OlderPageFailed) event()      {}
func (OptimisticSendIssued) event() {}
func (SendConfirmed) event()        {}
func (SendFailed) event()           {}
func (StoreAddedPushed) event()     {}
func (StoreModifiedPushed) event()  {}
func (ResponderSettled) event()     {}

// A Command is a side effect requested by Reduce.
type Command interface {
	command()
}

// QueryRecent loads a page of messages. Before is nil for the newest page.
type QueryRecent struct {
	Limit  int
	Before *chat.Cursor
	Older  bool
}

// AppendMessage writes an optimistic message to the store.
type AppendMessage struct {
	Message chat.Message
}

// AnalyzeMessage enriches a confirmed message.
type AnalyzeMessage struct {
	ID   string
	Text string
}

// RequestReply asks the responder to answer a confirmed user message.
type RequestReply struct {
	ID   string
	Text string
}

// Notify surfaces a notice to the user.
type Notify struct {
	Notice Notice
}

func (QueryRecent) command()    {}
func (AppendMessage) command()  {}
func (AnalyzeMessage) command() {}
func (RequestReply) command()   {}
func (Notify) command()         {}

// NoticeKind classifies user facing notices.
type NoticeKind string

const (
	NoticeLoadFailed     NoticeKind = "load_failed"
	NoticeSendFailed     NoticeKind = "send_failed"
	NoticeBlocked        NoticeKind = "blocked"
	NoticeAnalysisFailed NoticeKind = "analysis_failed"
	NoticeReplyFailed    NoticeKind = "reply_failed"
)

// A Notice is a transient, user facing report of a recovered failure.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
	Err     error      `json:"-"`
}
