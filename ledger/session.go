package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/GetStream/stream-chat-sync/chat"
	"github.com/GetStream/stream-chat-sync/enrich"
	"github.com/GetStream/stream-chat-sync/metrics"
	"github.com/GetStream/stream-chat-sync/responder"
	"github.com/google/uuid"
)

// A Store persists messages and pushes changes to subscribers.
type Store interface {
	Append(ctx context.Context, msg chat.Message) (string, error)
	QueryRecent(ctx context.Context, limit int, before *chat.Cursor) ([]chat.Message, error)
	Subscribe(ctx context.Context, since time.Time, onAdded, onModified func(chat.Message)) (func(), error)
}

// A Gate decides whether a message may be sent.
type Gate interface {
	IsBlocked(text string) bool
}

// An Enricher analyzes confirmed messages.
type Enricher interface {
	Analyze(ctx context.Context, req enrich.Request) error
	Analyzing(id string) bool
}

// A Responder requests automated replies. settled must be called exactly
// once per request.
type Responder interface {
	RequestReply(ctx context.Context, req responder.Request, settled func(error)) error
}

const (
	defaultPageSize = 20
	maxNotices      = 32
)

// Session owns the ledger of one conversation. It holds the store
// subscription from Start until Close and runs every network call off the
// caller's goroutine. Completions are applied through Reduce under a single
// mutex; completions arriving after Close are dropped.
type Session struct {
	Logger    *slog.Logger
	Store     Store
	Gate      Gate
	Enricher  Enricher
	Responder Responder
	Metrics   *metrics.Metrics

	UserID      string
	Language    string
	PageSize    int
	HistorySize int
	// Timeout bounds every store call made by the session.
	Timeout time.Duration

	Now      func() time.Time
	NewNonce func() string

	mu          sync.Mutex
	state       State
	started     bool
	closed      bool
	notices     []Notice
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
}

// Start opens the store subscription and requests the first page.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return chat.ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return errors.New("session already started")
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	unsub, err := s.Store.Subscribe(s.ctx, time.Time{}, s.onAdded, s.onModified)
	if err != nil {
		s.mu.Lock()
		s.cancel()
		s.started = false
		s.mu.Unlock()
		return fmt.Errorf("subscribe: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsub()
		return chat.ErrClosed
	}
	s.unsubscribe = unsub
	s.mu.Unlock()

	s.dispatch(InitialLoadRequested{Limit: s.pageSize()})
	return nil
}

// Close releases the subscription, cancels in-flight calls and waits for
// them to return. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsub, cancel := s.unsubscribe, s.cancel
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Send moderates text and, if allowed, inserts it optimistically and
// appends it to the store. It returns the nonce identifying the message
// until the store confirms it.
func (s *Session) Send(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("empty message")
	}
	if s.Gate != nil && s.Gate.IsBlocked(text) {
		s.Metrics.Blocked()
		s.notify(Notice{Kind: NoticeBlocked, Message: "Message contains banned terms", Err: chat.ErrBlocked})
		return "", chat.ErrBlocked
	}

	nonce := s.newNonce()
	msg := chat.Message{
		ID:         nonce,
		Nonce:      nonce,
		Sender:     chat.SenderUser,
		UserID:     s.UserID,
		Text:       text,
		CreatedAt:  s.now(),
		TokenCount: chat.TokenCount(text),
	}
	if !s.dispatch(OptimisticSendIssued{Message: msg}) {
		return "", chat.ErrClosed
	}
	return nonce, nil
}

// LoadOlder requests the page preceding the oldest loaded message. It does
// nothing while a page is loading or when no older messages exist.
func (s *Session) LoadOlder() {
	s.dispatch(OlderPageRequested{Limit: s.pageSize()})
}

// Retry requests the first page again after a failed initial load.
func (s *Session) Retry() {
	s.dispatch(InitialLoadRequested{Limit: s.pageSize()})
}

// Analyze re-runs the enrichment of a confirmed message and blocks until
// it finishes.
func (s *Session) Analyze(ctx context.Context, id string) error {
	if s.Enricher == nil {
		return errors.New("analysis is not configured")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return chat.ErrClosed
	}
	msg, ok := s.state.Message(id)
	pending := s.state.IsPending(id)
	s.mu.Unlock()

	switch {
	case !ok:
		return chat.ErrNotFound
	case pending:
		return chat.ErrUnconfirmed
	case msg.Enriched():
		return chat.ErrAlreadyEnriched
	case s.Enricher.Analyzing(id):
		return chat.ErrAnalyzing
	}
	return s.Enricher.Analyze(ctx, enrich.Request{MessageID: id, Text: msg.Text, Language: s.Language})
}

// IsPending reports whether id is the nonce of an unconfirmed message.
func (s *Session) IsPending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IsPending(id)
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Notices returns the most recent notices, oldest first.
func (s *Session) Notices() []Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notice(nil), s.notices...)
}

// dispatch applies ev and runs the resulting commands. It reports false if
// the session is closed.
func (s *Session) dispatch(ev Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	next, cmds := Reduce(s.state, ev)
	s.state = next
	s.Metrics.InFlight(next.InFlight)
	s.mu.Unlock()

	for _, cmd := range cmds {
		s.run(cmd)
	}
	return true
}

func (s *Session) run(cmd Command) {
	switch cmd := cmd.(type) {
	case QueryRecent:
		s.spawn(func(ctx context.Context) {
			ctx, cancel := s.withTimeout(ctx)
			defer cancel()
			batch, err := s.Store.QueryRecent(ctx, cmd.Limit, cmd.Before)
			switch {
			case err != nil && cmd.Older:
				s.dispatch(OlderPageFailed{Err: err})
			case err != nil:
				s.dispatch(InitialLoadFailed{Err: err})
			case cmd.Older:
				s.dispatch(OlderPageLoaded{Batch: batch, Limit: cmd.Limit})
			default:
				s.dispatch(InitialLoadSucceeded{Batch: batch, Limit: cmd.Limit})
			}
		})

	case AppendMessage:
		s.spawn(func(ctx context.Context) {
			ctx, cancel := s.withTimeout(ctx)
			defer cancel()
			id, err := s.Store.Append(ctx, cmd.Message)
			s.Metrics.Send(err)
			if err != nil {
				s.dispatch(SendFailed{Nonce: cmd.Message.Nonce, Err: err})
				return
			}
			s.dispatch(SendConfirmed{Nonce: cmd.Message.Nonce, ID: id, Text: cmd.Message.Text})
		})

	case AnalyzeMessage:
		if s.Enricher == nil {
			return
		}
		s.spawn(func(ctx context.Context) {
			err := s.Enricher.Analyze(ctx, enrich.Request{MessageID: cmd.ID, Text: cmd.Text, Language: s.Language})
			if err != nil && !errors.Is(err, chat.ErrAnalyzing) {
				s.notify(Notice{Kind: NoticeAnalysisFailed, Message: "Could not analyze message", Err: err})
			}
		})

	case RequestReply:
		if s.Responder == nil {
			s.dispatch(ResponderSettled{})
			return
		}
		s.mu.Lock()
		history := s.state.History(cmd.ID, s.HistorySize)
		s.mu.Unlock()
		req := responder.Request{
			UserID:   s.UserID,
			Text:     cmd.Text,
			Language: s.Language,
			History:  history,
		}
		s.spawn(func(ctx context.Context) {
			_ = s.Responder.RequestReply(ctx, req, func(err error) {
				s.dispatch(ResponderSettled{Err: err})
			})
		})

	case Notify:
		s.notify(cmd.Notice)
	}
}

// spawn runs fn on its own goroutine unless the session is closed.
func (s *Session) spawn(fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		fn(ctx)
	}()
}

func (s *Session) notify(n Notice) {
	if s.Logger != nil {
		args := []any{"kind", n.Kind}
		if n.Err != nil {
			args = append(args, "error", n.Err.Error())
		}
		s.Logger.Warn(n.Message, args...)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, n)
	if len(s.notices) > maxNotices {
		s.notices = s.notices[len(s.notices)-maxNotices:]
	}
}

func (s *Session) onAdded(m chat.Message) {
	s.Metrics.StoreEvent("added")
	s.dispatch(StoreAddedPushed{Message: m})
}

func (s *Session) onModified(m chat.Message) {
	s.Metrics.StoreEvent("modified")
	s.dispatch(StoreModifiedPushed{Message: m})
}

func (s *Session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.Timeout)
}

func (s *Session) pageSize() int {
	if s.PageSize > 0 {
		return s.PageSize
	}
	return defaultPageSize
}

func (s *Session) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Session) newNonce() string {
	if s.NewNonce != nil {
		return s.NewNonce()
	}
	return uuid.NewString()
}
