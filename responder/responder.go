// Package responder requests automated replies and appends them to the
// conversation.
package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/GetStream/stream-chat-sync/chat"
	"github.com/GetStream/stream-chat-sync/metrics"
)

// A Service generates a reply to text given the recent conversation.
type Service interface {
	Generate(ctx context.Context, text string, history []chat.Message, language string) (string, error)
}

// A Store appends messages and returns the id it assigned.
type Store interface {
	Append(ctx context.Context, msg chat.Message) (string, error)
}

// A Request asks for a reply to a user message.
type Request struct {
	UserID   string
	Text     string
	Language string
	History  []chat.Message
}

// Orchestrator turns a user message into a responder message.
type Orchestrator struct {
	Logger  *slog.Logger
	Service Service
	Store   Store
	Metrics *metrics.Metrics
	// Timeout bounds the generate call and the append. Zero means no bound.
	Timeout time.Duration
	// Now returns the creation time of replies. Defaults to time.Now.
	Now func() time.Time
}

// RequestReply generates a reply to req and appends it through the store.
// settled, if non-nil, is called exactly once with the outcome.
func (o *Orchestrator) RequestReply(ctx context.Context, req Request, settled func(error)) (err error) {
	defer func() {
		o.Metrics.Reply(err)
		if settled != nil {
			settled(err)
		}
	}()

	gctx, cancel := o.withTimeout(ctx)
	text, err := o.Service.Generate(gctx, req.Text, req.History, req.Language)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: generate: %w", chat.ErrResponder, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: empty reply", chat.ErrResponder)
	}

	reply := chat.Message{
		Sender:     chat.SenderResponder,
		UserID:     req.UserID,
		Text:       text,
		CreatedAt:  o.now(),
		TokenCount: chat.TokenCount(text),
	}
	actx, cancel := o.withTimeout(ctx)
	defer cancel()
	id, err := o.Store.Append(actx, reply)
	if err != nil {
		if !errors.Is(err, chat.ErrStoreWrite) {
			err = fmt.Errorf("%w: %w", chat.ErrStoreWrite, err)
		}
		return fmt.Errorf("append reply: %w", err)
	}
	if o.Logger != nil {
		o.Logger.Debug("Reply appended", "id", id, "tokens", reply.TokenCount)
	}
	return nil
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.Timeout)
}
