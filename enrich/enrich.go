// Package enrich attaches sentiment, entity and translation results to
// confirmed messages.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GetStream/stream-chat-sync/analysis"
	"github.com/GetStream/stream-chat-sync/chat"
	"golang.org/x/sync/errgroup"
)

// A Store persists analysis results for a message.
type Store interface {
	Update(ctx context.Context, id string, e chat.Enrichment) error
}

// Pending reports whether an id belongs to a message the store has not
// confirmed yet.
type Pending interface {
	IsPending(id string) bool
}

// A Request asks for the analysis of one message.
type Request struct {
	MessageID string
	Text      string
	Language  string
}

// Orchestrator runs the three analyses of a message concurrently and
// writes whatever succeeded back to the store.
type Orchestrator struct {
	Logger  *slog.Logger
	Service analysis.Service
	Store   Store
	Pending Pending
	// Timeout bounds each analysis call and the store update. Zero means
	// no bound.
	Timeout time.Duration

	mu        sync.Mutex
	analyzing map[string]struct{}
}

// Analyze enriches the message described by req. It fails with
// chat.ErrUnconfirmed for pending messages, chat.ErrAnalyzing when the
// message is already being analyzed and chat.ErrAnalysis when every
// analysis failed.
func (o *Orchestrator) Analyze(ctx context.Context, req Request) error {
	if o.Pending != nil && o.Pending.IsPending(req.MessageID) {
		return chat.ErrUnconfirmed
	}
	if !o.begin(req.MessageID) {
		return chat.ErrAnalyzing
	}
	defer o.end(req.MessageID)

	e := o.run(ctx, req)
	if e.Empty() {
		return fmt.Errorf("analyze %s: %w", req.MessageID, chat.ErrAnalysis)
	}

	uctx, cancel := o.withTimeout(ctx)
	defer cancel()
	if err := o.Store.Update(uctx, req.MessageID, e); err != nil {
		if !errors.Is(err, chat.ErrStoreWrite) {
			err = fmt.Errorf("%w: %w", chat.ErrStoreWrite, err)
		}
		return fmt.Errorf("update %s: %w", req.MessageID, err)
	}
	return nil
}

// Analyzing reports whether id is currently being analyzed.
func (o *Orchestrator) Analyzing(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.analyzing[id]
	return ok
}

func (o *Orchestrator) run(ctx context.Context, req Request) chat.Enrichment {
	var (
		e chat.Enrichment
		g errgroup.Group
	)

	g.Go(func() error {
		ctx, cancel := o.withTimeout(ctx)
		defer cancel()
		s, err := o.Service.Sentiment(ctx, req.Text)
		if err != nil {
			o.logFailure("sentiment", req.MessageID, err)
			return nil
		}
		e.Sentiment = s
		return nil
	})
	g.Go(func() error {
		ctx, cancel := o.withTimeout(ctx)
		defer cancel()
		ents, err := o.Service.Entities(ctx, req.Text)
		if err != nil {
			o.logFailure("entities", req.MessageID, err)
			return nil
		}
		if ents == nil {
			ents = []chat.Entity{}
		}
		e.Entities = ents
		return nil
	})
	if req.Language != "" {
		g.Go(func() error {
			ctx, cancel := o.withTimeout(ctx)
			defer cancel()
			text, err := o.Service.Translate(ctx, req.Text, req.Language)
			if err != nil {
				o.logFailure("translate", req.MessageID, err)
				return nil
			}
			if text != "" {
				e.Translation = &chat.Translation{Language: req.Language, Text: text}
			}
			return nil
		})
	}

	_ = g.Wait()
	return e
}

func (o *Orchestrator) begin(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.analyzing == nil {
		o.analyzing = make(map[string]struct{})
	}
	if _, ok := o.analyzing[id]; ok {
		return false
	}
	o.analyzing[id] = struct{}{}
	return true
}

func (o *Orchestrator) end(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.analyzing, id)
}

func (o *Orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.Timeout)
}

func (o *Orchestrator) logFailure(kind, id string, err error) {
	if o.Logger == nil {
		return
	}
	o.Logger.Warn("Analysis failed", "kind", kind, "message_id", id, "error", err.Error())
}
