package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/GetStream/stream-chat-sync/chat"
	"github.com/GetStream/stream-chat-sync/metrics"
	"golang.org/x/sync/singleflight"
)

// A Service analyzes text. Each call may fail independently.
type Service interface {
	Sentiment(ctx context.Context, text string) (*chat.Sentiment, error)
	Entities(ctx context.Context, text string) ([]chat.Entity, error)
	Translate(ctx context.Context, text, language string) (string, error)
}

// Cached is a Service that consults Cache before calling Service.
// Concurrent calls for the same key share one underlying request. The
// shared request is not tied to any single caller: a caller whose context
// ends stops waiting while the others keep theirs.
type Cached struct {
	Service Service
	Cache   Cache
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Timeout bounds a shared request. Zero means no bound.
	Timeout time.Duration

	group singleflight.Group
}

// Sentiment returns the sentiment of text.
func (c *Cached) Sentiment(ctx context.Context, text string) (*chat.Sentiment, error) {
	return lookup(ctx, c, Key{Op: OpSentiment, Text: text}, func(ctx context.Context) (*chat.Sentiment, error) {
		return c.Service.Sentiment(ctx, text)
	})
}

// Entities returns the named entities in text.
func (c *Cached) Entities(ctx context.Context, text string) ([]chat.Entity, error) {
	return lookup(ctx, c, Key{Op: OpEntities, Text: text}, func(ctx context.Context) ([]chat.Entity, error) {
		return c.Service.Entities(ctx, text)
	})
}

// Translate returns text translated to language.
func (c *Cached) Translate(ctx context.Context, text, language string) (string, error) {
	return lookup(ctx, c, Key{Op: OpTranslate, Text: text, Language: language}, func(ctx context.Context) (string, error) {
		return c.Service.Translate(ctx, text, language)
	})
}

func lookup[T any](ctx context.Context, c *Cached, key Key, call func(context.Context) (T, error)) (T, error) {
	var zero T
	if b, ok := c.Cache.Get(key); ok {
		var v T
		if err := json.Unmarshal(b, &v); err == nil {
			c.Metrics.CacheLookup(string(key.Op), true)
			return v, nil
		}
	}
	c.Metrics.CacheLookup(string(key.Op), false)

	ch := c.group.DoChan(key.String(), func() (any, error) {
		ctx, cancel := c.detach(ctx)
		defer cancel()
		res, err := call(ctx)
		c.Metrics.Analysis(string(key.Op), err)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(res)
		if err != nil {
			if c.Logger != nil {
				c.Logger.Error("Could not encode analysis result", "op", key.Op, "error", err.Error())
			}
			return res, nil
		}
		c.Cache.Put(ctx, key, b)
		return res, nil
	})

	select {
	case <-ctx.Done():
		return zero, fmt.Errorf("%w: %s: %w", chat.ErrAnalysis, key.Op, ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return zero, fmt.Errorf("%w: %s: %w", chat.ErrAnalysis, key.Op, r.Err)
		}
		return r.Val.(T), nil
	}
}

// detach returns a context that keeps the values of ctx but not its
// cancellation, bounded by Timeout.
func (c *Cached) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if c.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.Timeout)
}
