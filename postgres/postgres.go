package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GetStream/stream-chat-sync/chat"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// channel is the LISTEN/NOTIFY channel carrying message events.
const channel = "chat_messages"

// Postgres provides storage in PostgreSQL.
type Postgres struct {
	bun *bun.DB
}

// Connect connects to the database and ping the DB to ensure the connection is
// working.
func Connect(ctx context.Context, connStr string) (*Postgres, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db := bun.NewDB(sqlDB, pgdialect.New())
	return &Postgres{
		bun: db,
	}, nil
}

// Migrate creates the messages table and its index if they do not exist.
func (pg *Postgres) Migrate(ctx context.Context) error {
	if _, err := pg.bun.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`); err != nil {
		return fmt.Errorf("create extension: %w", err)
	}
	if _, err := pg.bun.NewCreateTable().Model((*message)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	_, err := pg.bun.NewCreateIndex().
		Model((*message)(nil)).
		Index("messages_user_created_idx").
		IfNotExists().
		Column("user_id", "created_at", "seq").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// Close closes the database.
func (pg *Postgres) Close() error {
	return pg.bun.Close()
}

// Messages returns the message store of one user's conversation.
func (pg *Postgres) Messages(userID string, logger *slog.Logger) *Messages {
	return &Messages{pg: pg, userID: userID, logger: logger}
}

// Messages is the conversation of a single user: their messages and the
// responder's replies to them.
type Messages struct {
	pg     *Postgres
	userID string
	logger *slog.Logger
}

// Append inserts msg and announces it to subscribers. The database assigns
// the id, sequence and creation time.
func (s *Messages) Append(ctx context.Context, msg chat.Message) (string, error) {
	m := &message{
		Nonce:       msg.Nonce,
		Sender:      string(msg.Sender),
		UserID:      s.userID,
		MessageText: msg.Text,
		TokenCount:  msg.TokenCount,
	}
	err := s.pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(m).Returning("*").Exec(ctx); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		return notify(ctx, tx, event{Kind: eventAdded, ID: m.ID, UserID: m.UserID})
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", chat.ErrStoreWrite, err)
	}
	return m.ID, nil
}

// Update stores the non-nil fields of e on the message with the given id.
func (s *Messages) Update(ctx context.Context, id string, e chat.Enrichment) error {
	m := &message{ID: id}
	var cols []string
	if e.Sentiment != nil {
		m.Sentiment = e.Sentiment
		cols = append(cols, "sentiment")
	}
	if e.Entities != nil {
		m.Entities = e.Entities
		cols = append(cols, "entities")
	}
	if e.Translation != nil {
		m.Translation = e.Translation
		cols = append(cols, "translation")
	}
	if len(cols) == 0 {
		return nil
	}

	err := s.pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model(m).
			Column(cols...).
			WherePK().
			Where("user_id = ?", s.userID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return chat.ErrNotFound
		}
		return notify(ctx, tx, event{Kind: eventModified, ID: id, UserID: s.userID})
	})
	if err != nil {
		return fmt.Errorf("%w: %w", chat.ErrStoreWrite, err)
	}
	return nil
}

// Get returns the message with the given id.
func (s *Messages) Get(ctx context.Context, id string) (chat.Message, error) {
	var m message
	err := s.pg.bun.NewSelect().
		Model(&m).
		Where("id = ?", id).
		Where("user_id = ?", s.userID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Message{}, chat.ErrNotFound
	}
	if err != nil {
		return chat.Message{}, fmt.Errorf("%w: select: %w", chat.ErrStoreRead, err)
	}
	return m.ChatMessage(), nil
}

// QueryRecent returns up to limit messages, newest first. With a cursor,
// only messages strictly older than it are returned.
func (s *Messages) QueryRecent(ctx context.Context, limit int, before *chat.Cursor) ([]chat.Message, error) {
	var msgs []message
	q := s.pg.bun.NewSelect().
		Model(&msgs).
		Where("user_id = ?", s.userID).
		Order("created_at DESC", "seq DESC").
		Limit(limit)
	if before != nil {
		q = q.Where("(created_at, seq) < (?, ?)", before.CreatedAt, before.Seq)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("%w: scan: %w", chat.ErrStoreRead, err)
	}
	out := make([]chat.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.ChatMessage()
	}
	return out, nil
}

// Subscribe delivers additions and modifications of messages created at or
// after since, starting now. The returned function stops the delivery and
// waits for the listener to exit.
func (s *Messages) Subscribe(ctx context.Context, since time.Time, onAdded, onModified func(chat.Message)) (func(), error) {
	ln := pgdriver.NewListener(s.pg.bun)
	if err := ln.Listen(ctx, channel); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("%w: listen: %w", chat.ErrStoreRead, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ch := ln.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-ch:
				if !ok {
					return
				}
				s.deliver(ctx, n.Payload, since, onAdded, onModified)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			_ = ln.Close()
			<-done
		})
	}, nil
}

func (s *Messages) deliver(ctx context.Context, payload string, since time.Time, onAdded, onModified func(chat.Message)) {
	var ev event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		s.logError("Could not decode message event", err)
		return
	}
	if ev.UserID != s.userID {
		return
	}
	m, err := s.Get(ctx, ev.ID)
	if err != nil {
		if !errors.Is(err, chat.ErrNotFound) {
			s.logError("Could not load pushed message", err)
		}
		return
	}
	if m.CreatedAt.Before(since) {
		return
	}
	switch ev.Kind {
	case eventAdded:
		onAdded(m)
	case eventModified:
		onModified(m)
	}
}

func (s *Messages) logError(msg string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.Error(msg, "error", err.Error())
}

func notify(ctx context.Context, tx bun.Tx, ev event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := pgdriver.Notify(ctx, tx, channel, string(b)); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}
