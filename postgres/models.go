package postgres

import (
	"time"

	"github.com/GetStream/stream-chat-sync/chat"
	"github.com/uptrace/bun"
)

// A message represents a message in the database.
type message struct {
	bun.BaseModel `bun:"table:messages"`

	ID          string            `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	Seq         int64             `bun:",nullzero,notnull,type:bigserial"`
	Nonce       string            `bun:",nullzero"`
	Sender      string            `bun:",notnull"`
	UserID      string            `bun:",notnull"`
	MessageText string            `bun:"message_text,notnull"`
	TokenCount  int               `bun:",notnull,default:0"`
	CreatedAt   time.Time         `bun:",nullzero,notnull,default:now()"`
	Sentiment   *chat.Sentiment   `bun:"type:jsonb,nullzero"`
	Entities    []chat.Entity     `bun:"type:jsonb,nullzero"`
	Translation *chat.Translation `bun:"type:jsonb,nullzero"`
}

func (m message) ChatMessage() chat.Message {
	return chat.Message{
		ID:          m.ID,
		Nonce:       m.Nonce,
		Sender:      chat.Sender(m.Sender),
		UserID:      m.UserID,
		Text:        m.MessageText,
		CreatedAt:   m.CreatedAt,
		Seq:         m.Seq,
		TokenCount:  m.TokenCount,
		Sentiment:   m.Sentiment,
		Entities:    m.Entities,
		Translation: m.Translation,
	}
}

// event is the NOTIFY payload announcing a change to a message.
type event struct {
	Kind   string `json:"kind"`
	ID     string `json:"id"`
	UserID string `json:"user_id"`
}

const (
	eventAdded    = "added"
	eventModified = "modified"
)
