// Package chat holds the message model shared by the ledger, the
// orchestrators and the store adapters.
package chat

import (
	"strings"
	"time"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderResponder Sender = "responder"
)

// A Message represents a chat message as seen by the client.
//
// Before the store confirms a user message its ID equals its Nonce. Once
// confirmed, ID holds the store assigned identifier and Nonce keeps the
// client generated correlation token.
type Message struct {
	ID          string       `json:"id"`
	Nonce       string       `json:"nonce,omitempty"`
	Sender      Sender       `json:"sender"`
	UserID      string       `json:"user_id"`
	Text        string       `json:"text"`
	CreatedAt   time.Time    `json:"created_at"`
	Seq         int64        `json:"seq,omitempty"`
	TokenCount  int          `json:"token_count"`
	Sentiment   *Sentiment   `json:"sentiment,omitempty"`
	Entities    []Entity     `json:"entities,omitempty"`
	Translation *Translation `json:"translation,omitempty"`
}

// Sentiment is the result of a sentiment analysis.
type Sentiment struct {
	Score     float64 `json:"score"`
	Magnitude float64 `json:"magnitude"`
}

// An Entity is a named entity found in a message.
type Entity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Translation is the message text translated to Language.
type Translation struct {
	Language string `json:"language"`
	Text     string `json:"text"`
}

// Enrichment is a partial set of analysis results. Nil fields are absent
// and never overwrite existing values.
type Enrichment struct {
	Sentiment   *Sentiment
	Entities    []Entity
	Translation *Translation
}

// Empty reports whether the enrichment carries no result at all.
func (e Enrichment) Empty() bool {
	return e.Sentiment == nil && e.Entities == nil && e.Translation == nil
}

// Enrichment returns the analysis fields of m.
func (m Message) Enrichment() Enrichment {
	return Enrichment{
		Sentiment:   m.Sentiment,
		Entities:    m.Entities,
		Translation: m.Translation,
	}
}

// Enriched reports whether all three analysis fields are populated.
func (m Message) Enriched() bool {
	return m.Sentiment != nil && m.Entities != nil && m.Translation != nil
}

// Merge copies every non-nil field of e onto m. Existing fields are replaced
// wholesale, absent ones are left untouched.
func (m *Message) Merge(e Enrichment) {
	if e.Sentiment != nil {
		s := *e.Sentiment
		m.Sentiment = &s
	}
	if e.Entities != nil {
		m.Entities = append([]Entity{}, e.Entities...)
	}
	if e.Translation != nil {
		t := *e.Translation
		m.Translation = &t
	}
}

// Before reports whether m sorts before o: by creation time, then by store
// sequence.
func (m Message) Before(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.Seq < o.Seq
}

// A Cursor marks the oldest message loaded so far. Pages requested with a
// cursor contain only messages strictly older than it.
type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	Seq       int64     `json:"seq"`
}

// CursorOf returns the cursor pointing at m.
func CursorOf(m Message) Cursor {
	return Cursor{CreatedAt: m.CreatedAt, Seq: m.Seq}
}

// TokenCount returns the number of whitespace separated tokens in text.
func TokenCount(text string) int {
	return len(strings.Fields(text))
}
