package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/GetStream/stream-chat-sync/chat"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/neilotoole/slogt"
)

func TestMessage_ChatMessage(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := message{
		ID:          "1",
		Seq:         7,
		Nonce:       "n",
		Sender:      "user",
		UserID:      "alice",
		MessageText: "Hello Paris",
		TokenCount:  2,
		CreatedAt:   created,
		Entities:    []chat.Entity{{Name: "Paris", Type: "LOCATION"}},
	}

	want := chat.Message{
		ID:         "1",
		Nonce:      "n",
		Sender:     chat.SenderUser,
		UserID:     "alice",
		Text:       "Hello Paris",
		CreatedAt:  created,
		Seq:        7,
		TokenCount: 2,
		Entities:   []chat.Entity{{Name: "Paris", Type: "LOCATION"}},
	}
	if diff := cmp.Diff(want, m.ChatMessage()); diff != "" {
		t.Errorf("ChatMessage() mismatch (-want +got):\n%s", diff)
	}
}

// TestMessages runs against a real database when TEST_DATABASE_URL is set.
func TestMessages(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pg, err := Connect(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	store := pg.Messages("test-"+uuid.NewString(), slogt.New(t))

	added := make(chan chat.Message, 4)
	modified := make(chan chat.Message, 4)
	unsubscribe, err := store.Subscribe(ctx, time.Time{},
		func(m chat.Message) { added <- m },
		func(m chat.Message) { modified <- m },
	)
	if err != nil {
		t.Fatal(err)
	}
	defer unsubscribe()

	var ids []string
	for _, text := range []string{"first", "second", "third"} {
		id, err := store.Append(ctx, chat.Message{Nonce: uuid.NewString(), Sender: chat.SenderUser, Text: text, TokenCount: 1})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	select {
	case m := <-added:
		if m.ID != ids[0] || m.Text != "first" {
			t.Errorf("Got first push %+v", m)
		}
	case <-ctx.Done():
		t.Fatal("No push received")
	}

	page, err := store.QueryRecent(ctx, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != ids[2] || page[1].ID != ids[1] {
		t.Fatalf("Got first page %+v", page)
	}
	cur := chat.CursorOf(page[1])
	older, err := store.QueryRecent(ctx, 2, &cur)
	if err != nil {
		t.Fatal(err)
	}
	if len(older) != 1 || older[0].ID != ids[0] {
		t.Fatalf("Got older page %+v", older)
	}

	err = store.Update(ctx, ids[0], chat.Enrichment{Sentiment: &chat.Sentiment{Score: 0.5, Magnitude: 0.5}})
	if err != nil {
		t.Fatal(err)
	}
	got, err := store.Get(ctx, ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(&chat.Sentiment{Score: 0.5, Magnitude: 0.5}, got.Sentiment); diff != "" {
		t.Errorf("Sentiment mismatch (-want +got):\n%s", diff)
	}

	if err := store.Update(ctx, uuid.NewString(), chat.Enrichment{Entities: []chat.Entity{}}); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("Got error %v updating a missing message, want ErrNotFound", err)
	}
}
