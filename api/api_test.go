package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GetStream/stream-chat-sync/api/validator"
	"github.com/GetStream/stream-chat-sync/chat"
	"github.com/GetStream/stream-chat-sync/ledger"
	"github.com/GetStream/stream-chat-sync/metrics"
	"github.com/neilotoole/slogt"
	"github.com/prometheus/client_golang/prometheus"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// loadedState returns a state holding msgs as the first loaded page and
// the optimistic messages sent after it.
func loadedState(msgs []chat.Message, sent ...chat.Message) ledger.State {
	s, _ := ledger.Reduce(ledger.State{}, ledger.InitialLoadRequested{Limit: 20})
	s, _ = ledger.Reduce(s, ledger.InitialLoadSucceeded{Batch: msgs, Limit: 20})
	for _, m := range sent {
		s, _ = ledger.Reduce(s, ledger.OptimisticSendIssued{Message: m})
	}
	return s
}

func TestAPI_listMessages(t *testing.T) {
	tests := []struct {
		name       string
		state      ledger.State
		wantStatus int
		wantBody   string
	}{
		{
			name:       "Loading",
			state:      func() ledger.State { s, _ := ledger.Reduce(ledger.State{}, ledger.InitialLoadRequested{Limit: 20}); return s }(),
			wantStatus: 200,
			wantBody: `{
				"messages": [],
				"has_more_older": false,
				"is_responder_composing": false,
				"is_initial_loading": true,
				"is_loading_older": false
			}`,
		},
		{
			name: "Messages",
			state: loadedState(
				[]chat.Message{
					{ID: "1", Sender: chat.SenderUser, UserID: "u1", Text: "Hello there", CreatedAt: t0},
				},
				chat.Message{ID: "n1", Nonce: "n1", Sender: chat.SenderUser, UserID: "u1", Text: "Hi", CreatedAt: t0.Add(time.Minute), TokenCount: 1},
			),
			wantStatus: 200,
			wantBody: `{
				"messages": [
					{
						"id": "1",
						"sender": "user",
						"user_id": "u1",
						"text": "Hello there",
						"created_at": "2024-01-01T00:00:00Z",
						"token_count": 2,
						"pending": false
					},
					{
						"id": "n1",
						"nonce": "n1",
						"sender": "user",
						"user_id": "u1",
						"text": "Hi",
						"created_at": "2024-01-01T00:01:00Z",
						"token_count": 1,
						"pending": true
					}
				],
				"has_more_older": false,
				"is_responder_composing": false,
				"is_initial_loading": false,
				"is_loading_older": false
			}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &API{
				Logger: slogt.New(t),
				Session: &testsession{
					T:        t,
					snapshot: func(t *testing.T) ledger.State { return tt.state },
				},
				Val: validator.New(),
			}

			srv := httptest.NewServer(api)
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/messages")
			if err != nil {
				t.Fatalf("Could not send request: %v", err)
			}
			defer resp.Body.Close()

			checkStatus(t, resp.StatusCode, tt.wantStatus)
			checkBody(t, resp, tt.wantBody)
		})
	}
}

func TestAPI_sendMessage(t *testing.T) {
	tests := []struct {
		name       string
		req        string
		send       func(t *testing.T, text string) (string, error)
		wantStatus int
		wantBody   string
	}{
		{
			name: "OK",
			req:  `{"text": "Hello"}`,
			send: func(t *testing.T, text string) (string, error) {
				if text != "Hello" {
					t.Errorf("Got text %q, want %q", text, "Hello")
				}
				return "n1", nil
			},
			wantStatus: 202,
			wantBody:   `{"nonce": "n1"}`,
		},
		{
			name:       "InvalidJSON",
			req:        `{"text": `,
			wantStatus: 400,
			wantBody:   `{"error": "Could not decode request body"}`,
		},
		{
			name:       "Blank",
			req:        `{"text": "   "}`,
			wantStatus: 400,
			wantBody: `{
				"errors": [
					{"field": "text", "message": "must not be empty"}
				]
			}`,
		},
		{
			name: "Blocked",
			req:  `{"text": "you badword1"}`,
			send: func(t *testing.T, text string) (string, error) {
				return "", chat.ErrBlocked
			},
			wantStatus: 422,
			wantBody:   `{"error": "Message contains banned terms"}`,
		},
		{
			name: "Closed",
			req:  `{"text": "late"}`,
			send: func(t *testing.T, text string) (string, error) {
				return "", chat.ErrClosed
			},
			wantStatus: 503,
			wantBody:   `{"error": "Session is closed"}`,
		},
		{
			name: "Error",
			req:  `{"text": "Hello"}`,
			send: func(t *testing.T, text string) (string, error) {
				return "", errors.New("something went wrong")
			},
			wantStatus: 500,
			wantBody:   `{"error": "Could not send message"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &API{
				Logger: slogt.New(t),
				Session: &testsession{
					T:    t,
					send: tt.send,
				},
				Val: validator.New(),
			}

			srv := httptest.NewServer(api)
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/messages", "application/json", strings.NewReader(tt.req))
			if err != nil {
				t.Fatalf("Could not send request: %v", err)
			}
			defer resp.Body.Close()

			checkStatus(t, resp.StatusCode, tt.wantStatus)
			checkBody(t, resp, tt.wantBody)
		})
	}
}

func TestAPI_analyzeMessage(t *testing.T) {
	const id = "6f1c2a9e-3b7d-4c1e-9a2f-8d4b5e6c7a10"
	enriched := chat.Message{
		ID:         id,
		Sender:     chat.SenderUser,
		UserID:     "u1",
		Text:       "Hello",
		CreatedAt:  t0,
		TokenCount: 1,
		Sentiment:  &chat.Sentiment{Score: 0.5, Magnitude: 0.5},
	}

	tests := []struct {
		name       string
		id         string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "OK",
			wantStatus: 200,
			wantBody: `{
				"id": "6f1c2a9e-3b7d-4c1e-9a2f-8d4b5e6c7a10",
				"sender": "user",
				"user_id": "u1",
				"text": "Hello",
				"created_at": "2024-01-01T00:00:00Z",
				"token_count": 1,
				"sentiment": {"score": 0.5, "magnitude": 0.5},
				"pending": false
			}`,
		},
		{
			name:       "InvalidID",
			id:         "1",
			wantStatus: 400,
			wantBody: `{
				"errors": [
					{"field": "messageID", "message": "must be a UUID"}
				]
			}`,
		},
		{name: "NotFound", err: chat.ErrNotFound, wantStatus: 404, wantBody: `{"error": "Message not found"}`},
		{name: "Unconfirmed", err: chat.ErrUnconfirmed, wantStatus: 409, wantBody: `{"error": "Message is not confirmed yet"}`},
		{name: "Analyzing", err: chat.ErrAnalyzing, wantStatus: 409, wantBody: `{"error": "Message is already being analyzed"}`},
		{name: "AlreadyEnriched", err: chat.ErrAlreadyEnriched, wantStatus: 409, wantBody: `{"error": "Message is already analyzed"}`},
		{name: "AnalysisFailed", err: fmt.Errorf("%w: no results", chat.ErrAnalysis), wantStatus: 502, wantBody: `{"error": "Could not analyze message"}`},
		{name: "StoreFailed", err: fmt.Errorf("%w: timeout", chat.ErrStoreWrite), wantStatus: 502, wantBody: `{"error": "Could not analyze message"}`},
		{name: "Closed", err: chat.ErrClosed, wantStatus: 503, wantBody: `{"error": "Session is closed"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &API{
				Logger: slogt.New(t),
				Session: &testsession{
					T: t,
					analyze: func(t *testing.T, got string) error {
						if got != id {
							t.Errorf("Got message ID %q, want %q", got, id)
						}
						return tt.err
					},
					snapshot: func(t *testing.T) ledger.State {
						return loadedState([]chat.Message{enriched})
					},
				},
				Val: validator.New(),
			}

			srv := httptest.NewServer(api)
			defer srv.Close()

			path := id
			if tt.id != "" {
				path = tt.id
			}
			resp, err := http.Post(srv.URL+"/messages/"+path+"/analysis", "application/json", nil)
			if err != nil {
				t.Fatalf("Could not send request: %v", err)
			}
			defer resp.Body.Close()

			checkStatus(t, resp.StatusCode, tt.wantStatus)
			checkBody(t, resp, tt.wantBody)
		})
	}
}

func TestAPI_loadOlderAndReload(t *testing.T) {
	var older, retried int
	api := &API{
		Logger: slogt.New(t),
		Session: &testsession{
			T:         t,
			loadOlder: func(t *testing.T) { older++ },
			retry:     func(t *testing.T) { retried++ },
		},
		Val: validator.New(),
	}

	srv := httptest.NewServer(api)
	defer srv.Close()

	for _, path := range []string{"/messages/older", "/messages/reload"} {
		resp, err := http.Post(srv.URL+path, "application/json", nil)
		if err != nil {
			t.Fatalf("Could not send request: %v", err)
		}
		checkStatus(t, resp.StatusCode, 202)
		resp.Body.Close()
	}
	if older != 1 || retried != 1 {
		t.Errorf("Got LoadOlder=%d Retry=%d, want 1 and 1", older, retried)
	}
}

func TestAPI_listNotices(t *testing.T) {
	api := &API{
		Logger: slogt.New(t),
		Session: &testsession{
			T: t,
			notices: func(t *testing.T) []ledger.Notice {
				return []ledger.Notice{
					{Kind: ledger.NoticeBlocked, Message: "Message contains banned terms"},
					{Kind: ledger.NoticeSendFailed, Message: "Could not send message", Err: errors.New("timeout")},
				}
			},
		},
		Val: validator.New(),
	}

	srv := httptest.NewServer(api)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/notices")
	if err != nil {
		t.Fatalf("Could not send request: %v", err)
	}
	defer resp.Body.Close()

	checkStatus(t, resp.StatusCode, 200)
	checkBody(t, resp, `{
		"notices": [
			{"kind": "blocked", "message": "Message contains banned terms"},
			{"kind": "send_failed", "message": "Could not send message", "error": "timeout"}
		]
	}`)
}

func TestAPI_metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Send(nil)

	api := &API{
		Logger:   slogt.New(t),
		Session:  &testsession{T: t},
		Val:      validator.New(),
		Registry: reg,
	}

	srv := httptest.NewServer(api)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("Could not send request: %v", err)
	}
	defer resp.Body.Close()

	checkStatus(t, resp.StatusCode, 200)
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Could not read body: %v", err)
	}
	if want := `chat_sends_total{result="ok"} 1`; !strings.Contains(string(b), want) {
		t.Errorf("Metrics do not contain %s\n%s", want, b)
	}
}

type testsession struct {
	T         *testing.T
	snapshot  func(t *testing.T) ledger.State
	notices   func(t *testing.T) []ledger.Notice
	send      func(t *testing.T, text string) (string, error)
	loadOlder func(t *testing.T)
	retry     func(t *testing.T)
	analyze   func(t *testing.T, id string) error
}

func (s *testsession) Snapshot() ledger.State {
	return s.snapshot(s.T)
}

func (s *testsession) Notices() []ledger.Notice {
	return s.notices(s.T)
}

func (s *testsession) Send(text string) (string, error) {
	return s.send(s.T, text)
}

func (s *testsession) LoadOlder() {
	s.loadOlder(s.T)
}

func (s *testsession) Retry() {
	s.retry(s.T)
}

func (s *testsession) Analyze(_ context.Context, id string) error {
	return s.analyze(s.T, id)
}

func checkStatus(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("Got HTTP status %d, want %d", got, want)
	}
}

func checkBody(t *testing.T, resp *http.Response, want string) {
	t.Helper()
	gotBody := normalizeJSON(t, resp.Body)
	wantBody := normalizeJSON(t, bytes.NewReader([]byte(want)))
	if gotBody != wantBody {
		t.Errorf("Body does not match\nGot\n  %s\n\nWant\n  %s", gotBody, wantBody)
	}
}

func normalizeJSON(t *testing.T, r io.Reader) string {
	t.Helper()
	var v any
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		t.Fatalf("Could not decode JSON: %v", err)
	}
	b, err := json.MarshalIndent(v, "  ", "  ")
	if err != nil {
		t.Fatalf("Could not indent JSON: %v", err)
	}
	return strings.TrimSpace(string(b))
}
