// Package api exposes a local HTTP control surface over a chat session.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/GetStream/stream-chat-sync/api/validator"
	"github.com/GetStream/stream-chat-sync/chat"
	"github.com/GetStream/stream-chat-sync/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// A Session is the conversation the API controls.
type Session interface {
	Snapshot() ledger.State
	Notices() []ledger.Notice
	Send(text string) (string, error)
	LoadOlder()
	Retry()
	Analyze(ctx context.Context, id string) error
}

// API provides the REST endpoints for the application.
type API struct {
	Logger  *slog.Logger
	Session Session
	Val     *validator.Validator
	// Registry, if set, is served on /metrics.
	Registry *prometheus.Registry

	once sync.Once
	mux  *http.ServeMux
}

// maxTextLength bounds the size of a single outgoing message.
const maxTextLength = 4000

func (a *API) setupRoutes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /messages", a.listMessages)
	mux.HandleFunc("POST /messages", a.sendMessage)
	mux.HandleFunc("POST /messages/older", a.loadOlder)
	mux.HandleFunc("POST /messages/reload", a.reload)
	mux.HandleFunc("POST /messages/{messageID}/analysis", a.analyzeMessage)
	mux.HandleFunc("GET /notices", a.listNotices)
	if a.Registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
	}

	a.mux = mux
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.once.Do(a.setupRoutes)
	a.Logger.Debug("Request received", "method", r.Method, "path", r.URL.Path)
	a.mux.ServeHTTP(w, r)
}

func (a *API) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.Logger.Error("Could not encode JSON body", "error", err.Error())
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, err error, msg string) {
	type response struct {
		Error string `json:"error"`
	}
	if status >= http.StatusInternalServerError {
		a.Logger.Error("Error", "error", err.Error())
	} else {
		a.Logger.Info("Request rejected", "error", err.Error())
	}
	a.respond(w, status, response{Error: msg})
}

func (a *API) validateBody(w http.ResponseWriter, s any) bool {
	errs := a.Val.ValidateStruct(s)
	type response struct {
		Errors []validator.ValidationError `json:"errors"`
	}

	if len(errs) > 0 {
		a.respond(w, http.StatusBadRequest, &response{
			Errors: errs,
		})
		return false
	}
	return true
}

func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	st := a.Session.Snapshot()
	res := stateResponse{
		Messages:             make([]message, 0, len(st.Messages)),
		HasMoreOlder:         st.HasMoreOlder,
		IsResponderComposing: st.IsResponderComposing,
		IsInitialLoading:     st.IsInitialLoading,
		IsLoadingOlder:       st.IsLoadingOlder,
	}
	for _, m := range st.Messages {
		res.Messages = append(res.Messages, message{
			Message: m,
			Pending: st.IsPending(m.ID),
		})
	}
	a.respond(w, http.StatusOK, res)
}

func (a *API) listNotices(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Notices []notice `json:"notices"`
	}
	ns := a.Session.Notices()
	res := response{Notices: make([]notice, 0, len(ns))}
	for _, n := range ns {
		res.Notices = append(res.Notices, noticeOf(n))
	}
	a.respond(w, http.StatusOK, res)
}

func (a *API) sendMessage(w http.ResponseWriter, r *http.Request) {
	type (
		request struct {
			Text string `json:"text" validate:"required,notblank,max=4000"`
		}
		response struct {
			Nonce string `json:"nonce"`
		}
	)

	var body request
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4*maxTextLength)).Decode(&body)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return
	}

	if valid := a.validateBody(w, &body); !valid {
		return
	}

	nonce, err := a.Session.Send(body.Text)
	switch {
	case errors.Is(err, chat.ErrBlocked):
		a.respondError(w, http.StatusUnprocessableEntity, err, "Message contains banned terms")
		return
	case errors.Is(err, chat.ErrClosed):
		a.respondError(w, http.StatusServiceUnavailable, err, "Session is closed")
		return
	case err != nil:
		a.respondError(w, http.StatusInternalServerError, err, "Could not send message")
		return
	}

	a.respond(w, http.StatusAccepted, response{Nonce: nonce})
}

func (a *API) loadOlder(w http.ResponseWriter, r *http.Request) {
	a.Session.LoadOlder()
	a.respond(w, http.StatusAccepted, struct{}{})
}

func (a *API) reload(w http.ResponseWriter, r *http.Request) {
	a.Session.Retry()
	a.respond(w, http.StatusAccepted, struct{}{})
}

func (a *API) analyzeMessage(w http.ResponseWriter, r *http.Request) {
	messageID := r.PathValue("messageID")
	if errs := a.Val.Validate(messageID, "uuid"); len(errs) > 0 {
		type response struct {
			Errors []validator.ValidationError `json:"errors"`
		}
		for i := range errs {
			errs[i].Field = "messageID"
		}
		a.respond(w, http.StatusBadRequest, response{Errors: errs})
		return
	}

	err := a.Session.Analyze(r.Context(), messageID)
	switch {
	case err == nil:
		st := a.Session.Snapshot()
		if m, ok := st.Message(messageID); ok {
			a.respond(w, http.StatusOK, message{Message: m})
			return
		}
		a.respond(w, http.StatusOK, struct{}{})
	case errors.Is(err, chat.ErrNotFound):
		a.respondError(w, http.StatusNotFound, err, "Message not found")
	case errors.Is(err, chat.ErrUnconfirmed):
		a.respondError(w, http.StatusConflict, err, "Message is not confirmed yet")
	case errors.Is(err, chat.ErrAnalyzing):
		a.respondError(w, http.StatusConflict, err, "Message is already being analyzed")
	case errors.Is(err, chat.ErrAlreadyEnriched):
		a.respondError(w, http.StatusConflict, err, "Message is already analyzed")
	case errors.Is(err, chat.ErrClosed):
		a.respondError(w, http.StatusServiceUnavailable, err, "Session is closed")
	case errors.Is(err, chat.ErrAnalysis), errors.Is(err, chat.ErrStoreWrite):
		a.respondError(w, http.StatusBadGateway, err, "Could not analyze message")
	default:
		a.respondError(w, http.StatusInternalServerError, err, "Could not analyze message")
	}
}
