package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"quiz-attempt-engine/internal/app"
	"quiz-attempt-engine/internal/domain"
	"quiz-attempt-engine/internal/session"
	"github.com/gorilla/websocket"
)

type WSHandler struct {
	service  *app.Service
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.Service) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	Index int `json:"index"`
}

type navigatePayload struct {
	Delta *int `json:"delta,omitempty"`
	Index *int `json:"index,omitempty"`
}

type resumeReviewPayload struct {
	JumpTo *int `json:"jumpTo,omitempty"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

var (
	errInvalidPayload     = errors.New("invalid payload")
	errUnsupportedMessage = errors.New("unsupported message type")
)

func startParamsFromQuery(r *http.Request) (session.StartParams, bool) {
	query := r.URL.Query()
	if query.Get("quick") == "true" {
		count, _ := strconv.Atoi(query.Get("count"))
		minutes, _ := strconv.Atoi(query.Get("minutes"))
		return session.StartParams{Quick: &domain.QuickQuizParams{
			Grade:            query.Get("grade"),
			Medium:           query.Get("medium"),
			Subject:          query.Get("subject"),
			QuestionCount:    count,
			TimeLimitMinutes: minutes,
		}}, true
	}
	quizID := query.Get("quizId")
	if quizID == "" {
		return session.StartParams{}, false
	}
	return session.StartParams{
		QuizID: quizID,
		Resume: query.Get("resume") == "true",
	}, true
}

// ServeWS upgrades the request and binds the connection to one attempt
// session. Closing the connection saves progress and tears the session down.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	params, ok := startParamsFromQuery(r)
	if !ok {
		http.Error(w, "missing quizId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sess, err := h.service.StartSession(r.Context(), params)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	sessionKey := params.QuizID
	if params.Quick != nil {
		sessionKey = "quick"
	}
	defer h.service.EndSession(r.Context(), sessionKey)

	events, cancel := sess.Subscribe()
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(eventsDone)
		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: string(event.Type), Payload: event}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if err := h.dispatch(r, sess, send, inbound); err != nil {
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
		}
	}

	// Disconnect mid-attempt: persist progress before dropping the session.
	if err := sess.SaveNow(r.Context()); err != nil {
		log.Printf("save on disconnect failed: %v", err)
	}

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
}

func (h *WSHandler) dispatch(r *http.Request, sess *session.Session, send chan<- outboundMessage[any], inbound inboundMessage) error {
	switch inbound.Type {
	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errInvalidPayload
		}
		return sess.SelectAnswer(payload.Index)
	case "toggleAnswer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errInvalidPayload
		}
		return sess.ToggleMultiAnswer(payload.Index)
	case "navigate":
		var payload navigatePayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errInvalidPayload
		}
		if payload.Index != nil {
			return sess.NavigateTo(*payload.Index)
		}
		if payload.Delta != nil {
			return sess.Navigate(*payload.Delta)
		}
		return errInvalidPayload
	case "flag":
		return sess.ToggleFlag()
	case "review":
		if err := sess.RequestReview(); err != nil {
			return err
		}
		send <- outboundMessage[any]{Type: "reviewSummary", Payload: sess.ReviewSummary()}
		return nil
	case "resumeReview":
		var payload resumeReviewPayload
		if len(inbound.Payload) > 0 {
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				return errInvalidPayload
			}
		}
		return sess.ResumeFromReview(payload.JumpTo)
	case "submit":
		return sess.ConfirmSubmit(r.Context())
	case "pause":
		sess.TogglePause()
		return nil
	case "save":
		return sess.SaveNow(r.Context())
	case "online":
		// The browser regained connectivity; drain queued submissions.
		return h.service.FlushPending(r.Context())
	default:
		return errUnsupportedMessage
	}
}
