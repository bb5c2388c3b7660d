package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/room"
)

// WSHandler upgrades connections and maps inbound intents 1:1 onto
// coordinator operations. Room broadcasts reach the client through its
// per-session subscriptions; requester-only results (resume, bonus status,
// errors) are written directly to this connection.
type WSHandler struct {
	coord    *app.Coordinator
	rooms    *room.Channel
	presence *app.Presence
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewWSHandler(coord *app.Coordinator, rooms *room.Channel, presence *app.Presence, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		coord:    coord,
		rooms:    rooms,
		presence: presence,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.With().Str("component", "ws").Logger(),
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type intentPayload struct {
	SessionID string `json:"sessionId"`
	Value     string `json:"value,omitempty"`
}

// wsConn is the per-connection state: the outbound queue and the set of
// active room subscriptions.
type wsConn struct {
	accountID string
	send      chan domain.Event
	closing   chan struct{}
	pumps     sync.WaitGroup

	mu   sync.Mutex
	subs map[string]func()
}

func (c *wsConn) reply(ev domain.Event) {
	select {
	case c.send <- ev:
	case <-c.closing:
	}
}

// ServeWS runs a connection until the client goes away. The account identity
// arrives pre-authenticated in the accountId query parameter; credential
// checks live upstream of this service.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("accountId")
	if accountID == "" {
		http.Error(w, "missing accountId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	c := &wsConn{
		accountID: accountID,
		send:      make(chan domain.Event, 16),
		closing:   make(chan struct{}),
		subs:      make(map[string]func()),
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for ev := range c.send {
			if err := conn.WriteJSON(ev); err != nil {
				h.log.Debug().Err(err).Str("account", accountID).Msg("ws write error")
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.dispatch(r.Context(), c, inbound)
	}

	// Roster membership survives the disconnect; the presence tracker
	// ages it out if the client never comes back.
	close(c.closing)
	c.mu.Lock()
	for _, cancel := range c.subs {
		cancel()
	}
	c.mu.Unlock()
	c.pumps.Wait()
	close(c.send)
	<-writerDone
}

func (h *WSHandler) dispatch(ctx context.Context, c *wsConn, inbound inboundMessage) {
	var intent intentPayload
	if err := json.Unmarshal(inbound.Payload, &intent); err != nil {
		c.reply(domain.ErrorEvent("invalid payload"))
		return
	}
	if intent.SessionID == "" {
		c.reply(domain.ErrorEvent("missing sessionId"))
		return
	}

	switch inbound.Type {
	case "join":
		result, err := h.coord.Join(ctx, intent.SessionID, c.accountID)
		if err != nil {
			c.reply(domain.ErrorEvent(err.Error()))
			return
		}
		h.subscribe(c, intent.SessionID)
		h.presence.Touch(intent.SessionID, c.accountID)
		c.reply(domain.Event{Type: domain.EventJoined, Payload: result.Session})
		if result.Resume != nil {
			c.reply(domain.Event{Type: domain.EventResumed, Payload: result.Resume})
		}

	case "leave":
		if err := h.coord.Leave(ctx, intent.SessionID, c.accountID); err != nil {
			c.reply(domain.ErrorEvent(err.Error()))
			return
		}
		h.unsubscribe(c, intent.SessionID)
		h.presence.Forget(intent.SessionID, c.accountID)

	case "ping":
		h.presence.Touch(intent.SessionID, c.accountID)

	case "start":
		h.presence.Touch(intent.SessionID, c.accountID)
		if err := h.coord.Start(ctx, intent.SessionID, c.accountID); err != nil {
			c.reply(domain.ErrorEvent(err.Error()))
		}

	case "start_question":
		h.presence.Touch(intent.SessionID, c.accountID)
		if err := h.coord.StartQuestion(ctx, intent.SessionID, c.accountID); err != nil {
			c.reply(domain.ErrorEvent(err.Error()))
		}

	case "answer":
		h.presence.Touch(intent.SessionID, c.accountID)
		h.coord.SubmitAnswer(ctx, intent.SessionID, c.accountID, intent.Value)

	case "next_question":
		h.presence.Touch(intent.SessionID, c.accountID)
		if err := h.coord.NextQuestion(ctx, intent.SessionID, c.accountID); err != nil {
			c.reply(domain.ErrorEvent(err.Error()))
		}

	case "end_quiz":
		h.presence.Touch(intent.SessionID, c.accountID)
		if err := h.coord.EndQuiz(ctx, intent.SessionID, c.accountID); err != nil {
			c.reply(domain.ErrorEvent(err.Error()))
		}

	case "activate_bonus":
		h.presence.Touch(intent.SessionID, c.accountID)
		status, err := h.coord.ActivateBonus(ctx, intent.SessionID, c.accountID)
		if err != nil {
			c.reply(domain.ErrorEvent(err.Error()))
			return
		}
		c.reply(domain.Event{Type: domain.EventBonusStatus, Payload: status})

	default:
		c.reply(domain.ErrorEvent("unsupported message type"))
	}
}

// subscribe attaches the connection to a session's room channel once and
// pumps its events into the outbound queue.
func (h *WSHandler) subscribe(c *wsConn, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[sessionID]; ok {
		return
	}
	events, cancel := h.rooms.Subscribe(sessionID)
	c.subs[sessionID] = cancel

	c.pumps.Add(1)
	go func() {
		defer c.pumps.Done()
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				c.reply(ev)
			case <-c.closing:
				return
			}
		}
	}()
}

func (h *WSHandler) unsubscribe(c *wsConn, sessionID string) {
	c.mu.Lock()
	cancel, ok := c.subs[sessionID]
	if ok {
		delete(c.subs, sessionID)
	}
	c.mu.Unlock()
	if ok {
		cancel()
	}
}
