package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"

	"github.com/deepgram/agentdeck/internal/connections"
	"github.com/deepgram/agentdeck/internal/relay"
	"github.com/deepgram/agentdeck/internal/services/chat"
	"github.com/deepgram/agentdeck/internal/upstream"
)

var upgrader = websocket.Upgrader{
	// the API is open to any origin, see middleware.CORS
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleChatWebSocket runs one chat exchange over a WebSocket. The client
// sends {"message": "..."} as its first frame; every event follows as a text
// frame carrying the same "data: ..." line the SSE endpoint writes, then the
// server closes the connection.
func HandleChatWebSocket(chatService chat.Service, manager *connections.Manager, w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !chatService.HasAgent(id) {
		agentNotFound(w)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	manager.AddConnection(conn)
	defer manager.RemoveConnection(conn)

	log := hlog.FromRequest(r).With().Str("agent_id", id).Logger()
	timeouts := manager.GetTimeouts()
	sink := relay.NewWebSocketSink(conn, timeouts.WriteWait)

	conn.SetReadLimit(MaxBodyBytes)
	_ = conn.SetReadDeadline(time.Now().Add(timeouts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(timeouts.PongWait))
	})

	closeWith := func(code int, text string) {
		msg := websocket.FormatCloseMessage(code, text)
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeouts.WriteWait))
	}

	var req chatRequest
	if err := conn.ReadJSON(&req); err != nil {
		log.Warn().Err(err).Msg("Client sent malformed WebSocket chat request")
		_ = sink.Send(relay.ErrorEvent(upstream.KindBadRequest, "Invalid JSON"))
		closeWith(websocket.CloseUnsupportedData, "invalid request")
		return
	}
	if err := validate.Struct(req); err != nil {
		_ = sink.Send(relay.ErrorEvent(upstream.KindBadRequest, validationMessage(err)))
		closeWith(websocket.ClosePolicyViolation, "invalid request")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// the reader handles pong and close frames; a read error means the
	// client is gone
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(timeouts.PingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeouts.WriteWait)); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	log.Info().Int("message_len", len(req.Message)).Msg("Received WebSocket chat request")

	res, err := chatService.StreamChat(ctx, id, req.Message, "ws", func() (relay.Sink, error) {
		return sink, nil
	})
	if err != nil {
		_ = sink.Send(relay.ErrorEventFor(err))
		closeWith(websocket.CloseNormalClosure, "")
		return
	}

	log.Debug().
		Str("exchange_id", res.ID).
		Str("terminated_by", string(res.TerminatedBy)).
		Bool("committed", res.Committed).
		Msg("WebSocket chat finished")

	if res.TerminatedBy != relay.TerminatedByCancel && res.TerminatedBy != relay.TerminatedByDownstream {
		closeWith(websocket.CloseNormalClosure, "")
	}
}
