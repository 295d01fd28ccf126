package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/hlog"

	"github.com/deepgram/agentdeck/internal/conversation"
	"github.com/deepgram/agentdeck/internal/relay"
	"github.com/deepgram/agentdeck/internal/services/chat"
	"github.com/deepgram/agentdeck/internal/upstream"
	"github.com/deepgram/agentdeck/pkg/httpext"
)

type conversationResponse struct {
	Messages []conversation.Turn `json:"messages"`
}

func agentNotFound(w http.ResponseWriter) {
	httpext.JsonKindError(w, string(upstream.KindNotFound), "Agent not found", http.StatusNotFound)
}

// HandleChat sends one message and answers with the complete reply.
func HandleChat(chatService chat.Service, w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !chatService.HasAgent(id) {
		agentNotFound(w)
		return
	}

	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}

	hlog.FromRequest(r).Info().Str("agent_id", id).Int("message_len", len(req.Message)).Msg("Received chat request")

	out, err := chatService.Chat(r.Context(), id, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpext.WriteJSON(w, http.StatusOK, out)
}

// HandleChatStream relays the reply as server-sent events.
func HandleChatStream(chatService chat.Service, w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !chatService.HasAgent(id) {
		agentNotFound(w)
		return
	}

	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}

	hlog.FromRequest(r).Info().Str("agent_id", id).Int("message_len", len(req.Message)).Msg("Received streaming chat request")

	res, err := chatService.StreamChat(r.Context(), id, req.Message, "sse", func() (relay.Sink, error) {
		return relay.NewSSESink(w)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	hlog.FromRequest(r).Debug().
		Str("agent_id", id).
		Str("exchange_id", res.ID).
		Str("terminated_by", string(res.TerminatedBy)).
		Bool("committed", res.Committed).
		Msg("Streaming chat finished")
}

// HandleGetConversation returns an agent's history. Unknown ids have an
// empty history.
func HandleGetConversation(chatService chat.Service, w http.ResponseWriter, r *http.Request) {
	turns, err := chatService.Conversation(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpext.WriteJSON(w, http.StatusOK, conversationResponse{Messages: turns})
}

// HandleClearConversation drops an agent's history.
func HandleClearConversation(chatService chat.Service, w http.ResponseWriter, r *http.Request) {
	if err := chatService.Clear(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	httpext.WriteJSON(w, http.StatusOK, okResponse{OK: true})
}
