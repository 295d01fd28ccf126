package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/deepgram/agentdeck/internal/upstream"
)

const (
	dataPrefix = "data: "
	doneToken  = "[DONE]"

	// DoneLine terminates every successful stream sent downstream.
	DoneLine = dataPrefix + doneToken
)

// KindPersistence marks a stream whose response could not be saved.
const KindPersistence upstream.Kind = "persistence_error"

type EventType int

const (
	EventDelta EventType = iota
	EventDone
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventDelta:
		return "delta"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one unit forwarded downstream. Line holds the exact "data: ..."
// text a sink writes.
type Event struct {
	Type    EventType
	Line    string
	Text    string
	Kind    upstream.Kind
	Message string
}

type errorPayload struct {
	Error string        `json:"error"`
	Code  upstream.Kind `json:"code,omitempty"`
}

// DeltaEvent wraps a raw upstream line and the text extracted from it.
func DeltaEvent(line, text string) Event {
	return Event{Type: EventDelta, Line: line, Text: text}
}

func DoneEvent() Event {
	return Event{Type: EventDone, Line: DoneLine}
}

// ErrorEvent builds the terminal error event for a failed exchange.
func ErrorEvent(kind upstream.Kind, message string) Event {
	payload, _ := json.Marshal(errorPayload{Error: message, Code: kind})
	return Event{Type: EventError, Line: dataPrefix + string(payload), Kind: kind, Message: message}
}

// ErrorEventFor classifies err into an error event. Errors without a kind
// are reported as unreachable: they come from the transport.
func ErrorEventFor(err error) Event {
	kind := upstream.KindOf(err)
	if kind == "" {
		kind = upstream.KindUnreachable
		if errors.Is(err, context.DeadlineExceeded) {
			kind = upstream.KindTimeout
		}
	}
	return ErrorEvent(kind, err.Error())
}

// parseLine classifies one framed line. ok is false for anything that is not
// a data line: comments, event names, keep-alive blanks.
func parseLine(line string) (payload string, done bool, ok bool) {
	if !strings.HasPrefix(line, dataPrefix) {
		return "", false, false
	}
	payload = line[len(dataPrefix):]
	return payload, strings.TrimSpace(payload) == doneToken, true
}

// deltaText pulls choices[0].delta.content out of a chunk. Malformed JSON
// and chunks without content yield "".
func deltaText(payload string) string {
	var chunk openai.ChatCompletionStreamResponse
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return ""
	}
	if len(chunk.Choices) == 0 {
		return ""
	}
	return chunk.Choices[0].Delta.Content
}

// upstreamError returns the message of an error value sent in place of a
// chunk, if any. Both {"error":{"message":...}} and {"error":"..."} count.
func upstreamError(payload string) (string, bool) {
	msg, ok := upstream.ErrorIn([]byte(payload))
	if !ok {
		return "", false
	}
	if msg == "" || msg == "{}" || msg == `""` {
		return "upstream reported an error", true
	}
	return msg, true
}
