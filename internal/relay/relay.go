package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/deepgram/agentdeck/internal/upstream"
	"github.com/deepgram/agentdeck/pkg/logger"
)

const readBufferSize = 32 << 10

// Sink receives events in the order they were parsed. A Send error means the
// downstream consumer is gone.
type Sink interface {
	Send(Event) error
}

// CommitFunc stores the assembled assistant text. It is called at most once
// per exchange.
type CommitFunc func(ctx context.Context, text string) error

// Termination records how an exchange ended.
type Termination string

const (
	TerminatedByDone       Termination = "done"
	TerminatedByEOF        Termination = "eof"
	TerminatedByError      Termination = "error"
	TerminatedByCancel     Termination = "cancelled"
	TerminatedByDownstream Termination = "downstream_closed"
)

// Result summarises one relayed exchange.
type Result struct {
	ID           string
	Text         string
	Committed    bool
	Deltas       int
	Bytes        int64
	FirstDelta   time.Duration
	TerminatedBy Termination
	Kind         upstream.Kind
	Err          error
}

// exchange is the state of a single pending relay.
type exchange struct {
	ctx    context.Context
	sink   Sink
	commit CommitFunc
	log    zerolog.Logger

	framer    Framer
	text      strings.Builder
	committed bool
	finished  bool
	started   time.Time
	result    Result
}

// Run copies an upstream event stream to sink, accumulating the delta text.
// The text is committed exactly once: when "[DONE]" arrives, or at EOF if
// any text was received. Transport failures and cancellations commit
// nothing. The caller owns body and must close it.
func Run(ctx context.Context, agentID string, body io.Reader, sink Sink, commit CommitFunc) Result {
	x := &exchange{
		ctx:     ctx,
		sink:    sink,
		commit:  commit,
		started: time.Now(),
		result:  Result{ID: uuid.NewString()},
	}
	x.log = logger.For(logger.RELAY).With().Str("agent_id", agentID).Str("exchange_id", x.result.ID).Logger()
	x.log.Debug().Msg("Relay started")

	x.pump(body)

	x.result.Text = x.text.String()
	x.result.Committed = x.committed
	x.report()
	return x.result
}

func (x *exchange) pump(body io.Reader) {
	buf := make([]byte, readBufferSize)
	for !x.finished {
		n, err := body.Read(buf)
		if n > 0 {
			x.result.Bytes += int64(n)
			lines, ferr := x.framer.Push(buf[:n])
			for _, line := range lines {
				if x.handleLine(line); x.finished {
					return
				}
			}
			if ferr != nil {
				x.fail(&upstream.Error{Kind: upstream.KindProtocol, Message: ferr.Error(), Err: ferr})
				return
			}
		}

		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF):
			x.endOfStream()
			return
		case x.ctx.Err() != nil || errors.Is(err, context.Canceled):
			x.cancelled(err)
			return
		default:
			x.fail(err)
			return
		}
	}
}

func (x *exchange) handleLine(line string) {
	if x.ctx.Err() != nil {
		x.cancelled(x.ctx.Err())
		return
	}

	payload, done, ok := parseLine(line)
	if !ok {
		return
	}
	if done {
		x.finish(TerminatedByDone, Event{Type: EventDone, Line: line})
		return
	}
	if msg, isErr := upstreamError(payload); isErr {
		x.fail(&upstream.Error{Kind: upstream.KindUpstream, Message: msg})
		return
	}

	text := deltaText(payload)
	if text != "" {
		if x.result.Deltas == 0 {
			x.result.FirstDelta = time.Since(x.started)
		}
		x.result.Deltas++
		x.text.WriteString(text)
	}
	x.send(DeltaEvent(line, text))
}

// endOfStream handles a body that ended without "[DONE]". A final line with
// no trailing newline still counts.
func (x *exchange) endOfStream() {
	if line, ok := x.framer.Flush(); ok {
		if x.handleLine(line); x.finished {
			return
		}
	}
	if x.ctx.Err() != nil {
		x.cancelled(x.ctx.Err())
		return
	}
	if x.text.Len() == 0 {
		x.fail(&upstream.Error{Kind: upstream.KindProtocol, Message: "upstream closed the stream without sending a response"})
		return
	}
	x.finish(TerminatedByEOF, DoneEvent())
}

// finish commits the accumulated text and then forwards the terminal event.
func (x *exchange) finish(by Termination, done Event) {
	x.finished = true
	x.result.TerminatedBy = by

	if !x.committed {
		if err := x.commit(x.ctx, x.text.String()); err != nil {
			x.result.TerminatedBy = TerminatedByError
			x.result.Kind = KindPersistence
			x.result.Err = err
			_ = x.sink.Send(ErrorEvent(KindPersistence, "Failed to save response"))
			return
		}
		x.committed = true
	}

	if err := x.sink.Send(done); err != nil {
		x.log.Debug().Err(err).Msg("Downstream closed before the final event")
	}
}

// fail sends a single error event. Nothing is committed.
func (x *exchange) fail(err error) {
	x.finished = true
	ev := ErrorEventFor(err)
	x.result.TerminatedBy = TerminatedByError
	x.result.Kind = ev.Kind
	x.result.Err = err
	if sendErr := x.sink.Send(ev); sendErr != nil {
		x.log.Debug().Err(sendErr).Msg("Downstream closed before the error event")
	}
}

func (x *exchange) cancelled(err error) {
	x.finished = true
	x.result.TerminatedBy = TerminatedByCancel
	x.result.Err = err
}

func (x *exchange) send(ev Event) {
	if err := x.sink.Send(ev); err != nil {
		x.finished = true
		x.result.TerminatedBy = TerminatedByDownstream
		x.result.Err = err
	}
}

func (x *exchange) report() {
	r := x.result
	var ev *zerolog.Event
	if r.TerminatedBy == TerminatedByError {
		ev = x.log.Error().Err(r.Err).Str("error_kind", string(r.Kind))
	} else {
		ev = x.log.Info()
	}
	ev.Str("terminated_by", string(r.TerminatedBy)).
		Bool("committed", r.Committed).
		Int("delta_count", r.Deltas).
		Int64("bytes", r.Bytes).
		Dur("first_delta", r.FirstDelta).
		Dur("elapsed", time.Since(x.started)).
		Msg("Relay finished")
}

