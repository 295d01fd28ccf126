package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepgram/agentdeck/internal/upstream"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	failAt int // 1-based Send call from which sends fail; 0 never fails
}

func (s *recordingSink) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt > 0 && len(s.events) >= s.failAt-1 {
		return errors.New("broken pipe")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Line
	}
	return out
}

func (s *recordingSink) last() Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

type recordingCommit struct {
	calls []string
	err   error
}

func (c *recordingCommit) fn(_ context.Context, text string) error {
	c.calls = append(c.calls, text)
	return c.err
}

// chunkedReader returns its chunks one Read at a time, then err.
type chunkedReader struct {
	chunks [][]byte
	err    error
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n < len(r.chunks[0]) {
		r.chunks[0] = r.chunks[0][n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func chunks(parts ...string) *chunkedReader {
	r := &chunkedReader{}
	for _, p := range parts {
		r.chunks = append(r.chunks, []byte(p))
	}
	return r
}

const (
	helLine = `data: {"choices":[{"delta":{"content":"Hel"}}]}`
	loLine  = `data: {"choices":[{"delta":{"content":"lo"}}]}`
)

func TestRunScenarioHello(t *testing.T) {
	stream := helLine + "\n\n" + loLine + "\n\n" + "data: [DONE]\n\n"
	sink := &recordingSink{}
	commit := &recordingCommit{}

	res := Run(context.Background(), "a1", strings.NewReader(stream), sink, commit.fn)

	assert.Equal(t, []string{helLine, loLine, "data: [DONE]"}, sink.lines())
	assert.Equal(t, []string{"Hello"}, commit.calls)
	assert.True(t, res.Committed)
	assert.Equal(t, "Hello", res.Text)
	assert.Equal(t, TerminatedByDone, res.TerminatedBy)
	assert.Equal(t, 2, res.Deltas)
	assert.Equal(t, int64(len(stream)), res.Bytes)
	assert.Equal(t, EventDone, sink.last().Type)
}

func TestRunIsChunkBoundaryInvariant(t *testing.T) {
	stream := ": keep-alive\n\n" +
		helLine + "\r\n\r\n" +
		`data: {"choices":[{"delta":{"role":"assistant"}}]}` + "\n\n" +
		loLine + "\n\n" +
		`data: {"choices":[{"delta":{"content":" wörld"}}]}` + "\n\n" +
		"data: [DONE]\n\n"

	reference := &recordingSink{}
	refCommit := &recordingCommit{}
	Run(context.Background(), "a1", strings.NewReader(stream), reference, refCommit.fn)
	require.Equal(t, []string{"Hello wörld"}, refCommit.calls)

	for split := 1; split < len(stream); split++ {
		sink := &recordingSink{}
		commit := &recordingCommit{}
		res := Run(context.Background(), "a1", chunks(stream[:split], stream[split:]), sink, commit.fn)

		require.Equal(t, reference.lines(), sink.lines(), "split at %d", split)
		require.Equal(t, refCommit.calls, commit.calls, "split at %d", split)
		require.True(t, res.Committed, "split at %d", split)
	}

	t.Run("one byte at a time", func(t *testing.T) {
		sink := &recordingSink{}
		commit := &recordingCommit{}
		Run(context.Background(), "a1", iotest.OneByteReader(strings.NewReader(stream)), sink, commit.fn)
		assert.Equal(t, reference.lines(), sink.lines())
		assert.Equal(t, refCommit.calls, commit.calls)
	})
}

func TestRunCommitsOnce(t *testing.T) {
	tests := []struct {
		name       string
		stream     string
		wantCommit []string
		wantBy     Termination
		wantLast   string
	}{
		{
			name:       "duplicate done",
			stream:     helLine + "\n\ndata: [DONE]\n\ndata: [DONE]\n\n",
			wantCommit: []string{"Hel"},
			wantBy:     TerminatedByDone,
			wantLast:   "data: [DONE]",
		},
		{
			name:       "eof without done",
			stream:     helLine + "\n\n" + loLine + "\n\n",
			wantCommit: []string{"Hello"},
			wantBy:     TerminatedByEOF,
			wantLast:   DoneLine,
		},
		{
			name:       "eof with unterminated final line",
			stream:     helLine + "\n\n" + loLine,
			wantCommit: []string{"Hello"},
			wantBy:     TerminatedByEOF,
			wantLast:   DoneLine,
		},
		{
			name:       "unterminated done",
			stream:     helLine + "\n\ndata: [DONE]",
			wantCommit: []string{"Hel"},
			wantBy:     TerminatedByDone,
			wantLast:   "data: [DONE]",
		},
		{
			name:       "done without text commits empty",
			stream:     "data: [DONE]\n\n",
			wantCommit: []string{""},
			wantBy:     TerminatedByDone,
			wantLast:   "data: [DONE]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			commit := &recordingCommit{}

			res := Run(context.Background(), "a1", strings.NewReader(tt.stream), sink, commit.fn)

			assert.Equal(t, tt.wantCommit, commit.calls)
			assert.Equal(t, tt.wantBy, res.TerminatedBy)
			assert.Equal(t, tt.wantLast, sink.last().Line)
			assert.Equal(t, EventDone, sink.last().Type)
		})
	}
}

func TestRunIdenticalRepliesAreBothCommitted(t *testing.T) {
	stream := helLine + "\n\ndata: [DONE]\n\n"
	commit := &recordingCommit{}

	for i := 0; i < 2; i++ {
		res := Run(context.Background(), "a1", strings.NewReader(stream), &recordingSink{}, commit.fn)
		require.True(t, res.Committed)
	}
	assert.Equal(t, []string{"Hel", "Hel"}, commit.calls)
}

func TestRunMalformedChunksAreForwarded(t *testing.T) {
	stream := helLine + "\n\n" +
		"data: {not json\n\n" +
		`data: {"choices":[]}` + "\n\n" +
		"event: ping\n\n" +
		loLine + "\n\n" +
		"data: [DONE]\n\n"
	sink := &recordingSink{}
	commit := &recordingCommit{}

	res := Run(context.Background(), "a1", strings.NewReader(stream), sink, commit.fn)

	assert.Equal(t, []string{helLine, "data: {not json", `data: {"choices":[]}`, loLine, "data: [DONE]"}, sink.lines())
	assert.Equal(t, []string{"Hello"}, commit.calls)
	assert.Equal(t, 2, res.Deltas)
}

func TestRunFailuresCommitNothing(t *testing.T) {
	timeout := &upstream.Error{Kind: upstream.KindTimeout, Message: "Request to 10.0.0.5:18789 timed out (2m0s)"}

	tests := []struct {
		name      string
		body      io.Reader
		wantKind  upstream.Kind
		wantLines int
	}{
		{
			name:      "eof before any text",
			body:      strings.NewReader(": nothing here\n\n"),
			wantKind:  upstream.KindProtocol,
			wantLines: 1,
		},
		{
			name:      "transport error before any delta",
			body:      &chunkedReader{err: timeout},
			wantKind:  upstream.KindTimeout,
			wantLines: 1,
		},
		{
			name:      "transport error mid-stream",
			body:      &chunkedReader{chunks: [][]byte{[]byte(helLine + "\n\n")}, err: timeout},
			wantKind:  upstream.KindTimeout,
			wantLines: 2,
		},
		{
			name:      "unclassified read error",
			body:      &chunkedReader{chunks: [][]byte{[]byte(helLine + "\n\n")}, err: errors.New("connection reset by peer")},
			wantKind:  upstream.KindUnreachable,
			wantLines: 2,
		},
		{
			name:      "error object in place of a chunk",
			body:      strings.NewReader(helLine + "\n\n" + `data: {"error":{"message":"context length exceeded"}}` + "\n\n"),
			wantKind:  upstream.KindUpstream,
			wantLines: 2,
		},
		{
			name:      "error string in place of a chunk",
			body:      strings.NewReader(`data: {"error":"model overloaded"}` + "\n\n"),
			wantKind:  upstream.KindUpstream,
			wantLines: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			commit := &recordingCommit{}

			res := Run(context.Background(), "a1", tt.body, sink, commit.fn)

			assert.Empty(t, commit.calls)
			assert.False(t, res.Committed)
			assert.Equal(t, TerminatedByError, res.TerminatedBy)
			assert.Equal(t, tt.wantKind, res.Kind)
			require.Len(t, sink.lines(), tt.wantLines)

			last := sink.last()
			assert.Equal(t, EventError, last.Type)
			assert.Equal(t, tt.wantKind, last.Kind)
			assert.True(t, strings.HasPrefix(last.Line, "data: {\"error\":"), last.Line)
		})
	}
}

func TestRunOversizedLineIsAProtocolError(t *testing.T) {
	big := "data: " + strings.Repeat("x", MaxLineBytes+1)
	sink := &recordingSink{}
	commit := &recordingCommit{}

	res := Run(context.Background(), "a1", strings.NewReader(big), sink, commit.fn)

	assert.Empty(t, commit.calls)
	assert.Equal(t, upstream.KindProtocol, res.Kind)
	assert.Equal(t, EventError, sink.last().Type)
}

func TestRunDownstreamGone(t *testing.T) {
	stream := helLine + "\n\n" + loLine + "\n\ndata: [DONE]\n\n"
	sink := &recordingSink{failAt: 2}
	commit := &recordingCommit{}

	res := Run(context.Background(), "a1", strings.NewReader(stream), sink, commit.fn)

	assert.Empty(t, commit.calls)
	assert.False(t, res.Committed)
	assert.Equal(t, TerminatedByDownstream, res.TerminatedBy)
	assert.Equal(t, []string{helLine}, sink.lines())
}

func TestRunCancelled(t *testing.T) {
	t.Run("context cancelled between chunks", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		pr, pw := io.Pipe()
		sink := &recordingSink{}
		commit := &recordingCommit{}

		go func() {
			_, _ = io.WriteString(pw, helLine+"\n\n")
			cancel()
			_ = pw.CloseWithError(context.Canceled)
		}()

		res := Run(ctx, "a1", pr, sink, commit.fn)

		assert.Empty(t, commit.calls)
		assert.Equal(t, TerminatedByCancel, res.TerminatedBy)
		assert.ErrorIs(t, res.Err, context.Canceled)
		for _, ev := range sink.events {
			assert.NotEqual(t, EventError, ev.Type, "cancellation sends no error event")
		}
	})

	t.Run("done after cancellation is not committed", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		commit := &recordingCommit{}

		res := Run(ctx, "a1", strings.NewReader(helLine+"\n\ndata: [DONE]\n\n"), &recordingSink{}, commit.fn)

		assert.Empty(t, commit.calls)
		assert.Equal(t, TerminatedByCancel, res.TerminatedBy)
	})
}

func TestRunCommitFailure(t *testing.T) {
	sink := &recordingSink{}
	commit := &recordingCommit{err: errors.New("redis down")}

	res := Run(context.Background(), "a1", strings.NewReader(helLine+"\n\ndata: [DONE]\n\n"), sink, commit.fn)

	assert.Len(t, commit.calls, 1)
	assert.False(t, res.Committed)
	assert.Equal(t, KindPersistence, res.Kind)
	assert.Equal(t, EventError, sink.last().Type)
	assert.Equal(t, KindPersistence, sink.last().Kind)
}
