package stream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/spherical/prd-testgen/internal/domain"
)

// ContentType marks a response that must be read incrementally.
const ContentType = "application/x-ndjson"

// NDJSONSink writes one JSON object per line and flushes after each.
type NDJSONSink struct {
	enc     *json.Encoder
	flusher http.Flusher
}

// NewNDJSONSink wraps w. When w is an http.Flusher each line is flushed.
func NewNDJSONSink(w io.Writer) *NDJSONSink {
	s := &NDJSONSink{enc: json.NewEncoder(w)}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
	}
	return s
}

func (s *NDJSONSink) Send(event domain.StreamEvent) error {
	if err := s.enc.Encode(event); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// ChanSink hands events to an in-process consumer. Close is idempotent.
type ChanSink struct {
	ctx  context.Context
	ch   chan domain.StreamEvent
	once sync.Once
}

// NewChanSink creates a sink with the given buffer. Send gives up when ctx is done.
func NewChanSink(ctx context.Context, buffer int) *ChanSink {
	return &ChanSink{ctx: ctx, ch: make(chan domain.StreamEvent, buffer)}
}

// Events returns the receive side of the sink.
func (s *ChanSink) Events() <-chan domain.StreamEvent {
	return s.ch
}

func (s *ChanSink) Send(event domain.StreamEvent) error {
	select {
	case s.ch <- event:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// Close ends the channel once the producer is finished.
func (s *ChanSink) Close() {
	s.once.Do(func() { close(s.ch) })
}

// FuncSink adapts a function to Sink.
type FuncSink func(event domain.StreamEvent) error

func (f FuncSink) Send(event domain.StreamEvent) error {
	return f(event)
}
