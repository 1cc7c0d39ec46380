// Package stream turns pipeline progress into one ordered sequence of
// StreamEvents that always ends in exactly one done or error event.
package stream

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spherical/prd-testgen/internal/domain"
	"github.com/spherical/prd-testgen/internal/observability"
)

// ErrClosed is returned when emitting after the terminal event.
var ErrClosed = errors.New("stream already terminated")

// Sink delivers events to a consumer. Send is never called concurrently.
type Sink interface {
	Send(event domain.StreamEvent) error
}

// Emitter serializes events for a single request.
type Emitter struct {
	mu     sync.Mutex
	sink   Sink
	closed bool
	now    func() time.Time
	log    *observability.Logger
}

// NewEmitter creates an emitter writing to sink.
func NewEmitter(sink Sink, log *observability.Logger) *Emitter {
	if log == nil {
		log = observability.Nop()
	}
	return &Emitter{
		sink: sink,
		now:  time.Now,
		log:  log.WithOperation("stream"),
	}
}

// Emit stamps and delivers event. A terminal event closes the stream even
// when delivery fails.
func (e *Emitter) Emit(event domain.StreamEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if event.Type.IsTerminal() {
		e.closed = true
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}

	if err := e.sink.Send(event); err != nil {
		return fmt.Errorf("send %s event: %w", event.Type, err)
	}
	return nil
}

// Closed reports whether a terminal event has been emitted.
func (e *Emitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Emitter) Log(message string) error {
	return e.Emit(domain.StreamEvent{Type: domain.EventLog, Message: message})
}

func (e *Emitter) Logf(format string, args ...any) error {
	return e.Log(fmt.Sprintf(format, args...))
}

// Images publishes the image index keyed by ordinal.
func (e *Emitter) Images(index map[string]string) error {
	if index == nil {
		index = map[string]string{}
	}
	return e.Emit(domain.StreamEvent{Type: domain.EventImages, Data: index})
}

func (e *Emitter) Analysis(plan *domain.TestPlanResult) error {
	return e.Emit(domain.StreamEvent{Type: domain.EventAnalysis, Data: plan})
}

func (e *Emitter) Cases(cases []domain.TestCase) error {
	if cases == nil {
		cases = []domain.TestCase{}
	}
	return e.Emit(domain.StreamEvent{Type: domain.EventCases, Data: cases})
}

func (e *Emitter) Done(message string) error {
	return e.Emit(domain.StreamEvent{Type: domain.EventDone, Message: message})
}

// Error terminates the stream with err's message and stage.
func (e *Emitter) Error(err error) error {
	return e.Emit(domain.StreamEvent{
		Type:    domain.EventError,
		Message: err.Error(),
		Stage:   domain.StageOf(err),
	})
}

// Guard runs fn and guarantees exactly one terminal event afterwards. A
// returned error or a panic becomes an error event; a clean return without a
// terminal event gets a done event. Guard itself never panics.
func (e *Emitter) Guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal error: %v", r)
			e.log.Error().Str("panic", fmt.Sprint(r)).Msg("recovered panic in stream")
		}

		if e.Closed() {
			return
		}
		if err != nil {
			if sendErr := e.Error(err); sendErr != nil {
				e.log.Warn().Err(sendErr).Msg("could not deliver error event")
			}
			return
		}
		if sendErr := e.Done("completed"); sendErr != nil {
			e.log.Warn().Err(sendErr).Msg("could not deliver done event")
		}
	}()

	return fn()
}
