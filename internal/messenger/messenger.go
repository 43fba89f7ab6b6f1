// Package messenger carries messages between the background context and the
// per-tab page contexts. Emitter is one-way and only drops a report when
// nobody is listening; Mailbox is request/response and always answers,
// declining actions it does not know.
package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrNoReceiver means nobody is listening (page script not loaded)
	ErrNoReceiver = errors.New("no receiver")
	// ErrBusy means the receiver did not answer in time (loaded but busy)
	ErrBusy = errors.New("receiver busy")
	// ErrDeclined means the receiver does not handle the action
	ErrDeclined = errors.New("action declined")
)

// ActionPing is answered by every Router
const ActionPing = "ping"

// Envelope is one message between contexts
type Envelope struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope encodes payload into an envelope
func NewEnvelope(action string, payload any) (Envelope, error) {
	env := Envelope{Action: action}
	if payload == nil {
		return env, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return env, fmt.Errorf("encode %s payload: %w", action, err)
	}
	env.Payload = b
	return env, nil
}

// Decode unmarshals the envelope payload into T
func Decode[T any](env Envelope) (T, error) {
	var v T
	if len(env.Payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s payload: %w", env.Action, err)
	}
	return v, nil
}

// Response answers a request
type Response struct {
	OK       bool            `json:"ok"`
	Declined bool            `json:"declined,omitempty"`
	Error    string          `json:"error,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Err converts a failed response into an error
func (r Response) Err() error {
	switch {
	case r.Declined:
		return ErrDeclined
	case !r.OK:
		return errors.New(r.Error)
	default:
		return nil
	}
}

// DecodeResponse unmarshals a successful response payload into T
func DecodeResponse[T any](r Response) (T, error) {
	var v T
	if err := r.Err(); err != nil {
		return v, err
	}
	if len(r.Payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(r.Payload, &v); err != nil {
		return v, fmt.Errorf("decode response: %w", err)
	}
	return v, nil
}

// Handler processes one envelope. The returned value becomes the response
// payload.
type Handler func(ctx context.Context, env Envelope) (any, error)

// Router maps actions to handlers
type Router struct {
	handlers map[string]Handler
	log      zerolog.Logger
}

// NewRouter creates a router that already answers ping
func NewRouter(log zerolog.Logger) *Router {
	r := &Router{handlers: map[string]Handler{}, log: log}
	r.Handle(ActionPing, func(context.Context, Envelope) (any, error) {
		return map[string]string{"status": "ok"}, nil
	})
	return r
}

// Handle registers h for action, replacing any previous handler
func (r *Router) Handle(action string, h Handler) {
	r.handlers[action] = h
}

// Dispatch runs the handler for env. It always produces a response.
func (r *Router) Dispatch(ctx context.Context, env Envelope) Response {
	h, ok := r.handlers[env.Action]
	if !ok {
		r.log.Debug().Str("action", env.Action).Msg("declined unknown action")
		return Response{Declined: true, Error: "unknown action: " + env.Action}
	}

	out, err := h(ctx, env)
	if err != nil {
		return Response{Error: err.Error()}
	}
	resp := Response{OK: true}
	if out != nil {
		b, err := json.Marshal(out)
		if err != nil {
			return Response{Error: fmt.Sprintf("encode response: %v", err)}
		}
		resp.Payload = b
	}
	return resp
}

type delivery struct {
	env   Envelope
	reply chan Response // nil for one-way posts
}

// Mailbox is the inbox of a single-goroutine context. Messages are
// processed to completion one at a time, in arrival order.
type Mailbox struct {
	name   string
	ch     chan delivery
	router *Router
	log    zerolog.Logger

	once sync.Once
	done chan struct{}
}

// NewMailbox creates a mailbox with the given buffer size
func NewMailbox(name string, size int, router *Router, log zerolog.Logger) *Mailbox {
	return &Mailbox{
		name:   name,
		ch:     make(chan delivery, size),
		router: router,
		log:    log,
		done:   make(chan struct{}),
	}
}

// Name returns the mailbox name
func (m *Mailbox) Name() string { return m.name }

// Run processes deliveries until ctx is cancelled or Close is called
func (m *Mailbox) Run(ctx context.Context) {
	defer m.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case d := <-m.ch:
			resp := m.router.Dispatch(ctx, d.env)
			if d.reply != nil {
				d.reply <- resp
			} else if resp.Err() != nil && !resp.Declined {
				m.log.Warn().Str("action", d.env.Action).Str("error", resp.Error).Msg("one-way message failed")
			}
		}
	}
}

// Close stops accepting deliveries. Safe to call more than once.
func (m *Mailbox) Close() {
	m.once.Do(func() { close(m.done) })
}

// Done is closed once the mailbox stops
func (m *Mailbox) Done() <-chan struct{} { return m.done }

// Post enqueues a one-way envelope without blocking. It reports false when
// the mailbox is closed or full.
func (m *Mailbox) Post(env Envelope) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.ch <- delivery{env: env}:
		return true
	default:
		return false
	}
}

// Deliver enqueues a one-way envelope, waiting for room in the inbox. It
// reports false only when the mailbox is closed or ctx ends first.
func (m *Mailbox) Deliver(ctx context.Context, env Envelope) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.ch <- delivery{env: env}:
		return true
	case <-m.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Request sends an envelope and waits for its response. ctx bounds the
// whole round-trip; running out of time yields ErrBusy.
func (m *Mailbox) Request(ctx context.Context, action string, payload any) (Response, error) {
	env, err := NewEnvelope(action, payload)
	if err != nil {
		return Response{}, err
	}

	reply := make(chan Response, 1)
	select {
	case <-m.done:
		return Response{}, ErrNoReceiver
	default:
	}

	select {
	case m.ch <- delivery{env: env, reply: reply}:
	case <-m.done:
		return Response{}, ErrNoReceiver
	case <-ctx.Done():
		return Response{}, ErrBusy
	}

	select {
	case resp := <-reply:
		return resp, nil
	case <-m.done:
		return Response{}, ErrNoReceiver
	case <-ctx.Done():
		return Response{}, ErrBusy
	}
}

// Receiver accepts one-way envelopes
type Receiver interface {
	Deliver(ctx context.Context, env Envelope) bool
}

// Emitter sends one-way reports. A busy receiver applies backpressure; a
// missing or stopped one is a normal condition, and the report is dropped
// and logged rather than surfaced as an error.
type Emitter struct {
	mu     sync.RWMutex
	target Receiver
	log    zerolog.Logger
	onDrop func(action string)
}

// NewEmitter creates an emitter with no receiver attached
func NewEmitter(log zerolog.Logger, onDrop func(action string)) *Emitter {
	if onDrop == nil {
		onDrop = func(string) {}
	}
	return &Emitter{log: log, onDrop: onDrop}
}

// Attach sets the receiver
func (e *Emitter) Attach(r Receiver) {
	e.mu.Lock()
	e.target = r
	e.mu.Unlock()
}

// Detach removes the receiver
func (e *Emitter) Detach() {
	e.Attach(nil)
}

// Emit sends a report and reports whether it was delivered. It blocks while
// the receiver inbox is full.
func (e *Emitter) Emit(ctx context.Context, action string, payload any) bool {
	env, err := NewEnvelope(action, payload)
	if err != nil {
		e.log.Error().Err(err).Str("action", action).Msg("dropping unencodable report")
		e.onDrop(action)
		return false
	}

	e.mu.RLock()
	target := e.target
	e.mu.RUnlock()

	if target == nil || !target.Deliver(ctx, env) {
		e.log.Debug().Str("action", action).Msg("no receiver, report dropped")
		e.onDrop(action)
		return false
	}
	return true
}
