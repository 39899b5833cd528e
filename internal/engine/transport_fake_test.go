package engine

import (
	"context"
	"sync"

	"github.com/fanloop/chatsync/internal/model"
	"github.com/fanloop/chatsync/internal/transport"
)

// emitted records one outbound event seen by the fake transport.
type emitted struct {
	Name    model.EventKind
	Payload any
	Ack     transport.AckFunc
}

// fakeTransport is an in-memory Transport for engine tests. Tests push
// inbound events and statuses and inspect what was emitted.
type fakeTransport struct {
	mu         sync.Mutex
	emitted    []emitted
	connectErr error
	connects   int
	closes     int

	events   chan transport.Event
	statuses chan transport.Status
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events:   make(chan transport.Event, 64),
		statuses: make(chan transport.Status, 8),
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connects++
	err := f.connectErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.statuses <- transport.StatusConnected
	return nil
}

func (f *fakeTransport) Emit(ctx context.Context, event model.EventKind, payload any) error {
	f.mu.Lock()
	f.emitted = append(f.emitted, emitted{Name: event, Payload: payload})
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) EmitWithAck(ctx context.Context, event model.EventKind, payload any, ack transport.AckFunc) error {
	f.mu.Lock()
	f.emitted = append(f.emitted, emitted{Name: event, Payload: payload, Ack: ack})
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Events() <-chan transport.Event {
	return f.events
}

func (f *fakeTransport) Statuses() <-chan transport.Status {
	return f.statuses
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return nil
}

// emittedEvents returns a copy of everything emitted so far.
func (f *fakeTransport) emittedEvents() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]emitted, len(f.emitted))
	copy(out, f.emitted)
	return out
}

func (f *fakeTransport) lastEmitted() (emitted, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.emitted) == 0 {
		return emitted{}, false
	}
	return f.emitted[len(f.emitted)-1], true
}
