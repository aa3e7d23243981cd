package provider

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/habiliai/parley/entity"
)

// MockModel is a scripted in-memory Model for tests. Streaming calls pop
// scripts in FIFO order; non-streaming calls return canned responses.
type MockModel struct {
	mu sync.Mutex

	scripts    []streamScript
	responses  []*Response
	structured []json.RawMessage
	failures   []error
	requests   []Request
	open       int
}

type streamScript struct {
	events []StreamEvent
	err    error
}

func NewMockModel() *MockModel {
	return &MockModel{}
}

// EnqueueStream scripts the events of the next GenerateStream call.
func (m *MockModel) EnqueueStream(events ...StreamEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, streamScript{events: events})
}

// EnqueueBrokenStream scripts a stream that emits events and then fails with
// err instead of ending cleanly.
func (m *MockModel) EnqueueBrokenStream(err error, events ...StreamEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, streamScript{events: events, err: err})
}

// EnqueueTextStream scripts a plain text turn: text-start, one delta per
// chunk, text-end.
func (m *MockModel) EnqueueTextStream(chunks ...string) {
	events := []StreamEvent{{Type: entity.PartTextStart}}
	for _, chunk := range chunks {
		events = append(events, StreamEvent{Type: entity.PartTextDelta, Text: chunk})
	}
	events = append(events, StreamEvent{Type: entity.PartTextEnd})
	m.EnqueueStream(events...)
}

// EnqueueResponse scripts the next Generate call.
func (m *MockModel) EnqueueResponse(resp *Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
}

// EnqueueStructured scripts the next GenerateStructured call.
func (m *MockModel) EnqueueStructured(raw json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.structured = append(m.structured, raw)
}

// EnqueueFailure makes the next call fail with err before emitting anything.
func (m *MockModel) EnqueueFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, err)
}

// Requests returns every request the mock has seen, in call order.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// OpenStreams reports how many scripted stream goroutines are still running.
func (m *MockModel) OpenStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

func (m *MockModel) takeFailure() error {
	if len(m.failures) == 0 {
		return nil
	}
	err := m.failures[0]
	m.failures = m.failures[1:]
	return err
}

func (m *MockModel) Generate(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	if len(m.responses) == 0 {
		return &Response{Text: "ok"}, nil
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

func (m *MockModel) GenerateStream(ctx context.Context, req Request) (<-chan StreamEvent, <-chan error) {
	out := make(chan StreamEvent, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	failure := m.takeFailure()
	var script streamScript
	if failure == nil && len(m.scripts) > 0 {
		script = m.scripts[0]
		m.scripts = m.scripts[1:]
	}
	m.open++
	m.mu.Unlock()

	go func() {
		defer close(out)
		defer close(errCh)
		defer func() {
			m.mu.Lock()
			m.open--
			m.mu.Unlock()
		}()

		if failure != nil {
			errCh <- failure
			return
		}
		for _, ev := range script.events {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- ev:
			}
		}
		if script.err != nil {
			errCh <- script.err
		}
	}()

	return out, errCh
}

func (m *MockModel) GenerateStructured(ctx context.Context, req Request, schema map[string]any) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	if len(m.structured) == 0 {
		return json.RawMessage(`{}`), nil
	}
	raw := m.structured[0]
	m.structured = m.structured[1:]
	return raw, nil
}

func (m *MockModel) Info() Info {
	return Info{Name: "mock", Provider: "mock"}
}
