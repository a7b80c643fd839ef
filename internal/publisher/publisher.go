// Package publisher fans session events out over two independent
// real-time channels: transcript/turn status and coaching suggestions.
package publisher

import (
	"sync"
	"time"
)

// Channel selects which of the two per-session streams to attach to.
type Channel int

const (
	ChannelTranscript Channel = iota
	ChannelSuggestions
)

// Event is one frame on either channel.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	Data      any       `json:"data,omitempty"`
	At        time.Time `json:"at"`
}

// Event types.
const (
	EventTurn       = "turn"
	EventStage      = "stage"
	EventSuggestion = "suggestion"
	EventInterrupt  = "interrupt"
	EventStatus     = "status"
)

// subscriberBuffer bounds each subscriber's queue; a slow consumer loses
// frames rather than stalling the pipeline.
const subscriberBuffer = 16

// backlogSize bounds the suggestion frames kept for a subscriber that
// attaches late or reconnects.
const backlogSize = 3

// Subscription is one attached consumer. Cancel detaches it and closes C.
type Subscription struct {
	C      <-chan Event
	cancel func()
}

// Cancel detaches the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

type streams struct {
	mu          sync.Mutex
	transcript  map[chan Event]struct{}
	suggestions map[chan Event]struct{}
	backlog     []Event
	closed      bool
}

// Publisher owns the per-session channel pairs. Delivery is best-effort:
// with no subscriber attached, suggestion frames land in the bounded
// backlog and everything else is dropped.
type Publisher struct {
	mu       sync.RWMutex
	sessions map[string]*streams
}

func New() *Publisher {
	return &Publisher{sessions: make(map[string]*streams)}
}

// Subscribe attaches a consumer to one channel of a session. Attaching to
// the suggestion channel first drains the backlog into the new consumer.
func (p *Publisher) Subscribe(sessionID string, ch Channel) *Subscription {
	s := p.streamsFor(sessionID)
	c := make(chan Event, subscriberBuffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(c)
		return &Subscription{C: c, cancel: func() {}}
	}
	switch ch {
	case ChannelTranscript:
		s.transcript[c] = struct{}{}
	case ChannelSuggestions:
		for _, ev := range s.backlog {
			c <- ev
		}
		s.backlog = s.backlog[:0]
		s.suggestions[c] = struct{}{}
	}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			if _, ok := s.transcript[c]; ok {
				delete(s.transcript, c)
				close(c)
			} else if _, ok := s.suggestions[c]; ok {
				delete(s.suggestions, c)
				close(c)
			}
			s.mu.Unlock()
		})
	}
	return &Subscription{C: c, cancel: cancel}
}

// PublishTranscript broadcasts a frame on the transcript channel.
func (p *Publisher) PublishTranscript(sessionID string, ev Event) {
	ev.SessionID = sessionID
	ev.At = time.Now().UTC()

	s := p.streamsFor(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	broadcast(s.transcript, ev)
}

// PublishSuggestion broadcasts a frame on the suggestion channel. With no
// subscriber attached the frame is kept in the backlog for the next
// attach, bounded so abandoned sessions cannot grow without limit.
func (p *Publisher) PublishSuggestion(sessionID string, ev Event) {
	ev.SessionID = sessionID
	ev.At = time.Now().UTC()

	s := p.streamsFor(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if len(s.suggestions) == 0 {
		s.backlog = append(s.backlog, ev)
		if len(s.backlog) > backlogSize {
			s.backlog = s.backlog[len(s.backlog)-backlogSize:]
		}
		return
	}
	broadcast(s.suggestions, ev)
}

// Close tears down both channels of a session and detaches all consumers.
func (p *Publisher) Close(sessionID string) {
	p.mu.Lock()
	s, ok := p.sessions[sessionID]
	if ok {
		delete(p.sessions, sessionID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for c := range s.transcript {
		close(c)
	}
	for c := range s.suggestions {
		close(c)
	}
	s.transcript = map[chan Event]struct{}{}
	s.suggestions = map[chan Event]struct{}{}
	s.backlog = nil
}

func (p *Publisher) streamsFor(sessionID string) *streams {
	p.mu.RLock()
	s, ok := p.sessions[sessionID]
	p.mu.RUnlock()
	if ok {
		return s
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok = p.sessions[sessionID]; ok {
		return s
	}
	s = &streams{
		transcript:  make(map[chan Event]struct{}),
		suggestions: make(map[chan Event]struct{}),
	}
	p.sessions[sessionID] = s
	return s
}

func broadcast(subs map[chan Event]struct{}, ev Event) {
	for c := range subs {
		select {
		case c <- ev:
		default: // slow consumer, drop
		}
	}
}
