// Package eventbus is the in-process fan-out of ExecutionEvents with
// bounded history: a buffered channel per subscriber, non-blocking send,
// drop on full.
package eventbus

import (
	"sync"
	"time"
)

// Phase is the ExecutionEvent lifecycle phase.
type Phase string

const (
	PhaseThinking     Phase = "thinking"
	PhaseReadingFile  Phase = "reading_file"
	PhaseWritingFile  Phase = "writing_file"
	PhaseRunningCmd   Phase = "running_command"
	PhaseStreaming    Phase = "streaming"
	PhaseSearchingWeb Phase = "searching_web"
	PhaseFinished     Phase = "finished"
	PhaseError        Phase = "error"
)

// Status is the ExecutionEvent progress marker.
type Status string

const (
	StatusStart    Status = "start"
	StatusProgress Status = "progress"
	StatusEnd      Status = "end"
)

// Event is the ExecutionEvent data model.
type Event struct {
	Phase      Phase                  `json:"phase"`
	Message    string                 `json:"message"`
	FilePath   string                 `json:"file_path,omitempty"`
	Command    string                 `json:"command,omitempty"`
	Status     Status                 `json:"status"`
	ExitCode   *int                   `json:"exit_code,omitempty"`
	Success    *bool                  `json:"success,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

const historyCap = 200

// Bus fans out Events to subscribers in emission order and keeps a bounded
// ring of the most recent 200 for late subscribers / reconnection catchup.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
	history     []Event
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[int]chan Event)}
}

// Subscribe registers a new listener with the given channel buffer size and
// returns the channel plus an unsubscribe function. Emission order is
// preserved per listener; a full channel drops the event rather than blocking
// the publisher.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subscribers[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(c)
		}
	}
}

// Publish emits an event to every subscriber and appends it to history.
// Listener-side panics are never possible here (we only send on channels);
// a full subscriber channel simply drops the event rather than blocking the
// publisher.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append(b.history, ev)
	if len(b.history) > historyCap {
		b.history = b.history[len(b.history)-historyCap:]
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// History returns a copy of the bounded event history in emission order, for
// a reattaching terminal UI's catchup replay.
func (b *Bus) History() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}
