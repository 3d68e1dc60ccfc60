package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/esplay/internal/player"
)

// Event is one controller notification captured for a session.
type Event struct {
	Seq    uint64    `json:"seq"`
	Time   time.Time `json:"time"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

// EventLog keeps the most recent events of a session in a ring.
type EventLog struct {
	mu     sync.Mutex
	ring   []Event
	next   int
	full   bool
	seq    uint64
	notify chan struct{}
	logger *slog.Logger
}

// NewEventLog creates a log holding up to size events.
func NewEventLog(size int, logger *slog.Logger) *EventLog {
	if size <= 0 {
		size = 1
	}
	return &EventLog{ring: make([]Event, size), notify: make(chan struct{}), logger: logger}
}

// Append records an event. Time updates are frequent, so they are not logged.
func (l *EventLog) Append(kind player.EventKind, detail string) {
	l.mu.Lock()
	l.seq++
	l.ring[l.next] = Event{Seq: l.seq, Time: time.Now(), Kind: kind.String(), Detail: detail}
	l.next = (l.next + 1) % len(l.ring)
	if l.next == 0 {
		l.full = true
	}
	close(l.notify)
	l.notify = make(chan struct{})
	l.mu.Unlock()

	if l.logger != nil && kind != player.EventTimeUpdate {
		l.logger.Debug("player event",
			slog.String("kind", kind.String()),
			slog.String("detail", detail))
	}
}

// Since returns the retained events with a sequence number above seq, oldest
// first.
func (l *EventLog) Since(seq uint64) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Event
	start, n := 0, l.next
	if l.full {
		start, n = l.next, len(l.ring)
	}
	for i := 0; i < n; i++ {
		ev := l.ring[(start+i)%len(l.ring)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}

// Changed returns a channel that is closed on the next Append.
func (l *EventLog) Changed() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.notify
}

// Last returns the sequence number of the newest event.
func (l *EventLog) Last() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Callbacks returns a controller callback registry that feeds the log.
// onEnded, if set, also runs when playback ends.
func (l *EventLog) Callbacks(onEnded func()) player.Events {
	return player.Events{
		OnReadyStateChange: func(s player.ReadyState) {
			l.Append(player.EventReadyStateChange, s.String())
		},
		OnTimeUpdate: func(t time.Duration) {
			l.Append(player.EventTimeUpdate, t.String())
		},
		OnSeekComplete: func(err error) {
			detail := "ok"
			if err != nil {
				detail = err.Error()
			}
			l.Append(player.EventSeekComplete, detail)
		},
		OnNetworkStateChange: func(s player.NetworkState) {
			l.Append(player.EventNetworkStateChange, s.String())
		},
		OnMediaDataChange: func(w, h int) {
			l.Append(player.EventMediaDataChange, fmt.Sprintf("%dx%d", w, h))
		},
		OnError: func(err error) {
			l.Append(player.EventError, err.Error())
		},
		OnPlayerStateChange: func(s player.State) {
			l.Append(player.EventPlayerStateChange, s.String())
		},
		OnEnded: func() {
			l.Append(player.EventEnded, "")
			if onEnded != nil {
				onEnded()
			}
		},
	}
}
