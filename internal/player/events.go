package player

import "time"

// EventKind enumerates the notifications the controller emits to its host.
type EventKind int

const (
	EventReadyStateChange EventKind = iota
	EventTimeUpdate
	EventSeekComplete
	EventNetworkStateChange
	EventMediaDataChange
	EventError
	EventPlayerStateChange
	EventEnded

	numEventKinds
)

func (k EventKind) String() string {
	switch k {
	case EventReadyStateChange:
		return "ready_state_change"
	case EventTimeUpdate:
		return "time_update"
	case EventSeekComplete:
		return "seek_complete"
	case EventNetworkStateChange:
		return "network_state_change"
	case EventMediaDataChange:
		return "media_data_change"
	case EventError:
		return "error"
	case EventPlayerStateChange:
		return "player_state_change"
	case EventEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// NetworkState mirrors the host-facing network state of a media element.
type NetworkState int

const (
	NetworkEmpty NetworkState = iota
	NetworkIdle
	NetworkLoading
	NetworkLoaded
	NetworkFormatError
	NetworkDecodeError
)

func (s NetworkState) String() string {
	switch s {
	case NetworkEmpty:
		return "empty"
	case NetworkIdle:
		return "idle"
	case NetworkLoading:
		return "loading"
	case NetworkLoaded:
		return "loaded"
	case NetworkFormatError:
		return "format_error"
	case NetworkDecodeError:
		return "decode_error"
	default:
		return "unknown"
	}
}

// Events is the host callback registry: one typed slot per EventKind. Nil
// slots are skipped. Callbacks run on the pipeline goroutine and must not
// call back into the controller synchronously.
type Events struct {
	OnReadyStateChange   func(ReadyState)
	OnTimeUpdate         func(time.Duration)
	OnSeekComplete       func(err error)
	OnNetworkStateChange func(NetworkState)
	OnMediaDataChange    func(width, height int)
	OnError              func(err error)
	OnPlayerStateChange  func(State)
	OnEnded              func()
}

// Has reports whether a callback is registered for kind.
func (e *Events) Has(kind EventKind) bool {
	switch kind {
	case EventReadyStateChange:
		return e.OnReadyStateChange != nil
	case EventTimeUpdate:
		return e.OnTimeUpdate != nil
	case EventSeekComplete:
		return e.OnSeekComplete != nil
	case EventNetworkStateChange:
		return e.OnNetworkStateChange != nil
	case EventMediaDataChange:
		return e.OnMediaDataChange != nil
	case EventError:
		return e.OnError != nil
	case EventPlayerStateChange:
		return e.OnPlayerStateChange != nil
	case EventEnded:
		return e.OnEnded != nil
	default:
		return false
	}
}

// Registered lists the kinds that have a callback.
func (e *Events) Registered() []EventKind {
	var kinds []EventKind
	for k := EventKind(0); k < numEventKinds; k++ {
		if e.Has(k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (e *Events) readyStateChange(s ReadyState) {
	if e.OnReadyStateChange != nil {
		e.OnReadyStateChange(s)
	}
}

func (e *Events) timeUpdate(t time.Duration) {
	if e.OnTimeUpdate != nil {
		e.OnTimeUpdate(t)
	}
}

func (e *Events) seekComplete(err error) {
	if e.OnSeekComplete != nil {
		e.OnSeekComplete(err)
	}
}

func (e *Events) networkStateChange(s NetworkState) {
	if e.OnNetworkStateChange != nil {
		e.OnNetworkStateChange(s)
	}
}

func (e *Events) mediaDataChange(w, h int) {
	if e.OnMediaDataChange != nil {
		e.OnMediaDataChange(w, h)
	}
}

func (e *Events) error(err error) {
	if e.OnError != nil {
		e.OnError(err)
	}
}

func (e *Events) playerStateChange(s State) {
	if e.OnPlayerStateChange != nil {
		e.OnPlayerStateChange(s)
	}
}

func (e *Events) ended() {
	if e.OnEnded != nil {
		e.OnEnded()
	}
}
