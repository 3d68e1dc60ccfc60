// Package handlers provides HTTP API handlers for esplay.
package handlers

import (
	"time"

	"github.com/jmylchreest/esplay/internal/demux"
	"github.com/jmylchreest/esplay/internal/player"
	"github.com/jmylchreest/esplay/internal/session"
)

// Session types

// OpenSessionRequest is the request body for opening a session.
type OpenSessionRequest struct {
	Path     string `json:"path" doc:"Path of an MPEG-TS file on the server" minLength:"1"`
	Backend  string `json:"backend,omitempty" doc:"Player backend; defaults to the configured one" enum:"player,es"`
	Autoplay bool   `json:"autoplay,omitempty" doc:"Start playback as soon as the backend is ready"`
}

// TimeRangeResponse is a buffered range in seconds.
type TimeRangeResponse struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// SessionResponse represents a session and its pipeline status.
type SessionResponse struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	Backend      string    `json:"backend"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`

	State          string  `json:"state"`
	RequestedState string  `json:"requested_state"`
	SeekState      string  `json:"seek_state"`
	ReadyState     string  `json:"ready_state"`
	NetworkState   string  `json:"network_state"`
	Position       float64 `json:"position" doc:"Current position in seconds"`
	Duration       float64 `json:"duration" doc:"Media duration in seconds, 0 when unknown"`
	Rate           float64 `json:"rate"`
	Volume         float64 `json:"volume"`
	Playing        bool    `json:"playing" doc:"Whether the host wants playback to run"`
	Stalled        bool    `json:"stalled"`
	Ended          bool    `json:"ended"`

	Buffered     []TimeRangeResponse   `json:"buffered"`
	BufferStatus map[string]string     `json:"buffer_status,omitempty"`
	Channels     []player.ChannelStats `json:"channels"`
	Events       []string              `json:"events" doc:"Event kinds the session listens for"`
	LastError    string                `json:"last_error,omitempty"`
	Demuxer      demux.Stats           `json:"demuxer"`
}

func seconds(d time.Duration) float64 {
	return d.Seconds()
}

// SessionFromInfo converts a session snapshot to a response.
func SessionFromInfo(info session.Info) SessionResponse {
	st := info.Status
	resp := SessionResponse{
		ID:             info.ID,
		Path:           info.Path,
		Backend:        info.Backend,
		CreatedAt:      info.CreatedAt,
		LastActivity:   info.LastActivity,
		State:          st.State.String(),
		RequestedState: st.Requested.String(),
		SeekState:      st.SeekState.String(),
		ReadyState:     st.ReadyState.String(),
		NetworkState:   st.NetworkState.String(),
		Position:       seconds(st.Position),
		Duration:       seconds(st.Duration),
		Rate:           st.Rate,
		Volume:         st.Volume,
		Playing:        st.WantPlaying,
		Stalled:        st.Stalled,
		Ended:          st.Ended,
		Buffered:       make([]TimeRangeResponse, 0, len(st.Buffered)),
		BufferStatus:   st.BufferStatus,
		Channels:       st.Channels,
		Events:         make([]string, 0, len(st.EventHandlers)),
		Demuxer:        info.Demuxer,
	}
	for _, r := range st.Buffered {
		resp.Buffered = append(resp.Buffered, TimeRangeResponse{Start: seconds(r.Start), End: seconds(r.End)})
	}
	for _, k := range st.EventHandlers {
		resp.Events = append(resp.Events, k.String())
	}
	if st.LastError != nil {
		resp.LastError = st.LastError.Error()
	}
	return resp
}

// SessionSummary is the list form of a session.
type SessionSummary struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	Backend      string    `json:"backend"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// SummaryFromSession converts a session to its list form.
func SummaryFromSession(s *session.Session) SessionSummary {
	return SessionSummary{
		ID:           s.ID.String(),
		Path:         s.Path,
		Backend:      s.Backend,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity(),
	}
}
