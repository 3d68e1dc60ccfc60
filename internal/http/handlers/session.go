package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/esplay/internal/session"
)

const defaultHeartbeatInterval = 30 * time.Second

// SessionHandler handles playback session endpoints.
type SessionHandler struct {
	manager           *session.Manager
	logger            *slog.Logger
	heartbeatInterval time.Duration
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(manager *session.Manager, logger *slog.Logger) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{
		manager:           manager,
		logger:            logger,
		heartbeatInterval: defaultHeartbeatInterval,
	}
}

// SetHeartbeatInterval sets the idle interval between stream heartbeats.
func (h *SessionHandler) SetHeartbeatInterval(interval time.Duration) {
	h.heartbeatInterval = interval
}

// Register registers the session routes with the API.
func (h *SessionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "openSession",
		Method:        http.MethodPost,
		Path:          "/api/v1/sessions",
		Summary:       "Open session",
		Description:   "Opens an MPEG-TS file and builds its playback pipeline",
		Tags:          []string{"Sessions"},
		DefaultStatus: http.StatusCreated,
	}, h.Open)

	huma.Register(api, huma.Operation{
		OperationID: "listSessions",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions",
		Summary:     "List sessions",
		Tags:        []string{"Sessions"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getSession",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions/{id}",
		Summary:     "Get session",
		Description: "Returns the session with its pipeline status",
		Tags:        []string{"Sessions"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID:   "closeSession",
		Method:        http.MethodDelete,
		Path:          "/api/v1/sessions/{id}",
		Summary:       "Close session",
		Tags:          []string{"Sessions"},
		DefaultStatus: http.StatusNoContent,
	}, h.Close)

	huma.Register(api, huma.Operation{
		OperationID: "playSession",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions/{id}/play",
		Summary:     "Play",
		Tags:        []string{"Playback"},
	}, h.Play)

	huma.Register(api, huma.Operation{
		OperationID: "pauseSession",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions/{id}/pause",
		Summary:     "Pause",
		Tags:        []string{"Playback"},
	}, h.Pause)

	huma.Register(api, huma.Operation{
		OperationID: "seekSession",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions/{id}/seek",
		Summary:     "Seek",
		Description: "Starts a seek. Completion is reported as a seek_complete event",
		Tags:        []string{"Playback"},
	}, h.Seek)

	huma.Register(api, huma.Operation{
		OperationID: "setSessionRate",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions/{id}/rate",
		Summary:     "Set playback rate",
		Description: "Returns 501 when the session's backend has no rate control",
		Tags:        []string{"Playback"},
	}, h.SetRate)

	huma.Register(api, huma.Operation{
		OperationID: "setSessionVolume",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions/{id}/volume",
		Summary:     "Set volume",
		Tags:        []string{"Playback"},
	}, h.SetVolume)

	huma.Register(api, huma.Operation{
		OperationID: "listSessionEvents",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions/{id}/events",
		Summary:     "List session events",
		Description: "Returns retained events newer than the given sequence number",
		Tags:        []string{"Sessions"},
	}, h.Events)

	// Documented here, served by RegisterSSE on the chi router.
	sse.Register(api, huma.Operation{
		OperationID: "streamSessionEvents",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions/{id}/events/stream",
		Summary:     "Subscribe to session events",
		Description: "Server-Sent Events stream of player events. Sends `:heartbeat <unix>` comments when idle. " +
			"The stream ends after the session closes.",
		Tags: []string{"Sessions"},
	}, map[string]any{
		"player": session.Event{},
	}, func(ctx context.Context, input *StreamSessionEventsInput, send sse.Sender) {
		<-ctx.Done()
	})
}

// RegisterSSE registers the event stream on a chi router.
func (h *SessionHandler) RegisterSSE(router chi.Router) {
	router.Get("/api/v1/sessions/{id}/events/stream", h.handleEventStream)
}

// SessionIDInput identifies a session.
type SessionIDInput struct {
	ID string `path:"id" doc:"Session ID (ULID)"`
}

// OpenSessionInput is the input for opening a session.
type OpenSessionInput struct {
	Body OpenSessionRequest
}

// SessionOutput is a single session response.
type SessionOutput struct {
	Body SessionResponse
}

// Open opens a new session.
func (h *SessionHandler) Open(ctx context.Context, input *OpenSessionInput) (*SessionOutput, error) {
	s, err := h.manager.Open(ctx, session.OpenRequest{
		Path:     input.Body.Path,
		Backend:  input.Body.Backend,
		Autoplay: input.Body.Autoplay,
	})
	if err != nil {
		return nil, apiError("failed to open session", err)
	}
	return h.output(ctx, s)
}

// ListSessionsOutput is the output for listing sessions.
type ListSessionsOutput struct {
	Body struct {
		Sessions []SessionSummary `json:"sessions"`
		Active   int              `json:"active"`
		Max      int              `json:"max"`
	}
}

// List returns all open sessions, oldest first.
func (h *SessionHandler) List(ctx context.Context, input *struct{}) (*ListSessionsOutput, error) {
	list := h.manager.List()
	stats := h.manager.Stats()

	resp := &ListSessionsOutput{}
	resp.Body.Sessions = make([]SessionSummary, 0, len(list))
	for _, s := range list {
		resp.Body.Sessions = append(resp.Body.Sessions, SummaryFromSession(s))
	}
	resp.Body.Active = stats.ActiveSessions
	resp.Body.Max = stats.MaxSessions
	return resp, nil
}

// Get returns a session by ID.
func (h *SessionHandler) Get(ctx context.Context, input *SessionIDInput) (*SessionOutput, error) {
	s, err := h.manager.Get(input.ID)
	if err != nil {
		return nil, apiError("failed to get session", err)
	}
	return h.output(ctx, s)
}

// Close closes a session.
func (h *SessionHandler) Close(ctx context.Context, input *SessionIDInput) (*struct{}, error) {
	if err := h.manager.Close(ctx, input.ID); err != nil {
		return nil, apiError("failed to close session", err)
	}
	return &struct{}{}, nil
}

// Play starts or resumes playback.
func (h *SessionHandler) Play(ctx context.Context, input *SessionIDInput) (*SessionOutput, error) {
	return h.control(ctx, input.ID, "play", func(s *session.Session) error { return s.Play(ctx) })
}

// Pause pauses playback.
func (h *SessionHandler) Pause(ctx context.Context, input *SessionIDInput) (*SessionOutput, error) {
	return h.control(ctx, input.ID, "pause", func(s *session.Session) error { return s.Pause(ctx) })
}

// SeekInput is the input for seeking.
type SeekInput struct {
	ID   string `path:"id" doc:"Session ID (ULID)"`
	Body struct {
		Position float64 `json:"position" minimum:"0" doc:"Target position in seconds"`
	}
}

// Seek starts a seek.
func (h *SessionHandler) Seek(ctx context.Context, input *SeekInput) (*SessionOutput, error) {
	target := time.Duration(input.Body.Position * float64(time.Second))
	return h.control(ctx, input.ID, "seek", func(s *session.Session) error { return s.Seek(ctx, target) })
}

// RateInput is the input for changing the playback rate.
type RateInput struct {
	ID   string `path:"id" doc:"Session ID (ULID)"`
	Body struct {
		Rate float64 `json:"rate" exclusiveMinimum:"0" doc:"Playback rate, 1 is normal speed"`
	}
}

// SetRate changes the playback rate.
func (h *SessionHandler) SetRate(ctx context.Context, input *RateInput) (*SessionOutput, error) {
	return h.control(ctx, input.ID, "rate", func(s *session.Session) error { return s.SetRate(ctx, input.Body.Rate) })
}

// VolumeInput is the input for changing the volume.
type VolumeInput struct {
	ID   string `path:"id" doc:"Session ID (ULID)"`
	Body struct {
		Level float64 `json:"level" minimum:"0" maximum:"1" doc:"Volume in [0, 1]"`
	}
}

// SetVolume changes the output volume.
func (h *SessionHandler) SetVolume(ctx context.Context, input *VolumeInput) (*SessionOutput, error) {
	return h.control(ctx, input.ID, "volume", func(s *session.Session) error { return s.SetVolume(ctx, input.Body.Level) })
}

// SessionEventsInput is the input for listing session events.
type SessionEventsInput struct {
	ID    string `path:"id" doc:"Session ID (ULID)"`
	Since uint64 `query:"since" doc:"Only return events with a higher sequence number"`
}

// SessionEventsOutput is the output for listing session events.
type SessionEventsOutput struct {
	Body struct {
		Events []session.Event `json:"events"`
		Last   uint64          `json:"last" doc:"Sequence number of the newest event"`
	}
}

// Events returns retained events newer than Since.
func (h *SessionHandler) Events(ctx context.Context, input *SessionEventsInput) (*SessionEventsOutput, error) {
	s, err := h.manager.Get(input.ID)
	if err != nil {
		return nil, apiError("failed to get session", err)
	}
	resp := &SessionEventsOutput{}
	resp.Body.Events = s.Events().Since(input.Since)
	if resp.Body.Events == nil {
		resp.Body.Events = []session.Event{}
	}
	resp.Body.Last = s.Events().Last()
	return resp, nil
}

// StreamSessionEventsInput is the input for the event stream.
type StreamSessionEventsInput struct {
	ID    string `path:"id" doc:"Session ID (ULID)"`
	Since uint64 `query:"since" doc:"Replay retained events after this sequence number first"`
}

func (h *SessionHandler) control(ctx context.Context, id, op string, fn func(*session.Session) error) (*SessionOutput, error) {
	s, err := h.manager.Get(id)
	if err != nil {
		return nil, apiError("failed to get session", err)
	}
	if err := fn(s); err != nil {
		return nil, apiError(fmt.Sprintf("%s failed", op), err)
	}
	return h.output(ctx, s)
}

func (h *SessionHandler) output(ctx context.Context, s *session.Session) (*SessionOutput, error) {
	info, err := s.Info(ctx)
	if err != nil {
		return nil, apiError("failed to read session status", err)
	}
	return &SessionOutput{Body: SessionFromInfo(info)}, nil
}

// handleEventStream is the raw HTTP handler for the session event stream.
func (h *SessionHandler) handleEventStream(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	// A reconnecting EventSource resumes from Last-Event-ID.
	var since uint64
	v := r.URL.Query().Get("since")
	if v == "" {
		v = r.Header.Get("Last-Event-ID")
	}
	if v != "" {
		since, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)
	// The server write timeout would cut the stream.
	_ = rc.SetWriteDeadline(time.Time{})

	if _, err := fmt.Fprint(w, ":connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	events := s.Events()
	last := since
	for {
		changed := events.Changed()
		for _, ev := range events.Since(last) {
			if err := writeEvent(w, ev); err != nil {
				h.logger.Debug("event stream write failed", slog.String("error", err.Error()))
				return
			}
			last = ev.Seq
		}
		if err := rc.Flush(); err != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-s.Done():
			return
		case <-changed:
		case t := <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ":heartbeat %d\n\n", t.Unix()); err != nil {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, ev session.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: player\ndata: %s\n\n", ev.Seq, data)
	return err
}
