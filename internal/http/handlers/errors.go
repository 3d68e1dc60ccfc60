package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/esplay/internal/player"
	"github.com/jmylchreest/esplay/internal/session"
)

// apiError maps session and pipeline errors onto HTTP statuses.
func apiError(msg string, err error) error {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, session.ErrTooManySessions):
		return huma.Error429TooManyRequests(err.Error())
	case errors.Is(err, player.ErrBadArgument):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, player.ErrNotSupported):
		return huma.Error501NotImplemented(err.Error())
	case errors.Is(err, player.ErrClosed), errors.Is(err, player.ErrNotStarted):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, player.ErrTransitionTimeout), errors.Is(err, context.DeadlineExceeded):
		return huma.Error504GatewayTimeout(msg, err)
	default:
		return huma.Error500InternalServerError(msg, err)
	}
}
