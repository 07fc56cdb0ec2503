package helpdesk

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"helpdesk-console/internal/api"
	"helpdesk-console/internal/history"
	"helpdesk-console/internal/realtime"
	"helpdesk-console/internal/session"
)

// Backend is the slice of the REST client the controller mutates through.
type Backend interface {
	UpdateStatus(ctx context.Context, id int64, status session.Status) error
	Resolve(ctx context.Context, sessionID string, resolvedAt time.Time) error
	Ask(ctx context.Context, req api.AskRequest) error
}

// Realtime is the slice of the transport client the controller drives.
type Realtime interface {
	Subscribe(channel, cursor string) error
	OnMessage(channel string, fn realtime.Handler) func()
}

// Controller orchestrates agent actions on helpdesk sessions. It never
// applies optimistic state: a mutation only becomes visible after the backend
// confirms it and the store re-fetches.
type Controller struct {
	backend  Backend
	store    *session.Store
	realtime Realtime
	logger   zerolog.Logger
}

func NewController(backend Backend, store *session.Store, rt Realtime, logger zerolog.Logger) *Controller {
	return &Controller{backend: backend, store: store, realtime: rt, logger: logger}
}

// Accept moves a queued or pending session into in_progress and subscribes
// to both its primary channel and the derived agent channel. On backend
// failure nothing changes locally and no subscription is issued.
func (c *Controller) Accept(ctx context.Context, sess session.Session) error {
	if !session.CanTransition(sess.Status, session.StatusInProgress) {
		return fmt.Errorf("helpdesk: cannot accept session %q in status %q", sess.SessionID, sess.Status)
	}

	if err := c.backend.UpdateStatus(ctx, sess.ID, session.StatusInProgress); err != nil {
		return fmt.Errorf("helpdesk: accept %q: %w", sess.SessionID, err)
	}

	c.refresh(ctx)

	for _, channel := range []string{sess.SessionID, sess.AgentChannel()} {
		if err := c.realtime.Subscribe(channel, realtime.CursorNow); err != nil {
			// Not retried here: the replay set covers the next reconnect.
			c.logger.Warn().Err(err).Str("channel", channel).Msg("subscribe failed")
		}
	}

	c.logger.Info().Str("session", sess.SessionID).Msg("session accepted")
	return nil
}

// Resolve closes out an in_progress session with a client-supplied
// resolution time. Channels stay subscribed; the caller's teardown owns
// unsubscription.
func (c *Controller) Resolve(ctx context.Context, sess session.Session, resolvedAt time.Time) error {
	if !session.CanTransition(sess.Status, session.StatusResolved) {
		return fmt.Errorf("helpdesk: cannot resolve session %q in status %q", sess.SessionID, sess.Status)
	}

	if err := c.backend.Resolve(ctx, sess.SessionID, resolvedAt); err != nil {
		return fmt.Errorf("helpdesk: resolve %q: %w", sess.SessionID, err)
	}

	c.refresh(ctx)
	c.logger.Info().Str("session", sess.SessionID).Msg("session resolved")
	return nil
}

// Send posts an agent message into a session over the long-timeout ask path.
// Nothing is queued on failure.
func (c *Controller) Send(ctx context.Context, sessionID, text string) error {
	if err := c.backend.Ask(ctx, api.AskRequest{SessionID: sessionID, Text: text}); err != nil {
		return fmt.Errorf("helpdesk: send to %q: %w", sessionID, err)
	}
	return nil
}

// Watch registers a live-message handler on a session's agent channel. Each
// push invalidates the paginator (when given) so history re-merges through
// the normal fetch path, then forwards the raw payload. Returns the disposer.
func (c *Controller) Watch(sessionID string, pag *history.Paginator, onMessage func(json.RawMessage)) func() {
	return c.realtime.OnMessage(session.AgentChannel(sessionID), func(data json.RawMessage) {
		if pag != nil {
			if err := pag.Reload(context.Background()); err != nil {
				c.logger.Warn().Err(err).Str("session", sessionID).Msg("history reload failed")
			}
		}
		c.store.Invalidate()
		if onMessage != nil {
			onMessage(data)
		}
	})
}

// refresh re-fetches the session snapshot after a confirmed mutation. A
// failed re-fetch is logged, not returned: the mutation itself succeeded and
// the snapshot is merely stale.
func (c *Controller) refresh(ctx context.Context) {
	c.store.Invalidate()
	if err := c.store.Refresh(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("session refresh failed")
	}
}
