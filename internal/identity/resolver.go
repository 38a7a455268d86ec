// Package identity maps channel identifiers to durable user identities.
// Resolution failures form a closed set so callers can map them to channel
// responses without string matching.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"okanassist/internal/metrics"
	"okanassist/internal/repo"
	"okanassist/internal/session"
)

var (
	// ErrMustRegister means no account is linked to the channel id. This is
	// an expected state for new users, never an operational error.
	ErrMustRegister = errors.New("must_register")
	// ErrLinkFailed means a settings row exists but its auth record is
	// missing or incomplete, so the link is broken.
	ErrLinkFailed = errors.New("link_failed")
	// ErrInternal wraps storage faults during resolution.
	ErrInternal = errors.New("internal_error")
)

// Reason returns the closed-set failure code for a resolution error, or ""
// for nil and unrecognized errors.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMustRegister):
		return "must_register"
	case errors.Is(err, ErrLinkFailed):
		return "link_failed"
	case errors.Is(err, ErrInternal):
		return "internal_error"
	}
	return ""
}

// Store is the persistence surface resolution needs.
type Store interface {
	GetIdentityByTelegramID(ctx context.Context, telegramID string) (*repo.Identity, error)
	GetAuthUser(ctx context.Context, userID string) (*repo.AuthUser, error)
}

// Resolver resolves telegram ids to authenticated identities, consulting
// the session cache first and writing successful resolutions back to it.
type Resolver struct {
	store    Store
	sessions *session.Cache
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewResolver builds a resolver over the given store and session cache.
func NewResolver(store Store, sessions *session.Cache, logger *slog.Logger, m *metrics.Metrics) *Resolver {
	return &Resolver{
		store:    store,
		sessions: sessions,
		logger:   logger.With("component", "identity"),
		metrics:  m,
	}
}

// Resolve returns the authenticated identity for a telegram id, or one of
// ErrMustRegister, ErrLinkFailed, ErrInternal. An identity missing profile
// fields gets one completion attempt against the auth store before the
// link is declared broken.
func (r *Resolver) Resolve(ctx context.Context, telegramID string) (*repo.Identity, error) {
	if cached, ok := r.sessions.Get(telegramID); ok && cached.Authenticated {
		return cached, nil
	}

	id, err := r.store.GetIdentityByTelegramID(ctx, telegramID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			r.logger.Debug("unregistered channel id", "telegram_id", telegramID)
			return nil, ErrMustRegister
		}
		r.logger.Error("identity lookup failed", "telegram_id", telegramID, "error", err)
		r.metrics.Errors.WithLabelValues("identity").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	if !id.Complete() {
		if err := r.complete(ctx, id); err != nil {
			return nil, err
		}
	}

	id.Authenticated = true
	r.sessions.Put(telegramID, id)
	return id, nil
}

// complete fills missing profile fields from the auth store, at most once
// per resolution.
func (r *Resolver) complete(ctx context.Context, id *repo.Identity) error {
	if id.UserID == "" {
		r.logger.Warn("settings row without user id", "telegram_id", id.TelegramID)
		return ErrLinkFailed
	}

	user, err := r.store.GetAuthUser(ctx, id.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			r.logger.Warn("auth record missing for linked user",
				"telegram_id", id.TelegramID, "user_id", id.UserID)
			return ErrLinkFailed
		}
		r.logger.Error("auth lookup failed", "user_id", id.UserID, "error", err)
		r.metrics.Errors.WithLabelValues("identity").Inc()
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}

	if id.Email == "" {
		id.Email = user.Email
	}
	if id.Name == "" {
		id.Name = user.Name
	}
	if !id.Complete() {
		r.logger.Warn("identity still incomplete after rehydrate",
			"telegram_id", id.TelegramID, "user_id", id.UserID)
		return ErrLinkFailed
	}
	return nil
}
