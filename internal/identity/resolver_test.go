package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"okanassist/internal/metrics"
	"okanassist/internal/repo"
	"okanassist/internal/session"
)

type fakeStore struct {
	identities map[string]*repo.Identity
	users      map[string]*repo.AuthUser
	failWith   error
	lookups    int
	userReads  int
}

func (f *fakeStore) GetIdentityByTelegramID(ctx context.Context, telegramID string) (*repo.Identity, error) {
	f.lookups++
	if f.failWith != nil {
		return nil, f.failWith
	}
	id, ok := f.identities[telegramID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *id
	return &cp, nil
}

func (f *fakeStore) GetAuthUser(ctx context.Context, userID string) (*repo.AuthUser, error) {
	f.userReads++
	u, ok := f.users[userID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return u, nil
}

func newResolver(store Store) (*Resolver, *session.Cache) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := session.New(30*time.Minute, time.Minute, logger, metrics.Registry("test"))
	return NewResolver(store, cache, logger, metrics.Registry("test")), cache
}

func TestResolveUnknownIDReturnsMustRegister(t *testing.T) {
	store := &fakeStore{identities: map[string]*repo.Identity{}}
	r, cache := newResolver(store)

	_, err := r.Resolve(context.Background(), "999")
	if !errors.Is(err, ErrMustRegister) {
		t.Fatalf("expected ErrMustRegister, got %v", err)
	}
	if cache.Len() != 0 {
		t.Fatal("failed resolution must not be cached")
	}
}

func TestResolveCompleteIdentityIsCached(t *testing.T) {
	store := &fakeStore{identities: map[string]*repo.Identity{
		"123": {UserID: "u1", TelegramID: "123", Email: "a@b.c", Name: "Ana"},
	}}
	r, _ := newResolver(store)

	id, err := r.Resolve(context.Background(), "123")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !id.Authenticated {
		t.Fatal("resolved identity should be authenticated")
	}

	// Second resolve must come from the cache, not the store.
	if _, err := r.Resolve(context.Background(), "123"); err != nil {
		t.Fatalf("cached resolve: %v", err)
	}
	if store.lookups != 1 {
		t.Fatalf("expected 1 store lookup, got %d", store.lookups)
	}
}

func TestResolveRehydratesIncompleteIdentityOnce(t *testing.T) {
	store := &fakeStore{
		identities: map[string]*repo.Identity{
			"123": {UserID: "u1", TelegramID: "123"},
		},
		users: map[string]*repo.AuthUser{
			"u1": {ID: "u1", Email: "a@b.c", Name: "Ana"},
		},
	}
	r, _ := newResolver(store)

	id, err := r.Resolve(context.Background(), "123")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id.Email != "a@b.c" || id.Name != "Ana" {
		t.Fatalf("expected rehydrated profile, got %+v", id)
	}
	if store.userReads != 1 {
		t.Fatalf("expected exactly 1 auth read, got %d", store.userReads)
	}
}

func TestResolveBrokenLinkReturnsLinkFailed(t *testing.T) {
	store := &fakeStore{
		identities: map[string]*repo.Identity{
			"123": {UserID: "u1", TelegramID: "123"},
		},
		users: map[string]*repo.AuthUser{},
	}
	r, cache := newResolver(store)

	_, err := r.Resolve(context.Background(), "123")
	if !errors.Is(err, ErrLinkFailed) {
		t.Fatalf("expected ErrLinkFailed, got %v", err)
	}
	if cache.Len() != 0 {
		t.Fatal("broken link must not be cached")
	}
}

func TestResolveStorageFaultReturnsInternal(t *testing.T) {
	store := &fakeStore{failWith: errors.New("connection refused")}
	r, _ := newResolver(store)

	_, err := r.Resolve(context.Background(), "123")
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
}

func TestReasonCodes(t *testing.T) {
	if got := Reason(ErrMustRegister); got != "must_register" {
		t.Fatalf("got %q", got)
	}
	if got := Reason(ErrLinkFailed); got != "link_failed" {
		t.Fatalf("got %q", got)
	}
	if got := Reason(nil); got != "" {
		t.Fatalf("got %q", got)
	}
}
