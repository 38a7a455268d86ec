package repo

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"okanassist/migrations"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(store.Close)

	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestSQLiteConcurrentConsumeAdmitsExactlyBalance(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	id, err := store.RegisterIdentity(ctx, NewIdentity{
		TelegramID:     "555",
		Email:          "drain@example.com",
		Name:           "Drain",
		InitialCredits: 50,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	// 50 concurrent consumes against a balance of 50: every one must
	// succeed, none may error out under write contention.
	const workers, perWorker = 10, 5
	var (
		wg        sync.WaitGroup
		successes atomic.Int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				res, err := store.ConsumeCredits(ctx, id.UserID, "text_message", 1)
				if err != nil {
					t.Errorf("consume: %v", err)
					return
				}
				if res.Success {
					successes.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if got := successes.Load(); got != workers*perWorker {
		t.Fatalf("expected %d successful consumes, got %d", workers*perWorker, got)
	}

	st, err := store.GetCreditStatus(ctx, id.UserID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Credits != 0 {
		t.Fatalf("expected a drained balance, got %d", st.Credits)
	}

	// The next consume is the one that must fail, without mutating.
	res, err := store.ConsumeCredits(ctx, id.UserID, "text_message", 1)
	if err != nil {
		t.Fatalf("consume past zero: %v", err)
	}
	if res.Success || res.Error != CreditErrInsufficient {
		t.Fatalf("expected insufficient_credits, got %+v", res)
	}
}

func TestSQLiteRegisterIdentityHonorsAllotment(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	id, err := store.RegisterIdentity(ctx, NewIdentity{
		TelegramID:     "556",
		Email:          "alloc@example.com",
		Name:           "Alloc",
		InitialCredits: 20,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if id.Credits != 20 {
		t.Fatalf("expected 20 credits, got %d", id.Credits)
	}

	// Zero falls back to the schema default.
	def, err := store.RegisterIdentity(ctx, NewIdentity{
		TelegramID: "557",
		Email:      "default@example.com",
		Name:       "Default",
	})
	if err != nil {
		t.Fatalf("register default: %v", err)
	}
	if def.Credits != 50 {
		t.Fatalf("expected the default 50 credits, got %d", def.Credits)
	}
}
