package credits

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"okanassist/internal/metrics"
	"okanassist/internal/repo"
)

// fakeStore mirrors the store's atomic consume semantics behind a mutex.
type fakeStore struct {
	mu          sync.Mutex
	credits     map[string]int
	premium     map[string]bool
	resetBefore map[string]time.Time
	resetCalls  int
	expireCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		credits:     map[string]int{},
		premium:     map[string]bool{},
		resetBefore: map[string]time.Time{},
	}
}

func (f *fakeStore) ConsumeCredits(ctx context.Context, userID, operationType string, creditsNeeded int) (*repo.CreditResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	balance, ok := f.credits[userID]
	if !ok {
		return &repo.CreditResult{Error: repo.CreditErrUserNotFound}, nil
	}
	if f.premium[userID] {
		return &repo.CreditResult{Success: true, IsPremium: true, CreditsRemaining: -1}, nil
	}
	if balance < creditsNeeded {
		return &repo.CreditResult{
			Error:            repo.CreditErrInsufficient,
			CreditsAvailable: balance,
			CreditsNeeded:    creditsNeeded,
		}, nil
	}
	f.credits[userID] = balance - creditsNeeded
	return &repo.CreditResult{
		Success:          true,
		CreditsUsed:      creditsNeeded,
		CreditsRemaining: balance - creditsNeeded,
	}, nil
}

func (f *fakeStore) GetCreditStatus(ctx context.Context, userID string) (*repo.CreditStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	balance, ok := f.credits[userID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &repo.CreditStatus{Credits: balance, IsPremium: f.premium[userID]}, nil
}

func (f *fakeStore) ResetMonthlyCredits(ctx context.Context, allotment int, period time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetCalls++
	var n int64
	now := time.Now()
	for id, due := range f.resetBefore {
		if !f.premium[id] && due.Before(now) {
			f.credits[id] = allotment
			f.resetBefore[id] = now.Add(period)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ExpireLapsedPremium(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expireCalls++
	return 0, nil
}

func newLedger(store Store) *Ledger {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, 20, 30*24*time.Hour, logger, metrics.Registry("test"))
}

func TestConsumeDecrementsBalance(t *testing.T) {
	store := newFakeStore()
	store.credits["u1"] = 10
	l := newLedger(store)

	res, err := l.Consume(context.Background(), "u1", "text_message", CostTextMessage)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !res.Success || res.CreditsRemaining != 9 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestConsumePremiumBypassesBalance(t *testing.T) {
	store := newFakeStore()
	store.credits["u1"] = 0
	store.premium["u1"] = true
	l := newLedger(store)

	res, err := l.Consume(context.Background(), "u1", "receipt_scan", CostReceiptScan)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !res.Success || !res.IsPremium || res.CreditsRemaining != -1 {
		t.Fatalf("premium bypass expected, got %+v", res)
	}
	if store.credits["u1"] != 0 {
		t.Fatal("premium consume must not touch the balance")
	}
}

func TestConsumeInsufficientLeavesBalance(t *testing.T) {
	store := newFakeStore()
	store.credits["u1"] = 3
	l := newLedger(store)

	res, err := l.Consume(context.Background(), "u1", "receipt_scan", CostReceiptScan)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if res.Success || res.Error != repo.CreditErrInsufficient {
		t.Fatalf("expected insufficient, got %+v", res)
	}
	if res.CreditsAvailable != 3 || res.CreditsNeeded != CostReceiptScan {
		t.Fatalf("expected balance details, got %+v", res)
	}
	if store.credits["u1"] != 3 {
		t.Fatalf("failed consume must not mutate balance, have %d", store.credits["u1"])
	}
}

func TestConsumeUnknownUser(t *testing.T) {
	l := newLedger(newFakeStore())

	res, err := l.Consume(context.Background(), "ghost", "text_message", CostTextMessage)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if res.Success || res.Error != repo.CreditErrUserNotFound {
		t.Fatalf("expected user_not_found, got %+v", res)
	}
}

func TestConsumeZeroCostAlwaysSucceeds(t *testing.T) {
	store := newFakeStore()
	store.credits["u1"] = 0
	l := newLedger(store)

	res, err := l.Consume(context.Background(), "u1", "bank_statement", CostBankImport)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !res.Success || res.CreditsRemaining != 0 {
		t.Fatalf("zero-cost consume should succeed, got %+v", res)
	}
}

func TestConcurrentConsumeAdmitsExactlyBalance(t *testing.T) {
	store := newFakeStore()
	store.credits["u1"] = 50
	l := newLedger(store)

	const workers = 20
	const perWorker = 5

	var wg sync.WaitGroup
	successes := make(chan int, workers*perWorker)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				res, err := l.Consume(context.Background(), "u1", "text_message", 1)
				if err != nil {
					t.Error(err)
					return
				}
				if res.Success {
					successes <- 1
				}
			}
		}()
	}
	wg.Wait()
	close(successes)

	total := 0
	for range successes {
		total++
	}
	if total != 50 {
		t.Fatalf("expected exactly 50 successful consumes, got %d", total)
	}
	if store.credits["u1"] != 0 {
		t.Fatalf("expected drained balance, have %d", store.credits["u1"])
	}
}

func TestLowBalance(t *testing.T) {
	if !LowBalance(&repo.CreditResult{Success: true, CreditsRemaining: 5}) {
		t.Fatal("5 remaining should warn")
	}
	if LowBalance(&repo.CreditResult{Success: true, CreditsRemaining: 6}) {
		t.Fatal("6 remaining should not warn")
	}
	if LowBalance(&repo.CreditResult{Success: true, IsPremium: true, CreditsRemaining: -1}) {
		t.Fatal("premium never warns")
	}
	if LowBalance(&repo.CreditResult{Error: repo.CreditErrInsufficient}) {
		t.Fatal("failed consume never warns")
	}
}

func TestMaintainResetsLapsedAccounts(t *testing.T) {
	store := newFakeStore()
	store.credits["lapsed"] = 0
	store.resetBefore["lapsed"] = time.Now().Add(-time.Hour)
	store.credits["current"] = 7
	store.resetBefore["current"] = time.Now().Add(time.Hour)
	l := newLedger(store)

	l.maintain(context.Background())

	if store.credits["lapsed"] != 20 {
		t.Fatalf("lapsed account should be topped up to 20, have %d", store.credits["lapsed"])
	}
	if store.credits["current"] != 7 {
		t.Fatalf("current account must be untouched, have %d", store.credits["current"])
	}
	if store.expireCalls != 1 || store.resetCalls != 1 {
		t.Fatalf("expected one sweep of each kind, got %d/%d", store.expireCalls, store.resetCalls)
	}
}
